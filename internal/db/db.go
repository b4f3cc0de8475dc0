// Package db provides a pgxpool-based connection pool with prepared statement
// registration, health checking, and embedded goose migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver for database/sql
	"github.com/pressly/goose/v3"

	"github.com/kmfinlay/tripwatch/internal/config"
	"github.com/kmfinlay/tripwatch/migrations"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// MigrateUp applies all embedded migrations. Safe to call on every startup;
// goose is a no-op when the schema is current.
func MigrateUp(databaseURL string) error {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrateStatus prints migration status to stdout.
func MigrateStatus(databaseURL string) error {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.Status(sqlDB, ".")
}

// tripColumns is the column list every trip scan uses, in Store scan order.
const tripColumns = `
	id, owner_id, activity_type, title, notes, location, lat, lon,
	start_location, start_at, eta_at, timezone, start_timezone, eta_timezone,
	grace_minutes, checkin_interval_minutes, notify_start_hour, notify_end_hour,
	status, live_sharing, is_group, checkout_rule, quorum_votes,
	notified_starting_soon, notified_trip_started, notified_approaching_eta,
	notified_eta_reached, last_checkin_reminder_at, last_grace_warning_at,
	overdue_alert_sent, created_at, updated_at`

// registerPreparedStatements registers all read statements the scheduler and
// API layers use. Prepared statements eliminate parse overhead on every pass.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Trips
		"list_schedulable_trips": "SELECT " + tripColumns + `
			FROM trips WHERE status NOT IN ('completed','cancelled')
			ORDER BY eta_at`,
		"trip_by_id":  "SELECT " + tripColumns + " FROM trips WHERE id = $1",
		"trip_status": "SELECT status FROM trips WHERE id = $1",

		// Recipients: trip contact list minus permanently-skipped entries
		// for the kind being delivered. Device tokens resolve through the
		// linked user's active devices.
		"trip_recipients": `
			SELECT c.id, c.name, c.email, c.linked_user_id, tc.position,
				COALESCE(ARRAY(
					SELECT d.token FROM user_devices d
					WHERE d.user_id = c.linked_user_id AND d.is_active
				), '{}')
			FROM trip_contacts tc
			JOIN contacts c ON c.id = tc.contact_id
			WHERE tc.trip_id = $1
			  AND NOT EXISTS (
				SELECT 1 FROM delivery_skips s
				WHERE s.trip_id = tc.trip_id AND s.contact_id = c.id AND s.kind = $2
			  )
			ORDER BY tc.position`,

		// A participant's own emergency contacts, minus skips for this trip.
		"emergency_contacts": `
			SELECT c.id, c.name, c.email, c.linked_user_id, 0,
				COALESCE(ARRAY(
					SELECT d.token FROM user_devices d
					WHERE d.user_id = c.linked_user_id AND d.is_active
				), '{}')
			FROM contacts c
			WHERE c.owner_user_id = $1 AND c.emergency
			  AND NOT EXISTS (
				SELECT 1 FROM delivery_skips s
				WHERE s.trip_id = $2 AND s.contact_id = c.id AND s.kind = $3
			  )
			ORDER BY c.created_at`,

		// The trip owner as a delivery target for reminders.
		"owner_recipient": `
			SELECT u.id, u.name, u.email, u.id, 0,
				COALESCE(ARRAY(
					SELECT d.token FROM user_devices d
					WHERE d.user_id = u.id AND d.is_active
				), '{}')
			FROM users u WHERE u.id = $1`,

		// Group participants
		"trip_participants": `
			SELECT user_id, role, joined_at, last_checkin_at, checked_out_at,
				voted_end_at, overdue_alert_sent
			FROM trip_participants WHERE trip_id = $1
			ORDER BY joined_at`,

		// Last-known state
		"latest_checkin": `
			SELECT id, trip_id, user_id, note, lat, lon, place, created_at
			FROM checkins WHERE trip_id = $1
			ORDER BY created_at DESC LIMIT 1`,
		"latest_checkin_by": `
			SELECT id, trip_id, user_id, note, lat, lon, place, created_at
			FROM checkins WHERE trip_id = $1 AND user_id = $2
			ORDER BY created_at DESC LIMIT 1`,
		"latest_live_sample": `
			SELECT trip_id, lat, lon, accuracy_m, recorded_at
			FROM location_samples WHERE trip_id = $1`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
