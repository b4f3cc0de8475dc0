package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a trip or related row does not exist.
var ErrNotFound = errors.New("not found")

// Store reads and conditionally updates trips in Postgres. Every flag write
// is a narrow conditional UPDATE whose RowsAffected result is the claim
// signal: zero rows means another pass (or a user action) got there first.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a pgx pool. Statements are prepared by the db package.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// ListSchedulable returns every trip not in a terminal state, oldest ETA
// first so the trips closest to overdue are evaluated earliest in a pass.
func (s *Store) ListSchedulable(ctx context.Context) ([]Trip, error) {
	rows, err := s.pool.Query(ctx, "list_schedulable_trips")
	if err != nil {
		return nil, fmt.Errorf("list schedulable trips: %w", err)
	}
	defer rows.Close()

	var trips []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// Get returns a single trip by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Trip, error) {
	rows, err := s.pool.Query(ctx, "trip_by_id", id)
	if err != nil {
		return Trip{}, fmt.Errorf("get trip %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Trip{}, fmt.Errorf("get trip %s: %w", id, err)
		}
		return Trip{}, ErrNotFound
	}
	t, err := scanTrip(rows)
	if err != nil {
		return Trip{}, fmt.Errorf("scan trip %s: %w", id, err)
	}
	return t, nil
}

// GetStatus re-reads only the status column. Used immediately before
// overdue dispatch so a concurrent check-out wins the race.
func (s *Store) GetStatus(ctx context.Context, id uuid.UUID) (Status, error) {
	var status Status
	if err := s.pool.QueryRow(ctx, "trip_status", id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get trip status %s: %w", id, err)
	}
	return status, nil
}

// Recipients returns the trip's contact list for a notification kind,
// excluding contacts permanently skipped for that kind.
func (s *Store) Recipients(ctx context.Context, tripID uuid.UUID, kind Kind) ([]Recipient, error) {
	return s.queryRecipients(ctx, "trip_recipients", tripID, kind)
}

// EmergencyContacts returns a participant's own emergency contacts,
// excluding per-trip skips for the kind.
func (s *Store) EmergencyContacts(ctx context.Context, userID, tripID uuid.UUID, kind Kind) ([]Recipient, error) {
	return s.queryRecipients(ctx, "emergency_contacts", userID, tripID, kind)
}

// OwnerRecipient resolves the trip owner as a delivery target for the
// reminder kinds that address the traveler rather than their contacts.
func (s *Store) OwnerRecipient(ctx context.Context, ownerID uuid.UUID) (Recipient, error) {
	var r Recipient
	err := s.pool.QueryRow(ctx, "owner_recipient", ownerID).Scan(
		&r.ContactID, &r.Name, &r.Email, &r.UserID, &r.Position, &r.DeviceTokens,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipient{}, ErrNotFound
		}
		return Recipient{}, fmt.Errorf("owner recipient %s: %w", ownerID, err)
	}
	return r, nil
}

func (s *Store) queryRecipients(ctx context.Context, stmt string, args ...any) ([]Recipient, error) {
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(
			&r.ContactID, &r.Name, &r.Email, &r.UserID, &r.Position, &r.DeviceTokens,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// Participants returns a group trip's membership.
func (s *Store) Participants(ctx context.Context, tripID uuid.UUID) ([]Participant, error) {
	rows, err := s.pool.Query(ctx, "trip_participants", tripID)
	if err != nil {
		return nil, fmt.Errorf("trip participants: %w", err)
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(
			&p.UserID, &p.Role, &p.JoinedAt, &p.LastCheckinAt,
			&p.CheckedOutAt, &p.VotedEndAt, &p.OverdueAlertSent,
		); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// LatestCheckIn returns the most recent check-in for a trip, or nil.
func (s *Store) LatestCheckIn(ctx context.Context, tripID uuid.UUID) (*CheckIn, error) {
	return s.queryCheckIn(ctx, "latest_checkin", tripID)
}

// LatestCheckInBy returns a participant's most recent check-in, or nil.
func (s *Store) LatestCheckInBy(ctx context.Context, tripID, userID uuid.UUID) (*CheckIn, error) {
	return s.queryCheckIn(ctx, "latest_checkin_by", tripID, userID)
}

func (s *Store) queryCheckIn(ctx context.Context, stmt string, args ...any) (*CheckIn, error) {
	var c CheckIn
	err := s.pool.QueryRow(ctx, stmt, args...).Scan(
		&c.ID, &c.TripID, &c.UserID, &c.Note, &c.Lat, &c.Lon, &c.Place, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	return &c, nil
}

// LatestLiveSample returns the trip's last live-location fix, or nil.
func (s *Store) LatestLiveSample(ctx context.Context, tripID uuid.UUID) (*LocationSample, error) {
	var sample LocationSample
	err := s.pool.QueryRow(ctx, "latest_live_sample", tripID).Scan(
		&sample.TripID, &sample.Lat, &sample.Lon, &sample.AccuracyM, &sample.RecordedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest live sample: %w", err)
	}
	return &sample, nil
}

// --------------------------------------------------------------------------
// Flag claims
// --------------------------------------------------------------------------

// flagColumn maps a one-shot kind to its tracking column.
func flagColumn(kind Kind) (string, error) {
	switch kind {
	case KindStartingSoon:
		return "notified_starting_soon", nil
	case KindTripStarted:
		return "notified_trip_started", nil
	case KindApproachingETA:
		return "notified_approaching_eta", nil
	case KindETAReached:
		return "notified_eta_reached", nil
	default:
		return "", fmt.Errorf("kind %q has no one-shot flag", kind)
	}
}

// cadenceColumn maps a repeating kind to its last-fired timestamp column.
func cadenceColumn(kind Kind) (string, error) {
	switch kind {
	case KindCheckinReminder:
		return "last_checkin_reminder_at", nil
	case KindGraceWarning:
		return "last_grace_warning_at", nil
	default:
		return "", fmt.Errorf("kind %q has no cadence timestamp", kind)
	}
}

// ClaimNotified atomically flips a one-shot flag false→true. Returns false
// when another pass already holds the flag or the trip went terminal.
func (s *Store) ClaimNotified(ctx context.Context, tripID uuid.UUID, kind Kind) (bool, error) {
	col, err := flagColumn(kind)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE trips SET %s = TRUE, updated_at = NOW()
		WHERE id = $1 AND %s = FALSE
		  AND status NOT IN ('completed','cancelled')`, col, col), tripID)
	if err != nil {
		return false, fmt.Errorf("claim %s for trip %s: %w", kind, tripID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseNotified returns a one-shot flag to false after a delivery where no
// recipient succeeded, so the next pass retries.
func (s *Store) ReleaseNotified(ctx context.Context, tripID uuid.UUID, kind Kind) error {
	col, err := flagColumn(kind)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE trips SET %s = FALSE, updated_at = NOW()
		WHERE id = $1`, col), tripID)
	if err != nil {
		return fmt.Errorf("release %s for trip %s: %w", kind, tripID, err)
	}
	return nil
}

// ClaimCadence advances a repeating kind's last-fired timestamp to now,
// but only if the previous firing is at least minInterval old (or never
// happened). The predicate re-checks the cadence under concurrency, so a
// replay of the same interval never re-fires the same slot.
func (s *Store) ClaimCadence(ctx context.Context, tripID uuid.UUID, kind Kind, now time.Time, minInterval time.Duration) (bool, error) {
	col, err := cadenceColumn(kind)
	if err != nil {
		return false, err
	}
	cutoff := now.Add(-minInterval)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE trips SET %s = $2, updated_at = NOW()
		WHERE id = $1
		  AND (%s IS NULL OR %s <= $3)
		  AND status NOT IN ('completed','cancelled')`, col, col, col),
		tripID, now, cutoff)
	if err != nil {
		return false, fmt.Errorf("claim %s cadence for trip %s: %w", kind, tripID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseCadence restores the previous cadence timestamp after a delivery
// where no recipient succeeded. Conditional on the claimed value still being
// in place so a newer claim is never clobbered.
func (s *Store) ReleaseCadence(ctx context.Context, tripID uuid.UUID, kind Kind, prev *time.Time, claimed time.Time) error {
	col, err := cadenceColumn(kind)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE trips SET %s = $2, updated_at = NOW()
		WHERE id = $1 AND %s = $3`, col, col), tripID, prev, claimed)
	if err != nil {
		return fmt.Errorf("release %s cadence for trip %s: %w", kind, tripID, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Status transitions
// --------------------------------------------------------------------------

// MarkStarted transitions planned→active. Idempotent: returns false when the
// trip already progressed.
func (s *Store) MarkStarted(ctx context.Context, tripID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trips SET status = 'active', updated_at = NOW()
		WHERE id = $1 AND status = 'planned'`, tripID)
	if err != nil {
		return false, fmt.Errorf("mark trip %s started: %w", tripID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkOverdue transitions active→overdue. The predicate keeps status
// monotonic and lets a concurrently-recorded check-out win.
func (s *Store) MarkOverdue(ctx context.Context, tripID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trips SET status = 'overdue', updated_at = NOW()
		WHERE id = $1 AND status IN ('planned','active')`, tripID)
	if err != nil {
		return false, fmt.Errorf("mark trip %s overdue: %w", tripID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimOverdueAlert atomically claims the once-per-trip contact alert.
// The predicate re-checks that the trip is still not terminal, so a
// check-out recorded between status detection and this claim aborts it.
func (s *Store) ClaimOverdueAlert(ctx context.Context, tripID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trips SET overdue_alert_sent = TRUE, updated_at = NOW()
		WHERE id = $1 AND overdue_alert_sent = FALSE
		  AND status NOT IN ('completed','cancelled')`, tripID)
	if err != nil {
		return false, fmt.Errorf("claim overdue alert for trip %s: %w", tripID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseOverdueAlert re-arms the contact alert after a delivery attempt
// where no recipient succeeded.
func (s *Store) ReleaseOverdueAlert(ctx context.Context, tripID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE trips SET overdue_alert_sent = FALSE, updated_at = NOW()
		WHERE id = $1`, tripID)
	if err != nil {
		return fmt.Errorf("release overdue alert for trip %s: %w", tripID, err)
	}
	return nil
}

// ClaimParticipantAlert claims the per-participant overdue alert for group
// trips where a participant has distinctly-configured emergency contacts.
func (s *Store) ClaimParticipantAlert(ctx context.Context, tripID, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trip_participants SET overdue_alert_sent = TRUE
		WHERE trip_id = $1 AND user_id = $2
		  AND overdue_alert_sent = FALSE AND checked_out_at IS NULL`, tripID, userID)
	if err != nil {
		return false, fmt.Errorf("claim participant alert %s/%s: %w", tripID, userID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseParticipantAlert re-arms a participant alert after total failure.
func (s *Store) ReleaseParticipantAlert(ctx context.Context, tripID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE trip_participants SET overdue_alert_sent = FALSE
		WHERE trip_id = $1 AND user_id = $2`, tripID, userID)
	if err != nil {
		return fmt.Errorf("release participant alert %s/%s: %w", tripID, userID, err)
	}
	return nil
}

// CompleteTrip transitions any non-terminal status to completed. Used by
// owner check-out and by the group checkout coordinator once the rule is
// satisfied.
func (s *Store) CompleteTrip(ctx context.Context, tripID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trips SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed','cancelled')`, tripID)
	if err != nil {
		return false, fmt.Errorf("complete trip %s: %w", tripID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelTrip transitions any non-terminal status to cancelled.
func (s *Store) CancelTrip(ctx context.Context, tripID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trips SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed','cancelled')`, tripID)
	if err != nil {
		return false, fmt.Errorf("cancel trip %s: %w", tripID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// --------------------------------------------------------------------------
// External events (check-ins, votes, live location)
// --------------------------------------------------------------------------

// RecordCheckIn stores a check-in event and refreshes the participant's
// last_checkin_at when the trip is a group trip.
func (s *Store) RecordCheckIn(ctx context.Context, c CheckIn) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkins (id, trip_id, user_id, note, lat, lon, place, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.TripID, c.UserID, c.Note, c.Lat, c.Lon, c.Place, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("record checkin: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE trip_participants SET last_checkin_at = $3
		WHERE trip_id = $1 AND user_id = $2`,
		c.TripID, c.UserID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("update participant checkin: %w", err)
	}
	return nil
}

// RecordParticipantCheckOut marks one participant's individual check-out.
func (s *Store) RecordParticipantCheckOut(ctx context.Context, tripID, userID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE trip_participants SET checked_out_at = $3
		WHERE trip_id = $1 AND user_id = $2 AND checked_out_at IS NULL`,
		tripID, userID, at)
	if err != nil {
		return fmt.Errorf("record participant checkout %s/%s: %w", tripID, userID, err)
	}
	return nil
}

// RecordEndVote records a participant's vote to end a quorum-rule trip.
// Idempotent: a second vote from the same participant is a no-op.
func (s *Store) RecordEndVote(ctx context.Context, tripID, userID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE trip_participants SET voted_end_at = $3
		WHERE trip_id = $1 AND user_id = $2 AND voted_end_at IS NULL`,
		tripID, userID, at)
	if err != nil {
		return fmt.Errorf("record end vote %s/%s: %w", tripID, userID, err)
	}
	return nil
}

// UpsertLiveSample replaces the trip's single retained live-location fix,
// keeping only the newest sample.
func (s *Store) UpsertLiveSample(ctx context.Context, sample LocationSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO location_samples (trip_id, lat, lon, accuracy_m, recorded_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (trip_id) DO UPDATE
		SET lat = EXCLUDED.lat, lon = EXCLUDED.lon,
			accuracy_m = EXCLUDED.accuracy_m, recorded_at = EXCLUDED.recorded_at
		WHERE location_samples.recorded_at < EXCLUDED.recorded_at`,
		sample.TripID, sample.Lat, sample.Lon, sample.AccuracyM, sample.RecordedAt)
	if err != nil {
		return fmt.Errorf("upsert live sample: %w", err)
	}
	return nil
}

// UpdateTimes rewrites the trip's naive start/ETA boundaries. Callers clear
// the notification flags afterwards via ResetNotificationFlags so the
// reminders replay against the new boundaries.
func (s *Store) UpdateTimes(ctx context.Context, tripID uuid.UUID, startAt, etaAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE trips SET start_at = $2, eta_at = $3, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed','cancelled')`,
		tripID, startAt, etaAt)
	if err != nil {
		return fmt.Errorf("update times for trip %s: %w", tripID, err)
	}
	return nil
}

// ResetNotificationFlags clears every notified_* flag and cadence timestamp.
// Called by the trip-edit path whenever start_at or eta_at change, which
// begins a new scheduling epoch.
func (s *Store) ResetNotificationFlags(ctx context.Context, tripID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE trips SET
			notified_starting_soon = FALSE,
			notified_trip_started = FALSE,
			notified_approaching_eta = FALSE,
			notified_eta_reached = FALSE,
			last_checkin_reminder_at = NULL,
			last_grace_warning_at = NULL,
			overdue_alert_sent = FALSE,
			updated_at = NOW()
		WHERE id = $1`, tripID)
	if err != nil {
		return fmt.Errorf("reset notification flags for trip %s: %w", tripID, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Delivery bookkeeping
// --------------------------------------------------------------------------

// MarkRecipientSkipped records a permanent channel failure so the recipient
// is excluded from future attempts of the same kind within this trip.
func (s *Store) MarkRecipientSkipped(ctx context.Context, tripID, contactID uuid.UUID, kind Kind, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_skips (trip_id, contact_id, kind, reason)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT DO NOTHING`, tripID, contactID, kind, reason)
	if err != nil {
		return fmt.Errorf("mark recipient skipped: %w", err)
	}
	return nil
}

// AppendLog records one delivery attempt outcome.
func (s *Store) AppendLog(ctx context.Context, e LogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_log (trip_id, kind, contact_id, channel, delivered, permanent, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.TripID, e.Kind, e.ContactID, e.Channel, e.Delivered, e.Permanent, e.Error)
	if err != nil {
		return fmt.Errorf("append notification log: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Scanning
// --------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (Trip, error) {
	var (
		t                  Trip
		startHour, endHour *int
	)
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.ActivityType, &t.Title, &t.Notes, &t.Location,
		&t.Lat, &t.Lon, &t.StartLocation, &t.StartAt, &t.ETAAt,
		&t.Timezone, &t.StartTimezone, &t.ETATimezone,
		&t.GraceMinutes, &t.CheckinMinutes, &startHour, &endHour,
		&t.Status, &t.LiveSharing, &t.IsGroup, &t.CheckoutRule, &t.QuorumVotes,
		&t.NotifiedStartingSoon, &t.NotifiedTripStarted,
		&t.NotifiedApproachingETA, &t.NotifiedETAReached,
		&t.LastCheckinReminderAt, &t.LastGraceWarningAt, &t.OverdueAlertSent,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Trip{}, err
	}
	if startHour != nil && endHour != nil {
		t.NotifyWindow = &NotifyWindow{StartHour: *startHour, EndHour: *endHour}
	}
	return t, nil
}
