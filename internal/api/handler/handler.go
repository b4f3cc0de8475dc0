// Package handler provides HTTP handlers for all API endpoints. Handlers go
// through the trip store for every write so the same conditional-update
// guarantees apply whether a state change comes from a user or the scheduler.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kmfinlay/tripwatch/internal/api/respond"
	"github.com/kmfinlay/tripwatch/internal/config"
	"github.com/kmfinlay/tripwatch/internal/trip"
)

// TripStore is the slice of the trip store the API consumes.
type TripStore interface {
	Get(ctx context.Context, id uuid.UUID) (trip.Trip, error)
	Participants(ctx context.Context, tripID uuid.UUID) ([]trip.Participant, error)

	CompleteTrip(ctx context.Context, tripID uuid.UUID) (bool, error)
	CancelTrip(ctx context.Context, tripID uuid.UUID) (bool, error)
	RecordCheckIn(ctx context.Context, c trip.CheckIn) error
	RecordParticipantCheckOut(ctx context.Context, tripID, userID uuid.UUID, at time.Time) error
	RecordEndVote(ctx context.Context, tripID, userID uuid.UUID, at time.Time) error
	UpsertLiveSample(ctx context.Context, sample trip.LocationSample) error
	UpdateTimes(ctx context.Context, tripID uuid.UUID, startAt, etaAt time.Time) error
	ResetNotificationFlags(ctx context.Context, tripID uuid.UUID) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	pool  *pgxpool.Pool
	store TripStore
	cfg   *config.Config
}

// New creates a Handler with shared dependencies.
func New(pool *pgxpool.Pool, cfg *config.Config) *Handler {
	return &Handler{
		pool:  pool,
		store: trip.NewStore(pool),
		cfg:   cfg,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, and status.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "TripWatch API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	var n int
	err := h.pool.QueryRow(r.Context(), "health_check").Scan(&n)
	if err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
