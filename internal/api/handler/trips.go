package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kmfinlay/tripwatch/internal/api/respond"
	"github.com/kmfinlay/tripwatch/internal/schedule"
	"github.com/kmfinlay/tripwatch/internal/trip"
)

// GetTrip returns a single trip.
// @Summary Get trip
// @Description Returns a trip by ID, including its notification tracking state.
// @Tags trips
// @Produce json
// @Param tripID path string true "Trip UUID"
// @Success 200 {object} trip.Trip
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/trips/{tripID} [get]
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, t)
}

// GetSchedulePreview returns the trip's resolved boundary instants, derived
// status, and the notification kinds due right now. Read-only; nothing is
// claimed or delivered.
// @Summary Preview trip schedule state
// @Description Resolves the trip's boundaries against its timezones and reports which notifications are currently due.
// @Tags trips
// @Produce json
// @Param tripID path string true "Trip UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/trips/{tripID}/schedule [get]
func (h *Handler) GetSchedulePreview(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	now := time.Now()
	rt := schedule.ResolveTimes(t)
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"trip_id":        t.ID,
		"start":          rt.Start.UTC().Format(time.RFC3339),
		"eta":            rt.ETA.UTC().Format(time.RFC3339),
		"overdue_at":     rt.OverdueAt.UTC().Format(time.RFC3339),
		"derived_status": schedule.DeriveStatus(t, rt, now),
		"due":            schedule.Due(t, rt, now),
		"window_open":    rt.NotifyWindowPermits(t.NotifyWindow, now),
	})
}

type checkInRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Note   string    `json:"note"`
	Lat    *float64  `json:"lat"`
	Lon    *float64  `json:"lon"`
	Place  string    `json:"place"`
}

// CreateCheckIn records an "I'm OK" check-in against an active trip.
// @Summary Record a check-in
// @Description Stores a check-in event with optional position. Rejected once the trip has ended.
// @Tags trips
// @Accept json
// @Produce json
// @Param tripID path string true "Trip UUID"
// @Param body body checkInRequest true "Check-in payload"
// @Success 201 {object} trip.CheckIn
// @Failure 400 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Router /api/v1/trips/{tripID}/checkins [post]
func (h *Handler) CreateCheckIn(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	if t.Status.Terminal() {
		respond.WriteError(w, http.StatusConflict, "TRIP_ENDED", "Trip has already ended")
		return
	}

	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	if req.UserID == uuid.Nil {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}

	c := trip.CheckIn{
		ID:        uuid.New(),
		TripID:    t.ID,
		UserID:    req.UserID,
		Note:      req.Note,
		Lat:       req.Lat,
		Lon:       req.Lon,
		Place:     req.Place,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.RecordCheckIn(r.Context(), c); err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to record check-in", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, c)
}

type checkOutRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// CheckOut ends the trip, or records an individual check-out on a group trip.
// Solo trips and owner_only group trips complete when the owner checks out.
// On quorum_vote trips a check-out only records the individual; completion is
// derived from votes.
// @Summary Check out of a trip
// @Description Owner check-out completes the trip under the owner_only rule; participant check-outs are recorded individually.
// @Tags trips
// @Accept json
// @Produce json
// @Param tripID path string true "Trip UUID"
// @Param body body checkOutRequest true "Check-out payload"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} respond.ErrorResponse
// @Router /api/v1/trips/{tripID}/checkout [post]
func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	if t.Status.Terminal() {
		respond.WriteError(w, http.StatusConflict, "TRIP_ENDED", "Trip has already ended")
		return
	}

	var req checkOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	if req.UserID == uuid.Nil {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}

	now := time.Now().UTC()
	completes := !t.IsGroup ||
		(t.CheckoutRule != trip.CheckoutQuorumVote && req.UserID == t.OwnerID)

	if t.IsGroup {
		if err := h.store.RecordParticipantCheckOut(r.Context(), t.ID, req.UserID, now); err != nil {
			respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to record check-out", err.Error())
			return
		}
	}

	if !completes {
		respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
			"trip_id":   t.ID,
			"completed": false,
			"message":   "Individual check-out recorded",
		})
		return
	}

	done, err := h.store.CompleteTrip(r.Context(), t.ID)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to complete trip", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"trip_id":   t.ID,
		"completed": done,
	})
}

// Cancel cancels a trip before or during its run.
// @Summary Cancel a trip
// @Description Transitions any non-terminal trip to cancelled. Idempotent.
// @Tags trips
// @Produce json
// @Param tripID path string true "Trip UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/trips/{tripID}/cancel [post]
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	done, err := h.store.CancelTrip(r.Context(), t.ID)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to cancel trip", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"trip_id":   t.ID,
		"cancelled": done,
	})
}

type endVoteRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// CastEndVote records a participant's vote to end a quorum-rule group trip
// and completes the trip immediately once the quorum is met.
// @Summary Vote to end a group trip
// @Description Records an end vote. Re-voting is a no-op. The trip completes once the configured quorum of votes is reached.
// @Tags trips
// @Accept json
// @Produce json
// @Param tripID path string true "Trip UUID"
// @Param body body endVoteRequest true "Vote payload"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} respond.ErrorResponse
// @Router /api/v1/trips/{tripID}/votes [post]
func (h *Handler) CastEndVote(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	if t.Status.Terminal() {
		respond.WriteError(w, http.StatusConflict, "TRIP_ENDED", "Trip has already ended")
		return
	}
	if !t.IsGroup || t.CheckoutRule != trip.CheckoutQuorumVote {
		respond.WriteError(w, http.StatusConflict, "NOT_QUORUM_TRIP", "Trip does not use quorum voting")
		return
	}

	var req endVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	if req.UserID == uuid.Nil {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}

	if err := h.store.RecordEndVote(r.Context(), t.ID, req.UserID, time.Now().UTC()); err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to record vote", err.Error())
		return
	}

	participants, err := h.store.Participants(r.Context(), t.ID)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to load participants", err.Error())
		return
	}

	completed := false
	if schedule.CollectivelyCheckedOut(t, participants) {
		completed, err = h.store.CompleteTrip(r.Context(), t.ID)
		if err != nil {
			respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to complete trip", err.Error())
			return
		}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"trip_id":   t.ID,
		"completed": completed,
	})
}

type locationRequest struct {
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	AccuracyM  float64    `json:"accuracy_m"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// UpdateLocation replaces the trip's retained live-location sample. Only the
// newest fix is kept; out-of-order uploads are discarded by the store.
// @Summary Upload a live-location fix
// @Description Stores the trip's most recent live-location sample. Requires live sharing to be enabled.
// @Tags trips
// @Accept json
// @Produce json
// @Param tripID path string true "Trip UUID"
// @Param body body locationRequest true "Location fix"
// @Success 204 "No Content"
// @Failure 409 {object} respond.ErrorResponse
// @Router /api/v1/trips/{tripID}/location [put]
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	if t.Status.Terminal() {
		respond.WriteError(w, http.StatusConflict, "TRIP_ENDED", "Trip has already ended")
		return
	}
	if !t.LiveSharing {
		respond.WriteError(w, http.StatusConflict, "LIVE_SHARING_DISABLED", "Trip does not have live sharing enabled")
		return
	}

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	recordedAt := time.Now().UTC()
	if req.RecordedAt != nil {
		recordedAt = req.RecordedAt.UTC()
	}

	sample := trip.LocationSample{
		TripID:     t.ID,
		Lat:        req.Lat,
		Lon:        req.Lon,
		AccuracyM:  req.AccuracyM,
		RecordedAt: recordedAt,
	}
	if err := h.store.UpsertLiveSample(r.Context(), sample); err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to store location", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateTimesRequest struct {
	StartAt time.Time `json:"start_at"`
	ETAAt   time.Time `json:"eta_at"`
}

// UpdateTimes edits a trip's start and ETA boundaries. Changing either begins
// a new scheduling epoch: every notification flag and cadence timestamp is
// cleared so the reminders replay against the new boundaries.
// @Summary Update trip boundaries
// @Description Changes start_at and eta_at and resets all notification tracking state.
// @Tags trips
// @Accept json
// @Produce json
// @Param tripID path string true "Trip UUID"
// @Param body body updateTimesRequest true "New boundaries (naive wall-clock times)"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} respond.ErrorResponse
// @Router /api/v1/trips/{tripID}/times [put]
func (h *Handler) UpdateTimes(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTrip(w, r)
	if !ok {
		return
	}
	if t.Status.Terminal() {
		respond.WriteError(w, http.StatusConflict, "TRIP_ENDED", "Trip has already ended")
		return
	}

	var req updateTimesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	if !req.ETAAt.After(req.StartAt) {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_TIMES", "eta_at must be after start_at")
		return
	}

	if err := h.store.UpdateTimes(r.Context(), t.ID, req.StartAt, req.ETAAt); err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to update times", err.Error())
		return
	}
	if err := h.store.ResetNotificationFlags(r.Context(), t.ID); err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to reset notification state", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"trip_id":  t.ID,
		"start_at": req.StartAt,
		"eta_at":   req.ETAAt,
	})
}

// loadTrip parses the tripID path param and loads the trip, writing the error
// response itself when either step fails.
func (h *Handler) loadTrip(w http.ResponseWriter, r *http.Request) (trip.Trip, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tripID"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_TRIP_ID", "tripID must be a UUID")
		return trip.Trip{}, false
	}
	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, trip.ErrNotFound) {
			respond.WriteError(w, http.StatusNotFound, "TRIP_NOT_FOUND", "Trip not found")
		} else {
			respond.WriteErrorDetail(w, http.StatusInternalServerError, "DB_ERROR", "Failed to load trip", err.Error())
		}
		return trip.Trip{}, false
	}
	return t, true
}
