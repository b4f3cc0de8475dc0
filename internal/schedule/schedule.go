// Package schedule is the trip safety scheduler core. A periodic driver runs
// one pass per interval: for every non-terminal trip it resolves absolute
// boundary instants, derives the lifecycle status, decides which notification
// kinds are due, resolves group checkout, and hands due notifications to the
// dispatcher. Flag commits back to the store are conditional updates, so
// overlapping passes never double-deliver.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kmfinlay/tripwatch/internal/notify"
	"github.com/kmfinlay/tripwatch/internal/trip"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// StartLeadTime is how far before the start boundary the starting-soon
	// reminder fires; ETALeadTime the same for approaching-ETA.
	StartLeadTime = 15 * time.Minute
	ETALeadTime   = 15 * time.Minute

	// GraceWarningInterval is the cadence of warnings inside the grace
	// window between ETA and the overdue deadline.
	GraceWarningInterval = 5 * time.Minute

	defaultWorkers     = 4
	defaultTripTimeout = 30 * time.Second
)

// --------------------------------------------------------------------------
// Collaborator interfaces
// --------------------------------------------------------------------------

// Store is the slice of the trip store the scheduler consumes. Claim methods
// are atomic conditional updates: false means another pass or a user action
// won the race and the caller must skip.
type Store interface {
	ListSchedulable(ctx context.Context) ([]trip.Trip, error)
	GetStatus(ctx context.Context, id uuid.UUID) (trip.Status, error)

	Recipients(ctx context.Context, tripID uuid.UUID, kind trip.Kind) ([]trip.Recipient, error)
	EmergencyContacts(ctx context.Context, userID, tripID uuid.UUID, kind trip.Kind) ([]trip.Recipient, error)
	OwnerRecipient(ctx context.Context, ownerID uuid.UUID) (trip.Recipient, error)
	Participants(ctx context.Context, tripID uuid.UUID) ([]trip.Participant, error)
	LatestCheckIn(ctx context.Context, tripID uuid.UUID) (*trip.CheckIn, error)
	LatestCheckInBy(ctx context.Context, tripID, userID uuid.UUID) (*trip.CheckIn, error)
	LatestLiveSample(ctx context.Context, tripID uuid.UUID) (*trip.LocationSample, error)

	ClaimNotified(ctx context.Context, tripID uuid.UUID, kind trip.Kind) (bool, error)
	ReleaseNotified(ctx context.Context, tripID uuid.UUID, kind trip.Kind) error
	ClaimCadence(ctx context.Context, tripID uuid.UUID, kind trip.Kind, now time.Time, minInterval time.Duration) (bool, error)
	ReleaseCadence(ctx context.Context, tripID uuid.UUID, kind trip.Kind, prev *time.Time, claimed time.Time) error
	MarkStarted(ctx context.Context, tripID uuid.UUID) (bool, error)
	MarkOverdue(ctx context.Context, tripID uuid.UUID) (bool, error)
	ClaimOverdueAlert(ctx context.Context, tripID uuid.UUID) (bool, error)
	ReleaseOverdueAlert(ctx context.Context, tripID uuid.UUID) error
	ClaimParticipantAlert(ctx context.Context, tripID, userID uuid.UUID) (bool, error)
	ReleaseParticipantAlert(ctx context.Context, tripID, userID uuid.UUID) error
	CompleteTrip(ctx context.Context, tripID uuid.UUID) (bool, error)

	MarkRecipientSkipped(ctx context.Context, tripID, contactID uuid.UUID, kind trip.Kind, reason string) error
	AppendLog(ctx context.Context, e trip.LogEntry) error
}

// Dispatcher fans one notification out to recipients with per-recipient
// failure isolation.
type Dispatcher interface {
	Deliver(ctx context.Context, kind trip.Kind, t trip.Trip, msg notify.Message, recipients []trip.Recipient) []notify.Result
}

// --------------------------------------------------------------------------
// Pass results
// --------------------------------------------------------------------------

// TripResult tracks the outcome of evaluating a single trip.
type TripResult struct {
	TripID    uuid.UUID
	Fired     []trip.Kind
	Delivered int
	Failed    int
	Error     string
}

// PassResult tracks the outcome of one full scheduler pass.
type PassResult struct {
	TripsFound     int
	TripsEvaluated int
	Notified       int
	Failed         int
	Duration       time.Duration
	Errors         []string
	Results        []TripResult
}

// Summary returns a human-readable summary.
func (r *PassResult) Summary() string {
	return fmt.Sprintf("trips=%d evaluated=%d notified=%d failed=%d errors=%d dur=%s",
		r.TripsFound, r.TripsEvaluated, r.Notified, r.Failed,
		len(r.Errors), r.Duration.Round(time.Millisecond))
}
