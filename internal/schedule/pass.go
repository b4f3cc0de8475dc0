package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kmfinlay/tripwatch/internal/notify"
	"github.com/kmfinlay/tripwatch/internal/trip"
)

// Evaluator runs scheduler passes. Trips are independent units of work and
// are evaluated concurrently; the only shared mutable resource is the store,
// whose conditional updates arbitrate between workers.
type Evaluator struct {
	store       Store
	dispatcher  Dispatcher
	logger      *slog.Logger
	workers     int
	tripTimeout time.Duration
	now         func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithWorkers sets the worker pool size for a pass.
func WithWorkers(n int) Option {
	return func(e *Evaluator) { e.workers = n }
}

// WithTripTimeout bounds a single trip's evaluation, delivery included.
func WithTripTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.tripTimeout = d }
}

// WithClock injects the time source. Tests pin it; production uses time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator constructs a scheduler pass evaluator.
func NewEvaluator(store Store, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:       store,
		dispatcher:  dispatcher,
		logger:      logger,
		workers:     defaultWorkers,
		tripTimeout: defaultTripTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunPass evaluates every non-terminal trip once. Worker pool: one channel
// of trips, N workers, mutex-guarded result aggregation.
func (e *Evaluator) RunPass(ctx context.Context) PassResult {
	start := time.Now()
	var result PassResult

	trips, err := e.store.ListSchedulable(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result
	}

	result.TripsFound = len(trips)
	if len(trips) == 0 {
		result.Duration = time.Since(start)
		return result
	}

	workers := e.workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(trips) {
		workers = len(trips)
	}

	ch := make(chan trip.Trip, len(trips))
	for _, t := range trips {
		ch <- t
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range ch {
				tripCtx, cancel := context.WithTimeout(ctx, e.tripTimeout)
				tr := e.evaluateTrip(tripCtx, t)
				cancel()

				mu.Lock()
				result.TripsEvaluated++
				result.Notified += tr.Delivered
				result.Failed += tr.Failed
				if tr.Error != "" {
					result.Errors = append(result.Errors, fmt.Sprintf("trip %s: %s", t.ID, tr.Error))
				}
				result.Results = append(result.Results, tr)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	result.Duration = time.Since(start)

	e.logger.Info("Scheduler pass complete", "summary", result.Summary())
	return result
}

// evaluateTrip runs the full decision chain for one trip: resolve times,
// resolve group checkout, derive status, collect due kinds, fire each.
func (e *Evaluator) evaluateTrip(ctx context.Context, t trip.Trip) TripResult {
	out := TripResult{TripID: t.ID}
	now := e.now()
	rt := ResolveTimes(t)

	var participants []trip.Participant
	if t.IsGroup {
		var err error
		participants, err = e.store.Participants(ctx, t.ID)
		if err != nil {
			// Evaluate the trip anyway: a participant read failure must not
			// suppress the owner-facing safety notifications.
			e.logger.Warn("load participants failed", "trip_id", t.ID, "error", err)
		}
		if CollectivelyCheckedOut(t, participants) {
			done, err := e.store.CompleteTrip(ctx, t.ID)
			if err != nil {
				out.Error = fmt.Sprintf("complete checked-out group trip: %v", err)
				return out
			}
			if done {
				e.logger.Info("Group trip collectively checked out",
					"trip_id", t.ID, "rule", t.CheckoutRule)
			}
			return out
		}
	}

	status := DeriveStatus(t, rt, now)

	for _, kind := range Due(t, rt, now) {
		switch {
		case kind == trip.KindOverdueAlert:
			e.fireOverdueAlert(ctx, t, now, &out)
		case kind.Repeating():
			e.fireCadence(ctx, t, kind, now, &out)
		default:
			e.fireOneShot(ctx, t, kind, &out)
		}
	}

	if status == trip.StatusOverdue && t.IsGroup {
		e.fireParticipantAlerts(ctx, t, participants, now, &out)
	}

	return out
}

// fireOneShot handles the once-per-trip kinds. The conditional flag update
// is the claim: running the pass N times with no time change yields exactly
// one delivery attempt, because only one claim can succeed.
func (e *Evaluator) fireOneShot(ctx context.Context, t trip.Trip, kind trip.Kind, out *TripResult) {
	claimed, err := e.store.ClaimNotified(ctx, t.ID, kind)
	if err != nil {
		out.Error = appendError(out.Error, fmt.Sprintf("claim %s: %v", kind, err))
		return
	}
	if !claimed {
		return
	}

	if kind == trip.KindTripStarted {
		if _, err := e.store.MarkStarted(ctx, t.ID); err != nil {
			e.logger.Warn("mark started failed", "trip_id", t.ID, "error", err)
		}
	}

	owner, err := e.store.OwnerRecipient(ctx, t.OwnerID)
	if err != nil {
		out.Error = appendError(out.Error, fmt.Sprintf("resolve owner for %s: %v", kind, err))
		if relErr := e.store.ReleaseNotified(ctx, t.ID, kind); relErr != nil {
			e.logger.Error("release claim failed", "trip_id", t.ID, "kind", kind, "error", relErr)
		}
		return
	}

	msg := notify.BuildMessage(kind, t, nil)
	results := e.dispatcher.Deliver(ctx, kind, t, msg, []trip.Recipient{owner})
	if delivered := e.recordResults(ctx, t, kind, results, out); !delivered {
		if err := e.store.ReleaseNotified(ctx, t.ID, kind); err != nil {
			e.logger.Error("release claim failed", "trip_id", t.ID, "kind", kind, "error", err)
		}
		return
	}
	out.Fired = append(out.Fired, kind)
}

// fireCadence handles the repeating kinds. The claim advances the cadence
// timestamp; on total delivery failure the previous value is restored so
// the next pass retries without waiting a full interval.
func (e *Evaluator) fireCadence(ctx context.Context, t trip.Trip, kind trip.Kind, now time.Time, out *TripResult) {
	var (
		interval time.Duration
		prev     *time.Time
	)
	switch kind {
	case trip.KindCheckinReminder:
		interval = t.CheckinInterval()
		prev = t.LastCheckinReminderAt
	case trip.KindGraceWarning:
		interval = GraceWarningInterval
		prev = t.LastGraceWarningAt
	}

	claimed, err := e.store.ClaimCadence(ctx, t.ID, kind, now, interval)
	if err != nil {
		out.Error = appendError(out.Error, fmt.Sprintf("claim %s: %v", kind, err))
		return
	}
	if !claimed {
		return
	}

	owner, err := e.store.OwnerRecipient(ctx, t.OwnerID)
	if err != nil {
		out.Error = appendError(out.Error, fmt.Sprintf("resolve owner for %s: %v", kind, err))
		if relErr := e.store.ReleaseCadence(ctx, t.ID, kind, prev, now); relErr != nil {
			e.logger.Error("release cadence failed", "trip_id", t.ID, "kind", kind, "error", relErr)
		}
		return
	}

	msg := notify.BuildMessage(kind, t, nil)
	results := e.dispatcher.Deliver(ctx, kind, t, msg, []trip.Recipient{owner})
	if delivered := e.recordResults(ctx, t, kind, results, out); !delivered {
		if err := e.store.ReleaseCadence(ctx, t.ID, kind, prev, now); err != nil {
			e.logger.Error("release cadence failed", "trip_id", t.ID, "kind", kind, "error", err)
		}
		return
	}
	out.Fired = append(out.Fired, kind)
}

// fireOverdueAlert drives the active→overdue transition and the
// once-per-trip contact alert. The alert claim re-checks that the trip is
// still non-terminal, and status is re-read immediately before dispatch:
// a check-out recorded concurrently always wins.
func (e *Evaluator) fireOverdueAlert(ctx context.Context, t trip.Trip, now time.Time, out *TripResult) {
	if _, err := e.store.MarkOverdue(ctx, t.ID); err != nil {
		out.Error = appendError(out.Error, fmt.Sprintf("mark overdue: %v", err))
		return
	}

	claimed, err := e.store.ClaimOverdueAlert(ctx, t.ID)
	if err != nil {
		out.Error = appendError(out.Error, fmt.Sprintf("claim overdue alert: %v", err))
		return
	}
	if !claimed {
		return
	}

	if status, err := e.store.GetStatus(ctx, t.ID); err == nil && status.Terminal() {
		// Checked out between the claim and here; abort remaining actions.
		e.logger.Info("Overdue alert aborted, trip went terminal",
			"trip_id", t.ID, "status", status)
		return
	}

	lastKnown := e.buildLastKnown(ctx, t, now)
	msg := notify.BuildMessage(trip.KindOverdueAlert, t, &lastKnown)

	recipients, err := e.store.Recipients(ctx, t.ID, trip.KindOverdueAlert)
	if err != nil {
		out.Error = appendError(out.Error, fmt.Sprintf("resolve recipients: %v", err))
		if relErr := e.store.ReleaseOverdueAlert(ctx, t.ID); relErr != nil {
			e.logger.Error("release overdue alert failed", "trip_id", t.ID, "error", relErr)
		}
		return
	}
	if len(recipients) == 0 {
		// A trip with no reachable contacts cannot alert anyone; log loudly
		// and keep the claim so the pass does not spin on it forever.
		e.logger.Error("Overdue trip has no recipients", "trip_id", t.ID)
		out.Error = appendError(out.Error, "overdue trip has no recipients")
		return
	}

	results := e.dispatcher.Deliver(ctx, trip.KindOverdueAlert, t, msg, recipients)
	if delivered := e.recordResults(ctx, t, trip.KindOverdueAlert, results, out); !delivered {
		if err := e.store.ReleaseOverdueAlert(ctx, t.ID); err != nil {
			e.logger.Error("release overdue alert failed", "trip_id", t.ID, "error", err)
		}
		return
	}
	out.Fired = append(out.Fired, trip.KindOverdueAlert)
	e.logger.Info("Overdue alert delivered",
		"trip_id", t.ID, "recipients", len(recipients), "location", msg.LastKnown.Source)
}

// fireParticipantAlerts sends per-participant overdue alerts to each group
// member's own emergency contacts. Participants who checked out
// individually, or have no distinct contacts, are skipped; the trip-level
// contact list received the aggregate alert separately.
func (e *Evaluator) fireParticipantAlerts(ctx context.Context, t trip.Trip, participants []trip.Participant, now time.Time, out *TripResult) {
	for _, p := range participants {
		if p.CheckedOutAt != nil || p.OverdueAlertSent {
			continue
		}

		contacts, err := e.store.EmergencyContacts(ctx, p.UserID, t.ID, trip.KindOverdueAlert)
		if err != nil {
			e.logger.Warn("resolve participant contacts failed",
				"trip_id", t.ID, "user_id", p.UserID, "error", err)
			continue
		}
		if len(contacts) == 0 {
			continue
		}

		claimed, err := e.store.ClaimParticipantAlert(ctx, t.ID, p.UserID)
		if err != nil {
			out.Error = appendError(out.Error, fmt.Sprintf("claim participant alert: %v", err))
			continue
		}
		if !claimed {
			continue
		}

		checkin, err := e.store.LatestCheckInBy(ctx, t.ID, p.UserID)
		if err != nil {
			e.logger.Warn("load participant checkin failed",
				"trip_id", t.ID, "user_id", p.UserID, "error", err)
		}
		lastKnown := BuildLastKnown(t, checkin, nil, now)

		owner, err := e.store.OwnerRecipient(ctx, p.UserID)
		name := "a participant"
		if err == nil {
			name = owner.Name
		}

		msg := notify.BuildParticipantMessage(t, name, &lastKnown)
		results := e.dispatcher.Deliver(ctx, trip.KindOverdueAlert, t, msg, contacts)
		if delivered := e.recordResults(ctx, t, trip.KindOverdueAlert, results, out); !delivered {
			if err := e.store.ReleaseParticipantAlert(ctx, t.ID, p.UserID); err != nil {
				e.logger.Error("release participant alert failed",
					"trip_id", t.ID, "user_id", p.UserID, "error", err)
			}
		}
	}
}

// buildLastKnown gathers the trip-level last-known state. Data errors
// degrade to "no location available" rather than suppressing the alert.
func (e *Evaluator) buildLastKnown(ctx context.Context, t trip.Trip, now time.Time) trip.LastKnown {
	checkin, err := e.store.LatestCheckIn(ctx, t.ID)
	if err != nil {
		e.logger.Warn("load latest checkin failed", "trip_id", t.ID, "error", err)
	}
	var sample *trip.LocationSample
	if t.LiveSharing {
		sample, err = e.store.LatestLiveSample(ctx, t.ID)
		if err != nil {
			e.logger.Warn("load live sample failed", "trip_id", t.ID, "error", err)
		}
	}
	return BuildLastKnown(t, checkin, sample, now)
}

// recordResults logs every attempt, persists permanent-failure skips, and
// reports whether at least one recipient channel succeeded (the flag-commit
// criterion).
func (e *Evaluator) recordResults(ctx context.Context, t trip.Trip, kind trip.Kind, results []notify.Result, out *TripResult) bool {
	delivered := false
	for _, res := range results {
		entry := trip.LogEntry{
			TripID:    t.ID,
			Kind:      kind,
			ContactID: res.ContactID,
			Channel:   res.Channel,
			Delivered: res.Delivered,
			Permanent: res.Permanent,
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		if err := e.store.AppendLog(ctx, entry); err != nil {
			e.logger.Warn("append notification log failed", "trip_id", t.ID, "error", err)
		}

		if res.Delivered {
			delivered = true
			out.Delivered++
			continue
		}
		out.Failed++
		if res.Permanent {
			if err := e.store.MarkRecipientSkipped(ctx, t.ID, res.ContactID, kind, entry.Error); err != nil {
				e.logger.Warn("mark recipient skipped failed", "trip_id", t.ID, "error", err)
			}
		}
	}
	return delivered
}

func appendError(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + "; " + add
}
