package schedule

import (
	"time"

	"github.com/kmfinlay/tripwatch/internal/trip"
)

// Due returns the notification kinds whose fire condition and idempotency
// guard both hold at now, in firing order. Non-critical kinds are
// additionally gated by the quiet-hours window; grace warnings and overdue
// alerts always pass — a quiet-hours setting must never delay detecting that
// someone is overdue.
//
// The guards here read the flags as loaded at the start of the pass; the
// store's conditional updates re-check them at commit time, which is what
// makes concurrent passes safe.
func Due(t trip.Trip, rt ResolvedTimes, now time.Time) []trip.Kind {
	if t.Status.Terminal() {
		return nil
	}
	permitted := rt.NotifyWindowPermits(t.NotifyWindow, now)

	var due []trip.Kind
	if permitted && !t.NotifiedStartingSoon &&
		now.Before(rt.Start) && rt.Start.Sub(now) <= StartLeadTime {
		due = append(due, trip.KindStartingSoon)
	}
	if !t.NotifiedTripStarted && !now.Before(rt.Start) {
		due = append(due, trip.KindTripStarted)
	}
	if permitted && !t.NotifiedApproachingETA &&
		now.Before(rt.ETA) && rt.ETA.Sub(now) <= ETALeadTime {
		due = append(due, trip.KindApproachingETA)
	}
	if !t.NotifiedETAReached && !now.Before(rt.ETA) {
		due = append(due, trip.KindETAReached)
	}
	if permitted && checkinReminderDue(t, rt, now) {
		due = append(due, trip.KindCheckinReminder)
	}
	if graceWarningDue(t, rt, now) {
		due = append(due, trip.KindGraceWarning)
	}
	if !t.OverdueAlertSent && !now.Before(rt.OverdueAt) {
		due = append(due, trip.KindOverdueAlert)
	}
	return due
}

// checkinReminderDue re-arms every checkin_interval_minutes during the
// active phase. A zero interval disables check-in reminders.
func checkinReminderDue(t trip.Trip, rt ResolvedTimes, now time.Time) bool {
	if t.CheckinMinutes <= 0 {
		return false
	}
	if now.Before(rt.Start) || !now.Before(rt.OverdueAt) {
		return false
	}
	last := t.LastCheckinReminderAt
	return last == nil || now.Sub(*last) >= t.CheckinInterval()
}

// graceWarningDue re-arms every GraceWarningInterval while the trip sits in
// the grace window between ETA and the overdue deadline. Zero grace means
// the window is empty and no warning ever fires.
func graceWarningDue(t trip.Trip, rt ResolvedTimes, now time.Time) bool {
	if t.GraceMinutes <= 0 {
		return false
	}
	if now.Before(rt.ETA) || !now.Before(rt.OverdueAt) {
		return false
	}
	last := t.LastGraceWarningAt
	return last == nil || now.Sub(*last) >= GraceWarningInterval
}
