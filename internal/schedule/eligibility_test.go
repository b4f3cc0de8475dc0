package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kmfinlay/tripwatch/internal/trip"
)

// dueTrip is a day hike, 08:00 start, 18:00 ETA, one hour grace, hourly
// check-ins, no quiet hours.
func dueTrip() trip.Trip {
	return trip.Trip{
		Title:          "Day hike",
		StartAt:        naive(2026, time.June, 1, 8, 0),
		ETAAt:          naive(2026, time.June, 1, 18, 0),
		GraceMinutes:   60,
		CheckinMinutes: 60,
		Status:         trip.StatusPlanned,
	}
}

func dueAt(t trip.Trip, now time.Time) []trip.Kind {
	return Due(t, ResolveTimes(t), now)
}

func TestDue_NothingFarBeforeStart(t *testing.T) {
	assert.Empty(t, dueAt(dueTrip(), naive(2026, time.June, 1, 7, 0)))
}

func TestDue_StartingSoonInsideLeadWindow(t *testing.T) {
	got := dueAt(dueTrip(), naive(2026, time.June, 1, 7, 50))
	assert.Equal(t, []trip.Kind{trip.KindStartingSoon}, got)
}

func TestDue_StartingSoonSuppressedByFlag(t *testing.T) {
	tr := dueTrip()
	tr.NotifiedStartingSoon = true
	assert.Empty(t, dueAt(tr, naive(2026, time.June, 1, 7, 50)))
}

func TestDue_TripStartedAndFirstCheckinAtStart(t *testing.T) {
	tr := dueTrip()
	tr.NotifiedStartingSoon = true
	got := dueAt(tr, naive(2026, time.June, 1, 8, 0))
	assert.Equal(t, []trip.Kind{trip.KindTripStarted, trip.KindCheckinReminder}, got)
}

func TestDue_CheckinReminderRearmsAfterInterval(t *testing.T) {
	tr := dueTrip()
	tr.Status = trip.StatusActive
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true

	last := naive(2026, time.June, 1, 9, 0)
	tr.LastCheckinReminderAt = &last

	// 30 minutes after the last reminder: not yet.
	assert.Empty(t, dueAt(tr, naive(2026, time.June, 1, 9, 30)))
	// A full interval later: due again.
	got := dueAt(tr, naive(2026, time.June, 1, 10, 0))
	assert.Equal(t, []trip.Kind{trip.KindCheckinReminder}, got)
}

func TestDue_CheckinReminderDisabledByZeroInterval(t *testing.T) {
	tr := dueTrip()
	tr.Status = trip.StatusActive
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true
	tr.CheckinMinutes = 0
	assert.Empty(t, dueAt(tr, naive(2026, time.June, 1, 10, 0)))
}

func TestDue_ApproachingETAInsideLeadWindow(t *testing.T) {
	tr := dueTrip()
	tr.Status = trip.StatusActive
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true
	last := naive(2026, time.June, 1, 17, 0)
	tr.LastCheckinReminderAt = &last

	got := dueAt(tr, naive(2026, time.June, 1, 17, 50))
	assert.Equal(t, []trip.Kind{trip.KindApproachingETA}, got)
}

func TestDue_ETAReachedAndGraceWarningAtETA(t *testing.T) {
	tr := dueTrip()
	tr.Status = trip.StatusActive
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true
	tr.NotifiedApproachingETA = true
	last := naive(2026, time.June, 1, 17, 30)
	tr.LastCheckinReminderAt = &last

	got := dueAt(tr, naive(2026, time.June, 1, 18, 0))
	assert.Equal(t, []trip.Kind{trip.KindETAReached, trip.KindGraceWarning}, got)
}

func TestDue_GraceWarningRearmsEveryFiveMinutes(t *testing.T) {
	tr := dueTrip()
	tr.Status = trip.StatusActive
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true
	tr.NotifiedApproachingETA = true
	tr.NotifiedETAReached = true
	tr.CheckinMinutes = 0

	last := naive(2026, time.June, 1, 18, 0)
	tr.LastGraceWarningAt = &last

	assert.Empty(t, dueAt(tr, naive(2026, time.June, 1, 18, 4)))
	got := dueAt(tr, naive(2026, time.June, 1, 18, 5))
	assert.Equal(t, []trip.Kind{trip.KindGraceWarning}, got)
}

func TestDue_GraceWarningNeverFiresWithZeroGrace(t *testing.T) {
	tr := dueTrip()
	tr.Status = trip.StatusActive
	tr.GraceMinutes = 0
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true
	tr.NotifiedApproachingETA = true
	tr.NotifiedETAReached = true
	tr.CheckinMinutes = 0

	got := dueAt(tr, naive(2026, time.June, 1, 18, 0))
	assert.Equal(t, []trip.Kind{trip.KindOverdueAlert}, got)
}

func TestDue_OverdueAlertAtDeadline(t *testing.T) {
	tr := dueTrip()
	tr.Status = trip.StatusActive
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true
	tr.NotifiedApproachingETA = true
	tr.NotifiedETAReached = true
	tr.CheckinMinutes = 0

	// Inside grace: warnings only.
	got := dueAt(tr, naive(2026, time.June, 1, 18, 30))
	assert.Equal(t, []trip.Kind{trip.KindGraceWarning}, got)

	// At the deadline: the contact alert, and no more grace warnings.
	got = dueAt(tr, naive(2026, time.June, 1, 19, 0))
	assert.Equal(t, []trip.Kind{trip.KindOverdueAlert}, got)
}

func TestDue_OverdueAlertSuppressedByFlag(t *testing.T) {
	tr := dueTrip()
	tr.Status = trip.StatusOverdue
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true
	tr.NotifiedApproachingETA = true
	tr.NotifiedETAReached = true
	tr.CheckinMinutes = 0
	tr.OverdueAlertSent = true

	assert.Empty(t, dueAt(tr, naive(2026, time.June, 1, 19, 0)))
}

func TestDue_TerminalTripNeverDue(t *testing.T) {
	tr := dueTrip()
	tr.Status = trip.StatusCompleted
	assert.Empty(t, dueAt(tr, naive(2026, time.June, 1, 19, 0)))
}

// Quiet hours [22,6): reminders are suppressed at 23:00, but the grace
// warning and overdue alert are safety-critical and pass through.
func TestDue_QuietHoursGateReminders(t *testing.T) {
	tr := trip.Trip{
		Title:          "Night drive",
		StartAt:        naive(2026, time.June, 1, 20, 0),
		ETAAt:          naive(2026, time.June, 1, 22, 30),
		GraceMinutes:   60,
		CheckinMinutes: 30,
		Status:         trip.StatusActive,
		NotifyWindow:   &trip.NotifyWindow{StartHour: 22, EndHour: 6},
	}
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true
	tr.NotifiedApproachingETA = true
	tr.NotifiedETAReached = true

	// 23:00, past ETA, inside grace. The check-in reminder is long overdue
	// by cadence but the quiet window holds it; the grace warning fires.
	got := dueAt(tr, naive(2026, time.June, 1, 23, 0))
	assert.Equal(t, []trip.Kind{trip.KindGraceWarning}, got)
}

func TestDue_QuietHoursGateStartingSoon(t *testing.T) {
	tr := trip.Trip{
		Title:        "Early start",
		StartAt:      naive(2026, time.June, 2, 5, 30),
		ETAAt:        naive(2026, time.June, 2, 12, 0),
		GraceMinutes: 60,
		Status:       trip.StatusPlanned,
		NotifyWindow: &trip.NotifyWindow{StartHour: 22, EndHour: 6},
	}

	// 05:20 is inside the lead window but still within quiet hours.
	assert.Empty(t, dueAt(tr, naive(2026, time.June, 2, 5, 20)))
}
