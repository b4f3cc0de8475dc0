package schedule

import (
	"time"

	"github.com/kmfinlay/tripwatch/internal/trip"
)

// DeriveStatus classifies a trip's lifecycle state from its stored fields
// and the current instant. Pure: it never mutates, and it is recomputed on
// every pass rather than cached, so the derived state cannot drift from the
// underlying timestamps.
//
// Status is monotonic: terminal states are sticky, and a trip that has been
// recorded overdue never regresses to active even when re-evaluated.
func DeriveStatus(t trip.Trip, rt ResolvedTimes, now time.Time) trip.Status {
	if t.Status.Terminal() {
		return t.Status
	}
	if t.Status == trip.StatusOverdue {
		return trip.StatusOverdue
	}
	// grace_minutes == 0 makes the overdue threshold the ETA itself.
	if !now.Before(rt.OverdueAt) {
		return trip.StatusOverdue
	}
	if now.Before(rt.Start) && t.Status == trip.StatusPlanned {
		return trip.StatusPlanned
	}
	return trip.StatusActive
}
