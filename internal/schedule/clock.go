package schedule

import (
	"time"

	"github.com/kmfinlay/tripwatch/internal/trip"
)

// ResolvedTimes carries a trip's boundary instants made absolute against the
// trip's timezone configuration, comparable directly with now.
type ResolvedTimes struct {
	Start     time.Time
	ETA       time.Time
	OverdueAt time.Time // ETA + grace; the final alert threshold

	// Local is the zone used for notify-window tests: the ETA-side zone,
	// which is where the traveler is expected to be.
	Local *time.Location
}

// ResolveTimes interprets the trip's naive start/ETA wall clocks in their
// per-boundary zones, falling back to the trip-level zone and finally UTC.
// An unresolvable timezone identifier never produces an error: safety
// notifications must not be dropped because of a bad timezone string.
func ResolveTimes(t trip.Trip) ResolvedTimes {
	startLoc := loadLocation(t.StartTimezone, t.Timezone)
	etaLoc := loadLocation(t.ETATimezone, t.Timezone)

	eta := instantIn(t.ETAAt, etaLoc)
	return ResolvedTimes{
		Start:     instantIn(t.StartAt, startLoc),
		ETA:       eta,
		OverdueAt: eta.Add(t.GracePeriod()),
		Local:     etaLoc,
	}
}

// NotifyWindowPermits reports whether a non-critical notification may be
// delivered at now. The window is the trip's quiet-hours interval
// [StartHour, EndHour) in trip-local time; StartHour > EndHour wraps past
// midnight. No window, or a zero-length window, permits everything.
// Safety-critical kinds bypass this entirely.
func (rt ResolvedTimes) NotifyWindowPermits(w *trip.NotifyWindow, now time.Time) bool {
	if w == nil || w.StartHour == w.EndHour {
		return true
	}
	h := now.In(rt.Local).Hour()
	var quiet bool
	if w.StartHour < w.EndHour {
		quiet = h >= w.StartHour && h < w.EndHour
	} else {
		quiet = h >= w.StartHour || h < w.EndHour
	}
	return !quiet
}

// loadLocation returns the first resolvable zone from ids, else UTC.
func loadLocation(ids ...string) *time.Location {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if loc, err := time.LoadLocation(id); err == nil {
			return loc
		}
	}
	return time.UTC
}

// instantIn reinterprets a naive wall-clock timestamp in loc. Stored
// boundaries carry no zone of their own; this pins them to one.
func instantIn(naive time.Time, loc *time.Location) time.Time {
	return time.Date(naive.Year(), naive.Month(), naive.Day(),
		naive.Hour(), naive.Minute(), naive.Second(), naive.Nanosecond(), loc)
}
