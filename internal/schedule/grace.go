package schedule

import (
	"time"

	"github.com/kmfinlay/tripwatch/internal/trip"
)

// liveStalenessFactor bounds how old a live-location sample may be, as a
// multiple of the trip's check-in interval, before it is discarded from the
// overdue payload.
const liveStalenessFactor = 2

// defaultLiveStaleness applies when no check-in interval is configured.
const defaultLiveStaleness = time.Hour

// BuildLastKnown assembles the last-known-state payload for overdue alerts:
// the most recent check-in wins, else a sufficiently fresh live-location
// sample (only when live sharing was on for the trip), else an explicit
// "no location available" marker. A data gap degrades the payload, never
// the alert itself.
func BuildLastKnown(t trip.Trip, checkin *trip.CheckIn, sample *trip.LocationSample, now time.Time) trip.LastKnown {
	if checkin != nil {
		at := checkin.CreatedAt
		return trip.LastKnown{
			Source: trip.LocationFromCheckIn,
			Lat:    checkin.Lat,
			Lon:    checkin.Lon,
			Place:  checkin.Place,
			Note:   checkin.Note,
			At:     &at,
		}
	}

	if t.LiveSharing && sample != nil {
		staleness := defaultLiveStaleness
		if t.CheckinMinutes > 0 {
			staleness = liveStalenessFactor * t.CheckinInterval()
		}
		if now.Sub(sample.RecordedAt) <= staleness {
			at := sample.RecordedAt
			lat, lon := sample.Lat, sample.Lon
			return trip.LastKnown{
				Source:    trip.LocationFromLive,
				Lat:       &lat,
				Lon:       &lon,
				AccuracyM: sample.AccuracyM,
				At:        &at,
			}
		}
	}

	return trip.LastKnown{Source: trip.LocationNone}
}
