package notify

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/kmfinlay/tripwatch/internal/trip"
)

func f64(v float64) *float64 { return &v }

func messageTrip() trip.Trip {
	return trip.Trip{
		ID:           uuid.New(),
		Title:        "Day hike",
		ActivityType: "hiking",
		Location:     "Furka Pass",
		StartAt:      time.Date(2026, time.June, 1, 8, 0, 0, 0, time.UTC),
		ETAAt:        time.Date(2026, time.June, 1, 18, 0, 0, 0, time.UTC),
		GraceMinutes: 60,
	}
}

func TestBuildMessage_CarriesTripData(t *testing.T) {
	tr := messageTrip()
	msg := BuildMessage(trip.KindTripStarted, tr, nil)
	assert.Equal(t, trip.KindTripStarted, msg.Kind)
	assert.Equal(t, tr.ID.String(), msg.Data["trip_id"])
	assert.Equal(t, "trip_started", msg.Data["kind"])
}

func TestBuildMessage_StartingSoonShowsStart(t *testing.T) {
	msg := BuildMessage(trip.KindStartingSoon, messageTrip(), nil)
	assert.Equal(t, "Trip starting soon", msg.Title)
	assert.Contains(t, msg.Body, "Day hike")
	assert.Contains(t, msg.Body, "Mon Jun 1 08:00")
}

func TestBuildMessage_GraceWarningShowsDeadline(t *testing.T) {
	msg := BuildMessage(trip.KindGraceWarning, messageTrip(), nil)
	assert.Contains(t, msg.Body, "emergency contacts")
	// ETA 18:00 plus the 60-minute grace.
	assert.Contains(t, msg.Body, "19:00")
}

func TestBuildMessage_OverdueWithCheckIn(t *testing.T) {
	at := time.Date(2026, time.June, 1, 16, 0, 0, 0, time.UTC)
	lk := &trip.LastKnown{
		Source: trip.LocationFromCheckIn,
		Lat:    f64(46.55),
		Lon:    f64(8.56),
		Place:  "summit trail",
		Note:   "heading down",
		At:     &at,
	}
	msg := BuildMessage(trip.KindOverdueAlert, messageTrip(), lk)

	assert.Equal(t, "Overdue alert: Day hike", msg.Title)
	assert.Contains(t, msg.Body, "has not checked out")
	assert.Contains(t, msg.Body, "hiking")
	assert.Contains(t, msg.Body, "Furka Pass")
	assert.Contains(t, msg.Body, "summit trail")
	assert.Contains(t, msg.Body, `"heading down"`)
	assert.Equal(t, "46.550000", msg.Data["lat"])
	assert.Equal(t, "8.560000", msg.Data["lon"])
}

func TestBuildMessage_OverdueWithLiveLocation(t *testing.T) {
	at := time.Date(2026, time.June, 1, 18, 45, 0, 0, time.UTC)
	lk := &trip.LastKnown{
		Source: trip.LocationFromLive,
		Lat:    f64(46.6),
		Lon:    f64(8.6),
		At:     &at,
	}
	msg := BuildMessage(trip.KindOverdueAlert, messageTrip(), lk)
	assert.Contains(t, msg.Body, "Last live location")
	assert.Contains(t, msg.Body, "18:45")
}

func TestBuildMessage_OverdueWithoutLocation(t *testing.T) {
	lk := &trip.LastKnown{Source: trip.LocationNone}
	msg := BuildMessage(trip.KindOverdueAlert, messageTrip(), lk)
	assert.Contains(t, msg.Body, "No location available")
	assert.NotContains(t, msg.Data, "lat")
}

func TestBuildParticipantMessage_NamesTheParticipant(t *testing.T) {
	lk := &trip.LastKnown{Source: trip.LocationNone}
	msg := BuildParticipantMessage(messageTrip(), "Kim", lk)
	assert.Equal(t, "Overdue alert: Kim on Day hike", msg.Title)
}

func TestMapLink(t *testing.T) {
	assert.Empty(t, mapLink(nil))
	assert.Empty(t, mapLink(&trip.LastKnown{Source: trip.LocationNone}))

	lk := &trip.LastKnown{Source: trip.LocationFromLive, Lat: f64(46.6), Lon: f64(8.6)}
	assert.Equal(t, "https://maps.google.com/?q=46.600000,8.600000", mapLink(lk))
}
