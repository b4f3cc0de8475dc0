// Package notify delivers scheduler notifications to recipients over push
// and email channels. The transports themselves are external; this package
// owns channel selection, per-recipient failure isolation, and the
// payload-richness split between friend-linked and plain email contacts.
package notify

import (
	"errors"
	"fmt"

	"github.com/kmfinlay/tripwatch/internal/trip"
)

// ErrPermanent marks delivery failures that will not succeed on retry
// (invalid or expired push token, hard email bounce). Wrap with %w.
var ErrPermanent = errors.New("permanent delivery failure")

// timeFormat renders trip boundary wall clocks in notification text.
const timeFormat = "Mon Jan 2 15:04"

// Message is one notification ready for fan-out. Title and Body are the
// plain-text rendition; Data and LastKnown feed the richer push variant.
type Message struct {
	Kind      trip.Kind
	Title     string
	Body      string
	Data      map[string]string
	LastKnown *trip.LastKnown
}

// BuildMessage renders the notification content for a kind. Boundary times
// are shown as the trip's stored wall clocks, which is the traveler's local
// reading of them. lastKnown is only consulted for overdue alerts.
func BuildMessage(kind trip.Kind, t trip.Trip, lastKnown *trip.LastKnown) Message {
	msg := Message{
		Kind: kind,
		Data: map[string]string{
			"trip_id": t.ID.String(),
			"kind":    string(kind),
		},
		LastKnown: lastKnown,
	}

	switch kind {
	case trip.KindStartingSoon:
		msg.Title = "Trip starting soon"
		msg.Body = fmt.Sprintf("%s starts at %s.", t.Title, t.StartAt.Format(timeFormat))
	case trip.KindTripStarted:
		msg.Title = "Trip started"
		msg.Body = fmt.Sprintf("%s is underway. Stay safe out there.", t.Title)
	case trip.KindApproachingETA:
		msg.Title = "Approaching ETA"
		msg.Body = fmt.Sprintf("%s is due back at %s. Remember to check out.",
			t.Title, t.ETAAt.Format(timeFormat))
	case trip.KindETAReached:
		msg.Title = "ETA reached"
		msg.Body = fmt.Sprintf("%s has reached its ETA. Check out if you're done.", t.Title)
	case trip.KindCheckinReminder:
		msg.Title = "Check-in reminder"
		msg.Body = fmt.Sprintf("Time to check in for %s.", t.Title)
	case trip.KindGraceWarning:
		deadline := t.ETAAt.Add(t.GracePeriod())
		msg.Title = "Past ETA"
		msg.Body = fmt.Sprintf(
			"%s passed its ETA. Check out or extend, or your emergency contacts will be alerted at %s.",
			t.Title, deadline.Format(timeFormat))
	case trip.KindOverdueAlert:
		msg.Title = fmt.Sprintf("Overdue alert: %s", t.Title)
		msg.Body = overdueBody(t, lastKnown)
		if lastKnown != nil && lastKnown.HasCoordinates() {
			msg.Data["lat"] = fmt.Sprintf("%f", *lastKnown.Lat)
			msg.Data["lon"] = fmt.Sprintf("%f", *lastKnown.Lon)
		}
	}
	return msg
}

// BuildParticipantMessage renders the per-participant overdue alert sent to
// a group member's own emergency contacts.
func BuildParticipantMessage(t trip.Trip, name string, lastKnown *trip.LastKnown) Message {
	msg := BuildMessage(trip.KindOverdueAlert, t, lastKnown)
	msg.Title = fmt.Sprintf("Overdue alert: %s on %s", name, t.Title)
	return msg
}

func overdueBody(t trip.Trip, lk *trip.LastKnown) string {
	body := fmt.Sprintf("%s was due back at %s and has not checked out.",
		t.Title, t.ETAAt.Format(timeFormat))
	if t.ActivityType != "" {
		body = fmt.Sprintf("%s (%s) was due back at %s and has not checked out.",
			t.Title, t.ActivityType, t.ETAAt.Format(timeFormat))
	}
	if t.Location != "" {
		body += fmt.Sprintf(" Planned location: %s.", t.Location)
	}

	if lk == nil {
		return body + " No location available."
	}
	switch lk.Source {
	case trip.LocationFromCheckIn:
		body += " Last check-in"
		if lk.Place != "" {
			body += " near " + lk.Place
		}
		if lk.At != nil {
			body += " at " + lk.At.Format(timeFormat)
		}
		body += "."
		if lk.Note != "" {
			body += fmt.Sprintf(" Note: %q.", lk.Note)
		}
	case trip.LocationFromLive:
		body += " Last live location"
		if lk.At != nil {
			body += " at " + lk.At.Format(timeFormat)
		}
		body += "."
	default:
		body += " No location available."
	}
	return body
}

// mapLink renders a map URL for coordinates; friend-linked recipients get
// this in their richer variant.
func mapLink(lk *trip.LastKnown) string {
	if lk == nil || !lk.HasCoordinates() {
		return ""
	}
	return fmt.Sprintf("https://maps.google.com/?q=%f,%f", *lk.Lat, *lk.Lon)
}
