package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kmfinlay/tripwatch/internal/trip"
)

// Result is one recipient-channel delivery outcome.
type Result struct {
	ContactID uuid.UUID
	Channel   string // "push" | "email"
	Delivered bool
	Permanent bool
	Err       error
}

// Dispatcher fans one notification out to recipients. Recipients are
// independent: one contact's dead push token or bounced email never blocks
// delivery to the others, and each recipient attempt is bounded by a
// timeout so a stuck channel cannot stall the scheduler pass.
type Dispatcher struct {
	push    PushSender
	email   EmailSender
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher wires the configured channels. At least one sender must be
// configured: running with none would silently disable all safety alerting,
// so that is rejected here at startup rather than discovered at pass time.
func NewDispatcher(push PushSender, email EmailSender, timeout time.Duration, logger *slog.Logger) (*Dispatcher, error) {
	if push == nil && email == nil {
		return nil, fmt.Errorf("no notification senders configured")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{push: push, email: email, timeout: timeout, logger: logger}, nil
}

// Deliver sends msg to every recipient, push and email per availability.
// Friend-linked recipients get the richer variant (map coordinates in push
// data, map link in email); plain contacts get text only.
func (d *Dispatcher) Deliver(ctx context.Context, kind trip.Kind, t trip.Trip, msg Message, recipients []trip.Recipient) []Result {
	var results []Result
	for _, r := range recipients {
		results = append(results, d.deliverOne(ctx, kind, t, msg, r)...)
	}
	return results
}

func (d *Dispatcher) deliverOne(ctx context.Context, kind trip.Kind, t trip.Trip, msg Message, r trip.Recipient) []Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var out []Result

	if d.push != nil && r.Friend() && len(r.DeviceTokens) > 0 {
		err := d.push.Send(ctx, r.DeviceTokens, msg.Title, msg.Body, msg.Data)
		out = append(out, d.result(kind, t, r, "push", err))
	}

	if d.email != nil && r.Email != "" {
		body := msg.Body
		if r.Friend() {
			if link := mapLink(msg.LastKnown); link != "" {
				body += "\n\nLast known position: " + link
			}
		}
		err := d.email.Send(ctx, r.Email, msg.Title, body)
		out = append(out, d.result(kind, t, r, "email", err))
	}

	if len(out) == 0 {
		// Contact has no reachable channel at all; treat as permanent so
		// the scheduler stops retrying this recipient for this kind.
		err := fmt.Errorf("contact %s has no deliverable channel: %w", r.ContactID, ErrPermanent)
		out = append(out, d.result(kind, t, r, "none", err))
	}
	return out
}

func (d *Dispatcher) result(kind trip.Kind, t trip.Trip, r trip.Recipient, channel string, err error) Result {
	res := Result{
		ContactID: r.ContactID,
		Channel:   channel,
		Delivered: err == nil,
		Permanent: errors.Is(err, ErrPermanent),
		Err:       err,
	}
	if err != nil {
		d.logger.Warn("delivery failed",
			"trip_id", t.ID, "kind", kind, "contact_id", r.ContactID,
			"channel", channel, "permanent", res.Permanent, "error", err)
	}
	return res
}
