// Package trip contains the trip safety domain types and the Postgres-backed
// store the scheduler reads and conditionally updates. All flag mutations are
// narrow conditional writes so that overlapping scheduler passes and
// user-initiated check-outs never overwrite each other.
package trip

import (
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Status
// --------------------------------------------------------------------------

// Status is the trip lifecycle state. It is monotonic along
// planned → active → {overdue → completed} | completed | cancelled.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusActive    Status = "active"
	StatusOverdue   Status = "overdue"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status excludes the trip from scheduling.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// --------------------------------------------------------------------------
// Notification kinds
// --------------------------------------------------------------------------

// Kind identifies a notification type the scheduler can emit.
type Kind string

const (
	KindStartingSoon    Kind = "starting_soon"
	KindTripStarted     Kind = "trip_started"
	KindApproachingETA  Kind = "approaching_eta"
	KindETAReached      Kind = "eta_reached"
	KindCheckinReminder Kind = "checkin_reminder"
	KindGraceWarning    Kind = "grace_warning"
	KindOverdueAlert    Kind = "overdue_alert"
)

// Repeating reports whether the kind re-arms on a cadence instead of firing
// once per trip lifetime.
func (k Kind) Repeating() bool {
	return k == KindCheckinReminder || k == KindGraceWarning
}

// --------------------------------------------------------------------------
// Group checkout
// --------------------------------------------------------------------------

// CheckoutRule controls how a group trip is considered complete.
type CheckoutRule string

const (
	CheckoutOwnerOnly  CheckoutRule = "owner_only"
	CheckoutQuorumVote CheckoutRule = "quorum_vote"
)

// Role is a participant's role within a group trip.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
)

// --------------------------------------------------------------------------
// Trip
// --------------------------------------------------------------------------

// NotifyWindow suppresses non-critical reminders outside
// [StartHour, EndHour) in trip-local time. StartHour > EndHour means the
// window wraps past midnight.
type NotifyWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Trip is the central entity. StartAt and ETAAt are stored as naive wall
// clock timestamps; StartTimezone/ETATimezone (falling back to Timezone,
// then UTC) say where on the planet those wall clocks apply.
type Trip struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`

	ActivityType  string   `json:"activity_type"`
	Title         string   `json:"title"`
	Notes         string   `json:"notes,omitempty"`
	Location      string   `json:"location"`
	Lat           *float64 `json:"lat,omitempty"`
	Lon           *float64 `json:"lon,omitempty"`
	StartLocation string   `json:"start_location,omitempty"`

	StartAt        time.Time     `json:"start_at"`
	ETAAt          time.Time     `json:"eta_at"`
	Timezone       string        `json:"timezone,omitempty"`
	StartTimezone  string        `json:"start_timezone,omitempty"`
	ETATimezone    string        `json:"eta_timezone,omitempty"`
	GraceMinutes   int           `json:"grace_minutes"`
	CheckinMinutes int           `json:"checkin_interval_minutes"`
	NotifyWindow   *NotifyWindow `json:"notify_window,omitempty"`

	Status      Status `json:"status"`
	LiveSharing bool   `json:"live_sharing"`

	IsGroup      bool         `json:"is_group"`
	CheckoutRule CheckoutRule `json:"checkout_rule,omitempty"`
	QuorumVotes  int          `json:"quorum_votes,omitempty"` // 0 means all participants

	// Notification tracking. Each notified_* flag transitions false→true
	// exactly once per scheduling epoch; cadence timestamps only advance.
	NotifiedStartingSoon   bool       `json:"notified_starting_soon"`
	NotifiedTripStarted    bool       `json:"notified_trip_started"`
	NotifiedApproachingETA bool       `json:"notified_approaching_eta"`
	NotifiedETAReached     bool       `json:"notified_eta_reached"`
	LastCheckinReminderAt  *time.Time `json:"last_checkin_reminder_at,omitempty"`
	LastGraceWarningAt     *time.Time `json:"last_grace_warning_at,omitempty"`
	OverdueAlertSent       bool       `json:"overdue_alert_sent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GracePeriod returns the configured grace duration.
func (t Trip) GracePeriod() time.Duration {
	return time.Duration(t.GraceMinutes) * time.Minute
}

// CheckinInterval returns the check-in reminder cadence. Zero disables
// check-in reminders for the trip.
func (t Trip) CheckinInterval() time.Duration {
	return time.Duration(t.CheckinMinutes) * time.Minute
}

// --------------------------------------------------------------------------
// Recipients and participants
// --------------------------------------------------------------------------

// Recipient is a resolved delivery target for one trip. Friend-linked
// contacts carry a user ID and push tokens and receive the richer
// map-capable payload; plain contacts are email-only.
type Recipient struct {
	ContactID    uuid.UUID  `json:"contact_id"`
	Name         string     `json:"name"`
	Email        string     `json:"email,omitempty"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	DeviceTokens []string   `json:"-"`
	Position     int        `json:"position"`
}

// Friend reports whether the recipient is a linked app user.
func (r Recipient) Friend() bool {
	return r.UserID != nil
}

// Participant is a member of a group trip with individual check-in,
// check-out, and end-vote state.
type Participant struct {
	UserID           uuid.UUID  `json:"user_id"`
	Role             Role       `json:"role"`
	JoinedAt         time.Time  `json:"joined_at"`
	LastCheckinAt    *time.Time `json:"last_checkin_at,omitempty"`
	CheckedOutAt     *time.Time `json:"checked_out_at,omitempty"`
	VotedEndAt       *time.Time `json:"voted_end_at,omitempty"`
	OverdueAlertSent bool       `json:"overdue_alert_sent"`
}

// --------------------------------------------------------------------------
// Check-ins and live location
// --------------------------------------------------------------------------

// CheckIn is a user-initiated "I'm OK" event during an active trip.
type CheckIn struct {
	ID        uuid.UUID `json:"id"`
	TripID    uuid.UUID `json:"trip_id"`
	UserID    uuid.UUID `json:"user_id"`
	Note      string    `json:"note,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
	Place     string    `json:"place,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LocationSample is the most recent live-location fix for a trip, retained
// only while the trip is active and live sharing is enabled.
type LocationSample struct {
	TripID     uuid.UUID `json:"trip_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AccuracyM  float64   `json:"accuracy_m"`
	RecordedAt time.Time `json:"recorded_at"`
}

// --------------------------------------------------------------------------
// Last-known state
// --------------------------------------------------------------------------

// LocationSource says where an overdue alert's last-known location came from.
type LocationSource string

const (
	LocationFromCheckIn LocationSource = "checkin"
	LocationFromLive    LocationSource = "live"
	LocationNone        LocationSource = "none"
)

// LastKnown is the last-known-state payload handed to emergency contacts
// when a trip goes overdue.
type LastKnown struct {
	Source    LocationSource `json:"source"`
	Lat       *float64       `json:"lat,omitempty"`
	Lon       *float64       `json:"lon,omitempty"`
	AccuracyM float64        `json:"accuracy_m,omitempty"`
	Place     string         `json:"place,omitempty"`
	Note      string         `json:"note,omitempty"`
	At        *time.Time     `json:"at,omitempty"`
}

// HasCoordinates reports whether the payload carries a map-capable position.
func (lk LastKnown) HasCoordinates() bool {
	return lk.Lat != nil && lk.Lon != nil
}

// --------------------------------------------------------------------------
// Delivery log
// --------------------------------------------------------------------------

// LogEntry records one delivery attempt outcome for observability; delivery
// degradation is visible here and in logs, never in trip-facing state.
type LogEntry struct {
	TripID    uuid.UUID
	Kind      Kind
	ContactID uuid.UUID
	Channel   string // "push" | "email"
	Delivered bool
	Permanent bool // permanent failure (invalid token, hard bounce)
	Error     string
}
