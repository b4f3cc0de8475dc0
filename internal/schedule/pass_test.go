package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmfinlay/tripwatch/internal/notify"
	"github.com/kmfinlay/tripwatch/internal/trip"
)

// mockStore is a test double for Store. Set only the function fields your
// test needs; everything else defaults to a successful no-op. Calls that
// matter for assertions are recorded under the mutex because pass workers
// run concurrently.
type mockStore struct {
	mu sync.Mutex

	trips []trip.Trip

	claimNotified     func(kind trip.Kind) (bool, error)
	claimCadence      func(kind trip.Kind) (bool, error)
	claimOverdueAlert func() (bool, error)
	getStatus         func() (trip.Status, error)
	recipients        func(kind trip.Kind) ([]trip.Recipient, error)
	emergencyContacts func(userID uuid.UUID) ([]trip.Recipient, error)
	participants      func() ([]trip.Participant, error)
	latestCheckIn     func() (*trip.CheckIn, error)
	latestLiveSample  func() (*trip.LocationSample, error)

	claimedKinds      []trip.Kind
	releasedKinds     []trip.Kind
	releasedCadence   []trip.Kind
	overdueReleased   int
	markedStarted     int
	markedOverdue     int
	completed         int
	participantClaims []uuid.UUID
	skipped           []uuid.UUID
	logEntries        []trip.LogEntry
}

var _ Store = (*mockStore)(nil)

func (m *mockStore) record(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

func (m *mockStore) ListSchedulable(ctx context.Context) ([]trip.Trip, error) {
	return m.trips, nil
}

func (m *mockStore) GetStatus(ctx context.Context, id uuid.UUID) (trip.Status, error) {
	if m.getStatus != nil {
		return m.getStatus()
	}
	return trip.StatusOverdue, nil
}

func (m *mockStore) Recipients(ctx context.Context, tripID uuid.UUID, kind trip.Kind) ([]trip.Recipient, error) {
	if m.recipients != nil {
		return m.recipients(kind)
	}
	return []trip.Recipient{{ContactID: uuid.New(), Name: "Robin", Email: "robin@example.com"}}, nil
}

func (m *mockStore) EmergencyContacts(ctx context.Context, userID, tripID uuid.UUID, kind trip.Kind) ([]trip.Recipient, error) {
	if m.emergencyContacts != nil {
		return m.emergencyContacts(userID)
	}
	return nil, nil
}

func (m *mockStore) OwnerRecipient(ctx context.Context, ownerID uuid.UUID) (trip.Recipient, error) {
	return trip.Recipient{ContactID: ownerID, Name: "Owner", Email: "owner@example.com"}, nil
}

func (m *mockStore) Participants(ctx context.Context, tripID uuid.UUID) ([]trip.Participant, error) {
	if m.participants != nil {
		return m.participants()
	}
	return nil, nil
}

func (m *mockStore) LatestCheckIn(ctx context.Context, tripID uuid.UUID) (*trip.CheckIn, error) {
	if m.latestCheckIn != nil {
		return m.latestCheckIn()
	}
	return nil, nil
}

func (m *mockStore) LatestCheckInBy(ctx context.Context, tripID, userID uuid.UUID) (*trip.CheckIn, error) {
	return nil, nil
}

func (m *mockStore) LatestLiveSample(ctx context.Context, tripID uuid.UUID) (*trip.LocationSample, error) {
	if m.latestLiveSample != nil {
		return m.latestLiveSample()
	}
	return nil, nil
}

func (m *mockStore) ClaimNotified(ctx context.Context, tripID uuid.UUID, kind trip.Kind) (bool, error) {
	if m.claimNotified != nil {
		ok, err := m.claimNotified(kind)
		if !ok || err != nil {
			return ok, err
		}
	}
	m.record(func() { m.claimedKinds = append(m.claimedKinds, kind) })
	return true, nil
}

func (m *mockStore) ReleaseNotified(ctx context.Context, tripID uuid.UUID, kind trip.Kind) error {
	m.record(func() { m.releasedKinds = append(m.releasedKinds, kind) })
	return nil
}

func (m *mockStore) ClaimCadence(ctx context.Context, tripID uuid.UUID, kind trip.Kind, now time.Time, minInterval time.Duration) (bool, error) {
	if m.claimCadence != nil {
		ok, err := m.claimCadence(kind)
		if !ok || err != nil {
			return ok, err
		}
	}
	m.record(func() { m.claimedKinds = append(m.claimedKinds, kind) })
	return true, nil
}

func (m *mockStore) ReleaseCadence(ctx context.Context, tripID uuid.UUID, kind trip.Kind, prev *time.Time, claimed time.Time) error {
	m.record(func() { m.releasedCadence = append(m.releasedCadence, kind) })
	return nil
}

func (m *mockStore) MarkStarted(ctx context.Context, tripID uuid.UUID) (bool, error) {
	m.record(func() { m.markedStarted++ })
	return true, nil
}

func (m *mockStore) MarkOverdue(ctx context.Context, tripID uuid.UUID) (bool, error) {
	m.record(func() { m.markedOverdue++ })
	return true, nil
}

func (m *mockStore) ClaimOverdueAlert(ctx context.Context, tripID uuid.UUID) (bool, error) {
	if m.claimOverdueAlert != nil {
		return m.claimOverdueAlert()
	}
	m.record(func() { m.claimedKinds = append(m.claimedKinds, trip.KindOverdueAlert) })
	return true, nil
}

func (m *mockStore) ReleaseOverdueAlert(ctx context.Context, tripID uuid.UUID) error {
	m.record(func() { m.overdueReleased++ })
	return nil
}

func (m *mockStore) ClaimParticipantAlert(ctx context.Context, tripID, userID uuid.UUID) (bool, error) {
	m.record(func() { m.participantClaims = append(m.participantClaims, userID) })
	return true, nil
}

func (m *mockStore) ReleaseParticipantAlert(ctx context.Context, tripID, userID uuid.UUID) error {
	return nil
}

func (m *mockStore) CompleteTrip(ctx context.Context, tripID uuid.UUID) (bool, error) {
	m.record(func() { m.completed++ })
	return true, nil
}

func (m *mockStore) MarkRecipientSkipped(ctx context.Context, tripID, contactID uuid.UUID, kind trip.Kind, reason string) error {
	m.record(func() { m.skipped = append(m.skipped, contactID) })
	return nil
}

func (m *mockStore) AppendLog(ctx context.Context, e trip.LogEntry) error {
	m.record(func() { m.logEntries = append(m.logEntries, e) })
	return nil
}

// mockDispatcher records every Deliver call. The results function defaults to
// "every recipient delivered over email".
type mockDispatcher struct {
	mu      sync.Mutex
	calls   []trip.Kind
	results func(kind trip.Kind, recipients []trip.Recipient) []notify.Result
}

var _ Dispatcher = (*mockDispatcher)(nil)

func (d *mockDispatcher) Deliver(ctx context.Context, kind trip.Kind, t trip.Trip, msg notify.Message, recipients []trip.Recipient) []notify.Result {
	d.mu.Lock()
	d.calls = append(d.calls, kind)
	d.mu.Unlock()

	if d.results != nil {
		return d.results(kind, recipients)
	}
	out := make([]notify.Result, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, notify.Result{ContactID: r.ContactID, Channel: "email", Delivered: true})
	}
	return out
}

func (d *mockDispatcher) deliveries() []trip.Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]trip.Kind(nil), d.calls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEvaluator(store *mockStore, dispatcher *mockDispatcher, now time.Time) *Evaluator {
	return NewEvaluator(store, dispatcher, testLogger(),
		WithWorkers(1),
		WithClock(func() time.Time { return now }))
}

// ---- one-shot notifications ------------------------------------------------

func TestRunPass_StartingSoonDeliversOnce(t *testing.T) {
	tr := dueTrip()
	tr.ID = uuid.New()
	store := &mockStore{trips: []trip.Trip{tr}}
	dispatcher := &mockDispatcher{}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 7, 50))
	result := e.RunPass(context.Background())

	assert.Equal(t, 1, result.TripsEvaluated)
	assert.Equal(t, 1, result.Notified)
	assert.Equal(t, []trip.Kind{trip.KindStartingSoon}, store.claimedKinds)
	assert.Equal(t, []trip.Kind{trip.KindStartingSoon}, dispatcher.deliveries())
	assert.Empty(t, store.releasedKinds)
	require.Len(t, result.Results, 1)
	assert.Equal(t, []trip.Kind{trip.KindStartingSoon}, result.Results[0].Fired)
}

func TestRunPass_FlaggedTripDeliversNothing(t *testing.T) {
	tr := dueTrip()
	tr.ID = uuid.New()
	tr.NotifiedStartingSoon = true
	store := &mockStore{trips: []trip.Trip{tr}}
	dispatcher := &mockDispatcher{}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 7, 50))
	result := e.RunPass(context.Background())

	assert.Equal(t, 1, result.TripsEvaluated)
	assert.Zero(t, result.Notified)
	assert.Empty(t, dispatcher.deliveries())
}

func TestRunPass_LostClaimSkipsDelivery(t *testing.T) {
	// Another pass flipped the flag between our read and our claim. The
	// conditional update reports zero rows and delivery must not happen.
	tr := dueTrip()
	tr.ID = uuid.New()
	store := &mockStore{
		trips:         []trip.Trip{tr},
		claimNotified: func(kind trip.Kind) (bool, error) { return false, nil },
	}
	dispatcher := &mockDispatcher{}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 7, 50))
	result := e.RunPass(context.Background())

	assert.Zero(t, result.Notified)
	assert.Empty(t, dispatcher.deliveries())
	assert.Empty(t, store.releasedKinds)
}

func TestRunPass_TotalFailureReleasesClaim(t *testing.T) {
	tr := dueTrip()
	tr.ID = uuid.New()
	store := &mockStore{trips: []trip.Trip{tr}}
	dispatcher := &mockDispatcher{
		results: func(kind trip.Kind, recipients []trip.Recipient) []notify.Result {
			out := make([]notify.Result, 0, len(recipients))
			for _, r := range recipients {
				out = append(out, notify.Result{ContactID: r.ContactID, Channel: "email", Err: context.DeadlineExceeded})
			}
			return out
		},
	}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 7, 50))
	result := e.RunPass(context.Background())

	assert.Zero(t, result.Notified)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []trip.Kind{trip.KindStartingSoon}, store.releasedKinds)
	require.Len(t, result.Results, 1)
	assert.Empty(t, result.Results[0].Fired)
}

func TestRunPass_TripStartedMarksActive(t *testing.T) {
	tr := dueTrip()
	tr.ID = uuid.New()
	tr.NotifiedStartingSoon = true
	store := &mockStore{trips: []trip.Trip{tr}}
	dispatcher := &mockDispatcher{}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 8, 0))
	e.RunPass(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.markedStarted)
	assert.Contains(t, store.claimedKinds, trip.KindTripStarted)
}

// ---- cadence notifications -------------------------------------------------

func TestRunPass_GraceWarningTotalFailureRestoresCadence(t *testing.T) {
	tr := dueTrip()
	tr.ID = uuid.New()
	tr.Status = trip.StatusActive
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true
	tr.NotifiedApproachingETA = true
	tr.NotifiedETAReached = true
	tr.CheckinMinutes = 0

	store := &mockStore{trips: []trip.Trip{tr}}
	dispatcher := &mockDispatcher{
		results: func(kind trip.Kind, recipients []trip.Recipient) []notify.Result {
			return []notify.Result{{ContactID: recipients[0].ContactID, Channel: "push", Err: context.DeadlineExceeded}}
		},
	}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 18, 30))
	e.RunPass(context.Background())

	assert.Equal(t, []trip.Kind{trip.KindGraceWarning}, store.claimedKinds)
	assert.Equal(t, []trip.Kind{trip.KindGraceWarning}, store.releasedCadence)
}

// ---- overdue alerts --------------------------------------------------------

func overdueTrip() trip.Trip {
	tr := dueTrip()
	tr.ID = uuid.New()
	tr.Status = trip.StatusActive
	tr.NotifiedStartingSoon = true
	tr.NotifiedTripStarted = true
	tr.NotifiedApproachingETA = true
	tr.NotifiedETAReached = true
	tr.CheckinMinutes = 0
	return tr
}

func TestRunPass_OverdueAlertGoesToContacts(t *testing.T) {
	tr := overdueTrip()
	contactA, contactB := uuid.New(), uuid.New()
	store := &mockStore{
		trips: []trip.Trip{tr},
		recipients: func(kind trip.Kind) ([]trip.Recipient, error) {
			return []trip.Recipient{
				{ContactID: contactA, Name: "A", Email: "a@example.com"},
				{ContactID: contactB, Name: "B", Email: "b@example.com"},
			}, nil
		},
	}
	dispatcher := &mockDispatcher{}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 19, 0))
	result := e.RunPass(context.Background())

	assert.Equal(t, 1, store.markedOverdue)
	assert.Equal(t, []trip.Kind{trip.KindOverdueAlert}, dispatcher.deliveries())
	assert.Equal(t, 2, result.Notified)
	assert.Zero(t, store.overdueReleased)
	assert.Len(t, store.logEntries, 2)
}

func TestRunPass_CheckoutWinsOverdueRace(t *testing.T) {
	// The owner checked out between the alert claim and dispatch. The status
	// re-read sees the terminal state and the alert never goes out.
	tr := overdueTrip()
	store := &mockStore{
		trips:     []trip.Trip{tr},
		getStatus: func() (trip.Status, error) { return trip.StatusCompleted, nil },
	}
	dispatcher := &mockDispatcher{}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 19, 0))
	result := e.RunPass(context.Background())

	assert.Empty(t, dispatcher.deliveries())
	assert.Zero(t, result.Notified)
}

func TestRunPass_OverdueTotalFailureReleasesAlert(t *testing.T) {
	tr := overdueTrip()
	store := &mockStore{trips: []trip.Trip{tr}}
	dispatcher := &mockDispatcher{
		results: func(kind trip.Kind, recipients []trip.Recipient) []notify.Result {
			return []notify.Result{{ContactID: recipients[0].ContactID, Channel: "email", Err: context.DeadlineExceeded}}
		},
	}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 19, 0))
	e.RunPass(context.Background())

	assert.Equal(t, 1, store.overdueReleased)
}

func TestRunPass_PermanentFailureMarksRecipientSkipped(t *testing.T) {
	tr := overdueTrip()
	good, bad := uuid.New(), uuid.New()
	store := &mockStore{
		trips: []trip.Trip{tr},
		recipients: func(kind trip.Kind) ([]trip.Recipient, error) {
			return []trip.Recipient{
				{ContactID: good, Email: "good@example.com"},
				{ContactID: bad, Email: "bad@example.com"},
			}, nil
		},
	}
	dispatcher := &mockDispatcher{
		results: func(kind trip.Kind, recipients []trip.Recipient) []notify.Result {
			return []notify.Result{
				{ContactID: good, Channel: "email", Delivered: true},
				{ContactID: bad, Channel: "email", Permanent: true, Err: notify.ErrPermanent},
			}
		},
	}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 19, 0))
	result := e.RunPass(context.Background())

	// One success means the claim stands; the hard bounce is recorded as a
	// permanent skip so the recipient is excluded next time.
	assert.Equal(t, 1, result.Notified)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, store.overdueReleased)
	assert.Equal(t, []uuid.UUID{bad}, store.skipped)
}

// ---- group trips -----------------------------------------------------------

func TestRunPass_QuorumCompletesTripWithoutAlerts(t *testing.T) {
	tr := overdueTrip()
	tr.IsGroup = true
	tr.CheckoutRule = trip.CheckoutQuorumVote
	tr.QuorumVotes = 2

	at := naive(2026, time.June, 1, 18, 0)
	store := &mockStore{
		trips: []trip.Trip{tr},
		participants: func() ([]trip.Participant, error) {
			return []trip.Participant{
				{UserID: uuid.New(), VotedEndAt: &at},
				{UserID: uuid.New(), VotedEndAt: &at},
				{UserID: uuid.New()},
			}, nil
		},
	}
	dispatcher := &mockDispatcher{}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 19, 0))
	e.RunPass(context.Background())

	assert.Equal(t, 1, store.completed)
	assert.Empty(t, dispatcher.deliveries())
	assert.Zero(t, store.markedOverdue)
}

func TestRunPass_ParticipantAlertsSkipCheckedOutMembers(t *testing.T) {
	tr := overdueTrip()
	tr.IsGroup = true
	tr.CheckoutRule = trip.CheckoutOwnerOnly
	tr.OverdueAlertSent = true // trip-level alert already went out

	active, out := uuid.New(), uuid.New()
	checkedOut := naive(2026, time.June, 1, 18, 30)
	store := &mockStore{
		trips: []trip.Trip{tr},
		participants: func() ([]trip.Participant, error) {
			return []trip.Participant{
				{UserID: active},
				{UserID: out, CheckedOutAt: &checkedOut},
			}, nil
		},
		emergencyContacts: func(userID uuid.UUID) ([]trip.Recipient, error) {
			return []trip.Recipient{{ContactID: uuid.New(), Email: "contact@example.com"}}, nil
		},
	}
	dispatcher := &mockDispatcher{}

	e := newTestEvaluator(store, dispatcher, naive(2026, time.June, 1, 19, 0))
	e.RunPass(context.Background())

	assert.Equal(t, []uuid.UUID{active}, store.participantClaims)
	assert.Equal(t, []trip.Kind{trip.KindOverdueAlert}, dispatcher.deliveries())
}
