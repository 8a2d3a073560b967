package candidate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farepact/farepact/internal/ride"
	"github.com/farepact/farepact/internal/ride/memstore"
)

const noExpiry = 0

func createRide(t *testing.T, store *memstore.Store, passengerID uuid.UUID) *ride.Ride {
	t.Helper()
	r := &ride.Ride{
		ID:           uuid.New(),
		PassengerID:  passengerID,
		Status:       ride.StatusSearching,
		Fare:         10,
		OriginalFare: 10,
		CurrencyCode: "USD",
	}
	require.NoError(t, store.Create(context.Background(), r))
	return r
}

func startSession(t *testing.T, store *memstore.Store, driverID uuid.UUID, window time.Duration) (*Session, context.CancelFunc) {
	t.Helper()
	session := NewSession(driverID, store, window)
	ctx, cancel := context.WithCancel(context.Background())
	go session.Run(ctx)
	return session, cancel
}

func nextEvent(t *testing.T, session *Session) Event {
	t.Helper()
	select {
	case e, ok := <-session.Events():
		require.True(t, ok, "events channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, session *Session, wait time.Duration) {
	t.Helper()
	select {
	case e := <-session.Events():
		t.Fatalf("unexpected event %s for ride %s", e.Type, e.Ride.ID)
	case <-time.After(wait):
	}
}

func TestSessionSurfacesOldestFirst(t *testing.T) {
	store := memstore.New()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	store.SetClock(func() time.Time { return clock })

	first := createRide(t, store, uuid.New())
	clock = clock.Add(time.Minute)
	second := createRide(t, store, uuid.New())
	clock = clock.Add(time.Minute)
	third := createRide(t, store, uuid.New())

	driverID := uuid.New()
	session, cancel := startSession(t, store, driverID, noExpiry)
	defer cancel()

	e := nextEvent(t, session)
	assert.Equal(t, EventSurfaced, e.Type)
	assert.Equal(t, first.ID, e.Ride.ID)

	// Rejection advances to the next oldest; only one surfaced at a time.
	require.NoError(t, session.Reject(context.Background(), first.ID))
	e = nextEvent(t, session)
	assert.Equal(t, EventSurfaced, e.Type)
	assert.Equal(t, second.ID, e.Ride.ID)

	require.NoError(t, session.Reject(context.Background(), second.ID))
	e = nextEvent(t, session)
	assert.Equal(t, third.ID, e.Ride.ID)
}

func TestSessionWithdrawsWhenAnotherDriverWins(t *testing.T) {
	store := memstore.New()
	r := createRide(t, store, uuid.New())

	session, cancel := startSession(t, store, uuid.New(), noExpiry)
	defer cancel()

	e := nextEvent(t, session)
	require.Equal(t, EventSurfaced, e.Type)
	require.Equal(t, r.ID, e.Ride.ID)

	winner := uuid.New()
	_, err := store.ApplyTransition(context.Background(), r.ID, ride.StatusSearching, ride.Change{
		Status:     ride.StatusAccepted,
		BindDriver: &winner,
	})
	require.NoError(t, err)

	e = nextEvent(t, session)
	assert.Equal(t, EventWithdrawn, e.Type)
	assert.Equal(t, r.ID, e.Ride.ID)
}

func TestSessionRejectionIsLocal(t *testing.T) {
	store := memstore.New()
	r := createRide(t, store, uuid.New())

	driverA := uuid.New()
	driverB := uuid.New()

	sessionA, cancelA := startSession(t, store, driverA, noExpiry)
	defer cancelA()
	sessionB, cancelB := startSession(t, store, driverB, noExpiry)
	defer cancelB()

	eA := nextEvent(t, sessionA)
	require.Equal(t, r.ID, eA.Ride.ID)
	eB := nextEvent(t, sessionB)
	require.Equal(t, r.ID, eB.Ride.ID)

	// Driver A passing does not dim the ride for driver B.
	require.NoError(t, sessionA.Reject(context.Background(), r.ID))
	assertNoEvent(t, sessionB, 100*time.Millisecond)

	// Driver B can still surface new state for the same ride.
	newRide := createRide(t, store, uuid.New())
	eB = nextEvent(t, sessionB)
	assert.Equal(t, EventSurfaced, eB.Type)
	assert.Equal(t, newRide.ID, eB.Ride.ID)

	// Driver A skips the rejected ride and surfaces the new one.
	eA = nextEvent(t, sessionA)
	assert.Equal(t, EventSurfaced, eA.Type)
	assert.Equal(t, newRide.ID, eA.Ride.ID)
}

func TestSessionCountdownExpiry(t *testing.T) {
	store := memstore.New()
	r := createRide(t, store, uuid.New())

	session, cancel := startSession(t, store, uuid.New(), 30*time.Millisecond)
	defer cancel()

	e := nextEvent(t, session)
	require.Equal(t, EventSurfaced, e.Type)
	require.NotNil(t, e.ExpiresAt, "searching candidates carry a deadline")

	e = nextEvent(t, session)
	assert.Equal(t, EventExpired, e.Type)
	assert.Equal(t, r.ID, e.Ride.ID)

	// Expired rides never resurface in this session.
	assertNoEvent(t, session, 100*time.Millisecond)

	// But the ride itself is untouched in the store.
	current, err := store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusSearching, current.Status)
}

func TestSessionExpiryAdvancesQueue(t *testing.T) {
	store := memstore.New()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	store.SetClock(func() time.Time { return clock })

	first := createRide(t, store, uuid.New())
	clock = clock.Add(time.Minute)
	second := createRide(t, store, uuid.New())

	session, cancel := startSession(t, store, uuid.New(), 30*time.Millisecond)
	defer cancel()

	e := nextEvent(t, session)
	require.Equal(t, first.ID, e.Ride.ID)

	e = nextEvent(t, session)
	require.Equal(t, EventExpired, e.Type)

	// The second ride gets a fresh full window anchored at its surfacing.
	e = nextEvent(t, session)
	assert.Equal(t, EventSurfaced, e.Type)
	assert.Equal(t, second.ID, e.Ride.ID)
	assert.NotNil(t, e.ExpiresAt)
}

func TestSessionHoldsCounterOfferWithoutCountdown(t *testing.T) {
	store := memstore.New()
	r := createRide(t, store, uuid.New())

	driverID := uuid.New()
	session, cancel := startSession(t, store, driverID, 50*time.Millisecond)
	defer cancel()

	e := nextEvent(t, session)
	require.Equal(t, EventSurfaced, e.Type)

	// The driver counter-offers: the ride is now held for them and the
	// countdown stops.
	amount := 13.0
	_, err := store.ApplyTransition(context.Background(), r.ID, ride.StatusSearching, ride.Change{
		Status:  ride.StatusCounterOffered,
		OfferTo: &driverID,
		Fare:    &amount,
	})
	require.NoError(t, err)

	// Well past the window: no expiry fires while the passenger decides.
	assertNoEvent(t, session, 150*time.Millisecond)
}

func TestSessionHidesCounterOfferHeldForOtherDriver(t *testing.T) {
	store := memstore.New()
	r := createRide(t, store, uuid.New())

	otherDriver := uuid.New()
	session, cancel := startSession(t, store, uuid.New(), noExpiry)
	defer cancel()

	e := nextEvent(t, session)
	require.Equal(t, EventSurfaced, e.Type)

	amount := 13.0
	_, err := store.ApplyTransition(context.Background(), r.ID, ride.StatusSearching, ride.Change{
		Status:  ride.StatusCounterOffered,
		OfferTo: &otherDriver,
		Fare:    &amount,
	})
	require.NoError(t, err)

	e = nextEvent(t, session)
	assert.Equal(t, EventWithdrawn, e.Type)
	assert.Equal(t, r.ID, e.Ride.ID)
}

func TestManagerLifecycle(t *testing.T) {
	store := memstore.New()
	manager := NewManager(store, time.Second)
	driverID := uuid.New()

	session := manager.Start(context.Background(), driverID)
	require.NotNil(t, session)
	assert.Equal(t, session, manager.Get(driverID))
	assert.Equal(t, 1, manager.Count())

	// Reconnect replaces the session and resets its state.
	replacement := manager.Start(context.Background(), driverID)
	assert.NotEqual(t, session, replacement)

	manager.Stop(driverID)
	assert.Nil(t, manager.Get(driverID))

	require.Eventually(t, func() bool { return manager.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSessionPausesWhileDriverUnavailable(t *testing.T) {
	store := memstore.New()
	driverID := uuid.New()

	first := createRide(t, store, uuid.New())

	session, cancel := startSession(t, store, driverID, 100*time.Millisecond)
	defer cancel()

	e := nextEvent(t, session)
	require.Equal(t, EventSurfaced, e.Type)
	require.Equal(t, first.ID, e.Ride.ID)

	require.NoError(t, session.SetAvailable(context.Background(), false))

	e = nextEvent(t, session)
	assert.Equal(t, EventWithdrawn, e.Type)
	assert.Equal(t, first.ID, e.Ride.ID)

	// The countdown is stopped too, so its expiry never rejects the ride
	// behind the driver's back.
	assertNoEvent(t, session, 250*time.Millisecond)

	// New rides queue silently while the driver is away.
	second := createRide(t, store, uuid.New())
	assertNoEvent(t, session, 50*time.Millisecond)

	require.NoError(t, session.SetAvailable(context.Background(), true))

	e = nextEvent(t, session)
	assert.Equal(t, EventSurfaced, e.Type)
	assert.Equal(t, first.ID, e.Ride.ID, "held candidate resurfaces first")
	require.NotNil(t, e.ExpiresAt)

	require.NoError(t, session.Reject(context.Background(), first.ID))
	e = nextEvent(t, session)
	require.Equal(t, EventSurfaced, e.Type)
	assert.Equal(t, second.ID, e.Ride.ID)
}

func TestManagerReconnectOutlivesStaleDisconnect(t *testing.T) {
	store := memstore.New()
	manager := NewManager(store, time.Second)
	driverID := uuid.New()

	first := manager.Start(context.Background(), driverID)
	second := manager.Start(context.Background(), driverID)

	// The old connection's read pump exits after the replacement session is
	// already running; its deferred teardown must not kill the new session.
	manager.StopSession(driverID, first)
	assert.Equal(t, second, manager.Get(driverID))

	manager.StopSession(driverID, second)
	assert.Nil(t, manager.Get(driverID))
	require.Eventually(t, func() bool { return manager.Count() == 0 }, time.Second, 10*time.Millisecond)
}
