package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farepact/farepact/internal/ride"
)

func newRide(passengerID uuid.UUID) *ride.Ride {
	return &ride.Ride{
		ID:           uuid.New(),
		PassengerID:  passengerID,
		Status:       ride.StatusSearching,
		Fare:         12.50,
		OriginalFare: 12.50,
		CurrencyCode: "USD",
	}
}

func TestCreateAndGet(t *testing.T) {
	store := New()
	ctx := context.Background()

	r := newRide(uuid.New())
	require.NoError(t, store.Create(ctx, r))

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, ride.StatusSearching, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ride.ErrNotFound)
}

func TestApplyTransitionGuard(t *testing.T) {
	store := New()
	ctx := context.Background()
	driverID := uuid.New()

	r := newRide(uuid.New())
	require.NoError(t, store.Create(ctx, r))

	fare := r.Fare
	accepted, err := store.ApplyTransition(ctx, r.ID, ride.StatusSearching, ride.Change{
		Status:      ride.StatusAccepted,
		BindDriver:  &driverID,
		AgreedPrice: &fare,
	})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.DriverID)
	assert.Equal(t, driverID, *accepted.DriverID)
	require.NotNil(t, accepted.AgreedPrice)
	assert.Equal(t, fare, *accepted.AgreedPrice)
	assert.NotNil(t, accepted.AcceptedAt)

	// A second accept against the stale searching status must fail and
	// report the true current status.
	otherDriver := uuid.New()
	_, err = store.ApplyTransition(ctx, r.ID, ride.StatusSearching, ride.Change{
		Status:     ride.StatusAccepted,
		BindDriver: &otherDriver,
	})
	var stale *ride.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, ride.StatusAccepted, stale.Current)
	assert.Equal(t, r.ID, stale.RideID)
}

func TestConcurrentAcceptsBindExactlyOneDriver(t *testing.T) {
	store := New()
	ctx := context.Background()

	r := newRide(uuid.New())
	require.NoError(t, store.Create(ctx, r))

	const drivers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []uuid.UUID
	staleCount := 0

	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			driverID := uuid.New()
			fare := 12.50
			_, err := store.ApplyTransition(ctx, r.ID, ride.StatusSearching, ride.Change{
				Status:      ride.StatusAccepted,
				BindDriver:  &driverID,
				AgreedPrice: &fare,
			})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, driverID)
			} else if ride.IsStale(err) {
				staleCount++
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one driver must win the race")
	assert.Equal(t, drivers-1, staleCount)

	final, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, final.DriverID)
	assert.Equal(t, winners[0], *final.DriverID)
}

func TestSetRatingGuards(t *testing.T) {
	store := New()
	ctx := context.Background()
	driverID := uuid.New()

	r := newRide(uuid.New())
	require.NoError(t, store.Create(ctx, r))

	_, err := store.SetRating(ctx, r.ID, ride.RolePassenger, 5, nil)
	assert.Error(t, err, "rating before completion must fail")

	for _, step := range []ride.Status{ride.StatusAccepted, ride.StatusArrived, ride.StatusInProgress, ride.StatusCompleted} {
		prev, getErr := store.Get(ctx, r.ID)
		require.NoError(t, getErr)
		_, err = store.ApplyTransition(ctx, r.ID, prev.Status, ride.Change{Status: step, BindDriver: &driverID})
		require.NoError(t, err)
	}

	feedback := "smooth trip"
	rated, err := store.SetRating(ctx, r.ID, ride.RolePassenger, 5, &feedback)
	require.NoError(t, err)
	require.NotNil(t, rated.PassengerRating)
	assert.Equal(t, 5, *rated.PassengerRating)
	assert.Equal(t, ride.StatusCompleted, rated.Status)

	_, err = store.SetRating(ctx, r.ID, ride.RolePassenger, 1, nil)
	assert.Error(t, err, "ratings are set once per role")

	_, err = store.SetRating(ctx, r.ID, ride.RoleDriver, 4, nil)
	assert.NoError(t, err, "the other role still gets its rating")
}

func TestActiveLookups(t *testing.T) {
	store := New()
	ctx := context.Background()
	passengerID := uuid.New()
	driverID := uuid.New()

	active, err := store.ActiveForPassenger(ctx, passengerID)
	require.NoError(t, err)
	assert.Nil(t, active)

	r := newRide(passengerID)
	require.NoError(t, store.Create(ctx, r))

	active, err = store.ActiveForPassenger(ctx, passengerID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, r.ID, active.ID)

	active, err = store.ActiveForDriver(ctx, driverID)
	require.NoError(t, err)
	assert.Nil(t, active)

	fare := r.Fare
	_, err = store.ApplyTransition(ctx, r.ID, ride.StatusSearching, ride.Change{
		Status:      ride.StatusAccepted,
		BindDriver:  &driverID,
		AgreedPrice: &fare,
	})
	require.NoError(t, err)

	active, err = store.ActiveForDriver(ctx, driverID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, r.ID, active.ID)

	role := ride.RoleDriver
	code := "vehicle_issue"
	_, err = store.ApplyTransition(ctx, r.ID, ride.StatusAccepted, ride.Change{
		Status:           ride.StatusCancelled,
		CancelledBy:      &role,
		CancellationCode: &code,
	})
	require.NoError(t, err)

	active, err = store.ActiveForPassenger(ctx, passengerID)
	require.NoError(t, err)
	assert.Nil(t, active, "terminal rides are not active")
}

func TestListOpenOrdersOldestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	store.SetClock(func() time.Time { return clock })

	var created []uuid.UUID
	for i := 0; i < 3; i++ {
		r := newRide(uuid.New())
		require.NoError(t, store.Create(ctx, r))
		created = append(created, r.ID)
		clock = clock.Add(time.Minute)
	}

	// A bound ride is not open.
	driverID := uuid.New()
	_, err := store.ApplyTransition(ctx, created[1], ride.StatusSearching, ride.Change{
		Status:     ride.StatusAccepted,
		BindDriver: &driverID,
	})
	require.NoError(t, err)

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, created[0], open[0].ID)
	assert.Equal(t, created[2], open[1].ID)
}

func TestListByPassengerPagination(t *testing.T) {
	store := New()
	ctx := context.Background()
	passengerID := uuid.New()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	store.SetClock(func() time.Time { return clock })

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		r := newRide(passengerID)
		require.NoError(t, store.Create(ctx, r))
		ids = append(ids, r.ID)
		clock = clock.Add(time.Minute)
	}

	page, err := store.ListByPassenger(ctx, passengerID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID, "newest first")
	assert.Equal(t, ids[3], page[1].ID)

	page, err = store.ListByPassenger(ctx, passengerID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	page, err = store.ListByPassenger(ctx, passengerID, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestSubscribeObservesCommittedWrites(t *testing.T) {
	store := New()
	ctx := context.Background()

	sub := store.Subscribe(func(r *ride.Ride) bool { return r.Status == ride.StatusAccepted })
	defer sub.Close()

	r := newRide(uuid.New())
	require.NoError(t, store.Create(ctx, r))

	driverID := uuid.New()
	_, err := store.ApplyTransition(ctx, r.ID, ride.StatusSearching, ride.Change{
		Status:     ride.StatusAccepted,
		BindDriver: &driverID,
	})
	require.NoError(t, err)

	select {
	case got := <-sub.C:
		assert.Equal(t, r.ID, got.ID)
		assert.Equal(t, ride.StatusAccepted, got.Status)
	case <-time.After(time.Second):
		t.Fatal("expected accepted write on subscription")
	}
}
