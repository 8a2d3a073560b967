package negotiation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farepact/farepact/internal/cancellation"
	"github.com/farepact/farepact/internal/pricing"
	"github.com/farepact/farepact/internal/ride"
	"github.com/farepact/farepact/internal/ride/memstore"
)

// stubPresence marks every driver available unless listed.
type stubPresence struct {
	mu          sync.Mutex
	unavailable map[uuid.UUID]bool
}

func newStubPresence() *stubPresence {
	return &stubPresence{unavailable: make(map[uuid.UUID]bool)}
}

func (p *stubPresence) IsAvailable(_ context.Context, driverID uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unavailable[driverID], nil
}

func (p *stubPresence) setUnavailable(driverID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable[driverID] = true
}

type fixture struct {
	store    *memstore.Store
	presence *stubPresence
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	quoter := pricing.NewQuoter(0.7, 1.5, "USD")
	// Pin the quote multiplier to off-peak for deterministic fares.
	quoter.SetClock(func() time.Time {
		return time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	})
	presence := newStubPresence()

	service := NewService(store, quoter, presence, cancellation.NewCatalog(), "USD")
	return &fixture{store: store, presence: presence, service: service}
}

func testTrip() *CreateRideRequest {
	return &CreateRideRequest{
		Pickup:  ride.Location{Latitude: 37.7749, Longitude: -122.4194, Address: "Market St"},
		Dropoff: ride.Location{Latitude: 37.8044, Longitude: -122.2712, Address: "Broadway"},
	}
}

func TestCreateRideQuotesAndOpensSearch(t *testing.T) {
	f := newFixture(t)
	passengerID := uuid.New()

	r, err := f.service.CreateRide(context.Background(), passengerID, testTrip())
	require.NoError(t, err)

	assert.Equal(t, ride.StatusSearching, r.Status)
	assert.Equal(t, passengerID, r.PassengerID)
	assert.Nil(t, r.DriverID)
	assert.Greater(t, r.Fare, 0.0)
	assert.Equal(t, r.Fare, r.OriginalFare)
	assert.Nil(t, r.AgreedPrice)
	assert.Greater(t, r.EstimatedDistanceKm, 0.0)
	assert.Equal(t, "USD", r.CurrencyCode)
}

func TestCreateRideRejectsSecondActiveRide(t *testing.T) {
	f := newFixture(t)
	passengerID := uuid.New()
	ctx := context.Background()

	_, err := f.service.CreateRide(ctx, passengerID, testTrip())
	require.NoError(t, err)

	_, err = f.service.CreateRide(ctx, passengerID, testTrip())
	var notEligible *ride.NotEligibleError
	require.ErrorAs(t, err, &notEligible)
}

func TestCreateRideProposedFareBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quoted, err := f.service.CreateRide(ctx, uuid.New(), testTrip())
	require.NoError(t, err)

	// In bounds: opens at the passenger's price.
	inBounds := quoted.OriginalFare * 0.8
	req := testTrip()
	req.ProposedFare = &inBounds
	r, err := f.service.CreateRide(ctx, uuid.New(), req)
	require.NoError(t, err)
	assert.Equal(t, inBounds, r.Fare)
	assert.Equal(t, quoted.OriginalFare, r.OriginalFare)

	// Below the floor.
	tooLow := quoted.OriginalFare * 0.5
	req = testTrip()
	req.ProposedFare = &tooLow
	_, err = f.service.CreateRide(ctx, uuid.New(), req)
	var invalid *ride.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "proposed_fare", invalid.Field)
}

func TestAcceptRideBindsDriverAtCurrentFare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driverID := uuid.New()

	r, err := f.service.CreateRide(ctx, uuid.New(), testTrip())
	require.NoError(t, err)

	accepted, err := f.service.AcceptRide(ctx, r.ID, driverID)
	require.NoError(t, err)

	assert.Equal(t, ride.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.DriverID)
	assert.Equal(t, driverID, *accepted.DriverID)
	require.NotNil(t, accepted.AgreedPrice)
	assert.Equal(t, r.Fare, *accepted.AgreedPrice)
}

func TestAcceptRideRefusesUnavailableDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driverID := uuid.New()
	f.presence.setUnavailable(driverID)

	r, err := f.service.CreateRide(ctx, uuid.New(), testTrip())
	require.NoError(t, err)

	_, err = f.service.AcceptRide(ctx, r.ID, driverID)
	var notEligible *ride.NotEligibleError
	require.ErrorAs(t, err, &notEligible)

	// The refusal never touched the record.
	current, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusSearching, current.Status)
}

func TestAcceptRideRefusesBusyDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driverID := uuid.New()

	first, err := f.service.CreateRide(ctx, uuid.New(), testTrip())
	require.NoError(t, err)
	_, err = f.service.AcceptRide(ctx, first.ID, driverID)
	require.NoError(t, err)

	second, err := f.service.CreateRide(ctx, uuid.New(), testTrip())
	require.NoError(t, err)

	_, err = f.service.AcceptRide(ctx, second.ID, driverID)
	var notEligible *ride.NotEligibleError
	require.ErrorAs(t, err, &notEligible)
}

func TestConcurrentAcceptsExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.service.CreateRide(ctx, uuid.New(), testTrip())
	require.NoError(t, err)

	const drivers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	stale := 0

	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.AcceptRide(ctx, r.ID, uuid.New())

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case ride.IsStale(err):
				stale++
			default:
				// A NotEligibleError here would mean a driver observed the
				// winner's binding before racing; also acceptable, but the
				// fixture gives every driver a clean slate so it should not
				// happen.
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one driver wins")
	assert.Equal(t, drivers-1, stale, "losers observe the stale state")
}

func TestCounterOfferLifecycleAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	passengerID := uuid.New()
	driverID := uuid.New()

	r, err := f.service.CreateRide(ctx, passengerID, testTrip())
	require.NoError(t, err)

	amount := r.OriginalFare * 1.3
	offered, err := f.service.ProposeCounterOffer(ctx, r.ID, driverID, amount)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCounterOffered, offered.Status)
	require.NotNil(t, offered.OfferedTo)
	assert.Equal(t, driverID, *offered.OfferedTo)
	assert.Equal(t, amount, offered.Fare)
	assert.Nil(t, offered.DriverID, "a counter-offer does not bind")

	// While held, no other driver can take the ride.
	_, err = f.service.AcceptRide(ctx, r.ID, uuid.New())
	require.Error(t, err)
	assert.True(t, ride.IsStale(err))

	resolved, err := f.service.ResolveCounterOffer(ctx, r.ID, passengerID, true)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusAccepted, resolved.Status)
	require.NotNil(t, resolved.DriverID)
	assert.Equal(t, driverID, *resolved.DriverID)
	assert.Nil(t, resolved.OfferedTo)
	require.NotNil(t, resolved.AgreedPrice)
	assert.Equal(t, amount, *resolved.AgreedPrice, "agreed price is the proposed amount")
}

func TestCounterOfferDeclinedCancelsRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	passengerID := uuid.New()

	r, err := f.service.CreateRide(ctx, passengerID, testTrip())
	require.NoError(t, err)

	_, err = f.service.ProposeCounterOffer(ctx, r.ID, uuid.New(), r.OriginalFare*1.2)
	require.NoError(t, err)

	declined, err := f.service.ResolveCounterOffer(ctx, r.ID, passengerID, false)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCancelled, declined.Status)
	assert.Nil(t, declined.OfferedTo)
	assert.Nil(t, declined.DriverID)
	require.NotNil(t, declined.CancellationCode)
	assert.Equal(t, string(cancellation.CodeCounterOfferDeclined), *declined.CancellationCode)

	// The passenger is free to request again.
	_, err = f.service.CreateRide(ctx, passengerID, testTrip())
	assert.NoError(t, err)
}

func TestCounterOfferOutOfBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.service.CreateRide(ctx, uuid.New(), testTrip())
	require.NoError(t, err)

	_, err = f.service.ProposeCounterOffer(ctx, r.ID, uuid.New(), r.OriginalFare*2.0)
	var invalid *ride.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "amount", invalid.Field)

	_, err = f.service.ProposeCounterOffer(ctx, r.ID, uuid.New(), r.OriginalFare*0.5)
	require.ErrorAs(t, err, &invalid)
}

func TestResolveCounterOfferOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.service.CreateRide(ctx, uuid.New(), testTrip())
	require.NoError(t, err)
	_, err = f.service.ProposeCounterOffer(ctx, r.ID, uuid.New(), r.OriginalFare*1.2)
	require.NoError(t, err)

	_, err = f.service.ResolveCounterOffer(ctx, r.ID, uuid.New(), true)
	var notEligible *ride.NotEligibleError
	require.ErrorAs(t, err, &notEligible)
}

func TestAdvanceStatusFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driverID := uuid.New()

	r, err := f.service.CreateRide(ctx, uuid.New(), testTrip())
	require.NoError(t, err)
	accepted, err := f.service.AcceptRide(ctx, r.ID, driverID)
	require.NoError(t, err)

	arrived, err := f.service.AdvanceStatus(ctx, r.ID, driverID, ride.StatusArrived)
	require.NoError(t, err)
	assert.NotNil(t, arrived.ArrivedAt)

	inProgress, err := f.service.AdvanceStatus(ctx, r.ID, driverID, ride.StatusInProgress)
	require.NoError(t, err)
	assert.NotNil(t, inProgress.StartedAt)

	completed, err := f.service.AdvanceStatus(ctx, r.ID, driverID, ride.StatusCompleted)
	require.NoError(t, err)
	assert.NotNil(t, completed.CompletedAt)
	require.NotNil(t, completed.AgreedPrice)
	assert.Equal(t, *accepted.AgreedPrice, *completed.AgreedPrice, "price fixed at acceptance never drifts")
}

func TestAdvanceStatusGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driverID := uuid.New()

	r, err := f.service.CreateRide(ctx, uuid.New(), testTrip())
	require.NoError(t, err)
	_, err = f.service.AcceptRide(ctx, r.ID, driverID)
	require.NoError(t, err)

	// Only the bound driver advances.
	_, err = f.service.AdvanceStatus(ctx, r.ID, uuid.New(), ride.StatusArrived)
	var notEligible *ride.NotEligibleError
	require.ErrorAs(t, err, &notEligible)

	// No skipping steps.
	_, err = f.service.AdvanceStatus(ctx, r.ID, driverID, ride.StatusCompleted)
	var invalid *ride.ValidationError
	require.ErrorAs(t, err, &invalid)

	// Never backwards or sideways.
	_, err = f.service.AdvanceStatus(ctx, r.ID, driverID, ride.StatusCancelled)
	require.ErrorAs(t, err, &invalid)
}

func TestCancelRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	passengerID := uuid.New()
	driverID := uuid.New()

	r, err := f.service.CreateRide(ctx, passengerID, testTrip())
	require.NoError(t, err)

	// Unknown reason code.
	_, err = f.service.CancelRide(ctx, r.ID, passengerID, ride.RolePassenger, &CancelRideRequest{ReasonCode: "bogus"})
	var invalid *ride.ValidationError
	require.ErrorAs(t, err, &invalid)

	// Driver reason codes are not valid for passengers.
	_, err = f.service.CancelRide(ctx, r.ID, passengerID, ride.RolePassenger, &CancelRideRequest{ReasonCode: "vehicle_issue"})
	require.ErrorAs(t, err, &invalid)

	// A stranger cannot cancel.
	_, err = f.service.CancelRide(ctx, r.ID, uuid.New(), ride.RolePassenger, &CancelRideRequest{ReasonCode: "changed_mind"})
	var notEligible *ride.NotEligibleError
	require.ErrorAs(t, err, &notEligible)

	// The driver cancels mid-ride.
	_, err = f.service.AcceptRide(ctx, r.ID, driverID)
	require.NoError(t, err)

	note := "flat tire"
	cancelled, err := f.service.CancelRide(ctx, r.ID, driverID, ride.RoleDriver, &CancelRideRequest{
		ReasonCode: "vehicle_issue",
		Note:       &note,
	})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, ride.RoleDriver, *cancelled.CancelledBy)
	require.NotNil(t, cancelled.CancellationNote)
	assert.Equal(t, note, *cancelled.CancellationNote)

	// Terminal rides cannot be cancelled again.
	_, err = f.service.CancelRide(ctx, r.ID, passengerID, ride.RolePassenger, &CancelRideRequest{ReasonCode: "changed_mind"})
	assert.True(t, ride.IsStale(err))
}

func TestSubmitRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	passengerID := uuid.New()
	driverID := uuid.New()

	r, err := f.service.CreateRide(ctx, passengerID, testTrip())
	require.NoError(t, err)
	_, err = f.service.AcceptRide(ctx, r.ID, driverID)
	require.NoError(t, err)

	// Not completed yet.
	_, err = f.service.SubmitRating(ctx, r.ID, passengerID, ride.RolePassenger, 5, nil)
	var notEligible *ride.NotEligibleError
	require.ErrorAs(t, err, &notEligible)

	for _, step := range []ride.Status{ride.StatusArrived, ride.StatusInProgress, ride.StatusCompleted} {
		_, err = f.service.AdvanceStatus(ctx, r.ID, driverID, step)
		require.NoError(t, err)
	}

	// Out of range.
	_, err = f.service.SubmitRating(ctx, r.ID, passengerID, ride.RolePassenger, 6, nil)
	var invalid *ride.ValidationError
	require.ErrorAs(t, err, &invalid)

	rated, err := f.service.SubmitRating(ctx, r.ID, passengerID, ride.RolePassenger, 5, nil)
	require.NoError(t, err)
	require.NotNil(t, rated.PassengerRating)

	// Set once.
	_, err = f.service.SubmitRating(ctx, r.ID, passengerID, ride.RolePassenger, 1, nil)
	require.ErrorAs(t, err, &notEligible)

	// Both sides rate independently.
	_, err = f.service.SubmitRating(ctx, r.ID, driverID, ride.RoleDriver, 4, nil)
	assert.NoError(t, err)
}

func TestCurrentRideAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	passengerID := uuid.New()
	driverID := uuid.New()

	current, err := f.service.CurrentRide(ctx, passengerID, ride.RolePassenger)
	require.NoError(t, err)
	assert.Nil(t, current)

	r, err := f.service.CreateRide(ctx, passengerID, testTrip())
	require.NoError(t, err)

	current, err = f.service.CurrentRide(ctx, passengerID, ride.RolePassenger)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, r.ID, current.ID)

	_, err = f.service.AcceptRide(ctx, r.ID, driverID)
	require.NoError(t, err)

	current, err = f.service.CurrentRide(ctx, driverID, ride.RoleDriver)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, r.ID, current.ID)

	history, err := f.service.History(ctx, passengerID, ride.RolePassenger, 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestGetRideVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	passengerID := uuid.New()
	driverID := uuid.New()

	r, err := f.service.CreateRide(ctx, passengerID, testTrip())
	require.NoError(t, err)

	_, err = f.service.GetRide(ctx, r.ID, passengerID)
	assert.NoError(t, err)

	_, err = f.service.GetRide(ctx, r.ID, uuid.New())
	assert.ErrorIs(t, err, ride.ErrNotFound)

	// The driver a counter-offer is held for can read the ride.
	_, err = f.service.ProposeCounterOffer(ctx, r.ID, driverID, r.OriginalFare*1.1)
	require.NoError(t, err)
	_, err = f.service.GetRide(ctx, r.ID, driverID)
	assert.NoError(t, err)
}

func TestAcceptAfterPassengerCancelReturnsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	passengerID := uuid.New()
	driverID := uuid.New()

	r, err := f.service.CreateRide(ctx, passengerID, testTrip())
	require.NoError(t, err)

	// The driver is still looking at the surfaced request when the
	// passenger cancels; the late accept must lose with the true status.
	_, err = f.service.CancelRide(ctx, r.ID, passengerID, ride.RolePassenger,
		&CancelRideRequest{ReasonCode: "changed_mind"})
	require.NoError(t, err)

	_, err = f.service.AcceptRide(ctx, r.ID, driverID)
	var stale *ride.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, r.ID, stale.RideID)
	assert.Equal(t, ride.StatusCancelled, stale.Current)

	// The cancelled record is untouched by the losing accept.
	current, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCancelled, current.Status)
	assert.Nil(t, current.DriverID)
}
