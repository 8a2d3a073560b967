package ride

import (
	"context"

	"github.com/google/uuid"
)

// Change describes the fields applied alongside a status transition. The
// store applies a Change only when the ride's status still equals the
// expected prior status at commit time; otherwise it returns StaleStateError.
type Change struct {
	Status Status

	// BindDriver sets DriverID. Used on searching -> accepted (the accepting
	// driver) and counter_offered -> accepted (the offering driver).
	BindDriver *uuid.UUID

	// OfferTo sets OfferedTo on searching -> counter_offered. ClearOffer
	// removes it on resolution or cancellation out of counter_offered.
	OfferTo    *uuid.UUID
	ClearOffer bool

	// Fare overwrites the active price (counter-offer proposals).
	Fare *float64

	// AgreedPrice is fixed exactly once, on the accepted transition.
	AgreedPrice *float64

	CancelledBy      *Role
	CancellationCode *string
	CancellationNote *string
}

// Subscription is a live feed of ride records matching a predicate. The feed
// delivers the current record state on each committed write, not an ordered
// log: a slow consumer may observe only the latest of several writes.
type Subscription struct {
	C      <-chan *Ride
	cancel func()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Predicate selects which ride records a subscription observes.
type Predicate func(*Ride) bool

// Store is the ride record store consumed by the negotiation engine and the
// driver candidate filter. All mutation is through conditional writes; the
// record is never locked pessimistically.
type Store interface {
	// Create persists a new ride record.
	Create(ctx context.Context, r *Ride) error

	// Get is a point read by id. Returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id uuid.UUID) (*Ride, error)

	// ApplyTransition performs a compare-and-swap style write: the change is
	// committed only if the ride's status equals expected at commit time.
	// Returns the resulting record on success and StaleStateError when the
	// guard fails.
	ApplyTransition(ctx context.Context, id uuid.UUID, expected Status, change Change) (*Ride, error)

	// SetRating records a rating by the given role on a completed ride.
	// Ratings are set-once per role and never touch the status.
	SetRating(ctx context.Context, id uuid.UUID, role Role, stars int, feedback *string) (*Ride, error)

	// ActiveForPassenger returns the passenger's current non-terminal ride,
	// or nil when there is none.
	ActiveForPassenger(ctx context.Context, passengerID uuid.UUID) (*Ride, error)

	// ActiveForDriver returns the ride the driver is currently bound to
	// (non-terminal), or nil when there is none.
	ActiveForDriver(ctx context.Context, driverID uuid.UUID) (*Ride, error)

	// ListOpen returns all rides whose status is searching or
	// counter_offered, oldest first. Used to bootstrap candidate filters.
	ListOpen(ctx context.Context) ([]*Ride, error)

	// ListByPassenger and ListByDriver page through ride history, newest
	// first.
	ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*Ride, error)
	ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*Ride, error)

	// Subscribe registers a push subscription: every committed write whose
	// resulting record matches the predicate is delivered on the channel.
	Subscribe(pred Predicate) *Subscription
}
