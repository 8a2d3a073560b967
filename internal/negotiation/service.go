// Package negotiation implements the ride coordination engine: upfront
// quotes, the acceptance race, the counter-offer protocol, and the rest of
// the ride lifecycle. Every state change goes through the ride store's
// conditional write, so concurrent actors resolve to exactly one winner
// without any locking here.
package negotiation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/farepact/farepact/internal/cancellation"
	"github.com/farepact/farepact/internal/ride"
	"github.com/farepact/farepact/pkg/eventbus"
)

// Service handles ride negotiation business logic.
type Service struct {
	store    ride.Store
	quoter   QuoterInterface
	presence AvailabilityChecker
	catalog  ReasonCatalog
	eventBus *eventbus.Bus
	currency string
}

// NewService creates a new negotiation service.
func NewService(store ride.Store, quoter QuoterInterface, presence AvailabilityChecker, catalog ReasonCatalog, currency string) *Service {
	return &Service{
		store:    store,
		quoter:   quoter,
		presence: presence,
		catalog:  catalog,
		currency: currency,
	}
}

// SetEventBus sets the event bus for publishing ride lifecycle events.
func (s *Service) SetEventBus(bus *eventbus.Bus) {
	s.eventBus = bus
}

// CreateRideRequest is the input for requesting a ride.
type CreateRideRequest struct {
	Pickup  ride.Location `json:"pickup" binding:"required"`
	Dropoff ride.Location `json:"dropoff" binding:"required"`

	// ProposedFare lets the passenger open below or above the quote, within
	// the counter-offer bounds.
	ProposedFare *float64 `json:"proposed_fare,omitempty"`
}

// CreateRide quotes the trip and opens a ride record in searching status.
// A passenger may have at most one non-terminal ride at a time.
func (s *Service) CreateRide(ctx context.Context, passengerID uuid.UUID, req *CreateRideRequest) (*ride.Ride, error) {
	active, err := s.store.ActiveForPassenger(ctx, passengerID)
	if err != nil {
		return nil, &ride.TransportError{Op: "check active ride", Err: err}
	}
	if active != nil {
		return nil, &ride.NotEligibleError{Reason: "passenger already has an active ride"}
	}

	quote := s.quoter.QuoteTrip(req.Pickup, req.Dropoff)

	fare := quote.Fare
	if req.ProposedFare != nil {
		bounds := s.quoter.OfferBounds(quote.Fare)
		if !bounds.Contains(*req.ProposedFare) {
			return nil, &ride.ValidationError{
				Field:  "proposed_fare",
				Reason: fmt.Sprintf("must be between %.2f and %.2f", bounds.Min, bounds.Max),
			}
		}
		fare = *req.ProposedFare
	}

	r := &ride.Ride{
		ID:                   uuid.New(),
		PassengerID:          passengerID,
		Status:               ride.StatusSearching,
		Fare:                 fare,
		OriginalFare:         quote.Fare,
		CurrencyCode:         s.currency,
		Pickup:               req.Pickup,
		Dropoff:              req.Dropoff,
		EstimatedDistanceKm:  quote.DistanceKm,
		EstimatedDurationMin: quote.DurationMin,
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, &ride.TransportError{Op: "create ride", Err: err}
	}

	s.publishRideEvent(eventbus.SubjectRideCreated, r)
	return r, nil
}

// AcceptRide binds the driver to a searching ride at its current fare. When
// several drivers race, the store's conditional write picks the winner; the
// losers get StaleStateError carrying the ride's true status.
func (s *Service) AcceptRide(ctx context.Context, rideID, driverID uuid.UUID) (*ride.Ride, error) {
	if err := s.checkDriverEligibility(ctx, driverID); err != nil {
		return nil, err
	}

	current, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}

	fare := current.Fare
	updated, err := s.store.ApplyTransition(ctx, rideID, ride.StatusSearching, ride.Change{
		Status:      ride.StatusAccepted,
		BindDriver:  &driverID,
		AgreedPrice: &fare,
	})
	if err != nil {
		return nil, err
	}

	s.publishRideEvent(eventbus.SubjectRideAccepted, updated)
	return updated, nil
}

// ProposeCounterOffer lets a driver answer a searching ride with a different
// price. The ride moves to counter_offered and is held for that driver until
// the passenger resolves it or someone cancels.
func (s *Service) ProposeCounterOffer(ctx context.Context, rideID, driverID uuid.UUID, amount float64) (*ride.Ride, error) {
	if err := s.checkDriverEligibility(ctx, driverID); err != nil {
		return nil, err
	}

	current, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}

	bounds := s.quoter.OfferBounds(current.OriginalFare)
	if !bounds.Contains(amount) {
		return nil, &ride.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be between %.2f and %.2f", bounds.Min, bounds.Max),
		}
	}

	updated, err := s.store.ApplyTransition(ctx, rideID, ride.StatusSearching, ride.Change{
		Status:  ride.StatusCounterOffered,
		OfferTo: &driverID,
		Fare:    &amount,
	})
	if err != nil {
		return nil, err
	}

	s.publishRideEvent(eventbus.SubjectRideCounterOffered, updated)
	return updated, nil
}

// ResolveCounterOffer is the passenger's answer to an open counter-offer.
// Accepting binds the offering driver at the proposed price. Declining
// cancels the ride; the passenger starts over with a fresh request if they
// still want a ride.
func (s *Service) ResolveCounterOffer(ctx context.Context, rideID, passengerID uuid.UUID, accept bool) (*ride.Ride, error) {
	current, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if current.PassengerID != passengerID {
		return nil, &ride.NotEligibleError{Reason: "ride belongs to another passenger"}
	}
	if current.Status != ride.StatusCounterOffered || current.OfferedTo == nil {
		return nil, &ride.StaleStateError{
			RideID:    rideID,
			Attempted: ride.StatusAccepted,
			Current:   current.Status,
		}
	}

	if accept {
		driverID := *current.OfferedTo
		fare := current.Fare
		updated, err := s.store.ApplyTransition(ctx, rideID, ride.StatusCounterOffered, ride.Change{
			Status:      ride.StatusAccepted,
			BindDriver:  &driverID,
			ClearOffer:  true,
			AgreedPrice: &fare,
		})
		if err != nil {
			return nil, err
		}
		s.publishRideEvent(eventbus.SubjectRideAccepted, updated)
		return updated, nil
	}

	role := ride.RolePassenger
	code := string(cancellation.CodeCounterOfferDeclined)
	updated, err := s.store.ApplyTransition(ctx, rideID, ride.StatusCounterOffered, ride.Change{
		Status:           ride.StatusCancelled,
		ClearOffer:       true,
		CancelledBy:      &role,
		CancellationCode: &code,
	})
	if err != nil {
		return nil, err
	}
	s.publishRideEvent(eventbus.SubjectRideCancelled, updated)
	return updated, nil
}

// AdvanceStatus moves an accepted ride forward through arrived, in_progress
// and completed. Only the bound driver may advance.
func (s *Service) AdvanceStatus(ctx context.Context, rideID, driverID uuid.UUID, target ride.Status) (*ride.Ride, error) {
	switch target {
	case ride.StatusArrived, ride.StatusInProgress, ride.StatusCompleted:
	default:
		return nil, &ride.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot advance to %s", target)}
	}

	current, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if current.DriverID == nil || *current.DriverID != driverID {
		return nil, &ride.NotEligibleError{Reason: "driver is not bound to this ride"}
	}
	if !ride.CanTransition(current.Status, target) {
		return nil, &ride.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot advance from %s to %s", current.Status, target),
		}
	}

	updated, err := s.store.ApplyTransition(ctx, rideID, current.Status, ride.Change{Status: target})
	if err != nil {
		return nil, err
	}

	s.publishRideEvent(subjectForStatus(target), updated)
	return updated, nil
}

// CancelRideRequest is the input for cancelling a ride.
type CancelRideRequest struct {
	ReasonCode string  `json:"reason_code" binding:"required"`
	Note       *string `json:"note,omitempty"`
}

// CancelRide cancels a ride on behalf of one of its parties. Legal from any
// non-terminal state; the reason code must come from the actor's catalog.
func (s *Service) CancelRide(ctx context.Context, rideID, actorID uuid.UUID, role ride.Role, req *CancelRideRequest) (*ride.Ride, error) {
	code := cancellation.Code(req.ReasonCode)
	if !s.catalog.Valid(role, code) {
		return nil, &ride.ValidationError{Field: "reason_code", Reason: fmt.Sprintf("unknown reason %q for %s", req.ReasonCode, role)}
	}

	current, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}

	switch role {
	case ride.RolePassenger:
		if current.PassengerID != actorID {
			return nil, &ride.NotEligibleError{Reason: "ride belongs to another passenger"}
		}
	case ride.RoleDriver:
		if current.DriverID == nil || *current.DriverID != actorID {
			return nil, &ride.NotEligibleError{Reason: "driver is not bound to this ride"}
		}
	default:
		return nil, &ride.ValidationError{Field: "role", Reason: "unknown role"}
	}

	if current.Status.Terminal() {
		return nil, &ride.StaleStateError{
			RideID:    rideID,
			Attempted: ride.StatusCancelled,
			Current:   current.Status,
		}
	}

	codeStr := string(code)
	updated, err := s.store.ApplyTransition(ctx, rideID, current.Status, ride.Change{
		Status:           ride.StatusCancelled,
		ClearOffer:       current.Status == ride.StatusCounterOffered,
		CancelledBy:      &role,
		CancellationCode: &codeStr,
		CancellationNote: req.Note,
	})
	if err != nil {
		return nil, err
	}

	s.publishRideEvent(eventbus.SubjectRideCancelled, updated)
	return updated, nil
}

// SubmitRating records a 1-5 star rating by one party of a completed ride.
// Each party rates at most once.
func (s *Service) SubmitRating(ctx context.Context, rideID, actorID uuid.UUID, role ride.Role, stars int, feedback *string) (*ride.Ride, error) {
	if stars < 1 || stars > 5 {
		return nil, &ride.ValidationError{Field: "stars", Reason: "must be between 1 and 5"}
	}

	current, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !current.IsParty(actorID) {
		return nil, &ride.NotEligibleError{Reason: "not a party to this ride"}
	}
	if current.Status != ride.StatusCompleted {
		return nil, &ride.NotEligibleError{Reason: "ride is not completed"}
	}
	if current.IsRatedBy(role) {
		return nil, &ride.NotEligibleError{Reason: "already rated"}
	}

	return s.store.SetRating(ctx, rideID, role, stars, feedback)
}

// CurrentRide returns the actor's active ride, or nil when there is none.
func (s *Service) CurrentRide(ctx context.Context, actorID uuid.UUID, role ride.Role) (*ride.Ride, error) {
	if role == ride.RoleDriver {
		return s.store.ActiveForDriver(ctx, actorID)
	}
	return s.store.ActiveForPassenger(ctx, actorID)
}

// History pages through the actor's past rides, newest first.
func (s *Service) History(ctx context.Context, actorID uuid.UUID, role ride.Role, limit, offset int) ([]*ride.Ride, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if role == ride.RoleDriver {
		return s.store.ListByDriver(ctx, actorID, limit, offset)
	}
	return s.store.ListByPassenger(ctx, actorID, limit, offset)
}

// CancellationReasons returns the selectable reason list for a role.
func (s *Service) CancellationReasons(role ride.Role) []cancellation.Reason {
	return s.catalog.Reasons(role)
}

// GetRide is a point read, restricted to the ride's parties and the driver a
// counter-offer is held for.
func (s *Service) GetRide(ctx context.Context, rideID, actorID uuid.UUID) (*ride.Ride, error) {
	r, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !r.IsParty(actorID) && !(r.OfferedTo != nil && *r.OfferedTo == actorID) {
		return nil, ride.ErrNotFound
	}
	return r, nil
}

// checkDriverEligibility refuses accepts and counter-offers from drivers who
// are offline or already on a ride. These checks are advisory gates; the
// store's conditional write remains the arbiter of races.
func (s *Service) checkDriverEligibility(ctx context.Context, driverID uuid.UUID) error {
	available, err := s.presence.IsAvailable(ctx, driverID)
	if err != nil {
		return &ride.TransportError{Op: "check driver availability", Err: err}
	}
	if !available {
		return &ride.NotEligibleError{Reason: "driver is not available"}
	}

	active, err := s.store.ActiveForDriver(ctx, driverID)
	if err != nil {
		return &ride.TransportError{Op: "check driver active ride", Err: err}
	}
	if active != nil {
		return &ride.NotEligibleError{Reason: "driver already has an active ride"}
	}
	return nil
}

func subjectForStatus(status ride.Status) string {
	switch status {
	case ride.StatusArrived:
		return eventbus.SubjectRideArrived
	case ride.StatusInProgress:
		return eventbus.SubjectRideStarted
	case ride.StatusCompleted:
		return eventbus.SubjectRideCompleted
	default:
		return eventbus.SubjectRideCancelled
	}
}
