package ride

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle status of a ride.
type Status string

const (
	StatusSearching      Status = "searching"
	StatusCounterOffered Status = "counter_offered"
	StatusAccepted       Status = "accepted"
	StatusArrived        Status = "arrived"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// Role identifies which side of the ride an actor is on.
type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
)

// Location is an immutable geographic point with a human-readable address.
type Location struct {
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	Address   string  `json:"address" db:"address"`
}

// Ride is the central record coordinating one passenger and at most one driver.
// All coordination happens through conditional writes against this record; the
// store is the single arbiter of which write landed first.
type Ride struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	PassengerID uuid.UUID  `json:"passenger_id" db:"passenger_id"`
	DriverID    *uuid.UUID `json:"driver_id,omitempty" db:"driver_id"`

	// OfferedTo holds the candidate driver while a counter-offer is open.
	// Present only while Status == StatusCounterOffered.
	OfferedTo *uuid.UUID `json:"offered_to,omitempty" db:"offered_to"`

	Status Status `json:"status" db:"status"`

	// Fare is the currently active price: the initial quote, or the proposed
	// amount while a counter-offer is open. OriginalFare keeps the first quote
	// for display and audit. AgreedPrice is fixed once, at acceptance.
	Fare         float64  `json:"fare" db:"fare"`
	OriginalFare float64  `json:"original_fare" db:"original_fare"`
	AgreedPrice  *float64 `json:"agreed_price,omitempty" db:"agreed_price"`
	CurrencyCode string   `json:"currency_code" db:"currency_code"`

	Pickup  Location `json:"pickup"`
	Dropoff Location `json:"dropoff"`

	EstimatedDistanceKm float64 `json:"estimated_distance_km" db:"estimated_distance_km"`
	EstimatedDurationMin int    `json:"estimated_duration_min" db:"estimated_duration_min"`

	CancelledBy        *Role   `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancellationCode   *string `json:"cancellation_code,omitempty" db:"cancellation_code"`
	CancellationNote   *string `json:"cancellation_note,omitempty" db:"cancellation_note"`

	PassengerRating   *int    `json:"passenger_rating,omitempty" db:"passenger_rating"`
	PassengerFeedback *string `json:"passenger_feedback,omitempty" db:"passenger_feedback"`
	DriverRating      *int    `json:"driver_rating,omitempty" db:"driver_rating"`
	DriverFeedback    *string `json:"driver_feedback,omitempty" db:"driver_feedback"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty" db:"arrived_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// transitions is the complete set of legal status edges. Cancellation is legal
// from every non-terminal state; the edge list below is the authoritative map.
var transitions = map[Status][]Status{
	StatusSearching:      {StatusAccepted, StatusCounterOffered, StatusCancelled},
	StatusCounterOffered: {StatusAccepted, StatusCancelled},
	StatusAccepted:       {StatusArrived, StatusCancelled},
	StatusArrived:        {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal status edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsRatedBy reports whether the given role has already rated the ride.
func (r *Ride) IsRatedBy(role Role) bool {
	if role == RolePassenger {
		return r.PassengerRating != nil
	}
	return r.DriverRating != nil
}

// IsParty reports whether the actor is the passenger or the bound driver.
func (r *Ride) IsParty(actorID uuid.UUID) bool {
	if r.PassengerID == actorID {
		return true
	}
	return r.DriverID != nil && *r.DriverID == actorID
}

// CandidateFor reports whether the ride should be surfaced to the given
// driver, ignoring availability and the driver's local rejection set.
func (r *Ride) CandidateFor(driverID uuid.UUID) bool {
	if r.Status == StatusSearching {
		return true
	}
	return r.Status == StatusCounterOffered && r.OfferedTo != nil && *r.OfferedTo == driverID
}
