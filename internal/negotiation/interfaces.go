package negotiation

import (
	"context"

	"github.com/google/uuid"

	"github.com/farepact/farepact/internal/cancellation"
	"github.com/farepact/farepact/internal/pricing"
	"github.com/farepact/farepact/internal/ride"
)

// AvailabilityChecker reports whether a driver is currently accepting rides.
// Backed by the presence registry in production.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, driverID uuid.UUID) (bool, error)
}

// QuoterInterface defines the pricing methods used by the negotiation service.
type QuoterInterface interface {
	QuoteTrip(pickup, dropoff ride.Location) pricing.Quote
	OfferBounds(fare float64) pricing.Bounds
}

// ReasonCatalog validates cancellation reason codes per role.
type ReasonCatalog interface {
	Valid(role ride.Role, code cancellation.Code) bool
	Reasons(role ride.Role) []cancellation.Reason
}
