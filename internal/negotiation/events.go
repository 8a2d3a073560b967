package negotiation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/farepact/farepact/internal/ride"
	"github.com/farepact/farepact/pkg/eventbus"
	"github.com/farepact/farepact/pkg/logger"
)

// rideEventPayload is the wire shape of ride lifecycle events. Billing and
// notification consumers read these off JetStream.
type rideEventPayload struct {
	RideID       string   `json:"ride_id"`
	PassengerID  string   `json:"passenger_id"`
	DriverID     *string  `json:"driver_id,omitempty"`
	OfferedTo    *string  `json:"offered_to,omitempty"`
	Status       string   `json:"status"`
	Fare         float64  `json:"fare"`
	AgreedPrice  *float64 `json:"agreed_price,omitempty"`
	CurrencyCode string   `json:"currency_code"`
}

// publishRideEvent publishes a ride lifecycle event without blocking the
// request path. Event delivery is best effort; the store remains the source
// of truth.
func (s *Service) publishRideEvent(subject string, r *ride.Ride) {
	if s.eventBus == nil {
		return
	}

	payload := rideEventPayload{
		RideID:       r.ID.String(),
		PassengerID:  r.PassengerID.String(),
		Status:       string(r.Status),
		Fare:         r.Fare,
		AgreedPrice:  r.AgreedPrice,
		CurrencyCode: r.CurrencyCode,
	}
	if r.DriverID != nil {
		id := r.DriverID.String()
		payload.DriverID = &id
	}
	if r.OfferedTo != nil {
		id := r.OfferedTo.String()
		payload.OfferedTo = &id
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		evt, err := eventbus.NewEvent(subject, "negotiation-service", payload)
		if err != nil {
			logger.Error("failed to build ride event", zap.String("subject", subject), zap.Error(err))
			return
		}

		if err := s.eventBus.Publish(ctx, subject, evt); err != nil {
			logger.Error("failed to publish ride event",
				zap.String("subject", subject),
				zap.String("ride_id", payload.RideID),
				zap.Error(err))
		}
	}()
}
