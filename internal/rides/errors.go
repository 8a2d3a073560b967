package rides

import (
	"errors"

	"github.com/farepact/farepact/internal/ride"
	"github.com/farepact/farepact/pkg/common"
)

// mapError translates engine errors into HTTP app errors. Stale writes come
// back as 409 carrying the ride's true status so clients can resynchronize
// instead of retrying blindly.
func mapError(err error) *common.AppError {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var stale *ride.StaleStateError
	if errors.As(err, &stale) {
		return common.NewConflictError("ride is no longer available for this action", map[string]interface{}{
			"ride_id":        stale.RideID.String(),
			"current_status": string(stale.Current),
		})
	}

	var notEligible *ride.NotEligibleError
	if errors.As(err, &notEligible) {
		return common.NewUnprocessableError(notEligible.Reason)
	}

	var invalid *ride.ValidationError
	if errors.As(err, &invalid) {
		return common.NewBadRequestError(invalid.Error(), nil)
	}

	if errors.Is(err, ride.ErrNotFound) {
		return common.NewNotFoundError("ride not found")
	}

	var transport *ride.TransportError
	if errors.As(err, &transport) {
		return common.NewUnavailableError("ride store unavailable", transport)
	}

	return common.NewInternalServerError("internal error")
}
