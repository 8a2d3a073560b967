package ride

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores for point reads of unknown ride ids.
var ErrNotFound = errors.New("ride not found")

// StaleStateError signals a transition attempt that is no longer valid given
// the ride's current state, most often because another driver won the
// acceptance race. It carries the true current status so the caller can
// resynchronize its view instead of retrying blindly.
type StaleStateError struct {
	RideID    uuid.UUID
	Attempted Status
	Current   Status
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("ride %s is no longer available for %s (current status: %s)",
		e.RideID, e.Attempted, e.Current)
}

// NotEligibleError signals that the acting driver or passenger cannot perform
// the operation at all (unavailable, already on a ride, not a party to the
// ride). The action should be refused locally without a store write.
type NotEligibleError struct {
	Reason string
}

func (e *NotEligibleError) Error() string {
	return e.Reason
}

// ValidationError signals malformed input: a bad amount, a missing or unknown
// reason code, an illegal next status. Recoverable by the actor.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TransportError wraps a store or network failure. The operation must not be
// assumed to have applied; callers re-read before retrying state changes.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsStale reports whether err is a StaleStateError, unwrapping as needed.
func IsStale(err error) bool {
	var stale *StaleStateError
	return errors.As(err, &stale)
}
