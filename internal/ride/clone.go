package ride

import (
	"time"

	"github.com/google/uuid"
)

// Clone returns a deep copy of the ride. Stores hand out clones so callers
// can never mutate a record behind the conditional-write guard.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	c.DriverID = cloneUUID(r.DriverID)
	c.OfferedTo = cloneUUID(r.OfferedTo)
	c.AgreedPrice = cloneFloat(r.AgreedPrice)
	c.CancelledBy = cloneRole(r.CancelledBy)
	c.CancellationCode = cloneString(r.CancellationCode)
	c.CancellationNote = cloneString(r.CancellationNote)
	c.PassengerRating = cloneInt(r.PassengerRating)
	c.PassengerFeedback = cloneString(r.PassengerFeedback)
	c.DriverRating = cloneInt(r.DriverRating)
	c.DriverFeedback = cloneString(r.DriverFeedback)
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	c.ArrivedAt = cloneTime(r.ArrivedAt)
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	return &c
}

func cloneUUID(v *uuid.UUID) *uuid.UUID {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneRole(v *Role) *Role {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
