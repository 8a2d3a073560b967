package ride

import "time"

// ApplyChange mutates r per the change. Callers must have already verified
// the expected-status guard; this function only writes the fields a committed
// transition is allowed to touch, stamping the status timestamp as it goes.
func ApplyChange(r *Ride, ch Change, now time.Time) {
	r.Status = ch.Status
	r.UpdatedAt = now

	if ch.BindDriver != nil {
		d := *ch.BindDriver
		r.DriverID = &d
	}
	if ch.OfferTo != nil {
		d := *ch.OfferTo
		r.OfferedTo = &d
	}
	if ch.ClearOffer {
		r.OfferedTo = nil
	}
	if ch.Fare != nil {
		r.Fare = *ch.Fare
	}
	if ch.AgreedPrice != nil {
		p := *ch.AgreedPrice
		r.AgreedPrice = &p
	}
	if ch.CancelledBy != nil {
		by := *ch.CancelledBy
		r.CancelledBy = &by
	}
	if ch.CancellationCode != nil {
		code := *ch.CancellationCode
		r.CancellationCode = &code
	}
	if ch.CancellationNote != nil {
		note := *ch.CancellationNote
		r.CancellationNote = &note
	}

	switch ch.Status {
	case StatusAccepted:
		t := now
		r.AcceptedAt = &t
	case StatusArrived:
		t := now
		r.ArrivedAt = &t
	case StatusInProgress:
		t := now
		r.StartedAt = &t
	case StatusCompleted:
		t := now
		r.CompletedAt = &t
	case StatusCancelled:
		t := now
		r.CancelledAt = &t
	}
}
