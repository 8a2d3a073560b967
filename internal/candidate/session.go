// Package candidate maintains each connected driver's view of offerable
// rides. A session filters the ride feed down to rides the driver may act
// on, surfaces them one at a time oldest first, and runs the decision
// countdown. Rejections and expiries are recorded only in the session, so
// one driver passing on a ride never dims it for anyone else.
package candidate

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farepact/farepact/internal/ride"
	"github.com/farepact/farepact/pkg/logger"
)

// EventType classifies session events pushed to the driver app.
type EventType string

const (
	// EventSurfaced presents a new candidate to the driver.
	EventSurfaced EventType = "surfaced"
	// EventWithdrawn retracts the surfaced candidate because it is no
	// longer offerable, usually because another driver accepted it.
	EventWithdrawn EventType = "withdrawn"
	// EventExpired retracts the surfaced candidate because the decision
	// window ran out.
	EventExpired EventType = "expired"
)

// Event is one change to the driver's surfaced candidate.
type Event struct {
	Type      EventType
	Ride      *ride.Ride
	ExpiresAt *time.Time
}

// Session is a single driver's candidate filter. All state is owned by the
// Run goroutine; Reject communicates through a channel.
type Session struct {
	driverID uuid.UUID
	store    ride.Store
	window   time.Duration
	now      func() time.Time

	events   chan Event
	rejectCh chan uuid.UUID
	availCh  chan bool

	// State below is touched only from Run.
	available bool
	rejected  map[uuid.UUID]bool
	pending   map[uuid.UUID]*ride.Ride
	surfaced  *ride.Ride
	timer     *time.Timer
}

// NewSession creates a session for one driver. window is the decision
// countdown for surfaced searching rides.
func NewSession(driverID uuid.UUID, store ride.Store, window time.Duration) *Session {
	return &Session{
		driverID: driverID,
		store:    store,
		window:   window,
		now:      time.Now,
		events:    make(chan Event, 16),
		rejectCh:  make(chan uuid.UUID, 16),
		availCh:   make(chan bool, 4),
		available: true,
		rejected:  make(map[uuid.UUID]bool),
		pending:   make(map[uuid.UUID]*ride.Ride),
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Session) SetClock(now func() time.Time) {
	s.now = now
}

// Events is the stream of surface/withdraw/expire changes for this driver.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Reject records the driver passing on a ride. The rejection is session
// local; the ride stays visible to every other driver.
func (s *Session) Reject(ctx context.Context, rideID uuid.UUID) error {
	select {
	case s.rejectCh <- rideID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetAvailable reflects the driver's presence into the session. Going
// unavailable withdraws the surfaced candidate and stops the countdown so a
// stale expiry cannot fire; the pending queue is kept for the driver's return.
func (s *Session) SetAvailable(ctx context.Context, available bool) error {
	select {
	case s.availCh <- available:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the session until ctx is cancelled. It bootstraps from the
// store's open rides, then follows the live feed.
func (s *Session) Run(ctx context.Context) error {
	sub := s.store.Subscribe(func(*ride.Ride) bool { return true })
	defer sub.Close()
	defer s.stopTimer()
	defer close(s.events)

	// Bootstrap after subscribing so no committed write falls in the gap.
	// A write observed both here and on the feed is harmless: updates are
	// full records, not deltas.
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		return err
	}
	for _, r := range open {
		s.handleUpdate(r)
	}

	for {
		var timerC <-chan time.Time
		if s.timer != nil {
			timerC = s.timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-sub.C:
			if !ok {
				return nil
			}
			s.handleUpdate(r)
		case rideID := <-s.rejectCh:
			s.handleReject(rideID)
		case available := <-s.availCh:
			s.handleAvailability(available)
		case <-timerC:
			s.timer = nil
			s.handleExpiry()
		}
	}
}

// handleUpdate folds one committed ride state into the candidate set.
func (s *Session) handleUpdate(r *ride.Ride) {
	if s.rejected[r.ID] {
		return
	}

	eligible := r.CandidateFor(s.driverID) && r.PassengerID != s.driverID
	if !eligible {
		delete(s.pending, r.ID)
		if s.surfaced != nil && s.surfaced.ID == r.ID {
			s.stopTimer()
			s.surfaced = nil
			s.emit(Event{Type: EventWithdrawn, Ride: r})
			s.surfaceNext()
		}
		return
	}

	s.pending[r.ID] = r
	if s.surfaced != nil && s.surfaced.ID == r.ID {
		// The surfaced ride changed but stayed offerable. A move to
		// counter_offered held for this driver ends the countdown; the
		// passenger now holds the clock.
		s.surfaced = r
		if r.Status == ride.StatusCounterOffered {
			s.stopTimer()
		}
		return
	}
	if s.surfaced == nil {
		s.surfaceNext()
	}
}

func (s *Session) handleReject(rideID uuid.UUID) {
	s.rejected[rideID] = true
	delete(s.pending, rideID)
	if s.surfaced != nil && s.surfaced.ID == rideID {
		s.stopTimer()
		s.surfaced = nil
		s.surfaceNext()
	}
}

func (s *Session) handleAvailability(available bool) {
	if available == s.available {
		return
	}
	s.available = available

	if !available {
		s.stopTimer()
		if s.surfaced != nil {
			withdrawn := s.surfaced
			s.surfaced = nil
			s.emit(Event{Type: EventWithdrawn, Ride: withdrawn})
		}
		return
	}
	if s.surfaced == nil {
		s.surfaceNext()
	}
}

// handleExpiry treats a run-down countdown as a session-local rejection.
func (s *Session) handleExpiry() {
	if s.surfaced == nil {
		return
	}
	expired := s.surfaced
	s.rejected[expired.ID] = true
	delete(s.pending, expired.ID)
	s.surfaced = nil
	s.emit(Event{Type: EventExpired, Ride: expired})
	s.surfaceNext()
}

// surfaceNext presents the oldest pending candidate. The countdown anchors
// at surfacing time, so a ride that waited in the queue still gets the full
// window.
func (s *Session) surfaceNext() {
	if !s.available {
		return
	}
	next := s.oldestPending()
	if next == nil {
		return
	}

	s.surfaced = next
	event := Event{Type: EventSurfaced, Ride: next}

	if next.Status == ride.StatusSearching && s.window > 0 {
		deadline := s.now().Add(s.window)
		event.ExpiresAt = &deadline
		s.timer = time.NewTimer(s.window)
	}

	s.emit(event)
}

func (s *Session) oldestPending() *ride.Ride {
	if len(s.pending) == 0 {
		return nil
	}
	candidates := make([]*ride.Ride, 0, len(s.pending))
	for _, r := range s.pending {
		candidates = append(candidates, r)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID.String() < candidates[j].ID.String()
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates[0]
}

func (s *Session) stopTimer() {
	if s.timer == nil {
		return
	}
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.timer = nil
}

// emit never blocks the actor loop. A driver app that cannot keep up loses
// intermediate events, not the session.
func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		logger.Warn("candidate event dropped",
			zap.String("driver_id", s.driverID.String()),
			zap.String("event", string(e.Type)))
	}
}
