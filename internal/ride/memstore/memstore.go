// Package memstore provides an in-memory ride record store with the same
// conditional-write semantics as the Postgres store. It backs local
// development and every concurrency test in the negotiation engine.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/farepact/farepact/internal/ride"
)

// Store is a thread-safe in-memory ride.Store.
type Store struct {
	mu    sync.Mutex
	rides map[uuid.UUID]*ride.Ride
	feed  *ride.Feed

	// now is swappable for tests.
	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		rides: make(map[uuid.UUID]*ride.Ride),
		feed:  ride.NewFeed(),
		now:   time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create persists a new ride record and pushes it to the change feed.
func (s *Store) Create(ctx context.Context, r *ride.Ride) error {
	s.mu.Lock()
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	stored := r.Clone()
	s.rides[r.ID] = stored
	out := stored.Clone()
	s.mu.Unlock()

	s.feed.Publish(out)
	return nil
}

// Get is a point read by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*ride.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[id]
	if !ok {
		return nil, ride.ErrNotFound
	}
	return r.Clone(), nil
}

// ApplyTransition commits the change only if the record's status still equals
// expected. The mutex serializes the guard check and the write, which is what
// makes concurrent accepts race-safe: exactly one caller observes the
// expected status.
func (s *Store) ApplyTransition(ctx context.Context, id uuid.UUID, expected ride.Status, change ride.Change) (*ride.Ride, error) {
	s.mu.Lock()

	r, ok := s.rides[id]
	if !ok {
		s.mu.Unlock()
		return nil, ride.ErrNotFound
	}
	if r.Status != expected {
		stale := &ride.StaleStateError{RideID: id, Attempted: change.Status, Current: r.Status}
		s.mu.Unlock()
		return nil, stale
	}

	ride.ApplyChange(r, change, s.now())
	out := r.Clone()
	s.mu.Unlock()

	s.feed.Publish(out.Clone())
	return out, nil
}

// SetRating records a rating by the given role. The ride must be completed
// and not already rated by that role; the status is never touched.
func (s *Store) SetRating(ctx context.Context, id uuid.UUID, role ride.Role, stars int, feedback *string) (*ride.Ride, error) {
	s.mu.Lock()

	r, ok := s.rides[id]
	if !ok {
		s.mu.Unlock()
		return nil, ride.ErrNotFound
	}
	if r.Status != ride.StatusCompleted {
		stale := &ride.StaleStateError{RideID: id, Attempted: r.Status, Current: r.Status}
		s.mu.Unlock()
		return nil, stale
	}
	if r.IsRatedBy(role) {
		s.mu.Unlock()
		return nil, &ride.ValidationError{Field: "rating", Reason: "ride already rated"}
	}

	if role == ride.RolePassenger {
		r.PassengerRating = &stars
		r.PassengerFeedback = feedback
	} else {
		r.DriverRating = &stars
		r.DriverFeedback = feedback
	}
	r.UpdatedAt = s.now()
	out := r.Clone()
	s.mu.Unlock()

	s.feed.Publish(out.Clone())
	return out, nil
}

// ActiveForPassenger returns the passenger's current non-terminal ride.
func (s *Store) ActiveForPassenger(ctx context.Context, passengerID uuid.UUID) (*ride.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rides {
		if r.PassengerID == passengerID && !r.Status.Terminal() {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

// ActiveForDriver returns the non-terminal ride the driver is bound to.
func (s *Store) ActiveForDriver(ctx context.Context, driverID uuid.UUID) (*ride.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rides {
		if r.Status.Terminal() {
			continue
		}
		if r.DriverID != nil && *r.DriverID == driverID {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

// ListOpen returns searching and counter_offered rides, oldest first.
func (s *Store) ListOpen(ctx context.Context) ([]*ride.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ride.Ride
	for _, r := range s.rides {
		if r.Status == ride.StatusSearching || r.Status == ride.StatusCounterOffered {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListByPassenger pages through a passenger's rides, newest first.
func (s *Store) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*ride.Ride, error) {
	return s.list(func(r *ride.Ride) bool { return r.PassengerID == passengerID }, limit, offset)
}

// ListByDriver pages through a driver's rides, newest first.
func (s *Store) ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*ride.Ride, error) {
	return s.list(func(r *ride.Ride) bool {
		return r.DriverID != nil && *r.DriverID == driverID
	}, limit, offset)
}

func (s *Store) list(match func(*ride.Ride) bool, limit, offset int) ([]*ride.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*ride.Ride
	for _, r := range s.rides {
		if match(r) {
			all = append(all, r.Clone())
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Subscribe registers a predicate watch on the change feed.
func (s *Store) Subscribe(pred ride.Predicate) *ride.Subscription {
	return s.feed.Subscribe(pred)
}
