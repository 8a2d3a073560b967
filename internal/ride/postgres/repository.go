// Package postgres implements the ride record store on PostgreSQL. Every
// transition is a single UPDATE guarded by the expected prior status, so the
// database itself arbitrates which concurrent write lands first.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farepact/farepact/internal/ride"
)

// Repository is a ride.Store backed by a pgx connection pool.
type Repository struct {
	db   *pgxpool.Pool
	feed *ride.Feed
}

// NewRepository creates a rides repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db, feed: ride.NewFeed()}
}

const rideColumns = `
	id, passenger_id, driver_id, offered_to, status, fare, original_fare,
	agreed_price, currency_code, pickup_latitude, pickup_longitude,
	pickup_address, dropoff_latitude, dropoff_longitude, dropoff_address,
	estimated_distance_km, estimated_duration_min, cancelled_by,
	cancellation_code, cancellation_note, passenger_rating,
	passenger_feedback, driver_rating, driver_feedback, created_at,
	accepted_at, arrived_at, started_at, completed_at, cancelled_at,
	updated_at`

func scanRide(row pgx.Row) (*ride.Ride, error) {
	r := &ride.Ride{}
	err := row.Scan(
		&r.ID,
		&r.PassengerID,
		&r.DriverID,
		&r.OfferedTo,
		&r.Status,
		&r.Fare,
		&r.OriginalFare,
		&r.AgreedPrice,
		&r.CurrencyCode,
		&r.Pickup.Latitude,
		&r.Pickup.Longitude,
		&r.Pickup.Address,
		&r.Dropoff.Latitude,
		&r.Dropoff.Longitude,
		&r.Dropoff.Address,
		&r.EstimatedDistanceKm,
		&r.EstimatedDurationMin,
		&r.CancelledBy,
		&r.CancellationCode,
		&r.CancellationNote,
		&r.PassengerRating,
		&r.PassengerFeedback,
		&r.DriverRating,
		&r.DriverFeedback,
		&r.CreatedAt,
		&r.AcceptedAt,
		&r.ArrivedAt,
		&r.StartedAt,
		&r.CompletedAt,
		&r.CancelledAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Create persists a new ride record.
func (repo *Repository) Create(ctx context.Context, r *ride.Ride) error {
	query := `
		INSERT INTO rides (
			id, passenger_id, status, fare, original_fare, currency_code,
			pickup_latitude, pickup_longitude, pickup_address,
			dropoff_latitude, dropoff_longitude, dropoff_address,
			estimated_distance_km, estimated_duration_min, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`

	err := repo.db.QueryRow(ctx, query,
		r.ID,
		r.PassengerID,
		r.Status,
		r.Fare,
		r.OriginalFare,
		r.CurrencyCode,
		r.Pickup.Latitude,
		r.Pickup.Longitude,
		r.Pickup.Address,
		r.Dropoff.Latitude,
		r.Dropoff.Longitude,
		r.Dropoff.Address,
		r.EstimatedDistanceKm,
		r.EstimatedDurationMin,
		r.CreatedAt,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return &ride.TransportError{Op: "create ride", Err: err}
	}

	repo.feed.Publish(r.Clone())
	return nil
}

// Get is a point read by id.
func (repo *Repository) Get(ctx context.Context, id uuid.UUID) (*ride.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	r, err := scanRide(repo.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ride.ErrNotFound
	}
	if err != nil {
		return nil, &ride.TransportError{Op: "get ride", Err: err}
	}
	return r, nil
}

// ApplyTransition commits the change in a single status-guarded UPDATE. When
// the guard misses, the current row is re-read to report the true state.
func (repo *Repository) ApplyTransition(ctx context.Context, id uuid.UUID, expected ride.Status, change ride.Change) (*ride.Ride, error) {
	now := time.Now()

	set := "status = $1, updated_at = $2"
	args := []interface{}{change.Status, now}
	next := 3

	addSet := func(column string, value interface{}) {
		set += fmt.Sprintf(", %s = $%d", column, next)
		args = append(args, value)
		next++
	}

	if change.BindDriver != nil {
		addSet("driver_id", *change.BindDriver)
	}
	if change.OfferTo != nil {
		addSet("offered_to", *change.OfferTo)
	}
	if change.ClearOffer {
		set += ", offered_to = NULL"
	}
	if change.Fare != nil {
		addSet("fare", *change.Fare)
	}
	if change.AgreedPrice != nil {
		addSet("agreed_price", *change.AgreedPrice)
	}
	if change.CancelledBy != nil {
		addSet("cancelled_by", *change.CancelledBy)
	}
	if change.CancellationCode != nil {
		addSet("cancellation_code", *change.CancellationCode)
	}
	if change.CancellationNote != nil {
		addSet("cancellation_note", *change.CancellationNote)
	}

	switch change.Status {
	case ride.StatusAccepted:
		addSet("accepted_at", now)
	case ride.StatusArrived:
		addSet("arrived_at", now)
	case ride.StatusInProgress:
		addSet("started_at", now)
	case ride.StatusCompleted:
		addSet("completed_at", now)
	case ride.StatusCancelled:
		addSet("cancelled_at", now)
	}

	query := fmt.Sprintf(
		`UPDATE rides SET %s WHERE id = $%d AND status = $%d RETURNING %s`,
		set, next, next+1, rideColumns,
	)
	args = append(args, id, expected)

	r, err := scanRide(repo.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		// Guard miss: either the ride moved on or it does not exist.
		current, getErr := repo.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &ride.StaleStateError{RideID: id, Attempted: change.Status, Current: current.Status}
	}
	if err != nil {
		return nil, &ride.TransportError{Op: "apply transition", Err: err}
	}

	repo.feed.Publish(r.Clone())
	return r, nil
}

// SetRating records a rating by the given role on a completed ride. The
// WHERE clause doubles as the set-once guard.
func (repo *Repository) SetRating(ctx context.Context, id uuid.UUID, role ride.Role, stars int, feedback *string) (*ride.Ride, error) {
	var query string
	if role == ride.RolePassenger {
		query = `
			UPDATE rides
			SET passenger_rating = $1, passenger_feedback = $2, updated_at = $3
			WHERE id = $4 AND status = $5 AND passenger_rating IS NULL
			RETURNING ` + rideColumns
	} else {
		query = `
			UPDATE rides
			SET driver_rating = $1, driver_feedback = $2, updated_at = $3
			WHERE id = $4 AND status = $5 AND driver_rating IS NULL
			RETURNING ` + rideColumns
	}

	r, err := scanRide(repo.db.QueryRow(ctx, query, stars, feedback, time.Now(), id, ride.StatusCompleted))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := repo.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status != ride.StatusCompleted {
			return nil, &ride.StaleStateError{RideID: id, Attempted: current.Status, Current: current.Status}
		}
		return nil, &ride.ValidationError{Field: "rating", Reason: "ride already rated"}
	}
	if err != nil {
		return nil, &ride.TransportError{Op: "set rating", Err: err}
	}

	repo.feed.Publish(r.Clone())
	return r, nil
}

// ActiveForPassenger returns the passenger's current non-terminal ride.
func (repo *Repository) ActiveForPassenger(ctx context.Context, passengerID uuid.UUID) (*ride.Ride, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE passenger_id = $1 AND status NOT IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	r, err := scanRide(repo.db.QueryRow(ctx, query, passengerID, ride.StatusCompleted, ride.StatusCancelled))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &ride.TransportError{Op: "active ride for passenger", Err: err}
	}
	return r, nil
}

// ActiveForDriver returns the non-terminal ride the driver is bound to.
func (repo *Repository) ActiveForDriver(ctx context.Context, driverID uuid.UUID) (*ride.Ride, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE driver_id = $1 AND status NOT IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	r, err := scanRide(repo.db.QueryRow(ctx, query, driverID, ride.StatusCompleted, ride.StatusCancelled))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &ride.TransportError{Op: "active ride for driver", Err: err}
	}
	return r, nil
}

// ListOpen returns searching and counter_offered rides, oldest first.
func (repo *Repository) ListOpen(ctx context.Context) ([]*ride.Ride, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := repo.db.Query(ctx, query, ride.StatusSearching, ride.StatusCounterOffered)
	if err != nil {
		return nil, &ride.TransportError{Op: "list open rides", Err: err}
	}
	defer rows.Close()

	return collectRides(rows)
}

// ListByPassenger pages through a passenger's rides, newest first.
func (repo *Repository) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*ride.Ride, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE passenger_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := repo.db.Query(ctx, query, passengerID, limit, offset)
	if err != nil {
		return nil, &ride.TransportError{Op: "list rides by passenger", Err: err}
	}
	defer rows.Close()

	return collectRides(rows)
}

// ListByDriver pages through a driver's rides, newest first.
func (repo *Repository) ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*ride.Ride, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := repo.db.Query(ctx, query, driverID, limit, offset)
	if err != nil {
		return nil, &ride.TransportError{Op: "list rides by driver", Err: err}
	}
	defer rows.Close()

	return collectRides(rows)
}

func collectRides(rows pgx.Rows) ([]*ride.Ride, error) {
	var out []*ride.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, &ride.TransportError{Op: "scan ride", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &ride.TransportError{Op: "iterate rides", Err: err}
	}
	return out, nil
}

// Subscribe registers a predicate watch on the change feed.
func (repo *Repository) Subscribe(pred ride.Predicate) *ride.Subscription {
	return repo.feed.Subscribe(pred)
}
