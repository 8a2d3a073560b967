// Package presence tracks driver availability and location in Redis. The
// registry is the source of truth for who may be offered rides; ride records
// themselves never store availability.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farepact/farepact/pkg/eventbus"
	"github.com/farepact/farepact/pkg/logger"
	redisClient "github.com/farepact/farepact/pkg/redis"
)

const (
	driverStatusPrefix   = "driver:status:"
	driverLocationPrefix = "driver:location:"
	driverGeoIndexKey    = "drivers:geo:index"
	presenceTTL          = 5 * time.Minute
)

// Status is a driver's availability state.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

// DriverLocation is a driver's last reported position.
type DriverLocation struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   float64   `json:"heading,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry stores driver presence in Redis with a TTL, so a driver whose app
// stops reporting decays to offline without explicit cleanup.
type Registry struct {
	redis *redisClient.Client
	bus   *eventbus.Bus
}

// NewRegistry creates a presence registry. bus may be nil when event
// publishing is not wired.
func NewRegistry(redis *redisClient.Client, bus *eventbus.Bus) *Registry {
	return &Registry{redis: redis, bus: bus}
}

// SetStatus records a driver's availability. Going offline removes the driver
// from the geo index so stale positions never match searches.
func (r *Registry) SetStatus(ctx context.Context, driverID uuid.UUID, status Status) error {
	key := statusKey(driverID)
	payload, err := json.Marshal(map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal driver status: %w", err)
	}

	if err := r.redis.Set(ctx, key, payload, presenceTTL).Err(); err != nil {
		return fmt.Errorf("set driver status: %w", err)
	}

	if status == StatusOffline {
		if err := r.redis.GeoRemove(ctx, driverGeoIndexKey, driverID.String()); err != nil {
			logger.WithContext(ctx).Warn("failed to remove driver from geo index",
				zap.String("driver_id", driverID.String()), zap.Error(err))
		}
	}

	r.publishStatus(ctx, driverID, status)
	return nil
}

// GetStatus returns a driver's availability, defaulting to offline when no
// presence record exists.
func (r *Registry) GetStatus(ctx context.Context, driverID uuid.UUID) (Status, error) {
	data, err := r.redis.Get(ctx, statusKey(driverID)).Result()
	if err != nil {
		return StatusOffline, nil
	}

	var record struct {
		Status Status `json:"status"`
	}
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return StatusOffline, nil
	}
	if record.Status == "" {
		return StatusOffline, nil
	}
	return record.Status, nil
}

// IsAvailable reports whether the driver is currently accepting rides.
func (r *Registry) IsAvailable(ctx context.Context, driverID uuid.UUID) (bool, error) {
	status, err := r.GetStatus(ctx, driverID)
	if err != nil {
		return false, err
	}
	return status == StatusAvailable, nil
}

// UpdateLocation records a driver's position and refreshes the geo index.
func (r *Registry) UpdateLocation(ctx context.Context, loc DriverLocation) error {
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now()
	}

	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("marshal driver location: %w", err)
	}

	key := locationKey(loc.DriverID)
	if err := r.redis.Set(ctx, key, data, presenceTTL).Err(); err != nil {
		return fmt.Errorf("set driver location: %w", err)
	}

	if err := r.redis.GeoSet(ctx, driverGeoIndexKey, loc.Longitude, loc.Latitude, loc.DriverID.String()); err != nil {
		return fmt.Errorf("update geo index: %w", err)
	}

	if r.bus != nil && r.bus.Connected() {
		event, err := eventbus.NewEvent(eventbus.SubjectDriverLocationUpdated, "presence", map[string]interface{}{
			"driver_id": loc.DriverID.String(),
			"latitude":  loc.Latitude,
			"longitude": loc.Longitude,
			"heading":   loc.Heading,
			"speed":     loc.Speed,
		})
		if err != nil {
			logger.Warn("failed to build driver location event", zap.Error(err))
			return nil
		}
		go func() {
			pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.bus.Publish(pubCtx, eventbus.SubjectDriverLocationUpdated, event); err != nil {
				logger.Warn("failed to publish driver location", zap.Error(err))
			}
		}()
	}

	return nil
}

// GetLocation retrieves a driver's last reported position, or nil when the
// driver has no fresh report.
func (r *Registry) GetLocation(ctx context.Context, driverID uuid.UUID) (*DriverLocation, error) {
	data, err := r.redis.Get(ctx, locationKey(driverID)).Result()
	if err != nil {
		return nil, nil
	}

	var loc DriverLocation
	if err := json.Unmarshal([]byte(data), &loc); err != nil {
		return nil, fmt.Errorf("unmarshal driver location: %w", err)
	}
	return &loc, nil
}

func (r *Registry) publishStatus(ctx context.Context, driverID uuid.UUID, status Status) {
	if r.bus == nil || !r.bus.Connected() {
		return
	}

	subject := eventbus.SubjectDriverOnline
	if status == StatusOffline {
		subject = eventbus.SubjectDriverOffline
	}

	event, err := eventbus.NewEvent(subject, "presence", map[string]interface{}{
		"driver_id": driverID.String(),
		"status":    string(status),
	})
	if err != nil {
		logger.Warn("failed to build driver status event", zap.Error(err))
		return
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.bus.Publish(pubCtx, subject, event); err != nil {
			logger.Warn("failed to publish driver status", zap.Error(err))
		}
	}()
}

func statusKey(driverID uuid.UUID) string {
	return driverStatusPrefix + driverID.String()
}

func locationKey(driverID uuid.UUID) string {
	return driverLocationPrefix + driverID.String()
}
