// Package realtime bridges the coordination engine to connected passenger
// and driver apps over WebSocket: candidate offers out to drivers, ride
// state changes out to both parties, and driver locations in.
package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farepact/farepact/internal/candidate"
	"github.com/farepact/farepact/internal/presence"
	"github.com/farepact/farepact/internal/ride"
	"github.com/farepact/farepact/pkg/logger"
	ws "github.com/farepact/farepact/pkg/websocket"
)

// Service handles real-time communication.
type Service struct {
	hub      *ws.Hub
	store    ride.Store
	sessions *candidate.Manager
	presence *presence.Registry
}

// NewService creates a realtime service and registers its message handlers.
func NewService(hub *ws.Hub, store ride.Store, sessions *candidate.Manager, registry *presence.Registry) *Service {
	s := &Service{
		hub:      hub,
		store:    store,
		sessions: sessions,
		presence: registry,
	}
	s.registerHandlers()
	return s
}

// GetHub returns the underlying websocket hub.
func (s *Service) GetHub() *ws.Hub {
	return s.hub
}

func (s *Service) registerHandlers() {
	s.hub.RegisterHandler("location_update", s.handleLocationUpdate)
	s.hub.RegisterHandler("join_ride", s.handleJoinRide)
	s.hub.RegisterHandler("leave_ride", s.handleLeaveRide)
}

// Run follows the ride feed and pushes every committed state change into the
// ride's room, so both parties see accepts, counter-offers and cancellations
// as they land.
func (s *Service) Run(ctx context.Context) {
	sub := s.store.Subscribe(func(*ride.Ride) bool { return true })
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-sub.C:
			if !ok {
				return
			}
			s.pushRideUpdate(r)
		}
	}
}

func (s *Service) pushRideUpdate(r *ride.Ride) {
	msg := &ws.Message{
		Type:      "ride_update",
		RideID:    r.ID.String(),
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"ride": r,
		},
	}

	s.hub.SendToRide(r.ID.String(), msg)

	// The passenger may not have joined the room yet (the ride was just
	// created, or the app reconnected). Deliver directly as well; the
	// client de-duplicates on ride id and updated_at.
	s.hub.SendToUser(r.PassengerID.String(), msg)
	if r.DriverID != nil {
		s.hub.SendToUser(r.DriverID.String(), msg)
	}
}

// OnDriverConnect starts a candidate session for the driver and pumps its
// offer events onto the socket. Called by the handler after the connection
// is registered; the returned session identifies this connection's session
// for teardown.
func (s *Service) OnDriverConnect(ctx context.Context, driverID uuid.UUID) *candidate.Session {
	session := s.sessions.Start(ctx, driverID)

	go func() {
		for event := range session.Events() {
			s.pushCandidateEvent(driverID, event)
		}
	}()

	return session
}

// OnDriverDisconnect tears down the connection's candidate session. On a
// reconnect the old connection's disconnect can land after the new
// connection's session started; only the session this connection owns is
// stopped.
func (s *Service) OnDriverDisconnect(driverID uuid.UUID, session *candidate.Session) {
	s.sessions.StopSession(driverID, session)
}

func (s *Service) pushCandidateEvent(driverID uuid.UUID, event candidate.Event) {
	var msgType string
	switch event.Type {
	case candidate.EventSurfaced:
		msgType = "ride_offer"
	case candidate.EventWithdrawn:
		msgType = "ride_offer_withdrawn"
	case candidate.EventExpired:
		msgType = "ride_offer_expired"
	default:
		return
	}

	data := map[string]interface{}{
		"ride": event.Ride,
	}
	if event.ExpiresAt != nil {
		data["expires_at"] = event.ExpiresAt
	}

	s.hub.SendToUser(driverID.String(), &ws.Message{
		Type:      msgType,
		RideID:    event.Ride.ID.String(),
		Timestamp: time.Now(),
		Data:      data,
	})
}

// handleLocationUpdate records a driver position and relays it to the
// passenger when the driver is on a ride.
func (s *Service) handleLocationUpdate(client *ws.Client, msg *ws.Message) {
	if client.Role != "driver" {
		logger.Warn("non-driver attempted location update", zap.String("user_id", client.ID))
		return
	}

	driverID, err := uuid.Parse(client.ID)
	if err != nil {
		return
	}

	lat, latOK := msg.Data["latitude"].(float64)
	lng, lngOK := msg.Data["longitude"].(float64)
	if !latOK || !lngOK {
		logger.Warn("invalid location data", zap.String("driver_id", client.ID))
		return
	}
	heading, _ := msg.Data["heading"].(float64)
	speed, _ := msg.Data["speed"].(float64)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.presence.UpdateLocation(ctx, presence.DriverLocation{
		DriverID:  driverID,
		Latitude:  lat,
		Longitude: lng,
		Heading:   heading,
		Speed:     speed,
	}); err != nil {
		logger.Warn("failed to record driver location",
			zap.String("driver_id", client.ID), zap.Error(err))
	}

	rideID := client.GetRide()
	if rideID == "" {
		return
	}

	for _, peer := range s.hub.ClientsInRide(rideID) {
		if peer.Role != "passenger" {
			continue
		}
		peer.SendMessage(&ws.Message{
			Type:      "driver_location",
			RideID:    rideID,
			UserID:    client.ID,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"latitude":  lat,
				"longitude": lng,
				"heading":   heading,
				"speed":     speed,
			},
		})
	}
}

// handleJoinRide adds the client to a ride room after verifying they are a
// party to the ride.
func (s *Service) handleJoinRide(client *ws.Client, msg *ws.Message) {
	rideID, ok := msg.Data["ride_id"].(string)
	if !ok || rideID == "" {
		return
	}

	id, err := uuid.Parse(rideID)
	if err != nil {
		return
	}
	actorID, err := uuid.Parse(client.ID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		logger.Warn("join_ride for unknown ride",
			zap.String("ride_id", rideID), zap.String("user_id", client.ID))
		return
	}
	if !r.IsParty(actorID) && !(r.OfferedTo != nil && *r.OfferedTo == actorID) {
		logger.Warn("join_ride refused",
			zap.String("ride_id", rideID), zap.String("user_id", client.ID))
		return
	}

	s.hub.JoinRide(client.ID, rideID)
	client.SetRide(rideID)

	client.SendMessage(&ws.Message{
		Type:      "ride_joined",
		RideID:    rideID,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"ride": r},
	})
}

func (s *Service) handleLeaveRide(client *ws.Client, msg *ws.Message) {
	rideID, ok := msg.Data["ride_id"].(string)
	if !ok || rideID == "" {
		rideID = client.GetRide()
	}
	if rideID == "" {
		return
	}

	s.hub.LeaveRide(client.ID, rideID)
	if client.GetRide() == rideID {
		client.SetRide("")
	}
}
