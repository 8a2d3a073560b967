// Package rides is the HTTP surface of the coordination engine: ride
// requests, the acceptance and counter-offer endpoints, lifecycle
// advancement, cancellation, ratings and driver presence.
package rides

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farepact/farepact/internal/candidate"
	"github.com/farepact/farepact/internal/negotiation"
	"github.com/farepact/farepact/internal/presence"
	"github.com/farepact/farepact/internal/ride"
	"github.com/farepact/farepact/pkg/common"
	"github.com/farepact/farepact/pkg/logger"
	"github.com/farepact/farepact/pkg/middleware"
)

// Handler handles HTTP requests for rides.
type Handler struct {
	service  *negotiation.Service
	sessions *candidate.Manager
	presence *presence.Registry
}

// NewHandler creates a new rides handler.
func NewHandler(service *negotiation.Service, sessions *candidate.Manager, registry *presence.Registry) *Handler {
	return &Handler{service: service, sessions: sessions, presence: registry}
}

// CreateRide handles a passenger requesting a ride.
func (h *Handler) CreateRide(c *gin.Context) {
	passengerID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req negotiation.CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.service.CreateRide(c.Request.Context(), passengerID, &req)
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}

	common.CreatedResponse(c, created)
}

// GetRide handles a point read of one ride.
func (h *Handler) GetRide(c *gin.Context) {
	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride ID")
		return
	}

	r, err := h.service.GetRide(c.Request.Context(), rideID, actorID)
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}

	common.SuccessResponse(c, r)
}

// GetCurrentRide returns the caller's active ride, if any.
func (h *Handler) GetCurrentRide(c *gin.Context) {
	actorID, role, ok := h.actor(c)
	if !ok {
		return
	}

	r, err := h.service.CurrentRide(c.Request.Context(), actorID, role)
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}
	if r == nil {
		common.ErrorResponse(c, http.StatusNotFound, "no active ride")
		return
	}

	common.SuccessResponse(c, r)
}

// GetRideHistory pages through the caller's past rides.
func (h *Handler) GetRideHistory(c *gin.Context) {
	actorID, role, ok := h.actor(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	history, err := h.service.History(c.Request.Context(), actorID, role, limit, offset)
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}

	common.SuccessResponseWithMeta(c, history, &common.Meta{
		Limit:  limit,
		Offset: offset,
		Count:  len(history),
	})
}

// AcceptRide handles a driver accepting a ride at its current fare.
func (h *Handler) AcceptRide(c *gin.Context) {
	driverID, rideID, ok := h.driverAndRide(c)
	if !ok {
		return
	}

	r, err := h.service.AcceptRide(c.Request.Context(), rideID, driverID)
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}

	common.SuccessResponse(c, r)
}

// RejectRide records the driver passing on a surfaced ride. The rejection
// only affects this driver's session.
func (h *Handler) RejectRide(c *gin.Context) {
	driverID, rideID, ok := h.driverAndRide(c)
	if !ok {
		return
	}

	session := h.sessions.Get(driverID)
	if session == nil {
		common.AppErrorResponse(c, common.NewUnprocessableError("no active driver session"))
		return
	}

	if err := session.Reject(c.Request.Context(), rideID); err != nil {
		common.AppErrorResponse(c, common.NewUnavailableError("failed to record rejection", err))
		return
	}

	common.SuccessResponse(c, gin.H{"ride_id": rideID, "rejected": true})
}

type counterOfferRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// CounterOffer handles a driver proposing a different price.
func (h *Handler) CounterOffer(c *gin.Context) {
	driverID, rideID, ok := h.driverAndRide(c)
	if !ok {
		return
	}

	var req counterOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	r, err := h.service.ProposeCounterOffer(c.Request.Context(), rideID, driverID, req.Amount)
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}

	common.SuccessResponse(c, r)
}

type resolveCounterOfferRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// ResolveCounterOffer handles the passenger answering an open counter-offer.
func (h *Handler) ResolveCounterOffer(c *gin.Context) {
	passengerID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride ID")
		return
	}

	var req resolveCounterOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	r, err := h.service.ResolveCounterOffer(c.Request.Context(), rideID, passengerID, *req.Accept)
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}

	common.SuccessResponse(c, r)
}

type advanceStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=arrived in_progress completed"`
}

// AdvanceStatus moves an accepted ride forward (arrived, in_progress,
// completed). Only the bound driver may advance.
func (h *Handler) AdvanceStatus(c *gin.Context) {
	driverID, rideID, ok := h.driverAndRide(c)
	if !ok {
		return
	}

	var req advanceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	r, err := h.service.AdvanceStatus(c.Request.Context(), rideID, driverID, ride.Status(req.Status))
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}

	common.SuccessResponse(c, r)
}

// CancelRide handles either party cancelling.
func (h *Handler) CancelRide(c *gin.Context) {
	actorID, role, ok := h.actor(c)
	if !ok {
		return
	}

	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride ID")
		return
	}

	var req negotiation.CancelRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	r, err := h.service.CancelRide(c.Request.Context(), rideID, actorID, role, &req)
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}

	common.SuccessResponse(c, r)
}

type ratingRequest struct {
	Stars    int     `json:"stars" binding:"required,min=1,max=5"`
	Feedback *string `json:"feedback,omitempty"`
}

// RateRide records a rating by one party of a completed ride.
func (h *Handler) RateRide(c *gin.Context) {
	actorID, role, ok := h.actor(c)
	if !ok {
		return
	}

	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride ID")
		return
	}

	var req ratingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	r, err := h.service.SubmitRating(c.Request.Context(), rideID, actorID, role, req.Stars, req.Feedback)
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}

	common.SuccessResponse(c, r)
}

// GetDriverLocation returns the bound driver's last reported position so the
// passenger can track an inbound or in-progress ride.
func (h *Handler) GetDriverLocation(c *gin.Context) {
	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride ID")
		return
	}

	r, err := h.service.GetRide(c.Request.Context(), rideID, actorID)
	if err != nil {
		common.AppErrorResponse(c, mapError(err))
		return
	}
	if r.DriverID == nil {
		common.ErrorResponse(c, http.StatusNotFound, "ride has no driver yet")
		return
	}

	loc, err := h.presence.GetLocation(c.Request.Context(), *r.DriverID)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnavailableError("failed to read driver location", err))
		return
	}
	if loc == nil {
		common.ErrorResponse(c, http.StatusNotFound, "no recent driver location")
		return
	}

	common.SuccessResponse(c, loc)
}

// GetCancellationReasons lists the selectable reason codes for the caller's
// role.
func (h *Handler) GetCancellationReasons(c *gin.Context) {
	_, role, ok := h.actor(c)
	if !ok {
		return
	}

	common.SuccessResponse(c, gin.H{
		"role":    role,
		"reasons": h.service.CancellationReasons(role),
	})
}

type driverStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=available busy offline"`
}

// UpdateDriverStatus sets the driver's availability in the presence
// registry.
func (h *Handler) UpdateDriverStatus(c *gin.Context) {
	driverID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req driverStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.presence.SetStatus(c.Request.Context(), driverID, presence.Status(req.Status)); err != nil {
		common.AppErrorResponse(c, common.NewUnavailableError("failed to update driver status", err))
		return
	}

	// A connected session stops surfacing rides while the driver is away so
	// its countdown cannot expire against an absent driver.
	if session := h.sessions.Get(driverID); session != nil {
		if err := session.SetAvailable(c.Request.Context(), req.Status == string(presence.StatusAvailable)); err != nil {
			logger.WithContext(c.Request.Context()).Warn("failed to update candidate session availability",
				zap.String("driver_id", driverID.String()), zap.Error(err))
		}
	}

	common.SuccessResponse(c, gin.H{"driver_id": driverID, "status": req.Status})
}

// RegisterRoutes registers ride and driver routes.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret string) {
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtSecret))

	rides := api.Group("/rides")
	{
		rides.POST("", middleware.RequireRole(middleware.RolePassenger), h.CreateRide)
		rides.GET("/current", h.GetCurrentRide)
		rides.GET("/history", h.GetRideHistory)
		rides.GET("/cancellation-reasons", h.GetCancellationReasons)
		rides.GET("/:id", h.GetRide)
		rides.GET("/:id/driver-location", h.GetDriverLocation)
		rides.POST("/:id/cancel", h.CancelRide)
		rides.POST("/:id/rating", h.RateRide)

		rides.POST("/:id/resolve", middleware.RequireRole(middleware.RolePassenger), h.ResolveCounterOffer)

		driverOnly := middleware.RequireRole(middleware.RoleDriver)
		rides.POST("/:id/accept", driverOnly, h.AcceptRide)
		rides.POST("/:id/reject", driverOnly, h.RejectRide)
		rides.POST("/:id/counter-offer", driverOnly, h.CounterOffer)
		rides.POST("/:id/status", driverOnly, h.AdvanceStatus)
	}

	drivers := api.Group("/drivers")
	drivers.Use(middleware.RequireRole(middleware.RoleDriver))
	{
		drivers.PUT("/status", h.UpdateDriverStatus)
	}
}

// actor extracts the authenticated user and their ride role.
func (h *Handler) actor(c *gin.Context) (uuid.UUID, ride.Role, bool) {
	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, "", false
	}

	roleStr, err := middleware.GetUserRole(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, "", false
	}

	role := ride.RolePassenger
	if roleStr == middleware.RoleDriver {
		role = ride.RoleDriver
	}
	return actorID, role, true
}

func (h *Handler) driverAndRide(c *gin.Context) (driverID, rideID uuid.UUID, ok bool) {
	driverID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}

	rideID, err = uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride ID")
		return uuid.Nil, uuid.Nil, false
	}

	return driverID, rideID, true
}
