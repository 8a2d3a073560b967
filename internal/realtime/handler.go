package realtime

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/farepact/farepact/internal/candidate"
	"github.com/farepact/farepact/pkg/common"
	"github.com/farepact/farepact/pkg/logger"
	ws "github.com/farepact/farepact/pkg/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks happen in the CORS middleware; tokens are already
		// verified by the auth middleware before the upgrade.
		return true
	},
}

// Handler upgrades authenticated connections into hub sessions.
type Handler struct {
	service *Service
}

// NewHandler creates a realtime handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleWebSocket upgrades the connection and wires the client into the hub.
// Driver connections also start a candidate session.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		common.ErrorResponse(c, http.StatusUnauthorized, "authorization required")
		return
	}
	id, ok := userID.(uuid.UUID)
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, "invalid token claims")
		return
	}

	role := "passenger"
	if r, exists := c.Get("user_role"); exists {
		if roleStr, ok := r.(string); ok && roleStr != "" {
			role = roleStr
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	hub := h.service.GetHub()
	client := ws.NewClient(id.String(), role, conn, hub)
	hub.Register <- client

	// The session's lifetime is the connection's, not the request's: the
	// upgrade handler returns while the pumps keep running.
	var session *candidate.Session
	if role == "driver" {
		session = h.service.OnDriverConnect(context.Background(), id)
	}

	go client.WritePump()
	go func() {
		client.ReadPump()
		if session != nil {
			h.service.OnDriverDisconnect(id, session)
		}
	}()

	logger.Info("websocket connection established",
		zap.String("user_id", id.String()), zap.String("role", role))
}
