// Package handlers exposes the HTTP surface: one WebSocket endpoint per
// client role and a trivial root probe.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"formlink/internal/link"
	"formlink/internal/metrics"
	"formlink/internal/protocol"
	"formlink/internal/session"
	"formlink/pkg/logging"
)

// Handlers wires incoming connections to session actors.
type Handlers struct {
	manager  *link.Manager
	videos   session.Starter
	logger   logging.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// New creates the handler set.
func New(manager *link.Manager, videos session.Starter, logger logging.Logger, m *metrics.Metrics) *Handlers {
	return &Handlers{
		manager: manager,
		videos:  videos,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are native apps and embedded boards, not browsers;
			// there is no origin to enforce.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes attaches the service endpoints to the router.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.Hello)
	router.GET("/user", h.UserWebSocket)
	router.GET("/device", h.DeviceWebSocket)
}

// Hello answers the root probe.
func (h *Handlers) Hello(c *gin.Context) {
	c.String(http.StatusOK, "Hello, world!")
}

// UserWebSocket upgrades a user client connection. The id is claimed with
// the link manager before the upgrade so a duplicate is refused with a plain
// HTTP error instead of a doomed WebSocket.
func (h *Handlers) UserWebSocket(c *gin.Context) {
	id := protocol.UserID(c.Query("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing id query parameter"})
		return
	}

	outbox, err := h.manager.RegisterUser(c.Request.Context(), id)
	if err != nil {
		h.rejectRegistration(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("User WebSocket upgrade failed")
		// Release the claimed id; the session never started.
		if err := h.manager.UserDropped(context.Background(), id); err != nil {
			h.logger.WithError(err).Error("Failed to release user id")
		}
		return
	}

	// The session outlives the HTTP machinery once the socket is hijacked.
	s := session.NewUserSession(id, conn, h.manager, outbox, h.logger, h.metrics)
	s.Run(context.Background())
}

// DeviceWebSocket upgrades a capture-device connection.
func (h *Handlers) DeviceWebSocket(c *gin.Context) {
	id := protocol.DeviceID(c.Query("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing id query parameter"})
		return
	}

	outbox, err := h.manager.RegisterDevice(c.Request.Context(), id)
	if err != nil {
		h.rejectRegistration(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Device WebSocket upgrade failed")
		if err := h.manager.DeviceDropped(context.Background(), id); err != nil {
			h.logger.WithError(err).Error("Failed to release device id")
		}
		return
	}

	s := session.NewDeviceSession(id, conn, h.manager, outbox, h.videos, h.logger, h.metrics)
	s.Run(context.Background())
}

func (h *Handlers) rejectRegistration(c *gin.Context, err error) {
	if errors.Is(err, link.ErrDuplicateID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "The ID already exists"})
		return
	}
	h.logger.WithError(err).Error("Session registration failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
}
