package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"formlink/internal/metrics"
	"formlink/internal/protocol"
	"formlink/pkg/logging"
)

// UserLinker is the slice of the link manager a user session drives.
type UserLinker interface {
	Link(ctx context.Context, id protocol.UserID, req protocol.LinkRequest) error
	UserDropped(ctx context.Context, id protocol.UserID) error
}

// linkState tracks where the user sits in the pairing handshake. The session
// filters wire requests so only manager-legal transitions ever reach the
// inbox; out-of-state requests are absorbed, undecodable ones end the session.
type linkState int

const (
	linkDisconnected linkState = iota
	linkPendingConnect
	linkConnected
	linkPendingDisconnect
)

// UserSession owns one user WebSocket.
type UserSession struct {
	id      protocol.UserID
	conn    Conn
	links   UserLinker
	outbox  <-chan protocol.UserResponse
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewUserSession wraps an upgraded connection whose id is already registered
// with the manager; outbox is the channel RegisterUser returned.
func NewUserSession(id protocol.UserID, conn Conn, links UserLinker, outbox <-chan protocol.UserResponse, logger logging.Logger, m *metrics.Metrics) *UserSession {
	return &UserSession{
		id:      id,
		conn:    conn,
		links:   links,
		outbox:  outbox,
		logger:  logger,
		metrics: m,
	}
}

// Run services the session until the client leaves, violates the protocol,
// goes idle or the context ends. It always reports the drop to the manager
// before returning.
func (s *UserSession) Run(ctx context.Context) {
	log := s.logger.WithField("user_id", s.id)
	log.Info("User session started")
	s.metrics.SessionStarted("user")

	defer func() {
		// The drop must reach the manager even when ctx is already done,
		// otherwise the id leaks forever.
		if err := s.links.UserDropped(context.Background(), s.id); err != nil {
			log.WithError(err).Error("Failed to report user drop")
		}
		s.metrics.SessionEnded("user")
		log.Info("User session ended")
	}()

	wire := readLoop(s.conn)
	defer func() {
		// Failing the pump's read is not enough: a message already read
		// may be parked on the channel send. Drain until the pump exits.
		s.conn.Close()
		for range wire {
		}
	}()

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	state := linkDisconnected
	for {
		select {
		case <-ctx.Done():
			return

		case <-idle.C:
			log.Info("User session idle, closing")
			return

		case msg, ok := <-wire:
			if !ok {
				return
			}
			resetIdle(idle)

			req, err := protocol.ParseLinkRequest(msg.data)
			if err != nil {
				log.WithError(err).Warn("Invalid user request, closing session")
				return
			}

			next, ok := nextOnRequest(state, req.Type)
			if !ok {
				// Peer desync, for example a disconnect sent before the
				// client learned its device dropped. Absorb it.
				log.WithFields(logging.Fields{
					"request": req.Type,
					"state":   state,
				}).Warn("User request out of state, ignoring")
				continue
			}
			if err := s.links.Link(ctx, s.id, req); err != nil {
				return
			}
			state = next

		case res, ok := <-s.outbox:
			if !ok {
				// Manager removed the entry; nothing left to do here.
				return
			}

			next, ok := nextOnResponse(state, res.Status)
			if !ok {
				log.WithFields(logging.Fields{
					"status": res.Status,
					"state":  state,
				}).Error("Unexpected pairing response, ignoring")
				continue
			}
			if err := s.writeJSON(res); err != nil {
				log.WithError(err).Warn("Failed to write to user, closing session")
				return
			}
			state = next
		}
	}
}

// nextOnRequest admits a wire request and yields the awaiting state.
func nextOnRequest(state linkState, req protocol.LinkRequestType) (linkState, bool) {
	switch {
	case req == protocol.LinkConnect && state == linkDisconnected:
		return linkPendingConnect, true
	case req == protocol.LinkDisconnect && state == linkConnected:
		return linkPendingDisconnect, true
	}
	return state, false
}

// nextOnResponse admits a manager response and yields the settled state.
// Dropped can land in any state: the device may vanish while a disconnect
// is in flight, or re-assert after a refused connect.
func nextOnResponse(state linkState, status protocol.UserStatus) (linkState, bool) {
	switch status {
	case protocol.StatusConnected:
		return linkConnected, state == linkPendingConnect
	case protocol.StatusNoSuchDevice:
		return linkDisconnected, state == linkPendingConnect
	case protocol.StatusDisconnected:
		return linkDisconnected, state == linkPendingDisconnect
	case protocol.StatusDropped:
		return linkDisconnected, true
	}
	return state, false
}

func (s *UserSession) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
