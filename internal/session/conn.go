// Package session runs the per-connection actors. Each WebSocket gets one
// goroutine that owns the socket, talks to the link manager through its
// registered outbox, and enforces the client-side protocol state machine.
package session

import (
	"time"
)

const (
	// idleTimeout ends a session that has not sent a wire message for this
	// long. Manager traffic does not count as liveness.
	idleTimeout = 20 * time.Second

	writeTimeout = 10 * time.Second
)

// Conn is the subset of *websocket.Conn the session actors use.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type wireMessage struct {
	kind int
	data []byte
}

// readLoop pumps inbound messages into a channel so the session loop can
// select over the socket, the manager outbox and the idle timer at once.
// The channel closes when the socket errors; closing the conn unblocks it.
func readLoop(conn Conn) <-chan wireMessage {
	ch := make(chan wireMessage)
	go func() {
		defer close(ch)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ch <- wireMessage{kind: kind, data: data}
		}
	}()
	return ch
}

// resetIdle rearms the idle timer after a wire message.
func resetIdle(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(idleTimeout)
}
