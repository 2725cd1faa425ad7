package link

import "formlink/internal/protocol"

// event is one message on the manager inbox. All pairing-state mutations
// happen by processing these, in arrival order, on a single goroutine.
type event interface {
	isEvent()
}

// newUser registers a fresh user session and asks for its outbox.
type newUser struct {
	userID protocol.UserID
	reply  chan<- registerReply[protocol.UserResponse]
}

// newDevice registers a fresh device session and asks for its outbox.
type newDevice struct {
	deviceID protocol.DeviceID
	reply    chan<- registerReply[protocol.DeviceResponse]
}

// userLink carries a pairing request from a user session.
type userLink struct {
	userID protocol.UserID
	req    protocol.LinkRequest
}

// userDropped reports that a user session has exited.
type userDropped struct {
	userID protocol.UserID
}

// deviceDropped reports that a device session has exited.
type deviceDropped struct {
	deviceID protocol.DeviceID
}

func (newUser) isEvent()       {}
func (newDevice) isEvent()     {}
func (userLink) isEvent()      {}
func (userDropped) isEvent()   {}
func (deviceDropped) isEvent() {}

// registerReply answers a registration exactly once.
type registerReply[T any] struct {
	outbox <-chan T
	err    error
}
