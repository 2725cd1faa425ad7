// Package link implements the authoritative user/device pairing state.
//
// A single Manager goroutine owns both maps; session actors talk to it only
// through the inbox and receive responses on bounded per-session outboxes.
package link

import (
	"context"
	"errors"

	"formlink/internal/metrics"
	"formlink/internal/protocol"
	"formlink/pkg/logging"
)

// ChannelSize bounds the manager inbox and every per-session outbox.
const ChannelSize = 32

// ErrDuplicateID is returned when a session registers an id that is already
// taken.
var ErrDuplicateID = errors.New("the ID already exists")

// Invariant breaches. Any of these terminates Run: the session actors'
// state machines should have made them impossible.
var (
	errNoUserEntry      = errors.New("user entry should exist but doesn't")
	errNoDeviceEntry    = errors.New("device entry should exist but doesn't")
	errHasDevice        = errors.New("user should not have a matching device")
	errHasUser          = errors.New("device should not have a matching user")
	errDisconnectedUser = errors.New("user is already disconnected but shouldn't be")
	errNoMatchingUser   = errors.New("expected matching connected user ID")
	errNoMatchingDevice = errors.New("expected matching connected device ID")
)

type userConnState int

const (
	userDisconnected userConnState = iota
	userConnected
	// userDroppedState means the paired device vanished; the user may not
	// pair again on this session.
	userDroppedState
)

type userEntry struct {
	state    userConnState
	deviceID protocol.DeviceID // set while state == userConnected
	outbox   chan protocol.UserResponse
}

type deviceEntry struct {
	connected bool
	userID    protocol.UserID // set while connected
	outbox    chan protocol.DeviceResponse
}

// Manager is the single-writer pairing state machine.
type Manager struct {
	inbox   chan event
	users   map[protocol.UserID]*userEntry
	devices map[protocol.DeviceID]*deviceEntry
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewManager creates a manager. Run must be started before any session
// registers.
func NewManager(logger logging.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		inbox:   make(chan event, ChannelSize),
		users:   make(map[protocol.UserID]*userEntry),
		devices: make(map[protocol.DeviceID]*deviceEntry),
		logger:  logger,
		metrics: m,
	}
}

// Run consumes the inbox until the context ends or an invariant is breached.
// An invariant breach is a bug; the returned error is meant to abort the
// process.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.inbox:
			if err := m.handle(ev); err != nil {
				m.logger.WithError(err).Error("Link manager invariant breached")
				return err
			}
		}
	}
}

func (m *Manager) handle(ev event) error {
	switch ev := ev.(type) {
	case newUser:
		m.metrics.LinkEvent("new_user")
		m.handleNewUser(ev)
	case newDevice:
		m.metrics.LinkEvent("new_device")
		m.handleNewDevice(ev)
	case userLink:
		return m.handleUserLink(ev)
	case userDropped:
		m.metrics.LinkEvent("user_dropped")
		return m.handleUserDropped(ev.userID)
	case deviceDropped:
		m.metrics.LinkEvent("device_dropped")
		return m.handleDeviceDropped(ev.deviceID)
	}
	return nil
}

func (m *Manager) handleNewUser(ev newUser) {
	if _, exists := m.users[ev.userID]; exists {
		ev.reply <- registerReply[protocol.UserResponse]{err: ErrDuplicateID}
		return
	}

	outbox := make(chan protocol.UserResponse, ChannelSize)
	m.users[ev.userID] = &userEntry{state: userDisconnected, outbox: outbox}
	m.logger.WithField("user_id", ev.userID).Debug("User registered")
	ev.reply <- registerReply[protocol.UserResponse]{outbox: outbox}
}

func (m *Manager) handleNewDevice(ev newDevice) {
	if _, exists := m.devices[ev.deviceID]; exists {
		ev.reply <- registerReply[protocol.DeviceResponse]{err: ErrDuplicateID}
		return
	}

	outbox := make(chan protocol.DeviceResponse, ChannelSize)
	m.devices[ev.deviceID] = &deviceEntry{outbox: outbox}
	m.logger.WithField("device_id", ev.deviceID).Debug("Device registered")
	ev.reply <- registerReply[protocol.DeviceResponse]{outbox: outbox}
}

func (m *Manager) handleUserLink(ev userLink) error {
	user, ok := m.users[ev.userID]
	if !ok {
		return errNoUserEntry
	}

	switch ev.req.Type {
	case protocol.LinkConnect:
		m.metrics.LinkEvent("connect")
		return m.connect(ev.userID, user, ev.req.DeviceID)
	case protocol.LinkDisconnect:
		m.metrics.LinkEvent("disconnect")
		return m.disconnect(ev.userID, user)
	}
	return nil
}

func (m *Manager) connect(userID protocol.UserID, user *userEntry, deviceID protocol.DeviceID) error {
	m.logger.WithFields(logging.Fields{
		"user_id":   userID,
		"device_id": deviceID,
	}).Debug("Connect requested")

	// A dropped user reaches here through a legitimate race: its session
	// returned to the disconnected state when it forwarded the drop, so a
	// fresh connect passes the session's own filter. Dropped users may not
	// re-pair on this session; re-assert the drop instead.
	if user.state == userDroppedState {
		m.logger.WithField("user_id", userID).Warn("Connect from dropped user refused")
		m.sendUser(userID, user, protocol.UserResponse{Status: protocol.StatusDropped})
		return nil
	}

	device, ok := m.devices[deviceID]
	if !ok {
		m.sendUser(userID, user, protocol.UserResponse{Status: protocol.StatusNoSuchDevice})
		return nil
	}

	if user.state == userConnected {
		return errHasDevice
	}
	if device.connected {
		return errHasUser
	}

	user.state = userConnected
	user.deviceID = deviceID
	m.sendUser(userID, user, protocol.UserResponse{Status: protocol.StatusConnected, DeviceID: deviceID})

	device.connected = true
	device.userID = userID
	m.sendDevice(deviceID, device, protocol.DeviceConnected(userID))

	return nil
}

func (m *Manager) disconnect(userID protocol.UserID, user *userEntry) error {
	m.logger.WithField("user_id", userID).Debug("Disconnect requested")

	switch user.state {
	case userDroppedState:
		// The device already vanished and the user was told; absorb the
		// late disconnect without another notification.
		user.state = userDisconnected
		user.deviceID = ""
		return nil
	case userDisconnected:
		return errDisconnectedUser
	}

	device, ok := m.devices[user.deviceID]
	if !ok {
		return errNoDeviceEntry
	}
	if !device.connected || device.userID != userID {
		return errNoMatchingUser
	}

	deviceID := user.deviceID
	user.state = userDisconnected
	user.deviceID = ""
	m.sendUser(userID, user, protocol.UserResponse{Status: protocol.StatusDisconnected})

	device.connected = false
	device.userID = ""
	m.sendDevice(deviceID, device, protocol.DeviceDisconnected())

	return nil
}

func (m *Manager) handleUserDropped(userID protocol.UserID) error {
	m.logger.WithField("user_id", userID).Debug("User dropped the connection")

	user, ok := m.users[userID]
	if !ok {
		return errNoUserEntry
	}

	if user.state == userConnected {
		device, ok := m.devices[user.deviceID]
		if !ok {
			return errNoDeviceEntry
		}
		if !device.connected || device.userID != userID {
			return errNoMatchingUser
		}

		device.connected = false
		device.userID = ""
		m.sendDevice(user.deviceID, device, protocol.DeviceDisconnected())
	}

	delete(m.users, userID)
	close(user.outbox)
	return nil
}

func (m *Manager) handleDeviceDropped(deviceID protocol.DeviceID) error {
	m.logger.WithField("device_id", deviceID).Debug("Device dropped the connection")

	device, ok := m.devices[deviceID]
	if !ok {
		return errNoDeviceEntry
	}

	if device.connected {
		user, ok := m.users[device.userID]
		if !ok {
			return errNoUserEntry
		}
		if user.state != userConnected || user.deviceID != deviceID {
			return errNoMatchingDevice
		}

		// The device side is the scarcer resource. Park the user in the
		// dropped state so a late user-initiated disconnect is absorbed
		// instead of tripping an invariant.
		user.state = userDroppedState
		user.deviceID = ""
		m.sendUser(device.userID, user, protocol.UserResponse{Status: protocol.StatusDropped})
	}

	delete(m.devices, deviceID)
	close(device.outbox)
	return nil
}

// sendUser delivers a response without ever blocking the manager. A full
// outbox means the session is wedged; it will drop soon and clean up.
func (m *Manager) sendUser(id protocol.UserID, user *userEntry, res protocol.UserResponse) {
	select {
	case user.outbox <- res:
	default:
		m.metrics.OutboxDrop("user")
		m.logger.WithFields(logging.Fields{
			"user_id": id,
			"status":  res.Status,
		}).Warn("User outbox full, dropping response")
	}
}

func (m *Manager) sendDevice(id protocol.DeviceID, device *deviceEntry, res protocol.DeviceResponse) {
	select {
	case device.outbox <- res:
	default:
		m.metrics.OutboxDrop("device")
		m.logger.WithField("device_id", id).Warn("Device outbox full, dropping response")
	}
}

// RegisterUser announces a new user session and returns its response outbox.
// The outbox is closed when the manager removes the user entry.
func (m *Manager) RegisterUser(ctx context.Context, id protocol.UserID) (<-chan protocol.UserResponse, error) {
	reply := make(chan registerReply[protocol.UserResponse], 1)
	if err := m.send(ctx, newUser{userID: id, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-reply:
		return r.outbox, r.err
	}
}

// RegisterDevice announces a new device session and returns its outbox.
func (m *Manager) RegisterDevice(ctx context.Context, id protocol.DeviceID) (<-chan protocol.DeviceResponse, error) {
	reply := make(chan registerReply[protocol.DeviceResponse], 1)
	if err := m.send(ctx, newDevice{deviceID: id, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-reply:
		return r.outbox, r.err
	}
}

// Link forwards a validated pairing request from a user session.
func (m *Manager) Link(ctx context.Context, id protocol.UserID, req protocol.LinkRequest) error {
	return m.send(ctx, userLink{userID: id, req: req})
}

// UserDropped reports that the user session has exited. Must be called
// exactly once per successful RegisterUser.
func (m *Manager) UserDropped(ctx context.Context, id protocol.UserID) error {
	return m.send(ctx, userDropped{userID: id})
}

// DeviceDropped reports that the device session has exited. Must be called
// exactly once per successful RegisterDevice.
func (m *Manager) DeviceDropped(ctx context.Context, id protocol.DeviceID) error {
	return m.send(ctx, deviceDropped{deviceID: id})
}

func (m *Manager) send(ctx context.Context, ev event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.inbox <- ev:
		return nil
	}
}
