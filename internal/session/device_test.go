package session

import (
	"context"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formlink/internal/protocol"
)

type deviceLinksRecorder struct {
	drops chan protocol.DeviceID
}

func (r *deviceLinksRecorder) DeviceDropped(ctx context.Context, id protocol.DeviceID) error {
	r.drops <- id
	return nil
}

type streamRecorder struct {
	mu       sync.Mutex
	refuse   bool
	batches  [][][]byte
	done     bool
	canceled bool
}

func (s *streamRecorder) Frames(frames [][]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse {
		return false
	}
	s.batches = append(s.batches, frames)
	return true
}

func (s *streamRecorder) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}

func (s *streamRecorder) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = true
}

type starterRecorder struct {
	starts       chan protocol.UserID
	refuseFrames bool
	streams      []*streamRecorder
}

func newStarterRecorder() *starterRecorder {
	return &starterRecorder{starts: make(chan protocol.UserID, 8)}
}

func (r *starterRecorder) Start(userID protocol.UserID, workout protocol.WorkoutType) Stream {
	s := &streamRecorder{refuse: r.refuseFrames}
	r.streams = append(r.streams, s)
	r.starts <- userID
	return s
}

func startDeviceSession(t *testing.T) (*fakeConn, *deviceLinksRecorder, chan protocol.DeviceResponse, *starterRecorder, chan struct{}) {
	t.Helper()
	conn := newFakeConn()
	links := &deviceLinksRecorder{drops: make(chan protocol.DeviceID, 8)}
	outbox := make(chan protocol.DeviceResponse, 8)
	starter := newStarterRecorder()
	s := NewDeviceSession("cam-1", conn, links, outbox, starter, testLogger(), nil)
	done := runSession(s.Run)
	return conn, links, outbox, starter, done
}

func sendVideo(t *testing.T, conn *fakeConn, req protocol.VideoRequest) {
	t.Helper()
	data, err := protocol.EncodeVideoRequest(req)
	require.NoError(t, err)
	conn.in <- wireMessage{kind: websocket.BinaryMessage, data: data}
}

func pairDevice(t *testing.T, conn *fakeConn, outbox chan protocol.DeviceResponse, userID protocol.UserID) {
	t.Helper()
	outbox <- protocol.DeviceConnected(userID)
	msg := recv(t, conn.out)
	assert.JSONEq(t, `{"Connected":{"user_id":"`+string(userID)+`"}}`, string(msg.data))
}

func TestDeviceSessionVideoFlow(t *testing.T) {
	conn, links, outbox, starter, done := startDeviceSession(t)

	pairDevice(t, conn, outbox, "alice")

	sendVideo(t, conn, protocol.StartRequest{UserID: "alice", WorkoutType: protocol.WorkoutSquat})
	assert.Equal(t, protocol.UserID("alice"), recv(t, starter.starts))

	frames := [][]byte{make([]byte, protocol.FrameSize)}
	sendVideo(t, conn, protocol.FramesRequest{Frames: frames})
	sendVideo(t, conn, protocol.DoneRequest{})

	// A second video on the same pairing is fine once the first is done.
	sendVideo(t, conn, protocol.StartRequest{UserID: "alice", WorkoutType: protocol.WorkoutPushup})
	recv(t, starter.starts)

	conn.leave()
	waitDone(t, done)
	assert.Equal(t, protocol.DeviceID("cam-1"), recv(t, links.drops))

	require.Len(t, starter.streams, 2)
	first := starter.streams[0]
	first.mu.Lock()
	assert.Len(t, first.batches, 1)
	assert.True(t, first.done)
	assert.False(t, first.canceled)
	first.mu.Unlock()

	// The second video was still streaming when the device left.
	second := starter.streams[1]
	second.mu.Lock()
	assert.False(t, second.done)
	assert.True(t, second.canceled)
	second.mu.Unlock()
}

func TestDeviceSessionStartIsNotGatedByPairing(t *testing.T) {
	conn, links, _, starter, done := startDeviceSession(t)

	// The video protocol is independent of the pairing substate: Start
	// spawns a worker for whichever user the device names.
	sendVideo(t, conn, protocol.StartRequest{UserID: "alice", WorkoutType: protocol.WorkoutSquat})
	assert.Equal(t, protocol.UserID("alice"), recv(t, starter.starts))

	conn.leave()
	waitDone(t, done)
	recv(t, links.drops)
}

func TestDeviceSessionFramesWithoutStream(t *testing.T) {
	conn, links, outbox, _, done := startDeviceSession(t)

	pairDevice(t, conn, outbox, "alice")

	sendVideo(t, conn, protocol.FramesRequest{Frames: [][]byte{make([]byte, protocol.FrameSize)}})
	waitDone(t, done)
	recv(t, links.drops)
}

func TestDeviceSessionCancelWhenIdleIsNoop(t *testing.T) {
	conn, links, outbox, starter, done := startDeviceSession(t)

	pairDevice(t, conn, outbox, "alice")

	sendVideo(t, conn, protocol.CancelRequest{})

	// Session is still alive and accepts a start.
	sendVideo(t, conn, protocol.StartRequest{UserID: "alice", WorkoutType: protocol.WorkoutSquat})
	recv(t, starter.starts)

	conn.leave()
	waitDone(t, done)
	recv(t, links.drops)
}

func TestDeviceSessionCancelAbortsStream(t *testing.T) {
	conn, links, outbox, starter, done := startDeviceSession(t)

	pairDevice(t, conn, outbox, "alice")
	sendVideo(t, conn, protocol.StartRequest{UserID: "alice", WorkoutType: protocol.WorkoutSquat})
	recv(t, starter.starts)

	sendVideo(t, conn, protocol.CancelRequest{})

	// The slot is free again.
	sendVideo(t, conn, protocol.StartRequest{UserID: "alice", WorkoutType: protocol.WorkoutSquat})
	recv(t, starter.starts)

	conn.leave()
	waitDone(t, done)
	recv(t, links.drops)

	first := starter.streams[0]
	first.mu.Lock()
	assert.True(t, first.canceled)
	assert.False(t, first.done)
	first.mu.Unlock()
}

func TestDeviceSessionStreamSurvivesUnpairing(t *testing.T) {
	conn, links, outbox, starter, done := startDeviceSession(t)

	pairDevice(t, conn, outbox, "alice")
	sendVideo(t, conn, protocol.StartRequest{UserID: "alice", WorkoutType: protocol.WorkoutSquat})
	recv(t, starter.starts)
	sendVideo(t, conn, protocol.FramesRequest{Frames: [][]byte{make([]byte, protocol.FrameSize)}})

	// The user walks away mid-recording. The frames already captured
	// still belong to them; the video keeps streaming and finalizes.
	outbox <- protocol.DeviceDisconnected()
	msg := recv(t, conn.out)
	assert.JSONEq(t, `"Disconnected"`, string(msg.data))

	sendVideo(t, conn, protocol.DoneRequest{})

	conn.leave()
	waitDone(t, done)
	recv(t, links.drops)

	first := starter.streams[0]
	first.mu.Lock()
	assert.True(t, first.done)
	assert.False(t, first.canceled)
	assert.Len(t, first.batches, 1)
	first.mu.Unlock()
}

func TestDeviceSessionEndsWhenWorkerDies(t *testing.T) {
	conn, links, outbox, starter, done := startDeviceSession(t)
	starter.refuseFrames = true

	pairDevice(t, conn, outbox, "alice")
	sendVideo(t, conn, protocol.StartRequest{UserID: "alice", WorkoutType: protocol.WorkoutSquat})
	recv(t, starter.starts)

	// The worker is gone; the refused push ends the session instead of
	// letting frames pile up with no consumer.
	sendVideo(t, conn, protocol.FramesRequest{Frames: [][]byte{make([]byte, protocol.FrameSize)}})
	waitDone(t, done)
	recv(t, links.drops)
}

func TestDeviceSessionMalformedRequestEndsSession(t *testing.T) {
	conn, links, _, _, done := startDeviceSession(t)

	conn.in <- wireMessage{kind: websocket.BinaryMessage, data: []byte{0xFF, 0x00}}
	waitDone(t, done)
	recv(t, links.drops)
}

func TestDeviceSessionEndsWhenOutboxCloses(t *testing.T) {
	_, links, outbox, _, done := startDeviceSession(t)

	close(outbox)
	waitDone(t, done)
	recv(t, links.drops)
}
