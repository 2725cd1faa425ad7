package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"formlink/internal/ingest"
	"formlink/internal/metrics"
	"formlink/internal/protocol"
	"formlink/pkg/logging"
)

// DeviceLinker is the slice of the link manager a device session drives.
type DeviceLinker interface {
	DeviceDropped(ctx context.Context, id protocol.DeviceID) error
}

// Stream is one running video upload, as the device session sees it.
type Stream interface {
	// Frames appends a batch; false means the worker already exited.
	Frames(frames [][]byte) bool
	Done()
	Cancel()
}

// Starter launches video workers.
type Starter interface {
	Start(userID protocol.UserID, workout protocol.WorkoutType) Stream
}

// PipelineStarter adapts the ingestion pipeline to the Starter interface.
type PipelineStarter struct {
	Pipeline *ingest.Pipeline
}

func (p PipelineStarter) Start(userID protocol.UserID, workout protocol.WorkoutType) Stream {
	return p.Pipeline.Start(userID, workout)
}

// DeviceSession owns one capture-device WebSocket. Inbound traffic is the
// binary video protocol; outbound traffic is pairing notifications.
type DeviceSession struct {
	id      protocol.DeviceID
	conn    Conn
	links   DeviceLinker
	outbox  <-chan protocol.DeviceResponse
	videos  Starter
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewDeviceSession wraps an upgraded connection whose id is already
// registered with the manager; outbox is the channel RegisterDevice returned.
func NewDeviceSession(id protocol.DeviceID, conn Conn, links DeviceLinker, outbox <-chan protocol.DeviceResponse, videos Starter, logger logging.Logger, m *metrics.Metrics) *DeviceSession {
	return &DeviceSession{
		id:      id,
		conn:    conn,
		links:   links,
		outbox:  outbox,
		videos:  videos,
		logger:  logger,
		metrics: m,
	}
}

// Run services the session until the device leaves, violates the protocol,
// goes idle or the context ends. A video still streaming when the session
// ends is canceled; one already marked done keeps finalizing on its own.
// Pairing state never gates the video protocol: a stream survives unpairing
// and finalizes on Done.
func (s *DeviceSession) Run(ctx context.Context) {
	log := s.logger.WithField("device_id", s.id)
	log.Info("Device session started")
	s.metrics.SessionStarted("device")

	var stream Stream

	defer func() {
		if stream != nil {
			stream.Cancel()
		}
		if err := s.links.DeviceDropped(context.Background(), s.id); err != nil {
			log.WithError(err).Error("Failed to report device drop")
		}
		s.metrics.SessionEnded("device")
		log.Info("Device session ended")
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

	for {
		select {
		case <-ctx.Done():
			return

		case <-idle.C:
			log.Info("Device session idle, closing")
			return

		case msg, ok := <-wire:
			if !ok {
				return
			}
			resetIdle(idle)

			req, err := protocol.DecodeVideoRequest(msg.data)
			if err != nil {
				log.WithError(err).Warn("Invalid device request, closing session")
				return
			}

			switch req := req.(type) {
			case protocol.StartRequest:
				if stream != nil {
					log.Warn("Start while a video is streaming, closing session")
					return
				}
				stream = s.videos.Start(req.UserID, req.WorkoutType)
				log.WithFields(logging.Fields{
					"user_id": req.UserID,
					"workout": req.WorkoutType,
				}).Info("Video stream started")

			case protocol.FramesRequest:
				if stream == nil {
					log.Warn("Frames without a video stream, closing session")
					return
				}
				if !stream.Frames(req.Frames) {
					log.Warn("Video worker died, closing session")
					return
				}

			case protocol.DoneRequest:
				if stream == nil {
					log.Warn("Done without a video stream, closing session")
					return
				}
				stream.Done()
				stream = nil
				log.Info("Video stream completed")

			case protocol.CancelRequest:
				// Cancel is valid at any time and a no-op when idle.
				if stream != nil {
					stream.Cancel()
					stream = nil
					log.Info("Video stream canceled")
				}
			}

		case res, ok := <-s.outbox:
			if !ok {
				return
			}

			if err := s.writeJSON(res); err != nil {
				log.WithError(err).Warn("Failed to write to device, closing session")
				return
			}
		}
	}
}

func (s *DeviceSession) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
