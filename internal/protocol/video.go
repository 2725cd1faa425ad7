package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// VideoRequest is a binary message from a capture device driving one video
// upload. Exactly one of the concrete types below.
type VideoRequest interface {
	isVideoRequest()
}

// StartRequest opens a new video stream on behalf of a paired user.
type StartRequest struct {
	UserID      UserID
	WorkoutType WorkoutType
}

// FramesRequest carries a batch of raw RGB565 frames.
type FramesRequest struct {
	Frames [][]byte
}

// DoneRequest marks the end of a successful video stream.
type DoneRequest struct{}

// CancelRequest aborts whatever video is currently being streamed, if any.
type CancelRequest struct{}

func (StartRequest) isVideoRequest()  {}
func (FramesRequest) isVideoRequest() {}
func (DoneRequest) isVideoRequest()   {}
func (CancelRequest) isVideoRequest() {}

// Wire operation codes.
const (
	opStart uint8 = iota + 1
	opFrames
	opDone
	opCancel
)

// videoEnvelope is the CBOR shape of a VideoRequest. Integer keys keep the
// encoding compact on the embedded sender.
type videoEnvelope struct {
	Op      uint8    `cbor:"1,keyasint"`
	UserID  string   `cbor:"2,keyasint,omitempty"`
	Workout string   `cbor:"3,keyasint,omitempty"`
	Frames  [][]byte `cbor:"4,keyasint,omitempty"`
}

var (
	videoEncMode cbor.EncMode
	videoDecMode cbor.DecMode
)

func init() {
	var err error
	videoEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	decOpts := cbor.DecOptions{
		// Devices send a few dozen frames per batch; cap the array size
		// well below the library default so a bad client cannot ask for
		// huge allocations.
		MaxArrayElements: 1024,
	}
	videoDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodeVideoRequest serializes a VideoRequest to its binary wire form.
func EncodeVideoRequest(req VideoRequest) ([]byte, error) {
	var env videoEnvelope

	switch r := req.(type) {
	case StartRequest:
		env = videoEnvelope{Op: opStart, UserID: string(r.UserID), Workout: string(r.WorkoutType)}
	case FramesRequest:
		env = videoEnvelope{Op: opFrames, Frames: r.Frames}
	case DoneRequest:
		env = videoEnvelope{Op: opDone}
	case CancelRequest:
		env = videoEnvelope{Op: opCancel}
	default:
		return nil, fmt.Errorf("unknown video request type %T", req)
	}

	return videoEncMode.Marshal(env)
}

// DecodeVideoRequest parses and validates a binary VideoRequest.
func DecodeVideoRequest(data []byte) (VideoRequest, error) {
	var env videoEnvelope
	if err := videoDecMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed video request: %w", err)
	}

	switch env.Op {
	case opStart:
		if env.UserID == "" {
			return nil, fmt.Errorf("start request without user id")
		}
		workout, err := ParseWorkoutType(env.Workout)
		if err != nil {
			return nil, err
		}
		return StartRequest{UserID: UserID(env.UserID), WorkoutType: workout}, nil
	case opFrames:
		// An empty batch is legal and a no-op downstream.
		for i, frame := range env.Frames {
			if len(frame) != FrameSize {
				return nil, fmt.Errorf("frame %d has %d bytes, want %d", i, len(frame), FrameSize)
			}
		}
		return FramesRequest{Frames: env.Frames}, nil
	case opDone:
		return DoneRequest{}, nil
	case opCancel:
		return CancelRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown video request op: %d", env.Op)
	}
}
