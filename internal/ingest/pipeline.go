// Package ingest turns a device's frame stream into persisted artifacts:
// decoded PNG frames, an analyzed mp4 in blob storage, and a patched workout
// entry in the document store.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"formlink/internal/metrics"
	"formlink/internal/protocol"
	"formlink/internal/store"
	"formlink/pkg/logging"
)

// nameWidth is the zero-padding of frame file names ("0042.png"). The
// predictor receives the matching printf pattern.
const nameWidth = 4

// Pipeline spawns one worker per video stream.
type Pipeline struct {
	workouts store.WorkoutStore
	blobs    store.BlobStore
	analyzer Analyzer

	// videoRoot holds per-video working directories ({id}.d) and the
	// analyzer's mp4 output ({id}.mp4).
	videoRoot string

	logger  logging.Logger
	metrics *metrics.Metrics

	// decodeWorkers bounds the CPU-bound parallel frame decode.
	decodeWorkers int
}

// NewPipeline wires a pipeline over its external collaborators.
func NewPipeline(workouts store.WorkoutStore, blobs store.BlobStore, analyzer Analyzer, videoRoot string, logger logging.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		workouts:      workouts,
		blobs:         blobs,
		analyzer:      analyzer,
		videoRoot:     videoRoot,
		logger:        logger,
		metrics:       m,
		decodeWorkers: runtime.NumCPU(),
	}
}

// Stream is a device session's handle on one running video worker. Pushes
// never block; closing the stream without Done cancels the worker.
type Stream struct {
	q        *partQueue
	finished chan struct{}
}

// Frames appends one batch of raw frames to the stream. A false return means
// the worker has already exited and the video is dead.
func (s *Stream) Frames(frames [][]byte) bool {
	return s.q.push(part{frames: frames})
}

// Done marks the stream complete; the worker proceeds to finalize.
func (s *Stream) Done() {
	s.q.push(part{done: true})
	s.q.close()
}

// Cancel aborts the stream; the worker observes closure and cleans up.
// Safe to call more than once.
func (s *Stream) Cancel() {
	s.q.close()
}

// Finished is closed when the worker has fully exited.
func (s *Stream) Finished() <-chan struct{} {
	return s.finished
}

// Start launches a worker for one video on behalf of a paired user. The
// worker owns a fresh video id and working directory for its whole lifetime.
func (p *Pipeline) Start(userID protocol.UserID, workout protocol.WorkoutType) *Stream {
	s := &Stream{q: newPartQueue(), finished: make(chan struct{})}

	go func() {
		defer close(s.finished)
		p.run(s.q, userID, workout)
	}()

	return s
}

func (p *Pipeline) run(q *partQueue, userID protocol.UserID, workout protocol.WorkoutType) {
	// Whatever ends this worker, refuse further pushes so the producer
	// does not feed a queue nobody drains.
	defer q.close()

	videoID := protocol.VideoID(uuid.New().String())
	dir := filepath.Join(p.videoRoot, string(videoID)+".d")

	log := p.logger.WithFields(logging.Fields{
		"video_id": videoID,
		"user_id":  userID,
		"workout":  workout,
	})

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithError(err).Error("Failed to create video working directory")
		p.metrics.VideoFinished("failed")
		return
	}

	count := 0
	for {
		pt, ok := q.pop()
		if !ok {
			// Stream canceled: the device went away or sent Cancel.
			log.WithField("frames", count).Debug("Video stream canceled")
			p.cleanup(dir, videoID)
			p.metrics.VideoFinished("canceled")
			return
		}

		if pt.done {
			start := time.Now()
			if err := p.finalize(userID, videoID, dir, workout); err != nil {
				log.WithError(err).Error("Video finalization failed")
				p.cleanup(dir, videoID)
				p.metrics.VideoFinished("failed")
				return
			}
			log.WithField("frames", count).Info("Video ingested")
			p.metrics.IngestFinished(string(workout), time.Since(start))
			p.metrics.VideoFinished("completed")
			return
		}

		if err := p.saveBatch(dir, count, pt.frames); err != nil {
			log.WithError(err).Error("Failed to persist frame batch")
			p.cleanup(dir, videoID)
			p.metrics.VideoFinished("failed")
			return
		}
		count += len(pt.frames)
		p.metrics.FramesPersisted(len(pt.frames))
	}
}

// saveBatch decodes and writes one batch in parallel across CPU workers.
// The first failure aborts the batch.
func (p *Pipeline) saveBatch(dir string, offset int, frames [][]byte) error {
	g := new(errgroup.Group)
	g.SetLimit(p.decodeWorkers)

	for i, frame := range frames {
		frame := frame
		path := filepath.Join(dir, fmt.Sprintf("%0*d.png", nameWidth, offset+i))
		g.Go(func() error {
			return saveFrame(frame, path)
		})
	}

	return g.Wait()
}

// finalize inserts the workout entry, runs the analyzer, patches the entry,
// uploads the mp4 and removes the local artifacts.
func (p *Pipeline) finalize(userID protocol.UserID, videoID protocol.VideoID, dir string, workout protocol.WorkoutType) error {
	// The worker outlives its device session on purpose: a finished
	// stream is processed even if the connection drops right after Done.
	ctx := context.Background()

	entry := store.WorkoutEntry{Date: time.Now().UTC(), Type: workout}
	docID, err := p.workouts.InsertWorkout(ctx, userID, entry)
	if err != nil {
		return err
	}

	videoPath := filepath.Join(p.videoRoot, string(videoID)+".mp4")
	framePattern := filepath.Join(dir, fmt.Sprintf("%%0%dd.png", nameWidth))

	feedback, err := p.analyzer.Analyze(ctx, workout, framePattern, videoPath)
	if err != nil {
		return err
	}

	if err := p.workouts.PatchWorkout(ctx, userID, docID, videoID, feedback); err != nil {
		return err
	}

	f, err := os.Open(videoPath)
	if err != nil {
		return fmt.Errorf("analyzer produced no video: %w", err)
	}
	err = p.blobs.UploadVideo(ctx, videoID, f)
	f.Close()
	if err != nil {
		return err
	}

	if err := os.Remove(videoPath); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// cleanup removes whatever local artifacts a failed or canceled video left.
func (p *Pipeline) cleanup(dir string, videoID protocol.VideoID) {
	if err := os.RemoveAll(dir); err != nil {
		p.logger.WithError(err).Warn("Failed to remove video working directory")
	}
	videoPath := filepath.Join(p.videoRoot, string(videoID)+".mp4")
	if err := os.Remove(videoPath); err != nil && !os.IsNotExist(err) {
		p.logger.WithError(err).Warn("Failed to remove video file")
	}
}
