// Package store wraps the external persistence used by video ingestion:
// Firestore workout documents and a blob bucket for finished videos.
package store

import (
	"context"
	"io"
	"time"

	"formlink/internal/protocol"
)

// WorkoutEntry is one recorded workout under users/{user_id}/workouts.
// VideoID and Reps stay null until analysis finishes.
type WorkoutEntry struct {
	Date    time.Time            `firestore:"date" json:"date"`
	Type    protocol.WorkoutType `firestore:"type" json:"type"`
	VideoID *protocol.VideoID    `firestore:"video_id" json:"video_id"`
	Reps    []protocol.Feedback  `firestore:"reps" json:"reps"`
}

// WorkoutStore persists workout entries.
type WorkoutStore interface {
	// InsertWorkout creates an entry and returns the assigned document id.
	InsertWorkout(ctx context.Context, userID protocol.UserID, entry WorkoutEntry) (string, error)
	// PatchWorkout fills in the video id and feedback on an existing entry.
	PatchWorkout(ctx context.Context, userID protocol.UserID, docID string, videoID protocol.VideoID, reps []protocol.Feedback) error
}

// BlobStore persists finished video files.
type BlobStore interface {
	// UploadVideo stores the mp4 under videos/{video_id}.
	UploadVideo(ctx context.Context, videoID protocol.VideoID, r io.Reader) error
}
