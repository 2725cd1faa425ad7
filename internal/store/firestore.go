package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"formlink/internal/protocol"
)

const (
	userCollection    = "users"
	workoutCollection = "workouts"
)

// FirestoreWorkouts implements WorkoutStore on a Firestore database.
// Respects FIRESTORE_EMULATOR_HOST via the client library.
type FirestoreWorkouts struct {
	client *firestore.Client
}

// NewFirestoreWorkouts connects to the Firestore database of a project.
func NewFirestoreWorkouts(ctx context.Context, projectID string) (*FirestoreWorkouts, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to firestore: %w", err)
	}
	return &FirestoreWorkouts{client: client}, nil
}

func (s *FirestoreWorkouts) workouts(userID protocol.UserID) *firestore.CollectionRef {
	return s.client.Collection(userCollection).Doc(string(userID)).Collection(workoutCollection)
}

// InsertWorkout creates the entry with a generated document id.
func (s *FirestoreWorkouts) InsertWorkout(ctx context.Context, userID protocol.UserID, entry WorkoutEntry) (string, error) {
	ref, _, err := s.workouts(userID).Add(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("failed to insert workout entry: %w", err)
	}
	return ref.ID, nil
}

// PatchWorkout updates exactly the video_id and reps fields.
func (s *FirestoreWorkouts) PatchWorkout(ctx context.Context, userID protocol.UserID, docID string, videoID protocol.VideoID, reps []protocol.Feedback) error {
	_, err := s.workouts(userID).Doc(docID).Update(ctx, []firestore.Update{
		{Path: "video_id", Value: string(videoID)},
		{Path: "reps", Value: reps},
	})
	if err != nil {
		return fmt.Errorf("failed to patch workout entry %s: %w", docID, err)
	}
	return nil
}

// Ping verifies connectivity for health reporting.
func (s *FirestoreWorkouts) Ping(ctx context.Context) error {
	// A single-document read is the cheapest round trip the API offers.
	_, err := s.client.Collection(userCollection).Doc("healthprobe").Get(ctx)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// Close releases the underlying client.
func (s *FirestoreWorkouts) Close() error {
	return s.client.Close()
}
