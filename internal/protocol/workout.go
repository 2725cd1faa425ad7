package protocol

import "fmt"

// WorkoutType names an exercise the analyzer knows how to score.
type WorkoutType string

const (
	WorkoutSquat  WorkoutType = "squat"
	WorkoutPushup WorkoutType = "pushup"
)

// Valid reports whether the workout type is one the analyzer supports.
func (w WorkoutType) Valid() bool {
	switch w {
	case WorkoutSquat, WorkoutPushup:
		return true
	}
	return false
}

// ParseWorkoutType validates a raw workout type string.
func ParseWorkoutType(s string) (WorkoutType, error) {
	w := WorkoutType(s)
	if !w.Valid() {
		return "", fmt.Errorf("unknown workout type: %q", s)
	}
	return w, nil
}

// Feedback is one per-repetition record produced by the analyzer.
type Feedback struct {
	Class      string `json:"class" firestore:"class"`
	Correction string `json:"correction" firestore:"correction"`
}
