package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"

	"formlink/internal/protocol"
	"formlink/pkg/logging"
)

// Analyzer scores a directory of frame images for one workout type. It is
// also responsible for muxing the frames into the mp4 at videoPath.
type Analyzer interface {
	Analyze(ctx context.Context, workout protocol.WorkoutType, framePattern, videoPath string) ([]protocol.Feedback, error)
}

// PythonAnalyzer shells out to the per-workout predictor scripts. The script
// receives a printf-style frame pattern and the output video path, writes the
// mp4, and prints a JSON array of feedback records on stdout.
type PythonAnalyzer struct {
	// Python is the interpreter binary, "python" by default.
	Python string
	// ScriptRoot holds squatPredictor.py and pushupPredictor.py.
	ScriptRoot string
	Logger     logging.Logger
}

// NewPythonAnalyzer builds an analyzer over the predictor scripts in root.
func NewPythonAnalyzer(scriptRoot string, logger logging.Logger) *PythonAnalyzer {
	return &PythonAnalyzer{Python: "python", ScriptRoot: scriptRoot, Logger: logger}
}

func (a *PythonAnalyzer) script(workout protocol.WorkoutType) (string, error) {
	switch workout {
	case protocol.WorkoutSquat:
		return filepath.Join(a.ScriptRoot, "squatPredictor.py"), nil
	case protocol.WorkoutPushup:
		return filepath.Join(a.ScriptRoot, "pushupPredictor.py"), nil
	}
	return "", fmt.Errorf("no predictor for workout type %q", workout)
}

// Analyze runs the predictor subprocess and parses its stdout.
func (a *PythonAnalyzer) Analyze(ctx context.Context, workout protocol.WorkoutType, framePattern, videoPath string) ([]protocol.Feedback, error) {
	script, err := a.script(workout)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.Python, script, framePattern, videoPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		a.Logger.WithFields(logging.Fields{
			"script": script,
			"stderr": stderr.String(),
		}).Error("Predictor failed")
		return nil, fmt.Errorf("predictor %s: %w", script, err)
	}

	a.Logger.WithFields(logging.Fields{
		"script": script,
		"stderr": stderr.String(),
	}).Debug("Predictor finished")

	var feedback []protocol.Feedback
	if err := json.Unmarshal(stdout.Bytes(), &feedback); err != nil {
		return nil, fmt.Errorf("predictor %s produced invalid feedback: %w", script, err)
	}

	return feedback, nil
}
