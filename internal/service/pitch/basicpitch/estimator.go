// Package basicpitch runs the basic-pitch command line model.
package basicpitch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"audio-notation-service/internal/runner"
	"audio-notation-service/internal/service/pitch"
)

// outputSuffix is appended by the CLI to the input stem.
const outputSuffix = "_basic_pitch.mid"

// Estimator implements pitch.Estimator by shelling out to basic-pitch.
type Estimator struct {
	command string
	timeout time.Duration
	runner  runner.Runner
}

// New creates a basic-pitch estimator.
func New(command string, timeout time.Duration, r runner.Runner) *Estimator {
	if command == "" {
		command = "basic-pitch"
	}
	return &Estimator{command: command, timeout: timeout, runner: r}
}

// Name returns "basic-pitch".
func (e *Estimator) Name() string {
	return "basic-pitch"
}

// Estimate runs the model and decodes the MIDI file it writes.
func (e *Estimator) Estimate(ctx context.Context, req pitch.Request) (*pitch.Sequence, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	outDir, err := os.MkdirTemp(filepath.Dir(req.AudioPath), "model-")
	if err != nil {
		return nil, fmt.Errorf("create model output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if _, err := e.runner.Run(ctx, e.command, buildArgs(outDir, req)...); err != nil {
		return nil, err
	}

	stem := filepath.Base(req.AudioPath)
	stem = stem[:len(stem)-len(filepath.Ext(stem))]
	produced := filepath.Join(outDir, stem+outputSuffix)
	if _, err := os.Stat(produced); err != nil {
		return nil, fmt.Errorf("%s produced no MIDI output: %w", e.command, err)
	}

	path := produced
	if req.RawOutputPath != "" {
		if err := os.Rename(produced, req.RawOutputPath); err != nil {
			return nil, fmt.Errorf("keep model output: %w", err)
		}
		path = req.RawOutputPath
	}
	return pitch.ReadMIDI(path)
}

func buildArgs(outDir string, req pitch.Request) []string {
	return []string{
		outDir,
		req.AudioPath,
		"--save-midi",
		"--onset-threshold", strconv.FormatFloat(req.Params.OnsetThreshold, 'f', -1, 64),
		"--frame-threshold", strconv.FormatFloat(req.Params.FrameThreshold, 'f', -1, 64),
		"--minimum-note-length", strconv.FormatInt(req.Params.MinNoteLength.Milliseconds(), 10),
		"--midi-tempo", strconv.Itoa(req.TempoBPM),
	}
}
