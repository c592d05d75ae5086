// Package pitch defines the pitch estimator capability and turns model
// output into an ordered sequence of note events.
package pitch

import (
	"context"
	"sort"
	"time"
)

// DefaultTempoBPM is used when no tempo hint is supplied.
const DefaultTempoBPM = 120

// Tempo hint bounds accepted from callers.
const (
	MinTempoBPM = 40
	MaxTempoBPM = 240
)

// NoteEvent is one discrete pitched sound. Times are in seconds.
type NoteEvent struct {
	Pitch    int     `json:"pitch"`
	Onset    float64 `json:"onset"`
	Duration float64 `json:"duration"`
	Velocity int     `json:"velocity"`
}

// End returns the release time in seconds.
func (e NoteEvent) End() float64 {
	return e.Onset + e.Duration
}

// Meter is a time signature.
type Meter struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// Sequence is the estimator's output: events plus the symbolic grid they were written on.
type Sequence struct {
	Events   []NoteEvent `json:"events"`
	TempoBPM float64     `json:"tempoBpm,omitempty"` // 0 when the source carried no tempo
	Meter    *Meter      `json:"meter,omitempty"`    // nil when the source carried no meter
}

// Sort orders events by onset, then pitch.
func (s *Sequence) Sort() {
	sort.SliceStable(s.Events, func(i, j int) bool {
		a, b := s.Events[i], s.Events[j]
		if a.Onset != b.Onset {
			return a.Onset < b.Onset
		}
		return a.Pitch < b.Pitch
	})
}

// Params are the fixed confidence settings the model is invoked with.
type Params struct {
	OnsetThreshold float64
	FrameThreshold float64
	MinNoteLength  time.Duration
}

// DefaultParams returns the standard model thresholds.
func DefaultParams() Params {
	return Params{
		OnsetThreshold: 0.5,
		FrameThreshold: 0.3,
		MinNoteLength:  50 * time.Millisecond,
	}
}

// Request is one model invocation.
type Request struct {
	AudioPath     string // canonical PCM input
	RawOutputPath string // where the model's own symbolic output is kept, if it produces one
	TempoBPM      int    // scales the output time grid only
	Params        Params
}

// Estimator defines the interface for pitch models.
type Estimator interface {
	// Estimate runs the model on canonical PCM.
	Estimate(ctx context.Context, req Request) (*Sequence, error)

	// Name identifies the model in logs and metrics.
	Name() string
}
