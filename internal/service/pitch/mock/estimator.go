// Package mock provides a scripted pitch estimator for running the pipeline
// without the neural model installed. It returns fixed note sequences, or a
// scripted failure, and records every request it receives.
package mock

import (
	"context"
	"sync"

	"audio-notation-service/internal/service/pitch"
)

// DefaultMelody is a C major scale up and down, one note per half second.
var DefaultMelody = Melody([]int{60, 62, 64, 65, 67, 69, 71, 72, 71, 69, 67, 65, 64, 62, 60}, 0.5)

// Melody builds back-to-back events of equal length starting at zero.
func Melody(pitches []int, noteSeconds float64) *pitch.Sequence {
	events := make([]pitch.NoteEvent, len(pitches))
	for i, p := range pitches {
		events[i] = pitch.NoteEvent{
			Pitch:    p,
			Onset:    float64(i) * noteSeconds,
			Duration: noteSeconds,
			Velocity: 80,
		}
	}
	return &pitch.Sequence{Events: events}
}

// Estimator implements pitch.Estimator with scripted results.
// Sequences are returned in order and cycle once exhausted.
type Estimator struct {
	mu        sync.Mutex
	sequences []*pitch.Sequence
	err       error
	next      int
	requests  []pitch.Request
}

// New creates a mock estimator that returns the given sequences.
// With none, DefaultMelody is used.
func New(sequences ...*pitch.Sequence) *Estimator {
	if len(sequences) == 0 {
		sequences = []*pitch.Sequence{DefaultMelody}
	}
	return &Estimator{sequences: sequences}
}

// Failing creates a mock estimator whose every call fails with err.
func Failing(err error) *Estimator {
	return &Estimator{err: err}
}

// Name returns "mock".
func (e *Estimator) Name() string {
	return "mock"
}

// Estimate returns the next scripted sequence. When the request names a raw
// output path the sequence is also written there as MIDI, the way the real
// model leaves its own output behind.
func (e *Estimator) Estimate(ctx context.Context, req pitch.Request) (*pitch.Sequence, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	if e.err != nil {
		e.mu.Unlock()
		return nil, e.err
	}
	src := e.sequences[e.next%len(e.sequences)]
	e.next++
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seq := &pitch.Sequence{
		Events:   append([]pitch.NoteEvent(nil), src.Events...),
		TempoBPM: src.TempoBPM,
		Meter:    src.Meter,
	}
	if seq.TempoBPM == 0 {
		seq.TempoBPM = float64(req.TempoBPM)
	}

	if req.RawOutputPath != "" && len(seq.Events) > 0 {
		if err := pitch.WriteMIDI(req.RawOutputPath, seq); err != nil {
			return nil, err
		}
	}
	return seq, nil
}

// Requests returns the requests received so far.
func (e *Estimator) Requests() []pitch.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]pitch.Request{}, e.requests...)
}
