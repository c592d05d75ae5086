package pitch_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/service/pitch"
	"audio-notation-service/internal/service/pitch/mock"
)

func TestDetect_EmptyResultIsAlwaysAnError(t *testing.T) {
	d := pitch.NewDetector(mock.New(&pitch.Sequence{}), pitch.DefaultParams())

	seq, err := d.Detect(context.Background(), "audio.wav", "", 0)
	if !errors.Is(err, apperrors.ErrPitchDetectionFailed) {
		t.Fatalf("expected PitchDetectionFailed, got %v", err)
	}
	if seq != nil {
		t.Error("expected no sequence on failure")
	}
}

func TestDetect_ModelFailureIsClassified(t *testing.T) {
	d := pitch.NewDetector(mock.Failing(errors.New("tensorflow crashed")), pitch.DefaultParams())

	_, err := d.Detect(context.Background(), "audio.wav", "", 0)
	if !errors.Is(err, apperrors.ErrPitchDetectionFailed) {
		t.Fatalf("expected PitchDetectionFailed, got %v", err)
	}
}

func TestDetect_PassesParamsAndTempo(t *testing.T) {
	est := mock.New()
	params := pitch.DefaultParams()
	d := pitch.NewDetector(est, params)

	seq, err := d.Detect(context.Background(), "audio.wav", "", 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if seq.TempoBPM != pitch.DefaultTempoBPM {
		t.Errorf("expected default tempo %d, got %v", pitch.DefaultTempoBPM, seq.TempoBPM)
	}

	if _, err := d.Detect(context.Background(), "audio.wav", "", 90); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	reqs := est.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].TempoBPM != 120 || reqs[1].TempoBPM != 90 {
		t.Errorf("expected tempos 120 and 90, got %d and %d", reqs[0].TempoBPM, reqs[1].TempoBPM)
	}
	if reqs[0].Params != params {
		t.Errorf("expected params %+v, got %+v", params, reqs[0].Params)
	}
}

func TestDetect_OrdersByOnsetThenPitch(t *testing.T) {
	unordered := &pitch.Sequence{Events: []pitch.NoteEvent{
		{Pitch: 67, Onset: 1.0, Duration: 0.5, Velocity: 80},
		{Pitch: 64, Onset: 0.0, Duration: 0.5, Velocity: 80},
		{Pitch: 60, Onset: 0.0, Duration: 0.5, Velocity: 80},
	}}
	d := pitch.NewDetector(mock.New(unordered), pitch.DefaultParams())

	seq, err := d.Detect(context.Background(), "audio.wav", "", 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := []int{60, 64, 67}
	for i, e := range seq.Events {
		if e.Pitch != want[i] {
			t.Errorf("event %d: expected pitch %d, got %d", i, want[i], e.Pitch)
		}
	}
}

func TestMIDIRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.mid")
	in := &pitch.Sequence{
		TempoBPM: 100,
		Meter:    &pitch.Meter{Numerator: 3, Denominator: 4},
		Events: []pitch.NoteEvent{
			{Pitch: 60, Onset: 0, Duration: 0.6, Velocity: 90},
			{Pitch: 60, Onset: 0.6, Duration: 0.3, Velocity: 70},
			{Pitch: 64, Onset: 0.6, Duration: 1.2, Velocity: 60},
		},
	}

	if err := pitch.WriteMIDI(path, in); err != nil {
		t.Fatalf("WriteMIDI() error = %v", err)
	}
	out, err := pitch.ReadMIDI(path)
	if err != nil {
		t.Fatalf("ReadMIDI() error = %v", err)
	}

	if math.Abs(out.TempoBPM-100) > 0.01 {
		t.Errorf("expected tempo 100, got %v", out.TempoBPM)
	}
	if out.Meter == nil || out.Meter.Numerator != 3 || out.Meter.Denominator != 4 {
		t.Errorf("expected 3/4 meter, got %+v", out.Meter)
	}
	if len(out.Events) != len(in.Events) {
		t.Fatalf("expected %d events, got %d", len(in.Events), len(out.Events))
	}
	for i := range in.Events {
		a, b := in.Events[i], out.Events[i]
		if a.Pitch != b.Pitch || a.Velocity != b.Velocity {
			t.Errorf("event %d: expected %+v, got %+v", i, a, b)
		}
		if math.Abs(a.Onset-b.Onset) > 0.002 || math.Abs(a.Duration-b.Duration) > 0.002 {
			t.Errorf("event %d timing: expected %+v, got %+v", i, a, b)
		}
	}
}

func TestEffectiveTempo(t *testing.T) {
	if got := pitch.EffectiveTempo(0); got != 120 {
		t.Errorf("expected 120, got %d", got)
	}
	if got := pitch.EffectiveTempo(72); got != 72 {
		t.Errorf("expected 72, got %d", got)
	}
}
