package notation

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// PitchRange holds the lowest and highest written pitch.
type PitchRange struct {
	Lowest  int `json:"lowest"`
	Highest int `json:"highest"`
}

// Span returns the range width in semitones.
func (r PitchRange) Span() int {
	return r.Highest - r.Lowest
}

// Metadata summarizes a built score. It is derived once per conversion.
type Metadata struct {
	NoteCount       int        `json:"note_count"`
	DurationSeconds float64    `json:"duration_seconds"`
	PitchRange      PitchRange `json:"pitch_range"`
	Transposition   string     `json:"transposition"`
	Instrument      string     `json:"instrument"`
	TempoBPM        int        `json:"tempo_bpm"`
	TimeSignature   string     `json:"time_signature"`
	Key             string     `json:"key,omitempty"`
	Warnings        []string   `json:"warnings"`
	WarningCodes    []string   `json:"warning_codes"`
	Simplified      bool       `json:"simplified"`
}

// Warning codes.
const (
	WarningTooFewNotes = "too_few_notes"
	WarningTooShort    = "too_short"
	WarningNarrowRange = "narrow_range"
)

// Warning is one quality flag raised on a result.
type Warning struct {
	Code    string
	Message string
}

// Policy holds the quality thresholds.
type Policy struct {
	MinNotes           int
	MinDurationSeconds float64
	MinPitchSpan       int
}

// DefaultPolicy is the standard quality policy.
var DefaultPolicy = Policy{
	MinNotes:           20,
	MinDurationSeconds: 5,
	MinPitchSpan:       6,
}

// Evaluate returns every warning whose condition holds, in a fixed order.
func (p Policy) Evaluate(noteCount int, durationSeconds float64, pitches []int) []Warning {
	var out []Warning
	if noteCount < p.MinNotes {
		out = append(out, Warning{WarningTooFewNotes, "too few recognized notes, use a clearer monophonic recording"})
	}
	if durationSeconds < p.MinDurationSeconds {
		out = append(out, Warning{WarningTooShort, "source too short, quality may be low"})
	}
	if len(pitches) > 0 {
		if r := rangeOf(pitches); r.Span() < p.MinPitchSpan {
			out = append(out, Warning{WarningNarrowRange, "pitch variation too small, recognition may look simplistic"})
		}
	}
	return out
}

// Summarize computes metadata for a transposed score at an effective tempo.
func (p Policy) Summarize(s *Score, tempoBPM int) *Metadata {
	pitches := s.Pitches()
	seconds := s.QuarterLength() / float64(tempoBPM) * 60

	md := &Metadata{
		NoteCount:       len(pitches),
		DurationSeconds: math.Round(seconds*10) / 10,
		PitchRange:      rangeOf(pitches),
		Transposition:   s.Transposition.Choice,
		Instrument:      s.Transposition.Label,
		TempoBPM:        tempoBPM,
		TimeSignature:   s.Time.String(),
		Warnings:        []string{},
		WarningCodes:    []string{},
	}
	if s.Key != nil {
		md.Key = s.Key.Name()
	}
	for _, w := range p.Evaluate(md.NoteCount, seconds, pitches) {
		md.Warnings = append(md.Warnings, w.Message)
		md.WarningCodes = append(md.WarningCodes, w.Code)
	}
	return md
}

func rangeOf(pitches []int) PitchRange {
	if len(pitches) == 0 {
		return PitchRange{}
	}
	r := PitchRange{Lowest: pitches[0], Highest: pitches[0]}
	for _, p := range pitches[1:] {
		r.Lowest = min(r.Lowest, p)
		r.Highest = max(r.Highest, p)
	}
	return r
}

// WriteMetadata stores metadata as indented JSON.
func WriteMetadata(path string, md *Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadMetadata loads metadata written by WriteMetadata.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", path, err)
	}
	return &md, nil
}
