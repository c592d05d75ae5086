// Package simplify quantizes a score's note durations to a small lattice,
// drops fragments and re-packs the result into 4/4 measures.
package simplify

import (
	"math"

	"github.com/rs/zerolog"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/observability/logging"
	"audio-notation-service/internal/service/notation"
)

// DefaultMinDuration is the shortest kept element, in quarter notes.
const DefaultMinDuration = 0.25

// Step maps every duration below Below to Value. Units are quarter notes.
type Step struct {
	Below float64
	Value float64
}

// Lattice is an ordered set of steps plus the value used above the last one.
type Lattice struct {
	Steps []Step
	Max   float64
}

// DefaultLattice quantizes to sixteenth, eighth, quarter, half or whole notes.
var DefaultLattice = Lattice{
	Steps: []Step{
		{Below: 0.375, Value: 0.25},
		{Below: 0.75, Value: 0.5},
		{Below: 1.5, Value: 1},
		{Below: 3.0, Value: 2},
	},
	Max: 4,
}

// Quantize returns the lattice value for a duration in quarter notes.
func (l Lattice) Quantize(ql float64) float64 {
	for _, s := range l.Steps {
		if ql < s.Below {
			return s.Value
		}
	}
	return l.Max
}

func (l Lattice) quantizeTicks(ticks int) int {
	return toTicks(l.Quantize(float64(ticks) / notation.Divisions))
}

func toTicks(ql float64) int {
	return int(math.Round(ql * notation.Divisions))
}

// Simplify returns a simplified copy of s using the default lattice.
func Simplify(s *notation.Score, minDuration float64) *notation.Score {
	return simplify(s, DefaultLattice, minDuration)
}

func simplify(s *notation.Score, lattice Lattice, minDuration float64) *notation.Score {
	out := s.Clone()
	out.Time = notation.CommonTime
	capacity := out.Time.Capacity()
	minTicks := toTicks(minDuration)

	var kept []notation.Element
	for _, m := range s.Measures {
		for _, el := range m.Elements {
			if el.Rest {
				for d := el.Duration; d > 0; d -= capacity {
					if piece := min(d, capacity); piece >= minTicks {
						kept = append(kept, notation.Element{Rest: true, Duration: piece})
					}
				}
				continue
			}
			q := lattice.quantizeTicks(el.Duration)
			if el.Duration < minTicks || q < minTicks {
				continue
			}
			kept = append(kept, notation.Element{Pitch: el.Pitch, Duration: q})
		}
	}

	out.Measures = pack(kept, capacity)
	return out
}

// pack fills measures in order. A measure is closed when the next element
// would overflow it, and the remainder is padded with a rest.
func pack(elements []notation.Element, capacity int) []notation.Measure {
	var (
		measures []notation.Measure
		current  []notation.Element
		fill     int
	)
	for _, el := range elements {
		if len(current) > 0 && fill+el.Duration > capacity {
			if fill < capacity {
				current = append(current, notation.Element{Rest: true, Duration: capacity - fill})
			}
			measures = append(measures, notation.Measure{Elements: current})
			current, fill = nil, 0
		}
		current = append(current, el)
		fill += el.Duration
	}
	if len(current) > 0 {
		measures = append(measures, notation.Measure{Elements: current})
	}
	return measures
}

// Simplifier applies simplification to score files.
type Simplifier struct {
	lattice     Lattice
	minDuration float64
	logger      zerolog.Logger
}

// New creates a simplifier. A non-positive minDuration uses the default.
func New(minDuration float64) *Simplifier {
	if minDuration <= 0 {
		minDuration = DefaultMinDuration
	}
	return &Simplifier{
		lattice:     DefaultLattice,
		minDuration: minDuration,
		logger:      logging.WithComponent("simplify"),
	}
}

// MinDuration returns the configured threshold in quarter notes.
func (s *Simplifier) MinDuration() float64 {
	return s.minDuration
}

// Simplify returns a simplified copy of score.
func (s *Simplifier) Simplify(score *notation.Score) *notation.Score {
	return simplify(score, s.lattice, s.minDuration)
}

// SimplifyFile reads a MusicXML score, simplifies it and writes the result.
func (s *Simplifier) SimplifyFile(inPath, outPath string) (*notation.Score, error) {
	score, err := notation.ReadFile(inPath)
	if err != nil {
		return nil, apperrors.SimplificationFailed("could not parse score", err)
	}

	out := s.Simplify(score)
	if err := notation.WriteFile(outPath, out); err != nil {
		return nil, apperrors.SimplificationFailed("could not write simplified score", err)
	}

	s.logger.Info().
		Int("notes_before", score.NoteCount()).
		Int("notes_after", out.NoteCount()).
		Int("measures", len(out.Measures)).
		Float64("min_duration", s.minDuration).
		Msg("Score simplified")

	return out, nil
}
