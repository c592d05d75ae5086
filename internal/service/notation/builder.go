package notation

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/observability/logging"
	"audio-notation-service/internal/service/pitch"
)

// Builder turns note event sequences into scores.
type Builder struct {
	policy Policy
	logger zerolog.Logger
}

// NewBuilder creates a builder that grades results with policy.
func NewBuilder(policy Policy) *Builder {
	return &Builder{
		policy: policy,
		logger: logging.WithComponent("notation"),
	}
}

// Build notates seq for the instrument named by choice. A tempoHint of 0
// means no hint. Events are laid out on the sequence's own tempo grid; the
// effective tempo sets the tempo mark and the reported duration.
func (b *Builder) Build(seq *pitch.Sequence, choice string, tempoHint int) (*Score, *Metadata, error) {
	trans, err := LookupTransposition(choice)
	if err != nil {
		return nil, nil, err
	}
	if seq == nil || len(seq.Events) == 0 {
		return nil, nil, apperrors.NotationBuildFailed("no note events to notate", nil)
	}

	tempo := pitch.EffectiveTempo(tempoHint)
	grid := seq.TempoBPM
	if grid <= 0 {
		grid = float64(tempo)
	}

	ts := CommonTime
	if seq.Meter != nil && seq.Meter.Numerator > 0 && seq.Meter.Denominator > 0 {
		ts = TimeSignature{Beats: seq.Meter.Numerator, BeatType: seq.Meter.Denominator}
	}

	// An explicit hint always replaces a tempo carried by the source.
	mark := tempo
	if seq.TempoBPM > 0 && tempoHint <= 0 {
		mark = int(math.Round(seq.TempoBPM))
	}

	score := &Score{
		PartName:      trans.Label,
		Transposition: trans,
		Time:          ts,
		TempoBPM:      mark,
		Measures:      layout(monophonic(seq.Events, grid), ts.Capacity()),
	}
	score.Transpose(trans.Semitones)

	if key, err := AnalyzeKey(score); err != nil {
		b.logger.Debug().Err(err).Msg("Key signature omitted")
	} else {
		score.Key = key
	}

	md := b.policy.Summarize(score, tempo)

	b.logger.Info().
		Int("notes", md.NoteCount).
		Int("measures", len(score.Measures)).
		Str("transposition", trans.Choice).
		Int("tempo", tempo).
		Strs("warnings", md.WarningCodes).
		Msg("Score built")

	return score, md, nil
}

// span is a note placed on the tick grid.
type span struct {
	pitch int
	start int
	end   int
}

// minSpan is the length given to notes that quantize to nothing.
const minSpan = Divisions / 4

// quantizeTick snaps t to the nearer of the sixteenth and triplet-eighth grids.
func quantizeTick(t float64) int {
	const quarterGrid, tripletGrid = Divisions / 4, Divisions / 3
	q4 := math.Round(t/quarterGrid) * quarterGrid
	q3 := math.Round(t/tripletGrid) * tripletGrid
	if math.Abs(t-q3) < math.Abs(t-q4) {
		return int(q3)
	}
	return int(q4)
}

func secondsToTicks(sec, tempo float64) float64 {
	return sec * tempo / 60 * Divisions
}

// monophonic places events on the grid and removes overlaps: a note is cut
// at the next onset and only the highest pitch survives a shared onset.
func monophonic(events []pitch.NoteEvent, tempo float64) []span {
	spans := make([]span, 0, len(events))
	for _, e := range events {
		spans = append(spans, span{
			pitch: e.Pitch,
			start: quantizeTick(secondsToTicks(e.Onset, tempo)),
			end:   quantizeTick(secondsToTicks(e.End(), tempo)),
		})
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].pitch > spans[j].pitch
	})

	out := make([]span, 0, len(spans))
	for _, s := range spans {
		if n := len(out); n > 0 && out[n-1].start == s.start {
			continue
		}
		out = append(out, s)
	}
	for i := range out {
		if out[i].end < out[i].start+minSpan {
			out[i].end = out[i].start + minSpan
		}
		if i+1 < len(out) && out[i].end > out[i+1].start {
			out[i].end = out[i+1].start
		}
	}
	return out
}

// measureWriter fills measures of a fixed capacity, splitting elements at barlines.
type measureWriter struct {
	capacity int
	measures []Measure
	current  []Element
	fill     int
}

func (w *measureWriter) add(rest bool, pitch, length int) {
	first := true
	for length > 0 {
		n := min(length, w.capacity-w.fill)
		el := Element{Rest: rest, Duration: n}
		if !rest {
			el.Pitch = pitch
			el.TieStop = !first
			el.TieStart = n < length
		}
		w.current = append(w.current, el)
		w.fill += n
		length -= n
		first = false
		if w.fill == w.capacity {
			w.flush()
		}
	}
}

func (w *measureWriter) flush() {
	if len(w.current) == 0 {
		return
	}
	w.measures = append(w.measures, Measure{Elements: w.current})
	w.current = nil
	w.fill = 0
}

// layout writes spans into measures, filling gaps with rests. The last
// measure is left partial.
func layout(spans []span, capacity int) []Measure {
	w := &measureWriter{capacity: capacity}
	pos := 0
	for _, s := range spans {
		if s.start > pos {
			w.add(true, 0, s.start-pos)
		}
		w.add(false, s.pitch, s.end-s.start)
		pos = s.end
	}
	w.flush()
	return w.measures
}
