package simplify

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/service/notation"
)

func ticks(ql float64) int {
	return toTicks(ql)
}

func note(p int, ql float64) notation.Element {
	return notation.Element{Pitch: p, Duration: ticks(ql)}
}

func rest(ql float64) notation.Element {
	return notation.Element{Rest: true, Duration: ticks(ql)}
}

func scoreOf(measures ...[]notation.Element) *notation.Score {
	s := &notation.Score{
		PartName:      "Saxophone",
		Transposition: notation.Transpositions[notation.Concert],
		Time:          notation.CommonTime,
		TempoBPM:      120,
	}
	for _, m := range measures {
		s.Measures = append(s.Measures, notation.Measure{Elements: m})
	}
	return s
}

func TestLattice_Quantize(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.1, 0.25},
		{0.374, 0.25},
		{0.375, 0.5},
		{0.4, 0.5},
		{0.75, 1},
		{1.49, 1},
		{1.5, 2},
		{2.99, 2},
		{3.0, 4},
		{7, 4},
	}

	for _, tt := range tests {
		if got := DefaultLattice.Quantize(tt.in); got != tt.want {
			t.Errorf("Quantize(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSimplify_QuantizesAndDrops(t *testing.T) {
	in := scoreOf([]notation.Element{note(60, 0.4), note(62, 0.2), note(64, 1.2)})

	out := Simplify(in, 0.25)

	got := out.Measures[0].Elements
	want := []notation.Element{note(60, 0.5), note(64, 1)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if in.Measures[0].Elements[0].Duration != ticks(0.4) {
		t.Error("expected input score left untouched")
	}
}

func TestSimplify_RestsAreNotQuantized(t *testing.T) {
	in := scoreOf([]notation.Element{note(60, 1), rest(0.1), rest(1.25), note(62, 1)})

	got := Simplify(in, 0.25).Measures[0].Elements

	want := []notation.Element{note(60, 1), rest(1.25), note(62, 1)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestSimplify_PacksMeasures(t *testing.T) {
	in := scoreOf(
		[]notation.Element{note(60, 1.2), note(62, 1.2), note(64, 1.2), note(65, 0.4)},
		[]notation.Element{note(67, 2.5), note(69, 1)},
	)

	out := Simplify(in, 0.25)

	// 1 + 1 + 1 + 0.5 fits; the half note overflows and opens measure 2.
	if len(out.Measures) != 2 {
		t.Fatalf("expected 2 measures, got %d: %+v", len(out.Measures), out.Measures)
	}
	first := out.Measures[0]
	if first.Ticks() != notation.CommonTime.Capacity() {
		t.Errorf("expected closed measure padded to capacity, got %d", first.Ticks())
	}
	if last := first.Elements[len(first.Elements)-1]; !last.Rest || last.Duration != ticks(0.5) {
		t.Errorf("expected an eighth rest padding, got %+v", last)
	}
	if got := out.Measures[1].Ticks(); got != ticks(3) {
		t.Errorf("expected final partial measure of 3 quarters, got %d", got)
	}
}

func TestSimplify_ClearsTiesAndSetsCommonTime(t *testing.T) {
	in := scoreOf(
		[]notation.Element{note(60, 2), {Pitch: 62, Duration: ticks(1), TieStart: true}},
		[]notation.Element{{Pitch: 62, Duration: ticks(0.5), TieStop: true}},
	)
	in.Time = notation.TimeSignature{Beats: 3, BeatType: 4}

	out := Simplify(in, 0.25)

	if out.Time != notation.CommonTime {
		t.Errorf("expected 4/4, got %v", out.Time)
	}
	for _, m := range out.Measures {
		for _, el := range m.Elements {
			if el.TieStart || el.TieStop {
				t.Errorf("expected ties cleared, got %+v", el)
			}
		}
	}
}

func TestSimplify_SplitsLongRests(t *testing.T) {
	in := scoreOf([]notation.Element{note(60, 1), rest(6), note(62, 1)})
	in.Time = notation.TimeSignature{Beats: 6, BeatType: 4}

	out := Simplify(in, 0.25)

	for i, m := range out.Measures[:len(out.Measures)-1] {
		if m.Ticks() != notation.CommonTime.Capacity() {
			t.Errorf("measure %d: expected %d ticks, got %d", i+1, notation.CommonTime.Capacity(), m.Ticks())
		}
	}
	if got := out.TotalTicks(); got != ticks(1+3+4+2+1) {
		t.Errorf("expected rest split without loss plus padding, got %d ticks", got)
	}
}

func TestSimplify_Idempotent(t *testing.T) {
	tests := []struct {
		name  string
		score *notation.Score
		min   float64
	}{
		{"mixed", scoreOf(
			[]notation.Element{note(60, 0.4), rest(0.1), note(62, 0.33), note(64, 1.7), note(65, 1.2)},
			[]notation.Element{rest(2.5), note(67, 3.3), note(69, 0.2)},
		), 0.25},
		{"higher threshold", scoreOf(
			[]notation.Element{note(60, 0.3), rest(0.45), note(62, 0.6), note(64, 2.9), rest(0.15)},
			[]notation.Element{note(67, 5), rest(4.1)},
		), 0.5},
		{"off-lattice threshold", scoreOf(
			[]notation.Element{note(60, 1), note(61, 1), note(62, 1), rest(0.35), note(63, 0.7)},
		), 0.3},
		{"empty", scoreOf(), 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := Simplify(tt.score, tt.min)
			twice := Simplify(once, tt.min)
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("expected second pass to change nothing\nonce:  %+v\ntwice: %+v", once.Measures, twice.Measures)
			}
		})
	}
}

func TestSimplifier_SimplifyFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "score.musicxml")
	out := filepath.Join(dir, "score_simplified.musicxml")

	if err := notation.WriteFile(in, scoreOf([]notation.Element{note(60, 0.4), note(62, 0.2)})); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}

	s := New(0)
	if s.MinDuration() != DefaultMinDuration {
		t.Errorf("expected default threshold, got %v", s.MinDuration())
	}
	if _, err := s.SimplifyFile(in, out); err != nil {
		t.Fatalf("SimplifyFile() error = %v", err)
	}

	got, err := notation.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if got.NoteCount() != 1 || got.Measures[0].Elements[0].Duration != ticks(0.5) {
		t.Errorf("expected a single eighth note, got %+v", got.Measures)
	}
}

func TestSimplifier_SimplifyFile_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.musicxml")
	if err := os.WriteFile(bad, []byte("not a score"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		in   string
		out  string
	}{
		{"missing input", filepath.Join(dir, "absent.musicxml"), filepath.Join(dir, "out.musicxml")},
		{"unparseable input", bad, filepath.Join(dir, "out.musicxml")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(0.25).SimplifyFile(tt.in, tt.out)
			if !errors.Is(err, apperrors.ErrSimplificationFailed) {
				t.Errorf("expected SimplificationFailed, got %v", err)
			}
		})
	}
}
