// Package notation turns note events into a single-part score, infers its
// key, computes quality metadata and reads and writes the score as MusicXML.
package notation

import "fmt"

// Divisions is the number of ticks per quarter note used for every duration
// in a Score.
const Divisions = 480

// Element is a note or rest inside a measure.
type Element struct {
	Rest     bool
	Pitch    int // MIDI note number, unused for rests
	Duration int // ticks
	TieStart bool
	TieStop  bool
}

// QuarterLength returns the element duration in quarter notes.
func (e Element) QuarterLength() float64 {
	return float64(e.Duration) / Divisions
}

// TimeSignature is the measure meter.
type TimeSignature struct {
	Beats    int
	BeatType int
}

// CommonTime is 4/4.
var CommonTime = TimeSignature{Beats: 4, BeatType: 4}

// Capacity returns the measure length in ticks.
func (t TimeSignature) Capacity() int {
	if t.Beats <= 0 || t.BeatType <= 0 {
		return CommonTime.Capacity()
	}
	return t.Beats * Divisions * 4 / t.BeatType
}

func (t TimeSignature) String() string {
	return fmt.Sprintf("%d/%d", t.Beats, t.BeatType)
}

// Key is a key signature as a position on the circle of fifths.
type Key struct {
	Fifths int
	Mode   string // major, minor
}

// Name returns the key name, e.g. "A minor" or "Eb major".
func (k Key) Name() string {
	idx := ((k.Fifths % 12) + 12) % 12
	if k.Mode == "minor" {
		return minorNames[idx] + " minor"
	}
	return majorNames[idx] + " major"
}

var (
	majorNames = [12]string{"C", "G", "D", "A", "E", "B", "F#", "Db", "Ab", "Eb", "Bb", "F"}
	minorNames = [12]string{"A", "E", "B", "F#", "C#", "G#", "D#", "Bb", "F", "C", "G", "D"}
)

// Measure is one bar.
type Measure struct {
	Elements []Element
}

// Ticks returns the summed element duration.
func (m Measure) Ticks() int {
	total := 0
	for _, e := range m.Elements {
		total += e.Duration
	}
	return total
}

// Score is a single-part score.
type Score struct {
	PartName      string
	Transposition Transposition
	Time          TimeSignature
	TempoBPM      int
	Key           *Key // nil when none could be inferred
	Measures      []Measure
}

// TotalTicks returns the score length in ticks.
func (s *Score) TotalTicks() int {
	total := 0
	for _, m := range s.Measures {
		total += m.Ticks()
	}
	return total
}

// QuarterLength returns the score length in quarter notes.
func (s *Score) QuarterLength() float64 {
	return float64(s.TotalTicks()) / Divisions
}

// Pitches returns the pitch of every sounding note, in score order.
// Tie continuations are not repeated.
func (s *Score) Pitches() []int {
	var out []int
	s.eachNote(func(e *Element) {
		if !e.TieStop {
			out = append(out, e.Pitch)
		}
	})
	return out
}

// NoteCount returns the number of sounding notes.
func (s *Score) NoteCount() int {
	return len(s.Pitches())
}

// Transpose shifts every pitched element by semitones.
func (s *Score) Transpose(semitones int) {
	if semitones == 0 {
		return
	}
	s.eachNote(func(e *Element) {
		e.Pitch += semitones
	})
}

// Clone returns a deep copy of the score.
func (s *Score) Clone() *Score {
	out := *s
	if s.Key != nil {
		k := *s.Key
		out.Key = &k
	}
	out.Measures = make([]Measure, len(s.Measures))
	for i, m := range s.Measures {
		out.Measures[i].Elements = append([]Element(nil), m.Elements...)
	}
	return &out
}

func (s *Score) eachNote(fn func(e *Element)) {
	for i := range s.Measures {
		elems := s.Measures[i].Elements
		for j := range elems {
			if !elems[j].Rest {
				fn(&elems[j])
			}
		}
	}
}
