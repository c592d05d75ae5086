package notation

import (
	"sort"

	apperrors "audio-notation-service/internal/errors"
)

// Transposition choices accepted from callers.
const (
	Concert = "concert"
	AltoEb  = "alto_eb"
	TenorBb = "tenor_bb"
)

// Transposition is a fixed instrument profile. Semitones is added to every
// sounding pitch to get the written pitch.
type Transposition struct {
	Choice    string
	Label     string
	Semitones int
	Diatonic  int // written-to-sounding steps, for the MusicXML transpose element
}

// Transpositions is the fixed instrument table.
var Transpositions = map[string]Transposition{
	Concert: {Choice: Concert, Label: "Saxophone", Semitones: 0, Diatonic: 0},
	AltoEb:  {Choice: AltoEb, Label: "Alto Saxophone", Semitones: 9, Diatonic: -5},
	TenorBb: {Choice: TenorBb, Label: "Tenor Saxophone", Semitones: 2, Diatonic: -1},
}

// DefaultTransposition is used when a caller leaves the choice empty.
const DefaultTransposition = Concert

// LookupTransposition resolves a choice. An empty choice means concert pitch.
func LookupTransposition(choice string) (Transposition, error) {
	if choice == "" {
		choice = DefaultTransposition
	}
	t, ok := Transpositions[choice]
	if !ok {
		return Transposition{}, apperrors.InvalidRequest("unknown transposition %q (expected one of %v)", choice, TranspositionChoices())
	}
	return t, nil
}

// TranspositionChoices lists the accepted choices in sorted order.
func TranspositionChoices() []string {
	out := make([]string, 0, len(Transpositions))
	for k := range Transpositions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Chromatic returns the written-to-sounding interval in semitones.
func (t Transposition) Chromatic() int {
	return -t.Semitones
}

// transpositionByLabel finds a profile from a part name, for parsed scores.
func transpositionByLabel(label string, chromatic int) Transposition {
	for _, t := range Transpositions {
		if t.Label == label {
			return t
		}
	}
	for _, t := range Transpositions {
		if t.Chromatic() == chromatic {
			out := t
			out.Label = label
			return out
		}
	}
	return Transposition{Label: label, Semitones: -chromatic}
}
