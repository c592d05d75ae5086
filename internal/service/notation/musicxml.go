package notation

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

const doctype = `<!DOCTYPE score-partwise PUBLIC "-//Recordare//DTD MusicXML 4.0 Partwise//EN" "http://www.musicxml.org/dtds/partwise.dtd">` + "\n"

// software is recorded in the encoding block of every written score.
const software = "audio-notation-service"

type xmlScore struct {
	XMLName        xml.Name           `xml:"score-partwise"`
	Version        string             `xml:"version,attr,omitempty"`
	Identification *xmlIdentification `xml:"identification,omitempty"`
	PartList       xmlPartList        `xml:"part-list"`
	Parts          []xmlPart          `xml:"part"`
}

type xmlIdentification struct {
	Software string `xml:"encoding>software,omitempty"`
}

type xmlPartList struct {
	ScoreParts []xmlScorePart `xml:"score-part"`
}

type xmlScorePart struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"part-name"`
}

type xmlPart struct {
	ID       string       `xml:"id,attr"`
	Measures []xmlMeasure `xml:"measure"`
}

type xmlMeasure struct {
	Number     string         `xml:"number,attr"`
	Attributes *xmlAttributes `xml:"attributes,omitempty"`
	Directions []xmlDirection `xml:"direction"`
	Notes      []xmlNote      `xml:"note"`
}

type xmlAttributes struct {
	Divisions int           `xml:"divisions,omitempty"`
	Key       *xmlKey       `xml:"key,omitempty"`
	Time      *xmlTime      `xml:"time,omitempty"`
	Clef      *xmlClef      `xml:"clef,omitempty"`
	Transpose *xmlTranspose `xml:"transpose,omitempty"`
}

type xmlKey struct {
	Fifths int    `xml:"fifths"`
	Mode   string `xml:"mode,omitempty"`
}

type xmlTime struct {
	Beats    string `xml:"beats"`
	BeatType string `xml:"beat-type"`
}

type xmlClef struct {
	Sign string `xml:"sign"`
	Line int    `xml:"line"`
}

type xmlTranspose struct {
	Diatonic  int `xml:"diatonic"`
	Chromatic int `xml:"chromatic"`
}

type xmlDirection struct {
	Placement string        `xml:"placement,attr,omitempty"`
	Metronome *xmlMetronome `xml:"direction-type>metronome,omitempty"`
	Sound     *xmlSound     `xml:"sound,omitempty"`
}

type xmlMetronome struct {
	BeatUnit  string `xml:"beat-unit"`
	PerMinute string `xml:"per-minute"`
}

type xmlSound struct {
	Tempo string `xml:"tempo,attr,omitempty"`
}

type xmlEmpty struct{}

type xmlNote struct {
	Grace     *xmlEmpty     `xml:"grace,omitempty"`
	Chord     *xmlEmpty     `xml:"chord,omitempty"`
	Pitch     *xmlPitch     `xml:"pitch,omitempty"`
	Rest      *xmlEmpty     `xml:"rest,omitempty"`
	Duration  int           `xml:"duration"`
	Ties      []xmlTie      `xml:"tie"`
	Voice     string        `xml:"voice,omitempty"`
	Type      string        `xml:"type,omitempty"`
	Dots      []xmlEmpty    `xml:"dot"`
	Notations *xmlNotations `xml:"notations,omitempty"`
}

type xmlPitch struct {
	Step   string  `xml:"step"`
	Alter  float64 `xml:"alter,omitempty"`
	Octave int     `xml:"octave"`
}

type xmlTie struct {
	Type string `xml:"type,attr"`
}

type xmlNotations struct {
	Tied []xmlTie `xml:"tied"`
}

type spelling struct {
	step  string
	alter int
}

var (
	sharpSpelling = [12]spelling{{"C", 0}, {"C", 1}, {"D", 0}, {"D", 1}, {"E", 0}, {"F", 0}, {"F", 1}, {"G", 0}, {"G", 1}, {"A", 0}, {"A", 1}, {"B", 0}}
	flatSpelling  = [12]spelling{{"C", 0}, {"D", -1}, {"D", 0}, {"E", -1}, {"E", 0}, {"F", 0}, {"G", -1}, {"G", 0}, {"A", -1}, {"A", 0}, {"B", -1}, {"B", 0}}
	stepClass     = map[string]int{"C": 0, "D": 2, "E": 4, "F": 5, "G": 7, "A": 9, "B": 11}
)

var noteTypes = []struct {
	name  string
	ticks int
}{
	{"whole", Divisions * 4},
	{"half", Divisions * 2},
	{"quarter", Divisions},
	{"eighth", Divisions / 2},
	{"16th", Divisions / 4},
	{"32nd", Divisions / 8},
	{"64th", Divisions / 16},
}

// noteType names a duration, with its dot count. Durations with no plain
// or dotted form are left untyped.
func noteType(ticks int) (string, int, bool) {
	for _, nt := range noteTypes {
		switch ticks {
		case nt.ticks:
			return nt.name, 0, true
		case nt.ticks * 3 / 2:
			return nt.name, 1, true
		case nt.ticks * 7 / 4:
			return nt.name, 2, true
		}
	}
	return "", 0, false
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func spell(midi int, flats bool) *xmlPitch {
	pc := ((midi % 12) + 12) % 12
	sp := sharpSpelling[pc]
	if flats {
		sp = flatSpelling[pc]
	}
	return &xmlPitch{Step: sp.step, Alter: float64(sp.alter), Octave: floorDiv(midi, 12) - 1}
}

func (p *xmlPitch) midi() (int, error) {
	pc, ok := stepClass[strings.ToUpper(strings.TrimSpace(p.Step))]
	if !ok {
		return 0, fmt.Errorf("invalid pitch step %q", p.Step)
	}
	return (p.Octave+1)*12 + pc + int(math.Round(p.Alter)), nil
}

// Marshal encodes a score as a partwise MusicXML document.
func Marshal(s *Score) ([]byte, error) {
	const partID = "P1"
	doc := xmlScore{
		Version:        "4.0",
		Identification: &xmlIdentification{Software: software},
		PartList:       xmlPartList{ScoreParts: []xmlScorePart{{ID: partID, Name: s.PartName}}},
	}

	flats := s.Key != nil && s.Key.Fifths < 0
	part := xmlPart{ID: partID}
	measures := s.Measures
	if len(measures) == 0 {
		measures = []Measure{{}}
	}
	for i, m := range measures {
		xm := xmlMeasure{Number: strconv.Itoa(i + 1)}
		if i == 0 {
			xm.Attributes = firstAttributes(s)
			if s.TempoBPM > 0 {
				tempo := strconv.Itoa(s.TempoBPM)
				xm.Directions = []xmlDirection{{
					Placement: "above",
					Metronome: &xmlMetronome{BeatUnit: "quarter", PerMinute: tempo},
					Sound:     &xmlSound{Tempo: tempo},
				}}
			}
		}
		for _, el := range m.Elements {
			xm.Notes = append(xm.Notes, encodeElement(el, flats))
		}
		part.Measures = append(part.Measures, xm)
	}
	doc.Parts = []xmlPart{part}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode musicxml: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(doctype)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func firstAttributes(s *Score) *xmlAttributes {
	ts := s.Time
	if ts.Beats <= 0 || ts.BeatType <= 0 {
		ts = CommonTime
	}
	attrs := &xmlAttributes{
		Divisions: Divisions,
		Time:      &xmlTime{Beats: strconv.Itoa(ts.Beats), BeatType: strconv.Itoa(ts.BeatType)},
		Clef:      &xmlClef{Sign: "G", Line: 2},
	}
	if s.Key != nil {
		attrs.Key = &xmlKey{Fifths: s.Key.Fifths, Mode: s.Key.Mode}
	}
	if s.Transposition.Semitones != 0 {
		attrs.Transpose = &xmlTranspose{
			Diatonic:  s.Transposition.Diatonic,
			Chromatic: s.Transposition.Chromatic(),
		}
	}
	return attrs
}

func encodeElement(el Element, flats bool) xmlNote {
	n := xmlNote{Duration: el.Duration, Voice: "1"}
	if el.Rest {
		n.Rest = &xmlEmpty{}
	} else {
		n.Pitch = spell(el.Pitch, flats)
		var tied []xmlTie
		if el.TieStop {
			n.Ties = append(n.Ties, xmlTie{Type: "stop"})
			tied = append(tied, xmlTie{Type: "stop"})
		}
		if el.TieStart {
			n.Ties = append(n.Ties, xmlTie{Type: "start"})
			tied = append(tied, xmlTie{Type: "start"})
		}
		if len(tied) > 0 {
			n.Notations = &xmlNotations{Tied: tied}
		}
	}
	if name, dots, ok := noteType(el.Duration); ok {
		n.Type = name
		n.Dots = make([]xmlEmpty, dots)
	}
	return n
}

// Unmarshal decodes the first part of a partwise MusicXML document.
// Chord tones and grace notes are skipped.
func Unmarshal(data []byte) (*Score, error) {
	var doc xmlScore
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode musicxml: %w", err)
	}
	if len(doc.Parts) == 0 {
		return nil, fmt.Errorf("decode musicxml: no parts")
	}
	part := doc.Parts[0]

	s := &Score{Time: CommonTime}
	for _, sp := range doc.PartList.ScoreParts {
		if sp.ID == part.ID || s.PartName == "" {
			s.PartName = strings.TrimSpace(sp.Name)
		}
	}

	divisions := Divisions
	chromatic := 0
	timeSet := false
	for i, xm := range part.Measures {
		if a := xm.Attributes; a != nil {
			if a.Divisions > 0 {
				divisions = a.Divisions
			}
			if a.Key != nil && s.Key == nil {
				mode := a.Key.Mode
				if mode == "" {
					mode = "major"
				}
				s.Key = &Key{Fifths: a.Key.Fifths, Mode: mode}
			}
			if a.Time != nil && !timeSet {
				beats, err1 := strconv.Atoi(strings.TrimSpace(a.Time.Beats))
				beatType, err2 := strconv.Atoi(strings.TrimSpace(a.Time.BeatType))
				if err1 == nil && err2 == nil && beats > 0 && beatType > 0 {
					s.Time = TimeSignature{Beats: beats, BeatType: beatType}
					timeSet = true
				}
			}
			if a.Transpose != nil && chromatic == 0 {
				chromatic = a.Transpose.Chromatic
			}
		}
		if s.TempoBPM == 0 {
			s.TempoBPM = directionTempo(xm.Directions)
		}

		var m Measure
		for _, n := range xm.Notes {
			if n.Chord != nil || n.Grace != nil || n.Duration <= 0 {
				continue
			}
			el := Element{Duration: int(math.Round(float64(n.Duration) * Divisions / float64(divisions)))}
			switch {
			case n.Pitch != nil:
				p, err := n.Pitch.midi()
				if err != nil {
					return nil, fmt.Errorf("measure %d: %w", i+1, err)
				}
				el.Pitch = p
				el.TieStart, el.TieStop = tieFlags(n)
			default:
				el.Rest = true
			}
			m.Elements = append(m.Elements, el)
		}
		if len(m.Elements) > 0 {
			s.Measures = append(s.Measures, m)
		}
	}
	s.Transposition = transpositionByLabel(s.PartName, chromatic)
	return s, nil
}

func directionTempo(dirs []xmlDirection) int {
	for _, d := range dirs {
		if d.Sound != nil && d.Sound.Tempo != "" {
			if v, err := strconv.ParseFloat(d.Sound.Tempo, 64); err == nil && v > 0 {
				return int(math.Round(v))
			}
		}
		if d.Metronome != nil {
			if v, err := strconv.ParseFloat(strings.TrimSpace(d.Metronome.PerMinute), 64); err == nil && v > 0 {
				return int(math.Round(v))
			}
		}
	}
	return 0
}

func tieFlags(n xmlNote) (start, stop bool) {
	ties := n.Ties
	if n.Notations != nil {
		ties = append(ties, n.Notations.Tied...)
	}
	for _, t := range ties {
		switch t.Type {
		case "start":
			start = true
		case "stop":
			stop = true
		}
	}
	return start, stop
}

// WriteFile serializes the score to path.
func WriteFile(path string, s *Score) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile parses a MusicXML score from path.
func ReadFile(path string) (*Score, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
