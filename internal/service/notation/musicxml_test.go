package notation

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func sampleScore() *Score {
	return &Score{
		PartName:      "Alto Saxophone",
		Transposition: Transpositions[AltoEb],
		Time:          CommonTime,
		TempoBPM:      96,
		Key:           &Key{Fifths: -3, Mode: "major"},
		Measures: []Measure{
			{Elements: []Element{
				{Pitch: 63, Duration: 960},
				{Rest: true, Duration: 480},
				{Pitch: 70, Duration: 480, TieStart: true},
			}},
			{Elements: []Element{
				{Pitch: 70, Duration: 240, TieStop: true},
				{Pitch: 61, Duration: 160},
				{Pitch: 73, Duration: 720},
			}},
		},
	}
}

func TestMusicXML_RoundTrip(t *testing.T) {
	in := sampleScore()
	path := filepath.Join(t.TempDir(), "score.musicxml")

	if err := WriteFile(path, in); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	out, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if out.PartName != in.PartName {
		t.Errorf("expected part name %q, got %q", in.PartName, out.PartName)
	}
	if out.Transposition.Choice != AltoEb {
		t.Errorf("expected alto_eb transposition, got %+v", out.Transposition)
	}
	if out.TempoBPM != 96 {
		t.Errorf("expected tempo 96, got %d", out.TempoBPM)
	}
	if out.Key == nil || *out.Key != *in.Key {
		t.Errorf("expected key %+v, got %+v", in.Key, out.Key)
	}
	if out.Time != in.Time {
		t.Errorf("expected time %v, got %v", in.Time, out.Time)
	}
	if len(out.Measures) != len(in.Measures) {
		t.Fatalf("expected %d measures, got %d", len(in.Measures), len(out.Measures))
	}
	for i := range in.Measures {
		want, got := in.Measures[i].Elements, out.Measures[i].Elements
		if len(got) != len(want) {
			t.Fatalf("measure %d: expected %d elements, got %d", i+1, len(want), len(got))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("measure %d element %d: expected %+v, got %+v", i+1, j, want[j], got[j])
			}
		}
	}
}

func TestMarshal_Content(t *testing.T) {
	data, err := Marshal(sampleScore())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	doc := string(data)

	for _, want := range []string{
		"<score-partwise version=\"4.0\">",
		"<part-name>Alto Saxophone</part-name>",
		"<divisions>480</divisions>",
		"<chromatic>-9</chromatic>",
		"<diatonic>-5</diatonic>",
		"<per-minute>96</per-minute>",
		"<sound tempo=\"96\"></sound>",
		"<step>E</step>",
		"<alter>-1</alter>",
		"<tied type=\"start\"></tied>",
		"<type>eighth</type>",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("expected output to contain %s", want)
		}
	}
	if !strings.HasPrefix(doc, "<?xml") {
		t.Error("expected XML declaration")
	}
}

func TestMarshal_ConcertHasNoTranspose(t *testing.T) {
	s := sampleScore()
	s.Transposition = Transpositions[Concert]
	s.Key = nil

	data, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "<transpose>") {
		t.Error("expected no transpose element for concert pitch")
	}
	if strings.Contains(string(data), "<key>") {
		t.Error("expected key omitted when none was inferred")
	}
	if !strings.Contains(string(data), "<alter>1</alter>") {
		t.Error("expected sharps without a flat key")
	}
}

func TestUnmarshal_RescalesDivisions(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<score-partwise version="3.1">
  <part-list><score-part id="P1"><part-name>Flute</part-name></score-part></part-list>
  <part id="P1">
    <measure number="1">
      <attributes><divisions>10</divisions><time><beats>3</beats><beat-type>4</beat-type></time></attributes>
      <note><pitch><step>A</step><octave>4</octave></pitch><duration>4</duration></note>
      <note><chord/><pitch><step>C</step><octave>5</octave></pitch><duration>4</duration></note>
      <note><grace/><pitch><step>B</step><octave>4</octave></pitch></note>
      <note><rest/><duration>2</duration></note>
      <note><pitch><step>B</step><alter>-1</alter><octave>4</octave></pitch><duration>24</duration></note>
    </measure>
  </part>
</score-partwise>`

	s, err := Unmarshal([]byte(doc))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	els := s.Measures[0].Elements
	if len(els) != 3 {
		t.Fatalf("expected chord and grace notes skipped, got %+v", els)
	}
	if els[0].Pitch != 69 || els[0].Duration != 192 {
		t.Errorf("expected A4 of 0.4 quarters, got %+v", els[0])
	}
	if !els[1].Rest || els[1].Duration != 96 {
		t.Errorf("expected rest of 0.2 quarters, got %+v", els[1])
	}
	if els[2].Pitch != 70 {
		t.Errorf("expected Bb4, got %+v", els[2])
	}
	if s.Time != (TimeSignature{Beats: 3, BeatType: 4}) {
		t.Errorf("expected 3/4, got %v", s.Time)
	}
	if s.Transposition.Semitones != 0 || s.PartName != "Flute" {
		t.Errorf("expected untransposed Flute part, got %+v", s.Transposition)
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", "no markup here"},
		{"no parts", `<score-partwise><part-list/></score-partwise>`},
		{"bad step", `<score-partwise><part id="P1"><measure number="1"><note><pitch><step>H</step><octave>4</octave></pitch><duration>1</duration></note></measure></part></score-partwise>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNoteType(t *testing.T) {
	tests := []struct {
		ticks int
		name  string
		dots  int
		ok    bool
	}{
		{1920, "whole", 0, true},
		{720, "quarter", 1, true},
		{840, "quarter", 2, true},
		{120, "16th", 0, true},
		{160, "", 0, false},
	}

	for _, tt := range tests {
		name, dots, ok := noteType(tt.ticks)
		if name != tt.name || dots != tt.dots || ok != tt.ok {
			t.Errorf("noteType(%d) = %s/%d/%v, want %s/%d/%v", tt.ticks, name, dots, ok, tt.name, tt.dots, tt.ok)
		}
	}
}

func TestAnalyzeKey(t *testing.T) {
	tests := []struct {
		name    string
		pitches []int
		want    string
	}{
		{"C major scale", []int{60, 62, 64, 65, 67, 69, 71, 72, 67, 64, 60}, "C major"},
		{"A minor arpeggio", []int{57, 60, 64, 69, 64, 60, 57, 56, 57}, "A minor"},
		{"Eb major scale", []int{63, 65, 67, 68, 70, 72, 74, 75, 70, 67, 63}, "Eb major"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Measure
			for _, p := range tt.pitches {
				m.Elements = append(m.Elements, Element{Pitch: p, Duration: Divisions})
			}
			key, err := AnalyzeKey(&Score{Measures: []Measure{m}})
			if err != nil {
				t.Fatalf("AnalyzeKey() error = %v", err)
			}
			if key.Name() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, key.Name())
			}
		})
	}
}

func TestAnalyzeKey_Undetermined(t *testing.T) {
	rests := &Score{Measures: []Measure{{Elements: []Element{{Rest: true, Duration: 1920}}}}}
	if _, err := AnalyzeKey(rests); !errors.Is(err, ErrKeyUndetermined) {
		t.Errorf("expected ErrKeyUndetermined for rests only, got %v", err)
	}

	var chromatic Measure
	for p := 60; p < 72; p++ {
		chromatic.Elements = append(chromatic.Elements, Element{Pitch: p, Duration: Divisions})
	}
	if _, err := AnalyzeKey(&Score{Measures: []Measure{chromatic}}); !errors.Is(err, ErrKeyUndetermined) {
		t.Errorf("expected ErrKeyUndetermined for a flat profile, got %v", err)
	}
}

func TestBuild_KeyFailureOmitsSignature(t *testing.T) {
	seq := sequence([]int{60, 61, 62, 63, 64, 65, 66, 67, 68, 69, 70, 71}, 12, 0.5)

	score, md, err := NewBuilder(DefaultPolicy).Build(seq, Concert, 0)
	if err != nil {
		t.Fatalf("expected build to succeed without a key, got %v", err)
	}
	if score.Key != nil || md.Key != "" {
		t.Errorf("expected key omitted, got %+v / %q", score.Key, md.Key)
	}
}
