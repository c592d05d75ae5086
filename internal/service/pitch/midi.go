package pitch

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// ticksPerQuarter is the resolution of MIDI files written by WriteMIDI.
const ticksPerQuarter = 480

type midiNote struct {
	key        uint8
	start, end int64
	velocity   uint8
}

// ReadMIDI decodes a standard MIDI file into a sequence. Notes on every
// track and channel are collected; the first tempo and meter found are kept.
func ReadMIDI(path string) (*Sequence, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read midi %s: %w", path, err)
	}

	metric, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fmt.Errorf("read midi %s: unsupported time format %v", path, s.TimeFormat)
	}
	resolution := float64(metric.Ticks4th())

	seq := &Sequence{}
	type noteKey struct{ ch, key uint8 }
	type pending struct {
		tick     int64
		velocity uint8
	}
	var notes []midiNote

	for _, track := range s.Tracks {
		var abs int64
		open := make(map[noteKey][]pending)

		for _, ev := range track {
			abs += int64(ev.Delta)

			var bpm float64
			var num, denom uint8
			switch {
			case ev.Message.GetMetaTempo(&bpm):
				if seq.TempoBPM == 0 && bpm > 0 {
					seq.TempoBPM = bpm
				}
				continue
			case ev.Message.GetMetaMeter(&num, &denom):
				if seq.Meter == nil && num > 0 && denom > 0 {
					seq.Meter = &Meter{Numerator: int(num), Denominator: int(denom)}
				}
				continue
			}

			msg := midi.Message(ev.Message)
			var ch, key, vel uint8
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				k := noteKey{ch, key}
				open[k] = append(open[k], pending{tick: abs, velocity: vel})
			case msg.GetNoteEnd(&ch, &key):
				k := noteKey{ch, key}
				stack := open[k]
				if len(stack) == 0 {
					continue
				}
				p := stack[0]
				open[k] = stack[1:]
				notes = append(notes, midiNote{key: key, start: p.tick, end: abs, velocity: p.velocity})
			}
		}
	}

	tempo := seq.TempoBPM
	if tempo <= 0 {
		tempo = DefaultTempoBPM
	}
	secondsPerTick := 60 / tempo / resolution

	for _, n := range notes {
		if n.end <= n.start {
			continue
		}
		seq.Events = append(seq.Events, NoteEvent{
			Pitch:    int(n.key),
			Onset:    float64(n.start) * secondsPerTick,
			Duration: float64(n.end-n.start) * secondsPerTick,
			Velocity: int(n.velocity),
		})
	}
	seq.Sort()
	return seq, nil
}

// WriteMIDI encodes the sequence as a single-track MIDI file.
func WriteMIDI(path string, seq *Sequence) error {
	tempo := seq.TempoBPM
	if tempo <= 0 {
		tempo = DefaultTempoBPM
	}
	ticksPerSecond := tempo / 60 * ticksPerQuarter

	type timed struct {
		tick int64
		off  bool
		msg  midi.Message
	}
	events := make([]timed, 0, 2*len(seq.Events))
	for _, e := range seq.Events {
		key := uint8(clamp(e.Pitch, 0, 127))
		vel := uint8(clamp(e.Velocity, 1, 127))
		start := int64(math.Round(e.Onset * ticksPerSecond))
		end := int64(math.Round(e.End() * ticksPerSecond))
		if end <= start {
			end = start + 1
		}
		events = append(events,
			timed{tick: start, msg: midi.NoteOn(0, key, vel)},
			timed{tick: end, off: true, msg: midi.NoteOff(0, key)},
		)
	}
	// Releases sort before attacks on the same tick so repeated pitches re-trigger.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return events[i].off && !events[j].off
	})

	var track smf.Track
	track.Add(0, smf.MetaTempo(tempo))
	if seq.Meter != nil {
		track.Add(0, smf.MetaMeter(uint8(seq.Meter.Numerator), uint8(seq.Meter.Denominator)))
	}
	var last int64
	for _, ev := range events {
		track.Add(uint32(ev.tick-last), ev.msg)
		last = ev.tick
	}
	track.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ticksPerQuarter)
	if err := s.Add(track); err != nil {
		return fmt.Errorf("build midi: %w", err)
	}
	if err := s.WriteFile(path); err != nil {
		return fmt.Errorf("write midi %s: %w", path, err)
	}
	return nil
}

// WriteNotes stores the sequence as JSON for inspection.
func WriteNotes(path string, seq *Sequence) error {
	data, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
