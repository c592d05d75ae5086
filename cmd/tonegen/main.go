// Tonegen writes a canonical WAV melody for smoke-testing the service
// without a real recording.
package main

import (
	"flag"
	"log"
	"strconv"
	"strings"

	"audio-notation-service/internal/service/audio"
)

func main() {
	out := flag.String("out", "melody.wav", "Output WAV path")
	notes := flag.String("notes", "60,62,64,65,67,69,71,72", "Comma-separated MIDI notes; 0 is a rest")
	noteSeconds := flag.Float64("note-seconds", 0.5, "Length of each note in seconds")
	sampleRate := flag.Int("rate", 22050, "Sample rate in Hz (must match the service's AUDIO_SAMPLE_RATE_HZ)")
	repeat := flag.Int("repeat", 1, "How many times to repeat the melody")
	flag.Parse()

	pitches, err := parseNotes(*notes)
	if err != nil {
		log.Fatalf("Invalid notes: %v", err)
	}

	var freqs []float64
	for i := 0; i < *repeat; i++ {
		for _, p := range pitches {
			if p == 0 {
				freqs = append(freqs, 0)
				continue
			}
			freqs = append(freqs, audio.MIDIFrequency(p))
		}
	}

	format := audio.CanonicalFormat(*sampleRate)
	if err := audio.WriteTone(*out, format, *noteSeconds, freqs...); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}
	log.Printf("Wrote %s: %d notes of %.2fs at %d Hz", *out, len(freqs), *noteSeconds, *sampleRate)
}

func parseNotes(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
