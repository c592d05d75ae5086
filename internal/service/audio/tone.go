package audio

import (
	"math"

	"github.com/youpy/go-wav"
)

// Tone synthesizes a melody of equal-length sine notes. Frequencies of 0 are silence.
func Tone(format Format, noteSeconds float64, frequencies ...float64) []wav.Sample {
	perNote := int(noteSeconds * float64(format.SampleRateHz))
	amplitude := float64(int(1)<<(format.BitsPerSample-1)) / 4

	samples := make([]wav.Sample, 0, perNote*len(frequencies))
	for _, freq := range frequencies {
		for i := 0; i < perNote; i++ {
			var v int
			if freq > 0 {
				// 64-sample linear fade at both ends
				env := math.Min(1, math.Min(float64(i), float64(perNote-i))/64)
				v = int(amplitude * env * math.Sin(2*math.Pi*freq*float64(i)/float64(format.SampleRateHz)))
			}
			var s wav.Sample
			for ch := 0; ch < format.Channels && ch < len(s.Values); ch++ {
				s.Values[ch] = v
			}
			samples = append(samples, s)
		}
	}
	return samples
}

// WriteTone writes Tone output as a WAV file.
func WriteTone(path string, format Format, noteSeconds float64, frequencies ...float64) error {
	return WriteWAV(path, Tone(format, noteSeconds, frequencies...), format)
}

// MIDIFrequency returns the equal-tempered frequency of a MIDI note.
func MIDIFrequency(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}
