package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/youpy/go-wav"

	apperrors "audio-notation-service/internal/errors"
)

const (
	wavFormatPCM = 1

	// minWAVSize is the length of a canonical RIFF header with an empty data chunk.
	minWAVSize = 44
)

// errShortWAV is returned for files too small to hold a WAV header.
var errShortWAV = errors.New("file is too short to be a WAV file")

// recoverWAV converts a go-wav panic on malformed RIFF data into an error.
func recoverWAV(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("malformed wav data: %v", r)
	}
}

// WAVInfo describes a WAV file's header.
type WAVInfo struct {
	Format      Format
	AudioFormat int
	Duration    time.Duration
}

// ReadWAVInfo parses the header of a WAV file.
func ReadWAVInfo(path string) (info *WAVInfo, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < minWAVSize {
		return nil, errShortWAV
	}
	defer recoverWAV(&err)

	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("read wav format: %w", err)
	}
	duration, err := reader.Duration()
	if err != nil {
		return nil, fmt.Errorf("read wav duration: %w", err)
	}

	return &WAVInfo{
		Format: Format{
			SampleRateHz:  int(format.SampleRate),
			Channels:      int(format.NumChannels),
			BitsPerSample: int(format.BitsPerSample),
		},
		AudioFormat: int(format.AudioFormat),
		Duration:    duration,
	}, nil
}

// WAVOnly is the reduced path used when no transcoder binary is installed.
// It accepts only input that is already in the canonical format and copies
// its prefix.
type WAVOnly struct{}

// NewWAVOnly creates the fallback transcoder.
func NewWAVOnly() *WAVOnly {
	return &WAVOnly{}
}

// Name returns "wav-only".
func (w *WAVOnly) Name() string {
	return "wav-only"
}

// Probe reads the duration from the WAV header.
func (w *WAVOnly) Probe(ctx context.Context, inputPath string) (time.Duration, error) {
	if !strings.EqualFold(filepath.Ext(inputPath), ".wav") {
		return 0, apperrors.UnsupportedFormat("only WAV input can be converted on this server")
	}
	info, err := ReadWAVInfo(inputPath)
	if err != nil {
		return 0, apperrors.New(apperrors.KindUnsupportedFormat, "unreadable WAV file", err)
	}
	return info.Duration, nil
}

// Transcode copies at most maxDuration of canonical input to outputPath.
func (w *WAVOnly) Transcode(ctx context.Context, inputPath, outputPath string, maxDuration time.Duration, format Format) error {
	info, err := ReadWAVInfo(inputPath)
	if err != nil {
		return apperrors.New(apperrors.KindUnsupportedFormat, "unreadable WAV file", err)
	}
	if info.AudioFormat != wavFormatPCM || info.Format != format {
		return apperrors.UnsupportedFormat(fmt.Sprintf(
			"only %d Hz mono %d-bit PCM WAV can be converted on this server",
			format.SampleRateHz, format.BitsPerSample))
	}

	limit := -1
	if maxDuration > 0 {
		limit = int(maxDuration.Seconds() * float64(format.SampleRateHz))
	}

	samples, err := readSamples(ctx, inputPath, limit)
	if err != nil {
		return apperrors.TranscodeFailed("could not read WAV samples", err)
	}
	if err := WriteWAV(outputPath, samples, format); err != nil {
		return apperrors.TranscodeFailed("could not write canonical audio", err)
	}
	return nil
}

// readSamples returns up to limit frames; a negative limit reads everything.
func readSamples(ctx context.Context, path string, limit int) (samples []wav.Sample, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer recoverWAV(&err)

	reader := wav.NewReader(f)
	for limit < 0 || len(samples) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := reader.ReadSamples(4096)
		samples = append(samples, chunk...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
	}
	if limit >= 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	return samples, nil
}

// WriteWAV writes samples as a PCM WAV file.
func WriteWAV(path string, samples []wav.Sample, format Format) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	writer := wav.NewWriter(f, uint32(len(samples)), uint16(format.Channels), uint32(format.SampleRateHz), uint16(format.BitsPerSample))
	if err := writer.WriteSamples(samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
