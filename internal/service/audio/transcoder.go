package audio

import (
	"context"
	"strings"
	"time"

	"audio-notation-service/internal/runner"
)

// Transcoder probes and converts source media.
type Transcoder interface {
	// Probe returns the decoded duration of the media file.
	Probe(ctx context.Context, inputPath string) (time.Duration, error)

	// Transcode writes the first maxDuration of input to outputPath in format.
	Transcode(ctx context.Context, inputPath, outputPath string, maxDuration time.Duration, format Format) error

	// Name identifies the implementation in logs.
	Name() string
}

// Toolchain records which external tools were found at startup.
type Toolchain struct {
	FFmpegAvailable bool
}

// DetectToolchain looks up the transcoder binaries once.
func DetectToolchain(ffmpegPath, ffprobePath string) Toolchain {
	return Toolchain{
		FFmpegAvailable: runner.Available(ffmpegPath) && runner.Available(ffprobePath),
	}
}

// Accepts reports whether an upload with ext can be normalized with this toolchain.
// Without the transcoder only WAV input is handled.
func (t Toolchain) Accepts(ext string) bool {
	return t.FFmpegAvailable || strings.EqualFold(ext, ".wav")
}

// TranscoderConfig configures NewTranscoder.
type TranscoderConfig struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
}

// NewTranscoder returns the ffmpeg transcoder when the toolchain has it, else the WAV-only fallback.
func NewTranscoder(tc Toolchain, cfg TranscoderConfig, r runner.Runner) Transcoder {
	if tc.FFmpegAvailable {
		return NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, cfg.Timeout, r)
	}
	return NewWAVOnly()
}
