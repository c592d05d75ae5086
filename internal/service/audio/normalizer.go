package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/observability/logging"
)

// Result describes one normalization.
type Result struct {
	Path           string
	SourceDuration time.Duration
	Duration       time.Duration
	Truncated      bool
}

// Normalizer validates uploads and produces canonical PCM.
type Normalizer struct {
	transcoder Transcoder
	toolchain  Toolchain
	limits     Limits
	format     Format
	logger     zerolog.Logger
}

// NewNormalizer creates a normalizer. The toolchain is decided once at startup.
func NewNormalizer(transcoder Transcoder, toolchain Toolchain, limits Limits, format Format) *Normalizer {
	return &Normalizer{
		transcoder: transcoder,
		toolchain:  toolchain,
		limits:     limits,
		format:     format,
		logger:     logging.WithComponent("normalizer"),
	}
}

// Format returns the canonical output format.
func (n *Normalizer) Format() Format {
	return n.format
}

// Toolchain returns the injected toolchain.
func (n *Normalizer) Toolchain() Toolchain {
	return n.toolchain
}

// Limits returns the upload limits.
func (n *Normalizer) Limits() Limits {
	return n.limits
}

// TranscoderName names the transcoder in use.
func (n *Normalizer) TranscoderName() string {
	return n.transcoder.Name()
}

// Validate checks the raw upload size and declared extension.
func (n *Normalizer) Validate(size int64, ext string) error {
	if n.limits.MaxUploadBytes > 0 && size > n.limits.MaxUploadBytes {
		return apperrors.InputTooLarge(n.limits.MaxUploadBytes)
	}
	if !Allowed(ext) {
		return apperrors.UnsupportedFormat(fmt.Sprintf("extension %q is not supported", ext))
	}
	if !n.toolchain.Accepts(ext) {
		return apperrors.UnsupportedFormat("transcoder is disabled on this server; only WAV uploads can be converted")
	}
	return nil
}

// Normalize probes the input, rejects over-long material, and writes the
// canonical prefix to outputPath. The input file is never modified.
func (n *Normalizer) Normalize(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	sourceDuration, err := n.transcoder.Probe(ctx, inputPath)
	if err != nil {
		return nil, classify(err, "could not read audio duration")
	}

	if n.limits.MaxInputDuration > 0 && sourceDuration > n.limits.MaxInputDuration {
		return nil, apperrors.InputTooLong(n.limits.MaxInputDuration)
	}

	truncated := n.limits.ProcessingCap > 0 && sourceDuration > n.limits.ProcessingCap
	if truncated {
		n.logger.Info().
			Dur("sourceDuration", sourceDuration).
			Dur("cap", n.limits.ProcessingCap).
			Msg("Input exceeds processing cap, keeping prefix")
	}

	if err := n.transcoder.Transcode(ctx, inputPath, outputPath, n.limits.ProcessingCap, n.format); err != nil {
		return nil, classify(err, "audio conversion failed")
	}

	info, err := ReadWAVInfo(outputPath)
	if err != nil {
		return nil, apperrors.TranscodeFailed("transcoder produced no usable output", err)
	}
	if info.Duration <= 0 {
		return nil, apperrors.TranscodeFailed("transcoder produced an empty output file", nil)
	}
	if info.Format != n.format {
		return nil, apperrors.TranscodeFailed(
			"transcoder produced unexpected format",
			fmt.Errorf("got %+v, want %+v", info.Format, n.format))
	}

	n.logger.Debug().
		Str("transcoder", n.transcoder.Name()).
		Dur("duration", info.Duration).
		Bool("truncated", truncated).
		Msg("Audio normalized")

	return &Result{
		Path:           outputPath,
		SourceDuration: sourceDuration,
		Duration:       info.Duration,
		Truncated:      truncated,
	}, nil
}

// classify keeps already-classified errors and marks the rest as transcode failures.
func classify(err error, detail string) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.TranscodeFailed(detail, err)
}
