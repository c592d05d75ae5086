package audio

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/runner"
)

// FFmpeg transcodes any supported container with ffprobe/ffmpeg.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
	runner      runner.Runner
}

// NewFFmpeg creates an ffmpeg-backed transcoder.
func NewFFmpeg(ffmpegPath, ffprobePath string, timeout time.Duration, r runner.Runner) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     timeout,
		runner:      r,
	}
}

// Name returns "ffmpeg".
func (f *FFmpeg) Name() string {
	return "ffmpeg"
}

// Probe asks ffprobe for the container duration.
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (time.Duration, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	res, err := f.runner.Run(ctx, f.ffprobePath, buildProbeArgs(inputPath)...)
	if err != nil {
		return 0, apperrors.TranscodeFailed("could not read audio duration", err)
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil || secs < 0 {
		return 0, apperrors.TranscodeFailed("could not read audio duration", fmt.Errorf("parse ffprobe output %q: %w", res.Stdout, err))
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Transcode converts input to canonical PCM, keeping at most maxDuration from the start.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string, maxDuration time.Duration, format Format) error {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	if _, err := f.runner.Run(ctx, f.ffmpegPath, buildTranscodeArgs(inputPath, outputPath, maxDuration, format)...); err != nil {
		return apperrors.TranscodeFailed("audio conversion failed", err)
	}
	return nil
}

func (f *FFmpeg) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}

func buildProbeArgs(inputPath string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
}

func buildTranscodeArgs(inputPath, outputPath string, maxDuration time.Duration, format Format) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
	}
	if maxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(maxDuration.Seconds(), 'f', -1, 64))
	}
	args = append(args,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRateHz),
		"-c:a", pcmCodec(format.BitsPerSample),
		outputPath,
	)
	return args
}

func pcmCodec(bits int) string {
	switch bits {
	case 8:
		return "pcm_u8"
	case 24:
		return "pcm_s24le"
	case 32:
		return "pcm_s32le"
	default:
		return "pcm_s16le"
	}
}
