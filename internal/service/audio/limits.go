// Package audio validates uploaded recordings and normalizes them into the
// canonical PCM file the pitch model consumes.
package audio

import (
	"sort"
	"strings"
	"time"
)

// Limits defines the guardrails applied to every upload.
type Limits struct {
	MaxUploadBytes   int64         // Max raw upload size
	MaxInputDuration time.Duration // Longer inputs are rejected
	ProcessingCap    time.Duration // Longer inputs are truncated to this prefix
}

// DefaultLimits returns the default upload limits.
func DefaultLimits() Limits {
	return Limits{
		MaxUploadBytes:   50 * 1024 * 1024,
		MaxInputDuration: 5 * time.Minute,
		ProcessingCap:    90 * time.Second,
	}
}

// Format describes a PCM layout.
type Format struct {
	SampleRateHz  int
	Channels      int
	BitsPerSample int
}

// CanonicalFormat is mono 16-bit PCM at the given rate.
func CanonicalFormat(sampleRateHz int) Format {
	return Format{SampleRateHz: sampleRateHz, Channels: 1, BitsPerSample: 16}
}

var allowedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".ogg":  true,
	".flac": true,
	".m4a":  true,
	".webm": true,
}

// Allowed reports whether ext (with leading dot, any case) is accepted.
func Allowed(ext string) bool {
	return allowedExtensions[strings.ToLower(ext)]
}

// AllowedExtensions returns the accepted extensions, sorted.
func AllowedExtensions() []string {
	exts := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
