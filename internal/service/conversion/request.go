package conversion

import (
	"io"
	"path/filepath"
	"strings"
	"time"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/service/notation"
	"audio-notation-service/internal/service/pitch"
	"audio-notation-service/internal/service/workspace"
)

// Request sources, reported in events.
const (
	SourceHTTP  = "http"
	SourceGRPC  = "grpc"
	SourceInbox = "inbox"
	SourceCLI   = "cli"
)

// Request is one conversion submitted by a transport.
type Request struct {
	Filename      string    // declared name; its extension selects the decoder
	Body          io.Reader // raw upload bytes
	Size          int64     // declared upload size in bytes
	RemoteURL     string    // remote media import, always rejected
	Transposition string    // concert, alto_eb, tenor_bb; empty means concert
	Simplify      bool
	TempoBPM      int // 0 means no hint
	Source        string
}

// Extension returns the lowercased extension of the declared filename.
func (r Request) Extension() string {
	return strings.ToLower(filepath.Ext(r.Filename))
}

// Result describes a completed conversion.
type Result struct {
	JobID          string
	Metadata       *notation.Metadata
	Artifacts      []workspace.Artifact
	Rendered       bool
	SourceDuration time.Duration
	Truncated      bool
}

// validate checks everything that can be rejected before a job exists.
func (s *Service) validate(req Request) (notation.Transposition, error) {
	if req.RemoteURL != "" {
		return notation.Transposition{}, apperrors.InvalidRequest("remote import not supported")
	}
	if req.Body == nil {
		return notation.Transposition{}, apperrors.InvalidRequest("no audio provided")
	}
	trans, err := notation.LookupTransposition(req.Transposition)
	if err != nil {
		return notation.Transposition{}, err
	}
	if req.TempoBPM != 0 && (req.TempoBPM < pitch.MinTempoBPM || req.TempoBPM > pitch.MaxTempoBPM) {
		return notation.Transposition{}, apperrors.InvalidRequest(
			"tempo must be between %d and %d bpm, got %d", pitch.MinTempoBPM, pitch.MaxTempoBPM, req.TempoBPM)
	}
	if req.Extension() == "" {
		return notation.Transposition{}, apperrors.UnsupportedFormat("filename has no extension")
	}
	if err := s.normalizer.Validate(req.Size, req.Extension()); err != nil {
		return notation.Transposition{}, err
	}
	return trans, nil
}
