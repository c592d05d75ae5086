// Package errors defines the classified failures a conversion can end with.
// Every stage returns one of these kinds so transports can pick a status code
// without inspecting internal causes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindInputTooLarge
	KindUnsupportedFormat
	KindInputTooLong
	KindTranscodeFailed
	KindPitchDetectionFailed
	KindNotationBuildFailed
	KindSimplificationFailed
	KindJobNotFound
)

// String returns the stable identifier used in logs, metrics and events.
func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindInputTooLarge:
		return "input_too_large"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindInputTooLong:
		return "input_too_long"
	case KindTranscodeFailed:
		return "transcode_failed"
	case KindPitchDetectionFailed:
		return "pitch_detection_failed"
	case KindNotationBuildFailed:
		return "notation_build_failed"
	case KindSimplificationFailed:
		return "simplification_failed"
	case KindJobNotFound:
		return "job_not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to a response code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindInputTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case KindInputTooLong, KindPitchDetectionFailed:
		return http.StatusUnprocessableEntity
	case KindJobNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Sentinel values for errors.Is checks against a kind.
var (
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
	ErrInputTooLarge        = &Error{Kind: KindInputTooLarge}
	ErrUnsupportedFormat    = &Error{Kind: KindUnsupportedFormat}
	ErrInputTooLong         = &Error{Kind: KindInputTooLong}
	ErrTranscodeFailed      = &Error{Kind: KindTranscodeFailed}
	ErrPitchDetectionFailed = &Error{Kind: KindPitchDetectionFailed}
	ErrNotationBuildFailed  = &Error{Kind: KindNotationBuildFailed}
	ErrSimplificationFailed = &Error{Kind: KindSimplificationFailed}
	ErrJobNotFound          = &Error{Kind: KindJobNotFound}
	ErrInternal             = &Error{Kind: KindInternal}
)

// Error is a classified failure. Message is safe to show to callers;
// Err holds the internal cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the internal cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a classified error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// InvalidRequest reports a caller contract violation.
func InvalidRequest(format string, args ...any) *Error {
	return New(KindInvalidRequest, fmt.Sprintf(format, args...), nil)
}

// InputTooLarge reports an upload over the byte ceiling.
func InputTooLarge(maxBytes int64) *Error {
	const mib = 1024 * 1024
	if maxBytes < mib {
		return New(KindInputTooLarge, fmt.Sprintf("file exceeds the %d byte limit", maxBytes), nil)
	}
	return New(KindInputTooLarge, fmt.Sprintf("file exceeds the %d MB limit", maxBytes/mib), nil)
}

// UnsupportedFormat reports an extension or encoding that cannot be processed.
func UnsupportedFormat(detail string) *Error {
	return New(KindUnsupportedFormat, "unsupported audio format: "+detail, nil)
}

// InputTooLong reports a decoded duration over the input maximum.
func InputTooLong(max fmt.Stringer) *Error {
	return New(KindInputTooLong, "audio is longer than the "+max.String()+" limit", nil)
}

// TranscodeFailed reports a transcoder error or empty output.
func TranscodeFailed(detail string, cause error) *Error {
	return New(KindTranscodeFailed, "audio conversion failed: "+detail, cause)
}

// PitchDetectionFailed reports a model error or an empty note list.
func PitchDetectionFailed(detail string, cause error) *Error {
	return New(KindPitchDetectionFailed, "pitch detection failed: "+detail, cause)
}

// NotationBuildFailed reports a parse or serialization error while building the score.
func NotationBuildFailed(detail string, cause error) *Error {
	return New(KindNotationBuildFailed, "score conversion failed: "+detail, cause)
}

// SimplificationFailed reports a parse or serialization error while simplifying.
func SimplificationFailed(detail string, cause error) *Error {
	return New(KindSimplificationFailed, "score simplification failed: "+detail, cause)
}

// JobNotFound reports an unknown or expired job id.
func JobNotFound(jobID string) *Error {
	return New(KindJobNotFound, "job not found, it may have expired: "+jobID, nil)
}

// Classify returns err as a classified error. Unclassified errors become
// KindInternal with a generic message so internal detail does not leak.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return New(KindInternal, "an internal error occurred while processing the request", err)
}

// KindOf returns the kind of err, or KindInternal when unclassified.
func KindOf(err error) Kind {
	return Classify(err).Kind
}
