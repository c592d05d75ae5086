// Package schema checks conversion events before they are published.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"audio-notation-service/internal/models"
)

// ErrInvalidEvent wraps every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the required fields of a known event type.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.ConversionCompleted:
		return v.completed(&ev)
	case *models.ConversionCompleted:
		return v.completed(ev)
	case models.ConversionFailed:
		return v.failed(&ev)
	case *models.ConversionFailed:
		return v.failed(ev)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}
}

func (v *Validator) completed(ev *models.ConversionCompleted) error {
	var missing []string
	if ev.EventType != models.EventConversionCompleted {
		missing = append(missing, "eventType")
	}
	if ev.JobID == "" {
		missing = append(missing, "jobId")
	}
	if ev.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	if ev.Transposition == "" {
		missing = append(missing, "transposition")
	}
	if ev.NoteCount <= 0 {
		missing = append(missing, "noteCount")
	}
	if ev.TempoBPM <= 0 {
		missing = append(missing, "tempoBpm")
	}
	return result(missing)
}

func (v *Validator) failed(ev *models.ConversionFailed) error {
	var missing []string
	if ev.EventType != models.EventConversionFailed {
		missing = append(missing, "eventType")
	}
	if ev.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	if ev.Kind == "" {
		missing = append(missing, "kind")
	}
	if ev.Message == "" {
		missing = append(missing, "message")
	}
	return result(missing)
}

func result(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: bad or missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
}
