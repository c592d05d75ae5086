package pitch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/observability/logging"
)

// Detector wraps an Estimator with the service's result contract: events
// are ordered and an empty result is always a failure.
type Detector struct {
	estimator Estimator
	params    Params
	logger    zerolog.Logger
}

// NewDetector creates a detector using fixed model params.
func NewDetector(estimator Estimator, params Params) *Detector {
	return &Detector{
		estimator: estimator,
		params:    params,
		logger:    logging.WithComponent("pitch"),
	}
}

// Model names the underlying estimator.
func (d *Detector) Model() string {
	return d.estimator.Name()
}

// EffectiveTempo returns the hint, or the default when the hint is unset.
func EffectiveTempo(hint int) int {
	if hint <= 0 {
		return DefaultTempoBPM
	}
	return hint
}

// Detect runs the model on pcmPath. tempoHint only scales the output grid.
func (d *Detector) Detect(ctx context.Context, pcmPath, rawOutputPath string, tempoHint int) (*Sequence, error) {
	start := time.Now()
	tempo := EffectiveTempo(tempoHint)

	seq, err := d.estimator.Estimate(ctx, Request{
		AudioPath:     pcmPath,
		RawOutputPath: rawOutputPath,
		TempoBPM:      tempo,
		Params:        d.params,
	})
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperrors.PitchDetectionFailed("pitch model failed", err)
	}

	if seq == nil || len(seq.Events) == 0 {
		return nil, apperrors.PitchDetectionFailed("no notes were recognized, use a clearer recording", nil)
	}
	if seq.TempoBPM <= 0 {
		seq.TempoBPM = float64(tempo)
	}
	seq.Sort()

	d.logger.Info().
		Str("model", d.estimator.Name()).
		Int("notes", len(seq.Events)).
		Int("tempo", tempo).
		Dur("elapsed", time.Since(start)).
		Msg("Pitch detection completed")

	return seq, nil
}
