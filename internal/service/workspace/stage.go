package workspace

import "fmt"

// Stage is how far a job has progressed, derived from its artifacts.
type Stage int

const (
	// StageCreated - Area allocated, nothing uploaded yet.
	StageCreated Stage = iota
	// StageUploaded - Original upload stored.
	StageUploaded
	// StageNormalized - Canonical PCM written.
	StageNormalized
	// StagePitchDetected - MIDI artifact written.
	StagePitchDetected
	// StageNotated - Score written.
	StageNotated
	// StageSimplified - Simplified score written.
	StageSimplified
	// StageCompleted - Metadata written; the conversion finished.
	StageCompleted
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageCreated:
		return "CREATED"
	case StageUploaded:
		return "UPLOADED"
	case StageNormalized:
		return "NORMALIZED"
	case StagePitchDetected:
		return "PITCH_DETECTED"
	case StageNotated:
		return "NOTATED"
	case StageSimplified:
		return "SIMPLIFIED"
	case StageCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true once the conversion has completed.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted
}

// Stage inspects the job directory and returns the furthest stage reached.
func (j *Job) Stage() Stage {
	switch {
	case j.Has(ArtifactMetadata):
		return StageCompleted
	case j.Has(ArtifactSimplifiedScore):
		return StageSimplified
	case j.Has(ArtifactScore):
		return StageNotated
	case j.Has(ArtifactMIDI):
		return StagePitchDetected
	case j.Has(ArtifactCanonicalAudio):
		return StageNormalized
	}
	if _, ok := j.Upload(); ok {
		return StageUploaded
	}
	return StageCreated
}
