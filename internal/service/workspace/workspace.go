// Package workspace allocates one directory per conversion job and reclaims
// directories older than a time-to-live. A job's progress is derived from the
// artifact files present in its directory; there is no stored state field.
package workspace

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/observability/logging"
)

// markerName is the creation-timestamp record written before any artifact.
const markerName = ".created"

// Artifact is the fixed file name of one pipeline stage's output.
type Artifact string

const (
	ArtifactCanonicalAudio  Artifact = "audio.wav"
	ArtifactModelMIDI       Artifact = "raw_model.mid"
	ArtifactMIDI            Artifact = "output.mid"
	ArtifactNotes           Artifact = "notes.json"
	ArtifactScore           Artifact = "score.musicxml"
	ArtifactSimplifiedScore Artifact = "score_simplified.musicxml"
	ArtifactMetadata        Artifact = "metadata.json"
	ArtifactRender          Artifact = "score.svg"
)

// uploadPrefix names the original upload; the declared extension is appended.
const uploadPrefix = "upload"

// Job is one isolated storage area.
type Job struct {
	ID        string
	Dir       string
	CreatedAt time.Time
}

// Path returns the location of an artifact inside the job directory.
func (j *Job) Path(a Artifact) string {
	return filepath.Join(j.Dir, string(a))
}

// Has reports whether the artifact has been written.
func (j *Job) Has(a Artifact) bool {
	info, err := os.Stat(j.Path(a))
	return err == nil && !info.IsDir()
}

// UploadPath returns where the original upload with the given extension is stored.
func (j *Job) UploadPath(ext string) string {
	return filepath.Join(j.Dir, uploadPrefix+strings.ToLower(ext))
}

// Upload returns the stored upload path, if any.
func (j *Job) Upload() (string, bool) {
	matches, err := filepath.Glob(filepath.Join(j.Dir, uploadPrefix+".*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// Artifacts lists the stage artifacts present, in pipeline order.
func (j *Job) Artifacts() []Artifact {
	all := []Artifact{
		ArtifactCanonicalAudio,
		ArtifactModelMIDI,
		ArtifactMIDI,
		ArtifactNotes,
		ArtifactScore,
		ArtifactSimplifiedScore,
		ArtifactMetadata,
		ArtifactRender,
	}
	present := make([]Artifact, 0, len(all))
	for _, a := range all {
		if j.Has(a) {
			present = append(present, a)
		}
	}
	return present
}

// Manager owns the workspace root.
type Manager struct {
	root   string
	newID  func() string
	now    func() time.Time
	logger zerolog.Logger
}

// NewManager creates the root directory if needed.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{
		root:   root,
		newID:  newJobID,
		now:    time.Now,
		logger: logging.WithComponent("workspace"),
	}, nil
}

// Root returns the directory holding all job areas.
func (m *Manager) Root() string {
	return m.root
}

// Create allocates a fresh job directory and records its creation time
// before returning, so a sweep never sees an area without a marker that
// it could mistake for an expired one.
func (m *Manager) Create() (*Job, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id := m.newID()
		dir := filepath.Join(m.root, id)

		if err := os.Mkdir(dir, 0o755); err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, fmt.Errorf("create job dir: %w", err)
		}

		created := m.now()
		if err := writeMarker(dir, created); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("write creation marker: %w", err)
		}

		m.logger.Debug().Str("jobId", id).Msg("Job workspace created")
		return &Job{ID: id, Dir: dir, CreatedAt: created}, nil
	}
	return nil, fmt.Errorf("create job dir: id collision after retries")
}

// Resolve returns an existing job. It never creates anything.
func (m *Manager) Resolve(id string) (*Job, error) {
	if !validID(id) {
		return nil, apperrors.JobNotFound(id)
	}
	dir := filepath.Join(m.root, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, apperrors.JobNotFound(id)
	}

	job := &Job{ID: id, Dir: dir}
	if created, err := readMarker(dir); err == nil {
		job.CreatedAt = created
	}
	return job, nil
}

// Remove deletes a job area explicitly. Removing an absent area is not an error.
func (m *Manager) Remove(id string) error {
	if !validID(id) {
		return apperrors.JobNotFound(id)
	}
	return os.RemoveAll(filepath.Join(m.root, id))
}

// Sweep removes every area whose age exceeds ttl and returns how many were removed.
// Areas with a missing or unreadable marker are kept. Removal failures,
// including races with another sweep, are swallowed.
func (m *Manager) Sweep(now time.Time, ttl time.Duration) int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Sweep could not list workspace root")
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())

		created, err := readMarker(dir)
		if err != nil {
			continue
		}
		if now.Sub(created) <= ttl {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			m.logger.Debug().Err(err).Str("jobId", entry.Name()).Msg("Sweep removal failed")
			continue
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info().Int("removed", removed).Dur("ttl", ttl).Msg("Expired job workspaces swept")
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done. onSweep, if set,
// receives the number of areas removed by each pass.
func (m *Manager) RunSweeper(ctx context.Context, interval, ttl time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := m.Sweep(m.now(), ttl)
			if onSweep != nil {
				onSweep(n)
			}
		}
	}
}

// newJobID returns 32 lowercase hex characters from a random UUID.
func newJobID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// validID guards Resolve against path traversal and foreign directories.
func validID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// maxMarkerSeconds bounds creation markers to the year 9999.
const maxMarkerSeconds = 253402300799

func writeMarker(dir string, created time.Time) error {
	tmp := filepath.Join(dir, markerName+".tmp")
	value := strconv.FormatFloat(float64(created.UnixNano())/1e9, 'f', 6, 64)
	if err := os.WriteFile(tmp, []byte(value), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, markerName))
}

func readMarker(dir string) (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(dir, markerName))
	if err != nil {
		return time.Time{}, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse creation marker: %w", err)
	}
	if math.IsNaN(secs) || secs < 0 || secs > maxMarkerSeconds {
		return time.Time{}, fmt.Errorf("creation marker out of range: %q", data)
	}
	whole := int64(secs)
	nanos := int64((secs - float64(whole)) * 1e9)
	return time.Unix(whole, nanos), nil
}
