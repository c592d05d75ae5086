// Package conversion runs the audio-to-notation pipeline for one request:
// workspace, normalization, pitch detection, notation, optional
// simplification and rendering. Each stage reads the artifact the previous
// stage left in the job workspace.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/models"
	"audio-notation-service/internal/observability/logging"
	"audio-notation-service/internal/observability/metrics"
	"audio-notation-service/internal/schema"
	"audio-notation-service/internal/service/audio"
	"audio-notation-service/internal/service/notation"
	"audio-notation-service/internal/service/pitch"
	"audio-notation-service/internal/service/simplify"
	"audio-notation-service/internal/service/workspace"
)

// Stage names used in logs and metrics.
const (
	StageUpload    = "upload"
	StageNormalize = "normalize"
	StagePitch     = "pitch"
	StageNotation  = "notation"
	StageSimplify  = "simplify"
	StageRender    = "render"
)

// EventPublisher receives one event per finished request.
type EventPublisher interface {
	PublishCompleted(ctx context.Context, key string, event any) error
	PublishFailed(ctx context.Context, key string, event any) error
}

// Deps are the collaborators of a Service. Renderer and Publisher are optional.
type Deps struct {
	Workspaces    *workspace.Manager
	Normalizer    *audio.Normalizer
	Detector      *pitch.Detector
	Builder       *notation.Builder
	Simplifier    *simplify.Simplifier
	Renderer      Renderer
	Publisher     EventPublisher
	Metrics       *metrics.Metrics
	MaxConcurrent int
}

// Service converts uploads into notation.
type Service struct {
	workspaces *workspace.Manager
	normalizer *audio.Normalizer
	detector   *pitch.Detector
	builder    *notation.Builder
	simplifier *simplify.Simplifier
	renderer   Renderer
	publisher  EventPublisher
	validator  *schema.Validator
	metrics    *metrics.Metrics
	heavy      *semaphore.Weighted
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates a conversion service.
func New(d Deps) *Service {
	m := d.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	limit := d.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	simplifier := d.Simplifier
	if simplifier == nil {
		simplifier = simplify.New(simplify.DefaultMinDuration)
	}
	builder := d.Builder
	if builder == nil {
		builder = notation.NewBuilder(notation.DefaultPolicy)
	}
	return &Service{
		workspaces: d.Workspaces,
		normalizer: d.Normalizer,
		detector:   d.Detector,
		builder:    builder,
		simplifier: simplifier,
		renderer:   d.Renderer,
		publisher:  d.Publisher,
		validator:  schema.New(),
		metrics:    m,
		heavy:      semaphore.NewWeighted(int64(limit)),
		now:        time.Now,
		logger:     logging.WithComponent("conversion"),
	}
}

// Limits returns the upload limits enforced by the normalizer.
func (s *Service) Limits() audio.Limits {
	return s.normalizer.Limits()
}

// Workspaces returns the job workspace manager.
func (s *Service) Workspaces() *workspace.Manager {
	return s.workspaces
}

// Convert runs the whole pipeline. The caller's cancellation does not stop
// a started conversion; every stage runs to completion or fails.
func (s *Service) Convert(ctx context.Context, req Request) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	start := s.now()
	s.metrics.RecordConversionStart(int(max(req.Size, 0)))

	var jobID string
	res, err := s.convert(ctx, req, &jobID)
	elapsed := s.now().Sub(start)

	if err != nil {
		classified := apperrors.Classify(err)
		s.metrics.RecordConversionEnd(classified.Kind.String(), elapsed.Seconds())
		s.logger.Warn().
			Str("jobId", jobID).
			Str("filename", req.Filename).
			Str("kind", classified.Kind.String()).
			Err(err).
			Msg("Conversion failed")
		s.publishFailed(ctx, req, jobID, classified, elapsed)
		return nil, classified
	}

	s.metrics.RecordConversionEnd("", elapsed.Seconds())
	s.logger.Info().
		Str("jobId", res.JobID).
		Int("notes", res.Metadata.NoteCount).
		Bool("simplified", res.Metadata.Simplified).
		Dur("elapsed", elapsed).
		Msg("Conversion completed")
	s.publishCompleted(ctx, req, res, elapsed)
	return res, nil
}

func (s *Service) convert(ctx context.Context, req Request, jobID *string) (*Result, error) {
	trans, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	job, err := s.workspaces.Create()
	if err != nil {
		return nil, err
	}
	*jobID = job.ID
	s.metrics.RecordWorkspaceCreated()
	log := logging.WithJob(job.ID)

	uploadPath := job.UploadPath(req.Extension())
	if err := s.stage(ctx, job.ID, StageUpload, false, func(context.Context) error {
		return s.saveUpload(uploadPath, req.Body)
	}); err != nil {
		return nil, err
	}

	var norm *audio.Result
	if err := s.stage(ctx, job.ID, StageNormalize, true, func(ctx context.Context) error {
		norm, err = s.normalizer.Normalize(ctx, uploadPath, job.Path(workspace.ArtifactCanonicalAudio))
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.stage(ctx, job.ID, StagePitch, true, func(ctx context.Context) error {
		return s.detectPitch(ctx, job, req.TempoBPM)
	}); err != nil {
		return nil, err
	}

	var md *notation.Metadata
	if err := s.stage(ctx, job.ID, StageNotation, true, func(context.Context) error {
		md, err = s.notate(job, trans.Choice, req.TempoBPM)
		return err
	}); err != nil {
		return nil, err
	}

	if req.Simplify {
		if err := s.stage(ctx, job.ID, StageSimplify, true, func(context.Context) error {
			return s.simplifyScore(job)
		}); err != nil {
			return nil, err
		}
		md.Simplified = true
	}

	rendered := false
	if s.renderer != nil {
		err := s.stage(ctx, job.ID, StageRender, true, func(ctx context.Context) error {
			return s.renderer.Render(ctx, job.Path(workspace.ArtifactScore), job.Path(workspace.ArtifactRender))
		})
		if err != nil {
			s.metrics.RecordRenderFailure()
			log.Warn().Err(err).Str("renderer", s.renderer.Name()).Msg("Rendering failed, notation artifacts kept")
		} else {
			rendered = true
		}
	}

	if err := notation.WriteMetadata(job.Path(workspace.ArtifactMetadata), md); err != nil {
		return nil, apperrors.New(apperrors.KindInternal, "could not store metadata", err)
	}
	for _, code := range md.WarningCodes {
		s.metrics.RecordWarning(code)
	}

	return &Result{
		JobID:          job.ID,
		Metadata:       md,
		Artifacts:      job.Artifacts(),
		Rendered:       rendered,
		SourceDuration: norm.SourceDuration,
		Truncated:      norm.Truncated,
	}, nil
}

// stage runs fn with timing and metrics. Heavy stages wait for a worker slot.
func (s *Service) stage(ctx context.Context, jobID, name string, heavy bool, fn func(context.Context) error) error {
	if heavy {
		if err := s.heavy.Acquire(ctx, 1); err != nil {
			return apperrors.New(apperrors.KindInternal, "worker pool unavailable", err)
		}
		defer s.heavy.Release(1)
	}

	start := s.now()
	err := fn(ctx)
	latency := s.now().Sub(start)

	kind := ""
	if err != nil {
		kind = apperrors.KindOf(err).String()
	}
	s.metrics.RecordStage(name, kind, latency.Seconds())

	log := logging.WithStage(jobID, name)
	log.Debug().
		Dur("latency", latency).
		Str("kind", kind).
		Msg("Stage finished")
	return err
}

func (s *Service) saveUpload(path string, body io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "could not store upload", err)
	}
	defer f.Close()

	limit := s.normalizer.Limits().MaxUploadBytes
	src := body
	if limit > 0 {
		src = io.LimitReader(body, limit+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return apperrors.InvalidRequest("could not read upload: %v", err)
	}
	if limit > 0 && n > limit {
		return apperrors.InputTooLarge(limit)
	}
	if n == 0 {
		return apperrors.InvalidRequest("upload is empty")
	}
	return f.Close()
}

func (s *Service) detectPitch(ctx context.Context, job *workspace.Job, tempoHint int) error {
	seq, err := s.detector.Detect(ctx, job.Path(workspace.ArtifactCanonicalAudio), job.Path(workspace.ArtifactModelMIDI), tempoHint)
	if err != nil {
		return err
	}
	s.metrics.RecordNotes(len(seq.Events))

	if err := pitch.WriteMIDI(job.Path(workspace.ArtifactMIDI), seq); err != nil {
		return apperrors.PitchDetectionFailed("could not store MIDI", err)
	}
	if err := pitch.WriteNotes(job.Path(workspace.ArtifactNotes), seq); err != nil {
		return apperrors.PitchDetectionFailed("could not store note events", err)
	}
	return nil
}

func (s *Service) notate(job *workspace.Job, choice string, tempoHint int) (*notation.Metadata, error) {
	seq, err := pitch.ReadMIDI(job.Path(workspace.ArtifactMIDI))
	if err != nil {
		return nil, apperrors.NotationBuildFailed("could not parse MIDI", err)
	}
	score, md, err := s.builder.Build(seq, choice, tempoHint)
	if err != nil {
		return nil, err
	}
	if err := notation.WriteFile(job.Path(workspace.ArtifactScore), score); err != nil {
		return nil, apperrors.NotationBuildFailed("could not write MusicXML", err)
	}
	return md, nil
}

// simplifyScore writes the simplified score and makes it the primary score.
func (s *Service) simplifyScore(job *workspace.Job) error {
	simplified := job.Path(workspace.ArtifactSimplifiedScore)
	if _, err := s.simplifier.SimplifyFile(job.Path(workspace.ArtifactScore), simplified); err != nil {
		return err
	}
	if err := copyFile(simplified, job.Path(workspace.ArtifactScore)); err != nil {
		return apperrors.SimplificationFailed("could not replace score", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func (s *Service) publishCompleted(ctx context.Context, req Request, res *Result, elapsed time.Duration) {
	if s.publisher == nil {
		return
	}
	ev := models.ConversionCompleted{
		EventType:     models.EventConversionCompleted,
		JobID:         res.JobID,
		Timestamp:     s.now().UnixMilli(),
		Filename:      req.Filename,
		Source:        req.Source,
		Transposition: res.Metadata.Transposition,
		Simplified:    res.Metadata.Simplified,
		NoteCount:     res.Metadata.NoteCount,
		DurationSecs:  res.Metadata.DurationSeconds,
		TempoBPM:      res.Metadata.TempoBPM,
		Warnings:      res.Metadata.Warnings,
		Rendered:      res.Rendered,
		ElapsedMs:     elapsed.Milliseconds(),
	}
	if err := s.validator.Validate(ev); err != nil {
		s.logger.Error().Err(err).Str("jobId", res.JobID).Msg("Dropping invalid event")
		return
	}
	if err := s.publisher.PublishCompleted(ctx, res.JobID, ev); err != nil {
		s.logger.Error().Err(err).Str("jobId", res.JobID).Msg("Failed to publish completed event")
	}
}

func (s *Service) publishFailed(ctx context.Context, req Request, jobID string, cause *apperrors.Error, elapsed time.Duration) {
	if s.publisher == nil {
		return
	}
	ev := models.ConversionFailed{
		EventType: models.EventConversionFailed,
		JobID:     jobID,
		Timestamp: s.now().UnixMilli(),
		Filename:  req.Filename,
		Source:    req.Source,
		Kind:      cause.Kind.String(),
		Message:   cause.Message,
		ElapsedMs: elapsed.Milliseconds(),
	}
	if err := s.validator.Validate(ev); err != nil {
		s.logger.Error().Err(err).Str("jobId", jobID).Msg("Dropping invalid event")
		return
	}
	if err := s.publisher.PublishFailed(ctx, jobID, ev); err != nil {
		s.logger.Error().Err(err).Str("jobId", jobID).Msg("Failed to publish failed event")
	}
}

// JobStatus is what a lookup reports about a job.
type JobStatus struct {
	JobID     string
	Stage     workspace.Stage
	CreatedAt time.Time
	Artifacts []workspace.Artifact
	Metadata  *notation.Metadata // nil until the conversion completed
}

// Lookup reports a job's progress, derived from its artifacts.
func (s *Service) Lookup(id string) (*JobStatus, error) {
	job, err := s.workspaces.Resolve(id)
	if err != nil {
		return nil, err
	}
	st := &JobStatus{
		JobID:     job.ID,
		Stage:     job.Stage(),
		CreatedAt: job.CreatedAt,
		Artifacts: job.Artifacts(),
	}
	if job.Has(workspace.ArtifactMetadata) {
		md, err := notation.ReadMetadata(job.Path(workspace.ArtifactMetadata))
		if err != nil {
			return nil, apperrors.New(apperrors.KindInternal, "could not read metadata", err)
		}
		st.Metadata = md
	}
	return st, nil
}

// Download formats.
const (
	FormatMusicXML = "musicxml"
	FormatMIDI     = "midi"
	FormatMetadata = "metadata"
	FormatSVG      = "svg"
)

// Download describes one downloadable artifact.
type Download struct {
	Path        string
	Filename    string
	ContentType string
}

var downloads = map[string]struct {
	artifacts   []workspace.Artifact
	contentType string
	filename    string
}{
	FormatMusicXML: {[]workspace.Artifact{workspace.ArtifactScore, workspace.ArtifactSimplifiedScore}, "application/vnd.recordare.musicxml+xml", "score.musicxml"},
	FormatMIDI:     {[]workspace.Artifact{workspace.ArtifactMIDI}, "audio/midi", "output.mid"},
	FormatMetadata: {[]workspace.Artifact{workspace.ArtifactMetadata}, "application/json", "metadata.json"},
	FormatSVG:      {[]workspace.Artifact{workspace.ArtifactRender}, "image/svg+xml", "score.svg"},
}

// Locate finds the artifact for a download format.
func (s *Service) Locate(id, format string) (*Download, error) {
	dl, ok := downloads[format]
	if !ok {
		return nil, apperrors.InvalidRequest("unknown download format %q", format)
	}
	job, err := s.workspaces.Resolve(id)
	if err != nil {
		return nil, err
	}
	for _, a := range dl.artifacts {
		if job.Has(a) {
			return &Download{Path: job.Path(a), Filename: dl.filename, ContentType: dl.contentType}, nil
		}
	}
	return nil, apperrors.New(apperrors.KindJobNotFound, fmt.Sprintf("%s is not available for this job", format), nil)
}

// Health summarizes what this instance can do.
type Health struct {
	Status     string `json:"status"`
	FFmpeg     bool   `json:"ffmpeg_available"`
	Transcoder string `json:"transcoder"`
	PitchModel string `json:"pitch_model"`
	Renderer   string `json:"renderer,omitempty"`
}

// Health reports transcoder availability and optional collaborators.
func (s *Service) Health() Health {
	h := Health{
		Status:     "ok",
		FFmpeg:     s.normalizer.Toolchain().FFmpegAvailable,
		Transcoder: s.normalizer.TranscoderName(),
		PitchModel: s.detector.Model(),
	}
	if s.renderer != nil {
		h.Renderer = s.renderer.Name()
	}
	return h
}

// Ready fails when the workspace root is not writable.
func (s *Service) Ready() error {
	info, err := os.Stat(s.workspaces.Root())
	if err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return errors.New("workspace root is not a directory")
	}
	return nil
}
