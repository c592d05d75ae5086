package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"audio-notation-service/internal/config"
	"audio-notation-service/internal/events"
	"audio-notation-service/internal/observability/logging"
	"audio-notation-service/internal/observability/metrics"
	"audio-notation-service/internal/runner"
	"audio-notation-service/internal/service/audio"
	"audio-notation-service/internal/service/conversion"
	"audio-notation-service/internal/service/notation"
	"audio-notation-service/internal/service/pitch"
	"audio-notation-service/internal/service/pitch/basicpitch"
	"audio-notation-service/internal/service/pitch/mock"
	"audio-notation-service/internal/service/simplify"
	"audio-notation-service/internal/service/workspace"
)

// Pitch providers.
const (
	ProviderBasicPitch = "basic-pitch"
	ProviderMock       = "mock"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Metrics    *metrics.Metrics
	Toolchain  audio.Toolchain
	Workspaces *workspace.Manager
	Publisher  *events.Publisher
	Service    *conversion.Service

	now     func() time.Time
	cancel  context.CancelFunc
	sweeper sync.WaitGroup
}

// Option customizes New.
type Option func(*Application)

// WithMetrics replaces the global metrics instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Application) { a.Metrics = m }
}

// New constructs a new Application from the provided configuration. The
// transcoder toolchain is probed once here and injected everywhere it is needed.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	ws, err := workspace.NewManager(cfg.Workspace.Root)
	if err != nil {
		return nil, err
	}
	a.Workspaces = ws

	exec := runner.NewExec()
	a.Toolchain = audio.DetectToolchain(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath)
	transcoder := audio.NewTranscoder(a.Toolchain, audio.TranscoderConfig{
		FFmpegPath:  cfg.Audio.FFmpegPath,
		FFprobePath: cfg.Audio.FFprobePath,
		Timeout:     cfg.Audio.TranscodeTimeout,
	}, exec)
	normalizer := audio.NewNormalizer(transcoder, a.Toolchain, audio.Limits{
		MaxUploadBytes:   cfg.Audio.MaxUploadBytes,
		MaxInputDuration: cfg.Audio.MaxInputDuration,
		ProcessingCap:    cfg.Audio.ProcessingCap,
	}, audio.CanonicalFormat(cfg.Audio.SampleRateHz))

	estimator, err := newEstimator(cfg.Pitch, exec)
	if err != nil {
		return nil, err
	}
	detector := pitch.NewDetector(estimator, pitch.Params{
		OnsetThreshold: cfg.Pitch.OnsetThreshold,
		FrameThreshold: cfg.Pitch.FrameThreshold,
		MinNoteLength:  cfg.Pitch.MinNoteLength,
	})

	var renderer conversion.Renderer
	if cfg.Render.Command != "" {
		renderer = conversion.NewCommandRenderer(cfg.Render.Command, time.Minute, exec)
	}

	a.Publisher = events.New(&events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
	}).WithMetrics(a.Metrics)

	a.Service = conversion.New(conversion.Deps{
		Workspaces:    ws,
		Normalizer:    normalizer,
		Detector:      detector,
		Builder:       notation.NewBuilder(notation.DefaultPolicy),
		Simplifier:    simplify.New(cfg.Notation.MinNoteDuration),
		Renderer:      renderer,
		Publisher:     a.Publisher,
		Metrics:       a.Metrics,
		MaxConcurrent: cfg.Workers.MaxConcurrent,
	})

	appLogger.Info().
		Bool("ffmpeg", a.Toolchain.FFmpegAvailable).
		Str("transcoder", transcoder.Name()).
		Str("pitchModel", estimator.Name()).
		Bool("kafka", a.Publisher.Enabled()).
		Msg("Audio notation service application created")
	return a, nil
}

func newEstimator(cfg config.PitchConfig, r runner.Runner) (pitch.Estimator, error) {
	switch cfg.Provider {
	case ProviderBasicPitch, "":
		return basicpitch.New(cfg.Command, cfg.Timeout, r), nil
	case ProviderMock:
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown pitch provider %q", cfg.Provider)
	}
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     a.Cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// Start sweeps expired workspaces and starts the periodic sweeper.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = a.now().UTC()
	removed := a.Sweep()

	ctx, a.cancel = context.WithCancel(ctx)
	a.sweeper.Add(1)
	go func() {
		defer a.sweeper.Done()
		a.Workspaces.RunSweeper(ctx, a.Cfg.Workspace.SweepInterval, a.Cfg.Workspace.TTL, a.Metrics.RecordSweep)
	}()

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Int("swept", removed).
		Dur("ttl", a.Cfg.Workspace.TTL).
		Msg("Audio notation service starting")
	return nil
}

// Sweep removes expired job workspaces now.
func (a *Application) Sweep() int {
	removed := a.Workspaces.Sweep(a.now(), a.Cfg.Workspace.TTL)
	a.Metrics.RecordSweep(removed)
	return removed
}

// Shutdown stops the sweeper, sweeps once more and closes the publisher.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	if a.cancel != nil {
		a.cancel()
		a.sweeper.Wait()
	}
	removed := a.Sweep()
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Error().Err(err).Msg("Failed to close event publisher")
	}

	shutdownLogger.Info().Int("swept", removed).Msg("Audio notation service shutting down")
}
