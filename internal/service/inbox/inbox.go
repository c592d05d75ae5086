// Package inbox converts audio files dropped into a watched directory.
// Each accepted file gets a sibling `<name>.job` describing the finished
// conversion, or `<name>.error` carrying the classified failure.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/observability/logging"
	"audio-notation-service/internal/observability/metrics"
	"audio-notation-service/internal/service/audio"
	"audio-notation-service/internal/service/conversion"
)

// Result file suffixes.
const (
	JobSuffix   = ".job"
	ErrorSuffix = ".error"
)

// Inbox file outcomes, used as metric labels.
const (
	ResultConverted = "converted"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// Converter runs one conversion.
type Converter interface {
	Convert(ctx context.Context, req conversion.Request) (*conversion.Result, error)
}

// Config controls the watcher.
type Config struct {
	Dir           string
	Workers       int
	QueueSize     int
	SettleDelay   time.Duration // how long a file's size must stay unchanged before it is read
	Transposition string
	Simplify      bool
	TempoBPM      int
}

// Watcher feeds files created in Dir to a pool of conversion workers.
type Watcher struct {
	cfg     Config
	conv    Converter
	metrics *metrics.Metrics
	watcher *fsnotify.Watcher

	queue   chan string
	workers sync.WaitGroup

	mu      sync.Mutex
	pending map[string]bool

	logger zerolog.Logger
}

// New creates a watcher on cfg.Dir.
func New(cfg Config, conv Converter, m *metrics.Metrics) (*Watcher, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("inbox directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox directory: %s is not a directory", cfg.Dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		cfg:     cfg,
		conv:    conv,
		metrics: m,
		watcher: watcher,
		queue:   make(chan string, cfg.QueueSize),
		pending: make(map[string]bool),
		logger:  logging.WithComponent("inbox"),
	}, nil
}

// Run watches until ctx is done, then waits for in-flight conversions.
// Files already in the directory without a result file are queued first.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.cfg.Dir, err)
	}

	for i := 0; i < w.cfg.Workers; i++ {
		w.workers.Add(1)
		go w.worker(ctx)
	}

	w.logger.Info().
		Str("dir", w.cfg.Dir).
		Int("workers", w.cfg.Workers).
		Msg("Watching inbox")

	w.scanExisting()

	defer func() {
		close(w.queue)
		w.workers.Wait()
		w.logger.Info().Msg("Inbox stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Error().Err(err).Msg("Could not list inbox")
		return
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			w.enqueue(filepath.Join(w.cfg.Dir, entry.Name()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}
	w.enqueue(event.Name)
}

// eligible reports whether path is an audio file that has no result yet.
func eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	if !audio.Allowed(strings.ToLower(filepath.Ext(name))) {
		return false
	}
	for _, suffix := range []string{JobSuffix, ErrorSuffix} {
		if _, err := os.Stat(path + suffix); err == nil {
			return false
		}
	}
	return true
}

func (w *Watcher) enqueue(path string) {
	if !eligible(path) {
		return
	}

	w.mu.Lock()
	if w.pending[path] {
		w.mu.Unlock()
		return
	}
	w.pending[path] = true
	w.mu.Unlock()

	select {
	case w.queue <- path:
		w.logger.Debug().Str("file", filepath.Base(path)).Msg("Queued inbox file")
	default:
		w.done(path)
		w.metrics.RecordInboxFile(ResultSkipped)
		w.logger.Warn().Str("file", filepath.Base(path)).Msg("Inbox queue is full, skipping file")
	}
}

func (w *Watcher) done(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

func (w *Watcher) worker(ctx context.Context) {
	defer w.workers.Done()

	for path := range w.queue {
		if ctx.Err() != nil {
			w.done(path)
			continue
		}
		result := w.process(ctx, path)
		w.metrics.RecordInboxFile(result)
		w.done(path)
	}
}

// jobRecord is written to `<name>.job`.
type jobRecord struct {
	JobID     string   `json:"job_id"`
	NoteCount int      `json:"note_count"`
	Warnings  []string `json:"warnings"`
	Truncated bool     `json:"truncated"`
}

// errorRecord is written to `<name>.error`.
type errorRecord struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// process converts one file and writes its result file.
func (w *Watcher) process(ctx context.Context, path string) string {
	log := w.logger.With().Str("file", filepath.Base(path)).Logger()

	size, err := w.waitStable(ctx, path)
	if err != nil {
		log.Debug().Err(err).Msg("Inbox file vanished before conversion")
		return ResultSkipped
	}

	f, err := os.Open(path)
	if err != nil {
		log.Debug().Err(err).Msg("Could not open inbox file")
		return ResultSkipped
	}
	defer f.Close()

	res, err := w.conv.Convert(ctx, conversion.Request{
		Filename:      filepath.Base(path),
		Body:          f,
		Size:          size,
		Transposition: w.cfg.Transposition,
		Simplify:      w.cfg.Simplify,
		TempoBPM:      w.cfg.TempoBPM,
		Source:        conversion.SourceInbox,
	})
	if err != nil {
		classified := apperrors.Classify(err)
		if werr := writeRecord(path+ErrorSuffix, errorRecord{Error: classified.Kind.String(), Message: classified.Message}); werr != nil {
			log.Error().Err(werr).Msg("Could not write error file")
		}
		log.Warn().Str("kind", classified.Kind.String()).Msg("Inbox conversion failed")
		return ResultFailed
	}

	rec := jobRecord{JobID: res.JobID, Truncated: res.Truncated}
	if res.Metadata != nil {
		rec.NoteCount = res.Metadata.NoteCount
		rec.Warnings = res.Metadata.Warnings
	}
	if err := writeRecord(path+JobSuffix, rec); err != nil {
		log.Error().Err(err).Msg("Could not write job file")
		return ResultFailed
	}
	log.Info().Str("jobId", res.JobID).Msg("Inbox file converted")
	return ResultConverted
}

// waitStable polls until the file size stops changing between two checks.
func (w *Watcher) waitStable(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(w.cfg.SettleDelay):
		}
		next, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		if next.Size() == info.Size() && next.ModTime().Equal(info.ModTime()) {
			return next.Size(), nil
		}
		info = next
	}
}

func writeRecord(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
