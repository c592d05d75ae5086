package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/observability/logging"
	"audio-notation-service/internal/observability/metrics"
	"audio-notation-service/internal/service/conversion"
	"audio-notation-service/internal/service/notation"
	"audio-notation-service/internal/service/workspace"
)

// multipartOverhead is the room left above the upload limit for form fields and boundaries.
const multipartOverhead = 1 << 20

// memoryLimit is how much of a multipart body is held in memory before spilling to disk.
const memoryLimit = 8 << 20

type handler struct {
	svc     *conversion.Service
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(svc *conversion.Service, m *metrics.Metrics) http.Handler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	h := &handler{svc: svc, metrics: m, logger: logging.WithComponent("http")}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if err := svc.Ready(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/convert", h.convert)
		r.Get("/jobs/{id}", h.job)
		r.Get("/download/{id}/{format}", h.download)
		r.Get("/health", h.health)
	})

	return r
}

// instrument counts requests by route pattern and status code.
func (h *handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.RecordRequest("http", r.Method+" "+route, strconv.Itoa(status))

		h.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// ConvertResponse is returned by POST /api/convert.
type ConvertResponse struct {
	JobID                 string               `json:"job_id"`
	Metadata              *notation.Metadata   `json:"metadata"`
	Artifacts             []workspace.Artifact `json:"artifacts"`
	Rendered              bool                 `json:"rendered"`
	Truncated             bool                 `json:"truncated"`
	SourceDurationSeconds float64              `json:"source_duration_seconds"`
	Downloads             map[string]string    `json:"downloads"`
}

// JobResponse is returned by GET /api/jobs/{id}.
type JobResponse struct {
	JobID     string               `json:"job_id"`
	Stage     string               `json:"stage"`
	CreatedAt *time.Time           `json:"created_at,omitempty"`
	Artifacts []workspace.Artifact `json:"artifacts"`
	Metadata  *notation.Metadata   `json:"metadata,omitempty"`
}

// ErrorResponse carries a classified failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *handler) convert(w http.ResponseWriter, r *http.Request) {
	req, cleanup, err := h.parseConvert(w, r)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.svc.Convert(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	downloads := map[string]string{
		conversion.FormatMusicXML: downloadURL(res.JobID, conversion.FormatMusicXML),
		conversion.FormatMIDI:     downloadURL(res.JobID, conversion.FormatMIDI),
		conversion.FormatMetadata: downloadURL(res.JobID, conversion.FormatMetadata),
	}
	if res.Rendered {
		downloads[conversion.FormatSVG] = downloadURL(res.JobID, conversion.FormatSVG)
	}

	writeJSON(w, http.StatusOK, ConvertResponse{
		JobID:                 res.JobID,
		Metadata:              res.Metadata,
		Artifacts:             res.Artifacts,
		Rendered:              res.Rendered,
		Truncated:             res.Truncated,
		SourceDurationSeconds: res.SourceDuration.Seconds(),
		Downloads:             downloads,
	})
}

// parseConvert reads the multipart form. Fields: file, transposition,
// simplify, tempo_bpm and url.
func (h *handler) parseConvert(w http.ResponseWriter, r *http.Request) (conversion.Request, func(), error) {
	req := conversion.Request{Source: conversion.SourceHTTP}

	if limit := h.svc.Limits().MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, nil, apperrors.InputTooLarge(h.svc.Limits().MaxUploadBytes)
		}
		return req, nil, apperrors.InvalidRequest("malformed multipart form: %v", err)
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	req.Transposition = r.FormValue("transposition")
	req.RemoteURL = r.FormValue("url")

	if v := r.FormValue("simplify"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, cleanup, apperrors.InvalidRequest("simplify must be a boolean, got %q", v)
		}
		req.Simplify = b
	}
	if v := r.FormValue("tempo_bpm"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, cleanup, apperrors.InvalidRequest("tempo_bpm must be an integer, got %q", v)
		}
		req.TempoBPM = n
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return req, cleanup, nil
	case err != nil:
		return req, cleanup, apperrors.InvalidRequest("could not read file field: %v", err)
	}
	req.Filename = header.Filename
	req.Size = header.Size
	req.Body = file
	return req, closeAnd(file, cleanup), nil
}

func closeAnd(f multipart.File, next func()) func() {
	return func() {
		_ = f.Close()
		next()
	}
}

func (h *handler) job(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := JobResponse{
		JobID:     st.JobID,
		Stage:     st.Stage.String(),
		Artifacts: st.Artifacts,
		Metadata:  st.Metadata,
	}
	if !st.CreatedAt.IsZero() {
		resp.CreatedAt = &st.CreatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Locate(chi.URLParam(r, "id"), chi.URLParam(r, "format"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Filename))
	http.ServeFile(w, r, d.Path)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health())
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	classified := apperrors.Classify(err)
	status := classified.Kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("kind", classified.Kind.String()).Msg("Request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: classified.Kind.String(), Message: classified.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func downloadURL(jobID, format string) string {
	return "/api/download/" + jobID + "/" + format
}
