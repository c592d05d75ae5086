// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "audio_notation"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Conversion metrics
	ConversionsTotal   prometheus.Counter
	ConversionsActive  prometheus.Gauge
	ConversionsSuccess prometheus.Counter
	ConversionsFailed  *prometheus.CounterVec
	ConversionDuration prometheus.Histogram

	// Stage metrics
	StageLatency *prometheus.HistogramVec
	StageErrors  *prometheus.CounterVec

	// Content metrics
	UploadBytes     prometheus.Counter
	NotesDetected   prometheus.Histogram
	QualityWarnings *prometheus.CounterVec
	RenderFailures  prometheus.Counter

	// Workspace metrics
	WorkspacesCreated prometheus.Counter
	WorkspacesSwept   prometheus.Counter

	// Transport metrics
	RequestsTotal *prometheus.CounterVec

	// Inbox metrics
	InboxFiles *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Conversion metrics
		ConversionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total number of conversions started",
		}),
		ConversionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversions_active",
			Help:      "Number of conversions currently running",
		}),
		ConversionsSuccess: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_success_total",
			Help:      "Total number of conversions that produced a score",
		}),
		ConversionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_failed_total",
			Help:      "Total number of failed conversions by error kind",
		}, []string{"kind"}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "End-to-end conversion duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),

		// Stage metrics
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Total number of pipeline stage failures",
		}, []string{"stage", "kind"}),

		// Content metrics
		UploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total audio bytes accepted for conversion",
		}),
		NotesDetected: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notes_detected",
			Help:      "Number of note events detected per conversion",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500},
		}),
		QualityWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_warnings_total",
			Help:      "Total number of quality warnings attached to conversions",
		}, []string{"warning"}),
		RenderFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_failures_total",
			Help:      "Total number of page render failures",
		}),

		// Workspace metrics
		WorkspacesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspaces_created_total",
			Help:      "Total number of job workspaces created",
		}),
		WorkspacesSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspaces_swept_total",
			Help:      "Total number of expired job workspaces removed",
		}),

		// Transport metrics
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests by transport, method and result code",
		}, []string{"transport", "method", "code"}),

		// Inbox metrics
		InboxFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_files_total",
			Help:      "Total number of inbox files processed",
		}, []string{"result"}),

		// Kafka publish metrics
		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordConversionStart records a conversion starting.
func (m *Metrics) RecordConversionStart(uploadBytes int) {
	m.ConversionsTotal.Inc()
	m.ConversionsActive.Inc()
	m.UploadBytes.Add(float64(uploadBytes))
}

// RecordConversionEnd records a conversion ending. kind is empty on success.
func (m *Metrics) RecordConversionEnd(kind string, durationSeconds float64) {
	m.ConversionsActive.Dec()
	m.ConversionDuration.Observe(durationSeconds)
	if kind == "" {
		m.ConversionsSuccess.Inc()
	} else {
		m.ConversionsFailed.WithLabelValues(kind).Inc()
	}
}

// RecordStage records one stage execution. kind is empty on success.
func (m *Metrics) RecordStage(stage, kind string, latencySeconds float64) {
	m.StageLatency.WithLabelValues(stage).Observe(latencySeconds)
	if kind != "" {
		m.StageErrors.WithLabelValues(stage, kind).Inc()
	}
}

// RecordNotes records how many note events a conversion produced.
func (m *Metrics) RecordNotes(count int) {
	m.NotesDetected.Observe(float64(count))
}

// RecordWarning records a quality warning.
func (m *Metrics) RecordWarning(warning string) {
	m.QualityWarnings.WithLabelValues(warning).Inc()
}

// RecordRenderFailure records a failed page render.
func (m *Metrics) RecordRenderFailure() {
	m.RenderFailures.Inc()
}

// RecordWorkspaceCreated records a new job workspace.
func (m *Metrics) RecordWorkspaceCreated() {
	m.WorkspacesCreated.Inc()
}

// RecordSweep records areas removed by one sweep pass.
func (m *Metrics) RecordSweep(removed int) {
	m.WorkspacesSwept.Add(float64(removed))
}

// RecordRequest records one API request.
func (m *Metrics) RecordRequest(transport, method, code string) {
	m.RequestsTotal.WithLabelValues(transport, method, code).Inc()
}

// RecordInboxFile records an inbox file outcome ("converted" or "failed").
func (m *Metrics) RecordInboxFile(result string) {
	m.InboxFiles.WithLabelValues(result).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
