package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Generation metrics
	GenerationsTotal       *prometheus.CounterVec
	GenerationStageSeconds *prometheus.HistogramVec
	UpstreamRequestsTotal  *prometheus.CounterVec

	// Quota metrics
	QuotaEventsTotal *prometheus.CounterVec

	// Archive metrics
	ArchiveUploadsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry.
func New(namespace string) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, namespace)
}

// NewWithRegistry creates metrics registered on reg.
func NewWithRegistry(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "cosplay"
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "attempts_total",
				Help:      "Generation attempts by final outcome",
			},
			[]string{"outcome", "kind"}, // outcome: succeeded, rejected, failed
		),
		GenerationStageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "stage_duration_seconds",
				Help:      "Duration of each generation stage in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"}, // prompt, image
		),
		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Calls to the generation API",
			},
			[]string{"model", "status"},
		),

		QuotaEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "quota",
				Name:      "events_total",
				Help:      "Quota ledger transitions",
			},
			[]string{"event"}, // increment, upgrade, rolling_reset
		),

		ArchiveUploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "archive",
				Name:      "uploads_total",
				Help:      "Generated image archive uploads",
			},
			[]string{"driver", "status"},
		),
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGeneration records the outcome of a generation attempt.
// kind is empty on success.
func (m *Metrics) RecordGeneration(outcome, kind string) {
	m.GenerationsTotal.WithLabelValues(outcome, kind).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	m.GenerationStageSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordUpstreamRequest records a call to the generation API.
func (m *Metrics) RecordUpstreamRequest(model string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.UpstreamRequestsTotal.WithLabelValues(model, status).Inc()
}

// RecordQuotaEvent records a quota ledger transition.
func (m *Metrics) RecordQuotaEvent(event string) {
	m.QuotaEventsTotal.WithLabelValues(event).Inc()
}

// RecordArchiveUpload records an archive upload result.
func (m *Metrics) RecordArchiveUpload(driver string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ArchiveUploadsTotal.WithLabelValues(driver, status).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
