package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records exchange outcomes as prometheus collectors.
type Metrics struct {
	exchanges     *prometheus.CounterVec
	errors        *prometheus.CounterVec
	requestBytes  *prometheus.HistogramVec
	responseBytes *prometheus.HistogramVec
	duration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	sizeBuckets := prometheus.ExponentialBuckets(64, 4, 8)

	m := &Metrics{
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "framesocket",
				Subsystem: "exchange",
				Name:      "completed_total",
				Help:      "Completed request/response exchanges.",
			},
			[]string{"mode"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "framesocket",
				Subsystem: "exchange",
				Name:      "errors_total",
				Help:      "Failed exchanges by error kind.",
			},
			[]string{"mode", "kind"},
		),
		requestBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "framesocket",
				Subsystem: "exchange",
				Name:      "request_bytes",
				Help:      "Request payload size in bytes.",
				Buckets:   sizeBuckets,
			},
			[]string{"mode"},
		),
		responseBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "framesocket",
				Subsystem: "exchange",
				Name:      "response_bytes",
				Help:      "Response payload size in bytes.",
				Buckets:   sizeBuckets,
			},
			[]string{"mode"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "framesocket",
				Subsystem: "exchange",
				Name:      "duration_seconds",
				Help:      "Exchange duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}

	reg.MustRegister(m.exchanges, m.errors, m.requestBytes, m.responseBytes, m.duration)
	return m
}

// ObserveExchange counts a completed exchange and records its sizes and duration.
func (m *Metrics) ObserveExchange(mode string, requestBytes, responseBytes int, elapsed time.Duration) {
	m.exchanges.WithLabelValues(mode).Inc()
	m.requestBytes.WithLabelValues(mode).Observe(float64(requestBytes))
	m.responseBytes.WithLabelValues(mode).Observe(float64(responseBytes))
	m.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveError counts a failed exchange under its error kind.
func (m *Metrics) ObserveError(mode, kind string) {
	m.errors.WithLabelValues(mode, kind).Inc()
}
