package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not operator-specific).
type Metrics struct {
	PipelineStatus     *prometheus.GaugeVec
	EventsReceived     *prometheus.CounterVec
	EventsEmitted      *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
	SignalsTotal       *prometheus.CounterVec
	InsightsTotal      *prometheus.CounterVec
	OperatorErrors     *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	QueueDepth         *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all platform metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		PipelineStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "eventflow",
				Subsystem: "pipeline",
				Name:      "status",
				Help:      "Pipeline status (0=stopped, 1=running, 2=draining)",
			},
			[]string{"pipeline"},
		),

		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventflow",
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Total number of events received",
			},
			[]string{"pipeline", "input"},
		),

		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventflow",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Total number of events emitted to outputs",
			},
			[]string{"pipeline", "output", "port"},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventflow",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Total number of events dropped by operators",
			},
			[]string{"pipeline", "operator"},
		),

		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventflow",
				Subsystem: "signals",
				Name:      "total",
				Help:      "Total number of signals processed",
			},
			[]string{"pipeline", "kind"},
		),

		InsightsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventflow",
				Subsystem: "insights",
				Name:      "total",
				Help:      "Total number of contraflow insights processed",
			},
			[]string{"pipeline", "action"},
		),

		OperatorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventflow",
				Subsystem: "operators",
				Name:      "errors_total",
				Help:      "Total number of operator errors",
			},
			[]string{"pipeline", "operator"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventflow",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Event processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pipeline", "operation"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "eventflow",
				Subsystem: "pipeline",
				Name:      "queue_depth",
				Help:      "Current pipeline input queue depth",
			},
			[]string{"pipeline"},
		),
	}
}

// collectors returns every core metric for registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PipelineStatus,
		m.EventsReceived,
		m.EventsEmitted,
		m.EventsDropped,
		m.SignalsTotal,
		m.InsightsTotal,
		m.OperatorErrors,
		m.ProcessingDuration,
		m.QueueDepth,
	}
}
