package pipeline

import (
	"github.com/c360/eventflow/metric"
)

// Metrics is a per-pipeline view over the core platform metrics. A nil
// *Metrics is valid and records nothing, which keeps tests and
// ad-hoc graphs free of registry plumbing.
type Metrics struct {
	pipeline string
	core     *metric.Metrics
}

// NewMetrics binds the core metrics to one pipeline's label.
func NewMetrics(pipeline string, core *metric.Metrics) *Metrics {
	if core == nil {
		return nil
	}
	return &Metrics{pipeline: pipeline, core: core}
}

func (m *Metrics) received(input string) {
	if m == nil {
		return
	}
	m.core.EventsReceived.WithLabelValues(m.pipeline, input).Inc()
}

func (m *Metrics) emitted(output, port string) {
	if m == nil {
		return
	}
	m.core.EventsEmitted.WithLabelValues(m.pipeline, output, port).Inc()
}

func (m *Metrics) dropped(operator string) {
	if m == nil {
		return
	}
	m.core.EventsDropped.WithLabelValues(m.pipeline, operator).Inc()
}

func (m *Metrics) signal(kind string) {
	if m == nil {
		return
	}
	m.core.SignalsTotal.WithLabelValues(m.pipeline, kind).Inc()
}

func (m *Metrics) insight(action string) {
	if m == nil {
		return
	}
	m.core.InsightsTotal.WithLabelValues(m.pipeline, action).Inc()
}

func (m *Metrics) operatorError(operator string) {
	if m == nil {
		return
	}
	m.core.OperatorErrors.WithLabelValues(m.pipeline, operator).Inc()
}

func (m *Metrics) observeDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.core.ProcessingDuration.WithLabelValues(m.pipeline, operation).Observe(seconds)
}

func (m *Metrics) queueDepth(n int) {
	if m == nil {
		return
	}
	m.core.QueueDepth.WithLabelValues(m.pipeline).Set(float64(n))
}

func (m *Metrics) status(v float64) {
	if m == nil {
		return
	}
	m.core.PipelineStatus.WithLabelValues(m.pipeline).Set(v)
}
