package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndUnregisterCounter(t *testing.T) {
	reg := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test",
	})

	require.NoError(t, reg.RegisterCounter("stdin", "reads", counter))

	// Same key twice is rejected.
	err := reg.RegisterCounter("stdin", "reads", counter)
	require.Error(t, err)

	assert.True(t, reg.Unregister("stdin", "reads"))
	assert.False(t, reg.Unregister("stdin", "reads"))
}

func TestCoreMetricsRegistered(t *testing.T) {
	reg := NewMetricsRegistry()
	reg.CoreMetrics().EventsReceived.WithLabelValues("main", "stdin").Inc()
	reg.CoreMetrics().PipelineStatus.WithLabelValues("main").Set(1)

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["eventflow_events_received_total"])
	assert.True(t, names["eventflow_pipeline_status"])
}
