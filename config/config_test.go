package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventflow/errors"
)

const validYAML = `
version: "1"
metrics:
  enabled: true
  port: 9102
pipelines:
  - id: enrich
    queue_size: 32
    tick_interval: 1s
    nodes:
      - id: classify
        type: script
        config:
          script: event
    links:
      - from: in
        to: classify/in
      - from: classify/out
        to: out
      - from: classify/err
        to: out/err
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "1", cfg.Version)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9102, cfg.Metrics.Port)

	require.Len(t, cfg.Pipelines, 1)
	p := cfg.Pipelines[0]
	assert.Equal(t, "enrich", p.ID)
	assert.Equal(t, 32, p.QueueSize)
	assert.Equal(t, time.Second, p.TickInterval.Std())
	require.Len(t, p.Nodes, 1)
	assert.Equal(t, "script", p.Nodes[0].Type)
	assert.Equal(t, "event", p.Nodes[0].Config["script"])
	assert.Len(t, p.Links, 3)
}

func TestParseTickIntervalAsMillis(t *testing.T) {
	cfg, err := Parse([]byte(`
version: "1"
pipelines:
  - id: p
    tick_interval: 250
    nodes:
      - id: n
        type: passthrough
    links:
      - {from: in, to: n/in}
      - {from: n/out, to: out}
`))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipelines[0].TickInterval.Std())
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("version: [unclosed"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestParseSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing version", `
pipelines:
  - id: p
    nodes: [{id: n, type: passthrough}]
    links: [{from: in, to: n}]
`},
		{"empty pipelines", `
version: "1"
pipelines: []
`},
		{"node without type", `
version: "1"
pipelines:
  - id: p
    nodes: [{id: n}]
    links: [{from: in, to: n}]
`},
		{"unknown top-level key", `
version: "1"
flows: []
pipelines:
  - id: p
    nodes: [{id: n, type: passthrough}]
    links: [{from: in, to: n}]
`},
		{"link without to", `
version: "1"
pipelines:
  - id: p
    nodes: [{id: n, type: passthrough}]
    links: [{from: in}]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		sentinel error
	}{
		{"duplicate pipeline id", `
version: "1"
pipelines:
  - id: p
    nodes: [{id: n, type: passthrough}]
    links: [{from: in, to: n}, {from: n, to: out}]
  - id: p
    nodes: [{id: n, type: passthrough}]
    links: [{from: in, to: n}, {from: n, to: out}]
`, errors.ErrInvalidConfig},
		{"duplicate node id", `
version: "1"
pipelines:
  - id: p
    nodes: [{id: n, type: passthrough}, {id: n, type: passthrough}]
    links: [{from: in, to: n}, {from: n, to: out}]
`, errors.ErrInvalidConfig},
		{"reserved node id", `
version: "1"
pipelines:
  - id: p
    nodes: [{id: out, type: passthrough}]
    links: [{from: in, to: out}]
`, errors.ErrInvalidConfig},
		{"link from unknown node", `
version: "1"
pipelines:
  - id: p
    nodes: [{id: n, type: passthrough}]
    links: [{from: ghost/out, to: out}, {from: in, to: n}]
`, errors.ErrDanglingLink},
		{"link to unknown node", `
version: "1"
pipelines:
  - id: p
    nodes: [{id: n, type: passthrough}]
    links: [{from: in, to: ghost/in}]
`, errors.ErrDanglingLink},
		{"link starting at output", `
version: "1"
pipelines:
  - id: p
    nodes: [{id: n, type: passthrough}]
    links: [{from: out, to: n/in}]
`, errors.ErrInvalidConfig},
		{"malformed address", `
version: "1"
pipelines:
  - id: p
    nodes: [{id: n, type: passthrough}]
    links: [{from: in, to: "a/b/c"}]
`, errors.ErrMissingPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "enrich", cfg.Pipelines[0].ID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
