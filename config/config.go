package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/errors"
)

// Config is the complete deployment configuration: a set of pipeline
// definitions plus deployment-wide settings.
type Config struct {
	Version   string           `yaml:"version" json:"version"`
	Metrics   MetricsConfig    `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Pipelines []PipelineConfig `yaml:"pipelines" json:"pipelines"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Port    int  `yaml:"port,omitempty" json:"port,omitempty"`
}

// PipelineConfig defines one pipeline: its operator nodes and the
// links wiring them to each other and to the pipeline's inputs and
// outputs.
type PipelineConfig struct {
	ID           string       `yaml:"id" json:"id"`
	QueueSize    int          `yaml:"queue_size,omitempty" json:"queue_size,omitempty"`
	TickInterval Duration     `yaml:"tick_interval,omitempty" json:"tick_interval,omitempty"`
	Nodes        []NodeConfig `yaml:"nodes" json:"nodes"`
	Links        []LinkConfig `yaml:"links" json:"links"`
}

// NodeConfig defines one operator node. Type selects the operator
// factory; Config is handed to it as-is.
type NodeConfig struct {
	ID     string         `yaml:"id" json:"id"`
	Type   string         `yaml:"type" json:"type"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// LinkConfig wires one edge. Both ends use "instance/port" addresses;
// the reserved instances "in" and "out" denote the pipeline's own
// boundary, with the port naming which input or output ("in" alone
// means the input named "in", "out/err" means the output named "err").
type LinkConfig struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// Reserved boundary instance names in link addresses.
const (
	BoundaryIn  = "in"
	BoundaryOut = "out"
)

// Duration wraps time.Duration so YAML configs can write "30s".
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings and bare integers
// (interpreted as milliseconds).
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = Duration(time.Duration(asInt) * time.Millisecond)
		return nil
	}
	var asStr string
	if err := node.Decode(&asStr); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(asStr)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asStr, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads, validates and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("reading %s", path))
	}
	return Parse(data)
}

// Parse validates raw YAML against the config schema and decodes it.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "parsing YAML")
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "decoding config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks the cross-field constraints the JSON schema cannot
// express: unique ids and well-formed link addresses.
func (c *Config) validate() error {
	seen := map[string]bool{}
	for i := range c.Pipelines {
		p := &c.Pipelines[i]
		if seen[p.ID] {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validate",
				fmt.Sprintf("duplicate pipeline id %q", p.ID))
		}
		seen[p.ID] = true
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *PipelineConfig) validate() error {
	nodes := map[string]bool{}
	for i := range p.Nodes {
		n := &p.Nodes[i]
		if nodes[n.ID] {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validate",
				fmt.Sprintf("pipeline %q: duplicate node id %q", p.ID, n.ID))
		}
		if n.ID == BoundaryIn || n.ID == BoundaryOut {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validate",
				fmt.Sprintf("pipeline %q: node id %q is reserved", p.ID, n.ID))
		}
		nodes[n.ID] = true
	}
	for _, l := range p.Links {
		from, to, err := l.parse()
		if err != nil {
			return errors.Wrap(err, "config", "validate", fmt.Sprintf("pipeline %q", p.ID))
		}
		if from.Instance == BoundaryOut {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validate",
				fmt.Sprintf("pipeline %q: link may not start at an output (%q)", p.ID, l.From))
		}
		if to.Instance == BoundaryIn {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validate",
				fmt.Sprintf("pipeline %q: link may not end at an input (%q)", p.ID, l.To))
		}
		if from.Instance != BoundaryIn && !nodes[from.Instance] {
			return errors.WrapInvalid(errors.ErrDanglingLink, "config", "validate",
				fmt.Sprintf("pipeline %q: link from unknown node %q", p.ID, from.Instance))
		}
		if to.Instance != BoundaryOut && !nodes[to.Instance] {
			return errors.WrapInvalid(errors.ErrDanglingLink, "config", "validate",
				fmt.Sprintf("pipeline %q: link to unknown node %q", p.ID, to.Instance))
		}
	}
	return nil
}
