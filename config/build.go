package config

import (
	"fmt"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/metric"
	"github.com/c360/eventflow/pipeline"
)

func (l LinkConfig) parse() (from, to pipeline.Addr, err error) {
	from, err = pipeline.ParseAddr(l.From)
	if err != nil {
		return from, to, err
	}
	to, err = pipeline.ParseAddr(l.To)
	return from, to, err
}

// Build compiles every pipeline definition and deploys them into a
// fresh manager, in config order. Each pipeline gets its own labeled
// view of the core metrics; a nil core disables metrics.
func Build(cfg *Config, registry *pipeline.OperatorRegistry, deps pipeline.OperatorDeps, core *metric.Metrics) (*pipeline.Manager, error) {
	mgr := pipeline.NewManager(deps.Logger)
	for i := range cfg.Pipelines {
		pdeps := deps
		pdeps.Metrics = pipeline.NewMetrics(cfg.Pipelines[i].ID, core)
		p, err := BuildPipeline(&cfg.Pipelines[i], registry, pdeps)
		if err != nil {
			return nil, err
		}
		if err := mgr.Deploy(p); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

// BuildPipeline compiles one pipeline definition: operators are
// instantiated (scripts compile here, so a bad script fails the build
// rather than the first event), the graph is wired and validated, and
// the result is wrapped in an actor ready to Start.
func BuildPipeline(cfg *PipelineConfig, registry *pipeline.OperatorRegistry, deps pipeline.OperatorDeps) (*pipeline.Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b := pipeline.NewGraphBuilder(cfg.ID)
	nodes := map[string]int{}
	for _, n := range cfg.Nodes {
		op, err := registry.Create(n.Type, n.ID, n.Config, deps)
		if err != nil {
			return nil, errors.Wrap(err, "config", "BuildPipeline",
				fmt.Sprintf("pipeline %q node %q", cfg.ID, n.ID))
		}
		nodes[n.ID] = b.AddNode(op)
	}

	for _, l := range cfg.Links {
		from, to, err := l.parse()
		if err != nil {
			return nil, errors.Wrap(err, "config", "BuildPipeline", fmt.Sprintf("pipeline %q", cfg.ID))
		}
		switch {
		case from.Instance == BoundaryIn:
			if to.PortOr(pipeline.PortIn) != pipeline.PortIn {
				return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "config", "BuildPipeline",
					fmt.Sprintf("pipeline %q: input link %q -> %q must target the in port",
						cfg.ID, l.From, l.To))
			}
			b.Input(from.PortOr(pipeline.PortIn), nodes[to.Instance])
		case to.Instance == BoundaryOut:
			b.Output(nodes[from.Instance], from.PortOr(pipeline.PortOut), to.PortOr(BoundaryOut))
		default:
			b.Link(nodes[from.Instance], from.PortOr(pipeline.PortOut),
				nodes[to.Instance], to.PortOr(pipeline.PortIn))
		}
	}

	graph, err := b.Build(deps.Logger, deps.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "config", "BuildPipeline", fmt.Sprintf("pipeline %q", cfg.ID))
	}
	return pipeline.New(graph, pipeline.Config{
		QueueSize:    cfg.QueueSize,
		TickInterval: cfg.TickInterval.Std(),
	}), nil
}
