package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/eventflow/errors"
)

// link is one outgoing edge of a graph node. toNode is -1 for edges
// that leave the graph through a named output.
type link struct {
	toNode int
	toPort string // input port of the target node, or the output name
}

// SinkEvent is an event leaving the graph through a named output.
type SinkEvent struct {
	Output string
	Event  Event
}

// GraphBuilder assembles an executable graph. Build validates the
// wiring: inputs must exist, links must point at real nodes, and the
// graph must be acyclic.
type GraphBuilder struct {
	id     string
	ops    []Operator
	links  []map[string][]link
	inputs map[string]int
}

// NewGraphBuilder creates a builder for a pipeline graph.
func NewGraphBuilder(id string) *GraphBuilder {
	return &GraphBuilder{id: id, inputs: map[string]int{}}
}

// AddNode adds an operator and returns its node index.
func (b *GraphBuilder) AddNode(op Operator) int {
	b.ops = append(b.ops, op)
	b.links = append(b.links, map[string][]link{})
	return len(b.ops) - 1
}

// Input names a graph entry point feeding the given node.
func (b *GraphBuilder) Input(name string, node int) {
	b.inputs[name] = node
}

// Link wires an output port of one node to an input port of another.
func (b *GraphBuilder) Link(from int, fromPort string, to int, toPort string) {
	if toPort == "" {
		toPort = PortIn
	}
	b.links[from][fromPort] = append(b.links[from][fromPort], link{toNode: to, toPort: toPort})
}

// Output wires an output port of a node to a named graph output.
func (b *GraphBuilder) Output(from int, port, output string) {
	b.links[from][port] = append(b.links[from][port], link{toNode: -1, toPort: output})
}

// Build validates the wiring and produces the executable graph.
func (b *GraphBuilder) Build(logger *slog.Logger, metrics *Metrics) (*ExecutableGraph, error) {
	if len(b.ops) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "GraphBuilder", "Build", "graph has no nodes")
	}
	if len(b.inputs) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "GraphBuilder", "Build", "graph has no inputs")
	}
	for name, node := range b.inputs {
		if node < 0 || node >= len(b.ops) {
			return nil, errors.WrapInvalid(errors.ErrDanglingLink, "GraphBuilder", "Build",
				fmt.Sprintf("input %q targets missing node %d", name, node))
		}
	}
	for from, ports := range b.links {
		for port, targets := range ports {
			for _, l := range targets {
				if l.toNode >= len(b.ops) {
					return nil, errors.WrapInvalid(errors.ErrDanglingLink, "GraphBuilder", "Build",
						fmt.Sprintf("node %d port %q targets missing node %d", from, port, l.toNode))
				}
			}
		}
	}

	topo, err := b.topoSort()
	if err != nil {
		return nil, err
	}
	// Contraflow visits nodes in reverse topological order, so insights
	// reach downstream operators before the ones feeding them.
	contra := make([]int, 0, len(topo))
	for i := len(topo) - 1; i >= 0; i-- {
		if b.ops[topo[i]].HandlesContraflow() {
			contra = append(contra, topo[i])
		}
	}
	var signal []int
	for _, n := range topo {
		if b.ops[n].HandlesSignal() {
			signal = append(signal, n)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutableGraph{
		id:          b.id,
		nodes:       b.ops,
		links:       b.links,
		inputs:      b.inputs,
		signalOrder: signal,
		contraOrder: contra,
		logger:      logger.With("pipeline", b.id),
		metrics:     metrics,
	}, nil
}

// topoSort orders nodes so every link points forward. A cycle is a
// configuration error.
func (b *GraphBuilder) topoSort() ([]int, error) {
	indegree := make([]int, len(b.ops))
	for _, ports := range b.links {
		for _, targets := range ports {
			for _, l := range targets {
				if l.toNode >= 0 {
					indegree[l.toNode]++
				}
			}
		}
	}
	var queue []int
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	var order []int
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, targets := range b.links[n] {
			for _, l := range targets {
				if l.toNode < 0 {
					continue
				}
				indegree[l.toNode]--
				if indegree[l.toNode] == 0 {
					queue = append(queue, l.toNode)
				}
			}
		}
	}
	if len(order) != len(b.ops) {
		return nil, errors.WrapInvalid(errors.ErrCyclicGraph, "GraphBuilder", "Build", "cycle detection")
	}
	return order, nil
}

// ExecutableGraph is a compiled operator graph. It is driven by a
// single pipeline goroutine; none of its methods are safe for
// concurrent use.
type ExecutableGraph struct {
	id          string
	nodes       []Operator
	links       []map[string][]link
	inputs      map[string]int
	signalOrder []int
	contraOrder []int
	logger      *slog.Logger
	metrics     *Metrics
}

// ID returns the graph's pipeline id.
func (g *ExecutableGraph) ID() string { return g.id }

// Inputs returns the graph's named entry points.
func (g *ExecutableGraph) Inputs() []string {
	out := make([]string, 0, len(g.inputs))
	for name := range g.inputs {
		out = append(out, name)
	}
	return out
}

type stackItem struct {
	node  int
	port  string
	event Event
}

// Enqueue pushes one event into the named input and walks it through
// the graph, returning every event that reached a named output. An
// operator error is isolated: it is logged and counted, and the event
// it was processing stops there.
func (g *ExecutableGraph) Enqueue(input string, event Event, out *[]SinkEvent) error {
	entry, ok := g.inputs[input]
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownInput, "ExecutableGraph", "Enqueue",
			fmt.Sprintf("input %q on pipeline %q", input, g.id))
	}
	g.metrics.received(input)
	stack := []stackItem{{node: entry, port: PortIn, event: event}}
	g.drain(stack, out)
	return nil
}

// EnqueueSignal broadcasts a signal to every signal-handling operator,
// walks whatever events they produce through the graph and returns the
// insights they raised for the caller to run through contraflow.
func (g *ExecutableGraph) EnqueueSignal(signal Event, out *[]SinkEvent) []Event {
	var stack []stackItem
	var insights []Event
	for _, n := range g.signalOrder {
		start := time.Now()
		produced, raised, err := g.nodes[n].OnSignal(&signal)
		g.metrics.observeDuration("signal", time.Since(start).Seconds())
		if err != nil {
			g.operatorFailed(n, err)
			continue
		}
		insights = append(insights, raised...)
		for _, pe := range produced {
			stack = g.route(stack, n, pe, out)
		}
	}
	g.drain(stack, out)
	return insights
}

// Contraflow delivers an insight to contraflow-handling operators in
// reverse topological order.
func (g *ExecutableGraph) Contraflow(insight *Event) {
	for _, n := range g.contraOrder {
		g.nodes[n].OnContraflow(insight)
	}
}

func (g *ExecutableGraph) drain(stack []stackItem, out *[]SinkEvent) {
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		start := time.Now()
		produced, err := g.nodes[item.node].OnEvent(item.port, item.event)
		g.metrics.observeDuration("event", time.Since(start).Seconds())
		if err != nil {
			g.operatorFailed(item.node, err)
			continue
		}
		if len(produced) == 0 {
			g.metrics.dropped(g.nodes[item.node].ID())
			continue
		}
		for _, pe := range produced {
			stack = g.route(stack, item.node, pe, out)
		}
	}
}

// route fans one port event out over its links. Every destination but
// the last receives a clone; the last receives the original tree.
func (g *ExecutableGraph) route(stack []stackItem, from int, pe PortEvent, out *[]SinkEvent) []stackItem {
	targets := g.links[from][pe.Port]
	if len(targets) == 0 {
		op := g.nodes[from].ID()
		if pe.Port == PortErr {
			g.logger.Warn("error event on unlinked err port",
				"operator", op, "event_id", pe.Event.ID)
		}
		g.metrics.dropped(op)
		return stack
	}
	for i, l := range targets {
		ev := pe.Event
		if i < len(targets)-1 {
			ev = pe.Event.Clone()
		}
		if l.toNode < 0 {
			g.metrics.emitted(l.toPort, pe.Port)
			*out = append(*out, SinkEvent{Output: l.toPort, Event: ev})
			continue
		}
		stack = append(stack, stackItem{node: l.toNode, port: l.toPort, event: ev})
	}
	return stack
}

func (g *ExecutableGraph) operatorFailed(node int, err error) {
	op := g.nodes[node].ID()
	g.metrics.operatorError(op)
	g.logger.Error("operator failed", "operator", op, "error", err)
}
