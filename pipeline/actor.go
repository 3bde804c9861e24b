package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/pkg/timestamp"
)

// DeliveryTarget receives events leaving a pipeline through a named
// output. Sinks and downstream pipelines both implement it.
type DeliveryTarget interface {
	ID() string
	Deliver(port string, event Event) error
}

// SignalReceiver is implemented by targets that also accept signal
// forwarding, i.e. downstream pipelines.
type SignalReceiver interface {
	SendSignal(signal Event) error
}

// Source is an upstream event producer registered for circuit-breaker
// notifications.
type Source interface {
	ID() string
	OnCircuitBreaker(action CBAction)
}

// Dest is one delivery destination of a named output.
type Dest struct {
	Port   string
	Target DeliveryTarget
}

// Control and data messages processed by the pipeline goroutine.
type (
	eventMsg struct {
		input string
		event Event
	}
	signalMsg struct {
		signal Event
	}
	insightMsg struct {
		insight Event
	}
	connectOutputMsg struct {
		output string
		dest   Dest
	}
	disconnectOutputMsg struct {
		output string
		target string
	}
	connectSourceMsg struct {
		source Source
	}
	disconnectSourceMsg struct {
		source string
	}
	stopMsg struct {
		done chan struct{}
	}
)

// Config tunes one pipeline actor.
type Config struct {
	// QueueSize bounds the input channel. Sends beyond it block the
	// producer rather than dropping events.
	QueueSize int
	// TickInterval is the signal generator period. Zero disables ticks.
	TickInterval time.Duration
}

// DefaultQueueSize is the input channel bound used when Config leaves
// QueueSize zero.
const DefaultQueueSize = 64

// Pipeline runs one executable graph on its own goroutine, the way an
// actor owns its state: events, signals, insights and wiring changes
// all arrive as messages on one bounded channel.
type Pipeline struct {
	id    string
	graph *ExecutableGraph
	cfg   Config

	in      chan any
	outputs map[string][]Dest
	sources map[string]Source

	logger   *slog.Logger
	metrics  *Metrics
	logEvery rate.Sometimes

	mu       sync.Mutex
	started  bool
	stopped  atomic.Bool
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New creates a pipeline actor around a built graph.
func New(graph *ExecutableGraph, cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Pipeline{
		id:       graph.ID(),
		graph:    graph,
		cfg:      cfg,
		in:       make(chan any, cfg.QueueSize),
		outputs:  map[string][]Dest{},
		sources:  map[string]Source{},
		logger:   graph.logger,
		metrics:  graph.metrics,
		logEvery: rate.Sometimes{Interval: time.Second},
	}
}

// ID returns the pipeline id.
func (p *Pipeline) ID() string { return p.id }

// Start spawns the actor goroutine and, when configured, the tick
// generator.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pipeline", "Start", p.id)
	}
	p.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loopDone = make(chan struct{})

	go p.run(loopCtx)
	if p.cfg.TickInterval > 0 {
		go tickLoop(loopCtx, p.id, p.cfg.TickInterval, p.TrySendSignal)
	}

	p.metrics.status(1)
	p.logger.Info("pipeline started", "queue_size", p.cfg.QueueSize, "tick_interval", p.cfg.TickInterval)
	return nil
}

// Stop drains queued messages, flushes windows with a stop signal and
// shuts the actor down.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Pipeline", "Stop", p.id)
	}
	p.mu.Unlock()

	if p.stopped.Swap(true) {
		return nil
	}

	done := make(chan struct{})
	select {
	case p.in <- stopMsg{done: done}:
	case <-ctx.Done():
		p.cancel()
		return errors.WrapTransient(ctx.Err(), "Pipeline", "Stop", "queueing stop")
	}

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		return errors.WrapTransient(ctx.Err(), "Pipeline", "Stop", "awaiting drain")
	}
	p.cancel()
	<-p.loopDone
	p.metrics.status(0)
	p.logger.Info("pipeline stopped")
	return nil
}

func (p *Pipeline) send(m any) error {
	if p.stopped.Load() {
		return errors.WrapInvalid(errors.ErrPipelineStopped, "Pipeline", "send", p.id)
	}
	p.in <- m
	return nil
}

// SendEvent queues one event for the named input. The call blocks when
// the pipeline's queue is full; events are never dropped at the door.
func (p *Pipeline) SendEvent(input string, event Event) error {
	return p.send(eventMsg{input: input, event: event})
}

// SendSignal queues a signal for broadcast.
func (p *Pipeline) SendSignal(signal Event) error {
	return p.send(signalMsg{signal: signal})
}

// TrySendSignal queues a signal without blocking. A full queue returns
// ErrChannelFull instead of waiting; the tick generator uses this so a
// saturated pipeline skips ticks rather than stalling the clock.
func (p *Pipeline) TrySendSignal(signal Event) error {
	if p.stopped.Load() {
		return errors.WrapInvalid(errors.ErrPipelineStopped, "Pipeline", "TrySendSignal", p.id)
	}
	select {
	case p.in <- signalMsg{signal: signal}:
		return nil
	default:
		return errors.WrapTransient(errors.ErrChannelFull, "Pipeline", "TrySendSignal", p.id)
	}
}

// SendInsight queues a contraflow insight.
func (p *Pipeline) SendInsight(insight Event) error {
	return p.send(insightMsg{insight: insight})
}

// Deliver implements DeliveryTarget so pipelines can feed pipelines.
func (p *Pipeline) Deliver(port string, event Event) error {
	return p.SendEvent(port, event)
}

// ConnectOutput routes a named graph output to a target. Safe to call
// before or after Start; the wiring change is processed in message
// order.
func (p *Pipeline) ConnectOutput(output string, port string, target DeliveryTarget) error {
	return p.send(connectOutputMsg{output: output, dest: Dest{Port: port, Target: target}})
}

// DisconnectOutput removes a target from a named output.
func (p *Pipeline) DisconnectOutput(output, targetID string) error {
	return p.send(disconnectOutputMsg{output: output, target: targetID})
}

// ConnectSource registers an upstream source for circuit-breaker
// notifications.
func (p *Pipeline) ConnectSource(source Source) error {
	return p.send(connectSourceMsg{source: source})
}

// DisconnectSource removes a registered source.
func (p *Pipeline) DisconnectSource(sourceID string) error {
	return p.send(disconnectSourceMsg{source: sourceID})
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.loopDone)
	for {
		select {
		case m := <-p.in:
			if p.handle(m) {
				return
			}
			p.metrics.queueDepth(len(p.in))
		case <-ctx.Done():
			// Drain whatever was queued before cancellation.
			for {
				select {
				case m := <-p.in:
					if p.handle(m) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// handle processes one message; it returns true when the actor must
// exit.
func (p *Pipeline) handle(m any) bool {
	switch t := m.(type) {
	case eventMsg:
		var sinkEvents []SinkEvent
		if err := p.graph.Enqueue(t.input, t.event, &sinkEvents); err != nil {
			p.logEvery.Do(func() {
				p.logger.Error("event rejected", "input", t.input, "error", err)
			})
			return false
		}
		p.deliver(sinkEvents)

	case signalMsg:
		p.handleSignal(t.signal)

	case insightMsg:
		p.handleInsight(t.insight)

	case connectOutputMsg:
		p.outputs[t.output] = append(p.outputs[t.output], t.dest)
		p.logger.Info("output connected", "output", t.output, "target", t.dest.Target.ID())

	case disconnectOutputMsg:
		dests := p.outputs[t.output]
		kept := dests[:0]
		for _, d := range dests {
			if d.Target.ID() != t.target {
				kept = append(kept, d)
			}
		}
		if len(kept) == 0 {
			delete(p.outputs, t.output)
		} else {
			p.outputs[t.output] = kept
		}

	case connectSourceMsg:
		p.sources[t.source.ID()] = t.source
		p.logger.Info("source connected", "source", t.source.ID())

	case disconnectSourceMsg:
		delete(p.sources, t.source)

	case stopMsg:
		p.handleSignal(Event{
			ID:       NextEventID(),
			Kind:     KindSignal,
			Signal:   SignalStop,
			IngestNS: timestamp.Now(),
			OriginID: p.id,
		})
		close(t.done)
		return true
	}
	return false
}

func (p *Pipeline) handleSignal(signal Event) {
	p.metrics.signal(signalName(signal.Signal))
	var sinkEvents []SinkEvent
	insights := p.graph.EnqueueSignal(signal, &sinkEvents)
	p.deliver(sinkEvents)

	// Insights raised by signal handlers take the same contraflow
	// path as insights arriving from downstream.
	for _, insight := range insights {
		p.handleInsight(insight)
	}

	// Forward the signal to downstream pipelines, each exactly once
	// however many ports it is connected on. A pipeline's own ticks
	// stop here: forwarding them back to their origin would make every
	// tick a message storm.
	forwarded := map[string]bool{}
	for _, dests := range p.outputs {
		for _, d := range dests {
			receiver, ok := d.Target.(SignalReceiver)
			if !ok || d.Target.ID() == signal.OriginID || forwarded[d.Target.ID()] {
				continue
			}
			forwarded[d.Target.ID()] = true
			if err := receiver.SendSignal(signal); err != nil {
				p.logEvery.Do(func() {
					p.logger.Warn("signal forward failed", "target", d.Target.ID(), "error", err)
				})
			}
		}
	}
}

// handleInsight walks the insight backwards through the graph, then
// notifies every registered source exactly once with the resulting
// circuit-breaker action.
func (p *Pipeline) handleInsight(insight Event) {
	p.metrics.insight(insight.CB.String())
	p.graph.Contraflow(&insight)

	var action CBAction
	switch insight.CB {
	case CBFail, CBTrigger:
		action = CBTrigger
	case CBAck, CBRestore:
		action = CBRestore
	default:
		return
	}
	for _, src := range p.sources {
		src.OnCircuitBreaker(action)
	}
}

func (p *Pipeline) deliver(sinkEvents []SinkEvent) {
	for _, se := range sinkEvents {
		dests := p.outputs[se.Output]
		if len(dests) == 0 {
			p.logEvery.Do(func() {
				p.logger.Warn("event for unconnected output", "output", se.Output)
			})
			continue
		}
		// Fan-out: clones for all destinations but the last, which
		// takes the original tree.
		for i, d := range dests {
			ev := se.Event
			if i < len(dests)-1 {
				ev = se.Event.Clone()
			}
			if err := d.Target.Deliver(d.Port, ev); err != nil {
				p.logEvery.Do(func() {
					p.logger.Error("delivery failed",
						"output", se.Output, "target", d.Target.ID(), "error", err)
				})
			}
		}
	}
}

func signalName(k SignalKind) string {
	switch k {
	case SignalTick:
		return "tick"
	case SignalStart:
		return "start"
	case SignalStop:
		return "stop"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}
