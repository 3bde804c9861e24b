package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventflow/errors"
)

// captureSink records every event delivered to it.
type captureSink struct {
	id string

	mu     sync.Mutex
	ports  []string
	events []Event
}

func (s *captureSink) ID() string { return s.id }

func (s *captureSink) Deliver(port string, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports = append(s.ports, port)
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) captured() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// signalSink additionally records forwarded signals, the way a
// downstream pipeline would.
type signalSink struct {
	captureSink

	mu      sync.Mutex
	signals []Event
}

func (s *signalSink) SendSignal(signal Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, signal)
	return nil
}

func (s *signalSink) ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sig := range s.signals {
		if sig.Signal == SignalTick {
			n++
		}
	}
	return n
}

// fakeSource counts circuit-breaker notifications.
type fakeSource struct {
	id string

	mu      sync.Mutex
	actions []CBAction
}

func (s *fakeSource) ID() string { return s.id }

func (s *fakeSource) OnCircuitBreaker(action CBAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
}

func (s *fakeSource) received() []CBAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CBAction(nil), s.actions...)
}

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	g := buildScriptGraph(t, `
		match event of
		case %{a > 5} => event.a + 1
		default => emit
		end
	`)
	return New(g, cfg)
}

func stopPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestPipelineEndToEnd(t *testing.T) {
	p := newTestPipeline(t, Config{})
	sink := &captureSink{id: "sink"}
	require.NoError(t, p.ConnectOutput("out", PortIn, sink))
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.SendEvent(PortIn, NewEvent(map[string]any{"a": int64(10)}, "test://src")))
	stopPipeline(t, p)

	got := sink.captured()
	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].Data)
}

func TestPipelineStopDrainsQueue(t *testing.T) {
	p := newTestPipeline(t, Config{QueueSize: 128})
	sink := &captureSink{id: "sink"}
	require.NoError(t, p.ConnectOutput("out", PortIn, sink))
	require.NoError(t, p.Start(context.Background()))

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, p.SendEvent(PortIn, NewEvent(map[string]any{"a": int64(10)}, "")))
	}
	stopPipeline(t, p)

	// Every queued event was processed before the actor exited.
	assert.Len(t, sink.captured(), n)
}

func TestPipelineSendAfterStop(t *testing.T) {
	p := newTestPipeline(t, Config{})
	require.NoError(t, p.Start(context.Background()))
	stopPipeline(t, p)

	err := p.SendEvent(PortIn, NewEvent(nil, ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPipelineStopped)
}

func TestPipelineLifecycleErrors(t *testing.T) {
	p := newTestPipeline(t, Config{})

	err := p.Stop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, p.Start(context.Background()))
	err = p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	stopPipeline(t, p)
	// Stopping twice is idempotent.
	require.NoError(t, p.Stop(context.Background()))
}

func TestPipelineFanOutClonesAllButLast(t *testing.T) {
	p := newTestPipeline(t, Config{})
	first := &captureSink{id: "first"}
	last := &captureSink{id: "last"}
	require.NoError(t, p.ConnectOutput("out", PortIn, first))
	require.NoError(t, p.ConnectOutput("out", PortIn, last))
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.SendEvent(PortIn, NewEvent(map[string]any{"a": int64(1)}, "")))
	stopPipeline(t, p)

	firstGot := first.captured()
	lastGot := last.captured()
	require.Len(t, firstGot, 1)
	require.Len(t, lastGot, 1)

	// The last destination holds the original tree; earlier ones hold
	// independent copies. Mutating the last must not leak into the
	// first.
	lastGot[0].Data.(map[string]any)["a"] = int64(99)
	assert.Equal(t, int64(1), firstGot[0].Data.(map[string]any)["a"])
}

func TestPipelineTickNotForwardedToOrigin(t *testing.T) {
	p := newTestPipeline(t, Config{})
	self := &signalSink{captureSink: captureSink{id: "self"}}
	other := &signalSink{captureSink: captureSink{id: "other"}}
	require.NoError(t, p.ConnectOutput("out", PortIn, self))
	require.NoError(t, p.ConnectOutput("out", PortIn, other))
	require.NoError(t, p.Start(context.Background()))

	// A tick stamped with self's id must not be forwarded back to it.
	require.NoError(t, p.SendSignal(NewTick("self")))
	stopPipeline(t, p)

	assert.Equal(t, 0, self.ticks())
	assert.Equal(t, 1, other.ticks())
}

func TestPipelineInsightNotifiesEachSourceOnce(t *testing.T) {
	p := newTestPipeline(t, Config{})
	a := &fakeSource{id: "a"}
	b := &fakeSource{id: "b"}
	require.NoError(t, p.ConnectSource(a))
	require.NoError(t, p.ConnectSource(b))
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.SendInsight(NewInsight(CBFail)))
	require.NoError(t, p.SendInsight(NewInsight(CBAck)))
	require.NoError(t, p.SendInsight(NewInsight(CBNone)))
	stopPipeline(t, p)

	// Fail maps to trigger and ack to restore; a no-action insight
	// notifies nobody. Each source hears each verdict exactly once.
	want := []CBAction{CBTrigger, CBRestore}
	assert.Equal(t, want, a.received())
	assert.Equal(t, want, b.received())
}

func TestPipelineDisconnectOutput(t *testing.T) {
	p := newTestPipeline(t, Config{})
	sink := &captureSink{id: "sink"}
	require.NoError(t, p.ConnectOutput("out", PortIn, sink))
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.SendEvent(PortIn, NewEvent(map[string]any{"a": int64(10)}, "")))
	require.NoError(t, p.DisconnectOutput("out", "sink"))
	require.NoError(t, p.SendEvent(PortIn, NewEvent(map[string]any{"a": int64(10)}, "")))
	stopPipeline(t, p)

	assert.Len(t, sink.captured(), 1)
}

func TestPipelineDisconnectRemovesEmptyOutput(t *testing.T) {
	p := newTestPipeline(t, Config{})
	sink := &captureSink{id: "sink"}
	require.NoError(t, p.ConnectOutput("out", PortIn, sink))
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.DisconnectOutput("out", "sink"))
	stopPipeline(t, p)

	// The actor goroutine has exited; its state is safe to inspect.
	_, present := p.outputs["out"]
	assert.False(t, present, "output with no destinations left should not be enumerated")
}

func TestPipelineSignalForwardedOncePerTarget(t *testing.T) {
	p := newTestPipeline(t, Config{})
	down := &signalSink{captureSink: captureSink{id: "down"}}
	require.NoError(t, p.ConnectOutput("out", PortIn, down))
	require.NoError(t, p.ConnectOutput("err", PortIn, down))
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.SendSignal(NewTick("other")))
	stopPipeline(t, p)

	assert.Equal(t, 1, down.ticks(), "a target on two ports hears each signal once")
}

func TestPipelineSignalInsightsReachSources(t *testing.T) {
	b := NewGraphBuilder("bp")
	n := b.AddNode(mustOperator(t, "backpressure", "bp1", map[string]any{"timeout": 1}))
	b.Input(PortIn, n)
	b.Output(n, PortOut, "out")
	g, err := b.Build(nil, nil)
	require.NoError(t, err)

	p := New(g, Config{})
	src := &fakeSource{id: "src"}
	require.NoError(t, p.ConnectSource(src))
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.SendInsight(NewInsight(CBFail)))

	// Once the 1ms backoff has expired, a tick makes the operator
	// raise the restore and the source hears it.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.SendSignal(NewTick("other")))
	stopPipeline(t, p)

	assert.Equal(t, []CBAction{CBTrigger, CBRestore}, src.received())
}

func TestPipelineTrySendSignal(t *testing.T) {
	p := newTestPipeline(t, Config{QueueSize: 1})
	sink := &captureSink{id: "sink"}
	require.NoError(t, p.ConnectOutput("out", PortIn, sink)) // fills the only slot

	err := p.TrySendSignal(NewTick("other"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrChannelFull)

	require.NoError(t, p.Start(context.Background()))
	stopPipeline(t, p)

	err = p.TrySendSignal(NewTick("other"))
	assert.ErrorIs(t, err, errors.ErrPipelineStopped)
}

func TestPipelineSendBlocksWhenQueueFull(t *testing.T) {
	p := newTestPipeline(t, Config{QueueSize: 2})
	sink := &captureSink{id: "sink"}
	require.NoError(t, p.ConnectOutput("out", PortIn, sink)) // occupies one slot
	require.NoError(t, p.SendEvent(PortIn, NewEvent(map[string]any{"a": int64(10)}, "")))

	// The queue is full; the next send must block, not drop.
	unblocked := make(chan struct{})
	go func() {
		_ = p.SendEvent(PortIn, NewEvent(map[string]any{"a": int64(10)}, ""))
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("send on a full queue returned before the actor started")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Start(context.Background()))
	select {
	case <-unblocked:
	case <-time.After(5 * time.Second):
		t.Fatal("send never unblocked after the actor started")
	}
	stopPipeline(t, p)

	assert.Len(t, sink.captured(), 2)
}

func TestPipelineFeedsPipeline(t *testing.T) {
	upstream := newTestPipeline(t, Config{})

	b := NewGraphBuilder("downstream")
	n := b.AddNode(mustOperator(t, "passthrough", "p", nil))
	b.Input(PortIn, n)
	b.Output(n, PortOut, "out")
	g, err := b.Build(nil, nil)
	require.NoError(t, err)
	downstream := New(g, Config{})

	sink := &captureSink{id: "sink"}
	require.NoError(t, upstream.ConnectOutput("out", PortIn, downstream))
	require.NoError(t, downstream.ConnectOutput("out", PortIn, sink))

	require.NoError(t, downstream.Start(context.Background()))
	require.NoError(t, upstream.Start(context.Background()))

	require.NoError(t, upstream.SendEvent(PortIn, NewEvent(map[string]any{"a": int64(10)}, "")))

	stopPipeline(t, upstream)
	stopPipeline(t, downstream)

	got := sink.captured()
	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].Data)
}

func TestTickLoopDeliversTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		ticks []Event
	)
	done := make(chan struct{})
	go func() {
		tickLoop(ctx, "pipe", time.Millisecond, func(e Event) error {
			mu.Lock()
			ticks = append(ticks, e)
			mu.Unlock()
			return nil
		})
		close(done)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ticks) >= 3
	}, 2*time.Second, time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, ticks)
	assert.Equal(t, "pipe", ticks[0].OriginID)
	assert.Equal(t, SignalTick, ticks[0].Signal)
}

func TestTickLoopStopsOnSendError(t *testing.T) {
	done := make(chan struct{})
	go func() {
		tickLoop(context.Background(), "pipe", time.Millisecond, func(Event) error {
			return errors.ErrPipelineStopped
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick loop did not exit on send error")
	}
}

func TestTickLoopSkipsFullQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		calls int
	)
	done := make(chan struct{})
	go func() {
		tickLoop(ctx, "pipe", time.Millisecond, func(Event) error {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				return errors.WrapTransient(errors.ErrChannelFull, "Pipeline", "TrySendSignal", "pipe")
			}
			return nil
		})
		close(done)
	}()

	// A full queue does not end the loop; the next tick still fires.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(nil)
	assert.NotEmpty(t, m.DeployID())

	p := newTestPipeline(t, Config{})
	require.NoError(t, m.Deploy(p))

	err := m.Deploy(newTestPipeline(t, Config{}))
	require.Error(t, err, "duplicate pipeline id")

	got, ok := m.Pipeline(p.ID())
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = m.Pipeline("missing")
	assert.False(t, ok)

	require.NoError(t, m.Start(context.Background()))

	err = m.Deploy(newTestPipeline(t, Config{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	err = m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, m.Stop(context.Background()))
	err = m.Stop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}
