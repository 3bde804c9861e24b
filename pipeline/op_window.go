package pipeline

import (
	"time"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/pkg/timestamp"
	"github.com/c360/eventflow/script"
)

// windowOperator runs an aggregating script over a tumbling time
// window. Each event accumulates into the script's aggregate state and
// produces nothing; when a tick signal rolls the window, the script
// runs in emit mode against the last event of the window and the
// result leaves through the out port.
type windowOperator struct {
	baseOperator
	script   *script.Script
	interval time.Duration

	state     any
	last      *Event
	windowEnd uint64
	count     int
}

func newWindowOperator(id string, cfg map[string]any, deps OperatorDeps) (Operator, error) {
	src := cfgString(cfg, "script", "")
	if src == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "windowOperator", "new", "script source required")
	}
	intervalMS := cfgInt(cfg, "interval", 1000)
	if intervalMS <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "windowOperator", "new",
			"interval must be positive")
	}
	compiled, err := script.Compile(src, deps.ScriptReg, deps.AggrReg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "windowOperator", "new", "script compilation")
	}
	if !compiled.HasAggregates() {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "windowOperator", "new",
			"window script must call at least one aggregate function")
	}
	compiled.SetWindow(cfgString(cfg, "name", id))
	if args, ok := cfg["args"]; ok {
		compiled.SetArgs(args)
	}
	return &windowOperator{
		baseOperator: baseOperator{id: id},
		script:       compiled,
		interval:     time.Duration(intervalMS) * time.Millisecond,
	}, nil
}

func (o *windowOperator) OnEvent(_ string, event Event) ([]PortEvent, error) {
	if o.windowEnd == 0 {
		o.windowEnd = timestamp.Add(event.IngestNS, o.interval)
	}
	ctx := &script.EventContext{IngestNS: event.IngestNS, OriginURI: event.OriginURI}
	if _, err := o.script.Run(ctx, script.AggrAccumulate, &event.Data, &o.state, &event.Meta); err != nil {
		return []PortEvent{{Port: PortErr, Event: errorEvent(event, o.id, err)}}, nil
	}
	o.last = &event
	o.count++
	return nil, nil
}

func (o *windowOperator) HandlesSignal() bool { return true }

// OnSignal rolls the window when a tick passes the window boundary.
func (o *windowOperator) OnSignal(signal *Event) ([]PortEvent, []Event, error) {
	if signal.Signal != SignalTick && signal.Signal != SignalStop {
		return nil, nil, nil
	}
	if o.windowEnd == 0 || o.count == 0 {
		return nil, nil, nil
	}
	if signal.Signal == SignalTick && signal.IngestNS < o.windowEnd {
		return nil, nil, nil
	}

	event := *o.last
	ctx := &script.EventContext{IngestNS: signal.IngestNS, OriginURI: event.OriginURI}
	ret, err := o.script.Run(ctx, script.AggrEmit, &event.Data, &o.state, &event.Meta)

	o.script.InitAggregates()
	o.last = nil
	o.count = 0
	o.windowEnd = 0

	if err != nil {
		return []PortEvent{{Port: PortErr, Event: errorEvent(event, o.id, err)}}, nil, nil
	}
	out := event
	out.ID = NextEventID()
	out.IngestNS = signal.IngestNS
	if ret.Kind == script.ReturnEmit {
		out.Data = ret.Value
	}
	port := PortOut
	if ret.Port != nil {
		port = *ret.Port
	}
	return []PortEvent{{Port: port, Event: out}}, nil, nil
}
