package pipeline

import (
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/script"
)

// scriptOperator runs a compiled script against each event. The script
// decides the outcome: emit a computed value, emit the (possibly
// mutated) event, or drop it. Script errors are routed to the err port
// as error events rather than failing the graph.
type scriptOperator struct {
	baseOperator
	script *script.Script
	state  any
}

func newScriptOperator(id string, cfg map[string]any, deps OperatorDeps) (Operator, error) {
	src := cfgString(cfg, "script", "")
	if src == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "scriptOperator", "new", "script source required")
	}
	compiled, err := script.Compile(src, deps.ScriptReg, deps.AggrReg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "scriptOperator", "new", "script compilation")
	}
	if args, ok := cfg["args"]; ok {
		compiled.SetArgs(args)
	}
	return &scriptOperator{
		baseOperator: baseOperator{id: id},
		script:       compiled,
	}, nil
}

func (o *scriptOperator) OnEvent(_ string, event Event) ([]PortEvent, error) {
	ctx := &script.EventContext{IngestNS: event.IngestNS, OriginURI: event.OriginURI}
	ret, err := o.script.Run(ctx, script.AggrAccumulate, &event.Data, &o.state, &event.Meta)
	if err != nil {
		return []PortEvent{{Port: PortErr, Event: errorEvent(event, o.id, err)}}, nil
	}
	switch ret.Kind {
	case script.ReturnDrop:
		return nil, nil
	case script.ReturnEmit:
		event.Data = ret.Value
	}
	port := PortOut
	if ret.Port != nil {
		port = *ret.Port
	}
	return []PortEvent{{Port: port, Event: event}}, nil
}

// errorEvent wraps a failed event so downstream error sinks see both
// the failure and the payload that caused it.
func errorEvent(event Event, opID string, err error) Event {
	out := event
	out.Data = map[string]any{
		"error":    err.Error(),
		"operator": opID,
		"event":    event.Data,
	}
	if se, ok := err.(*script.Error); ok {
		out.Data.(map[string]any)["error_kind"] = se.Kind.String()
		out.Data.(map[string]any)["line"] = int64(se.Inner.Start.Line)
	}
	return out
}
