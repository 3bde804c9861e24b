// Package script implements the event-processing scripting language:
// a lexer, a constant-folding compiler and a tree-walking interpreter
// over plain Go value trees. Scripts transform one event at a time and
// finish by emitting a value, emitting the event as it stands, or
// dropping it.
package script

import (
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/value"
)

// DefaultMaxDepth bounds recursion through script-defined functions.
const DefaultMaxDepth = 1024

// AggrMode selects how aggregate function calls behave during a run.
type AggrMode int

const (
	// AggrAccumulate folds event data into aggregate state
	AggrAccumulate AggrMode = iota
	// AggrEmit reads aggregate state without accumulating
	AggrEmit
)

// ReturnKind discriminates script outcomes.
type ReturnKind int

const (
	// ReturnEmit emits a computed value
	ReturnEmit ReturnKind = iota
	// ReturnEmitEvent emits the event as it stands after the run
	ReturnEmitEvent
	// ReturnDrop discards the event
	ReturnDrop
)

// Return is the outcome of one script run. Port is nil for the default
// output port.
type Return struct {
	Kind  ReturnKind
	Value any
	Port  *string
}

// Option configures compilation.
type Option func(*Script)

// WithMaxDepth overrides the recursion limit for script functions.
func WithMaxDepth(n int) Option {
	return func(s *Script) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

// Script is a compiled script. A Script owns its aggregate function
// instances and is therefore not safe for concurrent runs; each
// operator compiles its own copy.
type Script struct {
	source   string
	exprs    []Expr
	metas    *NodeMetas
	consts   []any
	nLocals  int
	aggrs    []AggrFn
	maxDepth int
}

// Compile parses, resolves and constant-folds a script.
func Compile(src string, reg *Registry, aggrReg *AggrRegistry, opts ...Option) (*Script, error) {
	if reg == nil || aggrReg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "script", "Compile", "registries required")
	}
	toks, err := newLexer(src).tokenize()
	if err != nil {
		return nil, err
	}
	p := newParser(toks, reg, aggrReg)
	exprs, err := p.parseScript()
	if err != nil {
		return nil, err
	}
	s := &Script{
		source:   src,
		exprs:    exprs,
		metas:    p.metas,
		consts:   p.constVals,
		nLocals:  p.nextLocal,
		maxDepth: DefaultMaxDepth,
	}
	s.aggrs = make([]AggrFn, len(p.aggrs))
	for i, slot := range p.aggrs {
		s.aggrs[i] = slot.factory()
		s.aggrs[i].Init()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Source returns the script source text.
func (s *Script) Source() string { return s.source }

// HasAggregates reports whether the script calls aggregate functions.
func (s *Script) HasAggregates() bool { return len(s.aggrs) > 0 }

// InitAggregates resets all aggregate state, typically on window roll.
func (s *Script) InitAggregates() {
	for _, a := range s.aggrs {
		a.Init()
	}
}

// SetWindow binds the window const register for subsequent runs.
func (s *Script) SetWindow(v any) { s.consts[constSlotWindow] = v }

// SetGroup binds the group const register for subsequent runs.
func (s *Script) SetGroup(v any) { s.consts[constSlotGroup] = v }

// SetArgs binds the args const register for subsequent runs.
func (s *Script) SetArgs(v any) { s.consts[constSlotArgs] = v }

// Run executes the script against an event. The event, state and
// metadata trees are passed by pointer so assignments update them in
// place; errors carry the source span of the failing expression.
func (s *Script) Run(ctx *EventContext, mode AggrMode, event, state, meta *any) (Return, error) {
	var nilSlot any
	if event == nil {
		event = &nilSlot
	}
	if state == nil {
		state = &nilSlot
	}
	if meta == nil {
		meta = &nilSlot
	}
	ev := &env{
		ctx:      ctx,
		event:    event,
		state:    state,
		meta:     meta,
		consts:   s.consts,
		locals:   make([]localVal, s.nLocals),
		aggrs:    s.aggrs,
		mode:     mode,
		metas:    s.metas,
		maxDepth: s.maxDepth,
	}
	c, err := ev.evalExprs(s.exprs)
	if err != nil {
		return Return{}, err
	}
	switch c.kind {
	case contDrop:
		return Return{Kind: ReturnDrop}, nil
	case contEmit:
		return Return{Kind: ReturnEmit, Value: c.v, Port: c.port}, nil
	case contEmitEvent:
		return Return{Kind: ReturnEmitEvent, Port: c.port}, nil
	default:
		// Running off the end emits the last expression's value.
		return Return{Kind: ReturnEmit, Value: c.v}, nil
	}
}

// RunValue is a convenience for expression-style scripts: it runs with
// a cloned event, no state or metadata, and returns the emitted value.
func (s *Script) RunValue(ctx *EventContext, event any) (any, error) {
	ev := value.Clone(event)
	var state, meta any
	ret, err := s.Run(ctx, AggrAccumulate, &ev, &state, &meta)
	if err != nil {
		return nil, err
	}
	if ret.Kind == ReturnEmitEvent {
		return ev, nil
	}
	return ret.Value, nil
}
