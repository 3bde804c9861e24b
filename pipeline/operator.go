package pipeline

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/script"
)

// PortEvent is one event leaving an operator through a named port.
type PortEvent struct {
	Port  string
	Event Event
}

// Operator is one node of an executable graph. Operators are owned by
// a single pipeline goroutine; implementations never need locks.
//
// OnEvent consumes the event it is handed. HandlesSignal and
// HandlesContraflow gate the broadcast paths so the graph walk can
// skip operators that do not care.
//
// OnSignal may produce forward events and insights: the events walk
// the graph like any operator output, the insights flow back through
// contraflow and on to registered sources.
type Operator interface {
	ID() string
	OnEvent(port string, event Event) ([]PortEvent, error)
	HandlesSignal() bool
	OnSignal(signal *Event) ([]PortEvent, []Event, error)
	HandlesContraflow() bool
	OnContraflow(insight *Event)
}

// OperatorDeps carries the shared dependencies operator factories may
// use.
type OperatorDeps struct {
	Logger    *slog.Logger
	ScriptReg *script.Registry
	AggrReg   *script.AggrRegistry
	Metrics   *Metrics
}

// OperatorFactory builds an operator instance from its node config.
type OperatorFactory func(id string, cfg map[string]any, deps OperatorDeps) (Operator, error)

// OperatorRegistry maps operator type names to factories. Built once
// at startup; safe for concurrent lookup.
type OperatorRegistry struct {
	mu        sync.RWMutex
	factories map[string]OperatorFactory
}

// NewOperatorRegistry creates a registry pre-populated with the
// built-in operator types.
func NewOperatorRegistry() *OperatorRegistry {
	r := &OperatorRegistry{factories: map[string]OperatorFactory{}}
	r.mustRegister("passthrough", newPassthroughOperator)
	r.mustRegister("script", newScriptOperator)
	r.mustRegister("backpressure", newBackpressureOperator)
	r.mustRegister("window", newWindowOperator)
	return r
}

// Register adds an operator factory under a type name.
func (r *OperatorRegistry) Register(typeName string, factory OperatorFactory) error {
	if typeName == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "OperatorRegistry", "Register", "type name validation")
	}
	if factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "OperatorRegistry", "Register", "factory validation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeName]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("operator type %q is already registered", typeName),
			"OperatorRegistry", "Register", "duplicate type check")
	}
	r.factories[typeName] = factory
	return nil
}

func (r *OperatorRegistry) mustRegister(typeName string, factory OperatorFactory) {
	if err := r.Register(typeName, factory); err != nil {
		panic(err)
	}
}

// Create builds an operator instance of the named type.
func (r *OperatorRegistry) Create(typeName, id string, cfg map[string]any, deps OperatorDeps) (Operator, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnknownOperator, "OperatorRegistry", "Create",
			fmt.Sprintf("operator type %q", typeName))
	}
	op, err := factory(id, cfg, deps)
	if err != nil {
		return nil, errors.Wrap(err, "OperatorRegistry", "Create",
			fmt.Sprintf("operator %q of type %q", id, typeName))
	}
	return op, nil
}

// Types returns the registered operator type names.
func (r *OperatorRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

// baseOperator provides the no-op parts of the Operator interface for
// operators that only care about forward events.
type baseOperator struct {
	id string
}

func (b *baseOperator) ID() string              { return b.id }
func (b *baseOperator) HandlesSignal() bool     { return false }
func (b *baseOperator) HandlesContraflow() bool { return false }
func (b *baseOperator) OnSignal(_ *Event) ([]PortEvent, []Event, error) {
	return nil, nil, nil
}
func (b *baseOperator) OnContraflow(_ *Event) {}

func cfgString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return def
}

func cfgInt(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
