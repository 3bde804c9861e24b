package script

import (
	"fmt"
	"path"
	"regexp"

	"github.com/c360/eventflow/pkg/cache"
	"github.com/c360/eventflow/value"
)

// EventContext carries per-invocation facts scripts may read through
// non-constant builtins.
type EventContext struct {
	IngestNS  uint64
	OriginURI string
}

// Fn is a registry builtin. Const functions are referentially
// transparent and eligible for compile-time constant folding.
type Fn struct {
	Module  string
	Name    string
	Argc    int // -1 accepts any arity
	IsConst bool
	F       func(ctx *EventContext, args []any) (any, error)
}

// Registry is the process-wide table of builtin functions. It is built
// once at startup, passed by reference into compilation and never
// mutated afterwards.
type Registry struct {
	fns map[string]map[string]*Fn
}

// NewRegistry creates a registry pre-populated with the standard
// function modules.
func NewRegistry() *Registry {
	r := &Registry{fns: map[string]map[string]*Fn{}}
	registerStdlib(r)
	return r
}

// Register adds a function to the registry, replacing any previous
// function with the same module and name.
func (r *Registry) Register(fn *Fn) {
	mod, ok := r.fns[fn.Module]
	if !ok {
		mod = map[string]*Fn{}
		r.fns[fn.Module] = mod
	}
	mod[fn.Name] = fn
}

// Resolve looks up a function by module and name.
func (r *Registry) Resolve(module, name string) (*Fn, bool) {
	mod, ok := r.fns[module]
	if !ok {
		return nil, false
	}
	fn, ok := mod[name]
	return fn, ok
}

// AggrFn is a stateful aggregate function instance. Instances persist
// across invocations within one operator and are reset via Init when a
// window rolls.
type AggrFn interface {
	// Init resets the accumulated state.
	Init()
	// Accumulate folds one set of arguments into the state.
	Accumulate(args []any) error
	// Emit returns the current aggregate value without resetting.
	Emit() any
}

// AggrRegistry is the process-wide table of aggregate function
// factories, construct-once read-many like Registry.
type AggrRegistry struct {
	factories map[string]map[string]func() AggrFn
}

// NewAggrRegistry creates an aggregate registry pre-populated with the
// standard aggregate modules.
func NewAggrRegistry() *AggrRegistry {
	r := &AggrRegistry{factories: map[string]map[string]func() AggrFn{}}
	registerAggrStdlib(r)
	return r
}

// Register adds an aggregate factory to the registry.
func (r *AggrRegistry) Register(module, name string, factory func() AggrFn) {
	mod, ok := r.factories[module]
	if !ok {
		mod = map[string]func() AggrFn{}
		r.factories[module] = mod
	}
	mod[name] = factory
}

// Resolve looks up an aggregate factory by module and name.
func (r *AggrRegistry) Resolve(module, name string) (func() AggrFn, bool) {
	mod, ok := r.factories[module]
	if !ok {
		return nil, false
	}
	f, ok := mod[name]
	return f, ok
}

// Extractor is a pattern test invoked by tilde patterns. Extract
// returns the bound value and whether the test matched.
type Extractor interface {
	Extract(s string) (any, bool)
}

// newExtractor resolves an extractor by id at compile time.
func newExtractor(id, pattern string) (Extractor, error) {
	switch id {
	case "re":
		re, err := compileRegex(pattern)
		if err != nil {
			return nil, err
		}
		return &reExtractor{re: re}, nil
	case "glob":
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		return &globExtractor{pattern: pattern}, nil
	case "json":
		return jsonExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", id)
	}
}

// reExtractor matches a regular expression. Named capture groups bind
// as an object; without named groups the whole match binds as a string.
type reExtractor struct {
	re *regexp.Regexp
}

func (e *reExtractor) Extract(s string) (any, bool) {
	m := e.re.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	names := e.re.SubexpNames()
	bound := map[string]any{}
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		bound[name] = m[i]
	}
	if len(bound) == 0 {
		return m[0], true
	}
	return bound, true
}

// globExtractor matches a path.Match glob; the matched string binds.
type globExtractor struct {
	pattern string
}

func (e *globExtractor) Extract(s string) (any, bool) {
	ok, err := path.Match(e.pattern, s)
	if err != nil || !ok {
		return nil, false
	}
	return s, true
}

// jsonExtractor parses the string as JSON; the decoded value binds.
// Numbers decode with integer fidelity where possible.
type jsonExtractor struct{}

func (jsonExtractor) Extract(s string) (any, bool) {
	v, err := value.FromJSON([]byte(s))
	if err != nil {
		return nil, false
	}
	return v, true
}

// regexCache holds compiled extractor regexes; scripts are compiled
// per operator and commonly repeat patterns.
var regexCache cache.Cache[*regexp.Regexp]

func init() {
	var err error
	regexCache, err = cache.NewLRU[*regexp.Regexp](100)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize regex cache: %v", err))
	}
}

// compileRegex returns a cached compiled regex or compiles and caches
// a new one.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, found := regexCache.Get(pattern); found {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}
	_, _ = regexCache.Set(pattern, re)
	return re, nil
}
