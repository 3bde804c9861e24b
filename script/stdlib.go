package script

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/c360/eventflow/value"
)

func argErr(module, name string, want, got int) error {
	return fmt.Errorf("%s::%s expects %d arguments, got %d", module, name, want, got)
}

func registerStdlib(r *Registry) {
	registerMathModule(r)
	registerStringModule(r)
	registerTypeModule(r)
	registerArrayModule(r)
	registerRecordModule(r)
	registerSystemModule(r)
}

func constFn(module, name string, argc int, f func(args []any) (any, error)) *Fn {
	return &Fn{
		Module:  module,
		Name:    name,
		Argc:    argc,
		IsConst: true,
		F: func(_ *EventContext, args []any) (any, error) {
			return f(args)
		},
	}
}

func asNum(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func registerMathModule(r *Registry) {
	r.Register(constFn("math", "floor", 1, func(args []any) (any, error) {
		if i, ok := args[0].(int64); ok {
			return i, nil
		}
		f, ok := asNum(args[0])
		if !ok {
			return nil, fmt.Errorf("math::floor expects a number, got %s", value.TypeName(args[0]))
		}
		return int64(math.Floor(f)), nil
	}))
	r.Register(constFn("math", "ceil", 1, func(args []any) (any, error) {
		if i, ok := args[0].(int64); ok {
			return i, nil
		}
		f, ok := asNum(args[0])
		if !ok {
			return nil, fmt.Errorf("math::ceil expects a number, got %s", value.TypeName(args[0]))
		}
		return int64(math.Ceil(f)), nil
	}))
	r.Register(constFn("math", "round", 1, func(args []any) (any, error) {
		if i, ok := args[0].(int64); ok {
			return i, nil
		}
		f, ok := asNum(args[0])
		if !ok {
			return nil, fmt.Errorf("math::round expects a number, got %s", value.TypeName(args[0]))
		}
		return int64(math.Round(f)), nil
	}))
	r.Register(constFn("math", "trunc", 1, func(args []any) (any, error) {
		if i, ok := args[0].(int64); ok {
			return i, nil
		}
		f, ok := asNum(args[0])
		if !ok {
			return nil, fmt.Errorf("math::trunc expects a number, got %s", value.TypeName(args[0]))
		}
		return int64(math.Trunc(f)), nil
	}))
	r.Register(constFn("math", "abs", 1, func(args []any) (any, error) {
		switch t := args[0].(type) {
		case int64:
			if t < 0 {
				return -t, nil
			}
			return t, nil
		case float64:
			return math.Abs(t), nil
		}
		return nil, fmt.Errorf("math::abs expects a number, got %s", value.TypeName(args[0]))
	}))
	r.Register(constFn("math", "max", 2, func(args []any) (any, error) {
		a, aok := asNum(args[0])
		b, bok := asNum(args[1])
		if !aok || !bok {
			return nil, fmt.Errorf("math::max expects numbers")
		}
		if a >= b {
			return args[0], nil
		}
		return args[1], nil
	}))
	r.Register(constFn("math", "min", 2, func(args []any) (any, error) {
		a, aok := asNum(args[0])
		b, bok := asNum(args[1])
		if !aok || !bok {
			return nil, fmt.Errorf("math::min expects numbers")
		}
		if a <= b {
			return args[0], nil
		}
		return args[1], nil
	}))
	r.Register(constFn("math", "sqrt", 1, func(args []any) (any, error) {
		f, ok := asNum(args[0])
		if !ok {
			return nil, fmt.Errorf("math::sqrt expects a number, got %s", value.TypeName(args[0]))
		}
		return math.Sqrt(f), nil
	}))
	r.Register(constFn("math", "pow", 2, func(args []any) (any, error) {
		a, aok := asNum(args[0])
		b, bok := asNum(args[1])
		if !aok || !bok {
			return nil, fmt.Errorf("math::pow expects numbers")
		}
		return math.Pow(a, b), nil
	}))
}

func registerStringModule(r *Registry) {
	r.Register(constFn("string", "lowercase", 1, func(args []any) (any, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("string::lowercase expects a string, got %s", value.TypeName(args[0]))
		}
		return strings.ToLower(s), nil
	}))
	r.Register(constFn("string", "uppercase", 1, func(args []any) (any, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("string::uppercase expects a string, got %s", value.TypeName(args[0]))
		}
		return strings.ToUpper(s), nil
	}))
	r.Register(constFn("string", "trim", 1, func(args []any) (any, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("string::trim expects a string, got %s", value.TypeName(args[0]))
		}
		return strings.TrimSpace(s), nil
	}))
	r.Register(constFn("string", "len", 1, func(args []any) (any, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("string::len expects a string, got %s", value.TypeName(args[0]))
		}
		return int64(len([]rune(s))), nil
	}))
	r.Register(constFn("string", "bytes", 1, func(args []any) (any, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("string::bytes expects a string, got %s", value.TypeName(args[0]))
		}
		return int64(len(s)), nil
	}))
	r.Register(constFn("string", "replace", 3, func(args []any) (any, error) {
		s, sok := args[0].(string)
		from, fok := args[1].(string)
		to, tok := args[2].(string)
		if !sok || !fok || !tok {
			return nil, fmt.Errorf("string::replace expects strings")
		}
		return strings.ReplaceAll(s, from, to), nil
	}))
	r.Register(constFn("string", "split", 2, func(args []any) (any, error) {
		s, sok := args[0].(string)
		sep, pok := args[1].(string)
		if !sok || !pok {
			return nil, fmt.Errorf("string::split expects strings")
		}
		parts := strings.Split(s, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	}))
	r.Register(constFn("string", "contains", 2, func(args []any) (any, error) {
		s, sok := args[0].(string)
		sub, uok := args[1].(string)
		if !sok || !uok {
			return nil, fmt.Errorf("string::contains expects strings")
		}
		return strings.Contains(s, sub), nil
	}))
	r.Register(constFn("string", "format", -1, func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("string::format expects at least a format string")
		}
		tpl, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("string::format expects a string template, got %s", value.TypeName(args[0]))
		}
		var b strings.Builder
		argIdx := 1
		for i := 0; i < len(tpl); i++ {
			if tpl[i] == '{' && i+1 < len(tpl) && tpl[i+1] == '}' {
				if argIdx >= len(args) {
					return nil, fmt.Errorf("string::format: not enough arguments for template")
				}
				b.WriteString(stringify(args[argIdx]))
				argIdx++
				i++
				continue
			}
			b.WriteByte(tpl[i])
		}
		if argIdx != len(args) {
			return nil, fmt.Errorf("string::format: too many arguments for template")
		}
		return b.String(), nil
	}))
}

// stringify renders a value for string interpolation. Strings render
// bare; everything else renders as its literal form.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		return fmt.Sprintf("%g", t)
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(stringifyQuoted(e))
		}
		b.WriteByte(']')
		return b.String()
	case map[string]any:
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range value.SortedKeys(t) {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%q:", k)
			b.WriteString(stringifyQuoted(t[k]))
		}
		b.WriteByte('}')
		return b.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func stringifyQuoted(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return stringify(v)
}

func registerTypeModule(r *Registry) {
	r.Register(constFn("type", "as_string", 1, func(args []any) (any, error) {
		return value.TypeName(args[0]), nil
	}))
	r.Register(constFn("type", "is_null", 1, func(args []any) (any, error) {
		return args[0] == nil, nil
	}))
	r.Register(constFn("type", "is_bool", 1, func(args []any) (any, error) {
		_, ok := args[0].(bool)
		return ok, nil
	}))
	r.Register(constFn("type", "is_integer", 1, func(args []any) (any, error) {
		_, ok := args[0].(int64)
		return ok, nil
	}))
	r.Register(constFn("type", "is_float", 1, func(args []any) (any, error) {
		_, ok := args[0].(float64)
		return ok, nil
	}))
	r.Register(constFn("type", "is_number", 1, func(args []any) (any, error) {
		_, ok := asNum(args[0])
		return ok, nil
	}))
	r.Register(constFn("type", "is_string", 1, func(args []any) (any, error) {
		_, ok := args[0].(string)
		return ok, nil
	}))
	r.Register(constFn("type", "is_array", 1, func(args []any) (any, error) {
		_, ok := args[0].([]any)
		return ok, nil
	}))
	r.Register(constFn("type", "is_record", 1, func(args []any) (any, error) {
		_, ok := args[0].(map[string]any)
		return ok, nil
	}))
}

func registerArrayModule(r *Registry) {
	r.Register(constFn("array", "len", 1, func(args []any) (any, error) {
		a, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("array::len expects an array, got %s", value.TypeName(args[0]))
		}
		return int64(len(a)), nil
	}))
	r.Register(constFn("array", "push", 2, func(args []any) (any, error) {
		a, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("array::push expects an array, got %s", value.TypeName(args[0]))
		}
		out := make([]any, 0, len(a)+1)
		out = append(out, a...)
		out = append(out, args[1])
		return out, nil
	}))
	r.Register(constFn("array", "contains", 2, func(args []any) (any, error) {
		a, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("array::contains expects an array, got %s", value.TypeName(args[0]))
		}
		for _, e := range a {
			if value.Equal(e, args[1]) {
				return true, nil
			}
		}
		return false, nil
	}))
	r.Register(constFn("array", "flatten", 1, func(args []any) (any, error) {
		a, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("array::flatten expects an array, got %s", value.TypeName(args[0]))
		}
		var out []any
		var walk func([]any)
		walk = func(in []any) {
			for _, e := range in {
				if nested, ok := e.([]any); ok {
					walk(nested)
					continue
				}
				out = append(out, e)
			}
		}
		walk(a)
		if out == nil {
			out = []any{}
		}
		return out, nil
	}))
	r.Register(constFn("array", "sort", 1, func(args []any) (any, error) {
		a, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("array::sort expects an array, got %s", value.TypeName(args[0]))
		}
		out := make([]any, len(a))
		copy(out, a)
		var sortErr error
		sort.SliceStable(out, func(i, j int) bool {
			less, err := compareLess(out[i], out[j])
			if err != nil && sortErr == nil {
				sortErr = err
			}
			return less
		})
		if sortErr != nil {
			return nil, sortErr
		}
		return out, nil
	}))
	r.Register(constFn("array", "join", 2, func(args []any) (any, error) {
		a, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("array::join expects an array, got %s", value.TypeName(args[0]))
		}
		sep, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("array::join expects a string separator, got %s", value.TypeName(args[1]))
		}
		parts := make([]string, len(a))
		for i, e := range a {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, sep), nil
	}))
}

func compareLess(a, b any) (bool, error) {
	if af, aok := asNum(a); aok {
		bf, bok := asNum(b)
		if !bok {
			return false, fmt.Errorf("cannot compare %s with %s", value.TypeName(a), value.TypeName(b))
		}
		return af < bf, nil
	}
	if as, ok := a.(string); ok {
		bs, bok := b.(string)
		if !bok {
			return false, fmt.Errorf("cannot compare %s with %s", value.TypeName(a), value.TypeName(b))
		}
		return as < bs, nil
	}
	return false, fmt.Errorf("cannot compare %s values", value.TypeName(a))
}

func registerRecordModule(r *Registry) {
	r.Register(constFn("record", "keys", 1, func(args []any) (any, error) {
		m, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record::keys expects a record, got %s", value.TypeName(args[0]))
		}
		keys := value.SortedKeys(m)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	}))
	r.Register(constFn("record", "values", 1, func(args []any) (any, error) {
		m, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record::values expects a record, got %s", value.TypeName(args[0]))
		}
		keys := value.SortedKeys(m)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = m[k]
		}
		return out, nil
	}))
	r.Register(constFn("record", "len", 1, func(args []any) (any, error) {
		m, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record::len expects a record, got %s", value.TypeName(args[0]))
		}
		return int64(len(m)), nil
	}))
	r.Register(constFn("record", "contains", 2, func(args []any) (any, error) {
		m, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record::contains expects a record, got %s", value.TypeName(args[0]))
		}
		k, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("record::contains expects a string key, got %s", value.TypeName(args[1]))
		}
		_, present := m[k]
		return present, nil
	}))
	r.Register(constFn("record", "merge", 2, func(args []any) (any, error) {
		return value.Merge(args[0], args[1]), nil
	}))
}

func registerSystemModule(r *Registry) {
	// Non-const: the result depends on the event being processed, so
	// the folder must never evaluate these at compile time.
	r.Register(&Fn{
		Module: "system", Name: "ingest_ns", Argc: 0,
		F: func(ctx *EventContext, _ []any) (any, error) {
			if ctx == nil {
				return int64(0), nil
			}
			return int64(ctx.IngestNS), nil
		},
	})
	r.Register(&Fn{
		Module: "system", Name: "origin", Argc: 0,
		F: func(ctx *EventContext, _ []any) (any, error) {
			if ctx == nil {
				return "", nil
			}
			return ctx.OriginURI, nil
		},
	})
}

// Aggregate functions.

type countAggr struct {
	n int64
}

func (a *countAggr) Init()                    { a.n = 0 }
func (a *countAggr) Accumulate(_ []any) error { a.n++; return nil }
func (a *countAggr) Emit() any                { return a.n }

type sumAggr struct {
	sum     float64
	intSum  int64
	isFloat bool
}

func (a *sumAggr) Init() { a.sum, a.intSum, a.isFloat = 0, 0, false }

func (a *sumAggr) Accumulate(args []any) error {
	if len(args) != 1 {
		return fmt.Errorf("stats::sum expects 1 argument, got %d", len(args))
	}
	switch t := args[0].(type) {
	case int64:
		a.intSum += t
		a.sum += float64(t)
	case float64:
		a.isFloat = true
		a.sum += t
	default:
		return fmt.Errorf("stats::sum expects a number, got %s", value.TypeName(args[0]))
	}
	return nil
}

func (a *sumAggr) Emit() any {
	if a.isFloat {
		return a.sum
	}
	return a.intSum
}

type meanAggr struct {
	sum float64
	n   int64
}

func (a *meanAggr) Init() { a.sum, a.n = 0, 0 }

func (a *meanAggr) Accumulate(args []any) error {
	if len(args) != 1 {
		return fmt.Errorf("stats::mean expects 1 argument, got %d", len(args))
	}
	f, ok := asNum(args[0])
	if !ok {
		return fmt.Errorf("stats::mean expects a number, got %s", value.TypeName(args[0]))
	}
	a.sum += f
	a.n++
	return nil
}

func (a *meanAggr) Emit() any {
	if a.n == 0 {
		return nil
	}
	return a.sum / float64(a.n)
}

type minAggr struct {
	min float64
	set bool
}

func (a *minAggr) Init() { a.min, a.set = 0, false }

func (a *minAggr) Accumulate(args []any) error {
	if len(args) != 1 {
		return fmt.Errorf("stats::min expects 1 argument, got %d", len(args))
	}
	f, ok := asNum(args[0])
	if !ok {
		return fmt.Errorf("stats::min expects a number, got %s", value.TypeName(args[0]))
	}
	if !a.set || f < a.min {
		a.min = f
	}
	a.set = true
	return nil
}

func (a *minAggr) Emit() any {
	if !a.set {
		return nil
	}
	return a.min
}

type maxAggr struct {
	max float64
	set bool
}

func (a *maxAggr) Init() { a.max, a.set = 0, false }

func (a *maxAggr) Accumulate(args []any) error {
	if len(args) != 1 {
		return fmt.Errorf("stats::max expects 1 argument, got %d", len(args))
	}
	f, ok := asNum(args[0])
	if !ok {
		return fmt.Errorf("stats::max expects a number, got %s", value.TypeName(args[0]))
	}
	if !a.set || f > a.max {
		a.max = f
	}
	a.set = true
	return nil
}

func (a *maxAggr) Emit() any {
	if !a.set {
		return nil
	}
	return a.max
}

type collectAggr struct {
	items []any
}

func (a *collectAggr) Init() { a.items = nil }

func (a *collectAggr) Accumulate(args []any) error {
	if len(args) != 1 {
		return fmt.Errorf("win::collect expects 1 argument, got %d", len(args))
	}
	a.items = append(a.items, value.Clone(args[0]))
	return nil
}

func (a *collectAggr) Emit() any {
	out := make([]any, len(a.items))
	copy(out, a.items)
	return out
}

func registerAggrStdlib(r *AggrRegistry) {
	r.Register("stats", "count", func() AggrFn { return &countAggr{} })
	r.Register("stats", "sum", func() AggrFn { return &sumAggr{} })
	r.Register("stats", "mean", func() AggrFn { return &meanAggr{} })
	r.Register("stats", "min", func() AggrFn { return &minAggr{} })
	r.Register("stats", "max", func() AggrFn { return &maxAggr{} })
	r.Register("win", "collect", func() AggrFn { return &collectAggr{} })
}
