package script

import (
	"github.com/c360/eventflow/value"
)

type contKind int

const (
	contValue contKind = iota
	contDrop
	contEmit
	contEmitEvent
	contRecur
)

// cont is the continuation of evaluating one expression: a plain value,
// or a flow-control outcome that unwinds the script.
type cont struct {
	kind contKind
	v    any
	port *string
}

func valueCont(v any) cont { return cont{kind: contValue, v: v} }

// env is the mutable state of one script run.
type env struct {
	ctx      *EventContext
	event    *any
	state    *any
	meta     *any
	consts   []any
	locals   []localVal
	aggrs    []AggrFn
	mode     AggrMode
	metas    *NodeMetas
	depth    int
	maxDepth int
}

type localVal struct {
	v   any
	set bool
}

func (ev *env) rng(mid int) Range { return ev.metas.Rng(mid) }

func (ev *env) setLocal(idx int, v any) {
	ev.locals[idx] = localVal{v: v, set: true}
}

// eval evaluates one expression to a continuation.
func (ev *env) eval(e Expr) (cont, error) {
	switch t := e.(type) {
	case *Literal:
		switch t.Value.(type) {
		case map[string]any, []any:
			// Composite literals are shared across runs; hand out a copy
			// so assignments cannot corrupt the compiled program.
			return valueCont(value.Clone(t.Value)), nil
		}
		return valueCont(t.Value), nil

	case *Path:
		v, err := ev.resolvePath(t)
		if err != nil {
			return cont{}, err
		}
		return valueCont(v), nil

	case *Binary:
		lc, err := ev.eval(t.Lhs)
		if err != nil {
			return cont{}, err
		}
		rc, err := ev.eval(t.Rhs)
		if err != nil {
			return cont{}, err
		}
		v, err := execBinary(t.Kind, lc.v, rc.v)
		if err != nil {
			return cont{}, attachRange(err, ev.rng(t.Mid))
		}
		return valueCont(v), nil

	case *Unary:
		c, err := ev.eval(t.Expr)
		if err != nil {
			return cont{}, err
		}
		v, err := execUnary(t.Kind, c.v)
		if err != nil {
			return cont{}, attachRange(err, ev.rng(t.Mid))
		}
		return valueCont(v), nil

	case *Record:
		out := make(map[string]any, len(t.Fields))
		for i := range t.Fields {
			f := &t.Fields[i]
			kc, err := ev.eval(f.Name)
			if err != nil {
				return cont{}, err
			}
			key, ok := kc.v.(string)
			if !ok {
				return cont{}, newError(KindTypeError, ev.rng(f.Mid),
					"record field name must be a string, got %s", value.TypeName(kc.v))
			}
			vc, err := ev.eval(f.Value)
			if err != nil {
				return cont{}, err
			}
			out[key] = vc.v
		}
		return valueCont(out), nil

	case *List:
		out := make([]any, len(t.Exprs))
		for i, el := range t.Exprs {
			c, err := ev.eval(el)
			if err != nil {
				return cont{}, err
			}
			out[i] = c.v
		}
		return valueCont(out), nil

	case *Present:
		_, found := ev.lookupPath(t.Path)
		return valueCont(found), nil

	case *Invoke:
		return ev.evalInvoke(t)

	case *InvokeAggr:
		return ev.evalInvokeAggr(t)

	case *Recur:
		args := make([]any, len(t.Args))
		for i, a := range t.Args {
			c, err := ev.eval(a)
			if err != nil {
				return cont{}, err
			}
			args[i] = c.v
		}
		return cont{kind: contRecur, v: args}, nil

	case *Match:
		return ev.evalMatch(t)

	case *Patch:
		return ev.evalPatch(t)

	case *Merge:
		tc, err := ev.eval(t.Target)
		if err != nil {
			return cont{}, err
		}
		mc, err := ev.eval(t.Expr)
		if err != nil {
			return cont{}, err
		}
		return valueCont(value.Merge(tc.v, mc.v)), nil

	case *Comprehension:
		return ev.evalComprehension(t)

	case *Emit:
		c := cont{kind: contEmitEvent}
		if t.Expr != nil {
			vc, err := ev.eval(t.Expr)
			if err != nil {
				return cont{}, err
			}
			c = cont{kind: contEmit, v: vc.v}
		}
		if t.Port != nil {
			pc, err := ev.eval(t.Port)
			if err != nil {
				return cont{}, err
			}
			port, ok := pc.v.(string)
			if !ok {
				return cont{}, newError(KindTypeError, ev.rng(t.Mid),
					"emit port must be a string, got %s", value.TypeName(pc.v))
			}
			c.port = &port
		}
		return c, nil

	case *Drop:
		return cont{kind: contDrop}, nil

	case *Assign:
		c, err := ev.eval(t.Expr)
		if err != nil {
			return cont{}, err
		}
		if c.kind != contValue {
			return c, nil
		}
		if err := ev.assignPath(t.Path, c.v); err != nil {
			return cont{}, err
		}
		return valueCont(c.v), nil
	}
	return cont{}, newError(KindRuntime, Range{}, "unknown expression node")
}

// evalExprs evaluates a body in order. Flow control unwinds
// immediately; the value of the last expression is the body's value.
func (ev *env) evalExprs(body []Expr) (cont, error) {
	var last cont
	for _, e := range body {
		c, err := ev.eval(e)
		if err != nil {
			return cont{}, err
		}
		if c.kind != contValue {
			return c, nil
		}
		last = c
	}
	return last, nil
}

func (ev *env) evalInvoke(t *Invoke) (cont, error) {
	args := make([]any, len(t.Args))
	for i, a := range t.Args {
		c, err := ev.eval(a)
		if err != nil {
			return cont{}, err
		}
		args[i] = c.v
	}
	if t.Fn != nil {
		v, err := t.Fn.F(ev.ctx, args)
		if err != nil {
			return cont{}, attachRange(err, ev.rng(t.Mid))
		}
		return valueCont(v), nil
	}
	return ev.callCustom(t, args)
}

// callCustom runs a script-defined function, executing recur as a loop
// counted against the recursion limit.
func (ev *env) callCustom(t *Invoke, args []any) (cont, error) {
	fn := t.Custom
	saved := ev.locals
	defer func() { ev.locals = saved }()
	for {
		ev.depth++
		if ev.depth > ev.maxDepth {
			return cont{}, newError(KindRecursionLimit, ev.rng(t.Mid),
				"function %s::%s exceeded the recursion limit of %d",
				t.Module, t.Fun, ev.maxDepth)
		}
		frame := make([]localVal, fn.Locals)
		for i, a := range args {
			frame[i] = localVal{v: a, set: true}
		}
		ev.locals = frame
		c, err := ev.evalExprs(fn.Body)
		if err != nil {
			return cont{}, err
		}
		if c.kind == contRecur {
			args = c.v.([]any)
			continue
		}
		return c, nil
	}
}

func (ev *env) evalInvokeAggr(t *InvokeAggr) (cont, error) {
	aggr := ev.aggrs[t.AggrID]
	if ev.mode == AggrAccumulate {
		args := make([]any, len(t.Args))
		for i, a := range t.Args {
			c, err := ev.eval(a)
			if err != nil {
				return cont{}, err
			}
			args[i] = c.v
		}
		if err := aggr.Accumulate(args); err != nil {
			return cont{}, attachRange(err, ev.rng(t.Mid))
		}
	}
	return valueCont(aggr.Emit()), nil
}

func (ev *env) evalMatch(t *Match) (cont, error) {
	tc, err := ev.eval(t.Target)
	if err != nil {
		return cont{}, err
	}
	for i := range t.Clauses {
		cl := &t.Clauses[i]
		hit, err := ev.testPattern(cl.Pattern, tc.v)
		if err != nil {
			return cont{}, err
		}
		if !hit {
			continue
		}
		if cl.Guard != nil {
			gc, err := ev.eval(cl.Guard)
			if err != nil {
				return cont{}, err
			}
			gb, ok := gc.v.(bool)
			if !ok {
				return cont{}, newError(KindTypeError, ev.rng(cl.Mid),
					"guard must evaluate to a bool, got %s", value.TypeName(gc.v))
			}
			if !gb {
				continue
			}
		}
		return ev.evalExprs(cl.Body)
	}
	return cont{}, newError(KindNoClauseHit, ev.rng(t.Mid), "no clause matched")
}

func (ev *env) evalPatch(t *Patch) (cont, error) {
	tc, err := ev.eval(t.Target)
	if err != nil {
		return cont{}, err
	}
	// Patch semantically consumes its target; operate on a copy so the
	// source tree is untouched.
	target := value.Clone(tc.v)
	for i := range t.Ops {
		op := &t.Ops[i]
		if op.Kind == PatchMergeAll {
			c, err := ev.eval(op.Expr)
			if err != nil {
				return cont{}, err
			}
			target = value.Merge(target, c.v)
			continue
		}
		obj, ok := target.(map[string]any)
		if !ok {
			return cont{}, newError(KindTypeError, ev.rng(t.Mid),
				"patch target must be a record, got %s", value.TypeName(target))
		}
		kc, err := ev.eval(op.Ident)
		if err != nil {
			return cont{}, err
		}
		key, ok := kc.v.(string)
		if !ok {
			return cont{}, newError(KindTypeError, ev.rng(t.Mid),
				"patch field name must be a string, got %s", value.TypeName(kc.v))
		}
		switch op.Kind {
		case PatchErase:
			delete(obj, key)
			continue
		case PatchInsert:
			if _, exists := obj[key]; exists {
				return cont{}, newError(KindRuntime, ev.rng(t.Mid),
					"insert: field %q already present", key)
			}
		case PatchUpdate:
			if _, exists := obj[key]; !exists {
				return cont{}, newError(KindRuntime, ev.rng(t.Mid),
					"update: field %q not present", key)
			}
		}
		c, err := ev.eval(op.Expr)
		if err != nil {
			return cont{}, err
		}
		if op.Kind == PatchMerge {
			obj[key] = value.Merge(obj[key], c.v)
		} else {
			obj[key] = c.v
		}
	}
	return valueCont(target), nil
}

// evalComprehension iterates a record (sorted keys, for determinism) or
// an array, running the first case whose guard passes for each element.
// Elements where no case hits are skipped.
func (ev *env) evalComprehension(t *Comprehension) (cont, error) {
	tc, err := ev.eval(t.Target)
	if err != nil {
		return cont{}, err
	}
	out := []any{}
	emit := func(k, v any) (cont, error) {
		ev.setLocal(t.KeyID, k)
		ev.setLocal(t.ValID, v)
		for i := range t.Cases {
			cs := &t.Cases[i]
			if cs.Guard != nil {
				gc, err := ev.eval(cs.Guard)
				if err != nil {
					return cont{}, err
				}
				gb, ok := gc.v.(bool)
				if !ok {
					return cont{}, newError(KindTypeError, ev.rng(cs.Mid),
						"guard must evaluate to a bool, got %s", value.TypeName(gc.v))
				}
				if !gb {
					continue
				}
			}
			c, err := ev.evalExprs(cs.Body)
			if err != nil || c.kind != contValue {
				return c, err
			}
			out = append(out, c.v)
			break
		}
		return valueCont(nil), nil
	}
	switch target := tc.v.(type) {
	case map[string]any:
		for _, k := range value.SortedKeys(target) {
			c, err := emit(k, target[k])
			if err != nil || c.kind != contValue {
				return c, err
			}
		}
	case []any:
		for i, v := range target {
			c, err := emit(int64(i), v)
			if err != nil || c.kind != contValue {
				return c, err
			}
		}
	default:
		return cont{}, newError(KindTypeError, ev.rng(t.Mid),
			"for target must be a record or array, got %s", value.TypeName(tc.v))
	}
	return valueCont(out), nil
}

// rootValue returns the tree a path root resolves against. State reads
// are copied: state outlives the event, and a reference smuggled into
// an emitted payload must not alias the next event's state.
func (ev *env) rootValue(p *Path) (any, error) {
	switch p.Root {
	case RootEvent:
		return *ev.event, nil
	case RootState:
		return value.Clone(*ev.state), nil
	case RootMeta:
		return *ev.meta, nil
	case RootLocal:
		lv := ev.locals[p.Idx]
		if !lv.set {
			return nil, newError(KindRuntime, ev.rng(p.Mid),
				"local %q used before assignment", ev.metas.Name(p.Mid))
		}
		return lv.v, nil
	case RootConst:
		v := ev.consts[p.Idx]
		switch v.(type) {
		case map[string]any, []any:
			return value.Clone(v), nil
		}
		return v, nil
	}
	return nil, newError(KindRuntime, ev.rng(p.Mid), "unknown path root")
}

// pathSegments materializes runtime segment expressions into value
// path segments.
func (ev *env) pathSegments(p *Path) ([]value.Segment, error) {
	segs := make([]value.Segment, 0, len(p.Segments))
	for i := range p.Segments {
		s := &p.Segments[i]
		switch s.Kind {
		case SegKey:
			segs = append(segs, value.KeySegment(s.Key))
		case SegIdx:
			segs = append(segs, value.IdxSegment(s.Idx))
		case SegExpr:
			c, err := ev.eval(s.Expr)
			if err != nil {
				return nil, err
			}
			switch k := c.v.(type) {
			case string:
				segs = append(segs, value.KeySegment(k))
			case int64:
				segs = append(segs, value.IdxSegment(int(k)))
			default:
				return nil, newError(KindTypeError, ev.metas.Rng(s.Mid),
					"path segment must be a string or integer, got %s", value.TypeName(c.v))
			}
		}
	}
	return segs, nil
}

// resolvePath reads through a path, failing when it does not resolve.
func (ev *env) resolvePath(p *Path) (any, error) {
	root, err := ev.rootValue(p)
	if err != nil {
		return nil, err
	}
	segs, err := ev.pathSegments(p)
	if err != nil {
		return nil, err
	}
	v, found := value.Get(root, segs)
	if !found {
		return nil, newError(KindRuntime, ev.rng(p.Mid), "path does not resolve")
	}
	return v, nil
}

// lookupPath reads through a path without failing on a miss.
func (ev *env) lookupPath(p *Path) (any, bool) {
	root, err := ev.rootValue(p)
	if err != nil {
		return nil, false
	}
	segs, err := ev.pathSegments(p)
	if err != nil {
		return nil, false
	}
	return value.Get(root, segs)
}

// assignPath writes a value through a path.
func (ev *env) assignPath(p *Path, v any) error {
	segs, err := ev.pathSegments(p)
	if err != nil {
		return err
	}
	switch p.Root {
	case RootEvent:
		root, err := value.Set(*ev.event, segs, v)
		if err != nil {
			return newError(KindRuntime, ev.rng(p.Mid), "%s", err.Error())
		}
		*ev.event = root
		return nil
	case RootState:
		root, err := value.Set(*ev.state, segs, v)
		if err != nil {
			return newError(KindRuntime, ev.rng(p.Mid), "%s", err.Error())
		}
		*ev.state = root
		return nil
	case RootMeta:
		root, err := value.Set(*ev.meta, segs, v)
		if err != nil {
			return newError(KindRuntime, ev.rng(p.Mid), "%s", err.Error())
		}
		*ev.meta = root
		return nil
	case RootLocal:
		if len(segs) == 0 {
			ev.setLocal(p.Idx, v)
			return nil
		}
		lv := ev.locals[p.Idx]
		root, err := value.Set(lv.v, segs, v)
		if err != nil {
			return newError(KindRuntime, ev.rng(p.Mid), "%s", err.Error())
		}
		ev.setLocal(p.Idx, root)
		return nil
	}
	return newError(KindRuntime, ev.rng(p.Mid), "cannot assign to a constant")
}
