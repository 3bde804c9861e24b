package script

import (
	"github.com/c360/eventflow/value"
)

// testPattern reports whether the pattern hits the value. Type
// mismatches inside predicate comparisons count as a miss, not an
// error; only evaluation of embedded expressions can fail.
//
// Extractor tests bind: where a pattern carries `~=` tests, the match
// result is a copy of the tested structure with the extracted values
// in place of the raw fields, so an assign pattern hands the case body
// what the extractor produced (regex named groups, parsed JSON). The
// tested value itself is never mutated.
func (ev *env) testPattern(p Pattern, v any) (bool, error) {
	_, _, hit, err := ev.matchPattern(p, v)
	return hit, err
}

// matchPattern returns the match result, whether extraction rewrote
// it, whether the pattern hit, and any evaluation error. The result is
// v itself unless rewrote is true.
func (ev *env) matchPattern(p Pattern, v any) (any, bool, bool, error) {
	switch t := p.(type) {
	case *DefaultPattern, *DoNotCarePattern:
		return v, false, true, nil

	case *AssignPattern:
		res, rewrote, hit, err := ev.matchPattern(t.Pattern, v)
		if err != nil || !hit {
			return v, false, hit, err
		}
		ev.setLocal(t.Idx, res)
		return res, rewrote, true, nil

	case *ExprPattern:
		c, err := ev.eval(t.Expr)
		if err != nil {
			return v, false, false, err
		}
		if c.kind != contValue {
			return v, false, false, newError(KindRuntime, ev.rng(t.Expr.mid()), "flow control in pattern expression")
		}
		return v, false, value.Equal(c.v, v), nil

	case *RecordPattern:
		return ev.matchRecordPattern(t, v)

	case *ArrayPattern:
		arr, ok := v.([]any)
		if !ok || len(arr) != len(t.Items) {
			return v, false, false, nil
		}
		return ev.matchItems(t.Items, arr)

	case *TuplePattern:
		arr, ok := v.([]any)
		if !ok {
			return v, false, false, nil
		}
		if t.Open {
			if len(arr) < len(t.Items) {
				return v, false, false, nil
			}
		} else if len(arr) != len(t.Items) {
			return v, false, false, nil
		}
		return ev.matchItems(t.Items, arr)
	}
	return v, false, false, nil
}

func (ev *env) matchRecordPattern(p *RecordPattern, v any) (any, bool, bool, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return v, false, false, nil
	}
	// Copy-on-extract: the original record stays untouched.
	var out map[string]any
	bind := func(key string, x any) {
		if out == nil {
			out = make(map[string]any, len(obj))
			for k, fv := range obj {
				out[k] = fv
			}
		}
		out[key] = x
	}
	for i := range p.Fields {
		f := &p.Fields[i]
		fv, present := obj[f.Lhs]
		switch f.Kind {
		case PredPresent:
			if !present {
				return v, false, false, nil
			}
		case PredAbsent:
			if present {
				return v, false, false, nil
			}
		case PredBin:
			if !present {
				return v, false, false, nil
			}
			c, err := ev.eval(f.Rhs)
			if err != nil {
				return v, false, false, err
			}
			res, err := execBinary(f.BinKind, fv, c.v)
			if err != nil {
				// Wrong-typed field value is a miss.
				return v, false, false, nil
			}
			if hit, ok := res.(bool); !ok || !hit {
				return v, false, false, nil
			}
		case PredTilde:
			s, ok := fv.(string)
			if !present || !ok {
				return v, false, false, nil
			}
			x, hit := f.Test.Extractor.Extract(s)
			if !hit {
				return v, false, false, nil
			}
			bind(f.Lhs, x)
		case PredRecord:
			if !present {
				return v, false, false, nil
			}
			res, rewrote, hit, err := ev.matchRecordPattern(f.Record, fv)
			if err != nil || !hit {
				return v, false, hit, err
			}
			if rewrote {
				bind(f.Lhs, res)
			}
		case PredArray:
			if !present {
				return v, false, false, nil
			}
			res, rewrote, hit, err := ev.matchPattern(f.Array, fv)
			if err != nil || !hit {
				return v, false, hit, err
			}
			if rewrote {
				bind(f.Lhs, res)
			}
		}
	}
	if out != nil {
		return out, true, true, nil
	}
	return v, false, true, nil
}

func (ev *env) matchItems(items []ArrayItemPattern, arr []any) (any, bool, bool, error) {
	var out []any
	for i := range items {
		res, rewrote, hit, err := ev.matchItemPattern(&items[i], arr[i])
		if err != nil || !hit {
			return arr, false, hit, err
		}
		if rewrote {
			if out == nil {
				out = make([]any, len(arr))
				copy(out, arr)
			}
			out[i] = res
		}
	}
	if out != nil {
		return out, true, true, nil
	}
	return arr, false, true, nil
}

func (ev *env) matchItemPattern(p *ArrayItemPattern, v any) (any, bool, bool, error) {
	switch p.Kind {
	case ItemIgnore:
		return v, false, true, nil
	case ItemExpr:
		c, err := ev.eval(p.Expr)
		if err != nil {
			return v, false, false, err
		}
		return v, false, value.Equal(c.v, v), nil
	case ItemTilde:
		s, ok := v.(string)
		if !ok {
			return v, false, false, nil
		}
		x, hit := p.Test.Extractor.Extract(s)
		if !hit {
			return v, false, false, nil
		}
		return x, true, true, nil
	case ItemRecord:
		return ev.matchRecordPattern(p.Record, v)
	}
	return v, false, false, nil
}
