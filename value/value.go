// Package value defines the tree value model events carry through a
// pipeline. A value is one of: nil, bool, int64, float64, string,
// []any or map[string]any — the same shapes a decoded JSON document
// takes. Values and their metadata twin are exclusively owned by the
// component currently holding the event; ownership transfers on send
// and trees are cloned only at fan-out points with more than one
// destination.
package value

import (
	"fmt"
	"math"
	"sort"
)

// Kind names for TypeName; these are the names surfaced in type errors.
const (
	TypeNull   = "null"
	TypeBool   = "bool"
	TypeInt    = "integer"
	TypeFloat  = "float"
	TypeString = "string"
	TypeArray  = "array"
	TypeObject = "object"
)

// TypeName returns the value model name of v's dynamic type.
// Unknown Go types report as their %T for diagnostics.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBool
	case int64:
		return TypeInt
	case float64:
		return TypeFloat
	case string:
		return TypeString
	case []any:
		return TypeArray
	case map[string]any:
		return TypeObject
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Object returns an empty object value.
func Object() map[string]any { return map[string]any{} }

// Clone deep-copies a value tree. Scalars are returned as-is.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// Equal compares two value trees structurally. Integers and floats
// compare equal when they represent the same number, matching the
// language's == semantics.
func Equal(a, b any) bool {
	switch at := a.(type) {
	case nil:
		return b == nil
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case int64, float64:
		an, _ := AsFloat(a)
		bn, ok := AsFloat(b)
		return ok && an == bn
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !Equal(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, present := bt[k]
			if !present || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Merge deep-merges spec into target and returns the result. Object
// fields merge recursively; a nil spec field erases the target field;
// any other spec value replaces the target value. Target is not
// mutated; overlapping subtrees are cloned.
func Merge(target, spec any) any {
	tObj, tOK := target.(map[string]any)
	sObj, sOK := spec.(map[string]any)
	if !tOK || !sOK {
		return Clone(spec)
	}
	out := make(map[string]any, len(tObj)+len(sObj))
	for k, v := range tObj {
		out[k] = Clone(v)
	}
	for k, v := range sObj {
		if v == nil {
			delete(out, k)
			continue
		}
		if existing, ok := out[k]; ok {
			out[k] = Merge(existing, v)
		} else {
			out[k] = Clone(v)
		}
	}
	return out
}

// AsBool extracts a boolean.
func AsBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// AsInt extracts an integer. Floats convert only when they carry no
// fractional part.
func AsInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return int64(t), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// AsFloat extracts a number as float64.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// AsString extracts a string.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// SortedKeys returns an object's keys in lexical order. Object key
// iteration order is unspecified in Go; deterministic consumers
// (comprehensions, tests) iterate in this order.
func SortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
