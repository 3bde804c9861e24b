package value

import (
	"fmt"
)

// Segment addresses one step into a value tree: an object key or an
// array index. Paths are resolved segment lists, produced by the
// script compiler.
type Segment struct {
	Key   string
	Index int
	IsIdx bool
}

// Key returns a key segment.
func KeySegment(k string) Segment { return Segment{Key: k} }

// IdxSegment returns an index segment.
func IdxSegment(i int) Segment { return Segment{Index: i, IsIdx: true} }

func (s Segment) String() string {
	if s.IsIdx {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Key
}

// Get resolves a segment path against a value tree. The second return
// reports whether every segment resolved.
func Get(v any, path []Segment) (any, bool) {
	cur := v
	for _, seg := range path {
		if seg.IsIdx {
			arr, ok := cur.([]any)
			if !ok || seg.Index < 0 || seg.Index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.Index]
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg.Key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes val at a segment path, creating intermediate objects for
// missing key segments. It returns the updated root: when the path is
// empty the new value replaces the root entirely. Index segments never
// extend arrays; writing past the end is an error.
func Set(root any, path []Segment, val any) (any, error) {
	if len(path) == 0 {
		return val, nil
	}
	seg, rest := path[0], path[1:]
	if seg.IsIdx {
		arr, ok := root.([]any)
		if !ok {
			return nil, fmt.Errorf("cannot index into %s", TypeName(root))
		}
		if seg.Index < 0 || seg.Index >= len(arr) {
			return nil, fmt.Errorf("index %d out of bounds (len %d)", seg.Index, len(arr))
		}
		updated, err := Set(arr[seg.Index], rest, val)
		if err != nil {
			return nil, err
		}
		arr[seg.Index] = updated
		return arr, nil
	}
	obj, ok := root.(map[string]any)
	if !ok {
		if root == nil {
			obj = map[string]any{}
		} else {
			return nil, fmt.Errorf("cannot descend into %s with key %q", TypeName(root), seg.Key)
		}
	}
	child := obj[seg.Key]
	updated, err := Set(child, rest, val)
	if err != nil {
		return nil, err
	}
	obj[seg.Key] = updated
	return obj, nil
}

// Delete removes the value at a segment path. Deleting a missing path
// is a no-op. Array elements cannot be deleted, only object fields.
func Delete(root any, path []Segment) error {
	if len(path) == 0 {
		return fmt.Errorf("cannot delete the root value")
	}
	parent, ok := Get(root, path[:len(path)-1])
	if !ok {
		return nil
	}
	last := path[len(path)-1]
	if last.IsIdx {
		return fmt.Errorf("cannot delete array element %d", last.Index)
	}
	if obj, ok := parent.(map[string]any); ok {
		delete(obj, last.Key)
	}
	return nil
}
