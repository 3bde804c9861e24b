package value

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeName(t *testing.T) {
	tests := []struct {
		name     string
		v        any
		expected string
	}{
		{"null", nil, TypeNull},
		{"bool", true, TypeBool},
		{"int", int64(3), TypeInt},
		{"float", 3.5, TypeFloat},
		{"string", "x", TypeString},
		{"array", []any{}, TypeArray},
		{"object", map[string]any{}, TypeObject},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, TypeName(test.v))
		})
	}
}

func TestClone_Independent(t *testing.T) {
	orig := map[string]any{
		"a": []any{int64(1), map[string]any{"b": "c"}},
	}
	cl := Clone(orig).(map[string]any)
	require.Empty(t, cmp.Diff(orig, cl))

	cl["a"].([]any)[1].(map[string]any)["b"] = "changed"
	assert.Equal(t, "c", orig["a"].([]any)[1].(map[string]any)["b"])
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     any
		expected bool
	}{
		{"nils", nil, nil, true},
		{"int float same number", int64(2), 2.0, true},
		{"int float different", int64(2), 2.5, false},
		{"strings", "a", "a", true},
		{"string vs bool", "true", true, false},
		{"arrays", []any{int64(1), "x"}, []any{int64(1), "x"}, true},
		{"arrays length", []any{int64(1)}, []any{int64(1), int64(2)}, false},
		{
			"objects",
			map[string]any{"a": int64(1), "b": nil},
			map[string]any{"b": nil, "a": 1.0},
			true,
		},
		{
			"objects extra key",
			map[string]any{"a": int64(1)},
			map[string]any{"a": int64(1), "b": int64(2)},
			false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Equal(test.a, test.b))
		})
	}
}

func TestMerge(t *testing.T) {
	target := map[string]any{
		"keep":    "left",
		"replace": int64(1),
		"nested":  map[string]any{"a": int64(1), "gone": true},
	}
	spec := map[string]any{
		"replace": "right",
		"nested":  map[string]any{"b": int64(2), "gone": nil},
		"new":     []any{int64(9)},
	}

	got := Merge(target, spec).(map[string]any)

	want := map[string]any{
		"keep":    "left",
		"replace": "right",
		"nested":  map[string]any{"a": int64(1), "b": int64(2)},
		"new":     []any{int64(9)},
	}
	assert.Empty(t, cmp.Diff(want, got))

	// target untouched
	assert.Equal(t, int64(1), target["replace"])
	assert.Equal(t, true, target["nested"].(map[string]any)["gone"])
}

func TestMerge_NonObjectReplaces(t *testing.T) {
	assert.Equal(t, int64(3), Merge(map[string]any{"a": int64(1)}, int64(3)))
	assert.Equal(t, "x", Merge(nil, "x"))
}

func TestGetSet(t *testing.T) {
	root := map[string]any{
		"a": map[string]any{"b": []any{int64(10), int64(20)}},
	}

	got, ok := Get(root, []Segment{KeySegment("a"), KeySegment("b"), IdxSegment(1)})
	require.True(t, ok)
	assert.Equal(t, int64(20), got)

	_, ok = Get(root, []Segment{KeySegment("a"), KeySegment("missing")})
	assert.False(t, ok)

	_, ok = Get(root, []Segment{KeySegment("a"), KeySegment("b"), IdxSegment(5)})
	assert.False(t, ok)

	updated, err := Set(root, []Segment{KeySegment("a"), KeySegment("c")}, "new")
	require.NoError(t, err)
	got, ok = Get(updated, []Segment{KeySegment("a"), KeySegment("c")})
	require.True(t, ok)
	assert.Equal(t, "new", got)

	// setting into a nil root creates objects along the way
	created, err := Set(nil, []Segment{KeySegment("x"), KeySegment("y")}, int64(1))
	require.NoError(t, err)
	got, ok = Get(created, []Segment{KeySegment("x"), KeySegment("y")})
	require.True(t, ok)
	assert.Equal(t, int64(1), got)

	// replacing the root
	replaced, err := Set(root, nil, "flat")
	require.NoError(t, err)
	assert.Equal(t, "flat", replaced)
}

func TestSet_Errors(t *testing.T) {
	_, err := Set("scalar", []Segment{KeySegment("a")}, int64(1))
	assert.Error(t, err)

	_, err = Set([]any{int64(1)}, []Segment{IdxSegment(3)}, int64(1))
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	root := map[string]any{"a": map[string]any{"b": int64(1), "c": int64(2)}}

	require.NoError(t, Delete(root, []Segment{KeySegment("a"), KeySegment("b")}))
	_, ok := Get(root, []Segment{KeySegment("a"), KeySegment("b")})
	assert.False(t, ok)

	// deleting a missing path is a no-op
	require.NoError(t, Delete(root, []Segment{KeySegment("zz"), KeySegment("q")}))

	assert.Error(t, Delete(root, nil))
	assert.Error(t, Delete(map[string]any{"a": []any{int64(1)}},
		[]Segment{KeySegment("a"), IdxSegment(0)}))
}

func TestAsHelpers(t *testing.T) {
	i, ok := AsInt(int64(4))
	require.True(t, ok)
	assert.Equal(t, int64(4), i)

	i, ok = AsInt(4.0)
	require.True(t, ok)
	assert.Equal(t, int64(4), i)

	_, ok = AsInt(4.5)
	assert.False(t, ok)

	f, ok := AsFloat(int64(2))
	require.True(t, ok)
	assert.Equal(t, 2.0, f)

	_, ok = AsFloat("2")
	assert.False(t, ok)

	s, ok := AsString("hi")
	require.True(t, ok)
	assert.Equal(t, "hi", s)

	b, ok := AsBool(true)
	require.True(t, ok)
	assert.True(t, b)
}

func TestSortedKeys(t *testing.T) {
	obj := map[string]any{"b": 1, "a": 2, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(obj))
}
