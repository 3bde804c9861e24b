package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileScript(t *testing.T, src string) *Script {
	t.Helper()
	s, err := Compile(src, NewRegistry(), NewAggrRegistry())
	require.NoError(t, err)
	return s
}

func runScript(t *testing.T, s *Script, event any) (Return, any) {
	t.Helper()
	var state, meta any
	ret, err := s.Run(&EventContext{IngestNS: 42}, AggrAccumulate, &event, &state, &meta)
	require.NoError(t, err)
	return ret, event
}

func TestMatchEmitsComputedValue(t *testing.T) {
	s := compileScript(t, `
		match event of
		case %{a > 5} => event.a + 1
		default => emit
		end
	`)

	ret, _ := runScript(t, s, map[string]any{"a": int64(10)})
	assert.Equal(t, ReturnEmit, ret.Kind)
	assert.Equal(t, int64(11), ret.Value)
	assert.Nil(t, ret.Port)

	ret, _ = runScript(t, s, map[string]any{"a": int64(1)})
	assert.Equal(t, ReturnEmitEvent, ret.Kind)
	assert.Nil(t, ret.Port)
}

func TestFirstMatchWins(t *testing.T) {
	s := compileScript(t, `
		match event of
		case %{a > 0} => "first"
		case %{a > 5} => "second"
		default => "default"
		end
	`)
	for i := 0; i < 10; i++ {
		ret, _ := runScript(t, s, map[string]any{"a": int64(10)})
		assert.Equal(t, "first", ret.Value)
	}
}

func TestMatchNoClauseHit(t *testing.T) {
	s := compileScript(t, `
		match event of
		case %{a > 5} => event.a
		end
	`)
	var event any = map[string]any{"a": int64(1)}
	var state, meta any
	_, err := s.Run(nil, AggrAccumulate, &event, &state, &meta)
	require.Error(t, err)
	assert.Equal(t, KindNoClauseHit, KindOf(err))
}

func TestGuardMustBeBool(t *testing.T) {
	s := compileScript(t, `
		match event of
		case %{a > 0} when event.a => event.a
		default => drop
		end
	`)
	var event any = map[string]any{"a": int64(3)}
	var state, meta any
	_, err := s.Run(nil, AggrAccumulate, &event, &state, &meta)
	require.Error(t, err)
	assert.Equal(t, KindTypeError, KindOf(err))
}

func TestGuardFallsThrough(t *testing.T) {
	s := compileScript(t, `
		match event of
		case %{a > 0} when event.a > 100 => "big"
		case %{a > 0} => "small"
		end
	`)
	ret, _ := runScript(t, s, map[string]any{"a": int64(3)})
	assert.Equal(t, "small", ret.Value)
}

func TestDrop(t *testing.T) {
	s := compileScript(t, `drop`)
	ret, _ := runScript(t, s, map[string]any{})
	assert.Equal(t, ReturnDrop, ret.Kind)
}

func TestEmitWithPort(t *testing.T) {
	s := compileScript(t, `emit {"ok": true} => "err"`)
	ret, _ := runScript(t, s, map[string]any{})
	assert.Equal(t, ReturnEmit, ret.Kind)
	assert.Equal(t, map[string]any{"ok": true}, ret.Value)
	require.NotNil(t, ret.Port)
	assert.Equal(t, "err", *ret.Port)
}

func TestLetMutatesEvent(t *testing.T) {
	s := compileScript(t, `
		let event.b = event.a * 2;
		let event.nested.deep = "x";
		emit
	`)
	ret, event := runScript(t, s, map[string]any{"a": int64(21)})
	assert.Equal(t, ReturnEmitEvent, ret.Kind)
	obj := event.(map[string]any)
	assert.Equal(t, int64(42), obj["b"])
	assert.Equal(t, map[string]any{"deep": "x"}, obj["nested"])
}

func TestLocalsAndMeta(t *testing.T) {
	s := compileScript(t, `
		let x = event.a + 1;
		let $class = "hot";
		x * 10
	`)
	var event any = map[string]any{"a": int64(4)}
	var state, meta any
	ret, err := s.Run(nil, AggrAccumulate, &event, &state, &meta)
	require.NoError(t, err)
	assert.Equal(t, int64(50), ret.Value)
	assert.Equal(t, map[string]any{"class": "hot"}, meta)
}

func TestStatePersistsAcrossRuns(t *testing.T) {
	s := compileScript(t, `
		match state of
		case %{present count} => let state.count = state.count + 1
		default => let state.count = 1
		end;
		state.count
	`)
	var state, meta any
	for want := int64(1); want <= 3; want++ {
		var event any = map[string]any{}
		ret, err := s.Run(nil, AggrAccumulate, &event, &state, &meta)
		require.NoError(t, err)
		assert.Equal(t, want, ret.Value)
	}
}

func TestConstDeclAndUse(t *testing.T) {
	s := compileScript(t, `
		const factor = 6 * 7;
		event.a * factor
	`)
	ret, _ := runScript(t, s, map[string]any{"a": int64(2)})
	assert.Equal(t, int64(84), ret.Value)
}

func TestConstRequiresConstantExpr(t *testing.T) {
	_, err := Compile(`const c = event.a; c`, NewRegistry(), NewAggrRegistry())
	require.Error(t, err)
	assert.Equal(t, KindCompile, KindOf(err))

	_, err = Compile(`let x = 1; const c = x; c`, NewRegistry(), NewAggrRegistry())
	require.Error(t, err)
	assert.Equal(t, KindNoLocals, KindOf(err))
}

func TestFoldingErrorKindParity(t *testing.T) {
	tests := []struct {
		name   string
		folded string
		atRun  string
		kind   ErrorKind
	}{
		{
			name:   "invalid binary",
			folded: `1 + true`,
			atRun:  `event.a + true`,
			kind:   KindInvalidBinary,
		},
		{
			name:   "invalid unary",
			folded: `not 5`,
			atRun:  `not event.a`,
			kind:   KindInvalidUnary,
		},
		{
			name:   "modulo by zero",
			folded: `10 % 0`,
			atRun:  `event.a % 0`,
			kind:   KindRuntime,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The folded form fails at compile time.
			_, err := Compile(tt.folded, NewRegistry(), NewAggrRegistry())
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))

			// The unfoldable form fails at run time with the same kind.
			s := compileScript(t, tt.atRun)
			var event any = map[string]any{"a": int64(10)}
			var state, meta any
			_, err = s.Run(nil, AggrAccumulate, &event, &state, &meta)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestFoldingTransparency(t *testing.T) {
	folded := compileScript(t, `6 * 7`)
	unfolded := compileScript(t, `event.six * 7`)

	r1, _ := runScript(t, folded, map[string]any{})
	r2, _ := runScript(t, unfolded, map[string]any{"six": int64(6)})
	assert.Equal(t, r1.Value, r2.Value)

	// Constant folding reduces the whole expression to one literal.
	require.Len(t, folded.exprs, 1)
	assert.IsType(t, &Literal{}, folded.exprs[0])
}

func TestArithmeticSemantics(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`1 + 2`, int64(3)},
		{`1 + 2.5`, 3.5},
		{`"a" + "b"`, "ab"},
		{`7 / 2`, 3.5},
		{`7 % 3`, int64(1)},
		{`2 * 3.0`, 6.0},
		{`1 << 4`, int64(16)},
		{`-8 >> 1`, int64(-4)},
		{`-1 >>> 63`, int64(1)},
		{`5 band 3`, int64(1)},
		{`5 bor 3`, int64(7)},
		{`5 bxor 3`, int64(6)},
		{`true and false`, false},
		{`true or false`, true},
		{`true xor true`, false},
		{`1 == 1.0`, true},
		{`"b" > "a"`, true},
		{`not false`, true},
		{`-(3)`, int64(-3)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			s := compileScript(t, tt.src)
			ret, _ := runScript(t, s, map[string]any{})
			assert.Equal(t, tt.want, ret.Value)
		})
	}
}

func TestRecordAndListConstruction(t *testing.T) {
	s := compileScript(t, `{"a": event.x, "b": [1, event.x, 3]}`)
	ret, _ := runScript(t, s, map[string]any{"x": int64(2)})
	assert.Equal(t, map[string]any{
		"a": int64(2),
		"b": []any{int64(1), int64(2), int64(3)},
	}, ret.Value)
}

func TestCompositeLiteralsAreNotShared(t *testing.T) {
	s := compileScript(t, `
		let x = {"n": 0};
		let x.n = event.a;
		x
	`)
	r1, _ := runScript(t, s, map[string]any{"a": int64(1)})
	r2, _ := runScript(t, s, map[string]any{"a": int64(2)})
	assert.Equal(t, map[string]any{"n": int64(1)}, r1.Value)
	assert.Equal(t, map[string]any{"n": int64(2)}, r2.Value)
}

func TestPresent(t *testing.T) {
	s := compileScript(t, `present event.a.b`)
	ret, _ := runScript(t, s, map[string]any{"a": map[string]any{"b": int64(1)}})
	assert.Equal(t, true, ret.Value)
	ret, _ = runScript(t, s, map[string]any{"a": map[string]any{}})
	assert.Equal(t, false, ret.Value)
}

func TestPathIndexAndExprSegments(t *testing.T) {
	s := compileScript(t, `event.items[1] + event[event.key]`)
	ret, _ := runScript(t, s, map[string]any{
		"items":  []any{int64(10), int64(20)},
		"key":    "offset",
		"offset": int64(5),
	})
	assert.Equal(t, int64(25), ret.Value)
}

func TestMissingPathIsRuntimeError(t *testing.T) {
	s := compileScript(t, `event.nope`)
	var event any = map[string]any{}
	var state, meta any
	_, err := s.Run(nil, AggrAccumulate, &event, &state, &meta)
	require.Error(t, err)
	assert.Equal(t, KindRuntime, KindOf(err))
}

func TestPatchOperations(t *testing.T) {
	s := compileScript(t, `
		patch event of
			insert "b" => 2,
			upsert "a" => 10,
			update "c" => 30,
			erase "d",
			merge "m" => {"y": 2},
			merge => {"top": true}
		end
	`)
	ret, event := runScript(t, s, map[string]any{
		"a": int64(1),
		"c": int64(3),
		"d": "gone",
		"m": map[string]any{"x": int64(1)},
	})
	assert.Equal(t, map[string]any{
		"a":   int64(10),
		"b":   int64(2),
		"c":   int64(30),
		"m":   map[string]any{"x": int64(1), "y": int64(2)},
		"top": true,
	}, ret.Value)
	// Patch operates on a copy; the source event is untouched.
	assert.Equal(t, int64(1), event.(map[string]any)["a"])
}

func TestPatchInsertExistingFails(t *testing.T) {
	s := compileScript(t, `patch event of insert "a" => 2 end`)
	var event any = map[string]any{"a": int64(1)}
	var state, meta any
	_, err := s.Run(nil, AggrAccumulate, &event, &state, &meta)
	require.Error(t, err)
	assert.Equal(t, KindRuntime, KindOf(err))
}

func TestMergeExpr(t *testing.T) {
	s := compileScript(t, `merge event of {"b": 2, "a": null} end`)
	ret, _ := runScript(t, s, map[string]any{"a": int64(1), "c": int64(3)})
	assert.Equal(t, map[string]any{"b": int64(2), "c": int64(3)}, ret.Value)
}

func TestComprehension(t *testing.T) {
	s := compileScript(t, `
		for event.vals of
		case (i, v) when v > 10 => v
		case (i, v) => 0
		end
	`)
	ret, _ := runScript(t, s, map[string]any{
		"vals": []any{int64(5), int64(20), int64(7)},
	})
	assert.Equal(t, []any{int64(0), int64(20), int64(0)}, ret.Value)
}

func TestComprehensionOverRecordIsSorted(t *testing.T) {
	s := compileScript(t, `
		for event.obj of
		case (k, v) => k
		end
	`)
	ret, _ := runScript(t, s, map[string]any{
		"obj": map[string]any{"b": int64(1), "a": int64(2), "c": int64(3)},
	})
	assert.Equal(t, []any{"a", "b", "c"}, ret.Value)
}

func TestCustomFn(t *testing.T) {
	s := compileScript(t, `
		fn add(a, b) with
			let total = a + b;
			total
		end;
		add(event.x, 2) * add(1, 1)
	`)
	ret, _ := runScript(t, s, map[string]any{"x": int64(3)})
	assert.Equal(t, int64(10), ret.Value)
}

func TestCustomFnRecurLoop(t *testing.T) {
	s := compileScript(t, `
		fn sum_to(n, acc) with
			match n of
			case 0 => acc
			default => recur(n - 1, acc + n)
			end
		end;
		sum_to(event.n, 0)
	`)
	ret, _ := runScript(t, s, map[string]any{"n": int64(100)})
	assert.Equal(t, int64(5050), ret.Value)
}

func TestRecursionLimit(t *testing.T) {
	s, err := Compile(`
		fn spin(n) with
			recur(n + 1)
		end;
		spin(0)
	`, NewRegistry(), NewAggrRegistry(), WithMaxDepth(64))
	require.NoError(t, err)
	var event any = map[string]any{}
	var state, meta any
	_, err = s.Run(nil, AggrAccumulate, &event, &state, &meta)
	require.Error(t, err)
	assert.Equal(t, KindRecursionLimit, KindOf(err))
}

func TestEmitNotAllowedInFn(t *testing.T) {
	_, err := Compile(`
		fn bad(x) with
			emit x
		end;
		bad(1)
	`, NewRegistry(), NewAggrRegistry())
	require.Error(t, err)
	assert.Equal(t, KindCompile, KindOf(err))
}

func TestBuiltinCalls(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`math::floor(3.7)`, int64(3)},
		{`math::max(3, 7.5)`, 7.5},
		{`string::uppercase("abc")`, "ABC"},
		{`string::format("a={}, b={}", 1, "x")`, "a=1, b=x"},
		{`type::as_string([1])`, "array"},
		{`array::contains([1, 2, 3], 2)`, true},
		{`record::keys({"b": 1, "a": 2})`, []any{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			s := compileScript(t, tt.src)
			ret, _ := runScript(t, s, map[string]any{})
			assert.Equal(t, tt.want, ret.Value)
		})
	}
}

func TestNonConstBuiltinIsNotFolded(t *testing.T) {
	s := compileScript(t, `system::ingest_ns()`)
	require.Len(t, s.exprs, 1)
	assert.IsType(t, &Invoke{}, s.exprs[0])

	ret, _ := runScript(t, s, map[string]any{})
	assert.Equal(t, int64(42), ret.Value)
}

func TestUnknownFunctionFailsCompile(t *testing.T) {
	_, err := Compile(`nope::missing(1)`, NewRegistry(), NewAggrRegistry())
	require.Error(t, err)
	assert.Equal(t, KindCompile, KindOf(err))
}

func TestAggregatesAccumulateAndEmit(t *testing.T) {
	s := compileScript(t, `{"n": stats::count(), "sum": stats::sum(event.v)}`)

	var state, meta any
	for _, v := range []int64{1, 2, 3} {
		var event any = map[string]any{"v": v}
		_, err := s.Run(nil, AggrAccumulate, &event, &state, &meta)
		require.NoError(t, err)
	}

	// Emit mode reads without accumulating.
	var event any = map[string]any{"v": int64(99)}
	ret, err := s.Run(nil, AggrEmit, &event, &state, &meta)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(3), "sum": int64(6)}, ret.Value)

	s.InitAggregates()
	ret, err = s.Run(nil, AggrEmit, &event, &state, &meta)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(0), "sum": int64(0)}, ret.Value)
}

func TestWindowGroupArgsRegisters(t *testing.T) {
	s := compileScript(t, `{"w": window, "g": group, "a": args}`)
	s.SetWindow("w15s")
	s.SetGroup([]any{"host1"})
	s.SetArgs(map[string]any{"k": int64(1)})
	ret, _ := runScript(t, s, map[string]any{})
	assert.Equal(t, map[string]any{
		"w": "w15s",
		"g": []any{"host1"},
		"a": map[string]any{"k": int64(1)},
	}, ret.Value)
}

func TestExtractorPatterns(t *testing.T) {
	s := compileScript(t, `
		match event of
		case %{ip ~= re("^(?P<a>\\d+)\\.(?P<b>\\d+)")} => "re"
		case %{host ~= glob("web-*")} => "glob"
		case %{blob ~= json()} => "json"
		default => "none"
		end
	`)
	tests := []struct {
		event map[string]any
		want  string
	}{
		{map[string]any{"ip": "10.1.2.3"}, "re"},
		{map[string]any{"host": "web-07"}, "glob"},
		{map[string]any{"blob": `{"x":1}`}, "json"},
		{map[string]any{"blob": "not json{"}, "none"},
		{map[string]any{"other": int64(1)}, "none"},
	}
	for _, tt := range tests {
		ret, _ := runScript(t, s, tt.event)
		assert.Equal(t, tt.want, ret.Value)
	}
}

func TestRecordPatternPredicates(t *testing.T) {
	s := compileScript(t, `
		match event of
		case %{present a, absent b, c == 3} => "hit"
		default => "miss"
		end
	`)
	ret, _ := runScript(t, s, map[string]any{"a": int64(1), "c": int64(3)})
	assert.Equal(t, "hit", ret.Value)
	ret, _ = runScript(t, s, map[string]any{"a": int64(1), "b": int64(2), "c": int64(3)})
	assert.Equal(t, "miss", ret.Value)
}

func TestWrongTypedComparisonIsMissNotError(t *testing.T) {
	s := compileScript(t, `
		match event of
		case %{a > 5} => "num"
		default => "other"
		end
	`)
	ret, _ := runScript(t, s, map[string]any{"a": "string"})
	assert.Equal(t, "other", ret.Value)
}

func TestArrayAndTuplePatterns(t *testing.T) {
	s := compileScript(t, `
		match event.v of
		case %[1, _, 3] => "exact"
		case %(1, 2, ...) => "prefix"
		default => "none"
		end
	`)
	tests := []struct {
		v    []any
		want string
	}{
		{[]any{int64(1), int64(9), int64(3)}, "exact"},
		{[]any{int64(1), int64(2), int64(9), int64(9)}, "prefix"},
		{[]any{int64(2)}, "none"},
	}
	for _, tt := range tests {
		ret, _ := runScript(t, s, map[string]any{"v": tt.v})
		assert.Equal(t, tt.want, ret.Value)
	}
}

func TestAssignPatternBinds(t *testing.T) {
	s := compileScript(t, `
		match event of
		case rec = %{present a} => rec.a + 1
		default => 0
		end
	`)
	ret, _ := runScript(t, s, map[string]any{"a": int64(41)})
	assert.Equal(t, int64(42), ret.Value)
}

func TestExtractorBindsResult(t *testing.T) {
	s := compileScript(t, `
		match event of
		case rec = %{blob ~= json()} => rec.blob.n
		default => 0
		end
	`)
	event := map[string]any{"blob": `{"n": 41}`}
	ret, after := runScript(t, s, event)
	assert.Equal(t, int64(41), ret.Value)
	// The tested record is untouched; the binding got the copy.
	assert.Equal(t, map[string]any{"blob": `{"n": 41}`}, after)

	s = compileScript(t, `
		match event of
		case rec = %{ip ~= re("^(?P<first>\\d+)\\.")} => rec.ip.first
		default => ""
		end
	`)
	ret, _ = runScript(t, s, map[string]any{"ip": "10.1.2.3"})
	assert.Equal(t, "10", ret.Value)
}

func TestExtractorBindsInsideArrayPattern(t *testing.T) {
	s := compileScript(t, `
		match event.v of
		case l = %[1, ~ json()] => l[1].x
		default => 0
		end
	`)
	ret, _ := runScript(t, s, map[string]any{
		"v": []any{int64(1), `{"x": 7}`},
	})
	assert.Equal(t, int64(7), ret.Value)
}

func TestNestedRecordPattern(t *testing.T) {
	s := compileScript(t, `
		match event of
		case %{meta ~= %{level == "error"}} => "alert"
		default => "ok"
		end
	`)
	ret, _ := runScript(t, s, map[string]any{
		"meta": map[string]any{"level": "error"},
	})
	assert.Equal(t, "alert", ret.Value)
	ret, _ = runScript(t, s, map[string]any{
		"meta": map[string]any{"level": "info"},
	})
	assert.Equal(t, "ok", ret.Value)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty script", ``},
		{"unterminated string", `"abc`},
		{"unknown ident", `bogus + 1`},
		{"assign to const", `const c = 1; let c = 2`},
		{"recur outside fn", `recur(1)`},
		{"bad arity", `math::floor(1, 2)`},
		{"missing end", `match event of case _ => 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src, NewRegistry(), NewAggrRegistry())
			require.Error(t, err)
		})
	}
}

func TestErrorCarriesExpandedRange(t *testing.T) {
	src := "\n\n\nevent.a + true"
	s := compileScript(t, src)
	var event any = map[string]any{"a": int64(1)}
	var state, meta any
	_, err := s.Run(nil, AggrAccumulate, &event, &state, &meta)
	require.Error(t, err)
	se, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, 4, se.Inner.Start.Line)
	assert.Equal(t, 2, se.Outer.Start.Line)
	assert.Equal(t, 6, se.Outer.End.Line)
}
