package script

import (
	"github.com/c360/eventflow/value"
)

// Reserved const register slots. The window, group and args values are
// injected per run by the owning operator rather than declared in the
// script source.
const (
	constSlotWindow = 0
	constSlotGroup  = 1
	constSlotArgs   = 2
)

type fnScope struct {
	name string
	argc int
}

// parser builds the executable AST, resolving names to register slots
// and constant-folding as it goes. Folding reproduces the error kind
// runtime evaluation of the same expression would raise.
type parser struct {
	toks    []token
	pos     int
	metas   *NodeMetas
	reg     *Registry
	aggrReg *AggrRegistry

	locals    map[string]int
	nextLocal int
	consts    map[string]int
	constVals []any
	fns       map[string]*CustomFn
	aggrs     []aggrSlot

	inFn *fnScope
}

type aggrSlot struct {
	module  string
	name    string
	factory func() AggrFn
}

func newParser(toks []token, reg *Registry, aggrReg *AggrRegistry) *parser {
	return &parser{
		toks:    toks,
		metas:   &NodeMetas{},
		reg:     reg,
		aggrReg: aggrReg,
		locals:  map[string]int{},
		consts: map[string]int{
			"window": constSlotWindow,
			"group":  constSlotGroup,
			"args":   constSlotArgs,
		},
		constVals: []any{nil, nil, nil},
		fns:       map[string]*CustomFn{},
	}
}

func (p *parser) cur() token { return p.toks[p.pos] }
func (p *parser) peek() token {
	if p.pos+1 >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+1]
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) accept(kind tokenKind) bool {
	if p.cur().kind == kind {
		p.advance()
		return true
	}
	return false
}

func (p *parser) acceptKw(kw string) bool {
	if p.cur().is(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.cur()
	if t.kind != kind {
		return t, newError(KindCompile, t.rng(), "expected %s, got %q", what, t.text)
	}
	return p.advance(), nil
}

func (p *parser) expectKw(kw string) error {
	t := p.cur()
	if !t.is(kw) {
		return newError(KindCompile, t.rng(), "expected %q, got %q", kw, t.text)
	}
	p.advance()
	return nil
}

func (p *parser) expectIdent(what string) (token, error) {
	t := p.cur()
	if t.kind != tokIdent || keywords[t.text] {
		return t, newError(KindCompile, t.rng(), "expected %s, got %q", what, t.text)
	}
	return p.advance(), nil
}

func (p *parser) exprRng(e Expr) Range { return p.metas.Rng(e.mid()) }

func (p *parser) spanMid(start, end Range) int {
	return p.metas.add(start.Start, end.End)
}

// atBlockEnd reports whether the current token terminates a statement
// block.
func (p *parser) atBlockEnd() bool {
	t := p.cur()
	return t.kind == tokEOF || t.is("end") || t.is("case") || t.is("default")
}

// parseScript parses the top-level statement sequence plus const and
// fn declarations.
func (p *parser) parseScript() ([]Expr, error) {
	var exprs []Expr
	for {
		for p.accept(tokSemi) {
		}
		if p.cur().kind == tokEOF {
			break
		}
		switch {
		case p.cur().is("const"):
			if err := p.parseConstDecl(); err != nil {
				return nil, err
			}
		case p.cur().is("fn"):
			if err := p.parseFnDecl(); err != nil {
				return nil, err
			}
		default:
			e, err := p.parseStmt()
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, e)
		}
	}
	if len(exprs) == 0 {
		loc := Location{Line: 1, Column: 1}
		return nil, newError(KindCompile, Range{loc, loc}, "empty script")
	}
	return exprs, nil
}

func (p *parser) parseConstDecl() error {
	p.advance() // const
	name, err := p.expectIdent("constant name")
	if err != nil {
		return err
	}
	if _, exists := p.consts[name.text]; exists {
		return newError(KindCompile, name.rng(), "constant %q already declared", name.text)
	}
	if _, err := p.expect(tokAssign, "'='"); err != nil {
		return err
	}
	e, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !isLit(e) {
		if path, ok := e.(*Path); ok && path.Root == RootLocal {
			return newError(KindNoLocals, p.exprRng(e),
				"constant %q cannot reference a local", name.text)
		}
		return newError(KindNoConsts, p.exprRng(e),
			"constant %q requires a compile-time constant expression", name.text)
	}
	p.consts[name.text] = len(p.constVals)
	p.constVals = append(p.constVals, litValue(e))
	return nil
}

func (p *parser) parseFnDecl() error {
	p.advance() // fn
	name, err := p.expectIdent("function name")
	if err != nil {
		return err
	}
	if _, exists := p.fns[name.text]; exists {
		return newError(KindCompile, name.rng(), "function %q already declared", name.text)
	}
	if p.inFn != nil {
		return newError(KindCompile, name.rng(), "nested function declarations are not allowed")
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return err
	}
	var params []string
	for p.cur().kind != tokRParen {
		param, err := p.expectIdent("parameter name")
		if err != nil {
			return err
		}
		params = append(params, param.text)
		if !p.accept(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return err
	}
	if err := p.expectKw("with"); err != nil {
		return err
	}

	fn := &CustomFn{Name: name.text, Args: params}
	p.fns[name.text] = fn

	savedLocals, savedNext := p.locals, p.nextLocal
	p.locals = map[string]int{}
	p.nextLocal = 0
	for _, param := range params {
		p.locals[param] = p.nextLocal
		p.nextLocal++
	}
	p.inFn = &fnScope{name: name.text, argc: len(params)}

	body, err := p.parseBlock()
	p.inFn = nil
	fn.Locals = p.nextLocal
	p.locals, p.nextLocal = savedLocals, savedNext
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return newError(KindCompile, name.rng(), "function %q has an empty body", name.text)
	}
	fn.Body = body
	return p.expectKw("end")
}

// parseBlock parses semicolon-separated statements until a block
// terminator.
func (p *parser) parseBlock() ([]Expr, error) {
	var body []Expr
	for {
		for p.accept(tokSemi) {
		}
		if p.atBlockEnd() {
			return body, nil
		}
		e, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		body = append(body, e)
	}
}

func (p *parser) parseStmt() (Expr, error) {
	switch {
	case p.cur().is("let"):
		return p.parseLet()
	case p.cur().is("drop"):
		t := p.advance()
		if p.inFn != nil {
			return nil, newError(KindCompile, t.rng(), "drop is not allowed inside a function")
		}
		return &Drop{Mid: p.metas.add(t.start, t.end)}, nil
	case p.cur().is("emit"):
		return p.parseEmit()
	default:
		return p.parseExpr()
	}
}

func (p *parser) parseEmit() (Expr, error) {
	t := p.advance() // emit
	if p.inFn != nil {
		return nil, newError(KindCompile, t.rng(), "emit is not allowed inside a function")
	}
	node := &Emit{Mid: p.metas.add(t.start, t.end)}
	if !p.atBlockEnd() && p.cur().kind != tokSemi && p.cur().kind != tokArrow {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		node.Expr = e
	}
	if p.accept(tokArrow) {
		port, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		node.Port = port
	}
	return node, nil
}

func (p *parser) parseLet() (Expr, error) {
	letTok := p.advance() // let
	path, err := p.parseAssignTarget()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokAssign, "'='"); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Assign{
		Mid:  p.spanMid(Range{letTok.start, letTok.end}, p.exprRng(e)),
		Path: path,
		Expr: e,
	}, nil
}

// parseAssignTarget parses the left side of a let: event, state, $meta
// or a local, each with optional trailing segments. An unknown bare
// identifier declares a new local.
func (p *parser) parseAssignTarget() (*Path, error) {
	t := p.cur()
	switch {
	case t.is("event"):
		p.advance()
		return p.parsePathTail(RootEvent, 0, t, nil)
	case t.is("state"):
		p.advance()
		return p.parsePathTail(RootState, 0, t, nil)
	case t.kind == tokDollar:
		p.advance()
		name, err := p.expectIdent("metadata key")
		if err != nil {
			return nil, err
		}
		first := []PathSegment{{Kind: SegKey, Key: name.text, Mid: p.metas.add(name.start, name.end)}}
		return p.parsePathTail(RootMeta, 0, t, first)
	case t.kind == tokIdent && !keywords[t.text]:
		p.advance()
		if idx, ok := p.locals[t.text]; ok {
			return p.parsePathTail(RootLocal, idx, t, nil)
		}
		if _, ok := p.consts[t.text]; ok {
			return nil, newError(KindCompile, t.rng(), "cannot assign to constant %q", t.text)
		}
		if p.cur().kind == tokDot || p.cur().kind == tokLBracket {
			return nil, newError(KindCompile, t.rng(), "local %q used before declaration", t.text)
		}
		idx := p.nextLocal
		p.nextLocal++
		p.locals[t.text] = idx
		return &Path{
			Mid:  p.metas.addNamed(t.start, t.end, t.text),
			Root: RootLocal,
			Idx:  idx,
		}, nil
	}
	return nil, newError(KindCompile, t.rng(), "invalid assignment target %q", t.text)
}

// Expression parsing, precedence climbing loosest to tightest.

type opMatch struct {
	kind    tokenKind // tokEOF when the operator is a keyword
	kw      string
	binKind BinOpKind
}

var binLevels = [][]opMatch{
	{{kw: "or", binKind: OpOr}},
	{{kw: "xor", binKind: OpXor}},
	{{kw: "and", binKind: OpAnd}},
	{{kw: "bor", binKind: OpBitOr}},
	{{kw: "bxor", binKind: OpBitXor}},
	{{kw: "band", binKind: OpBitAnd}},
	{{kind: tokEq, binKind: OpEq}, {kind: tokNotEq, binKind: OpNotEq}},
	{
		{kind: tokGte, binKind: OpGte}, {kind: tokGt, binKind: OpGt},
		{kind: tokLte, binKind: OpLte}, {kind: tokLt, binKind: OpLt},
	},
	{
		{kind: tokRShiftU, binKind: OpRShiftU},
		{kind: tokRShiftS, binKind: OpRShiftS},
		{kind: tokLShift, binKind: OpLShift},
	},
	{{kind: tokAdd, binKind: OpAdd}, {kind: tokSub, binKind: OpSub}},
	{
		{kind: tokMul, binKind: OpMul}, {kind: tokDiv, binKind: OpDiv},
		{kind: tokMod, binKind: OpMod},
	},
}

func (p *parser) parseExpr() (Expr, error) {
	return p.parseBinary(0)
}

func (p *parser) matchBinOp(level int) (BinOpKind, bool) {
	t := p.cur()
	for _, m := range binLevels[level] {
		if m.kw != "" {
			if t.is(m.kw) {
				return m.binKind, true
			}
			continue
		}
		if t.kind == m.kind {
			return m.binKind, true
		}
	}
	return 0, false
}

func (p *parser) parseBinary(level int) (Expr, error) {
	if level >= len(binLevels) {
		return p.parseUnary()
	}
	lhs, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		kind, ok := p.matchBinOp(level)
		if !ok {
			return lhs, nil
		}
		p.advance()
		rhs, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		lhs, err = p.foldBinary(kind, lhs, rhs)
		if err != nil {
			return nil, err
		}
	}
}

// foldBinary builds a binary node, reducing it to a literal when both
// operands are known. A fold failure carries the kind evaluation would
// raise.
func (p *parser) foldBinary(kind BinOpKind, lhs, rhs Expr) (Expr, error) {
	mid := p.spanMid(p.exprRng(lhs), p.exprRng(rhs))
	if isLit(lhs) && isLit(rhs) {
		v, err := execBinary(kind, litValue(lhs), litValue(rhs))
		if err != nil {
			return nil, attachRange(err, p.metas.Rng(mid))
		}
		return &Literal{Mid: mid, Value: v}, nil
	}
	return &Binary{Mid: mid, Kind: kind, Lhs: lhs, Rhs: rhs}, nil
}

func (p *parser) parseUnary() (Expr, error) {
	t := p.cur()
	switch {
	case t.is("not"):
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.foldUnary(OpNot, inner, t)
	case t.kind == tokSub:
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.foldUnary(OpMinus, inner, t)
	case t.kind == tokAdd:
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.foldUnary(OpPlus, inner, t)
	case t.is("present"):
		p.advance()
		path, err := p.parsePathPrimary()
		if err != nil {
			return nil, err
		}
		return &Present{
			Mid:  p.spanMid(t.rng(), p.exprRng(path)),
			Path: path,
		}, nil
	}
	return p.parsePrimary()
}

func (p *parser) foldUnary(kind UnaryOpKind, inner Expr, opTok token) (Expr, error) {
	mid := p.spanMid(opTok.rng(), p.exprRng(inner))
	if isLit(inner) {
		v, err := execUnary(kind, litValue(inner))
		if err != nil {
			return nil, attachRange(err, p.metas.Rng(mid))
		}
		return &Literal{Mid: mid, Value: v}, nil
	}
	return &Unary{Mid: mid, Kind: kind, Expr: inner}, nil
}

// parsePathPrimary parses a path expression rooted at event, state, $
// or a named local/const.
func (p *parser) parsePathPrimary() (*Path, error) {
	t := p.cur()
	switch {
	case t.is("event"):
		p.advance()
		return p.parsePathTail(RootEvent, 0, t, nil)
	case t.is("state"):
		p.advance()
		return p.parsePathTail(RootState, 0, t, nil)
	case t.kind == tokDollar:
		p.advance()
		name, err := p.expectIdent("metadata key")
		if err != nil {
			return nil, err
		}
		first := []PathSegment{{Kind: SegKey, Key: name.text, Mid: p.metas.add(name.start, name.end)}}
		return p.parsePathTail(RootMeta, 0, t, first)
	case t.kind == tokIdent && !keywords[t.text]:
		p.advance()
		if idx, ok := p.locals[t.text]; ok {
			return p.parsePathTail(RootLocal, idx, t, nil)
		}
		if idx, ok := p.consts[t.text]; ok {
			return p.parsePathTail(RootConst, idx, t, nil)
		}
		return nil, newError(KindCompile, t.rng(), "unknown identifier %q", t.text)
	}
	return nil, newError(KindCompile, t.rng(), "expected a path, got %q", t.text)
}

// parsePathTail parses `.key` and `[idx]` segments after a path root.
func (p *parser) parsePathTail(root PathRoot, idx int, rootTok token, segs []PathSegment) (*Path, error) {
	end := rootTok.end
	for {
		switch p.cur().kind {
		case tokDot:
			p.advance()
			key, err := p.expectIdent("path key")
			if err != nil {
				return nil, err
			}
			segs = append(segs, PathSegment{
				Kind: SegKey, Key: key.text,
				Mid: p.metas.add(key.start, key.end),
			})
			end = key.end
		case tokLBracket:
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			closing, err := p.expect(tokRBracket, "']'")
			if err != nil {
				return nil, err
			}
			seg := PathSegment{Kind: SegExpr, Expr: e, Mid: e.mid()}
			if isLit(e) {
				switch k := litValue(e).(type) {
				case string:
					seg = PathSegment{Kind: SegKey, Key: k, Mid: e.mid()}
				case int64:
					seg = PathSegment{Kind: SegIdx, Idx: int(k), Mid: e.mid()}
				}
			}
			segs = append(segs, seg)
			end = closing.end
		default:
			return &Path{
				Mid:      p.metas.addNamed(rootTok.start, end, rootTok.text),
				Root:     root,
				Idx:      idx,
				Segments: segs,
			}, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch {
	case t.kind == tokInt:
		p.advance()
		return &Literal{Mid: p.metas.add(t.start, t.end), Value: t.ival}, nil
	case t.kind == tokFloat:
		p.advance()
		return &Literal{Mid: p.metas.add(t.start, t.end), Value: t.fval}, nil
	case t.kind == tokString:
		p.advance()
		return &Literal{Mid: p.metas.add(t.start, t.end), Value: t.text}, nil
	case t.is("true"):
		p.advance()
		return &Literal{Mid: p.metas.add(t.start, t.end), Value: true}, nil
	case t.is("false"):
		p.advance()
		return &Literal{Mid: p.metas.add(t.start, t.end), Value: false}, nil
	case t.is("null"):
		p.advance()
		return &Literal{Mid: p.metas.add(t.start, t.end), Value: nil}, nil
	case t.is("match"):
		return p.parseMatch()
	case t.is("patch"):
		return p.parsePatch()
	case t.is("merge"):
		return p.parseMerge()
	case t.is("for"):
		return p.parseFor()
	case t.is("recur"):
		return p.parseRecur()
	case t.is("event"), t.is("state"), t.kind == tokDollar:
		return p.parsePathPrimary()
	case t.kind == tokLBrace:
		return p.parseRecordLit()
	case t.kind == tokLBracket:
		return p.parseListLit()
	case t.kind == tokLParen:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case t.kind == tokIdent && !keywords[t.text]:
		if p.peek().kind == tokColonCol {
			return p.parseModuleCall()
		}
		if p.peek().kind == tokLParen {
			return p.parseCustomCall()
		}
		return p.parsePathPrimary()
	}
	return nil, newError(KindCompile, t.rng(), "unexpected token %q", t.text)
}

func (p *parser) parseArgs() ([]Expr, token, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, token{}, err
	}
	var args []Expr
	for p.cur().kind != tokRParen {
		a, err := p.parseExpr()
		if err != nil {
			return nil, token{}, err
		}
		args = append(args, a)
		if !p.accept(tokComma) {
			break
		}
	}
	closing, err := p.expect(tokRParen, "')'")
	if err != nil {
		return nil, token{}, err
	}
	return args, closing, nil
}

func (p *parser) parseModuleCall() (Expr, error) {
	module := p.advance()
	p.advance() // ::
	fun, err := p.expectIdent("function name")
	if err != nil {
		return nil, err
	}
	args, closing, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	mid := p.metas.addNamed(module.start, closing.end, module.text+"::"+fun.text)

	if fn, ok := p.reg.Resolve(module.text, fun.text); ok {
		if fn.Argc >= 0 && len(args) != fn.Argc {
			return nil, newError(KindCompile, p.metas.Rng(mid),
				"%s::%s expects %d arguments, got %d", module.text, fun.text, fn.Argc, len(args))
		}
		return p.foldInvoke(&Invoke{
			Mid: mid, Module: module.text, Fun: fun.text, Fn: fn, Args: args,
		})
	}
	if factory, ok := p.aggrReg.Resolve(module.text, fun.text); ok {
		id := len(p.aggrs)
		p.aggrs = append(p.aggrs, aggrSlot{module: module.text, name: fun.text, factory: factory})
		return &InvokeAggr{
			Mid: mid, Module: module.text, Fun: fun.text, AggrID: id, Args: args,
		}, nil
	}
	return nil, newError(KindCompile, p.metas.Rng(mid),
		"unknown function %s::%s", module.text, fun.text)
}

// foldInvoke reduces a call to a const builtin with literal arguments.
func (p *parser) foldInvoke(inv *Invoke) (Expr, error) {
	if inv.Fn == nil || !inv.Fn.IsConst {
		return inv, nil
	}
	args := make([]any, len(inv.Args))
	for i, a := range inv.Args {
		if !isLit(a) {
			return inv, nil
		}
		args[i] = litValue(a)
	}
	v, err := inv.Fn.F(nil, args)
	if err != nil {
		return nil, attachRange(err, p.metas.Rng(inv.Mid))
	}
	return &Literal{Mid: inv.Mid, Value: v}, nil
}

func (p *parser) parseCustomCall() (Expr, error) {
	name := p.advance()
	fn, ok := p.fns[name.text]
	if !ok {
		return nil, newError(KindCompile, name.rng(), "unknown function %q", name.text)
	}
	args, closing, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	mid := p.metas.addNamed(name.start, closing.end, name.text)
	if len(args) != len(fn.Args) {
		return nil, newError(KindCompile, p.metas.Rng(mid),
			"%s expects %d arguments, got %d", name.text, len(fn.Args), len(args))
	}
	return &Invoke{Mid: mid, Fun: name.text, Custom: fn, Args: args}, nil
}

func (p *parser) parseRecur() (Expr, error) {
	t := p.advance() // recur
	if p.inFn == nil {
		return nil, newError(KindCompile, t.rng(), "recur is only allowed inside a function")
	}
	args, closing, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	mid := p.metas.add(t.start, closing.end)
	if len(args) != p.inFn.argc {
		return nil, newError(KindCompile, p.metas.Rng(mid),
			"recur expects %d arguments, got %d", p.inFn.argc, len(args))
	}
	return &Recur{Mid: mid, Argc: len(args), Args: args}, nil
}

func (p *parser) parseRecordLit() (Expr, error) {
	open := p.advance() // {
	var fields []Field
	allLit := true
	for p.cur().kind != tokRBrace {
		var key Expr
		kt := p.cur()
		switch {
		case kt.kind == tokString:
			p.advance()
			key = &Literal{Mid: p.metas.add(kt.start, kt.end), Value: kt.text}
		case kt.kind == tokIdent && !keywords[kt.text]:
			p.advance()
			key = &Literal{Mid: p.metas.add(kt.start, kt.end), Value: kt.text}
		default:
			return nil, newError(KindCompile, kt.rng(), "expected a field name, got %q", kt.text)
		}
		if _, err := p.expect(tokColon, "':'"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if !isLit(val) {
			allLit = false
		}
		fields = append(fields, Field{
			Mid:   p.spanMid(kt.rng(), p.exprRng(val)),
			Name:  key,
			Value: val,
		})
		if !p.accept(tokComma) {
			break
		}
	}
	closing, err := p.expect(tokRBrace, "'}'")
	if err != nil {
		return nil, err
	}
	mid := p.metas.add(open.start, closing.end)
	if allLit {
		out := make(map[string]any, len(fields))
		for i := range fields {
			out[litValue(fields[i].Name).(string)] = litValue(fields[i].Value)
		}
		return &Literal{Mid: mid, Value: out}, nil
	}
	return &Record{Mid: mid, Fields: fields}, nil
}

func (p *parser) parseListLit() (Expr, error) {
	open := p.advance() // [
	var exprs []Expr
	allLit := true
	for p.cur().kind != tokRBracket {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if !isLit(e) {
			allLit = false
		}
		exprs = append(exprs, e)
		if !p.accept(tokComma) {
			break
		}
	}
	closing, err := p.expect(tokRBracket, "']'")
	if err != nil {
		return nil, err
	}
	mid := p.metas.add(open.start, closing.end)
	if allLit {
		out := make([]any, len(exprs))
		for i, e := range exprs {
			out[i] = litValue(e)
		}
		return &Literal{Mid: mid, Value: out}, nil
	}
	return &List{Mid: mid, Exprs: exprs}, nil
}

func (p *parser) parseMatch() (Expr, error) {
	matchTok := p.advance() // match
	target, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("of"); err != nil {
		return nil, err
	}
	var clauses []Clause
	for {
		t := p.cur()
		switch {
		case t.is("case"):
			p.advance()
			saved := p.snapshotLocals()
			pat, err := p.parsePattern()
			if err != nil {
				return nil, err
			}
			var guard Expr
			if p.acceptKw("when") {
				guard, err = p.parseExpr()
				if err != nil {
					return nil, err
				}
			}
			if _, err := p.expect(tokArrow, "'=>'"); err != nil {
				return nil, err
			}
			body, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			p.restoreLocals(saved)
			if len(body) == 0 {
				return nil, newError(KindCompile, t.rng(), "empty case body")
			}
			clauses = append(clauses, Clause{
				Mid:     p.metas.add(t.start, t.end),
				Pattern: pat,
				Guard:   guard,
				Body:    body,
			})
		case t.is("default"):
			p.advance()
			if _, err := p.expect(tokArrow, "'=>'"); err != nil {
				return nil, err
			}
			body, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			if len(body) == 0 {
				return nil, newError(KindCompile, t.rng(), "empty default body")
			}
			clauses = append(clauses, Clause{
				Mid:     p.metas.add(t.start, t.end),
				Pattern: &DefaultPattern{},
				Body:    body,
			})
		case t.is("end"):
			closing := p.advance()
			if len(clauses) == 0 {
				return nil, newError(KindCompile, closing.rng(), "match requires at least one clause")
			}
			return &Match{
				Mid:     p.metas.add(matchTok.start, closing.end),
				Target:  target,
				Clauses: clauses,
			}, nil
		default:
			return nil, newError(KindCompile, t.rng(),
				"expected 'case', 'default' or 'end', got %q", t.text)
		}
	}
}

// snapshotLocals supports pattern bindings shadowing outer names for
// the duration of one clause.
type localSnapshot struct {
	names map[string]int
	next  int
}

func (p *parser) snapshotLocals() localSnapshot {
	names := make(map[string]int, len(p.locals))
	for k, v := range p.locals {
		names[k] = v
	}
	return localSnapshot{names: names, next: p.nextLocal}
}

// restoreLocals drops clause-scoped names but keeps the high-water
// slot count so the register file is sized for every clause.
func (p *parser) restoreLocals(s localSnapshot) {
	p.locals = s.names
}

func (p *parser) bindLocal(name string) int {
	idx := p.nextLocal
	p.nextLocal++
	p.locals[name] = idx
	return idx
}

func (p *parser) parsePattern() (Pattern, error) {
	t := p.cur()
	switch {
	case t.kind == tokRecPat:
		return p.parseRecordPattern()
	case t.kind == tokArrPat:
		return p.parseArrayPattern()
	case t.kind == tokTupPat:
		return p.parseTuplePattern()
	case t.kind == tokUnderscor:
		p.advance()
		return &DoNotCarePattern{}, nil
	case t.kind == tokIdent && !keywords[t.text] && p.peek().kind == tokAssign:
		p.advance()
		p.advance() // =
		inner, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		return &AssignPattern{
			ID:      t.text,
			Idx:     p.bindLocal(t.text),
			Pattern: inner,
		}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ExprPattern{Expr: e}, nil
}

// parseTestExpr parses an extractor test: `re("…")`, `glob("…")` or
// `json()`.
func (p *parser) parseTestExpr() (*TestExpr, error) {
	id, err := p.expectIdent("extractor name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	pattern := ""
	if p.cur().kind == tokString {
		pattern = p.advance().text
	}
	closing, err := p.expect(tokRParen, "')'")
	if err != nil {
		return nil, err
	}
	ext, err := newExtractor(id.text, pattern)
	if err != nil {
		return nil, newError(KindCompile, Range{id.start, closing.end}, "%s", err.Error())
	}
	return &TestExpr{
		Mid:       p.metas.add(id.start, closing.end),
		ID:        id.text,
		Pattern:   pattern,
		Extractor: ext,
	}, nil
}

func (p *parser) parseRecordPattern() (*RecordPattern, error) {
	open := p.advance() // %{
	var fields []FieldPattern
	for p.cur().kind != tokRBrace {
		f, err := p.parseFieldPattern()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		if !p.accept(tokComma) {
			break
		}
	}
	closing, err := p.expect(tokRBrace, "'}'")
	if err != nil {
		return nil, err
	}
	return &RecordPattern{
		Mid:    p.metas.add(open.start, closing.end),
		Fields: fields,
	}, nil
}

func (p *parser) parseFieldPattern() (FieldPattern, error) {
	t := p.cur()
	if t.is("present") {
		p.advance()
		name, err := p.fieldName()
		if err != nil {
			return FieldPattern{}, err
		}
		return FieldPattern{Kind: PredPresent, Lhs: name.text,
			Mid: p.metas.add(t.start, name.end)}, nil
	}
	if t.is("absent") {
		p.advance()
		name, err := p.fieldName()
		if err != nil {
			return FieldPattern{}, err
		}
		return FieldPattern{Kind: PredAbsent, Lhs: name.text,
			Mid: p.metas.add(t.start, name.end)}, nil
	}
	name, err := p.fieldName()
	if err != nil {
		return FieldPattern{}, err
	}
	mid := p.metas.add(name.start, name.end)

	// `~=` introduces an extractor test or a sub-pattern.
	if p.cur().kind == tokTilde && p.peek().kind == tokAssign {
		p.advance()
		p.advance()
		switch p.cur().kind {
		case tokRecPat:
			sub, err := p.parseRecordPattern()
			if err != nil {
				return FieldPattern{}, err
			}
			return FieldPattern{Kind: PredRecord, Lhs: name.text, Record: sub, Mid: mid}, nil
		case tokArrPat:
			sub, err := p.parseArrayPattern()
			if err != nil {
				return FieldPattern{}, err
			}
			return FieldPattern{Kind: PredArray, Lhs: name.text, Array: sub, Mid: mid}, nil
		default:
			test, err := p.parseTestExpr()
			if err != nil {
				return FieldPattern{}, err
			}
			return FieldPattern{Kind: PredTilde, Lhs: name.text, Test: test, Mid: mid}, nil
		}
	}

	if binKind, ok := p.matchFieldBinOp(); ok {
		p.advance()
		rhs, err := p.parseExpr()
		if err != nil {
			return FieldPattern{}, err
		}
		return FieldPattern{Kind: PredBin, Lhs: name.text, BinKind: binKind, Rhs: rhs, Mid: mid}, nil
	}

	// Bare field name requires presence.
	return FieldPattern{Kind: PredPresent, Lhs: name.text, Mid: mid}, nil
}

func (p *parser) fieldName() (token, error) {
	t := p.cur()
	if t.kind == tokString {
		return p.advance(), nil
	}
	if t.kind == tokIdent && !keywords[t.text] {
		return p.advance(), nil
	}
	return t, newError(KindCompile, t.rng(), "expected a field name, got %q", t.text)
}

func (p *parser) matchFieldBinOp() (BinOpKind, bool) {
	switch p.cur().kind {
	case tokEq:
		return OpEq, true
	case tokNotEq:
		return OpNotEq, true
	case tokGte:
		return OpGte, true
	case tokGt:
		return OpGt, true
	case tokLte:
		return OpLte, true
	case tokLt:
		return OpLt, true
	}
	return 0, false
}

func (p *parser) parseArrayItems(closer tokenKind, closerName string, allowOpen bool) ([]ArrayItemPattern, bool, token, error) {
	var items []ArrayItemPattern
	open := false
	for p.cur().kind != closer {
		t := p.cur()
		if allowOpen && t.kind == tokEllipsis {
			p.advance()
			open = true
			break
		}
		switch t.kind {
		case tokUnderscor:
			p.advance()
			items = append(items, ArrayItemPattern{Kind: ItemIgnore,
				Mid: p.metas.add(t.start, t.end)})
		case tokTilde:
			p.advance()
			test, err := p.parseTestExpr()
			if err != nil {
				return nil, false, token{}, err
			}
			items = append(items, ArrayItemPattern{Kind: ItemTilde, Test: test, Mid: test.Mid})
		case tokRecPat:
			sub, err := p.parseRecordPattern()
			if err != nil {
				return nil, false, token{}, err
			}
			items = append(items, ArrayItemPattern{Kind: ItemRecord, Record: sub, Mid: sub.Mid})
		default:
			e, err := p.parseExpr()
			if err != nil {
				return nil, false, token{}, err
			}
			items = append(items, ArrayItemPattern{Kind: ItemExpr, Expr: e, Mid: e.mid()})
		}
		if !p.accept(tokComma) {
			break
		}
	}
	closing, err := p.expect(closer, closerName)
	if err != nil {
		return nil, false, token{}, err
	}
	return items, open, closing, nil
}

func (p *parser) parseArrayPattern() (*ArrayPattern, error) {
	openTok := p.advance() // %[
	items, _, closing, err := p.parseArrayItems(tokRBracket, "']'", false)
	if err != nil {
		return nil, err
	}
	return &ArrayPattern{
		Mid:   p.metas.add(openTok.start, closing.end),
		Items: items,
	}, nil
}

func (p *parser) parseTuplePattern() (*TuplePattern, error) {
	openTok := p.advance() // %(
	items, open, closing, err := p.parseArrayItems(tokRParen, "')'", true)
	if err != nil {
		return nil, err
	}
	return &TuplePattern{
		Mid:   p.metas.add(openTok.start, closing.end),
		Items: items,
		Open:  open,
	}, nil
}

func (p *parser) parsePatch() (Expr, error) {
	patchTok := p.advance() // patch
	target, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("of"); err != nil {
		return nil, err
	}
	var ops []PatchOp
	for !p.cur().is("end") {
		op, err := p.parsePatchOp()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		if !p.accept(tokComma) {
			break
		}
	}
	closing := p.cur()
	if err := p.expectKw("end"); err != nil {
		return nil, err
	}
	return &Patch{
		Mid:    p.metas.add(patchTok.start, closing.end),
		Target: target,
		Ops:    ops,
	}, nil
}

func (p *parser) parsePatchOp() (PatchOp, error) {
	t := p.cur()
	switch {
	case t.is("insert"), t.is("upsert"), t.is("update"):
		p.advance()
		ident, err := p.parseExpr()
		if err != nil {
			return PatchOp{}, err
		}
		if _, err := p.expect(tokArrow, "'=>'"); err != nil {
			return PatchOp{}, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return PatchOp{}, err
		}
		kind := PatchInsert
		switch t.text {
		case "upsert":
			kind = PatchUpsert
		case "update":
			kind = PatchUpdate
		}
		return PatchOp{Kind: kind, Ident: ident, Expr: val}, nil
	case t.is("erase"):
		p.advance()
		ident, err := p.parseExpr()
		if err != nil {
			return PatchOp{}, err
		}
		return PatchOp{Kind: PatchErase, Ident: ident}, nil
	case t.is("merge"):
		p.advance()
		if p.accept(tokArrow) {
			val, err := p.parseExpr()
			if err != nil {
				return PatchOp{}, err
			}
			return PatchOp{Kind: PatchMergeAll, Expr: val}, nil
		}
		ident, err := p.parseExpr()
		if err != nil {
			return PatchOp{}, err
		}
		if _, err := p.expect(tokArrow, "'=>'"); err != nil {
			return PatchOp{}, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return PatchOp{}, err
		}
		return PatchOp{Kind: PatchMerge, Ident: ident, Expr: val}, nil
	}
	return PatchOp{}, newError(KindCompile, t.rng(),
		"expected a patch operation, got %q", t.text)
}

func (p *parser) parseMerge() (Expr, error) {
	mergeTok := p.advance() // merge
	target, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("of"); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	closing := p.cur()
	if err := p.expectKw("end"); err != nil {
		return nil, err
	}
	mid := p.metas.add(mergeTok.start, closing.end)
	if isLit(target) && isLit(e) {
		return &Literal{Mid: mid, Value: value.Merge(litValue(target), litValue(e))}, nil
	}
	return &Merge{Mid: mid, Target: target, Expr: e}, nil
}

func (p *parser) parseFor() (Expr, error) {
	forTok := p.advance() // for
	target, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("of"); err != nil {
		return nil, err
	}

	keyID, valID := -1, -1
	var cases []ComprehensionCase
	for p.cur().is("case") {
		caseTok := p.advance()
		if _, err := p.expect(tokLParen, "'('"); err != nil {
			return nil, err
		}
		keyName, err := p.expectIdent("key binding")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokComma, "','"); err != nil {
			return nil, err
		}
		valName, err := p.expectIdent("value binding")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}

		// All cases share the two binding slots.
		saved := p.snapshotLocals()
		if keyID == -1 {
			keyID = p.bindLocal(keyName.text)
			valID = p.bindLocal(valName.text)
		} else {
			p.locals[keyName.text] = keyID
			p.locals[valName.text] = valID
		}

		var guard Expr
		if p.acceptKw("when") {
			guard, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(tokArrow, "'=>'"); err != nil {
			return nil, err
		}
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		p.restoreLocals(saved)
		if len(body) == 0 {
			return nil, newError(KindCompile, caseTok.rng(), "empty case body")
		}
		cases = append(cases, ComprehensionCase{
			Mid:   p.metas.add(caseTok.start, caseTok.end),
			Guard: guard,
			Body:  body,
		})
	}
	closing := p.cur()
	if err := p.expectKw("end"); err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, newError(KindCompile, closing.rng(), "for requires at least one case")
	}
	return &Comprehension{
		Mid:    p.metas.add(forTok.start, closing.end),
		KeyID:  keyID,
		ValID:  valID,
		Target: target,
		Cases:  cases,
	}, nil
}
