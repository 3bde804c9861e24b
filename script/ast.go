package script

// NodeMeta holds source-location info for one AST node. Nodes carry
// only an index (mid) into the owning compilation's metadata table,
// keeping them small and cheap to clone during constant folding.
type NodeMeta struct {
	Start Location
	End   Location
	Name  string
}

// NodeMetas is the side table of node metadata for one compilation.
type NodeMetas struct {
	nodes []NodeMeta
}

func (m *NodeMetas) add(start, end Location) int {
	mid := len(m.nodes)
	m.nodes = append(m.nodes, NodeMeta{Start: start, End: end})
	return mid
}

func (m *NodeMetas) addNamed(start, end Location, name string) int {
	mid := len(m.nodes)
	m.nodes = append(m.nodes, NodeMeta{Start: start, End: end, Name: name})
	return mid
}

// Rng returns the source range for a node metadata index.
func (m *NodeMetas) Rng(mid int) Range {
	if mid < 0 || mid >= len(m.nodes) {
		return Range{}
	}
	n := m.nodes[mid]
	return Range{Start: n.Start, End: n.End}
}

// Name returns the surface name recorded for a node, if any.
func (m *NodeMetas) Name(mid int) string {
	if mid < 0 || mid >= len(m.nodes) {
		return ""
	}
	return m.nodes[mid].Name
}

// Expr is a compiled AST node. The node set is closed: literal, path,
// binary/unary op, record/list constructor, invoke, match, patch,
// merge, comprehension, recur, emit, drop, assign and present.
type Expr interface {
	mid() int
}

// PathRoot selects the tree a path resolves against.
type PathRoot int

const (
	// RootEvent resolves against the event payload
	RootEvent PathRoot = iota
	// RootState resolves against the operator's persistent state
	RootState
	// RootMeta resolves against the event metadata ($)
	RootMeta
	// RootLocal resolves against a local register slot
	RootLocal
	// RootConst resolves against a const register slot
	RootConst
)

// SegmentKind discriminates path segment variants.
type SegmentKind int

const (
	// SegKey is a statically-known object key
	SegKey SegmentKind = iota
	// SegIdx is a statically-known array index
	SegIdx
	// SegExpr is a runtime-evaluated key or index expression
	SegExpr
)

// PathSegment is one step of a path expression.
type PathSegment struct {
	Kind SegmentKind
	Key  string
	Idx  int
	Expr Expr
	Mid  int
}

// Literal is a value known at compile time, either written as a
// literal or produced by constant folding.
type Literal struct {
	Mid   int
	Value any
}

// Path references into event, state, metadata or a register slot.
type Path struct {
	Mid      int
	Root     PathRoot
	Idx      int // register slot for RootLocal / RootConst
	Segments []PathSegment
}

// BinOpKind enumerates binary operators.
type BinOpKind int

// Binary operator kinds in precedence groups, loosest first.
const (
	OpOr BinOpKind = iota
	OpXor
	OpAnd
	OpBitOr
	OpBitXor
	OpBitAnd
	OpEq
	OpNotEq
	OpGte
	OpGt
	OpLte
	OpLt
	OpRShiftS
	OpRShiftU
	OpLShift
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

var binOpNames = map[BinOpKind]string{
	OpOr: "or", OpXor: "xor", OpAnd: "and",
	OpBitOr: "bor", OpBitXor: "bxor", OpBitAnd: "band",
	OpEq: "==", OpNotEq: "!=",
	OpGte: ">=", OpGt: ">", OpLte: "<=", OpLt: "<",
	OpRShiftS: ">>", OpRShiftU: ">>>", OpLShift: "<<",
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
}

func (k BinOpKind) String() string { return binOpNames[k] }

// UnaryOpKind enumerates unary operators.
type UnaryOpKind int

// Unary operator kinds.
const (
	OpPlus UnaryOpKind = iota
	OpMinus
	OpNot
)

func (k UnaryOpKind) String() string {
	switch k {
	case OpPlus:
		return "+"
	case OpMinus:
		return "-"
	default:
		return "not"
	}
}

// Binary applies a binary operator.
type Binary struct {
	Mid  int
	Kind BinOpKind
	Lhs  Expr
	Rhs  Expr
}

// Unary applies a unary operator.
type Unary struct {
	Mid  int
	Kind UnaryOpKind
	Expr Expr
}

// Field is one key/value pair of a record constructor.
type Field struct {
	Mid   int
	Name  Expr
	Value Expr
}

// Record constructs an object value.
type Record struct {
	Mid    int
	Fields []Field
}

// List constructs an array value.
type List struct {
	Mid   int
	Exprs []Expr
}

// Present tests whether a path resolves.
type Present struct {
	Mid  int
	Path *Path
}

// Invoke calls a registry or script-defined function.
type Invoke struct {
	Mid    int
	Module string
	Fun    string
	Fn     *Fn       // registry builtin, nil for script functions
	Custom *CustomFn // script-defined function, nil for builtins
	Args   []Expr
}

// InvokeAggr calls an aggregate function instance. AggrID indexes the
// compiled script's aggregate register file.
type InvokeAggr struct {
	Mid    int
	Module string
	Fun    string
	AggrID int
	Args   []Expr
}

// Recur re-invokes the enclosing script function with new arguments.
type Recur struct {
	Mid  int
	Argc int
	Args []Expr
}

// Match selects the first clause whose pattern and guard hit.
type Match struct {
	Mid     int
	Target  Expr
	Clauses []Clause
}

// Clause is one case of a match expression.
type Clause struct {
	Mid     int
	Pattern Pattern
	Guard   Expr // nil when absent
	Body    []Expr
}

// PatchOpKind enumerates patch operations.
type PatchOpKind int

// Patch operation kinds.
const (
	PatchInsert PatchOpKind = iota
	PatchUpsert
	PatchUpdate
	PatchErase
	PatchMerge
	PatchMergeAll
)

// PatchOp is a single operation of a patch expression.
type PatchOp struct {
	Kind  PatchOpKind
	Ident Expr // field name; nil for PatchMergeAll
	Expr  Expr // nil for PatchErase
}

// Patch applies a sequence of field operations to a target.
type Patch struct {
	Mid    int
	Target Expr
	Ops    []PatchOp
}

// Merge deep-merges an expression into a target.
type Merge struct {
	Mid    int
	Target Expr
	Expr   Expr
}

// Comprehension iterates an object or array producing a list.
type Comprehension struct {
	Mid    int
	KeyID  int // local slot for the key/index binding
	ValID  int // local slot for the value binding
	Target Expr
	Cases  []ComprehensionCase
}

// ComprehensionCase is one case of a comprehension.
type ComprehensionCase struct {
	Mid   int
	Guard Expr // nil when absent
	Body  []Expr
}

// Emit terminates the script emitting a value, or without Expr the
// event unchanged, to an optional port.
type Emit struct {
	Mid  int
	Expr Expr // nil for bare emit (EmitEvent)
	Port Expr // nil for the default port
}

// Drop terminates the script discarding the event.
type Drop struct {
	Mid int
}

// Assign writes an expression result through a path.
type Assign struct {
	Mid  int
	Path *Path
	Expr Expr
}

// CustomFn is a script-defined function.
type CustomFn struct {
	Name   string
	Args   []string
	Locals int
	Body   []Expr
}

func (e *Literal) mid() int       { return e.Mid }
func (e *Path) mid() int          { return e.Mid }
func (e *Binary) mid() int        { return e.Mid }
func (e *Unary) mid() int         { return e.Mid }
func (e *Record) mid() int        { return e.Mid }
func (e *List) mid() int          { return e.Mid }
func (e *Present) mid() int       { return e.Mid }
func (e *Invoke) mid() int        { return e.Mid }
func (e *InvokeAggr) mid() int    { return e.Mid }
func (e *Recur) mid() int         { return e.Mid }
func (e *Match) mid() int         { return e.Mid }
func (e *Patch) mid() int         { return e.Mid }
func (e *Merge) mid() int         { return e.Mid }
func (e *Comprehension) mid() int { return e.Mid }
func (e *Emit) mid() int          { return e.Mid }
func (e *Drop) mid() int          { return e.Mid }
func (e *Assign) mid() int        { return e.Mid }

func isLit(e Expr) bool {
	_, ok := e.(*Literal)
	return ok
}

func litValue(e Expr) any {
	return e.(*Literal).Value
}

// Pattern is a structural pattern of a match clause.
type Pattern interface {
	isPattern()
}

// PredicateKind discriminates record pattern field predicates.
type PredicateKind int

// Record pattern field predicate kinds.
const (
	// PredPresent requires the field to exist
	PredPresent PredicateKind = iota
	// PredAbsent requires the field to be missing
	PredAbsent
	// PredBin compares the field value with a binary operator
	PredBin
	// PredTilde runs an extractor test against the field value
	PredTilde
	// PredRecord matches a sub-record pattern against the field value
	PredRecord
	// PredArray matches a sub-array pattern against the field value
	PredArray
)

// FieldPattern is one field predicate of a record pattern.
type FieldPattern struct {
	Mid     int
	Kind    PredicateKind
	Lhs     string // field name
	BinKind BinOpKind
	Rhs     Expr
	Test    *TestExpr
	Record  *RecordPattern
	Array   *ArrayPattern
}

// RecordPattern matches field presence/absence/sub-patterns.
type RecordPattern struct {
	Mid    int
	Fields []FieldPattern
}

// ArrayItemKind discriminates array/tuple element patterns.
type ArrayItemKind int

// Array element pattern kinds.
const (
	// ItemExpr matches the element by equality
	ItemExpr ArrayItemKind = iota
	// ItemTilde runs an extractor test against the element
	ItemTilde
	// ItemRecord matches a sub-record pattern against the element
	ItemRecord
	// ItemIgnore matches any element
	ItemIgnore
)

// ArrayItemPattern is one element pattern of an array/tuple pattern.
type ArrayItemPattern struct {
	Mid    int
	Kind   ArrayItemKind
	Expr   Expr
	Test   *TestExpr
	Record *RecordPattern
}

// ArrayPattern matches an array pointwise with exact length.
type ArrayPattern struct {
	Mid   int
	Items []ArrayItemPattern
}

// TuplePattern matches an array pointwise; Open allows extra elements.
type TuplePattern struct {
	Mid   int
	Items []ArrayItemPattern
	Open  bool
}

// AssignPattern binds the matched value to a local slot and delegates
// to the inner pattern.
type AssignPattern struct {
	ID      string
	Idx     int
	Pattern Pattern
}

// ExprPattern matches by equality with an expression result.
type ExprPattern struct {
	Expr Expr
}

// TestExpr invokes a named extractor against a string value.
type TestExpr struct {
	Mid       int
	ID        string
	Pattern   string
	Extractor Extractor
}

// DoNotCarePattern matches anything (`_`).
type DoNotCarePattern struct{}

// DefaultPattern is the `default` clause.
type DefaultPattern struct{}

func (*RecordPattern) isPattern()    {}
func (*ArrayPattern) isPattern()     {}
func (*TuplePattern) isPattern()     {}
func (*AssignPattern) isPattern()    {}
func (*ExprPattern) isPattern()      {}
func (*DoNotCarePattern) isPattern() {}
func (*DefaultPattern) isPattern()   {}
