package script

import (
	"fmt"
)

// Location is a position in script source, 1-based.
type Location struct {
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// Range is a source span between two locations.
type Range struct {
	Start Location
	End   Location
}

// ExpandLines widens the range by n lines in both directions for error
// reporting context. Lines never go below 1.
func (r Range) ExpandLines(n int) Range {
	out := r
	out.Start.Line -= n
	if out.Start.Line < 1 {
		out.Start.Line = 1
	}
	out.Start.Column = 1
	out.End.Line += n
	return out
}

// ErrorKind classifies script errors. Compile-time folding reproduces
// the error kind runtime evaluation of the same expression would raise.
type ErrorKind int

const (
	// KindCompile is a syntax or semantic error found at compile time
	KindCompile ErrorKind = iota
	// KindNoClauseHit reports an exhausted match with no matching clause
	KindNoClauseHit
	// KindTypeError reports an operand or guard of the wrong type
	KindTypeError
	// KindInvalidUnary reports a unary operator applied to an unsupported type
	KindInvalidUnary
	// KindInvalidBinary reports a binary operator applied to unsupported types
	KindInvalidBinary
	// KindRecursionLimit reports exceeding the bounded evaluation depth
	KindRecursionLimit
	// KindNoLocals reports use of a local where no locals are in scope
	KindNoLocals
	// KindNoConsts reports use of an undeclared constant
	KindNoConsts
	// KindRuntime is any other data-flow evaluation error
	KindRuntime
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindCompile:
		return "compile"
	case KindNoClauseHit:
		return "no-clause-hit"
	case KindTypeError:
		return "type-error"
	case KindInvalidUnary:
		return "invalid-unary"
	case KindInvalidBinary:
		return "invalid-binary"
	case KindRecursionLimit:
		return "recursion-limit"
	case KindNoLocals:
		return "no-locals"
	case KindNoConsts:
		return "no-consts"
	case KindRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// Error is a structured script error carrying the source span of the
// offending expression. Outer is the span expanded for reporting
// context, Inner is the exact expression span.
type Error struct {
	Kind  ErrorKind
	Outer Range
	Inner Range
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error at %s: %s", e.Kind, e.Inner.Start, e.Msg)
}

// newError builds an Error for the expression span, with the outer
// reporting range expanded by two lines of context.
func newError(kind ErrorKind, inner Range, format string, args ...any) *Error {
	return &Error{
		Kind:  kind,
		Outer: inner.ExpandLines(2),
		Inner: inner,
		Msg:   fmt.Sprintf(format, args...),
	}
}

// KindOf extracts the ErrorKind from an error, or KindRuntime when the
// error is not a script error.
func KindOf(err error) ErrorKind {
	if se, ok := err.(*Error); ok {
		return se.Kind
	}
	return KindRuntime
}
