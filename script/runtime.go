package script

import (
	"github.com/c360/eventflow/value"
)

// attachRange fills in source spans on a script error produced without
// location info, such as by the shared operator evaluators.
func attachRange(err error, r Range) error {
	se, ok := err.(*Error)
	if !ok {
		return newError(KindRuntime, r, "%s", err.Error())
	}
	if se.Inner == (Range{}) {
		se.Inner = r
		se.Outer = r.ExpandLines(2)
	}
	return se
}

func opErr(kind ErrorKind, format string, args ...any) *Error {
	return newError(kind, Range{}, format, args...)
}

// execBinary evaluates a binary operator over two values. It is shared
// between the interpreter and the constant folder so folded expressions
// raise the same error kinds evaluation would.
func execBinary(kind BinOpKind, lhs, rhs any) (any, error) {
	switch kind {
	case OpOr, OpAnd, OpXor:
		lb, lok := lhs.(bool)
		rb, rok := rhs.(bool)
		if !lok || !rok {
			return nil, opErr(KindInvalidBinary,
				"operator %s requires bool operands, got %s and %s",
				kind, value.TypeName(lhs), value.TypeName(rhs))
		}
		switch kind {
		case OpOr:
			return lb || rb, nil
		case OpAnd:
			return lb && rb, nil
		default:
			return lb != rb, nil
		}

	case OpEq:
		return value.Equal(lhs, rhs), nil
	case OpNotEq:
		return !value.Equal(lhs, rhs), nil

	case OpGt, OpGte, OpLt, OpLte:
		return execCompare(kind, lhs, rhs)

	case OpBitOr, OpBitXor, OpBitAnd, OpRShiftS, OpRShiftU, OpLShift:
		li, lok := lhs.(int64)
		ri, rok := rhs.(int64)
		if !lok || !rok {
			return nil, opErr(KindInvalidBinary,
				"operator %s requires integer operands, got %s and %s",
				kind, value.TypeName(lhs), value.TypeName(rhs))
		}
		switch kind {
		case OpBitOr:
			return li | ri, nil
		case OpBitXor:
			return li ^ ri, nil
		case OpBitAnd:
			return li & ri, nil
		case OpLShift:
			if ri < 0 || ri > 63 {
				return nil, opErr(KindInvalidBinary, "shift amount %d out of range", ri)
			}
			return li << uint(ri), nil
		case OpRShiftS:
			if ri < 0 || ri > 63 {
				return nil, opErr(KindInvalidBinary, "shift amount %d out of range", ri)
			}
			return li >> uint(ri), nil
		default: // OpRShiftU
			if ri < 0 || ri > 63 {
				return nil, opErr(KindInvalidBinary, "shift amount %d out of range", ri)
			}
			return int64(uint64(li) >> uint(ri)), nil
		}

	case OpAdd:
		if ls, ok := lhs.(string); ok {
			if rs, ok := rhs.(string); ok {
				return ls + rs, nil
			}
		}
		return execArith(kind, lhs, rhs)
	case OpSub, OpMul, OpDiv, OpMod:
		return execArith(kind, lhs, rhs)
	}
	return nil, opErr(KindInvalidBinary, "unknown operator %s", kind)
}

func execCompare(kind BinOpKind, lhs, rhs any) (any, error) {
	if lf, lok := asNum(lhs); lok {
		rf, rok := asNum(rhs)
		if !rok {
			return nil, opErr(KindInvalidBinary,
				"cannot compare %s with %s", value.TypeName(lhs), value.TypeName(rhs))
		}
		switch kind {
		case OpGt:
			return lf > rf, nil
		case OpGte:
			return lf >= rf, nil
		case OpLt:
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	}
	if ls, ok := lhs.(string); ok {
		rs, rok := rhs.(string)
		if !rok {
			return nil, opErr(KindInvalidBinary,
				"cannot compare %s with %s", value.TypeName(lhs), value.TypeName(rhs))
		}
		switch kind {
		case OpGt:
			return ls > rs, nil
		case OpGte:
			return ls >= rs, nil
		case OpLt:
			return ls < rs, nil
		default:
			return ls <= rs, nil
		}
	}
	return nil, opErr(KindInvalidBinary,
		"cannot compare %s with %s", value.TypeName(lhs), value.TypeName(rhs))
}

// execArith evaluates +, -, *, / and %. Integer operands stay integer
// except for division, which always yields a float. Mixed operands
// promote to float. Modulo is integer-only.
func execArith(kind BinOpKind, lhs, rhs any) (any, error) {
	if li, lok := lhs.(int64); lok {
		if ri, rok := rhs.(int64); rok {
			switch kind {
			case OpAdd:
				return li + ri, nil
			case OpSub:
				return li - ri, nil
			case OpMul:
				return li * ri, nil
			case OpDiv:
				return float64(li) / float64(ri), nil
			default: // OpMod
				if ri == 0 {
					return nil, opErr(KindRuntime, "modulo by zero")
				}
				return li % ri, nil
			}
		}
	}
	lf, lok := asNum(lhs)
	rf, rok := asNum(rhs)
	if !lok || !rok {
		return nil, opErr(KindInvalidBinary,
			"operator %s requires numeric operands, got %s and %s",
			kind, value.TypeName(lhs), value.TypeName(rhs))
	}
	switch kind {
	case OpAdd:
		return lf + rf, nil
	case OpSub:
		return lf - rf, nil
	case OpMul:
		return lf * rf, nil
	case OpDiv:
		return lf / rf, nil
	default: // OpMod
		return nil, opErr(KindInvalidBinary,
			"operator %% requires integer operands, got %s and %s",
			value.TypeName(lhs), value.TypeName(rhs))
	}
}

// execUnary evaluates a unary operator, shared between the interpreter
// and the constant folder.
func execUnary(kind UnaryOpKind, v any) (any, error) {
	switch kind {
	case OpNot:
		b, ok := v.(bool)
		if !ok {
			return nil, opErr(KindInvalidUnary,
				"operator not requires a bool operand, got %s", value.TypeName(v))
		}
		return !b, nil
	case OpMinus:
		switch t := v.(type) {
		case int64:
			return -t, nil
		case float64:
			return -t, nil
		}
		return nil, opErr(KindInvalidUnary,
			"operator - requires a numeric operand, got %s", value.TypeName(v))
	default: // OpPlus
		switch v.(type) {
		case int64, float64:
			return v, nil
		}
		return nil, opErr(KindInvalidUnary,
			"operator + requires a numeric operand, got %s", value.TypeName(v))
	}
}
