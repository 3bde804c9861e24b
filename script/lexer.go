package script

import (
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString

	// punctuation
	tokLBrace    // {
	tokRBrace    // }
	tokLBracket  // [
	tokRBracket  // ]
	tokLParen    // (
	tokRParen    // )
	tokComma     // ,
	tokColon     // :
	tokColonCol  // ::
	tokSemi      // ;
	tokDot       // .
	tokDollar    // $
	tokAssign    // =
	tokArrow     // =>
	tokTilde     // ~
	tokUnderscor // _
	tokRecPat    // %{
	tokArrPat    // %[
	tokTupPat    // %(
	tokEllipsis  // ...
	tokBar       // |

	// operators
	tokEq      // ==
	tokNotEq   // !=
	tokGte     // >=
	tokGt      // >
	tokLte     // <=
	tokLt      // <
	tokRShiftU // >>>
	tokRShiftS // >>
	tokLShift  // <<
	tokAdd
	tokSub
	tokMul
	tokDiv
	tokMod
)

var keywords = map[string]bool{
	"let": true, "const": true, "match": true, "of": true, "case": true,
	"when": true, "default": true, "end": true, "emit": true, "drop": true,
	"event": true, "state": true, "for": true, "patch": true, "merge": true,
	"insert": true, "upsert": true, "update": true, "erase": true,
	"present": true, "absent": true, "and": true, "or": true, "xor": true,
	"not": true, "band": true, "bor": true, "bxor": true, "null": true,
	"true": true, "false": true, "fn": true, "with": true, "recur": true,
}

type token struct {
	kind  tokenKind
	text  string
	ival  int64
	fval  float64
	start Location
	end   Location
}

func (t token) is(text string) bool {
	return t.kind == tokIdent && t.text == text
}

func (t token) rng() Range { return Range{Start: t.start, End: t.end} }

type lexer struct {
	src  []rune
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src), line: 1, col: 1}
}

func (l *lexer) loc() Location { return Location{Line: l.line, Column: l.col} }

func (l *lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekAt(n int) rune {
	if l.pos+n >= len(l.src) {
		return 0
	}
	return l.src[l.pos+n]
}

func (l *lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		r := l.peek()
		if unicode.IsSpace(r) {
			l.advance()
			continue
		}
		// line comment
		if r == '#' {
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
			continue
		}
		break
	}
}

// tokenize scans the whole source up front; parse errors then carry
// exact spans without the lexer and parser sharing cursor state.
func (l *lexer) tokenize() ([]token, error) {
	var toks []token
	for {
		l.skipSpaceAndComments()
		start := l.loc()
		if l.pos >= len(l.src) {
			toks = append(toks, token{kind: tokEOF, start: start, end: start})
			return toks, nil
		}
		r := l.peek()
		switch {
		case unicode.IsLetter(r) || r == '_':
			if r == '_' && !isIdentRune(l.peekAt(1)) {
				l.advance()
				toks = append(toks, token{kind: tokUnderscor, text: "_", start: start, end: l.loc()})
				continue
			}
			text := l.scanIdent()
			toks = append(toks, token{kind: tokIdent, text: text, start: start, end: l.loc()})
		case unicode.IsDigit(r):
			tok, err := l.scanNumber(start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		case r == '"':
			tok, err := l.scanString(start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		default:
			tok, err := l.scanPunct(start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		}
	}
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func (l *lexer) scanIdent() string {
	var sb strings.Builder
	for l.pos < len(l.src) && isIdentRune(l.peek()) {
		sb.WriteRune(l.advance())
	}
	return sb.String()
}

func (l *lexer) scanNumber(start Location) (token, error) {
	var sb strings.Builder
	isFloat := false
	for l.pos < len(l.src) {
		r := l.peek()
		if unicode.IsDigit(r) {
			sb.WriteRune(l.advance())
		} else if r == '.' && unicode.IsDigit(l.peekAt(1)) && !isFloat {
			isFloat = true
			sb.WriteRune(l.advance())
		} else if (r == 'e' || r == 'E') && (unicode.IsDigit(l.peekAt(1)) || l.peekAt(1) == '-') {
			isFloat = true
			sb.WriteRune(l.advance())
			if l.peek() == '-' {
				sb.WriteRune(l.advance())
			}
		} else {
			break
		}
	}
	text := sb.String()
	end := l.loc()
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, newError(KindCompile, Range{start, end}, "invalid float literal %q", text)
		}
		return token{kind: tokFloat, text: text, fval: f, start: start, end: end}, nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return token{}, newError(KindCompile, Range{start, end}, "invalid integer literal %q", text)
	}
	return token{kind: tokInt, text: text, ival: i, start: start, end: end}, nil
}

func (l *lexer) scanString(start Location) (token, error) {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, newError(KindCompile, Range{start, l.loc()}, "unterminated string literal")
		}
		r := l.advance()
		if r == '"' {
			break
		}
		if r == '\\' {
			if l.pos >= len(l.src) {
				return token{}, newError(KindCompile, Range{start, l.loc()}, "unterminated escape sequence")
			}
			esc := l.advance()
			switch esc {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			case '"', '\\', '/':
				sb.WriteRune(esc)
			default:
				return token{}, newError(KindCompile, Range{start, l.loc()}, "invalid escape sequence \\%c", esc)
			}
			continue
		}
		sb.WriteRune(r)
	}
	return token{kind: tokString, text: sb.String(), start: start, end: l.loc()}, nil
}

func (l *lexer) scanPunct(start Location) (token, error) {
	mk := func(kind tokenKind, text string) token {
		return token{kind: kind, text: text, start: start, end: l.loc()}
	}
	r := l.advance()
	switch r {
	case '{':
		return mk(tokLBrace, "{"), nil
	case '}':
		return mk(tokRBrace, "}"), nil
	case '[':
		return mk(tokLBracket, "["), nil
	case ']':
		return mk(tokRBracket, "]"), nil
	case '(':
		return mk(tokLParen, "("), nil
	case ')':
		return mk(tokRParen, ")"), nil
	case ',':
		return mk(tokComma, ","), nil
	case ';':
		return mk(tokSemi, ";"), nil
	case '$':
		return mk(tokDollar, "$"), nil
	case '~':
		return mk(tokTilde, "~"), nil
	case '|':
		return mk(tokBar, "|"), nil
	case '+':
		return mk(tokAdd, "+"), nil
	case '-':
		return mk(tokSub, "-"), nil
	case '*':
		return mk(tokMul, "*"), nil
	case '/':
		return mk(tokDiv, "/"), nil
	case '%':
		switch l.peek() {
		case '{':
			l.advance()
			return mk(tokRecPat, "%{"), nil
		case '[':
			l.advance()
			return mk(tokArrPat, "%["), nil
		case '(':
			l.advance()
			return mk(tokTupPat, "%("), nil
		}
		return mk(tokMod, "%"), nil
	case ':':
		if l.peek() == ':' {
			l.advance()
			return mk(tokColonCol, "::"), nil
		}
		return mk(tokColon, ":"), nil
	case '.':
		if l.peek() == '.' && l.peekAt(1) == '.' {
			l.advance()
			l.advance()
			return mk(tokEllipsis, "..."), nil
		}
		return mk(tokDot, "."), nil
	case '=':
		switch l.peek() {
		case '=':
			l.advance()
			return mk(tokEq, "=="), nil
		case '>':
			l.advance()
			return mk(tokArrow, "=>"), nil
		}
		return mk(tokAssign, "="), nil
	case '!':
		if l.peek() == '=' {
			l.advance()
			return mk(tokNotEq, "!="), nil
		}
		return token{}, newError(KindCompile, Range{start, l.loc()}, "unexpected character '!'")
	case '>':
		switch l.peek() {
		case '=':
			l.advance()
			return mk(tokGte, ">="), nil
		case '>':
			l.advance()
			if l.peek() == '>' {
				l.advance()
				return mk(tokRShiftU, ">>>"), nil
			}
			return mk(tokRShiftS, ">>"), nil
		}
		return mk(tokGt, ">"), nil
	case '<':
		switch l.peek() {
		case '=':
			l.advance()
			return mk(tokLte, "<="), nil
		case '<':
			l.advance()
			return mk(tokLShift, "<<"), nil
		}
		return mk(tokLt, "<"), nil
	}
	return token{}, newError(KindCompile, Range{start, l.loc()}, "unexpected character %q", string(r))
}
