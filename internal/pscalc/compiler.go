package pscalc

import "math"

// TokenKind tags a Token the way the interpreter would tag a PostScript
// object handed to the compiler: a literal, a name (possibly resolving
// to an operator or to the literal names true/false), or a nested
// executable procedure.
type TokenKind int

const (
	TokInt TokenKind = iota
	TokReal
	TokBool
	TokName
	TokProc
)

// Token is one element of the PostScript procedure being compiled. It
// stands in for the interpreter's OBJECT, trimmed to what the
// PS-calculator can ever consume.
type Token struct {
	Kind TokenKind
	Int  int32
	Real float64
	Bool bool
	Name string
	Proc []Token
}

const maxIndex = 1<<16 - 1

// Compile flattens proc into a PS-calculator Func. It returns (nil,
// false) — never an error — if proc uses any construct the calculator
// does not support, or if the result would exceed MaxObjs cells or the
// 16-bit index limit. Callers must have a fallback to the full
// interpreter for that case.
func Compile(proc []Token) (*Func, bool) {
	cells := make([]Cell, 0, 64)
	cells, ok := addProc(cells, proc)
	if !ok {
		return nil, false
	}
	return &Func{Cells: cells}, true
}

// addProc appends a PROC header followed by the flattened body of proc
// to cells, patching the header's End index once the body is known, and
// returns the updated slice. Nested procedures are inlined in the same
// pass — there is no cross-referencing between separately-compiled
// arrays.
func addProc(cells []Cell, proc []Token) ([]Cell, bool) {
	headerIdx := len(cells)
	cells = append(cells, Cell{Kind: KindProc, Range: Range{Start: int32(headerIdx + 1)}})
	if len(cells) > MaxObjs || len(cells) > maxIndex {
		return nil, false
	}

	for _, tok := range proc {
		var ok bool
		cells, ok = addToken(cells, tok)
		if !ok {
			return nil, false
		}
		if len(cells) > MaxObjs || len(cells) > maxIndex {
			return nil, false
		}
	}

	cells[headerIdx].Range.End = int32(len(cells))
	return cells, true
}

func addToken(cells []Cell, tok Token) ([]Cell, bool) {
	switch tok.Kind {
	case TokInt:
		return append(cells, Cell{Kind: KindInt, Int: tok.Int}), true
	case TokReal:
		return append(cells, Cell{Kind: KindReal, Real: tok.Real}), true
	case TokBool:
		return append(cells, Cell{Kind: KindBool, Bool: tok.Bool}), true
	case TokName:
		switch tok.Name {
		case "true":
			return append(cells, Cell{Kind: KindBool, Bool: true}), true
		case "false":
			return append(cells, Cell{Kind: KindBool, Bool: false}), true
		}
		op, ok := opcodeForName(tok.Name)
		if !ok {
			return nil, false
		}
		return append(cells, Cell{Kind: KindOperator, Op: op}), true
	case TokProc:
		return addProc(cells, tok.Proc)
	default:
		return nil, false
	}
}

// isWholeNumber reports whether f has no fractional part, used by exp's domain
// check (negative base requires an integer exponent).
func isWholeNumber(f float64) bool {
	return f == math.Trunc(f)
}
