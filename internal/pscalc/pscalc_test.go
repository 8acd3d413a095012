package pscalc

import "testing"

func num(v float64) Token { return Token{Kind: TokReal, Real: v} }
func name(n string) Token { return Token{Kind: TokName, Name: n} }
func proc(toks ...Token) Token { return Token{Kind: TokProc, Proc: toks} }

func mustCompile(t *testing.T, toks []Token) *Func {
	t.Helper()
	f, ok := Compile(toks)
	if !ok {
		t.Fatalf("compile failed unexpectedly")
	}
	return f
}

// RGB -> gray: {.11 mul exch .59 mul add exch .3 mul add}
func rgbToGray() []Token {
	return []Token{
		num(0.11), name("mul"), name("exch"),
		num(0.59), name("mul"), name("add"), name("exch"),
		num(0.3), name("mul"), name("add"),
	}
}

func TestRGBToGray(t *testing.T) {
	f := mustCompile(t, rgbToGray())

	cases := []struct {
		in   []float64
		want float64
	}{
		{[]float64{1, 0, 0}, 0.3},
		{[]float64{0, 1, 0}, 0.59},
		{[]float64{0, 0, 1}, 0.11},
		{[]float64{1, 1, 1}, 1.0},
	}
	for _, c := range cases {
		out, err := Exec(f, 3, 1, c.in)
		if err != ErrNone {
			t.Fatalf("exec(%v) failed: %v", c.in, err)
		}
		if diff := out[0] - c.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("exec(%v) = %v, want %v", c.in, out[0], c.want)
		}
	}
}

// CMYK identity tail: {0. 0. 0. 4 -1 roll 1 exch sub 0. 0. 0.}
func TestCMYKEmptyTail(t *testing.T) {
	toks := []Token{
		num(0), num(0), num(0),
		Token{Kind: TokInt, Int: 4}, Token{Kind: TokInt, Int: -1}, name("roll"),
		num(1), name("exch"), name("sub"),
		num(0), num(0), num(0),
	}
	f := mustCompile(t, toks)

	out, err := Exec(f, 1, 7, []float64{0.25})
	if err != ErrNone {
		t.Fatalf("exec failed: %v", err)
	}
	want := []float64{0.0, 0.0, 0.0, 0.75, 0.0, 0.0, 0.0}
	for i := range want {
		if diff := out[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestCompileRejectsUnknownOperator(t *testing.T) {
	if _, ok := Compile([]Token{name("frobnicate")}); ok {
		t.Fatalf("expected compile to fail on unknown operator")
	}
}

func TestCompileRejectsOver1000Cells(t *testing.T) {
	toks := make([]Token, 0, 1001)
	for i := 0; i < 1001; i++ {
		toks = append(toks, num(1))
	}
	if _, ok := Compile(toks); ok {
		t.Fatalf("expected compile to fail for a 1001-cell procedure")
	}
}

func TestExecStackOverflow(t *testing.T) {
	toks := make([]Token, 0, MaxStack+5)
	for i := 0; i < MaxStack+5; i++ {
		toks = append(toks, num(1))
	}
	f := mustCompile(t, toks)
	_, err := Exec(f, 0, MaxStack+5, nil)
	if err != ErrStackOverflow {
		t.Fatalf("expected stackoverflow, got %v", err)
	}
}

func TestIfElse(t *testing.T) {
	// true {2} {3} ifelse -> always 2
	toks := []Token{
		name("true"),
		proc(num(2)),
		proc(num(3)),
		name("ifelse"),
	}
	f := mustCompile(t, toks)
	out, err := Exec(f, 0, 1, nil)
	if err != ErrNone || out[0] != 2 {
		t.Fatalf("ifelse: got %v err %v, want 2", out, err)
	}
}

func TestRepeat(t *testing.T) {
	// 0 3 {1 add} repeat -> 3
	toks := []Token{
		num(0), Token{Kind: TokInt, Int: 3},
		proc(num(1), name("add")),
		name("repeat"),
	}
	f := mustCompile(t, toks)
	out, err := Exec(f, 0, 1, nil)
	if err != ErrNone || out[0] != 3 {
		t.Fatalf("repeat: got %v err %v, want 3", out, err)
	}
}

func TestForIntegerIteration(t *testing.T) {
	// 0 1 1 3 {add} for -> 0+1+2+3 = 6
	toks := []Token{
		Token{Kind: TokInt, Int: 0},
		Token{Kind: TokInt, Int: 1}, Token{Kind: TokInt, Int: 1}, Token{Kind: TokInt, Int: 3},
		proc(name("add")),
		name("for"),
	}
	f := mustCompile(t, toks)
	out, err := Exec(f, 0, 1, nil)
	if err != ErrNone || out[0] != 6 {
		t.Fatalf("for: got %v err %v, want 6", out, err)
	}
}

func TestDivByZeroUndefinedResult(t *testing.T) {
	toks := []Token{num(1), num(0), name("div")}
	f := mustCompile(t, toks)
	_, err := Exec(f, 0, 1, nil)
	if err != ErrUndefinedResult {
		t.Fatalf("expected undefinedresult, got %v", err)
	}
}

func TestAtanNormalizesToPositiveRange(t *testing.T) {
	toks := []Token{num(-1), num(-1), name("atan")}
	f := mustCompile(t, toks)
	out, err := Exec(f, 0, 1, nil)
	if err != ErrNone {
		t.Fatalf("atan failed: %v", err)
	}
	if out[0] < 0 || out[0] >= 360 {
		t.Fatalf("atan result %v not normalized to [0,360)", out[0])
	}
}

func TestRollAndIndex(t *testing.T) {
	// 1 2 3 3 1 roll -> 3 1 2 ; then 0 index -> duplicates top (2)
	toks := []Token{
		num(1), num(2), num(3),
		Token{Kind: TokInt, Int: 3}, Token{Kind: TokInt, Int: 1}, name("roll"),
		Token{Kind: TokInt, Int: 0}, name("index"),
	}
	f := mustCompile(t, toks)
	out, err := Exec(f, 0, 4, nil)
	if err != ErrNone {
		t.Fatalf("roll/index failed: %v", err)
	}
	want := []float64{3, 1, 2, 2}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}
