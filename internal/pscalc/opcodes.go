package pscalc

// Opcode is a PS-calculator operator, one of the 45-entry table: the 42
// operators of the type-4 function operator set plus the three
// non-type-4 extensions (repeat, exec, for) needed by DeviceN
// CustomConversions callbacks.
type Opcode int

const (
	OpInvalid Opcode = iota - 1

	// Arithmetic
	OpAbs
	OpAdd
	OpAtan
	OpCeiling
	OpCos
	OpCvi
	OpCvr
	OpDiv
	OpExp
	OpFloor
	OpIdiv
	OpLn
	OpLog
	OpMod
	OpMul
	OpNeg
	OpRound
	OpSin
	OpSqrt
	OpSub
	OpTruncate

	// Relational
	OpAnd
	OpBitshift
	OpEq
	OpFalse
	OpGe
	OpGt
	OpLe
	OpLt
	OpNe
	OpNot
	OpOr
	OpTrue
	OpXor

	// Conditional
	OpIf
	OpIfelse

	// Stack
	OpCopy
	OpDup
	OpExch
	OpIndex
	OpPop
	OpRoll

	// Extensions (non type-4)
	OpRepeat
	OpExec
	OpFor
)

// argKind constrains what may appear in an operator's fixed argument
// slots; the table enforces only the first two arguments, the handful
// of operators with more fixed arguments (ifelse, for) check the rest
// by hand.
type argKind int

const (
	argAny argKind = iota
	argNum
	argReal
	argInt
	argBool
	argIntOrBool
	argProc
)

type opSig struct {
	nargs      int
	arg1, arg2 argKind
}

var opArgs = map[Opcode]opSig{
	OpAbs:      {1, argNum, argAny},
	OpAdd:      {2, argNum, argNum},
	OpAtan:     {2, argNum, argNum},
	OpCeiling:  {1, argNum, argAny},
	OpCos:      {1, argNum, argAny},
	OpCvi:      {1, argNum, argAny},
	OpCvr:      {1, argNum, argAny},
	OpDiv:      {2, argNum, argNum},
	OpExp:      {2, argNum, argNum},
	OpFloor:    {1, argNum, argAny},
	OpIdiv:     {2, argInt, argInt},
	OpLn:       {1, argNum, argAny},
	OpLog:      {1, argNum, argAny},
	OpMod:      {2, argInt, argInt},
	OpMul:      {2, argNum, argNum},
	OpNeg:      {1, argNum, argAny},
	OpRound:    {1, argNum, argAny},
	OpSin:      {1, argNum, argAny},
	OpSqrt:     {1, argNum, argAny},
	OpSub:      {2, argNum, argNum},
	OpTruncate: {1, argNum, argAny},

	OpAnd:      {2, argIntOrBool, argIntOrBool},
	OpBitshift: {2, argInt, argInt},
	OpEq:       {2, argAny, argAny},
	OpFalse:    {0, argAny, argAny},
	OpGe:       {2, argNum, argNum},
	OpGt:       {2, argNum, argNum},
	OpLe:       {2, argNum, argNum},
	OpLt:       {2, argNum, argNum},
	OpNe:       {2, argIntOrBool, argIntOrBool},
	OpNot:      {1, argIntOrBool, argAny},
	OpOr:       {2, argIntOrBool, argIntOrBool},
	OpTrue:     {0, argAny, argAny},
	OpXor:      {2, argIntOrBool, argIntOrBool},

	OpIf:     {2, argProc, argBool},
	OpIfelse: {3, argProc, argProc},

	OpCopy:  {1, argInt, argAny},
	OpDup:   {1, argAny, argAny},
	OpExch:  {2, argAny, argAny},
	OpIndex: {1, argInt, argAny},
	OpPop:   {1, argAny, argAny},
	OpRoll:  {2, argInt, argInt},

	OpRepeat: {2, argProc, argInt},
	OpExec:   {1, argProc, argAny},
	OpFor:    {4, argProc, argNum},
}

// opByName maps a PostScript operator name to its pscalc opcode. Names
// not present here are not supported by the calculator and compilation
// must fail.
var opByName = map[string]Opcode{
	"abs": OpAbs, "add": OpAdd, "atan": OpAtan, "ceiling": OpCeiling,
	"cos": OpCos, "cvi": OpCvi, "cvr": OpCvr, "div": OpDiv, "exp": OpExp,
	"floor": OpFloor, "idiv": OpIdiv, "ln": OpLn, "log": OpLog,
	"mod": OpMod, "mul": OpMul, "neg": OpNeg, "round": OpRound,
	"sin": OpSin, "sqrt": OpSqrt, "sub": OpSub, "truncate": OpTruncate,

	"and": OpAnd, "bitshift": OpBitshift, "eq": OpEq, "false": OpFalse,
	"ge": OpGe, "gt": OpGt, "le": OpLe, "lt": OpLt, "ne": OpNe,
	"not": OpNot, "or": OpOr, "true": OpTrue, "xor": OpXor,

	"if": OpIf, "ifelse": OpIfelse,

	"copy": OpCopy, "dup": OpDup, "exch": OpExch, "index": OpIndex,
	"pop": OpPop, "roll": OpRoll,

	"repeat": OpRepeat, "exec": OpExec, "for": OpFor,
}

func opcodeForName(name string) (Opcode, bool) {
	op, ok := opByName[name]
	return op, ok
}
