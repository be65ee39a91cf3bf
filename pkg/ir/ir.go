package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/token"
)

type Op int

const (
	OpAssign Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNeq
	OpLt
	OpGt
	OpLte
	OpGte
	OpAnd
	OpOr
	OpShl
	OpShr
	OpIndex
	OpTypeOf
	OpLabel
	OpGoto
	OpIfTrue
	OpIfFalse
	OpPrint
	OpParamPush
	OpCall
	OpReturn
	OpBreak
	OpFunction
	OpParam
	OpEndFunction
)

var opNames = [...]string{
	OpAssign: "assign", OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div",
	OpEq: "eq", OpNeq: "neq", OpLt: "lt", OpGt: "gt", OpLte: "lte", OpGte: "gte",
	OpAnd: "and", OpOr: "or", OpShl: "shl", OpShr: "shr", OpIndex: "index", OpTypeOf: "typeof",
	OpLabel: "label", OpGoto: "goto", OpIfTrue: "if_true", OpIfFalse: "if_false",
	OpPrint: "print", OpParamPush: "param_push", OpCall: "call", OpReturn: "return", OpBreak: "break",
	OpFunction: "function", OpParam: "param", OpEndFunction: "end_function",
}

var opSymbols = map[Op]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/",
	OpEq: "==", OpNeq: "!=", OpLt: "<", OpGt: ">", OpLte: "<=", OpGte: ">=",
	OpAnd: "&&", OpOr: "||", OpShl: "<<", OpShr: ">>",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

func (o Op) IsArithmetic() bool { return o >= OpAdd && o <= OpDiv }
func (o Op) IsComparison() bool { return o >= OpEq && o <= OpGte }
func (o Op) IsLogical() bool    { return o == OpAnd || o == OpOr }
func (o Op) IsShift() bool      { return o == OpShl || o == OpShr }

// IsBinary reports whether the op computes Result from two operands.
func (o Op) IsBinary() bool {
	return o.IsArithmetic() || o.IsComparison() || o.IsLogical() || o.IsShift()
}

// IsJump reports whether the op transfers control to a label operand.
func (o Op) IsJump() bool {
	return o == OpGoto || o == OpBreak || o == OpIfTrue || o == OpIfFalse
}

// BinaryOpFor maps a source operator onto its three-address op.
func BinaryOpFor(t token.Type) (Op, bool) {
	switch t {
	case token.Plus:
		return OpAdd, true
	case token.Minus:
		return OpSub, true
	case token.Star:
		return OpMul, true
	case token.Slash:
		return OpDiv, true
	case token.EqEq:
		return OpEq, true
	case token.Neq:
		return OpNeq, true
	case token.Lt:
		return OpLt, true
	case token.Gt:
		return OpGt, true
	case token.Lte:
		return OpLte, true
	case token.Gte:
		return OpGte, true
	case token.AndAnd:
		return OpAnd, true
	case token.OrOr:
		return OpOr, true
	}
	return 0, false
}

type Value interface {
	isValue()
	String() string
}

type ConstKind int

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstString
	ConstBool
	ConstNull
)

// Const is a literal operand. Text holds the canonical spelling: decimal for
// numbers, the raw value for strings.
type Const struct {
	Kind ConstKind
	Text string
}
type Var struct{ Name string }
type Temporary struct{ ID int }
type Label struct{ Name string }
type Array struct{ Elems []Value }
type Func struct{ Name string }

func (c *Const) isValue()     {}
func (v *Var) isValue()       {}
func (t *Temporary) isValue() {}
func (l *Label) isValue()     {}
func (a *Array) isValue()     {}
func (f *Func) isValue()      {}

func (c *Const) String() string {
	switch c.Kind {
	case ConstString:
		return strconv.Quote(c.Text)
	case ConstBool:
		if c.Text == "true" {
			return token.TypeStrings[token.True]
		}
		return token.TypeStrings[token.False]
	case ConstNull:
		return token.TypeStrings[token.Null]
	}
	return c.Text
}
func (v *Var) String() string       { return v.Name }
func (t *Temporary) String() string { return fmt.Sprintf("t%d", t.ID) }
func (l *Label) String() string     { return l.Name }
func (f *Func) String() string      { return f.Name }
func (a *Array) String() string {
	parts := make([]string, len(a.Elems))
	for i, e := range a.Elems {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func IntConst(v int64) *Const     { return &Const{Kind: ConstInt, Text: strconv.FormatInt(v, 10)} }
func FloatConst(v float64) *Const { return &Const{Kind: ConstFloat, Text: FormatFloat(v)} }
func StringConst(s string) *Const { return &Const{Kind: ConstString, Text: s} }
func NullConst() *Const           { return &Const{Kind: ConstNull} }
func BoolConst(b bool) *Const {
	if b {
		return &Const{Kind: ConstBool, Text: "true"}
	}
	return &Const{Kind: ConstBool, Text: "false"}
}

// FormatFloat renders a float the way programs observe it: shortest form,
// with a trailing ".0" when the value is integral.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func (c *Const) IsNumeric() bool { return c.Kind == ConstInt || c.Kind == ConstFloat }

func (c *Const) Int() (int64, bool) {
	if c.Kind != ConstInt {
		return 0, false
	}
	v, err := strconv.ParseInt(c.Text, 10, 64)
	return v, err == nil
}

func (c *Const) Float() (float64, bool) {
	if !c.IsNumeric() {
		return 0, false
	}
	v, err := strconv.ParseFloat(c.Text, 64)
	return v, err == nil
}

// IsName reports whether v is a variable or temporary.
func IsName(v Value) bool {
	switch v.(type) {
	case *Var, *Temporary:
		return true
	}
	return false
}

// IsAtom reports whether v is a name or a literal, i.e. free of side effects.
func IsAtom(v Value) bool {
	switch v.(type) {
	case *Var, *Temporary, *Const:
		return true
	}
	return false
}

type Instruction struct {
	Op     Op
	Typ    ast.Type
	Result Value
	Args   []Value

	// Guard marks a store whose value kind is only known at run time. The
	// interpreter checks it against Typ and faults on a mismatch.
	Guard bool
}

func (in *Instruction) Arg(i int) Value {
	if i < len(in.Args) {
		return in.Args[i]
	}
	return nil
}

// Target returns the label operand of a jump.
func (in *Instruction) Target() string {
	switch in.Op {
	case OpGoto, OpBreak:
		return in.Arg(0).String()
	case OpIfTrue, OpIfFalse:
		return in.Arg(1).String()
	}
	return ""
}

// Reads returns the names (variables and temporaries) read by the instruction,
// including array literal elements.
func (in *Instruction) Reads() []string {
	var names []string
	var walk func(v Value)
	walk = func(v Value) {
		switch x := v.(type) {
		case *Var, *Temporary:
			names = append(names, x.String())
		case *Array:
			for _, e := range x.Elems {
				walk(e)
			}
		}
	}
	switch in.Op {
	case OpLabel, OpGoto, OpBreak, OpFunction, OpParam, OpEndFunction:
		return nil
	case OpIfTrue, OpIfFalse:
		walk(in.Arg(0))
	case OpCall:
		return nil
	default:
		for _, a := range in.Args {
			walk(a)
		}
	}
	return names
}

// Defines returns the name written by the instruction, or "".
func (in *Instruction) Defines() string {
	if in.Result != nil && IsName(in.Result) {
		return in.Result.String()
	}
	if in.Op == OpParam {
		return in.Arg(0).String()
	}
	return ""
}

// IsPure reports whether the instruction only computes its Result, so it may
// be removed when the Result is dead. Anything that can fault at run time is
// impure: guarded stores, ordering comparisons, arithmetic on operands of
// unknown type, division by anything but a non-zero literal, and indexing.
func (in *Instruction) IsPure() bool {
	switch {
	case in.Op == OpAssign:
		return !in.Guard
	case in.Op == OpTypeOf:
		return true
	case in.Op == OpEq, in.Op == OpNeq, in.Op.IsLogical():
		return true
	case in.Op.IsComparison():
		return false
	case in.Typ == ast.TypeUnknown:
		return false
	case in.Op == OpDiv:
		c, ok := in.Arg(1).(*Const)
		if !ok {
			return false
		}
		f, ok := c.Float()
		return ok && f != 0
	case in.Op.IsBinary():
		return true
	}
	return false
}

func (in *Instruction) String() string {
	a0, a1 := in.Arg(0), in.Arg(1)
	switch {
	case in.Op == OpAssign:
		return fmt.Sprintf("%s = %s", in.Result, a0)
	case in.Op.IsBinary():
		return fmt.Sprintf("%s = %s %s %s", in.Result, a0, opSymbols[in.Op], a1)
	}
	switch in.Op {
	case OpIndex:
		return fmt.Sprintf("%s = %s[%s]", in.Result, a0, a1)
	case OpTypeOf:
		return fmt.Sprintf("%s = typeof %s", in.Result, a0)
	case OpLabel:
		return fmt.Sprintf("%s:", a0)
	case OpGoto:
		return fmt.Sprintf("goto %s", a0)
	case OpBreak:
		return fmt.Sprintf("break %s", a0)
	case OpIfTrue:
		return fmt.Sprintf("if %s goto %s", a0, a1)
	case OpIfFalse:
		return fmt.Sprintf("ifFalse %s goto %s", a0, a1)
	case OpPrint:
		return fmt.Sprintf("print %s", a0)
	case OpParamPush:
		return fmt.Sprintf("push %s", a0)
	case OpCall:
		if in.Result != nil {
			return fmt.Sprintf("%s = call %s, %s", in.Result, a0, a1)
		}
		return fmt.Sprintf("call %s, %s", a0, a1)
	case OpReturn:
		if a0 == nil {
			return "return"
		}
		return fmt.Sprintf("return %s", a0)
	case OpFunction:
		return fmt.Sprintf("function %s:", a0)
	case OpParam:
		return fmt.Sprintf("param %s", a0)
	case OpEndFunction:
		return fmt.Sprintf("end_function %s", a0)
	}
	return in.Op.String()
}

// Program is a flat three-address instruction sequence.
type Program struct {
	Instrs []*Instruction
}

func (p *Program) Emit(in *Instruction) { p.Instrs = append(p.Instrs, in) }

// Lines renders the program one instruction per line.
func (p *Program) Lines() []string {
	lines := make([]string, len(p.Instrs))
	for i, in := range p.Instrs {
		lines[i] = in.String()
	}
	return lines
}

func (p *Program) String() string { return strings.Join(p.Lines(), "\n") }

// Clone deep-copies the instruction list. Values are immutable and shared.
func (p *Program) Clone() *Program {
	out := &Program{Instrs: make([]*Instruction, len(p.Instrs))}
	for i, in := range p.Instrs {
		c := *in
		c.Args = append([]Value(nil), in.Args...)
		out.Instrs[i] = &c
	}
	return out
}

// LabelIndex maps every label to its instruction index.
func (p *Program) LabelIndex() (map[string]int, error) {
	labels := make(map[string]int)
	for i, in := range p.Instrs {
		if in.Op != OpLabel {
			continue
		}
		name := in.Arg(0).String()
		if _, dup := labels[name]; dup {
			return nil, fmt.Errorf("label %s defined twice", name)
		}
		labels[name] = i
	}
	return labels, nil
}

// FuncIndex maps every function name to the index of its function marker.
func (p *Program) FuncIndex() map[string]int {
	funcs := make(map[string]int)
	for i, in := range p.Instrs {
		if in.Op == OpFunction {
			funcs[in.Arg(0).String()] = i
		}
	}
	return funcs
}

// FloorDiv divides rounding toward negative infinity. b must be non-zero.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// BaseName strips the numbering added to redeclared names.
func BaseName(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}
