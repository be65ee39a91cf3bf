package vm

import (
	"context"
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/util"
)

func v(name string) *ir.Var     { return &ir.Var{Name: name} }
func tmp(id int) *ir.Temporary  { return &ir.Temporary{ID: id} }
func lbl(name string) *ir.Label { return &ir.Label{Name: name} }
func fn(name string) *ir.Func   { return &ir.Func{Name: name} }

func bin(op ir.Op, typ ast.Type, dst, a, b ir.Value) *ir.Instruction {
	return &ir.Instruction{Op: op, Typ: typ, Result: dst, Args: []ir.Value{a, b}}
}

func mov(dst, val ir.Value, typ ast.Type) *ir.Instruction {
	return &ir.Instruction{Op: ir.OpAssign, Typ: typ, Result: dst, Args: []ir.Value{val}}
}

func op(o ir.Op, args ...ir.Value) *ir.Instruction {
	return &ir.Instruction{Op: o, Args: args}
}

func call(dst ir.Value, name string, n int64) *ir.Instruction {
	return &ir.Instruction{Op: ir.OpCall, Result: dst, Args: []ir.Value{fn(name), ir.IntConst(n)}}
}

func run(instrs []*ir.Instruction, cfg *config.Config) (string, error) {
	return Run(context.Background(), &ir.Program{Instrs: instrs}, cfg)
}

func kindOf(t *testing.T, err error) util.Kind {
	t.Helper()
	d, ok := util.AsDiagnostic(err)
	be.True(t, ok)
	return d.Kind
}

func TestRun_Values(t *testing.T) {
	out, err := run([]*ir.Instruction{
		mov(v("x"), ir.IntConst(7), ast.TypeInt),
		bin(ir.OpDiv, ast.TypeInt, tmp(1), v("x"), ir.IntConst(2)),
		op(ir.OpPrint, tmp(1)),
		bin(ir.OpDiv, ast.TypeInt, tmp(2), ir.IntConst(-7), ir.IntConst(2)),
		op(ir.OpPrint, tmp(2)),
		bin(ir.OpDiv, ast.TypeFloat, tmp(3), ir.FloatConst(7), ir.IntConst(2)),
		op(ir.OpPrint, tmp(3)),
		bin(ir.OpAdd, ast.TypeString, tmp(4), ir.StringConst("n="), ir.IntConst(3)),
		op(ir.OpPrint, tmp(4)),
		mov(tmp(5), &ir.Array{Elems: []ir.Value{ir.IntConst(1), ir.StringConst("b")}}, ast.TypeArray),
		op(ir.OpPrint, tmp(5)),
		mov(v("r"), ir.IntConst(1), ast.TypeFloat),
		op(ir.OpPrint, v("r")),
		op(ir.OpPrint, ir.NullConst()),
		bin(ir.OpShr, ast.TypeInt, tmp(6), ir.IntConst(-7), ir.IntConst(1)),
		op(ir.OpPrint, tmp(6)),
	}, nil)
	be.Err(t, err, nil)
	be.Equal(t, out, "3\n-4\n3.5\nn=3\n[1, b]\n1.0\nghosted\n-4")
}

func TestRun_Comparisons(t *testing.T) {
	out, err := run([]*ir.Instruction{
		bin(ir.OpEq, ast.TypeBool, tmp(1), ir.IntConst(1), ir.FloatConst(1)),
		op(ir.OpPrint, tmp(1)),
		bin(ir.OpLt, ast.TypeBool, tmp(2), ir.StringConst("a"), ir.StringConst("b")),
		op(ir.OpPrint, tmp(2)),
		bin(ir.OpNeq, ast.TypeBool, tmp(3), ir.NullConst(), ir.IntConst(0)),
		op(ir.OpPrint, tmp(3)),
		bin(ir.OpAnd, ast.TypeBool, tmp(4), ir.BoolConst(true), ir.BoolConst(false)),
		op(ir.OpPrint, tmp(4)),
		bin(ir.OpGte, ast.TypeBool, tmp(5), ir.FloatConst(2.5), ir.IntConst(2)),
		op(ir.OpPrint, tmp(5)),
	}, nil)
	be.Err(t, err, nil)
	be.Equal(t, out, "noCap\nnoCap\nnoCap\ncap\nnoCap")
}

func TestRun_TypeOf(t *testing.T) {
	values := []ir.Value{
		ir.IntConst(1), ir.FloatConst(1.5), ir.StringConst("s"),
		ir.BoolConst(true), ir.NullConst(), &ir.Array{},
	}
	var instrs []*ir.Instruction
	for i, val := range values {
		instrs = append(instrs,
			&ir.Instruction{Op: ir.OpTypeOf, Typ: ast.TypeString, Result: tmp(i + 1), Args: []ir.Value{val}},
			op(ir.OpPrint, tmp(i+1)),
		)
	}
	out, err := run(instrs, nil)
	be.Err(t, err, nil)
	be.Equal(t, out, "clout\nratio\ntea\nmood\nghosted\ngang")
}

func TestRun_Loop(t *testing.T) {
	out, err := run([]*ir.Instruction{
		mov(v("i"), ir.IntConst(0), ast.TypeInt),
		op(ir.OpGoto, lbl("L2")),
		op(ir.OpLabel, lbl("L1")),
		op(ir.OpPrint, v("i")),
		bin(ir.OpAdd, ast.TypeInt, tmp(1), v("i"), ir.IntConst(1)),
		mov(v("i"), tmp(1), ast.TypeInt),
		op(ir.OpLabel, lbl("L2")),
		bin(ir.OpLt, ast.TypeBool, tmp(2), v("i"), ir.IntConst(3)),
		op(ir.OpIfTrue, tmp(2), lbl("L1")),
		op(ir.OpLabel, lbl("L3")),
	}, nil)
	be.Err(t, err, nil)
	be.Equal(t, out, "0\n1\n2")
}

func TestRun_Functions(t *testing.T) {
	out, err := run([]*ir.Instruction{
		mov(v("g"), ir.IntConst(10), ast.TypeInt),
		op(ir.OpFunction, fn("add")),
		op(ir.OpParam, v("a")),
		op(ir.OpParam, v("b")),
		bin(ir.OpAdd, ast.TypeInt, tmp(1), v("a"), v("b")),
		mov(v("g"), tmp(1), ast.TypeInt),
		op(ir.OpReturn, tmp(1)),
		op(ir.OpEndFunction, fn("add")),
		op(ir.OpFunction, fn("noop")),
		op(ir.OpPrint, ir.StringConst("never")),
		op(ir.OpEndFunction, fn("noop")),
		op(ir.OpParamPush, ir.IntConst(1)),
		op(ir.OpParamPush, ir.IntConst(2)),
		call(tmp(2), "add", 2),
		op(ir.OpPrint, tmp(2)),
		op(ir.OpPrint, v("g")),
	}, nil)
	be.Err(t, err, nil)
	be.Equal(t, out, "3\n3")
}

func TestRun_RecursionKeepsFramesApart(t *testing.T) {
	// fact(n) = n <= 1 ? 1 : n * fact(n - 1)
	out, err := run([]*ir.Instruction{
		op(ir.OpFunction, fn("fact")),
		op(ir.OpParam, v("n")),
		bin(ir.OpLte, ast.TypeBool, tmp(1), v("n"), ir.IntConst(1)),
		op(ir.OpIfFalse, tmp(1), lbl("L1")),
		op(ir.OpReturn, ir.IntConst(1)),
		op(ir.OpLabel, lbl("L1")),
		bin(ir.OpSub, ast.TypeInt, tmp(2), v("n"), ir.IntConst(1)),
		op(ir.OpParamPush, tmp(2)),
		call(tmp(3), "fact", 1),
		bin(ir.OpMul, ast.TypeInt, tmp(4), v("n"), tmp(3)),
		op(ir.OpReturn, tmp(4)),
		op(ir.OpEndFunction, fn("fact")),
		op(ir.OpParamPush, ir.IntConst(5)),
		call(tmp(5), "fact", 1),
		op(ir.OpPrint, tmp(5)),
	}, nil)
	be.Err(t, err, nil)
	be.Equal(t, out, "120")
}

func TestRun_Faults(t *testing.T) {
	tests := []struct {
		name   string
		instrs []*ir.Instruction
		kind   util.Kind
		msg    string
		output string
	}{
		{
			"missing label keeps earlier output",
			[]*ir.Instruction{op(ir.OpPrint, ir.IntConst(1)), op(ir.OpGoto, lbl("L9"))},
			util.RuntimeError, "Label L9 not found", "1",
		},
		{
			"division by zero",
			[]*ir.Instruction{
				op(ir.OpPrint, ir.StringConst("before")),
				bin(ir.OpDiv, ast.TypeInt, tmp(1), ir.IntConst(1), ir.IntConst(0)),
			},
			util.DivisionByZero, "Division by zero", "before",
		},
		{
			"float division by zero",
			[]*ir.Instruction{bin(ir.OpDiv, ast.TypeFloat, tmp(1), ir.FloatConst(1), ir.FloatConst(0))},
			util.DivisionByZero, "Division by zero", "",
		},
		{
			"array index out of bounds",
			[]*ir.Instruction{
				mov(v("a"), &ir.Array{Elems: []ir.Value{ir.IntConst(1)}}, ast.TypeArray),
				{Op: ir.OpIndex, Result: tmp(1), Args: []ir.Value{v("a"), ir.IntConst(5)}},
			},
			util.IndexOutOfBounds, "Index 5 out of bounds for length 1", "",
		},
		{
			"negative string index",
			[]*ir.Instruction{{Op: ir.OpIndex, Result: tmp(1), Args: []ir.Value{ir.StringConst("ab"), ir.IntConst(-1)}}},
			util.IndexOutOfBounds, "Index -1 out of bounds for length 2", "",
		},
		{
			"undefined variable",
			[]*ir.Instruction{op(ir.OpPrint, v("y"))},
			util.RuntimeError, "Undefined variable 'y'", "",
		},
		{
			"undefined function",
			[]*ir.Instruction{call(tmp(1), "ghost", 0)},
			util.RuntimeError, "Undefined function 'ghost'", "",
		},
		{
			"duplicate label",
			[]*ir.Instruction{op(ir.OpLabel, lbl("L1")), op(ir.OpLabel, lbl("L1"))},
			util.RuntimeError, "Label L1 defined twice", "",
		},
		{
			"return at top level",
			[]*ir.Instruction{op(ir.OpReturn)},
			util.RuntimeError, "return outside of a function", "",
		},
		{
			"guarded store of the wrong kind",
			[]*ir.Instruction{
				op(ir.OpPrint, ir.StringConst("before")),
				{Op: ir.OpAssign, Typ: ast.TypeInt, Result: v("y.1"), Args: []ir.Value{ir.StringConst("s")}, Guard: true},
			},
			util.RuntimeError, "Cannot store tea value in clout variable 'y'", "before",
		},
		{
			"typed parameter",
			[]*ir.Instruction{
				op(ir.OpFunction, fn("f")),
				{Op: ir.OpParam, Typ: ast.TypeBool, Args: []ir.Value{v("b")}},
				op(ir.OpEndFunction, fn("f")),
				op(ir.OpParamPush, ir.IntConst(1)),
				call(tmp(1), "f", 1),
			},
			util.RuntimeError, "Cannot store clout value in mood variable 'b'", "",
		},
		{
			"arrays do not add",
			[]*ir.Instruction{bin(ir.OpAdd, ast.TypeUnknown, tmp(1), &ir.Array{}, &ir.Array{})},
			util.RuntimeError, "Unsupported operand types for add: gang and gang", "",
		},
		{
			"unbounded recursion",
			[]*ir.Instruction{
				op(ir.OpFunction, fn("f")),
				call(tmp(1), "f", 0),
				op(ir.OpEndFunction, fn("f")),
				call(tmp(2), "f", 0),
			},
			util.RuntimeError, "Maximum call depth 4096 exceeded", "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(tt.instrs, nil)
			be.True(t, err != nil)
			be.Equal(t, kindOf(t, err), tt.kind)
			be.True(t, strings.Contains(err.Error(), tt.msg))
			be.True(t, util.IsKind(err, util.RuntimeError))
			be.Equal(t, out, tt.output)
		})
	}
}

func TestRun_GuardedStores(t *testing.T) {
	guarded := func(dst, val ir.Value, typ ast.Type) *ir.Instruction {
		in := mov(dst, val, typ)
		in.Guard = true
		return in
	}
	out, err := run([]*ir.Instruction{
		guarded(v("r"), ir.IntConst(2), ast.TypeFloat),
		op(ir.OpPrint, v("r")),
		guarded(v("n"), ir.NullConst(), ast.TypeInt),
		op(ir.OpPrint, v("n")),
		guarded(v("s"), ir.StringConst("ok"), ast.TypeString),
		op(ir.OpPrint, v("s")),
		mov(v("u"), ir.StringConst("unchecked"), ast.TypeInt),
		op(ir.OpPrint, v("u")),
	}, nil)
	be.Err(t, err, nil)
	be.Equal(t, out, "2.0\nghosted\nok\nunchecked")
}

func TestRun_StringIndexIsByRune(t *testing.T) {
	out, err := run([]*ir.Instruction{
		{Op: ir.OpIndex, Result: tmp(1), Args: []ir.Value{ir.StringConst("héllo"), ir.IntConst(1)}},
		op(ir.OpPrint, tmp(1)),
	}, nil)
	be.Err(t, err, nil)
	be.Equal(t, out, "é")
}

func infiniteLoop() []*ir.Instruction {
	return []*ir.Instruction{
		op(ir.OpLabel, lbl("L1")),
		op(ir.OpGoto, lbl("L1")),
	}
}

func TestRun_StepBudget(t *testing.T) {
	cfg := config.NewConfig()
	cfg.MaxSteps = 100

	_, err := run(infiniteLoop(), cfg)
	be.True(t, err != nil)
	be.True(t, strings.Contains(err.Error(), "Step budget of 100 exceeded"))
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, &ir.Program{Instrs: infiniteLoop()}, nil)
	be.True(t, err != nil)
	be.True(t, strings.Contains(err.Error(), context.Canceled.Error()))
}

func TestValue_String(t *testing.T) {
	be.Equal(t, Float(2).String(), "2.0")
	be.Equal(t, Float(0.1).String(), "0.1")
	be.Equal(t, Bool(false).String(), "cap")
	be.Equal(t, Array([]Value{Int(1), Array([]Value{String("x")})}).String(), "[1, [x]]")
	be.Equal(t, Null().String(), "ghosted")
}
