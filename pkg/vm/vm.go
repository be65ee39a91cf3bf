// Package vm interprets three-address code directly.
package vm

import (
	"context"
	"strings"
	"unicode/utf8"

	"tlog.app/go/errors"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/util"
)

const (
	// checkEvery is how many steps run between cancellation checks.
	checkEvery = 1024
	// MaxCallDepth bounds recursion.
	MaxCallDepth = 4096
)

type frame struct {
	locals    map[string]Value
	args      []Value
	nextParam int
	retPC     int
	dest      ir.Value
}

type VM struct {
	prog     *ir.Program
	labels   map[string]int
	funcs    map[string]int
	ends     map[string]int
	globals  map[string]Value
	frames   []*frame
	pending  []Value
	out      []string
	maxSteps int
}

func New(prog *ir.Program, cfg *config.Config) *VM {
	m := &VM{prog: prog, globals: make(map[string]Value)}
	if cfg != nil {
		m.maxSteps = cfg.MaxSteps
	}
	return m
}

// Run executes prog and returns everything it printed, one line per print.
func Run(ctx context.Context, prog *ir.Program, cfg *config.Config) (string, error) {
	return New(prog, cfg).Run(ctx)
}

// Run executes the program. On a fault it returns the output printed so far
// together with the error.
func (m *VM) Run(ctx context.Context) (string, error) {
	err := m.run(ctx)
	return strings.Join(m.out, "\n"), err
}

func fault(kind util.Kind, format string, args ...interface{}) error {
	return util.ErrorAt(kind, 0, 0, format, args...)
}

func (m *VM) resolve() error {
	m.labels = make(map[string]int)
	m.funcs = make(map[string]int)
	m.ends = make(map[string]int)
	for i, in := range m.prog.Instrs {
		switch in.Op {
		case ir.OpLabel:
			name := in.Arg(0).String()
			if _, dup := m.labels[name]; dup {
				return fault(util.RuntimeError, "Label %s defined twice", name)
			}
			m.labels[name] = i
		case ir.OpFunction:
			m.funcs[in.Arg(0).String()] = i
		case ir.OpEndFunction:
			m.ends[in.Arg(0).String()] = i
		}
	}
	for name := range m.funcs {
		if _, ok := m.ends[name]; !ok {
			return fault(util.RuntimeError, "Function %s has no end", ir.BaseName(name))
		}
	}
	return nil
}

func (m *VM) run(ctx context.Context) error {
	if err := m.resolve(); err != nil {
		return err
	}

	instrs := m.prog.Instrs
	steps := 0
	for pc := 0; pc < len(instrs); {
		steps++
		if m.maxSteps > 0 && steps > m.maxSteps {
			return fault(util.RuntimeError, "Step budget of %d exceeded", m.maxSteps)
		}
		if steps%checkEvery == 0 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "run")
			default:
			}
		}

		next, err := m.step(pc, instrs[pc])
		if err != nil {
			return err
		}
		pc = next
	}
	return nil
}

func (m *VM) jump(label string) (int, error) {
	i, ok := m.labels[label]
	if !ok {
		return 0, fault(util.RuntimeError, "Label %s not found", label)
	}
	return i + 1, nil
}

// step executes one instruction and returns the next pc.
func (m *VM) step(pc int, in *ir.Instruction) (int, error) {
	if in.Op.IsBinary() {
		a, err := m.eval(in.Arg(0))
		if err != nil {
			return 0, err
		}
		b, err := m.eval(in.Arg(1))
		if err != nil {
			return 0, err
		}
		v, err := binary(in.Op, a, b)
		if err != nil {
			return 0, err
		}
		m.set(in.Defines(), widen(in.Typ, v))
		return pc + 1, nil
	}

	switch in.Op {
	case ir.OpAssign:
		v, err := m.eval(in.Arg(0))
		if err != nil {
			return 0, err
		}
		if in.Guard {
			if v, err = conform(in.Typ, in.Defines(), v); err != nil {
				return 0, err
			}
		}
		m.set(in.Defines(), widen(in.Typ, v))
	case ir.OpLabel:
	case ir.OpGoto, ir.OpBreak:
		return m.jump(in.Target())
	case ir.OpIfTrue, ir.OpIfFalse:
		c, err := m.eval(in.Arg(0))
		if err != nil {
			return 0, err
		}
		if c.truthy() == (in.Op == ir.OpIfTrue) {
			return m.jump(in.Target())
		}
	case ir.OpPrint:
		v, err := m.eval(in.Arg(0))
		if err != nil {
			return 0, err
		}
		m.out = append(m.out, v.String())
	case ir.OpIndex:
		return pc + 1, m.index(in)
	case ir.OpTypeOf:
		v, err := m.eval(in.Arg(0))
		if err != nil {
			return 0, err
		}
		m.set(in.Defines(), String(v.Kind.String()))
	case ir.OpParamPush:
		v, err := m.eval(in.Arg(0))
		if err != nil {
			return 0, err
		}
		m.pending = append(m.pending, v)
	case ir.OpCall:
		return m.call(pc, in)
	case ir.OpFunction:
		return m.ends[in.Arg(0).String()] + 1, nil
	case ir.OpParam:
		fr := m.top()
		if fr == nil {
			return 0, fault(util.RuntimeError, "param outside of a function")
		}
		v := Null()
		if fr.nextParam < len(fr.args) {
			v = fr.args[fr.nextParam]
		}
		fr.nextParam++
		v, err := conform(in.Typ, in.Defines(), v)
		if err != nil {
			return 0, err
		}
		fr.locals[in.Defines()] = v
	case ir.OpReturn:
		v := Null()
		if arg := in.Arg(0); arg != nil {
			var err error
			if v, err = m.eval(arg); err != nil {
				return 0, err
			}
		}
		return m.ret(v)
	case ir.OpEndFunction:
		return m.ret(Null())
	default:
		return 0, fault(util.RuntimeError, "Unknown instruction %s", in.Op)
	}
	return pc + 1, nil
}

func (m *VM) top() *frame {
	if len(m.frames) == 0 {
		return nil
	}
	return m.frames[len(m.frames)-1]
}

func (m *VM) call(pc int, in *ir.Instruction) (int, error) {
	name := in.Arg(0).String()
	target, ok := m.funcs[name]
	if !ok {
		return 0, fault(util.RuntimeError, "Undefined function '%s'", ir.BaseName(name))
	}
	if len(m.frames) >= MaxCallDepth {
		return 0, fault(util.RuntimeError, "Maximum call depth %d exceeded", MaxCallDepth)
	}
	n := int64(0)
	if c, ok := in.Arg(1).(*ir.Const); ok {
		n, _ = c.Int()
	}
	if int(n) > len(m.pending) {
		return 0, fault(util.RuntimeError, "call %s expects %d arguments, %d pushed", ir.BaseName(name), n, len(m.pending))
	}
	args := append([]Value(nil), m.pending[len(m.pending)-int(n):]...)
	m.pending = m.pending[:len(m.pending)-int(n)]

	m.frames = append(m.frames, &frame{
		locals: make(map[string]Value),
		args:   args,
		retPC:  pc + 1,
		dest:   in.Result,
	})
	return target + 1, nil
}

func (m *VM) ret(v Value) (int, error) {
	fr := m.top()
	if fr == nil {
		return 0, fault(util.RuntimeError, "return outside of a function")
	}
	m.frames = m.frames[:len(m.frames)-1]
	if fr.dest != nil {
		m.set(fr.dest.String(), v)
	}
	return fr.retPC, nil
}

func (m *VM) lookup(name string) (Value, bool) {
	if fr := m.top(); fr != nil {
		if v, ok := fr.locals[name]; ok {
			return v, true
		}
	}
	v, ok := m.globals[name]
	return v, ok
}

// set writes to the frame that already holds name, preferring the current
// frame, then globals. New names land in the current frame.
func (m *VM) set(name string, v Value) {
	fr := m.top()
	if fr == nil {
		m.globals[name] = v
		return
	}
	if _, ok := fr.locals[name]; ok {
		fr.locals[name] = v
		return
	}
	if _, ok := m.globals[name]; ok {
		m.globals[name] = v
		return
	}
	fr.locals[name] = v
}

func (m *VM) eval(v ir.Value) (Value, error) {
	switch x := v.(type) {
	case *ir.Const:
		val, ok := fromConst(x)
		if !ok {
			return Null(), fault(util.RuntimeError, "Malformed literal %s", x)
		}
		return val, nil
	case *ir.Var, *ir.Temporary:
		val, ok := m.lookup(x.String())
		if !ok {
			return Null(), fault(util.RuntimeError, "Undefined variable '%s'", ir.BaseName(x.String()))
		}
		return val, nil
	case *ir.Array:
		elems := make([]Value, len(x.Elems))
		for i, e := range x.Elems {
			ev, err := m.eval(e)
			if err != nil {
				return Null(), err
			}
			elems[i] = ev
		}
		return Array(elems), nil
	case nil:
		return Null(), fault(util.RuntimeError, "Missing operand")
	}
	return Null(), fault(util.RuntimeError, "Cannot evaluate %s", v)
}

func (m *VM) index(in *ir.Instruction) error {
	target, err := m.eval(in.Arg(0))
	if err != nil {
		return err
	}
	idx, err := m.eval(in.Arg(1))
	if err != nil {
		return err
	}
	if idx.Kind != KindInt {
		return fault(util.RuntimeError, "Index must be an int, got %s", idx.Kind)
	}

	switch target.Kind {
	case KindArray:
		if idx.Int < 0 || idx.Int >= int64(len(target.Elems)) {
			return fault(util.IndexOutOfBounds, "Index %d out of bounds for length %d", idx.Int, len(target.Elems))
		}
		m.set(in.Defines(), target.Elems[idx.Int])
	case KindString:
		n := utf8.RuneCountInString(target.Str)
		if idx.Int < 0 || idx.Int >= int64(n) {
			return fault(util.IndexOutOfBounds, "Index %d out of bounds for length %d", idx.Int, n)
		}
		m.set(in.Defines(), String(string([]rune(target.Str)[idx.Int])))
	default:
		return fault(util.RuntimeError, "Cannot index a value of type %s", target.Kind)
	}
	return nil
}

// widen promotes an int stored into a float-typed slot.
func widen(t ast.Type, v Value) Value {
	if t == ast.TypeFloat && v.Kind == KindInt {
		return Float(float64(v.Int))
	}
	return v
}

var slotKinds = map[ast.Type]Kind{
	ast.TypeInt:    KindInt,
	ast.TypeFloat:  KindFloat,
	ast.TypeString: KindString,
	ast.TypeBool:   KindBool,
	ast.TypeArray:  KindArray,
}

// conform checks v against the declared type of the slot it is stored in.
// Null fits any slot and an int widens into a float slot.
func conform(t ast.Type, name string, v Value) (Value, error) {
	want, typed := slotKinds[t]
	switch {
	case !typed, v.Kind == KindNull, v.Kind == want:
		return v, nil
	case want == KindFloat && v.Kind == KindInt:
		return widen(t, v), nil
	}
	return Null(), fault(util.RuntimeError, "Cannot store %s value in %s variable '%s'", v.Kind, want, ir.BaseName(name))
}

func binary(op ir.Op, a, b Value) (Value, error) {
	switch {
	case op == ir.OpAdd && (a.Kind == KindString || b.Kind == KindString):
		return String(a.String() + b.String()), nil
	case op.IsLogical():
		if op == ir.OpAnd {
			return Bool(a.truthy() && b.truthy()), nil
		}
		return Bool(a.truthy() || b.truthy()), nil
	case op == ir.OpEq:
		return Bool(equal(a, b)), nil
	case op == ir.OpNeq:
		return Bool(!equal(a, b)), nil
	case op.IsComparison():
		return compare(op, a, b)
	}

	if !a.IsNumeric() || !b.IsNumeric() {
		return Null(), fault(util.RuntimeError, "Unsupported operand types for %s: %s and %s", op, a.Kind, b.Kind)
	}

	if a.Kind == KindInt && b.Kind == KindInt {
		x, y := a.Int, b.Int
		switch op {
		case ir.OpAdd:
			return Int(x + y), nil
		case ir.OpSub:
			return Int(x - y), nil
		case ir.OpMul:
			return Int(x * y), nil
		case ir.OpDiv:
			if y == 0 {
				return Null(), fault(util.DivisionByZero, "Division by zero")
			}
			return Int(ir.FloorDiv(x, y)), nil
		case ir.OpShl, ir.OpShr:
			if y < 0 || y > 63 {
				return Null(), fault(util.RuntimeError, "Shift count %d out of range", y)
			}
			if op == ir.OpShl {
				return Int(x << uint(y)), nil
			}
			return Int(x >> uint(y)), nil
		}
	}

	x, y := a.asFloat(), b.asFloat()
	switch op {
	case ir.OpAdd:
		return Float(x + y), nil
	case ir.OpSub:
		return Float(x - y), nil
	case ir.OpMul:
		return Float(x * y), nil
	case ir.OpDiv:
		if y == 0 {
			return Null(), fault(util.DivisionByZero, "Division by zero")
		}
		return Float(x / y), nil
	}
	return Null(), fault(util.RuntimeError, "Unsupported operator %s for %s and %s", op, a.Kind, b.Kind)
}

func compare(op ir.Op, a, b Value) (Value, error) {
	var c int
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		c = cmp3(a.Int < b.Int, a.Int > b.Int)
	case a.IsNumeric() && b.IsNumeric():
		x, y := a.asFloat(), b.asFloat()
		c = cmp3(x < y, x > y)
	case a.Kind == KindString && b.Kind == KindString:
		c = strings.Compare(a.Str, b.Str)
	default:
		return Null(), fault(util.RuntimeError, "Cannot compare %s and %s", a.Kind, b.Kind)
	}
	switch op {
	case ir.OpLt:
		return Bool(c < 0), nil
	case ir.OpGt:
		return Bool(c > 0), nil
	case ir.OpLte:
		return Bool(c <= 0), nil
	}
	return Bool(c >= 0), nil
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}
