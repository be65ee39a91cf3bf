package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/token"
	"github.com/xplshn/vibec/pkg/util"
)

type qbeBackend struct {
	out        *strings.Builder
	strs       map[string]string
	strOrder   []string
	shared     map[string]bool
	types      map[string]ast.Type
	retTypes   map[string]string
	paramCls   map[string][]string
	tmpSeq     int
	terminated bool
	curRet     string
	pending    []ir.Value
}

func NewQBEBackend() Backend { return &qbeBackend{} }

var qbeCmp = map[ir.Op][2]string{
	ir.OpEq:  {"ceql", "ceqd"},
	ir.OpNeq: {"cnel", "cned"},
	ir.OpLt:  {"csltl", "cltd"},
	ir.OpGt:  {"csgtl", "cgtd"},
	ir.OpLte: {"cslel", "cled"},
	ir.OpGte: {"csgel", "cged"},
}

var qbeArith = map[ir.Op]string{
	ir.OpAdd: "add", ir.OpSub: "sub", ir.OpMul: "mul", ir.OpDiv: "div",
	ir.OpAnd: "and", ir.OpOr: "or", ir.OpShl: "shl", ir.OpShr: "sar",
}

// GenerateIL lowers the program to QBE intermediate language text.
func (b *qbeBackend) GenerateIL(prog *ir.Program, cfg *config.Config) (il string, err error) {
	defer func() {
		if r := recover(); r != nil {
			bo, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			il, err = "", bo.err
		}
	}()

	units, err := splitUnits(prog)
	if err != nil {
		return "", err
	}
	var body strings.Builder
	b.out = &body
	b.strs = make(map[string]string)
	b.shared = sharedNames(units)
	b.types = nameTypes(units)
	b.retTypes = make(map[string]string)
	b.paramCls = make(map[string][]string)
	for _, u := range units[1:] {
		b.retTypes[u.name] = b.returnClass(u)
		for _, p := range u.params {
			b.paramCls[u.name] = append(b.paramCls[u.name], classOf(p.Typ))
		}
	}

	for _, u := range units {
		b.genFunc(u)
	}

	var sb strings.Builder
	b.stringLabel("%ld\n")
	b.stringLabel("%s\n")
	b.stringLabel("%.15g\n")
	b.stringLabel(token.TypeStrings[token.True])
	b.stringLabel(token.TypeStrings[token.False])
	b.stringLabel(token.TypeStrings[token.Null])

	names := make([]string, 0, len(b.shared))
	for n := range b.shared {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&sb, "data $g_%s = { %s 0 }\n", qbeSym(n), b.class(n))
	}
	for _, s := range b.strOrder {
		fmt.Fprintf(&sb, "data $%s = { b %s, b 0 }\n", b.strs[s], escapeAsciz(s))
	}
	sb.WriteString(body.String())
	return sb.String(), nil
}

func (b *qbeBackend) fail(format string, args ...interface{}) {
	panic(bailout{util.ErrorAt(util.CodeGenerationError, 0, 0, format, args...)})
}

func (b *qbeBackend) emit(format string, args ...interface{}) {
	if b.terminated {
		b.block(b.freshName("b"))
	}
	fmt.Fprintf(b.out, "\t"+format+"\n", args...)
}

func (b *qbeBackend) block(name string) {
	fmt.Fprintf(b.out, "@%s\n", name)
	b.terminated = false
}

// jump emits a block terminator.
func (b *qbeBackend) jump(format string, args ...interface{}) {
	b.emit(format, args...)
	b.terminated = true
}

func (b *qbeBackend) freshName(prefix string) string {
	b.tmpSeq++
	return fmt.Sprintf(".%s%d", prefix, b.tmpSeq)
}

// qbeSym makes an IR name usable as a QBE identifier.
func qbeSym(name string) string { return strings.ReplaceAll(name, ".", "_") }

func (b *qbeBackend) stringLabel(s string) string {
	if l, ok := b.strs[s]; ok {
		return l
	}
	l := fmt.Sprintf("str_%d", len(b.strOrder))
	b.strs[s] = l
	b.strOrder = append(b.strOrder, s)
	return l
}

func classOf(t ast.Type) string {
	if t == ast.TypeFloat {
		return "d"
	}
	return "l"
}

func (b *qbeBackend) class(name string) string { return classOf(b.types[name]) }

func (b *qbeBackend) returnClass(u *unit) string {
	for _, in := range u.instrs {
		if in.Op == ir.OpReturn && in.Arg(0) != nil {
			return classOf(valueType(in.Arg(0), b.types))
		}
	}
	return "l"
}

func (b *qbeBackend) zero() string {
	if b.curRet == "d" {
		return "d_0"
	}
	return "0"
}

func (b *qbeBackend) genFunc(u *unit) {
	b.terminated = false
	b.curRet = b.retTypes[u.name]
	if u.isMain {
		b.curRet = "l"
		b.out.WriteString("\nexport function w $main() {\n")
	} else {
		params := make([]string, len(u.params))
		for i, p := range u.params {
			params[i] = fmt.Sprintf("%s %%p%d", classOf(p.Typ), i)
		}
		fmt.Fprintf(b.out, "\nfunction %s $%s(%s) {\n", b.retTypes[u.name], funcLabel(qbeSym(u.name)), strings.Join(params, ", "))
	}
	b.block("start")
	for i, p := range u.params {
		b.store(p.Defines(), fmt.Sprintf("%%p%d", i), classOf(p.Typ))
	}
	for _, in := range u.instrs {
		b.genInstr(in)
	}
	if !b.terminated {
		b.jump("ret %s", b.zero())
	}
	b.out.WriteString("}\n")
}

// operand renders v for use in class cls, loading statics and converting
// integers to doubles when needed.
func (b *qbeBackend) operand(v ir.Value, cls string) string {
	switch x := v.(type) {
	case *ir.Const:
		switch x.Kind {
		case ir.ConstInt:
			if cls == "d" {
				return "d_" + x.Text
			}
			return x.Text
		case ir.ConstFloat:
			return "d_" + x.Text
		case ir.ConstString:
			return "$" + b.stringLabel(x.Text)
		case ir.ConstBool:
			if x.Text == "true" {
				return "1"
			}
			return "0"
		}
		return "0"
	case *ir.Var, *ir.Temporary:
		name := x.String()
		src := b.class(name)
		ref := "%" + qbeSym(name)
		if b.shared[name] {
			t := "%" + b.freshName("ld")
			b.emit("%s =%s load%s $g_%s", t, src, src, qbeSym(name))
			ref = t
		}
		if src == "l" && cls == "d" {
			t := "%" + b.freshName("cv")
			b.emit("%s =d sltof %s", t, ref)
			ref = t
		}
		return ref
	case *ir.Func:
		return "$" + funcLabel(qbeSym(x.Name))
	}
	b.fail("operand %v is not supported by the qbe backend", v)
	return ""
}

func (b *qbeBackend) store(name, val, cls string) {
	if b.shared[name] {
		b.emit("store%s %s, $g_%s", cls, val, qbeSym(name))
		return
	}
	b.emit("%%%s =%s copy %s", qbeSym(name), cls, val)
}

// define writes the result of an instruction computed into a fresh temporary.
func (b *qbeBackend) define(name, cls, rhs string) {
	if b.shared[name] {
		t := "%" + b.freshName("st")
		b.emit("%s =%s %s", t, cls, rhs)
		b.emit("store%s %s, $g_%s", cls, t, qbeSym(name))
		return
	}
	b.emit("%%%s =%s %s", qbeSym(name), cls, rhs)
}

func (b *qbeBackend) genInstr(in *ir.Instruction) {
	switch {
	case in.Op == ir.OpAssign:
		if _, ok := in.Arg(0).(*ir.Array); ok {
			b.fail("arrays are not supported by the qbe backend")
		}
		cls := b.class(in.Defines())
		b.store(in.Defines(), b.operand(in.Arg(0), cls), cls)
		return
	case in.Op.IsBinary():
		b.genBinary(in)
		return
	}

	switch in.Op {
	case ir.OpLabel:
		if !b.terminated {
			b.jump("jmp @%s", in.Arg(0))
		}
		b.block(in.Arg(0).String())
	case ir.OpGoto, ir.OpBreak:
		b.jump("jmp @%s", in.Target())
	case ir.OpIfTrue, ir.OpIfFalse:
		c := b.operand(in.Arg(0), "l")
		next := b.freshName("b")
		if in.Op == ir.OpIfTrue {
			b.jump("jnz %s, @%s, @%s", c, in.Target(), next)
		} else {
			b.jump("jnz %s, @%s, @%s", c, next, in.Target())
		}
		b.block(next)
	case ir.OpPrint:
		b.genPrint(in)
	case ir.OpParamPush:
		b.pending = append(b.pending, in.Arg(0))
	case ir.OpCall:
		b.genCall(in)
	case ir.OpReturn:
		if v := in.Arg(0); v != nil {
			b.jump("ret %s", b.operand(v, b.curRet))
		} else {
			b.jump("ret %s", b.zero())
		}
	case ir.OpIndex:
		b.fail("indexing is not supported by the qbe backend")
	case ir.OpTypeOf:
		b.fail("'%s' is not supported by the qbe backend", token.TypeStrings[token.TypeOf])
	default:
		b.fail("unsupported instruction '%s'", in.Op)
	}
}

func (b *qbeBackend) genBinary(in *ir.Instruction) {
	a, c := in.Arg(0), in.Arg(1)
	ta, tc := valueType(a, b.types), valueType(c, b.types)
	if ta == ast.TypeString || tc == ast.TypeString {
		b.fail("string operator '%s' is not supported by the qbe backend", in.Op)
	}
	cls := "l"
	if ta == ast.TypeFloat || tc == ast.TypeFloat {
		cls = "d"
	}
	x, y := b.operand(a, cls), b.operand(c, cls)
	dst := in.Defines()

	if cmp, ok := qbeCmp[in.Op]; ok {
		op := cmp[0]
		if cls == "d" {
			op = cmp[1]
		}
		b.define(dst, "l", fmt.Sprintf("%s %s, %s", op, x, y))
		return
	}
	if in.Op == ir.OpDiv && cls == "l" {
		b.floorDiv(dst, x, y)
		return
	}
	op, ok := qbeArith[in.Op]
	if !ok {
		b.fail("unsupported operator '%s'", in.Op)
	}
	b.define(dst, cls, fmt.Sprintf("%s %s, %s", op, x, y))
}

// floorDiv rounds the truncating quotient down when the remainder and the
// divisor have opposite signs.
func (b *qbeBackend) floorDiv(dst, x, y string) {
	q, r := "%"+b.freshName("q"), "%"+b.freshName("r")
	nz, sx, neg, adj := "%"+b.freshName("nz"), "%"+b.freshName("sx"), "%"+b.freshName("ng"), "%"+b.freshName("aj")
	b.emit("%s =l div %s, %s", q, x, y)
	b.emit("%s =l rem %s, %s", r, x, y)
	b.emit("%s =l cnel %s, 0", nz, r)
	b.emit("%s =l xor %s, %s", sx, r, y)
	b.emit("%s =l csltl %s, 0", neg, sx)
	b.emit("%s =l and %s, %s", adj, nz, neg)
	b.define(dst, "l", fmt.Sprintf("sub %s, %s", q, adj))
}

func (b *qbeBackend) genPrint(in *ir.Instruction) {
	v := in.Arg(0)
	typ := in.Typ
	if typ == ast.TypeUnknown {
		typ = valueType(v, b.types)
	}
	switch typ {
	case ast.TypeFloat:
		b.emit("call $printf(l $%s, ..., d %s)", b.stringLabel("%.15g\n"), b.operand(v, "d"))
	case ast.TypeString:
		b.emit("call $printf(l $%s, ..., l %s)", b.stringLabel("%s\n"), b.operand(v, "l"))
	case ast.TypeBool:
		c := b.operand(v, "l")
		yes, no, done := b.freshName("b"), b.freshName("b"), b.freshName("b")
		b.jump("jnz %s, @%s, @%s", c, yes, no)
		b.block(yes)
		b.emit("call $puts(l $%s)", b.stringLabel(token.TypeStrings[token.True]))
		b.jump("jmp @%s", done)
		b.block(no)
		b.emit("call $puts(l $%s)", b.stringLabel(token.TypeStrings[token.False]))
		b.block(done)
	case ast.TypeNull:
		b.emit("call $puts(l $%s)", b.stringLabel(token.TypeStrings[token.Null]))
	case ast.TypeInt:
		b.emit("call $printf(l $%s, ..., l %s)", b.stringLabel("%ld\n"), b.operand(v, "l"))
	default:
		b.fail("cannot print a value of type %s with the qbe backend", typ)
	}
}

func (b *qbeBackend) genCall(in *ir.Instruction) {
	n, _ := in.Arg(1).(*ir.Const).Int()
	if int(n) > len(b.pending) {
		b.fail("call %s expects %d pushed arguments, have %d", in.Arg(0), n, len(b.pending))
	}
	args := b.pending[len(b.pending)-int(n):]
	b.pending = b.pending[:len(b.pending)-int(n)]

	fn := in.Arg(0).String()
	parts := make([]string, len(args))
	for i, a := range args {
		cls := classOf(valueType(a, b.types))
		if pc := b.paramCls[fn]; i < len(pc) {
			cls = pc[i]
		}
		parts[i] = cls + " " + b.operand(a, cls)
	}
	ret := b.retTypes[fn]
	if ret == "" {
		ret = "l"
	}
	call := fmt.Sprintf("call $%s(%s)", funcLabel(qbeSym(fn)), strings.Join(parts, ", "))
	if d := in.Defines(); d != "" {
		b.define(d, ret, call)
		return
	}
	b.emit("%s", call)
}
