package codegen

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/util"
)

// allocatable is the register file handed out in first-use order.
var allocatable = []string{"rbx", "r8", "r9", "r10", "r11", "r12", "r13", "r14"}

var calleeSaved = map[string]bool{"rbx": true, "r12": true, "r13": true, "r14": true}

// Value tags passed to the runtime helpers next to a raw 64-bit value.
const (
	tagInt int64 = iota
	tagFloat
	tagString
	tagBool
	tagNull
	tagArray
)

var jccFor = map[ir.Op][2]string{
	ir.OpEq:  {"e", "e"},
	ir.OpNeq: {"ne", "ne"},
	ir.OpLt:  {"l", "b"},
	ir.OpGt:  {"g", "a"},
	ir.OpLte: {"le", "be"},
	ir.OpGte: {"ge", "ae"},
}

type asmBackend struct {
	cfg      *config.Config
	lines    []string
	strs     map[string]string
	strOrder []string
	flts     map[string]string
	fltOrder []string
	shared   map[string]bool
	types    map[string]ast.Type
	labelSeq int

	// per unit
	cur     *unit
	locs    map[string]string
	regs    []string
	spills  int
	pending []ir.Value
}

func NewAsmBackend() Backend { return &asmBackend{} }

func (b *asmBackend) Generate(prog *ir.Program, cfg *config.Config) (out *bytes.Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			bo, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			out, err = nil, bo.err
		}
	}()

	units, err := splitUnits(prog)
	if err != nil {
		return nil, err
	}
	b.cfg = cfg
	b.strs, b.flts = make(map[string]string), make(map[string]string)
	b.shared = sharedNames(units)
	b.types = nameTypes(units)

	var text []string
	for _, u := range units {
		b.lines = nil
		b.genUnit(u)
		if cfg.IsFeatureEnabled(config.FeatPeephole) {
			b.lines = peephole(b.lines)
		}
		text = append(text, b.lines...)
	}

	var buf bytes.Buffer
	buf.WriteString("    .intel_syntax noprefix\n")
	if len(b.shared) > 0 {
		buf.WriteString("    .data\n")
		names := make([]string, 0, len(b.shared))
		for n := range b.shared {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(&buf, "g_%s: .quad 0\n", n)
		}
	}
	if len(b.strOrder)+len(b.fltOrder) > 0 {
		buf.WriteString("    .section .rodata\n")
		for _, s := range b.strOrder {
			fmt.Fprintf(&buf, "%s: .asciz %s\n", b.strs[s], escapeAsciz(s))
		}
		for _, f := range b.fltOrder {
			fmt.Fprintf(&buf, "%s: .double %s\n", b.flts[f], f)
		}
	}
	buf.WriteString("    .text\n")
	buf.WriteString("    .globl main\n")
	for _, l := range text {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return &buf, nil
}

func (b *asmBackend) fail(format string, args ...interface{}) {
	panic(bailout{util.ErrorAt(util.CodeGenerationError, 0, 0, format, args...)})
}

func (b *asmBackend) emit(format string, args ...interface{}) {
	b.lines = append(b.lines, "    "+fmt.Sprintf(format, args...))
}

func (b *asmBackend) label(name string) { b.lines = append(b.lines, name+":") }

func funcLabel(name string) string { return "fn_" + name }

func (b *asmBackend) unitLabel(u *unit) string {
	if u.isMain {
		return "main"
	}
	return funcLabel(u.name)
}

func (b *asmBackend) epilogue() string { return ".L" + b.unitLabel(b.cur) + "_epilogue" }

// allocate binds the first N frame names of the unit to registers and spills
// the rest to stack slots.
func (b *asmBackend) allocate(u *unit) {
	n := b.cfg.Registers
	if n < 0 {
		n = 0
	}
	if n > len(allocatable) {
		n = len(allocatable)
	}
	b.locs, b.regs, b.spills = make(map[string]string), nil, 0
	for _, name := range u.names() {
		if b.shared[name] {
			continue
		}
		if len(b.regs) < n {
			reg := allocatable[len(b.regs)]
			b.regs = append(b.regs, reg)
			b.locs[name] = reg
			continue
		}
		b.spills++
		b.locs[name] = fmt.Sprintf("qword [rbp - %d]", 8*b.spills)
	}
}

func (b *asmBackend) genUnit(u *unit) {
	b.cur = u
	b.allocate(u)

	b.label(b.unitLabel(u))
	b.emit("push rbp")
	b.emit("mov rbp, rsp")
	if frame := (8*b.spills + 15) &^ 15; frame > 0 {
		b.emit("sub rsp, %d", frame)
	}
	saved := b.savedCallee()
	for _, r := range saved {
		b.emit("push %s", r)
	}

	for i, p := range u.params {
		b.emit("mov rax, qword [rbp + %d]", 16+8*i)
		b.storeRax(p.Defines())
	}
	for _, in := range u.instrs {
		b.genInstr(in)
	}

	b.emit("mov rax, 0")
	b.label(b.epilogue())
	for i := len(saved) - 1; i >= 0; i-- {
		b.emit("pop %s", saved[i])
	}
	b.emit("mov rsp, rbp")
	b.emit("pop rbp")
	b.emit("ret")
}

func (b *asmBackend) savedCallee() []string {
	var out []string
	for _, r := range b.regs {
		if calleeSaved[r] {
			out = append(out, r)
		}
	}
	return out
}

func (b *asmBackend) loc(name string) string {
	if b.shared[name] {
		return fmt.Sprintf("qword [rip + g_%s]", name)
	}
	if l, ok := b.locs[name]; ok {
		return l
	}
	b.fail("no storage for '%s' in %s", name, b.cur.name)
	return ""
}

func isReg(loc string) bool { return !strings.Contains(loc, "[") }

func (b *asmBackend) stringLabel(s string) string {
	if l, ok := b.strs[s]; ok {
		return l
	}
	l := fmt.Sprintf("str_%d", len(b.strOrder))
	b.strs[s] = l
	b.strOrder = append(b.strOrder, s)
	return l
}

func (b *asmBackend) floatLabel(text string) string {
	if l, ok := b.flts[text]; ok {
		return l
	}
	l := fmt.Sprintf("flt_%d", len(b.fltOrder))
	b.flts[text] = l
	b.fltOrder = append(b.fltOrder, text)
	return l
}

// load materializes v into reg.
func (b *asmBackend) load(reg string, v ir.Value) {
	switch x := v.(type) {
	case *ir.Const:
		switch x.Kind {
		case ir.ConstInt:
			b.emit("mov %s, %s", reg, x.Text)
		case ir.ConstFloat:
			b.emit("mov %s, qword [rip + %s]", reg, b.floatLabel(x.Text))
		case ir.ConstString:
			b.emit("lea %s, [rip + %s]", reg, b.stringLabel(x.Text))
		case ir.ConstBool:
			if x.Text == "true" {
				b.emit("mov %s, 1", reg)
			} else {
				b.emit("mov %s, 0", reg)
			}
		default:
			b.emit("mov %s, 0", reg)
		}
	case *ir.Var, *ir.Temporary:
		if l := b.loc(x.String()); l != reg {
			b.emit("mov %s, %s", reg, l)
		}
	case *ir.Func:
		b.emit("lea %s, [rip + %s]", reg, funcLabel(x.Name))
	case *ir.Array:
		b.newArray(x)
		if reg != "rax" {
			b.emit("mov %s, rax", reg)
		}
	default:
		b.fail("cannot load operand %v", v)
	}
}

// loadFloat loads v into an xmm register, converting integer operands.
func (b *asmBackend) loadFloat(xmm string, v ir.Value) {
	if c, ok := v.(*ir.Const); ok && c.Kind == ir.ConstInt {
		f, _ := c.Float()
		b.load("rax", ir.FloatConst(f))
		b.emit("movq %s, rax", xmm)
		return
	}
	b.load("rax", v)
	if valueType(v, b.types) == ast.TypeFloat {
		b.emit("movq %s, rax", xmm)
	} else {
		b.emit("cvtsi2sd %s, rax", xmm)
	}
}

func (b *asmBackend) storeRax(name string) {
	b.emit("mov %s, rax", b.loc(name))
}

// assign writes v into dst, loading straight into a register destination.
func (b *asmBackend) assign(dst string, typ ast.Type, v ir.Value) {
	if typ == ast.TypeFloat {
		if c, ok := v.(*ir.Const); ok && c.Kind == ir.ConstInt {
			f, _ := c.Float()
			v = ir.FloatConst(f)
		} else if valueType(v, b.types) == ast.TypeInt {
			b.loadFloat("xmm0", v)
			b.emit("movq rax, xmm0")
			b.storeRax(dst)
			return
		}
	}
	if l := b.loc(dst); isReg(l) {
		b.load(l, v)
		return
	}
	b.load("rax", v)
	b.storeRax(dst)
}

func tagOf(t ast.Type) int64 {
	switch t {
	case ast.TypeInt:
		return tagInt
	case ast.TypeFloat:
		return tagFloat
	case ast.TypeString:
		return tagString
	case ast.TypeBool:
		return tagBool
	case ast.TypeArray:
		return tagArray
	}
	return tagNull
}

// runtimeCall calls a support routine with the SysV argument registers,
// keeping the caller-saved part of the register file intact.
func (b *asmBackend) runtimeCall(fn string, args ...ir.Value) {
	var saved []string
	for _, r := range b.regs {
		if !calleeSaved[r] {
			saved = append(saved, r)
		}
	}
	for _, r := range saved {
		b.emit("push %s", r)
	}
	if len(saved)%2 == 1 {
		b.emit("sub rsp, 8")
	}
	argRegs := []string{"rdi", "rsi", "rdx", "rcx"}
	for i, a := range args {
		b.load(argRegs[i], a)
	}
	b.emit("call %s", fn)
	if len(saved)%2 == 1 {
		b.emit("add rsp, 8")
	}
	for i := len(saved) - 1; i >= 0; i-- {
		b.emit("pop %s", saved[i])
	}
}

func (b *asmBackend) newArray(a *ir.Array) {
	for i := len(a.Elems) - 1; i >= 0; i-- {
		b.load("rax", a.Elems[i])
		b.emit("push rax")
	}
	b.emit("mov rsi, rsp")
	b.runtimeCall("__vibe_array", ir.IntConst(int64(len(a.Elems))))
	if len(a.Elems) > 0 {
		b.emit("add rsp, %d", 8*len(a.Elems))
	}
}

func (b *asmBackend) freshLabel() string {
	b.labelSeq++
	return fmt.Sprintf(".Lfd%d", b.labelSeq)
}

func (b *asmBackend) genInstr(in *ir.Instruction) {
	switch {
	case in.Op == ir.OpAssign:
		b.assign(in.Defines(), in.Typ, in.Arg(0))
		return
	case in.Op.IsBinary():
		b.genBinary(in)
		return
	}

	switch in.Op {
	case ir.OpLabel:
		b.label("." + in.Arg(0).String())
	case ir.OpGoto, ir.OpBreak:
		b.emit("jmp .%s", in.Target())
	case ir.OpIfTrue, ir.OpIfFalse:
		b.load("rax", in.Arg(0))
		b.emit("cmp rax, 0")
		if in.Op == ir.OpIfTrue {
			b.emit("jne .%s", in.Target())
		} else {
			b.emit("je .%s", in.Target())
		}
	case ir.OpPrint:
		typ := in.Typ
		if typ == ast.TypeUnknown {
			typ = valueType(in.Arg(0), b.types)
		}
		b.runtimeCall("__vibe_print", in.Arg(0), ir.IntConst(tagOf(typ)))
	case ir.OpParamPush:
		b.pending = append(b.pending, in.Arg(0))
	case ir.OpCall:
		b.genCall(in)
	case ir.OpReturn:
		if v := in.Arg(0); v != nil {
			b.load("rax", v)
		} else {
			b.emit("mov rax, 0")
		}
		b.emit("jmp %s", b.epilogue())
	case ir.OpIndex:
		b.runtimeCall("__vibe_index", in.Arg(0), in.Arg(1))
		b.storeRax(in.Defines())
	case ir.OpTypeOf:
		b.runtimeCall("__vibe_typeof", in.Arg(0), ir.IntConst(tagOf(valueType(in.Arg(0), b.types))))
		b.storeRax(in.Defines())
	default:
		b.fail("unsupported instruction '%s'", in.Op)
	}
}

// genCall saves the whole register file, pushes arguments right to left and
// cleans them up after the call.
func (b *asmBackend) genCall(in *ir.Instruction) {
	n, _ := in.Arg(1).(*ir.Const).Int()
	if int(n) > len(b.pending) {
		b.fail("call %s expects %d pushed arguments, have %d", in.Arg(0), n, len(b.pending))
	}
	args := b.pending[len(b.pending)-int(n):]
	b.pending = b.pending[:len(b.pending)-int(n)]

	for _, r := range b.regs {
		b.emit("push %s", r)
	}
	for i := len(args) - 1; i >= 0; i-- {
		b.load("rax", args[i])
		b.emit("push rax")
	}
	b.emit("call %s", funcLabel(in.Arg(0).String()))
	if len(args) > 0 {
		b.emit("add rsp, %d", 8*len(args))
	}
	for i := len(b.regs) - 1; i >= 0; i-- {
		b.emit("pop %s", b.regs[i])
	}
	if d := in.Defines(); d != "" {
		b.storeRax(d)
	}
}

func (b *asmBackend) genBinary(in *ir.Instruction) {
	a, c := in.Arg(0), in.Arg(1)
	ta, tc := valueType(a, b.types), valueType(c, b.types)

	if in.Op == ir.OpAdd && (ta == ast.TypeString || tc == ast.TypeString || in.Typ == ast.TypeString) {
		b.runtimeCall("__vibe_concat", a, ir.IntConst(tagOf(ta)), c, ir.IntConst(tagOf(tc)))
		b.storeRax(in.Defines())
		return
	}
	if ta == ast.TypeFloat || tc == ast.TypeFloat {
		b.genFloatBinary(in)
		return
	}

	b.load("rax", a)
	b.load("rcx", c)
	switch in.Op {
	case ir.OpAdd:
		b.emit("add rax, rcx")
	case ir.OpSub:
		b.emit("sub rax, rcx")
	case ir.OpMul:
		b.emit("imul rax, rcx")
	case ir.OpDiv:
		done := b.freshLabel()
		b.emit("cqo")
		b.emit("idiv rcx")
		b.emit("test rdx, rdx")
		b.emit("je %s", done)
		b.emit("xor rdx, rcx")
		b.emit("jns %s", done)
		b.emit("dec rax")
		b.label(done)
	case ir.OpShl:
		b.emit("shl rax, cl")
	case ir.OpShr:
		b.emit("sar rax, cl")
	case ir.OpAnd:
		b.emit("and rax, rcx")
	case ir.OpOr:
		b.emit("or rax, rcx")
	default:
		cc, ok := jccFor[in.Op]
		if !ok {
			b.fail("unsupported operator '%s'", in.Op)
		}
		b.emit("cmp rax, rcx")
		b.emit("set%s al", cc[0])
		b.emit("movzx rax, al")
	}
	b.storeRax(in.Defines())
}

func (b *asmBackend) genFloatBinary(in *ir.Instruction) {
	b.loadFloat("xmm0", in.Arg(0))
	b.loadFloat("xmm1", in.Arg(1))
	switch in.Op {
	case ir.OpAdd:
		b.emit("addsd xmm0, xmm1")
	case ir.OpSub:
		b.emit("subsd xmm0, xmm1")
	case ir.OpMul:
		b.emit("mulsd xmm0, xmm1")
	case ir.OpDiv:
		b.emit("divsd xmm0, xmm1")
	default:
		cc, ok := jccFor[in.Op]
		if !ok {
			b.fail("unsupported float operator '%s'", in.Op)
		}
		b.emit("ucomisd xmm0, xmm1")
		b.emit("set%s al", cc[1])
		b.emit("movzx rax, al")
		b.storeRax(in.Defines())
		return
	}
	b.emit("movq rax, xmm0")
	b.storeRax(in.Defines())
}

// peephole drops self moves and the second half of a move pair that swaps
// the same two operands back.
func peephole(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		dst, src, ok := parseMov(l)
		if ok && dst == src {
			continue
		}
		if ok && len(out) > 0 {
			if pdst, psrc, pok := parseMov(out[len(out)-1]); pok && pdst == src && psrc == dst {
				continue
			}
		}
		out = append(out, l)
	}
	return out
}

func parseMov(line string) (dst, src string, ok bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "mov ") {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(s, "mov "), ", ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
