package codegen

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/lexer"
	"github.com/xplshn/vibec/pkg/parser"
	"github.com/xplshn/vibec/pkg/typeChecker"
	"github.com/xplshn/vibec/pkg/util"
)

func lower(t *testing.T, body string) *ir.Program {
	t.Helper()
	toks, err := lexer.Tokenize("starterPack p {\n" + body + "\n}")
	require.NoError(t, err)
	root, err := parser.NewParser(toks, nil).Parse()
	require.NoError(t, err)
	require.NoError(t, typeChecker.NewTypeChecker(nil).Check(root))

	prog, err := NewContext(nil).GenerateIR(root)
	require.NoError(t, err)
	return prog
}

func TestGenerateIR(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			"binary",
			"shoutout(1 + 2)",
			[]string{"t1 = 1 + 2", "print t1"},
		},
		{
			"shadowing gets numbered names",
			"clout x = 1; { clout x = 2; shoutout(x) } shoutout(x)",
			[]string{"x = 1", "x.1 = 2", "print x.1", "print x"},
		},
		{
			"temporary lookalike is renamed",
			"clout t1 = 5; shoutout(t1 + 1)",
			[]string{"t1.0 = 5", "t1 = t1.0 + 1", "print t1"},
		},
		{
			"implicit declaration",
			"y = 4; y = y * 2",
			[]string{"y = 4", "t1 = y * 2", "y = t1"},
		},
		{
			"zero values",
			"ratio r; tea s; mood m; gang g; clout i",
			[]string{"r = 0.0", `s = ""`, "m = cap", "g = []", "i = 0"},
		},
		{
			"if else",
			"smash noCap { shoutout(1) } pass { shoutout(2) }",
			[]string{"ifFalse noCap goto L2", "print 1", "goto L1", "L2:", "print 2", "L1:"},
		},
		{
			"else if",
			"clout x = 2; smash x == 1 { shoutout(1) } maybe x == 2 { shoutout(2) }",
			[]string{
				"x = 2",
				"t1 = x == 1", "ifFalse t1 goto L2", "print 1", "goto L1", "L2:",
				"t2 = x == 2", "ifFalse t2 goto L3", "print 2", "goto L1", "L3:",
				"L1:",
			},
		},
		{
			"while with break",
			"grind noCap { staph }",
			[]string{"L1:", "ifFalse noCap goto L2", "break L2", "goto L1", "L2:"},
		},
		{
			"for puts the condition last",
			"yeet (clout i = 0; i < 2; i = i + 1) { shoutout(i) }",
			[]string{
				"i = 0", "goto L2", "L1:", "print i",
				"t1 = i + 1", "i = t1",
				"L2:", "t2 = i < 2", "if t2 goto L1", "L3:",
			},
		},
		{
			"function and call",
			"serve add(clout a, clout b) { return a + b } shoutout(add(1, 2))",
			[]string{
				"function add:", "param a", "param b", "t1 = a + b", "return t1", "end_function add",
				"push 1", "push 2", "t2 = call add, 2", "print t2",
			},
		},
		{
			"arguments are evaluated before pushing",
			"serve id(v) { return v } shoutout(id(id(1)))",
			[]string{
				"function id:", "param v", "return v", "end_function id",
				"push 1", "t1 = call id, 1", "push t1", "t2 = call id, 1", "print t2",
			},
		},
		{
			"unary",
			"clout x = 3; shoutout(-x); shoutout(!noCap)",
			[]string{"x = 3", "t1 = 0 - x", "print t1", "t2 = noCap == cap", "print t2"},
		},
		{
			"arrays and typeof",
			"gang a = [1, 2]; shoutout(a[1]); shoutout(itsGiving(a))",
			[]string{"t1 = [1, 2]", "a = t1", "t2 = a[1]", "print t2", "t3 = typeof a", "print t3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lower(t, tt.src).Lines()
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IR mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerateIR_Deterministic(t *testing.T) {
	src := "serve f(n) { smash n < 1 { return 0 } return f(n - 1) } shoutout(f(3))"
	assert.Equal(t, lower(t, src).String(), lower(t, src).String())
}

func TestGenerateIR_FloatSlotPromotes(t *testing.T) {
	prog := lower(t, "ratio r = 1")
	require.Len(t, prog.Instrs, 1)
	assert.Equal(t, ast.TypeFloat, prog.Instrs[0].Typ)
}

func TestGenerateIR_GuardsUntypedStores(t *testing.T) {
	prog := lower(t, "serve f(a) { clout y = a; clout z = 2; y = a; w = a; shoutout(y + z + w) } f(1)")

	var got []string
	for _, in := range prog.Instrs {
		if in.Op != ir.OpAssign {
			continue
		}
		name := ir.BaseName(in.Defines())
		if in.Guard {
			name += "!"
		}
		got = append(got, name)
	}
	assert.Equal(t, []string{"y!", "z", "y!", "w"}, got)
}

func TestGenerateIR_RejectsNonProgram(t *testing.T) {
	_, err := NewContext(nil).GenerateIR(nil)
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.CodeGenerationError))
}

func asm(t *testing.T, body string, cfg *config.Config) string {
	t.Helper()
	if cfg == nil {
		cfg = config.NewConfig()
	}
	backend, err := NewBackend(cfg)
	require.NoError(t, err)
	buf, err := backend.Generate(lower(t, body), cfg)
	require.NoError(t, err)
	return buf.String()
}

func TestAsm_Layout(t *testing.T) {
	out := asm(t, `shoutout("hi"); shoutout(1.5)`, nil)

	assert.True(t, strings.HasPrefix(out, "    .intel_syntax noprefix\n"))
	assert.Contains(t, out, "    .globl main\n")
	assert.Contains(t, out, "\nmain:\n")
	assert.Contains(t, out, `str_0: .asciz "hi"`)
	assert.Contains(t, out, "flt_0: .double 1.5")
	assert.Contains(t, out, "call __vibe_print")
	assert.True(t, strings.HasSuffix(out, "    ret\n"))
}

func TestAsm_Spills(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Registers = 2

	out := asm(t, "clout a = 1; clout b = 2; clout c = 3; shoutout(a + b + c)", cfg)
	assert.Contains(t, out, "    mov rbx, 1\n")
	assert.Contains(t, out, "    mov r8, 2\n")
	assert.Contains(t, out, "    mov qword [rbp - 8], rax\n")
	assert.Contains(t, out, "    sub rsp, 32\n")
	assert.Contains(t, out, "    push rbx\n")
}

func TestAsm_NoRegisters(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Registers = 0

	out := asm(t, "clout a = 1; shoutout(a)", cfg)
	assert.Contains(t, out, "    mov qword [rbp - 8], rax\n")
	assert.NotContains(t, out, "rbx")
}

func TestAsm_FunctionsAndGlobals(t *testing.T) {
	out := asm(t, "clout g = 1; serve bump(clout n) { g = g + n; return g } shoutout(bump(2))", nil)

	assert.Contains(t, out, "g_g: .quad 0")
	assert.Contains(t, out, "qword [rip + g_g]")
	assert.Contains(t, out, "\nfn_bump:\n")
	assert.Contains(t, out, "    call fn_bump\n")
	assert.Contains(t, out, "    mov rax, qword [rbp + 16]\n")
	assert.Contains(t, out, "jmp .Lfn_bump_epilogue")
}

func TestAsm_FloorDivision(t *testing.T) {
	out := asm(t, "clout a = 7; clout b = 2; shoutout(a / b)", nil)
	assert.Contains(t, out, "    idiv rcx\n")
	assert.Contains(t, out, "    dec rax\n")
}

func TestAsm_Peephole(t *testing.T) {
	lines := []string{
		"    mov rax, rax",
		"    mov rbx, rax",
		"    mov rax, rbx",
		"    add rax, 1",
	}
	assert.Equal(t, []string{"    mov rbx, rax", "    add rax, 1"}, peephole(lines))
}

func TestAsm_PeepholeToggle(t *testing.T) {
	src := "clout a = 1; clout b = a; shoutout(b)"

	on := asm(t, src, nil)
	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatPeephole, false)
	off := asm(t, src, cfg)

	assert.LessOrEqual(t, strings.Count(on, "\n"), strings.Count(off, "\n"))
}

func TestAsm_StructuralErrors(t *testing.T) {
	label := func(name string) *ir.Instruction {
		return &ir.Instruction{Op: ir.OpLabel, Args: []ir.Value{&ir.Label{Name: name}}}
	}
	fn := &ir.Func{Name: "f"}

	tests := []struct {
		name string
		prog *ir.Program
		msg  string
	}{
		{"duplicate label", &ir.Program{Instrs: []*ir.Instruction{label("L1"), label("L1")}}, "label L1 defined twice"},
		{"unbalanced end", &ir.Program{Instrs: []*ir.Instruction{{Op: ir.OpEndFunction, Args: []ir.Value{fn}}}}, "unbalanced end of function f"},
		{"unclosed function", &ir.Program{Instrs: []*ir.Instruction{{Op: ir.OpFunction, Args: []ir.Value{fn}}}}, "function f is never closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAsmBackend().Generate(tt.prog, config.NewConfig())
			require.Error(t, err)
			assert.True(t, util.IsKind(err, util.CodeGenerationError))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestNewBackend(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Backend = "wasm"
	_, err := NewBackend(cfg)
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.CodeGenerationError))

	cfg.Backend = config.BackendQBE
	b, err := NewBackend(cfg)
	require.NoError(t, err)
	assert.IsType(t, &qbeBackend{}, b)
}

func qbeIL(t *testing.T, body string) (string, error) {
	t.Helper()
	return NewQBEBackend().(*qbeBackend).GenerateIL(lower(t, body), config.NewConfig())
}

func TestQBE_GenerateIL(t *testing.T) {
	il, err := qbeIL(t, "clout x = 7; shoutout(x / 2); shoutout(1.5); shoutout(noCap)")
	require.NoError(t, err)

	assert.Contains(t, il, "export function w $main() {")
	assert.Contains(t, il, "@start")
	assert.Contains(t, il, "=l rem")
	assert.Contains(t, il, "call $printf(")
	assert.Contains(t, il, "call $puts(")
	assert.Contains(t, il, `data $str_0 = { b "%ld\012", b 0 }`)
}

func TestQBE_Functions(t *testing.T) {
	il, err := qbeIL(t, "serve sq(clout n) { return n * n } shoutout(sq(3))")
	require.NoError(t, err)

	assert.Contains(t, il, "function l $fn_sq(l %p0) {")
	assert.Contains(t, il, "call $fn_sq(l 3)")
}

func TestQBE_Unsupported(t *testing.T) {
	tests := []struct {
		src string
		msg string
	}{
		{"gang a = [1]", "arrays are not supported by the qbe backend"},
		{`tea s = "a"; shoutout(s[0])`, "indexing is not supported by the qbe backend"},
		{"shoutout(itsGiving(1))", "'itsGiving' is not supported by the qbe backend"},
		{`tea s = "a"; shoutout(s + "b")`, "string operator '+' is not supported by the qbe backend"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			_, err := qbeIL(t, tt.src)
			require.Error(t, err)
			assert.True(t, util.IsKind(err, util.CodeGenerationError))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
