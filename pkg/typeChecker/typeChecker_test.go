package typeChecker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/lexer"
	"github.com/xplshn/vibec/pkg/parser"
	"github.com/xplshn/vibec/pkg/util"
)

func check(t *testing.T, body string, cfg *config.Config) (*ast.Node, error) {
	t.Helper()
	toks, err := lexer.Tokenize("starterPack p {\n" + body + "\n}")
	require.NoError(t, err)
	root, err := parser.NewParser(toks, cfg).Parse()
	require.NoError(t, err)
	return root, NewTypeChecker(cfg).Check(root)
}

func TestCheck_Accepts(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"shadowing in nested block", "clout x = 1; { clout x = 2; shoutout(x) }"},
		{"implicit declaration", "y = 3; y = y + 1; shoutout(y)"},
		{"int into float", "ratio r = 1; r = 2"},
		{"null into anything", "tea s = ghosted; s = \"a\""},
		{"string concat", "shoutout(\"n=\" + 3 + noCap + 1.5)"},
		{"mixed numeric", "ratio r = 1 + 2.5 * 3"},
		{"recursion", "serve f(clout n) { smash n <= 1 { return 1 } return n * f(n - 1) } shoutout(f(5))"},
		{"untyped params", "serve g(a, b) { return a + b } shoutout(g(1, 2))"},
		{"break in for", "yeet (clout i = 0; i < 3; i = i + 1) { staph }"},
		{"break in nested block", "grind noCap { smash cap { staph } }"},
		{"array index", "gang a = [1, 2]; shoutout(a[0])"},
		{"string index", "tea s = \"ab\"; shoutout(s[1])"},
		{"null comparison", "tea s = \"x\"; shoutout(s == ghosted)"},
		{"redeclare after scope ends", "{ clout x = 1 } clout x = 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := check(t, tt.src, nil)
			require.NoError(t, err)
		})
	}
}

func TestCheck_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind util.Kind
		msg  string
	}{
		{"type mismatch", "clout x = \"hi\"", util.TypeError, "Cannot assign string to variable 'x' of type int"},
		{"assign mismatch", "mood b = noCap; b = 3", util.TypeError, "Cannot assign int to variable 'b' of type bool"},
		{"float into int", "clout x = 1.5", util.TypeError, "Cannot assign float to variable 'x' of type int"},
		{"redeclaration", "clout x = 1; clout x = 2", util.SemanticError, "Symbol 'x' already declared in this scope"},
		{"undeclared", "shoutout(y)", util.NameError, "Undeclared variable: y"},
		{"undeclared function", "shoutout(h())", util.NameError, "Undeclared function: h"},
		{"not a function", "clout x = 1; x()", util.TypeError, "'x' is not a function"},
		{"assign to function", "serve f() { } f = 1", util.TypeError, "Cannot assign to function 'f'"},
		{"arity", "serve f(a) { return a } f(1, 2)", util.TypeError, "Function 'f' expects 1 arguments but got 2"},
		{"argument type", "serve f(clout a) { return a } f(\"s\")", util.TypeError, "Argument 1 of 'f' expects int but got string"},
		{"break outside loop", "staph", util.ScopeError, "'staph' outside of a loop"},
		{"break inside function inside loop", "grind noCap { serve f() { staph } }", util.ScopeError, "'staph' outside of a loop"},
		{"return outside function", "return 1", util.ScopeError, "'return' outside of a function"},
		{"nested function", "serve f() { clout a = 1; serve g() { shoutout(a) } g() } f()", util.ScopeError, "Function 'g' cannot be declared inside function 'f'"},
		{"non-bool condition", "smash 1 { }", util.TypeError, "If condition must be a boolean expression, got int"},
		{"non-bool while", "grind \"x\" { }", util.TypeError, "While condition must be a boolean expression, got string"},
		{"negate string", "shoutout(-\"s\")", util.TypeError, "Operator '-' requires a numeric operand, got string"},
		{"not int", "shoutout(!1)", util.TypeError, "Operator '!' requires a boolean operand, got int"},
		{"logic on ints", "shoutout(1 && 2)", util.TypeError, "Operator '&&' requires boolean operands, got int and int"},
		{"string minus", "shoutout(\"a\" - 1)", util.TypeError, "Incompatible operand types for '-': string and int"},
		{"array concat", "gang a = [1]; shoutout(a + a)", util.TypeError, "Incompatible operand types for '+': array and array"},
		{"index by string", "gang a = [1]; shoutout(a[\"0\"])", util.TypeError, "Index must be an int, got string"},
		{"index an int", "clout x = 1; shoutout(x[0])", util.TypeError, "Cannot index a value of type int"},
		{"concat into int", "x = 5; x = 5 + \"a\"", util.TypeError, "Cannot assign string to variable 'x' of type int"},
		{"shadow leaks out", "{ clout z = 1 } shoutout(z)", util.NameError, "Undeclared variable: z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := check(t, tt.src, nil)
			require.Error(t, err)

			d, ok := util.AsDiagnostic(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.msg, d.Message)
			assert.True(t, util.IsKind(err, util.SemanticError))
		})
	}
}

func TestCheck_ErrorPosition(t *testing.T) {
	_, err := check(t, "clout a = 1;\nshoutout(b);", nil)
	require.Error(t, err)

	d, ok := util.AsDiagnostic(err)
	require.True(t, ok)
	assert.Equal(t, 3, d.Line)
	assert.Equal(t, 10, d.Column)
}

func TestCheck_AnnotatesTypes(t *testing.T) {
	root, err := check(t, "shoutout(1 + 2.5)", nil)
	require.NoError(t, err)

	stmt := root.Data.(ast.ProgramNode).Body.Data.(ast.BlockNode).Stmts[0]
	expr := stmt.Data.(ast.PrintNode).Expr
	assert.Equal(t, ast.TypeFloat, expr.Typ)

	bin := expr.Data.(ast.BinaryOpNode)
	assert.Equal(t, ast.TypeInt, bin.Left.Typ)
	assert.Equal(t, ast.TypeFloat, bin.Right.Typ)
}

func TestCheck_MaxDepth(t *testing.T) {
	src := strings.Repeat("{ ", 30) + strings.Repeat("} ", 30)
	root, err := check(t, src, nil)
	require.NoError(t, err)

	cfg := config.NewConfig()
	cfg.MaxDepth = 20
	err = NewTypeChecker(cfg).Check(root)
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.SemanticError))
	assert.Contains(t, err.Error(), "Maximum nesting depth 20 exceeded")
}

func TestCheck_RejectsNonProgramRoot(t *testing.T) {
	err := NewTypeChecker(nil).Check(nil)
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.SemanticError))
}
