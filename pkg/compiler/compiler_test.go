package compiler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/token"
	"github.com/xplshn/vibec/pkg/util"
)

func program(body string) string { return "starterPack p {\n" + body + "\n}" }

func TestCompileAndRun(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"arithmetic", "shoutout(2 + 3 * 4)", "14"},
		{"concat", `shoutout("n=" + 3)`, "n=3"},
		{"typeof", "shoutout(itsGiving(1.5))", "ratio"},
		{"loop", "clout s = 0; yeet (clout i = 1; i <= 4; i = i + 1) { s = s + i } shoutout(s)", "10"},
		{"countdown", "clout n = 3; grind n > 0 { shoutout(n); n = n - 1 }", "3\n2\n1"},
		{"while with break", "clout i = 0; grind noCap { smash i == 3 { staph } shoutout(i); i = i + 1 }", "0\n1\n2"},
		{"recursion", "serve fib(clout n) { smash n < 2 { return n } return fib(n - 1) + fib(n - 2) } shoutout(fib(10))", "55"},
		{"shadowing", "clout x = 1; { clout x = 2; shoutout(x) } shoutout(x)", "2\n1"},
		{"arrays", "gang a = [4, 5, 6]; shoutout(a[2]); shoutout(a)", "6\n[4, 5, 6]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := CompileAndRun(context.Background(), program(tt.src), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Output)
			assert.NotEmpty(t, res.Assembly)
			assert.NotEmpty(t, res.IR)
		})
	}
}

func TestCompileAndRun_OptimizerDoesNotChangeOutput(t *testing.T) {
	src := program("clout x = 6 * 7; clout y = x * 4; clout z = x * 4; shoutout(y + z - 0)")

	on, err := CompileAndRun(context.Background(), src, nil)
	require.NoError(t, err)

	cfg := config.NewConfig()
	require.NoError(t, cfg.ApplyOptLevel(0))
	off, err := CompileAndRun(context.Background(), src, cfg)
	require.NoError(t, err)

	assert.Equal(t, "336", on.Output)
	assert.Equal(t, on.Output, off.Output)
	assert.NotEqual(t, on.IR, off.IR)
}

func TestCompileAndRun_FaultKeepsPartialOutput(t *testing.T) {
	res, err := CompileAndRun(context.Background(), program(`shoutout("before"); clout z = 0; shoutout(1 / z)`), nil)
	require.Error(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "before", res.Output)
	assert.NotEmpty(t, res.Assembly)
	assert.True(t, util.IsKind(err, util.DivisionByZero))
	assert.True(t, util.IsKind(err, util.RuntimeError))
}

func TestCompile_PhaseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind util.Kind
	}{
		{"lexical", program("shoutout(1 @ 2)"), util.LexicalError},
		{"syntax", program("shoutout(1"), util.SyntaxError},
		{"semantic", program("clout x = \"s\""), util.SemanticError},
		{"name", program("shoutout(nope)"), util.NameError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compile(context.Background(), tt.src, nil)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, util.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestCompile_UnknownBackend(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Backend = "wasm"

	_, err := Compile(context.Background(), program("shoutout(1)"), cfg)
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.CodeGenerationError))
}

func TestCompile_Warnings(t *testing.T) {
	res, err := Compile(context.Background(), program("clout unused = 1; shoutout(2)"), nil)
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "Unused variable 'unused'", res.Warnings[0].Message)
	assert.Equal(t, util.SeverityWarning, res.Warnings[0].Severity)
	assert.Equal(t, "WARNING", res.Warnings[0].Code())
}

func TestOptimize(t *testing.T) {
	res, err := Optimize(context.Background(), program("clout x = 2 * 3; shoutout(x)"), nil)
	require.NoError(t, err)

	assert.Positive(t, res.OptimizationCount)
	assert.Contains(t, res.OptimizedIR, "t1 = 6")
	assert.NotEmpty(t, res.OptimizedAssembly)
	assert.NotNil(t, res.Warnings)
	assert.Empty(t, res.Warnings)
}

func TestOptimize_Disabled(t *testing.T) {
	cfg := config.NewConfig()
	require.NoError(t, cfg.ApplyOptLevel(0))

	res, err := Optimize(context.Background(), program("clout x = 2 * 3; shoutout(x)"), cfg)
	require.NoError(t, err)
	assert.Zero(t, res.OptimizationCount)
	assert.Contains(t, res.OptimizedIR, "t1 = 2 * 3")
}

func TestParseToAst(t *testing.T) {
	tree, err := ParseToAst(context.Background(), program("shoutout(1)"), nil)
	require.NoError(t, err)

	assert.Equal(t, "Program", tree.Type)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "Block", tree.Children[0].Type)

	_, err = ParseToAst(context.Background(), "starterPack {", nil)
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.SyntaxError))
}

func TestTokenize(t *testing.T) {
	toks, err := Tokenize("shoutout(1)")
	require.NoError(t, err)
	require.Len(t, toks, 5)
	assert.Equal(t, token.EOF, toks[len(toks)-1].Type)
}

func TestCompileAndRun_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	errs := make([]error, 16)
	outs := make([]string, 16)

	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := CompileAndRun(context.Background(), program(fmt.Sprintf("clout n = %d; shoutout(n * n)", i)), nil)
			if err != nil {
				errs[i] = err
				return
			}
			outs[i] = res.Output
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprint(i*i), outs[i])
	}
}
