// Package compiler wires the phases together behind the entry points used by
// the command line and by embedders.
package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/codegen"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/lexer"
	"github.com/xplshn/vibec/pkg/optimizer"
	"github.com/xplshn/vibec/pkg/parser"
	"github.com/xplshn/vibec/pkg/token"
	"github.com/xplshn/vibec/pkg/typeChecker"
	"github.com/xplshn/vibec/pkg/util"
	"github.com/xplshn/vibec/pkg/vm"
)

type Result struct {
	Assembly []string          `json:"assembly"`
	Output   string            `json:"output,omitempty"`
	IR       []string          `json:"ir,omitempty"`
	Warnings []util.Diagnostic `json:"warnings,omitempty"`
}

type OptimizeResult struct {
	OptimizedAssembly []string          `json:"optimizedAssembly"`
	OptimizedIR       []string          `json:"optimizedIR"`
	OptimizationCount int               `json:"optimizationCount"`
	Warnings          []util.Diagnostic `json:"warnings"`
}

func orDefault(cfg *config.Config) *config.Config {
	if cfg == nil {
		return config.NewConfig()
	}
	return cfg
}

// Tokenize returns the token stream of source, ending with EOF.
func Tokenize(source string) ([]token.Token, error) {
	return lexer.Tokenize(source)
}

func parse(ctx context.Context, source string, cfg *config.Config) (*ast.Node, error) {
	tokens, err := lexer.Tokenize(source)
	if err != nil {
		return nil, errors.Wrap(err, "tokenize")
	}
	tlog.SpanFromContext(ctx).Printw("tokenized", "tokens", len(tokens))

	root, err := parser.NewParser(tokens, cfg).Parse()
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}
	return root, nil
}

// ParseToAst returns the serializable syntax tree of source.
func ParseToAst(ctx context.Context, source string, cfg *config.Config) (tree *ast.Tree, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "parse to ast", "size", len(source))
	defer tr.Finish("err", &err)

	root, err := parse(ctx, source, orDefault(cfg))
	if err != nil {
		return nil, err
	}
	return ast.ToTree(root), nil
}

// lower runs every phase up to and including IR generation.
func lower(ctx context.Context, source string, cfg *config.Config) (*ir.Program, error) {
	root, err := parse(ctx, source, cfg)
	if err != nil {
		return nil, err
	}

	if err = typeChecker.NewTypeChecker(cfg).Check(root); err != nil {
		return nil, errors.Wrap(err, "analyze")
	}

	prog, err := codegen.NewContext(cfg).GenerateIR(root)
	if err != nil {
		return nil, errors.Wrap(err, "generate ir")
	}

	tr := tlog.SpanFromContext(ctx)
	tr.Printw("ir generated", "instructions", len(prog.Instrs))
	if tr.If("dump_ir") {
		for i, in := range prog.Instrs {
			tr.Printw("ir", "i", i, "instr", in.String())
		}
	}
	return prog, nil
}

func optimize(ctx context.Context, prog *ir.Program, cfg *config.Config) *optimizer.Result {
	res := optimizer.New(cfg).Optimize(prog)
	tlog.SpanFromContext(ctx).Printw("optimized", "instructions", len(res.Program.Instrs), "changes", res.Count, "warnings", len(res.Warnings))
	return res
}

func generate(ctx context.Context, prog *ir.Program, cfg *config.Config) ([]string, error) {
	backend, err := codegen.NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	buf, err := backend.Generate(prog, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "codegen %v", cfg.Backend)
	}
	lines := codegen.Lines(buf)
	tlog.SpanFromContext(ctx).Printw("code generated", "backend", cfg.Backend, "lines", len(lines))
	return lines, nil
}

// Compile translates source to assembly.
func Compile(ctx context.Context, source string, cfg *config.Config) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "size", len(source))
	defer tr.Finish("err", &err)

	cfg = orDefault(cfg)
	prog, err := lower(ctx, source, cfg)
	if err != nil {
		return nil, err
	}
	opt := optimize(ctx, prog, cfg)

	asm, err := generate(ctx, opt.Program, cfg)
	if err != nil {
		return nil, err
	}
	return &Result{Assembly: asm, IR: opt.Program.Lines(), Warnings: opt.Warnings}, nil
}

// CompileAndRun compiles source and executes it on the VM. When execution
// faults, the returned Result still carries the assembly and the output
// printed before the fault.
func CompileAndRun(ctx context.Context, source string, cfg *config.Config) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile and run", "size", len(source))
	defer tr.Finish("err", &err)

	cfg = orDefault(cfg)
	prog, err := lower(ctx, source, cfg)
	if err != nil {
		return nil, err
	}
	opt := optimize(ctx, prog, cfg)

	asm, err := generate(ctx, opt.Program, cfg)
	if err != nil {
		return nil, err
	}
	res = &Result{Assembly: asm, IR: opt.Program.Lines(), Warnings: opt.Warnings}

	res.Output, err = vm.Run(ctx, opt.Program, cfg)
	tr.Printw("executed", "output_bytes", len(res.Output))
	if err != nil {
		return res, errors.Wrap(err, "run")
	}
	return res, nil
}

// Optimize reports what the optimizer does to source.
func Optimize(ctx context.Context, source string, cfg *config.Config) (res *OptimizeResult, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "optimize", "size", len(source))
	defer tr.Finish("err", &err)

	cfg = orDefault(cfg)
	prog, err := lower(ctx, source, cfg)
	if err != nil {
		return nil, err
	}
	opt := optimize(ctx, prog, cfg)

	asm, err := generate(ctx, opt.Program, cfg)
	if err != nil {
		return nil, err
	}
	warnings := opt.Warnings
	if warnings == nil {
		warnings = []util.Diagnostic{}
	}
	return &OptimizeResult{
		OptimizedAssembly: asm,
		OptimizedIR:       opt.Program.Lines(),
		OptimizationCount: opt.Count,
		Warnings:          warnings,
	}, nil
}
