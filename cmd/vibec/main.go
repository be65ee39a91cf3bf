package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/xplshn/vibec/pkg/cli"
	"github.com/xplshn/vibec/pkg/compiler"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/util"
)

type options struct {
	outFile   string
	backend   string
	target    string
	run       bool
	tokens    bool
	ast       bool
	ir        bool
	optReport bool
	json      bool
	verbose   bool
	maxDepth  int
	maxSteps  int
	registers int
}

func main() {
	app := cli.NewApp("vibec")
	app.Synopsis = "[options] <input.vibe | ->"
	app.Description = "A compiler for the vibe language. Emits x86-64 assembly or QBE output, or runs the program on the IR virtual machine."
	app.Repository = "<https://github.com/xplshn/vibec>"

	var opts options
	fs := app.FlagSet
	fs.String(&opts.outFile, "output", "o", "", "Place the output into <file> instead of stdout.", "file")
	fs.String(&opts.backend, "backend", "b", config.BackendAsm, "Select the code generator (asm, qbe).", "backend")
	fs.String(&opts.target, "target", "t", "", "Set the QBE target ABI. Defaults to the host.", "target")
	fs.Bool(&opts.run, "run", "r", false, "Run the program on the virtual machine and print its output.")
	fs.Bool(&opts.tokens, "tokens", "", false, "Print the token stream and exit.")
	fs.Bool(&opts.ast, "ast", "", false, "Print the syntax tree as JSON and exit.")
	fs.Bool(&opts.ir, "ir", "", false, "Print the optimized three-address code and exit.")
	fs.Bool(&opts.optReport, "opt-report", "O", false, "Report what the optimizer did.")
	fs.Bool(&opts.json, "json", "", false, "Print results as JSON.")
	fs.Bool(&opts.verbose, "verbose", "v", false, "Log compiler phases to stderr.")
	fs.Int(&opts.maxDepth, "max-depth", "", config.DefaultMaxDepth, "Reject programs nested deeper than <n>.", "n")
	fs.Int(&opts.maxSteps, "max-steps", "", 0, "Abort execution after <n> instructions. 0 means unlimited.", "n")
	fs.Int(&opts.registers, "registers", "", config.DefaultRegisters, "Size of the asm backend register file.", "n")

	cfg := config.NewConfig()
	warningFlags, featureFlags := cfg.SetupFlagGroups(fs)

	var source string
	action := func(args []string) (err error) {
		cfg.ApplyFlagGroups(warningFlags, featureFlags)
		cfg.MaxDepth, cfg.MaxSteps, cfg.Registers = opts.maxDepth, opts.maxSteps, opts.registers
		if err := cfg.SetBackend(opts.backend); err != nil {
			return err
		}
		if opts.backend == config.BackendQBE || opts.target != "" {
			if err := cfg.SetTarget(runtime.GOOS, runtime.GOARCH, opts.target); err != nil {
				return err
			}
		}

		if len(args) != 1 {
			return errors.New("expected exactly one input file, got %d", len(args))
		}
		source, err = readSource(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		if opts.verbose {
			ctx = tlog.ContextWithSpan(ctx, tlog.Root())
		}

		out := io.Writer(os.Stdout)
		if opts.outFile != "" {
			f, err := os.Create(opts.outFile)
			if err != nil {
				return errors.Wrap(err, "create output")
			}
			defer f.Close()
			out = f
		}

		return execute(ctx, out, source, cfg, &opts)
	}
	app.Action = func(args []string) error {
		err := action(args)
		if err != nil {
			util.Render(os.Stderr, err, source, util.ColorEnabled(os.Stderr))
		}
		return err
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

func readSource(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", errors.Wrap(err, "read %v", path)
	}
	return string(data), nil
}

func execute(ctx context.Context, w io.Writer, source string, cfg *config.Config, opts *options) error {
	switch {
	case opts.tokens:
		toks, err := compiler.Tokenize(source)
		if err != nil {
			return err
		}
		if opts.json {
			return writeJSON(w, toks)
		}
		for _, t := range toks {
			fmt.Fprintf(w, "%d:%d\t%s\t%s\n", t.Line, t.Column, t.Type, t.Value)
		}
		return nil

	case opts.ast:
		tree, err := compiler.ParseToAst(ctx, source, cfg)
		if err != nil {
			return err
		}
		return writeJSON(w, tree)

	case opts.optReport:
		res, err := compiler.Optimize(ctx, source, cfg)
		if err != nil {
			return err
		}
		if opts.json {
			return writeJSON(w, res)
		}
		renderWarnings(source, res.Warnings)
		fmt.Fprintf(w, "optimizations applied: %d\n\n", res.OptimizationCount)
		writeLines(w, res.OptimizedIR)
		return nil

	case opts.run:
		res, err := compiler.CompileAndRun(ctx, source, cfg)
		if res != nil {
			if opts.json {
				if jerr := writeJSON(w, res); jerr != nil {
					return jerr
				}
			} else {
				renderWarnings(source, res.Warnings)
				if res.Output != "" {
					fmt.Fprintln(w, res.Output)
				}
			}
		}
		return err
	}

	res, err := compiler.Compile(ctx, source, cfg)
	if err != nil {
		return err
	}
	if opts.json {
		return writeJSON(w, res)
	}
	renderWarnings(source, res.Warnings)
	if opts.ir {
		writeLines(w, res.IR)
		return nil
	}
	writeLines(w, res.Assembly)
	return nil
}

func renderWarnings(source string, warnings []util.Diagnostic) {
	color := util.ColorEnabled(os.Stderr)
	for i := range warnings {
		util.Render(os.Stderr, &warnings[i], source, color)
	}
}

func writeLines(w io.Writer, lines []string) {
	if len(lines) > 0 {
		fmt.Fprintln(w, strings.Join(lines, "\n"))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
