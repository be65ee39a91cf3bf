// Package optimizer rewrites three-address code until it reaches a fixpoint.
package optimizer

import (
	"fmt"

	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/util"
)

// maxRounds bounds the fixpoint loop. Every pass only shrinks or simplifies
// the program, so real programs settle in a handful of rounds.
const maxRounds = 64

type Result struct {
	Program  *ir.Program
	Count    int
	Warnings []util.Diagnostic
}

type pass struct {
	name    string
	feature config.Feature
	run     func([]*ir.Instruction) ([]*ir.Instruction, bool)
}

var passes = []pass{
	{"fold", config.FeatFold, foldConstants},
	{"dce", config.FeatDCE, eliminateDeadCode},
	{"cse", config.FeatCSE, eliminateCommonSubexpressions},
	{"strength", config.FeatStrength, reduceStrength},
}

type Optimizer struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Optimizer {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &Optimizer{cfg: cfg}
}

// Optimize runs the enabled passes over a copy of prog. It never fails: a
// pass that breaks down is reported as a warning and its output discarded.
func (o *Optimizer) Optimize(prog *ir.Program) *Result {
	res := &Result{Program: prog.Clone()}
	res.Warnings = o.usageWarnings(prog)
	if !o.cfg.IsFeatureEnabled(config.FeatOptimize) {
		return res
	}

	instrs := res.Program.Instrs
	for round := 0; round < maxRounds; round++ {
		changed := false
		for _, p := range passes {
			if !o.cfg.IsFeatureEnabled(p.feature) {
				continue
			}
			out, ok, err := runPass(p, instrs)
			if err != nil {
				res.Warnings = append(res.Warnings, *err)
				continue
			}
			if ok {
				instrs = out
				res.Count++
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	res.Program.Instrs = instrs
	return res
}

func runPass(p pass, instrs []*ir.Instruction) (out []*ir.Instruction, changed bool, diag *util.Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			d := util.ErrorAt(util.OptimizationError, 0, 0, "%s pass skipped: %v", p.name, r)
			d.Severity = util.SeverityWarning
			out, changed, diag = nil, false, d
		}
	}()
	// Passes may rewrite instructions in place; hand them a private copy.
	work := (&ir.Program{Instrs: instrs}).Clone().Instrs
	out, changed = p.run(work)
	return out, changed, nil
}

// usageWarnings reports variables that are written but never read and
// functions that are never called.
func (o *Optimizer) usageWarnings(prog *ir.Program) []util.Diagnostic {
	var warns []util.Diagnostic

	reads := make(map[string]bool)
	called := make(map[string]bool)
	for _, in := range prog.Instrs {
		for _, r := range in.Reads() {
			reads[r] = true
		}
		if in.Op == ir.OpCall {
			called[in.Arg(0).String()] = true
		}
	}

	if o.cfg.IsWarningEnabled(config.WarnUnusedVar) {
		seen := make(map[string]bool)
		for _, in := range prog.Instrs {
			v, ok := in.Result.(*ir.Var)
			if !ok || in.Op != ir.OpAssign || reads[v.Name] || seen[v.Name] {
				continue
			}
			seen[v.Name] = true
			warns = append(warns, *util.Warnf(0, 0, "Unused variable '%s'", ir.BaseName(v.Name)))
		}
	}

	if o.cfg.IsWarningEnabled(config.WarnUnusedFunc) {
		for _, in := range prog.Instrs {
			if in.Op != ir.OpFunction {
				continue
			}
			name := in.Arg(0).String()
			if called[name] || ir.BaseName(name) == "main" {
				continue
			}
			warns = append(warns, *util.Warnf(0, 0, "Unused function '%s'", ir.BaseName(name)))
		}
	}
	return warns
}

func (r *Result) String() string {
	return fmt.Sprintf("%d optimizations, %d warnings\n%s", r.Count, len(r.Warnings), r.Program)
}
