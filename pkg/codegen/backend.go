package codegen

import (
	"bytes"
	"strings"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/util"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	// Generate takes an IR program and a configuration, and produces the target
	// assembly or intermediate language as a byte buffer.
	Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error)
}

// NewBackend selects the backend named by cfg.Backend.
func NewBackend(cfg *config.Config) (Backend, error) {
	switch cfg.Backend {
	case config.BackendAsm, "":
		return NewAsmBackend(), nil
	case config.BackendQBE:
		return NewQBEBackend(), nil
	}
	return nil, util.ErrorAt(util.CodeGenerationError, 0, 0, "unknown backend '%s'", cfg.Backend)
}

// Lines splits generated output into assembly lines without the trailing newline.
func Lines(buf *bytes.Buffer) []string {
	s := strings.TrimRight(buf.String(), "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}

// unit is one code region: the top-level program or one function body.
type unit struct {
	name   string
	instrs []*ir.Instruction
	params []*ir.Instruction
	isMain bool
}

// splitUnits separates function regions from top-level code. Nested function
// declarations become units of their own. The main unit comes first.
func splitUnits(prog *ir.Program) ([]*unit, error) {
	main := &unit{name: "main", isMain: true}
	units := []*unit{main}
	stack := []*unit{main}

	for _, in := range prog.Instrs {
		top := stack[len(stack)-1]
		switch in.Op {
		case ir.OpFunction:
			u := &unit{name: in.Arg(0).String()}
			units = append(units, u)
			stack = append(stack, u)
		case ir.OpEndFunction:
			if len(stack) == 1 || top.name != in.Arg(0).String() {
				return nil, util.ErrorAt(util.CodeGenerationError, 0, 0, "unbalanced end of function %s", in.Arg(0))
			}
			stack = stack[:len(stack)-1]
		case ir.OpParam:
			top.params = append(top.params, in)
		default:
			top.instrs = append(top.instrs, in)
		}
	}
	if len(stack) != 1 {
		return nil, util.ErrorAt(util.CodeGenerationError, 0, 0, "function %s is never closed", stack[len(stack)-1].name)
	}
	if _, err := prog.LabelIndex(); err != nil {
		return nil, util.ErrorAt(util.CodeGenerationError, 0, 0, "%v", err)
	}
	return units, nil
}

// names lists the variables and temporaries a unit touches in first-use order.
func (u *unit) names() []string {
	seen := make(map[string]bool)
	var order []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			order = append(order, n)
		}
	}
	for _, p := range u.params {
		add(p.Defines())
	}
	for _, in := range u.instrs {
		for _, r := range in.Reads() {
			add(r)
		}
		add(in.Defines())
	}
	return order
}

// sharedNames returns the names referenced from more than one unit. They live
// in static storage rather than in a frame.
func sharedNames(units []*unit) map[string]bool {
	owner := make(map[string]*unit)
	shared := make(map[string]bool)
	for _, u := range units {
		for _, n := range u.names() {
			if o, ok := owner[n]; ok && o != u {
				shared[n] = true
				continue
			}
			owner[n] = u
		}
	}
	return shared
}

// nameTypes records the static type of every name from its defining instructions.
func nameTypes(units []*unit) map[string]ast.Type {
	types := make(map[string]ast.Type)
	for _, u := range units {
		for _, p := range u.params {
			types[p.Defines()] = p.Typ
		}
		for _, in := range u.instrs {
			d := in.Defines()
			if d == "" {
				continue
			}
			if old, ok := types[d]; ok && old != in.Typ && old != ast.TypeUnknown {
				if old == ast.TypeFloat || in.Typ == ast.TypeFloat {
					types[d] = ast.TypeFloat
				}
				continue
			}
			types[d] = in.Typ
		}
	}
	return types
}

// valueType is the static type of an operand.
func valueType(v ir.Value, types map[string]ast.Type) ast.Type {
	switch x := v.(type) {
	case *ir.Const:
		switch x.Kind {
		case ir.ConstInt:
			return ast.TypeInt
		case ir.ConstFloat:
			return ast.TypeFloat
		case ir.ConstString:
			return ast.TypeString
		case ir.ConstBool:
			return ast.TypeBool
		}
		return ast.TypeNull
	case *ir.Array:
		return ast.TypeArray
	case *ir.Func:
		return ast.TypeFunc
	case nil:
		return ast.TypeNull
	}
	return types[v.String()]
}

// escapeAsciz renders s as a double-quoted assembler string.
func escapeAsciz(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		default:
			sb.WriteByte('\\')
			sb.WriteByte('0' + (c>>6)&7)
			sb.WriteByte('0' + (c>>3)&7)
			sb.WriteByte('0' + c&7)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
