package codegen

import (
	"fmt"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/token"
	"github.com/xplshn/vibec/pkg/util"
)

type symbolType int

const (
	symVar symbolType = iota
	symFunc
)

type symbol struct {
	Name   string
	Type   symbolType
	IRVal  ir.Value
	VarTyp ast.Type
	Next   *symbol
}

type scope struct {
	Symbols *symbol
	Parent  *scope
}

// Context lowers one AST into three-address code. Counters are instance state
// and never reset between functions.
type Context struct {
	prog         *ir.Program
	tempCount    int
	labelCount   int
	currentScope *scope
	breakLabels  []*ir.Label
	declared     map[string]int
	depth        int
	maxDepth     int
}

type bailout struct{ err *util.Diagnostic }

func NewContext(cfg *config.Config) *Context {
	ctx := &Context{
		prog:     &ir.Program{},
		declared: make(map[string]int),
		maxDepth: config.DefaultMaxDepth,
	}
	if cfg != nil && cfg.MaxDepth > 0 {
		ctx.maxDepth = cfg.MaxDepth
	}
	return ctx
}

func newScope(parent *scope) *scope { return &scope{Parent: parent} }

func (ctx *Context) enterScope() { ctx.currentScope = newScope(ctx.currentScope) }
func (ctx *Context) exitScope() {
	if ctx.currentScope != nil {
		ctx.currentScope = ctx.currentScope.Parent
	}
}

func (ctx *Context) findSymbol(name string) *symbol {
	for s := ctx.currentScope; s != nil; s = s.Parent {
		for sym := s.Symbols; sym != nil; sym = sym.Next {
			if sym.Name == name {
				return sym
			}
		}
	}
	return nil
}

// addSymbol binds name in the current scope. Every declaration of a source
// name after the first gets a numbered IR name, so shadowed and sibling
// declarations never share storage.
func (ctx *Context) addSymbol(name string, symType symbolType, varTyp ast.Type) *symbol {
	irName := name
	if n := ctx.declared[name]; n > 0 || looksLikeTemp(name) {
		irName = fmt.Sprintf("%s.%d", name, n)
	}
	ctx.declared[name]++

	var irVal ir.Value = &ir.Var{Name: irName}
	if symType == symFunc {
		irVal = &ir.Func{Name: irName}
	}
	sym := &symbol{Name: name, Type: symType, IRVal: irVal, VarTyp: varTyp, Next: ctx.currentScope.Symbols}
	ctx.currentScope.Symbols = sym
	return sym
}

// looksLikeTemp reports whether a source name collides with the t%d
// temporaries.
func looksLikeTemp(name string) bool {
	if len(name) < 2 || name[0] != 't' {
		return false
	}
	for _, r := range name[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (ctx *Context) newTemp() *ir.Temporary {
	ctx.tempCount++
	return &ir.Temporary{ID: ctx.tempCount}
}

func (ctx *Context) newLabel() *ir.Label {
	ctx.labelCount++
	return &ir.Label{Name: fmt.Sprintf("L%d", ctx.labelCount)}
}

func (ctx *Context) addInstr(instr *ir.Instruction) { ctx.prog.Emit(instr) }

func (ctx *Context) emit(op ir.Op, typ ast.Type, result ir.Value, args ...ir.Value) {
	ctx.addInstr(&ir.Instruction{Op: op, Typ: typ, Result: result, Args: args})
}

func (ctx *Context) emitLabel(l *ir.Label) { ctx.emit(ir.OpLabel, ast.TypeUnknown, nil, l) }

func (ctx *Context) fail(tok token.Token, format string, args ...interface{}) {
	panic(bailout{util.Errorf(util.CodeGenerationError, tok, format, args...)})
}

func (ctx *Context) enter(tok token.Token) {
	ctx.depth++
	if ctx.depth > ctx.maxDepth {
		ctx.fail(tok, "Maximum nesting depth %d exceeded", ctx.maxDepth)
	}
}

func (ctx *Context) leave() { ctx.depth-- }

// GenerateIR lowers a checked AST into a flat instruction sequence.
func (ctx *Context) GenerateIR(root *ast.Node) (prog *ir.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			prog, err = nil, b.err
		}
	}()
	if root == nil || root.Type != ast.Program {
		return nil, util.ErrorAt(util.CodeGenerationError, 0, 0, "root node must be a Program")
	}
	ctx.codegenStmt(root)
	return ctx.prog, nil
}

func (ctx *Context) codegenStmt(node *ast.Node) {
	if node == nil {
		return
	}
	ctx.enter(node.Tok)
	defer ctx.leave()

	switch d := node.Data.(type) {
	case ast.ProgramNode:
		ctx.enterScope()
		ctx.codegenStmt(d.Body)
		ctx.exitScope()
	case ast.BlockNode:
		ctx.enterScope()
		for _, stmt := range d.Stmts {
			ctx.codegenStmt(stmt)
		}
		ctx.exitScope()
	case ast.VarDeclNode:
		ctx.codegenVarDecl(d)
	case ast.AssignNode:
		ctx.codegenAssign(node, d)
	case ast.PrintNode:
		val := ctx.codegenExpr(d.Expr)
		ctx.emit(ir.OpPrint, d.Expr.Typ, nil, val)
	case ast.IfNode:
		ctx.codegenIf(d)
	case ast.WhileNode:
		ctx.codegenWhile(d)
	case ast.ForNode:
		ctx.codegenFor(d)
	case ast.FuncDeclNode:
		ctx.codegenFuncDecl(d)
	case ast.ReturnNode:
		ctx.codegenReturn(d)
	case ast.BreakNode:
		if len(ctx.breakLabels) == 0 {
			ctx.fail(node.Tok, "break outside of a loop")
		}
		ctx.emit(ir.OpBreak, ast.TypeUnknown, nil, ctx.breakLabels[len(ctx.breakLabels)-1])
	case ast.ExprStmtNode:
		ctx.codegenExpr(d.Expr)
	default:
		ctx.fail(node.Tok, "unexpected %s node in statement position", node.Type)
	}
}

func (ctx *Context) codegenVarDecl(d ast.VarDeclNode) {
	var val ir.Value
	if d.Init != nil {
		val = ctx.codegenExpr(d.Init)
	} else {
		val = zeroValue(d.Type)
	}
	sym := ctx.addSymbol(d.Name, symVar, d.Type)
	ctx.emitStore(d.Type, sym.IRVal, val, d.Init)
}

func (ctx *Context) codegenFuncDecl(d ast.FuncDeclNode) {
	sym := ctx.addSymbol(d.Name, symFunc, ast.TypeFunc)
	fn := sym.IRVal

	savedBreaks := ctx.breakLabels
	ctx.breakLabels = nil

	ctx.emit(ir.OpFunction, ast.TypeFunc, nil, fn)
	ctx.enterScope()
	for _, p := range d.Params {
		pd := p.Data.(ast.ParamNode)
		param := ctx.addSymbol(pd.Name, symVar, pd.Type)
		ctx.emit(ir.OpParam, pd.Type, nil, param.IRVal)
	}
	ctx.codegenStmt(d.Body)
	ctx.exitScope()
	ctx.emit(ir.OpEndFunction, ast.TypeFunc, nil, fn)

	ctx.breakLabels = savedBreaks
}

// zeroValue is the value of a declared but uninitialized variable.
func zeroValue(t ast.Type) ir.Value {
	switch t {
	case ast.TypeInt:
		return ir.IntConst(0)
	case ast.TypeFloat:
		return ir.FloatConst(0)
	case ast.TypeString:
		return ir.StringConst("")
	case ast.TypeBool:
		return ir.BoolConst(false)
	case ast.TypeArray:
		return &ir.Array{}
	}
	return ir.NullConst()
}

// emitStore assigns val to dst. A value whose type the checker could not
// pin down is guarded so the interpreter holds the slot to its declared type.
func (ctx *Context) emitStore(slot ast.Type, dst, val ir.Value, src *ast.Node) {
	_, isConst := val.(*ir.Const)
	ctx.addInstr(&ir.Instruction{
		Op:     ir.OpAssign,
		Typ:    assignType(slot, val, src),
		Result: dst,
		Args:   []ir.Value{val},
		Guard:  isSlotType(slot) && !isConst && src != nil && src.Typ == ast.TypeUnknown,
	})
}

func isSlotType(t ast.Type) bool {
	switch t {
	case ast.TypeInt, ast.TypeFloat, ast.TypeString, ast.TypeBool, ast.TypeArray:
		return true
	}
	return false
}

// assignType is the type recorded on a store. A float slot keeps the float
// tag so the interpreter promotes an integer value on the way in.
func assignType(slot ast.Type, val ir.Value, src *ast.Node) ast.Type {
	if slot == ast.TypeFloat {
		return ast.TypeFloat
	}
	if src != nil && src.Typ != ast.TypeUnknown {
		return src.Typ
	}
	if c, ok := val.(*ir.Const); ok {
		switch c.Kind {
		case ir.ConstInt:
			return ast.TypeInt
		case ir.ConstFloat:
			return ast.TypeFloat
		case ir.ConstString:
			return ast.TypeString
		case ir.ConstBool:
			return ast.TypeBool
		case ir.ConstNull:
			return ast.TypeNull
		}
	}
	return slot
}
