package codegen

import (
	"strconv"

	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/token"
)

// codegenAssign stores into an existing binding, or declares one in the
// current scope when the name is new.
func (ctx *Context) codegenAssign(node *ast.Node, d ast.AssignNode) {
	val := ctx.codegenExpr(d.Rhs)
	sym := ctx.findSymbol(d.Name)
	if sym == nil {
		sym = ctx.addSymbol(d.Name, symVar, d.Rhs.Typ)
	}
	if sym.Type == symFunc {
		ctx.fail(node.Tok, "cannot assign to function '%s'", d.Name)
	}
	ctx.emitStore(sym.VarTyp, sym.IRVal, val, d.Rhs)
}

func (ctx *Context) codegenReturn(d ast.ReturnNode) {
	if d.Expr == nil {
		ctx.emit(ir.OpReturn, ast.TypeNull, nil)
		return
	}
	val := ctx.codegenExpr(d.Expr)
	ctx.emit(ir.OpReturn, d.Expr.Typ, nil, val)
}

// codegenIf lowers an if / else-if / else chain:
//
//	ifFalse c goto Lnext; then; goto Lend; Lnext: ... Lend:
func (ctx *Context) codegenIf(d ast.IfNode) {
	endLabel := ctx.newLabel()

	branch := func(cond, body *ast.Node) {
		next := ctx.newLabel()
		c := ctx.codegenExpr(cond)
		ctx.emit(ir.OpIfFalse, ast.TypeBool, nil, c, next)
		ctx.codegenStmt(body)
		ctx.emit(ir.OpGoto, ast.TypeUnknown, nil, endLabel)
		ctx.emitLabel(next)
	}

	branch(d.Cond, d.ThenBody)
	for _, e := range d.ElseIfs {
		ed := e.Data.(ast.ElseIfNode)
		branch(ed.Cond, ed.Body)
	}
	if d.ElseBody != nil {
		ctx.codegenStmt(d.ElseBody)
	}
	ctx.emitLabel(endLabel)
}

func (ctx *Context) codegenWhile(d ast.WhileNode) {
	startLabel, endLabel := ctx.newLabel(), ctx.newLabel()

	ctx.emitLabel(startLabel)
	c := ctx.codegenExpr(d.Cond)
	ctx.emit(ir.OpIfFalse, ast.TypeBool, nil, c, endLabel)

	ctx.breakLabels = append(ctx.breakLabels, endLabel)
	ctx.codegenStmt(d.Body)
	ctx.breakLabels = ctx.breakLabels[:len(ctx.breakLabels)-1]

	ctx.emit(ir.OpGoto, ast.TypeUnknown, nil, startLabel)
	ctx.emitLabel(endLabel)
}

// codegenFor places the condition after the body so each iteration runs a
// single conditional jump. A missing condition loops until a break.
func (ctx *Context) codegenFor(d ast.ForNode) {
	ctx.enterScope()
	defer ctx.exitScope()

	if d.Init != nil {
		ctx.codegenStmt(d.Init)
	}

	bodyLabel, condLabel, endLabel := ctx.newLabel(), ctx.newLabel(), ctx.newLabel()
	ctx.emit(ir.OpGoto, ast.TypeUnknown, nil, condLabel)
	ctx.emitLabel(bodyLabel)

	ctx.breakLabels = append(ctx.breakLabels, endLabel)
	ctx.codegenStmt(d.Body)
	ctx.breakLabels = ctx.breakLabels[:len(ctx.breakLabels)-1]

	if d.Update != nil {
		ctx.codegenStmt(d.Update)
	}
	ctx.emitLabel(condLabel)
	if d.Cond != nil {
		c := ctx.codegenExpr(d.Cond)
		ctx.emit(ir.OpIfTrue, ast.TypeBool, nil, c, bodyLabel)
	} else {
		ctx.emit(ir.OpGoto, ast.TypeUnknown, nil, bodyLabel)
	}
	ctx.emitLabel(endLabel)
}

// codegenExpr lowers an expression and returns the atom holding its value:
// a literal, a variable or a fresh temporary.
func (ctx *Context) codegenExpr(node *ast.Node) ir.Value {
	ctx.enter(node.Tok)
	defer ctx.leave()

	switch d := node.Data.(type) {
	case ast.NumberNode:
		return ctx.codegenNumber(node, d)
	case ast.StringNode:
		return ir.StringConst(d.Value)
	case ast.BooleanNode:
		return ir.BoolConst(d.Value)
	case ast.NullNode:
		return ir.NullConst()
	case ast.IdentNode:
		sym := ctx.findSymbol(d.Name)
		if sym == nil {
			ctx.fail(node.Tok, "undeclared name '%s'", d.Name)
		}
		return sym.IRVal
	case ast.ArrayLiteralNode:
		elems := make([]ir.Value, len(d.Elems))
		for i, e := range d.Elems {
			elems[i] = ctx.codegenExpr(e)
		}
		res := ctx.newTemp()
		ctx.emit(ir.OpAssign, ast.TypeArray, res, &ir.Array{Elems: elems})
		return res
	case ast.BinaryOpNode:
		op, ok := ir.BinaryOpFor(d.Op)
		if !ok {
			ctx.fail(node.Tok, "unsupported binary operator '%s'", d.Op)
		}
		l := ctx.codegenExpr(d.Left)
		r := ctx.codegenExpr(d.Right)
		res := ctx.newTemp()
		ctx.emit(op, node.Typ, res, l, r)
		return res
	case ast.UnaryOpNode:
		return ctx.codegenUnary(node, d)
	case ast.IndexNode:
		arr := ctx.codegenExpr(d.Array)
		idx := ctx.codegenExpr(d.Index)
		res := ctx.newTemp()
		ctx.emit(ir.OpIndex, node.Typ, res, arr, idx)
		return res
	case ast.TypeOfNode:
		v := ctx.codegenExpr(d.Expr)
		res := ctx.newTemp()
		ctx.emit(ir.OpTypeOf, ast.TypeString, res, v)
		return res
	case ast.FuncCallNode:
		return ctx.codegenCall(node, d)
	}
	ctx.fail(node.Tok, "unexpected %s node in expression position", node.Type)
	return nil
}

func (ctx *Context) codegenNumber(node *ast.Node, d ast.NumberNode) ir.Value {
	if d.IsFloat {
		f, err := strconv.ParseFloat(d.Text, 64)
		if err != nil {
			ctx.fail(node.Tok, "invalid float literal '%s'", d.Text)
		}
		return ir.FloatConst(f)
	}
	i, err := strconv.ParseInt(d.Text, 10, 64)
	if err != nil {
		ctx.fail(node.Tok, "integer literal '%s' out of range", d.Text)
	}
	return ir.IntConst(i)
}

func (ctx *Context) codegenUnary(node *ast.Node, d ast.UnaryOpNode) ir.Value {
	v := ctx.codegenExpr(d.Expr)
	res := ctx.newTemp()
	switch d.Op {
	case token.Minus:
		var zero ir.Value = ir.IntConst(0)
		if d.Expr.Typ == ast.TypeFloat {
			zero = ir.FloatConst(0)
		}
		ctx.emit(ir.OpSub, node.Typ, res, zero, v)
	case token.Not:
		ctx.emit(ir.OpEq, ast.TypeBool, res, v, ir.BoolConst(false))
	default:
		ctx.fail(node.Tok, "unsupported unary operator '%s'", d.Op)
	}
	return res
}

// codegenCall evaluates every argument before the first push, so nested calls
// never interleave with this call's argument list.
func (ctx *Context) codegenCall(node *ast.Node, d ast.FuncCallNode) ir.Value {
	sym := ctx.findSymbol(d.Name)
	if sym == nil {
		ctx.fail(node.Tok, "undeclared function '%s'", d.Name)
	}
	if sym.Type != symFunc {
		ctx.fail(node.Tok, "'%s' is not a function", d.Name)
	}

	args := make([]ir.Value, len(d.Args))
	for i, a := range d.Args {
		args[i] = ctx.codegenExpr(a)
	}
	for i, a := range args {
		ctx.emit(ir.OpParamPush, d.Args[i].Typ, nil, a)
	}
	res := ctx.newTemp()
	ctx.emit(ir.OpCall, node.Typ, res, sym.IRVal, ir.IntConst(int64(len(args))))
	return res
}
