package typeChecker

import (
	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/token"
	"github.com/xplshn/vibec/pkg/util"
)

type Symbol struct {
	Name        string
	Type        ast.Type
	Depth       int
	IsFunc      bool
	Params      []*ast.Node
	Returns     ast.Type
	Initialized bool
	Node        *ast.Node
	Next        *Symbol

	returnSeen bool
}

type Scope struct {
	Symbols *Symbol
	Parent  *Scope
	Depth   int
}

type TypeChecker struct {
	currentScope *Scope
	loopDepth    int
	funcs        []*Symbol
	depth        int
	maxDepth     int
}

type bailout struct{ err *util.Diagnostic }

func NewTypeChecker(cfg *config.Config) *TypeChecker {
	tc := &TypeChecker{maxDepth: config.DefaultMaxDepth}
	if cfg != nil && cfg.MaxDepth > 0 {
		tc.maxDepth = cfg.MaxDepth
	}
	return tc
}

func newScope(parent *Scope) *Scope {
	depth := 0
	if parent != nil {
		depth = parent.Depth + 1
	}
	return &Scope{Parent: parent, Depth: depth}
}

func (tc *TypeChecker) enterScope() { tc.currentScope = newScope(tc.currentScope) }

// exitScope drops every symbol declared in the current scope.
func (tc *TypeChecker) exitScope() {
	if tc.currentScope != nil {
		tc.currentScope = tc.currentScope.Parent
	}
}

func (tc *TypeChecker) fail(kind util.Kind, tok token.Token, format string, args ...interface{}) {
	panic(bailout{util.Errorf(kind, tok, format, args...)})
}

func (tc *TypeChecker) enter(tok token.Token) {
	tc.depth++
	if tc.depth > tc.maxDepth {
		tc.fail(util.SemanticError, tok, "Maximum nesting depth %d exceeded", tc.maxDepth)
	}
}

func (tc *TypeChecker) leave() { tc.depth-- }

func (tc *TypeChecker) addSymbol(node *ast.Node, name string, typ ast.Type) *Symbol {
	if existing := tc.findSymbolInCurrentScope(name); existing != nil {
		tc.fail(util.SemanticError, node.Tok, "Symbol '%s' already declared in this scope", name)
	}
	sym := &Symbol{Name: name, Type: typ, Depth: tc.currentScope.Depth, Node: node, Next: tc.currentScope.Symbols}
	tc.currentScope.Symbols = sym
	return sym
}

func (tc *TypeChecker) findSymbol(name string) *Symbol {
	return tc.findSymbolInScopes(name, false)
}

func (tc *TypeChecker) findSymbolInCurrentScope(name string) *Symbol {
	return tc.findSymbolInScopes(name, true)
}

func (tc *TypeChecker) findSymbolInScopes(name string, currentOnly bool) *Symbol {
	for s := tc.currentScope; s != nil; s = s.Parent {
		for sym := s.Symbols; sym != nil; sym = sym.Next {
			if sym.Name == name {
				return sym
			}
		}
		if currentOnly {
			break
		}
	}
	return nil
}

// Check validates the program and annotates every expression node with its type.
func (tc *TypeChecker) Check(root *ast.Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			err = b.err
		}
	}()
	if root == nil || root.Type != ast.Program {
		return util.ErrorAt(util.SemanticError, 0, 0, "root node must be a Program")
	}
	tc.checkNode(root)
	return nil
}

func (tc *TypeChecker) checkNode(node *ast.Node) {
	if node == nil {
		return
	}
	tc.enter(node.Tok)
	defer tc.leave()

	switch d := node.Data.(type) {
	case ast.ProgramNode:
		tc.enterScope()
		tc.checkNode(d.Body)
		tc.exitScope()
	case ast.BlockNode:
		tc.enterScope()
		for _, stmt := range d.Stmts {
			tc.checkNode(stmt)
		}
		tc.exitScope()
	case ast.VarDeclNode:
		tc.checkVarDecl(node, d)
	case ast.AssignNode:
		tc.checkAssign(node, d)
	case ast.PrintNode:
		tc.checkExpr(d.Expr)
	case ast.IfNode:
		tc.checkCondition(d.Cond, "If")
		tc.checkNode(d.ThenBody)
		for _, e := range d.ElseIfs {
			ed := e.Data.(ast.ElseIfNode)
			tc.checkCondition(ed.Cond, "Else-if")
			tc.checkNode(ed.Body)
		}
		tc.checkNode(d.ElseBody)
	case ast.WhileNode:
		tc.checkCondition(d.Cond, "While")
		tc.loopDepth++
		tc.checkNode(d.Body)
		tc.loopDepth--
	case ast.ForNode:
		tc.enterScope()
		tc.checkNode(d.Init)
		if d.Cond != nil {
			tc.checkCondition(d.Cond, "For")
		}
		tc.checkNode(d.Update)
		tc.loopDepth++
		tc.checkNode(d.Body)
		tc.loopDepth--
		tc.exitScope()
	case ast.FuncDeclNode:
		tc.checkFuncDecl(node, d)
	case ast.ReturnNode:
		tc.checkReturn(node, d)
	case ast.BreakNode:
		if tc.loopDepth == 0 {
			tc.fail(util.ScopeError, node.Tok, "'%s' outside of a loop", token.TypeStrings[token.Break])
		}
	case ast.ExprStmtNode:
		tc.checkExpr(d.Expr)
	default:
		tc.fail(util.SemanticError, node.Tok, "Unexpected %s node in statement position", node.Type)
	}
}

func (tc *TypeChecker) checkVarDecl(node *ast.Node, d ast.VarDeclNode) {
	initialized := false
	if d.Init != nil {
		initType := tc.checkExpr(d.Init)
		if !areTypesCompatible(d.Type, initType) {
			tc.fail(util.TypeError, d.Init.Tok, "Cannot assign %s to variable '%s' of type %s", initType, d.Name, d.Type)
		}
		initialized = true
	}
	sym := tc.addSymbol(node, d.Name, d.Type)
	sym.Initialized = initialized
}

// checkAssign implicitly declares unknown names with the inferred type of the right-hand side.
func (tc *TypeChecker) checkAssign(node *ast.Node, d ast.AssignNode) {
	rhsType := tc.checkExpr(d.Rhs)
	sym := tc.findSymbol(d.Name)
	if sym == nil {
		sym = tc.addSymbol(node, d.Name, rhsType)
		sym.Initialized = true
		return
	}
	if sym.IsFunc {
		tc.fail(util.TypeError, node.Tok, "Cannot assign to function '%s'", d.Name)
	}
	if !areTypesCompatible(sym.Type, rhsType) {
		tc.fail(util.TypeError, node.Tok, "Cannot assign %s to variable '%s' of type %s", rhsType, d.Name, sym.Type)
	}
	if sym.Type == ast.TypeUnknown || sym.Type == ast.TypeNull {
		sym.Type = rhsType
	}
	sym.Initialized = true
}

// checkFuncDecl only accepts top-level functions. Frames do not link to the
// frame of an enclosing function, so a nested body could not reach its locals.
func (tc *TypeChecker) checkFuncDecl(node *ast.Node, d ast.FuncDeclNode) {
	if len(tc.funcs) > 0 {
		outer := tc.funcs[len(tc.funcs)-1]
		tc.fail(util.ScopeError, node.Tok, "Function '%s' cannot be declared inside function '%s'", d.Name, outer.Name)
	}
	sym := tc.addSymbol(node, d.Name, ast.TypeFunc)
	sym.IsFunc, sym.Params, sym.Initialized = true, d.Params, true

	savedLoop := tc.loopDepth
	tc.loopDepth = 0
	tc.funcs = append(tc.funcs, sym)
	tc.enterScope()
	for _, p := range d.Params {
		pd := p.Data.(ast.ParamNode)
		p.Typ = pd.Type
		param := tc.addSymbol(p, pd.Name, pd.Type)
		param.Initialized = true
	}
	tc.checkNode(d.Body)
	tc.exitScope()
	tc.funcs = tc.funcs[:len(tc.funcs)-1]
	tc.loopDepth = savedLoop
}

func (tc *TypeChecker) checkReturn(node *ast.Node, d ast.ReturnNode) {
	if len(tc.funcs) == 0 {
		tc.fail(util.ScopeError, node.Tok, "'return' outside of a function")
	}
	typ := ast.TypeNull
	if d.Expr != nil {
		typ = tc.checkExpr(d.Expr)
	}
	fn := tc.funcs[len(tc.funcs)-1]
	switch {
	case !fn.returnSeen:
		fn.Returns, fn.returnSeen = typ, true
	case fn.Returns != typ:
		fn.Returns = ast.TypeUnknown
	}
}

func (tc *TypeChecker) checkCondition(node *ast.Node, what string) {
	typ := tc.checkExpr(node)
	if typ != ast.TypeBool && typ != ast.TypeUnknown {
		tc.fail(util.TypeError, node.Tok, "%s condition must be a boolean expression, got %s", what, typ)
	}
}

func (tc *TypeChecker) checkExpr(node *ast.Node) ast.Type {
	tc.enter(node.Tok)
	defer tc.leave()

	typ := tc.exprType(node)
	node.Typ = typ
	return typ
}

func (tc *TypeChecker) exprType(node *ast.Node) ast.Type {
	switch d := node.Data.(type) {
	case ast.NumberNode:
		if d.IsFloat {
			return ast.TypeFloat
		}
		return ast.TypeInt
	case ast.StringNode:
		return ast.TypeString
	case ast.BooleanNode:
		return ast.TypeBool
	case ast.NullNode:
		return ast.TypeNull
	case ast.IdentNode:
		sym := tc.findSymbol(d.Name)
		if sym == nil {
			tc.fail(util.NameError, node.Tok, "Undeclared variable: %s", d.Name)
		}
		return sym.Type
	case ast.ArrayLiteralNode:
		for _, e := range d.Elems {
			tc.checkExpr(e)
		}
		return ast.TypeArray
	case ast.BinaryOpNode:
		left, right := tc.checkExpr(d.Left), tc.checkExpr(d.Right)
		return tc.getBinaryOpResultType(node.Tok, d.Op, left, right)
	case ast.UnaryOpNode:
		operand := tc.checkExpr(d.Expr)
		switch d.Op {
		case token.Minus:
			if !operand.IsNumeric() && operand != ast.TypeUnknown {
				tc.fail(util.TypeError, node.Tok, "Operator '-' requires a numeric operand, got %s", operand)
			}
			return operand
		default:
			if operand != ast.TypeBool && operand != ast.TypeUnknown {
				tc.fail(util.TypeError, node.Tok, "Operator '!' requires a boolean operand, got %s", operand)
			}
			return ast.TypeBool
		}
	case ast.IndexNode:
		target, index := tc.checkExpr(d.Array), tc.checkExpr(d.Index)
		if index != ast.TypeInt && index != ast.TypeUnknown {
			tc.fail(util.TypeError, d.Index.Tok, "Index must be an int, got %s", index)
		}
		switch target {
		case ast.TypeString:
			return ast.TypeString
		case ast.TypeArray, ast.TypeUnknown:
			return ast.TypeUnknown
		}
		tc.fail(util.TypeError, node.Tok, "Cannot index a value of type %s", target)
	case ast.TypeOfNode:
		tc.checkExpr(d.Expr)
		return ast.TypeString
	case ast.FuncCallNode:
		return tc.checkFuncCall(node, d)
	}
	tc.fail(util.SemanticError, node.Tok, "Unexpected %s node in expression position", node.Type)
	return ast.TypeUnknown
}

func (tc *TypeChecker) checkFuncCall(node *ast.Node, d ast.FuncCallNode) ast.Type {
	sym := tc.findSymbol(d.Name)
	if sym == nil {
		tc.fail(util.NameError, node.Tok, "Undeclared function: %s", d.Name)
	}
	if !sym.IsFunc {
		tc.fail(util.TypeError, node.Tok, "'%s' is not a function", d.Name)
	}
	if len(d.Args) != len(sym.Params) {
		tc.fail(util.TypeError, node.Tok, "Function '%s' expects %d arguments but got %d", d.Name, len(sym.Params), len(d.Args))
	}
	for i, arg := range d.Args {
		argType := tc.checkExpr(arg)
		paramType := sym.Params[i].Data.(ast.ParamNode).Type
		if !areTypesCompatible(paramType, argType) {
			tc.fail(util.TypeError, arg.Tok, "Argument %d of '%s' expects %s but got %s", i+1, d.Name, paramType, argType)
		}
	}
	return sym.Returns
}

func (tc *TypeChecker) getBinaryOpResultType(tok token.Token, op token.Type, left, right ast.Type) ast.Type {
	switch op {
	case token.Plus, token.Minus, token.Star, token.Slash:
		if op == token.Plus && (left == ast.TypeString || right == ast.TypeString) {
			if isConcatenable(left) && isConcatenable(right) {
				return ast.TypeString
			}
			break
		}
		if left == ast.TypeUnknown || right == ast.TypeUnknown {
			if (left.IsNumeric() || left == ast.TypeUnknown) && (right.IsNumeric() || right == ast.TypeUnknown) {
				return ast.TypeUnknown
			}
			break
		}
		if left.IsNumeric() && right.IsNumeric() {
			if left == ast.TypeFloat || right == ast.TypeFloat {
				return ast.TypeFloat
			}
			return ast.TypeInt
		}
	case token.EqEq, token.Neq, token.Lt, token.Gt, token.Lte, token.Gte:
		if left == right || left == ast.TypeUnknown || right == ast.TypeUnknown ||
			(left.IsNumeric() && right.IsNumeric()) {
			return ast.TypeBool
		}
		if (op == token.EqEq || op == token.Neq) && (left == ast.TypeNull || right == ast.TypeNull) {
			return ast.TypeBool
		}
	case token.AndAnd, token.OrOr:
		if (left == ast.TypeBool || left == ast.TypeUnknown) && (right == ast.TypeBool || right == ast.TypeUnknown) {
			return ast.TypeBool
		}
		tc.fail(util.TypeError, tok, "Operator '%s' requires boolean operands, got %s and %s", op, left, right)
	}
	tc.fail(util.TypeError, tok, "Incompatible operand types for '%s': %s and %s", op, left, right)
	return ast.TypeUnknown
}

func isConcatenable(t ast.Type) bool {
	switch t {
	case ast.TypeString, ast.TypeInt, ast.TypeFloat, ast.TypeBool, ast.TypeNull, ast.TypeUnknown:
		return true
	}
	return false
}

// areTypesCompatible reports whether a value of type src may be stored in a slot of type dst.
func areTypesCompatible(dst, src ast.Type) bool {
	switch {
	case dst == src:
		return true
	case dst == ast.TypeUnknown || src == ast.TypeUnknown:
		return true
	case dst == ast.TypeNull || src == ast.TypeNull:
		return true
	case dst == ast.TypeFloat && src == ast.TypeInt:
		return true
	}
	return false
}
