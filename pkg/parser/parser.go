package parser

import (
	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/token"
	"github.com/xplshn/vibec/pkg/util"
)

// Parser holds the state for the parsing process
type Parser struct {
	tokens   []token.Token
	pos      int
	current  token.Token
	previous token.Token
	depth    int
	maxDepth int
}

// bailout unwinds the parser on the first error. Parse recovers it.
type bailout struct{ err *util.Diagnostic }

// NewParser creates and initializes a new Parser from a token stream
func NewParser(tokens []token.Token, cfg *config.Config) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != token.EOF {
		tokens = append(tokens, token.Token{Type: token.EOF})
	}
	p := &Parser{tokens: tokens, current: tokens[0], maxDepth: config.DefaultMaxDepth}
	if cfg != nil && cfg.MaxDepth > 0 {
		p.maxDepth = cfg.MaxDepth
	}
	return p
}

// Parse builds the AST. The root is always a Program node.
func (p *Parser) Parse() (root *ast.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			root, err = nil, b.err
		}
	}()
	return p.parseProgram(), nil
}

// Parser helpers
func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.previous = p.current
		p.pos++
		p.current = p.tokens[p.pos]
	}
}

func (p *Parser) peek() token.Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) check(tokType token.Type) bool {
	return p.current.Type == tokType
}

func (p *Parser) match(tokType token.Type) bool {
	if !p.check(tokType) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(tokType token.Type) token.Token {
	if p.check(tokType) {
		tok := p.current
		p.advance()
		return tok
	}
	p.errorExpected(tokType.String())
	return token.Token{}
}

func (p *Parser) errorExpected(what string) {
	if p.check(token.EOF) {
		p.fail(p.current, "Unexpected end of input")
	}
	p.fail(p.current, "Expected '%s' but found '%s'", what, p.current.Text())
}

func (p *Parser) fail(tok token.Token, format string, args ...interface{}) {
	panic(bailout{util.Errorf(util.SyntaxError, tok, format, args...)})
}

func (p *Parser) enter() {
	p.depth++
	if p.depth > p.maxDepth {
		p.fail(p.current, "Maximum nesting depth %d exceeded", p.maxDepth)
	}
}

func (p *Parser) leave() { p.depth-- }

func (p *Parser) parseProgram() *ast.Node {
	tok := p.expect(token.Program)
	name := p.expect(token.Ident)
	body := p.parseBlock()
	if !p.check(token.EOF) {
		p.errorExpected(token.EOF.String())
	}
	return ast.NewProgram(tok, name.Value, body)
}

func (p *Parser) parseBlock() *ast.Node {
	tok := p.expect(token.LBrace)
	stmts := []*ast.Node{}
	for !p.check(token.RBrace) {
		if p.check(token.EOF) {
			p.errorExpected(token.RBrace.String())
		}
		stmts = append(stmts, p.parseStmt())
	}
	p.expect(token.RBrace)
	return ast.NewBlock(tok, stmts)
}

// Statement Parsing
func (p *Parser) parseStmt() *ast.Node {
	p.enter()
	defer p.leave()

	tok := p.current
	switch {
	case p.match(token.Print):
		p.expect(token.LParen)
		expr := p.parseExpr()
		p.expect(token.RParen)
		p.match(token.Semi)
		return ast.NewPrint(tok, expr)
	case p.match(token.If):
		return p.parseIfStmt(tok)
	case p.match(token.While):
		cond := p.parseExpr()
		body := p.parseBlock()
		return ast.NewWhile(tok, cond, body)
	case p.match(token.For):
		return p.parseForStmt(tok)
	case p.match(token.Function):
		return p.parseFuncDecl(tok)
	case p.match(token.Return):
		var expr *ast.Node
		if !p.check(token.Semi) && !p.check(token.RBrace) {
			expr = p.parseExpr()
		}
		p.match(token.Semi)
		return ast.NewReturn(tok, expr)
	case p.match(token.Break):
		p.match(token.Semi)
		return ast.NewBreak(tok)
	case p.current.Type.IsTypeMarker():
		decl := p.parseVarDecl()
		p.match(token.Semi)
		return decl
	case p.check(token.Ident) && p.peek().Type == token.Eq:
		assign := p.parseAssignment()
		p.match(token.Semi)
		return assign
	case p.check(token.LBrace):
		return p.parseBlock()
	case p.check(token.ElseIf), p.check(token.Else), p.check(token.Input),
		p.check(token.Switch), p.check(token.Try), p.check(token.Catch):
		p.fail(tok, "Unexpected '%s'", tok.Text())
	}

	expr := p.parseExpr()
	p.match(token.Semi)
	return ast.NewExprStmt(tok, expr)
}

func (p *Parser) parseIfStmt(tok token.Token) *ast.Node {
	cond := p.parseExpr()
	thenBody := p.parseBlock()

	var elseIfs []*ast.Node
	for p.check(token.ElseIf) {
		eTok := p.current
		p.advance()
		eCond := p.parseExpr()
		eBody := p.parseBlock()
		elseIfs = append(elseIfs, ast.NewElseIf(eTok, eCond, eBody))
	}

	var elseBody *ast.Node
	if p.match(token.Else) {
		elseBody = p.parseBlock()
	}
	return ast.NewIf(tok, cond, thenBody, elseIfs, elseBody)
}

func (p *Parser) parseForStmt(tok token.Token) *ast.Node {
	p.expect(token.LParen)

	var init, cond, update *ast.Node
	if !p.check(token.Semi) {
		init = p.parseSimpleStmt()
	}
	p.expect(token.Semi)
	if !p.check(token.Semi) {
		cond = p.parseExpr()
	}
	p.expect(token.Semi)
	if !p.check(token.RParen) {
		update = p.parseSimpleStmt()
	}
	p.expect(token.RParen)

	body := p.parseBlock()
	return ast.NewFor(tok, init, cond, update, body)
}

// parseSimpleStmt parses the init and update clauses of a for loop.
func (p *Parser) parseSimpleStmt() *ast.Node {
	tok := p.current
	switch {
	case p.current.Type.IsTypeMarker():
		return p.parseVarDecl()
	case p.check(token.Ident) && p.peek().Type == token.Eq:
		return p.parseAssignment()
	}
	return ast.NewExprStmt(tok, p.parseExpr())
}

func (p *Parser) parseFuncDecl(tok token.Token) *ast.Node {
	name := p.expect(token.Ident)
	p.expect(token.LParen)

	params := []*ast.Node{}
	if !p.check(token.RParen) {
		for {
			pTok := p.current
			pType := ast.TypeUnknown
			if p.current.Type.IsTypeMarker() {
				pType = ast.TypeFromToken(p.current.Type)
				p.advance()
			}
			pName := p.expect(token.Ident)
			if pType != ast.TypeUnknown {
				pTok = pName
			}
			params = append(params, ast.NewParam(pTok, pName.Value, pType))
			if !p.match(token.Comma) {
				break
			}
		}
	}
	p.expect(token.RParen)

	body := p.parseBlock()
	return ast.NewFuncDecl(tok, name.Value, params, body)
}

func (p *Parser) parseVarDecl() *ast.Node {
	typ := ast.TypeFromToken(p.current.Type)
	p.advance()
	name := p.expect(token.Ident)

	var init *ast.Node
	if p.match(token.Eq) {
		init = p.parseExpr()
	}
	return ast.NewVarDecl(name, name.Value, typ, init)
}

func (p *Parser) parseAssignment() *ast.Node {
	name := p.expect(token.Ident)
	p.expect(token.Eq)
	rhs := p.parseExpr()
	return ast.NewAssign(name, name.Value, rhs)
}

// Expression Parsing
func getBinaryOpPrecedence(op token.Type) int {
	switch op {
	case token.Star, token.Slash:
		return 4
	case token.Plus, token.Minus:
		return 3
	case token.EqEq, token.Neq, token.Lt, token.Gt, token.Lte, token.Gte:
		return 2
	case token.AndAnd, token.OrOr:
		return 1
	default:
		return -1
	}
}

func (p *Parser) parseExpr() *ast.Node {
	return p.parseBinaryExpr(1)
}

func (p *Parser) parseBinaryExpr(minPrec int) *ast.Node {
	p.enter()
	defer p.leave()

	left := p.parseUnaryExpr()
	for {
		op := p.current.Type
		prec := getBinaryOpPrecedence(op)
		if prec < minPrec {
			break
		}
		opTok := p.current
		p.advance()
		right := p.parseBinaryExpr(prec + 1)
		left = ast.NewBinaryOp(opTok, op, left, right)
	}
	return left
}

func (p *Parser) parseUnaryExpr() *ast.Node {
	tok := p.current
	if p.match(token.Minus) || p.match(token.Not) {
		p.enter()
		defer p.leave()
		operand := p.parseUnaryExpr()
		return ast.NewUnaryOp(tok, tok.Type, operand)
	}
	return p.parsePostfixExpr()
}

func (p *Parser) parsePostfixExpr() *ast.Node {
	expr := p.parsePrimaryExpr()
	for {
		tok := p.current
		if !p.match(token.LBracket) {
			return expr
		}
		index := p.parseExpr()
		p.expect(token.RBracket)
		expr = ast.NewIndex(tok, expr, index)
	}
}

func (p *Parser) parsePrimaryExpr() *ast.Node {
	tok := p.current
	switch {
	case p.match(token.Number):
		return ast.NewNumber(tok, tok.Value, false)
	case p.match(token.FloatNumber):
		return ast.NewNumber(tok, tok.Value, true)
	case p.match(token.String):
		return ast.NewString(tok, tok.Value)
	case p.match(token.True):
		return ast.NewBoolean(tok, true)
	case p.match(token.False):
		return ast.NewBoolean(tok, false)
	case p.match(token.Null):
		return ast.NewNull(tok)
	case p.match(token.TypeOf):
		p.expect(token.LParen)
		expr := p.parseExpr()
		p.expect(token.RParen)
		return ast.NewTypeOf(tok, expr)
	case p.match(token.Ident):
		if p.match(token.LParen) {
			return ast.NewFuncCall(tok, tok.Value, p.parseArgs())
		}
		return ast.NewIdent(tok, tok.Value)
	case p.match(token.LParen):
		expr := p.parseExpr()
		p.expect(token.RParen)
		return expr
	case p.match(token.LBracket):
		elems := []*ast.Node{}
		if !p.check(token.RBracket) {
			for {
				elems = append(elems, p.parseExpr())
				if !p.match(token.Comma) {
					break
				}
			}
		}
		p.expect(token.RBracket)
		return ast.NewArrayLiteral(tok, elems)
	}
	p.errorExpected("expression")
	return nil
}

// parseArgs parses a call argument list; the opening parenthesis is already consumed.
func (p *Parser) parseArgs() []*ast.Node {
	args := []*ast.Node{}
	if !p.check(token.RParen) {
		for {
			args = append(args, p.parseExpr())
			if !p.match(token.Comma) {
				break
			}
		}
	}
	p.expect(token.RParen)
	return args
}
