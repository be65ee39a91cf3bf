// Package ast defines the types used to represent the Abstract Syntax Tree (AST)
package ast

import (
	"github.com/xplshn/vibec/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	// Expressions
	Number NodeType = iota
	String
	Boolean
	Null
	Ident
	ArrayLiteral
	BinaryOp
	UnaryOp
	Index
	TypeOf
	FuncCall

	// Statements
	Program
	Block
	VarDecl
	Assign
	Print
	If
	ElseIf
	While
	For
	FuncDecl
	Param
	Return
	Break
	ExprStmt
)

var nodeTypeNames = [...]string{
	Number:       "Number",
	String:       "String",
	Boolean:      "Boolean",
	Null:         "Null",
	Ident:        "Identifier",
	ArrayLiteral: "ArrayLiteral",
	BinaryOp:     "BinaryOp",
	UnaryOp:      "UnaryOp",
	Index:        "Index",
	TypeOf:       "TypeOf",
	FuncCall:     "FunctionCall",
	Program:      "Program",
	Block:        "Block",
	VarDecl:      "VarDecl",
	Assign:       "Assignment",
	Print:        "Print",
	If:           "If",
	ElseIf:       "ElseIf",
	While:        "While",
	For:          "For",
	FuncDecl:     "FunctionDecl",
	Param:        "Param",
	Return:       "Return",
	Break:        "Break",
	ExprStmt:     "ExprStmt",
}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return "Unknown"
}

// Node represents a node in the Abstract Syntax Tree
type Node struct {
	Type NodeType
	Tok  token.Token
	Data interface{}
	Typ  Type // Set by the type checker
}

// Type is the static type tag of a value.
type Type int

const (
	TypeUnknown Type = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBool
	TypeNull
	TypeArray
	TypeDict
	TypeFunc
)

var typeNames = [...]string{
	TypeUnknown: "unknown",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeString:  "string",
	TypeBool:    "bool",
	TypeNull:    "null",
	TypeArray:   "array",
	TypeDict:    "dict",
	TypeFunc:    "function",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

func (t Type) IsNumeric() bool { return t == TypeInt || t == TypeFloat }

// TypeFromToken maps a type marker keyword to its Type.
func TypeFromToken(tt token.Type) Type {
	switch tt {
	case token.IntType:
		return TypeInt
	case token.FloatType:
		return TypeFloat
	case token.StringType:
		return TypeString
	case token.BoolType:
		return TypeBool
	case token.ArrayType:
		return TypeArray
	case token.DictType:
		return TypeDict
	}
	return TypeUnknown
}

// --- Node Data Structs ---
type NumberNode struct {
	Text    string
	IsFloat bool
}
type StringNode struct{ Value string }
type BooleanNode struct{ Value bool }
type NullNode struct{}
type IdentNode struct{ Name string }
type ArrayLiteralNode struct{ Elems []*Node }
type BinaryOpNode struct {
	Op          token.Type
	Left, Right *Node
}
type UnaryOpNode struct {
	Op   token.Type
	Expr *Node
}
type IndexNode struct{ Array, Index *Node }
type TypeOfNode struct{ Expr *Node }
type FuncCallNode struct {
	Name string
	Args []*Node
}
type ProgramNode struct {
	Name string
	Body *Node
}
type BlockNode struct{ Stmts []*Node }
type VarDeclNode struct {
	Name string
	Type Type
	Init *Node
}
type AssignNode struct {
	Name string
	Rhs  *Node
}
type PrintNode struct{ Expr *Node }
type IfNode struct {
	Cond     *Node
	ThenBody *Node
	ElseIfs  []*Node
	ElseBody *Node
}
type ElseIfNode struct{ Cond, Body *Node }
type WhileNode struct{ Cond, Body *Node }

// ForNode fields other than Body may be nil.
type ForNode struct{ Init, Cond, Update, Body *Node }
type FuncDeclNode struct {
	Name   string
	Params []*Node
	Body   *Node
}
type ParamNode struct {
	Name string
	Type Type
}
type ReturnNode struct{ Expr *Node }
type BreakNode struct{}
type ExprStmtNode struct{ Expr *Node }

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, data interface{}) *Node {
	return &Node{Type: nodeType, Tok: tok, Data: data}
}

func NewNumber(tok token.Token, text string, isFloat bool) *Node {
	return newNode(tok, Number, NumberNode{Text: text, IsFloat: isFloat})
}
func NewString(tok token.Token, value string) *Node {
	return newNode(tok, String, StringNode{Value: value})
}
func NewBoolean(tok token.Token, value bool) *Node {
	return newNode(tok, Boolean, BooleanNode{Value: value})
}
func NewNull(tok token.Token) *Node {
	return newNode(tok, Null, NullNode{})
}
func NewIdent(tok token.Token, name string) *Node {
	return newNode(tok, Ident, IdentNode{Name: name})
}
func NewArrayLiteral(tok token.Token, elems []*Node) *Node {
	return newNode(tok, ArrayLiteral, ArrayLiteralNode{Elems: elems})
}
func NewBinaryOp(tok token.Token, op token.Type, left, right *Node) *Node {
	return newNode(tok, BinaryOp, BinaryOpNode{Op: op, Left: left, Right: right})
}
func NewUnaryOp(tok token.Token, op token.Type, expr *Node) *Node {
	return newNode(tok, UnaryOp, UnaryOpNode{Op: op, Expr: expr})
}
func NewIndex(tok token.Token, array, index *Node) *Node {
	return newNode(tok, Index, IndexNode{Array: array, Index: index})
}
func NewTypeOf(tok token.Token, expr *Node) *Node {
	return newNode(tok, TypeOf, TypeOfNode{Expr: expr})
}
func NewFuncCall(tok token.Token, name string, args []*Node) *Node {
	return newNode(tok, FuncCall, FuncCallNode{Name: name, Args: args})
}
func NewProgram(tok token.Token, name string, body *Node) *Node {
	return newNode(tok, Program, ProgramNode{Name: name, Body: body})
}
func NewBlock(tok token.Token, stmts []*Node) *Node {
	return newNode(tok, Block, BlockNode{Stmts: stmts})
}
func NewVarDecl(tok token.Token, name string, varType Type, init *Node) *Node {
	return newNode(tok, VarDecl, VarDeclNode{Name: name, Type: varType, Init: init})
}
func NewAssign(tok token.Token, name string, rhs *Node) *Node {
	return newNode(tok, Assign, AssignNode{Name: name, Rhs: rhs})
}
func NewPrint(tok token.Token, expr *Node) *Node {
	return newNode(tok, Print, PrintNode{Expr: expr})
}
func NewIf(tok token.Token, cond, thenBody *Node, elseIfs []*Node, elseBody *Node) *Node {
	return newNode(tok, If, IfNode{Cond: cond, ThenBody: thenBody, ElseIfs: elseIfs, ElseBody: elseBody})
}
func NewElseIf(tok token.Token, cond, body *Node) *Node {
	return newNode(tok, ElseIf, ElseIfNode{Cond: cond, Body: body})
}
func NewWhile(tok token.Token, cond, body *Node) *Node {
	return newNode(tok, While, WhileNode{Cond: cond, Body: body})
}
func NewFor(tok token.Token, init, cond, update, body *Node) *Node {
	return newNode(tok, For, ForNode{Init: init, Cond: cond, Update: update, Body: body})
}
func NewFuncDecl(tok token.Token, name string, params []*Node, body *Node) *Node {
	return newNode(tok, FuncDecl, FuncDeclNode{Name: name, Params: params, Body: body})
}
func NewParam(tok token.Token, name string, typ Type) *Node {
	return newNode(tok, Param, ParamNode{Name: name, Type: typ})
}
func NewReturn(tok token.Token, expr *Node) *Node {
	return newNode(tok, Return, ReturnNode{Expr: expr})
}
func NewBreak(tok token.Token) *Node {
	return newNode(tok, Break, BreakNode{})
}
func NewExprStmt(tok token.Token, expr *Node) *Node {
	return newNode(tok, ExprStmt, ExprStmtNode{Expr: expr})
}

// Children returns the node's child nodes in source order. Absent optional
// parts are skipped.
func (n *Node) Children() []*Node {
	var out []*Node
	add := func(nodes ...*Node) {
		for _, c := range nodes {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	switch d := n.Data.(type) {
	case ArrayLiteralNode:
		add(d.Elems...)
	case BinaryOpNode:
		add(d.Left, d.Right)
	case UnaryOpNode:
		add(d.Expr)
	case IndexNode:
		add(d.Array, d.Index)
	case TypeOfNode:
		add(d.Expr)
	case FuncCallNode:
		add(d.Args...)
	case ProgramNode:
		add(d.Body)
	case BlockNode:
		add(d.Stmts...)
	case VarDeclNode:
		add(d.Init)
	case AssignNode:
		add(d.Rhs)
	case PrintNode:
		add(d.Expr)
	case IfNode:
		add(d.Cond, d.ThenBody)
		add(d.ElseIfs...)
		add(d.ElseBody)
	case ElseIfNode:
		add(d.Cond, d.Body)
	case WhileNode:
		add(d.Cond, d.Body)
	case ForNode:
		add(d.Init, d.Cond, d.Update, d.Body)
	case FuncDeclNode:
		add(d.Params...)
		add(d.Body)
	case ReturnNode:
		add(d.Expr)
	case ExprStmtNode:
		add(d.Expr)
	}
	return out
}

// Value returns the scalar payload of the node (name, operator or literal
// text) and false when the node kind carries none.
func (n *Node) Value() (string, bool) {
	switch d := n.Data.(type) {
	case NumberNode:
		return d.Text, true
	case StringNode:
		return d.Value, true
	case BooleanNode:
		if d.Value {
			return token.TypeStrings[token.True], true
		}
		return token.TypeStrings[token.False], true
	case NullNode:
		return token.TypeStrings[token.Null], true
	case IdentNode:
		return d.Name, true
	case BinaryOpNode:
		return d.Op.String(), true
	case UnaryOpNode:
		return d.Op.String(), true
	case FuncCallNode:
		return d.Name, true
	case ProgramNode:
		return d.Name, true
	case VarDeclNode:
		return d.Name, true
	case AssignNode:
		return d.Name, true
	case FuncDeclNode:
		return d.Name, true
	case ParamNode:
		return d.Name, true
	}
	return "", false
}
