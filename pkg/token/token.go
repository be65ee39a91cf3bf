package token

import "fmt"

type Type int

const (
	EOF Type = iota
	Ident
	Number
	FloatNumber
	String
	// Keywords
	Program
	Print
	If
	ElseIf
	Else
	While
	For
	Function
	Return
	Break
	True
	False
	Null
	TypeOf
	Input
	Switch
	Try
	Catch
	// Type markers
	IntType
	FloatType
	StringType
	BoolType
	ArrayType
	DictType
	// Punctuation
	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket
	Semi
	Comma
	Dot
	Colon
	// Operators
	Eq
	Plus
	Minus
	Star
	Slash
	EqEq
	Neq
	Lt
	Gt
	Lte
	Gte
	AndAnd
	OrOr
	Not
)

// KeywordMap is the surface lexicon. Spellings are part of the language and
// must not change.
var KeywordMap = map[string]Type{
	"starterPack":       Program,
	"shoutout":          Print,
	"smash":             If,
	"maybe":             ElseIf,
	"pass":              Else,
	"grind":             While,
	"yeet":              For,
	"serve":             Function,
	"return":            Return,
	"staph":             Break,
	"noCap":             True,
	"cap":               False,
	"ghosted":           Null,
	"itsGiving":         TypeOf,
	"spillTheTea":       Input,
	"chooseYourFighter": Switch,
	"tryhard":           Try,
	"flopped":           Catch,
	"clout":             IntType,
	"ratio":             FloatType,
	"tea":               StringType,
	"mood":              BoolType,
	"gang":              ArrayType,
	"wiki":              DictType,
}

// Reverse mapping from Type to the keyword string
var TypeStrings = make(map[Type]string)

var symbolStrings = map[Type]string{
	EOF: "end of input", Ident: "identifier", Number: "number", FloatNumber: "number", String: "string",
	LParen: "(", RParen: ")", LBrace: "{", RBrace: "}", LBracket: "[", RBracket: "]",
	Semi: ";", Comma: ",", Dot: ".", Colon: ":",
	Eq: "=", Plus: "+", Minus: "-", Star: "*", Slash: "/",
	EqEq: "==", Neq: "!=", Lt: "<", Gt: ">", Lte: "<=", Gte: ">=",
	AndAnd: "&&", OrOr: "||", Not: "!",
}

func init() {
	for str, typ := range KeywordMap {
		TypeStrings[typ] = str
	}
	for typ, str := range symbolStrings {
		TypeStrings[typ] = str
	}
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// IsTypeMarker reports whether t names a declared data type.
func (t Type) IsTypeMarker() bool { return t >= IntType && t <= DictType }

type Token struct {
	Type   Type
	Value  string
	Line   int
	Column int
	Len    int
}

// Text is the token as it should appear in diagnostics.
func (t Token) Text() string {
	switch t.Type {
	case EOF:
		return "end of input"
	case Ident, Number, FloatNumber:
		return t.Value
	case String:
		return fmt.Sprintf("%q", t.Value)
	}
	return t.Type.String()
}
