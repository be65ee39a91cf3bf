package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/vibec/pkg/token"
	"github.com/xplshn/vibec/pkg/util"
)

func types(toks []token.Token) []token.Type {
	out := make([]token.Type, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func TestTokenize_Keywords(t *testing.T) {
	toks, err := Tokenize("starterPack smash maybe pass grind yeet serve return staph noCap cap ghosted itsGiving clout ratio tea mood gang shoutout")
	require.NoError(t, err)

	assert.Equal(t, []token.Type{
		token.Program, token.If, token.ElseIf, token.Else, token.While, token.For,
		token.Function, token.Return, token.Break, token.True, token.False, token.Null,
		token.TypeOf, token.IntType, token.FloatType, token.StringType, token.BoolType,
		token.ArrayType, token.Print, token.EOF,
	}, types(toks))
}

func TestTokenize_Operators(t *testing.T) {
	toks, err := Tokenize("= == ! != < <= > >= && || + - * / ( ) { } [ ] ; , . :")
	require.NoError(t, err)

	assert.Equal(t, []token.Type{
		token.Eq, token.EqEq, token.Not, token.Neq, token.Lt, token.Lte, token.Gt, token.Gte,
		token.AndAnd, token.OrOr, token.Plus, token.Minus, token.Star, token.Slash,
		token.LParen, token.RParen, token.LBrace, token.RBrace, token.LBracket, token.RBracket,
		token.Semi, token.Comma, token.Dot, token.Colon, token.EOF,
	}, types(toks))
}

func TestTokenize_Numbers(t *testing.T) {
	toks, err := Tokenize("42 3.14 7.x")
	require.NoError(t, err)

	require.Len(t, toks, 6)
	assert.Equal(t, token.Token{Type: token.Number, Value: "42", Line: 1, Column: 1, Len: 2}, toks[0])
	assert.Equal(t, token.Token{Type: token.FloatNumber, Value: "3.14", Line: 1, Column: 4, Len: 4}, toks[1])
	assert.Equal(t, token.Number, toks[2].Type)
	assert.Equal(t, "7", toks[2].Value)
	assert.Equal(t, token.Dot, toks[3].Type)
	assert.Equal(t, token.Ident, toks[4].Type)
}

func TestTokenize_Identifiers(t *testing.T) {
	toks, err := Tokenize("_tmp x1 smashing")
	require.NoError(t, err)

	for _, tok := range toks[:3] {
		assert.Equal(t, token.Ident, tok.Type)
	}
	assert.Equal(t, "smashing", toks[2].Value)
}

func TestTokenize_Comments(t *testing.T) {
	src := "x ~ line comment\n~* block\ncomment *~ y"
	toks, err := Tokenize(src)
	require.NoError(t, err)

	require.Len(t, toks, 3)
	assert.Equal(t, "x", toks[0].Value)
	assert.Equal(t, "y", toks[1].Value)
	assert.Equal(t, 3, toks[1].Line)
	assert.Equal(t, 12, toks[1].Column)
}

func TestTokenize_Strings(t *testing.T) {
	toks, err := Tokenize(`"a\tb\n\"q\"\\"`)
	require.NoError(t, err)

	require.Equal(t, token.String, toks[0].Type)
	assert.Equal(t, "a\tb\n\"q\"\\", toks[0].Value)
}

func TestTokenize_Positions(t *testing.T) {
	toks, err := Tokenize("clout x = 1;\n  shoutout(x);")
	require.NoError(t, err)

	tok := toks[5]
	require.Equal(t, token.Print, tok.Type)
	assert.Equal(t, 2, tok.Line)
	assert.Equal(t, 3, tok.Column)
	assert.Equal(t, 8, tok.Len)
}

func TestTokenize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		msg    string
		line   int
		column int
	}{
		{"unexpected character", "x = 1 @", "Unexpected character '@'", 1, 7},
		{"lone ampersand", "a & b", "Unexpected character '&'", 1, 3},
		{"unterminated string", "\"abc", "Unterminated string literal", 1, 1},
		{"newline in string", "\"ab\ncd\"", "Unterminated string literal", 1, 1},
		{"bad escape", `"\q"`, `Unsupported escape sequence '\q' in string literal`, 1, 1},
		{"unterminated comment", "x\n~* open", "Unterminated block comment", 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.src)
			require.Error(t, err)

			d, ok := util.AsDiagnostic(err)
			require.True(t, ok)
			assert.Equal(t, util.LexicalError, d.Kind)
			assert.Equal(t, tt.msg, d.Message)
			assert.Equal(t, tt.line, d.Line)
			assert.Equal(t, tt.column, d.Column)
		})
	}
}

func TestToken_Text(t *testing.T) {
	toks, err := Tokenize(`} foo "s" 12`)
	require.NoError(t, err)

	var got []string
	for _, tok := range toks {
		got = append(got, tok.Text())
	}
	assert.Equal(t, []string{"}", "foo", `"s"`, "12", "end of input"}, got)
}
