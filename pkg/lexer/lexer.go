package lexer

import (
	"strings"
	"unicode"

	"github.com/xplshn/vibec/pkg/token"
	"github.com/xplshn/vibec/pkg/util"
)

var singleChar = map[rune]token.Type{
	'(': token.LParen, ')': token.RParen,
	'{': token.LBrace, '}': token.RBrace,
	'[': token.LBracket, ']': token.RBracket,
	';': token.Semi, ',': token.Comma, '.': token.Dot, ':': token.Colon,
	'+': token.Plus, '-': token.Minus, '*': token.Star, '/': token.Slash,
}

type Lexer struct {
	source []rune
	pos    int
	line   int
	column int
}

func NewLexer(source []rune) *Lexer {
	return &Lexer{source: source, line: 1, column: 1}
}

// Tokenize lexes the whole source. The returned slice always ends with an EOF token.
func Tokenize(source string) ([]token.Token, error) {
	l := NewLexer([]rune(source))
	var tokens []token.Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) Next() (token.Token, error) {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return token.Token{}, err
	}
	startPos, startCol, startLine := l.pos, l.column, l.line

	if l.isAtEnd() {
		return l.makeToken(token.EOF, "", startPos, startCol, startLine), nil
	}

	ch := l.peek()
	if unicode.IsLetter(ch) || ch == '_' {
		l.advance()
		return l.identifierOrKeyword(startPos, startCol, startLine), nil
	}
	if isDigit(ch) {
		return l.numberLiteral(startPos, startCol, startLine), nil
	}

	l.advance()
	if tt, ok := singleChar[ch]; ok {
		return l.makeToken(tt, "", startPos, startCol, startLine), nil
	}
	switch ch {
	case '=':
		return l.matchThen('=', token.EqEq, token.Eq, startPos, startCol, startLine), nil
	case '!':
		return l.matchThen('=', token.Neq, token.Not, startPos, startCol, startLine), nil
	case '<':
		return l.matchThen('=', token.Lte, token.Lt, startPos, startCol, startLine), nil
	case '>':
		return l.matchThen('=', token.Gte, token.Gt, startPos, startCol, startLine), nil
	case '&':
		if l.match('&') {
			return l.makeToken(token.AndAnd, "", startPos, startCol, startLine), nil
		}
	case '|':
		if l.match('|') {
			return l.makeToken(token.OrOr, "", startPos, startCol, startLine), nil
		}
	case '"':
		return l.stringLiteral(startPos, startCol, startLine)
	}

	tok := l.makeToken(token.EOF, "", startPos, startCol, startLine)
	return token.Token{}, util.Errorf(util.LexicalError, tok, "Unexpected character '%c'", ch)
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) peekNext() rune {
	if l.pos+1 >= len(l.source) {
		return 0
	}
	return l.source[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() {
		return 0
	}
	ch := l.source[l.pos]
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
	return ch
}

func (l *Lexer) match(expected rune) bool {
	if l.isAtEnd() || l.source[l.pos] != expected {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, value string, startPos, startCol, startLine int) token.Token {
	return token.Token{
		Type: tokType, Value: value,
		Line: startLine, Column: startCol, Len: l.pos - startPos,
	}
}

func (l *Lexer) skipWhitespaceAndComments() error {
	for {
		switch l.peek() {
		case ' ', '\t', '\n', '\r':
			l.advance()
		case '~':
			if l.peekNext() == '*' {
				if err := l.blockComment(); err != nil {
					return err
				}
			} else {
				l.lineComment()
			}
		default:
			return nil
		}
	}
}

func (l *Lexer) blockComment() error {
	startTok := l.makeToken(token.EOF, "", l.pos, l.column, l.line)
	startTok.Len = 2
	l.advance()
	l.advance()
	for !l.isAtEnd() {
		if l.peek() == '*' && l.peekNext() == '~' {
			l.advance()
			l.advance()
			return nil
		}
		l.advance()
	}
	return util.Errorf(util.LexicalError, startTok, "Unterminated block comment")
}

func (l *Lexer) lineComment() {
	for !l.isAtEnd() && l.peek() != '\n' {
		l.advance()
	}
}

func (l *Lexer) identifierOrKeyword(startPos, startCol, startLine int) token.Token {
	for unicode.IsLetter(l.peek()) || isDigit(l.peek()) || l.peek() == '_' {
		l.advance()
	}
	value := string(l.source[startPos:l.pos])
	tok := l.makeToken(token.Ident, value, startPos, startCol, startLine)

	if tokType, isKeyword := token.KeywordMap[value]; isKeyword {
		tok.Type = tokType
	}
	return tok
}

// numberLiteral matches \d+(\.\d+)?. A dot not followed by a digit is left for the next token.
func (l *Lexer) numberLiteral(startPos, startCol, startLine int) token.Token {
	for isDigit(l.peek()) {
		l.advance()
	}
	tokType := token.Number
	if l.peek() == '.' && isDigit(l.peekNext()) {
		tokType = token.FloatNumber
		l.advance()
		for isDigit(l.peek()) {
			l.advance()
		}
	}
	return l.makeToken(tokType, string(l.source[startPos:l.pos]), startPos, startCol, startLine)
}

func (l *Lexer) stringLiteral(startPos, startCol, startLine int) (token.Token, error) {
	var sb strings.Builder
	for !l.isAtEnd() {
		c := l.peek()
		if c == '\n' {
			break
		}
		if c == '"' {
			l.advance()
			return l.makeToken(token.String, sb.String(), startPos, startCol, startLine), nil
		}
		l.advance()
		if c != '\\' {
			sb.WriteRune(c)
			continue
		}
		val, ok := l.decodeEscape()
		if !ok {
			tok := l.makeToken(token.String, "", startPos, startCol, startLine)
			return token.Token{}, util.Errorf(util.LexicalError, tok, "Unsupported escape sequence '\\%c' in string literal", val)
		}
		sb.WriteRune(val)
	}
	tok := l.makeToken(token.String, "", startPos, startCol, startLine)
	return token.Token{}, util.Errorf(util.LexicalError, tok, "Unterminated string literal")
}

var escapes = map[rune]rune{
	'n': '\n', 't': '\t', 'r': '\r', '0': 0, '\\': '\\', '"': '"',
}

// decodeEscape consumes the character after a backslash. On failure the raw
// character is returned with ok=false.
func (l *Lexer) decodeEscape() (rune, bool) {
	if l.isAtEnd() {
		return 0, false
	}
	c := l.advance()
	val, ok := escapes[c]
	if !ok {
		return c, false
	}
	return val, true
}

func (l *Lexer) matchThen(expected rune, thenType, elseType token.Type, sPos, sCol, sLine int) token.Token {
	if l.match(expected) {
		return l.makeToken(thenType, "", sPos, sCol, sLine)
	}
	return l.makeToken(elseType, "", sPos, sCol, sLine)
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
