package expression

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes an expression string.
type Lexer struct {
	input string
	pos   int // current position in input
	start int // start position of current token
	width int // width of last rune read
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize lexes the entire input and returns all tokens.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok := l.nextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
		if tok.Type == TokenError {
			return tokens, &LexError{Message: tok.Value, Pos: tok.Pos}
		}
	}
	return tokens, nil
}

// LexError represents a lexer error.
type LexError struct {
	Message string
	Pos     int
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Message, e.Pos)
}

// nextToken returns the next token from the input.
func (l *Lexer) nextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return l.makeToken(TokenEOF, "")
	}

	l.start = l.pos
	ch := l.next()

	switch {
	case ch == '(':
		return l.makeToken(TokenLParen, "(")
	case ch == ')':
		return l.makeToken(TokenRParen, ")")
	case ch == '+':
		return l.makeToken(TokenPlus, "+")
	case ch == '-':
		return l.makeToken(TokenMinus, "-")
	case ch == '*':
		return l.makeToken(TokenStar, "*")
	case ch == '/':
		return l.makeToken(TokenSlash, "/")
	case ch == '=':
		if l.peek() == '=' {
			l.next()
			return l.makeToken(TokenEquals, "==")
		}
		return l.makeErrorToken("unexpected character '='")
	case ch == '!':
		if l.peek() == '=' {
			l.next()
			return l.makeToken(TokenNotEquals, "!=")
		}
		return l.makeToken(TokenNot, "!")
	case ch == '<':
		if l.peek() == '=' {
			l.next()
			return l.makeToken(TokenLessEqual, "<=")
		}
		return l.makeToken(TokenLess, "<")
	case ch == '>':
		if l.peek() == '=' {
			l.next()
			return l.makeToken(TokenGreaterEqual, ">=")
		}
		return l.makeToken(TokenGreater, ">")
	case ch == '&':
		if l.peek() == '&' {
			l.next()
			return l.makeToken(TokenAnd, "&&")
		}
		return l.makeErrorToken("unexpected character '&'")
	case ch == '|':
		if l.peek() == '|' {
			l.next()
			return l.makeToken(TokenOr, "||")
		}
		return l.makeErrorToken("unexpected character '|'")
	case isDigit(ch):
		l.backup()
		return l.scanNumber()
	case isIdentStart(ch):
		l.backup()
		return l.scanIdent()
	default:
		return l.makeErrorToken("unexpected character '" + string(ch) + "'")
	}
}

// scanNumber scans a numeric literal.
func (l *Lexer) scanNumber() Token {
	for isDigit(l.peek()) {
		l.next()
	}
	if l.peek() == '.' {
		l.next()
		for isDigit(l.peek()) {
			l.next()
		}
	}
	return l.makeToken(TokenNumber, l.input[l.start:l.pos])
}

// scanIdent scans an identifier.
func (l *Lexer) scanIdent() Token {
	for isIdentPart(l.peek()) {
		l.next()
	}
	return l.makeToken(TokenIdent, l.input[l.start:l.pos])
}

func (l *Lexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return 0
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += w
	l.width = w
	return r
}

func (l *Lexer) backup() {
	l.pos -= l.width
}

func (l *Lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		r, w := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += w
	}
}

func (l *Lexer) makeToken(typ TokenType, value string) Token {
	return Token{Type: typ, Value: value, Pos: l.start, Column: l.start + 1}
}

func (l *Lexer) makeErrorToken(msg string) Token {
	return Token{Type: TokenError, Value: msg, Pos: l.start, Column: l.start + 1}
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
