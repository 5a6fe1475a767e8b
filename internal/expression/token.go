// Package expression implements a small sandboxed evaluator for the numeric
// expressions used by output profiles: enabled predicates over the source
// geometry and derived data fields computed from previously resolved values.
//
// The language is deliberately tiny. Identifiers resolve against a caller
// supplied scope, numbers are float64, and the only operators are arithmetic,
// comparison and boolean combination. There is no assignment, no function
// calls and no access to anything outside the scope map.
package expression

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

// Token types.
const (
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenIdent  // scope variable names
	TokenNumber // integer or float

	// Arithmetic
	TokenPlus  // +
	TokenMinus // -
	TokenStar  // *
	TokenSlash // /

	// Comparison
	TokenEquals       // ==
	TokenNotEquals    // !=
	TokenLess         // <
	TokenLessEqual    // <=
	TokenGreater      // >
	TokenGreaterEqual // >=

	// Logical
	TokenAnd // &&
	TokenOr  // ||
	TokenNot // !

	// Grouping
	TokenLParen // (
	TokenRParen // )
)

// Token represents a lexical token.
type Token struct {
	Type   TokenType
	Value  string
	Pos    int // position in input
	Column int
}

// String returns a string representation of the token.
func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Value)
	default:
		return fmt.Sprintf("%s(%s)", t.Type, t.Value)
	}
}

// String returns the name of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return "Error"
	case TokenIdent:
		return "Ident"
	case TokenNumber:
		return "Number"
	case TokenPlus:
		return "Plus"
	case TokenMinus:
		return "Minus"
	case TokenStar:
		return "Star"
	case TokenSlash:
		return "Slash"
	case TokenEquals:
		return "Equals"
	case TokenNotEquals:
		return "NotEquals"
	case TokenLess:
		return "Less"
	case TokenLessEqual:
		return "LessEqual"
	case TokenGreater:
		return "Greater"
	case TokenGreaterEqual:
		return "GreaterEqual"
	case TokenAnd:
		return "And"
	case TokenOr:
		return "Or"
	case TokenNot:
		return "Not"
	case TokenLParen:
		return "LParen"
	case TokenRParen:
		return "RParen"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}
