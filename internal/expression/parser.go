package expression

import (
	"fmt"
	"strconv"
)

// Parser parses expression tokens into an AST.
type Parser struct {
	tokens  []Token
	pos     int
	current Token
}

// NewParser creates a new parser for the given tokens.
func NewParser(tokens []Token) *Parser {
	p := &Parser{tokens: tokens}
	if len(tokens) > 0 {
		p.current = tokens[0]
	}
	return p
}

// Parse parses the tokens into an AST.
func (p *Parser) Parse() (Node, error) {
	if len(p.tokens) == 0 || p.current.Type == TokenEOF {
		return nil, p.errorf("empty expression")
	}

	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.current.Type != TokenEOF {
		return nil, p.errorf("unexpected token %q", p.current.Value)
	}
	return expr, nil
}

// parseOr parses || expressions (lowest precedence).
func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: TokenOr, Left: left, Right: right}
	}
	return left, nil
}

// parseAnd parses && expressions.
func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenAnd {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: TokenAnd, Left: left, Right: right}
	}
	return left, nil
}

// parseComparison parses a single comparison between additive expressions.
// Comparisons do not chain: "a < b < c" is a parse error.
func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	switch p.current.Type {
	case TokenEquals, TokenNotEquals, TokenLess, TokenLessEqual, TokenGreater, TokenGreaterEqual:
		op := p.current.Type
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

// parseAdditive parses + and - expressions.
func (p *Parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenPlus || p.current.Type == TokenMinus {
		op := p.current.Type
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// parseMultiplicative parses * and / expressions.
func (p *Parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenStar || p.current.Type == TokenSlash {
		op := p.current.Type
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// parseUnary parses prefix - and ! expressions.
func (p *Parser) parseUnary() (Node, error) {
	switch p.current.Type {
	case TokenMinus, TokenNot:
		op := p.current.Type
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op, Operand: operand}, nil
	}
	return p.parsePrimary()
}

// parsePrimary parses literals, identifiers and parenthesized expressions.
func (p *Parser) parsePrimary() (Node, error) {
	switch p.current.Type {
	case TokenNumber:
		value, err := strconv.ParseFloat(p.current.Value, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", p.current.Value)
		}
		p.advance()
		return &NumberLiteral{Value: value}, nil
	case TokenIdent:
		name := p.current.Value
		p.advance()
		return &Identifier{Name: name}, nil
	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, p.errorf("expected ')', got %q", p.current.Value)
		}
		p.advance()
		return expr, nil
	default:
		return nil, p.errorf("unexpected token %q", p.current.Value)
	}
}

func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
		p.current = p.tokens[p.pos]
	}
}

// ParseError represents a parser error.
type ParseError struct {
	Message string
	Pos     int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Message, e.Pos)
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Message: fmt.Sprintf(format, args...), Pos: p.current.Pos}
}
