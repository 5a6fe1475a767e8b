package expression

import (
	"fmt"
	"strings"
)

// Scope supplies the variable values an expression may reference.
type Scope map[string]float64

// Compiled is a parsed expression ready for repeated evaluation.
type Compiled struct {
	source string
	root   Node
}

// Compile parses an expression string. Variable references may be written
// either as bare identifiers ("width") or in the ${width} placeholder form
// used by profile catalogs; both resolve against the evaluation scope.
func Compile(source string) (*Compiled, error) {
	tokens, err := NewLexer(preprocess(source)).Tokenize()
	if err != nil {
		return nil, fmt.Errorf("lexing %q: %w", source, err)
	}
	root, err := NewParser(tokens).Parse()
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", source, err)
	}
	return &Compiled{source: source, root: root}, nil
}

// preprocess rewrites ${name} placeholders to bare identifiers.
func preprocess(source string) string {
	replacer := strings.NewReplacer("${", " ", "}", " ")
	if !strings.Contains(source, "${") {
		return source
	}
	return replacer.Replace(source)
}

// Source returns the original expression text.
func (c *Compiled) Source() string {
	return c.source
}

// Eval evaluates the expression against the given scope. Boolean results
// are reported as 1 or 0.
func (c *Compiled) Eval(scope Scope) (float64, error) {
	return eval(c.root, scope)
}

// EvalBool evaluates the expression as a predicate. Any non-zero numeric
// result is true.
func (c *Compiled) EvalBool(scope Scope) (bool, error) {
	v, err := eval(c.root, scope)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func eval(n Node, scope Scope) (float64, error) {
	switch node := n.(type) {
	case *NumberLiteral:
		return node.Value, nil

	case *Identifier:
		v, ok := scope[node.Name]
		if !ok {
			return 0, fmt.Errorf("unknown variable %q", node.Name)
		}
		return v, nil

	case *UnaryExpr:
		v, err := eval(node.Operand, scope)
		if err != nil {
			return 0, err
		}
		switch node.Op {
		case TokenMinus:
			return -v, nil
		case TokenNot:
			return boolToFloat(v == 0), nil
		default:
			return 0, fmt.Errorf("unsupported unary operator %s", node.Op)
		}

	case *BinaryExpr:
		left, err := eval(node.Left, scope)
		if err != nil {
			return 0, err
		}

		// Short-circuit boolean operators.
		switch node.Op {
		case TokenAnd:
			if left == 0 {
				return 0, nil
			}
			right, err := eval(node.Right, scope)
			if err != nil {
				return 0, err
			}
			return boolToFloat(right != 0), nil
		case TokenOr:
			if left != 0 {
				return 1, nil
			}
			right, err := eval(node.Right, scope)
			if err != nil {
				return 0, err
			}
			return boolToFloat(right != 0), nil
		}

		right, err := eval(node.Right, scope)
		if err != nil {
			return 0, err
		}
		switch node.Op {
		case TokenPlus:
			return left + right, nil
		case TokenMinus:
			return left - right, nil
		case TokenStar:
			return left * right, nil
		case TokenSlash:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return left / right, nil
		case TokenEquals:
			return boolToFloat(left == right), nil
		case TokenNotEquals:
			return boolToFloat(left != right), nil
		case TokenLess:
			return boolToFloat(left < right), nil
		case TokenLessEqual:
			return boolToFloat(left <= right), nil
		case TokenGreater:
			return boolToFloat(left > right), nil
		case TokenGreaterEqual:
			return boolToFloat(left >= right), nil
		default:
			return 0, fmt.Errorf("unsupported operator %s", node.Op)
		}

	default:
		return 0, fmt.Errorf("unsupported node %T", n)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
