package expression

// Node is the interface implemented by all AST nodes.
type Node interface {
	node()
}

// NumberLiteral is a numeric constant.
type NumberLiteral struct {
	Value float64
}

func (n *NumberLiteral) node() {}

// Identifier references a scope variable by name.
type Identifier struct {
	Name string
}

func (n *Identifier) node() {}

// UnaryExpr applies a prefix operator to a single operand.
type UnaryExpr struct {
	Op      TokenType // TokenMinus or TokenNot
	Operand Node
}

func (n *UnaryExpr) node() {}

// BinaryExpr applies an infix operator to two operands.
type BinaryExpr struct {
	Op    TokenType
	Left  Node
	Right Node
}

func (n *BinaryExpr) node() {}
