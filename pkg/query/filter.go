package query

import (
	"errors"
	"fmt"

	"github.com/KevoDB/blockdb/pkg/entity"
	"github.com/KevoDB/blockdb/pkg/types"
)

// ErrInvalidFilter is returned for filters that cannot be compiled
var ErrInvalidFilter = errors.New("invalid filter")

// FieldSource resolves field references during evaluation
type FieldSource interface {
	Field(name string) (types.Value, bool)
}

// OperandKind says whether an operand names a field or carries a literal
type OperandKind uint8

const (
	OperandField OperandKind = iota
	OperandLiteral
)

// Operand is one side of a comparison
type Operand struct {
	Kind  OperandKind
	Name  string
	Value types.Value

	kind types.Kind
}

// Field returns an operand referencing a field by name
func Field(name string) Operand {
	return Operand{Kind: OperandField, Name: name}
}

// Literal returns a constant operand
func Literal(v types.Value) Operand {
	return Operand{Kind: OperandLiteral, Value: v, kind: v.Kind()}
}

func (o Operand) resolve(src FieldSource) (types.Value, bool) {
	if o.Kind == OperandLiteral {
		return o.Value, true
	}
	return src.Field(o.Name)
}

func (o Operand) String() string {
	if o.Kind == OperandField {
		return o.Name
	}
	if o.Value.Kind() == types.KindString {
		return fmt.Sprintf("%q", o.Value.Str())
	}
	return o.Value.String()
}

// Operator is a comparison operator
type Operator uint8

const (
	OpEqual Operator = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
)

var operatorNames = [...]string{"=", "!=", "<", "<=", ">", ">="}

func (op Operator) String() string {
	if int(op) < len(operatorNames) {
		return operatorNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// ParseOperator maps "=", "!=", "<>", "<", "<=", ">" or ">=" to an Operator
func ParseOperator(s string) (Operator, error) {
	switch s {
	case "==":
		return OpEqual, nil
	case "<>":
		return OpNotEqual, nil
	}
	for i, name := range operatorNames {
		if name == s {
			return Operator(i), nil
		}
	}
	return OpEqual, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, s)
}

// Logical is the connector that follows an expression
type Logical uint8

const (
	And Logical = iota
	Or
	Not
)

func (l Logical) String() string {
	switch l {
	case Or:
		return "or"
	case Not:
		return "not"
	default:
		return "and"
	}
}

// Expression compares two operands
type Expression struct {
	Left  Operand
	Op    Operator
	Right Operand
	Logic Logical
}

// Eval evaluates the comparison against src. Values of different kinds,
// and fields missing from src, never satisfy any operator.
func (e *Expression) Eval(src FieldSource) bool {
	lhs, ok := e.Left.resolve(src)
	if !ok {
		return false
	}
	rhs, ok := e.Right.resolve(src)
	if !ok {
		return false
	}

	c, ok := types.Compare(lhs, rhs)
	if !ok {
		return false
	}

	switch e.Op {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	default:
		return false
	}
}

func (e *Expression) String() string {
	return fmt.Sprintf("%s %s %s", e.Left, e.Op, e.Right)
}

// Filter is an ordered list of expressions evaluated left to right.
// The zero value and nil match everything.
type Filter struct {
	expressions []Expression
}

// NewFilter creates an empty filter
func NewFilter() *Filter {
	return &Filter{}
}

// Where is shorthand for a filter with a single field-vs-literal expression
func Where(field string, op Operator, v types.Value) *Filter {
	return NewFilter().Add(Field(field), op, Literal(v))
}

// Add appends an expression joined to the next one with And
func (f *Filter) Add(left Operand, op Operator, right Operand) *Filter {
	f.expressions = append(f.expressions, Expression{Left: left, Op: op, Right: right})
	return f
}

// SetLogic sets the connector after the most recently added expression
func (f *Filter) SetLogic(l Logical) *Filter {
	if n := len(f.expressions); n > 0 {
		f.expressions[n-1].Logic = l
	}
	return f
}

// Len returns the number of expressions
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.expressions)
}

// Expressions returns the expressions in order
func (f *Filter) Expressions() []Expression {
	if f == nil {
		return nil
	}
	return f.expressions
}

// Compile checks every field reference against e and rejects comparisons
// between operands of different kinds
func (f *Filter) Compile(e *entity.Entity) error {
	if f == nil {
		return nil
	}
	for i := range f.expressions {
		expr := &f.expressions[i]
		if expr.Left.Kind == OperandLiteral && expr.Right.Kind == OperandLiteral {
			return fmt.Errorf("%w: %s compares two literals", ErrInvalidFilter, expr)
		}
		if expr.Op > OpGreaterEqual {
			return fmt.Errorf("%w: %s", ErrInvalidFilter, expr.Op)
		}
		for _, op := range []*Operand{&expr.Left, &expr.Right} {
			if op.Kind != OperandField {
				op.kind = op.Value.Kind()
				continue
			}
			attr, ok := e.Attribute(op.Name)
			if !ok {
				return fmt.Errorf("%w: %s.%s", entity.ErrUnknownAttribute, e.Name(), op.Name)
			}
			op.kind = types.KindFor(attr.Type)
		}
		if expr.Left.kind != expr.Right.kind {
			return fmt.Errorf("%w: %s compares %s with %s",
				types.ErrTypeMismatch, expr, expr.Left.kind, expr.Right.kind)
		}
	}
	return nil
}

// Matches evaluates the filter against src.
//
// A true expression followed by Or skips the next expression. A true
// expression followed by Not fails the filter. Any other false expression
// fails the filter.
func (f *Filter) Matches(src FieldSource) bool {
	if f == nil {
		return true
	}

	skipNext := false
	for i := range f.expressions {
		if skipNext {
			skipNext = false
			continue
		}

		expr := &f.expressions[i]
		result := expr.Eval(src)

		switch expr.Logic {
		case Or:
			if result {
				skipNext = true
			}
		case Not:
			if result {
				return false
			}
		default:
			if !result {
				return false
			}
		}
	}
	return true
}

func (f *Filter) String() string {
	if f.Len() == 0 {
		return ""
	}
	s := ""
	for i, expr := range f.expressions {
		s += expr.String()
		if i+1 < len(f.expressions) {
			s += " " + expr.Logic.String() + " "
		}
	}
	return s
}
