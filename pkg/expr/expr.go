// Package expr is the expression representation for predicates and
// selectors: field reads, the record index, constants, comparisons,
// boolean combinators and arithmetic.
//
// Trees are built with the constructor functions (Get, Eq, And, ...) or by
// the text parser, resolved against a schema, and compiled to evaluators.
package expr

import (
	"fmt"
	"strconv"

	"github.com/arkilian/protoq/pkg/schema"
)

// Expr is a node of an expression tree.
type Expr interface {
	String() string
	expr()
}

// FieldRef reads a resolved field from the current record.
type FieldRef struct {
	Field *schema.Field
}

// Name reads a field by name; it is resolved against the item type before
// compilation.
type Name struct {
	Name string
}

// ItemRef stands for the whole current record. It is never compilable:
// queries may only read individual fields.
type ItemRef struct{}

// IndexRef is the zero-based position of the current record in the stream.
type IndexRef struct{}

// Const is a literal value.
type Const struct {
	Value any
}

// CompareOp is a comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var compareSymbols = [...]string{"=", "!=", "<", "<=", ">", ">="}

func (op CompareOp) String() string { return compareSymbols[op] }

// Compare compares two operands.
type Compare struct {
	Op          CompareOp
	Left, Right Expr
}

// LogicalOp is a boolean connective.
type LogicalOp int

const (
	OpAnd LogicalOp = iota
	OpOr
)

func (op LogicalOp) String() string {
	if op == OpOr {
		return "OR"
	}
	return "AND"
}

// Logical combines two boolean operands.
type Logical struct {
	Op          LogicalOp
	Left, Right Expr
}

// Not negates a boolean operand.
type Not struct {
	X Expr
}

// ArithOp is an arithmetic operator.
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
)

var arithSymbols = [...]string{"+", "-", "*", "/", "%"}

func (op ArithOp) String() string { return arithSymbols[op] }

// Arith applies an arithmetic operator.
type Arith struct {
	Op          ArithOp
	Left, Right Expr
}

// Neg negates a numeric operand.
type Neg struct {
	X Expr
}

func (FieldRef) expr() {}
func (Name) expr()     {}
func (ItemRef) expr()  {}
func (IndexRef) expr() {}
func (Const) expr()    {}
func (Compare) expr()  {}
func (Logical) expr()  {}
func (Not) expr()      {}
func (Arith) expr()    {}
func (Neg) expr()      {}

func (e FieldRef) String() string {
	if e.Field == nil {
		return "<nil field>"
	}
	return e.Field.QualifiedName()
}

func (e Name) String() string   { return e.Name }
func (ItemRef) String() string  { return "$item" }
func (IndexRef) String() string { return "$index" }

func (e Const) String() string {
	switch v := e.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return strconv.Quote(v)
	case []byte:
		return fmt.Sprintf("x%q", v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	}
	return fmt.Sprint(e.Value)
}

func (e Compare) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e Logical) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e Not) String() string { return fmt.Sprintf("NOT %s", e.X) }

func (e Arith) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e Neg) String() string { return fmt.Sprintf("-%s", e.X) }

// Get reads a field by name.
func Get(name string) Expr { return Name{Name: name} }

// Field reads a resolved field.
func Field(f *schema.Field) Expr { return FieldRef{Field: f} }

// Item refers to the whole record.
func Item() Expr { return ItemRef{} }

// Index refers to the record index.
func Index() Expr { return IndexRef{} }

// Lit wraps a constant, normalising Go numeric types to int64, uint64 or
// float64.
func Lit(v any) Expr { return Const{Value: normalize(v)} }

func Eq(l, r Expr) Expr { return Compare{Op: OpEq, Left: l, Right: r} }
func Ne(l, r Expr) Expr { return Compare{Op: OpNe, Left: l, Right: r} }
func Lt(l, r Expr) Expr { return Compare{Op: OpLt, Left: l, Right: r} }
func Le(l, r Expr) Expr { return Compare{Op: OpLe, Left: l, Right: r} }
func Gt(l, r Expr) Expr { return Compare{Op: OpGt, Left: l, Right: r} }
func Ge(l, r Expr) Expr { return Compare{Op: OpGe, Left: l, Right: r} }

// And folds its operands into a left-deep conjunction. nil operands are
// skipped; And() with no operands returns nil.
func And(es ...Expr) Expr { return fold(OpAnd, es) }

// Or folds its operands into a left-deep disjunction.
func Or(es ...Expr) Expr { return fold(OpOr, es) }

func fold(op LogicalOp, es []Expr) Expr {
	var out Expr
	for _, e := range es {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = Logical{Op: op, Left: out, Right: e}
	}
	return out
}

func NotOf(x Expr) Expr { return Not{X: x} }

func Add(l, r Expr) Expr { return Arith{Op: OpAdd, Left: l, Right: r} }
func Sub(l, r Expr) Expr { return Arith{Op: OpSub, Left: l, Right: r} }
func Mul(l, r Expr) Expr { return Arith{Op: OpMul, Left: l, Right: r} }
func Div(l, r Expr) Expr { return Arith{Op: OpDiv, Left: l, Right: r} }
func Mod(l, r Expr) Expr { return Arith{Op: OpMod, Left: l, Right: r} }
func Negate(x Expr) Expr { return Neg{X: x} }

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case float32:
		return float64(x)
	}
	return v
}
