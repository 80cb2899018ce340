package expr

import (
	"bytes"
	"cmp"
	"fmt"
	"math"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/pkg/codec"
	"github.com/arkilian/protoq/pkg/schema"
)

// Evaluator computes an expression for one record and its stream index.
type Evaluator func(rec *codec.Record, index int) (any, error)

// Predicate is an Evaluator known to produce a bool.
type Predicate func(rec *codec.Record, index int) (bool, error)

// Binder maps a field of the original schema to the field that holds its
// value in the records being evaluated.
type Binder func(*schema.Field) (*schema.Field, error)

type valueType int

const (
	tNull valueType = iota
	tInt
	tUint
	tFloat
	tBool
	tString
	tBytes
	tMessage
	tList
)

var typeNames = [...]string{"null", "int", "uint", "float", "bool", "string", "bytes", "message", "list"}

func (t valueType) String() string { return typeNames[t] }

func (t valueType) numeric() bool { return t == tInt || t == tUint || t == tFloat }

type compiled struct {
	eval Evaluator
	typ  valueType
}

// Compile type-checks e and turns it into an Evaluator. Every field read is
// first passed through bind; a nil bind reads fields as they are. e must be
// fully resolved: Name nodes fail with UNKNOWN_FIELD and ItemRef nodes with
// UNSUPPORTED_PROJECTION. Arithmetic and NOT over NULL yield NULL, and a
// NULL predicate does not match.
func Compile(e Expr, bind Binder) (Evaluator, error) {
	c, err := compile(e, bind)
	if err != nil {
		return nil, err
	}
	return c.eval, nil
}

// CompilePredicate is Compile for boolean expressions.
func CompilePredicate(e Expr, bind Binder) (Predicate, error) {
	c, err := compile(e, bind)
	if err != nil {
		return nil, err
	}
	if c.typ != tBool {
		return nil, perrors.NewQueryError(perrors.CodeTypeMismatch,
			fmt.Sprintf("predicate %s is %s, not bool", e, c.typ))
	}
	eval := c.eval
	return func(rec *codec.Record, index int) (bool, error) {
		v, err := eval(rec, index)
		if err != nil {
			return false, err
		}
		ok, _ := v.(bool)
		return ok, nil
	}, nil
}

func compile(e Expr, bind Binder) (compiled, error) {
	switch n := e.(type) {
	case nil:
		return compiled{}, perrors.NewQueryError(perrors.CodeTypeMismatch, "nil expression")
	case FieldRef:
		return compileField(n, bind)
	case Name:
		return compiled{}, perrors.NewQueryError(perrors.CodeUnknownField,
			fmt.Sprintf("unresolved field %q", n.Name))
	case ItemRef:
		return compiled{}, perrors.NewQueryError(perrors.CodeUnsupportedProjection,
			"expression references the whole item; only fields can be read")
	case IndexRef:
		return compiled{typ: tInt, eval: func(_ *codec.Record, index int) (any, error) {
			return int64(index), nil
		}}, nil
	case Const:
		return compileConst(n)
	case Compare:
		return compileCompare(n, bind)
	case Logical:
		return compileLogical(n, bind)
	case Not:
		x, err := compile(n.X, bind)
		if err != nil {
			return compiled{}, err
		}
		if x.typ != tBool {
			return compiled{}, mismatch("NOT needs bool, got %s in %s", x.typ, n)
		}
		return compiled{typ: tBool, eval: func(rec *codec.Record, index int) (any, error) {
			v, err := x.eval(rec, index)
			if err != nil || v == nil {
				return nil, err
			}
			return !v.(bool), nil
		}}, nil
	case Arith:
		return compileArith(n, bind)
	case Neg:
		return compileNeg(n, bind)
	}
	return compiled{}, perrors.NewQueryError(perrors.CodeTypeMismatch,
		fmt.Sprintf("unsupported expression %T", e))
}

func mismatch(format string, args ...any) error {
	return perrors.NewQueryError(perrors.CodeTypeMismatch, fmt.Sprintf(format, args...))
}

func evalFailed(format string, args ...any) error {
	return perrors.NewQueryError(perrors.CodeEvaluationFailed, fmt.Sprintf(format, args...))
}

func compileField(n FieldRef, bind Binder) (compiled, error) {
	if n.Field == nil {
		return compiled{}, perrors.NewQueryError(perrors.CodeUnknownField, "nil field reference")
	}
	f := n.Field
	if bind != nil {
		bound, err := bind(f)
		if err != nil {
			return compiled{}, err
		}
		f = bound
	}
	return compiled{typ: fieldType(f), eval: func(rec *codec.Record, _ int) (any, error) {
		return rec.Get(f), nil
	}}, nil
}

func fieldType(f *schema.Field) valueType {
	if f.Repeated {
		return tList
	}
	switch f.Kind {
	case schema.KindInt32, schema.KindInt64:
		return tInt
	case schema.KindUint32, schema.KindUint64:
		return tUint
	case schema.KindFloat32, schema.KindFloat64:
		return tFloat
	case schema.KindBool:
		return tBool
	case schema.KindString:
		return tString
	case schema.KindBytes:
		return tBytes
	}
	return tMessage
}

func compileConst(n Const) (compiled, error) {
	v := normalize(n.Value)
	var typ valueType
	switch v.(type) {
	case nil:
		typ = tNull
	case int64:
		typ = tInt
	case uint64:
		typ = tUint
	case float64:
		typ = tFloat
	case bool:
		typ = tBool
	case string:
		typ = tString
	case []byte:
		typ = tBytes
	default:
		return compiled{}, mismatch("unsupported constant of type %T", n.Value)
	}
	return compiled{typ: typ, eval: func(*codec.Record, int) (any, error) { return v, nil }}, nil
}

func compileCompare(n Compare, bind Binder) (compiled, error) {
	l, err := compile(n.Left, bind)
	if err != nil {
		return compiled{}, err
	}
	r, err := compile(n.Right, bind)
	if err != nil {
		return compiled{}, err
	}

	equality := n.Op == OpEq || n.Op == OpNe
	switch {
	case l.typ.numeric() && r.typ.numeric():
	case l.typ == r.typ && (l.typ == tString || l.typ == tBytes):
	case l.typ == r.typ && l.typ == tBool && equality:
	case (l.typ == tNull || r.typ == tNull) && equality:
	default:
		return compiled{}, mismatch("cannot compare %s %s %s in %s", l.typ, n.Op, r.typ, n)
	}

	op := n.Op
	return compiled{typ: tBool, eval: func(rec *codec.Record, index int) (any, error) {
		a, err := l.eval(rec, index)
		if err != nil {
			return nil, err
		}
		b, err := r.eval(rec, index)
		if err != nil {
			return nil, err
		}
		if a == nil || b == nil {
			same := a == nil && b == nil
			if op == OpEq {
				return same, nil
			}
			if op == OpNe {
				return !same, nil
			}
			return false, nil
		}
		c, ok := compareValues(a, b)
		if !ok {
			return nil, evalFailed("cannot compare %T with %T", a, b)
		}
		switch op {
		case OpEq:
			return c == 0, nil
		case OpNe:
			return c != 0, nil
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}}, nil
}

// compareValues orders two non-nil runtime values. Numbers of different
// representations compare by value.
func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return cmp.Compare(x, y), ok
	case []byte:
		y, ok := b.([]byte)
		return bytes.Compare(x, y), ok
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	}
	return compareNumbers(a, b)
}

func compareNumbers(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y), true
		case uint64:
			if x < 0 {
				return -1, true
			}
			return cmp.Compare(uint64(x), y), true
		case float64:
			return cmp.Compare(float64(x), y), true
		}
	case uint64:
		switch y := b.(type) {
		case uint64:
			return cmp.Compare(x, y), true
		case int64:
			if y < 0 {
				return 1, true
			}
			return cmp.Compare(x, uint64(y)), true
		case float64:
			return cmp.Compare(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmp.Compare(x, y), true
		case int64:
			return cmp.Compare(x, float64(y)), true
		case uint64:
			return cmp.Compare(x, float64(y)), true
		}
	}
	return 0, false
}

func compileLogical(n Logical, bind Binder) (compiled, error) {
	l, err := compile(n.Left, bind)
	if err != nil {
		return compiled{}, err
	}
	r, err := compile(n.Right, bind)
	if err != nil {
		return compiled{}, err
	}
	if l.typ != tBool || r.typ != tBool {
		return compiled{}, mismatch("%s needs bool operands, got %s and %s in %s", n.Op, l.typ, r.typ, n)
	}

	or := n.Op == OpOr
	return compiled{typ: tBool, eval: func(rec *codec.Record, index int) (any, error) {
		a, err := l.eval(rec, index)
		if err != nil {
			return nil, err
		}
		if ok, _ := a.(bool); ok == or {
			return or, nil
		}
		return r.eval(rec, index)
	}}, nil
}

func compileArith(n Arith, bind Binder) (compiled, error) {
	l, err := compile(n.Left, bind)
	if err != nil {
		return compiled{}, err
	}
	r, err := compile(n.Right, bind)
	if err != nil {
		return compiled{}, err
	}

	if n.Op == OpAdd && l.typ == tString && r.typ == tString {
		return compiled{typ: tString, eval: func(rec *codec.Record, index int) (any, error) {
			a, err := l.eval(rec, index)
			if err != nil {
				return nil, err
			}
			b, err := r.eval(rec, index)
			if err != nil || a == nil || b == nil {
				return nil, err
			}
			return a.(string) + b.(string), nil
		}}, nil
	}
	if !l.typ.numeric() || !r.typ.numeric() {
		return compiled{}, mismatch("%s needs numeric operands, got %s and %s in %s", n.Op, l.typ, r.typ, n)
	}

	typ := tInt
	switch {
	case l.typ == tFloat || r.typ == tFloat:
		typ = tFloat
	case l.typ == tUint && r.typ == tUint:
		typ = tUint
	}

	op := n.Op
	return compiled{typ: typ, eval: func(rec *codec.Record, index int) (any, error) {
		a, err := l.eval(rec, index)
		if err != nil {
			return nil, err
		}
		b, err := r.eval(rec, index)
		if err != nil || a == nil || b == nil {
			return nil, err
		}
		switch typ {
		case tFloat:
			return arithFloat(op, toFloat(a), toFloat(b))
		case tUint:
			return arithUint(op, a.(uint64), b.(uint64))
		default:
			return arithInt(op, toInt(a), toInt(b))
		}
	}}, nil
}

func arithInt(op ArithOp, a, b int64) (any, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	}
	if b == 0 {
		return nil, evalFailed("%s by zero", opVerb(op))
	}
	if op == OpDiv {
		return a / b, nil
	}
	return a % b, nil
}

func arithUint(op ArithOp, a, b uint64) (any, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	}
	if b == 0 {
		return nil, evalFailed("%s by zero", opVerb(op))
	}
	if op == OpDiv {
		return a / b, nil
	}
	return a % b, nil
}

func arithFloat(op ArithOp, a, b float64) (any, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	}
	if b == 0 {
		return nil, evalFailed("%s by zero", opVerb(op))
	}
	if op == OpDiv {
		return a / b, nil
	}
	return math.Mod(a, b), nil
}

func opVerb(op ArithOp) string {
	if op == OpMod {
		return "modulo"
	}
	return "division"
}

func compileNeg(n Neg, bind Binder) (compiled, error) {
	x, err := compile(n.X, bind)
	if err != nil {
		return compiled{}, err
	}
	if !x.typ.numeric() {
		return compiled{}, mismatch("cannot negate %s in %s", x.typ, n)
	}
	typ := x.typ
	if typ == tUint {
		typ = tInt
	}
	return compiled{typ: typ, eval: func(rec *codec.Record, index int) (any, error) {
		v, err := x.eval(rec, index)
		if err != nil || v == nil {
			return nil, err
		}
		switch v := v.(type) {
		case float64:
			return -v, nil
		case uint64:
			return -int64(v), nil
		default:
			return -v.(int64), nil
		}
	}}, nil
}

// ToFloat converts a numeric runtime value to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func toFloat(v any) float64 {
	f, _ := ToFloat(v)
	return f
}

func toInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case uint64:
		return int64(x)
	}
	return 0
}
