package hivescan

import (
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Expression tree
// -----------------------------------------------------------------------------

// Expr is a predicate expression over column references and literals.
// Expressions are immutable and safe to share across scans.
type Expr interface {
	fmt.Stringer

	// collectColumns adds every referenced column name to the set.
	collectColumns(set map[string]struct{})
}

// CompareOp enumerates comparison operators.
type CompareOp int

// Comparison operator constants.
const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return "?"
	}
}

// ColumnExpr references a column by name.
type ColumnExpr struct {
	Name string
}

// LiteralExpr holds a constant. A nil value is the null literal.
type LiteralExpr struct {
	Value any
}

// CompareExpr compares two subexpressions.
type CompareExpr struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

// InExpr tests membership of Input in a literal set.
type InExpr struct {
	Input  Expr
	Values []any
}

// IsNullExpr tests Input for null. Negate flips it to IS NOT NULL.
type IsNullExpr struct {
	Input  Expr
	Negate bool
}

// AndExpr is logical conjunction with Kleene semantics.
type AndExpr struct {
	Left  Expr
	Right Expr
}

// OrExpr is logical disjunction with Kleene semantics.
type OrExpr struct {
	Left  Expr
	Right Expr
}

// NotExpr is logical negation with Kleene semantics.
type NotExpr struct {
	Input Expr
}

// Col references a column by name.
func Col(name string) Expr { return &ColumnExpr{Name: name} }

// Lit wraps a constant value. Use nil for the null literal.
func Lit(v any) Expr { return &LiteralExpr{Value: v} }

// Eq builds left == right.
func Eq(left, right Expr) Expr { return &CompareExpr{Op: OpEq, Left: left, Right: right} }

// Ne builds left != right.
func Ne(left, right Expr) Expr { return &CompareExpr{Op: OpNe, Left: left, Right: right} }

// Lt builds left < right.
func Lt(left, right Expr) Expr { return &CompareExpr{Op: OpLt, Left: left, Right: right} }

// Le builds left <= right.
func Le(left, right Expr) Expr { return &CompareExpr{Op: OpLe, Left: left, Right: right} }

// Gt builds left > right.
func Gt(left, right Expr) Expr { return &CompareExpr{Op: OpGt, Left: left, Right: right} }

// Ge builds left >= right.
func Ge(left, right Expr) Expr { return &CompareExpr{Op: OpGe, Left: left, Right: right} }

// In builds a set membership test against literal values.
func In(input Expr, values ...any) Expr { return &InExpr{Input: input, Values: values} }

// IsNull builds an IS NULL test.
func IsNull(input Expr) Expr { return &IsNullExpr{Input: input} }

// IsNotNull builds an IS NOT NULL test.
func IsNotNull(input Expr) Expr { return &IsNullExpr{Input: input, Negate: true} }

// And builds a conjunction.
func And(left, right Expr) Expr { return &AndExpr{Left: left, Right: right} }

// Or builds a disjunction.
func Or(left, right Expr) Expr { return &OrExpr{Left: left, Right: right} }

// Not builds a negation.
func Not(input Expr) Expr { return &NotExpr{Input: input} }

func (e *ColumnExpr) String() string { return "col(" + e.Name + ")" }

func (e *LiteralExpr) String() string { return fmt.Sprintf("%v", e.Value) }

func (e *CompareExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e *InExpr) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("(%s in [%s])", e.Input, strings.Join(parts, ", "))
}

func (e *IsNullExpr) String() string {
	if e.Negate {
		return fmt.Sprintf("(%s is not null)", e.Input)
	}
	return fmt.Sprintf("(%s is null)", e.Input)
}

func (e *AndExpr) String() string { return fmt.Sprintf("(%s and %s)", e.Left, e.Right) }

func (e *OrExpr) String() string { return fmt.Sprintf("(%s or %s)", e.Left, e.Right) }

func (e *NotExpr) String() string { return fmt.Sprintf("(not %s)", e.Input) }

func (e *ColumnExpr) collectColumns(set map[string]struct{}) { set[e.Name] = struct{}{} }

func (e *LiteralExpr) collectColumns(map[string]struct{}) {}

func (e *CompareExpr) collectColumns(set map[string]struct{}) {
	e.Left.collectColumns(set)
	e.Right.collectColumns(set)
}

func (e *InExpr) collectColumns(set map[string]struct{}) { e.Input.collectColumns(set) }

func (e *IsNullExpr) collectColumns(set map[string]struct{}) { e.Input.collectColumns(set) }

func (e *AndExpr) collectColumns(set map[string]struct{}) {
	e.Left.collectColumns(set)
	e.Right.collectColumns(set)
}

func (e *OrExpr) collectColumns(set map[string]struct{}) {
	e.Left.collectColumns(set)
	e.Right.collectColumns(set)
}

func (e *NotExpr) collectColumns(set map[string]struct{}) { e.Input.collectColumns(set) }

// exprColumns returns the set of column names referenced by e.
func exprColumns(e Expr) map[string]struct{} {
	set := make(map[string]struct{})
	e.collectColumns(set)
	return set
}

// splitConjuncts flattens nested AND nodes into their conjuncts. Each
// conjunct can be pushed down or retained independently.
func splitConjuncts(e Expr, out []Expr) []Expr {
	if and, ok := e.(*AndExpr); ok {
		out = splitConjuncts(and.Left, out)
		return splitConjuncts(and.Right, out)
	}
	return append(out, e)
}

// -----------------------------------------------------------------------------
// Three-valued evaluation
// -----------------------------------------------------------------------------

// tri is a Kleene truth value: null operands produce triUnknown, which
// propagates instead of defaulting to true or false.
type tri int8

const (
	triFalse tri = iota
	triTrue
	triUnknown
)

func triOf(b bool) tri {
	if b {
		return triTrue
	}
	return triFalse
}

// binding resolves a column name to its value for the current row or file.
// The second result is false when the column is not bound at all, which
// evaluates as unknown rather than raising.
type binding func(name string) (any, bool)

// evalTri evaluates a predicate under Kleene three-valued logic. It never
// returns an error: unbound columns and incomparable operand types evaluate
// to unknown, which is conservative for pruning (the file is retained).
func evalTri(e Expr, bind binding) tri {
	switch ex := e.(type) {
	case *LiteralExpr:
		return triOfValue(ex.Value)

	case *ColumnExpr:
		v, ok := bind(ex.Name)
		if !ok {
			return triUnknown
		}
		return triOfValue(v)

	case *CompareExpr:
		left, lok := evalValue(ex.Left, bind)
		right, rok := evalValue(ex.Right, bind)
		if !lok || !rok || left == nil || right == nil {
			return triUnknown
		}
		return compareValues(ex.Op, left, right)

	case *InExpr:
		in, ok := evalValue(ex.Input, bind)
		if !ok || in == nil {
			return triUnknown
		}
		sawUnknown := false
		for _, v := range ex.Values {
			if v == nil {
				sawUnknown = true
				continue
			}
			switch compareValues(OpEq, in, v) {
			case triTrue:
				return triTrue
			case triUnknown:
				sawUnknown = true
			}
		}
		if sawUnknown {
			return triUnknown
		}
		return triFalse

	case *IsNullExpr:
		v, ok := evalValue(ex.Input, bind)
		if !ok {
			return triUnknown
		}
		return triOf((v == nil) != ex.Negate)

	case *AndExpr:
		left := evalTri(ex.Left, bind)
		if left == triFalse {
			return triFalse
		}
		right := evalTri(ex.Right, bind)
		if right == triFalse {
			return triFalse
		}
		if left == triUnknown || right == triUnknown {
			return triUnknown
		}
		return triTrue

	case *OrExpr:
		left := evalTri(ex.Left, bind)
		if left == triTrue {
			return triTrue
		}
		right := evalTri(ex.Right, bind)
		if right == triTrue {
			return triTrue
		}
		if left == triUnknown || right == triUnknown {
			return triUnknown
		}
		return triFalse

	case *NotExpr:
		switch evalTri(ex.Input, bind) {
		case triTrue:
			return triFalse
		case triFalse:
			return triTrue
		default:
			return triUnknown
		}

	default:
		return triUnknown
	}
}

// evalValue resolves leaf expressions to values. Only columns and literals
// are valid comparison operands; anything else reports not-ok.
func evalValue(e Expr, bind binding) (any, bool) {
	switch ex := e.(type) {
	case *LiteralExpr:
		return ex.Value, true
	case *ColumnExpr:
		v, ok := bind(ex.Name)
		if !ok {
			return nil, false
		}
		return v, true
	default:
		return nil, false
	}
}

// triOfValue interprets a value in boolean position.
func triOfValue(v any) tri {
	switch b := v.(type) {
	case nil:
		return triUnknown
	case bool:
		return triOf(b)
	default:
		return triUnknown
	}
}

// compareValues compares two non-null values, coercing numerics to a common
// representation. Incomparable type pairs yield unknown.
func compareValues(op CompareOp, left, right any) tri {
	if ln, lok := toFloat(left); lok {
		if rn, rok := toFloat(right); rok {
			return triOf(compareOrdered(op, ln, rn))
		}
		return triUnknown
	}

	switch lv := left.(type) {
	case string:
		rv, ok := right.(string)
		if !ok {
			return triUnknown
		}
		return triOf(compareOrdered(op, lv, rv))

	case bool:
		rv, ok := right.(bool)
		if !ok {
			return triUnknown
		}
		switch op {
		case OpEq:
			return triOf(lv == rv)
		case OpNe:
			return triOf(lv != rv)
		default:
			return triUnknown
		}

	case time.Time:
		rv, ok := right.(time.Time)
		if !ok {
			return triUnknown
		}
		switch op {
		case OpEq:
			return triOf(lv.Equal(rv))
		case OpNe:
			return triOf(!lv.Equal(rv))
		case OpLt:
			return triOf(lv.Before(rv))
		case OpLe:
			return triOf(!lv.After(rv))
		case OpGt:
			return triOf(lv.After(rv))
		case OpGe:
			return triOf(!lv.Before(rv))
		}
	}

	return triUnknown
}

func compareOrdered[T float64 | string](op CompareOp, left, right T) bool {
	switch op {
	case OpEq:
		return left == right
	case OpNe:
		return left != right
	case OpLt:
		return left < right
	case OpLe:
		return left <= right
	case OpGt:
		return left > right
	case OpGe:
		return left >= right
	default:
		return false
	}
}

// toFloat widens any supported numeric representation to float64 for
// comparison. int64 values beyond 2^53 lose precision; partition values of
// that magnitude are not expected in practice.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
