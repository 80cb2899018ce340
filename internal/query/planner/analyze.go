package planner

import (
	"fmt"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/pkg/expr"
	"github.com/arkilian/protoq/pkg/schema"
)

// Analysis is the result of resolving predicate and selector expressions
// against an item type.
type Analysis struct {
	// Item is the type the expressions are evaluated against.
	Item *schema.Type

	// Exprs holds the resolved expressions, positionally matching the input.
	// nil inputs stay nil.
	Exprs []expr.Expr

	// Fields lists every field read, in first-seen order without duplicates.
	// Each is declared on Item or one of its ancestors.
	Fields []*schema.Field
}

// Analyze resolves field names against item and its ancestors (nearest
// first) and collects the fields the expressions read. An unknown name or a
// field not visible from item is UNKNOWN_FIELD; any reference to the whole
// item is UNSUPPORTED_PROJECTION.
func Analyze(item *schema.Type, exprs ...expr.Expr) (*Analysis, error) {
	if item == nil {
		return nil, perrors.NewQueryError(perrors.CodeUnknownField, "no item type")
	}

	a := &Analysis{Item: item, Exprs: make([]expr.Expr, len(exprs))}
	seen := make(map[*schema.Field]bool)

	for i, e := range exprs {
		if e == nil {
			continue
		}
		resolved, err := expr.Rewrite(e, func(n expr.Expr) (expr.Expr, error) {
			switch n := n.(type) {
			case expr.ItemRef:
				return nil, perrors.NewQueryError(perrors.CodeUnsupportedProjection,
					fmt.Sprintf("%s reads the whole %s; select individual fields instead", e, item.Name()))
			case expr.Name:
				f := item.Field(n.Name)
				if f == nil {
					return nil, perrors.NewQueryError(perrors.CodeUnknownField,
						fmt.Sprintf("%s has no field %q", item.Name(), n.Name)).
						WithDetails(map[string]interface{}{"field": n.Name, "type": item.Name()})
				}
				return expr.Field(f), nil
			case expr.FieldRef:
				if n.Field == nil || n.Field.Owner() == nil || !n.Field.Owner().IsAssignableFrom(item) {
					return nil, perrors.NewQueryError(perrors.CodeUnknownField,
						fmt.Sprintf("field %s is not visible from %s", n, item.Name()))
				}
			}
			return n, nil
		})
		if err != nil {
			return nil, err
		}

		for _, ref := range expr.Fields(resolved) {
			if !seen[ref.Field] {
				seen[ref.Field] = true
				a.Fields = append(a.Fields, ref.Field)
			}
		}
		a.Exprs[i] = resolved
	}
	return a, nil
}
