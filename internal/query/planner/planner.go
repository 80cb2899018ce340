// Package planner turns a query's predicate and selectors into an
// executable plan: names are resolved, the fields read are collected, a
// reduced hierarchy carrying just those fields is obtained and the
// expressions are compiled against it.
package planner

import (
	"fmt"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/internal/projection"
	"github.com/arkilian/protoq/pkg/expr"
	"github.com/arkilian/protoq/pkg/schema"
)

// Request describes a query to plan.
type Request struct {
	// Root is the declared type of every record in the stream.
	Root *schema.Type

	// Restrict narrows the query to records of this type or its
	// descendants. nil keeps every record.
	Restrict *schema.Type

	// Predicate filters records; nil accepts all.
	Predicate expr.Expr

	// Columns are the selector expressions, one per output column.
	Columns []expr.Expr
}

// Plan is a planned query, ready for execution.
type Plan struct {
	// Root and Item are original types: the stream root and the type the
	// expressions were resolved against.
	Root *schema.Type
	Item *schema.Type

	// Hierarchy is the reduced hierarchy records are decoded into.
	Hierarchy *projection.Hierarchy

	// Restriction is the reduced counterpart of Item when the query is
	// narrowed to a subtype, otherwise nil.
	Restriction *schema.Type

	// Fields lists the original fields the query reads.
	Fields []*schema.Field

	// Predicate is nil when every record passes.
	Predicate expr.Predicate

	Selectors []expr.Evaluator

	// PredicateExpr and Columns are the resolved source expressions.
	PredicateExpr expr.Expr
	Columns       []expr.Expr

	// CacheHit reports whether the reduced hierarchy was already cached.
	CacheHit bool
}

// Matches reports whether a record decoded with reduced runtime type t
// passes the plan's type restriction.
func (p *Plan) Matches(t *schema.Type) bool {
	return p.Restriction == nil || p.Restriction.IsAssignableFrom(t)
}

// Planner plans queries against one model.
type Planner struct {
	builder *projection.Builder
}

// NewPlanner creates a planner sharing the model's synthesis cache.
func NewPlanner(model *schema.Model) *Planner {
	return &Planner{builder: projection.For(model)}
}

// Plan analyzes, synthesizes and compiles req.
func (p *Planner) Plan(req Request) (*Plan, error) {
	if req.Root == nil {
		return nil, perrors.NewQueryError(perrors.CodeInvalidRestriction, "planner: no root type")
	}

	item := req.Root
	if req.Restrict != nil {
		if err := ValidateRestriction(req.Root, req.Restrict); err != nil {
			return nil, err
		}
		item = req.Restrict
	}

	exprs := append([]expr.Expr{req.Predicate}, req.Columns...)
	analysis, err := Analyze(item, exprs...)
	if err != nil {
		return nil, err
	}

	h, cached, err := p.builder.Resolve(req.Root.Root(), analysis.Fields)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Root:          req.Root,
		Item:          item,
		Hierarchy:     h,
		Fields:        analysis.Fields,
		PredicateExpr: analysis.Exprs[0],
		Columns:       analysis.Exprs[1:],
		CacheHit:      cached,
	}
	if item != item.Root() {
		restriction, ok := h.Counterpart(item)
		if !ok {
			return nil, perrors.NewSchemaError(perrors.CodeSchemaMismatch,
				fmt.Sprintf("reduced hierarchy has no counterpart for %s", item.Name()))
		}
		plan.Restriction = restriction
	}

	if plan.PredicateExpr != nil {
		if plan.Predicate, err = expr.CompilePredicate(plan.PredicateExpr, h.Field); err != nil {
			return nil, err
		}
	}
	plan.Selectors = make([]expr.Evaluator, len(plan.Columns))
	for i, col := range plan.Columns {
		if col == nil {
			return nil, perrors.NewQueryError(perrors.CodeUnsupportedProjection,
				fmt.Sprintf("column %d is empty", i))
		}
		if plan.Selectors[i], err = expr.Compile(col, h.Field); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// ValidateRestriction checks that restrict is root or one of its descendants.
func ValidateRestriction(root, restrict *schema.Type) error {
	if restrict == nil || root == nil || !root.IsAssignableFrom(restrict) {
		return perrors.NewQueryError(perrors.CodeInvalidRestriction,
			fmt.Sprintf("%s is not %s or one of its subtypes", restrict, root))
	}
	if restrict.Synthetic() {
		return perrors.NewQueryError(perrors.CodeInvalidRestriction,
			fmt.Sprintf("%s is a synthesized type", restrict.Name()))
	}
	return nil
}
