// Package protoq queries streams of length-framed protobuf records.
//
// A query names the fields it reads through its predicates and selectors.
// Records are decoded into a reduced copy of the schema hierarchy carrying
// only those fields, so every other field is skipped on the wire.
//
//	q := protoq.New(f, model.MustLookup("Employee"))
//	rows, err := q.Where(expr.Eq(expr.Mod(expr.Get("Id"), expr.Lit(2)), expr.Lit(0))).
//		Select(expr.Get("Id"), expr.Get("Name"))
//	for row, err := range rows.All() { ... }
//
// Queries never rewind the stream. Each terminal operation reads from the
// current position, and stopping early leaves the stream right after the
// last record consumed.
package protoq

import (
	"fmt"
	"io"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/internal/query/executor"
	"github.com/arkilian/protoq/internal/query/planner"
	"github.com/arkilian/protoq/pkg/codec"
	"github.com/arkilian/protoq/pkg/expr"
	"github.com/arkilian/protoq/pkg/schema"
)

type source struct {
	reader  *codec.Reader
	root    *schema.Type
	opts    Options
	planner *planner.Planner
}

// Query is an immutable chain of filters over a stream. Every method
// returns a new Query; the receiver is unchanged.
type Query struct {
	src      *source
	restrict *schema.Type
	preds    []expr.Expr
	err      error
}

// Builder is the start of a query chain. Besides every Query operation it
// offers OfType, which can only come first.
type Builder struct {
	*Query
}

// New starts a query over the records in r, each an instance of root or one
// of its subtypes.
func New(r io.Reader, root *schema.Type, opts ...Option) *Builder {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	q := &Query{}
	if root == nil {
		q.err = perrors.NewQueryError(perrors.CodeInvalidRestriction, "protoq: no root type")
		return &Builder{Query: q}
	}
	q.src = &source{
		reader:  codec.NewReader(r, o.codec()),
		root:    root,
		opts:    o,
		planner: planner.NewPlanner(root.Model()),
	}
	return &Builder{Query: q}
}

// OfType narrows the query to records of type t or its descendants.
func (b *Builder) OfType(t *schema.Type) *Query {
	q := b.clone()
	if q.err == nil {
		if err := planner.ValidateRestriction(q.src.root, t); err != nil {
			q.err = err
		} else {
			q.restrict = t
		}
	}
	return q
}

// Where adds a predicate over the item's fields and $index. Chained
// predicates are combined with AND.
func (q *Query) Where(p expr.Expr) *Query {
	nq := q.clone()
	if nq.err != nil {
		return nq
	}
	if p == nil {
		nq.err = perrors.NewQueryError(perrors.CodeTypeMismatch, "protoq: nil predicate")
		return nq
	}
	nq.preds = append(nq.preds, p)
	return nq
}

// Err returns the first construction error of the chain, if any.
func (q *Query) Err() error { return q.err }

func (q *Query) clone() *Query {
	nq := *q
	nq.preds = append([]expr.Expr(nil), q.preds...)
	return &nq
}

// Select plans the query and returns its lazily evaluated rows, one value
// per column. Nothing is read until the rows are iterated. Columns must be
// field-level expressions: selecting $item is rejected.
func (q *Query) Select(cols ...expr.Expr) (*Rows, error) {
	plan, err := q.plan(cols)
	if err != nil {
		return nil, err
	}
	return &Rows{src: q.src, plan: plan}, nil
}

// Explain plans the query and describes the reduced hierarchy it would
// decode into.
func (q *Query) Explain(cols ...expr.Expr) (string, error) {
	plan, err := q.plan(cols)
	if err != nil {
		return "", err
	}
	h := plan.Hierarchy
	s := fmt.Sprintf("root: %s\nfingerprint: %s\ntypes: %d\ncached: %t\n",
		plan.Root.Name(), h.Fingerprint(), h.Types(), plan.CacheHit)
	if plan.Restriction != nil {
		s += fmt.Sprintf("restrict: %s\n", plan.Item.Name())
	}
	if plan.PredicateExpr != nil {
		s += fmt.Sprintf("where: %s\n", plan.PredicateExpr)
	}
	for _, f := range plan.Fields {
		s += fmt.Sprintf("field: %s\n", f)
	}
	return s, nil
}

func (q *Query) plan(cols []expr.Expr) (*planner.Plan, error) {
	if q.err != nil {
		return nil, q.err
	}
	plan, err := q.src.planner.Plan(planner.Request{
		Root:      q.src.root,
		Restrict:  q.restrict,
		Predicate: expr.And(q.preds...),
		Columns:   cols,
	})
	if err != nil {
		return nil, err
	}
	if q.src.opts.Metrics != nil {
		q.src.opts.Metrics.ObserveSynthesis(plan.CacheHit)
	}
	return plan, nil
}

func (s *source) executor(plan *planner.Plan) *executor.Executor {
	return executor.New(s.reader, plan, executor.Options{
		Reuse:   s.opts.Reuse,
		Stats:   s.opts.Stats,
		Metrics: s.opts.Metrics,
		Quiet:   s.opts.Quiet,
	})
}
