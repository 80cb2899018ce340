package protoq

import (
	"iter"

	"github.com/arkilian/protoq/internal/query/planner"
	"github.com/arkilian/protoq/pkg/codec"
)

// Row holds the values of one selected record, in column order.
type Row []any

// Rows is the lazy result of Select.
type Rows struct {
	src  *source
	plan *planner.Plan
}

// Columns returns the column expressions as text.
func (r *Rows) Columns() []string {
	cols := make([]string, len(r.plan.Columns))
	for i, c := range r.plan.Columns {
		cols[i] = c.String()
	}
	return cols
}

// All reads records from the current stream position and yields one Row for
// each record passing the query. A decode or evaluation error is yielded
// once with a nil Row and ends the sequence. With reuse enabled the same Row
// is overwritten on every step.
func (r *Rows) All() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		var row Row
		sel := r.plan.Selectors
		err := r.src.executor(r.plan).Scan(func(rec *codec.Record, index int) (bool, error) {
			if row == nil || !r.src.opts.Reuse {
				row = make(Row, len(sel))
			}
			for i, s := range sel {
				v, err := s(rec, index)
				if err != nil {
					return false, err
				}
				row[i] = v
			}
			return yield(row, nil), nil
		})
		if err != nil {
			yield(nil, err)
		}
	}
}

// Collect reads every remaining row. Rows are copied, so the result is safe
// to keep even with reuse enabled.
func (r *Rows) Collect() ([]Row, error) {
	var out []Row
	for row, err := range r.All() {
		if err != nil {
			return out, err
		}
		out = append(out, append(Row(nil), row...))
	}
	return out, nil
}
