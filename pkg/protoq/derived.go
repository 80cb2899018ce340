package protoq

import (
	"fmt"
	"iter"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/pkg/expr"
)

// Skip drops the records at stream index below n. The index counts every
// record read, including ones other predicates reject.
func (q *Query) Skip(n int) *Query {
	return q.Where(expr.Ge(expr.Index(), expr.Lit(n)))
}

// Count returns the number of records passing q.
func (q *Query) Count() (int64, error) {
	return Fold(q, int64(0), func(n int64, _ Row) int64 { return n + 1 })
}

// Any reports whether at least one record passes q. It stops reading at the
// first match.
func (q *Query) Any() (bool, error) {
	rows, err := q.Select()
	if err != nil {
		return false, err
	}
	_, ok, err := head(rows)
	return ok, err
}

// AnyWhere reports whether some record passes both q and p.
func (q *Query) AnyWhere(p expr.Expr) (bool, error) {
	return q.Where(p).Any()
}

// All reports whether every record passing q also satisfies p. It stops at
// the first counterexample.
func (q *Query) All(p expr.Expr) (bool, error) {
	if p == nil {
		return false, q.Where(nil).Err()
	}
	found, err := q.AnyWhere(expr.NotOf(p))
	if err != nil {
		return false, err
	}
	return !found, nil
}

// Sum adds up col over every record passing q. Numeric values are summed as
// float64; a non-numeric value is a TYPE_MISMATCH error.
func (q *Query) Sum(col expr.Expr) (float64, error) {
	sum, _, err := q.sum(col)
	return sum, err
}

// Average returns the mean of col over every record passing q. It fails
// with EMPTY_SEQUENCE when no record passes.
func (q *Query) Average(col expr.Expr) (float64, error) {
	sum, n, err := q.sum(col)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, perrors.NewQueryError(perrors.CodeEmptySequence, "average of empty sequence")
	}
	return sum / float64(n), nil
}

func (q *Query) sum(col expr.Expr) (float64, int64, error) {
	rows, err := q.Select(col)
	if err != nil {
		return 0, 0, err
	}
	var sum float64
	var n int64
	for row, err := range rows.All() {
		if err != nil {
			return 0, 0, err
		}
		if row[0] == nil {
			continue
		}
		f, ok := expr.ToFloat(row[0])
		if !ok {
			return 0, 0, perrors.NewQueryError(perrors.CodeTypeMismatch,
				fmt.Sprintf("%s yielded non-numeric %T", col, row[0]))
		}
		sum += f
		n++
	}
	return sum, n, nil
}

// First returns the first row passing q. It fails with EMPTY_SEQUENCE when
// the stream holds none.
func (q *Query) First(cols ...expr.Expr) (Row, error) {
	row, ok, err := q.first(cols)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, perrors.NewQueryError(perrors.CodeEmptySequence, "sequence contains no matching record")
	}
	return row, nil
}

// ElementAt returns the first row passing q at stream index i or later. It
// fails with ELEMENT_NOT_FOUND when there is none.
func (q *Query) ElementAt(i int, cols ...expr.Expr) (Row, error) {
	row, ok, err := q.Skip(i).first(cols)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, perrors.NewQueryError(perrors.CodeElementNotFound,
			fmt.Sprintf("no matching record at index %d or later", i))
	}
	return row, nil
}

// ElementAtOrDefault is ElementAt returning a nil Row when there is none.
func (q *Query) ElementAtOrDefault(i int, cols ...expr.Expr) (Row, error) {
	row, _, err := q.Skip(i).first(cols)
	return row, err
}

func (q *Query) first(cols []expr.Expr) (Row, bool, error) {
	rows, err := q.Select(cols...)
	if err != nil {
		return nil, false, err
	}
	row, ok, err := head(rows)
	if !ok || err != nil {
		return nil, false, err
	}
	return append(Row{}, row...), true, nil
}

// head pulls the first row and stops the scan.
func head(rows *Rows) (Row, bool, error) {
	next, stop := iter.Pull2(rows.All())
	defer stop()
	row, err, ok := next()
	if !ok {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}
