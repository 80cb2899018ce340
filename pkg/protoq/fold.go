package protoq

import "github.com/arkilian/protoq/pkg/expr"

// Fold selects cols from every record passing q and combines the rows into
// an accumulator, starting from seed. Row selection is the same as Select.
// On error the accumulator reached so far is returned with it.
func Fold[A any](q *Query, seed A, step func(acc A, row Row) A, cols ...expr.Expr) (A, error) {
	rows, err := q.Select(cols...)
	if err != nil {
		return seed, err
	}
	acc := seed
	for row, err := range rows.All() {
		if err != nil {
			return acc, err
		}
		acc = step(acc, row)
	}
	return acc, nil
}
