package expr

// Walk visits e and its operands in pre-order. Operands of a node are
// skipped when fn returns false for it.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case Compare:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Logical:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Arith:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Not:
		Walk(n.X, fn)
	case Neg:
		Walk(n.X, fn)
	}
}

// Rewrite rebuilds e bottom-up: operands are rewritten first, then fn is
// applied to the node carrying the rewritten operands. The first error
// aborts the rewrite.
func Rewrite(e Expr, fn func(Expr) (Expr, error)) (Expr, error) {
	if e == nil {
		return nil, nil
	}
	var err error
	switch n := e.(type) {
	case Compare:
		if n.Left, err = Rewrite(n.Left, fn); err != nil {
			return nil, err
		}
		if n.Right, err = Rewrite(n.Right, fn); err != nil {
			return nil, err
		}
		e = n
	case Logical:
		if n.Left, err = Rewrite(n.Left, fn); err != nil {
			return nil, err
		}
		if n.Right, err = Rewrite(n.Right, fn); err != nil {
			return nil, err
		}
		e = n
	case Arith:
		if n.Left, err = Rewrite(n.Left, fn); err != nil {
			return nil, err
		}
		if n.Right, err = Rewrite(n.Right, fn); err != nil {
			return nil, err
		}
		e = n
	case Not:
		if n.X, err = Rewrite(n.X, fn); err != nil {
			return nil, err
		}
		e = n
	case Neg:
		if n.X, err = Rewrite(n.X, fn); err != nil {
			return nil, err
		}
		e = n
	}
	return fn(e)
}

// Fields returns the resolved fields e reads, in first-seen order without
// duplicates.
func Fields(e Expr) []FieldRef {
	var out []FieldRef
	seen := make(map[FieldRef]bool)
	Walk(e, func(n Expr) bool {
		if ref, ok := n.(FieldRef); ok && !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
		return true
	})
	return out
}
