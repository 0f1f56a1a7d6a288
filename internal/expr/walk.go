package expr

import "sort"

// Walk visits e in pre-order. Returning false from fn skips the children of
// the visited node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Binary:
		Walk(n.A, fn)
		Walk(n.B, fn)
	case *Not:
		Walk(n.A, fn)
	case *Select:
		Walk(n.Cond, fn)
		Walk(n.True, fn)
		Walk(n.False, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	}
}

// Transform rebuilds e bottom-up, passing every rebuilt node to fn and
// using its result in place of the node.
func Transform(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *Binary:
		e = &Binary{Op: n.Op, A: Transform(n.A, fn), B: Transform(n.B, fn)}
	case *Not:
		e = &Not{A: Transform(n.A, fn)}
	case *Select:
		e = &Select{Cond: Transform(n.Cond, fn), True: Transform(n.True, fn), False: Transform(n.False, fn)}
	case *Call:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = Transform(a, fn)
		}
		e = &Call{Name: n.Name, Kind: n.Kind, Args: args, Index: n.Index}
	}
	return fn(e)
}

// Substitute replaces variables named in binds.
func Substitute(e Expr, binds map[string]Expr) Expr {
	if len(binds) == 0 {
		return e
	}
	return Transform(e, func(n Expr) Expr {
		if v, ok := n.(*Var); ok {
			if r, ok := binds[v.Name]; ok {
				return r
			}
		}
		return n
	})
}

// SubstituteParams replaces parameters named in binds.
func SubstituteParams(e Expr, binds map[string]Expr) Expr {
	if len(binds) == 0 {
		return e
	}
	return Transform(e, func(n Expr) Expr {
		if p, ok := n.(*Param); ok {
			if r, ok := binds[p.Name]; ok {
				return r
			}
		}
		return n
	})
}

// Rename rewrites variable names through fn.
func Rename(e Expr, fn func(string) string) Expr {
	return Transform(e, func(n Expr) Expr {
		if v, ok := n.(*Var); ok {
			if name := fn(v.Name); name != v.Name {
				return V(name)
			}
		}
		return n
	})
}

// Calls returns every call node in e in pre-order.
func Calls(e Expr) []*Call {
	var out []*Call
	Walk(e, func(n Expr) bool {
		if c, ok := n.(*Call); ok {
			out = append(out, c)
		}
		return true
	})
	return out
}

// FreeVars returns the sorted names of variables referenced by the exprs.
func FreeVars(exprs ...Expr) []string {
	seen := make(map[string]struct{})
	for _, e := range exprs {
		Walk(e, func(n Expr) bool {
			if v, ok := n.(*Var); ok {
				seen[v.Name] = struct{}{}
			}
			return true
		})
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Params returns the sorted names of parameters referenced by the exprs.
func Params(exprs ...Expr) []string {
	seen := make(map[string]struct{})
	for _, e := range exprs {
		Walk(e, func(n Expr) bool {
			if p, ok := n.(*Param); ok {
				seen[p.Name] = struct{}{}
			}
			return true
		})
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Mentions reports whether e references the variable name.
func Mentions(e Expr, name string) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if found {
			return false
		}
		if v, ok := n.(*Var); ok && v.Name == name {
			found = true
		}
		return !found
	})
	return found
}

// Equal reports structural equality.
func Equal(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Const:
		y, ok := b.(*Const)
		return ok && x.Value == y.Value
	case *Var:
		y, ok := b.(*Var)
		return ok && x.Name == y.Name
	case *Param:
		y, ok := b.(*Param)
		return ok && x.Name == y.Name
	case *Binary:
		y, ok := b.(*Binary)
		return ok && x.Op == y.Op && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *Not:
		y, ok := b.(*Not)
		return ok && Equal(x.A, y.A)
	case *Select:
		y, ok := b.(*Select)
		return ok && Equal(x.Cond, y.Cond) && Equal(x.True, y.True) && Equal(x.False, y.False)
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.Name != y.Name || x.Kind != y.Kind || x.Index != y.Index || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	}
	return false
}
