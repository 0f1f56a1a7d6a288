package loopir

import (
	"github.com/specialistvlad/loopgrid/internal/expr"
)

// Visit walks s in pre-order. Returning false from fn skips the children
// of the visited statement.
func Visit(s Stmt, fn func(Stmt) bool) {
	if s == nil || !fn(s) {
		return
	}
	switch n := s.(type) {
	case *For:
		Visit(n.Body, fn)
	case *Let:
		Visit(n.Body, fn)
	case *If:
		Visit(n.Then, fn)
		Visit(n.Else, fn)
	case *ProducerConsumer:
		Visit(n.Body, fn)
	case *Allocate:
		Visit(n.Body, fn)
	case *Block:
		for _, c := range n.Stmts {
			Visit(c, fn)
		}
	}
}

// Exprs returns the expressions held directly by s, not by its children.
func Exprs(s Stmt) []expr.Expr {
	switch n := s.(type) {
	case *For:
		return []expr.Expr{n.Min, n.Extent}
	case *Let:
		return []expr.Expr{n.Value}
	case *If:
		return []expr.Expr{n.Cond}
	case *Provide:
		return append(append([]expr.Expr(nil), n.Args...), n.Values...)
	case *Allocate:
		var out []expr.Expr
		for _, r := range n.Bounds {
			out = append(out, r.Min, r.Extent)
		}
		return out
	case *Assert:
		return []expr.Expr{n.Cond}
	}
	return nil
}

// Calls returns every call made anywhere in s.
func Calls(s Stmt) []*expr.Call {
	var out []*expr.Call
	Visit(s, func(n Stmt) bool {
		for _, e := range Exprs(n) {
			out = append(out, expr.Calls(e)...)
		}
		return true
	})
	return out
}

// Uses reports whether s reads or writes stage name.
func Uses(s Stmt, name string) bool {
	found := false
	Visit(s, func(n Stmt) bool {
		if found {
			return false
		}
		if p, ok := n.(*Provide); ok && p.Name == name {
			found = true
			return false
		}
		for _, e := range Exprs(n) {
			for _, c := range expr.Calls(e) {
				if c.Name == name {
					found = true
					return false
				}
			}
		}
		return true
	})
	return found
}

// Loops returns the loops of s in pre-order.
func Loops(s Stmt) []*For {
	var out []*For
	Visit(s, func(n Stmt) bool {
		if f, ok := n.(*For); ok {
			out = append(out, f)
		}
		return true
	})
	return out
}

// Params returns the sorted parameter names mentioned anywhere in s.
func Params(s Stmt) []string {
	var all []expr.Expr
	Visit(s, func(n Stmt) bool {
		all = append(all, Exprs(n)...)
		return true
	})
	return expr.Params(all...)
}
