package bounds

import (
	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/loopir"
)

// BoxRequired returns the region of stage name read by s, in terms of the
// names bound outside s. It returns nil when s does not read the stage.
func BoxRequired(s loopir.Stmt, name string) Box {
	b := &boxer{name: name}
	b.stmt(s, Scope{})
	return b.box
}

// BoxTouched is BoxRequired extended with the elements s writes.
func BoxTouched(s loopir.Stmt, name string) Box {
	b := &boxer{name: name, writes: true}
	b.stmt(s, Scope{})
	return b.box
}

type boxer struct {
	name   string
	writes bool
	box    Box
}

func (b *boxer) add(args []expr.Expr, scope Scope) {
	box := make(Box, len(args))
	for i, a := range args {
		box[i] = Of(a, scope)
	}
	b.box = b.box.Union(box)
}

func (b *boxer) exprs(scope Scope, es ...expr.Expr) {
	for _, e := range es {
		for _, c := range expr.Calls(e) {
			if c.Name == b.name {
				b.add(c.Args, scope)
			}
		}
	}
}

func (b *boxer) stmt(s loopir.Stmt, scope Scope) {
	switch n := s.(type) {
	case *loopir.For:
		b.exprs(scope, n.Min, n.Extent)
		lo, ext := Of(n.Min, scope), Of(n.Extent, scope)
		rng := Interval{Min: lo.Min}
		if lo.Max != nil && ext.Max != nil {
			rng.Max = expr.Simplify(expr.Sub(expr.Add(lo.Max, ext.Max), expr.Int(1)))
		}
		b.stmt(n.Body, scope.with(n.Name, rng))
	case *loopir.Let:
		b.exprs(scope, n.Value)
		b.stmt(n.Body, scope.with(n.Name, Of(n.Value, scope)))
	case *loopir.If:
		b.exprs(scope, n.Cond)
		b.stmt(n.Then, refine(scope, n.Cond))
		b.stmt(n.Else, scope)
	case *loopir.Provide:
		b.exprs(scope, n.Args...)
		b.exprs(scope, n.Values...)
		if b.writes && n.Name == b.name {
			b.add(n.Args, scope)
		}
	case *loopir.ProducerConsumer:
		b.stmt(n.Body, scope)
	case *loopir.Allocate:
		for _, r := range n.Bounds {
			b.exprs(scope, r.Min, r.Extent)
		}
		b.stmt(n.Body, scope)
	case *loopir.Block:
		for _, c := range n.Stmts {
			b.stmt(c, scope)
		}
	case *loopir.Assert:
		b.exprs(scope, n.Cond)
	}
}

// refine narrows the ranges of variables compared against bounds in a
// conjunction of simple conditions.
func refine(scope Scope, cond expr.Expr) Scope {
	bin, ok := cond.(*expr.Binary)
	if !ok {
		return scope
	}
	if bin.Op == expr.OpAnd {
		return refine(refine(scope, bin.A), bin.B)
	}
	v, ok := bin.A.(*expr.Var)
	if !ok {
		return scope
	}
	cur, ok := scope[v.Name]
	if !ok {
		return scope
	}
	bound := Of(bin.B, scope)
	var lim Interval
	switch bin.Op {
	case expr.OpLT:
		if bound.Max == nil {
			return scope
		}
		lim = Interval{Max: expr.Simplify(expr.Sub(bound.Max, expr.Int(1)))}
	case expr.OpLE:
		lim = Interval{Max: bound.Max}
	case expr.OpGT:
		if bound.Min == nil {
			return scope
		}
		lim = Interval{Min: expr.Simplify(expr.Add(bound.Min, expr.Int(1)))}
	case expr.OpGE:
		lim = Interval{Min: bound.Min}
	default:
		return scope
	}
	return scope.with(v.Name, Intersect(cur, lim))
}
