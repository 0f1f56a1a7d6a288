package bounds

import (
	"fmt"
	"strings"

	"github.com/specialistvlad/loopgrid/internal/expr"
)

// Interval is a closed range [Min, Max]. A nil end is unbounded on that
// side.
type Interval struct {
	Min expr.Expr
	Max expr.Expr
}

// Point returns the interval holding only e.
func Point(e expr.Expr) Interval { return Interval{Min: e, Max: e} }

// Span returns [min, min+extent-1].
func Span(min, extent expr.Expr) Interval {
	return Interval{Min: expr.Simplify(min), Max: expr.Simplify(expr.Sub(expr.Add(min, extent), expr.Int(1)))}
}

// RoundUp returns extent rounded up to a multiple of k.
func RoundUp(extent expr.Expr, k int64) expr.Expr {
	return expr.Simplify(expr.Mul(expr.Div(expr.Add(extent, expr.Int(k-1)), expr.Int(k)), expr.Int(k)))
}

// Everything returns the unbounded interval.
func Everything() Interval { return Interval{} }

// Bounded reports whether both ends are known.
func (i Interval) Bounded() bool { return i.Min != nil && i.Max != nil }

// Extent returns Max-Min+1, or nil when unbounded.
func (i Interval) Extent() expr.Expr {
	if !i.Bounded() {
		return nil
	}
	return expr.Simplify(expr.Add(expr.Sub(i.Max, i.Min), expr.Int(1)))
}

// Equal reports whether both ends are structurally equal.
func (i Interval) Equal(o Interval) bool {
	return endEqual(i.Min, o.Min) && endEqual(i.Max, o.Max)
}

func endEqual(a, b expr.Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return expr.Equal(a, b)
}

func (i Interval) String() string {
	end := func(e expr.Expr, inf string) string {
		if e == nil {
			return inf
		}
		return e.String()
	}
	return fmt.Sprintf("[%s, %s]", end(i.Min, "-inf"), end(i.Max, "+inf"))
}

func lift(a, b expr.Expr, op func(a, b expr.Expr) expr.Expr) expr.Expr {
	if a == nil || b == nil {
		return nil
	}
	return expr.Simplify(op(a, b))
}

// Union returns the smallest interval holding a and b.
func Union(a, b Interval) Interval {
	return Interval{Min: lift(a.Min, b.Min, expr.Min), Max: lift(a.Max, b.Max, expr.Max)}
}

// Intersect returns the overlap of a and b.
func Intersect(a, b Interval) Interval {
	pick := func(x, y expr.Expr, op func(a, b expr.Expr) expr.Expr) expr.Expr {
		switch {
		case x == nil:
			return y
		case y == nil:
			return x
		}
		return expr.Simplify(op(x, y))
	}
	return Interval{Min: pick(a.Min, b.Min, expr.Max), Max: pick(a.Max, b.Max, expr.Min)}
}

// Box is one interval per dimension.
type Box []Interval

// Bounded reports whether every dimension is bounded.
func (b Box) Bounded() bool {
	for _, i := range b {
		if !i.Bounded() {
			return false
		}
	}
	return true
}

// Equal compares two boxes dimension by dimension.
func (b Box) Equal(o Box) bool {
	if len(b) != len(o) {
		return false
	}
	for i := range b {
		if !b[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Union merges o into b. A nil b takes a copy of o, which is non-nil even
// for a zero-dimensional box so that scalar reads are still recorded.
func (b Box) Union(o Box) Box {
	if b == nil {
		out := make(Box, len(o))
		copy(out, o)
		return out
	}
	out := make(Box, len(b))
	for i := range b {
		out[i] = Union(b[i], o[i])
	}
	return out
}

// Intersect clips b to o.
func (b Box) Intersect(o Box) Box {
	out := make(Box, len(b))
	for i := range b {
		out[i] = Intersect(b[i], o[i])
	}
	return out
}

func (b Box) String() string {
	parts := make([]string, len(b))
	for i, in := range b {
		parts[i] = in.String()
	}
	return strings.Join(parts, " x ")
}

// Scope maps names to the ranges they take. Names missing from a scope
// are treated as fixed symbols.
type Scope map[string]Interval

func (s Scope) with(name string, i Interval) Scope {
	out := make(Scope, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[name] = i
	return out
}

// Of returns the range of e when the names of scope range over their
// intervals. Reads of stages and buffers are unbounded.
func Of(e expr.Expr, scope Scope) Interval {
	i := of(e, scope)
	if i.Min != nil {
		i.Min = expr.Simplify(i.Min)
	}
	if i.Max != nil {
		i.Max = expr.Simplify(i.Max)
	}
	return i
}

var boolRange = Interval{Min: expr.Int(0), Max: expr.Int(1)}

func of(e expr.Expr, scope Scope) Interval {
	switch n := e.(type) {
	case *expr.Const, *expr.Param:
		return Point(e)
	case *expr.Var:
		if i, ok := scope[n.Name]; ok {
			return i
		}
		return Point(e)
	case *expr.Not:
		return boolRange
	case *expr.Select:
		return Union(of(n.True, scope), of(n.False, scope))
	case *expr.Call:
		return Everything()
	case *expr.Binary:
		return binary(n, scope)
	}
	return Everything()
}

func constPoint(i Interval) (int64, bool) {
	if !i.Bounded() {
		return 0, false
	}
	a, ok1 := expr.AsConst(expr.Simplify(i.Min))
	b, ok2 := expr.AsConst(expr.Simplify(i.Max))
	return a, ok1 && ok2 && a == b
}

func positive(i Interval) bool {
	if i.Min == nil {
		return false
	}
	v, ok := expr.Prove(expr.GT(i.Min, expr.Int(0)))
	return ok && v
}

func binary(n *expr.Binary, scope Scope) Interval {
	if n.Op.IsComparison() || n.Op.IsLogical() {
		return boolRange
	}
	a, b := of(n.A, scope), of(n.B, scope)
	switch n.Op {
	case expr.OpAdd:
		return Interval{Min: lift(a.Min, b.Min, expr.Add), Max: lift(a.Max, b.Max, expr.Add)}
	case expr.OpSub:
		return Interval{Min: lift(a.Min, b.Max, expr.Sub), Max: lift(a.Max, b.Min, expr.Sub)}
	case expr.OpMul:
		if c, ok := constPoint(b); ok {
			return scale(a, c)
		}
		if c, ok := constPoint(a); ok {
			return scale(b, c)
		}
		return corners(a, b, expr.Mul)
	case expr.OpDiv:
		if c, ok := constPoint(b); ok {
			switch {
			case c == 0:
				return Point(expr.Int(0))
			case c > 0:
				return Interval{Min: lift(a.Min, expr.Int(c), expr.Div), Max: lift(a.Max, expr.Int(c), expr.Div)}
			default:
				return Interval{Min: lift(a.Max, expr.Int(c), expr.Div), Max: lift(a.Min, expr.Int(c), expr.Div)}
			}
		}
		if positive(b) && b.Bounded() {
			return corners(a, b, expr.Div)
		}
		return Everything()
	case expr.OpMod:
		if c, ok := constPoint(b); ok {
			if c == 0 {
				return Point(expr.Int(0))
			}
			if c < 0 {
				c = -c
			}
			return Interval{Min: expr.Int(0), Max: expr.Int(c - 1)}
		}
		if positive(b) && b.Max != nil {
			return Interval{Min: expr.Int(0), Max: expr.Sub(b.Max, expr.Int(1))}
		}
		return Everything()
	case expr.OpMin:
		out := Interval{Max: lift(a.Max, b.Max, expr.Min)}
		switch {
		case a.Min == nil || b.Min == nil:
		default:
			out.Min = expr.Min(a.Min, b.Min)
		}
		if a.Max == nil {
			out.Max = b.Max
		} else if b.Max == nil {
			out.Max = a.Max
		}
		return out
	case expr.OpMax:
		out := Interval{Min: lift(a.Min, b.Min, expr.Max)}
		switch {
		case a.Max == nil || b.Max == nil:
		default:
			out.Max = expr.Max(a.Max, b.Max)
		}
		if a.Min == nil {
			out.Min = b.Min
		} else if b.Min == nil {
			out.Min = a.Min
		}
		return out
	}
	return Everything()
}

func scale(a Interval, c int64) Interval {
	k := expr.Int(c)
	switch {
	case c == 0:
		return Point(expr.Int(0))
	case c > 0:
		return Interval{Min: lift(a.Min, k, expr.Mul), Max: lift(a.Max, k, expr.Mul)}
	default:
		return Interval{Min: lift(a.Max, k, expr.Mul), Max: lift(a.Min, k, expr.Mul)}
	}
}

func corners(a, b Interval, op func(a, b expr.Expr) expr.Expr) Interval {
	if !a.Bounded() || !b.Bounded() {
		return Everything()
	}
	c := []expr.Expr{op(a.Min, b.Min), op(a.Min, b.Max), op(a.Max, b.Min), op(a.Max, b.Max)}
	lo, hi := c[0], c[0]
	for _, e := range c[1:] {
		lo, hi = expr.Min(lo, e), expr.Max(hi, e)
	}
	return Interval{Min: lo, Max: hi}
}
