package expr

import (
	"sort"
)

// Simplify folds constants and normalizes affine arithmetic. It only
// performs rewrites that bounds inference and loop construction benefit
// from; it is not a general algebraic simplifier.
func Simplify(e Expr) Expr {
	return Transform(e, simplifyNode)
}

// Prove simplifies a boolean expression and reports its truth value when it
// reduces to a constant.
func Prove(e Expr) (value, known bool) {
	if v, ok := AsConst(Simplify(e)); ok {
		return v != 0, true
	}
	return false, false
}

// Difference returns a-b when it simplifies to a constant.
func Difference(a, b Expr) (int64, bool) {
	return AsConst(Simplify(Sub(a, b)))
}

// IsBool reports whether e is known to evaluate to 0 or 1.
func IsBool(e Expr) bool {
	switch n := e.(type) {
	case *Const:
		return n.Value == 0 || n.Value == 1
	case *Not:
		return true
	case *Binary:
		return n.Op.IsComparison() || n.Op.IsLogical()
	}
	return false
}

func simplifyNode(e Expr) Expr {
	switch n := e.(type) {
	case *Binary:
		return simplifyBinary(n)
	case *Not:
		if v, ok := AsConst(n.A); ok {
			return Int(boolInt(v == 0))
		}
		if inner, ok := n.A.(*Not); ok && IsBool(inner.A) {
			return inner.A
		}
		if b, ok := n.A.(*Binary); ok {
			if op, ok := negated[b.Op]; ok {
				return simplifyBinary(&Binary{Op: op, A: b.A, B: b.B})
			}
		}
		return n
	case *Select:
		if v, ok := AsConst(n.Cond); ok {
			if v != 0 {
				return n.True
			}
			return n.False
		}
		if Equal(n.True, n.False) {
			return n.True
		}
		return n
	}
	return e
}

var negated = map[Op]Op{
	OpEQ: OpNE,
	OpNE: OpEQ,
	OpLT: OpGE,
	OpLE: OpGT,
	OpGT: OpLE,
	OpGE: OpLT,
}

func simplifyBinary(n *Binary) Expr {
	a, aok := AsConst(n.A)
	b, bok := AsConst(n.B)
	if aok && bok {
		return Int(Fold(n.Op, a, b))
	}
	switch n.Op {
	case OpAdd, OpSub:
		return linearize(n).build()
	case OpMul:
		switch {
		case aok && a == 0, bok && b == 0:
			return Int(0)
		case aok, bok:
			return linearize(n).build()
		}
		return n
	case OpDiv:
		return simplifyDiv(n, b, bok)
	case OpMod:
		return simplifyMod(n, b, bok)
	case OpMin, OpMax:
		return simplifyMinMax(n)
	case OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE:
		if d, ok := AsConst(linearize(&Binary{Op: OpSub, A: n.A, B: n.B}).build()); ok {
			return Int(Fold(n.Op, d, 0))
		}
		return n
	case OpAnd:
		if (aok && a == 0) || (bok && b == 0) {
			return Int(0)
		}
		if aok && IsBool(n.B) {
			return n.B
		}
		if bok && IsBool(n.A) {
			return n.A
		}
		if Equal(n.A, n.B) && IsBool(n.A) {
			return n.A
		}
		return n
	case OpOr:
		if (aok && a != 0) || (bok && b != 0) {
			return Int(1)
		}
		if aok && IsBool(n.B) {
			return n.B
		}
		if bok && IsBool(n.A) {
			return n.A
		}
		if Equal(n.A, n.B) && IsBool(n.A) {
			return n.A
		}
		return n
	}
	return n
}

func simplifyDiv(n *Binary, k int64, kok bool) Expr {
	if !kok || k <= 0 {
		return n
	}
	if k == 1 {
		return n.A
	}
	lf := linearize(n.A)
	quot, rest := lf.splitDivisible(k)
	if len(quot.terms) == 0 && quot.c == 0 {
		if len(rest.terms) == 0 {
			return Int(FloorDiv(rest.c, k))
		}
		return &Binary{Op: OpDiv, A: rest.build(), B: n.B}
	}
	var tail Expr
	if len(rest.terms) == 0 {
		tail = Int(FloorDiv(rest.c, k))
	} else {
		tail = &Binary{Op: OpDiv, A: rest.build(), B: n.B}
	}
	return linearize(&Binary{Op: OpAdd, A: quot.build(), B: tail}).build()
}

func simplifyMod(n *Binary, k int64, kok bool) Expr {
	if !kok || k <= 0 {
		return n
	}
	if k == 1 {
		return Int(0)
	}
	lf := linearize(n.A)
	_, rest := lf.splitDivisible(k)
	if len(rest.terms) == 0 {
		return Int(EuclidMod(rest.c, k))
	}
	return &Binary{Op: OpMod, A: rest.build(), B: n.B}
}

func simplifyMinMax(n *Binary) Expr {
	if Equal(n.A, n.B) {
		return n.A
	}
	if d, ok := AsConst(linearize(&Binary{Op: OpSub, A: n.A, B: n.B}).build()); ok {
		if (n.Op == OpMin) == (d <= 0) {
			return n.A
		}
		return n.B
	}
	// Collapse nested constants: min(min(x, c1), c2) -> min(x, min(c1, c2)).
	if c2, ok := AsConst(n.B); ok {
		if inner, ok := n.A.(*Binary); ok && inner.Op == n.Op {
			if c1, ok := AsConst(inner.B); ok {
				return &Binary{Op: n.Op, A: inner.A, B: Int(Fold(n.Op, c1, c2))}
			}
		}
	}
	// Keep constants on the right so the rule above applies.
	if _, ok := AsConst(n.A); ok {
		if _, ok := AsConst(n.B); !ok {
			return simplifyMinMax(&Binary{Op: n.Op, A: n.B, B: n.A})
		}
	}
	return n
}

type term struct {
	atom Expr
	k    int64
}

// linear is sum(k_i * atom_i) + c with atoms keyed by their printed form.
type linear struct {
	terms map[string]term
	c     int64
}

func linearize(e Expr) *linear {
	l := &linear{terms: make(map[string]term)}
	l.accumulate(e, 1)
	return l
}

func (l *linear) accumulate(e Expr, scale int64) {
	switch n := e.(type) {
	case *Const:
		l.c += scale * n.Value
		return
	case *Binary:
		switch n.Op {
		case OpAdd:
			l.accumulate(n.A, scale)
			l.accumulate(n.B, scale)
			return
		case OpSub:
			l.accumulate(n.A, scale)
			l.accumulate(n.B, -scale)
			return
		case OpMul:
			if k, ok := AsConst(n.B); ok {
				l.accumulate(n.A, scale*k)
				return
			}
			if k, ok := AsConst(n.A); ok {
				l.accumulate(n.B, scale*k)
				return
			}
		}
	}
	key := e.String()
	t := l.terms[key]
	t.atom = e
	t.k += scale
	if t.k == 0 {
		delete(l.terms, key)
		return
	}
	l.terms[key] = t
}

// splitDivisible separates the terms whose coefficients divide by k
// (returned already divided) from the remaining ones.
func (l *linear) splitDivisible(k int64) (quot, rest *linear) {
	quot = &linear{terms: make(map[string]term)}
	rest = &linear{terms: make(map[string]term)}
	for key, t := range l.terms {
		if t.k%k == 0 {
			quot.terms[key] = term{atom: t.atom, k: t.k / k}
		} else {
			rest.terms[key] = t
		}
	}
	quot.c = FloorDiv(l.c, k)
	rest.c = EuclidMod(l.c, k)
	if len(rest.terms) > 0 {
		// The constant only splits cleanly when everything else divides.
		quot.c = 0
		rest.c = l.c
	}
	return quot, rest
}

func (l *linear) build() Expr {
	keys := make([]string, 0, len(l.terms))
	for k := range l.terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out Expr
	var negs []term
	for _, key := range keys {
		t := l.terms[key]
		if t.k < 0 {
			negs = append(negs, t)
			continue
		}
		out = addTerm(out, t)
	}
	for _, t := range negs {
		pos := term{atom: t.atom, k: -t.k}
		if out == nil {
			out = &Binary{Op: OpSub, A: Int(0), B: scaled(pos)}
			continue
		}
		out = &Binary{Op: OpSub, A: out, B: scaled(pos)}
	}
	switch {
	case out == nil:
		return Int(l.c)
	case l.c > 0:
		return &Binary{Op: OpAdd, A: out, B: Int(l.c)}
	case l.c < 0:
		return &Binary{Op: OpSub, A: out, B: Int(-l.c)}
	}
	return out
}

func scaled(t term) Expr {
	if t.k == 1 {
		return t.atom
	}
	return &Binary{Op: OpMul, A: t.atom, B: Int(t.k)}
}

func addTerm(acc Expr, t term) Expr {
	if acc == nil {
		return scaled(t)
	}
	return &Binary{Op: OpAdd, A: acc, B: scaled(t)}
}
