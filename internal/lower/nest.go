package lower

import (
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/loopir"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

type binding struct {
	name  string
	value expr.Expr
}

func wrapLets(lets []binding, body loopir.Stmt) loopir.Stmt {
	for i := len(lets) - 1; i >= 0; i-- {
		body = &loopir.Let{Name: lets[i].name, Value: lets[i].value, Body: body}
	}
	return body
}

type loop struct {
	dim  string
	name string
	min  expr.Expr
	ext  expr.Expr
	typ  loopir.ForType
}

// nest is the loop structure of one definition before placement levels
// are injected into it.
type nest struct {
	stage string
	def   int
	loops []loop
	// lets[k+1] is bound just inside loop k; lets[0] sits outside the
	// outermost loop.
	lets [][]binding
	body loopir.Stmt
}

func (n *nest) index(dim string) int {
	return slices.IndexFunc(n.loops, func(lp loop) bool { return lp.dim == dim })
}

var forTypes = map[schedule.ForType]loopir.ForType{
	schedule.Serial:     loopir.Serial,
	schedule.Parallel:   loopir.Parallel,
	schedule.Vectorized: loopir.Vectorized,
	schedule.Unrolled:   loopir.Unrolled,
}

// plan replays the transformation history of ds over definition d of
// stage. ranges gives the (min, extent) of every argument position. top
// is set for the definition's own schedule, as opposed to a specialized
// branch of it.
func (l *lowerer) plan(stage string, d *defn, ds *schedule.DefSchedule, ranges []loopir.Range, top bool) (*nest, error) {
	prefix := fmt.Sprintf("%s.s%d.", stage, d.index)
	local := func(name string) string { return prefix + name }

	mins := make(map[string]expr.Expr)
	exts := make(map[string]expr.Expr)
	var originals []string
	for j, a := range d.args {
		v, ok := a.(*expr.Var)
		if !ok || !slices.Contains(d.pure, v.Name) || slices.Contains(originals, v.Name) {
			continue
		}
		originals = append(originals, v.Name)
		mins[v.Name], exts[v.Name] = ranges[j].Min, ranges[j].Extent
	}
	for _, r := range d.ranges {
		originals = append(originals, r.Name)
	}
	rename := func(e expr.Expr) expr.Expr {
		return expr.Rename(e, func(name string) string {
			if slices.Contains(originals, name) {
				return local(name)
			}
			return name
		})
	}
	for _, r := range d.ranges {
		mins[r.Name], exts[r.Name] = expr.Simplify(rename(r.Min)), expr.Simplify(rename(r.Extent))
	}

	for _, sp := range ds.Splits {
		switch sp.Kind {
		case schedule.SplitVar:
			k := expr.Int(sp.Factor)
			mins[sp.Outer] = expr.Int(0)
			exts[sp.Outer] = expr.Simplify(expr.Div(expr.Add(exts[sp.Old], expr.Int(sp.Factor-1)), k))
			mins[sp.Inner], exts[sp.Inner] = expr.Int(0), k
		case schedule.FuseVars:
			mins[sp.Old] = expr.Int(0)
			exts[sp.Old] = expr.Simplify(expr.Mul(exts[sp.Outer], exts[sp.Inner]))
		case schedule.RenameVar:
			mins[sp.Outer], exts[sp.Outer] = mins[sp.Old], exts[sp.Old]
		}
	}

	vals := make(map[string]expr.Expr)
	for _, dim := range ds.Dims {
		vals[dim.Name] = expr.V(local(dim.Name))
	}
	var conds []expr.Expr
	for i := len(ds.Splits) - 1; i >= 0; i-- {
		sp := ds.Splits[i]
		switch sp.Kind {
		case schedule.SplitVar:
			k := expr.Int(sp.Factor)
			rel := expr.Add(expr.Mul(vals[sp.Outer], k), vals[sp.Inner])
			vals[sp.Old] = expr.Simplify(expr.Add(mins[sp.Old], rel))
			if top && l.s.Rounded(stage, d.index, sp) {
				continue
			}
			if exact, known := expr.Prove(expr.EQ(expr.Mod(exts[sp.Old], k), expr.Int(0))); known && exact {
				continue
			}
			conds = append(conds, expr.Simplify(expr.LT(rel, exts[sp.Old])))
		case schedule.FuseVars:
			inner := exts[sp.Inner]
			vals[sp.Inner] = expr.Simplify(expr.Add(mins[sp.Inner], expr.Mod(vals[sp.Old], inner)))
			vals[sp.Outer] = expr.Simplify(expr.Add(mins[sp.Outer], expr.Div(vals[sp.Old], inner)))
		case schedule.RenameVar:
			vals[sp.Old] = vals[sp.Outer]
		}
	}

	n := &nest{stage: stage, def: d.index}
	depth := make(map[string]int, len(ds.Dims))
	for k, dim := range ds.Dims {
		lp := loop{
			dim:  dim.Name,
			name: local(dim.Name),
			min:  mins[dim.Name],
			ext:  exts[dim.Name],
			typ:  forTypes[dim.ForType],
		}
		if lp.typ == loopir.Vectorized || lp.typ == loopir.Unrolled {
			if _, ok := expr.AsConst(lp.ext); !ok {
				return nil, fmt.Errorf("stage %q definition %d: %s loop %q has non-constant extent %s: %w",
					stage, d.index, dim.ForType, dim.Name, lp.ext, schedule.ErrUnschedulableDimension)
			}
		}
		n.loops = append(n.loops, lp)
		depth[lp.name] = k
	}

	n.lets = make([][]binding, len(n.loops)+1)
	for _, o := range originals {
		v := vals[o]
		if ref, ok := v.(*expr.Var); ok && ref.Name == local(o) {
			continue
		}
		at := -1
		for _, name := range expr.FreeVars(v) {
			if k, ok := depth[name]; ok {
				at = max(at, k)
			}
		}
		n.lets[at+1] = append(n.lets[at+1], binding{name: local(o), value: v})
	}

	for _, p := range d.preds {
		conds = append(conds, rename(p))
	}
	var body loopir.Stmt = &loopir.Provide{
		Name:   stage,
		Args:   mapExprs(d.args, func(e expr.Expr) expr.Expr { return expr.Simplify(rename(e)) }),
		Values: mapExprs(d.values, rename),
	}
	if len(conds) > 0 {
		cond := conds[0]
		for _, c := range conds[1:] {
			cond = expr.And(cond, c)
		}
		body = &loopir.If{Cond: cond, Then: body}
	}
	n.body = body
	return n, nil
}

// guestNest is a definition fused into another one down to loop depth.
type guestNest struct {
	n     *nest
	depth int
}

// loop injects the placement level of loop k of n around body and wraps
// both in the loop.
func (l *lowerer) loop(n *nest, k int, body loopir.Stmt) (loopir.Stmt, error) {
	body, err := l.level(levelKey{stage: n.stage, def: n.def, dim: n.loops[k].dim}, body)
	if err != nil {
		return nil, err
	}
	lp := n.loops[k]
	return &loopir.For{Name: lp.name, Min: lp.min, Extent: lp.ext, Type: lp.typ, Body: body}, nil
}

// emit assembles n from the innermost loop outwards, placing the fused
// guests inside the host loops they share.
func (l *lowerer) emit(n *nest, guests []guestNest) (loopir.Stmt, error) {
	body := n.body
	for k := len(n.loops) - 1; k >= 0; k-- {
		body = wrapLets(n.lets[k+1], body)
		type part struct {
			pos  int
			stmt loopir.Stmt
		}
		parts := []part{{pos: l.pos[n.stage], stmt: body}}
		for _, g := range guests {
			if g.depth != k {
				continue
			}
			st, err := l.guestPart(g, n)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part{pos: l.pos[g.n.stage], stmt: st})
		}
		if len(parts) > 1 {
			slices.SortStableFunc(parts, func(a, b part) int { return a.pos - b.pos })
			stmts := make([]loopir.Stmt, len(parts))
			for i, p := range parts {
				stmts[i] = p.stmt
			}
			body = loopir.Seq(stmts...)
		}
		for _, g := range guests {
			if g.depth < k {
				continue
			}
			var err error
			if body, err = l.level(levelKey{stage: g.n.stage, def: g.n.def, dim: g.n.loops[k].dim}, body); err != nil {
				return nil, err
			}
		}
		var err error
		if body, err = l.loop(n, k, body); err != nil {
			return nil, err
		}
	}
	return wrapLets(n.lets[0], body), nil
}

// guestPart is the part of guest g nested inside loop g.depth of host,
// with the guest's shared loop variables aliased to the host's.
func (l *lowerer) guestPart(g guestNest, host *nest) (loopir.Stmt, error) {
	body := g.n.body
	for k := len(g.n.loops) - 1; k > g.depth; k-- {
		body = wrapLets(g.n.lets[k+1], body)
		var err error
		if body, err = l.loop(g.n, k, body); err != nil {
			return nil, err
		}
	}
	for k := g.depth; k >= -1; k-- {
		body = wrapLets(g.n.lets[k+1], body)
	}
	for k := g.depth; k >= 0; k-- {
		body = &loopir.Let{Name: g.n.loops[k].name, Value: expr.V(host.loops[k].name), Body: body}
	}
	return body, nil
}

// definition emits one definition of stage, its specializations first.
func (l *lowerer) definition(stage string, d *defn, ranges []loopir.Range, guests []guestNest) (loopir.Stmt, error) {
	ds := l.s.Stage(stage).Defs[d.index]
	n, err := l.plan(stage, d, ds, ranges, true)
	if err != nil {
		return nil, err
	}
	st, err := l.emit(n, guests)
	if err != nil {
		return nil, err
	}
	for i := len(ds.Specializations) - 1; i >= 0; i-- {
		sp := ds.Specializations[i]
		bn, err := l.plan(stage, d, sp.Def, ranges, false)
		if err != nil {
			return nil, err
		}
		then, err := l.emit(bn, nil)
		if err != nil {
			return nil, err
		}
		st = &loopir.If{Cond: sp.Cond, Then: then, Else: st}
	}
	return st, nil
}
