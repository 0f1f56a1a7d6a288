package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/rdom"
)

// ErrNotFactorable is returned when an update does not have the shape of a
// reduction that can be split into partial results.
var ErrNotFactorable = errors.New("reduction cannot be factored")

// FactorPart selects which piece of a reduction variable becomes the new
// pure dimension of the intermediate stage.
type FactorPart int

const (
	// FactorWhole turns the reduction variable itself into the new dimension.
	FactorWhole FactorPart = iota
	// FactorOuter keeps the inner piece of a split as the reduction and
	// makes the outer piece the new dimension.
	FactorOuter
	// FactorInner does the opposite of FactorOuter.
	FactorInner
)

// Factor describes an rfactor request in terms of the original reduction
// variable.
type Factor struct {
	RVar   string
	Part   FactorPart
	Outer  string
	Inner  string
	Split  int64
	NewVar string
}

// IntermediateName returns the name RFactor gives the partial-result stage.
func (p *Pipeline) IntermediateName(stage string) string {
	name := stage + "_intm"
	for i := 2; p.kindOf(name) != ""; i++ {
		name = fmt.Sprintf("%s_intm%d", stage, i)
	}
	return name
}

// RFactor rewrites update def of stage into an intermediate stage holding
// partial results indexed by f.NewVar, and replaces the update with one
// that combines those partials. It returns the intermediate stage, which
// is declared right before stage.
func (p *Pipeline) RFactor(stage string, def int, f Factor) (*Stage, error) {
	s := p.Stage(stage)
	if s == nil || !s.Defined() {
		return nil, fmt.Errorf("stage %q: %w", stage, ErrUndefinedStage)
	}
	d, ok := s.Definition(def)
	if !ok || !d.IsUpdate() {
		return nil, fmt.Errorf("stage %q has no update %d: %w", stage, def, ErrUndefinedStage)
	}
	fail := func(format string, args ...any) error {
		return fmt.Errorf("stage %q update %d: %s: %w", stage, def, fmt.Sprintf(format, args...), ErrNotFactorable)
	}
	if d.Combiner == CombineNone {
		return nil, fail("no combiner declared")
	}
	if len(d.Values) != 1 {
		return nil, fail("tuple-valued updates are not supported")
	}
	if d.Domain == nil {
		return nil, fail("update has no reduction domain")
	}
	rng, ok := d.Domain.Range(f.RVar)
	if !ok {
		return nil, fail("%q is not a reduction variable", f.RVar)
	}
	rvars := d.Domain.Vars()
	for _, a := range d.Args {
		for _, v := range expr.FreeVars(a) {
			if slices.Contains(rvars, v) {
				return nil, fail("left-hand side depends on %q", v)
			}
		}
	}

	self := d.selfCalls(stage)
	inValue := slices.ContainsFunc(expr.Calls(d.Values[0]), func(c *expr.Call) bool { return c.Name == stage })
	if len(self) != 1 || !inValue {
		return nil, fail("value must read the stage exactly once")
	}
	for i, a := range d.Args {
		if !expr.Equal(self[0].Args[i], a) {
			return nil, fail("self-read %s is not at the written index", self[0])
		}
	}

	pure := d.PureVars()
	taken := append(slices.Clone(pure), rvars...)
	taken = append(taken, s.vars...)
	fresh := []string{f.NewVar}
	if f.Part != FactorWhole {
		fresh = append(fresh, f.Outer, f.Inner)
		if f.Split <= 0 {
			return nil, fail("split factor %d", f.Split)
		}
	}
	for _, v := range fresh {
		if v == "" || slices.Contains(taken, v) {
			return nil, fail("variable %q is not fresh", v)
		}
		taken = append(taken, v)
	}

	u := expr.V(f.NewVar)
	k := expr.Int(f.Split)
	var (
		rx       expr.Expr
		replaced *rdom.Range
		tail     expr.Expr
		mergeMin expr.Expr
		mergeExt expr.Expr
	)
	switch f.Part {
	case FactorWhole:
		for _, v := range expr.FreeVars(rng.Min, rng.Extent) {
			if slices.Contains(rvars, v) {
				return nil, fail("range of %q depends on %q", f.RVar, v)
			}
		}
		rx = u
		mergeMin, mergeExt = rng.Min, rng.Extent
	case FactorOuter:
		inner := expr.V(f.Inner)
		rx = expr.Add(rng.Min, expr.Add(expr.Mul(u, k), inner))
		replaced = &rdom.Range{Name: f.Inner, Min: expr.Int(0), Extent: k}
		tail = expr.LT(expr.Add(expr.Mul(u, k), inner), rng.Extent)
		mergeMin, mergeExt = expr.Int(0), ceilDiv(rng.Extent, f.Split)
	case FactorInner:
		outer := expr.V(f.Outer)
		rx = expr.Add(rng.Min, expr.Add(expr.Mul(outer, k), u))
		replaced = &rdom.Range{Name: f.Outer, Min: expr.Int(0), Extent: ceilDiv(rng.Extent, f.Split)}
		tail = expr.LT(expr.Add(expr.Mul(outer, k), u), rng.Extent)
		mergeMin, mergeExt = expr.Int(0), k
	}
	if f.Part != FactorWhole {
		if ext, ok := expr.AsConst(rng.Extent); ok && ext%f.Split == 0 {
			tail = nil
		}
	}
	binds := map[string]expr.Expr{f.RVar: rx}

	var ranges []rdom.Range
	for _, r := range d.Domain.Ranges() {
		if r.Name == f.RVar {
			if replaced != nil {
				ranges = append(ranges, *replaced)
			}
			continue
		}
		ranges = append(ranges, rdom.Range{
			Name:   r.Name,
			Min:    expr.Simplify(expr.Substitute(r.Min, binds)),
			Extent: expr.Simplify(expr.Substitute(r.Extent, binds)),
		})
	}
	var preds []expr.Expr
	for _, pr := range d.Domain.Predicates() {
		preds = append(preds, expr.Substitute(pr, binds))
	}
	if tail != nil {
		preds = append(preds, expr.Simplify(tail))
	}

	intmName := p.IntermediateName(stage)
	intmVars := append(slices.Clone(pure), f.NewVar)
	intmArgs := make([]expr.Expr, len(intmVars))
	for i, v := range intmVars {
		intmArgs[i] = expr.V(v)
	}
	intmRead := &expr.Call{Name: intmName, Kind: expr.CallStage, Args: intmArgs}

	value := expr.Substitute(d.Values[0], binds)
	value = expr.Transform(value, func(n expr.Expr) expr.Expr {
		if c, ok := n.(*expr.Call); ok && c.Name == stage {
			return intmRead
		}
		return n
	})

	var opts []UpdateOption
	if len(ranges) > 0 {
		dom, err := rdom.New(d.Domain.Name()+"_intm", ranges...)
		if err != nil {
			return nil, err
		}
		for _, pr := range preds {
			if err := dom.Where(pr, intmVars...); err != nil {
				return nil, err
			}
		}
		opts = append(opts, WithDomain(dom))
	} else if len(preds) > 0 {
		cond := preds[0]
		for _, pr := range preds[1:] {
			cond = expr.And(cond, pr)
		}
		value = expr.Sel(cond, value, intmRead)
	}
	opts = append(opts, WithCombiner(d.Combiner))

	intm, err := p.InsertStageBefore(intmName, stage)
	if err != nil {
		return nil, err
	}
	if err := intm.DefinePure(intmVars, expr.Int(d.Combiner.Identity())); err != nil {
		return nil, err
	}
	if err := intm.DefineUpdate(intmArgs, []expr.Expr{value}, opts...); err != nil {
		return nil, err
	}

	mergeDom, err := rdom.New(d.Domain.Name()+"_"+f.NewVar, rdom.Range{
		Name:   f.NewVar,
		Min:    expr.Simplify(mergeMin),
		Extent: expr.Simplify(mergeExt),
	})
	if err != nil {
		return nil, err
	}
	mergeRead := &expr.Call{Name: intmName, Kind: expr.CallStage, Args: intmArgs}
	merge := &Definition{
		Args:       slices.Clone(d.Args),
		Values:     []expr.Expr{d.Combiner.Combine(self[0], mergeRead)},
		Domain:     mergeDom,
		Combiner:   d.Combiner,
		Ensures:    slices.Clone(d.Ensures),
		Invariants: slices.Clone(d.Invariants),
	}
	if err := s.ReplaceUpdate(def, merge); err != nil {
		return nil, err
	}
	return intm, nil
}

func (d *Definition) selfCalls(stage string) []*expr.Call {
	var out []*expr.Call
	for _, e := range d.Exprs() {
		for _, c := range expr.Calls(e) {
			if c.Name == stage {
				out = append(out, c)
			}
		}
	}
	return out
}

func ceilDiv(e expr.Expr, k int64) expr.Expr {
	return expr.Simplify(expr.Div(expr.Add(e, expr.Int(k-1)), expr.Int(k)))
}
