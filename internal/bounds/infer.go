// Package bounds infers the region every stage must compute and the
// footprint read from every input buffer, propagating requirements
// backwards from the pipeline outputs.
package bounds

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

var (
	ErrUnboundedRegion  = errors.New("unbounded region")
	ErrInfeasibleBounds = errors.New("infeasible bounds")
)

// Error reports a bounds failure with the stage it concerns and the chain
// of calls from an output down to it.
type Error struct {
	Stage string
	Chain []string
	Err   error
}

func (e *Error) Error() string {
	if len(e.Chain) > 1 {
		return fmt.Sprintf("stage %q (via %s): %v", e.Stage, strings.Join(e.Chain, " -> "), e.Err)
	}
	return fmt.Sprintf("stage %q: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Check is a containment the compiler could not decide statically: Need
// must lie within Have at run time.
type Check struct {
	Name string
	Dim  int
	Need Interval
	Have Interval
}

// Cond returns the run-time condition of the check.
func (c Check) Cond() expr.Expr {
	return expr.Simplify(expr.And(expr.GE(c.Need.Min, c.Have.Min), expr.LE(c.Need.Max, c.Have.Max)))
}

// Result is the outcome of bounds inference.
type Result struct {
	// Regions holds the region each realized stage computes, after
	// explicit bounds and tail round-up.
	Regions map[string]Box
	// Required holds the region every reachable stage, inlined ones
	// included, is read or written over.
	Required map[string]Box
	// Footprints holds the region read from each input buffer.
	Footprints map[string]Box
	// Chains holds, per stage and buffer, the first call chain from an
	// output that reached it.
	Chains map[string][]string
	Checks []Check
}

type inferrer struct {
	p    *pipeline.Pipeline
	s    *schedule.Snapshot
	res  *Result
	fail []error
}

// Infer computes regions for p under schedule s. p must already carry
// the schedule's rfactor rewrites.
func Infer(p *pipeline.Pipeline, s *schedule.Snapshot) (*Result, error) {
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}
	in := &inferrer{p: p, s: s, res: &Result{
		Regions:    make(map[string]Box),
		Required:   make(map[string]Box),
		Footprints: make(map[string]Box),
		Chains:     make(map[string][]string),
	}}
	if err := in.seed(); err != nil {
		return nil, err
	}
	order := g.Order()
	for i := len(order) - 1; i >= 0; i-- {
		if err := in.stage(p.Stage(order[i])); err != nil {
			return nil, err
		}
	}
	if err := in.buffers(); err != nil {
		return nil, err
	}
	return in.res, nil
}

func (in *inferrer) errorf(stage string, kind error, format string, args ...any) error {
	return &Error{
		Stage: stage,
		Chain: slices.Clone(in.res.Chains[stage]),
		Err:   fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind),
	}
}

func (in *inferrer) seed() error {
	for _, out := range in.p.Outputs() {
		name := out.Name()
		in.res.Chains[name] = []string{name}
		box := make(Box, out.Dims())
		for d := range box {
			ext := expr.Simplify(out.ExtentOf(d))
			if c, ok := expr.AsConst(ext); ok && c < 0 {
				return in.errorf(name, ErrInfeasibleBounds, "output dimension %d has extent %d", d, c)
			}
			box[d] = Span(out.MinOf(d), ext)
			if _, ok := expr.AsConst(ext); !ok {
				in.res.Checks = append(in.res.Checks, Check{
					Name: name, Dim: d,
					Need: Point(expr.Int(0)),
					Have: Interval{Min: expr.Int(0), Max: ext},
				})
			}
		}
		in.res.Required[name] = box
	}
	return nil
}

// defScope binds the pure variables of def to region and its reduction
// variables to their ranges. A range whose ends depend on buffer contents
// stays unbounded on that side; only an index built from it fails.
func defScope(def *pipeline.Definition, region Box) Scope {
	scope := make(Scope)
	for i, a := range def.Args {
		v, ok := a.(*expr.Var)
		if !ok || (def.Domain != nil && def.Domain.Has(v.Name)) {
			continue
		}
		scope[v.Name] = region[i]
	}
	if def.Domain == nil {
		return scope
	}
	for _, r := range def.Domain.Ranges() {
		lo, ext := Of(r.Min, scope), Of(r.Extent, scope)
		rng := Interval{Min: lo.Min}
		if lo.Max != nil && ext.Max != nil {
			rng.Max = expr.Simplify(expr.Sub(expr.Add(lo.Max, ext.Max), expr.Int(1)))
		}
		scope[r.Name] = rng
	}
	return scope
}

// exprSet is a group of expressions of one definition with the scope and
// guards they are evaluated under.
type exprSet struct {
	exprs  []expr.Expr
	scope  Scope
	guards []*expr.Binary
}

// exprSets splits the expressions of def into the arguments and values,
// which are only evaluated where the domain predicates hold, and the
// predicates and range bounds, which are evaluated on every iteration.
func exprSets(def *pipeline.Definition, region Box) []exprSet {
	scope := defScope(def, region)
	gs := guards(def)
	narrowed := scope
	for _, g := range gs {
		narrowed = refine(narrowed, g)
	}
	sets := []exprSet{{exprs: slices.Concat(def.Args, def.Values), scope: narrowed, guards: gs}}
	if def.Domain != nil {
		every := def.Domain.Predicates()
		for _, r := range def.Domain.Ranges() {
			every = append(every, r.Min, r.Extent)
		}
		sets = append(sets, exprSet{exprs: every, scope: scope})
	}
	return sets
}

// guards returns the comparisons of def's domain predicates, split at
// conjunctions.
func guards(def *pipeline.Definition) []*expr.Binary {
	if def.Domain == nil {
		return nil
	}
	var out []*expr.Binary
	var split func(e expr.Expr)
	split = func(e expr.Expr) {
		b, ok := e.(*expr.Binary)
		if !ok {
			return
		}
		switch b.Op {
		case expr.OpAnd:
			split(b.A)
			split(b.B)
		case expr.OpLT, expr.OpLE, expr.OpGT, expr.OpGE:
			out = append(out, b)
		}
	}
	for _, pr := range def.Domain.Predicates() {
		split(pr)
	}
	return out
}

// index returns the range of an index expression under the guards of its
// definition. A guard a < b caps every e whose offset e-a is bounded, so a
// read at the guarded expression itself is capped at b-1.
func index(e expr.Expr, scope Scope, gs []*expr.Binary) Interval {
	i := Of(e, scope)
	for _, g := range gs {
		off := Of(expr.Simplify(expr.Sub(e, g.A)), scope)
		lim := Of(g.B, scope)
		switch g.Op {
		case expr.OpLT, expr.OpLE:
			if off.Max == nil || lim.Max == nil {
				continue
			}
			hi := expr.Add(lim.Max, off.Max)
			if g.Op == expr.OpLT {
				hi = expr.Sub(hi, expr.Int(1))
			}
			i = Intersect(i, Interval{Max: expr.Simplify(hi)})
		case expr.OpGT, expr.OpGE:
			if off.Min == nil || lim.Min == nil {
				continue
			}
			lo := expr.Add(lim.Min, off.Min)
			if g.Op == expr.OpGT {
				lo = expr.Add(lo, expr.Int(1))
			}
			i = Intersect(i, Interval{Min: expr.Simplify(lo)})
		}
	}
	return i
}

// widen grows the region of stage s until it covers every element its
// updates write or read from themselves.
func (in *inferrer) widen(s *pipeline.Stage, region Box) (Box, error) {
	for range len(region) + 2 {
		next := region
		for _, def := range s.Updates() {
			for k, set := range exprSets(def, next) {
				var sites [][]expr.Expr
				if k == 0 {
					sites = append(sites, def.Args)
				}
				for _, e := range set.exprs {
					for _, c := range expr.Calls(e) {
						if c.Name == s.Name() {
							sites = append(sites, c.Args)
						}
					}
				}
				for _, args := range sites {
					box := make(Box, len(args))
					for i, a := range args {
						box[i] = index(a, set.scope, set.guards)
						if !box[i].Bounded() {
							return nil, in.errorf(s.Name(), ErrUnboundedRegion, "update %d writes or reads itself at unbounded index %s", def.Index, a)
						}
					}
					next = next.Union(box)
				}
			}
		}
		if next.Equal(region) {
			return region, nil
		}
		region = next
	}
	return nil, in.errorf(s.Name(), ErrUnboundedRegion, "updates keep growing the region")
}

func (in *inferrer) stage(s *pipeline.Stage) error {
	name := s.Name()
	region, ok := in.res.Required[name]
	if !ok {
		return nil
	}
	region, err := in.widen(s, region)
	if err != nil {
		return err
	}
	isOutput := in.p.OutputBuffer(name) != nil
	if isOutput {
		seeded := in.res.Required[name]
		for d := range region {
			if err := in.contain(name, d, region[d], seeded[d]); err != nil {
				return err
			}
		}
		region = seeded
	}
	ss := in.s.Stage(name)
	for d, v := range s.Vars() {
		bd, ok := ss.Bound(v)
		if !ok {
			continue
		}
		have := Span(bd.Min, bd.Extent)
		if err := in.contain(name, d, region[d], have); err != nil {
			return err
		}
		if !isOutput {
			region[d] = have
		}
	}
	if !ss.Compute.IsInline() {
		for d, v := range s.Vars() {
			k := in.s.RoundUp(name, v)
			if k <= 1 {
				continue
			}
			ext := region[d].Extent()
			if !ss.Compute.IsRoot() {
				// Each loop-level region is rounded up from its own start,
				// so together they may reach k-1 past the required end.
				ext = expr.Add(ext, expr.Int(k-1))
			}
			region[d] = Span(region[d].Min, RoundUp(ext, k))
		}
	}
	for d := range region {
		if c, ok := expr.AsConst(region[d].Extent()); ok && c < 0 {
			return in.errorf(name, ErrInfeasibleBounds, "dimension %d has extent %d", d, c)
		}
	}
	in.res.Required[name] = region
	if !ss.Compute.IsInline() {
		in.res.Regions[name] = region
	}

	for _, def := range s.Definitions() {
		for _, set := range exprSets(def, region) {
			for _, e := range set.exprs {
				for _, c := range expr.Calls(e) {
					if c.Name == name {
						continue
					}
					if err := in.call(name, c, set.scope, set.guards); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// contain fails when need provably escapes have and records a run-time
// check when it cannot be decided.
func (in *inferrer) contain(name string, dim int, need, have Interval) error {
	lo, lok := expr.Prove(expr.GE(need.Min, have.Min))
	hi, hok := expr.Prove(expr.LE(need.Max, have.Max))
	if (lok && !lo) || (hok && !hi) {
		return in.errorf(name, ErrInfeasibleBounds, "dimension %d needs %s but only %s is available", dim, need, have)
	}
	if !lok || !hok {
		in.res.Checks = append(in.res.Checks, Check{Name: name, Dim: dim, Need: need, Have: have})
	}
	return nil
}

func (in *inferrer) call(caller string, c *expr.Call, scope Scope, gs []*expr.Binary) error {
	box := make(Box, len(c.Args))
	if _, ok := in.res.Chains[c.Name]; !ok {
		in.res.Chains[c.Name] = append(slices.Clone(in.res.Chains[caller]), c.Name)
	}
	for i, a := range c.Args {
		box[i] = index(a, scope, gs)
		if !box[i].Bounded() {
			return &Error{
				Stage: caller,
				Chain: slices.Clone(in.res.Chains[caller]),
				Err:   fmt.Errorf("argument %d of %s is unbounded %s: %w", i, c, box[i], ErrUnboundedRegion),
			}
		}
	}
	if c.Kind == expr.CallBuffer {
		in.res.Footprints[c.Name] = in.res.Footprints[c.Name].Union(box)
		return nil
	}
	if out := in.p.OutputBuffer(c.Name); out != nil {
		for d := range box {
			if err := in.contain(c.Name, d, box[d], in.res.Required[c.Name][d]); err != nil {
				return err
			}
		}
		return nil
	}
	in.res.Required[c.Name] = in.res.Required[c.Name].Union(box)
	return nil
}

func (in *inferrer) buffers() error {
	for _, b := range in.p.Inputs() {
		fp, ok := in.res.Footprints[b.Name()]
		if !ok {
			continue
		}
		for d := range fp {
			if err := in.contain(b.Name(), d, fp[d], Span(b.MinOf(d), b.ExtentOf(d))); err != nil {
				return err
			}
		}
	}
	return nil
}
