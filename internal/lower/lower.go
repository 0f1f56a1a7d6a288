// Package lower turns a pipeline, its schedule and the inferred regions
// into a single loop IR program.
package lower

import (
	"errors"
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/bounds"
	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/loopir"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/rdom"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

var (
	ErrCircularPlacement    = errors.New("circular placement")
	ErrUnreachablePlacement = errors.New("unreachable placement")
)

type lowerer struct {
	p       *pipeline.Pipeline
	s       *schedule.Snapshot
	b       *bounds.Result
	order   []string
	pos     map[string]int
	defs    map[string][]*defn
	guests  map[string][]string
	hostOf  map[string]fusion
	outputs map[string]bool
}

// Lower emits the loop program for p. p must carry the schedule's rfactor
// rewrites and regions must come from bounds.Infer on the same inputs.
func Lower(p *pipeline.Pipeline, s *schedule.Snapshot, regions *bounds.Result) (*loopir.Program, error) {
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}
	l := &lowerer{
		p:       p,
		s:       s,
		b:       regions,
		pos:     make(map[string]int),
		defs:    make(map[string][]*defn),
		guests:  make(map[string][]string),
		hostOf:  make(map[string]fusion),
		outputs: make(map[string]bool),
	}
	for _, out := range p.Outputs() {
		l.outputs[out.Name()] = true
	}
	for _, name := range g.Order() {
		ss := s.Stage(name)
		if ss == nil {
			return nil, fmt.Errorf("stage %q has no schedule: %w", name, schedule.ErrUnknownStage)
		}
		if _, ok := regions.Regions[name]; !ok || ss.Compute.IsInline() {
			continue
		}
		l.pos[name] = len(l.order)
		l.order = append(l.order, name)
	}
	if err := l.validate(); err != nil {
		return nil, err
	}
	l.inline()
	if err := l.fusions(); err != nil {
		return nil, err
	}

	body, err := l.level(rootKey, nil)
	if err != nil {
		return nil, err
	}
	var asserts []loopir.Stmt
	for _, c := range regions.Checks {
		cond := c.Cond()
		if ok, known := expr.Prove(cond); known && ok {
			continue
		}
		asserts = append(asserts, &loopir.Assert{
			Cond:    cond,
			Message: fmt.Sprintf("%s dimension %d: %s must lie within %s", c.Name, c.Dim, c.Need, c.Have),
		})
	}
	body = loopir.Seq(append(asserts, body)...)
	if err := l.check(body); err != nil {
		return nil, err
	}
	return l.program(body), nil
}

func (l *lowerer) realized(name string) bool {
	_, ok := l.pos[name]
	return ok
}

// validate checks that every placement names a loop that will exist and
// that placements do not form a cycle.
func (l *lowerer) validate() error {
	for _, name := range l.order {
		ss := l.s.Stage(name)
		for _, lvl := range []schedule.LoopLevel{ss.Compute, ss.StoreLevel()} {
			if lvl.Kind != schedule.LevelAt {
				continue
			}
			if !l.realized(lvl.Stage) {
				return fmt.Errorf("stage %q placed at %s, but %q has no loops of its own: %w", name, lvl, lvl.Stage, ErrUnreachablePlacement)
			}
			if !l.hasLoop(lvl) {
				return fmt.Errorf("stage %q placed at %s, but no definition of %q has that loop: %w", name, lvl, lvl.Stage, ErrUnreachablePlacement)
			}
		}
		seen := []string{name}
		for lvl := ss.Compute; lvl.Kind == schedule.LevelAt; lvl = l.s.Stage(lvl.Stage).Compute {
			if slices.Contains(seen, lvl.Stage) {
				return fmt.Errorf("stage %q: placement chain %v returns to %q: %w", name, append(seen, lvl.Stage), lvl.Stage, ErrCircularPlacement)
			}
			seen = append(seen, lvl.Stage)
		}
	}
	for _, name := range l.order {
		for _, def := range l.p.Stage(name).Definitions() {
			if def.Domain == nil {
				continue
			}
			if err := def.Domain.Validate(); err != nil {
				return fmt.Errorf("stage %q definition %d: %w", name, def.Index, err)
			}
		}
	}
	return nil
}

func (l *lowerer) hasLoop(lvl schedule.LoopLevel) bool {
	ss := l.s.Stage(lvl.Stage)
	var has func(d *schedule.DefSchedule) bool
	has = func(d *schedule.DefSchedule) bool {
		if d.DimIndex(lvl.Var) >= 0 {
			return true
		}
		for _, sp := range d.Specializations {
			if has(sp.Def) {
				return true
			}
		}
		return false
	}
	for i, d := range ss.Defs {
		if (lvl.Def == schedule.AnyDef || lvl.Def == i) && has(d) {
			return true
		}
	}
	return false
}

// inline substitutes every call to an inlined stage, recursively, in the
// definitions of the realized stages.
func (l *lowerer) inline() {
	var sub func(e expr.Expr) expr.Expr
	sub = func(e expr.Expr) expr.Expr {
		return expr.Transform(e, func(n expr.Expr) expr.Expr {
			c, ok := n.(*expr.Call)
			if !ok || c.Kind != expr.CallStage {
				return n
			}
			ss := l.s.Stage(c.Name)
			if ss == nil || !ss.Compute.IsInline() {
				return n
			}
			callee := l.p.Stage(c.Name)
			binds := make(map[string]expr.Expr, len(c.Args))
			for i, v := range callee.Vars() {
				binds[v] = c.Args[i]
			}
			return sub(expr.Substitute(callee.Pure().Values[c.Index], binds))
		})
	}
	for _, name := range l.order {
		for _, def := range l.p.Stage(name).Definitions() {
			d := &defn{
				index:  def.Index,
				args:   mapExprs(def.Args, sub),
				values: mapExprs(def.Values, sub),
				pure:   def.PureVars(),
			}
			if def.Domain != nil {
				for _, r := range def.Domain.Ranges() {
					d.ranges = append(d.ranges, rdom.Range{Name: r.Name, Min: sub(r.Min), Extent: sub(r.Extent)})
				}
				d.preds = mapExprs(def.Domain.Predicates(), sub)
			}
			l.defs[name] = append(l.defs[name], d)
		}
	}
}

// defn is a definition of a realized stage with inlined stages
// substituted.
type defn struct {
	index  int
	args   []expr.Expr
	values []expr.Expr
	pure   []string
	ranges []rdom.Range
	preds  []expr.Expr
}

func mapExprs(es []expr.Expr, fn func(expr.Expr) expr.Expr) []expr.Expr {
	out := make([]expr.Expr, len(es))
	for i, e := range es {
		out[i] = fn(e)
	}
	return out
}

func (l *lowerer) program(body loopir.Stmt) *loopir.Program {
	prog := &loopir.Program{Name: l.p.Name(), Body: body}
	params := append(l.p.Params(), loopir.Params(body)...)
	slices.Sort(params)
	prog.Params = slices.Compact(params)
	for _, b := range l.p.Inputs() {
		decl := loopir.BufferDecl{Name: b.Name(), Tuple: 1}
		for d := range b.Dims() {
			decl.Bounds = append(decl.Bounds, loopir.Range{Min: expr.Simplify(b.MinOf(d)), Extent: expr.Simplify(b.ExtentOf(d))})
		}
		prog.Inputs = append(prog.Inputs, decl)
	}
	for _, b := range l.p.Outputs() {
		decl := loopir.BufferDecl{Name: b.Name(), Tuple: l.p.Stage(b.Name()).TupleSize()}
		for d := range b.Dims() {
			decl.Bounds = append(decl.Bounds, loopir.Range{Min: expr.Simplify(b.MinOf(d)), Extent: expr.Simplify(b.ExtentOf(d))})
		}
		prog.Outputs = append(prog.Outputs, decl)
	}
	for _, c := range l.p.Contracts() {
		if c.Kind == pipeline.Requires {
			prog.Contracts = append(prog.Contracts, c)
		}
	}
	return prog
}

func (l *lowerer) contracts(stage string) []pipeline.Contract {
	var out []pipeline.Contract
	for _, c := range l.p.Contracts() {
		if c.Kind != pipeline.Requires && c.Target == stage {
			out = append(out, c)
		}
	}
	return out
}
