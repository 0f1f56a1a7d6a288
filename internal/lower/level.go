package lower

import (
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/bounds"
	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/loopir"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

// levelKey names a loop of one definition of a stage. The zero key is the
// root level, outside every loop.
type levelKey struct {
	stage string
	def   int
	dim   string
}

var rootKey levelKey

func (k levelKey) matches(lvl schedule.LoopLevel) bool {
	if k == rootKey {
		return lvl.IsRoot()
	}
	return lvl.Kind == schedule.LevelAt && lvl.Stage == k.stage && lvl.Var == k.dim &&
		(lvl.Def == schedule.AnyDef || lvl.Def == k.def)
}

// fusion records where a guest stage joins its host's loops.
type fusion struct {
	host  string
	def   int
	depth int
}

// group is a stage together with the stages computed with it. It is
// emitted at the position of its last member.
type group struct {
	host    string
	members []string
	pos     int
}

func (l *lowerer) computedAt(key levelKey) []group {
	var out []group
	for _, name := range l.order {
		if _, guest := l.hostOf[name]; guest || !key.matches(l.s.Stage(name).Compute) {
			continue
		}
		g := group{host: name, members: []string{name}, pos: l.pos[name]}
		for _, m := range l.guests[name] {
			g.members = append(g.members, m)
			g.pos = max(g.pos, l.pos[m])
		}
		out = append(out, g)
	}
	slices.SortStableFunc(out, func(a, b group) int { return a.pos - b.pos })
	return out
}

func (l *lowerer) storedAt(key levelKey) []string {
	var out []string
	for _, name := range l.order {
		if !l.outputs[name] && key.matches(l.s.Stage(name).StoreLevel()) {
			out = append(out, name)
		}
	}
	return out
}

// level emits the stages computed and stored at key around inner, the
// statements that run at that level after them. Stages are produced over
// what the statements after them read, so they are built last to first.
func (l *lowerer) level(key levelKey, inner loopir.Stmt) (loopir.Stmt, error) {
	body := inner
	groups := l.computedAt(key)
	for i := len(groups) - 1; i >= 0; i-- {
		regions, needed := l.regionsAt(key, groups[i], body)
		if !needed {
			continue
		}
		st, err := l.produce(groups[i], regions)
		if err != nil {
			return nil, err
		}
		body = loopir.Seq(st, body)
	}

	stored := l.storedAt(key)
	for i := len(stored) - 1; i >= 0; i-- {
		name := stored[i]
		box := l.b.Regions[name]
		if key != rootKey {
			touched := bounds.BoxTouched(body, name)
			if touched == nil {
				continue
			}
			box = touched.Intersect(box)
		}
		alloc := &loopir.Allocate{Name: name, Tuple: l.p.Stage(name).TupleSize(), Body: body}
		for _, iv := range box {
			ext := iv.Extent()
			if ok, known := expr.Prove(expr.GE(ext, expr.Int(0))); !known || !ok {
				ext = expr.Simplify(expr.Max(ext, expr.Int(0)))
			}
			alloc.Bounds = append(alloc.Bounds, loopir.Range{Min: iv.Min, Extent: ext})
		}
		body = alloc
	}
	return body, nil
}

// regionsAt returns the region each member of g computes at key. At a loop
// level a pure stage computes what rest reads of it, rounded up to its
// round-up split factors; stages with updates
// and fused groups compute their whole inferred region.
func (l *lowerer) regionsAt(key levelKey, g group, rest loopir.Stmt) (map[string]bounds.Box, bool) {
	regions := make(map[string]bounds.Box, len(g.members))
	needed := key == rootKey
	for _, m := range g.members {
		regions[m] = l.b.Regions[m]
		if key == rootKey {
			continue
		}
		req := bounds.BoxRequired(rest, m)
		if req == nil {
			continue
		}
		needed = true
		if len(g.members) == 1 && len(l.defs[m]) == 1 {
			regions[m] = l.roundUp(m, req.Intersect(regions[m]))
		}
	}
	return regions, needed
}

// roundUp extends a loop-level region of a stage to the factors of its
// round-up splits.
func (l *lowerer) roundUp(name string, box bounds.Box) bounds.Box {
	for d, v := range l.p.Stage(name).Vars() {
		if k := l.s.RoundUp(name, v); k > 1 && box[d].Bounded() {
			box[d] = bounds.Span(box[d].Min, bounds.RoundUp(box[d].Extent(), k))
		}
	}
	return box
}

// regionLets binds the non-constant ends of a stage region to names
// stage.var.min and stage.var.extent.
func (l *lowerer) regionLets(name string, box bounds.Box) ([]loopir.Range, []binding) {
	vars := l.p.Stage(name).Vars()
	ranges := make([]loopir.Range, len(box))
	var lets []binding
	for d, iv := range box {
		ranges[d] = loopir.Range{Min: iv.Min, Extent: iv.Extent()}
		if _, ok := expr.AsConst(ranges[d].Min); !ok {
			n := fmt.Sprintf("%s.%s.min", name, vars[d])
			lets = append(lets, binding{name: n, value: ranges[d].Min})
			ranges[d].Min = expr.V(n)
		}
		if _, ok := expr.AsConst(ranges[d].Extent); !ok {
			n := fmt.Sprintf("%s.%s.extent", name, vars[d])
			lets = append(lets, binding{name: n, value: ranges[d].Extent})
			ranges[d].Extent = expr.V(n)
		}
	}
	return ranges, lets
}

func rawRanges(box bounds.Box) []loopir.Range {
	out := make([]loopir.Range, len(box))
	for d, iv := range box {
		out[d] = loopir.Range{Min: iv.Min, Extent: iv.Extent()}
	}
	return out
}

// produce emits the group's definitions in order inside one produce
// block.
func (l *lowerer) produce(g group, regions map[string]bounds.Box) (loopir.Stmt, error) {
	var lets []binding
	var contracts []pipeline.Contract
	ranges := make(map[string][]loopir.Range, len(g.members))
	for _, m := range g.members {
		r, ls := l.regionLets(m, regions[m])
		ranges[m] = r
		lets = append(lets, ls...)
		contracts = append(contracts, l.contracts(m)...)
	}
	var defs []loopir.Stmt
	for _, d := range l.defs[g.host] {
		var guests []guestNest
		for _, m := range g.members[1:] {
			f := l.hostOf[m]
			if f.def != d.index {
				continue
			}
			n, err := l.plan(m, l.defs[m][0], l.s.Stage(m).Defs[0], ranges[m], true)
			if err != nil {
				return nil, err
			}
			guests = append(guests, guestNest{n: n, depth: f.depth})
		}
		st, err := l.definition(g.host, d, ranges[g.host], guests)
		if err != nil {
			return nil, err
		}
		defs = append(defs, st)
	}
	pc := &loopir.ProducerConsumer{Name: g.host, Contracts: contracts, Body: loopir.Seq(defs...)}
	return wrapLets(lets, pc), nil
}

// fusions validates every compute_with directive and records the guests
// of each host.
func (l *lowerer) fusions() error {
	for _, s := range l.p.Stages() {
		name := s.Name()
		ss := l.s.Stage(name)
		if ss == nil {
			continue
		}
		for i, ds := range ss.Defs {
			fl := ds.ComputeWith
			if fl == nil {
				continue
			}
			fail := func(format string, args ...any) error {
				return fmt.Errorf("stage %q computed with %s.s%d.%s: %s: %w",
					name, fl.Stage, fl.Def, fl.Var, fmt.Sprintf(format, args...), schedule.ErrIncompatibleFusion)
			}
			switch {
			case i != 0 || len(ss.Defs) > 1:
				return fail("only a stage without updates can be fused")
			case !l.realized(name):
				return fail("%q is inlined", name)
			case !l.realized(fl.Stage):
				return fail("%q is inlined", fl.Stage)
			}
			hs := l.s.Stage(fl.Stage)
			if hs.Compute != ss.Compute {
				return fail("compute levels %s and %s differ", ss.Compute, hs.Compute)
			}
			if slices.ContainsFunc(hs.Defs, func(d *schedule.DefSchedule) bool { return d.ComputeWith != nil }) {
				return fail("%q is itself computed with another stage", fl.Stage)
			}
			hd := hs.Defs[fl.Def]
			if len(ds.Specializations) > 0 || len(hd.Specializations) > 0 {
				return fail("specialized definitions cannot be fused")
			}
			if l.reads(name, fl.Stage) || l.reads(fl.Stage, name) {
				return fail("the stages depend on each other")
			}
			host, err := l.plan(fl.Stage, l.defs[fl.Stage][fl.Def], hd, rawRanges(l.b.Regions[fl.Stage]), true)
			if err != nil {
				return err
			}
			guest, err := l.plan(name, l.defs[name][0], ds, rawRanges(l.b.Regions[name]), true)
			if err != nil {
				return err
			}
			k := host.index(fl.Var)
			if k < 0 || guest.index(fl.Var) != k {
				return fail("loop %q is not at the same depth in both definitions", fl.Var)
			}
			for j := 0; j <= k; j++ {
				h, g := host.loops[j], guest.loops[j]
				if !expr.Equal(h.min, g.min) || !expr.Equal(h.ext, g.ext) {
					return fail("loop %q runs over [%s, +%s) but %q over [%s, +%s)", h.dim, h.min, h.ext, g.dim, g.min, g.ext)
				}
			}
			l.guests[fl.Stage] = append(l.guests[fl.Stage], name)
			l.hostOf[name] = fusion{host: fl.Stage, def: fl.Def, depth: k}
		}
	}
	return nil
}

// reads reports whether any definition of a calls b.
func (l *lowerer) reads(a, b string) bool {
	for _, d := range l.defs[a] {
		es := slices.Concat(d.args, d.values, d.preds)
		for _, r := range d.ranges {
			es = append(es, r.Min, r.Extent)
		}
		for _, e := range es {
			for _, c := range expr.Calls(e) {
				if c.Name == b {
					return true
				}
			}
		}
	}
	return false
}
