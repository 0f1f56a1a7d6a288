package schedule

import (
	"errors"
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/target"
)

// NaturalWidth asks Vectorize for the host's vector width.
const NaturalWidth = -1

// RFactorRecord is one applied rfactor directive.
type RFactorRecord struct {
	Stage        string
	Def          int
	Factor       pipeline.Factor
	Intermediate string
}

// Builder records directives for one pipeline.
type Builder struct {
	p        *pipeline.Pipeline
	work     *pipeline.Pipeline
	stages   map[string]*StageSchedule
	rfactors []RFactorRecord
	width    int
	errs     []error
}

// Option configures a Builder.
type Option func(*Builder)

// WithVectorWidth overrides the detected host vector width.
func WithVectorWidth(n int) Option {
	return func(b *Builder) { b.width = n }
}

// NewBuilder starts a schedule in which every stage is inlined.
func NewBuilder(p *pipeline.Pipeline, opts ...Option) *Builder {
	b := &Builder{
		p:      p,
		work:   p.Clone(),
		stages: make(map[string]*StageSchedule),
		width:  target.VectorWidth(),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, s := range b.work.Stages() {
		b.initStage(s)
	}
	return b
}

func (b *Builder) initStage(s *pipeline.Stage) {
	ss := &StageSchedule{Name: s.Name(), Compute: Inline(), Store: Inline()}
	for _, def := range s.Definitions() {
		ss.Defs = append(ss.Defs, newDefSchedule(s, def))
	}
	if b.work.OutputBuffer(s.Name()) != nil {
		ss.Compute, ss.Store = Root(), Root()
	}
	b.stages[s.Name()] = ss
}

func (b *Builder) fail(err error) {
	b.errs = append(b.errs, err)
}

// Stage returns a handle on the pure definition of the named stage.
func (b *Builder) Stage(name string) *Handle {
	h := &Handle{b: b, stage: name}
	ss, ok := b.stages[name]
	if !ok {
		b.fail(fmt.Errorf("stage %q: %w", name, ErrUnknownStage))
		return h
	}
	h.sched = ss.Defs[0]
	return h
}

// Build validates the placements and freezes the schedule.
func (b *Builder) Build() (*Snapshot, error) {
	for _, name := range b.names() {
		ss := b.stages[name]
		if ss.Compute.IsInline() && len(b.work.Stage(name).Updates()) > 0 {
			if ss.explicit {
				b.fail(fmt.Errorf("stage %q has update definitions and cannot be inlined: %w", name, ErrInvalidPlacement))
				continue
			}
			ss.Compute = Root()
		}
		if err := b.checkPlacement(ss); err != nil {
			b.fail(err)
		}
	}
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	snap := &Snapshot{
		stages:   make(map[string]*StageSchedule, len(b.stages)),
		order:    b.names(),
		rfactors: slices.Clone(b.rfactors),
		width:    b.width,
	}
	for name, ss := range b.stages {
		snap.stages[name] = ss.clone()
	}
	for _, out := range b.work.Outputs() {
		snap.outputs = append(snap.outputs, out.Name())
	}
	return snap, nil
}

func (b *Builder) names() []string {
	var out []string
	for _, s := range b.work.Stages() {
		out = append(out, s.Name())
	}
	return out
}

// checkPlacement rejects storage placed strictly inside the compute
// placement when both name loops of the same stage, and storage for an
// inlined stage.
func (b *Builder) checkPlacement(ss *StageSchedule) error {
	compute, store := ss.Compute, ss.StoreLevel()
	switch {
	case compute.IsInline():
		if !store.IsInline() {
			return fmt.Errorf("stage %q: store_at %s on an inlined stage: %w", ss.Name, store, ErrInvalidPlacement)
		}
		return nil
	case store.IsInline():
		return fmt.Errorf("stage %q: computed at %s but stored inline: %w", ss.Name, compute, ErrInvalidPlacement)
	case store.IsRoot():
		return nil
	case compute.IsRoot():
		return fmt.Errorf("stage %q: store_at %s is inside compute_root: %w", ss.Name, store, ErrInvalidPlacement)
	}
	if compute.Stage != store.Stage {
		return nil
	}
	tgt := b.stages[compute.Stage]
	if tgt == nil {
		return nil
	}
	for _, d := range tgt.Defs {
		ci, si := d.DimIndex(compute.Var), d.DimIndex(store.Var)
		if ci >= 0 && si > ci {
			return fmt.Errorf("stage %q: store_at %s is inside compute_at %s: %w", ss.Name, store, compute, ErrInvalidPlacement)
		}
	}
	return nil
}

// Handle applies directives to one definition of a stage, or to one of its
// specialization branches. Placement directives always apply to the whole
// stage. Handles are chainable; errors are reported by Build.
type Handle struct {
	b      *Builder
	stage  string
	def    int
	branch bool
	sched  *DefSchedule
}

func (h *Handle) ok() bool { return h.sched != nil }

func (h *Handle) errorf(kind error, format string, args ...any) *Handle {
	h.b.fail(fmt.Errorf("stage %q definition %d: %s: %w", h.stage, h.def, fmt.Sprintf(format, args...), kind))
	return h
}

func (h *Handle) stageSchedule() *StageSchedule { return h.b.stages[h.stage] }

func (h *Handle) definition() *pipeline.Definition {
	d, _ := h.b.work.Stage(h.stage).Definition(h.def)
	return d
}

// Def returns a handle on definition i (0 is the pure definition).
func (h *Handle) Def(i int) *Handle {
	out := &Handle{b: h.b, stage: h.stage, def: i}
	if !h.ok() {
		return out
	}
	ss := h.stageSchedule()
	if i < 0 || i >= len(ss.Defs) {
		return out.errorf(ErrInvalidDirective, "no such definition")
	}
	out.sched = ss.Defs[i]
	return out
}

// Split replaces old by outer*factor + inner.
func (h *Handle) Split(old, outer, inner string, factor int64, tail TailPolicy) *Handle {
	if !h.ok() {
		return h
	}
	if factor <= 0 {
		return h.errorf(ErrInvalidDirective, "split %q by %d", old, factor)
	}
	idx := h.sched.DimIndex(old)
	if idx < 0 {
		return h.errorf(ErrInvalidDirective, "split: no loop %q", old)
	}
	if err := h.fresh(outer, inner); err != nil {
		return h.errorf(ErrInvalidDirective, "split %q: %v", old, err)
	}
	d := h.sched.Dims[idx]
	h.sched.Dims = slices.Replace(h.sched.Dims, idx, idx+1,
		Dim{Name: outer, Reduction: d.Reduction},
		Dim{Name: inner, Reduction: d.Reduction})
	h.sched.Splits = append(h.sched.Splits, Split{
		Kind: SplitVar, Old: old, Outer: outer, Inner: inner,
		Factor: factor, Tail: tail, Reduction: d.Reduction,
	})
	h.sched.names = append(h.sched.names, outer, inner)
	return h
}

func (h *Handle) fresh(names ...string) error {
	for i, n := range names {
		if n == "" {
			return errors.New("empty loop name")
		}
		if slices.Contains(h.sched.names, n) || slices.Contains(names[:i], n) {
			return fmt.Errorf("loop name %q already used", n)
		}
	}
	return nil
}

func (h *Handle) combinerDeclared() bool {
	d := h.definition()
	return d != nil && d.Combiner != pipeline.CombineNone
}

func reductionOrder(dims []Dim) []string {
	var out []string
	for _, d := range dims {
		if d.Reduction {
			out = append(out, d.Name)
		}
	}
	return out
}

// Fuse merges inner and outer into a single loop placed where inner was.
func (h *Handle) Fuse(inner, outer, fused string) *Handle {
	if !h.ok() {
		return h
	}
	ii, oi := h.sched.DimIndex(inner), h.sched.DimIndex(outer)
	if ii < 0 || oi < 0 || ii == oi {
		return h.errorf(ErrInvalidDirective, "fuse %q and %q: both must be distinct loops", inner, outer)
	}
	in, out := h.sched.Dims[ii], h.sched.Dims[oi]
	if in.Reduction != out.Reduction {
		return h.errorf(ErrInvalidDirective, "fuse %q and %q: cannot mix pure and reduction loops", inner, outer)
	}
	if err := h.fresh(fused); err != nil {
		return h.errorf(ErrInvalidDirective, "fuse: %v", err)
	}
	dims := slices.Clone(h.sched.Dims)
	dims[ii] = Dim{Name: fused, Reduction: in.Reduction}
	dims = slices.Delete(dims, oi, oi+1)
	if in.Reduction && oi != ii-1 && !h.combinerDeclared() {
		return h.errorf(ErrInvalidDirective, "fuse %q and %q: reduction loops must be adjacent", inner, outer)
	}
	h.sched.Dims = dims
	h.sched.Splits = append(h.sched.Splits, Split{Kind: FuseVars, Old: fused, Outer: outer, Inner: inner, Reduction: in.Reduction})
	h.sched.names = append(h.sched.names, fused)
	return h
}

// Reorder fixes the relative nesting of the named loops. The first name is
// the innermost.
func (h *Handle) Reorder(vars ...string) *Handle {
	if !h.ok() {
		return h
	}
	pos := make([]int, len(vars))
	for i, v := range vars {
		pos[i] = h.sched.DimIndex(v)
		if pos[i] < 0 {
			return h.errorf(ErrInvalidDirective, "reorder: no loop %q", v)
		}
		if slices.Contains(vars[:i], v) {
			return h.errorf(ErrInvalidDirective, "reorder: %q listed twice", v)
		}
	}
	slots := slices.Clone(pos)
	slices.Sort(slots)
	dims := slices.Clone(h.sched.Dims)
	for i, slot := range slots {
		dims[slot] = h.sched.Dims[pos[len(vars)-1-i]]
	}
	if !slices.Equal(reductionOrder(dims), reductionOrder(h.sched.Dims)) && !h.combinerDeclared() {
		return h.errorf(ErrInvalidDirective, "reorder %v changes the order of reduction loops", vars)
	}
	h.sched.Dims = dims
	return h
}

// Rename gives a loop a new name.
func (h *Handle) Rename(old, name string) *Handle {
	if !h.ok() {
		return h
	}
	idx := h.sched.DimIndex(old)
	if idx < 0 {
		return h.errorf(ErrInvalidDirective, "rename: no loop %q", old)
	}
	if err := h.fresh(name); err != nil {
		return h.errorf(ErrInvalidDirective, "rename: %v", err)
	}
	h.sched.Dims[idx].Name = name
	h.sched.Splits = append(h.sched.Splits, Split{Kind: RenameVar, Old: old, Outer: name, Reduction: h.sched.Dims[idx].Reduction})
	h.sched.names = append(h.sched.names, name)
	return h
}

// Tile splits x and y and moves both inner loops inside both outer loops.
func (h *Handle) Tile(x, y, xo, yo, xi, yi string, fx, fy int64, tail TailPolicy) *Handle {
	return h.Split(x, xo, xi, fx, tail).Split(y, yo, yi, fy, tail).Reorder(xi, yi, xo, yo)
}

func (h *Handle) setForType(v string, ft ForType) *Handle {
	if !h.ok() {
		return h
	}
	idx := h.sched.DimIndex(v)
	if idx < 0 {
		return h.errorf(ErrInvalidDirective, "%s: no loop %q", ft, v)
	}
	if h.sched.Dims[idx].Reduction && (ft == Parallel || ft == Vectorized) {
		return h.errorf(ErrUnschedulableDimension, "%s on reduction loop %q", ft, v)
	}
	h.sched.Dims[idx].ForType = ft
	return h
}

// Serial clears the execution attribute of v.
func (h *Handle) Serial(v string) *Handle { return h.setForType(v, Serial) }

// Parallel marks v's iterations as independent.
func (h *Handle) Parallel(v string) *Handle { return h.setForType(v, Parallel) }

// Vectorize marks v as a vector loop. A positive factor first splits off an
// inner loop of that many lanes; NaturalWidth uses the host width; zero
// vectorizes the whole loop, which then needs a constant extent.
func (h *Handle) Vectorize(v string, factor int) *Handle {
	if factor == NaturalWidth {
		factor = h.b.width
	}
	if factor < 0 {
		return h.errorf(ErrInvalidDirective, "vectorize %q by %d", v, factor)
	}
	if factor == 0 {
		return h.setForType(v, Vectorized)
	}
	return h.Split(v, v+"_vo", v+"_vi", int64(factor), TailAuto).setForType(v+"_vi", Vectorized)
}

// Unroll marks v for unrolling, splitting off factor iterations first when
// factor is positive.
func (h *Handle) Unroll(v string, factor int) *Handle {
	if factor < 0 {
		return h.errorf(ErrInvalidDirective, "unroll %q by %d", v, factor)
	}
	if factor == 0 {
		return h.setForType(v, Unrolled)
	}
	return h.Split(v, v+"_uo", v+"_ui", int64(factor), TailAuto).setForType(v+"_ui", Unrolled)
}

// Specialize forks the definition schedule. The returned handle edits the
// branch taken when cond is true at run time; the receiver keeps editing
// the fallback.
func (h *Handle) Specialize(cond expr.Expr) *Handle {
	if !h.ok() {
		return h
	}
	if cond == nil {
		return h.errorf(ErrInvalidDirective, "specialize on nil condition")
	}
	if vars := expr.FreeVars(cond); len(vars) > 0 || len(expr.Calls(cond)) > 0 {
		return h.errorf(ErrInvalidDirective, "specialize condition %s must depend on parameters only", cond)
	}
	branch := h.sched.clone()
	branch.Specializations = nil
	h.sched.Specializations = append(h.sched.Specializations, Specialization{Cond: cond, Def: branch})
	return &Handle{b: h.b, stage: h.stage, def: h.def, branch: true, sched: branch}
}

// ComputeWith fuses this definition's loops at and outside v with the loop
// v of definition def of stage other.
func (h *Handle) ComputeWith(other string, def int, v string) *Handle {
	if !h.ok() {
		return h
	}
	os, ok := h.b.stages[other]
	if !ok {
		return h.errorf(ErrUnknownStage, "compute_with %q", other)
	}
	if other == h.stage && def == h.def {
		return h.errorf(ErrIncompatibleFusion, "compute_with itself")
	}
	if def < 0 || def >= len(os.Defs) {
		return h.errorf(ErrIncompatibleFusion, "compute_with %q has no definition %d", other, def)
	}
	if h.sched.DimIndex(v) < 0 {
		return h.errorf(ErrIncompatibleFusion, "compute_with: no loop %q here", v)
	}
	h.sched.ComputeWith = &FuseLevel{Stage: other, Def: def, Var: v}
	return h
}

// RFactor factors the reduction loop rvar of this update into a new
// intermediate stage indexed by newVar, and returns a handle on the
// intermediate stage's pure definition. rvar may be an original reduction
// variable or one half of a split of one.
func (h *Handle) RFactor(rvar, newVar string) *Handle {
	if !h.ok() {
		return h
	}
	if h.def == 0 || h.branch {
		return h.errorf(ErrInvalidDirective, "rfactor applies to update definitions only")
	}
	def := h.definition()
	if def.Combiner == pipeline.CombineNone {
		return h.errorf(ErrNonAssociativeReduction, "rfactor %q: the update declares no associative combiner", rvar)
	}
	f, err := h.factorOf(def, rvar, newVar)
	if err != nil {
		return h.errorf(ErrInvalidDirective, "rfactor %q: %v", rvar, err)
	}
	intm, err := h.b.work.RFactor(h.stage, h.def, f)
	if err != nil {
		kind := ErrInvalidDirective
		if errors.Is(err, pipeline.ErrNotFactorable) {
			kind = ErrNonAssociativeReduction
		}
		return h.errorf(kind, "rfactor %q: %v", rvar, err)
	}

	h.b.initStage(intm)
	s := h.b.work.Stage(h.stage)
	merged, _ := s.Definition(h.def)
	ss := h.stageSchedule()
	ss.Defs[h.def] = newDefSchedule(s, merged)
	h.sched = ss.Defs[h.def]
	h.b.rfactors = append(h.b.rfactors, RFactorRecord{Stage: h.stage, Def: h.def, Factor: f, Intermediate: intm.Name()})
	return &Handle{b: h.b, stage: intm.Name(), sched: h.b.stages[intm.Name()].Defs[0]}
}

func (h *Handle) factorOf(def *pipeline.Definition, rvar, newVar string) (pipeline.Factor, error) {
	f := pipeline.Factor{RVar: rvar, NewVar: newVar}
	if def.Domain != nil && def.Domain.Has(rvar) {
		if h.sched.DimIndex(rvar) < 0 {
			return f, fmt.Errorf("loop %q was transformed", rvar)
		}
		return f, nil
	}
	for _, sp := range h.sched.Splits {
		if sp.Kind != SplitVar || (sp.Outer != rvar && sp.Inner != rvar) {
			continue
		}
		if def.Domain == nil || !def.Domain.Has(sp.Old) {
			return f, fmt.Errorf("%q does not come from a direct split of a reduction variable", rvar)
		}
		if h.sched.DimIndex(sp.Outer) < 0 || h.sched.DimIndex(sp.Inner) < 0 {
			return f, fmt.Errorf("halves of %q were transformed further", sp.Old)
		}
		f.RVar, f.Outer, f.Inner, f.Split = sp.Old, sp.Outer, sp.Inner, sp.Factor
		f.Part = pipeline.FactorInner
		if sp.Outer == rvar {
			f.Part = pipeline.FactorOuter
		}
		return f, nil
	}
	return f, fmt.Errorf("no reduction loop %q", rvar)
}

// ComputeAt computes the stage inside loop v of stage other.
func (h *Handle) ComputeAt(other, v string) *Handle {
	return h.setCompute(At(other, v))
}

// ComputeRoot computes the stage once, outside every loop.
func (h *Handle) ComputeRoot() *Handle { return h.setCompute(Root()) }

// ComputeInline substitutes the stage into its callers.
func (h *Handle) ComputeInline() *Handle { return h.setCompute(Inline()) }

func (h *Handle) setCompute(l LoopLevel) *Handle {
	ss := h.stageSchedule()
	if ss == nil {
		return h
	}
	if err := h.checkLevel(l); err != nil {
		h.b.fail(err)
		return h
	}
	ss.Compute = l
	ss.explicit = true
	return h
}

// StoreAt allocates the stage's storage inside loop v of stage other.
func (h *Handle) StoreAt(other, v string) *Handle { return h.setStore(At(other, v)) }

// StoreRoot allocates the stage's storage outside every loop.
func (h *Handle) StoreRoot() *Handle { return h.setStore(Root()) }

func (h *Handle) setStore(l LoopLevel) *Handle {
	ss := h.stageSchedule()
	if ss == nil {
		return h
	}
	if err := h.checkLevel(l); err != nil {
		h.b.fail(err)
		return h
	}
	ss.Store = l
	ss.storeSet = true
	return h
}

func (h *Handle) checkLevel(l LoopLevel) error {
	if h.b.work.OutputBuffer(h.stage) != nil && !l.IsRoot() {
		return fmt.Errorf("stage %q is an output and must stay at root, not %s: %w", h.stage, l, ErrInvalidPlacement)
	}
	if l.Kind != LevelAt {
		return nil
	}
	if l.Stage == h.stage {
		return fmt.Errorf("stage %q placed inside its own loop %s: %w", h.stage, l, ErrInvalidPlacement)
	}
	if _, ok := h.b.stages[l.Stage]; !ok {
		return fmt.Errorf("stage %q placed at %s: %w", h.stage, l, ErrUnknownStage)
	}
	return nil
}

// Bound fixes the range of pure variable v of the stage.
func (h *Handle) Bound(v string, min, extent expr.Expr) *Handle {
	ss := h.stageSchedule()
	if ss == nil {
		return h
	}
	if !slices.Contains(h.b.work.Stage(h.stage).Vars(), v) {
		return h.errorf(ErrInvalidDirective, "bound: %q is not a pure variable", v)
	}
	if _, dup := ss.Bound(v); dup {
		return h.errorf(ErrInvalidDirective, "bound: %q already bounded", v)
	}
	ss.Bounds = append(ss.Bounds, Bound{Var: v, Min: min, Extent: extent})
	return h
}
