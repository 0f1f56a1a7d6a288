package interp

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/specialistvlad/loopgrid/internal/bounds"
	"github.com/specialistvlad/loopgrid/internal/ctxlog"
	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

// Span is the bounding box of the coordinates a stage or buffer was
// touched at.
type Span struct {
	Min []int64
	Max []int64
}

func (s *Span) add(at []int64) {
	if s.Min == nil {
		s.Min, s.Max = slices.Clone(at), slices.Clone(at)
		return
	}
	for d, v := range at {
		s.Min[d] = min(s.Min[d], v)
		s.Max[d] = max(s.Max[d], v)
	}
}

// AccessLog records where every stage and buffer was read or written.
type AccessLog struct {
	spans map[string]*Span
}

func (l *AccessLog) touch(name string, at []int64) {
	s, ok := l.spans[name]
	if !ok {
		s = &Span{}
		l.spans[name] = s
	}
	s.add(at)
}

// Span returns the bounding box name was touched over.
func (l *AccessLog) Span(name string) (Span, bool) {
	s, ok := l.spans[name]
	if !ok {
		return Span{}, false
	}
	return *s, true
}

// Names returns the touched names, sorted.
func (l *AccessLog) Names() []string {
	out := make([]string, 0, len(l.spans))
	for name := range l.spans {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// reference evaluates a pipeline without a schedule: pure stages on
// demand, memoized per coordinate, and stages with updates realized in
// full over their inferred regions before their first use.
type reference struct {
	ctx      context.Context
	p        *pipeline.Pipeline
	regions  *bounds.Result
	params   map[string]int64
	inputs   map[string]*Array
	memo     map[string]map[string][]int64
	realized map[string]*Array
	log      *AccessLog
}

type scope struct {
	r    *reference
	vars map[string]int64
}

func (s scope) Lookup(name string) (int64, bool) {
	if v, ok := s.vars[name]; ok {
		return v, true
	}
	v, ok := s.r.params[name]
	return v, ok
}

func (s scope) Load(c *expr.Call, args []int64) (int64, error) {
	return s.r.load(c.Name, c.Kind, c.Index, args)
}

func (s scope) with(name string, v int64) scope {
	vars := make(map[string]int64, len(s.vars)+1)
	for k, x := range s.vars {
		vars[k] = x
	}
	vars[name] = v
	return scope{r: s.r, vars: vars}
}

// Reference evaluates the outputs of p directly from its definitions. It
// is slow and meant as ground truth for compiled programs. The returned
// log holds every coordinate each stage and buffer was touched at.
func Reference(ctx context.Context, p *pipeline.Pipeline, inputs map[string]*Array, params map[string]int64) (map[string]*Array, *AccessLog, error) {
	r := &reference{
		ctx:      ctx,
		p:        p,
		params:   make(map[string]int64, len(params)),
		inputs:   inputs,
		memo:     make(map[string]map[string][]int64),
		realized: make(map[string]*Array),
		log:      &AccessLog{spans: make(map[string]*Span)},
	}
	for k, v := range params {
		r.params[k] = v
	}
	for _, b := range p.Inputs() {
		a, ok := inputs[b.Name()]
		if !ok {
			return nil, nil, fmt.Errorf("input %q: %w", b.Name(), ErrMissingInput)
		}
		if a.Dims() != b.Dims() {
			return nil, nil, fmt.Errorf("input %q has %d dimensions, want %d: %w", b.Name(), a.Dims(), b.Dims(), ErrShapeMismatch)
		}
		for d := range b.Dims() {
			if _, ok := r.params[pipeline.MinParam(b.Name(), d)]; !ok {
				r.params[pipeline.MinParam(b.Name(), d)] = a.Min[d]
			}
			if _, ok := r.params[pipeline.ExtentParam(b.Name(), d)]; !ok {
				r.params[pipeline.ExtentParam(b.Name(), d)] = a.Extent[d]
			}
		}
	}

	snap, err := schedule.Default(p)
	if err != nil {
		return nil, nil, err
	}
	if r.regions, err = bounds.Infer(p, snap); err != nil {
		return nil, nil, err
	}

	root := scope{r: r}
	outputs := make(map[string]*Array, len(p.Outputs()))
	for _, b := range p.Outputs() {
		s := p.Stage(b.Name())
		min := make([]int64, b.Dims())
		extent := make([]int64, b.Dims())
		for d := range b.Dims() {
			if min[d], err = expr.Eval(b.MinOf(d), root); err != nil {
				return nil, nil, fmt.Errorf("output %q: %w", b.Name(), err)
			}
			if extent[d], err = expr.Eval(b.ExtentOf(d), root); err != nil {
				return nil, nil, fmt.Errorf("output %q: %w", b.Name(), err)
			}
		}
		out := NewArray(s.TupleSize(), min, extent)
		var failed error
		out.Each(func(at []int64, i int) {
			if failed != nil {
				return
			}
			for c := range out.Values {
				v, err := r.load(s.Name(), expr.CallStage, c, at)
				if err != nil {
					failed = err
					return
				}
				out.Values[c][i] = v
			}
		})
		if failed != nil {
			return nil, nil, failed
		}
		outputs[b.Name()] = out
	}
	ctxlog.FromContext(ctx).Debug("Reference evaluation finished.", "pipeline", p.Name(), "touched", len(r.log.spans))
	return outputs, r.log, nil
}

func key(at []int64) string {
	var sb strings.Builder
	for i, v := range at {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(v, 10))
	}
	return sb.String()
}

func (r *reference) load(name string, kind expr.CallKind, index int, at []int64) (int64, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	r.log.touch(name, at)
	if kind == expr.CallBuffer {
		a, ok := r.inputs[name]
		if !ok {
			return 0, fmt.Errorf("buffer %q: %w", name, ErrMissingInput)
		}
		v, ok := a.Get(index, at...)
		if !ok {
			return 0, fmt.Errorf("load %s%v from %s: %w", name, at, a.shape(), ErrOutOfBounds)
		}
		return v, nil
	}

	s := r.p.Stage(name)
	if s == nil {
		return 0, fmt.Errorf("stage %q: %w", name, ErrUnallocated)
	}
	if len(s.Updates()) > 0 {
		a, err := r.realize(s)
		if err != nil {
			return 0, err
		}
		v, ok := a.Get(index, at...)
		if !ok {
			return 0, fmt.Errorf("load %s%v from %s: %w", name, at, a.shape(), ErrOutOfBounds)
		}
		return v, nil
	}

	memo, ok := r.memo[name]
	if !ok {
		memo = make(map[string][]int64)
		r.memo[name] = memo
	}
	k := key(at)
	vals, ok := memo[k]
	if !ok {
		var err error
		if vals, err = r.pure(s, at); err != nil {
			return 0, err
		}
		memo[k] = vals
	}
	return vals[index], nil
}

func (r *reference) pure(s *pipeline.Stage, at []int64) ([]int64, error) {
	sc := scope{r: r, vars: make(map[string]int64, len(at))}
	for i, v := range s.Vars() {
		sc.vars[v] = at[i]
	}
	vals := make([]int64, len(s.Pure().Values))
	for i, e := range s.Pure().Values {
		v, err := expr.Eval(e, sc)
		if err != nil {
			return nil, fmt.Errorf("stage %q at %v: %w", s.Name(), at, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// realize computes every definition of s over its inferred region.
func (r *reference) realize(s *pipeline.Stage) (*Array, error) {
	if a, ok := r.realized[s.Name()]; ok {
		return a, nil
	}
	box, ok := r.regions.Regions[s.Name()]
	if !ok {
		return nil, fmt.Errorf("stage %q has no inferred region: %w", s.Name(), ErrUnallocated)
	}
	root := scope{r: r}
	min := make([]int64, len(box))
	extent := make([]int64, len(box))
	for d, iv := range box {
		var err error
		if min[d], err = expr.Eval(iv.Min, root); err != nil {
			return nil, err
		}
		if extent[d], err = expr.Eval(iv.Extent(), root); err != nil {
			return nil, err
		}
	}
	a := NewArray(s.TupleSize(), min, extent)
	r.realized[s.Name()] = a

	var failed error
	a.Each(func(at []int64, i int) {
		if failed != nil {
			return
		}
		r.log.touch(s.Name(), at)
		vals, err := r.pure(s, at)
		if err != nil {
			failed = err
			return
		}
		for c, v := range vals {
			a.Values[c][i] = v
		}
	})
	if failed != nil {
		return nil, failed
	}

	for _, def := range s.Updates() {
		dims := schedule.DefaultDims(def)
		ranges := make(map[string][2]int64)
		for j, arg := range def.Args {
			if v, ok := arg.(*expr.Var); ok && slices.Contains(def.PureVars(), v.Name) {
				ranges[v.Name] = [2]int64{min[j], extent[j]}
			}
		}
		if err := r.update(s, def, a, dims, ranges, root); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// update runs the loops dims[0:] of an update definition, outermost first.
func (r *reference) update(s *pipeline.Stage, def *pipeline.Definition, a *Array, dims []schedule.Dim, ranges map[string][2]int64, sc scope) error {
	if len(dims) == 0 {
		return r.store(s, def, a, sc)
	}
	var lo, n int64
	if rg, ok := ranges[dims[0].Name]; ok {
		lo, n = rg[0], rg[1]
	} else {
		rr, ok := def.Domain.Range(dims[0].Name)
		if !ok {
			return fmt.Errorf("stage %q update %d: no range for %q", s.Name(), def.Index, dims[0].Name)
		}
		var err error
		if lo, err = expr.Eval(rr.Min, sc); err != nil {
			return err
		}
		if n, err = expr.Eval(rr.Extent, sc); err != nil {
			return err
		}
	}
	for i := lo; i < lo+n; i++ {
		if err := r.update(s, def, a, dims[1:], ranges, sc.with(dims[0].Name, i)); err != nil {
			return err
		}
	}
	return nil
}

func (r *reference) store(s *pipeline.Stage, def *pipeline.Definition, a *Array, sc scope) error {
	if def.Domain != nil {
		for _, pred := range def.Domain.Predicates() {
			ok, err := expr.Eval(pred, sc)
			if err != nil {
				return err
			}
			if ok == 0 {
				return nil
			}
		}
	}
	at := make([]int64, len(def.Args))
	for i, e := range def.Args {
		v, err := expr.Eval(e, sc)
		if err != nil {
			return err
		}
		at[i] = v
	}
	vals := make([]int64, len(def.Values))
	for i, e := range def.Values {
		v, err := expr.Eval(e, sc)
		if err != nil {
			return fmt.Errorf("stage %q update %d at %v: %w", s.Name(), def.Index, at, err)
		}
		vals[i] = v
	}
	r.log.touch(s.Name(), at)
	for c, v := range vals {
		if !a.Set(c, v, at...) {
			return fmt.Errorf("store %s%v into %s: %w", s.Name(), at, a.shape(), ErrOutOfBounds)
		}
	}
	return nil
}
