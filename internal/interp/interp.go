// Package interp executes loop IR programs over in-memory arrays and
// evaluates pipelines naively, for testing the compiler's output.
package interp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/specialistvlad/loopgrid/internal/ctxlog"
	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/loopir"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
)

var (
	ErrMissingParam  = errors.New("missing parameter")
	ErrMissingInput  = errors.New("missing input")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrOutOfBounds   = errors.New("access out of bounds")
	ErrUnallocated   = errors.New("stage has no storage")
	ErrAssertion     = errors.New("assertion failed")
)

type options struct {
	workers int
}

// Option configures Run.
type Option func(*options)

// WithWorkers bounds the goroutines running the iterations of one
// parallel loop. n <= 1 runs parallel loops serially.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// machine is the state shared by every iteration of one run.
type machine struct {
	params  map[string]int64
	inputs  map[string]*Array
	outputs map[string]*Array
	workers int
}

// frame is one level of lexical scope: a loop iteration, a let, or an
// allocation.
type frame struct {
	parent *frame
	name   string
	value  int64
	array  *Array
}

func (f *frame) bind(name string, v int64) *frame {
	return &frame{parent: f, name: name, value: v}
}

func (f *frame) alloc(name string, a *Array) *frame {
	return &frame{parent: f, name: name, array: a}
}

// env resolves names in a frame chain, then in the run's parameters.
type env struct {
	m *machine
	f *frame
}

func (e env) Lookup(name string) (int64, bool) {
	for f := e.f; f != nil; f = f.parent {
		if f.array == nil && f.name == name {
			return f.value, true
		}
	}
	v, ok := e.m.params[name]
	return v, ok
}

func (e env) Load(c *expr.Call, args []int64) (int64, error) {
	a, err := e.array(c.Name, c.Kind)
	if err != nil {
		return 0, err
	}
	v, ok := a.Get(c.Index, args...)
	if !ok {
		return 0, fmt.Errorf("load %s%v from %s: %w", c.Name, args, a.shape(), ErrOutOfBounds)
	}
	return v, nil
}

func (e env) array(name string, kind expr.CallKind) (*Array, error) {
	if kind == expr.CallBuffer {
		if a, ok := e.m.inputs[name]; ok {
			return a, nil
		}
		return nil, fmt.Errorf("buffer %q: %w", name, ErrMissingInput)
	}
	for f := e.f; f != nil; f = f.parent {
		if f.array != nil && f.name == name {
			return f.array, nil
		}
	}
	if a, ok := e.m.outputs[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("stage %q: %w", name, ErrUnallocated)
}

// Run executes prog. Inputs are keyed by buffer name and must match the
// declared bounds; the min and extent parameters of inputs with symbolic
// bounds are taken from the arrays when params does not set them. Run
// returns the output arrays keyed by stage name.
func Run(ctx context.Context, prog *loopir.Program, inputs map[string]*Array, params map[string]int64, opts ...Option) (map[string]*Array, error) {
	o := options{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	m := &machine{
		params:  make(map[string]int64, len(params)),
		inputs:  inputs,
		outputs: make(map[string]*Array, len(prog.Outputs)),
		workers: max(o.workers, 1),
	}
	for k, v := range params {
		m.params[k] = v
	}
	for _, decl := range prog.Inputs {
		a, ok := inputs[decl.Name]
		if !ok {
			return nil, fmt.Errorf("input %q: %w", decl.Name, ErrMissingInput)
		}
		if a.Dims() != len(decl.Bounds) {
			return nil, fmt.Errorf("input %q has %d dimensions, want %d: %w", decl.Name, a.Dims(), len(decl.Bounds), ErrShapeMismatch)
		}
		for d := range decl.Bounds {
			if _, ok := m.params[pipeline.MinParam(decl.Name, d)]; !ok {
				m.params[pipeline.MinParam(decl.Name, d)] = a.Min[d]
			}
			if _, ok := m.params[pipeline.ExtentParam(decl.Name, d)]; !ok {
				m.params[pipeline.ExtentParam(decl.Name, d)] = a.Extent[d]
			}
		}
	}
	for _, name := range prog.Params {
		if _, ok := m.params[name]; !ok {
			return nil, fmt.Errorf("parameter %q: %w", name, ErrMissingParam)
		}
	}

	root := env{m: m}
	for _, decl := range prog.Inputs {
		min, extent, err := root.ranges(decl.Bounds)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", decl.Name, err)
		}
		a := inputs[decl.Name]
		if !slices.Equal(min, a.Min) || !slices.Equal(extent, a.Extent) {
			return nil, fmt.Errorf("input %q is %s, declared min %v extent %v: %w", decl.Name, a.shape(), min, extent, ErrShapeMismatch)
		}
	}
	for _, decl := range prog.Outputs {
		min, extent, err := root.ranges(decl.Bounds)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", decl.Name, err)
		}
		m.outputs[decl.Name] = NewArray(decl.Tuple, min, extent)
	}

	logger := ctxlog.FromContext(ctx).With("program", prog.Name)
	logger.Debug("Running program.", "workers", m.workers, "params", len(m.params))
	if err := m.stmt(ctx, prog.Body, nil); err != nil {
		return nil, err
	}
	logger.Debug("Program finished.")
	return m.outputs, nil
}

func (e env) eval(x expr.Expr) (int64, error) {
	return expr.Eval(x, e)
}

func (e env) ranges(rs []loopir.Range) (min, extent []int64, err error) {
	min = make([]int64, len(rs))
	extent = make([]int64, len(rs))
	for d, r := range rs {
		if min[d], err = e.eval(r.Min); err != nil {
			return nil, nil, err
		}
		if extent[d], err = e.eval(r.Extent); err != nil {
			return nil, nil, err
		}
	}
	return min, extent, nil
}

func (m *machine) stmt(ctx context.Context, s loopir.Stmt, f *frame) error {
	e := env{m: m, f: f}
	switch n := s.(type) {
	case nil:
		return nil
	case *loopir.Block:
		for _, c := range n.Stmts {
			if err := m.stmt(ctx, c, f); err != nil {
				return err
			}
		}
		return nil
	case *loopir.Let:
		v, err := e.eval(n.Value)
		if err != nil {
			return fmt.Errorf("let %s: %w", n.Name, err)
		}
		return m.stmt(ctx, n.Body, f.bind(n.Name, v))
	case *loopir.If:
		c, err := e.eval(n.Cond)
		if err != nil {
			return err
		}
		if c != 0 {
			return m.stmt(ctx, n.Then, f)
		}
		return m.stmt(ctx, n.Else, f)
	case *loopir.ProducerConsumer:
		return m.stmt(ctx, n.Body, f)
	case *loopir.Allocate:
		min, extent, err := e.ranges(n.Bounds)
		if err != nil {
			return fmt.Errorf("allocate %s: %w", n.Name, err)
		}
		return m.stmt(ctx, n.Body, f.alloc(n.Name, NewArray(n.Tuple, min, extent)))
	case *loopir.Assert:
		c, err := e.eval(n.Cond)
		if err != nil {
			return err
		}
		if c == 0 {
			return fmt.Errorf("%s: %w", n.Message, ErrAssertion)
		}
		return nil
	case *loopir.Provide:
		return m.provide(n, e)
	case *loopir.For:
		return m.loop(ctx, n, e)
	}
	return fmt.Errorf("interp: cannot execute %T", s)
}

func (m *machine) provide(n *loopir.Provide, e env) error {
	args := make([]int64, len(n.Args))
	for i, a := range n.Args {
		v, err := e.eval(a)
		if err != nil {
			return err
		}
		args[i] = v
	}
	// Every component is read before any is written.
	vals := make([]int64, len(n.Values))
	for i, x := range n.Values {
		v, err := e.eval(x)
		if err != nil {
			return fmt.Errorf("provide %s%v: %w", n.Name, args, err)
		}
		vals[i] = v
	}
	a, err := e.array(n.Name, expr.CallStage)
	if err != nil {
		return err
	}
	for c, v := range vals {
		if !a.Set(c, v, args...) {
			return fmt.Errorf("store %s%v into %s: %w", n.Name, args, a.shape(), ErrOutOfBounds)
		}
	}
	return nil
}

func (m *machine) loop(ctx context.Context, n *loopir.For, e env) error {
	min, err := e.eval(n.Min)
	if err != nil {
		return fmt.Errorf("loop %s: %w", n.Name, err)
	}
	extent, err := e.eval(n.Extent)
	if err != nil {
		return fmt.Errorf("loop %s: %w", n.Name, err)
	}
	if n.Type != loopir.Parallel || m.workers == 1 || extent < 2 {
		for i := min; i < min+extent; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.stmt(ctx, n.Body, e.f.bind(n.Name, i)); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i := min; i < min+extent; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return m.stmt(gctx, n.Body, e.f.bind(n.Name, i))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
