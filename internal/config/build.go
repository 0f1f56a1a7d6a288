package config

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/rdom"
)

// ErrInvalidModel is returned when a model cannot be turned into a
// pipeline or schedule.
var ErrInvalidModel = errors.New("invalid manifest")

// Pipeline builds the pipeline the model describes.
func (m *Model) Pipeline() (*pipeline.Pipeline, error) {
	name := m.Name
	if name == "" {
		name = "pipeline"
	}
	p := pipeline.New(name)
	for _, prm := range m.Params {
		p.Param(prm.Name)
	}

	for _, in := range m.Inputs {
		b := p.DeclareInput(in.Name, in.Dims)
		if err := setBounds(b, in.Name, in.Dims, in.Bounds, in.Strides); err != nil {
			return nil, err
		}
		for _, pred := range in.Requires {
			b.Requires(pred)
		}
	}

	domains := make(map[string]*rdom.Domain, len(m.Domains))
	for _, d := range m.Domains {
		ranges := make([]rdom.Range, len(d.Ranges))
		for i, r := range d.Ranges {
			ranges[i] = rdom.Range{Name: r.Name, Min: r.Min, Extent: r.Extent}
		}
		dom, err := rdom.New(d.Name, ranges...)
		if err != nil {
			return nil, fmt.Errorf("rdom %q: %w", d.Name, err)
		}
		for _, w := range d.Where {
			if err := dom.Where(w.Cond, w.Outer...); err != nil {
				return nil, fmt.Errorf("rdom %q: %w", d.Name, err)
			}
		}
		if _, dup := domains[d.Name]; dup {
			return nil, fmt.Errorf("rdom %q declared twice: %w", d.Name, ErrInvalidModel)
		}
		domains[d.Name] = dom
	}

	// Declare every stage first so definitions may call stages declared
	// later in the manifest.
	stages := make([]*pipeline.Stage, len(m.Stages))
	for i, st := range m.Stages {
		stages[i] = p.Func(st.Name)
	}
	for i, st := range m.Stages {
		s := stages[i]
		if err := s.DefinePure(st.Vars, st.Values...); err != nil {
			return nil, fmt.Errorf("stage %q: %w", st.Name, err)
		}
		if err := contracts(s, 0, st.Ensures, st.Invariants); err != nil {
			return nil, err
		}
		for j, u := range st.Updates {
			var opts []pipeline.UpdateOption
			if u.Domain != "" {
				dom, ok := domains[u.Domain]
				if !ok {
					return nil, fmt.Errorf("stage %q update %d: unknown rdom %q: %w", st.Name, j+1, u.Domain, ErrInvalidModel)
				}
				opts = append(opts, pipeline.WithDomain(dom.Clone()))
			}
			if u.Combiner != "" {
				c, err := pipeline.ParseCombiner(u.Combiner)
				if err != nil {
					return nil, fmt.Errorf("stage %q update %d: %w", st.Name, j+1, err)
				}
				opts = append(opts, pipeline.WithCombiner(c))
			}
			if err := s.DefineUpdate(u.Args, u.Values, opts...); err != nil {
				return nil, fmt.Errorf("stage %q update %d: %w", st.Name, j+1, err)
			}
			if err := contracts(s, j+1, u.Ensures, u.Invariants); err != nil {
				return nil, err
			}
		}
	}

	if len(m.Outputs) == 0 {
		return nil, fmt.Errorf("pipeline %q has no output: %w", name, ErrInvalidModel)
	}
	for _, out := range m.Outputs {
		s := p.Stage(out.Name)
		if s == nil {
			return nil, fmt.Errorf("output %q is not a stage: %w", out.Name, ErrInvalidModel)
		}
		b := p.Output(s)
		if err := setBounds(b, out.Name, s.Dims(), out.Bounds, out.Strides); err != nil {
			return nil, err
		}
	}
	if err := p.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func setBounds(b *pipeline.Buffer, name string, dims int, bounds []Range, strides []expr.Expr) error {
	if bounds != nil && len(bounds) != dims {
		return fmt.Errorf("buffer %q has %d dimensions, got %d bounds: %w", name, dims, len(bounds), ErrInvalidModel)
	}
	if strides != nil && len(strides) != dims {
		return fmt.Errorf("buffer %q has %d dimensions, got %d strides: %w", name, dims, len(strides), ErrInvalidModel)
	}
	for d, r := range bounds {
		b.SetBounds(d, r.Min, r.Extent)
	}
	for d, st := range strides {
		b.SetStride(d, st)
	}
	return nil
}

func contracts(s *pipeline.Stage, def int, ensures, invariants []expr.Expr) error {
	for _, pred := range ensures {
		if err := s.Ensures(def, pred); err != nil {
			return fmt.Errorf("stage %q: %w", s.Name(), err)
		}
	}
	for _, pred := range invariants {
		if err := s.Invariant(def, pred); err != nil {
			return fmt.Errorf("stage %q: %w", s.Name(), err)
		}
	}
	return nil
}
