package config

import (
	"fmt"

	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

// ParseTail maps a tail policy name to its value. The empty name is
// "auto".
func ParseTail(name string) (schedule.TailPolicy, error) {
	switch name {
	case "", "auto":
		return schedule.TailAuto, nil
	case "guard":
		return schedule.TailGuard, nil
	case "round_up":
		return schedule.TailRoundUp, nil
	}
	return 0, fmt.Errorf("unknown tail policy %q: %w", name, ErrInvalidModel)
}

// Snapshot records the model's directives for p and freezes them. A
// positive VectorWidth in the model takes precedence over opts.
func (m *Model) Snapshot(p *pipeline.Pipeline, opts ...schedule.Option) (*schedule.Snapshot, error) {
	if m.Schedule != nil && m.Schedule.VectorWidth > 0 {
		opts = append(opts, schedule.WithVectorWidth(m.Schedule.VectorWidth))
	}
	b := schedule.NewBuilder(p, opts...)
	if m.Schedule != nil {
		for _, ss := range m.Schedule.Stages {
			if err := apply(b.Stage(ss.Stage), ss.Directives); err != nil {
				return nil, fmt.Errorf("schedule of %q: %w", ss.Stage, err)
			}
		}
	}
	return b.Build()
}

// arity is the number of loop names and factors each directive takes.
var arity = map[string][2]int{
	DirSplit:         {3, 1},
	DirFuse:          {3, 0},
	DirRename:        {2, 0},
	DirTile:          {6, 2},
	DirParallel:      {1, 0},
	DirSerial:        {1, 0},
	DirVectorize:     {1, -1},
	DirUnroll:        {1, -1},
	DirBound:         {1, 0},
	DirComputeRoot:   {0, 0},
	DirComputeInline: {0, 0},
	DirComputeAt:     {1, 0},
	DirStoreRoot:     {0, 0},
	DirStoreAt:       {1, 0},
	DirComputeWith:   {1, 0},
	DirSpecialize:    {0, 0},
	DirRFactor:       {2, 0},
	DirUpdate:        {0, 0},
}

func check(d *Directive) error {
	if d.Kind == DirReorder {
		if len(d.Vars) < 2 {
			return fmt.Errorf("%s: reorder needs at least two loops: %w", d.Pos, ErrInvalidModel)
		}
		return nil
	}
	want, ok := arity[d.Kind]
	if !ok {
		return fmt.Errorf("%s: unknown directive %q: %w", d.Pos, d.Kind, ErrInvalidModel)
	}
	if len(d.Vars) != want[0] {
		return fmt.Errorf("%s: %s takes %d loop names, got %d: %w", d.Pos, d.Kind, want[0], len(d.Vars), ErrInvalidModel)
	}
	switch {
	case want[1] >= 0 && len(d.Factors) != want[1]:
		return fmt.Errorf("%s: %s takes %d factors, got %d: %w", d.Pos, d.Kind, want[1], len(d.Factors), ErrInvalidModel)
	case want[1] < 0 && len(d.Factors) > 1:
		return fmt.Errorf("%s: %s takes at most one factor: %w", d.Pos, d.Kind, ErrInvalidModel)
	}
	switch d.Kind {
	case DirSpecialize:
		if d.Cond == nil {
			return fmt.Errorf("%s: specialize needs a condition: %w", d.Pos, ErrInvalidModel)
		}
	case DirBound:
		if d.Min == nil || d.Extent == nil {
			return fmt.Errorf("%s: bound needs min and extent: %w", d.Pos, ErrInvalidModel)
		}
	case DirComputeAt, DirStoreAt, DirComputeWith:
		if d.Stage == "" {
			return fmt.Errorf("%s: %s needs a stage: %w", d.Pos, d.Kind, ErrInvalidModel)
		}
	}
	return nil
}

// apply records ds on h. Directive errors reported by the schedule
// builder surface from Build.
func apply(h *schedule.Handle, ds []*Directive) error {
	for _, d := range ds {
		if err := check(d); err != nil {
			return err
		}
		v := d.Vars
		switch d.Kind {
		case DirSplit, DirTile:
			tail, err := ParseTail(d.Tail)
			if err != nil {
				return fmt.Errorf("%s: %w", d.Pos, err)
			}
			if d.Kind == DirSplit {
				h.Split(v[0], v[1], v[2], d.Factors[0], tail)
			} else {
				h.Tile(v[0], v[1], v[2], v[3], v[4], v[5], d.Factors[0], d.Factors[1], tail)
			}
		case DirFuse:
			h.Fuse(v[0], v[1], v[2])
		case DirReorder:
			h.Reorder(v...)
		case DirRename:
			h.Rename(v[0], v[1])
		case DirParallel:
			h.Parallel(v[0])
		case DirSerial:
			h.Serial(v[0])
		case DirVectorize:
			factor := schedule.NaturalWidth
			if len(d.Factors) == 1 {
				factor = int(d.Factors[0])
			}
			h.Vectorize(v[0], factor)
		case DirUnroll:
			factor := 0
			if len(d.Factors) == 1 {
				factor = int(d.Factors[0])
			}
			h.Unroll(v[0], factor)
		case DirBound:
			h.Bound(v[0], d.Min, d.Extent)
		case DirComputeRoot:
			h.ComputeRoot()
		case DirComputeInline:
			h.ComputeInline()
		case DirComputeAt:
			h.ComputeAt(d.Stage, v[0])
		case DirStoreRoot:
			h.StoreRoot()
		case DirStoreAt:
			h.StoreAt(d.Stage, v[0])
		case DirComputeWith:
			h.ComputeWith(d.Stage, d.Def, v[0])
		case DirSpecialize:
			if err := apply(h.Specialize(d.Cond), d.Body); err != nil {
				return err
			}
		case DirRFactor:
			if err := apply(h.RFactor(v[0], v[1]), d.Body); err != nil {
				return err
			}
		case DirUpdate:
			if err := apply(h.Def(d.Def), d.Body); err != nil {
				return err
			}
		}
	}
	return nil
}
