package schedule

import (
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/pipeline"
)

// Snapshot is a frozen, validated schedule. The StageSchedule and
// DefSchedule values it hands out are shared and must be treated as
// read-only.
type Snapshot struct {
	stages   map[string]*StageSchedule
	order    []string
	rfactors []RFactorRecord
	width    int
	outputs  []string
}

// Default returns the schedule a pipeline gets with no directives.
func Default(p *pipeline.Pipeline) (*Snapshot, error) {
	return NewBuilder(p).Build()
}

// Stage returns the schedule of the named stage.
func (s *Snapshot) Stage(name string) *StageSchedule { return s.stages[name] }

// Stages returns the stage names in declaration order, rfactor
// intermediates included.
func (s *Snapshot) Stages() []string { return slices.Clone(s.order) }

// RFactors returns the applied rfactor directives in order.
func (s *Snapshot) RFactors() []RFactorRecord { return slices.Clone(s.rfactors) }

// VectorWidth returns the width NaturalWidth resolved to.
func (s *Snapshot) VectorWidth() int { return s.width }

// IsOutput reports whether the named stage is a pipeline output.
func (s *Snapshot) IsOutput(name string) bool { return slices.Contains(s.outputs, name) }

// Apply returns a copy of p with the schedule's rfactor rewrites applied.
// p itself is left untouched.
func (s *Snapshot) Apply(p *pipeline.Pipeline) (*pipeline.Pipeline, error) {
	out := p.Clone()
	for _, rf := range s.rfactors {
		intm, err := out.RFactor(rf.Stage, rf.Def, rf.Factor)
		if err != nil {
			return nil, fmt.Errorf("replaying rfactor of %q: %w", rf.Stage, err)
		}
		if intm.Name() != rf.Intermediate {
			return nil, fmt.Errorf("replaying rfactor of %q produced %q, want %q: %w",
				rf.Stage, intm.Name(), rf.Intermediate, ErrInvalidDirective)
		}
	}
	for _, name := range s.order {
		if out.Stage(name) == nil {
			return nil, fmt.Errorf("schedule names stage %q the pipeline does not have: %w", name, ErrUnknownStage)
		}
	}
	return out, nil
}

// RoundUp returns the factor the produced region of pure variable v of
// stage is rounded up to. It is 1 unless the stage is a realized
// intermediate whose pure definition splits v itself with a tail policy
// other than TailGuard. Below root only an explicit TailRoundUp rounds,
// and then every per-iteration region is rounded.
func (s *Snapshot) RoundUp(stage, v string) int64 {
	ss := s.stages[stage]
	if ss == nil || ss.Compute.IsInline() || s.IsOutput(stage) {
		return 1
	}
	if _, bounded := ss.Bound(v); bounded {
		return 1
	}
	d := ss.Defs[0]
	if len(d.Specializations) > 0 {
		return 1
	}
	for _, sp := range d.Splits {
		if sp.Kind == SplitVar && sp.Old == v {
			if sp.Tail == TailGuard || (sp.Tail == TailAuto && !ss.Compute.IsRoot()) {
				return 1
			}
			return sp.Factor
		}
	}
	return 1
}

// Rounded reports whether split sp of definition def of stage runs over an
// extent already rounded to its factor, so its tail needs no guard.
func (s *Snapshot) Rounded(stage string, def int, sp Split) bool {
	if def != 0 || sp.Kind != SplitVar || sp.Reduction {
		return false
	}
	return s.RoundUp(stage, sp.Old) == sp.Factor && sp.Factor > 1
}
