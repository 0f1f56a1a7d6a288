// Package schedule holds the loop transformation and placement directives
// of a pipeline. Directives are recorded through a Builder, validated as
// they are applied, and frozen into a Snapshot that bounds inference and
// lowering read without mutating.
package schedule

import (
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
)

// TailPolicy decides what happens to the last partial tile of a split.
type TailPolicy int

const (
	// TailAuto rounds up pure dimensions of intermediate stages and guards
	// everything else.
	TailAuto TailPolicy = iota
	// TailGuard skips iterations past the end with a conditional.
	TailGuard
	// TailRoundUp computes the whole last tile, past the required region.
	TailRoundUp
)

func (t TailPolicy) String() string {
	switch t {
	case TailGuard:
		return "guard"
	case TailRoundUp:
		return "round_up"
	default:
		return "auto"
	}
}

// SplitKind distinguishes the loop variable rewrites.
type SplitKind int

const (
	SplitVar SplitKind = iota
	FuseVars
	RenameVar
)

// Split is one entry of a definition's transformation history.
//
//	SplitVar:  Old becomes Outer*Factor + Inner.
//	FuseVars:  Outer and Inner become Old.
//	RenameVar: Old becomes Outer.
type Split struct {
	Kind      SplitKind
	Old       string
	Outer     string
	Inner     string
	Factor    int64
	Tail      TailPolicy
	Reduction bool
}

func (s Split) String() string {
	switch s.Kind {
	case FuseVars:
		return fmt.Sprintf("fuse(%s, %s -> %s)", s.Inner, s.Outer, s.Old)
	case RenameVar:
		return fmt.Sprintf("rename(%s -> %s)", s.Old, s.Outer)
	}
	return fmt.Sprintf("split(%s -> %s, %s, %d, %s)", s.Old, s.Outer, s.Inner, s.Factor, s.Tail)
}

// ForType is the execution attribute of a loop dimension.
type ForType int

const (
	Serial ForType = iota
	Parallel
	Vectorized
	Unrolled
)

func (f ForType) String() string {
	switch f {
	case Parallel:
		return "parallel"
	case Vectorized:
		return "vectorized"
	case Unrolled:
		return "unrolled"
	default:
		return "serial"
	}
}

// Dim is one loop of a definition's transformed nest.
type Dim struct {
	Name      string
	Reduction bool
	ForType   ForType
}

// Specialization is a branch of a definition schedule taken when Cond holds.
type Specialization struct {
	Cond expr.Expr
	Def  *DefSchedule
}

// FuseLevel names a loop of another definition for compute_with.
type FuseLevel struct {
	Stage string
	Def   int
	Var   string
}

// DefSchedule is the schedule of one definition of a stage.
type DefSchedule struct {
	// Dims lists the loops from outermost to innermost.
	Dims   []Dim
	Splits []Split
	// Specializations are tried in order before falling back to Dims.
	Specializations []Specialization
	ComputeWith     *FuseLevel

	// names holds every loop name ever used by this definition.
	names []string
}

// Dim returns the loop named name.
func (d *DefSchedule) Dim(name string) (Dim, bool) {
	for _, dim := range d.Dims {
		if dim.Name == name {
			return dim, true
		}
	}
	return Dim{}, false
}

// DimIndex returns the position of name in Dims, or -1.
func (d *DefSchedule) DimIndex(name string) int {
	return slices.IndexFunc(d.Dims, func(dim Dim) bool { return dim.Name == name })
}

func (d *DefSchedule) clone() *DefSchedule {
	c := &DefSchedule{
		Dims:   slices.Clone(d.Dims),
		Splits: slices.Clone(d.Splits),
		names:  slices.Clone(d.names),
	}
	for _, sp := range d.Specializations {
		c.Specializations = append(c.Specializations, Specialization{Cond: sp.Cond, Def: sp.Def.clone()})
	}
	if d.ComputeWith != nil {
		fl := *d.ComputeWith
		c.ComputeWith = &fl
	}
	return c
}

// LevelKind is the kind of a placement pointer.
type LevelKind int

const (
	LevelInline LevelKind = iota
	LevelRoot
	LevelAt
)

// AnyDef matches a loop in every definition of the target stage.
const AnyDef = -1

// LoopLevel is a placement pointer: inline, root, or a loop of another stage.
type LoopLevel struct {
	Kind  LevelKind
	Stage string
	Def   int
	Var   string
}

// Inline is the default placement.
func Inline() LoopLevel { return LoopLevel{Kind: LevelInline, Def: AnyDef} }

// Root places a stage outside every loop.
func Root() LoopLevel { return LoopLevel{Kind: LevelRoot, Def: AnyDef} }

// At places a stage inside the loop v of stage, in every definition that
// has that loop.
func At(stage, v string) LoopLevel {
	return LoopLevel{Kind: LevelAt, Stage: stage, Var: v, Def: AnyDef}
}

// IsInline reports whether the level is the inline placement.
func (l LoopLevel) IsInline() bool { return l.Kind == LevelInline }

// IsRoot reports whether the level is the root placement.
func (l LoopLevel) IsRoot() bool { return l.Kind == LevelRoot }

func (l LoopLevel) String() string {
	switch l.Kind {
	case LevelInline:
		return "inline"
	case LevelRoot:
		return "root"
	}
	if l.Def == AnyDef {
		return fmt.Sprintf("%s.%s", l.Stage, l.Var)
	}
	return fmt.Sprintf("%s.s%d.%s", l.Stage, l.Def, l.Var)
}

// Bound fixes the range of a pure variable of a stage.
type Bound struct {
	Var    string
	Min    expr.Expr
	Extent expr.Expr
}

// StageSchedule is the schedule of one stage.
type StageSchedule struct {
	Name    string
	Compute LoopLevel
	// Store is the storage placement; it equals Compute unless set.
	Store  LoopLevel
	Defs   []*DefSchedule
	Bounds []Bound

	storeSet bool
	explicit bool
}

// Def returns the schedule of definition i.
func (s *StageSchedule) Def(i int) *DefSchedule {
	if i < 0 || i >= len(s.Defs) {
		return nil
	}
	return s.Defs[i]
}

// StoreLevel returns the effective storage placement.
func (s *StageSchedule) StoreLevel() LoopLevel {
	if s.storeSet {
		return s.Store
	}
	return s.Compute
}

// ExplicitPlacement reports whether the author set the compute placement.
func (s *StageSchedule) ExplicitPlacement() bool { return s.explicit }

// Bound returns the explicit bound on v.
func (s *StageSchedule) Bound(v string) (Bound, bool) {
	for _, b := range s.Bounds {
		if b.Var == v {
			return b, true
		}
	}
	return Bound{}, false
}

func (s *StageSchedule) clone() *StageSchedule {
	c := *s
	c.Defs = make([]*DefSchedule, len(s.Defs))
	for i, d := range s.Defs {
		c.Defs[i] = d.clone()
	}
	c.Bounds = slices.Clone(s.Bounds)
	return &c
}

// DefaultDims returns the loop nest of a definition before any directive.
// Pure variables run with the first argument innermost. Update
// definitions put their pure variables outside the reduction variables,
// and reduction variables nest in declaration order, first outermost.
func DefaultDims(def *pipeline.Definition) []Dim {
	pure := def.PureVars()
	dims := make([]Dim, 0, len(pure)+len(def.RVars()))
	for i := len(pure) - 1; i >= 0; i-- {
		dims = append(dims, Dim{Name: pure[i]})
	}
	for _, r := range def.RVars() {
		dims = append(dims, Dim{Name: r, Reduction: true})
	}
	return dims
}

func newDefSchedule(s *pipeline.Stage, def *pipeline.Definition) *DefSchedule {
	dims := DefaultDims(def)
	names := s.Vars()
	for _, v := range append(def.PureVars(), def.RVars()...) {
		if !slices.Contains(names, v) {
			names = append(names, v)
		}
	}
	return &DefSchedule{Dims: dims, names: names}
}
