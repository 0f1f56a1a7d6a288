package config

import (
	"github.com/specialistvlad/loopgrid/internal/expr"
)

// Model is the unified, format-agnostic representation of a manifest: the
// pipeline algorithm and its schedule.
type Model struct {
	Name     string
	Params   []*Param
	Inputs   []*Input
	Domains  []*Domain
	Stages   []*Stage
	Outputs  []*Output
	Schedule *Schedule
}

// Param is a named run-time scalar.
type Param struct {
	Name    string
	Default *int64
}

// Range is a (min, extent) pair.
type Range struct {
	Min    expr.Expr
	Extent expr.Expr
}

// Input is an input buffer. Nil Bounds leaves every dimension symbolic.
type Input struct {
	Name     string
	Dims     int
	Bounds   []Range
	Strides  []expr.Expr
	Requires []expr.Expr
	Sample   *Sample
}

// Sample describes the contents an input gets when a manifest is run
// without external data. Value is evaluated with Vars bound to each
// coordinate.
type Sample struct {
	Min    []int64
	Extent []int64
	Vars   []string
	Value  expr.Expr
}

// Domain is a named reduction domain.
type Domain struct {
	Name   string
	Ranges []DomainRange
	Where  []*Where
}

// DomainRange is one reduction variable of a domain.
type DomainRange struct {
	Name   string
	Min    expr.Expr
	Extent expr.Expr
}

// Where restricts a domain. Outer names pure variables of the using
// definition the predicate may mention.
type Where struct {
	Cond  expr.Expr
	Outer []string
}

// Stage is a named function with a pure definition and ordered updates.
type Stage struct {
	Name       string
	Vars       []string
	Values     []expr.Expr
	Ensures    []expr.Expr
	Invariants []expr.Expr
	Updates    []*Update
}

// Update is an update definition. Domain names a Domain of the model or
// is empty.
type Update struct {
	Args       []expr.Expr
	Values     []expr.Expr
	Domain     string
	Combiner   string
	Ensures    []expr.Expr
	Invariants []expr.Expr
}

// Output marks a stage as a pipeline output. Nil Bounds leaves the output
// region symbolic.
type Output struct {
	Name    string
	Bounds  []Range
	Strides []expr.Expr
}

// Schedule holds the directives of every scheduled stage.
type Schedule struct {
	// VectorWidth overrides the host vector width when positive.
	VectorWidth int
	Stages      []*StageSchedule
}

// StageSchedule lists the directives of one stage in source order.
type StageSchedule struct {
	Stage      string
	Directives []*Directive
}

// Directive kinds.
const (
	DirSplit         = "split"
	DirFuse          = "fuse"
	DirReorder       = "reorder"
	DirRename        = "rename"
	DirTile          = "tile"
	DirParallel      = "parallel"
	DirSerial        = "serial"
	DirVectorize     = "vectorize"
	DirUnroll        = "unroll"
	DirBound         = "bound"
	DirComputeRoot   = "compute_root"
	DirComputeInline = "compute_inline"
	DirComputeAt     = "compute_at"
	DirStoreRoot     = "store_root"
	DirStoreAt       = "store_at"
	DirComputeWith   = "compute_with"
	DirSpecialize    = "specialize"
	DirRFactor       = "rfactor"
	DirUpdate        = "update"
)

// Directive is one schedule directive. Vars holds the loop names the
// directive takes, in the order of the matching schedule.Handle method.
// Body holds the directives applied to the handle the directive returns:
// the specialized branch, the rfactor intermediate, or the update
// definition.
type Directive struct {
	Kind    string
	Vars    []string
	Factors []int64
	Tail    string
	Stage   string
	Def     int
	Cond    expr.Expr
	Min     expr.Expr
	Extent  expr.Expr
	Body    []*Directive
	// Pos is the source location, for error messages.
	Pos string
}

// Param returns the named parameter.
func (m *Model) Param(name string) *Param {
	for _, p := range m.Params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Input returns the named input.
func (m *Model) Input(name string) *Input {
	for _, in := range m.Inputs {
		if in.Name == name {
			return in
		}
	}
	return nil
}

// Defaults returns the parameters that carry a default value.
func (m *Model) Defaults() map[string]int64 {
	out := make(map[string]int64)
	for _, p := range m.Params {
		if p.Default != nil {
			out[p.Name] = *p.Default
		}
	}
	return out
}
