// Package pipeline is the data model of the compiler: stages with pure and
// update definitions, external buffers, scalar parameters and the
// producer to consumer dependency graph their bodies induce.
//
// A pipeline is built incrementally through the builder methods and then
// treated as read-only by bounds inference and lowering.
package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/expr"
)

// Pipeline owns the stages, buffers and parameters of one program. Stage,
// buffer and parameter names share a single namespace.
type Pipeline struct {
	name    string
	params  []string
	inputs  []*Buffer
	stages  []*Stage
	outputs []*Buffer
	errs    []error
}

// New creates an empty pipeline.
func New(name string) *Pipeline {
	return &Pipeline{name: name}
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) kindOf(name string) string {
	switch {
	case slices.Contains(p.params, name):
		return "parameter"
	case p.Input(name) != nil:
		return "buffer"
	case p.Stage(name) != nil:
		return "stage"
	}
	return ""
}

func (p *Pipeline) claim(name, kind string) bool {
	if prev := p.kindOf(name); prev != "" {
		p.errs = append(p.errs, fmt.Errorf("%s %q already declared as a %s: %w", kind, name, prev, ErrDuplicateDefinition))
		return false
	}
	return true
}

// Param declares a scalar runtime parameter and returns a reference to it.
func (p *Pipeline) Param(name string) *expr.Param {
	if !slices.Contains(p.params, name) && p.claim(name, "parameter") {
		p.params = append(p.params, name)
	}
	return expr.P(name)
}

// Params returns the declared parameters in declaration order.
func (p *Pipeline) Params() []string { return slices.Clone(p.params) }

// DeclareInput adds an input buffer with the given dimensionality.
func (p *Pipeline) DeclareInput(name string, dims int) *Buffer {
	b := &Buffer{name: name, dims: make([]Dim, dims)}
	if p.claim(name, "buffer") {
		p.inputs = append(p.inputs, b)
	}
	return b
}

// Input returns a declared input buffer or nil.
func (p *Pipeline) Input(name string) *Buffer {
	for _, b := range p.inputs {
		if b.name == name {
			return b
		}
	}
	return nil
}

// Inputs returns the input buffers in declaration order.
func (p *Pipeline) Inputs() []*Buffer { return slices.Clone(p.inputs) }

// Func returns the stage with the given name, declaring it if needed.
func (p *Pipeline) Func(name string) *Stage {
	if s := p.Stage(name); s != nil {
		return s
	}
	s := &Stage{name: name, p: p}
	if p.claim(name, "stage") {
		p.stages = append(p.stages, s)
	}
	return s
}

// Stage returns a declared stage or nil.
func (p *Pipeline) Stage(name string) *Stage {
	for _, s := range p.stages {
		if s.name == name {
			return s
		}
	}
	return nil
}

// Stages returns every stage in declaration order.
func (p *Pipeline) Stages() []*Stage { return slices.Clone(p.stages) }

// Output marks s as a pipeline output and returns its output buffer, whose
// bounds define the region to compute.
func (p *Pipeline) Output(s *Stage) *Buffer {
	if b := p.OutputBuffer(s.name); b != nil {
		return b
	}
	b := &Buffer{name: s.name, dims: make([]Dim, s.Dims()), output: true}
	p.outputs = append(p.outputs, b)
	return b
}

// OutputBuffer returns the output buffer of stage name, or nil.
func (p *Pipeline) OutputBuffer(name string) *Buffer {
	for _, b := range p.outputs {
		if b.name == name {
			return b
		}
	}
	return nil
}

// Outputs returns the output buffers in declaration order.
func (p *Pipeline) Outputs() []*Buffer { return slices.Clone(p.outputs) }

// Ref builds a call to a stage or buffer by name, resolving its kind. An
// unknown name yields a stage call that Graph later reports as undefined.
func (p *Pipeline) Ref(name string, index int, args ...expr.Expr) *expr.Call {
	kind := expr.CallStage
	if p.Input(name) != nil {
		kind = expr.CallBuffer
	}
	return &expr.Call{Name: name, Kind: kind, Args: args, Index: index}
}

// Err returns the declaration errors recorded so far.
func (p *Pipeline) Err() error { return errors.Join(p.errs...) }

// Clone returns a deep copy that can be rewritten without affecting p.
func (p *Pipeline) Clone() *Pipeline {
	c := &Pipeline{
		name:   p.name,
		params: slices.Clone(p.params),
		errs:   slices.Clone(p.errs),
	}
	for _, b := range p.inputs {
		c.inputs = append(c.inputs, b.clone())
	}
	for _, b := range p.outputs {
		c.outputs = append(c.outputs, b.clone())
	}
	for _, s := range p.stages {
		c.stages = append(c.stages, s.clone(c))
	}
	return c
}

// InsertStageBefore declares a new stage placed just before the stage
// named before in declaration order. It is used by rewrites that split a
// stage in two.
func (p *Pipeline) InsertStageBefore(name, before string) (*Stage, error) {
	if p.kindOf(name) != "" {
		return nil, fmt.Errorf("stage %q: %w", name, ErrDuplicateDefinition)
	}
	idx := slices.IndexFunc(p.stages, func(s *Stage) bool { return s.name == before })
	if idx < 0 {
		return nil, fmt.Errorf("stage %q: %w", before, ErrUndefinedStage)
	}
	s := &Stage{name: name, p: p}
	p.stages = slices.Insert(p.stages, idx, s)
	return s, nil
}

// ReplaceUpdate swaps update i (1-based) of stage s for def.
func (s *Stage) ReplaceUpdate(i int, def *Definition) error {
	if i < 1 || i > len(s.updates) {
		return fmt.Errorf("stage %q: no update %d: %w", s.name, i, ErrUndefinedStage)
	}
	def.Index = i
	s.updates[i-1] = def
	return nil
}
