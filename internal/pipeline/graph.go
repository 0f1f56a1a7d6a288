package pipeline

import (
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/dag"
	"github.com/specialistvlad/loopgrid/internal/expr"
)

// SelfEdge records that an update definition reads its own stage. It is not
// a cycle; it is kept out of the DAG and handled by bounds inference.
type SelfEdge struct {
	Stage  string
	Update int
	Domain string
}

// Graph is the validated dependency structure of a pipeline.
type Graph struct {
	dag   *dag.Graph
	order []string
	self  []SelfEdge
	p     *Pipeline
}

// Dependencies returns the stages and buffers that any definition of stage
// references, in first-reference order, excluding the stage itself. It
// fails with ErrCyclicDependency when the pure definition reads the stage
// or a dependency leads back to it; an update reading its own stage is not
// a cycle.
func (p *Pipeline) Dependencies(stage string) ([]string, error) {
	s := p.Stage(stage)
	if s == nil || !s.Defined() {
		return nil, fmt.Errorf("stage %q: %w", stage, ErrUndefinedStage)
	}
	var out []string
	for _, def := range s.Definitions() {
		for _, e := range def.Exprs() {
			for _, c := range expr.Calls(e) {
				if c.Name == stage {
					if !def.IsUpdate() {
						return nil, fmt.Errorf("stage %q reads itself in its pure definition: %w", stage, ErrCyclicDependency)
					}
					continue
				}
				if !slices.Contains(out, c.Name) {
					out = append(out, c.Name)
				}
			}
		}
	}
	seen := make(map[string]bool)
	for _, dep := range out {
		if p.reaches(dep, stage, seen) {
			return nil, fmt.Errorf("stage %q depends on itself through %q: %w", stage, dep, ErrCyclicDependency)
		}
	}
	return out, nil
}

// reaches reports whether stage from reads target, directly or through
// other stages.
func (p *Pipeline) reaches(from, target string, seen map[string]bool) bool {
	s := p.Stage(from)
	if s == nil || seen[from] {
		return false
	}
	seen[from] = true
	for _, def := range s.Definitions() {
		for _, e := range def.Exprs() {
			for _, c := range expr.Calls(e) {
				if c.Kind != expr.CallStage || c.Name == from {
					continue
				}
				if c.Name == target || p.reaches(c.Name, target, seen) {
					return true
				}
			}
		}
	}
	return false
}

// Graph validates every call in the pipeline and builds the dependency DAG.
func (p *Pipeline) Graph() (*Graph, error) {
	if err := p.Err(); err != nil {
		return nil, err
	}
	g := &Graph{dag: dag.New(), p: p}
	for _, b := range p.inputs {
		g.dag.AddNode(b.name)
	}
	for _, s := range p.stages {
		if !s.Defined() {
			return nil, fmt.Errorf("stage %q is declared but never defined: %w", s.name, ErrUndefinedStage)
		}
		g.dag.AddNode(s.name)
	}

	for _, s := range p.stages {
		for _, def := range s.Definitions() {
			for _, e := range def.Exprs() {
				for _, c := range expr.Calls(e) {
					if err := p.checkCall(s, def, c); err != nil {
						return nil, err
					}
					if c.Name == s.name {
						if !def.IsUpdate() {
							return nil, fmt.Errorf("stage %q reads itself in its pure definition: %w", s.name, ErrCyclicDependency)
						}
						g.addSelf(s, def)
						continue
					}
					if err := g.dag.AddEdge(c.Name, s.name); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	for _, b := range p.outputs {
		if s := p.Stage(b.name); s == nil || !s.Defined() {
			return nil, fmt.Errorf("output %q: %w", b.name, ErrUndefinedStage)
		}
	}

	order, err := g.dag.TopoSort()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCyclicDependency, err)
	}
	for _, id := range order {
		if p.Stage(id) != nil {
			g.order = append(g.order, id)
		}
	}
	return g, nil
}

func (g *Graph) addSelf(s *Stage, def *Definition) {
	e := SelfEdge{Stage: s.name, Update: def.Index}
	if def.Domain != nil {
		e.Domain = def.Domain.Name()
	}
	if !slices.Contains(g.self, e) {
		g.self = append(g.self, e)
	}
}

func (p *Pipeline) checkCall(caller *Stage, def *Definition, c *expr.Call) error {
	where := fmt.Sprintf("stage %q definition %d: call %s", caller.name, def.Index, c)
	if b := p.Input(c.Name); b != nil {
		if c.Kind != expr.CallBuffer {
			return fmt.Errorf("%s: %q is a buffer: %w", where, c.Name, ErrInvalidCall)
		}
		if len(c.Args) != b.Dims() {
			return fmt.Errorf("%s: buffer has %d dimensions: %w", where, b.Dims(), ErrInvalidCall)
		}
		if c.Index != 0 {
			return fmt.Errorf("%s: buffers have one value: %w", where, ErrInvalidCall)
		}
		return nil
	}
	callee := p.Stage(c.Name)
	if callee == nil {
		return fmt.Errorf("%s: %w", where, ErrUndefinedStage)
	}
	if c.Kind != expr.CallStage {
		return fmt.Errorf("%s: %q is a stage: %w", where, c.Name, ErrInvalidCall)
	}
	if !callee.Defined() {
		return fmt.Errorf("%s: %w", where, ErrUndefinedStage)
	}
	if len(c.Args) != callee.Dims() {
		return fmt.Errorf("%s: stage has %d dimensions: %w", where, callee.Dims(), ErrInvalidCall)
	}
	if c.Index < 0 || c.Index >= callee.TupleSize() {
		return fmt.Errorf("%s: stage has %d values: %w", where, callee.TupleSize(), ErrInvalidCall)
	}
	return nil
}

// Order returns the stages with every producer before its consumers.
func (g *Graph) Order() []string { return slices.Clone(g.order) }

// Producers returns the stages and buffers name reads, excluding itself.
func (g *Graph) Producers(name string) []string {
	deps, err := g.dag.Dependencies(name)
	if err != nil {
		return nil
	}
	return deps
}

// Consumers returns the stages that read name, excluding itself.
func (g *Graph) Consumers(name string) []string {
	users, err := g.dag.Dependents(name)
	if err != nil {
		return nil
	}
	return users
}

// SelfEdges returns the recorded self-references.
func (g *Graph) SelfEdges() []SelfEdge { return slices.Clone(g.self) }

// Pipeline returns the graph's pipeline.
func (g *Graph) Pipeline() *Pipeline { return g.p }
