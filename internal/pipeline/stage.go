package pipeline

import (
	"fmt"
	"math"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/rdom"
)

// Combiner is the author-declared combining operator of an update. Only
// updates that declare one may be factored with rfactor.
type Combiner int

const (
	CombineNone Combiner = iota
	CombineAdd
	CombineMul
	CombineMin
	CombineMax
)

var combinerNames = map[Combiner]string{
	CombineNone: "none",
	CombineAdd:  "add",
	CombineMul:  "mul",
	CombineMin:  "min",
	CombineMax:  "max",
}

func (c Combiner) String() string {
	if s, ok := combinerNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Combiner(%d)", int(c))
}

// ParseCombiner maps a manifest name to a Combiner.
func ParseCombiner(s string) (Combiner, error) {
	for c, name := range combinerNames {
		if name == s {
			return c, nil
		}
	}
	return CombineNone, fmt.Errorf("unknown combiner %q", s)
}

// Identity returns the neutral element.
func (c Combiner) Identity() int64 {
	switch c {
	case CombineMul:
		return 1
	case CombineMin:
		return math.MaxInt64
	case CombineMax:
		return math.MinInt64
	}
	return 0
}

// Combine builds the expression combining a and b.
func (c Combiner) Combine(a, b expr.Expr) expr.Expr {
	switch c {
	case CombineAdd:
		return expr.Add(a, b)
	case CombineMul:
		return expr.Mul(a, b)
	case CombineMin:
		return expr.Min(a, b)
	case CombineMax:
		return expr.Max(a, b)
	}
	panic(fmt.Sprintf("pipeline: combiner %s has no operator", c))
}

// Definition is either the pure definition (Index 0) or update Index of a
// stage. Args are the left-hand side indices; for the pure definition they
// are the stage's variables.
type Definition struct {
	Index    int
	Args     []expr.Expr
	Values   []expr.Expr
	Domain   *rdom.Domain
	Combiner Combiner

	Ensures    []expr.Expr
	Invariants []expr.Expr
}

// IsUpdate reports whether d is an update definition.
func (d *Definition) IsUpdate() bool { return d.Index > 0 }

// PureVars returns the left-hand side arguments that are plain variables
// not belonging to the reduction domain, in argument order. For the pure
// definition this is every stage variable.
func (d *Definition) PureVars() []string {
	var out []string
	for _, a := range d.Args {
		v, ok := a.(*expr.Var)
		if !ok || (d.Domain != nil && d.Domain.Has(v.Name)) {
			continue
		}
		out = append(out, v.Name)
	}
	return out
}

// RVars returns the reduction variables in declaration order.
func (d *Definition) RVars() []string {
	if d.Domain == nil {
		return nil
	}
	return d.Domain.Vars()
}

// Exprs returns every expression of the definition that may read other
// stages or buffers: left-hand side, values, predicates and range bounds.
func (d *Definition) Exprs() []expr.Expr {
	out := slices.Clone(d.Args)
	out = append(out, d.Values...)
	if d.Domain != nil {
		out = append(out, d.Domain.Predicates()...)
		for _, r := range d.Domain.Ranges() {
			out = append(out, r.Min, r.Extent)
		}
	}
	return out
}

func (d *Definition) clone() *Definition {
	c := *d
	c.Args = slices.Clone(d.Args)
	c.Values = slices.Clone(d.Values)
	c.Ensures = slices.Clone(d.Ensures)
	c.Invariants = slices.Clone(d.Invariants)
	if d.Domain != nil {
		c.Domain = d.Domain.Clone()
	}
	return &c
}

// Stage is a named multi-dimensional function.
type Stage struct {
	name    string
	vars    []string
	pure    *Definition
	updates []*Definition
	p       *Pipeline
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// Vars returns the pure variables in argument order.
func (s *Stage) Vars() []string { return slices.Clone(s.vars) }

// Dims returns the dimensionality.
func (s *Stage) Dims() int { return len(s.vars) }

// Defined reports whether the pure definition exists.
func (s *Stage) Defined() bool { return s.pure != nil }

// Pure returns the pure definition.
func (s *Stage) Pure() *Definition { return s.pure }

// Updates returns the update definitions in declaration order.
func (s *Stage) Updates() []*Definition { return slices.Clone(s.updates) }

// Definitions returns the pure definition followed by the updates.
func (s *Stage) Definitions() []*Definition {
	if s.pure == nil {
		return nil
	}
	return append([]*Definition{s.pure}, s.updates...)
}

// Definition returns definition i, where 0 is the pure definition.
func (s *Stage) Definition(i int) (*Definition, bool) {
	defs := s.Definitions()
	if i < 0 || i >= len(defs) {
		return nil, false
	}
	return defs[i], true
}

// TupleSize returns the number of values per element.
func (s *Stage) TupleSize() int {
	if s.pure == nil {
		return 0
	}
	return len(s.pure.Values)
}

// At builds a read of the stage's first tuple component.
func (s *Stage) At(args ...expr.Expr) *expr.Call {
	return &expr.Call{Name: s.name, Kind: expr.CallStage, Args: args}
}

// AtIndex builds a read of tuple component i.
func (s *Stage) AtIndex(i int, args ...expr.Expr) *expr.Call {
	return &expr.Call{Name: s.name, Kind: expr.CallStage, Args: args, Index: i}
}

// DefinePure sets the stage's pure definition over vars.
func (s *Stage) DefinePure(vars []string, values ...expr.Expr) error {
	if s.pure != nil {
		return fmt.Errorf("stage %q: pure definition: %w", s.name, ErrDuplicateDefinition)
	}
	if len(values) == 0 {
		return fmt.Errorf("stage %q: pure definition has no values: %w", s.name, ErrInvalidCall)
	}
	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		if seen[v] {
			return fmt.Errorf("stage %q: variable %q repeated: %w", s.name, v, ErrDuplicateDefinition)
		}
		seen[v] = true
	}
	for _, v := range expr.FreeVars(values...) {
		if !seen[v] {
			return fmt.Errorf("stage %q: pure definition uses %q: %w", s.name, v, ErrUnboundVariable)
		}
	}
	args := make([]expr.Expr, len(vars))
	for i, v := range vars {
		args[i] = expr.V(v)
	}
	s.vars = slices.Clone(vars)
	s.pure = &Definition{Args: args, Values: slices.Clone(values)}
	return nil
}

// UpdateOption configures DefineUpdate.
type UpdateOption func(*Definition)

// WithDomain attaches a reduction domain to the update.
func WithDomain(d *rdom.Domain) UpdateOption {
	return func(def *Definition) { def.Domain = d }
}

// WithCombiner declares the update's combining operator as associative and
// commutative.
func WithCombiner(c Combiner) UpdateOption {
	return func(def *Definition) { def.Combiner = c }
}

// DefineUpdate appends an update definition writing at lhs.
func (s *Stage) DefineUpdate(lhs []expr.Expr, values []expr.Expr, opts ...UpdateOption) error {
	if s.pure == nil {
		return fmt.Errorf("stage %q: update before pure definition: %w", s.name, ErrUndefinedStage)
	}
	def := &Definition{
		Index:  len(s.updates) + 1,
		Args:   slices.Clone(lhs),
		Values: slices.Clone(values),
	}
	for _, opt := range opts {
		opt(def)
	}
	if len(lhs) != len(s.vars) {
		return fmt.Errorf("stage %q: update writes %d indices, stage has %d: %w", s.name, len(lhs), len(s.vars), ErrInvalidUpdate)
	}
	if len(values) != len(s.pure.Values) {
		return fmt.Errorf("stage %q: update has %d values, stage has %d: %w", s.name, len(values), len(s.pure.Values), ErrInvalidUpdate)
	}

	pure := def.PureVars()
	seen := make(map[string]bool, len(pure))
	for _, v := range pure {
		if seen[v] {
			return fmt.Errorf("stage %q: update repeats variable %q: %w", s.name, v, ErrInvalidUpdate)
		}
		seen[v] = true
	}
	for _, v := range expr.FreeVars(def.Exprs()...) {
		if seen[v] || (def.Domain != nil && def.Domain.Has(v)) {
			continue
		}
		return fmt.Errorf("stage %q: update %d uses %q: %w", s.name, def.Index, v, ErrUnboundVariable)
	}
	if def.Domain != nil {
		for _, v := range def.Domain.OuterVars() {
			if !seen[v] {
				return fmt.Errorf("stage %q: predicate of %q names %q: %w", s.name, def.Domain.Name(), v, ErrUnboundVariable)
			}
		}
	}

	// A self-read must use each pure variable at its own position so that
	// iterations along pure dimensions stay independent.
	for _, e := range def.Exprs() {
		for _, c := range expr.Calls(e) {
			if c.Name != s.name {
				continue
			}
			if len(c.Args) != len(s.vars) {
				return fmt.Errorf("stage %q: self-read with %d arguments: %w", s.name, len(c.Args), ErrInvalidCall)
			}
			for i, a := range def.Args {
				v, ok := a.(*expr.Var)
				if !ok || !seen[v.Name] {
					continue
				}
				if !expr.Equal(c.Args[i], v) {
					return fmt.Errorf("stage %q: update %d reads itself at %s, where argument %d must be %q: %w",
						s.name, def.Index, c, i, v.Name, ErrInvalidUpdate)
				}
			}
		}
	}

	s.updates = append(s.updates, def)
	return nil
}

// Ensures attaches a postcondition to definition def (0 is the pure one).
func (s *Stage) Ensures(def int, pred expr.Expr) error {
	d, ok := s.Definition(def)
	if !ok {
		return fmt.Errorf("stage %q: no definition %d: %w", s.name, def, ErrUndefinedStage)
	}
	d.Ensures = append(d.Ensures, pred)
	return nil
}

// Invariant attaches a loop invariant to update def.
func (s *Stage) Invariant(def int, pred expr.Expr) error {
	d, ok := s.Definition(def)
	if !ok || !d.IsUpdate() {
		return fmt.Errorf("stage %q: no update %d: %w", s.name, def, ErrUndefinedStage)
	}
	d.Invariants = append(d.Invariants, pred)
	return nil
}

func (s *Stage) clone(p *Pipeline) *Stage {
	c := &Stage{name: s.name, vars: slices.Clone(s.vars), p: p}
	if s.pure != nil {
		c.pure = s.pure.clone()
	}
	for _, u := range s.updates {
		c.updates = append(c.updates, u.clone())
	}
	return c
}
