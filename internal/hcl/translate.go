package hcl

import (
	"context"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/loopgrid/internal/config"
	"github.com/specialistvlad/loopgrid/internal/expr"
)

// translator converts decoded blocks into the format-agnostic model.
type translator struct {
	ctx   context.Context
	scope *scope
}

// merge translates one file's blocks into m.
func (t *translator) merge(m *config.Model, root *fileRoot) hcl.Diagnostics {
	var diags hcl.Diagnostics
	if root.Name != nil {
		if m.Name != "" && m.Name != *root.Name {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Conflicting pipeline name",
				Detail:   "The pipeline is named " + m.Name + " in another file.",
			})
		}
		m.Name = *root.Name
	}
	for _, b := range root.Params {
		prm, more := t.param(b)
		diags = append(diags, more...)
		m.Params = append(m.Params, prm)
	}
	for _, b := range root.Inputs {
		in, more := t.input(b)
		diags = append(diags, more...)
		m.Inputs = append(m.Inputs, in)
	}
	for _, b := range root.Domains {
		d, more := t.domain(b)
		diags = append(diags, more...)
		m.Domains = append(m.Domains, d)
	}
	for _, b := range root.Stages {
		s, more := t.stage(b)
		diags = append(diags, more...)
		m.Stages = append(m.Stages, s)
	}
	for _, b := range root.Outputs {
		out, more := t.output(b)
		diags = append(diags, more...)
		m.Outputs = append(m.Outputs, out)
	}
	for _, b := range root.Schedules {
		s, more := t.schedule(b)
		diags = append(diags, more...)
		if s == nil {
			continue
		}
		if m.Schedule == nil {
			m.Schedule = s
			continue
		}
		if s.VectorWidth > 0 {
			m.Schedule.VectorWidth = s.VectorWidth
		}
		m.Schedule.Stages = append(m.Schedule.Stages, s.Stages...)
	}
	return diags
}

func (t *translator) param(b *paramBlock) (*config.Param, hcl.Diagnostics) {
	prm := &config.Param{Name: b.Name}
	if !isExprDefined(t.ctx, b.Default, "default") {
		return prm, nil
	}
	v, diags := evalInt(b.Default)
	if diags.HasErrors() {
		return prm, diags
	}
	prm.Default = &v
	return prm, nil
}

func (t *translator) input(b *inputBlock) (*config.Input, hcl.Diagnostics) {
	in := &config.Input{Name: b.Name, Dims: b.Dims}
	var diags hcl.Diagnostics
	var more hcl.Diagnostics
	in.Bounds, more = t.ranges(b.Bounds, "bounds")
	diags = append(diags, more...)
	in.Strides, more = t.exprs(b.Strides, "strides")
	diags = append(diags, more...)
	in.Requires, more = t.exprs(b.Requires, "requires")
	diags = append(diags, more...)
	if b.Sample != nil {
		in.Sample, more = t.sample(b.Sample)
		diags = append(diags, more...)
	}
	return in, diags
}

func (t *translator) sample(b *sampleBlock) (*config.Sample, hcl.Diagnostics) {
	s := &config.Sample{Vars: b.Vars}
	for _, pair := range b.Bounds {
		if len(pair) != 2 {
			return nil, hcl.Diagnostics{errorf(b.Value.Range(), "Invalid sample bounds",
				"Each sample dimension is a [min, extent] pair, got %d numbers.", len(pair))}
		}
		s.Min = append(s.Min, pair[0])
		s.Extent = append(s.Extent, pair[1])
	}
	v, diags := t.scope.translate(b.Value)
	s.Value = v
	return s, diags
}

func (t *translator) domain(b *rdomBlock) (*config.Domain, hcl.Diagnostics) {
	d := &config.Domain{Name: b.Name}
	var diags hcl.Diagnostics
	for _, r := range b.Ranges {
		lo, more := t.scope.translate(r.Min)
		diags = append(diags, more...)
		ext, more := t.scope.translate(r.Extent)
		diags = append(diags, more...)
		d.Ranges = append(d.Ranges, config.DomainRange{Name: r.Name, Min: lo, Extent: ext})
	}
	for _, w := range b.Where {
		cond, more := t.scope.translate(w.Cond)
		diags = append(diags, more...)
		d.Where = append(d.Where, &config.Where{Cond: cond, Outer: w.Outer})
	}
	return d, diags
}

func (t *translator) stage(b *stageBlock) (*config.Stage, hcl.Diagnostics) {
	s := &config.Stage{Name: b.Name, Vars: b.Vars}
	var diags, more hcl.Diagnostics
	s.Values, more = t.values(b.Value, b.Values, b.DefRange)
	diags = append(diags, more...)
	s.Ensures, more = t.exprs(b.Ensures, "ensures")
	diags = append(diags, more...)
	s.Invariants, more = t.exprs(b.Invariant, "invariant")
	diags = append(diags, more...)
	for _, ub := range b.Updates {
		u := &config.Update{Domain: ub.Rdom, Combiner: ub.Combiner}
		u.Args, more = t.exprs(ub.Args, "args")
		diags = append(diags, more...)
		u.Values, more = t.values(ub.Value, ub.Values, ub.DefRange)
		diags = append(diags, more...)
		u.Ensures, more = t.exprs(ub.Ensures, "ensures")
		diags = append(diags, more...)
		u.Invariants, more = t.exprs(ub.Invariant, "invariant")
		diags = append(diags, more...)
		s.Updates = append(s.Updates, u)
	}
	return s, diags
}

func (t *translator) output(b *outputBlock) (*config.Output, hcl.Diagnostics) {
	out := &config.Output{Name: b.Name}
	var diags, more hcl.Diagnostics
	out.Bounds, more = t.ranges(b.Bounds, "bounds")
	diags = append(diags, more...)
	out.Strides, more = t.exprs(b.Strides, "strides")
	diags = append(diags, more...)
	return out, diags
}

// values reads a definition's right-hand side, given either as a single
// value or as a tuple of values.
func (t *translator) values(value, values hcl.Expression, rng hcl.Range) ([]expr.Expr, hcl.Diagnostics) {
	one := isExprDefined(t.ctx, value, "value")
	many := isExprDefined(t.ctx, values, "values")
	switch {
	case one && many:
		return nil, hcl.Diagnostics{errorf(rng, "Conflicting arguments", "Only one of value and values may be set.")}
	case one:
		v, diags := t.scope.translate(value)
		if diags.HasErrors() {
			return nil, diags
		}
		return []expr.Expr{v}, nil
	case many:
		return t.exprs(values, "values")
	}
	return nil, hcl.Diagnostics{errorf(rng, "Missing value", "A definition needs a value or values argument.")}
}

func (t *translator) exprs(e hcl.Expression, attr string) ([]expr.Expr, hcl.Diagnostics) {
	if !isExprDefined(t.ctx, e, attr) {
		return nil, nil
	}
	return t.scope.list(listItems(e))
}

// ranges reads a list of [min, extent] pairs.
func (t *translator) ranges(e hcl.Expression, attr string) ([]config.Range, hcl.Diagnostics) {
	if !isExprDefined(t.ctx, e, attr) {
		return nil, nil
	}
	list, ok := e.(*hclsyntax.TupleConsExpr)
	if !ok {
		return nil, hcl.Diagnostics{errorf(e.Range(), "Invalid "+attr, "Expected a list of [min, extent] pairs.")}
	}
	var diags hcl.Diagnostics
	out := make([]config.Range, 0, len(list.Exprs))
	for _, item := range list.Exprs {
		pair, ok := item.(*hclsyntax.TupleConsExpr)
		if !ok || len(pair.Exprs) != 2 {
			diags = append(diags, errorf(item.Range(), "Invalid "+attr, "Expected a [min, extent] pair."))
			continue
		}
		lo, more := t.scope.translate(pair.Exprs[0])
		diags = append(diags, more...)
		ext, more := t.scope.translate(pair.Exprs[1])
		diags = append(diags, more...)
		out = append(out, config.Range{Min: lo, Extent: ext})
	}
	if diags.HasErrors() {
		return nil, diags
	}
	return out, nil
}
