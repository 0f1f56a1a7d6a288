package hcl

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/loopgrid/internal/config"
)

// directiveAttrs are the arguments a directive block may set.
var directiveAttrs = map[string]bool{
	"var": true, "vars": true, "outer": true, "inner": true, "fused": true,
	"to": true, "into": true, "factor": true, "factors": true, "tail": true,
	"stage": true, "def": true, "cond": true, "min": true, "extent": true,
}

// schedule reads the stage blocks of a schedule block. Directives are kept
// in source order because later directives refer to loops earlier ones
// create.
func (t *translator) schedule(b *scheduleBlock) (*config.Schedule, hcl.Diagnostics) {
	body, ok := b.Remain.(*hclsyntax.Body)
	if !ok {
		return nil, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Unsupported syntax",
			Detail:   "Schedules must be written in native HCL syntax.",
		}}
	}
	out := &config.Schedule{}
	if b.VectorWidth != nil {
		out.VectorWidth = *b.VectorWidth
	}
	var diags hcl.Diagnostics
	for name, attr := range body.Attributes {
		if name != "vector_width" {
			diags = append(diags, errorf(attr.NameRange, "Unsupported argument", "An argument named %q is not expected here.", name))
		}
	}
	for _, blk := range body.Blocks {
		if blk.Type != "stage" || len(blk.Labels) != 1 {
			diags = append(diags, errorf(blk.DefRange(), "Unsupported block", `A schedule holds stage "name" blocks, got %q.`, blk.Type))
			continue
		}
		for name, attr := range blk.Body.Attributes {
			diags = append(diags, errorf(attr.NameRange, "Unsupported argument", "Stage schedules hold directive blocks only, got argument %q.", name))
		}
		ds, more := t.directives(blk.Body.Blocks)
		diags = append(diags, more...)
		out.Stages = append(out.Stages, &config.StageSchedule{Stage: blk.Labels[0], Directives: ds})
	}
	return out, diags
}

func (t *translator) directives(blocks hclsyntax.Blocks) ([]*config.Directive, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	out := make([]*config.Directive, 0, len(blocks))
	for _, blk := range blocks {
		d, more := t.directive(blk)
		diags = append(diags, more...)
		if d != nil {
			out = append(out, d)
		}
	}
	return out, diags
}

// directive decodes one directive block. Loop names are collected in the
// argument order of the matching schedule.Handle method; missing names are
// left out so the arity check reports them.
func (t *translator) directive(blk *hclsyntax.Block) (*config.Directive, hcl.Diagnostics) {
	if len(blk.Labels) != 0 {
		return nil, hcl.Diagnostics{errorf(blk.DefRange(), "Unexpected label", "Directive %q takes no labels.", blk.Type)}
	}
	var diags hcl.Diagnostics
	for name, attr := range blk.Body.Attributes {
		if !directiveAttrs[name] {
			diags = append(diags, errorf(attr.NameRange, "Unsupported argument", "An argument named %q is not expected here.", name))
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	var args directiveSpec
	if diags := gohcl.DecodeBody(blk.Body, nil, &args); diags.HasErrors() {
		return nil, diags
	}
	d := &config.Directive{
		Kind:  blk.Type,
		Tail:  args.Tail,
		Stage: args.Stage,
		Def:   args.Def,
		Pos:   blk.DefRange().String(),
	}
	names := func(ns ...string) {
		for _, n := range ns {
			if n != "" {
				d.Vars = append(d.Vars, n)
			}
		}
	}
	switch blk.Type {
	case config.DirSplit:
		names(args.Var, args.Outer, args.Inner)
	case config.DirFuse:
		names(args.Inner, args.Outer, args.Fused)
	case config.DirRename:
		names(args.Var, args.To)
	case config.DirRFactor:
		names(args.Var, args.Into)
	case config.DirTile, config.DirReorder:
		d.Vars = args.Vars
	default:
		names(args.Var)
	}
	if args.Factor != nil {
		d.Factors = append(d.Factors, *args.Factor)
	}
	d.Factors = append(d.Factors, args.Factors...)

	var more hcl.Diagnostics
	if isExprDefined(t.ctx, args.Cond, "cond") {
		d.Cond, more = t.scope.translate(args.Cond)
		diags = append(diags, more...)
	}
	if isExprDefined(t.ctx, args.Min, "min") {
		d.Min, more = t.scope.translate(args.Min)
		diags = append(diags, more...)
	}
	if isExprDefined(t.ctx, args.Extent, "extent") {
		d.Extent, more = t.scope.translate(args.Extent)
		diags = append(diags, more...)
	}
	d.Body, more = t.directives(blk.Body.Blocks)
	diags = append(diags, more...)
	return d, diags
}
