// Package rdom models reduction domains: ordered, bounded iteration spaces
// used by update definitions, optionally filtered by predicates.
package rdom

import (
	"errors"
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/expr"
)

var (
	ErrInvalidDomain         = errors.New("invalid reduction domain")
	ErrInvalidPredicate      = errors.New("invalid predicate")
	ErrUnsupportedDependency = errors.New("unsupported dependency")
)

// Range is one named dimension of a domain: Name iterates over
// [Min, Min+Extent).
type Range struct {
	Name   string
	Min    expr.Expr
	Extent expr.Expr
}

// R is shorthand for a constant range.
func R(name string, min, extent int64) Range {
	return Range{Name: name, Min: expr.Int(min), Extent: expr.Int(extent)}
}

// Domain is a reduction domain. The first range is the outermost loop.
type Domain struct {
	name       string
	ranges     []Range
	predicates []expr.Expr
	outer      []string
}

// New builds a domain from its ranges.
func New(name string, ranges ...Range) (*Domain, error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("domain %q has no ranges: %w", name, ErrInvalidDomain)
	}
	seen := make(map[string]bool, len(ranges))
	for _, r := range ranges {
		if r.Name == "" || r.Min == nil || r.Extent == nil {
			return nil, fmt.Errorf("domain %q: incomplete range %q: %w", name, r.Name, ErrInvalidDomain)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("domain %q: duplicate variable %q: %w", name, r.Name, ErrInvalidDomain)
		}
		seen[r.Name] = true
	}
	return &Domain{name: name, ranges: slices.Clone(ranges)}, nil
}

// Name returns the domain's name.
func (d *Domain) Name() string { return d.name }

// Ranges returns a copy of the ranges in declaration order.
func (d *Domain) Ranges() []Range { return slices.Clone(d.ranges) }

// Vars returns the variable names in declaration order.
func (d *Domain) Vars() []string {
	out := make([]string, len(d.ranges))
	for i, r := range d.ranges {
		out[i] = r.Name
	}
	return out
}

// Has reports whether name is one of the domain's variables.
func (d *Domain) Has(name string) bool {
	return d.index(name) >= 0
}

// Range returns the range for name.
func (d *Domain) Range(name string) (Range, bool) {
	if i := d.index(name); i >= 0 {
		return d.ranges[i], true
	}
	return Range{}, false
}

func (d *Domain) index(name string) int {
	for i, r := range d.ranges {
		if r.Name == name {
			return i
		}
	}
	return -1
}

// Predicates returns the attached filters.
func (d *Domain) Predicates() []expr.Expr { return slices.Clone(d.predicates) }

// Predicate returns the conjunction of all filters, or nil when there are none.
func (d *Domain) Predicate() expr.Expr {
	var out expr.Expr
	for _, p := range d.predicates {
		if out == nil {
			out = p
			continue
		}
		out = expr.And(out, p)
	}
	return out
}

// OuterVars returns the enclosing stage variables predicates may name.
func (d *Domain) OuterVars() []string { return slices.Clone(d.outer) }

// Where attaches a filter. The predicate may reference domain variables,
// parameters, calls and any of the named outer variables; anything else is
// rejected. Filters never change the declared extents.
func (d *Domain) Where(pred expr.Expr, outer ...string) error {
	if pred == nil {
		return fmt.Errorf("domain %q: nil predicate: %w", d.name, ErrInvalidPredicate)
	}
	for _, v := range expr.FreeVars(pred) {
		if d.Has(v) || slices.Contains(outer, v) {
			continue
		}
		return fmt.Errorf("domain %q: predicate %s references %q outside the domain: %w", d.name, pred, v, ErrInvalidPredicate)
	}
	for _, v := range outer {
		if !slices.Contains(d.outer, v) {
			d.outer = append(d.outer, v)
		}
	}
	d.predicates = append(d.predicates, pred)
	return nil
}

// Validate checks that every range bound depends only on variables declared
// earlier in the domain (or on registered outer variables), so that the
// bound is known when its loop starts. Buffer and stage reads inside a bound
// must likewise be indexed by such variables.
func (d *Domain) Validate() error {
	for i, r := range d.ranges {
		earlier := append(d.Vars()[:i], d.outer...)
		for _, bound := range []expr.Expr{r.Min, r.Extent} {
			for _, v := range expr.FreeVars(bound) {
				if slices.Contains(earlier, v) {
					continue
				}
				return fmt.Errorf("domain %q: bound of %q uses %q, which is not declared before it: %w",
					d.name, r.Name, v, ErrUnsupportedDependency)
			}
		}
	}
	return nil
}

// Clone returns a deep copy whose predicates can be extended independently.
func (d *Domain) Clone() *Domain {
	return &Domain{
		name:       d.name,
		ranges:     slices.Clone(d.ranges),
		predicates: slices.Clone(d.predicates),
		outer:      slices.Clone(d.outer),
	}
}

// Restrict returns a copy of the domain with the named variable removed and
// every reference to it replaced by repl. It is used to peel one variable
// off a domain when it becomes a pure dimension.
func (d *Domain) Restrict(name string, repl expr.Expr) *Domain {
	binds := map[string]expr.Expr{name: repl}
	out := &Domain{name: d.name, outer: slices.Clone(d.outer)}
	for _, v := range expr.FreeVars(repl) {
		if !slices.Contains(out.outer, v) {
			out.outer = append(out.outer, v)
		}
	}
	for _, r := range d.ranges {
		if r.Name == name {
			continue
		}
		out.ranges = append(out.ranges, Range{
			Name:   r.Name,
			Min:    expr.Substitute(r.Min, binds),
			Extent: expr.Substitute(r.Extent, binds),
		})
	}
	for _, p := range d.predicates {
		out.predicates = append(out.predicates, expr.Substitute(p, binds))
	}
	return out
}
