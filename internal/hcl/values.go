package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/loopgrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// isExprDefined checks if an HCL expression was actually present in the source
// code. The HCL decoder populates omitted optional fields with zero-width
// placeholder expressions, so a nil check is not enough.
func isExprDefined(ctx context.Context, e hcl.Expression, attrName string) bool {
	if e == nil {
		return false
	}
	r := e.Range()
	isDefined := r.End.Byte > r.Start.Byte
	ctxlog.FromContext(ctx).Debug("Checking if HCL attribute was explicitly defined.",
		"attribute", attrName,
		"hcl_range", r.String(),
		"is_defined", isDefined,
	)
	return isDefined
}

// intValue converts a literal cty value into an int64. Booleans become 1
// and 0.
func intValue(v cty.Value, rng hcl.Range) (int64, hcl.Diagnostics) {
	if v.IsNull() || !v.IsKnown() {
		return 0, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Invalid value",
			Detail:   "A known, non-null integer is required.",
			Subject:  rng.Ptr(),
		}}
	}
	if v.Type() == cty.Bool {
		if v.True() {
			return 1, nil
		}
		return 0, nil
	}
	var n int64
	if err := gocty.FromCtyValue(v, &n); err != nil {
		return 0, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Invalid integer",
			Detail:   fmt.Sprintf("Expected an integer: %s.", err),
			Subject:  rng.Ptr(),
		}}
	}
	return n, nil
}

// evalInt evaluates a constant expression, such as a parameter default,
// to an int64.
func evalInt(e hcl.Expression) (int64, hcl.Diagnostics) {
	v, diags := e.Value(nil)
	if diags.HasErrors() {
		return 0, diags
	}
	return intValue(v, e.Range())
}

// listItems returns the elements of a tuple expression, or e itself when
// it is not a tuple.
func listItems(e hcl.Expression) []hcl.Expression {
	if t, ok := e.(*hclsyntax.TupleConsExpr); ok {
		return exprs(t.Exprs)
	}
	return []hcl.Expression{e}
}

func errorf(rng hcl.Range, summary, format string, args ...any) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(format, args...),
		Subject:  rng.Ptr(),
	}
}

// exprs widens a slice of syntax expressions to hcl.Expression.
func exprs(es []hclsyntax.Expression) []hcl.Expression {
	out := make([]hcl.Expression, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}
