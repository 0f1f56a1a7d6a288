package hcl

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/specialistvlad/loopgrid/internal/expr"
)

// scope knows which bare names refer to parameters and which calls read
// input buffers. Every other name is a loop variable and every other call
// reads a stage.
type scope struct {
	params map[string]bool
	inputs map[string]bool
}

func newScope() *scope {
	return &scope{params: make(map[string]bool), inputs: make(map[string]bool)}
}

var binaryOps = map[*hclsyntax.Operation]expr.Op{
	hclsyntax.OpAdd:                expr.OpAdd,
	hclsyntax.OpSubtract:           expr.OpSub,
	hclsyntax.OpMultiply:           expr.OpMul,
	hclsyntax.OpDivide:             expr.OpDiv,
	hclsyntax.OpModulo:             expr.OpMod,
	hclsyntax.OpEqual:              expr.OpEQ,
	hclsyntax.OpNotEqual:           expr.OpNE,
	hclsyntax.OpLessThan:           expr.OpLT,
	hclsyntax.OpLessThanOrEqual:    expr.OpLE,
	hclsyntax.OpGreaterThan:        expr.OpGT,
	hclsyntax.OpGreaterThanOrEqual: expr.OpGE,
	hclsyntax.OpLogicalAnd:         expr.OpAnd,
	hclsyntax.OpLogicalOr:          expr.OpOr,
}

// translate turns HCL expression syntax into an integer expression.
func (s *scope) translate(e hcl.Expression) (expr.Expr, hcl.Diagnostics) {
	switch n := e.(type) {
	case *hclsyntax.LiteralValueExpr:
		v, diags := intValue(n.Val, n.Range())
		if diags.HasErrors() {
			return nil, diags
		}
		return expr.Int(v), nil

	case *hclsyntax.ScopeTraversalExpr:
		if len(n.Traversal) != 1 {
			return nil, hcl.Diagnostics{errorf(n.Range(), "Unsupported reference",
				"Only plain names may be referenced, got %q.", traversalText(n.Traversal))}
		}
		name := n.Traversal.RootName()
		if s.params[name] {
			return expr.P(name), nil
		}
		return expr.V(name), nil

	case *hclsyntax.ParenthesesExpr:
		return s.translate(n.Expression)

	case *hclsyntax.BinaryOpExpr:
		op, ok := binaryOps[n.Op]
		if !ok {
			return nil, hcl.Diagnostics{errorf(n.Range(), "Unsupported operator", "This operator has no integer meaning.")}
		}
		a, diags := s.translate(n.LHS)
		b, more := s.translate(n.RHS)
		diags = append(diags, more...)
		if diags.HasErrors() {
			return nil, diags
		}
		return expr.Apply(op, a, b), nil

	case *hclsyntax.UnaryOpExpr:
		a, diags := s.translate(n.Val)
		if diags.HasErrors() {
			return nil, diags
		}
		if n.Op == hclsyntax.OpLogicalNot {
			return &expr.Not{A: a}, nil
		}
		if k, ok := expr.AsConst(a); ok {
			return expr.Int(-k), nil
		}
		return expr.Sub(expr.Int(0), a), nil

	case *hclsyntax.ConditionalExpr:
		c, diags := s.translate(n.Condition)
		t, more := s.translate(n.TrueResult)
		diags = append(diags, more...)
		f, more := s.translate(n.FalseResult)
		diags = append(diags, more...)
		if diags.HasErrors() {
			return nil, diags
		}
		return expr.Sel(c, t, f), nil

	case *hclsyntax.FunctionCallExpr:
		return s.call(n)
	}
	return nil, hcl.Diagnostics{errorf(e.Range(), "Unsupported expression",
		"Stage bodies may use integer literals, names, arithmetic, comparisons, conditionals and calls.")}
}

// traversalText renders t as written, for messages.
func traversalText(t hcl.Traversal) string {
	return string(hclwrite.TokensForTraversal(t).Bytes())
}

func (s *scope) list(es []hcl.Expression) ([]expr.Expr, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	out := make([]expr.Expr, 0, len(es))
	for _, e := range es {
		x, more := s.translate(e)
		diags = append(diags, more...)
		out = append(out, x)
	}
	if diags.HasErrors() {
		return nil, diags
	}
	return out, nil
}

// call handles the builtins and reads of stages and inputs. elem(f, i,
// args...) reads tuple component i of stage f.
func (s *scope) call(n *hclsyntax.FunctionCallExpr) (expr.Expr, hcl.Diagnostics) {
	arity := func(lo, hi int) hcl.Diagnostics {
		if len(n.Args) < lo || (hi >= 0 && len(n.Args) > hi) {
			return hcl.Diagnostics{errorf(n.Range(), "Wrong number of arguments",
				"%s() got %d arguments.", n.Name, len(n.Args))}
		}
		return nil
	}

	switch n.Name {
	case "min", "max":
		if diags := arity(1, -1); diags != nil {
			return nil, diags
		}
		args, diags := s.list(exprs(n.Args))
		if diags.HasErrors() {
			return nil, diags
		}
		out := args[0]
		for _, a := range args[1:] {
			if n.Name == "min" {
				out = expr.Min(out, a)
			} else {
				out = expr.Max(out, a)
			}
		}
		return out, nil

	case "clamp", "select":
		if diags := arity(3, 3); diags != nil {
			return nil, diags
		}
		args, diags := s.list(exprs(n.Args))
		if diags.HasErrors() {
			return nil, diags
		}
		if n.Name == "clamp" {
			return expr.Clamp(args[0], args[1], args[2]), nil
		}
		return expr.Sel(args[0], args[1], args[2]), nil

	case "abs":
		if diags := arity(1, 1); diags != nil {
			return nil, diags
		}
		a, diags := s.translate(n.Args[0])
		if diags.HasErrors() {
			return nil, diags
		}
		return expr.Max(a, expr.Sub(expr.Int(0), a)), nil

	case "elem":
		if diags := arity(2, -1); diags != nil {
			return nil, diags
		}
		ref, ok := n.Args[0].(*hclsyntax.ScopeTraversalExpr)
		if !ok || len(ref.Traversal) != 1 {
			return nil, hcl.Diagnostics{errorf(n.Args[0].Range(), "Invalid stage reference",
				"The first argument of elem() must name a stage.")}
		}
		idx, diags := evalInt(n.Args[1])
		if diags.HasErrors() {
			return nil, diags
		}
		args, diags := s.list(exprs(n.Args[2:]))
		if diags.HasErrors() {
			return nil, diags
		}
		return &expr.Call{Name: ref.Traversal.RootName(), Kind: expr.CallStage, Args: args, Index: int(idx)}, nil
	}

	if n.ExpandFinal {
		return nil, hcl.Diagnostics{errorf(n.Range(), "Unsupported expansion", "Calls may not expand their final argument.")}
	}
	args, diags := s.list(exprs(n.Args))
	if diags.HasErrors() {
		return nil, diags
	}
	kind := expr.CallStage
	if s.inputs[n.Name] {
		kind = expr.CallBuffer
	}
	return &expr.Call{Name: n.Name, Kind: kind, Args: args}, nil
}
