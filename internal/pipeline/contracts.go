package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/specialistvlad/loopgrid/internal/expr"
)

// ContractKind classifies an annotation.
type ContractKind string

const (
	Requires  ContractKind = "requires"
	Ensures   ContractKind = "ensures"
	Invariant ContractKind = "invariant"
)

// Contract is an opaque predicate forwarded to an external verifier. The
// compiler never interprets it.
type Contract struct {
	Target string
	Def    int
	Kind   ContractKind
	Pred   expr.Expr
}

func (c Contract) String() string {
	if c.Kind == Requires {
		return fmt.Sprintf("%s %s: %s", c.Kind, c.Target, c.Pred)
	}
	return fmt.Sprintf("%s %s.%d: %s", c.Kind, c.Target, c.Def, c.Pred)
}

// Contracts lists every annotation, inputs first, then stages in
// declaration order.
func (p *Pipeline) Contracts() []Contract {
	var out []Contract
	for _, b := range p.inputs {
		for _, pred := range b.requires {
			out = append(out, Contract{Target: b.name, Kind: Requires, Pred: pred})
		}
	}
	for _, s := range p.stages {
		for _, def := range s.Definitions() {
			for _, pred := range def.Invariants {
				out = append(out, Contract{Target: s.name, Def: def.Index, Kind: Invariant, Pred: pred})
			}
			for _, pred := range def.Ensures {
				out = append(out, Contract{Target: s.name, Def: def.Index, Kind: Ensures, Pred: pred})
			}
		}
	}
	return out
}

// Dump writes a textual description of the pipeline, including contracts,
// in the form consumed by the external verifier.
func (p *Pipeline) Dump(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pipeline %s\n", p.name)
	for _, name := range p.params {
		fmt.Fprintf(&sb, "param %s\n", name)
	}
	for _, b := range p.inputs {
		fmt.Fprintf(&sb, "input %s%s\n", b.name, dimsString(b))
		for _, pred := range b.requires {
			fmt.Fprintf(&sb, "  requires %s\n", pred)
		}
	}
	for _, s := range p.stages {
		for _, def := range s.Definitions() {
			lhs := make([]string, len(def.Args))
			for i, a := range def.Args {
				lhs[i] = a.String()
			}
			vals := make([]string, len(def.Values))
			for i, v := range def.Values {
				vals[i] = v.String()
			}
			rhs := strings.Join(vals, ", ")
			if len(vals) > 1 {
				rhs = "{" + rhs + "}"
			}
			fmt.Fprintf(&sb, "%s(%s) = %s\n", s.name, strings.Join(lhs, ", "), rhs)
			if def.Domain != nil {
				for _, r := range def.Domain.Ranges() {
					fmt.Fprintf(&sb, "  over %s in [%s, %s + %s)\n", r.Name, r.Min, r.Min, r.Extent)
				}
				if pred := def.Domain.Predicate(); pred != nil {
					fmt.Fprintf(&sb, "  where %s\n", pred)
				}
			}
			if def.Combiner != CombineNone {
				fmt.Fprintf(&sb, "  combiner %s\n", def.Combiner)
			}
			for _, pred := range def.Invariants {
				fmt.Fprintf(&sb, "  invariant %s\n", pred)
			}
			for _, pred := range def.Ensures {
				fmt.Fprintf(&sb, "  ensures %s\n", pred)
			}
		}
	}
	for _, b := range p.outputs {
		fmt.Fprintf(&sb, "output %s%s\n", b.name, dimsString(b))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func dimsString(b *Buffer) string {
	parts := make([]string, b.Dims())
	for i := range parts {
		parts[i] = fmt.Sprintf("[%s, %s]", b.MinOf(i), b.ExtentOf(i))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
