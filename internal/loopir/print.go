package loopir

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/specialistvlad/loopgrid/internal/expr"
)

type printer struct {
	w     io.Writer
	depth int
	err   error
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, "%s%s\n", strings.Repeat("  ", p.depth), fmt.Sprintf(format, args...))
}

func joinExprs(es []expr.Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func ranges(rs []Range) string {
	var sb strings.Builder
	for _, r := range rs {
		fmt.Fprintf(&sb, "[%s, %s]", r.Min, r.Extent)
	}
	return sb.String()
}

func (p *printer) block(header string, body Stmt) {
	p.line("%s {", header)
	p.depth++
	p.stmt(body)
	p.depth--
	p.line("}")
}

func (p *printer) stmt(s Stmt) {
	switch n := s.(type) {
	case nil:
	case *Block:
		for _, c := range n.Stmts {
			p.stmt(c)
		}
	case *For:
		attr := ""
		if n.Type != Serial {
			attr = " " + n.Type.String()
		}
		p.block(fmt.Sprintf("for%s %s in [%s, %s + %s)", attr, n.Name, n.Min, n.Min, n.Extent), n.Body)
	case *Let:
		p.line("let %s = %s", n.Name, n.Value)
		p.stmt(n.Body)
	case *If:
		p.line("if %s {", n.Cond)
		p.depth++
		p.stmt(n.Then)
		p.depth--
		if n.Else != nil {
			p.line("} else {")
			p.depth++
			p.stmt(n.Else)
			p.depth--
		}
		p.line("}")
	case *Provide:
		vals := joinExprs(n.Values)
		if len(n.Values) > 1 {
			vals = "{" + vals + "}"
		}
		p.line("%s(%s) = %s", n.Name, joinExprs(n.Args), vals)
	case *ProducerConsumer:
		p.line("produce %s {", n.Name)
		p.depth++
		for _, c := range n.Contracts {
			p.line("// %s", c)
		}
		p.stmt(n.Body)
		p.depth--
		p.line("}")
	case *Allocate:
		tuple := ""
		if n.Tuple > 1 {
			tuple = fmt.Sprintf(" x%d", n.Tuple)
		}
		p.block(fmt.Sprintf("allocate %s%s%s", n.Name, ranges(n.Bounds), tuple), n.Body)
	case *Assert:
		p.line("assert %s, %q", n.Cond, n.Message)
	default:
		p.line("<%T>", s)
	}
}

// Print writes a readable loop nest of prog to w.
func Print(w io.Writer, prog *Program) error {
	p := &printer{w: w}
	p.line("program %s(%s)", prog.Name, strings.Join(prog.Params, ", "))
	for _, b := range prog.Inputs {
		p.line("input %s%s", b.Name, ranges(b.Bounds))
	}
	for _, b := range prog.Outputs {
		p.line("output %s%s", b.Name, ranges(b.Bounds))
	}
	for _, c := range prog.Contracts {
		p.line("// %s", c)
	}
	p.stmt(prog.Body)
	return p.err
}

// String renders a single statement.
func String(s Stmt) string {
	var buf bytes.Buffer
	p := &printer{w: &buf}
	p.stmt(s)
	return buf.String()
}
