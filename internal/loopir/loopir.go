// Package loopir is the nested-loop program the lowering engine emits and
// the reference interpreter executes.
package loopir

import (
	"slices"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
)

// ForType is the execution attribute of an emitted loop.
type ForType int

const (
	Serial ForType = iota
	Parallel
	Vectorized
	Unrolled
)

func (f ForType) String() string {
	switch f {
	case Parallel:
		return "parallel"
	case Vectorized:
		return "vectorized"
	case Unrolled:
		return "unrolled"
	default:
		return "serial"
	}
}

// Stmt is a statement of the loop IR.
type Stmt interface {
	isStmt()
}

// For runs Body for Name in [Min, Min+Extent).
type For struct {
	Name   string
	Min    expr.Expr
	Extent expr.Expr
	Type   ForType
	Body   Stmt
}

// Let binds Name to Value inside Body.
type Let struct {
	Name  string
	Value expr.Expr
	Body  Stmt
}

// If runs Then when Cond is non-zero and Else otherwise. Else may be nil.
type If struct {
	Cond expr.Expr
	Then Stmt
	Else Stmt
}

// Provide stores the tuple Values into stage Name at Args.
type Provide struct {
	Name   string
	Args   []expr.Expr
	Values []expr.Expr
}

// ProducerConsumer marks the statements producing a stage. Contracts are
// the stage's annotations, forwarded untouched.
type ProducerConsumer struct {
	Name      string
	Contracts []pipeline.Contract
	Body      Stmt
}

// Range is one dimension of an allocation.
type Range struct {
	Min    expr.Expr
	Extent expr.Expr
}

// Allocate reserves storage for stage Name while Body runs.
type Allocate struct {
	Name   string
	Tuple  int
	Bounds []Range
	Body   Stmt
}

// Block runs statements in order.
type Block struct {
	Stmts []Stmt
}

// Assert fails the program with Message when Cond is zero.
type Assert struct {
	Cond    expr.Expr
	Message string
}

func (*For) isStmt()              {}
func (*Let) isStmt()              {}
func (*If) isStmt()               {}
func (*Provide) isStmt()          {}
func (*ProducerConsumer) isStmt() {}
func (*Allocate) isStmt()         {}
func (*Block) isStmt()            {}
func (*Assert) isStmt()           {}

// Seq builds a block, flattening nested blocks and dropping nils. A single
// statement is returned as is.
func Seq(stmts ...Stmt) Stmt {
	var out []Stmt
	for _, s := range stmts {
		switch n := s.(type) {
		case nil:
		case *Block:
			out = append(out, n.Stmts...)
		default:
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return &Block{Stmts: out}
}

// BufferDecl describes a buffer crossing the program boundary.
type BufferDecl struct {
	Name   string
	Tuple  int
	Bounds []Range
}

// Program is a lowered pipeline.
type Program struct {
	Name    string
	Params  []string
	Inputs  []BufferDecl
	Outputs []BufferDecl
	Body    Stmt
	// Contracts holds the requires annotations of input buffers. Stage
	// annotations travel on their ProducerConsumer nodes.
	Contracts []pipeline.Contract
}

// Output returns the declaration of output buffer name.
func (p *Program) Output(name string) (BufferDecl, bool) {
	i := slices.IndexFunc(p.Outputs, func(b BufferDecl) bool { return b.Name == name })
	if i < 0 {
		return BufferDecl{}, false
	}
	return p.Outputs[i], true
}
