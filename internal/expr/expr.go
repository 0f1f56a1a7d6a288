// Package expr defines the integer expression language shared by every
// compiler phase: stage bodies, index expressions, loop bounds, guard
// conditions and contracts are all expr.Expr trees.
//
// All values are int64. Comparisons and logical operators yield 0 or 1.
// Division rounds toward negative infinity and modulo is Euclidean, so
// that index arithmetic behaves the same for negative coordinates.
package expr

import (
	"fmt"
	"strings"
)

// Expr is a node of the expression tree. Nodes are immutable once built;
// every rewrite returns a new tree.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Const is an integer literal.
type Const struct {
	Value int64
}

// Var names a loop variable, reduction variable or let-bound symbol.
type Var struct {
	Name string
}

// Param names a scalar runtime parameter of the pipeline.
type Param struct {
	Name string
}

// Op enumerates binary operators.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpMin
	OpMax
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpAnd
	OpOr
)

var opSymbols = map[Op]string{
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpMod: "%",
	OpMin: "min",
	OpMax: "max",
	OpEQ:  "==",
	OpNE:  "!=",
	OpLT:  "<",
	OpLE:  "<=",
	OpGT:  ">",
	OpGE:  ">=",
	OpAnd: "&&",
	OpOr:  "||",
}

// String returns the operator's source symbol.
func (o Op) String() string {
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// IsComparison reports whether the operator yields a boolean from two integers.
func (o Op) IsComparison() bool {
	return o >= OpEQ && o <= OpGE
}

// IsLogical reports whether the operator combines two booleans.
func (o Op) IsLogical() bool {
	return o == OpAnd || o == OpOr
}

// Binary applies Op to A and B.
type Binary struct {
	Op   Op
	A, B Expr
}

// Not is logical negation.
type Not struct {
	A Expr
}

// Select evaluates to True when Cond is non-zero and to False otherwise.
type Select struct {
	Cond, True, False Expr
}

// CallKind distinguishes reads of pipeline stages from reads of external
// buffers.
type CallKind int

const (
	CallStage CallKind = iota
	CallBuffer
)

// String returns a short name for the kind.
func (k CallKind) String() string {
	switch k {
	case CallStage:
		return "stage"
	case CallBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("CallKind(%d)", int(k))
	}
}

// Call reads element Args of a stage or buffer. Index selects the tuple
// component for multi-valued stages.
type Call struct {
	Name  string
	Kind  CallKind
	Args  []Expr
	Index int
}

func (*Const) isExpr()  {}
func (*Var) isExpr()    {}
func (*Param) isExpr()  {}
func (*Binary) isExpr() {}
func (*Not) isExpr()    {}
func (*Select) isExpr() {}
func (*Call) isExpr()   {}

func (c *Const) String() string { return fmt.Sprintf("%d", c.Value) }
func (v *Var) String() string   { return v.Name }
func (p *Param) String() string { return p.Name }

func (b *Binary) String() string {
	switch b.Op {
	case OpMin, OpMax:
		return fmt.Sprintf("%s(%s, %s)", b.Op, b.A, b.B)
	default:
		return fmt.Sprintf("(%s %s %s)", b.A, b.Op, b.B)
	}
}

func (n *Not) String() string { return "!" + n.A.String() }

func (s *Select) String() string {
	return fmt.Sprintf("select(%s, %s, %s)", s.Cond, s.True, s.False)
}

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	s := fmt.Sprintf("%s(%s)", c.Name, strings.Join(args, ", "))
	if c.Index != 0 {
		s += fmt.Sprintf("[%d]", c.Index)
	}
	return s
}

// Int returns a constant.
func Int(v int64) *Const { return &Const{Value: v} }

// V returns a variable reference.
func V(name string) *Var { return &Var{Name: name} }

// P returns a parameter reference.
func P(name string) *Param { return &Param{Name: name} }

func bin(op Op, a, b Expr) *Binary { return &Binary{Op: op, A: a, B: b} }

func Add(a, b Expr) Expr { return bin(OpAdd, a, b) }
func Sub(a, b Expr) Expr { return bin(OpSub, a, b) }
func Mul(a, b Expr) Expr { return bin(OpMul, a, b) }
func Div(a, b Expr) Expr { return bin(OpDiv, a, b) }
func Mod(a, b Expr) Expr { return bin(OpMod, a, b) }
func Min(a, b Expr) Expr { return bin(OpMin, a, b) }
func Max(a, b Expr) Expr { return bin(OpMax, a, b) }
func EQ(a, b Expr) Expr  { return bin(OpEQ, a, b) }
func NE(a, b Expr) Expr  { return bin(OpNE, a, b) }
func LT(a, b Expr) Expr  { return bin(OpLT, a, b) }
func LE(a, b Expr) Expr  { return bin(OpLE, a, b) }
func GT(a, b Expr) Expr  { return bin(OpGT, a, b) }
func GE(a, b Expr) Expr  { return bin(OpGE, a, b) }
func And(a, b Expr) Expr { return bin(OpAnd, a, b) }
func Or(a, b Expr) Expr  { return bin(OpOr, a, b) }

// Sel builds a select node.
func Sel(cond, t, f Expr) Expr { return &Select{Cond: cond, True: t, False: f} }

// Clamp restricts x to [lo, hi].
func Clamp(x, lo, hi Expr) Expr { return Max(Min(x, hi), lo) }

// Apply builds a binary node for an arbitrary operator.
func Apply(op Op, a, b Expr) Expr { return bin(op, a, b) }

// AsConst returns the value of e if it is a literal.
func AsConst(e Expr) (int64, bool) {
	if c, ok := e.(*Const); ok {
		return c.Value, true
	}
	return 0, false
}

// FloorDiv divides rounding toward negative infinity. Division by zero is 0.
func FloorDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// EuclidMod returns the non-negative remainder of a by |b|. Modulo by zero is 0.
func EuclidMod(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	r := a % b
	if r < 0 {
		if b < 0 {
			r -= b
		} else {
			r += b
		}
	}
	return r
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Fold evaluates op over two constants.
func Fold(op Op, a, b int64) int64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return FloorDiv(a, b)
	case OpMod:
		return EuclidMod(a, b)
	case OpMin:
		return min(a, b)
	case OpMax:
		return max(a, b)
	case OpEQ:
		return boolInt(a == b)
	case OpNE:
		return boolInt(a != b)
	case OpLT:
		return boolInt(a < b)
	case OpLE:
		return boolInt(a <= b)
	case OpGT:
		return boolInt(a > b)
	case OpGE:
		return boolInt(a >= b)
	case OpAnd:
		return boolInt(a != 0 && b != 0)
	case OpOr:
		return boolInt(a != 0 || b != 0)
	}
	panic(fmt.Sprintf("expr: unknown operator %v", op))
}
