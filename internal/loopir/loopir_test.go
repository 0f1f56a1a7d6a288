package loopir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
)

func sample() *Program {
	x := expr.V("f.s0.x")
	body := &Allocate{
		Name:   "f",
		Tuple:  1,
		Bounds: []Range{{Min: expr.Int(0), Extent: expr.P("n")}},
		Body: Seq(
			&ProducerConsumer{
				Name: "f",
				Contracts: []pipeline.Contract{{
					Target: "f", Kind: pipeline.Ensures, Pred: expr.GE(expr.V("x"), expr.Int(0)),
				}},
				Body: &For{
					Name: "f.s0.x", Min: expr.Int(0), Extent: expr.P("n"), Type: Parallel,
					Body: &Provide{Name: "f", Args: []expr.Expr{x}, Values: []expr.Expr{expr.Mul(x, expr.Int(2))}},
				},
			},
			&For{
				Name: "g.s0.x", Min: expr.Int(0), Extent: expr.Int(4),
				Body: &If{
					Cond: expr.LT(expr.V("g.s0.x"), expr.P("n")),
					Then: &Provide{Name: "g", Args: []expr.Expr{expr.V("g.s0.x")},
						Values: []expr.Expr{&expr.Call{Name: "f", Kind: expr.CallStage, Args: []expr.Expr{expr.V("g.s0.x")}}}},
				},
			},
		),
	}
	return &Program{
		Name:    "p",
		Params:  []string{"n"},
		Outputs: []BufferDecl{{Name: "g", Tuple: 1, Bounds: []Range{{Min: expr.Int(0), Extent: expr.Int(4)}}}},
		Body:    Seq(&Assert{Cond: expr.GE(expr.P("n"), expr.Int(4)), Message: "n too small"}, body),
	}
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, sample()))
	want := `program p(n)
output g[0, 4]
assert (n >= 4), "n too small"
allocate f[0, n] {
  produce f {
    // ensures f.0: (x >= 0)
    for parallel f.s0.x in [0, 0 + n) {
      f(f.s0.x) = (f.s0.x * 2)
    }
  }
  for g.s0.x in [0, 0 + 4) {
    if (g.s0.x < n) {
      g(g.s0.x) = f(g.s0.x)
    }
  }
}
`
	assert.Equal(t, want, buf.String())
}

func TestWalkers(t *testing.T) {
	prog := sample()
	assert.True(t, Uses(prog.Body, "f"))
	assert.True(t, Uses(prog.Body, "g"))
	assert.False(t, Uses(prog.Body, "h"))
	assert.Equal(t, []string{"n"}, Params(prog.Body))

	var names []string
	for _, f := range Loops(prog.Body) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"f.s0.x", "g.s0.x"}, names)
	require.Len(t, Calls(prog.Body), 1)

	out, ok := prog.Output("g")
	require.True(t, ok)
	assert.Equal(t, 1, out.Tuple)
}

func TestSeq(t *testing.T) {
	a := &Assert{Cond: expr.Int(1)}
	assert.Same(t, Stmt(a), Seq(nil, a))
	b := Seq(a, Seq(a, a), nil)
	require.IsType(t, &Block{}, b)
	assert.Len(t, b.(*Block).Stmts, 3)
}
