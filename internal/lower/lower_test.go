package lower

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/loopgrid/internal/bounds"
	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/loopir"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/rdom"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

var x, y = expr.V("x"), expr.V("y")

func blur(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p := pipeline.New("blur")
	in := p.DeclareInput("in", 2)
	bx := p.Func("blur_x")
	require.NoError(t, bx.DefinePure([]string{"x", "y"},
		expr.Div(expr.Add(expr.Add(in.At(x, y), in.At(expr.Add(x, expr.Int(1)), y)), in.At(expr.Add(x, expr.Int(2)), y)), expr.Int(3))))
	by := p.Func("blur_y")
	require.NoError(t, by.DefinePure([]string{"x", "y"},
		expr.Div(expr.Add(expr.Add(bx.At(x, y), bx.At(x, expr.Add(y, expr.Int(1)))), bx.At(x, expr.Add(y, expr.Int(2)))), expr.Int(3))))
	p.Output(by).Bounds([2]int64{0, 10}, [2]int64{0, 10})
	return p
}

func lower(t *testing.T, p *pipeline.Pipeline, sched func(b *schedule.Builder)) (*loopir.Program, error) {
	t.Helper()
	b := schedule.NewBuilder(p, schedule.WithVectorWidth(4))
	if sched != nil {
		sched(b)
	}
	snap, err := b.Build()
	require.NoError(t, err)
	p, err = snap.Apply(p)
	require.NoError(t, err)
	res, err := bounds.Infer(p, snap)
	require.NoError(t, err)
	return Lower(p, snap, res)
}

// enclosing returns the names of the loops around the first statement
// match accepts, outermost first.
func enclosing(s loopir.Stmt, match func(loopir.Stmt) bool) ([]string, bool) {
	if s == nil {
		return nil, false
	}
	if match(s) {
		return nil, true
	}
	var kids []loopir.Stmt
	switch n := s.(type) {
	case *loopir.For:
		if names, ok := enclosing(n.Body, match); ok {
			return append([]string{n.Name}, names...), true
		}
		return nil, false
	case *loopir.Let:
		kids = []loopir.Stmt{n.Body}
	case *loopir.If:
		kids = []loopir.Stmt{n.Then, n.Else}
	case *loopir.ProducerConsumer:
		kids = []loopir.Stmt{n.Body}
	case *loopir.Allocate:
		kids = []loopir.Stmt{n.Body}
	case *loopir.Block:
		kids = n.Stmts
	}
	for _, k := range kids {
		if names, ok := enclosing(k, match); ok {
			return names, true
		}
	}
	return nil, false
}

func allocOf(name string) func(loopir.Stmt) bool {
	return func(s loopir.Stmt) bool {
		a, ok := s.(*loopir.Allocate)
		return ok && a.Name == name
	}
}

func produceOf(name string) func(loopir.Stmt) bool {
	return func(s loopir.Stmt) bool {
		pc, ok := s.(*loopir.ProducerConsumer)
		return ok && pc.Name == name
	}
}

func loopNames(s loopir.Stmt) []string {
	var out []string
	for _, f := range loopir.Loops(s) {
		out = append(out, f.Name)
	}
	return out
}

func TestLowerPrint(t *testing.T) {
	p := pipeline.New("p")
	in := p.DeclareInput("in", 1).Bounds([2]int64{0, 9})
	f := p.Func("f")
	require.NoError(t, f.DefinePure([]string{"x"}, expr.Mul(in.At(x), expr.Int(2))))
	g := p.Func("g")
	require.NoError(t, g.DefinePure([]string{"x"}, expr.Add(f.At(x), f.At(expr.Add(x, expr.Int(1))))))
	p.Output(g).Bounds([2]int64{0, 8})

	prog, err := lower(t, p, func(b *schedule.Builder) {
		b.Stage("f").ComputeRoot()
		b.Stage("g").Split("x", "xo", "xi", 4, schedule.TailGuard)
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, loopir.Print(&buf, prog))
	want := `program p()
input in[0, 9]
output g[0, 8]
allocate f[0, 9] {
  produce f {
    for f.s0.x in [0, 0 + 9) {
      f(f.s0.x) = (in(f.s0.x) * 2)
    }
  }
  produce g {
    for g.s0.xo in [0, 0 + 2) {
      for g.s0.xi in [0, 0 + 4) {
        let g.s0.x = (g.s0.xi + (g.s0.xo * 4))
        g(g.s0.x) = (f(g.s0.x) + f((g.s0.x + 1)))
      }
    }
  }
}
`
	assert.Equal(t, want, buf.String())
}

func TestLowerBlur(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		prog, err := lower(t, blur(t), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"blur_y.s0.y", "blur_y.s0.x"}, loopNames(prog.Body))
		_, ok := enclosing(prog.Body, allocOf("blur_x"))
		assert.False(t, ok, "an inlined stage has no storage")
		assert.NotContains(t, loopir.String(prog.Body), "blur_x(")
		assert.Contains(t, prog.Params, "in.extent.0")
	})

	t.Run("compute root", func(t *testing.T) {
		prog, err := lower(t, blur(t), func(b *schedule.Builder) {
			b.Stage("blur_x").ComputeRoot()
		})
		require.NoError(t, err)
		loops, ok := enclosing(prog.Body, allocOf("blur_x"))
		require.True(t, ok)
		assert.Empty(t, loops)
		assert.Equal(t, []string{"blur_x.s0.y", "blur_x.s0.x", "blur_y.s0.y", "blur_y.s0.x"}, loopNames(prog.Body))
	})

	t.Run("compute at a split parallel loop", func(t *testing.T) {
		prog, err := lower(t, blur(t), func(b *schedule.Builder) {
			b.Stage("blur_y").Split("y", "yo", "yi", 4, schedule.TailGuard).Parallel("yo")
			b.Stage("blur_x").ComputeAt("blur_y", "yi").StoreAt("blur_y", "yo")
		})
		require.NoError(t, err)
		loops, ok := enclosing(prog.Body, allocOf("blur_x"))
		require.True(t, ok)
		assert.Equal(t, []string{"blur_y.s0.yo"}, loops)
		loops, ok = enclosing(prog.Body, produceOf("blur_x"))
		require.True(t, ok)
		assert.Equal(t, []string{"blur_y.s0.yo", "blur_y.s0.yi"}, loops)

		outer := loopir.Loops(prog.Body)[0]
		assert.Equal(t, "blur_y.s0.yo", outer.Name)
		assert.Equal(t, loopir.Parallel, outer.Type)
		assert.Contains(t, loopir.String(prog.Body), "if ((blur_y.s0.yi + (blur_y.s0.yo * 4)) < 10)")
	})

	t.Run("symbolic inputs are asserted", func(t *testing.T) {
		prog, err := lower(t, blur(t), nil)
		require.NoError(t, err)
		block, ok := prog.Body.(*loopir.Block)
		require.True(t, ok)
		_, ok = block.Stmts[0].(*loopir.Assert)
		assert.True(t, ok)
	})
}

func TestLowerPlacementErrors(t *testing.T) {
	chain := func(t *testing.T) *pipeline.Pipeline {
		p := pipeline.New("chain")
		in := p.DeclareInput("in", 1).Bounds([2]int64{0, 20})
		f := p.Func("f")
		require.NoError(t, f.DefinePure([]string{"x"}, expr.Add(in.At(x), expr.Int(1))))
		g := p.Func("g")
		require.NoError(t, g.DefinePure([]string{"x"}, expr.Mul(f.At(x), expr.Int(2))))
		h := p.Func("h")
		require.NoError(t, h.DefinePure([]string{"x"}, expr.Add(g.At(x), f.At(x))))
		p.Output(h).Bounds([2]int64{0, 16})
		return p
	}

	cases := []struct {
		name  string
		sched func(b *schedule.Builder)
		want  error
	}{
		{
			name: "circular",
			sched: func(b *schedule.Builder) {
				b.Stage("f").ComputeAt("g", "x")
				b.Stage("g").ComputeAt("f", "x")
			},
			want: ErrCircularPlacement,
		},
		{
			name: "missing loop",
			sched: func(b *schedule.Builder) {
				b.Stage("f").ComputeAt("h", "nope")
			},
			want: ErrUnreachablePlacement,
		},
		{
			name: "inlined target",
			sched: func(b *schedule.Builder) {
				b.Stage("f").ComputeAt("g", "x")
			},
			want: ErrUnreachablePlacement,
		},
		{
			name: "level does not enclose every use",
			sched: func(b *schedule.Builder) {
				b.Stage("g").ComputeRoot()
				b.Stage("f").ComputeAt("g", "x")
			},
			want: schedule.ErrInvalidPlacement,
		},
		{
			name: "shared storage inside a parallel loop",
			sched: func(b *schedule.Builder) {
				b.Stage("h").Parallel("x")
				b.Stage("g").ComputeAt("h", "x").StoreRoot()
			},
			want: schedule.ErrInvalidPlacement,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := lower(t, chain(t), tc.sched)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("valid nested placement", func(t *testing.T) {
		prog, err := lower(t, chain(t), func(b *schedule.Builder) {
			b.Stage("g").ComputeAt("h", "x")
			b.Stage("f").ComputeAt("h", "x")
		})
		require.NoError(t, err)
		loops, ok := enclosing(prog.Body, produceOf("f"))
		require.True(t, ok)
		assert.Equal(t, []string{"h.s0.x"}, loops)
	})
}

func TestLowerUnschedulable(t *testing.T) {
	p := pipeline.New("v")
	in := p.DeclareInput("in", 1)
	g := p.Func("g")
	require.NoError(t, g.DefinePure([]string{"x"}, in.At(x)))
	p.Output(g)

	_, err := lower(t, p, func(b *schedule.Builder) {
		b.Stage("g").Vectorize("x", 0)
	})
	assert.ErrorIs(t, err, schedule.ErrUnschedulableDimension)

	prog, err := lower(t, p, func(b *schedule.Builder) {
		b.Stage("g").Vectorize("x", schedule.NaturalWidth)
	})
	require.NoError(t, err)
	inner := loopir.Loops(prog.Body)[1]
	assert.Equal(t, "g.s0.x_vi", inner.Name)
	assert.Equal(t, loopir.Vectorized, inner.Type)
	assert.Equal(t, "4", inner.Extent.String())
}

func TestLowerSpecialize(t *testing.T) {
	w := expr.P("w")
	prog, err := lower(t, blur(t), func(b *schedule.Builder) {
		b.Stage("blur_y").Specialize(expr.GT(w, expr.Int(0))).Split("x", "xo", "xi", 2, schedule.TailGuard)
	})
	require.NoError(t, err)
	assert.Contains(t, prog.Params, "w")

	var branch *loopir.If
	loopir.Visit(prog.Body, func(s loopir.Stmt) bool {
		if i, ok := s.(*loopir.If); ok && branch == nil {
			branch = i
		}
		return branch == nil
	})
	require.NotNil(t, branch)
	assert.Equal(t, "(w > 0)", branch.Cond.String())
	assert.Equal(t, []string{"blur_y.s0.y", "blur_y.s0.xo", "blur_y.s0.xi"}, loopNames(branch.Then))
	assert.Equal(t, []string{"blur_y.s0.y", "blur_y.s0.x"}, loopNames(branch.Else))
}

func TestLowerComputeWith(t *testing.T) {
	pair := func(t *testing.T, gy int64) *pipeline.Pipeline {
		p := pipeline.New("pair")
		f := p.Func("f")
		require.NoError(t, f.DefinePure([]string{"x", "y"}, expr.Add(x, y)))
		g := p.Func("g")
		require.NoError(t, g.DefinePure([]string{"x", "y"}, expr.Mul(x, y)))
		p.Output(f).Bounds([2]int64{0, 4}, [2]int64{0, 4})
		p.Output(g).Bounds([2]int64{0, 4}, [2]int64{0, gy})
		return p
	}

	prog, err := lower(t, pair(t, 4), func(b *schedule.Builder) {
		b.Stage("g").ComputeWith("f", 0, "y")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"f.s0.y", "f.s0.x", "g.s0.x"}, loopNames(prog.Body))
	assert.Contains(t, loopir.String(prog.Body), "let g.s0.y = f.s0.y")

	_, err = lower(t, pair(t, 6), func(b *schedule.Builder) {
		b.Stage("g").ComputeWith("f", 0, "y")
	})
	assert.ErrorIs(t, err, schedule.ErrIncompatibleFusion)

	_, err = lower(t, pair(t, 4), func(b *schedule.Builder) {
		b.Stage("f").Specialize(expr.GT(expr.P("w"), expr.Int(0)))
		b.Stage("g").ComputeWith("f", 0, "y")
	})
	assert.ErrorIs(t, err, schedule.ErrIncompatibleFusion)
}

func TestLowerReductions(t *testing.T) {
	p := pipeline.New("sum")
	in := p.DeclareInput("in", 2).Bounds([2]int64{0, 10}, [2]int64{0, 10})
	total := p.Func("total")
	require.NoError(t, total.DefinePure(nil, expr.Int(0)))
	r, err := rdom.New("r", rdom.R("rx", 0, 10), rdom.R("ry", 0, 10))
	require.NoError(t, err)
	require.NoError(t, total.DefineUpdate(nil, []expr.Expr{expr.Add(total.At(), in.At(expr.V("rx"), expr.V("ry")))},
		pipeline.WithDomain(r), pipeline.WithCombiner(pipeline.CombineAdd)))
	p.Output(total)

	t.Run("reduction loops nest in declaration order", func(t *testing.T) {
		prog, err := lower(t, p, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"total.s1.rx", "total.s1.ry"}, loopNames(prog.Body))
	})

	t.Run("rfactor", func(t *testing.T) {
		prog, err := lower(t, p, func(b *schedule.Builder) {
			b.Stage("total").Def(1).RFactor("ry", "u").Parallel("u")
		})
		require.NoError(t, err)
		_, ok := enclosing(prog.Body, produceOf("total_intm"))
		require.True(t, ok)
		loops, ok := enclosing(prog.Body, allocOf("total_intm"))
		require.True(t, ok)
		assert.Empty(t, loops)
	})
}
