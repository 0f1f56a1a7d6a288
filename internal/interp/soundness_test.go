package interp

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/loopgrid/internal/bounds"
	"github.com/specialistvlad/loopgrid/internal/compiler"
	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

// affine returns a random affine index over v, sometimes mixing in w.
func affine(rng *rand.Rand, v, w expr.Expr) expr.Expr {
	c := expr.Int(rng.Int64N(5) - 2)
	switch rng.IntN(5) {
	case 0:
		return v
	case 1:
		return expr.Add(expr.Mul(v, expr.Int(2)), c)
	case 2:
		return expr.Add(expr.Add(v, w), c)
	default:
		return expr.Add(v, c)
	}
}

// randomPipeline chains 2 to 4 two-dimensional stages, each reading the
// previous one and sometimes earlier ones or the input.
func randomPipeline(t *testing.T, rng *rand.Rand) *pipeline.Pipeline {
	t.Helper()
	p := pipeline.New("random")
	in := p.DeclareInput("in", 2)
	read := func(s *pipeline.Stage, args ...expr.Expr) expr.Expr {
		if s == nil {
			return in.At(args...)
		}
		return s.At(args...)
	}
	var stages []*pipeline.Stage
	n := 2 + rng.IntN(3)
	for i := range n {
		var prev *pipeline.Stage
		if i > 0 {
			prev = stages[i-1]
		}
		val := read(prev, affine(rng, x, y), affine(rng, y, x))
		for range rng.IntN(3) {
			var src *pipeline.Stage
			if k := rng.IntN(i + 1); k < i {
				src = stages[k]
			}
			term := read(src, affine(rng, x, y), affine(rng, y, x))
			if rng.IntN(2) == 0 {
				val = expr.Add(val, term)
			} else {
				val = expr.Sub(val, expr.Mul(term, expr.Int(3)))
			}
		}
		s := p.Func(fmt.Sprintf("s%d", i))
		require.NoError(t, s.DefinePure([]string{"x", "y"}, val))
		stages = append(stages, s)
	}
	p.Output(stages[n-1]).Bounds([2]int64{0, 6}, [2]int64{-1, 5})
	return p
}

func constBox(t *testing.T, b bounds.Box) (lo, hi []int64) {
	t.Helper()
	for _, iv := range b {
		require.True(t, iv.Bounded())
		l, err := expr.Eval(iv.Min, expr.MapEnv{})
		require.NoError(t, err)
		h, err := expr.Eval(iv.Max, expr.MapEnv{})
		require.NoError(t, err)
		lo, hi = append(lo, l), append(hi, h)
	}
	return lo, hi
}

func TestRandomPipelinesAreSound(t *testing.T) {
	ctx := context.Background()
	for seed := uint64(1); seed <= 30; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, 2*seed+1))
			p := randomPipeline(t, rng)

			res, err := compiler.Compile(ctx, p, nil)
			require.NoError(t, err)
			lo, hi := constBox(t, res.Bounds.Footprints["in"])
			extent := make([]int64, len(lo))
			for d := range lo {
				extent[d] = hi[d] - lo[d] + 1
			}
			inputs := map[string]*Array{"in": ramp(lo, extent)}

			_, log, err := Reference(ctx, p, inputs, nil)
			require.NoError(t, err)
			for _, name := range log.Names() {
				box := res.Bounds.Required[name]
				if name == "in" {
					box = res.Bounds.Footprints[name]
				}
				require.NotNil(t, box, "%s was touched but has no inferred region", name)
				wantLo, wantHi := constBox(t, box)
				span, _ := log.Span(name)
				for d := range span.Min {
					assert.GreaterOrEqual(t, span.Min[d], wantLo[d], "%s dimension %d", name, d)
					assert.LessOrEqual(t, span.Max[d], wantHi[d], "%s dimension %d", name, d)
				}
			}

			matchesReference(t, p, res.Program, inputs, nil)
			scheduled := compile(t, p, func(b *schedule.Builder) {
				for i, s := range p.Stages() {
					if i == len(p.Stages())-1 {
						b.Stage(s.Name()).Split("x", "xo", "xi", 2+rng.Int64N(3), schedule.TailGuard).Parallel("y")
						continue
					}
					if rng.IntN(2) == 0 {
						b.Stage(s.Name()).ComputeRoot()
					}
				}
			})
			matchesReference(t, p, scheduled, inputs, nil)
		})
	}
}
