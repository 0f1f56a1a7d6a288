package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

var x, y = expr.V("x"), expr.V("y")

func call(name string, kind expr.CallKind, args ...expr.Expr) *expr.Call {
	return &expr.Call{Name: name, Kind: kind, Args: args}
}

func sumModel() *Model {
	rx, ry := expr.V("rx"), expr.V("ry")
	return &Model{
		Name:   "sum",
		Params: []*Param{{Name: "scale", Default: ptr(int64(2))}, {Name: "w"}},
		Inputs: []*Input{{
			Name:     "in",
			Dims:     2,
			Bounds:   []Range{{Min: expr.Int(0), Extent: expr.Int(8)}, {Min: expr.Int(0), Extent: expr.Int(8)}},
			Requires: []expr.Expr{expr.GE(call("in", expr.CallBuffer, expr.Int(0), expr.Int(0)), expr.Int(0))},
		}},
		Domains: []*Domain{{
			Name:   "r",
			Ranges: []DomainRange{{Name: "rx", Min: expr.Int(0), Extent: expr.Int(8)}, {Name: "ry", Min: expr.Int(0), Extent: expr.Int(8)}},
		}},
		Stages: []*Stage{
			{
				Name:    "total",
				Values:  []expr.Expr{expr.Int(0)},
				Ensures: []expr.Expr{expr.GE(call("total", expr.CallStage), expr.Int(0))},
				Updates: []*Update{{
					Values:   []expr.Expr{expr.Add(call("total", expr.CallStage), call("scaled", expr.CallStage, rx, ry))},
					Domain:   "r",
					Combiner: "add",
				}},
			},
			{
				Name:   "scaled",
				Vars:   []string{"x", "y"},
				Values: []expr.Expr{expr.Mul(call("in", expr.CallBuffer, x, y), expr.P("scale"))},
			},
		},
		Outputs: []*Output{{Name: "total"}},
	}
}

func ptr[T any](v T) *T { return &v }

func TestModelPipeline(t *testing.T) {
	m := sumModel()
	p, err := m.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, "sum", p.Name())
	assert.Equal(t, []string{"scale", "w"}, p.Params())
	require.NotNil(t, p.Stage("scaled"), "stages may be called before they are declared")
	assert.Len(t, p.Stage("total").Updates(), 1)
	assert.Equal(t, pipeline.CombineAdd, p.Stage("total").Updates()[0].Combiner)
	assert.True(t, p.Input("in").Fixed())
	assert.Equal(t, map[string]int64{"scale": 2}, m.Defaults())

	var buf bytes.Buffer
	require.NoError(t, p.Dump(&buf))
	assert.Contains(t, buf.String(), "  requires (in(0, 0) >= 0)")
	assert.Contains(t, buf.String(), "  ensures (total() >= 0)")
}

func TestModelPipelineErrors(t *testing.T) {
	cases := []struct {
		name   string
		modify func(m *Model)
		want   string
	}{
		{"no output", func(m *Model) { m.Outputs = nil }, "has no output"},
		{"output is not a stage", func(m *Model) { m.Outputs = []*Output{{Name: "in"}} }, `output "in" is not a stage`},
		{"unknown rdom", func(m *Model) { m.Stages[0].Updates[0].Domain = "q" }, `unknown rdom "q"`},
		{"bad combiner", func(m *Model) { m.Stages[0].Updates[0].Combiner = "xor" }, "xor"},
		{"bounds arity", func(m *Model) { m.Inputs[0].Bounds = m.Inputs[0].Bounds[:1] }, "got 1 bounds"},
		{"duplicate rdom", func(m *Model) { m.Domains = append(m.Domains, m.Domains[0]) }, "declared twice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := sumModel()
			tc.modify(m)
			_, err := m.Pipeline()
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestModelSnapshot(t *testing.T) {
	t.Run("nested directives", func(t *testing.T) {
		m := sumModel()
		m.Schedule = &Schedule{
			VectorWidth: 8,
			Stages: []*StageSchedule{
				{Stage: "scaled", Directives: []*Directive{
					{Kind: DirComputeRoot},
					{Kind: DirSplit, Vars: []string{"x", "xo", "xi"}, Factors: []int64{4}, Tail: "guard"},
					{Kind: DirVectorize, Vars: []string{"xi"}, Factors: []int64{0}},
					{Kind: DirParallel, Vars: []string{"y"}},
					{Kind: DirSpecialize, Cond: expr.GT(expr.P("w"), expr.Int(0)), Body: []*Directive{
						{Kind: DirUnroll, Vars: []string{"y"}, Factors: []int64{2}},
					}},
				}},
				{Stage: "total", Directives: []*Directive{
					{Kind: DirUpdate, Def: 1, Body: []*Directive{
						{Kind: DirRFactor, Vars: []string{"ry", "u"}, Body: []*Directive{
							{Kind: DirUpdate, Def: 1, Body: []*Directive{{Kind: DirParallel, Vars: []string{"u"}}}},
						}},
					}},
				}},
			},
		}
		p, err := m.Pipeline()
		require.NoError(t, err)
		snap, err := m.Snapshot(p, schedule.WithVectorWidth(4))
		require.NoError(t, err)
		assert.Equal(t, 8, snap.VectorWidth())
		assert.True(t, snap.Stage("scaled").Compute.IsRoot())
		require.Len(t, snap.RFactors(), 1)
		assert.Equal(t, "total_intm", snap.RFactors()[0].Intermediate)
		ds := snap.Stage("scaled").Defs[0]
		require.Len(t, ds.Specializations, 1)
		assert.Equal(t, 2, ds.DimIndex("xi"))
	})

	t.Run("directive checks", func(t *testing.T) {
		cases := []struct {
			name string
			d    *Directive
			want string
		}{
			{"unknown", &Directive{Kind: "swizzle", Pos: "a.hcl:3"}, `a.hcl:3: unknown directive "swizzle"`},
			{"split arity", &Directive{Kind: DirSplit, Vars: []string{"x"}}, "split takes 3 loop names, got 1"},
			{"split factor", &Directive{Kind: DirSplit, Vars: []string{"x", "xo", "xi"}}, "split takes 1 factors, got 0"},
			{"tail", &Directive{Kind: DirSplit, Vars: []string{"x", "xo", "xi"}, Factors: []int64{2}, Tail: "wrap"}, `unknown tail policy "wrap"`},
			{"reorder", &Directive{Kind: DirReorder, Vars: []string{"x"}}, "reorder needs at least two loops"},
			{"compute at", &Directive{Kind: DirComputeAt, Vars: []string{"x"}}, "compute_at needs a stage"},
			{"bound", &Directive{Kind: DirBound, Vars: []string{"x"}}, "bound needs min and extent"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				m := sumModel()
				m.Schedule = &Schedule{Stages: []*StageSchedule{{Stage: "scaled", Directives: []*Directive{tc.d}}}}
				p, err := m.Pipeline()
				require.NoError(t, err)
				_, err = m.Snapshot(p)
				assert.ErrorIs(t, err, ErrInvalidModel)
				assert.ErrorContains(t, err, tc.want)
			})
		}
	})

	t.Run("builder errors surface", func(t *testing.T) {
		m := sumModel()
		m.Schedule = &Schedule{Stages: []*StageSchedule{{Stage: "scaled", Directives: []*Directive{
			{Kind: DirParallel, Vars: []string{"z"}},
		}}}}
		p, err := m.Pipeline()
		require.NoError(t, err)
		_, err = m.Snapshot(p)
		assert.ErrorIs(t, err, schedule.ErrInvalidDirective)
	})
}
