package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/loopgrid/internal/compiler"
	"github.com/specialistvlad/loopgrid/internal/config"
	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/interp"
)

const blurHCL = `
name = "blur"

param "w" {
  default = 10
}

input "src" {
  dims = 2
  sample {
    bounds = [[0, 12], [0, 12]]
    vars   = ["i", "j"]
    value  = (i * 31 + j * 17) % 101
  }
}

stage "blur_x" {
  vars  = ["x", "y"]
  value = (src(x, y) + src(x + 1, y) + src(x + 2, y)) / 3
}

stage "blur_y" {
  vars  = ["x", "y"]
  value = (blur_x(x, y) + blur_x(x, y + 1) + blur_x(x, y + 2)) / 3
}

output "blur_y" {
  bounds = [[0, w], [0, w]]
}

schedule {
  vector_width = 4

  stage "blur_x" {
    compute_at {
      stage = "blur_y"
      var   = "y"
    }
  }

  stage "blur_y" {
    split {
      var    = "x"
      outer  = "xo"
      inner  = "xi"
      factor = 4
      tail   = "guard"
    }
    vectorize {
      var = "xi"
    }
    parallel {
      var = "y"
    }
  }
}
`

// writeFiles lays out files under a temporary directory and returns it.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func load(t *testing.T, files map[string]string) (*config.Model, error) {
	t.Helper()
	return NewLoader().Load(context.Background(), writeFiles(t, files))
}

func TestLoadBlur(t *testing.T) {
	m, err := load(t, map[string]string{"blur.hcl": blurHCL})
	require.NoError(t, err)

	assert.Equal(t, "blur", m.Name)
	assert.Equal(t, map[string]int64{"w": 10}, m.Defaults())
	require.Len(t, m.Stages, 2)
	assert.Equal(t, "(((blur_x(x, y) + blur_x(x, (y + 1))) + blur_x(x, (y + 2))) / 3)", m.Stages[1].Values[0].String())
	require.Len(t, m.Outputs, 1)
	require.Len(t, m.Outputs[0].Bounds, 2)
	assert.IsType(t, &expr.Param{}, m.Outputs[0].Bounds[0].Extent)

	src := m.Input("src")
	require.NotNil(t, src)
	assert.Nil(t, src.Bounds)
	require.NotNil(t, src.Sample)
	assert.Equal(t, []int64{0, 0}, src.Sample.Min)
	assert.Equal(t, []int64{12, 12}, src.Sample.Extent)

	require.NotNil(t, m.Schedule)
	assert.Equal(t, 4, m.Schedule.VectorWidth)
	require.Len(t, m.Schedule.Stages, 2)
	kinds := func(ds []*config.Directive) []string {
		var out []string
		for _, d := range ds {
			out = append(out, d.Kind)
		}
		return out
	}
	assert.Equal(t, []string{"split", "vectorize", "parallel"}, kinds(m.Schedule.Stages[1].Directives))
	split := m.Schedule.Stages[1].Directives[0]
	assert.Equal(t, []string{"x", "xo", "xi"}, split.Vars)
	assert.Equal(t, []int64{4}, split.Factors)
	assert.Equal(t, "guard", split.Tail)
	assert.Contains(t, split.Pos, "blur.hcl")

	t.Run("compiles and runs", func(t *testing.T) {
		ctx := context.Background()
		p, err := m.Pipeline()
		require.NoError(t, err)
		snap, err := m.Snapshot(p)
		require.NoError(t, err)
		res, err := compiler.Compile(ctx, p, snap)
		require.NoError(t, err)

		params := m.Defaults()
		in, err := interp.Generate(src.Sample.Min, src.Sample.Extent, src.Sample.Vars, src.Sample.Value, params)
		require.NoError(t, err)
		inputs := map[string]*interp.Array{"src": in}

		got, err := interp.Run(ctx, res.Program, inputs, params)
		require.NoError(t, err)
		want, _, err := interp.Reference(ctx, p, inputs, params)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("outputs mismatch (-reference +compiled):\n%s", diff)
		}
		assert.Equal(t, []int64{0, 0}, got["blur_y"].Min)
		assert.Equal(t, []int64{10, 10}, got["blur_y"].Extent)
	})
}

func TestLoadReductionsAndDirectives(t *testing.T) {
	src := `
param "n" {}

input "img" {
  dims   = 2
  bounds = [[0, n], [0, n]]
  requires = [img(0, 0) >= 0]
}

rdom "r" {
  range "rx" {
    min    = 0
    extent = n
  }
  range "ry" {
    min    = 0
    extent = n
  }
  where {
    cond = rx <= ry
  }
}

stage "pair" {
  values = [img(x, 0), img(0, x)]
  vars   = ["x"]
}

stage "total" {
  value   = 0
  ensures = [total() >= 0]

  update {
    value    = total() + elem(pair, 1, rx) + img(rx, ry)
    rdom     = "r"
    combiner = "add"
  }
}

output "total" {}

schedule {
  stage "total" {
    update {
      def = 1
      rfactor {
        var  = "ry"
        into = "u"
        update {
          def = 1
          parallel {
            var = "u"
          }
        }
      }
    }
  }

  stage "pair" {
    compute_root {}
    specialize {
      cond = n > 4
      split {
        var    = "x"
        outer  = "xo"
        inner  = "xi"
        factor = 2
      }
    }
    bound {
      var    = "x"
      min    = 0
      extent = n
    }
  }
}
`
	m, err := load(t, map[string]string{"sum.hcl": src})
	require.NoError(t, err)

	assert.Nil(t, m.Param("n").Default)
	img := m.Input("img")
	require.Len(t, img.Bounds, 2)
	assert.Equal(t, "n", img.Bounds[1].Extent.String())
	require.Len(t, img.Requires, 1)
	calls := expr.Calls(img.Requires[0])
	require.Len(t, calls, 1)
	assert.Equal(t, expr.CallBuffer, calls[0].Kind)

	require.Len(t, m.Domains, 1)
	assert.Equal(t, "rx", m.Domains[0].Ranges[0].Name)
	require.Len(t, m.Domains[0].Where, 1)
	assert.Equal(t, "(rx <= ry)", m.Domains[0].Where[0].Cond.String())

	pair, total := m.Stages[0], m.Stages[1]
	assert.Len(t, pair.Values, 2)
	require.Len(t, total.Updates, 1)
	u := total.Updates[0]
	assert.Equal(t, "r", u.Domain)
	assert.Equal(t, "add", u.Combiner)
	assert.Nil(t, u.Args)
	assert.Contains(t, u.Values[0].String(), "pair(rx)[1]")
	require.Len(t, total.Ensures, 1)

	scheds := m.Schedule.Stages
	require.Len(t, scheds, 2)
	upd := scheds[0].Directives[0]
	assert.Equal(t, config.DirUpdate, upd.Kind)
	assert.Equal(t, 1, upd.Def)
	rf := upd.Body[0]
	assert.Equal(t, []string{"ry", "u"}, rf.Vars)
	assert.Equal(t, []string{"u"}, rf.Body[0].Body[0].Vars)

	pairSched := scheds[1].Directives
	require.Len(t, pairSched, 3)
	assert.Equal(t, "(n > 4)", pairSched[1].Cond.String())
	assert.Equal(t, []string{"x", "xo", "xi"}, pairSched[1].Body[0].Vars)
	assert.Equal(t, "n", pairSched[2].Extent.String())

	p, err := m.Pipeline()
	require.NoError(t, err)
	_, err = m.Snapshot(p)
	require.NoError(t, err)
}

func TestDirectiveLoopNames(t *testing.T) {
	src := `
schedule {
  vector_width = 16

  stage "f" {
    tile {
      vars    = ["x", "y", "xo", "yo", "xi", "yi"]
      factors = [8, 4]
      tail    = "round_up"
    }
    fuse {
      inner = "xi"
      outer = "yi"
      fused = "t"
    }
    rename {
      var = "t"
      to  = "lane"
    }
    reorder {
      vars = ["lane", "yo", "xo"]
    }
    vectorize {
      var    = "lane"
      factor = 8
    }
    compute_with {
      stage = "g"
      def   = 0
      var   = "yo"
    }
    split {
      var    = "xo"
      factor = 2
    }
  }
}
`
	m, err := load(t, map[string]string{"s.hcl": src})
	require.NoError(t, err)
	ds := m.Schedule.Stages[0].Directives
	require.Len(t, ds, 7)

	got := make([][]string, len(ds))
	for i, d := range ds {
		got[i] = d.Vars
	}
	want := [][]string{
		{"x", "y", "xo", "yo", "xi", "yi"},
		{"xi", "yi", "t"},
		{"t", "lane"},
		{"lane", "yo", "xo"},
		{"lane"},
		{"yo"},
		{"xo"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loop names mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 16, m.Schedule.VectorWidth)
	assert.Equal(t, []int64{8, 4}, ds[0].Factors)
	assert.Equal(t, "round_up", ds[0].Tail)
	assert.Equal(t, []int64{8}, ds[4].Factors)
	assert.Equal(t, "g", ds[5].Stage)
}

func TestLoadMergesFiles(t *testing.T) {
	m, err := load(t, map[string]string{
		"params.hcl":       "param \"k\" {\n  default = 3\n}\n",
		"stages/main.hcl":  "stage \"f\" {\n  vars  = [\"x\"]\n  value = x * k\n}\n\noutput \"f\" {\n  bounds = [[0, 4]]\n}\n",
		"stages/notes.txt": "not a manifest",
	})
	require.NoError(t, err)
	require.Len(t, m.Stages, 1)
	assert.Equal(t, "(x * k)", m.Stages[0].Values[0].String())
	assert.IsType(t, &expr.Param{}, m.Stages[0].Values[0].(*expr.Binary).B)
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `stage "f" {`, "failed to parse HCL file"},
		{"unknown attribute", `colour = "red"`, "failed to decode HCL file"},
		{"value and values", "stage \"f\" {\n  value  = 1\n  values = [1]\n}\n", "Only one of value and values may be set"},
		{"no value", "stage \"f\" {\n  vars = [\"x\"]\n}\n", "needs a value or values"},
		{"bad bounds", "output \"f\" {\n  bounds = [[0, 1, 2]]\n}\n", "Expected a [min, extent] pair"},
		{"string in body", "stage \"f\" {\n  value = \"x\"\n}\n", "Stage bodies may use"},
		{"directive argument", "schedule {\n  stage \"f\" {\n    parallel {\n      loop = \"x\"\n    }\n  }\n}\n", `An argument named "loop" is not expected here`},
		{"schedule block", "schedule {\n  func \"f\" {}\n}\n", "A schedule holds stage"},
		{"sample pair", "input \"a\" {\n  dims = 1\n  sample {\n    bounds = [[0]]\n    vars   = [\"i\"]\n    value  = i\n  }\n}\n", "[min, extent] pair"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(t, map[string]string{"m.hcl": tc.src})
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.want)
		})
	}

	t.Run("missing path", func(t *testing.T) {
		_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.hcl"))
		assert.ErrorContains(t, err, "does not exist")
	})

	t.Run("no manifests", func(t *testing.T) {
		_, err := NewLoader().Load(context.Background(), t.TempDir())
		assert.ErrorIs(t, err, config.ErrInvalidModel)
	})
}

func TestTranslateExpressions(t *testing.T) {
	sc := newScope()
	sc.params["w"] = true
	sc.inputs["src"] = true

	cases := []struct {
		src  string
		want string
	}{
		{"a + b * 2", "(a + (b * 2))"},
		{"(a - 1) / 2 % 3", "(((a - 1) / 2) % 3)"},
		{"min(x, y, 3)", "min(min(x, y), 3)"},
		{"max(x)", "x"},
		{"clamp(x, 0, 9)", "max(min(x, 9), 0)"},
		{"abs(w)", "max(w, (0 - w))"},
		{"-x", "(0 - x)"},
		{"-3", "-3"},
		{"!(x < 1)", "!(x < 1)"},
		{"x >= 0 && y != 2 || true", "(((x >= 0) && (y != 2)) || 1)"},
		{"x > 0 ? f(x) : src(x, 0)", "select((x > 0), f(x), src(x, 0))"},
		{"select(x == 1, 2, 3)", "select((x == 1), 2, 3)"},
		{"elem(f, 2, x, y)", "f(x, y)[2]"},
		{"g()", "g()"},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			e, diags := hclsyntax.ParseExpression([]byte(tc.src), "t.hcl", hcl.Pos{Line: 1, Column: 1})
			require.False(t, diags.HasErrors(), diags.Error())
			got, diags := sc.translate(e)
			require.False(t, diags.HasErrors(), diags.Error())
			assert.Equal(t, tc.want, got.String())
		})
	}

	t.Run("kinds", func(t *testing.T) {
		e, _ := hclsyntax.ParseExpression([]byte("src(x, w) + f(x)"), "t.hcl", hcl.Pos{Line: 1, Column: 1})
		got, diags := sc.translate(e)
		require.False(t, diags.HasErrors())
		calls := expr.Calls(got)
		require.Len(t, calls, 2)
		kinds := map[string]expr.CallKind{}
		for _, c := range calls {
			kinds[c.Name] = c.Kind
		}
		assert.Equal(t, map[string]expr.CallKind{"src": expr.CallBuffer, "f": expr.CallStage}, kinds)
		assert.Equal(t, []string{"w"}, expr.Params(got))
		assert.Equal(t, []string{"x"}, expr.FreeVars(got))
	})

	errs := []struct {
		src  string
		want string
	}{
		{"a.b", "Only plain names may be referenced"},
		{"1.5", "Expected an integer"},
		{"[1, 2]", "Stage bodies may use"},
		{"min()", "min() got 0 arguments"},
		{"clamp(1, 2)", "clamp() got 2 arguments"},
		{"elem(1, 0)", "must name a stage"},
	}
	for _, tc := range errs {
		t.Run("error "+tc.src, func(t *testing.T) {
			e, diags := hclsyntax.ParseExpression([]byte(tc.src), "t.hcl", hcl.Pos{Line: 1, Column: 1})
			require.False(t, diags.HasErrors(), diags.Error())
			_, diags = sc.translate(e)
			require.True(t, diags.HasErrors())
			assert.Contains(t, diags.Error(), tc.want)
		})
	}
}
