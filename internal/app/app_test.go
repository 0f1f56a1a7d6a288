package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/loopgrid/internal/app"
	"github.com/specialistvlad/loopgrid/internal/bounds"
	"github.com/specialistvlad/loopgrid/internal/config"
	"github.com/specialistvlad/loopgrid/internal/interp"
	"github.com/specialistvlad/loopgrid/internal/testutil"
)

func TestNewConfig(t *testing.T) {
	_, err := app.NewConfig(app.Config{})
	assert.ErrorContains(t, err, "PipelinePath is a required")

	_, err = app.NewConfig(app.Config{PipelinePath: "p.hcl", Workers: -1})
	assert.ErrorContains(t, err, "workers must not be negative")

	_, err = app.NewConfig(app.Config{PipelinePath: "p.hcl", VectorWidth: -8})
	assert.ErrorContains(t, err, "vector width must not be negative")

	cfg, err := app.NewConfig(app.Config{PipelinePath: "p.hcl", Check: true})
	require.NoError(t, err)
	assert.True(t, cfg.Run, "checking implies running")
}

func TestRunBlur(t *testing.T) {
	files := map[string]string{
		"blur.hcl":     testutil.BlurHCL,
		"schedule.hcl": testutil.BlurScheduleHCL,
	}

	t.Run("print and dump", func(t *testing.T) {
		res := testutil.RunApp(t, files, app.Config{Print: true, Dump: true, VectorWidth: 4})
		require.NoError(t, res.Err)
		assert.Contains(t, res.Output, "Pipeline compiled.")
		assert.Contains(t, res.Output, "program blur(")
		assert.Contains(t, res.Output, "parallel")
		assert.Contains(t, res.Output, "blur_x")
		assert.NotContains(t, res.Output, "Running compiled program")
		require.NotNil(t, res.App)
		assert.Equal(t, "blur", res.App.Model().Name)
	})

	t.Run("checked run", func(t *testing.T) {
		res := testutil.RunApp(t, files, app.Config{Check: true, Workers: 3})
		require.NoError(t, res.Err)
		assert.Contains(t, res.Output, "blur_y = [0, +10)x[0, +10)")
		assert.Contains(t, res.Output, "Outputs match the reference evaluation.")
	})

	t.Run("parameter override", func(t *testing.T) {
		res := testutil.RunApp(t, files, app.Config{Check: true, Params: map[string]int64{"w": 4}})
		require.NoError(t, res.Err)
		assert.Contains(t, res.Output, "blur_y = [0, +4)x[0, +4)[")
	})

	t.Run("input too small", func(t *testing.T) {
		res := testutil.RunApp(t, files, app.Config{Run: true, Params: map[string]int64{"w": 11}})
		require.Error(t, res.Err)
		assert.ErrorContains(t, res.Err, "execution failed")
	})
}

func TestRunHistogram(t *testing.T) {
	res := testutil.RunApp(t, map[string]string{"hist.hcl": testutil.HistogramHCL}, app.Config{Check: true})
	require.NoError(t, res.Err)
	assert.Contains(t, res.Output, "hist = [0, +8)[32 32 32 32 32 32 32 32]")
}

func TestRunFailures(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		cfg   app.Config
		is    error
		want  string
	}{
		{
			name:  "load",
			files: map[string]string{"bad.hcl": `stage "f" {`},
			want:  "failed to load manifest",
		},
		{
			name:  "pipeline",
			files: map[string]string{"p.hcl": "stage \"f\" {\n  vars  = [\"x\"]\n  value = x\n}\n"},
			is:    config.ErrInvalidModel,
			want:  "failed to build pipeline",
		},
		{
			name: "schedule",
			files: map[string]string{
				"blur.hcl": testutil.BlurHCL,
				"s.hcl":    "schedule {\n  stage \"blur_y\" {\n    split {\n      var = \"x\"\n    }\n  }\n}\n",
			},
			is:   config.ErrInvalidModel,
			want: "failed to build schedule",
		},
		{
			name: "bounds",
			files: map[string]string{
				"p.hcl": "input \"a\" {\n  dims   = 1\n  bounds = [[0, 4]]\n}\n\nstage \"f\" {\n  vars  = [\"x\"]\n  value = a(x + 2)\n}\n\noutput \"f\" {\n  bounds = [[0, 4]]\n}\n",
			},
			is:   bounds.ErrInfeasibleBounds,
			want: "compilation failed",
		},
		{
			name: "no sample",
			files: map[string]string{
				"p.hcl": "input \"a\" {\n  dims   = 1\n  bounds = [[0, 4]]\n}\n\nstage \"f\" {\n  vars  = [\"x\"]\n  value = a(x)\n}\n\noutput \"f\" {\n  bounds = [[0, 4]]\n}\n",
			},
			cfg:  app.Config{Run: true},
			is:   app.ErrNoSample,
			want: `input "a"`,
		},
		{
			name: "missing parameter",
			files: map[string]string{
				"p.hcl": "param \"k\" {}\n\nstage \"f\" {\n  vars  = [\"x\"]\n  value = x * k\n}\n\noutput \"f\" {\n  bounds = [[0, 4]]\n}\n",
			},
			cfg:  app.Config{Run: true},
			is:   interp.ErrMissingParam,
			want: "execution failed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := testutil.RunApp(t, tc.files, tc.cfg)
			require.Error(t, res.Err)
			if tc.is != nil {
				assert.ErrorIs(t, res.Err, tc.is)
			}
			assert.ErrorContains(t, res.Err, tc.want)
		})
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := testutil.RunAppWithContext(ctx, t, map[string]string{"blur.hcl": testutil.BlurHCL}, app.Config{Run: true})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, context.Canceled)
}
