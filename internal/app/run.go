package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/compiler"
	"github.com/specialistvlad/loopgrid/internal/ctxlog"
	"github.com/specialistvlad/loopgrid/internal/interp"
	"github.com/specialistvlad/loopgrid/internal/loopir"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

var (
	// ErrNoSample is returned when a manifest is run but one of its inputs
	// has no sample block to generate data from.
	ErrNoSample = errors.New("input has no sample")
	// ErrMismatch is returned when a checked run disagrees with the naive
	// evaluator.
	ErrMismatch = errors.New("output differs from the reference evaluation")
)

// Run compiles the loaded pipeline and performs the configured actions.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	p, err := a.model.Pipeline()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	var opts []schedule.Option
	if a.config.VectorWidth > 0 {
		opts = append(opts, schedule.WithVectorWidth(a.config.VectorWidth))
	}
	snap, err := a.model.Snapshot(p, opts...)
	if err != nil {
		return fmt.Errorf("failed to build schedule: %w", err)
	}
	res, err := compiler.Compile(ctx, p, snap)
	if err != nil {
		return fmt.Errorf("compilation failed: %w", err)
	}
	a.logger.Info("Pipeline compiled.",
		"pipeline", p.Name(),
		"loops", len(loopir.Loops(res.Program.Body)),
		"allocations", len(res.Allocations),
	)

	if a.config.Dump {
		if err := p.Dump(a.outW); err != nil {
			return fmt.Errorf("failed to dump pipeline: %w", err)
		}
	}
	if a.config.Print {
		if err := loopir.Print(a.outW, res.Program); err != nil {
			return fmt.Errorf("failed to print loop nest: %w", err)
		}
	}
	if a.config.Run {
		if err := a.execute(ctx, p, res.Program); err != nil {
			return err
		}
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

// params returns the manifest defaults overlaid with the configured
// overrides.
func (a *App) params() map[string]int64 {
	params := a.model.Defaults()
	maps.Copy(params, a.config.Params)
	return params
}

func (a *App) sampleInputs(params map[string]int64) (map[string]*interp.Array, error) {
	inputs := make(map[string]*interp.Array, len(a.model.Inputs))
	for _, in := range a.model.Inputs {
		if in.Sample == nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, ErrNoSample)
		}
		s := in.Sample
		arr, err := interp.Generate(s.Min, s.Extent, s.Vars, s.Value, params)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		inputs[in.Name] = arr
	}
	return inputs, nil
}

// execute runs prog on the sample inputs, prints every output and, when
// checking, compares them with the naive evaluation of p.
func (a *App) execute(ctx context.Context, p *pipeline.Pipeline, prog *loopir.Program) error {
	params := a.params()
	inputs, err := a.sampleInputs(params)
	if err != nil {
		return err
	}

	var opts []interp.Option
	if a.config.Workers > 0 {
		opts = append(opts, interp.WithWorkers(a.config.Workers))
	}
	a.logger.Info("🚀 Running compiled program...", "workers", a.config.Workers)
	outputs, err := interp.Run(ctx, prog, inputs, params, opts...)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("🏁 Execution finished.")

	names := slices.Sorted(maps.Keys(outputs))
	for _, name := range names {
		fmt.Fprintf(a.outW, "%s = %s\n", name, outputs[name])
	}
	if !a.config.Check {
		return nil
	}

	want, _, err := interp.Reference(ctx, p, inputs, params)
	if err != nil {
		return fmt.Errorf("reference evaluation failed: %w", err)
	}
	for _, name := range names {
		if !want[name].Equal(outputs[name]) {
			return fmt.Errorf("output %q: %w", name, ErrMismatch)
		}
	}
	a.logger.Info("Outputs match the reference evaluation.", "outputs", len(names))
	return nil
}
