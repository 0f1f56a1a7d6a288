// Package compiler drives a pipeline through scheduling, bounds inference
// and lowering.
package compiler

import (
	"context"
	"fmt"

	"github.com/specialistvlad/loopgrid/internal/bounds"
	"github.com/specialistvlad/loopgrid/internal/ctxlog"
	"github.com/specialistvlad/loopgrid/internal/loopir"
	"github.com/specialistvlad/loopgrid/internal/lower"
	"github.com/specialistvlad/loopgrid/internal/pipeline"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

// Result holds the artifacts of one compilation.
type Result struct {
	Program *loopir.Program
	// Pipeline is the input pipeline with the schedule's rfactor rewrites
	// applied.
	Pipeline *pipeline.Pipeline
	Schedule *schedule.Snapshot
	Bounds   *bounds.Result
	// Allocations holds the bounds of the outermost allocation of every
	// stored stage.
	Allocations map[string][]loopir.Range
}

// Compile lowers p under snap. A nil snap compiles under the default
// schedule.
func Compile(ctx context.Context, p *pipeline.Pipeline, snap *schedule.Snapshot) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("pipeline", p.Name())
	if err := p.Err(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", p.Name(), err)
	}
	if snap == nil {
		logger.Debug("No schedule given, using the default schedule.")
		var err error
		if snap, err = schedule.Default(p); err != nil {
			return nil, fmt.Errorf("default schedule: %w", err)
		}
	}

	applied, err := snap.Apply(p)
	if err != nil {
		return nil, fmt.Errorf("applying schedule: %w", err)
	}
	logger.Debug("Schedule applied.", "stages", len(applied.Stages()), "rfactors", len(snap.RFactors()))

	regions, err := bounds.Infer(applied, snap)
	if err != nil {
		return nil, fmt.Errorf("bounds inference: %w", err)
	}
	logger.Debug("Bounds inferred.", "regions", len(regions.Regions), "runtimeChecks", len(regions.Checks))

	prog, err := lower.Lower(applied, snap, regions)
	if err != nil {
		return nil, fmt.Errorf("lowering: %w", err)
	}
	res := &Result{
		Program:     prog,
		Pipeline:    applied,
		Schedule:    snap,
		Bounds:      regions,
		Allocations: make(map[string][]loopir.Range),
	}
	loopir.Visit(prog.Body, func(s loopir.Stmt) bool {
		if a, ok := s.(*loopir.Allocate); ok {
			if _, seen := res.Allocations[a.Name]; !seen {
				res.Allocations[a.Name] = a.Bounds
			}
		}
		return true
	})
	logger.Debug("Pipeline lowered.", "loops", len(loopir.Loops(prog.Body)), "allocations", len(res.Allocations))
	return res, nil
}
