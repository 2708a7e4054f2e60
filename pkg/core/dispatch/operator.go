// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the operators that evaluate a kernel with a team of workers: CPU runs the
// kernel on the whole team, and Hybrid shares each call between the team and an accelerator backend,
// adapting the split online.
//
// Operator methods are called by every worker of a team region (see workerspool.Pool.Parallel), with
// the same arguments, and return the same error on every worker.
package dispatch

import (
	"github.com/sgpar/sgpar/internal/workerspool"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/core/partition"
)

// Operator evaluates the basis matrix of a fixed grid and dataset.
type Operator interface {
	// MultIn accumulates result[i] += (B·alpha)[i] for i in data, using the grid points in grid.
	// It must be called by every worker of the team.
	MultIn(w *workerspool.Worker, alpha, result []float64, grid, data partition.Range) error

	// MultTransposeIn accumulates result[j] += (Bᵀ·source)[j] for j in grid, using the data points in data.
	// It must be called by every worker of the team.
	MultTransposeIn(w *workerspool.Worker, source, result []float64, grid, data partition.Range) error

	// Granularity that the ranges given to the operator must be aligned to.
	Granularity() kernels.Granularity

	// NumGridPoints and NumDataPoints are the full extent of the operator.
	NumGridPoints() int
	NumDataPoints() int

	// Close releases the resources of the operator.
	Close() error
}

// TuningInheritor is implemented by operators that can take over what an earlier operator on the same
// devices learned, when they replace it.
type TuningInheritor interface {
	InheritTuning(previous Operator)
}

// EvalIn calls MultIn or MultTransposeIn depending on op.
func EvalIn(w *workerspool.Worker, o Operator, op kernels.Op, source, result []float64, grid, data partition.Range) error {
	if op == kernels.Forward {
		return o.MultIn(w, source, result, grid, data)
	}
	return o.MultTransposeIn(w, source, result, grid, data)
}

// Apply runs a parallel region on pool to evaluate op over the given ranges.
func Apply(pool *workerspool.Pool, o Operator, op kernels.Op, source, result []float64, grid, data partition.Range) error {
	return pool.Parallel(func(w *workerspool.Worker) error {
		return EvalIn(w, o, op, source, result, grid, data)
	})
}

// checkRanges validates the ranges and vectors of a call. It's deterministic, so every worker gets the same result.
func checkRanges(o Operator, op kernels.Op, source, result []float64, grid, data partition.Range) error {
	gridAll := partition.Range{End: o.NumGridPoints()}
	dataAll := partition.Range{End: o.NumDataPoints()}
	if grid.End < grid.Start || grid.Intersect(gridAll) != grid || data.End < data.Start || data.Intersect(dataAll) != data {
		return faults.Configurationf("dispatch: %s ranges grid=%s data=%s out of the operator extent grid=%s data=%s",
			op, grid, data, gridAll, dataAll)
	}
	srcLen, dstLen := dataAll.End, gridAll.End
	if op == kernels.Forward {
		srcLen, dstLen = dstLen, srcLen
	}
	if len(source) < srcLen || len(result) < dstLen {
		return faults.Configurationf("dispatch: %s vectors too short: source %d < %d or result %d < %d",
			op, len(source), srcLen, len(result), dstLen)
	}
	return nil
}

// CPU evaluates a kernel with all the workers of the team: each worker takes a segment of the destination axis.
type CPU struct {
	kernel kernels.Kernel
}

var _ Operator = (*CPU)(nil)

// NewCPU returns a CPU operator over the kernel.
func NewCPU(kernel kernels.Kernel) *CPU {
	return &CPU{kernel: kernel}
}

// Granularity implements Operator.
func (c *CPU) Granularity() kernels.Granularity { return c.kernel.Granularity() }

// NumGridPoints implements Operator.
func (c *CPU) NumGridPoints() int { return c.kernel.NumGridPoints() }

// NumDataPoints implements Operator.
func (c *CPU) NumDataPoints() int { return c.kernel.NumDataPoints() }

// MultIn implements Operator.
func (c *CPU) MultIn(w *workerspool.Worker, alpha, result []float64, grid, data partition.Range) error {
	return c.eval(w, kernels.Forward, alpha, result, grid, data)
}

// MultTransposeIn implements Operator.
func (c *CPU) MultTransposeIn(w *workerspool.Worker, source, result []float64, grid, data partition.Range) error {
	return c.eval(w, kernels.Transpose, source, result, grid, data)
}

func (c *CPU) eval(w *workerspool.Worker, op kernels.Op, source, result []float64, grid, data partition.Range) error {
	if err := checkRanges(c, op, source, result, grid, data); err != nil {
		return err
	}
	dest := op.Destination(grid, data)
	part, err := partition.ThreadLocalSegment(w, dest.Start, dest.End, c.kernel.Granularity().Axis(op))
	if err != nil {
		return err
	}
	if !part.IsEmpty() {
		g, d := op.WithDestination(grid, data, part)
		kernels.Eval(c.kernel, op, source, result, g, d)
	}
	w.Barrier()
	return nil
}

// Close implements Operator. It's a no-op.
func (c *CPU) Close() error { return nil }
