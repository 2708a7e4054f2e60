// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels defines the contract of a basis-function kernel: the evaluation of the sparse grid basis
// matrix B (one row per data point, one column per grid point) and of its transpose, over sub-ranges of
// the grid and data axes.
//
// Kernels are implemented per hardware and basis type (see sub-packages), and consumed by the dispatchers.
package kernels

import (
	"fmt"

	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/partition"
)

// Granularity is the alignment every partition boundary given to a kernel must respect, for the data axis
// and for the grid axis. It usually reflects a vector width or a device workgroup size.
type Granularity struct {
	Data, Grid int
}

// Validate returns a configuration error if any of the granularities is not positive.
func (g Granularity) Validate() error {
	if g.Data <= 0 || g.Grid <= 0 {
		return faults.Configurationf("invalid granularity %s: must be > 0", g)
	}
	return nil
}

// IsMultipleOf returns whether both of g's granularities are integer multiples of other's.
func (g Granularity) IsMultipleOf(other Granularity) bool {
	return other.Data > 0 && other.Grid > 0 && g.Data%other.Data == 0 && g.Grid%other.Grid == 0
}

// Axis returns the granularity of the destination axis of op.
func (g Granularity) Axis(op Op) int {
	if op == Forward {
		return g.Data
	}
	return g.Grid
}

// String implements fmt.Stringer.
func (g Granularity) String() string {
	return fmt.Sprintf("{data: %d, grid: %d}", g.Data, g.Grid)
}

// Op is the direction of an operator evaluation.
type Op int

const (
	// Forward evaluates result = B·alpha: the destination is indexed by data points.
	Forward Op = iota

	// Transpose evaluates result = Bᵀ·source: the destination is indexed by grid points.
	Transpose
)

// String implements fmt.Stringer.
func (op Op) String() string {
	switch op {
	case Forward:
		return "Forward"
	case Transpose:
		return "Transpose"
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// Destination returns the range of the axis op writes to: data for Forward, grid for Transpose.
func (op Op) Destination(grid, data partition.Range) partition.Range {
	if op == Forward {
		return data
	}
	return grid
}

// WithDestination returns (grid, data) with the destination axis of op replaced by dest.
func (op Op) WithDestination(grid, data, dest partition.Range) (partition.Range, partition.Range) {
	if op == Forward {
		return grid, dest
	}
	return dest, data
}

// Kernel evaluates the basis matrix of a fixed grid over a fixed (padded) dataset.
//
// Both evaluations accumulate into result. Concurrent calls are safe as long as their destination ranges
// are disjoint.
type Kernel interface {
	// Name of the kernel, for logging.
	Name() string

	// Granularity the kernel requires from the ranges it is given.
	Granularity() Granularity

	// NumGridPoints is the length of the grid axis.
	NumGridPoints() int

	// NumDataPoints is the length of the data axis.
	NumDataPoints() int

	// EvalForward accumulates result[i] += Σ_{j∈grid} alpha[j]·φ_j(x_i), for i∈data.
	EvalForward(alpha, result []float64, grid, data partition.Range)

	// EvalTranspose accumulates result[j] += Σ_{i∈data} source[i]·φ_j(x_i), for j∈grid.
	EvalTranspose(source, result []float64, grid, data partition.Range)
}

// Eval runs the op evaluation of the kernel.
func Eval(k Kernel, op Op, source, result []float64, grid, data partition.Range) {
	if op == Forward {
		k.EvalForward(source, result, grid, data)
	} else {
		k.EvalTranspose(source, result, grid, data)
	}
}

// Extent returns the full grid and data ranges of a kernel.
func Extent(k Kernel) (grid, data partition.Range) {
	return partition.Range{End: k.NumGridPoints()}, partition.Range{End: k.NumDataPoints()}
}
