// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package linear implements the kernel of the piecewise-linear (hat) basis without boundary points:
//
//	φ_{l,i}(x) = Π_d max(0, 1 - |2^{l_d}·x_d - i_d|)
//
// It is a plain Go implementation, used by the CPU team and by the simulated devices of the backends.
package linear

import (
	"math"

	"github.com/sgpar/sgpar/pkg/core/dataset"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/grid"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/core/partition"
)

// Kernel evaluates the linear basis of a grid snapshot over a dataset.
type Kernel struct {
	dim         int
	granularity kernels.Granularity

	// Per grid point and dimension: 2^l and i.
	levels, indices []float64
	numGridPoints   int

	// data is row-major, numDataPoints x dim.
	data          []float64
	numDataPoints int
}

var _ kernels.Kernel = (*Kernel)(nil)

// DefaultGranularity of the CPU kernel.
var DefaultGranularity = kernels.Granularity{Data: 1, Grid: 1}

// New creates a kernel for a snapshot of the grid: points added to the grid later are not seen by the kernel.
func New(g *grid.Storage, ds *dataset.Dataset, granularity kernels.Granularity) (*Kernel, error) {
	if err := granularity.Validate(); err != nil {
		return nil, err
	}
	if g.Dim() != ds.Dim() {
		return nil, faults.Configurationf("linear: grid dimension %d doesn't match dataset dimension %d", g.Dim(), ds.Dim())
	}
	k := &Kernel{
		dim:           g.Dim(),
		granularity:   granularity,
		numGridPoints: g.Size(),
		numDataPoints: ds.NumPoints(),
	}
	k.levels = make([]float64, 0, k.numGridPoints*k.dim)
	k.indices = make([]float64, 0, k.numGridPoints*k.dim)
	for j := range k.numGridPoints {
		for d, l := range g.Level(j) {
			k.levels = append(k.levels, float64(int64(1)<<l))
			k.indices = append(k.indices, float64(g.Index(j)[d]))
		}
	}
	k.data = make([]float64, 0, k.numDataPoints*k.dim)
	for i := range k.numDataPoints {
		k.data = append(k.data, ds.Row(i)...)
	}
	return k, nil
}

// Name implements kernels.Kernel.
func (k *Kernel) Name() string { return "linear" }

// Granularity implements kernels.Kernel.
func (k *Kernel) Granularity() kernels.Granularity { return k.granularity }

// NumGridPoints implements kernels.Kernel.
func (k *Kernel) NumGridPoints() int { return k.numGridPoints }

// NumDataPoints implements kernels.Kernel.
func (k *Kernel) NumDataPoints() int { return k.numDataPoints }

// basis returns φ_j(x_i).
func (k *Kernel) basis(j, i int) float64 {
	levels := k.levels[j*k.dim : (j+1)*k.dim]
	indices := k.indices[j*k.dim : (j+1)*k.dim]
	x := k.data[i*k.dim : (i+1)*k.dim]
	value := 1.0
	for d, l := range levels {
		v := 1 - math.Abs(l*x[d]-indices[d])
		if v <= 0 {
			return 0
		}
		value *= v
	}
	return value
}

// EvalForward implements kernels.Kernel.
func (k *Kernel) EvalForward(alpha, result []float64, grid, data partition.Range) {
	for i := data.Start; i < data.End; i++ {
		var sum float64
		for j := grid.Start; j < grid.End; j++ {
			if alpha[j] == 0 {
				continue
			}
			sum += alpha[j] * k.basis(j, i)
		}
		result[i] += sum
	}
}

// EvalTranspose implements kernels.Kernel.
func (k *Kernel) EvalTranspose(source, result []float64, grid, data partition.Range) {
	for j := grid.Start; j < grid.End; j++ {
		var sum float64
		for i := data.Start; i < data.End; i++ {
			if source[i] == 0 {
				continue
			}
			sum += source[i] * k.basis(j, i)
		}
		result[j] += sum
	}
}
