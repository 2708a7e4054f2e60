// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package linear

import (
	"math/rand/v2"
	"testing"

	"github.com/sgpar/sgpar/pkg/core/dataset"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/grid"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/core/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestBasis1D(t *testing.T) {
	g, err := grid.New(1)
	require.NoError(t, err)
	_, err = g.AddPoint([]int32{1}, []int32{1}) // hat centered at 0.5, support (0, 1)
	require.NoError(t, err)
	_, err = g.AddPoint([]int32{2}, []int32{3}) // hat centered at 0.75, support (0.5, 1)
	require.NoError(t, err)
	ds, err := dataset.FromRows([][]float64{{0.5}, {0.25}, {0.75}, {0.625}}, nil)
	require.NoError(t, err)
	k, err := New(g, ds, DefaultGranularity)
	require.NoError(t, err)
	want := [][]float64{
		{1, 0},
		{0.5, 0},
		{0.5, 1},
		{0.75, 0.5},
	}
	for i, row := range want {
		for j, v := range row {
			assert.InDelta(t, v, k.basis(j, i), 1e-12, "φ_%d(x_%d)", j, i)
		}
	}
}

// denseMatrix builds B explicitly.
func denseMatrix(k *Kernel) *mat.Dense {
	b := mat.NewDense(k.NumDataPoints(), k.NumGridPoints(), nil)
	for i := range k.NumDataPoints() {
		for j := range k.NumGridPoints() {
			b.Set(i, j, k.basis(j, i))
		}
	}
	return b
}

func TestEval(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	g, err := grid.NewRegular(3, 3)
	require.NoError(t, err)
	ds, err := dataset.Random(rng, 50, 3, nil)
	require.NoError(t, err)
	k, err := New(g, ds, kernels.Granularity{Data: 4, Grid: 2})
	require.NoError(t, err)
	assert.Equal(t, kernels.Granularity{Data: 4, Grid: 2}, k.Granularity())
	b := denseMatrix(k)

	alpha := make([]float64, g.Size())
	for j := range alpha {
		alpha[j] = rng.NormFloat64()
	}
	var want mat.VecDense
	want.MulVec(b, mat.NewVecDense(len(alpha), alpha))

	// Forward, evaluated in two disjoint pieces of the data axis and two pieces of the grid axis.
	got := make([]float64, ds.NumPoints())
	gridAll, dataAll := kernels.Extent(k)
	gridHalf := g.Size() / 2
	for _, gr := range []partition.Range{{0, gridHalf}, {gridHalf, gridAll.End}} {
		k.EvalForward(alpha, got, gr, partition.Range{Start: 0, End: 20})
		kernels.Eval(k, kernels.Forward, alpha, got, gr, partition.Range{Start: 20, End: dataAll.End})
	}
	assert.InDeltaSlice(t, want.RawVector().Data, got, 1e-12)

	// Transpose.
	source := make([]float64, ds.NumPoints())
	for i := range source {
		source[i] = rng.NormFloat64()
	}
	want.MulVec(b.T(), mat.NewVecDense(len(source), source))
	got = make([]float64, g.Size())
	k.EvalTranspose(source, got, gridAll, partition.Range{Start: 0, End: 30})
	kernels.Eval(k, kernels.Transpose, source, got, gridAll, partition.Range{Start: 30, End: dataAll.End})
	assert.InDeltaSlice(t, want.RawVector().Data, got, 1e-12)
}

func TestNew_Errors(t *testing.T) {
	g, err := grid.NewRegular(2, 2)
	require.NoError(t, err)
	ds, err := dataset.FromRows([][]float64{{0.1, 0.2, 0.3}}, nil)
	require.NoError(t, err)
	_, err = New(g, ds, DefaultGranularity)
	assert.True(t, faults.IsConfiguration(err))

	ds, err = dataset.FromRows([][]float64{{0.1, 0.2}}, nil)
	require.NoError(t, err)
	_, err = New(g, ds, kernels.Granularity{Data: 0, Grid: 1})
	assert.True(t, faults.IsConfiguration(err))
}
