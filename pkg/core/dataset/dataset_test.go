// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/sgpar/sgpar/pkg/core/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRows(t *testing.T) {
	ds, err := FromRows([][]float64{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}}, []float64{1, -1, 1})
	require.NoError(t, err)
	assert.Equal(t, 3, ds.NumPoints())
	assert.Equal(t, 3, ds.NumOriginal())
	assert.Equal(t, 2, ds.Dim())
	assert.Equal(t, []float64{0.3, 0.4}, ds.Row(1))
	assert.True(t, ds.Padding().IsEmpty())

	_, err = FromRows([][]float64{{0.1, 0.2}, {0.3}}, nil)
	assert.Error(t, err)
	_, err = FromRows([][]float64{{0.1}}, []float64{1, 2})
	assert.Error(t, err)
	_, err = FromRows(nil, nil)
	assert.Error(t, err)
}

func TestPadded(t *testing.T) {
	ds, err := FromRows([][]float64{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}}, []float64{1, -1, 1})
	require.NoError(t, err)
	padded, err := ds.Padded(4)
	require.NoError(t, err)
	assert.Equal(t, 4, padded.NumPoints())
	assert.Equal(t, 3, padded.NumOriginal())
	assert.Equal(t, []float64{0.5, 0.6}, padded.Row(3))
	assert.Equal(t, []float64{0.1, 0.2}, padded.Row(0))
	assert.Equal(t, []float64{1, -1, 1, 0}, padded.Labels())
	assert.Equal(t, partition.Range{Start: 3, End: 4}, padded.Padding())

	// Already aligned: no copy.
	same, err := padded.Padded(2)
	require.NoError(t, err)
	assert.Same(t, padded, same)

	_, err = ds.Padded(0)
	assert.Error(t, err)
}

func TestRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	ds, err := Random(rng, 20, 3, func(x []float64) float64 { return x[0] + x[1] })
	require.NoError(t, err)
	assert.Equal(t, 20, ds.NumPoints())
	for i := range ds.NumPoints() {
		row := ds.Row(i)
		for _, v := range row {
			assert.True(t, v >= 0 && v < 1)
		}
		assert.InDelta(t, row[0]+row[1], ds.Labels()[i], 1e-15)
	}
}

func TestReadCSV(t *testing.T) {
	const contents = "x0,x1,y\n0.1,0.2,1\n0.3,0.4,-1\n"
	ds, err := ReadCSV(strings.NewReader(contents), "")
	require.NoError(t, err)
	assert.Equal(t, 2, ds.NumPoints())
	assert.Equal(t, 2, ds.Dim())
	assert.Equal(t, []float64{0.3, 0.4}, ds.Row(1))
	assert.Equal(t, []float64{1, -1}, ds.Labels())

	ds, err = ReadCSV(strings.NewReader(contents), "x0")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 1}, ds.Row(0))
	assert.Equal(t, []float64{0.1, 0.3}, ds.Labels())

	_, err = ReadCSV(strings.NewReader(contents), "z")
	assert.Error(t, err)
}
