// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package grid

import (
	"fmt"
	"testing"

	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegular(t *testing.T) {
	testCases := []struct {
		dim, level, size int
	}{
		{1, 1, 1},
		{1, 3, 7},
		{2, 2, 5},
		{2, 3, 17},
		{3, 3, 31},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("dim=%d/level=%d", tc.dim, tc.level), func(t *testing.T) {
			g, err := NewRegular(tc.dim, tc.level)
			require.NoError(t, err)
			assert.Equal(t, tc.size, g.Size())
			assert.Equal(t, tc.dim, g.Dim())
			for j := range g.Size() {
				sum := 0
				for d, l := range g.Level(j) {
					sum += int(l)
					i := g.Index(j)[d]
					require.True(t, i%2 == 1 && i < 1<<l, "point %d: level %d index %d", j, l, i)
				}
				require.LessOrEqual(t, sum, tc.level+tc.dim-1)
			}
		})
	}
	_, err := NewRegular(0, 2)
	assert.True(t, faults.IsConfiguration(err))
	_, err = NewRegular(2, 0)
	assert.True(t, faults.IsConfiguration(err))
}

func TestAddPoint(t *testing.T) {
	g, err := NewRegular(2, 1)
	require.NoError(t, err)
	require.Equal(t, 1, g.Size())
	j, err := g.AddPoint([]int32{2, 1}, []int32{3, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, j)
	assert.Equal(t, []float64{0.75, 0.5}, g.Coordinates(j))
	assert.Equal(t, "grid{dim=2, size=2}", g.String())

	_, err = g.AddPoint([]int32{2}, []int32{3})
	assert.Error(t, err)
	_, err = g.AddPoint([]int32{2, 1}, []int32{2, 1})
	assert.Error(t, err)
	_, err = g.AddPoint([]int32{0, 1}, []int32{1, 1})
	assert.Error(t, err)
	_, err = g.AddPoint([]int32{2, 1}, []int32{3, 1})
	assert.Error(t, err, "duplicate point")
	assert.Equal(t, 2, g.Size())
	assert.True(t, g.Contains([]int32{1, 1}, []int32{1, 1}))
	assert.True(t, g.Contains([]int32{2, 1}, []int32{3, 1}))
	assert.False(t, g.Contains([]int32{2, 1}, []int32{1, 1}))
	assert.False(t, g.Contains([]int32{2}, []int32{3}))
}
