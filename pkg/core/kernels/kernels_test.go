// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"testing"

	"github.com/sgpar/sgpar/pkg/core/partition"
	"github.com/stretchr/testify/assert"
)

func TestGranularity(t *testing.T) {
	cpu := Granularity{Data: 4, Grid: 2}
	assert.NoError(t, cpu.Validate())
	assert.Error(t, Granularity{Data: 4}.Validate())
	assert.True(t, Granularity{Data: 16, Grid: 8}.IsMultipleOf(cpu))
	assert.False(t, Granularity{Data: 16, Grid: 3}.IsMultipleOf(cpu))
	assert.False(t, cpu.IsMultipleOf(Granularity{}))
	assert.Equal(t, 4, cpu.Axis(Forward))
	assert.Equal(t, 2, cpu.Axis(Transpose))
	assert.Equal(t, "{data: 4, grid: 2}", cpu.String())
}

func TestOp(t *testing.T) {
	grid, data := partition.Range{Start: 0, End: 10}, partition.Range{Start: 5, End: 50}
	dest := partition.Range{Start: 1, End: 2}
	assert.Equal(t, data, Forward.Destination(grid, data))
	assert.Equal(t, grid, Transpose.Destination(grid, data))

	g, d := Forward.WithDestination(grid, data, dest)
	assert.Equal(t, grid, g)
	assert.Equal(t, dest, d)
	g, d = Transpose.WithDestination(grid, data, dest)
	assert.Equal(t, dest, g)
	assert.Equal(t, data, d)
	assert.Equal(t, "Transpose", Transpose.String())
	assert.Equal(t, "Op(7)", Op(7).String())
}
