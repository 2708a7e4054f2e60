// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/sgpar/sgpar/backends"
	_ "github.com/sgpar/sgpar/backends/default"
	"github.com/sgpar/sgpar/internal/workerspool"
	"github.com/sgpar/sgpar/pkg/core/dataset"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/grid"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/core/kernels/linear"
	"github.com/sgpar/sgpar/pkg/core/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKernel(t *testing.T, numPoints int) *linear.Kernel {
	rng := rand.New(rand.NewPCG(uint64(numPoints), 1))
	g, err := grid.NewRegular(2, 5)
	require.NoError(t, err)
	ds, err := dataset.Random(rng, numPoints, 2, nil)
	require.NoError(t, err)
	k, err := linear.New(g, ds, linear.DefaultGranularity)
	require.NoError(t, err)
	return k
}

func newPool(t *testing.T, numWorkers int) *workerspool.Pool {
	pool, err := workerspool.NewWithWorkers(numWorkers)
	require.NoError(t, err)
	return pool
}

func newBackend(t *testing.T, config string) backends.Backend {
	backend, err := backends.NewWithConfig(config)
	require.NoError(t, err)
	t.Cleanup(backend.Finalize)
	return backend
}

func randomVector(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}

// reference evaluates op sequentially with the kernel.
func reference(k kernels.Kernel, op kernels.Op, source []float64, grid, data partition.Range, resultLen int) []float64 {
	result := make([]float64, resultLen)
	kernels.Eval(k, op, source, result, grid, data)
	return result
}

func TestCPU(t *testing.T) {
	k := newKernel(t, 200)
	cpu := NewCPU(k)
	pool := newPool(t, 3)
	rng := rand.New(rand.NewPCG(1, 2))
	gridAll, dataAll := kernels.Extent(k)
	alpha := randomVector(rng, gridAll.End)
	source := randomVector(rng, dataAll.End)

	result := make([]float64, dataAll.End)
	require.NoError(t, Apply(pool, cpu, kernels.Forward, alpha, result, gridAll, dataAll))
	assert.InDeltaSlice(t, reference(k, kernels.Forward, alpha, gridAll, dataAll, dataAll.End), result, 1e-12)

	result = make([]float64, gridAll.End)
	data := partition.Range{Start: 50, End: 150}
	require.NoError(t, Apply(pool, cpu, kernels.Transpose, source, result, gridAll, data))
	assert.InDeltaSlice(t, reference(k, kernels.Transpose, source, gridAll, data, gridAll.End), result, 1e-12)

	err := Apply(pool, cpu, kernels.Forward, alpha, result, gridAll, dataAll)
	assert.True(t, faults.IsConfiguration(err), "result too short should fail: %v", err)
	require.NoError(t, cpu.Close())
}

func TestNewHybrid_Errors(t *testing.T) {
	k := newKernel(t, 64)
	backend := newBackend(t, "simplego:workers=1")

	_, err := NewHybrid(newPool(t, 1), k, backend, DefaultConfig())
	assert.True(t, faults.IsConfiguration(err), "team of 1 worker: %v", err)

	g, err := grid.NewRegular(2, 2)
	require.NoError(t, err)
	ds, err := dataset.Random(rand.New(rand.NewPCG(1, 1)), 10, 2, nil)
	require.NoError(t, err)
	k3, err := linear.New(g, ds, kernels.Granularity{Data: 3, Grid: 1})
	require.NoError(t, err)
	_, err = NewHybrid(newPool(t, 2), k3, backend, DefaultConfig())
	assert.True(t, faults.IsConfiguration(err), "granularity mismatch: %v", err)

	config := DefaultConfig()
	config.MergePolicy = MergePolicy(5)
	_, err = NewHybrid(newPool(t, 2), k, backend, config)
	assert.True(t, faults.IsConfiguration(err), "invalid merge policy: %v", err)

	config = DefaultConfig()
	config.RetuneCycle = 0
	_, err = NewHybrid(newPool(t, 2), k, backend, config)
	assert.True(t, faults.IsConfiguration(err), "invalid retune cycle: %v", err)
}

func TestHybrid(t *testing.T) {
	k := newKernel(t, 512)
	rng := rand.New(rand.NewPCG(3, 4))
	gridAll, dataAll := kernels.Extent(k)
	alpha := randomVector(rng, gridAll.End)
	source := randomVector(rng, dataAll.End)
	wantForward := reference(k, kernels.Forward, alpha, gridAll, dataAll, dataAll.End)
	wantTranspose := reference(k, kernels.Transpose, source, gridAll, dataAll, gridAll.End)
	dataPart := partition.Range{Start: 64, End: 192}
	wantTransposePart := reference(k, kernels.Transpose, source, gridAll, dataPart, gridAll.End)

	for _, backendConfig := range []string{"simplego:workers=2", "queue:devices=3", "offload:devices=2,threads=2"} {
		for _, policy := range MergePolicyValues() {
			for _, numWorkers := range []int{2, 4} {
				name := fmt.Sprintf("%s/%s/workers=%d", backendConfig, policy, numWorkers)
				t.Run(name, func(t *testing.T) {
					pool := newPool(t, numWorkers)
					config := DefaultConfig()
					config.MergePolicy = policy
					config.RetuneCycle = 3
					err := WithHybrid(pool, k, newBackend(t, backendConfig), config, func(h *Hybrid) error {
						for call := range 10 {
							result := make([]float64, dataAll.End)
							require.NoError(t, Apply(pool, h, kernels.Forward, alpha, result, gridAll, dataAll))
							require.InDeltaSlice(t, wantForward, result, 1e-12, "forward call #%d", call)

							result = make([]float64, gridAll.End)
							require.NoError(t, Apply(pool, h, kernels.Transpose, source, result, gridAll, dataAll))
							require.InDeltaSlice(t, wantTranspose, result, 1e-12, "transpose call #%d", call)

							result = make([]float64, gridAll.End)
							require.NoError(t, Apply(pool, h, kernels.Transpose, source, result, gridAll, dataPart))
							require.InDeltaSlice(t, wantTransposePart, result, 1e-12, "partial transpose call #%d", call)
						}
						stats := h.Stats()
						assert.Equal(t, 10, stats.Calls[kernels.Forward])
						assert.Equal(t, 20, stats.Calls[kernels.Transpose])
						assert.Equal(t, 10*dataAll.End, stats.CPUElements[kernels.Forward]+stats.AcceleratorElements[kernels.Forward])
						assert.Greater(t, stats.AcceleratorElements[kernels.Forward], 0)
						forward, transpose := h.TunerStates()
						assert.Equal(t, dataAll.End, forward.ProblemSize)
						assert.Equal(t, gridAll.End, transpose.ProblemSize)
						assert.NoError(t, h.Err())
						return nil
					})
					require.NoError(t, err)
				})
			}
		}
	}
}

func TestHybrid_BelowThreshold(t *testing.T) {
	k := newKernel(t, 20)
	pool := newPool(t, 3)
	h, err := NewHybrid(pool, k, newBackend(t, "queue:granularity=16"), DefaultConfig())
	require.NoError(t, err)
	defer func() { require.NoError(t, h.Close()) }()

	rng := rand.New(rand.NewPCG(5, 6))
	gridAll, dataAll := kernels.Extent(k)
	alpha := randomVector(rng, gridAll.End)
	result := make([]float64, dataAll.End)
	require.NoError(t, Apply(pool, h, kernels.Forward, alpha, result, gridAll, dataAll))
	assert.InDeltaSlice(t, reference(k, kernels.Forward, alpha, gridAll, dataAll, dataAll.End), result, 1e-12)
	assert.Equal(t, 0, h.Stats().AcceleratorElements[kernels.Forward])
	assert.Equal(t, 20, h.Stats().CPUElements[kernels.Forward])
}

func TestHybrid_DeviceErrorIsFatal(t *testing.T) {
	k := newKernel(t, 200)
	pool := newPool(t, 3)
	h, err := NewHybrid(pool, k, newBackend(t, "notimplemented"), DefaultConfig())
	require.NoError(t, err)
	gridAll, dataAll := kernels.Extent(k)
	alpha := make([]float64, gridAll.End)
	result := make([]float64, dataAll.End)

	err = Apply(pool, h, kernels.Forward, alpha, result, gridAll, dataAll)
	require.Error(t, err)
	assert.True(t, faults.IsDevice(err))
	assert.Equal(t, err, h.Err())

	// No fallback: even the transpose, never tried on the device, fails with the same error.
	err2 := Apply(pool, h, kernels.Transpose, make([]float64, dataAll.End), make([]float64, gridAll.End), gridAll, dataAll)
	assert.Equal(t, err, err2)
	require.NoError(t, h.Close())
}

func TestHybrid_FastMergeScratch(t *testing.T) {
	k := newKernel(t, 200)
	pool := newPool(t, 2)
	config := DefaultConfig()
	config.MergePolicy = MergePolicyFast
	h, err := NewHybrid(pool, k, newBackend(t, "queue:devices=3,grid_granularity=8"), config)
	require.NoError(t, err)
	gridAll, dataAll := kernels.Extent(k)
	source := randomVector(rand.New(rand.NewPCG(7, 8)), dataAll.End)
	result := make([]float64, gridAll.End)
	require.NoError(t, Apply(pool, h, kernels.Transpose, source, result, gridAll, dataAll))
	assert.InDeltaSlice(t, reference(k, kernels.Transpose, source, gridAll, dataAll, gridAll.End), result, 1e-12)
	assert.Equal(t, 2*8*gridAll.End, h.ScratchBytes())

	// Every device gets the whole accelerator grid range, and a slice of the data.
	assignments := h.Assignments(kernels.Transpose)
	require.Len(t, assignments, 3)
	accel := assignments[0].Grid
	assert.Equal(t, 0, accel.Start)
	assert.Zero(t, accel.Len()%8)
	for device, want := range []partition.Range{{Start: 0, End: 64}, {Start: 64, End: 128}, {Start: 128, End: 200}} {
		assert.Equal(t, backends.DeviceNum(device), assignments[device].Device)
		assert.Equal(t, accel, assignments[device].Grid)
		assert.Equal(t, want, assignments[device].Data)
	}
	assert.Empty(t, h.Assignments(kernels.Forward))

	require.NoError(t, h.Close())
	assert.Zero(t, h.ScratchBytes())
	err = Apply(pool, h, kernels.Transpose, source, result, gridAll, dataAll)
	assert.Error(t, err)
}

func TestHybrid_StaticRatio(t *testing.T) {
	k := newKernel(t, 256)
	pool := newPool(t, 2)
	config := DefaultConfig()
	config.StaticRatio = 1
	h, err := NewHybrid(pool, k, newBackend(t, "simplego:workers=1,granularity=16"), config)
	require.NoError(t, err)
	gridAll, dataAll := kernels.Extent(k)
	alpha := randomVector(rand.New(rand.NewPCG(9, 10)), gridAll.End)
	for range 3 {
		require.NoError(t, Apply(pool, h, kernels.Forward, alpha, make([]float64, dataAll.End), gridAll, dataAll))
	}
	// 256/2 = 128 elements on each side, on every call.
	assert.Equal(t, 3*128, h.Stats().AcceleratorElements[kernels.Forward])
	require.NoError(t, h.Close())
}

func TestHybrid_InheritTuning(t *testing.T) {
	k := newKernel(t, 512)
	pool := newPool(t, 2)
	backend := newBackend(t, "simplego:workers=1,granularity=16")
	config := DefaultConfig()
	config.RetuneCycle = 2
	previous, err := NewHybrid(pool, k, backend, config)
	require.NoError(t, err)
	defer func() { require.NoError(t, previous.Close()) }()
	gridAll, dataAll := kernels.Extent(k)
	rng := rand.New(rand.NewPCG(11, 12))
	alpha := randomVector(rng, gridAll.End)
	source := randomVector(rng, dataAll.End)
	for range 4 {
		require.NoError(t, Apply(pool, previous, kernels.Forward, alpha, make([]float64, dataAll.End), gridAll, dataAll))
		require.NoError(t, Apply(pool, previous, kernels.Transpose, source, make([]float64, gridAll.End), gridAll, dataAll))
	}
	wantForward, wantTranspose := previous.TunerStates()

	h, err := NewHybrid(pool, k, backend, config)
	require.NoError(t, err)
	defer func() { require.NoError(t, h.Close()) }()
	h.InheritTuning(previous)
	forward, transpose := h.TunerStates()
	assert.Equal(t, wantForward.SpeedupEstimate, forward.SpeedupEstimate)
	assert.Equal(t, wantTranspose.SpeedupEstimate, transpose.SpeedupEstimate)
	assert.Equal(t, 0, forward.CallCounter)

	// Static ratios are never overridden.
	config.StaticRatio = 1
	static, err := NewHybrid(pool, k, backend, config)
	require.NoError(t, err)
	defer func() { require.NoError(t, static.Close()) }()
	static.InheritTuning(previous)
	forward, _ = static.TunerStates()
	assert.Equal(t, 1.0, forward.SpeedupEstimate)

	// Other operators are ignored.
	h.InheritTuning(NewCPU(k))
	forward, _ = h.TunerStates()
	assert.Equal(t, wantForward.SpeedupEstimate, forward.SpeedupEstimate)
}

func TestHybrid_WrongTeam(t *testing.T) {
	k := newKernel(t, 64)
	h, err := NewHybrid(newPool(t, 2), k, newBackend(t, "simplego"), DefaultConfig())
	require.NoError(t, err)
	gridAll, dataAll := kernels.Extent(k)
	err = Apply(newPool(t, 2), h, kernels.Forward, make([]float64, gridAll.End), make([]float64, dataAll.End), gridAll, dataAll)
	assert.Error(t, err)
}

func TestMergePolicy(t *testing.T) {
	policy, err := MergePolicyString("FAST")
	require.NoError(t, err)
	assert.Equal(t, MergePolicyFast, policy)
	assert.Equal(t, "safe", MergePolicySafe.String())
	_, err = MergePolicyString("auto")
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	// The environment is read only once per process: this must be the only test of the package calling it.
	t.Setenv(SGPAR_MERGE_POLICY, "fast")
	config, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, MergePolicyFast, config.MergePolicy)
	assert.Equal(t, DefaultConfig().RetuneCycle, config.RetuneCycle)
}
