// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"sync"
	"testing"
	"time"

	"github.com/sgpar/sgpar/backends"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/core/partition"
	"github.com/sgpar/sgpar/pkg/support/xsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// traceKernel records the tag (source[0]) of every evaluation, and sleeps on each.
type traceKernel struct {
	mu    sync.Mutex
	trace []float64
}

func (k *traceKernel) Name() string { return "trace" }
func (k *traceKernel) Granularity() kernels.Granularity { return kernels.Granularity{Data: 1, Grid: 1} }
func (k *traceKernel) NumGridPoints() int { return 4 }
func (k *traceKernel) NumDataPoints() int { return 64 }
func (k *traceKernel) EvalTranspose(_, _ []float64, _, _ partition.Range) {}

func (k *traceKernel) EvalForward(alpha, result []float64, _, data partition.Range) {
	time.Sleep(time.Millisecond)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.trace = append(k.trace, alpha[0])
	for i := data.Start; i < data.End; i++ {
		result[i] += alpha[0]
	}
}

func TestSubmit_InOrder(t *testing.T) {
	b, err := New("workers=4,granularity=8")
	require.NoError(t, err)
	k := &traceKernel{}
	result := make([]float64, 64)
	var futures []*xsync.Future[time.Duration]
	for tag := 1.0; tag <= 3; tag++ {
		futures = append(futures, b.Submit(0, backends.Job{
			Kernel: k, Op: kernels.Forward, Source: []float64{tag, 0, 0, 0}, Dest: result,
			Grid: partition.Range{End: 4}, Data: partition.Range{End: 64}}))
	}
	for _, f := range futures {
		elapsed, err := f.Wait()
		require.NoError(t, err)
		assert.Positive(t, elapsed)
	}
	b.Finalize()
	for _, v := range result {
		assert.Equal(t, 6.0, v)
	}
	// Each job is split among the 4 workers, and jobs never overlap.
	require.Len(t, k.trace, 12)
	for ii, tag := range k.trace {
		assert.Equal(t, float64(ii/4+1), tag, "trace=%v", k.trace)
	}

	_, err = b.Submit(0, backends.Job{Kernel: k, Op: kernels.Forward}).Wait()
	assert.True(t, faults.IsDevice(err))
}

func TestNew_Options(t *testing.T) {
	b, err := New("devices=3,threads=2,grid_granularity=4")
	require.NoError(t, err)
	defer b.Finalize()
	assert.Equal(t, backends.DeviceNum(3), b.NumDevices())
	assert.Equal(t, kernels.Granularity{Data: DefaultGranularity.Data, Grid: 4}, b.Granularity())
	assert.Equal(t, BackendName, b.Name())

	_, err = New("workers=0")
	assert.True(t, faults.IsConfiguration(err) || faults.IsDevice(err))
}
