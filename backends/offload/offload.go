// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package offload implements a backend modeled after many-core offload accelerators: each job copies its
// source slice into device memory, runs a parallel region of threads on the device, and copies the
// destination slice back, adding it to the host result.
//
// Options (see backends.ParseOptions): devices, granularity, grid_granularity, threads (or workers).
package offload

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/sgpar/sgpar/backends"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/core/partition"
	"github.com/sgpar/sgpar/pkg/support/xsync"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// BackendName to be used in SGPAR_BACKEND to specify this backend.
const BackendName = "offload"

// DefaultGranularity of the devices.
var DefaultGranularity = kernels.Granularity{Data: 32, Grid: 32}

func init() {
	backends.Register(BackendName, New)
}

// New constructs a new offload Backend.
func New(config string) (backends.Backend, error) {
	opts := backends.Options{
		NumDevices:  1,
		Granularity: DefaultGranularity,
		Workers:     max(runtime.NumCPU()/2, 1),
	}
	if err := backends.ParseOptions(config, &opts, backends.OptionThreads, backends.OptionWorkers); err != nil {
		return nil, err
	}
	b := &Backend{opts: opts, pending: xsync.NewDynamicWaitGroup()}
	b.devices = make([]*device, opts.NumDevices)
	for ii := range b.devices {
		b.devices[ii] = &device{}
	}
	return b, nil
}

// Backend implements backends.Backend.
type Backend struct {
	opts      backends.Options
	devices   []*device
	pending   *xsync.DynamicWaitGroup
	finalized atomic.Bool
}

var _ backends.Backend = &Backend{}

// device holds the simulated device memory. It is only touched by the job currently running on the device.
type device struct {
	mu   sync.Mutex
	last <-chan struct{}

	source, dest []float64
}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string { return "Offload accelerator backend" }

// NumDevices return the number of devices available for this Backend.
func (b *Backend) NumDevices() backends.DeviceNum { return backends.DeviceNum(len(b.devices)) }

// Granularity implements backends.Backend.
func (b *Backend) Granularity() kernels.Granularity { return b.opts.Granularity }

// Submit implements backends.Backend.
func (b *Backend) Submit(deviceNum backends.DeviceNum, job backends.Job) *xsync.Future[time.Duration] {
	if b.finalized.Load() {
		return xsync.Resolved[time.Duration](0, faults.Devicef("offload: job %s submitted after Finalize", job))
	}
	if deviceNum < 0 || int(deviceNum) >= len(b.devices) {
		return xsync.Resolved[time.Duration](0, faults.Devicef("offload: invalid device #%d", deviceNum))
	}
	if err := job.Validate(); err != nil {
		return xsync.Resolved[time.Duration](0, err)
	}
	d := b.devices[deviceNum]
	future := xsync.NewFuture[time.Duration]()
	done := make(chan struct{})
	d.mu.Lock()
	previous := d.last
	d.last = done
	d.mu.Unlock()
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		defer close(done)
		if previous != nil {
			<-previous
		}
		elapsed, err := b.offload(d, job)
		if err != nil {
			err = faults.AsDevice(err, "offload: device #%d, job %s", deviceNum, job)
		}
		future.Resolve(elapsed, err)
	}()
	return future
}

// offload runs copy-in, the device parallel region and copy-out of one job.
func (b *Backend) offload(d *device, job backends.Job) (time.Duration, error) {
	start := time.Now()
	dest := job.Destination()
	srcRange := job.Grid
	if job.Op == kernels.Transpose {
		srcRange = job.Data
	}

	// Copy-in.
	d.source = grow(d.source, len(job.Source))
	copy(partition.Slice(d.source, srcRange), partition.Slice(job.Source, srcRange))
	d.dest = grow(d.dest, len(job.Dest))
	clear(partition.Slice(d.dest, dest))

	// Parallel region.
	plan, err := partition.Split(dest, b.opts.Workers, b.opts.Granularity.Axis(job.Op))
	if err != nil {
		return 0, err
	}
	var g errgroup.Group
	for _, part := range plan {
		if part.IsEmpty() {
			continue
		}
		g.Go(func() error {
			grid, data := job.Op.WithDestination(job.Grid, job.Data, part)
			if exception := exceptions.Try(func() {
				kernels.Eval(job.Kernel, job.Op, d.source, d.dest, grid, data)
			}); exception != nil {
				return faults.Devicef("offload thread on %s panicked: %v", part, exception)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// Copy-out.
	floats.Add(partition.Slice(job.Dest, dest), partition.Slice(d.dest, dest))
	return time.Since(start), nil
}

// grow returns buf with at least n elements, reallocating only if needed.
func grow(buf []float64, n int) []float64 {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]float64, n)
}

// Finalize waits for pending jobs, releases the device memory and makes the backend invalid.
func (b *Backend) Finalize() {
	b.finalized.Store(true)
	b.pending.Wait()
	for _, d := range b.devices {
		d.mu.Lock()
		d.source, d.dest = nil, nil
		d.mu.Unlock()
	}
}
