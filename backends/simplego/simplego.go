// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a portable backend whose devices are teams of CPU goroutines.
//
// Each device runs one job at a time, in submission order, splitting the job's destination range among
// the workers of its team. It is the default backend, and the reference for the others.
//
// Options (see backends.ParseOptions): devices, granularity, grid_granularity, workers (or threads).
package simplego

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sgpar/sgpar/backends"
	"github.com/sgpar/sgpar/internal/workerspool"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/core/partition"
	"github.com/sgpar/sgpar/pkg/support/xsync"
)

// BackendName to be used in SGPAR_BACKEND to specify this backend.
const BackendName = "simplego"

// DefaultGranularity of the devices.
var DefaultGranularity = kernels.Granularity{Data: 8, Grid: 8}

// Registers New() as the constructor for the "simplego" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend.
func New(config string) (backends.Backend, error) {
	opts := backends.Options{
		NumDevices:  1,
		Granularity: DefaultGranularity,
		Workers:     max(runtime.NumCPU()/2, 1),
	}
	if err := backends.ParseOptions(config, &opts, backends.OptionWorkers, backends.OptionThreads); err != nil {
		return nil, err
	}
	return newBackend(opts)
}

func newBackend(opts backends.Options) (*Backend, error) {
	b := &Backend{
		opts:    opts,
		pending: xsync.NewDynamicWaitGroup(),
	}
	b.devices = make([]*device, opts.NumDevices)
	for ii := range b.devices {
		pool, err := workerspool.NewWithWorkers(opts.Workers)
		if err != nil {
			return nil, faults.AsDevice(err, "simplego: device #%d", ii)
		}
		b.devices[ii] = &device{pool: pool}
	}
	return b, nil
}

// Backend implements the backends.Backend interface.
type Backend struct {
	opts      backends.Options
	devices   []*device
	pending   *xsync.DynamicWaitGroup
	finalized atomic.Bool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

type device struct {
	pool *workerspool.Pool

	mu sync.Mutex
	// last is closed when the last job submitted to the device finishes.
	last <-chan struct{}
}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "SimpleGo CPU teams backend"
}

// NumDevices return the number of devices available for this Backend.
func (b *Backend) NumDevices() backends.DeviceNum { return backends.DeviceNum(len(b.devices)) }

// Granularity implements backends.Backend.
func (b *Backend) Granularity() kernels.Granularity { return b.opts.Granularity }

// Submit implements backends.Backend.
func (b *Backend) Submit(deviceNum backends.DeviceNum, job backends.Job) *xsync.Future[time.Duration] {
	if b.finalized.Load() {
		return xsync.Resolved[time.Duration](0, faults.Devicef("simplego: job %s submitted after Finalize", job))
	}
	if deviceNum < 0 || int(deviceNum) >= len(b.devices) {
		return xsync.Resolved[time.Duration](0, faults.Devicef("simplego: invalid device #%d", deviceNum))
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
		future.Resolve(b.run(d, job))
	}()
	return future
}

// run executes the job with the device team.
func (b *Backend) run(d *device, job backends.Job) (time.Duration, error) {
	start := time.Now()
	dest := job.Destination()
	granularity := b.opts.Granularity.Axis(job.Op)
	err := d.pool.Parallel(func(w *workerspool.Worker) error {
		part, err := partition.ThreadLocalSegment(w, dest.Start, dest.End, granularity)
		if err != nil {
			return err
		}
		if part.IsEmpty() {
			return nil
		}
		grid, data := job.Op.WithDestination(job.Grid, job.Data, part)
		kernels.Eval(job.Kernel, job.Op, job.Source, job.Dest, grid, data)
		return nil
	})
	if err != nil {
		return 0, faults.AsDevice(err, "simplego: job %s failed", job)
	}
	return time.Since(start), nil
}

// Finalize waits for pending jobs and makes the backend invalid.
func (b *Backend) Finalize() {
	b.finalized.Store(true)
	b.pending.Wait()
}
