// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package queue implements a backend modeled after GPU command queues: each device has a FIFO queue
// served by its own goroutine, and executes a job in consecutive workgroups of its granularity.
//
// Options (see backends.ParseOptions): devices, granularity, grid_granularity, depth.
// Submit blocks only when the device queue already holds depth jobs.
package queue

import (
	"sync"
	"time"

	"github.com/sgpar/sgpar/backends"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// BackendName to be used in SGPAR_BACKEND to specify this backend.
const BackendName = "queue"

// DefaultGranularity is the workgroup size of the devices.
var DefaultGranularity = kernels.Granularity{Data: 64, Grid: 16}

// DefaultDepth of the command queues.
const DefaultDepth = 16

func init() {
	backends.Register(BackendName, New)
}

// New constructs a new queue Backend, and starts one goroutine per device.
func New(config string) (backends.Backend, error) {
	opts := backends.Options{
		NumDevices:  1,
		Granularity: DefaultGranularity,
		Depth:       DefaultDepth,
	}
	if err := backends.ParseOptions(config, &opts, backends.OptionDepth); err != nil {
		return nil, err
	}
	b := &Backend{
		opts:     opts,
		commands: make([]chan command, opts.NumDevices),
		pending:  xsync.NewDynamicWaitGroup(),
	}
	for ii := range b.commands {
		b.commands[ii] = make(chan command, opts.Depth)
		b.pending.Add(1)
		go b.serve(ii)
	}
	return b, nil
}

// Backend implements backends.Backend.
type Backend struct {
	opts backends.Options

	// muQueues protects the command queues from being closed while a submission is in progress.
	muQueues  sync.RWMutex
	commands  []chan command
	finalized bool

	// pending counts the device goroutines still running.
	pending *xsync.DynamicWaitGroup
}

var _ backends.Backend = &Backend{}

type command struct {
	job    backends.Job
	future *xsync.Future[time.Duration]
}

// serve executes the commands of the device queue until it is closed.
func (b *Backend) serve(deviceNum int) {
	defer b.pending.Done()
	for cmd := range b.commands[deviceNum] {
		elapsed, err := backends.Execute(cmd.job, b.opts.Granularity.Axis(cmd.job.Op))
		if err != nil {
			klog.V(1).Infof("queue: device #%d: %v", deviceNum, err)
		}
		cmd.future.Resolve(elapsed, err)
	}
	klog.V(2).Infof("queue: device #%d stopped", deviceNum)
}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string { return "Command queue devices backend" }

// NumDevices return the number of devices available for this Backend.
func (b *Backend) NumDevices() backends.DeviceNum { return backends.DeviceNum(len(b.commands)) }

// Granularity implements backends.Backend.
func (b *Backend) Granularity() kernels.Granularity { return b.opts.Granularity }

// Submit enqueues the job in the device queue.
func (b *Backend) Submit(deviceNum backends.DeviceNum, job backends.Job) *xsync.Future[time.Duration] {
	b.muQueues.RLock()
	defer b.muQueues.RUnlock()
	if b.finalized {
		return xsync.Resolved[time.Duration](0, faults.Devicef("queue: job %s submitted after Finalize", job))
	}
	if deviceNum < 0 || int(deviceNum) >= len(b.commands) {
		return xsync.Resolved[time.Duration](0, faults.Devicef("queue: invalid device #%d", deviceNum))
	}
	if err := job.Validate(); err != nil {
		return xsync.Resolved[time.Duration](0, err)
	}
	future := xsync.NewFuture[time.Duration]()
	b.commands[deviceNum] <- command{job: job, future: future}
	return future
}

// Finalize drains the device queues and stops their goroutines.
func (b *Backend) Finalize() {
	b.muQueues.Lock()
	if !b.finalized {
		b.finalized = true
		for _, queue := range b.commands {
			close(queue)
		}
	}
	b.muQueues.Unlock()
	b.pending.Wait()
}
