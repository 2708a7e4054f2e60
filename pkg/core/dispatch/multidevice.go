// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"time"

	"github.com/sgpar/sgpar/backends"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/core/partition"
	"github.com/sgpar/sgpar/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// launcher submits the accelerator partition of a call to the devices. It's only called by the leader.
type launcher func(h *Hybrid, op kernels.Op, source, result []float64, grid, data, accel partition.Range) (*launch, error)

// DeviceAssignment is the share of one device in an accelerator partition.
type DeviceAssignment struct {
	Device     backends.DeviceNum
	Grid, Data partition.Range
}

// launch is the state of one call on the devices, owned by the leader until the call completes.
type launch struct {
	futures     []*xsync.Future[time.Duration]
	assignments []DeviceAssignment

	// scratch buffers to sum into the result over the reduce range, after all devices complete.
	scratch [][]float64
	reduce  partition.Range
}

// await blocks until all devices complete, and returns the longest device time and the first error.
func (l *launch) await() (elapsed time.Duration, err error) {
	for _, f := range l.futures {
		deviceTime, deviceErr := f.Wait()
		if deviceErr != nil {
			if err == nil {
				err = deviceErr
			}
			continue
		}
		elapsed = max(elapsed, deviceTime)
	}
	return
}

// launchSplit splits the destination range among the devices: each device writes a disjoint part of the result.
// It's used for the forward direction, and for the transpose with MergePolicySafe.
func launchSplit(h *Hybrid, op kernels.Op, source, result []float64, grid, data, accel partition.Range) (*launch, error) {
	numDevices := int(h.backend.NumDevices())
	plan, err := partition.Split(accel, numDevices, h.accelGranularity.Axis(op))
	if err != nil {
		return nil, err
	}
	l := &launch{}
	for device, part := range plan {
		if part.IsEmpty() {
			continue
		}
		g, d := op.WithDestination(grid, data, part)
		l.submit(h, DeviceAssignment{Device: backends.DeviceNum(device), Grid: g, Data: d}, op, source, result)
	}
	return l, nil
}

func (l *launch) submit(h *Hybrid, a DeviceAssignment, op kernels.Op, source, dest []float64) {
	l.assignments = append(l.assignments, a)
	l.futures = append(l.futures, h.backend.Submit(a.Device, backends.Job{
		Kernel: h.kernel, Op: op, Source: source, Dest: dest, Grid: a.Grid, Data: a.Data,
	}))
}

// launchFast gives every device the full accelerator range of the grid, and a slice of the data.
// Device 0 accumulates directly into the result, the others into their scratch buffers.
func launchFast(h *Hybrid, op kernels.Op, source, result []float64, grid, data, accel partition.Range) (*launch, error) {
	numDevices := int(h.backend.NumDevices())
	if op != kernels.Transpose || numDevices == 1 {
		return launchSplit(h, op, source, result, grid, data, accel)
	}
	plan, err := partition.Split(data, numDevices, h.accelGranularity.Data)
	if err != nil {
		return nil, err
	}
	l := &launch{reduce: accel}
	for device, part := range plan {
		if part.IsEmpty() {
			continue
		}
		dest := result
		if device > 0 {
			dest = h.ctx.scratchBuffer(device, len(result))
			clear(partition.Slice(dest, accel))
			l.scratch = append(l.scratch, dest)
		}
		l.submit(h, DeviceAssignment{Device: backends.DeviceNum(device), Grid: accel, Data: part}, op, source, dest)
	}
	return l, nil
}

// deviceContext holds the per-device resources of a dispatcher. It's only touched by the leader.
type deviceContext struct {
	scratch [][]float64
}

func newDeviceContext(numDevices int) *deviceContext {
	return &deviceContext{scratch: make([][]float64, numDevices)}
}

// scratchBuffer returns the scratch buffer of the device with at least n elements, allocating it on first use.
func (c *deviceContext) scratchBuffer(device, n int) []float64 {
	buf := c.scratch[device]
	if cap(buf) < n {
		klog.V(2).Infof("dispatch: allocating scratch buffer of %d elements for device #%d", n, device)
		buf = make([]float64, n)
		c.scratch[device] = buf
	}
	return buf[:n]
}

// release frees all the scratch buffers.
func (c *deviceContext) release() {
	for device := range c.scratch {
		c.scratch[device] = nil
	}
}

// scratchBytes is the memory held by the scratch buffers.
func (c *deviceContext) scratchBytes() int {
	total := 0
	for _, buf := range c.scratch {
		total += 8 * cap(buf)
	}
	return total
}
