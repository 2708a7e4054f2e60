// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"slices"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/sgpar/sgpar/backends"
	"github.com/sgpar/sgpar/internal/workerspool"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/core/partition"
	"github.com/sgpar/sgpar/pkg/core/tuning"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// Hybrid shares every call between the CPU team and an accelerator backend.
//
// The destination range of a call is split in two by a tuner (one per direction): the first partition2Size
// elements (aligned to the accelerator granularity) go to the accelerator, submitted by the leader (worker 0),
// and the rest is split among the followers (workers 1 to n-1), which run the kernel synchronously.
// The measured times feed back into the tuner.
//
// Only the leader mutates the dispatcher state, always between two team barriers. After a device error the
// dispatcher is failed: every later call returns the same error, there is no fallback to the CPU.
type Hybrid struct {
	pool    *workerspool.Pool
	kernel  kernels.Kernel
	backend backends.Backend
	config  Config

	cpuGranularity, accelGranularity kernels.Granularity
	tuners                           [2]*tuning.Tuner
	launchers                        [2]launcher
	ctx                              *deviceContext

	// cpuTimes[id] is written only by follower id.
	cpuTimes []time.Duration

	// Published by the leader between barriers.
	callErr error
	failed  error
	closed  bool
	reduce  *launch

	stats       Stats
	assignments [2][]DeviceAssignment
}

var (
	_ Operator        = (*Hybrid)(nil)
	_ TuningInheritor = (*Hybrid)(nil)
)

// Stats of a Hybrid dispatcher, per direction (indexed by kernels.Op).
type Stats struct {
	Calls               [2]int
	CPUElements         [2]int
	AcceleratorElements [2]int
	CPUTime             [2]time.Duration
	AcceleratorTime     [2]time.Duration
}

// NewHybrid creates a dispatcher that evaluates kernel with the workers of pool and the devices of backend.
//
// It returns a configuration error if the team has less than two workers (the leader only drives the
// accelerator), or if the backend granularity is not a multiple of the kernel granularity on both axes.
// The backend is not owned by the dispatcher: Close doesn't finalize it.
func NewHybrid(pool *workerspool.Pool, kernel kernels.Kernel, backend backends.Backend, config Config) (*Hybrid, error) {
	if pool.NumWorkers() < 2 {
		return nil, faults.Configurationf("dispatch: hybrid dispatcher requires a team of at least 2 workers, got %d",
			pool.NumWorkers())
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	if backend.NumDevices() < 1 {
		return nil, faults.Configurationf("dispatch: backend %q has no devices", backend.Name())
	}
	h := &Hybrid{
		pool:             pool,
		kernel:           kernel,
		backend:          backend,
		config:           config,
		cpuGranularity:   kernel.Granularity(),
		accelGranularity: backend.Granularity(),
		ctx:              newDeviceContext(int(backend.NumDevices())),
		cpuTimes:         make([]time.Duration, pool.NumWorkers()),
	}
	if err := h.cpuGranularity.Validate(); err != nil {
		return nil, err
	}
	if !h.accelGranularity.IsMultipleOf(h.cpuGranularity) {
		return nil, faults.Configurationf("dispatch: accelerator granularity %s is not a multiple of the CPU kernel granularity %s",
			h.accelGranularity, h.cpuGranularity)
	}
	for _, op := range []kernels.Op{kernels.Forward, kernels.Transpose} {
		divider := h.accelGranularity.Axis(op)
		var err error
		if config.StaticRatio > 0 {
			h.tuners[op], err = tuning.NewStatic(0, divider, config.StaticRatio)
		} else {
			h.tuners[op], err = tuning.New(0, divider, config.RetuneCycle)
		}
		if err != nil {
			return nil, err
		}
	}
	h.launchers[kernels.Forward] = launchSplit
	h.launchers[kernels.Transpose] = launchSplit
	if config.MergePolicy == MergePolicyFast {
		h.launchers[kernels.Transpose] = launchFast
	}
	klog.V(1).Infof("dispatch: hybrid %s with %d workers and %s (%d devices, granularity %s), merge policy %s",
		kernel.Name(), pool.NumWorkers(), backend.Name(), backend.NumDevices(), h.accelGranularity, config.MergePolicy)
	return h, nil
}

// WithHybrid creates a Hybrid dispatcher, calls fn with it and closes it, on every exit path.
func WithHybrid(pool *workerspool.Pool, kernel kernels.Kernel, backend backends.Backend, config Config,
	fn func(h *Hybrid) error) (err error) {
	h, err := NewHybrid(pool, kernel, backend, config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(h)
}

// Granularity of the ranges given to the dispatcher: the accelerator granularity.
func (h *Hybrid) Granularity() kernels.Granularity { return h.accelGranularity }

// NumGridPoints implements Operator.
func (h *Hybrid) NumGridPoints() int { return h.kernel.NumGridPoints() }

// NumDataPoints implements Operator.
func (h *Hybrid) NumDataPoints() int { return h.kernel.NumDataPoints() }

// TunerStates returns the forward and transpose tuner states. It must not be called during a team region.
func (h *Hybrid) TunerStates() (forward, transpose tuning.State) {
	return h.tuners[kernels.Forward].State(), h.tuners[kernels.Transpose].State()
}

// InheritTuning carries the speed estimates learned by previous over to h, if previous is also a Hybrid
// with a feedback-driven tuner. Static ratios are left alone. It must not be called during a call.
func (h *Hybrid) InheritTuning(previous Operator) {
	prev, ok := previous.(*Hybrid)
	if !ok || prev == h || h.config.StaticRatio > 0 || prev.config.StaticRatio > 0 {
		return
	}
	for op, tuner := range h.tuners {
		tuner.Adopt(prev.tuners[op].State())
	}
	klog.V(1).Infof("dispatch: hybrid inherited speedup estimates forward=%.3g transpose=%.3g",
		h.tuners[kernels.Forward].State().SpeedupEstimate, h.tuners[kernels.Transpose].State().SpeedupEstimate)
}

// Stats returns the accumulated statistics. It must not be called during a team region.
func (h *Hybrid) Stats() Stats { return h.stats }

// ScratchBytes is the memory held by the per-device scratch buffers of the fast merge policy.
func (h *Hybrid) ScratchBytes() int { return h.ctx.scratchBytes() }

// Assignments returns the device shares of the last call in direction op; empty if the call ran on
// the CPU only. It must not be called during a team region.
func (h *Hybrid) Assignments(op kernels.Op) []DeviceAssignment {
	return slices.Clone(h.assignments[op])
}

// Err returns the error that failed the dispatcher, or nil.
func (h *Hybrid) Err() error { return h.failed }

// MultIn implements Operator.
func (h *Hybrid) MultIn(w *workerspool.Worker, alpha, result []float64, grid, data partition.Range) error {
	return h.eval(w, kernels.Forward, alpha, result, grid, data)
}

// MultTransposeIn implements Operator.
func (h *Hybrid) MultTransposeIn(w *workerspool.Worker, source, result []float64, grid, data partition.Range) error {
	return h.eval(w, kernels.Transpose, source, result, grid, data)
}

func (h *Hybrid) eval(w *workerspool.Worker, op kernels.Op, source, result []float64, grid, data partition.Range) error {
	if w.Pool() != h.pool {
		return errors.Errorf("dispatch: hybrid dispatcher called from a worker of a different team")
	}
	if h.closed {
		return errors.Errorf("dispatch: hybrid dispatcher used after Close")
	}
	if h.failed != nil {
		return h.failed
	}
	if err := checkRanges(h, op, source, result, grid, data); err != nil {
		return err
	}
	tuner := h.tuners[op]
	dest := op.Destination(grid, data)

	// Retune immediately if the problem size changed.
	w.Barrier()
	if w.IsLeader() {
		// The size is never negative after checkRanges.
		_ = tuner.SetProblemSize(dest.Len())
	}
	w.Barrier()

	accelRange := partition.Range{Start: dest.Start, End: dest.Start + tuner.Partition2Size()}
	cpuRange := partition.Range{Start: accelRange.End, End: dest.End}
	var l *launch
	var launchErr error
	if w.IsLeader() {
		if !accelRange.IsEmpty() {
			l, launchErr = h.launchers[op](h, op, source, result, grid, data, accelRange)
		}
	} else {
		start := time.Now()
		part, err := partition.Segment(cpuRange.Start, cpuRange.End, w.NumWorkers()-1, w.ID()-1, h.cpuGranularity.Axis(op))
		if err != nil {
			exceptions.Panicf("dispatch: invalid CPU partition: %+v", err)
		}
		if !part.IsEmpty() {
			g, d := op.WithDestination(grid, data, part)
			kernels.Eval(h.kernel, op, source, result, g, d)
		}
		h.cpuTimes[w.ID()] = time.Since(start)
	}
	w.Barrier()

	if w.IsLeader() {
		h.finishCall(op, l, launchErr, accelRange, cpuRange)
	}
	w.Barrier()
	if h.callErr != nil {
		return h.callErr
	}

	if h.reduce != nil {
		// Fast merge: the team sums the device scratch buffers into the result.
		part, err := partition.ThreadLocalSegment(w, h.reduce.reduce.Start, h.reduce.reduce.End, h.cpuGranularity.Axis(op))
		if err != nil {
			exceptions.Panicf("dispatch: invalid merge partition: %+v", err)
		}
		for _, scratch := range h.reduce.scratch {
			floats.Add(partition.Slice(result, part), partition.Slice(scratch, part))
		}
		w.Barrier()
	}
	return nil
}

// finishCall is run by the leader between barriers: it waits for the devices and feeds the tuner.
func (h *Hybrid) finishCall(op kernels.Op, l *launch, launchErr error, accelRange, cpuRange partition.Range) {
	h.reduce = nil
	var accelTime time.Duration
	err := launchErr
	if l != nil {
		var awaitErr error
		accelTime, awaitErr = l.await()
		if err == nil {
			err = awaitErr
		}
	}
	if err != nil {
		h.failed = faults.AsDevice(err, "dispatch: %s on backend %s failed", op, h.backend.Name())
		h.callErr = h.failed
		klog.Errorf("dispatch: hybrid dispatcher failed: %v", h.failed)
		return
	}
	h.assignments[op] = nil
	if l != nil {
		h.assignments[op] = l.assignments
		if len(l.scratch) > 0 {
			h.reduce = l
		}
	}
	var cpuTime time.Duration
	for _, t := range h.cpuTimes[1:] {
		cpuTime = max(cpuTime, t)
	}
	tuner := h.tuners[op]
	tuner.SetExecutionTimes(cpuTime, accelTime)
	h.callErr = nil

	h.stats.Calls[op]++
	h.stats.CPUElements[op] += cpuRange.Len()
	h.stats.AcceleratorElements[op] += accelRange.Len()
	h.stats.CPUTime[op] += cpuTime
	h.stats.AcceleratorTime[op] += accelTime
	if klog.V(2).Enabled() {
		klog.Infof("dispatch: %s call #%d: accelerator %s in %s, cpu %s in %s",
			op, h.stats.Calls[op], accelRange, accelTime, cpuRange, cpuTime)
	}
}

// Close releases the per-device scratch buffers. It must not be called during a team region.
func (h *Hybrid) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.ctx.release()
	h.reduce = nil
	return nil
}
