// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package tuning implements the online controller that splits a problem between two partitions
// (by convention partition 1 is the CPU team and partition 2 the accelerator) based on their measured
// execution times.
//
// A Tuner is owned by exactly one dispatcher. It has no locks: it must only be mutated by the team's
// leader between two full-team barriers, while followers may read it in between.
package tuning

import (
	"fmt"
	"time"

	"github.com/sgpar/sgpar/pkg/core/faults"
	"k8s.io/klog/v2"
)

const (
	// OptimisticSpeedup is the speed ratio (partition 2 over partition 1) assumed after a reset: it gives
	// the accelerator a generous share on the first calls, and the feedback then pulls it back.
	OptimisticSpeedup = 20.0

	// CalibrationK is the assumed baseline throughput advantage of partition 1 used by the feedback policy.
	CalibrationK = 0.93

	// DefaultRetuneCycle is the default number of calls between two updates of the speed ratio.
	DefaultRetuneCycle = 10

	// MinBlocksMultiplier: problems smaller than MinBlocksMultiplier*divider are given entirely to partition 1.
	MinBlocksMultiplier = 4
)

// State is a snapshot of a Tuner.
type State struct {
	ProblemSize, Divider, RetuneCycle int

	// CallCounter counts calls to SetExecutionTimes since the last reset or problem size change.
	CallCounter int

	// LastTime1 and LastTime2 are the most recent measured times of each partition.
	LastTime1, LastTime2 time.Duration

	// SpeedupEstimate is the current estimate of partition 2 throughput over partition 1 throughput.
	SpeedupEstimate float64

	Partition1Size int
}

// Partition2Size is the share of the problem assigned to partition 2.
func (s State) Partition2Size() int { return s.ProblemSize - s.Partition1Size }

// String implements fmt.Stringer.
func (s State) String() string {
	return fmt.Sprintf("size=%d (p1=%d, p2=%d, divider=%d), speedup=%.3g, calls=%d/%d, last times=(%s, %s)",
		s.ProblemSize, s.Partition1Size, s.Partition2Size(), s.Divider, s.SpeedupEstimate,
		s.CallCounter, s.RetuneCycle, s.LastTime1, s.LastTime2)
}

// Policy decides how the speed ratio evolves with the measured throughputs.
type Policy interface {
	// Initial speed ratio, used at construction and at every reset.
	Initial() float64

	// Calibration constant K: the share of partition 2 is ratio/(ratio+K).
	Calibration() float64

	// Next returns the new speed ratio given the current one and the throughputs (elements per second)
	// measured over the last retune cycle.
	Next(current, throughput1, throughput2 float64) float64
}

// Dynamic is the feedback-driven policy: the ratio becomes the measured throughput ratio.
type Dynamic struct {
	K float64
}

func (p Dynamic) Initial() float64 { return OptimisticSpeedup }
func (p Dynamic) Calibration() float64 { return p.K }
func (p Dynamic) Next(_, throughput1, throughput2 float64) float64 {
	return throughput2 / throughput1
}

// Static keeps a fixed speed ratio, ignoring measurements. The share of partition 2 is Ratio/(Ratio+1).
type Static struct {
	Ratio float64
}

func (p Static) Initial() float64 { return p.Ratio }
func (p Static) Calibration() float64 { return 1 }
func (p Static) Next(current, _, _ float64) float64 { return current }

// Tuner splits a problem of size ProblemSize in two partitions.
//
// The invariants Partition1Size()+Partition2Size() == ProblemSize() and Partition2Size() % divider == 0 hold
// after every public method.
type Tuner struct {
	state  State
	policy Policy

	// Accumulated over the current retune cycle.
	sumSize1, sumSize2 int
	sumTime1, sumTime2 time.Duration
}

// New creates a feedback-driven tuner (Dynamic{K: CalibrationK}), freshly reset.
//
// The divider is the granularity partition 2 is aligned to, and retuneCycle the number of calls to
// SetExecutionTimes between two updates of the speed estimate.
func New(problemSize, divider, retuneCycle int) (*Tuner, error) {
	return NewWithPolicy(problemSize, divider, retuneCycle, Dynamic{K: CalibrationK})
}

// NewStatic creates a tuner that always splits with the given speed ratio.
func NewStatic(problemSize, divider int, ratio float64) (*Tuner, error) {
	if ratio < 0 {
		return nil, faults.Configurationf("tuning: static speed ratio must be >= 0, got %g", ratio)
	}
	return NewWithPolicy(problemSize, divider, DefaultRetuneCycle, Static{Ratio: ratio})
}

// NewWithPolicy creates a tuner with an arbitrary policy.
func NewWithPolicy(problemSize, divider, retuneCycle int, policy Policy) (*Tuner, error) {
	switch {
	case problemSize < 0:
		return nil, faults.Configurationf("tuning: problem size must be >= 0, got %d", problemSize)
	case divider <= 0:
		return nil, faults.Configurationf("tuning: divider must be > 0, got %d", divider)
	case retuneCycle <= 0:
		return nil, faults.Configurationf("tuning: retune cycle must be > 0, got %d", retuneCycle)
	case policy == nil:
		return nil, faults.Configurationf("tuning: nil policy")
	case !(policy.Calibration() > 0):
		return nil, faults.Configurationf("tuning: calibration constant must be > 0, got %g", policy.Calibration())
	}
	t := &Tuner{
		state: State{
			ProblemSize: problemSize,
			Divider:     divider,
			RetuneCycle: retuneCycle,
		},
		policy: policy,
	}
	t.ResetAutoTuning()
	return t, nil
}

// State returns a snapshot of the tuner state.
func (t *Tuner) State() State { return t.state }

// ProblemSize is the size currently being split.
func (t *Tuner) ProblemSize() int { return t.state.ProblemSize }

// Divider is the granularity partition 2 is aligned to.
func (t *Tuner) Divider() int { return t.state.Divider }

// Partition1Size is the share of the problem assigned to partition 1 (the CPU).
func (t *Tuner) Partition1Size() int { return t.state.Partition1Size }

// Partition2Size is the share of the problem assigned to partition 2 (the accelerator).
func (t *Tuner) Partition2Size() int { return t.state.Partition2Size() }

// SetProblemSize changes the size of the problem. If it differs from the current one, the split is
// recomputed immediately with the current speed estimate, and the retune cycle restarts.
func (t *Tuner) SetProblemSize(problemSize int) error {
	if problemSize < 0 {
		return faults.Configurationf("tuning: problem size must be >= 0, got %d", problemSize)
	}
	if problemSize == t.state.ProblemSize {
		return nil
	}
	klog.V(2).Infof("tuning: problem size changed from %d to %d", t.state.ProblemSize, problemSize)
	t.state.ProblemSize = problemSize
	t.restartCycle()
	t.split()
	return nil
}

// ResetAutoTuning resets the speed estimate to the policy's initial (optimistic) value and restarts the cycle.
func (t *Tuner) ResetAutoTuning() {
	t.state.SpeedupEstimate = t.policy.Initial()
	t.state.LastTime1, t.state.LastTime2 = 0, 0
	t.restartCycle()
	t.split()
}

// Adopt takes over the speed estimate learned by another tuner, typically one that split an earlier
// version of the same problem. The retune cycle restarts and the split is recomputed for the current
// problem size. Invalid (negative or NaN) estimates are ignored.
func (t *Tuner) Adopt(previous State) {
	if !(previous.SpeedupEstimate >= 0) {
		return
	}
	t.state.SpeedupEstimate = previous.SpeedupEstimate
	t.state.LastTime1, t.state.LastTime2 = previous.LastTime1, previous.LastTime2
	t.restartCycle()
	t.split()
}

// SetExecutionTimes records the measured times of the last call for partition 1 (t1) and partition 2 (t2).
//
// The speed estimate only changes once every RetuneCycle calls, using the throughput aggregated over the
// whole cycle. Cycles in which one of the partitions had no work or no measurable time keep the previous
// estimate.
func (t *Tuner) SetExecutionTimes(t1, t2 time.Duration) {
	t.state.LastTime1, t.state.LastTime2 = t1, t2
	t.state.CallCounter++
	t.sumSize1 += t.state.Partition1Size
	t.sumSize2 += t.state.Partition2Size()
	t.sumTime1 += t1
	t.sumTime2 += t2
	if t.state.CallCounter%t.state.RetuneCycle != 0 {
		return
	}
	t.retune()
}

func (t *Tuner) retune() {
	defer func() {
		t.sumSize1, t.sumSize2 = 0, 0
		t.sumTime1, t.sumTime2 = 0, 0
	}()
	if t.sumSize1 == 0 || t.sumSize2 == 0 {
		klog.V(2).Infof("tuning: retune skipped, one partition had no work (sizes %d, %d)", t.sumSize1, t.sumSize2)
		return
	}
	if t.sumTime1 <= 0 || t.sumTime2 <= 0 {
		klog.Warningf("tuning: retune skipped, non-positive execution times (%s, %s)", t.sumTime1, t.sumTime2)
		return
	}
	throughput1 := float64(t.sumSize1) / t.sumTime1.Seconds()
	throughput2 := float64(t.sumSize2) / t.sumTime2.Seconds()
	next := t.policy.Next(t.state.SpeedupEstimate, throughput1, throughput2)
	if !(next >= 0) {
		klog.Warningf("tuning: policy returned invalid speed ratio %g, keeping %g", next, t.state.SpeedupEstimate)
		return
	}
	t.state.SpeedupEstimate = next
	t.split()
	klog.V(2).Infof("tuning: retuned: %s", t.state)
}

func (t *Tuner) restartCycle() {
	t.state.CallCounter = 0
	t.sumSize1, t.sumSize2 = 0, 0
	t.sumTime1, t.sumTime2 = 0, 0
}

// split recomputes Partition1Size from the current estimate.
func (t *Tuner) split() {
	n, div := t.state.ProblemSize, t.state.Divider
	p2 := 0
	if n >= MinBlocksMultiplier*div {
		ratio := t.state.SpeedupEstimate
		target := float64(n) * ratio / (ratio + t.policy.Calibration())
		if target >= float64(div)/2 {
			p2 = min(int(target)/div*div, n/div*div)
		}
	}
	t.state.Partition1Size = n - p2
}
