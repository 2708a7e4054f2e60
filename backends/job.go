// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/core/partition"
)

// Job is one kernel evaluation submitted to a device: it accumulates into Dest over its destination axis
// range (Data for kernels.Forward, Grid for kernels.Transpose).
//
// The caller must not touch Dest in the destination range, nor modify Source, until the job completes.
type Job struct {
	Kernel     kernels.Kernel
	Op         kernels.Op
	Source     []float64
	Dest       []float64
	Grid, Data partition.Range
}

// Destination range of the job.
func (j Job) Destination() partition.Range { return j.Op.Destination(j.Grid, j.Data) }

// String implements fmt.Stringer.
func (j Job) String() string {
	name := "<nil>"
	if j.Kernel != nil {
		name = j.Kernel.Name()
	}
	return fmt.Sprintf("%s(%s, grid=%s, data=%s)", j.Op, name, j.Grid, j.Data)
}

// Validate checks the job is well-formed, and returns a device error otherwise.
func (j Job) Validate() error {
	if j.Kernel == nil {
		return faults.Devicef("job %s has no kernel", j)
	}
	if j.Op != kernels.Forward && j.Op != kernels.Transpose {
		return faults.Devicef("job %s has invalid op", j)
	}
	gridAll, dataAll := kernels.Extent(j.Kernel)
	if j.Grid.End < j.Grid.Start || j.Grid.Intersect(gridAll) != j.Grid ||
		j.Data.End < j.Data.Start || j.Data.Intersect(dataAll) != j.Data {
		return faults.Devicef("job %s out of the kernel extent (grid=%s, data=%s)", j, gridAll, dataAll)
	}
	srcLen, dstLen := dataAll.End, gridAll.End
	if j.Op == kernels.Forward {
		srcLen, dstLen = dstLen, srcLen
	}
	if len(j.Source) < srcLen || len(j.Dest) < dstLen {
		return faults.Devicef("job %s vectors too short: source %d < %d or dest %d < %d",
			j, len(j.Source), srcLen, len(j.Dest), dstLen)
	}
	return nil
}

// Execute validates and runs the job on the calling goroutine, and returns its elapsed time.
//
// The destination range is evaluated in consecutive blocks of blockSize elements, as a device would process
// its workgroups. Panics in the kernel are converted to device errors.
func Execute(j Job, blockSize int) (elapsed time.Duration, err error) {
	if err = j.Validate(); err != nil {
		return
	}
	start := time.Now()
	dest := j.Destination()
	blockSize = max(blockSize, 1)
	exception := exceptions.Try(func() {
		for blockStart := dest.Start; blockStart < dest.End; blockStart += blockSize {
			block := partition.Range{Start: blockStart, End: min(blockStart+blockSize, dest.End)}
			grid, data := j.Op.WithDestination(j.Grid, j.Data, block)
			kernels.Eval(j.Kernel, j.Op, j.Source, j.Dest, grid, data)
		}
	})
	if exception != nil {
		return 0, faults.Devicef("job %s failed: %v", j, exception)
	}
	return time.Since(start), nil
}
