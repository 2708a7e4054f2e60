// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package partition implements the deterministic range splitting used to share work among workers,
// devices and ranks.
//
// All functions are stateless. Boundaries are aligned to a granularity (a kernel's vector width or
// a device's workgroup size), and any remainder is absorbed by the pieces nearest the end, so that
// every piece but possibly the last has a length multiple of the granularity.
package partition

import (
	"fmt"

	"github.com/sgpar/sgpar/internal/workerspool"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"golang.org/x/exp/constraints"
)

// Range is the half-open interval [Start, End) over the data axis or the grid axis.
type Range struct {
	Start, End int
}

// NewRange returns the Range [start, end), or a configuration error if end < start.
func NewRange(start, end int) (Range, error) {
	if end < start {
		return Range{}, faults.Configurationf("invalid range [%d, %d): end < start", start, end)
	}
	return Range{Start: start, End: end}, nil
}

// Len returns the number of elements in the range.
func (r Range) Len() int { return r.End - r.Start }

// IsEmpty returns whether the range has no elements.
func (r Range) IsEmpty() bool { return r.End <= r.Start }

// Contains returns whether index is in the range.
func (r Range) Contains(index int) bool { return index >= r.Start && index < r.End }

// Slice returns the sub-slice of values covered by the range.
func Slice[T any](values []T, r Range) []T {
	return values[r.Start:r.End]
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// AlignDown rounds value down to a multiple of granularity.
func AlignDown[T constraints.Integer](value, granularity T) T {
	return (value / granularity) * granularity
}

// AlignUp rounds value up to a multiple of granularity.
func AlignUp[T constraints.Integer](value, granularity T) T {
	return ((value + granularity - 1) / granularity) * granularity
}

// Segment splits [globalStart, globalEnd) into numPartitions near-equal pieces, and returns the piece
// with the given index.
//
// The range is split in blocks of granularity elements; each piece gets the same number of blocks, and the
// remaining blocks go one each to the pieces nearest the end. The last piece also takes the tail that
// doesn't fill a block. The union of all pieces reconstructs the parent range with no gap or overlap.
func Segment(globalStart, globalEnd, numPartitions, index, granularity int) (Range, error) {
	switch {
	case globalEnd < globalStart:
		return Range{}, faults.Configurationf("partition.Segment: invalid range [%d, %d)", globalStart, globalEnd)
	case numPartitions <= 0:
		return Range{}, faults.Configurationf("partition.Segment: numPartitions must be > 0, got %d", numPartitions)
	case index < 0 || index >= numPartitions:
		return Range{}, faults.Configurationf("partition.Segment: index %d out of range for %d partitions", index, numPartitions)
	case granularity <= 0:
		return Range{}, faults.Configurationf("partition.Segment: granularity must be > 0, got %d", granularity)
	}
	size := globalEnd - globalStart
	blocks := size / granularity
	base := blocks / numPartitions
	extra := blocks % numPartitions
	firstWithExtra := numPartitions - extra

	startBlock := index*base + max(0, index-firstWithExtra)
	numBlocks := base
	if index >= firstWithExtra {
		numBlocks++
	}
	r := Range{Start: globalStart + startBlock*granularity}
	r.End = r.Start + numBlocks*granularity
	if index == numPartitions-1 {
		r.End = globalEnd
	}
	return r, nil
}

// ThreadLocalSegment is like Segment, but the number of partitions and the index are taken from the
// worker's team. It can only be called from inside an active parallel region (see workerspool.Pool.Parallel).
func ThreadLocalSegment(w *workerspool.Worker, globalStart, globalEnd, granularity int) (Range, error) {
	return Segment(globalStart, globalEnd, w.NumWorkers(), w.ID(), granularity)
}

// Plan is an ordered sequence of disjoint ranges covering a parent range.
type Plan []Range

// Split returns the Plan with all numPartitions segments of parent (see Segment).
func Split(parent Range, numPartitions, granularity int) (Plan, error) {
	if numPartitions <= 0 {
		return nil, faults.Configurationf("partition.Split: numPartitions must be > 0, got %d", numPartitions)
	}
	plan := make(Plan, numPartitions)
	for ii := range plan {
		var err error
		plan[ii], err = Segment(parent.Start, parent.End, numPartitions, ii, granularity)
		if err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// Validate checks that the plan tiles parent exactly (contiguous, no gap or overlap), and that every
// piece but the last has a length multiple of granularity.
func (p Plan) Validate(parent Range, granularity int) error {
	if len(p) == 0 {
		return faults.Configurationf("empty plan for %s", parent)
	}
	next := parent.Start
	for ii, r := range p {
		if r.Start != next {
			return faults.Configurationf("plan piece #%d %s doesn't start at %d", ii, r, next)
		}
		if r.End < r.Start {
			return faults.Configurationf("plan piece #%d %s is inverted", ii, r)
		}
		if ii < len(p)-1 && r.Len()%granularity != 0 {
			return faults.Configurationf("plan piece #%d %s length is not a multiple of %d", ii, r, granularity)
		}
		next = r.End
	}
	if next != parent.End {
		return faults.Configurationf("plan ends at %d, parent %s ends at %d", next, parent, parent.End)
	}
	return nil
}

// Intersect returns the overlap of r and other, which is empty if they don't overlap.
func (r Range) Intersect(other Range) Range {
	start, end := max(r.Start, other.Start), min(r.End, other.End)
	if end < start {
		end = start
	}
	return Range{Start: start, End: end}
}

// Shift returns the range moved by offset.
func (r Range) Shift(offset int) Range {
	return Range{Start: r.Start + offset, End: r.End + offset}
}
