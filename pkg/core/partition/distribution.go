// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package partition

import (
	"sort"

	"github.com/sgpar/sgpar/pkg/core/faults"
)

// CalcDistribution computes the static sizes and offsets of totalSize elements across numRanks ranks.
//
// It follows the same tiling as Segment: sum(sizes) == totalSize, every size but possibly the last is a multiple
// of minGranularity, and offsets are non-decreasing. Offsets are strictly increasing only when
// totalSize >= numRanks*minGranularity, that is, when every rank gets at least one granule. Below that the
// leading ranks are empty and share their offset: CalcDistribution(5, 3, 8) gives sizes [0 0 5] and
// offsets [0 0 0].
func CalcDistribution(totalSize, numRanks, minGranularity int) (sizes, offsets []int, err error) {
	if totalSize < 0 {
		return nil, nil, faults.Configurationf("partition.CalcDistribution: negative totalSize %d", totalSize)
	}
	if numRanks <= 0 {
		return nil, nil, faults.Configurationf("partition.CalcDistribution: numRanks must be > 0, got %d", numRanks)
	}
	sizes = make([]int, numRanks)
	offsets = make([]int, numRanks)
	for rank := range numRanks {
		var r Range
		r, err = Segment(0, totalSize, numRanks, rank, minGranularity)
		if err != nil {
			return nil, nil, err
		}
		sizes[rank] = r.Len()
		offsets[rank] = r.Start
	}
	return sizes, offsets, nil
}

// Distribution is an immutable table assigning a fixed, disjoint slice of an axis to each rank.
type Distribution struct {
	sizes, offsets []int
	total          int
	granularity    int
}

// NewDistribution creates the distribution table of totalSize elements over numRanks.
// See CalcDistribution.
func NewDistribution(totalSize, numRanks, minGranularity int) (*Distribution, error) {
	sizes, offsets, err := CalcDistribution(totalSize, numRanks, minGranularity)
	if err != nil {
		return nil, err
	}
	return &Distribution{sizes: sizes, offsets: offsets, total: totalSize, granularity: minGranularity}, nil
}

// NumRanks in the distribution.
func (d *Distribution) NumRanks() int { return len(d.sizes) }

// Total number of elements distributed.
func (d *Distribution) Total() int { return d.total }

// Granularity used to align the slices.
func (d *Distribution) Granularity() int { return d.granularity }

// Size of the slice owned by rank.
func (d *Distribution) Size(rank int) int { return d.sizes[rank] }

// Offset of the slice owned by rank.
func (d *Distribution) Offset(rank int) int { return d.offsets[rank] }

// Range owned by rank.
func (d *Distribution) Range(rank int) Range {
	return Range{Start: d.offsets[rank], End: d.offsets[rank] + d.sizes[rank]}
}

// Sizes returns a copy of the sizes per rank.
func (d *Distribution) Sizes() []int { return append([]int(nil), d.sizes...) }

// Offsets returns a copy of the offsets per rank.
func (d *Distribution) Offsets() []int { return append([]int(nil), d.offsets...) }

// Owner returns the rank whose slice starts at offset: offsets are used as correlation keys of transfers.
// If more than one rank starts at offset (only possible for empty slices), the last one with a non-empty
// slice, or otherwise the first, is returned. It returns -1 if no slice starts at offset.
func (d *Distribution) Owner(offset int) int {
	first := sort.SearchInts(d.offsets, offset)
	if first == len(d.offsets) || d.offsets[first] != offset {
		return -1
	}
	for rank := first; rank < len(d.offsets) && d.offsets[rank] == offset; rank++ {
		if d.sizes[rank] > 0 {
			return rank
		}
	}
	return first
}
