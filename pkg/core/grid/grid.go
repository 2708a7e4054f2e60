// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package grid holds the storage of sparse grid points: for each point and dimension its level l and
// odd index i, such that the point's coordinate is i/2^l.
package grid

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/support/sets"
)

// Storage of the grid points, in insertion order.
type Storage struct {
	dim             int
	levels, indices []int32
	points          sets.Set[string]
}

// New returns an empty storage for a grid of the given dimension.
func New(dim int) (*Storage, error) {
	if dim <= 0 {
		return nil, faults.Configurationf("grid: dimension must be > 0, got %d", dim)
	}
	return &Storage{dim: dim, points: sets.Make[string]()}, nil
}

// NewRegular returns the regular sparse grid (without boundary) of the given level: all points with
// levels l_k >= 1 and Σ l_k <= level + dim - 1.
func NewRegular(dim, level int) (*Storage, error) {
	s, err := New(dim)
	if err != nil {
		return nil, err
	}
	if level < 1 {
		return nil, faults.Configurationf("grid: level must be >= 1, got %d", level)
	}
	levels := make([]int32, dim)
	indices := make([]int32, dim)
	var addIndices func(d int)
	addIndices = func(d int) {
		if d == dim {
			s.insert(levels, indices)
			return
		}
		for i := int32(1); i < 1<<levels[d]; i += 2 {
			indices[d] = i
			addIndices(d + 1)
		}
	}
	var addLevels func(d, budget int)
	addLevels = func(d, budget int) {
		if d == dim {
			addIndices(0)
			return
		}
		// Leave at least level 1 for each remaining dimension.
		for l := 1; l <= budget-(dim-d-1); l++ {
			levels[d] = int32(l)
			addLevels(d+1, budget-l)
		}
	}
	addLevels(0, level+dim-1)
	return s, nil
}

// Dim is the dimension of the grid.
func (s *Storage) Dim() int { return s.dim }

// Size is the number of grid points.
func (s *Storage) Size() int { return len(s.levels) / s.dim }

// Level returns the levels of point j. The returned slice must not be modified.
func (s *Storage) Level(j int) []int32 { return s.levels[j*s.dim : (j+1)*s.dim] }

// Index returns the indices of point j. The returned slice must not be modified.
func (s *Storage) Index(j int) []int32 { return s.indices[j*s.dim : (j+1)*s.dim] }

// Coordinates of point j in [0, 1]^dim.
func (s *Storage) Coordinates(j int) []float64 {
	coords := make([]float64, s.dim)
	for d, l := range s.Level(j) {
		coords[d] = float64(s.Index(j)[d]) / float64(int64(1)<<l)
	}
	return coords
}

// AddPoint appends a point to the grid and returns its position. Levels must be >= 1 and indices odd
// within (0, 2^l).
func (s *Storage) AddPoint(levels, indices []int32) (int, error) {
	if len(levels) != s.dim || len(indices) != s.dim {
		return 0, errors.Errorf("grid: point of dimension (%d, %d) added to grid of dimension %d",
			len(levels), len(indices), s.dim)
	}
	for d := range s.dim {
		l, i := levels[d], indices[d]
		if l < 1 || l > 30 || i <= 0 || i >= 1<<l || i%2 == 0 {
			return 0, errors.Errorf("grid: invalid point (level %d, index %d) in dimension %d", l, i, d)
		}
	}
	if s.Contains(levels, indices) {
		return 0, errors.Errorf("grid: point (levels %v, indices %v) already in the grid", levels, indices)
	}
	s.insert(levels, indices)
	return s.Size() - 1, nil
}

// Contains returns whether the point is in the grid.
func (s *Storage) Contains(levels, indices []int32) bool {
	return len(levels) == s.dim && len(indices) == s.dim && s.points.Has(pointKey(levels, indices))
}

func (s *Storage) insert(levels, indices []int32) {
	s.levels = append(s.levels, levels...)
	s.indices = append(s.indices, indices...)
	s.points.Insert(pointKey(levels, indices))
}

// pointKey packs the levels and indices of a point.
func pointKey(levels, indices []int32) string {
	key := make([]byte, 0, 8*len(levels))
	for d := range levels {
		key = binary.LittleEndian.AppendUint32(key, uint32(levels[d]))
		key = binary.LittleEndian.AppendUint32(key, uint32(indices[d]))
	}
	return string(key)
}

// String implements fmt.Stringer.
func (s *Storage) String() string {
	return fmt.Sprintf("grid{dim=%d, size=%d}", s.dim, s.Size())
}
