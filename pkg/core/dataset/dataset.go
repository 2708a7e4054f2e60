// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset holds the training points (one row per point, coordinates in [0, 1]) and their labels.
package dataset

import (
	"io"
	"math/rand/v2"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"github.com/sgpar/sgpar/pkg/core/partition"
	"gonum.org/v1/gonum/mat"
)

// Dataset is an immutable set of points with labels.
type Dataset struct {
	points *mat.Dense
	labels []float64

	// numOriginal is the number of points before padding.
	numOriginal int
}

// New creates a dataset from a points matrix (one row per point) and its labels, which may be nil.
func New(points *mat.Dense, labels []float64) (*Dataset, error) {
	if points == nil || points.IsEmpty() {
		return nil, errors.New("dataset: empty points matrix")
	}
	rows, _ := points.Dims()
	if labels == nil {
		labels = make([]float64, rows)
	}
	if len(labels) != rows {
		return nil, errors.Errorf("dataset: %d labels given for %d points", len(labels), rows)
	}
	return &Dataset{points: points, labels: labels, numOriginal: rows}, nil
}

// FromRows creates a dataset from a slice of rows, which must all have the same dimension.
func FromRows(rows [][]float64, labels []float64) (*Dataset, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("dataset: no rows")
	}
	dim := len(rows[0])
	flat := make([]float64, 0, len(rows)*dim)
	for ii, row := range rows {
		if len(row) != dim {
			return nil, errors.Errorf("dataset: row #%d has dimension %d, expected %d", ii, len(row), dim)
		}
		flat = append(flat, row...)
	}
	return New(mat.NewDense(len(rows), dim, flat), labels)
}

// Random creates a dataset of uniformly distributed points in [0, 1)^dim, labeled by fn.
func Random(rng *rand.Rand, numPoints, dim int, fn func(x []float64) float64) (*Dataset, error) {
	if numPoints <= 0 || dim <= 0 {
		return nil, errors.Errorf("dataset: invalid random dataset shape (%d, %d)", numPoints, dim)
	}
	points := mat.NewDense(numPoints, dim, nil)
	labels := make([]float64, numPoints)
	for i := range numPoints {
		row := points.RawRowView(i)
		for d := range row {
			row[d] = rng.Float64()
		}
		if fn != nil {
			labels[i] = fn(row)
		}
	}
	return New(points, labels)
}

// ReadCSV reads a dataset from CSV with a header line. The column labelColumn holds the labels; if it is
// empty, the last column is used. All other columns are coordinates.
func ReadCSV(r io.Reader, labelColumn string) (*Dataset, error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "dataset: failed to read CSV")
	}
	names := df.Names()
	if len(names) < 2 {
		return nil, errors.Errorf("dataset: CSV needs at least 2 columns, got %v", names)
	}
	if labelColumn == "" {
		labelColumn = names[len(names)-1]
	}
	if !slices.Contains(names, labelColumn) {
		return nil, errors.Errorf("dataset: label column %q not found in %v", labelColumn, names)
	}
	numRows := df.Nrow()
	if numRows == 0 {
		return nil, errors.New("dataset: CSV has no rows")
	}
	points := mat.NewDense(numRows, len(names)-1, nil)
	col := 0
	for _, name := range names {
		if name == labelColumn {
			continue
		}
		points.SetCol(col, df.Col(name).Float())
		col++
	}
	return New(points, df.Col(labelColumn).Float())
}

// NumPoints in the dataset, including padding.
func (ds *Dataset) NumPoints() int {
	rows, _ := ds.points.Dims()
	return rows
}

// NumOriginal is the number of points before padding.
func (ds *Dataset) NumOriginal() int { return ds.numOriginal }

// Dim is the dimension of the points.
func (ds *Dataset) Dim() int {
	_, cols := ds.points.Dims()
	return cols
}

// Row returns the coordinates of point i. The returned slice must not be modified.
func (ds *Dataset) Row(i int) []float64 { return ds.points.RawRowView(i) }

// Points returns the matrix of points. It must not be modified.
func (ds *Dataset) Points() mat.Matrix { return ds.points }

// Labels returns the labels, including padding (zeros). It must not be modified.
func (ds *Dataset) Labels() []float64 { return ds.labels }

// Padding returns the range of padding points.
func (ds *Dataset) Padding() partition.Range {
	return partition.Range{Start: ds.numOriginal, End: ds.NumPoints()}
}

// Padded returns the dataset with its number of points padded up to a multiple of granularity.
// Padding points are copies of the last point, with label 0. If no padding is needed, ds is returned.
func (ds *Dataset) Padded(granularity int) (*Dataset, error) {
	if granularity <= 0 {
		return nil, errors.Errorf("dataset: padding granularity must be > 0, got %d", granularity)
	}
	rows, cols := ds.points.Dims()
	target := partition.AlignUp(ds.numOriginal, granularity)
	if target == rows {
		return ds, nil
	}
	padded := mat.NewDense(target, cols, nil)
	padded.Slice(0, ds.numOriginal, 0, cols).(*mat.Dense).Copy(ds.points.Slice(0, ds.numOriginal, 0, cols))
	last := ds.points.RawRowView(ds.numOriginal - 1)
	for i := ds.numOriginal; i < target; i++ {
		padded.SetRow(i, last)
	}
	labels := make([]float64, target)
	copy(labels, ds.labels[:ds.numOriginal])
	return &Dataset{points: padded, labels: labels, numOriginal: ds.numOriginal}, nil
}
