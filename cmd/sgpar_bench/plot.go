// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// plotShares saves the accelerator share of rank 0 per CG iteration, for both directions.
func plotShares(fileName string, b *benchmark) error {
	if len(b.shares) == 0 {
		return errors.New("no accelerator statistics to plot: use -hybrid")
	}
	p := plot.New()
	p.Title.Text = "Accelerator share (rank 0)"
	p.X.Label.Text = "CG iteration"
	p.Y.Label.Text = "fraction of elements"
	p.Y.Min = 0
	p.Y.Max = 1

	forward := make(plotter.XYs, len(b.shares))
	transpose := make(plotter.XYs, len(b.shares))
	for ii, s := range b.shares {
		forward[ii] = plotter.XY{X: float64(ii + 1), Y: s.forward}
		transpose[ii] = plotter.XY{X: float64(ii + 1), Y: s.transpose}
	}
	if err := plotutil.AddLinePoints(p, "forward", forward, "transpose", transpose); err != nil {
		return errors.Wrap(err, "failed to build plot")
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, fileName); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", fileName)
	}
	return nil
}
