// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

func report(b *benchmark) {
	fmt.Println(titleStyle.Render("Summary"))
	summary := newTable(lipgloss.Right, lipgloss.Left)
	summary.Row("run", b.runID)
	summary.Row("ranks × workers", fmt.Sprintf("%d × %d", *flagRanks, *flagWorkers))
	summary.Row("data points", humanize.Comma(int64(b.ds.NumPoints())))
	summary.Row("grid", fmt.Sprintf("dim=%d, level=%d, %s points", b.grid.Dim(), *flagLevel,
		humanize.Comma(int64(b.grid.Size()))))
	if b.backend != nil {
		summary.Row("backend", fmt.Sprintf("%s (%d devices, granularity %s)", b.backend.Description(),
			b.backend.NumDevices(), b.backend.Granularity()))
	} else {
		summary.Row("backend", "none (CPU only)")
	}
	converged := "no"
	if b.solve.Converged {
		converged = "yes"
	}
	summary.Row("CG iterations", fmt.Sprintf("%d (converged: %s)", b.solve.Iterations, converged))
	summary.Row("residual", fmt.Sprintf("%.3g → %.3g", b.solve.InitialResidual, b.solve.Residual))
	summary.Row("training MSE", fmt.Sprintf("%.4g", b.mse))
	summary.Row("elapsed", b.elapsed.Round(time.Millisecond).String())
	fmt.Println(summary.Render())

	fmt.Println(titleStyle.Render("Ranks"))
	headers := []string{"Rank", "Data", "Grid", "Mult", "Compute", "Complete", "Transpose", "Chunks"}
	hybrid := b.backend != nil
	if hybrid {
		headers = append(headers, "Accel. forward", "Accel. transpose", "Scratch")
	}
	ranks := newTable(lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	ranks.Headers(headers...)
	for _, r := range b.results {
		row := []string{
			fmt.Sprint(r.rank),
			r.dataSlice,
			r.gridSlice,
			humanize.Comma(int64(r.stats.MultCalls)),
			r.stats.ComputeTime.Round(time.Microsecond).String(),
			r.stats.CompleteTime.Round(time.Microsecond).String(),
			r.stats.TransposeTime.Round(time.Microsecond).String(),
			humanize.Comma(int64(r.stats.ChunksReceived)),
		}
		if hybrid && r.hybrid != nil {
			row = append(row,
				percent(r.hybrid.AcceleratorElements[0], r.hybrid.CPUElements[0]),
				percent(r.hybrid.AcceleratorElements[1], r.hybrid.CPUElements[1]),
				humanize.Bytes(uint64(r.scratchBytes)))
		}
		ranks.Row(row...)
	}
	fmt.Println(ranks.Render())
}

func percent(accel, cpu int) string {
	if accel+cpu == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(accel)/float64(accel+cpu))
}
