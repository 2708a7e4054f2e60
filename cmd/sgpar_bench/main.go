// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// sgpar_bench learns a sparse grid regression on a random or CSV dataset, simulating a number of ranks
// in-process, each with its own team of workers and optionally a hybrid (CPU + accelerator) dispatcher.
//
// It reports the solver convergence, the per-rank statistics and, with -plot, the share of the work the
// accelerators took over the solver iterations.
//
// Example:
//
//	sgpar_bench -ranks=4 -workers=4 -dim=3 -level=6 -points=20000 -hybrid -backend=queue:devices=2
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sgpar/sgpar/backends"
	_ "github.com/sgpar/sgpar/backends/default"
	"github.com/sgpar/sgpar/internal/workerspool"
	"github.com/sgpar/sgpar/pkg/core/dataset"
	"github.com/sgpar/sgpar/pkg/core/dispatch"
	"github.com/sgpar/sgpar/pkg/core/distributed"
	"github.com/sgpar/sgpar/pkg/core/grid"
	"github.com/sgpar/sgpar/pkg/core/kernels/linear"
	"github.com/sgpar/sgpar/pkg/solver"
	"github.com/sgpar/sgpar/pkg/support/fsutil"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagRanks   = flag.Int("ranks", 2, "Number of simulated ranks.")
	flagWorkers = flag.Int("workers", 4, "Number of workers in the team of each rank. Hybrid dispatch requires at least 2.")
	flagDim     = flag.Int("dim", 2, "Dimension of the random dataset and of the grid.")
	flagLevel   = flag.Int("level", 5, "Level of the regular sparse grid.")
	flagPoints  = flag.Int("points", 10000, "Number of points of the random dataset.")
	flagSeed    = flag.Uint64("seed", 42, "Seed for the random dataset.")
	flagData    = flag.String("data", "", "CSV file with a header to read the dataset from, instead of a random one. "+
		"All columns but -label are coordinates in [0, 1].")
	flagLabel  = flag.String("label", "y", "Name of the label column of the -data CSV file.")
	flagLambda = flag.Float64("lambda", 1e-4, "Regularization parameter.")
	flagIters  = flag.Int("iters", solver.DefaultMaxIterations, "Maximum number of CG iterations.")
	flagEps    = flag.Float64("eps", solver.DefaultEpsilon, "Relative residual at which CG stops.")
	flagHybrid = flag.Bool("hybrid", false, "Use the hybrid dispatcher, sharing the work of each rank "+
		"between its CPU team and the accelerator devices of -backend.")
	flagBackend = flag.String("backend", "", fmt.Sprintf(
		"Backend configuration (\"name:opt=value,...\") for -hybrid. If empty, $%s or %q is used.",
		backends.SGPAR_BACKEND, backends.DefaultBackend))
	flagPlot  = flag.String("plot", "", "If set, saves a PNG plot of the accelerator share per CG iteration to this file.")
	flagColor = flag.Bool("color", true, "Colored output. Disable it to get plain text tables.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if !*flagColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if err := run(); err != nil {
		klog.Errorf("sgpar_bench failed: %+v", err)
		os.Exit(1)
	}
}

// rankResult is what each rank reports at the end of the run.
type rankResult struct {
	rank                 int
	dataSlice, gridSlice string
	stats                distributed.Stats
	hybrid               *dispatch.Stats
	scratchBytes         int
}

// benchmark holds the state shared by the ranks.
type benchmark struct {
	runID   string
	ds      *dataset.Dataset
	grid    *grid.Storage
	backend backends.Backend

	// Filled by rank 0.
	solve   solver.Result
	mse     float64
	elapsed time.Duration
	shares  []iterationShare

	results []rankResult
}

// iterationShare is the fraction of the elements computed by the accelerators in one CG iteration.
type iterationShare struct {
	forward, transpose float64
}

func run() error {
	b := &benchmark{runID: uuid.NewString()}
	klog.V(1).Infof("run %s", b.runID)
	plotPath := *flagPlot
	if plotPath != "" {
		var err error
		if plotPath, err = fsutil.OutputPath(plotPath); err != nil {
			return err
		}
	}
	b.ds = must.M1(loadDataset())
	b.grid = must.M1(grid.NewRegular(b.ds.Dim(), *flagLevel))
	if *flagHybrid {
		var err error
		if *flagBackend == "" {
			b.backend, err = backends.New()
		} else {
			b.backend, err = backends.NewWithConfig(*flagBackend)
		}
		if err != nil {
			return err
		}
		defer b.backend.Finalize()
	}

	world, err := distributed.NewLocalWorld(*flagRanks)
	if err != nil {
		return err
	}
	defer world.Close()
	b.results = make([]rankResult, *flagRanks)
	var group errgroup.Group
	for _, comm := range world.Comms() {
		group.Go(func() error {
			err := b.runRank(comm)
			if err != nil {
				// Unblock the other ranks.
				world.Close()
			}
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	report(b)
	if plotPath != "" {
		if err := plotShares(plotPath, b); err != nil {
			return err
		}
		fmt.Printf("Accelerator share plot saved to %q\n", plotPath)
	}
	return nil
}

func loadDataset() (*dataset.Dataset, error) {
	if *flagData != "" {
		path, err := fsutil.ExpandHome(*flagData)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open dataset %q", path)
		}
		defer func() { _ = f.Close() }()
		return dataset.ReadCSV(f, *flagLabel)
	}
	rng := rand.New(rand.NewPCG(*flagSeed, *flagSeed+1))
	return dataset.Random(rng, *flagPoints, *flagDim, func(x []float64) float64 {
		y := 1.0
		for _, xi := range x {
			y *= math.Sin(math.Pi * xi)
		}
		return y
	})
}

func (b *benchmark) runRank(comm distributed.Communicator) error {
	rank := comm.Rank()
	pool, err := workerspool.NewWithWorkers(*flagWorkers)
	if err != nil {
		return err
	}
	config := distributed.Config{Lambda: *flagLambda}
	if b.backend != nil {
		dispatchConfig, err := dispatch.ConfigFromEnv()
		if err != nil {
			return err
		}
		config.NewOperator = func(g *grid.Storage, ds *dataset.Dataset) (dispatch.Operator, error) {
			k, err := linear.New(g, ds, linear.DefaultGranularity)
			if err != nil {
				return nil, err
			}
			return dispatch.NewHybrid(pool, k, b.backend, dispatchConfig)
		}
	}
	s, err := distributed.NewSystemMatrix(comm, pool, b.grid, b.ds, config)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	start := time.Now()
	rhs := make([]float64, s.NumGridPoints())
	if err = s.GenerateB(rhs); err != nil {
		return err
	}
	alpha := make([]float64, s.NumGridPoints())
	cg := &solver.CG{MaxIterations: *flagIters, Epsilon: *flagEps}
	if rank == 0 {
		bar := progressbar.NewOptions(*flagIters,
			progressbar.OptionSetDescription("CG: "),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("iterations"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
			progressbar.OptionEnableColorCodes(*flagColor),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
		hybrid, _ := s.Operator().(*dispatch.Hybrid)
		var last dispatch.Stats
		cg.OnIteration = func(iteration int, residual float64) {
			bar.Describe(fmt.Sprintf("CG (residual %.3g): ", residual))
			_ = bar.Add(1)
			if hybrid != nil {
				current := hybrid.Stats()
				b.shares = append(b.shares, iterationShare{
					forward:   share(last, current, 0),
					transpose: share(last, current, 1),
				})
				last = current
			}
		}
	}
	result, err := cg.Solve(s, rhs, alpha)
	if err != nil {
		return err
	}

	prediction := make([]float64, s.NumPoints())
	if err = s.Evaluate(alpha, prediction); err != nil {
		return err
	}
	if rank == 0 {
		b.solve = result
		b.elapsed = time.Since(start)
		var sum float64
		for i, y := range b.ds.Labels()[:s.NumPoints()] {
			sum += (prediction[i] - y) * (prediction[i] - y)
		}
		b.mse = sum / float64(s.NumPoints())
	}

	r := rankResult{
		rank:      rank,
		dataSlice: s.DataDistribution().Range(rank).String(),
		gridSlice: s.GridDistribution().Range(rank).String(),
		stats:     s.Stats(),
	}
	if hybrid, ok := s.Operator().(*dispatch.Hybrid); ok {
		stats := hybrid.Stats()
		r.hybrid = &stats
		r.scratchBytes = hybrid.ScratchBytes()
	}
	b.results[rank] = r
	return nil
}

// share returns the accelerator fraction of the elements of direction op computed between two snapshots.
func share(before, after dispatch.Stats, op int) float64 {
	accel := after.AcceleratorElements[op] - before.AcceleratorElements[op]
	total := accel + after.CPUElements[op] - before.CPUElements[op]
	if total == 0 {
		return 0
	}
	return float64(accel) / float64(total)
}
