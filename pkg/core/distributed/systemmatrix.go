// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sgpar/sgpar/internal/workerspool"
	"github.com/sgpar/sgpar/pkg/core/dataset"
	"github.com/sgpar/sgpar/pkg/core/dispatch"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/grid"
	"github.com/sgpar/sgpar/pkg/core/kernels/linear"
	"github.com/sgpar/sgpar/pkg/core/partition"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// DefaultDataGranularity is the default alignment of the data axis: the dataset is padded to it, and the
// slices of the ranks are aligned to it.
const DefaultDataGranularity = 64

// OperatorFactory creates the local operator of a rank, for a grid and the padded dataset.
type OperatorFactory func(g *grid.Storage, ds *dataset.Dataset) (dispatch.Operator, error)

// Config of a SystemMatrix.
type Config struct {
	// Lambda is the regularization parameter.
	Lambda float64

	// DataGranularity for the padding of the dataset and the data axis distribution. It must be a multiple
	// of the operator data granularity. Defaults to DefaultDataGranularity.
	DataGranularity int

	// GridGranularity for the grid axis distribution. It must be a multiple of the operator grid granularity,
	// which is the default.
	GridGranularity int

	// NewOperator creates the local operator. Defaults to CPUOperator.
	NewOperator OperatorFactory
}

// CPUOperator is the default OperatorFactory: a linear basis kernel run by the CPU team.
func CPUOperator(g *grid.Storage, ds *dataset.Dataset) (dispatch.Operator, error) {
	k, err := linear.New(g, ds, linear.DefaultGranularity)
	if err != nil {
		return nil, err
	}
	return dispatch.NewCPU(k), nil
}

// Stats of a SystemMatrix, updated after each call.
type Stats struct {
	MultCalls, MultTransposeCalls, EvaluateCalls int

	// ComputeTime is the time of the local forward and of the transpose of the rank's own chunk, in Mult.
	ComputeTime time.Duration

	// CompleteTime is the time of the receive loop and of the merge, in Mult.
	CompleteTime time.Duration

	// TransposeTime is the total time in MultTranspose.
	TransposeTime time.Duration

	// ChunksReceived from other ranks.
	ChunksReceived int
}

// SystemMatrix is the rank's view of the system matrix Bᵀ·B + λ·N·I of the regression problem, where B is
// the basis matrix of the grid over the N points of the dataset.
//
// Each rank owns a fixed slice of the (padded) data axis and a fixed slice of the grid axis. All ranks
// must call the same methods in the same order, each with its own team of workers.
type SystemMatrix struct {
	comm   Communicator
	pool   *workerspool.Pool
	grid   *grid.Storage
	ds     *dataset.Dataset
	config Config

	op                 dispatch.Operator
	dataDist, gridDist *partition.Distribution

	forward []float64 // over padded data points
	partial []float64 // over grid points
	source  []float64 // MultTranspose input, over padded data points

	// Leader state of the call in progress. Each phase publishes its error in its own slot, so a slot
	// is never rewritten while followers may still be reading it.
	peers                     []int
	recvs                     []*Request
	sends                     []*Request
	postErr, sendErr, callErr error
	decisions                 [2]decision

	stats Stats
}

// decision is published by the leader to the team in the receive loop.
type decision struct {
	// rank whose chunk arrived, or -1 if no chunk is pending.
	rank int
	err  error
}

// NewSystemMatrix creates the rank's system matrix for grid g and dataset ds.
//
// The dataset is padded to a multiple of config.DataGranularity copying its last point; padding points have
// no effect on the results.
func NewSystemMatrix(comm Communicator, pool *workerspool.Pool, g *grid.Storage, ds *dataset.Dataset,
	config Config) (*SystemMatrix, error) {
	if config.DataGranularity == 0 {
		config.DataGranularity = DefaultDataGranularity
	}
	if config.NewOperator == nil {
		config.NewOperator = CPUOperator
	}
	if config.DataGranularity < 0 || config.GridGranularity < 0 || config.Lambda < 0 {
		return nil, faults.Configurationf("distributed: invalid configuration %+v", config)
	}
	padded, err := ds.Padded(config.DataGranularity)
	if err != nil {
		return nil, faults.Configurationf("distributed: %v", err)
	}
	s := &SystemMatrix{
		comm:   comm,
		pool:   pool,
		grid:   g,
		ds:     padded,
		config: config,
	}
	s.dataDist, err = partition.NewDistribution(padded.NumPoints(), comm.Size(), config.DataGranularity)
	if err != nil {
		return nil, err
	}
	s.forward = make([]float64, padded.NumPoints())
	s.source = make([]float64, padded.NumPoints())
	if err = s.RebuildPartitioning(); err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() && comm.Rank() == 0 {
		klog.Infof("distributed: %d ranks, data table (granularity %d): sizes=%v offsets=%v",
			comm.Size(), config.DataGranularity, s.dataDist.Sizes(), s.dataDist.Offsets())
	}
	return s, nil
}

// RebuildPartitioning recreates the local operator and the grid axis distribution table, after the grid
// changed. The data axis table is not affected. All ranks must call it.
//
// If the new operator implements dispatch.TuningInheritor, it takes over the load balance learned by the
// previous one. The previous operator is closed once the new one is in place, and kept if rebuilding fails.
func (s *SystemMatrix) RebuildPartitioning() error {
	op, err := s.config.NewOperator(s.grid, s.ds)
	if err != nil {
		return err
	}
	granularity := op.Granularity()
	if s.config.DataGranularity%granularity.Data != 0 {
		_ = op.Close()
		return faults.Configurationf("distributed: data granularity %d is not a multiple of the operator data granularity %d",
			s.config.DataGranularity, granularity.Data)
	}
	gridGranularity := s.config.GridGranularity
	if gridGranularity == 0 {
		gridGranularity = granularity.Grid
	} else if gridGranularity%granularity.Grid != 0 {
		_ = op.Close()
		return faults.Configurationf("distributed: grid granularity %d is not a multiple of the operator grid granularity %d",
			gridGranularity, granularity.Grid)
	}
	gridDist, err := partition.NewDistribution(op.NumGridPoints(), s.comm.Size(), gridGranularity)
	if err != nil {
		_ = op.Close()
		return err
	}
	previous := s.op
	if previous != nil {
		if inheritor, ok := op.(dispatch.TuningInheritor); ok {
			inheritor.InheritTuning(previous)
		}
	}
	s.op = op
	s.gridDist = gridDist
	s.partial = make([]float64, op.NumGridPoints())
	if klog.V(1).Enabled() && s.comm.Rank() == 0 {
		klog.Infof("distributed: grid table (granularity %d): sizes=%v offsets=%v",
			gridGranularity, gridDist.Sizes(), gridDist.Offsets())
	}
	if previous != nil {
		if err := previous.Close(); err != nil {
			return errors.WithMessage(err, "distributed: closing the replaced operator")
		}
	}
	return nil
}

// NumGridPoints is the size of the coefficient vectors.
func (s *SystemMatrix) NumGridPoints() int { return s.op.NumGridPoints() }

// NumPoints is the number of points of the dataset, without padding.
func (s *SystemMatrix) NumPoints() int { return s.ds.NumOriginal() }

// DataDistribution is the static table of the data axis slices of the ranks.
func (s *SystemMatrix) DataDistribution() *partition.Distribution { return s.dataDist }

// GridDistribution is the table of the grid axis slices of the ranks.
func (s *SystemMatrix) GridDistribution() *partition.Distribution { return s.gridDist }

// Operator used for the local evaluations.
func (s *SystemMatrix) Operator() dispatch.Operator { return s.op }

// Stats returns the accumulated statistics of the rank.
func (s *SystemMatrix) Stats() Stats { return s.stats }

// Close releases the local operator.
func (s *SystemMatrix) Close() error {
	if s.op == nil {
		return nil
	}
	err := s.op.Close()
	s.op = nil
	return err
}

func (s *SystemMatrix) checkLen(name string, v []float64, n int) error {
	if len(v) < n {
		return faults.Configurationf("distributed: %s has %d elements, expected at least %d", name, len(v), n)
	}
	return nil
}

// Mult computes result = Bᵀ·B·alpha + λ·N·alpha.
//
// The rank evaluates B·alpha over its data slice and sends it to all other ranks without waiting. It then
// evaluates the transpose of its own chunk on its grid slice, and of every other rank's chunk as soon as it
// arrives. The partial grid vectors of all ranks are summed with an all-reduce, and the regularization is
// applied last.
func (s *SystemMatrix) Mult(alpha, result []float64) error {
	n := s.op.NumGridPoints()
	if err := s.checkLen("alpha", alpha, n); err != nil {
		return err
	}
	if err := s.checkLen("result", result, n); err != nil {
		return err
	}
	clear(s.forward)
	clear(s.partial)
	rank := s.comm.Rank()
	gridAll := partition.Range{End: n}
	ownData, ownGrid := s.dataDist.Range(rank), s.gridDist.Range(rank)
	regularization := s.config.Lambda * float64(s.ds.NumOriginal())

	start := time.Now()
	var computeDone time.Time
	chunks := 0
	err := s.pool.Parallel(func(w *workerspool.Worker) error {
		if w.IsLeader() {
			s.postErr = s.postReceives()
		}
		w.Barrier()
		if s.postErr != nil {
			return s.postErr
		}

		// Local forward.
		if err := s.op.MultIn(w, alpha, s.forward, gridAll, ownData); err != nil {
			return err
		}

		// Send the local result, without waiting.
		if w.IsLeader() {
			s.sendErr = s.sendLocalResult(ownData)
		}
		w.Barrier()
		if s.sendErr != nil {
			return s.sendErr
		}

		// Transpose of the own chunk, overlapping the transfers.
		if err := s.op.MultTransposeIn(w, s.forward, s.partial, ownGrid, ownData); err != nil {
			return err
		}
		if w.IsLeader() {
			computeDone = time.Now()
		}

		// Receive loop: the leader picks the next chunk that arrived and publishes it to the team.
		for iteration := 0; ; iteration++ {
			slot := &s.decisions[iteration%2]
			if w.IsLeader() {
				*slot = s.waitChunk()
			}
			w.Barrier()
			d := *slot
			if d.err != nil {
				return d.err
			}
			if d.rank < 0 {
				break
			}
			if w.IsLeader() {
				chunks++
			}
			if err := s.op.MultTransposeIn(w, s.forward, s.partial, ownGrid, s.dataDist.Range(d.rank)); err != nil {
				return err
			}
		}

		// Merge: sum the partial grid vectors of all ranks.
		if w.IsLeader() {
			s.callErr = s.merge()
		}
		w.Barrier()
		if s.callErr != nil {
			return s.callErr
		}

		// Regularization.
		part, err := partition.ThreadLocalSegment(w, 0, n, 1)
		if err != nil {
			return err
		}
		floats.AddScaledTo(partition.Slice(result, part), partition.Slice(s.partial, part), regularization,
			partition.Slice(alpha, part))
		return nil
	})
	if err != nil {
		return errors.WithMessagef(err, "rank %d: Mult", rank)
	}
	end := time.Now()
	s.stats.MultCalls++
	s.stats.ChunksReceived += chunks
	s.stats.ComputeTime += computeDone.Sub(start)
	s.stats.CompleteTime += end.Sub(computeDone)
	return nil
}

// postReceives posts one receive per other rank with a non-empty data slice, into its slice of the forward vector.
// The tag of a chunk is the data offset of its rank.
func (s *SystemMatrix) postReceives() error {
	rank := s.comm.Rank()
	s.peers = s.peers[:0]
	s.recvs = s.recvs[:0]
	for peer := range s.comm.Size() {
		peerData := s.dataDist.Range(peer)
		if peer == rank || peerData.IsEmpty() {
			continue
		}
		req, err := s.comm.Irecv(peer, peerData.Start, partition.Slice(s.forward, peerData))
		if err != nil {
			return err
		}
		s.peers = append(s.peers, peer)
		s.recvs = append(s.recvs, req)
	}
	return nil
}

// sendLocalResult zeroes the forward values of the padding points, and sends the rank's chunk to all other ranks.
func (s *SystemMatrix) sendLocalResult(ownData partition.Range) error {
	clear(partition.Slice(s.forward, s.ds.Padding().Intersect(ownData)))
	s.sends = s.sends[:0]
	if ownData.IsEmpty() {
		return nil
	}
	rank := s.comm.Rank()
	chunk := partition.Slice(s.forward, ownData)
	for peer := range s.comm.Size() {
		if peer == rank {
			continue
		}
		req, err := s.comm.Isend(peer, ownData.Start, chunk)
		if err != nil {
			return err
		}
		s.sends = append(s.sends, req)
	}
	return nil
}

// waitChunk waits for the next chunk to arrive.
func (s *SystemMatrix) waitChunk() decision {
	idx, err := WaitAny(s.recvs)
	if err != nil {
		return decision{rank: -1, err: err}
	}
	if idx < 0 {
		return decision{rank: -1}
	}
	peer := s.peers[idx]
	if klog.V(3).Enabled() {
		klog.Infof("distributed: rank %d received chunk of rank %d (offset %d)", s.comm.Rank(), peer, s.dataDist.Offset(peer))
	}
	return decision{rank: peer}
}

// merge all-reduces the partial grid vector, and waits for the sends to complete.
func (s *SystemMatrix) merge() error {
	if err := s.comm.AllReduceSum(s.partial); err != nil {
		return err
	}
	return WaitAll(s.sends)
}

// MultTranspose computes result = Bᵀ·source, where source has one value per (original) data point.
// Each rank evaluates its data slice over the whole grid, and the results are summed over the ranks.
func (s *SystemMatrix) MultTranspose(source, result []float64) error {
	n := s.op.NumGridPoints()
	if err := s.checkLen("source", source, s.ds.NumOriginal()); err != nil {
		return err
	}
	if err := s.checkLen("result", result, n); err != nil {
		return err
	}
	start := time.Now()
	copy(s.source, source[:s.ds.NumOriginal()])
	clear(s.source[s.ds.NumOriginal():])
	clear(result[:n])
	ownData := s.dataDist.Range(s.comm.Rank())
	err := s.pool.Parallel(func(w *workerspool.Worker) error {
		if err := s.op.MultTransposeIn(w, s.source, result, partition.Range{End: n}, ownData); err != nil {
			return err
		}
		if w.IsLeader() {
			s.callErr = s.comm.AllReduceSum(result[:n])
		}
		w.Barrier()
		return s.callErr
	})
	if err != nil {
		return errors.WithMessagef(err, "rank %d: MultTranspose", s.comm.Rank())
	}
	s.stats.MultTransposeCalls++
	s.stats.TransposeTime += time.Since(start)
	return nil
}

// Evaluate computes result = B·alpha, one value per (original) data point, on every rank.
func (s *SystemMatrix) Evaluate(alpha, result []float64) error {
	n := s.op.NumGridPoints()
	if err := s.checkLen("alpha", alpha, n); err != nil {
		return err
	}
	if err := s.checkLen("result", result, s.ds.NumOriginal()); err != nil {
		return err
	}
	clear(s.forward)
	ownData := s.dataDist.Range(s.comm.Rank())
	err := s.pool.Parallel(func(w *workerspool.Worker) error {
		if err := s.op.MultIn(w, alpha, s.forward, partition.Range{End: n}, ownData); err != nil {
			return err
		}
		if w.IsLeader() {
			s.callErr = s.comm.AllReduceSum(s.forward)
		}
		w.Barrier()
		return s.callErr
	})
	if err != nil {
		return errors.WithMessagef(err, "rank %d: Evaluate", s.comm.Rank())
	}
	copy(result, s.forward[:s.ds.NumOriginal()])
	s.stats.EvaluateCalls++
	return nil
}

// GenerateB computes the right-hand side of the system, b = Bᵀ·y, for the dataset labels y.
func (s *SystemMatrix) GenerateB(b []float64) error {
	return s.MultTranspose(s.ds.Labels(), b)
}
