// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements the cooperating team of workers used by the dispatchers.
//
// A Pool runs fork-join parallel regions: Pool.Parallel starts one goroutine per worker, all running the
// same function, and returns when all of them finished. Workers synchronize only through the team barrier
// (Worker.Barrier). Worker 0 is the leader: by convention it is the only one allowed to mutate shared
// scheduling state, submit work to devices or issue communication, always between two barriers.
package workerspool

import (
	"runtime"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/sgpar/sgpar/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// Pool is a team of cooperating workers.
type Pool struct {
	numWorkers int

	// muRegion serializes parallel regions: a team can only run one region at a time,
	// since all its workers share the same barrier.
	muRegion sync.Mutex
	barrier  *xsync.Barrier
}

// New returns a new Pool with the default number of workers (runtime.NumCPU(), at least 2).
func New() *Pool {
	return &Pool{numWorkers: max(runtime.NumCPU(), 2)}
}

// NewWithWorkers returns a new Pool with the given number of workers, which must be >= 1.
func NewWithWorkers(numWorkers int) (*Pool, error) {
	p := New()
	if err := p.SetNumWorkers(numWorkers); err != nil {
		return nil, err
	}
	return p, nil
}

// NumWorkers returns the number of workers in the team.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// SetNumWorkers changes the size of the team.
//
// It should only be called before the team is used by a dispatcher: dispatchers validate and size their
// state from the number of workers at construction.
func (p *Pool) SetNumWorkers(numWorkers int) error {
	if numWorkers < 1 {
		return errors.Errorf("workerspool: number of workers must be >= 1, got %d", numWorkers)
	}
	p.numWorkers = numWorkers
	return nil
}

// Parallel runs fn on every worker of the team concurrently, and returns when all of them are finished.
//
// The leader (worker 0) runs on the calling goroutine. If any worker panics or returns an error, the team
// barrier is broken, so no worker is left waiting for it. Panics are returned as errors.
// If more than one worker returns an error, the leader's error has precedence, then the lowest worker id.
// Errors caused only by the broken barrier are reported last.
func (p *Pool) Parallel(fn func(w *Worker) error) error {
	p.muRegion.Lock()
	defer p.muRegion.Unlock()

	p.barrier = xsync.NewBarrier(p.numWorkers)
	errs := make([]error, p.numWorkers)
	var wg sync.WaitGroup
	for id := 1; id < p.numWorkers; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[id] = p.runWorker(&Worker{id: id, pool: p}, fn)
		}()
	}
	errs[0] = p.runWorker(&Worker{id: 0, pool: p}, fn)
	wg.Wait()
	var broken error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, xsync.ErrBarrierBroken) {
			if broken == nil {
				broken = err
			}
			continue
		}
		return err
	}
	return broken
}

// runWorker runs fn for the given worker, converting panics to errors.
func (p *Pool) runWorker(w *Worker, fn func(w *Worker) error) (err error) {
	exception := exceptions.Try(func() {
		err = fn(w)
	})
	if exception == nil {
		if err != nil {
			// Workers still heading to a barrier would wait forever for this one.
			p.barrier.Break()
		}
		return err
	}
	p.barrier.Break()
	if e, ok := exception.(error); ok {
		if errors.Is(e, xsync.ErrBarrierBroken) {
			// Collateral of another worker's failure.
			return e
		}
		klog.Errorf("workerspool: worker %d panicked: %+v", w.id, e)
		return errors.WithMessagef(e, "worker %d panicked", w.id)
	}
	klog.Errorf("workerspool: worker %d panicked: %v", w.id, exception)
	return errors.Errorf("worker %d panicked: %v", w.id, exception)
}

// Worker is a member of a team running a parallel region. It is only valid during Pool.Parallel.
type Worker struct {
	id   int
	pool *Pool
}

// ID of the worker in the team, from 0 to NumWorkers()-1.
func (w *Worker) ID() int { return w.id }

// NumWorkers is the size of the team the worker belongs to.
func (w *Worker) NumWorkers() int { return w.pool.numWorkers }

// IsLeader returns whether this is the designated leader of the team (worker 0).
func (w *Worker) IsLeader() bool { return w.id == 0 }

// Pool returns the team the worker belongs to.
func (w *Worker) Pool() *Pool { return w.pool }

// Barrier blocks until all workers of the team reach the barrier.
//
// All writes done by any worker before the barrier are visible to all workers after it.
func (w *Worker) Barrier() {
	w.pool.barrier.Wait()
}
