// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ErrBarrierBroken is the value (wrapped with a stack) Barrier.Wait panics with, if the barrier was broken.
var ErrBarrierBroken = errors.New("barrier broken")

// Barrier is a reusable (cyclic) barrier for a fixed number of parties.
//
// Every call to Wait blocks until all parties called Wait, at which point all of them are released
// and the barrier is reset for the next generation.
//
// A Barrier can be broken (see Break), typically because one of the parties failed and will never arrive:
// current and future waiters then panic with ErrBarrierBroken instead of deadlocking.
type Barrier struct {
	mu         sync.Mutex
	cond       sync.Cond
	parties    int
	waiting    int
	generation uint64
	broken     bool
}

// NewBarrier returns a barrier for the given number of parties, which must be >= 1.
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		exceptions.Panicf("xsync.NewBarrier requires at least one party, got %d", parties)
	}
	b := &Barrier{parties: parties}
	b.cond.L = &b.mu
	return b
}

// Parties returns the number of parties synchronized by the barrier.
func (b *Barrier) Parties() int { return b.parties }

// Wait blocks until all parties have called Wait. It returns the generation that was completed.
//
// It panics with ErrBarrierBroken if the barrier is (or becomes while waiting) broken.
func (b *Barrier) Wait() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken {
		panic(errors.WithStack(ErrBarrierBroken))
	}
	gen := b.generation
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return gen
	}
	for gen == b.generation && !b.broken {
		b.cond.Wait()
	}
	if gen == b.generation {
		// Woken up by Break.
		panic(errors.WithStack(ErrBarrierBroken))
	}
	return gen
}

// Break the barrier: all current and future waiters panic with ErrBarrierBroken.
func (b *Barrier) Break() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken = true
	b.cond.Broadcast()
}

// IsBroken returns whether Break was called.
func (b *Barrier) IsBroken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}
