// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed implements the evaluation of the sparse grid system matrix across ranks (processes
// in an MPI-like world), overlapping the transfers between ranks with local computation.
//
// Ranks communicate through a Communicator: non-blocking point-to-point transfers, a wait-on-any over
// pending requests, and collective operations. LocalWorld implements it in-process, with one goroutine
// per rank.
package distributed

import (
	"reflect"

	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/support/xsync"
)

// Communicator is the view of one rank of a world of ranks.
//
// Its methods can be called from any goroutine of the rank, but by convention only the leader worker of a
// team issues communication.
type Communicator interface {
	// Rank of this process in the world, from 0 to Size()-1.
	Rank() int

	// Size of the world.
	Size() int

	// Isend starts sending a copy of data to the rank dest, with the given tag. It doesn't block.
	Isend(dest, tag int, data []float64) (*Request, error)

	// Irecv starts receiving a message from the rank source with the given tag into buf. It doesn't block.
	// Messages with the same source and tag are received in the order they were sent.
	Irecv(source, tag int, buf []float64) (*Request, error)

	// AllReduceSum replaces buf, in every rank, by the element-wise sum of buf over all ranks. It's collective:
	// it blocks until all ranks called it. Every rank gets bitwise identical results.
	AllReduceSum(buf []float64) error

	// Barrier blocks until all ranks called it.
	Barrier() error
}

// Request is the handle of a non-blocking transfer.
type Request struct {
	source, tag int
	buf         []float64
	done        *xsync.Latch
	err         error
}

func newRequest(source, tag int, buf []float64) *Request {
	return &Request{source: source, tag: tag, buf: buf, done: xsync.NewLatch()}
}

// complete marks the request done. It must be called only once.
func (r *Request) complete(err error) {
	r.err = err
	r.done.Trigger()
}

// Source rank of the message (for receives) or destination rank (for sends).
func (r *Request) Source() int { return r.source }

// Tag of the message.
func (r *Request) Tag() int { return r.tag }

// Test returns whether the request completed.
func (r *Request) Test() bool { return r.done.Test() }

// Wait blocks until the request completes, and returns its error.
func (r *Request) Wait() error {
	r.done.Wait()
	return r.err
}

// WaitAny blocks until one of the active (non-nil) requests completes, sets it to nil in reqs, and returns
// its index. It returns -1 if there are no active requests.
//
// If the completed request failed, its index is returned along with the error.
func WaitAny(reqs []*Request) (int, error) {
	cases := make([]reflect.SelectCase, 0, len(reqs))
	indices := make([]int, 0, len(reqs))
	for ii, req := range reqs {
		if req == nil {
			continue
		}
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(req.done.WaitChan())})
		indices = append(indices, ii)
	}
	if len(cases) == 0 {
		return -1, nil
	}
	chosen, _, _ := reflect.Select(cases)
	idx := indices[chosen]
	req := reqs[idx]
	reqs[idx] = nil
	if req.err != nil {
		return idx, req.err
	}
	return idx, nil
}

// WaitAll blocks until all active requests complete, sets them to nil, and returns the first error.
func WaitAll(reqs []*Request) error {
	var firstErr error
	for ii, req := range reqs {
		if req == nil {
			continue
		}
		if err := req.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
		reqs[ii] = nil
	}
	return firstErr
}

// checkPeer validates a peer rank.
func checkPeer(c Communicator, peer int) error {
	if peer < 0 || peer >= c.Size() {
		return faults.Communicationf("rank %d: invalid peer rank %d in a world of size %d", c.Rank(), peer, c.Size())
	}
	return nil
}
