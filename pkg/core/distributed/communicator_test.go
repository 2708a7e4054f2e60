// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"testing"
	"time"

	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// runRanks runs fn for every rank of a new local world, each on its own goroutine.
func runRanks(t *testing.T, size int, fn func(comm Communicator) error) {
	world, err := NewLocalWorld(size)
	require.NoError(t, err)
	defer world.Close()
	var g errgroup.Group
	for _, comm := range world.Comms() {
		g.Go(func() error { return fn(comm) })
	}
	require.NoError(t, g.Wait())
}

func TestPointToPoint(t *testing.T) {
	world, err := NewLocalWorld(3)
	require.NoError(t, err)
	defer world.Close()
	c0, c1, c2 := world.Comm(0), world.Comm(1), world.Comm(2)
	assert.Nil(t, world.Comm(3))

	// Receive posted before the send.
	buf := make([]float64, 3)
	recv, err := c1.Irecv(0, 7, buf)
	require.NoError(t, err)
	assert.False(t, recv.Test())
	data := []float64{1, 2, 3}
	send, err := c0.Isend(1, 7, data)
	require.NoError(t, err)
	data[0] = 100 // Sends are buffered: changing data afterwards has no effect.
	require.NoError(t, send.Wait())
	require.NoError(t, recv.Wait())
	assert.Equal(t, []float64{1, 2, 3}, buf)
	assert.Equal(t, 0, recv.Source())
	assert.Equal(t, 7, recv.Tag())

	// Send before the receive, messages with the same source and tag arrive in order.
	_, err = c2.Isend(1, 5, []float64{1})
	require.NoError(t, err)
	_, err = c2.Isend(1, 5, []float64{2})
	require.NoError(t, err)
	first, second := make([]float64, 1), make([]float64, 1)
	r1, err := c1.Irecv(2, 5, first)
	require.NoError(t, err)
	r2, err := c1.Irecv(2, 5, second)
	require.NoError(t, err)
	require.NoError(t, WaitAll([]*Request{r1, r2}))
	assert.Equal(t, []float64{1}, first)
	assert.Equal(t, []float64{2}, second)

	// Message too long for the buffer.
	_, err = c0.Isend(2, 1, []float64{1, 2})
	require.NoError(t, err)
	r, err := c2.Irecv(0, 1, make([]float64, 1))
	require.NoError(t, err)
	assert.True(t, faults.IsCommunication(r.Wait()))

	// Invalid peer.
	_, err = c0.Isend(3, 1, nil)
	assert.True(t, faults.IsCommunication(err))
	_, err = c0.Irecv(-1, 1, nil)
	assert.True(t, faults.IsCommunication(err))
}

func TestWaitAny(t *testing.T) {
	world, err := NewLocalWorld(3)
	require.NoError(t, err)
	defer world.Close()
	c0 := world.Comm(0)
	bufs := [][]float64{make([]float64, 1), make([]float64, 1)}
	r1, err := c0.Irecv(1, 0, bufs[0])
	require.NoError(t, err)
	r2, err := c0.Irecv(2, 0, bufs[1])
	require.NoError(t, err)
	reqs := []*Request{r1, r2}

	// The second one arrives first.
	_, err = world.Comm(2).Isend(0, 0, []float64{2})
	require.NoError(t, err)
	idx, err := WaitAny(reqs)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Nil(t, reqs[1])
	assert.Equal(t, 2.0, bufs[1][0])

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = world.Comm(1).Isend(0, 0, []float64{1})
	}()
	idx, err = WaitAny(reqs)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 1.0, bufs[0][0])

	idx, err = WaitAny(reqs)
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestAllReduceSum(t *testing.T) {
	for _, size := range []int{1, 2, 4} {
		results := make([][]float64, size)
		runRanks(t, size, func(comm Communicator) error {
			for round := range 3 {
				buf := []float64{float64(comm.Rank()), 1, 0.1 * float64(round)}
				if err := comm.AllReduceSum(buf); err != nil {
					return err
				}
				results[comm.Rank()] = buf
				if err := comm.Barrier(); err != nil {
					return err
				}
			}
			return nil
		})
		for rank := range size {
			assert.Equal(t, results[0], results[rank], "ranks must get bitwise identical results")
		}
		assert.Equal(t, float64(size*(size-1)/2), results[0][0])
		assert.Equal(t, float64(size), results[0][1])
	}
}

// waitCollectiveStarted waits until some rank joined a collective operation.
func waitCollectiveStarted(world *LocalWorld) {
	for {
		world.mu.Lock()
		started := world.current != nil
		world.mu.Unlock()
		if started {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClose(t *testing.T) {
	world, err := NewLocalWorld(2)
	require.NoError(t, err)
	recv, err := world.Comm(0).Irecv(1, 0, make([]float64, 1))
	require.NoError(t, err)
	reduceErr := make(chan error, 1)
	go func() { reduceErr <- world.Comm(1).AllReduceSum([]float64{1}) }()
	waitCollectiveStarted(world)
	world.Close()

	assert.True(t, faults.IsCommunication(recv.Wait()))
	assert.True(t, faults.IsCommunication(<-reduceErr))
	_, err = world.Comm(0).Isend(1, 0, []float64{1})
	assert.True(t, faults.IsCommunication(err))
	assert.True(t, faults.IsCommunication(world.Comm(0).Barrier()))
}

func TestCollectiveMismatch(t *testing.T) {
	world, err := NewLocalWorld(2)
	require.NoError(t, err)
	defer world.Close()
	go func() { _ = world.Comm(0).AllReduceSum([]float64{1, 2}) }()
	waitCollectiveStarted(world)
	err = world.Comm(1).AllReduceSum([]float64{1})
	assert.True(t, faults.IsCommunication(err))
}
