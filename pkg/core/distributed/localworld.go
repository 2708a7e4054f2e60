// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"sync"

	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/support/xsync"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// LocalWorld is an in-process world of ranks, each rank usually driven by its own goroutine.
//
// Sends are buffered: the data is copied and the send request completes immediately. Receives complete when
// a matching message is delivered.
type LocalWorld struct {
	size int

	mu        sync.Mutex
	mailboxes map[mailboxKey]*mailbox
	current   *collective
	closed    bool
	closing   *xsync.Latch
}

type mailboxKey struct {
	source, dest, tag int
}

// mailbox holds either undelivered messages or pending receives, never both.
type mailbox struct {
	messages [][]float64
	receives []*Request
}

// collective is one collective operation in progress.
type collective struct {
	name          string
	length        int
	contributions [][]float64
	arrived       int
	result        []float64
	done          *xsync.Latch
}

// NewLocalWorld creates a world with size ranks.
func NewLocalWorld(size int) (*LocalWorld, error) {
	if size <= 0 {
		return nil, faults.Configurationf("distributed: world size must be > 0, got %d", size)
	}
	return &LocalWorld{
		size:      size,
		mailboxes: make(map[mailboxKey]*mailbox),
		closing:   xsync.NewLatch(),
	}, nil
}

// Size of the world.
func (lw *LocalWorld) Size() int { return lw.size }

// Comm returns the Communicator of the given rank.
func (lw *LocalWorld) Comm(rank int) Communicator {
	if rank < 0 || rank >= lw.size {
		return nil
	}
	return &localComm{world: lw, rank: rank}
}

// Comms returns the communicators of all ranks.
func (lw *LocalWorld) Comms() []Communicator {
	comms := make([]Communicator, lw.size)
	for rank := range comms {
		comms[rank] = lw.Comm(rank)
	}
	return comms
}

// Close fails all pending receives and collective operations, and all later operations, with a communication error.
func (lw *LocalWorld) Close() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return
	}
	lw.closed = true
	lw.closing.Trigger()
	for key, box := range lw.mailboxes {
		for _, req := range box.receives {
			req.complete(faults.Communicationf("rank %d: receive from rank %d (tag %d) aborted, world closed",
				key.dest, key.source, key.tag))
		}
		box.receives = nil
	}
	klog.V(1).Infof("distributed: local world of %d ranks closed", lw.size)
}

func (lw *LocalWorld) mailbox(key mailboxKey) *mailbox {
	box, found := lw.mailboxes[key]
	if !found {
		box = &mailbox{}
		lw.mailboxes[key] = box
	}
	return box
}

// deliver copies a message into the buffer of a receive, and completes it.
func deliver(req *Request, message []float64, key mailboxKey) {
	if len(message) > len(req.buf) {
		req.complete(faults.Communicationf("rank %d: message of %d elements from rank %d (tag %d) doesn't fit buffer of %d",
			key.dest, len(message), key.source, key.tag, len(req.buf)))
		return
	}
	copy(req.buf, message)
	req.complete(nil)
}

type localComm struct {
	world *LocalWorld
	rank  int
}

var _ Communicator = (*localComm)(nil)

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.world.size }

func (c *localComm) Isend(dest, tag int, data []float64) (*Request, error) {
	if err := checkPeer(c, dest); err != nil {
		return nil, err
	}
	lw := c.world
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return nil, faults.Communicationf("rank %d: send to rank %d on a closed world", c.rank, dest)
	}
	key := mailboxKey{source: c.rank, dest: dest, tag: tag}
	box := lw.mailbox(key)
	if len(box.receives) > 0 {
		req := box.receives[0]
		box.receives = box.receives[1:]
		deliver(req, data, key)
	} else {
		box.messages = append(box.messages, append([]float64(nil), data...))
	}
	send := newRequest(dest, tag, nil)
	send.complete(nil)
	return send, nil
}

func (c *localComm) Irecv(source, tag int, buf []float64) (*Request, error) {
	if err := checkPeer(c, source); err != nil {
		return nil, err
	}
	lw := c.world
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return nil, faults.Communicationf("rank %d: receive from rank %d on a closed world", c.rank, source)
	}
	key := mailboxKey{source: source, dest: c.rank, tag: tag}
	box := lw.mailbox(key)
	req := newRequest(source, tag, buf)
	if len(box.messages) > 0 {
		message := box.messages[0]
		box.messages = box.messages[1:]
		deliver(req, message, key)
	} else {
		box.receives = append(box.receives, req)
	}
	return req, nil
}

func (c *localComm) AllReduceSum(buf []float64) error {
	return c.collective("AllReduceSum", buf)
}

func (c *localComm) Barrier() error {
	return c.collective("Barrier", nil)
}

// collective joins the current collective operation, or starts a new one.
// Contributions are summed in rank order, so all ranks get bitwise identical results.
func (c *localComm) collective(name string, buf []float64) error {
	lw := c.world
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return faults.Communicationf("rank %d: %s on a closed world", c.rank, name)
	}
	op := lw.current
	if op == nil {
		op = &collective{
			name:          name,
			length:        len(buf),
			contributions: make([][]float64, lw.size),
			done:          xsync.NewLatch(),
		}
		lw.current = op
	}
	if op.name != name || op.length != len(buf) {
		lw.mu.Unlock()
		return faults.Communicationf("rank %d: %s of %d elements called while ranks are in %s of %d elements",
			c.rank, name, len(buf), op.name, op.length)
	}
	if op.contributions[c.rank] != nil {
		lw.mu.Unlock()
		return faults.Communicationf("rank %d: joined %s twice", c.rank, name)
	}
	op.contributions[c.rank] = append(make([]float64, 0, len(buf)), buf...)
	op.arrived++
	if op.arrived == lw.size {
		op.result = make([]float64, op.length)
		for _, contribution := range op.contributions {
			floats.Add(op.result, contribution)
		}
		lw.current = nil
		op.done.Trigger()
	}
	lw.mu.Unlock()

	select {
	case <-op.done.WaitChan():
	case <-lw.closing.WaitChan():
		if !op.done.Test() {
			return faults.Communicationf("rank %d: %s aborted, world closed", c.rank, name)
		}
	}
	copy(buf, op.result)
	return nil
}
