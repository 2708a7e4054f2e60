// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package xsync

// Future holds the outcome of an asynchronous operation: a value or an error.
//
// It is resolved exactly once (later resolutions are discarded), and can be waited on by any number
// of goroutines.
type Future[T any] struct {
	latch *Latch
	value T
	err   error
}

// NewFuture returns an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{latch: NewLatch()}
}

// Resolved returns a Future already resolved with the given value and error.
func Resolved[T any](value T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(value, err)
	return f
}

// Resolve sets the outcome of the future and wakes up every waiter.
// Only the first call has any effect.
func (f *Future[T]) Resolve(value T, err error) {
	f.latch.muTrigger.Lock()
	defer f.latch.muTrigger.Unlock()
	if f.latch.Test() {
		return
	}
	f.value, f.err = value, err
	close(f.latch.wait)
}

// Wait blocks until the future is resolved and returns its outcome.
func (f *Future[T]) Wait() (T, error) {
	f.latch.Wait()
	return f.value, f.err
}

// IsDone returns whether the future has already been resolved.
func (f *Future[T]) IsDone() bool {
	return f.latch.Test()
}

// Done returns a channel that is closed when the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.latch.WaitChan()
}
