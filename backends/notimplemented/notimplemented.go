// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a backends.Backend whose devices fail every submission with a
// device error.
//
// It's used to test the failure paths of the dispatchers, and can help bootstrap a new backend.
package notimplemented

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sgpar/sgpar/backends"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/support/xsync"
)

// BackendName to be used in SGPAR_BACKEND to specify this backend.
const BackendName = "notimplemented"

// NotImplementedError is the cause of every error returned. It is a device error.
var NotImplementedError = errors.Wrap(faults.ErrDevice, "not implemented")

func init() {
	backends.Register(BackendName, New)
}

// New creates a new Backend, accepting the common options (devices, granularity, grid_granularity).
func New(config string) (backends.Backend, error) {
	b := &Backend{Options: backends.Options{NumDevices: 1, Granularity: kernels.Granularity{Data: 1, Grid: 1}}}
	if err := backends.ParseOptions(config, &b.Options); err != nil {
		return nil, err
	}
	return b, nil
}

// Backend is a dummy backend that can be used to create mock backends.
type Backend struct {
	Options backends.Options

	// ErrFn is called to generate the error returned, if not nil.
	// Otherwise NotImplementedError is returned wrapped with the job description.
	ErrFn func(deviceNum backends.DeviceNum, job backends.Job) error
}

var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String returns the same as Name.
func (b *Backend) String() string { return b.Name() }

// Description is a longer description of the Backend.
func (b *Backend) Description() string {
	return "Not Implemented Backend (mock backend for testing)"
}

// NumDevices return the number of devices available for this Backend.
func (b *Backend) NumDevices() backends.DeviceNum { return backends.DeviceNum(b.Options.NumDevices) }

// Granularity implements backends.Backend.
func (b *Backend) Granularity() kernels.Granularity { return b.Options.Granularity }

// Submit fails immediately: the returned future is already resolved with an error.
func (b *Backend) Submit(deviceNum backends.DeviceNum, job backends.Job) *xsync.Future[time.Duration] {
	if b.ErrFn != nil {
		return xsync.Resolved[time.Duration](0, b.ErrFn(deviceNum, job))
	}
	return xsync.Resolved[time.Duration](0, errors.Wrapf(NotImplementedError, "device #%d, job %s", deviceNum, job))
}

// Finalize is a no-op.
func (b *Backend) Finalize() {}
