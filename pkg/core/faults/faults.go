// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package faults defines the error taxonomy shared by the scheduling layer.
//
// There are three kinds of errors, each one a sentinel that is wrapped (with context and a stack trace)
// by the functions that report it, so callers can test for the kind with errors.Is:
//
//   - ErrConfiguration: raised eagerly at construction, before any operator call executes. E.g. granularity
//     mismatch between cooperating kernels, fewer than two cooperating workers, an unknown merge policy.
//   - ErrDevice: compilation, submission or offload failure of an accelerator. Fatal for the dispatcher that
//     observed it: there is no automatic degradation to CPU-only execution.
//   - ErrCommunication: a failed non-blocking send/receive or a failed collective. Fatal, no partial results.
//
// Nothing is retried automatically.
package faults

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfiguration is the kind of errors reported at construction time for invalid setups.
	ErrConfiguration = errors.New("configuration error")

	// ErrDevice is the kind of errors reported by accelerator backends.
	ErrDevice = errors.New("device error")

	// ErrCommunication is the kind of errors reported by inter-rank communication.
	ErrCommunication = errors.New("communication error")
)

// Configurationf returns a new ErrConfiguration with the formatted message.
func Configurationf(format string, args ...any) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

// Devicef returns a new ErrDevice with the formatted message.
func Devicef(format string, args ...any) error {
	return errors.Wrapf(ErrDevice, format, args...)
}

// Communicationf returns a new ErrCommunication with the formatted message.
func Communicationf(format string, args ...any) error {
	return errors.Wrapf(ErrCommunication, format, args...)
}

// AsDevice makes sure err is reported as an ErrDevice, wrapping it with the message if it is of another kind.
// It returns nil if err is nil.
func AsDevice(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if IsDevice(err) {
		return errors.WithMessagef(err, format, args...)
	}
	return errors.Wrapf(ErrDevice, "%s: %v", errors.Errorf(format, args...).Error(), err)
}

// IsConfiguration returns whether err is (or wraps) an ErrConfiguration.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsDevice returns whether err is (or wraps) an ErrDevice.
func IsDevice(err error) bool { return errors.Is(err, ErrDevice) }

// IsCommunication returns whether err is (or wraps) an ErrCommunication.
func IsCommunication(err error) bool { return errors.Is(err, ErrCommunication) }
