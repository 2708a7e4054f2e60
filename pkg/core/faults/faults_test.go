// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package faults_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	err := faults.Configurationf("granularity %d is not a multiple of %d", 6, 4)
	assert.True(t, faults.IsConfiguration(err))
	assert.False(t, faults.IsDevice(err))
	assert.Contains(t, err.Error(), "granularity 6 is not a multiple of 4")

	err = errors.WithMessage(faults.Devicef("queue closed"), "mult")
	assert.True(t, faults.IsDevice(err))
	assert.False(t, faults.IsCommunication(err))

	err = faults.Communicationf("rank %d gone", 3)
	assert.True(t, faults.IsCommunication(err))
}

func TestAsDevice(t *testing.T) {
	assert.NoError(t, faults.AsDevice(nil, "ignored"))

	err := faults.AsDevice(errors.New("kernel has no transpose"), "device %d", 1)
	assert.True(t, faults.IsDevice(err))
	assert.Contains(t, err.Error(), "device 1")
	assert.Contains(t, err.Error(), "kernel has no transpose")

	original := faults.Devicef("lost")
	err = faults.AsDevice(original, "device %d", 0)
	assert.True(t, errors.Is(err, faults.ErrDevice))
	assert.Contains(t, err.Error(), "lost")
}
