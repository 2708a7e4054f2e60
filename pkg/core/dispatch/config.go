// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"os"
	"sync"

	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/tuning"
	"k8s.io/klog/v2"
)

// MergePolicy defines how several devices share the transpose evaluation of the accelerator partition.
type MergePolicy int

//go:generate go tool enumer -type=MergePolicy -trimprefix=MergePolicy -transform=snake -text -output=gen_mergepolicy_enumer.go config.go

const (
	// MergePolicySafe partitions the destination (grid) range disjointly among the devices: no merge step is
	// needed, but the parallelism is limited by the number of devices.
	MergePolicySafe MergePolicy = iota

	// MergePolicyFast makes every device process the full destination range over its own slice of the data,
	// accumulating into a private scratch buffer (device 0 writes directly into the result). The team then
	// sums the scratch buffers into the result.
	MergePolicyFast
)

// SGPAR_MERGE_POLICY is the environment variable with the multi-device transpose merge policy: "safe" (default)
// or "fast".
const SGPAR_MERGE_POLICY = "SGPAR_MERGE_POLICY"

// Config of a Hybrid dispatcher.
type Config struct {
	// MergePolicy for the transpose evaluation on multiple devices.
	MergePolicy MergePolicy

	// RetuneCycle is the number of calls between updates of the split between CPU and accelerator.
	RetuneCycle int

	// StaticRatio, if > 0, disables the feedback and splits the work with this fixed accelerator/CPU speed ratio.
	StaticRatio float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MergePolicy: MergePolicySafe,
		RetuneCycle: tuning.DefaultRetuneCycle,
	}
}

// envMergePolicy is read only once per process.
var envMergePolicy = sync.OnceValues(func() (MergePolicy, error) {
	value, found := os.LookupEnv(SGPAR_MERGE_POLICY)
	if !found || value == "" {
		return MergePolicySafe, nil
	}
	policy, err := MergePolicyString(value)
	if err != nil {
		return MergePolicySafe, faults.Configurationf("invalid %s=%q, valid values are %v",
			SGPAR_MERGE_POLICY, value, MergePolicyStrings())
	}
	klog.V(1).Infof("dispatch: merge policy %s", policy)
	return policy, nil
})

// ConfigFromEnv returns the default configuration with the merge policy set from SGPAR_MERGE_POLICY.
//
// The environment is read only once: later changes are not seen.
func ConfigFromEnv() (Config, error) {
	config := DefaultConfig()
	policy, err := envMergePolicy()
	if err != nil {
		return config, err
	}
	config.MergePolicy = policy
	return config, nil
}

func (c Config) validate() error {
	if !c.MergePolicy.IsAMergePolicy() {
		return faults.Configurationf("dispatch: invalid merge policy %s", c.MergePolicy)
	}
	if c.RetuneCycle <= 0 {
		return faults.Configurationf("dispatch: retune cycle must be > 0, got %d", c.RetuneCycle)
	}
	if c.StaticRatio < 0 {
		return faults.Configurationf("dispatch: static ratio must be >= 0, got %g", c.StaticRatio)
	}
	return nil
}
