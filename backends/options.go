// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"slices"
	"strconv"
	"strings"

	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/kernels"
)

// Option keys understood by ParseOptions.
const (
	OptionDevices         = "devices"
	OptionGranularity     = "granularity"
	OptionGridGranularity = "grid_granularity"
	OptionWorkers         = "workers"
	OptionThreads         = "threads"
	OptionDepth           = "depth"
)

// Options common to the backends. Each backend fills its defaults before calling ParseOptions.
type Options struct {
	// NumDevices in the backend.
	NumDevices int

	// Granularity of the devices.
	Granularity kernels.Granularity

	// Workers per device, for backends that run a device with a team of goroutines.
	// "threads" is accepted as an alias.
	Workers int

	// Depth of the command queue of each device.
	Depth int
}

// ParseOptions parses a comma-separated list of "key=value" options into opts.
//
// The keys "devices", "granularity" (data axis) and "grid_granularity" are always accepted; backend specific
// keys ("workers", "threads", "depth") must be listed in extraKeys. Unknown keys and invalid values are
// configuration errors.
func ParseOptions(config string, opts *Options, extraKeys ...string) error {
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, valueStr, found := strings.Cut(part, "=")
		if !found {
			return faults.Configurationf("backend option %q is not in the format key=value", part)
		}
		key = strings.TrimSpace(key)
		value, err := strconv.Atoi(strings.TrimSpace(valueStr))
		if err != nil || value < 1 {
			return faults.Configurationf("backend option %q requires a positive integer, got %q", key, valueStr)
		}
		switch {
		case key == OptionDevices:
			opts.NumDevices = value
		case key == OptionGranularity:
			opts.Granularity.Data = value
		case key == OptionGridGranularity:
			opts.Granularity.Grid = value
		case !slices.Contains(extraKeys, key):
			return faults.Configurationf("unknown backend option %q in %q", key, config)
		case key == OptionWorkers || key == OptionThreads:
			opts.Workers = value
		case key == OptionDepth:
			opts.Depth = value
		default:
			return faults.Configurationf("unknown backend option %q in %q", key, config)
		}
	}
	return opts.Granularity.Validate()
}

// WithOption returns the configuration (in the "<backend_name>:<backend_configuration>" format) with
// the option key set to value, replacing any previous setting of the same key.
func WithOption(config, key, value string) string {
	name, options, _ := strings.Cut(config, ":")
	var parts []string
	for _, part := range strings.Split(options, ",") {
		if part == "" {
			continue
		}
		if k, _, _ := strings.Cut(part, "="); strings.TrimSpace(k) == key {
			continue
		}
		parts = append(parts, part)
	}
	parts = append(parts, key+"="+value)
	return name + ":" + strings.Join(parts, ",")
}
