// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface an accelerator resource implements to receive work from the
// hybrid dispatchers, and the registry used to select one by configuration.
//
// A Backend is a set of one or more devices. Work is submitted as a Job (a kernel evaluation over a grid range
// and a data range) to one device at a time, and completion is reported through a future, resolved with the
// device elapsed time or a device error.
//
// Backends are registered by their packages on initialization. To include all of them use:
//
//	import _ "github.com/sgpar/sgpar/backends/default"
package backends

import (
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"github.com/sgpar/sgpar/pkg/core/kernels"
	"github.com/sgpar/sgpar/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// DeviceNum represents which device should execute a job. It's between 0 and Backend.NumDevices()-1.
type DeviceNum int

// Backend is the API implemented by an accelerator resource.
type Backend interface {
	// Name returns the short name of the backend, as used in SGPAR_BACKEND.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices return the number of devices available for this Backend.
	NumDevices() DeviceNum

	// Granularity every range submitted to a device must be aligned to (except for the end of the axis).
	Granularity() kernels.Granularity

	// Submit a job to the device, without blocking. The returned future resolves to the elapsed time
	// of the job on the device, or to a device error.
	//
	// Jobs submitted to the same device are executed one at a time, in order.
	Submit(device DeviceNum, job Job) *xsync.Future[time.Duration]

	// Finalize waits for the pending jobs, then releases all the associated resources and makes the backend
	// invalid: later submissions fail with a device error.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
)

// Register backend with the given name, and a constructor that takes as input a configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

const (
	// SGPAR_BACKEND is the environment variable with the backend configuration to use.
	//
	// The format of config is "<backend_name>:<backend_configuration>", see NewWithConfig.
	SGPAR_BACKEND = "SGPAR_BACKEND"

	// SGPAR_NUM_DEVICES is the environment variable that overrides the number of devices of the backend.
	SGPAR_NUM_DEVICES = "SGPAR_NUM_DEVICES"

	// DefaultBackend used if SGPAR_BACKEND is not set.
	DefaultBackend = "simplego"
)

// envConfig reads the process-wide backend configuration, once.
var envConfig = sync.OnceValues(func() (string, error) {
	config, found := os.LookupEnv(SGPAR_BACKEND)
	if !found || config == "" {
		config = DefaultBackend
	}
	numDevicesStr, found := os.LookupEnv(SGPAR_NUM_DEVICES)
	if found && numDevicesStr != "" {
		numDevices, err := strconv.Atoi(numDevicesStr)
		if err != nil || numDevices < 1 {
			return "", faults.Configurationf("invalid %s=%q: must be a positive integer", SGPAR_NUM_DEVICES, numDevicesStr)
		}
		config = WithOption(config, OptionDevices, numDevicesStr)
	}
	klog.V(1).Infof("backends: process configuration %q", config)
	return config, nil
})

// New returns a new Backend configured by the environment: SGPAR_BACKEND (default "simplego"), with the
// number of devices overridden by SGPAR_NUM_DEVICES if set.
//
// The environment is read only once: later changes are not seen.
func New() (Backend, error) {
	config, err := envConfig()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(config)
}

// NewWithConfig creates a backend from a configuration string formatted as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "queue"), and "<backend_configuration>" is a
// comma-separated list of "key=value" options, see ParseOptions. E.g.: "queue:devices=2,granularity=64".
func NewWithConfig(config string) (Backend, error) {
	backendName, backendConfig := config, ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	muRegistry.Lock()
	constructor, found := registeredConstructors[backendName]
	muRegistry.Unlock()
	if !found {
		return nil, faults.Configurationf("can't find backend %q for configuration %q given, registered backends: %v",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "while creating backend %q", backendName)
	}
	klog.V(1).Infof("backends: created %s with %d device(s), granularity %s",
		backend.Description(), backend.NumDevices(), backend.Granularity())
	return backend, nil
}
