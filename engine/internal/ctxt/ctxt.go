// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package ctxt provides the GPU driver used in the engine.
package ctxt

import (
	"errors"
	"strings"
	"sync"

	"github.com/gviegas/framegraph/driver"
)

var (
	mu       sync.Mutex
	drv      driver.Driver
	gpu      driver.GPU
	limits   driver.Limits
	features driver.Features
)

var errNoDriver = errors.New("ctxt: driver not found")

// loadDriver attempts to load any driver whose name
// contains the name string. It is case insensitive.
// If name is the empty string, then all registered
// drivers are considered.
// On success, it replaces drv and gpu and queries
// limits and features from the new gpu.
func loadDriver(name string) error {
	drivers := driver.Drivers()
	err := errNoDriver
	name = strings.ToLower(name)
	for i := range drivers {
		if !strings.Contains(strings.ToLower(drivers[i].Name()), name) {
			continue
		}
		var u driver.GPU
		if u, err = drivers[i].Open(); err != nil {
			continue
		}
		drv = drivers[i]
		gpu = u
		limits = gpu.Limits()
		features = gpu.Features()
		return nil
	}
	return err
}

// Load selects the driver to use.
// If a driver is already loaded and its name contains
// name, Load is a no-op.
func Load(name string) error {
	mu.Lock()
	defer mu.Unlock()
	if drv != nil && strings.Contains(strings.ToLower(drv.Name()), strings.ToLower(name)) {
		return nil
	}
	return loadDriver(name)
}

// Driver returns the driver.Driver.
func Driver() driver.Driver { return drv }

// GPU returns the driver.GPU.
func GPU() driver.GPU { return gpu }

// Limits returns GPU().Limits().
// This value is retrieved only once. It must not be
// changed by the caller.
func Limits() *driver.Limits { return &limits }

// Features returns GPU().Features().
// This value is retrieved when the driver is loaded.
// It must not be changed by the caller.
func Features() *driver.Features { return &features }

// Refresh queries GPU().Features() again.
func Refresh() {
	mu.Lock()
	defer mu.Unlock()
	if gpu != nil {
		features = gpu.Features()
	}
}
