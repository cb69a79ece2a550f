// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package driver

import (
	"fmt"
	"sort"
	"sync"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/metalconductor/conductor/conductorerr"
)

// Factory constructs a Driver instance. Registries hold one instance per
// name, built once at startup, matching the Python source's
// driver_factory: "Each driver is instantiated only once, when the
// ConductorManager service starts."
type Factory func() (Driver, error)

// Registry loads, names, and hands out driver instances, and advertises
// the set of driver names this conductor process supports.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry builds a Registry from a static set of named factories,
// instantiating each immediately. It fails with NoDriversLoaded if
// factories is empty, per spec.md §4.A.
func NewRegistry(factories map[string]Factory) (*Registry, error) {
	if len(factories) == 0 {
		return nil, conductorerr.New(conductorerr.NoDriversLoaded, "no drivers configured")
	}
	r := &Registry{drivers: make(map[string]Driver, len(factories))}
	var result *multierror.Error
	for name, factory := range factories {
		d, err := factory()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("loading driver %q: %w", name, err))
			continue
		}
		r.drivers[name] = d
	}
	// Report every failed factory at once rather than bailing on the
	// first, so a typo'd driver list in config doesn't hide a second
	// problem behind the first error.
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the named driver, or DriverNotFound.
func (r *Registry) Get(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, conductorerr.New(conductorerr.DriverNotFound, "driver %q is not loaded on this conductor", name)
	}
	return d, nil
}

// Names returns the sorted set of driver names this registry advertises,
// used by ConductorCore when registering with Store.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
