// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/task"
)

// VendorPassthru dispatches a node-scoped vendor method (spec.md §4.G).
// It first peeks at the route under a shared lock to learn whether it is
// synchronous or async. A synchronous route runs under that same shared
// lock; an async route releases it and re-acquires the node exclusively
// for the duration of the spawned call.
func (c *Core) VendorPassthru(ctx context.Context, nodeUUID, method string, args map[string]any) (any, error) {
	peek, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, true, "")
	if err != nil {
		return nil, err
	}
	vi, ok := peek.Driver().Vendor()
	if !ok {
		peek.Release()
		return nil, conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support vendor passthru", peek.Driver().Name())
	}
	route, ok := vi.Routes()[method]
	if !ok {
		peek.Release()
		return nil, conductorerr.New(conductorerr.InvalidParameterValue,
			"node %s driver %s has no vendor method %q", peek.Node().UUID, peek.Driver().Name(), method)
	}

	if !route.Async {
		defer peek.Release()
		if err := vi.Validate(peek); err != nil {
			return nil, err
		}
		return route.Handler(peek, args)
	}
	peek.Release()

	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, false, "")
	if err != nil {
		return nil, err
	}
	defer t.Release()
	if err := vi.Validate(t); err != nil {
		return nil, err
	}
	err = t.SpawnAfter(c.Pool, func(tt *task.Task) {
		if _, herr := route.Handler(tt, args); herr != nil && c.Log != nil {
			c.Log.Error("async vendor_passthru method failed", "node", tt.Node().UUID, "method", method, "error", herr)
		}
	}, func(spawnErr error, tt *task.Task) {
		if c.Log != nil {
			c.Log.Warn("async vendor_passthru rejected", "node", tt.Node().UUID, "method", method, "error", spawnErr)
		}
	})
	return nil, err
}

// DriverVendorPassthru dispatches a driver-scoped vendor method. No node
// is involved, so the handler receives a nil driver.TaskContext; handlers
// registered under DriverRoutes must tolerate that.
func (c *Core) DriverVendorPassthru(driverName, method string, args map[string]any) (any, error) {
	d, err := c.Drivers.Get(driverName)
	if err != nil {
		return nil, err
	}
	vi, ok := d.Vendor()
	if !ok {
		return nil, conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support vendor passthru", d.Name())
	}
	route, ok := vi.DriverRoutes()[method]
	if !ok {
		return nil, conductorerr.New(conductorerr.InvalidParameterValue,
			"driver %s has no driver vendor method %q", d.Name(), method)
	}
	return route.Handler(nil, args)
}

// GetNodeVendorPassthruMethods lists the node-scoped vendor methods a
// node's driver exposes.
func (c *Core) GetNodeVendorPassthruMethods(ctx context.Context, nodeUUID string) (map[string]driver.RouteMetadata, error) {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, true, "")
	if err != nil {
		return nil, err
	}
	defer t.Release()
	vi, ok := t.Driver().Vendor()
	if !ok {
		return nil, conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support vendor passthru", t.Driver().Name())
	}
	return driver.Metadata(vi.Routes()), nil
}

// GetDriverVendorPassthruMethods lists the driver-scoped vendor methods
// driverName exposes.
func (c *Core) GetDriverVendorPassthruMethods(driverName string) (map[string]driver.RouteMetadata, error) {
	d, err := c.Drivers.Get(driverName)
	if err != nil {
		return nil, err
	}
	vi, ok := d.Vendor()
	if !ok {
		return nil, conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support vendor passthru", d.Name())
	}
	return driver.Metadata(vi.DriverRoutes()), nil
}
