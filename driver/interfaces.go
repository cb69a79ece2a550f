// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package driver defines the hardware driver capability surface (spec.md
// §4.A): the small set of interfaces a driver may optionally implement,
// plus the registry that loads and names driver instances. Concrete
// driver implementations (IPMI, iRMC, PXE, ...) are out of scope; this
// package only defines the boundary they plug into.
package driver

import (
	"context"

	"github.com/metalconductor/conductor/types"
)

// TaskContext is the minimal view of an acquired task a driver interface
// needs. It is satisfied structurally by *task.Task so that this package
// never imports package task, breaking what would otherwise be a direct
// import cycle between driver and task.
type TaskContext interface {
	Context() context.Context
	Node() *types.Node
	Driver() Driver
}

// Driver is the handle DriverRegistry hands out: a name plus whichever
// optional capability interfaces the underlying hardware class supports.
// Callers use the Power/Deploy/Management/Console/Vendor accessors and
// check the second return value, matching the Python source's getattr
// probing but as an explicit, compile-time-checkable contract.
type Driver interface {
	Name() string

	Power() (PowerInterface, bool)
	Deploy() (DeployInterface, bool)
	Management() (ManagementInterface, bool)
	Console() (ConsoleInterface, bool)
	Vendor() (VendorInterface, bool)

	// CoreInterfaces and StandardInterfaces name the interfaces
	// validate_driver_interfaces must probe (spec.md §4.G).
	CoreInterfaces() []string
	StandardInterfaces() []string

	// Properties describes the driver_info keys this driver accepts,
	// keyed by name with a human-readable description as the value.
	Properties() map[string]string
}

// DeployStatus is the outcome a DeployInterface.Deploy/TearDown call
// reports back to the conductor, driving which FSM event fires next.
type DeployStatus int

const (
	// DeployStatusDone indicates the action completed synchronously;
	// the conductor fires the "done" event.
	DeployStatusDone DeployStatus = iota
	// DeployStatusWait indicates the driver is waiting on an
	// out-of-band callback (e.g. a deploy ramdisk POST); the conductor
	// fires the "wait" event and leaves the node in DEPLOYWAIT.
	DeployStatusWait
)

// PowerInterface manages a node's power state.
type PowerInterface interface {
	Validate(TaskContext) error
	GetPowerState(TaskContext) (types.PowerState, error)
	SetPowerState(TaskContext, types.PowerState) error
}

// DeployInterface drives a node through deployment and teardown.
type DeployInterface interface {
	Validate(TaskContext) error
	Prepare(TaskContext) error
	Deploy(TaskContext) (DeployStatus, error)
	CleanUp(TaskContext) error
	TearDown(TaskContext) (DeployStatus, error)
	TakeOver(TaskContext) error
}

// ManagementInterface exposes boot-device control and sensor telemetry.
type ManagementInterface interface {
	Validate(TaskContext) error
	GetSensorsData(TaskContext) (map[string]map[string]string, error)
	GetBootDevice(TaskContext) (device string, persistent bool, err error)
	SetBootDevice(TaskContext, string, bool) error
	GetSupportedBootDevices(TaskContext) ([]string, error)
}

// ConsoleInterface manages a node's serial/graphical console.
type ConsoleInterface interface {
	Validate(TaskContext) error
	StartConsole(TaskContext) error
	StopConsole(TaskContext) error
	GetConsole(TaskContext) (map[string]any, error)
}

// Route describes one vendor_passthru / driver_vendor_passthru method.
type Route struct {
	Handler      func(TaskContext, map[string]any) (any, error)
	HTTPMethods  map[string]bool
	Async        bool
	Description  string
}

// VendorInterface exposes driver-specific out-of-band methods.
type VendorInterface interface {
	Validate(TaskContext) error
	// Routes is consulted for vendor_passthru (node-scoped).
	Routes() map[string]Route
	// DriverRoutes is consulted for driver_vendor_passthru
	// (driver-scoped, no node lock held).
	DriverRoutes() map[string]Route
}
