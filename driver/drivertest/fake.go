// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package drivertest provides a scriptable fake driver.Driver for
// exercising the conductor control plane without real hardware, in the
// spirit of the teacher's drivers/mock package used throughout its own
// test suite.
package drivertest

import (
	"sync"

	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/types"
)

// Fake is an in-memory driver.Driver whose behavior is configured by
// setting its exported function fields before use. Unset fields fall back
// to no-op success.
type Fake struct {
	DriverName string

	mu sync.Mutex

	ValidatePowerFn    func(driver.TaskContext) error
	GetPowerStateFn    func(driver.TaskContext) (types.PowerState, error)
	SetPowerStateFn    func(driver.TaskContext, types.PowerState) error

	ValidateDeployFn func(driver.TaskContext) error
	PrepareFn        func(driver.TaskContext) error
	DeployFn         func(driver.TaskContext) (driver.DeployStatus, error)
	CleanUpFn        func(driver.TaskContext) error
	TearDownFn       func(driver.TaskContext) (driver.DeployStatus, error)
	TakeOverFn       func(driver.TaskContext) error

	ValidateManagementFn func(driver.TaskContext) error
	GetSensorsDataFn     func(driver.TaskContext) (map[string]map[string]string, error)
	GetBootDeviceFn      func(driver.TaskContext) (string, bool, error)
	SetBootDeviceFn      func(driver.TaskContext, string, bool) error
	SupportedBootDevFn   func(driver.TaskContext) ([]string, error)

	ValidateConsoleFn func(driver.TaskContext) error
	StartConsoleFn    func(driver.TaskContext) error
	StopConsoleFn     func(driver.TaskContext) error
	GetConsoleFn      func(driver.TaskContext) (map[string]any, error)

	ValidateVendorFn func(driver.TaskContext) error
	VendorRoutesMap  map[string]driver.Route
	DriverRoutesMap  map[string]driver.Route

	NoPower, NoDeploy, NoManagement, NoConsole, NoVendor bool

	// CallLog records, in order, the names of methods invoked. Useful
	// for asserting validate-before-mutate ordering in tests.
	CallLog []string
}

func New(name string) *Fake {
	return &Fake{DriverName: name}
}

func (f *Fake) log(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CallLog = append(f.CallLog, name)
}

func (f *Fake) Name() string { return f.DriverName }

func (f *Fake) Power() (driver.PowerInterface, bool) {
	if f.NoPower {
		return nil, false
	}
	return fakePower{f}, true
}

func (f *Fake) Deploy() (driver.DeployInterface, bool) {
	if f.NoDeploy {
		return nil, false
	}
	return fakeDeploy{f}, true
}

func (f *Fake) Management() (driver.ManagementInterface, bool) {
	if f.NoManagement {
		return nil, false
	}
	return fakeManagement{f}, true
}

func (f *Fake) Console() (driver.ConsoleInterface, bool) {
	if f.NoConsole {
		return nil, false
	}
	return fakeConsole{f}, true
}

func (f *Fake) Vendor() (driver.VendorInterface, bool) {
	if f.NoVendor {
		return nil, false
	}
	return fakeVendor{f}, true
}

func (f *Fake) CoreInterfaces() []string { return []string{"power", "deploy"} }

func (f *Fake) StandardInterfaces() []string { return []string{"management", "console", "vendor"} }

func (f *Fake) Properties() map[string]string {
	return map[string]string{"fake_address": "address of the fake BMC"}
}

type fakePower struct{ f *Fake }

func (p fakePower) Validate(tc driver.TaskContext) error {
	p.f.log("power.validate")
	if p.f.ValidatePowerFn != nil {
		return p.f.ValidatePowerFn(tc)
	}
	return nil
}

func (p fakePower) GetPowerState(tc driver.TaskContext) (types.PowerState, error) {
	p.f.log("power.get_power_state")
	if p.f.GetPowerStateFn != nil {
		return p.f.GetPowerStateFn(tc)
	}
	return types.PowerOn, nil
}

func (p fakePower) SetPowerState(tc driver.TaskContext, s types.PowerState) error {
	p.f.log("power.set_power_state")
	if p.f.SetPowerStateFn != nil {
		return p.f.SetPowerStateFn(tc, s)
	}
	return nil
}

type fakeDeploy struct{ f *Fake }

func (d fakeDeploy) Validate(tc driver.TaskContext) error {
	d.f.log("deploy.validate")
	if d.f.ValidateDeployFn != nil {
		return d.f.ValidateDeployFn(tc)
	}
	return nil
}

func (d fakeDeploy) Prepare(tc driver.TaskContext) error {
	d.f.log("deploy.prepare")
	if d.f.PrepareFn != nil {
		return d.f.PrepareFn(tc)
	}
	return nil
}

func (d fakeDeploy) Deploy(tc driver.TaskContext) (driver.DeployStatus, error) {
	d.f.log("deploy.deploy")
	if d.f.DeployFn != nil {
		return d.f.DeployFn(tc)
	}
	return driver.DeployStatusDone, nil
}

func (d fakeDeploy) CleanUp(tc driver.TaskContext) error {
	d.f.log("deploy.clean_up")
	if d.f.CleanUpFn != nil {
		return d.f.CleanUpFn(tc)
	}
	return nil
}

func (d fakeDeploy) TearDown(tc driver.TaskContext) (driver.DeployStatus, error) {
	d.f.log("deploy.tear_down")
	if d.f.TearDownFn != nil {
		return d.f.TearDownFn(tc)
	}
	return driver.DeployStatusDone, nil
}

func (d fakeDeploy) TakeOver(tc driver.TaskContext) error {
	d.f.log("deploy.take_over")
	if d.f.TakeOverFn != nil {
		return d.f.TakeOverFn(tc)
	}
	return nil
}

type fakeManagement struct{ f *Fake }

func (m fakeManagement) Validate(tc driver.TaskContext) error {
	m.f.log("management.validate")
	if m.f.ValidateManagementFn != nil {
		return m.f.ValidateManagementFn(tc)
	}
	return nil
}

func (m fakeManagement) GetSensorsData(tc driver.TaskContext) (map[string]map[string]string, error) {
	m.f.log("management.get_sensors_data")
	if m.f.GetSensorsDataFn != nil {
		return m.f.GetSensorsDataFn(tc)
	}
	return map[string]map[string]string{}, nil
}

func (m fakeManagement) GetBootDevice(tc driver.TaskContext) (string, bool, error) {
	m.f.log("management.get_boot_device")
	if m.f.GetBootDeviceFn != nil {
		return m.f.GetBootDeviceFn(tc)
	}
	return "pxe", false, nil
}

func (m fakeManagement) SetBootDevice(tc driver.TaskContext, device string, persistent bool) error {
	m.f.log("management.set_boot_device")
	if m.f.SetBootDeviceFn != nil {
		return m.f.SetBootDeviceFn(tc, device, persistent)
	}
	return nil
}

func (m fakeManagement) GetSupportedBootDevices(tc driver.TaskContext) ([]string, error) {
	m.f.log("management.get_supported_boot_devices")
	if m.f.SupportedBootDevFn != nil {
		return m.f.SupportedBootDevFn(tc)
	}
	return []string{"pxe", "disk"}, nil
}

type fakeConsole struct{ f *Fake }

func (c fakeConsole) Validate(tc driver.TaskContext) error {
	c.f.log("console.validate")
	if c.f.ValidateConsoleFn != nil {
		return c.f.ValidateConsoleFn(tc)
	}
	return nil
}

func (c fakeConsole) StartConsole(tc driver.TaskContext) error {
	c.f.log("console.start_console")
	if c.f.StartConsoleFn != nil {
		return c.f.StartConsoleFn(tc)
	}
	return nil
}

func (c fakeConsole) StopConsole(tc driver.TaskContext) error {
	c.f.log("console.stop_console")
	if c.f.StopConsoleFn != nil {
		return c.f.StopConsoleFn(tc)
	}
	return nil
}

func (c fakeConsole) GetConsole(tc driver.TaskContext) (map[string]any, error) {
	c.f.log("console.get_console")
	if c.f.GetConsoleFn != nil {
		return c.f.GetConsoleFn(tc)
	}
	return map[string]any{"type": "fake"}, nil
}

type fakeVendor struct{ f *Fake }

func (v fakeVendor) Validate(tc driver.TaskContext) error {
	v.f.log("vendor.validate")
	if v.f.ValidateVendorFn != nil {
		return v.f.ValidateVendorFn(tc)
	}
	return nil
}

func (v fakeVendor) Routes() map[string]driver.Route { return v.f.VendorRoutesMap }

func (v fakeVendor) DriverRoutes() map[string]driver.Route { return v.f.DriverRoutesMap }
