// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"
	"fmt"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/task"
	"github.com/metalconductor/conductor/types"
)

// UpdateNode applies patch to the node identified by nodeUUID under its
// exclusive lock and persists the result. A driver change is checked only
// for the new driver being loaded; no driver interface is re-validated,
// and unknown patch keys are ignored. Known patch keys mirror spec.md
// §4.G's update_node: driver, driver_info, instance_info, extra,
// maintenance, maintenance_reason, instance_uuid, console_enabled.
func (c *Core) UpdateNode(ctx context.Context, nodeUUID string, patch map[string]any) (*types.Node, error) {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, false, "")
	if err != nil {
		return nil, err
	}
	defer t.Release()

	node := t.Node()

	if v, ok := patch["instance_uuid"]; ok {
		newUUID, _ := v.(string)
		if node.Associated() && newUUID != node.InstanceUUID {
			return nil, conductorerr.New(conductorerr.NodeAssociated,
				"node %s is already associated with instance %s", node.UUID, node.InstanceUUID)
		}
		node.InstanceUUID = newUUID
	}
	if v, ok := patch["driver"]; ok {
		name, _ := v.(string)
		if _, err := c.Drivers.Get(name); err != nil {
			return nil, err
		}
		node.Driver = name
	}
	if v, ok := patch["driver_info"]; ok {
		node.DriverInfo, _ = v.(map[string]any)
	}
	if v, ok := patch["instance_info"]; ok {
		node.InstanceInfo, _ = v.(map[string]any)
	}
	if v, ok := patch["extra"]; ok {
		node.Extra, _ = v.(map[string]any)
	}
	if v, ok := patch["maintenance"]; ok {
		node.Maintenance, _ = v.(bool)
	}
	if v, ok := patch["maintenance_reason"]; ok {
		node.MaintenanceReason, _ = v.(string)
	}
	if v, ok := patch["console_enabled"]; ok {
		node.ConsoleEnabled, _ = v.(bool)
	}

	if err := c.Store.SaveNode(node); err != nil {
		return nil, err
	}
	return node.Clone(), nil
}

// DestroyNode removes a node's record outright. It refuses a node still
// associated with an instance, one whose power state is neither off nor
// unset, and one whose provision state is not AVAILABLE, ERROR,
// DEPLOYFAIL or NOSTATE.
func (c *Core) DestroyNode(ctx context.Context, nodeUUID string) error {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, false, "")
	if err != nil {
		return err
	}
	defer t.Release()

	node := t.Node()
	if node.Associated() {
		return conductorerr.New(conductorerr.NodeAssociated,
			"node %s still associated with instance %s; tear down first", node.UUID, node.InstanceUUID)
	}
	if node.PowerState != types.PowerOff && node.PowerState != types.PowerNone {
		return conductorerr.New(conductorerr.NodeInWrongPowerState,
			"cannot destroy node %s in power state %q", node.UUID, node.PowerState)
	}
	switch node.ProvisionState {
	case types.StateAvailable, types.StateError, types.StateDeployFail, types.StateNone:
	default:
		return conductorerr.New(conductorerr.InvalidState,
			"cannot destroy node %s in provision_state %q", node.UUID, node.ProvisionState)
	}
	return c.Store.DestroyNode(node.ID)
}

// InterfaceValidation is one entry of validate_driver_interfaces' report.
type InterfaceValidation struct {
	Result bool
	Reason string
}

// ValidateDriverInterfaces probes every capability interface the node's
// driver declares, per spec.md §4.G. Held under a shared lock: it never
// mutates the node.
func (c *Core) ValidateDriverInterfaces(ctx context.Context, nodeUUID string) (map[string]InterfaceValidation, error) {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, true, "")
	if err != nil {
		return nil, err
	}
	defer t.Release()
	return validateDriverInterfaces(t), nil
}

func validateDriverInterfaces(t *task.Task) map[string]InterfaceValidation {
	d := t.Driver()
	results := make(map[string]InterfaceValidation, 5)

	// validator is satisfied structurally by every *Interface type below,
	// each of which declares Validate(driver.TaskContext) error.
	type validator interface {
		Validate(driver.TaskContext) error
	}
	add := func(name string, v validator, supported bool) {
		if !supported {
			results[name] = InterfaceValidation{Reason: fmt.Sprintf("driver %s does not support the %s interface", d.Name(), name)}
			return
		}
		if err := v.Validate(t); err != nil {
			results[name] = InterfaceValidation{Reason: err.Error()}
			return
		}
		results[name] = InterfaceValidation{Result: true}
	}

	type probe struct {
		v         validator
		supported bool
	}
	probes := make(map[string]probe, 5)
	p, ok := d.Power()
	probes["power"] = probe{p, ok}
	dep, ok := d.Deploy()
	probes["deploy"] = probe{dep, ok}
	mgmt, ok := d.Management()
	probes["management"] = probe{mgmt, ok}
	cons, ok := d.Console()
	probes["console"] = probe{cons, ok}
	vend, ok := d.Vendor()
	probes["vendor"] = probe{vend, ok}

	names := append(append([]string(nil), d.CoreInterfaces()...), d.StandardInterfaces()...)
	for _, name := range names {
		pr := probes[name]
		add(name, pr.v, pr.supported)
	}
	return results
}

// ChangeNodePowerState validates the driver's power interface, records
// the target power state, and spawns the actual hardware call so the RPC
// caller does not block on a slow IPMI round trip, per spec.md §4.G/§5.
func (c *Core) ChangeNodePowerState(ctx context.Context, nodeUUID string, target types.PowerState) error {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, false, "")
	if err != nil {
		return err
	}
	defer t.Release()

	pi, ok := t.Driver().Power()
	if !ok {
		return conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support power control", t.Driver().Name())
	}
	if err := pi.Validate(t); err != nil {
		return err
	}

	// REBOOT is an action, not a steady state: the node settles at ON once
	// the reboot completes, so target_power_state records ON rather than
	// REBOOT (spec.md §4.G; original manager.py:353-354).
	recordedTarget := target
	if target == types.PowerReboot {
		recordedTarget = types.PowerOn
	}

	node := t.Node()
	node.TargetPowerState = recordedTarget
	node.LastError = ""
	if err := c.Store.SaveNode(node); err != nil {
		return err
	}

	return t.SpawnAfter(c.Pool, func(tt *task.Task) {
		c.runChangePowerState(tt, pi, target, recordedTarget)
	}, func(spawnErr error, tt *task.Task) {
		n := tt.Node()
		n.TargetPowerState = types.PowerNone
		n.LastError = spawnErr.Error()
		if serr := c.Store.SaveNode(n); serr != nil && c.Log != nil {
			c.Log.Error("failed rolling back target_power_state", "node", n.UUID, "error", serr)
		}
	})
}

func (c *Core) runChangePowerState(t *task.Task, pi driver.PowerInterface, target, recordedTarget types.PowerState) {
	node := t.Node()
	if err := pi.SetPowerState(t, target); err != nil {
		node.LastError = err.Error()
		node.PowerState = types.PowerError
	} else {
		node.PowerState = recordedTarget
	}
	node.TargetPowerState = types.PowerNone
	if err := c.Store.SaveNode(node); err != nil && c.Log != nil {
		c.Log.Error("failed saving node after power state change", "node", node.UUID, "error", err)
	}
}

// GetBootDevice reports the node's current (or last-requested) boot
// device. Held shared: it performs no mutation.
func (c *Core) GetBootDevice(ctx context.Context, nodeUUID string) (device string, persistent bool, err error) {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, true, "")
	if err != nil {
		return "", false, err
	}
	defer t.Release()
	mi, ok := t.Driver().Management()
	if !ok {
		return "", false, conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support management", t.Driver().Name())
	}
	return mi.GetBootDevice(t)
}

// SetBootDevice requests a boot device change for the next boot (or
// persistently), under the node's exclusive lock.
func (c *Core) SetBootDevice(ctx context.Context, nodeUUID, device string, persistent bool) error {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, false, "")
	if err != nil {
		return err
	}
	defer t.Release()
	mi, ok := t.Driver().Management()
	if !ok {
		return conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support management", t.Driver().Name())
	}
	return mi.SetBootDevice(t, device, persistent)
}

// GetSupportedBootDevices lists the boot devices the node's driver
// accepts.
func (c *Core) GetSupportedBootDevices(ctx context.Context, nodeUUID string) ([]string, error) {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, true, "")
	if err != nil {
		return nil, err
	}
	defer t.Release()
	mi, ok := t.Driver().Management()
	if !ok {
		return nil, conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support management", t.Driver().Name())
	}
	return mi.GetSupportedBootDevices(t)
}

// GetDriverProperties lists the driver_info keys driverName accepts. No
// node lock is needed: this is purely a driver-level query.
func (c *Core) GetDriverProperties(driverName string) (map[string]string, error) {
	d, err := c.Drivers.Get(driverName)
	if err != nil {
		return nil, err
	}
	return d.Properties(), nil
}
