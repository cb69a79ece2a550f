// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/state"
	"github.com/metalconductor/conductor/task"
	"github.com/metalconductor/conductor/types"
)

// DoNodeDeploy fires the deploy event (or the rebuild event, when the node
// is ACTIVE or DEPLOYFAIL) against the provisioning FSM and spawns the
// deploy callback under the worker pool, per spec.md §4.D/§4.F.
func (c *Core) DoNodeDeploy(ctx context.Context, nodeUUID string) error {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, false, "")
	if err != nil {
		return err
	}
	defer t.Release()

	node := t.Node()
	if node.Maintenance {
		return conductorerr.New(conductorerr.NodeInMaintenance, "node %s is in maintenance", node.UUID)
	}
	di, ok := t.Driver().Deploy()
	if !ok {
		return conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support deployment", t.Driver().Name())
	}
	if err := di.Validate(t); err != nil {
		return err
	}

	event := state.EventDeploy
	if node.ProvisionState == types.StateActive || node.ProvisionState == types.StateDeployFail {
		event = state.EventRebuild
		// Force the deploy driver to re-fetch the deploy image rather than
		// reuse whatever it cached last time (spec.md §4.G; original
		// manager.py:640-643).
		delete(node.InstanceInfo, "kernel")
		delete(node.InstanceInfo, "ramdisk")
	}

	return c.Tasks.ProcessEvent(t, c.Pool, event, func(tt *task.Task) {
		c.runDeploy(tt, di)
	}, c.onDeploySpawnFailure)
}

// DoNodeTearDown fires the delete event and spawns the teardown callback.
func (c *Core) DoNodeTearDown(ctx context.Context, nodeUUID string) error {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, false, "")
	if err != nil {
		return err
	}
	defer t.Release()

	di, ok := t.Driver().Deploy()
	if !ok {
		return conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support deployment", t.Driver().Name())
	}

	return c.Tasks.ProcessEvent(t, c.Pool, state.EventDelete, func(tt *task.Task) {
		c.runTearDown(tt, di)
	}, c.onDeploySpawnFailure)
}

// runDeploy executes inside the pool goroutine ProcessEvent already
// spawned, with the task already handed off to it. Further state
// transitions use Manager.Transition (no re-spawn) and any resulting
// callback runs inline, in this same goroutine, so the eventual
// defer-forceRelease on return always happens after cleanup — not
// concurrently with it.
func (c *Core) runDeploy(t *task.Task, di driver.DeployInterface) {
	node := t.Node()

	if err := di.Prepare(t); err != nil {
		c.failDeploy(t, di, err)
		return
	}
	status, err := di.Deploy(t)
	if err != nil {
		c.failDeploy(t, di, err)
		return
	}
	node.ConductorAffinity = c.Hostname

	event := state.EventDone
	if status == driver.DeployStatusWait {
		event = state.EventWait
	}
	if _, err := c.Tasks.Transition(t, event); err != nil && c.Log != nil {
		c.Log.Error("failed advancing provision state after deploy", "node", node.UUID, "error", err)
	}
}

func (c *Core) failDeploy(t *task.Task, di driver.DeployInterface, cause error) {
	node := t.Node()
	node.LastError = cause.Error()
	if err := c.Store.SaveNode(node); err != nil && c.Log != nil {
		c.Log.Error("failed recording deploy failure", "node", node.UUID, "error", err)
	}
	trans, err := c.Tasks.Transition(t, state.EventFail)
	if err != nil {
		if c.Log != nil {
			c.Log.Error("failed transitioning node to deploy failed", "node", node.UUID, "error", err)
		}
		return
	}
	if trans.Callback == state.CallbackCleanupAfterTimeout {
		c.runCleanupAfterTimeout(t, di)
	}
}

func (c *Core) runTearDown(t *task.Task, di driver.DeployInterface) {
	node := t.Node()
	if _, err := di.TearDown(t); err != nil {
		node.LastError = err.Error()
		if serr := c.Store.SaveNode(node); serr != nil && c.Log != nil {
			c.Log.Error("failed recording tear down failure", "node", node.UUID, "error", serr)
		}
		if c.Log != nil {
			c.Log.Error("tear down failed", "node", node.UUID, "error", err)
		}
		return
	}
	if _, err := c.Tasks.Transition(t, state.EventDone); err != nil && c.Log != nil {
		c.Log.Error("failed completing tear down transition", "node", node.UUID, "error", err)
	}
	node.InstanceUUID = ""
	node.InstanceInfo = nil
	if err := c.Store.SaveNode(node); err != nil && c.Log != nil {
		c.Log.Error("failed clearing instance association after tear down", "node", node.UUID, "error", err)
	}
}

// runCleanupAfterTimeout lets the deploy driver release whatever
// resources it reserved before giving up, per spec.md §4.F's
// cleanup_after_timeout callback. Errors are logged, not surfaced: the
// node is already in DEPLOYFAIL and an operator must intervene regardless.
func (c *Core) runCleanupAfterTimeout(t *task.Task, di driver.DeployInterface) {
	if err := di.CleanUp(t); err != nil && c.Log != nil {
		c.Log.Error("cleanup after deploy failure failed", "node", t.Node().UUID, "error", err)
	}
}

// onDeploySpawnFailure runs when the worker pool has no free slot for a
// deploy/tear-down callback; ProcessEvent has already rolled the FSM back
// to its previous state by the time this fires.
func (c *Core) onDeploySpawnFailure(err error, node *types.Node, prevState, prevTarget types.ProvisionState) {
	if c.Log != nil {
		c.Log.Warn("deploy/tear-down spawn rejected, rolled back provision state",
			"node", node.UUID, "restored_state", prevState, "restored_target", prevTarget, "error", err)
	}
}
