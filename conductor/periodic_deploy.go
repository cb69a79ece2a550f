// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/state"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/task"
	"github.com/metalconductor/conductor/types"
)

// runCheckDeployTimeouts is _check_deploy_timeouts (spec.md §4.H): nodes
// stuck in DEPLOYWAIT past deploy_callback_timeout are failed out.
func (c *Core) runCheckDeployTimeouts(ctx context.Context, shutdown <-chan struct{}) {
	runEvery(ctx, shutdown, c.Config.CheckProvisionStateInterval, c.Log, "check_deploy_timeouts", func() {
		c.checkDeployTimeoutsOnce(ctx)
	})
}

func (c *Core) checkDeployTimeoutsOnce(ctx context.Context) {
	if c.Config.DeployCallbackTimeout <= 0 {
		return
	}
	filter := store.NodeFilter{
		ProvisionState:           types.StateDeployWait,
		ProvisionedBeforeSeconds: int(c.Config.DeployCallbackTimeout.Seconds()),
	}
	infos, err := c.Store.GetNodeInfoList(
		[]store.NodeColumn{store.ColumnID, store.ColumnUUID, store.ColumnDriver},
		filter, store.ColumnID, store.SortAsc)
	if err != nil {
		if c.Log != nil {
			c.Log.Error("check_deploy_timeouts: failed listing nodes", "error", err)
		}
		return
	}
	for _, info := range infos {
		if !c.mappedToThisConductor(info.Driver, info.UUID) {
			continue
		}
		c.timeoutDeploy(ctx, info)
	}
}

func (c *Core) timeoutDeploy(ctx context.Context, info store.NodeInfo) {
	t, err := c.Tasks.Acquire(ctx, info.ID, false, "")
	if err != nil {
		if !conductorerr.Is(err, conductorerr.NodeLocked) && c.Log != nil {
			c.Log.Warn("check_deploy_timeouts could not acquire node", "node", info.UUID, "error", err)
		}
		return
	}
	defer t.Release()

	node := t.Node()
	if node.ProvisionState != types.StateDeployWait {
		return
	}
	node.LastError = "timed out waiting for deploy callback"
	if err := c.Store.SaveNode(node); err != nil && c.Log != nil {
		c.Log.Error("failed recording deploy timeout", "node", node.UUID, "error", err)
	}

	di, hasDeploy := t.Driver().Deploy()
	if err := c.Tasks.ProcessEvent(t, c.Pool, state.EventFail, func(tt *task.Task) {
		if hasDeploy {
			c.runCleanupAfterTimeout(tt, di)
		}
	}, c.onDeploySpawnFailure); err != nil && c.Log != nil {
		c.Log.Error("failed failing out timed-out deploy", "node", node.UUID, "error", err)
	}
}
