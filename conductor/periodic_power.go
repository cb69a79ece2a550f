// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"
	"fmt"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/task"
	"github.com/metalconductor/conductor/types"
)

// runSyncPowerStates is _sync_power_states (spec.md §4.H): for every
// non-maintenance node this conductor owns, compare observed power state
// against the recorded one and reconcile.
func (c *Core) runSyncPowerStates(ctx context.Context, shutdown <-chan struct{}) {
	runEvery(ctx, shutdown, c.Config.SyncPowerStateInterval, c.Log, "sync_power_states", func() {
		c.syncPowerStatesOnce(ctx)
	})
}

func (c *Core) syncPowerStatesOnce(ctx context.Context) {
	notMaintenance := false
	filter := store.NodeFilter{Maintenance: &notMaintenance}
	infos, err := c.Store.GetNodeInfoList(
		[]store.NodeColumn{store.ColumnID, store.ColumnUUID, store.ColumnDriver},
		filter, store.ColumnID, store.SortAsc)
	if err != nil {
		if c.Log != nil {
			c.Log.Error("sync_power_states: failed listing nodes", "error", err)
		}
		return
	}
	for _, info := range infos {
		if !c.mappedToThisConductor(info.Driver, info.UUID) {
			continue
		}
		c.doSyncPowerState(ctx, info)
	}
}

// doSyncPowerState is do_sync_power_state (spec.md §4.H), reproduced
// branch for branch: the retry counter is incremented once per call,
// persisted only while non-zero, and every return path that reaches
// "synced" removes it rather than leaving a stale count behind.
func (c *Core) doSyncPowerState(ctx context.Context, info store.NodeInfo) {
	t, err := c.Tasks.Acquire(ctx, info.ID, false, "")
	if err != nil {
		if !conductorerr.Is(err, conductorerr.NodeLocked) && c.Log != nil {
			c.Log.Warn("sync_power_state could not acquire node", "node", info.UUID, "error", err)
		}
		return
	}
	defer t.Release()

	pi, ok := t.Driver().Power()
	if !ok {
		return
	}

	prevCount, _ := c.powerSyncCounts.Get(info.UUID)
	count := prevCount + 1
	node := t.Node()

	if node.PowerState == types.PowerNone {
		if err := pi.Validate(t); err != nil {
			// No prior state to compare against and the driver can't even
			// validate its power parameters: nothing to sync yet.
			c.powerSyncCounts.Remove(info.UUID)
			return
		}
	}

	actual, err := pi.GetPowerState(t)
	if err != nil {
		c.handlePowerSyncFailure(node, count, err)
		return
	}
	if actual == types.PowerError {
		c.handlePowerSyncFailure(node, count, fmt.Errorf("hardware reports power state %q", types.PowerError))
		return
	}

	if node.PowerState == types.PowerNone {
		node.PowerState = actual
		c.saveNode(node, "recording initial power state")
		c.powerSyncCounts.Remove(info.UUID)
		return
	}

	if actual == node.PowerState {
		c.powerSyncCounts.Remove(info.UUID)
		return
	}

	if count > c.Config.PowerStateSyncMaxRetries {
		c.escalateToMaintenance(node, count,
			fmt.Errorf("power state out of sync: observed %q, expected %q", actual, node.PowerState))
		c.powerSyncCounts.Remove(info.UUID)
		return
	}

	if c.Config.ForcePowerStateDuringSync {
		c.forcePowerState(t, pi, node, count)
		return
	}

	node.PowerState = actual
	c.saveNode(node, "reconciling power state after sync")
	c.powerSyncCounts.Add(info.UUID, count)
}

// forcePowerState drives hardware back toward node.PowerState rather than
// accepting the observed drift. A failed attempt here just logs and keeps
// the counter alive for the next tick; doSyncPowerState has already ruled
// out escalation for this count before calling in.
func (c *Core) forcePowerState(t *task.Task, pi driver.PowerInterface, node *types.Node, count int) {
	if err := pi.SetPowerState(t, node.PowerState); err != nil {
		if c.Log != nil {
			c.Log.Warn("forcing power state failed, will retry", "node", node.UUID,
				"attempts_left", c.Config.PowerStateSyncMaxRetries-count, "error", err)
		}
		c.powerSyncCounts.Add(node.UUID, count)
		return
	}
	c.powerSyncCounts.Remove(node.UUID)
}

// handlePowerSyncFailure covers both an erroring GetPowerState call and a
// returned PowerError state: escalate once retries are exhausted, else
// persist the incremented counter for the next tick. Neither branch
// touches node.PowerState — the last successfully recorded state is left
// in place, per spec.md §4.H's do_sync_power_state.
func (c *Core) handlePowerSyncFailure(node *types.Node, count int, cause error) {
	if count > c.Config.PowerStateSyncMaxRetries {
		c.escalateToMaintenance(node, count, cause)
		c.powerSyncCounts.Remove(node.UUID)
		return
	}
	if c.Log != nil {
		c.Log.Warn("power state sync failed, will retry", "node", node.UUID, "attempt", count, "error", cause)
	}
	c.powerSyncCounts.Add(node.UUID, count)
}

func (c *Core) escalateToMaintenance(node *types.Node, count int, cause error) {
	node.Maintenance = true
	node.MaintenanceReason = fmt.Sprintf("power state sync failed %d consecutive times: %v", count, cause)
	node.LastError = cause.Error()
	c.saveNode(node, "escalating node to maintenance after power sync failures")
}

func (c *Core) saveNode(node *types.Node, action string) {
	if err := c.Store.SaveNode(node); err != nil && c.Log != nil {
		c.Log.Error("failed "+action, "node", node.UUID, "error", err)
	}
}
