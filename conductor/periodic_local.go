// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/store"
)

// runSyncLocalState is _sync_local_state (spec.md §4.B/§4.H): resets the
// ring against current membership, then takes over any associated node
// that newly maps to this conductor but still carries another
// conductor's affinity. A non-positive interval disables the loop —
// useful for a single-conductor deployment where takeover can never
// apply.
func (c *Core) runSyncLocalState(ctx context.Context, shutdown <-chan struct{}) {
	runEvery(ctx, shutdown, c.Config.SyncLocalStateInterval, c.Log, "sync_local_state", func() {
		c.syncLocalStateOnce(ctx)
	})
}

func (c *Core) syncLocalStateOnce(ctx context.Context) {
	if err := c.Ring.Reset(); err != nil {
		if c.Log != nil {
			c.Log.Error("sync_local_state: failed resetting ring", "error", err)
		}
		return
	}

	associated := true
	filter := store.NodeFilter{Associated: &associated}
	infos, err := c.Store.GetNodeInfoList(
		[]store.NodeColumn{store.ColumnID, store.ColumnUUID, store.ColumnDriver, store.ColumnConductorAffinity},
		filter, store.ColumnID, store.SortAsc)
	if err != nil {
		if c.Log != nil {
			c.Log.Error("sync_local_state: failed listing nodes", "error", err)
		}
		return
	}

	for _, info := range infos {
		if info.ConductorAffinity == c.Hostname {
			continue
		}
		if !c.mappedToThisConductor(info.Driver, info.UUID) {
			continue
		}
		c.doTakeover(ctx, info)
	}
}

// doTakeover is manager.py's _do_takeover: lets the deploy driver rebuild
// any in-memory state it needs (e.g. re-subscribing to a deploy ramdisk
// callback channel) before this conductor claims affinity.
func (c *Core) doTakeover(ctx context.Context, info store.NodeInfo) {
	t, err := c.Tasks.Acquire(ctx, info.ID, false, "")
	if err != nil {
		if !conductorerr.Is(err, conductorerr.NodeLocked) && c.Log != nil {
			c.Log.Warn("takeover could not acquire node", "node", info.UUID, "error", err)
		}
		return
	}
	defer t.Release()

	di, ok := t.Driver().Deploy()
	if !ok {
		return
	}
	node := t.Node()
	if err := di.TakeOver(t); err != nil {
		node.LastError = err.Error()
		if serr := c.Store.SaveNode(node); serr != nil && c.Log != nil {
			c.Log.Error("failed recording takeover failure", "node", node.UUID, "error", serr)
		}
		if c.Log != nil {
			c.Log.Error("takeover failed", "node", node.UUID, "error", err)
		}
		return
	}

	node.ConductorAffinity = c.Hostname
	if err := c.Store.SaveNode(node); err != nil && c.Log != nil {
		c.Log.Error("failed recording conductor affinity after takeover", "node", node.UUID, "error", err)
	}
}
