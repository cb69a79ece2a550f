// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import "context"

// runKeepalive is _conductor_service_record_keepalive (spec.md §4.H):
// it touches this conductor's heartbeat timestamp on heartbeat_interval
// so peers' RingManagers keep treating it as live.
func (c *Core) runKeepalive(ctx context.Context, shutdown <-chan struct{}) {
	runEvery(ctx, shutdown, c.Config.HeartbeatInterval, c.Log, "record_keepalive", func() {
		if err := c.Store.TouchConductor(c.Hostname); err != nil && c.Log != nil {
			c.Log.Error("failed recording conductor keepalive", "error", err)
		}
	})
}
