// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package ring

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/serf/serf"
)

// WatchSerf consumes member-change events off a running serf.Serf's event
// channel and triggers Manager.Reset on each one, so the ring notices a
// conductor joining, leaving, or failing well before the next
// sync_local_state tick would have caught it via heartbeat staleness.
//
// This is a latency optimization only, per spec.md §9 "Ring staleness":
// gossip membership never gates a write, it only makes Reset happen
// sooner. Manager works correctly with no serf instance at all, polling
// staleness purely off Store heartbeats.
func WatchSerf(ctx context.Context, events <-chan serf.Event, m *Manager, log hclog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			me, ok := evt.(serf.MemberEvent)
			if !ok {
				continue
			}
			switch me.Type {
			case serf.EventMemberJoin, serf.EventMemberLeave, serf.EventMemberFailed, serf.EventMemberReap:
				if err := m.Reset(); err != nil {
					log.Warn("ring reset after membership change failed", "error", err)
				}
			}
		}
	}
}
