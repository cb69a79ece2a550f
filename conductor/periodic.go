// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"
	"time"

	hclog "github.com/hashicorp/go-hclog"
)

// runEvery ticks fn every interval until ctx is cancelled or shutdown is
// closed. interval <= 0 disables the loop entirely (spec.md §6: a
// negative interval disables the periodic task it configures). A
// recovered panic inside fn is logged and the loop keeps running — one
// bad tick must not take the whole conductor process down.
func runEvery(ctx context.Context, shutdown <-chan struct{}, interval time.Duration, log hclog.Logger, name string, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			runTick(log, name, fn)
		}
	}
}

func runTick(log hclog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil && log != nil {
			log.Error("periodic loop panicked", "loop", name, "panic", r)
		}
	}()
	fn()
}
