// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/task"
)

// GetConsoleInformation returns the node's console connection details.
// Held shared: it performs no mutation.
func (c *Core) GetConsoleInformation(ctx context.Context, nodeUUID string) (map[string]any, error) {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, true, "")
	if err != nil {
		return nil, err
	}
	defer t.Release()

	if !t.Node().ConsoleEnabled {
		return nil, conductorerr.New(conductorerr.NodeConsoleNotEnabled, "console is not enabled for node %s", t.Node().UUID)
	}
	ci, ok := t.Driver().Console()
	if !ok {
		return nil, conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support console", t.Driver().Name())
	}
	return ci.GetConsole(t)
}

// SetConsoleMode starts or stops the node's console, spawned so a slow
// driver call does not block the RPC caller.
func (c *Core) SetConsoleMode(ctx context.Context, nodeUUID string, enabled bool) error {
	t, err := c.Tasks.AcquireByUUID(ctx, nodeUUID, false, "")
	if err != nil {
		return err
	}
	defer t.Release()

	ci, ok := t.Driver().Console()
	if !ok {
		return conductorerr.New(conductorerr.UnsupportedDriverExtension,
			"driver %s does not support console", t.Driver().Name())
	}
	if t.Node().ConsoleEnabled == enabled {
		return nil
	}
	if err := ci.Validate(t); err != nil {
		return err
	}

	return t.SpawnAfter(c.Pool, func(tt *task.Task) {
		c.setConsoleMode(tt, ci, enabled)
	}, func(spawnErr error, tt *task.Task) {
		if c.Log != nil {
			c.Log.Warn("set_console_mode spawn rejected", "node", tt.Node().UUID, "error", spawnErr)
		}
	})
}

func (c *Core) setConsoleMode(t *task.Task, ci driver.ConsoleInterface, enabled bool) {
	node := t.Node()
	var err error
	if enabled {
		err = ci.StartConsole(t)
	} else {
		err = ci.StopConsole(t)
	}
	if err != nil {
		node.LastError = err.Error()
		if c.Log != nil {
			c.Log.Error("set_console_mode failed", "node", node.UUID, "enabled", enabled, "error", err)
		}
	} else {
		node.ConsoleEnabled = enabled
	}
	if serr := c.Store.SaveNode(node); serr != nil && c.Log != nil {
		c.Log.Error("failed saving node after console mode change", "node", node.UUID, "error", serr)
	}
}
