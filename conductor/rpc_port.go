// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/types"
)

// UpdatePort applies patch to a port under its owning node's exclusive
// lock. An address change on a port that already carries a Neutron VIF
// id is pushed to the configured NetworkProvider, per spec.md §4.G.
func (c *Core) UpdatePort(ctx context.Context, portID int64, patch map[string]any) (*types.Port, error) {
	port, err := c.Store.GetPort(portID)
	if err != nil {
		return nil, err
	}

	t, err := c.Tasks.Acquire(ctx, port.NodeID, false, "")
	if err != nil {
		return nil, err
	}
	defer t.Release()

	oldAddress := port.Address
	if v, ok := patch["address"]; ok {
		port.Address, _ = v.(string)
	}
	if v, ok := patch["extra"]; ok {
		port.Extra, _ = v.(map[string]any)
	}

	if port.Address != oldAddress {
		if vif := port.VIFPortID(); vif != "" && c.Network != nil {
			if err := c.Network.UpdatePortAddress(vif, port.Address); err != nil {
				return nil, conductorerr.Wrap(conductorerr.FailedToUpdateMacOnPort, err,
					"failed updating MAC for port %d via network provider", port.ID)
			}
		}
	}

	if err := c.Store.SaveNodePort(port); err != nil {
		return nil, err
	}
	return port, nil
}
