// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/store"
)

// runSendSensorData is _send_sensor_data (spec.md §4.H): polls every
// associated node this conductor owns for hardware telemetry and emits
// one notification per node, filtered by send_sensor_data_types.
func (c *Core) runSendSensorData(ctx context.Context, shutdown <-chan struct{}) {
	runEvery(ctx, shutdown, c.Config.SendSensorDataInterval, c.Log, "send_sensor_data", func() {
		c.sendSensorDataOnce(ctx)
	})
}

func (c *Core) sendSensorDataOnce(ctx context.Context) {
	if c.Notify == nil {
		return
	}
	associated := true
	filter := store.NodeFilter{Associated: &associated}
	infos, err := c.Store.GetNodeInfoList(
		[]store.NodeColumn{store.ColumnID, store.ColumnUUID, store.ColumnDriver},
		filter, store.ColumnID, store.SortAsc)
	if err != nil {
		if c.Log != nil {
			c.Log.Error("send_sensor_data: failed listing nodes", "error", err)
		}
		return
	}
	for _, info := range infos {
		if !c.mappedToThisConductor(info.Driver, info.UUID) {
			continue
		}
		c.sendSensorDataForNode(ctx, info)
	}
}

func (c *Core) sendSensorDataForNode(ctx context.Context, info store.NodeInfo) {
	// Read-only: a shared lock is enough, and lets sensor polling proceed
	// even while another conductor holds an exclusive lock for a deploy.
	t, err := c.Tasks.Acquire(ctx, info.ID, true, "")
	if err != nil {
		if !conductorerr.Is(err, conductorerr.NodeLocked) && c.Log != nil {
			c.Log.Warn("send_sensor_data could not acquire node", "node", info.UUID, "error", err)
		}
		return
	}
	defer t.Release()

	mi, ok := t.Driver().Management()
	if !ok {
		return
	}
	node := t.Node()
	data, err := mi.GetSensorsData(t)
	if err != nil {
		if c.Log != nil {
			c.Log.Warn("failed reading sensor data", "node", node.UUID, "error", err)
		}
		return
	}
	filtered := c.filterUnsupportedSensorTypes(data)
	if len(filtered) == 0 {
		return
	}

	msgID, err := uuid.GenerateUUID()
	if err != nil {
		if c.Log != nil {
			c.Log.Error("failed generating sensor message id", "node", node.UUID, "error", err)
		}
		return
	}
	msg := SensorMessage{
		MessageID:    msgID,
		InstanceUUID: node.InstanceUUID,
		NodeUUID:     node.UUID,
		Timestamp:    time.Now(),
		EventType:    "hardware.ipmi.metrics.update",
		Payload:      filtered,
	}
	if err := c.Notify.Notify(msg); err != nil && c.Log != nil {
		c.Log.Error("failed emitting sensor data notification", "node", node.UUID, "error", err)
	}
}

func (c *Core) filterUnsupportedSensorTypes(data map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(data))
	for sensorType, v := range data {
		if c.Config.SensorTypeAllowed(sensorType) {
			out[sensorType] = v
		}
	}
	return out
}
