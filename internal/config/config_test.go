// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"testing"
	"time"

	"github.com/shoenig/test/must"
)

func TestDecode_OverridesMergeOntoDefaults(t *testing.T) {
	cfg, err := Decode(map[string]any{
		"hostname":              "conductor-a",
		"heartbeat_interval":    "5s",
		"power_state_sync_max_retries": 7,
	})
	must.NoError(t, err)
	must.Eq(t, "conductor-a", cfg.Hostname)
	must.Eq(t, 5*time.Second, cfg.HeartbeatInterval)
	must.Eq(t, 7, cfg.PowerStateSyncMaxRetries)
	must.Eq(t, 100, cfg.WorkersPoolSize) // untouched default survives
}

func TestSensorTypeAllowed(t *testing.T) {
	cfg := Default()
	cfg.SendSensorDataTypes = []string{"Temperature", "fan"}

	must.True(t, cfg.SensorTypeAllowed("temperature"))
	must.True(t, cfg.SensorTypeAllowed("FAN"))
	must.False(t, cfg.SensorTypeAllowed("voltage"))
}

func TestSensorTypeAllowed_AllIsCaseInsensitiveWildcard(t *testing.T) {
	cfg := Default()
	cfg.SendSensorDataTypes = []string{"all"}

	must.True(t, cfg.SensorTypeAllowed("anything"))
}
