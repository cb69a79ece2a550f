// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package config is the typed, defaulted configuration surface spec.md
// §6 enumerates, decoded via github.com/mitchellh/mapstructure from a
// flag/env-sourced map[string]any the way the teacher's client/config
// package does.
package config

import (
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config holds every tunable spec.md §6 names.
type Config struct {
	Hostname string `mapstructure:"hostname"`
	APIURL   string `mapstructure:"api_url"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`

	SyncPowerStateInterval      time.Duration `mapstructure:"sync_power_state_interval"`
	CheckProvisionStateInterval time.Duration `mapstructure:"check_provision_state_interval"`
	DeployCallbackTimeout       time.Duration `mapstructure:"deploy_callback_timeout"`
	ForcePowerStateDuringSync   bool          `mapstructure:"force_power_state_during_sync"`
	PowerStateSyncMaxRetries    int           `mapstructure:"power_state_sync_max_retries"`

	PeriodicMaxWorkers int `mapstructure:"periodic_max_workers"`
	WorkersPoolSize    int `mapstructure:"workers_pool_size"`

	NodeLockedRetryAttempts int           `mapstructure:"node_locked_retry_attempts"`
	NodeLockedRetryInterval time.Duration `mapstructure:"node_locked_retry_interval"`

	SendSensorData         bool          `mapstructure:"send_sensor_data"`
	SendSensorDataInterval time.Duration `mapstructure:"send_sensor_data_interval"`
	SendSensorDataTypes    []string      `mapstructure:"send_sensor_data_types"`

	// SyncLocalStateInterval <= 0 disables the takeover loop, per
	// spec.md §6 ("negative disables").
	SyncLocalStateInterval time.Duration `mapstructure:"sync_local_state_interval"`
}

// Default returns a Config with every spec.md §6 default applied.
func Default() *Config {
	return &Config{
		HeartbeatInterval:           10 * time.Second,
		HeartbeatTimeout:            60 * time.Second,
		SyncPowerStateInterval:      60 * time.Second,
		CheckProvisionStateInterval: 60 * time.Second,
		DeployCallbackTimeout:       1800 * time.Second,
		ForcePowerStateDuringSync:   true,
		PowerStateSyncMaxRetries:    3,
		PeriodicMaxWorkers:          8,
		WorkersPoolSize:             100,
		NodeLockedRetryAttempts:     3,
		NodeLockedRetryInterval:     time.Second,
		SendSensorData:              false,
		SendSensorDataInterval:      600 * time.Second,
		SendSensorDataTypes:         []string{"ALL"},
		SyncLocalStateInterval:      180 * time.Second,
	}
}

// Decode merges overrides (typically sourced from flags/env as a
// generic map) onto a Default() config.
func Decode(overrides map[string]any) (*Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(overrides); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SensorTypeAllowed reports whether sensorType passes the
// send_sensor_data_types allow-list, matching spec.md §4.H's special
// "ALL" token (case-insensitive, matches everything).
func (c *Config) SensorTypeAllowed(sensorType string) bool {
	for _, t := range c.SendSensorDataTypes {
		if strings.EqualFold(t, "ALL") || strings.EqualFold(t, sensorType) {
			return true
		}
	}
	return false
}
