// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package telemetry wires the ambient logging and metrics stack every
// component thread through: github.com/hashicorp/go-hclog for structured,
// leveled logs named per component, and github.com/hashicorp/go-metrics
// for counters/gauges/timers, matching the teacher's own conventions.
package telemetry

import (
	"os"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	gometrics "github.com/hashicorp/go-metrics"
)

// NewLogger builds the root conductor logger at the given level
// ("trace","debug","info","warn","error"), writing to stderr.
func NewLogger(level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "conductor",
		Level:  hclog.LevelFromString(level),
		Output: os.Stderr,
	})
}

// NewMetrics builds a go-metrics Metrics instance with an in-memory sink.
// cmd/conductord and the tests both use it; no other sink is wired.
func NewMetrics(serviceName string) *gometrics.Metrics {
	cfg := gometrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	m, _ := gometrics.New(cfg, gometrics.NewInmemSink(10*time.Second, time.Minute))
	return m
}
