// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package conductor is ConductorCore (spec.md §4.G): it owns the
// conductor's lifecycle, exposes the RPC handlers, and orchestrates the
// ring, task manager, worker pool, and state machine through the
// periodic loops in periodic_*.go.
package conductor

import (
	"context"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	gometrics "github.com/hashicorp/go-metrics"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/internal/config"
	"github.com/metalconductor/conductor/ring"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/task"
	"github.com/metalconductor/conductor/worker"
)

// Core is ConductorCore: the single-process actor that cooperates with
// its peers to own and drive a fleet of nodes.
type Core struct {
	Hostname string
	Config   *config.Config

	Store   store.Store
	Drivers *driver.Registry
	Ring    *ring.Manager
	Tasks   *task.Manager
	Pool    *worker.Pool

	Network NetworkProvider
	Notify  NotificationSink

	Log     hclog.Logger
	Metrics *gometrics.Metrics

	// powerSyncCounts is the process-local power_state_sync_count map
	// from spec.md §9, keyed by node UUID. Bounded (see SPEC_FULL.md
	// §4.H) rather than a plain map; only ever touched from the single
	// sync_power_states goroutine, so it needs no lock of its own.
	powerSyncCounts *lru.Cache[string, int]

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	loops        sync.WaitGroup
}

// New wires a Core from its collaborators. Drivers, store, logger, and
// metrics are required; Network and Notify may be nil if the deployment
// never calls the handlers that need them (update_port's VIF path,
// send_sensor_data, respectively).
func New(hostname string, cfg *config.Config, st store.Store, drivers *driver.Registry, log hclog.Logger, metrics *gometrics.Metrics) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Hostname = hostname

	ringMgr := ring.NewManager(st, cfg.HeartbeatTimeout, 0)

	tasks := task.NewManager(hostname, st, drivers, log.Named("taskmanager"))
	tasks.RetryAttempts = cfg.NodeLockedRetryAttempts
	tasks.RetryInterval = cfg.NodeLockedRetryInterval

	pool := worker.New(cfg.WorkersPoolSize)
	pool.SetMetrics(metrics)

	counts, err := lru.New[string, int](8192)
	if err != nil {
		return nil, err
	}

	return &Core{
		Hostname:        hostname,
		Config:          cfg,
		Store:           st,
		Drivers:         drivers,
		Ring:            ringMgr,
		Tasks:           tasks,
		Pool:            pool,
		Log:             log,
		Metrics:         metrics,
		powerSyncCounts: counts,
		shutdownCh:      make(chan struct{}),
	}, nil
}

// InitHost registers this conductor, clears any reservations left behind
// by a previous unclean shutdown of the same hostname (spec.md §3
// "Conductor record" lifecycle), and primes the ring.
func (c *Core) InitHost() error {
	if _, err := c.Store.RegisterConductor(c.Hostname, c.Drivers.Names(), true); err != nil {
		return err
	}
	if err := c.Store.ClearReservationsFor(c.Hostname); err != nil {
		return err
	}
	return c.Ring.Reset()
}

// Run starts every periodic loop (§4.H) and blocks until ctx is
// cancelled, then performs an orderly Shutdown.
func (c *Core) Run(ctx context.Context) error {
	if err := c.InitHost(); err != nil {
		return err
	}

	c.startLoop(ctx, c.runKeepalive)
	c.startLoop(ctx, c.runSyncPowerStates)
	c.startLoop(ctx, c.runCheckDeployTimeouts)
	c.startLoop(ctx, c.runSyncLocalState)
	if c.Config.SendSensorData {
		c.startLoop(ctx, c.runSendSensorData)
	}

	<-ctx.Done()
	return c.Shutdown()
}

func (c *Core) startLoop(ctx context.Context, fn func(ctx context.Context, shutdown <-chan struct{})) {
	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		fn(ctx, c.shutdownCh)
	}()
}

// Shutdown stops the periodic loops, waits for in-flight async jobs to
// drain (spec.md §5: "shutdown waits for them to drain"), and removes
// this conductor's registration row.
func (c *Core) Shutdown() error {
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })
	c.loops.Wait()
	c.Pool.WaitAll()
	return c.Store.UnregisterConductor(c.Hostname)
}

// mappedToThisConductor reports whether this conductor currently owns
// nodeUUID for driverName, per spec.md §4.B / manager.py's
// _mapped_to_this_conductor.
func (c *Core) mappedToThisConductor(driverName, nodeUUID string) bool {
	return c.Ring.MappedToHost(c.Hostname, driverName, nodeUUID)
}
