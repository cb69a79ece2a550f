// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package worker implements the bounded async job pool spec.md §4.E
// describes: spawn checks a free slot and occupies it atomically, and
// shutdown drains in-flight jobs before returning.
package worker

import (
	"sync"

	"github.com/hashicorp/go-metrics"

	"github.com/metalconductor/conductor/conductorerr"
)

// Pool is a bounded pool of goroutines for async jobs. The zero value is
// not usable; construct with New.
type Pool struct {
	// spawnMu serializes "check free slot, then spawn" so two callers
	// can never both observe a free slot and both take it (spec.md §5:
	// "guarded by a named process-global mutex").
	spawnMu sync.Mutex

	size    int
	active  int
	wg      sync.WaitGroup
	metrics *metrics.Metrics
}

// New builds a Pool with room for `size` concurrently in-flight jobs. A
// size <= 0 uses the spec.md default of 100.
func New(size int) *Pool {
	if size <= 0 {
		size = 100
	}
	return &Pool{size: size}
}

// SetMetrics attaches a go-metrics sink for worker_pool.active /
// worker_pool.rejected instrumentation. Optional; nil-safe if unset.
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()
	p.metrics = m
}

// Spawn runs fn in a new goroutine if a slot is free, returning
// NoFreeConductorWorker synchronously otherwise. fn returns nothing;
// callers that need completion state must close over it.
func (p *Pool) Spawn(fn func()) error {
	p.spawnMu.Lock()
	if p.active >= p.size {
		p.spawnMu.Unlock()
		if p.metrics != nil {
			p.metrics.IncrCounter([]string{"conductor", "worker_pool", "rejected"}, 1)
		}
		return conductorerr.New(conductorerr.NoFreeConductorWorker, "no free conductor workers (pool size %d)", p.size)
	}
	p.active++
	p.wg.Add(1)
	if p.metrics != nil {
		p.metrics.SetGauge([]string{"conductor", "worker_pool", "active"}, float32(p.active))
	}
	p.spawnMu.Unlock()

	go func() {
		defer p.release()
		defer p.wg.Done()
		fn()
	}()
	return nil
}

func (p *Pool) release() {
	p.spawnMu.Lock()
	p.active--
	if p.metrics != nil {
		p.metrics.SetGauge([]string{"conductor", "worker_pool", "active"}, float32(p.active))
	}
	p.spawnMu.Unlock()
}

// Active returns the current number of in-flight jobs.
func (p *Pool) Active() int {
	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()
	return p.active
}

// Size returns the pool's capacity.
func (p *Pool) Size() int { return p.size }

// WaitAll blocks until every spawned job has returned. Used on shutdown;
// no new jobs should be submitted concurrently with a WaitAll call.
func (p *Pool) WaitAll() {
	p.wg.Wait()
}
