// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package task implements the scoped per-node lock spec.md §4.D
// describes: TaskManager.Acquire returns a Task bound to one node, and
// every exit path — normal return, error, or handoff to an async worker —
// releases the underlying reservation exactly once.
package task

import (
	"context"
	"sync"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/types"
)

// Task is a scoped handle on one node, acquired shared or exclusive. It
// implements driver.TaskContext so any driver.*Interface call can take a
// *Task directly.
type Task struct {
	ctx        context.Context
	node       *types.Node
	driverInst driver.Driver
	hostname   string
	shared     bool
	store      store.Store

	mu        sync.Mutex
	released  bool
	handedOff bool
}

var _ driver.TaskContext = (*Task)(nil)

func (t *Task) Context() context.Context { return t.ctx }
func (t *Task) Node() *types.Node        { return t.node }
func (t *Task) Driver() driver.Driver    { return t.driverInst }
func (t *Task) Shared() bool             { return t.shared }

// Release drops the reservation unless the task is shared (never took
// one) or ownership has already been handed off to an async worker via
// SpawnAfter/ProcessEvent. Safe to call multiple times; only the first
// call has effect. Callers acquire a task and immediately `defer
// task.Release()` so every exit path — including a panic recovered
// upstream — releases the lock.
func (t *Task) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released || t.handedOff || t.shared {
		t.released = true
		return nil
	}
	t.released = true
	return t.store.ReleaseNode(t.hostname, t.node.ID)
}

// forceRelease is used by the goroutine an async job hands off to: it
// owns the reservation regardless of the handedOff flag and must release
// it itself when done.
func (t *Task) forceRelease() error {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return nil
	}
	t.released = true
	t.mu.Unlock()
	if t.shared {
		return nil
	}
	return t.store.ReleaseNode(t.hostname, t.node.ID)
}

func (t *Task) handOff() {
	t.mu.Lock()
	t.handedOff = true
	t.mu.Unlock()
}

// Pool is the subset of worker.Pool that task needs, so this package
// does not import worker directly (avoiding a dependency a reader could
// mistake for a cycle risk — worker has none on task, but keeping the
// boundary explicit documents the real contract used here).
type Pool interface {
	Spawn(fn func()) error
}

// SpawnAfter records a deferred job that takes over ownership of this
// task's reservation: on success the job runs in the pool and releases
// the lock itself when finished; on failure (most commonly
// NoFreeConductorWorker) spawnErrorHook runs before this method returns,
// and the reservation remains owned by the caller's own deferred
// Release() (spec.md §4.D).
func (t *Task) SpawnAfter(pool Pool, fn func(*Task), spawnErrorHook func(error, *Task)) error {
	if t.shared {
		return conductorerr.New(conductorerr.InvalidParameterValue, "cannot spawn async work from a shared task")
	}
	err := pool.Spawn(func() {
		defer t.forceRelease()
		fn(t)
	})
	if err != nil {
		if spawnErrorHook != nil {
			spawnErrorHook(err, t)
		}
		return err
	}
	t.handOff()
	return nil
}
