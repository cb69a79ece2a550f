// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package task

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/state"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/types"
)

// Manager acquires and releases per-node Tasks, and drives the
// provisioning state machine under an already-held task.
type Manager struct {
	Hostname      string
	Store         store.Store
	Drivers       *driver.Registry
	Log           hclog.Logger
	RetryAttempts int
	RetryInterval time.Duration

	// sleep is overridable in tests to avoid real waits during the
	// NodeLocked retry loop.
	sleep func(time.Duration)
}

// NewManager builds a Manager with the spec.md §6 defaults
// (node_locked_retry_attempts=3, node_locked_retry_interval=1s).
func NewManager(hostname string, st store.Store, drivers *driver.Registry, log hclog.Logger) *Manager {
	return &Manager{
		Hostname:      hostname,
		Store:         st,
		Drivers:       drivers,
		Log:           log,
		RetryAttempts: 3,
		RetryInterval: time.Second,
		sleep:         time.Sleep,
	}
}

// Acquire loads nodeID and its driver and returns a scoped Task. Shared
// acquisition takes no reservation. Exclusive acquisition makes up to
// RetryAttempts reservation attempts in all, sleeping RetryInterval
// between them, then propagates NodeLocked (spec.md §4.D).
//
// driverName, if non-empty, overrides node.Driver for this task only —
// used by update_node to let a task observe a driver change that hasn't
// been saved yet.
func (m *Manager) Acquire(ctx context.Context, nodeID int64, shared bool, driverName string) (*Task, error) {
	node, err := m.Store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	return m.acquireNode(ctx, node, shared, driverName)
}

// AcquireByUUID is Acquire keyed by node UUID, used by RPC handlers that
// receive a UUID rather than a numeric id.
func (m *Manager) AcquireByUUID(ctx context.Context, uuid string, shared bool, driverName string) (*Task, error) {
	node, err := m.Store.GetNodeByUUID(uuid)
	if err != nil {
		return nil, err
	}
	return m.acquireNode(ctx, node, shared, driverName)
}

func (m *Manager) acquireNode(ctx context.Context, node *types.Node, shared bool, driverName string) (*Task, error) {
	name := node.Driver
	if driverName != "" {
		name = driverName
	}
	d, err := m.Drivers.Get(name)
	if err != nil {
		return nil, err
	}

	if shared {
		return &Task{ctx: ctx, node: node, driverInst: d, hostname: m.Hostname, shared: true, store: m.Store}, nil
	}

	var lastErr error
	attempts := m.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		err := m.Store.ReserveNode(m.Hostname, node.ID)
		if err == nil {
			node.Reservation = m.Hostname
			return &Task{ctx: ctx, node: node, driverInst: d, hostname: m.Hostname, shared: false, store: m.Store}, nil
		}
		lastErr = err
		if !conductorerr.Is(err, conductorerr.NodeLocked) {
			return nil, err
		}
		if i < attempts-1 {
			m.wait()
		}
	}
	return nil, lastErr
}

func (m *Manager) wait() {
	if m.sleep != nil {
		m.sleep(m.RetryInterval)
		return
	}
	time.Sleep(m.RetryInterval)
}

// ProcessEvent advances t's node through the provisioning FSM for event,
// persists the new (provision_state, target_provision_state), and — if
// the transition names a callback and one is supplied — spawns it via
// SpawnAfter, running errHandler under (err, node, previous state,
// previous target) to roll the FSM back on spawn failure, per spec.md
// §4.D.
func (m *Manager) ProcessEvent(t *Task, pool Pool, event state.Event, callback func(*Task), errHandler func(err error, node *types.Node, prevState, prevTarget types.ProvisionState)) error {
	node := t.Node()
	prevState, prevTarget := node.ProvisionState, node.TargetProvisionState

	trans, err := state.Fire(prevState, event)
	if err != nil {
		return err
	}

	node.ProvisionState = trans.NextState
	node.TargetProvisionState = trans.NextTarget
	node.ProvisionUpdatedAt = time.Now()
	if event == state.EventError {
		// handled by caller setting LastError before calling ProcessEvent
	}
	if err := m.Store.SaveNode(node); err != nil {
		return err
	}

	if callback == nil || trans.Callback == state.CallbackNone {
		return nil
	}

	return t.SpawnAfter(pool, callback, func(spawnErr error, task *Task) {
		node.ProvisionState = prevState
		node.TargetProvisionState = prevTarget
		node.LastError = spawnErr.Error()
		if serr := m.Store.SaveNode(node); serr != nil && m.Log != nil {
			m.Log.Error("failed restoring provision state after spawn failure", "node", node.UUID, "error", serr)
		}
		if errHandler != nil {
			errHandler(spawnErr, node, prevState, prevTarget)
		}
	})
}

// Transition fires event against t's node in place and persists the
// result, without spawning anything. Use this from inside a callback
// that ProcessEvent already spawned — the task is already handed off to
// that goroutine, so a second SpawnAfter would race its own release
// against the one still in flight. The caller is responsible for running
// whatever the returned Transition.Callback names, inline, in the same
// goroutine.
func (m *Manager) Transition(t *Task, event state.Event) (state.Transition, error) {
	node := t.Node()
	trans, err := state.Fire(node.ProvisionState, event)
	if err != nil {
		return state.Transition{}, err
	}
	node.ProvisionState = trans.NextState
	node.TargetProvisionState = trans.NextTarget
	node.ProvisionUpdatedAt = time.Now()
	if err := m.Store.SaveNode(node); err != nil {
		return state.Transition{}, err
	}
	return trans, nil
}
