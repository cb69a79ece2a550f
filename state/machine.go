// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package state is the provisioning state machine spec.md §4.F
// describes: a standalone, dependency-free table of (state, event) ->
// (next state, next target, callback name) so the transition table is
// testable in isolation from locking, driver calls, or the worker pool.
// The conductor package invokes the named callback under the
// already-held task lock; this package only decides what the callback's
// name is.
package state

import (
	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/types"
)

// Event is one of the events the conductor fires against a node's
// provision_state.
type Event string

const (
	EventDeploy  Event = "deploy"
	EventRebuild Event = "rebuild"
	EventWait    Event = "wait"
	EventDone    Event = "done"
	EventFail    Event = "fail"
	EventError   Event = "error"
	EventDelete  Event = "delete"
)

// Callback names the async work a transition triggers. The conductor
// package maps these to concrete functions; this package only threads
// the name through so the table stays free of behavior.
type Callback string

const (
	CallbackNone              Callback = ""
	CallbackDoNodeDeploy      Callback = "do_node_deploy"
	CallbackDoNodeTearDown    Callback = "do_node_tear_down"
	CallbackCleanupAfterTimeout Callback = "cleanup_after_timeout"
)

// Transition is the result of firing an event against a state.
type Transition struct {
	NextState  types.ProvisionState
	NextTarget types.ProvisionState
	Callback   Callback
}

type key struct {
	state types.ProvisionState
	event Event
}

// table is the full transition table. Reconstructed (per SPEC_FULL.md
// §4.F) from how original_source/ironic/conductor/manager.py drives
// ironic.common.states: the manager only ever fires deploy, rebuild,
// wait, done, fail, error, and delete, and only ever observes
// AVAILABLE/DEPLOYING/DEPLOYWAIT/ACTIVE/DEPLOYFAIL/DELETING/ERROR as
// node.provision_state. The source's own states module (not retrieved
// into this pack) would be authoritative if available; absent that,
// this table implements exactly spec.md §4.F's table plus the obvious
// completions (DELETING/delete-driven paths, ERROR's universal event).
var table = map[key]Transition{
	{types.StateAvailable, EventDeploy}:  {types.StateDeploying, types.StateActive, CallbackDoNodeDeploy},
	{types.StateActive, EventRebuild}:     {types.StateDeploying, types.StateActive, CallbackDoNodeDeploy},
	{types.StateDeployFail, EventRebuild}: {types.StateDeploying, types.StateActive, CallbackDoNodeDeploy},

	{types.StateDeploying, EventWait}: {types.StateDeployWait, types.StateActive, CallbackNone},
	{types.StateDeployWait, EventDone}: {types.StateActive, types.StateNone, CallbackNone},
	{types.StateDeploying, EventDone}: {types.StateActive, types.StateNone, CallbackNone},

	{types.StateDeployWait, EventFail}: {types.StateDeployFail, types.StateNone, CallbackCleanupAfterTimeout},
	{types.StateDeploying, EventFail}:  {types.StateDeployFail, types.StateNone, CallbackCleanupAfterTimeout},

	{types.StateActive, EventDelete}:     {types.StateDeleting, types.StateNone, CallbackDoNodeTearDown},
	{types.StateDeployFail, EventDelete}: {types.StateDeleting, types.StateNone, CallbackDoNodeTearDown},
	{types.StateAvailable, EventDelete}:  {types.StateDeleting, types.StateNone, CallbackDoNodeTearDown},

	{types.StateDeleting, EventDone}: {types.StateAvailable, types.StateNone, CallbackNone},
}

// Fire looks up the transition for (current, event). The "error" event is
// universal: it applies from any state and always returns to the same
// state with target cleared, per spec.md §4.F's "any | error | (self,
// NONE)". Every other (state, event) pair not in the table is
// InvalidState.
func Fire(current types.ProvisionState, event Event) (Transition, error) {
	if event == EventError {
		return Transition{NextState: current, NextTarget: types.StateNone}, nil
	}
	t, ok := table[key{current, event}]
	if !ok {
		return Transition{}, conductorerr.New(conductorerr.InvalidState,
			"event %q is not valid from provision_state %q", event, current)
	}
	return t, nil
}
