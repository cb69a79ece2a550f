// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package task

import (
	"context"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/driver/drivertest"
	"github.com/metalconductor/conductor/state"
	"github.com/metalconductor/conductor/store/memstore"
	"github.com/metalconductor/conductor/types"
)

func newTestManager(t *testing.T) (*Manager, *memstore.Store, *types.Node) {
	t.Helper()
	st, err := memstore.New()
	must.NoError(t, err)

	fake := drivertest.New("fake")
	reg, err := driver.NewRegistry(map[string]driver.Factory{
		"fake": func() (driver.Driver, error) { return fake, nil },
	})
	must.NoError(t, err)

	n := &types.Node{UUID: "node-1", Driver: "fake", ProvisionState: types.StateAvailable}
	must.NoError(t, st.InsertNode(n))

	m := NewManager("conductor-a", st, reg, hclog.NewNullLogger())
	m.RetryInterval = 0
	return m, st, n
}

func TestManager_AcquireExclusiveTakesReservation(t *testing.T) {
	m, st, n := newTestManager(t)
	tk, err := m.AcquireByUUID(context.Background(), n.UUID, false, "")
	must.NoError(t, err)
	defer tk.Release()

	got, err := st.GetNode(n.ID)
	must.NoError(t, err)
	must.Eq(t, "conductor-a", got.Reservation)
}

func TestManager_AcquireSharedTakesNoReservation(t *testing.T) {
	m, st, n := newTestManager(t)
	tk, err := m.AcquireByUUID(context.Background(), n.UUID, true, "")
	must.NoError(t, err)
	defer tk.Release()

	got, err := st.GetNode(n.ID)
	must.NoError(t, err)
	must.Eq(t, "", got.Reservation)
}

func TestManager_AcquireRetriesThenFailsWithNodeLocked(t *testing.T) {
	m, _, n := newTestManager(t)
	m.RetryAttempts = 2
	holder, err := m.AcquireByUUID(context.Background(), n.UUID, false, "")
	must.NoError(t, err)
	defer holder.Release()

	_, err = m.AcquireByUUID(context.Background(), n.UUID, false, "")
	must.Error(t, err)
	must.Eq(t, conductorerr.NodeLocked, conductorerr.KindOf(err))
}

func TestManager_ReleaseUnlocksNode(t *testing.T) {
	m, st, n := newTestManager(t)
	tk, err := m.AcquireByUUID(context.Background(), n.UUID, false, "")
	must.NoError(t, err)
	must.NoError(t, tk.Release())

	got, err := st.GetNode(n.ID)
	must.NoError(t, err)
	must.Eq(t, "", got.Reservation)
}

type countingPool struct {
	spawned int
	reject  bool
}

func (p *countingPool) Spawn(fn func()) error {
	if p.reject {
		return conductorerr.New(conductorerr.NoFreeConductorWorker, "pool saturated")
	}
	p.spawned++
	fn()
	return nil
}

func TestManager_ProcessEventSpawnsCallbackAndReleasesAfter(t *testing.T) {
	m, st, n := newTestManager(t)
	tk, err := m.AcquireByUUID(context.Background(), n.UUID, false, "")
	must.NoError(t, err)

	pool := &countingPool{}
	ran := make(chan struct{})
	err = m.ProcessEvent(tk, pool, state.EventDeploy, func(tt *Task) {
		close(ran)
	}, nil)
	must.NoError(t, err)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
	must.Eq(t, 1, pool.spawned)

	got, err := st.GetNode(n.ID)
	must.NoError(t, err)
	must.Eq(t, types.StateDeploying, got.ProvisionState)
	must.Eq(t, "", got.Reservation) // released by the pool-run callback's forceRelease
}

func TestManager_ProcessEventRollsBackOnSpawnRejection(t *testing.T) {
	m, st, n := newTestManager(t)
	tk, err := m.AcquireByUUID(context.Background(), n.UUID, false, "")
	must.NoError(t, err)
	defer tk.Release()

	pool := &countingPool{reject: true}
	var gotErr error
	err = m.ProcessEvent(tk, pool, state.EventDeploy, func(tt *Task) {}, func(e error, node *types.Node, prevState, prevTarget types.ProvisionState) {
		gotErr = e
	})
	must.Error(t, err)
	must.NotNil(t, gotErr)

	got, err := st.GetNode(n.ID)
	must.NoError(t, err)
	must.Eq(t, types.StateAvailable, got.ProvisionState)
	must.Eq(t, "conductor-a", got.Reservation) // still held by tk, not yet released
}
