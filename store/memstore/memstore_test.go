// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package memstore

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	must.NoError(t, err)
	return s
}

func TestStore_ReserveNodeIsExclusive(t *testing.T) {
	s := newTestStore(t)
	n := &types.Node{UUID: "node-1", Driver: "ipmi", ProvisionState: types.StateAvailable}
	must.NoError(t, s.InsertNode(n))

	must.NoError(t, s.ReserveNode("conductor-a", n.ID))

	err := s.ReserveNode("conductor-b", n.ID)
	must.Error(t, err)
	must.Eq(t, conductorerr.NodeLocked, conductorerr.KindOf(err))
}

func TestStore_ReleaseNodeRefusesWrongOwner(t *testing.T) {
	s := newTestStore(t)
	n := &types.Node{UUID: "node-1", Driver: "ipmi"}
	must.NoError(t, s.InsertNode(n))
	must.NoError(t, s.ReserveNode("conductor-a", n.ID))

	err := s.ReleaseNode("conductor-b", n.ID)
	must.Error(t, err)
	must.Eq(t, conductorerr.NodeLocked, conductorerr.KindOf(err))

	must.NoError(t, s.ReleaseNode("conductor-a", n.ID))
	got, err := s.GetNode(n.ID)
	must.NoError(t, err)
	must.Eq(t, "", got.Reservation)
}

func TestStore_ReserveNodeNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.ReserveNode("conductor-a", 999)
	must.Error(t, err)
	must.Eq(t, conductorerr.NodeNotFound, conductorerr.KindOf(err))
}

func TestStore_ClearReservationsFor(t *testing.T) {
	s := newTestStore(t)
	a := &types.Node{UUID: "node-a"}
	b := &types.Node{UUID: "node-b"}
	must.NoError(t, s.InsertNode(a))
	must.NoError(t, s.InsertNode(b))
	must.NoError(t, s.ReserveNode("conductor-a", a.ID))
	must.NoError(t, s.ReserveNode("conductor-b", b.ID))

	must.NoError(t, s.ClearReservationsFor("conductor-a"))

	gotA, err := s.GetNode(a.ID)
	must.NoError(t, err)
	must.Eq(t, "", gotA.Reservation)

	gotB, err := s.GetNode(b.ID)
	must.NoError(t, err)
	must.Eq(t, "conductor-b", gotB.Reservation)
}

func TestStore_RegisterConductorRejectsDuplicateWithoutUpdate(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RegisterConductor("conductor-a", []string{"ipmi"}, true)
	must.NoError(t, err)

	_, err = s.RegisterConductor("conductor-a", []string{"ipmi"}, false)
	must.Error(t, err)
	must.Eq(t, conductorerr.ConductorAlreadyRegistered, conductorerr.KindOf(err))
}

func TestStore_TouchConductorUnknownErrors(t *testing.T) {
	s := newTestStore(t)
	err := s.TouchConductor("nope")
	must.Error(t, err)
	must.Eq(t, conductorerr.ConductorNotFound, conductorerr.KindOf(err))
}

func TestStore_GetNodeInfoListFiltersByProvisionState(t *testing.T) {
	s := newTestStore(t)
	must.NoError(t, s.InsertNode(&types.Node{UUID: "n1", ProvisionState: types.StateAvailable}))
	must.NoError(t, s.InsertNode(&types.Node{UUID: "n2", ProvisionState: types.StateActive}))

	infos, err := s.GetNodeInfoList(
		[]store.NodeColumn{store.ColumnUUID},
		store.NodeFilter{ProvisionState: types.StateActive},
		store.ColumnUUID, store.SortAsc)
	must.NoError(t, err)
	must.Len(t, 1, infos)
	must.Eq(t, "n2", infos[0].UUID)
}

func TestStore_SaveNodePortAssignsID(t *testing.T) {
	s := newTestStore(t)
	p := &types.Port{NodeID: 1, Address: "aa:bb:cc:dd:ee:ff"}
	must.NoError(t, s.SaveNodePort(p))
	must.NonZero(t, p.ID)

	got, err := s.GetPort(p.ID)
	must.NoError(t, err)
	must.Eq(t, "aa:bb:cc:dd:ee:ff", got.Address)
}
