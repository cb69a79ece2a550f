// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package ring

import (
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/metalconductor/conductor/types"
)

type fakeSource struct {
	conductors []types.Conductor
	err        error
}

func (f *fakeSource) ListConductors() ([]types.Conductor, error) { return f.conductors, f.err }

func TestManager_MappedToHostUnknownDriverIsFalseNotError(t *testing.T) {
	src := &fakeSource{}
	m := NewManager(src, time.Minute, 0)
	must.False(t, m.MappedToHost("conductor-a", "ipmi", "node-1"))
}

func TestManager_ExcludesStaleConductors(t *testing.T) {
	now := time.Now()
	src := &fakeSource{conductors: []types.Conductor{
		{Hostname: "fresh", Drivers: []string{"ipmi"}, UpdatedAt: now},
		{Hostname: "stale", Drivers: []string{"ipmi"}, UpdatedAt: now.Add(-time.Hour)},
	}}
	m := NewManager(src, time.Minute, 0)
	must.NoError(t, m.Reset())

	hosts, err := m.GetHosts("ipmi", "node-uuid")
	must.NoError(t, err)
	must.Len(t, 1, hosts)
	must.Eq(t, "fresh", hosts[0])
}

func TestManager_ResetOnLookupMiss(t *testing.T) {
	src := &fakeSource{conductors: []types.Conductor{
		{Hostname: "a", Drivers: []string{"irmc"}, UpdatedAt: time.Now()},
	}}
	m := NewManager(src, time.Minute, 0)

	// No explicit Reset() call: ring() lazily resets on first lookup.
	hosts, err := m.GetHosts("irmc", "node-uuid")
	must.NoError(t, err)
	must.Len(t, 1, hosts)
}

func TestManager_GetHostsUnknownDriverErrors(t *testing.T) {
	src := &fakeSource{}
	m := NewManager(src, time.Minute, 0)
	_, err := m.GetHosts("nonexistent", "node-uuid")
	must.Error(t, err)
}
