// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package ring

import (
	"sync"
	"time"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/types"
)

// DefaultReplicationFactor is how many conductors GetHosts returns per
// lookup: the head is the primary, the rest are standbys a future
// failover scheme could use.
const DefaultReplicationFactor = 3

// MembershipSource lists currently-registered conductors. store.Store
// satisfies this interface structurally; RingManager never imports
// package store, so the dependency runs one way only.
type MembershipSource interface {
	ListConductors() ([]types.Conductor, error)
}

// Manager answers "which conductor(s) own node N for driver D" by
// maintaining one Ring per driver name over that driver's live
// conductors. It is the sole authority spec.md §4.B describes; it never
// gates a write — the Store reservation (package task) remains the
// canonical arbiter.
type Manager struct {
	source          MembershipSource
	heartbeatTO     time.Duration
	replicas        int
	hostReplicas    int

	mu    sync.RWMutex
	rings map[string]*Ring // driver name -> ring
}

// NewManager builds a RingManager. heartbeatTimeout is the window within
// which a conductor's last heartbeat must fall to be considered live
// (spec.md §3 "Invariants": "H ∈ live_conductors (heartbeat within
// heartbeat_timeout)"). hostReplicas is the per-host virtual-node count
// passed to ring.New; 0 selects the package default.
func NewManager(source MembershipSource, heartbeatTimeout time.Duration, hostReplicas int) *Manager {
	return &Manager{
		source:       source,
		heartbeatTO:  heartbeatTimeout,
		replicas:     DefaultReplicationFactor,
		hostReplicas: hostReplicas,
		rings:        make(map[string]*Ring),
	}
}

// Reset rebuilds every per-driver ring from the current membership
// listing. Called at the top of sync_local_state and lazily on a lookup
// miss, per spec.md §4.B.
func (m *Manager) Reset() error {
	conductors, err := m.source.ListConductors()
	if err != nil {
		return err
	}
	now := time.Now()
	byDriver := make(map[string][]string)
	for _, c := range conductors {
		if m.heartbeatTO > 0 && now.Sub(c.UpdatedAt) > m.heartbeatTO {
			continue // not live
		}
		for _, d := range c.Drivers {
			byDriver[d] = append(byDriver[d], c.Hostname)
		}
	}

	next := make(map[string]*Ring, len(byDriver))
	for driverName, hosts := range byDriver {
		next[driverName] = New(hosts, m.hostReplicas)
	}

	m.mu.Lock()
	m.rings = next
	m.mu.Unlock()
	return nil
}

// ring returns the current ring for driverName, lazily resetting once if
// it is unknown (spec.md: "lazily on lookup miss").
func (m *Manager) ring(driverName string) (*Ring, error) {
	m.mu.RLock()
	r, ok := m.rings[driverName]
	m.mu.RUnlock()
	if ok {
		return r, nil
	}
	if err := m.Reset(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	r, ok = m.rings[driverName]
	m.mu.RUnlock()
	if !ok {
		return nil, conductorerr.New(conductorerr.DriverNotFound, "no live conductor advertises driver %q", driverName)
	}
	return r, nil
}

// GetHosts returns the ordered replica list of conductors owning
// nodeUUID for driverName, head first.
func (m *Manager) GetHosts(driverName, nodeUUID string) ([]string, error) {
	r, err := m.ring(driverName)
	if err != nil {
		return nil, err
	}
	return r.GetHosts(nodeUUID, m.replicas), nil
}

// MappedToHost reports whether host is among nodeUUID's owners for
// driverName. Unlike GetHosts, a missing ring (unknown driver) maps to
// "not mapped" rather than an error, matching manager.py's
// _mapped_to_this_conductor: "except exception.DriverNotFound: return
// False".
func (m *Manager) MappedToHost(host, driverName, nodeUUID string) bool {
	r, err := m.ring(driverName)
	if err != nil {
		return false
	}
	return r.Contains(host, nodeUUID, m.replicas)
}
