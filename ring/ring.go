// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package ring implements the consistent-hash ring spec.md §4.B
// describes: a per-driver, eventually-consistent mapping from a node's
// UUID to an ordered list of conductor hostnames. It is deliberately
// dependency-free and side-effect-free — membership discovery (the part
// that decides which hostnames are "live") is layered on top by
// RingManager in manager.go.
package ring

import (
	"crypto/sha1"
	"encoding/binary"
	"sort"
)

// defaultReplicas is the number of virtual nodes placed per host on the
// ring, smoothing distribution across a small conductor population.
const defaultReplicas = 40

// Ring is an immutable snapshot of a consistent-hash ring over a set of
// hosts. Build a new Ring and swap it atomically rather than mutating one
// in place; this makes concurrent GetHosts calls lock-free.
type Ring struct {
	replicas int
	hostOf   map[uint32]string
	sorted   []uint32
}

// New builds a Ring over hosts, giving each host `replicas` virtual nodes.
// A replicas value <= 0 uses defaultReplicas.
func New(hosts []string, replicas int) *Ring {
	if replicas <= 0 {
		replicas = defaultReplicas
	}
	r := &Ring{
		replicas: replicas,
		hostOf:   make(map[uint32]string, len(hosts)*replicas),
	}
	for _, h := range hosts {
		for i := 0; i < replicas; i++ {
			point := hashKey(virtualKey(h, i))
			r.hostOf[point] = h
		}
	}
	r.sorted = make([]uint32, 0, len(r.hostOf))
	for point := range r.hostOf {
		r.sorted = append(r.sorted, point)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i] < r.sorted[j] })
	return r
}

// Empty reports whether the ring has no hosts.
func (r *Ring) Empty() bool { return len(r.sorted) == 0 }

// GetHosts returns the ordered list of distinct hosts responsible for
// key, walking the ring clockwise from key's hash until n distinct hosts
// are found (or the ring is exhausted). The first entry is the primary.
func (r *Ring) GetHosts(key string, n int) []string {
	if r.Empty() || n <= 0 {
		return nil
	}
	start := hashKey(key)
	idx := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= start })

	seen := make(map[string]bool, n)
	out := make([]string, 0, n)
	for i := 0; i < len(r.sorted) && len(out) < n; i++ {
		point := r.sorted[(idx+i)%len(r.sorted)]
		host := r.hostOf[point]
		if seen[host] {
			continue
		}
		seen[host] = true
		out = append(out, host)
	}
	return out
}

// Contains reports whether host owns key as one of its top n replicas.
func (r *Ring) Contains(host, key string, n int) bool {
	for _, h := range r.GetHosts(key, n) {
		if h == host {
			return true
		}
	}
	return false
}

func virtualKey(host string, replica int) string {
	buf := make([]byte, 0, len(host)+4)
	buf = append(buf, host...)
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(replica))
	return string(append(buf, idx[:]...))
}

func hashKey(key string) uint32 {
	sum := sha1.Sum([]byte(key))
	return binary.BigEndian.Uint32(sum[:4])
}
