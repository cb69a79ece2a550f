// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package ring

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestRing_EmptyHasNoHosts(t *testing.T) {
	r := New(nil, 0)
	must.True(t, r.Empty())
	must.Nil(t, r.GetHosts("node-1", 3))
}

func TestRing_GetHostsIsDeterministic(t *testing.T) {
	r := New([]string{"conductor-a", "conductor-b", "conductor-c"}, 0)

	first := r.GetHosts("node-uuid-1", 2)
	second := r.GetHosts("node-uuid-1", 2)
	must.Eq(t, first, second)
	must.Len(t, 2, first)
}

func TestRing_GetHostsReturnsDistinctHosts(t *testing.T) {
	r := New([]string{"conductor-a", "conductor-b", "conductor-c"}, 0)
	hosts := r.GetHosts("node-uuid-2", 3)
	must.Len(t, 3, hosts)

	seen := make(map[string]bool)
	for _, h := range hosts {
		must.False(t, seen[h])
		seen[h] = true
	}
}

func TestRing_ContainsMatchesGetHosts(t *testing.T) {
	r := New([]string{"conductor-a", "conductor-b", "conductor-c"}, 0)
	hosts := r.GetHosts("node-uuid-3", 2)
	must.True(t, r.Contains(hosts[0], "node-uuid-3", 2))
	must.False(t, r.Contains("conductor-nowhere", "node-uuid-3", 2))
}

func TestRing_ResultsSpreadAcrossManyKeys(t *testing.T) {
	r := New([]string{"conductor-a", "conductor-b", "conductor-c"}, 0)
	counts := map[string]int{}
	for i := 0; i < 300; i++ {
		hosts := r.GetHosts(keyFor(i), 1)
		must.Len(t, 1, hosts)
		counts[hosts[0]]++
	}
	// Every host should have picked up a meaningful share; this is a
	// smoke test against one host pathologically owning everything, not
	// an exact-distribution assertion.
	for _, h := range []string{"conductor-a", "conductor-b", "conductor-c"} {
		must.Positive(t, counts[h])
	}
}

func keyFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := []byte{letters[i%len(letters)], letters[(i/len(letters))%len(letters)], 'x'}
	return string(b) + string(rune('A'+i%26))
}
