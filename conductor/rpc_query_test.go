// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor_test

import (
	"context"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/metalconductor/conductor/driver/drivertest"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/types"
)

func TestCore_ListNodesAppliesBexprFilterOnTopOfStorageFilter(t *testing.T) {
	fake := drivertest.New("fake")
	c, st := newTestCore(t, fake)

	must.NoError(t, st.InsertNode(&types.Node{UUID: "n1", Driver: "fake", ProvisionState: types.StateAvailable, ConductorAffinity: "conductor-a"}))
	must.NoError(t, st.InsertNode(&types.Node{UUID: "n2", Driver: "fake", ProvisionState: types.StateActive, ConductorAffinity: "conductor-a"}))
	must.NoError(t, st.InsertNode(&types.Node{UUID: "n3", Driver: "fake", ProvisionState: types.StateAvailable, ConductorAffinity: "conductor-b"}))

	nodes, err := c.ListNodes(context.Background(), store.NodeFilter{ProvisionState: types.StateAvailable}, `ConductorAffinity == "conductor-a"`)
	must.NoError(t, err)
	must.Len(t, 1, nodes)
	must.Eq(t, "n1", nodes[0].UUID)
}

func TestCore_ListNodesRejectsInvalidExpression(t *testing.T) {
	fake := drivertest.New("fake")
	c, _ := newTestCore(t, fake)

	_, err := c.ListNodes(context.Background(), store.NodeFilter{}, "this is not bexpr (((")
	must.Error(t, err)
}
