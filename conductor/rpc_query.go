// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import (
	"context"

	"github.com/hashicorp/go-bexpr"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/types"
)

// ListNodes returns nodes matching the cheap storage-level filter and, if
// expr is non-empty, a bexpr expression evaluated against the full Node —
// the same "-filter EXPR" vocabulary command-line fleet tools give
// operators on top of a narrower structured filter.
func (c *Core) ListNodes(ctx context.Context, filter store.NodeFilter, expr string) ([]*types.Node, error) {
	nodes, err := c.Store.ListNodes(filter)
	if err != nil {
		return nil, err
	}
	if expr == "" {
		return nodes, nil
	}

	eval, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, conductorerr.Wrap(conductorerr.InvalidParameterValue, err, "invalid filter expression %q", expr)
	}

	out := make([]*types.Node, 0, len(nodes))
	for _, n := range nodes {
		match, err := eval.Evaluate(n)
		if err != nil {
			return nil, conductorerr.Wrap(conductorerr.InvalidParameterValue, err, "evaluating filter expression %q", expr)
		}
		if match {
			out = append(out, n)
		}
	}
	return out, nil
}
