// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package store defines the persistence boundary the conductor consumes
// (spec.md §4.C). The ORM/database is out of scope; this package only
// pins down the operations and filter shape every concrete backend
// (store/memstore, store/sqlstore, or a real ORM binding) must provide.
package store

import "github.com/metalconductor/conductor/types"

// NodeColumn names one projectable Node field for GetNodeInfoList, so
// callers can ask for a cheap narrow projection instead of whole rows
// (spec.md §4.C: "projected lazy sequence").
type NodeColumn string

const (
	ColumnID                NodeColumn = "id"
	ColumnUUID              NodeColumn = "uuid"
	ColumnDriver            NodeColumn = "driver"
	ColumnConductorAffinity NodeColumn = "conductor_affinity"
)

// SortDir is the sort direction for GetNodeInfoList.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// NodeFilter selects a subset of nodes. A nil/zero field means "no
// constraint on this dimension." This is the exact filter vocabulary
// spec.md §4.C names: reserved, maintenance, provision_state,
// provisioned_before, associated.
type NodeFilter struct {
	Reserved                 *bool
	Maintenance              *bool
	ProvisionState           types.ProvisionState
	ProvisionedBeforeSeconds int // 0 means unset
	Associated               *bool
}

// NodeInfo is one projected row from GetNodeInfoList. Only the columns
// requested are guaranteed populated; the rest are zero values.
type NodeInfo struct {
	ID                int64
	UUID              string
	Driver            string
	ConductorAffinity string
}

// Store is everything the conductor core needs from the persistence
// layer. Implementations must make ReserveNode an atomic
// compare-and-swap: at most one caller may transition reservation from
// empty to non-empty for a given node id (spec.md §3 invariants).
//
// ListConductors returns []types.Conductor directly (rather than a
// store-local shape) so that a Store satisfies ring.MembershipSource
// structurally with no adapter layer.
type Store interface {
	RegisterConductor(hostname string, drivers []string, updateExisting bool) (*types.Conductor, error)
	TouchConductor(hostname string) error
	UnregisterConductor(hostname string) error
	ClearReservationsFor(hostname string) error
	ListConductors() ([]types.Conductor, error)

	GetNodeInfoList(columns []NodeColumn, filter NodeFilter, sortKey NodeColumn, sortDir SortDir) ([]NodeInfo, error)

	// ListNodes is GetNodeInfoList's unprojected counterpart: it returns
	// full Node records matching filter, for callers (conductor.ListNodes)
	// that need to evaluate a richer expression over fields GetNodeInfoList
	// doesn't project.
	ListNodes(filter NodeFilter) ([]*types.Node, error)

	ReserveNode(hostname string, nodeID int64) error
	ReleaseNode(hostname string, nodeID int64) error

	GetNode(id int64) (*types.Node, error)
	GetNodeByUUID(uuid string) (*types.Node, error)
	SaveNode(n *types.Node) error
	DestroyNode(id int64) error

	GetPort(id int64) (*types.Port, error)
	SaveNodePort(p *types.Port) error
}
