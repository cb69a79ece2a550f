// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package memstore is a reference store.Store implementation backed by
// github.com/hashicorp/go-memdb, giving the reservation compare-and-swap
// and the node listing filters real snapshot-isolated transactions
// instead of a hand-rolled mutex-guarded map. It is what the conductor's
// own tests run against, and is suitable for a single-process
// deployment.
package memstore

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/types"
)

const (
	tableNodes      = "nodes"
	tablePorts      = "ports"
	tableConductors = "conductors"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableNodes: {
				Name: tableNodes,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"uuid": {Name: "uuid", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "UUID"}},
				},
			},
			tablePorts: {
				Name: tablePorts,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
				},
			},
			tableConductors: {
				Name: tableConductors,
				Indexes: map[string]*memdb.IndexSchema{
					"hostname": {Name: "hostname", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Hostname"}},
				},
			},
		},
	}
}

// Store is the memdb-backed store.Store.
type Store struct {
	db      *memdb.MemDB
	nextID  int64
	nextPID int64
}

// New constructs an empty in-memory Store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("building memdb schema: %w", err)
	}
	return &Store{db: db}, nil
}

// InsertNode seeds a node directly, bypassing the reservation/FSM rules —
// for test setup and initial fleet import only.
func (s *Store) InsertNode(n *types.Node) error {
	if n.ID == 0 {
		s.nextID++
		n.ID = s.nextID
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableNodes, n.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) RegisterConductor(hostname string, drivers []string, updateExisting bool) (*types.Conductor, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableConductors, "hostname", hostname)
	if err != nil {
		return nil, err
	}
	if existing != nil && !updateExisting {
		return nil, conductorerr.New(conductorerr.ConductorAlreadyRegistered, "conductor %q is already registered", hostname)
	}

	rec := &types.Conductor{Hostname: hostname, Drivers: append([]string(nil), drivers...), UpdatedAt: time.Now()}
	if err := txn.Insert(tableConductors, rec); err != nil {
		return nil, err
	}
	txn.Commit()
	out := *rec
	return &out, nil
}

func (s *Store) TouchConductor(hostname string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableConductors, "hostname", hostname)
	if err != nil {
		return err
	}
	if raw == nil {
		return conductorerr.New(conductorerr.ConductorNotFound, "conductor %q is not registered", hostname)
	}
	rec := *raw.(*types.Conductor)
	rec.UpdatedAt = time.Now()
	if err := txn.Insert(tableConductors, &rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) UnregisterConductor(hostname string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(tableConductors, "hostname", hostname); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) ClearReservationsFor(hostname string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tableNodes, "id")
	if err != nil {
		return err
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		n := raw.(*types.Node)
		if n.Reservation != hostname {
			continue
		}
		cp := n.Clone()
		cp.Reservation = ""
		if err := txn.Insert(tableNodes, cp); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

func (s *Store) ListConductors() ([]types.Conductor, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableConductors, "hostname")
	if err != nil {
		return nil, err
	}
	var out []types.Conductor
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*types.Conductor))
	}
	return out, nil
}

func matches(n *types.Node, f store.NodeFilter) bool {
	if f.Reserved != nil {
		isReserved := n.Reservation != ""
		if isReserved != *f.Reserved {
			return false
		}
	}
	if f.Maintenance != nil && n.Maintenance != *f.Maintenance {
		return false
	}
	if f.ProvisionState != "" && n.ProvisionState != f.ProvisionState {
		return false
	}
	if f.ProvisionedBeforeSeconds > 0 {
		cutoff := time.Now().Add(-time.Duration(f.ProvisionedBeforeSeconds) * time.Second)
		if !n.ProvisionUpdatedAt.Before(cutoff) {
			return false
		}
	}
	if f.Associated != nil && n.Associated() != *f.Associated {
		return false
	}
	return true
}

func (s *Store) GetNodeInfoList(columns []store.NodeColumn, filter store.NodeFilter, sortKey store.NodeColumn, sortDir store.SortDir) ([]store.NodeInfo, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableNodes, "id")
	if err != nil {
		return nil, err
	}
	var nodes []*types.Node
	for raw := it.Next(); raw != nil; raw = it.Next() {
		n := raw.(*types.Node)
		if matches(n, filter) {
			nodes = append(nodes, n)
		}
	}

	if sortKey != "" {
		sort.Slice(nodes, func(i, j int) bool {
			less := sortLess(nodes[i], nodes[j], sortKey)
			if sortDir == store.SortDesc {
				return !less
			}
			return less
		})
	}

	out := make([]store.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, store.NodeInfo{
			ID:                n.ID,
			UUID:              n.UUID,
			Driver:            n.Driver,
			ConductorAffinity: n.ConductorAffinity,
		})
	}
	return out, nil
}

// ListNodes returns full, cloned Node records matching filter, unsorted.
func (s *Store) ListNodes(filter store.NodeFilter) ([]*types.Node, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableNodes, "id")
	if err != nil {
		return nil, err
	}
	var out []*types.Node
	for raw := it.Next(); raw != nil; raw = it.Next() {
		n := raw.(*types.Node)
		if matches(n, filter) {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func sortLess(a, b *types.Node, key store.NodeColumn) bool {
	switch key {
	case store.ColumnUUID:
		return a.UUID < b.UUID
	case store.ColumnDriver:
		return a.Driver < b.Driver
	case store.ColumnConductorAffinity:
		return a.ConductorAffinity < b.ConductorAffinity
	default:
		if !a.ProvisionUpdatedAt.Equal(b.ProvisionUpdatedAt) {
			return a.ProvisionUpdatedAt.Before(b.ProvisionUpdatedAt)
		}
		return a.ID < b.ID
	}
}

// ReserveNode atomically sets reservation iff currently empty, the
// compare-and-swap spec.md §3's single-writer invariant depends on.
func (s *Store) ReserveNode(hostname string, nodeID int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableNodes, "id", nodeID)
	if err != nil {
		return err
	}
	if raw == nil {
		return conductorerr.New(conductorerr.NodeNotFound, "node %d not found", nodeID)
	}
	n := raw.(*types.Node)
	if n.Reservation != "" {
		return conductorerr.New(conductorerr.NodeLocked, "node %d is locked by conductor %q", nodeID, n.Reservation)
	}
	cp := n.Clone()
	cp.Reservation = hostname
	if err := txn.Insert(tableNodes, cp); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) ReleaseNode(hostname string, nodeID int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableNodes, "id", nodeID)
	if err != nil {
		return err
	}
	if raw == nil {
		return conductorerr.New(conductorerr.NodeNotFound, "node %d not found", nodeID)
	}
	n := raw.(*types.Node)
	if n.Reservation != "" && n.Reservation != hostname {
		// Releasing a lock we don't hold is a programming error upstream,
		// not a recoverable condition; still, don't clobber someone else's lock.
		return conductorerr.New(conductorerr.NodeLocked, "node %d is locked by conductor %q, not %q", nodeID, n.Reservation, hostname)
	}
	cp := n.Clone()
	cp.Reservation = ""
	if err := txn.Insert(tableNodes, cp); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) GetNode(id int64) (*types.Node, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(tableNodes, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, conductorerr.New(conductorerr.NodeNotFound, "node %d not found", id)
	}
	return raw.(*types.Node).Clone(), nil
}

func (s *Store) GetNodeByUUID(uuid string) (*types.Node, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(tableNodes, "uuid", uuid)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, conductorerr.New(conductorerr.NodeNotFound, "node %q not found", uuid)
	}
	return raw.(*types.Node).Clone(), nil
}

func (s *Store) SaveNode(n *types.Node) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableNodes, n.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) DestroyNode(id int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(tableNodes, "id", id); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) GetPort(id int64) (*types.Port, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(tablePorts, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, conductorerr.New(conductorerr.NodeNotFound, "port %d not found", id)
	}
	p := *raw.(*types.Port)
	return &p, nil
}

func (s *Store) SaveNodePort(p *types.Port) error {
	if p.ID == 0 {
		s.nextPID++
		p.ID = s.nextPID
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	cp := *p
	if err := txn.Insert(tablePorts, &cp); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
