// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package sqlstore is a store.Store implementation on top of
// database/sql and github.com/mattn/go-sqlite3, demonstrating the
// reservation invariant as a real SQL compare-and-swap
// ("UPDATE ... WHERE reservation = ''") rather than an in-process
// transaction. Suitable for a single-conductor deployment or as the
// schema starting point for a real multi-writer backend (Postgres, per
// spec.md's "out of scope: the object-relational data layer").
package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/types"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT UNIQUE NOT NULL,
	driver TEXT NOT NULL,
	hostname TEXT,
	power_state TEXT,
	target_power_state TEXT,
	provision_state TEXT,
	target_provision_state TEXT,
	provision_updated_at INTEGER,
	maintenance INTEGER NOT NULL DEFAULT 0,
	maintenance_reason TEXT,
	reservation TEXT NOT NULL DEFAULT '',
	conductor_affinity TEXT,
	instance_uuid TEXT,
	instance_info TEXT,
	driver_info TEXT,
	extra TEXT,
	console_enabled INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);
CREATE TABLE IF NOT EXISTS ports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id INTEGER NOT NULL,
	address TEXT UNIQUE NOT NULL,
	extra TEXT
);
CREATE TABLE IF NOT EXISTS conductors (
	hostname TEXT PRIMARY KEY,
	drivers TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store is the sqlite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open creates/opens a sqlite database at dsn (e.g. "file:conductor.db"
// or ":memory:") and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// The reservation CAS below relies on a single writer connection at
	// a time; sqlite serializes writers anyway, but pin the pool so we
	// don't hand two goroutines two different cached prepared
	// connections mid-transaction.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) RegisterConductor(hostname string, drivers []string, updateExisting bool) (*types.Conductor, error) {
	now := time.Now()
	if updateExisting {
		_, err := s.db.Exec(`INSERT INTO conductors (hostname, drivers, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(hostname) DO UPDATE SET drivers=excluded.drivers, updated_at=excluded.updated_at`,
			hostname, strings.Join(drivers, ","), now.Unix())
		if err != nil {
			return nil, err
		}
	} else {
		_, err := s.db.Exec(`INSERT INTO conductors (hostname, drivers, updated_at) VALUES (?, ?, ?)`,
			hostname, strings.Join(drivers, ","), now.Unix())
		if err != nil {
			if isUniqueConstraint(err) {
				return nil, conductorerr.New(conductorerr.ConductorAlreadyRegistered, "conductor %q is already registered", hostname)
			}
			return nil, err
		}
	}
	return &types.Conductor{Hostname: hostname, Drivers: drivers, UpdatedAt: now}, nil
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) TouchConductor(hostname string) error {
	res, err := s.db.Exec(`UPDATE conductors SET updated_at = ? WHERE hostname = ?`, time.Now().Unix(), hostname)
	if err != nil {
		return conductorerr.Wrap(conductorerr.DBConnectionError, err, "touching conductor %q", hostname)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return conductorerr.New(conductorerr.ConductorNotFound, "conductor %q is not registered", hostname)
	}
	return nil
}

func (s *Store) UnregisterConductor(hostname string) error {
	_, err := s.db.Exec(`DELETE FROM conductors WHERE hostname = ?`, hostname)
	return err
}

func (s *Store) ClearReservationsFor(hostname string) error {
	_, err := s.db.Exec(`UPDATE nodes SET reservation = '' WHERE reservation = ?`, hostname)
	return err
}

func (s *Store) ListConductors() ([]types.Conductor, error) {
	rows, err := s.db.Query(`SELECT hostname, drivers, updated_at FROM conductors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Conductor
	for rows.Next() {
		var hostname, drivers string
		var updatedAt int64
		if err := rows.Scan(&hostname, &drivers, &updatedAt); err != nil {
			return nil, err
		}
		out = append(out, types.Conductor{
			Hostname:  hostname,
			Drivers:   splitNonEmpty(drivers),
			UpdatedAt: time.Unix(updatedAt, 0),
		})
	}
	return out, rows.Err()
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nodeFilterWhere(filter store.NodeFilter) (string, []any) {
	var where []string
	var args []any

	if filter.Reserved != nil {
		if *filter.Reserved {
			where = append(where, "reservation != ''")
		} else {
			where = append(where, "reservation = ''")
		}
	}
	if filter.Maintenance != nil {
		where = append(where, "maintenance = ?")
		args = append(args, boolToInt(*filter.Maintenance))
	}
	if filter.ProvisionState != "" {
		where = append(where, "provision_state = ?")
		args = append(args, string(filter.ProvisionState))
	}
	if filter.ProvisionedBeforeSeconds > 0 {
		cutoff := time.Now().Add(-time.Duration(filter.ProvisionedBeforeSeconds) * time.Second).Unix()
		where = append(where, "provision_updated_at < ?")
		args = append(args, cutoff)
	}
	if filter.Associated != nil {
		if *filter.Associated {
			where = append(where, "instance_uuid IS NOT NULL AND instance_uuid != ''")
		} else {
			where = append(where, "(instance_uuid IS NULL OR instance_uuid = '')")
		}
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (s *Store) GetNodeInfoList(columns []store.NodeColumn, filter store.NodeFilter, sortKey store.NodeColumn, sortDir store.SortDir) ([]store.NodeInfo, error) {
	whereClause, args := nodeFilterWhere(filter)
	query := `SELECT id, uuid, driver, conductor_affinity FROM nodes` + whereClause
	if sortKey != "" {
		query += fmt.Sprintf(" ORDER BY %s %s", sqlColumn(sortKey), sqlDir(sortDir))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.NodeInfo
	for rows.Next() {
		var info store.NodeInfo
		var affinity sql.NullString
		if err := rows.Scan(&info.ID, &info.UUID, &info.Driver, &affinity); err != nil {
			return nil, err
		}
		info.ConductorAffinity = affinity.String
		out = append(out, info)
	}
	return out, rows.Err()
}

func sqlColumn(c store.NodeColumn) string {
	switch c {
	case store.ColumnUUID:
		return "uuid"
	case store.ColumnDriver:
		return "driver"
	case store.ColumnConductorAffinity:
		return "conductor_affinity"
	default:
		return "provision_updated_at"
	}
}

func sqlDir(d store.SortDir) string {
	if d == store.SortDesc {
		return "DESC"
	}
	return "ASC"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ReserveNode performs the reservation CAS as a single UPDATE statement
// guarded by the current reservation value, so two conductors racing to
// lock the same node have exactly one succeed at the database layer.
func (s *Store) ReserveNode(hostname string, nodeID int64) error {
	res, err := s.db.Exec(`UPDATE nodes SET reservation = ? WHERE id = ? AND reservation = ''`, hostname, nodeID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}
	// Either the node doesn't exist, or it's already reserved. Disambiguate.
	var current string
	err = s.db.QueryRow(`SELECT reservation FROM nodes WHERE id = ?`, nodeID).Scan(&current)
	if err == sql.ErrNoRows {
		return conductorerr.New(conductorerr.NodeNotFound, "node %d not found", nodeID)
	}
	if err != nil {
		return err
	}
	return conductorerr.New(conductorerr.NodeLocked, "node %d is locked by conductor %q", nodeID, current)
}

func (s *Store) ReleaseNode(hostname string, nodeID int64) error {
	res, err := s.db.Exec(`UPDATE nodes SET reservation = '' WHERE id = ? AND reservation = ?`, nodeID, hostname)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}
	return conductorerr.New(conductorerr.NodeLocked, "node %d is not held by conductor %q", nodeID, hostname)
}

func (s *Store) GetNode(id int64) (*types.Node, error) {
	return s.scanNode(s.db.QueryRow(nodeSelect+` WHERE id = ?`, id))
}

func (s *Store) GetNodeByUUID(uuid string) (*types.Node, error) {
	return s.scanNode(s.db.QueryRow(nodeSelect+` WHERE uuid = ?`, uuid))
}

const nodeSelect = `SELECT id, uuid, driver, hostname, power_state, target_power_state,
	provision_state, target_provision_state, provision_updated_at, maintenance,
	maintenance_reason, reservation, conductor_affinity, instance_uuid,
	instance_info, driver_info, extra, console_enabled, last_error FROM nodes`

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting
// scanNodeFields back a single-row lookup and a multi-row list with the
// same field layout.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeFields(row rowScanner) (*types.Node, error) {
	var n types.Node
	var provisionUpdatedAt int64
	var maintenance, consoleEnabled int
	var instanceInfoJSON, driverInfoJSON, extraJSON sql.NullString

	err := row.Scan(&n.ID, &n.UUID, &n.Driver, &n.Hostname, &n.PowerState, &n.TargetPowerState,
		&n.ProvisionState, &n.TargetProvisionState, &provisionUpdatedAt, &maintenance,
		&n.MaintenanceReason, &n.Reservation, &n.ConductorAffinity, &n.InstanceUUID,
		&instanceInfoJSON, &driverInfoJSON, &extraJSON, &consoleEnabled, &n.LastError)
	if err == sql.ErrNoRows {
		return nil, conductorerr.New(conductorerr.NodeNotFound, "node not found")
	}
	if err != nil {
		return nil, err
	}
	n.ProvisionUpdatedAt = time.Unix(provisionUpdatedAt, 0)
	n.Maintenance = maintenance != 0
	n.ConsoleEnabled = consoleEnabled != 0
	n.InstanceInfo = decodeJSONMap(instanceInfoJSON)
	n.DriverInfo = decodeJSONMap(driverInfoJSON)
	n.Extra = decodeJSONMap(extraJSON)
	return &n, nil
}

func (s *Store) scanNode(row *sql.Row) (*types.Node, error) {
	return scanNodeFields(row)
}

// ListNodes returns full Node records matching filter, unsorted.
func (s *Store) ListNodes(filter store.NodeFilter) ([]*types.Node, error) {
	whereClause, args := nodeFilterWhere(filter)
	rows, err := s.db.Query(nodeSelect+whereClause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Node
	for rows.Next() {
		n, err := scanNodeFields(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func decodeJSONMap(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}

func encodeJSONMap(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) SaveNode(n *types.Node) error {
	instanceInfo, err := encodeJSONMap(n.InstanceInfo)
	if err != nil {
		return err
	}
	driverInfo, err := encodeJSONMap(n.DriverInfo)
	if err != nil {
		return err
	}
	extra, err := encodeJSONMap(n.Extra)
	if err != nil {
		return err
	}

	if n.ID == 0 {
		res, err := s.db.Exec(`INSERT INTO nodes (uuid, driver, hostname, power_state, target_power_state,
			provision_state, target_provision_state, provision_updated_at, maintenance, maintenance_reason,
			reservation, conductor_affinity, instance_uuid, instance_info, driver_info, extra, console_enabled, last_error)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			n.UUID, n.Driver, n.Hostname, n.PowerState, n.TargetPowerState, n.ProvisionState,
			n.TargetProvisionState, n.ProvisionUpdatedAt.Unix(), boolToInt(n.Maintenance), n.MaintenanceReason,
			n.Reservation, n.ConductorAffinity, n.InstanceUUID, instanceInfo, driverInfo, extra,
			boolToInt(n.ConsoleEnabled), n.LastError)
		if err != nil {
			return err
		}
		n.ID, err = res.LastInsertId()
		return err
	}

	_, err = s.db.Exec(`UPDATE nodes SET uuid=?, driver=?, hostname=?, power_state=?, target_power_state=?,
		provision_state=?, target_provision_state=?, provision_updated_at=?, maintenance=?, maintenance_reason=?,
		reservation=?, conductor_affinity=?, instance_uuid=?, instance_info=?, driver_info=?, extra=?,
		console_enabled=?, last_error=? WHERE id=?`,
		n.UUID, n.Driver, n.Hostname, n.PowerState, n.TargetPowerState, n.ProvisionState,
		n.TargetProvisionState, n.ProvisionUpdatedAt.Unix(), boolToInt(n.Maintenance), n.MaintenanceReason,
		n.Reservation, n.ConductorAffinity, n.InstanceUUID, instanceInfo, driverInfo, extra,
		boolToInt(n.ConsoleEnabled), n.LastError, n.ID)
	return err
}

func (s *Store) DestroyNode(id int64) error {
	_, err := s.db.Exec(`DELETE FROM nodes WHERE id = ?`, id)
	return err
}

func (s *Store) GetPort(id int64) (*types.Port, error) {
	var p types.Port
	var extraJSON sql.NullString
	err := s.db.QueryRow(`SELECT id, node_id, address, extra FROM ports WHERE id = ?`, id).
		Scan(&p.ID, &p.NodeID, &p.Address, &extraJSON)
	if err == sql.ErrNoRows {
		return nil, conductorerr.New(conductorerr.NodeNotFound, "port %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	p.Extra = decodeJSONMap(extraJSON)
	return &p, nil
}

func (s *Store) SaveNodePort(p *types.Port) error {
	extra, err := encodeJSONMap(p.Extra)
	if err != nil {
		return err
	}
	if p.ID == 0 {
		res, err := s.db.Exec(`INSERT INTO ports (node_id, address, extra) VALUES (?,?,?)`, p.NodeID, p.Address, extra)
		if err != nil {
			if isUniqueConstraint(err) {
				return conductorerr.New(conductorerr.MACAlreadyExists, "port with address %q already exists", p.Address)
			}
			return err
		}
		p.ID, err = res.LastInsertId()
		return err
	}
	_, err = s.db.Exec(`UPDATE ports SET node_id=?, address=?, extra=? WHERE id=?`, p.NodeID, p.Address, extra, p.ID)
	return err
}
