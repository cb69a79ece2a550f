// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor

import "time"

// The collaborators below are out of scope per spec.md §1: DHCP/Neutron,
// Glance, and Keystone integrations, and the notification transport, are
// referenced only by interface. ConductorCore holds whichever concrete
// implementation the deployment wires in; none is required to be
// non-nil except where a handler that needs it is actually called.

// NetworkProvider updates DHCP/Neutron-side port records. Only
// update_port depends on it, for the vif_port_id-triggered MAC update.
type NetworkProvider interface {
	UpdatePortAddress(vifPortID, newAddress string) error
}

// ImageSource resolves/streams deploy images (Glance-equivalent). No
// operation of Core calls it, and neither Core nor driver.Registry holds
// one; a driver.Factory that needs images captures its own.
type ImageSource interface {
	ResolveImage(ref string) (url string, err error)
}

// TokenSource vends auth tokens for admin-context calls (the original
// manager.py uses an admin context/token for Glance access during
// takeover). Core holds none: the periodic loops, including the take-over
// path in sync_local_state, do not call it.
type TokenSource interface {
	AdminToken() (string, error)
}

// SensorMessage is the notification envelope _send_sensor_data emits,
// per spec.md §4.H.
type SensorMessage struct {
	MessageID    string         `json:"message_id"`
	InstanceUUID string         `json:"instance_uuid"`
	NodeUUID     string         `json:"node_uuid"`
	Timestamp    time.Time      `json:"timestamp"`
	EventType    string         `json:"event_type"`
	Payload      map[string]map[string]string `json:"payload"`
}

// NotificationSink emits sensor and lifecycle notifications. The
// transport (AMQP, etc.) is out of scope; this is the narrow surface the
// conductor calls.
type NotificationSink interface {
	Notify(SensorMessage) error
}
