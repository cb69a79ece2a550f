// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package conductorerr defines the closed set of error kinds the conductor
// control plane signals, following the teacher's convention of a small,
// checkable set of sentinel kinds rather than a deep type hierarchy. RPC
// handlers do not declare which kinds they may return: the transport
// layer returns every handler error to the caller with its Kind (empty
// for an error that is not a conductorerr.Error) and its message.
package conductorerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error conditions spec.md §7 enumerates.
type Kind string

const (
	DriverNotFound             Kind = "DriverNotFound"
	NoDriversLoaded            Kind = "NoDriversLoaded"
	NodeNotFound               Kind = "NodeNotFound"
	NodeLocked                 Kind = "NodeLocked"
	NodeAssociated             Kind = "NodeAssociated"
	NodeInMaintenance          Kind = "NodeInMaintenance"
	NodeInWrongPowerState      Kind = "NodeInWrongPowerState"
	NodeConsoleNotEnabled      Kind = "NodeConsoleNotEnabled"
	InvalidParameterValue      Kind = "InvalidParameterValue"
	MissingParameterValue      Kind = "MissingParameterValue"
	UnsupportedDriverExtension Kind = "UnsupportedDriverExtension"
	NoFreeConductorWorker      Kind = "NoFreeConductorWorker"
	InvalidState               Kind = "InvalidState"
	InstanceDeployFailure      Kind = "InstanceDeployFailure"
	FailedToUpdateMacOnPort    Kind = "FailedToUpdateMacOnPort"
	MACAlreadyExists           Kind = "MACAlreadyExists"
	FailedToParseSensorData    Kind = "FailedToParseSensorData"
	FailedToGetSensorData      Kind = "FailedToGetSensorData"
	PowerStateFailure          Kind = "PowerStateFailure"
	DBConnectionError          Kind = "DBConnectionError"
	ConductorAlreadyRegistered Kind = "ConductorAlreadyRegistered"
	ConductorNotFound          Kind = "ConductorNotFound"
)

// Error is the concrete error type every conductor component returns for
// an expected failure condition.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that carries cause as the
// result of errors.Unwrap, preserving errors.Is/As chains to the
// underlying driver or store failure.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
