// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package driver

import (
	"errors"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/metalconductor/conductor/conductorerr"
)

func TestNewRegistry_EmptyFactoriesIsNoDriversLoaded(t *testing.T) {
	_, err := NewRegistry(nil)
	must.Error(t, err)
	must.Eq(t, conductorerr.NoDriversLoaded, conductorerr.KindOf(err))
}

func TestNewRegistry_AggregatesAllFactoryErrors(t *testing.T) {
	_, err := NewRegistry(map[string]Factory{
		"bad-a": func() (Driver, error) { return nil, errors.New("boom-a") },
		"bad-b": func() (Driver, error) { return nil, errors.New("boom-b") },
	})
	must.Error(t, err)
	must.StrContains(t, err.Error(), "boom-a")
	must.StrContains(t, err.Error(), "boom-b")
}

func TestNewRegistry_GetAndNames(t *testing.T) {
	reg, err := NewRegistry(map[string]Factory{
		"ipmi": func() (Driver, error) { return fakeDriver{}, nil },
		"redfish": func() (Driver, error) { return fakeDriver{}, nil },
	})
	must.NoError(t, err)
	must.Eq(t, []string{"ipmi", "redfish"}, reg.Names())

	_, err = reg.Get("ipmi")
	must.NoError(t, err)

	_, err = reg.Get("nope")
	must.Error(t, err)
	must.Eq(t, conductorerr.DriverNotFound, conductorerr.KindOf(err))
}

type fakeDriver struct{}

func (fakeDriver) Name() string                            { return "fake" }
func (fakeDriver) Power() (PowerInterface, bool)           { return nil, false }
func (fakeDriver) Deploy() (DeployInterface, bool)         { return nil, false }
func (fakeDriver) Management() (ManagementInterface, bool) { return nil, false }
func (fakeDriver) Console() (ConsoleInterface, bool)       { return nil, false }
func (fakeDriver) Vendor() (VendorInterface, bool)         { return nil, false }
func (fakeDriver) CoreInterfaces() []string                { return nil }
func (fakeDriver) StandardInterfaces() []string             { return nil }
func (fakeDriver) Properties() map[string]string            { return nil }
