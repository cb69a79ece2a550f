// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package conductor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"
	"github.com/shoenig/test/wait"

	"github.com/metalconductor/conductor/conductor"
	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/driver"
	"github.com/metalconductor/conductor/driver/drivertest"
	"github.com/metalconductor/conductor/internal/config"
	"github.com/metalconductor/conductor/internal/telemetry"
	"github.com/metalconductor/conductor/store/memstore"
	"github.com/metalconductor/conductor/types"
	"github.com/metalconductor/conductor/worker"
)

func newTestCore(t *testing.T, fake *drivertest.Fake) (*conductor.Core, *memstore.Store) {
	t.Helper()
	st, err := memstore.New()
	must.NoError(t, err)

	reg, err := driver.NewRegistry(map[string]driver.Factory{
		"fake": func() (driver.Driver, error) { return fake, nil },
	})
	must.NoError(t, err)

	cfg := config.Default()
	c, err := conductor.New("conductor-a", cfg, st, reg, hclog.NewNullLogger(), telemetry.NewMetrics("test"))
	must.NoError(t, err)
	must.NoError(t, c.InitHost())
	return c, st
}

func waitForState(t *testing.T, st *memstore.Store, nodeID int64, want types.ProvisionState) {
	t.Helper()
	must.Wait(t, wait.InitialSuccess(
		wait.ErrorFunc(func() error {
			got, err := st.GetNode(nodeID)
			if err != nil {
				return err
			}
			if got.ProvisionState != want {
				return errors.New("waiting for provision state " + string(want))
			}
			return nil
		}),
		wait.Timeout(2*time.Second),
		wait.Gap(10*time.Millisecond),
	))
}

func TestCore_DoNodeDeployHappyPath(t *testing.T) {
	fake := drivertest.New("fake")
	c, st := newTestCore(t, fake)

	n := &types.Node{UUID: "node-1", Driver: "fake", ProvisionState: types.StateAvailable}
	must.NoError(t, st.InsertNode(n))

	must.NoError(t, c.DoNodeDeploy(context.Background(), n.UUID))
	waitForState(t, st, n.ID, types.StateActive)

	must.SliceContainsAll(t, fake.CallLog, []string{"deploy.validate", "deploy.prepare", "deploy.deploy"})
}

func TestCore_DoNodeDeployWaitsForCallback(t *testing.T) {
	fake := drivertest.New("fake")
	fake.DeployFn = func(driver.TaskContext) (driver.DeployStatus, error) {
		return driver.DeployStatusWait, nil
	}
	c, st := newTestCore(t, fake)

	n := &types.Node{UUID: "node-2", Driver: "fake", ProvisionState: types.StateAvailable}
	must.NoError(t, st.InsertNode(n))

	must.NoError(t, c.DoNodeDeploy(context.Background(), n.UUID))
	waitForState(t, st, n.ID, types.StateDeployWait)
}

func TestCore_DoNodeDeployFailureRunsCleanup(t *testing.T) {
	fake := drivertest.New("fake")
	fake.DeployFn = func(driver.TaskContext) (driver.DeployStatus, error) {
		return driver.DeployStatusDone, errors.New("boom: ramdisk never booted")
	}
	c, st := newTestCore(t, fake)

	n := &types.Node{UUID: "node-3", Driver: "fake", ProvisionState: types.StateAvailable}
	must.NoError(t, st.InsertNode(n))

	must.NoError(t, c.DoNodeDeploy(context.Background(), n.UUID))
	waitForState(t, st, n.ID, types.StateDeployFail)

	must.Wait(t, wait.InitialSuccess(
		wait.ErrorFunc(func() error {
			for _, call := range fake.CallLog {
				if call == "deploy.clean_up" {
					return nil
				}
			}
			return errors.New("waiting for cleanup to run")
		}),
		wait.Timeout(2*time.Second),
		wait.Gap(10*time.Millisecond),
	))
}

func TestCore_DestroyNodeRefusesAssociatedNode(t *testing.T) {
	fake := drivertest.New("fake")
	c, st := newTestCore(t, fake)

	n := &types.Node{UUID: "node-4", Driver: "fake", ProvisionState: types.StateActive, InstanceUUID: "instance-1"}
	must.NoError(t, st.InsertNode(n))

	err := c.DestroyNode(context.Background(), n.UUID)
	must.Error(t, err)
	must.Eq(t, conductorerr.NodeAssociated, conductorerr.KindOf(err))
}

func TestCore_ChangeNodePowerState(t *testing.T) {
	fake := drivertest.New("fake")
	c, st := newTestCore(t, fake)

	n := &types.Node{UUID: "node-5", Driver: "fake", PowerState: types.PowerOff}
	must.NoError(t, st.InsertNode(n))

	must.NoError(t, c.ChangeNodePowerState(context.Background(), n.UUID, types.PowerOn))

	must.Wait(t, wait.InitialSuccess(
		wait.ErrorFunc(func() error {
			got, err := st.GetNode(n.ID)
			if err != nil {
				return err
			}
			if got.PowerState != types.PowerOn {
				return errors.New("waiting for power on")
			}
			return nil
		}),
		wait.Timeout(2*time.Second),
		wait.Gap(10*time.Millisecond),
	))
}

func TestCore_ValidateDriverInterfacesReportsUnsupported(t *testing.T) {
	fake := drivertest.New("fake")
	fake.NoConsole = true
	c, st := newTestCore(t, fake)

	n := &types.Node{UUID: "node-6", Driver: "fake"}
	must.NoError(t, st.InsertNode(n))

	results, err := c.ValidateDriverInterfaces(context.Background(), n.UUID)
	must.NoError(t, err)
	must.True(t, results["power"].Result)
	must.False(t, results["console"].Result)
}

func TestCore_SpawnSaturationRollsBackProvisionState(t *testing.T) {
	fake := drivertest.New("fake")
	block := make(chan struct{})
	fake.DeployFn = func(driver.TaskContext) (driver.DeployStatus, error) {
		<-block
		return driver.DeployStatusDone, nil
	}
	c, st := newTestCore(t, fake)
	c.Pool = worker.New(1)

	n1 := &types.Node{UUID: "node-7", Driver: "fake", ProvisionState: types.StateAvailable}
	n2 := &types.Node{UUID: "node-8", Driver: "fake", ProvisionState: types.StateAvailable}
	must.NoError(t, st.InsertNode(n1))
	must.NoError(t, st.InsertNode(n2))

	must.NoError(t, c.DoNodeDeploy(context.Background(), n1.UUID))
	waitForState(t, st, n1.ID, types.StateDeploying)

	err := c.DoNodeDeploy(context.Background(), n2.UUID)
	must.Error(t, err)
	must.Eq(t, conductorerr.NoFreeConductorWorker, conductorerr.KindOf(err))

	got, err := st.GetNode(n2.ID)
	must.NoError(t, err)
	must.Eq(t, types.StateAvailable, got.ProvisionState)

	close(block)
	waitForState(t, st, n1.ID, types.StateActive)
}
