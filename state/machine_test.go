// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package state

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/types"
)

func TestFire_DeployFromAvailable(t *testing.T) {
	trans, err := Fire(types.StateAvailable, EventDeploy)
	must.NoError(t, err)
	must.Eq(t, types.StateDeploying, trans.NextState)
	must.Eq(t, types.StateActive, trans.NextTarget)
	must.Eq(t, CallbackDoNodeDeploy, trans.Callback)
}

func TestFire_WaitThenDoneReachesActive(t *testing.T) {
	trans, err := Fire(types.StateDeploying, EventWait)
	must.NoError(t, err)
	must.Eq(t, types.StateDeployWait, trans.NextState)

	trans, err = Fire(trans.NextState, EventDone)
	must.NoError(t, err)
	must.Eq(t, types.StateActive, trans.NextState)
	must.Eq(t, types.StateNone, trans.NextTarget)
}

func TestFire_FailFromDeployWaitGoesToDeployFailWithCleanup(t *testing.T) {
	trans, err := Fire(types.StateDeployWait, EventFail)
	must.NoError(t, err)
	must.Eq(t, types.StateDeployFail, trans.NextState)
	must.Eq(t, CallbackCleanupAfterTimeout, trans.Callback)
}

func TestFire_ErrorEventIsUniversal(t *testing.T) {
	for _, s := range []types.ProvisionState{types.StateAvailable, types.StateDeploying, types.StateActive, types.StateDeleting} {
		trans, err := Fire(s, EventError)
		must.NoError(t, err)
		must.Eq(t, s, trans.NextState)
		must.Eq(t, types.StateNone, trans.NextTarget)
	}
}

func TestFire_InvalidTransitionReportsInvalidState(t *testing.T) {
	_, err := Fire(types.StateAvailable, EventWait)
	must.Error(t, err)
	must.Eq(t, conductorerr.InvalidState, conductorerr.KindOf(err))
}

func TestFire_DeleteFromActiveTearsDown(t *testing.T) {
	trans, err := Fire(types.StateActive, EventDelete)
	must.NoError(t, err)
	must.Eq(t, types.StateDeleting, trans.NextState)
	must.Eq(t, CallbackDoNodeTearDown, trans.Callback)
}

func TestFire_DeletingDoneReturnsToAvailable(t *testing.T) {
	trans, err := Fire(types.StateDeleting, EventDone)
	must.NoError(t, err)
	must.Eq(t, types.StateAvailable, trans.NextState)
	must.Eq(t, CallbackNone, trans.Callback)
}
