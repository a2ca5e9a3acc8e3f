// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package command

import (
	"context"
	"testing"

	"github.com/robotlab/robotd/internal/apierr"
	"github.com/robotlab/robotd/internal/backend"
	"github.com/robotlab/robotd/internal/config"
	"github.com/robotlab/robotd/internal/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLease struct {
	valid    bool
	recorded int
}

func (f *fakeLease) ValidateLease(string) bool { return f.valid }
func (f *fakeLease) RecordCommand()            { f.recorded++ }

func testWorkspace() config.Workspace {
	return config.Workspace{
		BaseXMin: -2, BaseXMax: 2, BaseYMin: -2, BaseYMax: 2,
		ArmXMin: -1, ArmXMax: 1, ArmYMin: -1, ArmYMax: 1, ArmZMin: 0, ArmZMax: 1.5,
		BaseLinearVelCap: 0.5, BaseAngularVelCap: 1.0, ArmJointVelCap: 1.5, GripperForceCap: 20,
	}
}

func newGateway(lease LeaseChecker) (*Gateway, backend.Set) {
	set := backend.Set{
		Arm:     backend.NewFakeArm(),
		Base:    backend.NewFakeBase(),
		Gripper: backend.NewFakeGripper(),
	}
	ctx := context.Background()
	_ = set.Arm.Connect(ctx)
	_ = set.Base.Connect(ctx)
	_ = set.Gripper.Connect(ctx)

	gw := New(set, lease, nil, func() envelope.Envelope { return envelope.New(testWorkspace()) },
		func() config.Gripper { return config.Gripper{MaxWidthMeters: 0.085} })
	return gw, set
}

func TestGateway_RejectsWithoutLease(t *testing.T) {
	gw, _ := newGateway(&fakeLease{valid: false})
	_, rej := gw.BaseStop(context.Background(), "")
	require.NotNil(t, rej)
	assert.Equal(t, apierr.RNoLease, rej.Reason)
}

func TestGateway_RejectsInvalidLease(t *testing.T) {
	gw, _ := newGateway(&fakeLease{valid: false})
	_, rej := gw.BaseStop(context.Background(), "bogus")
	require.NotNil(t, rej)
	assert.Equal(t, apierr.RInvalidLease, rej.Reason)
}

func TestGateway_BaseMoveOutOfBounds(t *testing.T) {
	lease := &fakeLease{valid: true}
	gw, _ := newGateway(lease)
	_, rej := gw.BaseMove(context.Background(), "l1", BaseMoveRequest{X: 100, Y: 0})
	require.NotNil(t, rej)
	assert.Equal(t, apierr.ROutOfBounds, rej.Reason)
	assert.Zero(t, lease.recorded, "a rejected command must not record activity on the lease")
}

func TestGateway_BaseMoveSuccess(t *testing.T) {
	lease := &fakeLease{valid: true}
	gw, set := newGateway(lease)
	res, rej := gw.BaseMove(context.Background(), "l1", BaseMoveRequest{X: 1, Y: 1})
	require.Nil(t, rej)
	require.NotNil(t, res)
	assert.Equal(t, 1, lease.recorded)

	fb := set.Base.(*backend.FakeBase)
	x, y, _ := fb.Pose()
	assert.Equal(t, 1.0, x)
	assert.Equal(t, 1.0, y)
}

func TestGateway_ArmMoveVelocityLimit(t *testing.T) {
	lease := &fakeLease{valid: true}
	gw, _ := newGateway(lease)
	_, rej := gw.ArmMove(context.Background(), "l1", ArmMoveRequest{
		Kind: ArmJointVelocity,
		DQ:   [7]float64{10, 0, 0, 0, 0, 0, 0},
	})
	require.NotNil(t, rej)
	assert.Equal(t, apierr.RVelocityLimit, rej.Reason)
}

func TestGateway_GripperMoveWidthConversion(t *testing.T) {
	lease := &fakeLease{valid: true}
	gw, set := newGateway(lease)
	_, rej := gw.Gripper(context.Background(), "l1", GripperRequest{
		Action: GripperMove, HasWidth: true, WidthMeters: 0.085, Speed: 1, Force: 1,
	})
	require.Nil(t, rej)
	fg := set.Gripper.(*backend.FakeGripper)
	assert.Equal(t, uint8(0), fg.Position())
}

func TestGateway_BackendDisconnectedRejects(t *testing.T) {
	lease := &fakeLease{valid: true}
	// A fresh FakeArm starts disconnected until Connect is called.
	set := backend.Set{Arm: backend.NewFakeArm(), Base: backend.NewFakeBase(), Gripper: backend.NewFakeGripper()}
	gw := New(set, lease, nil, func() envelope.Envelope { return envelope.New(testWorkspace()) },
		func() config.Gripper { return config.Gripper{MaxWidthMeters: 0.085} })

	_, rej := gw.ArmStop(context.Background(), "l1")
	require.NotNil(t, rej)
	assert.Equal(t, apierr.RBackendUnavailable, rej.Reason)
}
