// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Arm     = (*FakeArm)(nil)
	_ Base    = (*FakeBase)(nil)
	_ Gripper = (*FakeGripper)(nil)
	_ Camera  = (*FakeCamera)(nil)
)

func TestFakeArm_ConnectAndState(t *testing.T) {
	ctx := context.Background()
	a := NewFakeArm()
	require.NoError(t, a.Connect(ctx))
	assert.True(t, a.IsConnected())

	require.NoError(t, a.SendJointPosition(ctx, [7]float64{1, 2, 3, 4, 5, 6, 7}, false))
	assert.Equal(t, uint64(1), a.StateCount())

	st, err := a.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, [7]float64{1, 2, 3, 4, 5, 6, 7}, st["q"])
}

func TestFakeArm_ConnectFailure(t *testing.T) {
	a := NewFakeArm()
	a.FailConnect = true
	err := a.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, a.IsConnected())
}

func TestFakeBase_ExecuteAction(t *testing.T) {
	ctx := context.Background()
	b := NewFakeBase()
	require.NoError(t, b.ExecuteAction(ctx, 1, 2, 0.5))
	x, y, th := b.Pose()
	assert.Equal(t, 1.0, x)
	assert.Equal(t, 2.0, y)
	assert.Equal(t, 0.5, th)

	require.NoError(t, b.Reset(ctx))
	x, y, th = b.Pose()
	assert.Zero(t, x)
	assert.Zero(t, y)
	assert.Zero(t, th)
}

func TestFakeGripper_Move(t *testing.T) {
	ctx := context.Background()
	g := NewFakeGripper()
	final, detected, err := g.Move(ctx, 128, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(128), final)
	assert.False(t, detected)
}
