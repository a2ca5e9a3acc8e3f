// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package state

import (
	"context"
	"testing"
	"time"

	"github.com/robotlab/robotd/internal/backend"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/trajectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_TickBuildsSnapshot(t *testing.T) {
	arm := backend.NewFakeArm()
	base := backend.NewFakeBase()
	gripper := backend.NewFakeGripper()
	require.NoError(t, arm.Connect(context.Background()))

	log := trajectory.New(100, 0, 0, 0)
	b := bus.NewMemoryBus()
	agg := New(backend.Set{Arm: arm, Base: base, Gripper: gripper}, log, b, 10, time.Second)

	agg.tick(context.Background())
	snap := agg.Current()
	assert.True(t, snap.Arm.Connected)
	assert.True(t, snap.Base.Connected)
	assert.Equal(t, 1, log.Len())
}

func TestAggregator_MotorsMovingTracksLastMoved(t *testing.T) {
	base := backend.NewFakeBase()
	require.NoError(t, base.SetTargetVelocity(context.Background(), 1, 0, 0, backend.FrameGlobal))

	log := trajectory.New(100, 0, 0, 0)
	agg := New(backend.Set{Base: base}, log, nil, 10, time.Second)

	before := agg.LastMovedAt()
	agg.tick(context.Background())
	assert.True(t, agg.Current().MotorsMoving)
	assert.True(t, agg.LastMovedAt().After(before))
}

func TestAggregator_ReconnectRateLimited(t *testing.T) {
	arm := backend.NewFakeArm()
	log := trajectory.New(100, 0, 0, 0)
	agg := New(backend.Set{Arm: arm}, log, nil, 10, time.Hour)

	agg.tick(context.Background())
	assert.True(t, arm.IsConnected())

	require.NoError(t, arm.Disconnect(context.Background()))
	agg.tick(context.Background())
	// Reconnect interval is an hour, so the second disconnect should not
	// immediately reconnect.
	assert.False(t, arm.IsConnected())
}
