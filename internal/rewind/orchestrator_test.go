// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rewind

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robotlab/robotd/internal/backend"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/config"
	"github.com/robotlab/robotd/internal/trajectory"
	"github.com/robotlab/robotd/internal/waypoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testRewindConfig() config.Rewind {
	return config.Rewind{
		ChunkSize:     3,
		ChunkDuration: 20 * time.Millisecond,
		SettleTimeout: 20 * time.Millisecond,
		CommandRateHz: 200,
	}
}

func testWorkspace() config.Workspace {
	return config.Workspace{BaseXMin: -1, BaseXMax: 1, BaseYMin: -1, BaseYMax: 1}
}

func fillLog(n int) *trajectory.Log {
	log := trajectory.New(1000, time.Millisecond, 0, 0)
	for i := 0; i < n; i++ {
		log.Append(waypoint.Waypoint{
			T:        float64(i),
			BasePose: waypoint.Pose2D{X: float64(i) * 0.01, Y: 0, Theta: 0},
			ArmQ:     [7]float64{float64(i) * 0.01, 0, 0, 0, 0, 0, 0},
		})
	}
	return log
}

func newOrchestrator(log *trajectory.Log, set backend.Set) *Orchestrator {
	return New(log, set, testRewindConfig, testWorkspace, bus.NewMemoryBus())
}

func connectedSet() backend.Set {
	ctx := context.Background()
	arm := backend.NewFakeArm()
	base := backend.NewFakeBase()
	_ = arm.Connect(ctx)
	_ = base.Connect(ctx)
	return backend.Set{Arm: arm, Base: base, Gripper: backend.NewFakeGripper()}
}

func TestOrchestrator_EmptyLogNoOp(t *testing.T) {
	log := trajectory.New(100, time.Millisecond, 0, 0)
	o := newOrchestrator(log, connectedSet())
	res := o.Run(context.Background(), Request{Target: Target{ToSafe: false, Steps: intPtr(1)}})
	assert.True(t, res.Success)
	assert.Zero(t, res.StepsRewound)
}

func TestOrchestrator_TargetAtOrPastEndIsNoOp(t *testing.T) {
	log := fillLog(5)
	o := newOrchestrator(log, connectedSet())
	res := o.Run(context.Background(), Request{Target: Target{Steps: intPtr(0)}})
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.StepsRewound)
	assert.Equal(t, 5, log.Len())
}

func TestOrchestrator_DryRunDoesNotMoveOrTruncate(t *testing.T) {
	log := fillLog(10)
	set := connectedSet()
	o := newOrchestrator(log, set)

	res := o.Run(context.Background(), Request{Target: Target{Steps: intPtr(4)}, DryRun: true})
	require.True(t, res.Success)
	assert.Equal(t, 4, res.StepsRewound)
	assert.Equal(t, 9, res.StartWaypointIdx)
	assert.Equal(t, 5, res.EndWaypointIdx)
	assert.Len(t, res.WaypointsExecuted, 5)
	assert.Equal(t, 10, log.Len(), "dry run must not truncate the log")

	fb := set.Base.(*backend.FakeBase)
	x, _, _ := fb.Pose()
	assert.Zero(t, x, "dry run must not command the backend")
	assert.False(t, o.IsRewinding())
}

func TestOrchestrator_StepsModeReplaysAndTruncates(t *testing.T) {
	log := fillLog(10)
	set := connectedSet()
	o := newOrchestrator(log, set)

	res := o.Run(context.Background(), Request{Target: Target{Steps: intPtr(3)}})
	require.True(t, res.Success)
	assert.Equal(t, 3, res.StepsRewound)
	assert.Equal(t, 9, res.StartWaypointIdx)
	assert.Equal(t, 6, res.EndWaypointIdx)
	assert.Equal(t, []int{9, 8, 7, 6}, res.WaypointsExecuted)
	assert.Equal(t, 7, log.Len(), "log must be truncated to keepN = endIdx+1")
	assert.False(t, o.IsRewinding())

	fb := set.Base.(*backend.FakeBase)
	x, _, _ := fb.Pose()
	assert.InDelta(t, 0.06, x, 1e-9, "base should end at the resolved target waypoint's pose")
}

func TestOrchestrator_PercentageMode(t *testing.T) {
	log := fillLog(20)
	o := newOrchestrator(log, connectedSet())
	pct := 50.0
	res := o.Run(context.Background(), Request{Target: Target{Percentage: &pct}})
	require.True(t, res.Success)
	assert.Equal(t, 19-10, res.EndWaypointIdx)
}

func TestOrchestrator_ExplicitIndexMode(t *testing.T) {
	log := fillLog(10)
	o := newOrchestrator(log, connectedSet())
	idx := 2
	res := o.Run(context.Background(), Request{Target: Target{Index: &idx}})
	require.True(t, res.Success)
	assert.Equal(t, 2, res.EndWaypointIdx)
	assert.Equal(t, 3, log.Len())
}

func TestOrchestrator_ToSafeMode(t *testing.T) {
	log := trajectory.New(100, time.Millisecond, 0, 0)
	log.Append(waypoint.Waypoint{T: 0, BasePose: waypoint.Pose2D{X: 0, Y: 0}})
	log.Append(waypoint.Waypoint{T: 1, BasePose: waypoint.Pose2D{X: 5, Y: 5}})
	log.Append(waypoint.Waypoint{T: 2, BasePose: waypoint.Pose2D{X: 9, Y: 9}})

	o := newOrchestrator(log, connectedSet())
	res := o.Run(context.Background(), Request{Target: Target{ToSafe: true}})
	require.True(t, res.Success)
	assert.Equal(t, 0, res.EndWaypointIdx)
}

func TestOrchestrator_ToSafeModeNoneFound(t *testing.T) {
	log := trajectory.New(100, time.Millisecond, 0, 0)
	log.Append(waypoint.Waypoint{T: 0, BasePose: waypoint.Pose2D{X: 5, Y: 5}})
	log.Append(waypoint.Waypoint{T: 1, BasePose: waypoint.Pose2D{X: 9, Y: 9}})

	o := newOrchestrator(log, connectedSet())
	res := o.Run(context.Background(), Request{Target: Target{ToSafe: true}})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

// erroringArm fails after a configured number of SendJointPosition calls,
// so a replay can be observed aborting mid-chunk.
type erroringArm struct {
	*backend.FakeArm
	failAfter int
	calls     int
}

func (a *erroringArm) SendJointPosition(ctx context.Context, q [7]float64, blocking bool) error {
	a.calls++
	if a.calls > a.failAfter {
		return errors.New("simulated driver fault")
	}
	return a.FakeArm.SendJointPosition(ctx, q, blocking)
}

func TestOrchestrator_AbortsOnBackendError(t *testing.T) {
	log := fillLog(12)
	ctx := context.Background()
	fakeArm := backend.NewFakeArm()
	_ = fakeArm.Connect(ctx)
	arm := &erroringArm{FakeArm: fakeArm, failAfter: 2}
	base := backend.NewFakeBase()
	_ = base.Connect(ctx)
	set := backend.Set{Arm: arm, Base: base, Gripper: backend.NewFakeGripper()}

	o := newOrchestrator(log, set)
	res := o.Run(ctx, Request{Target: Target{Steps: intPtr(11)}})

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 12, log.Len(), "a failed replay must not truncate the log")
	assert.False(t, o.IsRewinding())
}

func TestOrchestrator_SerializesConcurrentRuns(t *testing.T) {
	log := fillLog(6)
	o := newOrchestrator(log, connectedSet())

	done := make(chan Result, 2)
	go func() { done <- o.Run(context.Background(), Request{Target: Target{Steps: intPtr(1)}}) }()
	go func() { done <- o.Run(context.Background(), Request{Target: Target{Steps: intPtr(1)}}) }()

	r1 := <-done
	r2 := <-done
	assert.True(t, r1.Success)
	assert.True(t, r2.Success)
	assert.False(t, o.IsRewinding())
}

func intPtr(v int) *int { return &v }
