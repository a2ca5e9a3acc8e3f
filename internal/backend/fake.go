// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"context"
	"sync"
	"sync/atomic"
)

// FakeArm is an in-memory Arm used by tests and local development
// without hardware attached.
type FakeArm struct {
	mu          sync.Mutex
	connected   bool
	q           [7]float64
	dq          [7]float64
	eePose      [16]float64
	eeWrench    [6]float64
	mode        int
	stateCount  atomic.Uint64
	FailConnect bool
}

func NewFakeArm() *FakeArm {
	a := &FakeArm{}
	a.eePose = identity4()
	return a
}

// identity4 returns a column-major 4x4 identity transform, the rest
// pose an arm reports before any cartesian command has been sent.
func identity4() [16]float64 {
	return [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func (a *FakeArm) Connect(context.Context) error {
	if a.FailConnect {
		return errConnectFailed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *FakeArm) Disconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *FakeArm) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *FakeArm) GetState(context.Context) (Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Frame{
		"q":         a.q,
		"dq":        a.dq,
		"mode":      a.mode,
		"ee_pose":   a.eePose,
		"ee_wrench": a.eeWrench,
	}, nil
}

func (a *FakeArm) SendJointPosition(_ context.Context, q [7]float64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.q = q
	a.stateCount.Add(1)
	return nil
}

func (a *FakeArm) SendCartesianPose(_ context.Context, pose [16]float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eePose = pose
	a.stateCount.Add(1)
	return nil
}

func (a *FakeArm) SendJointVelocity(_ context.Context, dq [7]float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dq = dq
	a.stateCount.Add(1)
	return nil
}

func (a *FakeArm) SendCartesianVelocity(context.Context, [6]float64) error {
	a.stateCount.Add(1)
	return nil
}

func (a *FakeArm) SetControlMode(_ context.Context, mode int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = mode
	return nil
}

func (a *FakeArm) SetGains(context.Context, map[string]float64) error { return nil }
func (a *FakeArm) EmergencyStop(context.Context) error                { return nil }
func (a *FakeArm) StateCount() uint64                                 { return a.stateCount.Load() }

// Tick simulates the driver's background publish loop advancing the
// counter, for driver-crash monitor tests.
func (a *FakeArm) Tick() { a.stateCount.Add(1) }

// FakeBase is an in-memory Base.
type FakeBase struct {
	mu        sync.Mutex
	connected bool
	x, y, th  float64
	vx, vy, w float64
}

func NewFakeBase() *FakeBase { return &FakeBase{connected: true} }

func (b *FakeBase) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *FakeBase) Disconnect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *FakeBase) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *FakeBase) GetState(context.Context) (Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Frame{
		"pose":     [3]float64{b.x, b.y, b.th},
		"velocity": [3]float64{b.vx, b.vy, b.w},
	}, nil
}

func (b *FakeBase) ExecuteAction(_ context.Context, x, y, theta float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.x, b.y, b.th = x, y, theta
	return nil
}

func (b *FakeBase) SetTargetVelocity(_ context.Context, vx, vy, omega float64, _ BaseFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vx, b.vy, b.w = vx, vy, omega
	return nil
}

func (b *FakeBase) Stop(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vx, b.vy, b.w = 0, 0, 0
	return nil
}

func (b *FakeBase) Reset(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.x, b.y, b.th, b.vx, b.vy, b.w = 0, 0, 0, 0, 0, 0
	return nil
}

// Pose returns the base's current pose, for test assertions.
func (b *FakeBase) Pose() (x, y, theta float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.x, b.y, b.th
}

// FakeGripper is an in-memory Gripper.
type FakeGripper struct {
	mu             sync.Mutex
	pos            uint8
	objectDetected bool
}

func NewFakeGripper() *FakeGripper { return &FakeGripper{} }

func (g *FakeGripper) Connect(context.Context) error    { return nil }
func (g *FakeGripper) Disconnect(context.Context) error { return nil }
func (g *FakeGripper) IsConnected() bool                { return true }
func (g *FakeGripper) GetState(context.Context) (Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Frame{
		"position":        g.pos,
		"is_moving":       false, // Move completes synchronously in the fake
		"object_detected": g.objectDetected,
	}, nil
}
// Position returns the gripper's current raw position, for test assertions.
func (g *FakeGripper) Position() uint8 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pos
}

func (g *FakeGripper) Activate(context.Context) error { return nil }
func (g *FakeGripper) Move(_ context.Context, pos uint8, _, _ float64) (uint8, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	// No force sensor simulated; the fake never reports a grasped object.
	g.pos = pos
	g.objectDetected = false
	return pos, g.objectDetected, nil
}
func (g *FakeGripper) Open(ctx context.Context) error  { _, _, err := g.Move(ctx, 0, 1, 1); return err }
func (g *FakeGripper) Close(ctx context.Context) error { _, _, err := g.Move(ctx, 255, 1, 1); return err }
func (g *FakeGripper) Grasp(context.Context) error     { return nil }
func (g *FakeGripper) Stop(context.Context) error      { return nil }
func (g *FakeGripper) Calibrate(context.Context) error { return nil }

// FakeCamera is an in-memory Camera returning an empty frame.
type FakeCamera struct{}

func NewFakeCamera() *FakeCamera                                  { return &FakeCamera{} }
func (c *FakeCamera) Connect(context.Context) error                { return nil }
func (c *FakeCamera) Disconnect(context.Context) error             { return nil }
func (c *FakeCamera) IsConnected() bool                            { return true }
func (c *FakeCamera) GetState(context.Context) (Frame, error)      { return Frame{}, nil }
func (c *FakeCamera) Frame(context.Context, string) ([]byte, string, error) {
	return nil, "image/jpeg", nil
}
func (c *FakeCamera) Intrinsics(context.Context, string) (Frame, error) { return Frame{}, nil }

var errConnectFailed = &connectError{}

type connectError struct{}

func (*connectError) Error() string { return "fake backend: connect failed" }
