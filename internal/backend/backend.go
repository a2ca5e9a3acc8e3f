// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package backend defines the core's only seam to hardware drivers
// (§6 "Backend interface"). The low-level drivers themselves are out of
// scope; this package is the interface contract plus in-memory fakes
// used by tests and local development.
package backend

import "context"

// Frame is a driver-agnostic state snapshot. Each backend kind
// populates the subset of fields that applies to it.
type Frame map[string]any

// Backend is the capability every driver adapter implements.
type Backend interface {
	// Connect establishes the driver connection. Idempotent.
	Connect(ctx context.Context) error
	// Disconnect tears down the connection.
	Disconnect(ctx context.Context) error
	// IsConnected reports the last known connection state.
	IsConnected() bool
	// GetState returns the driver's current state snapshot.
	GetState(ctx context.Context) (Frame, error)
}

// Arm is the arm driver's actuation surface.
type Arm interface {
	Backend
	SendJointPosition(ctx context.Context, q [7]float64, blocking bool) error
	SendCartesianPose(ctx context.Context, pose16 [16]float64) error
	SendJointVelocity(ctx context.Context, dq [7]float64) error
	SendCartesianVelocity(ctx context.Context, vel6 [6]float64) error
	SetControlMode(ctx context.Context, mode int) error
	SetGains(ctx context.Context, gains map[string]float64) error
	EmergencyStop(ctx context.Context) error
	// StateCount increments once per received state publication; the
	// driver-crash monitor watches it for stalls (§4.H).
	StateCount() uint64
}

// BaseFrame ("global" or "local") selects the command reference frame.
type BaseFrame string

const (
	FrameGlobal BaseFrame = "global"
	FrameLocal  BaseFrame = "local"
)

// Base is the mobile base driver's actuation surface.
type Base interface {
	Backend
	ExecuteAction(ctx context.Context, x, y, theta float64) error
	SetTargetVelocity(ctx context.Context, vx, vy, omega float64, frame BaseFrame) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Gripper is the gripper driver's actuation surface. Move accepts a raw
// 0-255 position; calibrated-width conversion is a gateway concern.
type Gripper interface {
	Backend
	Activate(ctx context.Context) error
	Move(ctx context.Context, pos uint8, speed, force float64) (finalPos uint8, objectDetected bool, err error)
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Grasp(ctx context.Context) error
	Stop(ctx context.Context) error
	Calibrate(ctx context.Context) error
}

// Camera is orthogonal to the core: frames are passthrough (§6).
type Camera interface {
	Backend
	Frame(ctx context.Context, id string) ([]byte, string, error) // bytes, content-type
	Intrinsics(ctx context.Context, id string) (Frame, error)
}

// Set bundles the four backend kinds the core depends on.
type Set struct {
	Arm     Arm
	Base    Base
	Gripper Gripper
	Camera  Camera
}
