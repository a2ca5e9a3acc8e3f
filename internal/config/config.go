// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config holds robotd's runtime configuration: the workspace
// envelope, lease timing, rewind tuning, and monitor thresholds. All of
// it is environment-variable driven at startup and hot-swappable at
// runtime through Manager.
package config

import "time"

// Workspace describes the static safety envelope (§4.B of the design).
type Workspace struct {
	BaseXMin, BaseXMax float64
	BaseYMin, BaseYMax float64

	ArmXMin, ArmXMax float64
	ArmYMin, ArmYMax float64
	ArmZMin, ArmZMax float64

	BaseLinearVelCap  float64
	BaseAngularVelCap float64
	ArmJointVelCap    float64
	GripperForceCap   float64
}

// Trajectory tunes the trajectory log's recording gate (§4.A).
type Trajectory struct {
	MaxWaypoints          int
	RecordInterval        time.Duration
	PositionThreshold     float64
	OrientationThreshold  float64
}

// State tunes the state aggregator's poll and reconnect cadence (§4.C).
type State struct {
	PollHz            float64
	ReconnectInterval time.Duration
	ObserverStateHz   float64
}

// Lease tunes lease lifecycle timing (§4.D).
type Lease struct {
	MaxDuration   time.Duration
	IdleTimeout   time.Duration
	WarningGrace  time.Duration
	CheckInterval time.Duration
	ResetOnRelease bool
}

// Rewind tunes the rewind orchestrator (§4.F).
type Rewind struct {
	ChunkSize           int
	ChunkDuration        time.Duration
	SettleTimeout        time.Duration
	CommandRateHz        float64
	SafetyMargin         float64
	ArmErrorTolerance    float64
	AutoRewindPercentage float64
}

// SafetyMonitor tunes the boundary/collision monitor (§4.G).
type SafetyMonitor struct {
	Enabled                  bool
	Interval                 time.Duration
	CollisionMinCmdSpeed     float64
	CollisionVelocityThreshold float64
	CollisionGracePeriod     time.Duration
	Cooldown                 time.Duration
}

// CrashMonitor tunes the arm driver-crash monitor (§4.H).
type CrashMonitor struct {
	TickInterval        time.Duration
	DownGracePeriod      time.Duration
	RecoveryCooldown     time.Duration
	DisconnectTimeout    time.Duration
	ServerStartTimeout   time.Duration
	StateReadyTimeout    time.Duration
}

// Gripper tunes the calibrated-width conversion the command gateway
// applies to raw 0-255 gripper positions (§4.E).
type Gripper struct {
	MaxWidthMeters float64
}

// Sandbox tunes code-execution launch and timeout policy (§4.I).
type Sandbox struct {
	InterpreterPath  string
	DefaultTimeout   time.Duration
	TerminationGrace time.Duration
	HistorySize      int
}

// Server tunes the HTTP/WebSocket surface and its middleware stack (§4.J, §6).
type Server struct {
	Addr               string
	AllowedOrigins     []string
	EnableCORS         bool
	EnableCSRF         bool
	EnableRateLimit    bool
	RateLimitRPS       int
	RateLimitBurst     int
	RateLimitWhitelist []string
	TracingService     string
	EnableOTelHTTP     bool
	PIDFilePath        string
}

// Config is the full set of tunables read at startup and mutated through
// Manager. It has no methods of its own; it is a plain value so every
// snapshot handed out by Manager.Get is safe to read without locking.
type Config struct {
	Workspace     Workspace
	Trajectory    Trajectory
	State         State
	Lease         Lease
	Gripper       Gripper
	Rewind        Rewind
	SafetyMonitor SafetyMonitor
	CrashMonitor  CrashMonitor
	Sandbox       Sandbox
	Server        Server
}

// HomeJointPose is the arm's canonical home pose in radians, used by
// reset-to-home and recovery flows.
var HomeJointPose = [7]float64{0, -0.785, 0, -2.356, 0, 1.571, 0.785}
