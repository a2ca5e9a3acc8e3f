// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"

	"github.com/robotlab/robotd/internal/validate"
)

// Validate checks a loaded Config for internally-consistent, physically
// sane values before the daemon wires any component to it. It never
// mutates cfg; callers decide whether a validation failure is fatal.
func Validate(cfg Config) error {
	v := validate.New()

	if cfg.Workspace.BaseXMin >= cfg.Workspace.BaseXMax {
		v.AddError("workspace.base_x", "min must be less than max", cfg.Workspace)
	}
	if cfg.Workspace.BaseYMin >= cfg.Workspace.BaseYMax {
		v.AddError("workspace.base_y", "min must be less than max", cfg.Workspace)
	}
	if cfg.Workspace.ArmXMin >= cfg.Workspace.ArmXMax {
		v.AddError("workspace.arm_x", "min must be less than max", cfg.Workspace)
	}
	if cfg.Workspace.ArmYMin >= cfg.Workspace.ArmYMax {
		v.AddError("workspace.arm_y", "min must be less than max", cfg.Workspace)
	}
	if cfg.Workspace.ArmZMin >= cfg.Workspace.ArmZMax {
		v.AddError("workspace.arm_z", "min must be less than max", cfg.Workspace)
	}
	v.Custom("workspace.base_linear_vel_cap", cfg.Workspace.BaseLinearVelCap, positiveFloat)
	v.Custom("workspace.base_angular_vel_cap", cfg.Workspace.BaseAngularVelCap, positiveFloat)
	v.Custom("workspace.arm_joint_vel_cap", cfg.Workspace.ArmJointVelCap, positiveFloat)
	v.Custom("workspace.gripper_force_cap", cfg.Workspace.GripperForceCap, positiveFloat)

	v.Positive("trajectory.max_waypoints", cfg.Trajectory.MaxWaypoints)
	v.Custom("trajectory.position_threshold", cfg.Trajectory.PositionThreshold, nonNegativeFloat)
	v.Custom("trajectory.orientation_threshold", cfg.Trajectory.OrientationThreshold, nonNegativeFloat)

	v.Custom("state.poll_hz", cfg.State.PollHz, positiveFloat)
	v.Custom("state.observer_state_hz", cfg.State.ObserverStateHz, positiveFloat)

	if cfg.Lease.IdleTimeout > cfg.Lease.MaxDuration {
		v.AddError("lease.idle_timeout", "must not exceed lease.max_duration", cfg.Lease)
	}

	v.Positive("rewind.chunk_size", cfg.Rewind.ChunkSize)
	v.Custom("rewind.auto_rewind_percentage", cfg.Rewind.AutoRewindPercentage, func(val interface{}) error {
		pct := val.(float64)
		if pct < 0 || pct > 100 {
			return fmt.Errorf("must be between 0 and 100, got %g", pct)
		}
		return nil
	})

	v.Custom("gripper.max_width_meters", cfg.Gripper.MaxWidthMeters, positiveFloat)

	v.NotEmpty("sandbox.interpreter_path", cfg.Sandbox.InterpreterPath)
	v.Positive("sandbox.history_size", cfg.Sandbox.HistorySize)

	v.NotEmpty("server.addr", cfg.Server.Addr)
	if cfg.Server.EnableRateLimit {
		v.Positive("server.rate_limit_rps", cfg.Server.RateLimitRPS)
		v.Positive("server.rate_limit_burst", cfg.Server.RateLimitBurst)
	}

	return v.Err()
}

func positiveFloat(val interface{}) error {
	f := val.(float64)
	if f <= 0 {
		return fmt.Errorf("must be positive, got %g", f)
	}
	return nil
}

func nonNegativeFloat(val interface{}) error {
	f := val.(float64)
	if f < 0 {
		return fmt.Errorf("must not be negative, got %g", f)
	}
	return nil
}
