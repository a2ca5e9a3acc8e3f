// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Default returns a Config populated with the values spec'd in §3/§4/§9:
// the conservative defaults a fresh checkout runs with before any
// operator override is applied.
func Default() Config {
	return Config{
		Workspace: Workspace{
			BaseXMin: -2, BaseXMax: 2,
			BaseYMin: -2, BaseYMax: 2,
			ArmXMin: -1, ArmXMax: 1,
			ArmYMin: -1, ArmYMax: 1,
			ArmZMin: 0, ArmZMax: 1.5,
			BaseLinearVelCap:  0.5,
			BaseAngularVelCap: 1.0,
			ArmJointVelCap:    1.5,
			GripperForceCap:   20.0,
		},
		Trajectory: Trajectory{
			MaxWaypoints:         10_000,
			RecordInterval:       100 * time.Millisecond,
			PositionThreshold:    0.05,
			OrientationThreshold: 0.1,
		},
		State: State{
			PollHz:            10,
			ReconnectInterval: 5 * time.Second,
			ObserverStateHz:   10,
		},
		Lease: Lease{
			MaxDuration:    30 * time.Minute,
			IdleTimeout:    5 * time.Minute,
			WarningGrace:   30 * time.Second,
			CheckInterval:  1 * time.Second,
			ResetOnRelease: true,
		},
		Gripper: Gripper{
			MaxWidthMeters: 0.085,
		},
		Rewind: Rewind{
			ChunkSize:            5,
			ChunkDuration:        1 * time.Second,
			SettleTimeout:        500 * time.Millisecond,
			CommandRateHz:        50,
			SafetyMargin:         0.03,
			ArmErrorTolerance:    0.05,
			AutoRewindPercentage: 10,
		},
		SafetyMonitor: SafetyMonitor{
			Enabled:                    true,
			Interval:                   500 * time.Millisecond,
			CollisionMinCmdSpeed:       0.05,
			CollisionVelocityThreshold: 0.3,
			CollisionGracePeriod:       500 * time.Millisecond,
			Cooldown:                   3 * time.Second,
		},
		CrashMonitor: CrashMonitor{
			TickInterval:       1 * time.Second,
			DownGracePeriod:    3 * time.Second,
			RecoveryCooldown:   30 * time.Second,
			DisconnectTimeout:  5 * time.Second,
			ServerStartTimeout: 15 * time.Second,
			StateReadyTimeout:  10 * time.Second,
		},
		Sandbox: Sandbox{
			InterpreterPath:  "python3",
			DefaultTimeout:   300 * time.Second,
			TerminationGrace: 2 * time.Second,
			HistorySize:      10,
		},
		Server: Server{
			Addr:            ":8080",
			EnableCORS:      true,
			EnableCSRF:      true,
			EnableRateLimit: true,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
			PIDFilePath:     "/var/run/robotd/services.pid.json",
		},
	}
}

// Load builds a Config by overlaying environment variables onto Default.
// It never fails: malformed values are logged by the caller (via the
// returned warnings) and the default is kept.
func Load() (Config, []string) {
	cfg := Default()
	var warnings []string
	warn := func(key, raw string) {
		warnings = append(warnings, "invalid value for "+key+": "+raw)
	}

	cfg.Server.Addr = envString("ROBOTD_ADDR", cfg.Server.Addr)
	cfg.Server.PIDFilePath = envString("ROBOTD_PID_FILE", cfg.Server.PIDFilePath)
	cfg.Sandbox.InterpreterPath = envString("ROBOTD_SANDBOX_INTERPRETER", cfg.Sandbox.InterpreterPath)
	cfg.Server.TracingService = envString("ROBOTD_TRACING_SERVICE", cfg.Server.TracingService)

	if v, ok := os.LookupEnv("ROBOTD_ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitCSV(v)
	}
	if v, ok := os.LookupEnv("ROBOTD_RATE_LIMIT_WHITELIST"); ok {
		cfg.Server.RateLimitWhitelist = splitCSV(v)
	}

	cfg.Server.EnableCORS = envBool("ROBOTD_ENABLE_CORS", cfg.Server.EnableCORS, warn)
	cfg.Server.EnableCSRF = envBool("ROBOTD_ENABLE_CSRF", cfg.Server.EnableCSRF, warn)
	cfg.Server.EnableRateLimit = envBool("ROBOTD_ENABLE_RATE_LIMIT", cfg.Server.EnableRateLimit, warn)
	cfg.Server.EnableOTelHTTP = envBool("ROBOTD_ENABLE_OTEL_HTTP", cfg.Server.EnableOTelHTTP, warn)
	cfg.Server.RateLimitRPS = envInt("ROBOTD_RATE_LIMIT_RPS", cfg.Server.RateLimitRPS, warn)
	cfg.Server.RateLimitBurst = envInt("ROBOTD_RATE_LIMIT_BURST", cfg.Server.RateLimitBurst, warn)

	cfg.Trajectory.MaxWaypoints = envInt("ROBOTD_TRAJECTORY_MAX_WAYPOINTS", cfg.Trajectory.MaxWaypoints, warn)
	cfg.Trajectory.RecordInterval = envDuration("ROBOTD_TRAJECTORY_RECORD_INTERVAL", cfg.Trajectory.RecordInterval, warn)
	cfg.Trajectory.PositionThreshold = envFloat("ROBOTD_TRAJECTORY_POSITION_THRESHOLD", cfg.Trajectory.PositionThreshold, warn)
	cfg.Trajectory.OrientationThreshold = envFloat("ROBOTD_TRAJECTORY_ORIENTATION_THRESHOLD", cfg.Trajectory.OrientationThreshold, warn)

	cfg.State.PollHz = envFloat("ROBOTD_STATE_POLL_HZ", cfg.State.PollHz, warn)
	cfg.State.ReconnectInterval = envDuration("ROBOTD_STATE_RECONNECT_INTERVAL", cfg.State.ReconnectInterval, warn)
	cfg.State.ObserverStateHz = envFloat("ROBOTD_STATE_OBSERVER_HZ", cfg.State.ObserverStateHz, warn)

	cfg.Lease.MaxDuration = envDuration("ROBOTD_LEASE_MAX_DURATION", cfg.Lease.MaxDuration, warn)
	cfg.Lease.IdleTimeout = envDuration("ROBOTD_LEASE_IDLE_TIMEOUT", cfg.Lease.IdleTimeout, warn)
	cfg.Lease.WarningGrace = envDuration("ROBOTD_LEASE_WARNING_GRACE", cfg.Lease.WarningGrace, warn)
	cfg.Lease.CheckInterval = envDuration("ROBOTD_LEASE_CHECK_INTERVAL", cfg.Lease.CheckInterval, warn)
	cfg.Lease.ResetOnRelease = envBool("ROBOTD_LEASE_RESET_ON_RELEASE", cfg.Lease.ResetOnRelease, warn)

	cfg.Gripper.MaxWidthMeters = envFloat("ROBOTD_GRIPPER_MAX_WIDTH_METERS", cfg.Gripper.MaxWidthMeters, warn)

	cfg.Rewind.ChunkSize = envInt("ROBOTD_REWIND_CHUNK_SIZE", cfg.Rewind.ChunkSize, warn)
	cfg.Rewind.ChunkDuration = envDuration("ROBOTD_REWIND_CHUNK_DURATION", cfg.Rewind.ChunkDuration, warn)
	cfg.Rewind.SettleTimeout = envDuration("ROBOTD_REWIND_SETTLE_TIMEOUT", cfg.Rewind.SettleTimeout, warn)
	cfg.Rewind.CommandRateHz = envFloat("ROBOTD_REWIND_COMMAND_RATE_HZ", cfg.Rewind.CommandRateHz, warn)
	cfg.Rewind.SafetyMargin = envFloat("ROBOTD_REWIND_SAFETY_MARGIN", cfg.Rewind.SafetyMargin, warn)
	cfg.Rewind.ArmErrorTolerance = envFloat("ROBOTD_REWIND_ARM_ERROR_TOLERANCE", cfg.Rewind.ArmErrorTolerance, warn)
	cfg.Rewind.AutoRewindPercentage = envFloat("ROBOTD_REWIND_AUTO_PERCENTAGE", cfg.Rewind.AutoRewindPercentage, warn)

	cfg.SafetyMonitor.Enabled = envBool("ROBOTD_SAFETY_MONITOR_ENABLED", cfg.SafetyMonitor.Enabled, warn)
	cfg.SafetyMonitor.Interval = envDuration("ROBOTD_SAFETY_MONITOR_INTERVAL", cfg.SafetyMonitor.Interval, warn)
	cfg.SafetyMonitor.CollisionMinCmdSpeed = envFloat("ROBOTD_SAFETY_COLLISION_MIN_CMD_SPEED", cfg.SafetyMonitor.CollisionMinCmdSpeed, warn)
	cfg.SafetyMonitor.CollisionVelocityThreshold = envFloat("ROBOTD_SAFETY_COLLISION_VELOCITY_THRESHOLD", cfg.SafetyMonitor.CollisionVelocityThreshold, warn)
	cfg.SafetyMonitor.CollisionGracePeriod = envDuration("ROBOTD_SAFETY_COLLISION_GRACE_PERIOD", cfg.SafetyMonitor.CollisionGracePeriod, warn)
	cfg.SafetyMonitor.Cooldown = envDuration("ROBOTD_SAFETY_COOLDOWN", cfg.SafetyMonitor.Cooldown, warn)

	cfg.CrashMonitor.TickInterval = envDuration("ROBOTD_CRASH_MONITOR_TICK_INTERVAL", cfg.CrashMonitor.TickInterval, warn)
	cfg.CrashMonitor.DownGracePeriod = envDuration("ROBOTD_CRASH_MONITOR_DOWN_GRACE", cfg.CrashMonitor.DownGracePeriod, warn)
	cfg.CrashMonitor.RecoveryCooldown = envDuration("ROBOTD_CRASH_MONITOR_RECOVERY_COOLDOWN", cfg.CrashMonitor.RecoveryCooldown, warn)
	cfg.CrashMonitor.DisconnectTimeout = envDuration("ROBOTD_CRASH_MONITOR_DISCONNECT_TIMEOUT", cfg.CrashMonitor.DisconnectTimeout, warn)
	cfg.CrashMonitor.ServerStartTimeout = envDuration("ROBOTD_CRASH_MONITOR_SERVER_START_TIMEOUT", cfg.CrashMonitor.ServerStartTimeout, warn)
	cfg.CrashMonitor.StateReadyTimeout = envDuration("ROBOTD_CRASH_MONITOR_STATE_READY_TIMEOUT", cfg.CrashMonitor.StateReadyTimeout, warn)

	cfg.Sandbox.DefaultTimeout = envDuration("ROBOTD_SANDBOX_DEFAULT_TIMEOUT", cfg.Sandbox.DefaultTimeout, warn)
	cfg.Sandbox.TerminationGrace = envDuration("ROBOTD_SANDBOX_TERMINATION_GRACE", cfg.Sandbox.TerminationGrace, warn)
	cfg.Sandbox.HistorySize = envInt("ROBOTD_SANDBOX_HISTORY_SIZE", cfg.Sandbox.HistorySize, warn)

	return cfg, warnings
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool, warn func(key, raw string)) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		warn(key, v)
		return def
	}
	return b
}

func envInt(key string, def int, warn func(key, raw string)) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		warn(key, v)
		return def
	}
	return n
}

func envFloat(key string, def float64, warn func(key, raw string)) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		warn(key, v)
		return def
	}
	return f
}

func envDuration(key string, def time.Duration, warn func(key, raw string)) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		warn(key, v)
		return def
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
