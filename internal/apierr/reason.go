// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package apierr carries the machine-readable reason codes the core
// attaches to command rejections, lease errors, and sandbox failures so
// clients can branch on `reason` without parsing `detail`.
package apierr

// Reason is a compact, typed rejection signal. Keep these stable: the
// external surface and the SDK both depend on their string values.
type Reason string

const (
	RNoLease             Reason = "no_lease"
	RInvalidLease        Reason = "invalid_lease"
	RBackendUnavailable  Reason = "backend_unavailable"
	ROutOfBounds         Reason = "out_of_bounds"
	RVelocityLimit       Reason = "velocity_limit"
	RForceLimit          Reason = "force_limit"
	RInvalidInput        Reason = "invalid_input"
	RInvalidMode         Reason = "invalid_mode"
	RInvalidAction       Reason = "invalid_action"
	RNoSafeWaypoint      Reason = "no_safe_waypoint"
	RConflict            Reason = "conflict"
)

// Rejection is the structured payload returned on a command or lease
// failure: a cmd_id for correlation, a machine Reason, and a human Detail.
type Rejection struct {
	CmdID  string `json:"cmd_id,omitempty"`
	Reason Reason `json:"reason"`
	Detail string `json:"detail"`
}

func (r *Rejection) Error() string {
	return string(r.Reason) + ": " + r.Detail
}

// New builds a Rejection. cmdID may be empty when the check happens
// before a command ID has been minted.
func New(cmdID string, reason Reason, detail string) *Rejection {
	return &Rejection{CmdID: cmdID, Reason: reason, Detail: detail}
}

// RevokeReason enumerates why a lease was revoked (§6 "Event payload fields").
type RevokeReason string

const (
	RevokeMaxDuration   RevokeReason = "max_duration"
	RevokeIdleTimeout   RevokeReason = "idle_timeout"
	RevokeQueueCleared  RevokeReason = "queue_cleared"
)

// StopReason enumerates why a sandbox execution was stopped (§4.I).
type StopReason string

const (
	StopManual      StopReason = "manual"
	StopArmError    StopReason = "arm_error"
	StopIdleTimeout StopReason = "idle_timeout"
	StopMaxDuration StopReason = "max_duration"
	StopQueueCleared StopReason = "queue_cleared"
	StopReleased    StopReason = "released"
)
