// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package envelope is the static safety envelope: a pure function set
// with no state besides configuration (§4.B). It never mutates or
// clamps a command; it only accepts or rejects.
package envelope

import (
	"fmt"
	"math"

	"github.com/robotlab/robotd/internal/apierr"
	"github.com/robotlab/robotd/internal/config"
)

// Envelope wraps a Workspace configuration snapshot with the checks
// command gateway calls before dispatch.
type Envelope struct {
	ws config.Workspace
}

// New builds an Envelope bound to a workspace configuration snapshot.
// Callers re-create or re-bind one per command since config can hot-swap.
func New(ws config.Workspace) Envelope {
	return Envelope{ws: ws}
}

// CheckBasePose rejects a base pose outside the configured rectangle.
func (e Envelope) CheckBasePose(x, y, _ float64) *apierr.Rejection {
	ws := e.ws
	if x < ws.BaseXMin || x > ws.BaseXMax || y < ws.BaseYMin || y > ws.BaseYMax {
		return apierr.New("", apierr.ROutOfBounds,
			fmt.Sprintf("base pose (%.3f, %.3f) outside workspace [%.2f,%.2f]x[%.2f,%.2f]",
				x, y, ws.BaseXMin, ws.BaseXMax, ws.BaseYMin, ws.BaseYMax))
	}
	return nil
}

// CheckBaseVelocity rejects a commanded velocity over the linear or
// angular cap.
func (e Envelope) CheckBaseVelocity(vx, vy, omega float64) *apierr.Rejection {
	speed := math.Hypot(vx, vy)
	if speed > e.ws.BaseLinearVelCap {
		return apierr.New("", apierr.RVelocityLimit,
			fmt.Sprintf("base linear speed %.3f exceeds cap %.3f", speed, e.ws.BaseLinearVelCap))
	}
	if math.Abs(omega) > e.ws.BaseAngularVelCap {
		return apierr.New("", apierr.RVelocityLimit,
			fmt.Sprintf("base angular speed %.3f exceeds cap %.3f", math.Abs(omega), e.ws.BaseAngularVelCap))
	}
	return nil
}

// CheckArmCartesian extracts the translation from a 16-element
// column-major homogeneous transform (indices 12, 13, 14 per Design
// Note "Column-major 4x4 on the wire") and checks it against the arm
// workspace box.
func (e Envelope) CheckArmCartesian(pose16 [16]float64) *apierr.Rejection {
	x, y, z := pose16[12], pose16[13], pose16[14]
	ws := e.ws
	if x < ws.ArmXMin || x > ws.ArmXMax ||
		y < ws.ArmYMin || y > ws.ArmYMax ||
		z < ws.ArmZMin || z > ws.ArmZMax {
		return apierr.New("", apierr.ROutOfBounds,
			fmt.Sprintf("arm EE position (%.3f, %.3f, %.3f) outside workspace box", x, y, z))
	}
	return nil
}

// CheckArmJointVelocity rejects if any joint velocity exceeds the cap.
func (e Envelope) CheckArmJointVelocity(dq [7]float64) *apierr.Rejection {
	for i, v := range dq {
		if math.Abs(v) > e.ws.ArmJointVelCap {
			return apierr.New("", apierr.RVelocityLimit,
				fmt.Sprintf("joint %d velocity %.3f exceeds cap %.3f", i, v, e.ws.ArmJointVelCap))
		}
	}
	return nil
}

// CheckGripperForce rejects a commanded force over the configured cap.
func (e Envelope) CheckGripperForce(force float64) *apierr.Rejection {
	if force > e.ws.GripperForceCap {
		return apierr.New("", apierr.RForceLimit,
			fmt.Sprintf("gripper force %.3f exceeds cap %.3f", force, e.ws.GripperForceCap))
	}
	return nil
}
