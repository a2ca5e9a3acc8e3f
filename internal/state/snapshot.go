// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package state is the state aggregator (§4.C): it polls all backend
// drivers at a fixed rate, computes derived quantities, drives
// reconnection, and feeds the trajectory log, the lease idle detector,
// and external observers via an atomic snapshot.
package state

import (
	"math"
	"time"

	"github.com/robotlab/robotd/internal/waypoint"
)

// ArmState is the arm's contribution to the unified snapshot.
type ArmState struct {
	Q        [7]float64
	DQ       [7]float64
	EEPoseBase  [16]float64
	EEPoseWorld [16]float64
	EEWrench [6]float64
	Mode     int
	Connected bool
}

// BaseState is the base's contribution to the unified snapshot.
type BaseState struct {
	Pose      waypoint.Pose2D
	Velocity  [3]float64 // vx, vy, omega
	Connected bool
}

// GripperState is the gripper's contribution to the unified snapshot.
type GripperState struct {
	Position       uint8
	Width          float64
	IsMoving       bool
	ObjectDetected bool
	Connected      bool
}

// Snapshot is the unified, immutable state published once per poll tick.
type Snapshot struct {
	Timestamp    float64
	Base         BaseState
	Arm          ArmState
	Gripper      GripperState
	MotorsMoving bool
}

// motionThreshold is the §4.C "any |dq_i|>0.01, any base velocity
// component >0.01, or gripper is moving" motors-moving check.
const motionThreshold = 0.01

func computeMotorsMoving(arm ArmState, base BaseState, gripper GripperState) bool {
	for _, dq := range arm.DQ {
		if math.Abs(dq) > motionThreshold {
			return true
		}
	}
	for _, v := range base.Velocity {
		if math.Abs(v) > motionThreshold {
			return true
		}
	}
	return gripper.IsMoving
}

// worldEEPose computes T_world_EE = T_world_base * T_base_EE, lifting
// the 2-D base pose (x, y, theta) to a 3-D homogeneous transform and
// composing it with the arm's base-frame end-effector pose. Both
// matrices are column-major per the wire format (Design Note).
func worldEEPose(base waypoint.Pose2D, eeBase [16]float64) [16]float64 {
	c, s := math.Cos(base.Theta), math.Sin(base.Theta)

	// T_world_base, column-major 4x4, z-rotation + xy-translation.
	var tWorldBase [16]float64
	tWorldBase[0], tWorldBase[1] = c, s
	tWorldBase[4], tWorldBase[5] = -s, c
	tWorldBase[10] = 1
	tWorldBase[12], tWorldBase[13] = base.X, base.Y
	tWorldBase[15] = 1

	return matMul4(tWorldBase, eeBase)
}

// matMul4 multiplies two column-major 4x4 matrices: result = a * b.
func matMul4(a, b [16]float64) [16]float64 {
	var out [16]float64
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[k*4+row] * b[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

func nowSeconds(clock func() time.Time) float64 {
	return float64(clock().UnixNano()) / 1e9
}
