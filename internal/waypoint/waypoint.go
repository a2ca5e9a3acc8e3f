// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package waypoint defines the immutable recorded-state unit the
// trajectory log stores and the rewind orchestrator replays.
package waypoint

import "math"

// Pose2D is a planar base pose: position plus heading.
type Pose2D struct {
	X, Y, Theta float64
}

// Waypoint is a single recorded snapshot of base pose and arm joint
// angles with a monotonic timestamp. Immutable once recorded.
type Waypoint struct {
	T             float64 // monotonic seconds
	BasePose      Pose2D
	ArmQ          [7]float64
	GripperWidth  float64
}

// Delta returns the Euclidean position delta and absolute heading delta
// between two base poses, used by the trajectory log's displacement gate.
func Delta(a, b Pose2D) (position, orientation float64) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	position = math.Hypot(dx, dy)
	orientation = math.Abs(angleDiff(b.Theta, a.Theta))
	return
}

func angleDiff(a, b float64) float64 {
	d := a - b
	for d > math.Pi {
		d -= 2 * math.Pi
	}
	for d < -math.Pi {
		d += 2 * math.Pi
	}
	return d
}
