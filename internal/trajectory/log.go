// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package trajectory is the bounded, time- and displacement-gated ring
// of waypoints the state aggregator feeds and the rewind orchestrator
// reads from (§3, §4.A).
package trajectory

import (
	"sync"
	"time"

	"github.com/robotlab/robotd/internal/waypoint"
)

// Bounds is the workspace rectangle used by FindLastSafe.
type Bounds struct {
	XMin, XMax, YMin, YMax float64
}

func (b Bounds) contains(p waypoint.Pose2D) bool {
	return p.X >= b.XMin && p.X <= b.XMax && p.Y >= b.YMin && p.Y <= b.YMax
}

// Log is the trajectory log: an append-only, capacity-bounded sequence
// of waypoints. All mutation (append, truncate, clear) is serialized by
// mu; snapshot readers get a copy so they never observe a torn slice.
type Log struct {
	mu                   sync.Mutex
	waypoints            []waypoint.Waypoint
	maxWaypoints         int
	recordInterval       time.Duration
	positionThreshold    float64
	orientationThreshold float64
	lastRecordedAt       float64
	hasLast              bool
}

// New creates an empty Log gated by recordInterval and the position/
// orientation thresholds described in §3.
func New(maxWaypoints int, recordInterval time.Duration, positionThreshold, orientationThreshold float64) *Log {
	return &Log{
		maxWaypoints:         maxWaypoints,
		recordInterval:       recordInterval,
		positionThreshold:    positionThreshold,
		orientationThreshold: orientationThreshold,
	}
}

// ShouldRecord reports whether a waypoint taken at t with base pose
// `pose`, compared to the last appended waypoint, passes the time-or-
// displacement gate. Called by the state aggregator's recording task
// before constructing a Waypoint, since the full state is expensive to
// build just to discard it.
func (l *Log) ShouldRecord(t float64, pose waypoint.Pose2D) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shouldRecordLocked(t, pose)
}

func (l *Log) shouldRecordLocked(t float64, pose waypoint.Pose2D) bool {
	if !l.hasLast || len(l.waypoints) == 0 {
		return true
	}
	last := l.waypoints[len(l.waypoints)-1]
	if t-last.T >= l.recordInterval.Seconds() {
		return true
	}
	posDelta, oriDelta := waypoint.Delta(last.BasePose, pose)
	return posDelta > l.positionThreshold || oriDelta > l.orientationThreshold
}

// Append records wp unconditionally, dropping the oldest waypoint on
// overflow (FIFO). Callers gate with ShouldRecord first; Append itself
// does not re-check the gate so a caller can force a record (e.g. on
// lease grant) if it chooses to call Append directly.
func (l *Log) Append(wp waypoint.Waypoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waypoints = append(l.waypoints, wp)
	if len(l.waypoints) > l.maxWaypoints {
		l.waypoints = l.waypoints[len(l.waypoints)-l.maxWaypoints:]
	}
	l.lastRecordedAt = wp.T
	l.hasLast = true
}

// Len returns the current number of recorded waypoints.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waypoints)
}

// Get returns the waypoint at idx, or false if out of range.
func (l *Log) Get(idx int) (waypoint.Waypoint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx < 0 || idx >= len(l.waypoints) {
		return waypoint.Waypoint{}, false
	}
	return l.waypoints[idx], true
}

// Snapshot returns an immutable copy of the full sequence.
func (l *Log) Snapshot() []waypoint.Waypoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]waypoint.Waypoint, len(l.waypoints))
	copy(out, l.waypoints)
	return out
}

// Truncate keeps only the first keepN waypoints, discarding the rest.
// Used by the rewind orchestrator after a successful replay (§4.F step 7).
func (l *Log) Truncate(keepN int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if keepN < 0 {
		keepN = 0
	}
	if keepN >= len(l.waypoints) {
		return
	}
	l.waypoints = l.waypoints[:keepN]
	if len(l.waypoints) == 0 {
		l.hasLast = false
	}
}

// Clear empties the log. Called on lease grant, reset-on-release
// completion, and explicitly via the API.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waypoints = nil
	l.hasLast = false
}

// FindLastSafe returns the largest index whose base pose lies inside
// bounds, or false if every waypoint is out of bounds or the log is
// empty. Used by the rewind orchestrator's "to-safe" target mode.
func (l *Log) FindLastSafe(bounds Bounds) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.waypoints) - 1; i >= 0; i-- {
		if bounds.contains(l.waypoints[i].BasePose) {
			return i, true
		}
	}
	return 0, false
}
