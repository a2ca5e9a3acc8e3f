// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package trajectory

import (
	"testing"
	"time"

	"github.com/robotlab/robotd/internal/waypoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wp(t, x float64) waypoint.Waypoint {
	return waypoint.Waypoint{T: t, BasePose: waypoint.Pose2D{X: x}}
}

func TestLog_BoundEnforced(t *testing.T) {
	l := New(3, 0, 0, 0) // gate always passes: interval 0
	for i := 0; i < 10; i++ {
		l.Append(wp(float64(i), float64(i)))
	}
	require.Equal(t, 3, l.Len())
	last, ok := l.Get(2)
	require.True(t, ok)
	assert.Equal(t, 9.0, last.T)
}

func TestLog_ShouldRecordGating(t *testing.T) {
	l := New(100, 100*time.Millisecond, 0.05, 0.1)
	assert.True(t, l.ShouldRecord(0, waypoint.Pose2D{}))
	l.Append(wp(0, 0))

	// Too soon, too close: should not record.
	assert.False(t, l.ShouldRecord(0.01, waypoint.Pose2D{X: 0.01}))

	// Time threshold elapsed: should record.
	assert.True(t, l.ShouldRecord(0.2, waypoint.Pose2D{X: 0.01}))

	// Displacement threshold exceeded even though time has not elapsed.
	assert.True(t, l.ShouldRecord(0.01, waypoint.Pose2D{X: 0.2}))
}

func TestLog_TruncateAndClear(t *testing.T) {
	l := New(100, 0, 0, 0)
	for i := 0; i < 5; i++ {
		l.Append(wp(float64(i), float64(i)))
	}
	l.Truncate(2)
	require.Equal(t, 2, l.Len())

	l.Clear()
	require.Equal(t, 0, l.Len())
	assert.True(t, l.ShouldRecord(0, waypoint.Pose2D{}))
}

func TestLog_FindLastSafe(t *testing.T) {
	l := New(100, 0, 0, 0)
	poses := []float64{0, 0.5, 2.0, 0.4, 3.0}
	for i, x := range poses {
		l.Append(wp(float64(i), x))
	}
	bounds := Bounds{XMin: -1, XMax: 1, YMin: -1, YMax: 1}
	idx, ok := l.FindLastSafe(bounds)
	require.True(t, ok)
	assert.Equal(t, 3, idx)

	empty := New(100, 0, 0, 0)
	_, ok = empty.FindLastSafe(bounds)
	assert.False(t, ok)

	allOut := New(100, 0, 0, 0)
	allOut.Append(wp(0, 5))
	_, ok = allOut.FindLastSafe(bounds)
	assert.False(t, ok)
}

func TestLog_Snapshot(t *testing.T) {
	l := New(100, 0, 0, 0)
	l.Append(wp(0, 0))
	snap := l.Snapshot()
	require.Len(t, snap, 1)
	snap[0].T = 999 // mutating the copy must not affect the log
	got, _ := l.Get(0)
	assert.Equal(t, 0.0, got.T)
}
