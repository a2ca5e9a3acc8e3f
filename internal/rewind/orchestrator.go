// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rewind is the rewind orchestrator (§4.F): it drives the robot
// backward along the recorded trajectory, coordinating base and arm so
// they remain in time-lock, and truncates the log to the new position
// on success.
package rewind

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robotlab/robotd/internal/backend"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/config"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/metrics"
	"github.com/robotlab/robotd/internal/trajectory"
	"github.com/robotlab/robotd/internal/waypoint"
)

// TopicFeedback is the bus topic carrying rewind lifecycle events.
const TopicFeedback = "rewind.feedback"

// Component names a subsystem a rewind call moves.
type Component string

const (
	ComponentBase    Component = "base"
	ComponentArm     Component = "arm"
	ComponentGripper Component = "gripper"
)

// DefaultComponents is §4.F's "default {base, arm}".
var DefaultComponents = []Component{ComponentBase, ComponentArm}

// Target selects one of the four ways §4.F names a rewind endpoint.
type Target struct {
	Steps      *int
	Percentage *float64
	ToSafe     bool
	Index      *int
}

// Request is a single rewind call's parameters.
type Request struct {
	Components []Component
	Target     Target
	DryRun     bool
}

// Result mirrors the original implementation's RewindResult payload.
type Result struct {
	Success           bool        `json:"success"`
	StepsRewound      int         `json:"steps_rewound"`
	StartWaypointIdx  int         `json:"start_waypoint_idx"`
	EndWaypointIdx    int         `json:"end_waypoint_idx"`
	WaypointsExecuted []int       `json:"waypoints_executed"`
	ComponentsRewound []Component `json:"components_rewound"`
	Error             string      `json:"error,omitempty"`
}

// Orchestrator drives chunked reverse replay. Only one replay runs at a
// time; concurrent callers serialize on replayMu (§5 "Rewind orchestrator").
type Orchestrator struct {
	log      *trajectory.Log
	backends backend.Set
	cfgFn    func() config.Rewind
	wsFn     func() config.Workspace
	bus      bus.Bus
	clock    func() time.Time

	replayMu    sync.Mutex
	isRewinding atomic.Bool
}

// New builds an Orchestrator over the given trajectory log and backend set.
func New(log *trajectory.Log, backends backend.Set, cfgFn func() config.Rewind, wsFn func() config.Workspace, b bus.Bus) *Orchestrator {
	return &Orchestrator{log: log, backends: backends, cfgFn: cfgFn, wsFn: wsFn, bus: b, clock: time.Now}
}

// IsRewinding reports whether a replay is currently in progress; the
// safety monitor and driver-crash monitor skip their actions while true.
func (o *Orchestrator) IsRewinding() bool {
	return o.isRewinding.Load()
}

// Run executes a rewind request. It blocks until the replay (or dry-run
// computation) completes.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	components := req.Components
	if len(components) == 0 {
		components = DefaultComponents
	}

	o.replayMu.Lock()
	defer o.replayMu.Unlock()

	snapshot := o.log.Snapshot()
	n := len(snapshot)
	if n == 0 {
		return Result{Success: true, ComponentsRewound: components}
	}

	k, err := o.resolveTarget(snapshot, req.Target)
	if err != nil {
		return Result{Success: false, Error: err.Error(), ComponentsRewound: components}
	}

	if k >= n-1 {
		return Result{Success: true, StepsRewound: 0, StartWaypointIdx: n - 1, EndWaypointIdx: n - 1, ComponentsRewound: components}
	}

	replayIdx := make([]int, 0, n-1-k)
	for i := n - 1; i >= k; i-- {
		replayIdx = append(replayIdx, i)
	}

	if req.DryRun {
		return Result{
			Success:           true,
			StepsRewound:      n - 1 - k,
			StartWaypointIdx:  n - 1,
			EndWaypointIdx:    k,
			WaypointsExecuted: replayIdx,
			ComponentsRewound: components,
		}
	}

	o.isRewinding.Store(true)
	defer o.isRewinding.Store(false)

	cfg := o.cfgFn()
	o.publish(map[string]any{"type": "rewind_started", "start": n - 1, "end": k})
	metrics.IncRewindTriggered("manual", len(replayIdx))

	completed := 0
	var execErr error
	for start := 0; start < len(replayIdx); start += cfg.ChunkSize {
		end := start + cfg.ChunkSize
		if end > len(replayIdx) {
			end = len(replayIdx)
		}
		chunk := replayIdx[start:end]
		if execErr = o.runChunk(ctx, chunk, snapshot, components, cfg); execErr != nil {
			break
		}
		completed = end
	}

	if execErr != nil {
		xglog.WithComponent("rewind").Warn().Err(execErr).Int("completed", completed).Msg("rewind aborted")
		metrics.IncRewindAborted("backend_error")
		o.publish(map[string]any{"type": "rewind_aborted", "error": execErr.Error(), "completed_steps": completed})
		return Result{
			Success:           false,
			StepsRewound:      completed,
			StartWaypointIdx:  n - 1,
			EndWaypointIdx:    k,
			WaypointsExecuted: replayIdx[:completed],
			ComponentsRewound: components,
			Error:             execErr.Error(),
		}
	}

	o.log.Truncate(k + 1)
	o.publish(map[string]any{"type": "rewind_complete", "steps_rewound": n - 1 - k})

	return Result{
		Success:           true,
		StepsRewound:      n - 1 - k,
		StartWaypointIdx:  n - 1,
		EndWaypointIdx:    k,
		WaypointsExecuted: replayIdx,
		ComponentsRewound: components,
	}
}

// resolveTarget implements §4.F step 1's four target modes.
func (o *Orchestrator) resolveTarget(snapshot []waypoint.Waypoint, t Target) (int, error) {
	n := len(snapshot)
	switch {
	case t.Steps != nil:
		k := n - 1 - *t.Steps
		if k < 0 {
			k = 0
		}
		return k, nil
	case t.Percentage != nil:
		k := n - 1 - int(math.Round(*t.Percentage/100*float64(n)))
		if k < 0 {
			k = 0
		}
		return k, nil
	case t.ToSafe:
		ws := o.wsFn()
		idx, ok := o.log.FindLastSafe(trajectory.Bounds{XMin: ws.BaseXMin, XMax: ws.BaseXMax, YMin: ws.BaseYMin, YMax: ws.BaseYMax})
		if !ok {
			return 0, fmt.Errorf("no_safe_waypoint: every recorded waypoint is outside the workspace")
		}
		return idx, nil
	case t.Index != nil:
		idx := *t.Index
		if idx < 0 {
			idx = 0
		}
		if idx > n-1 {
			idx = n - 1
		}
		return idx, nil
	default:
		return 0, fmt.Errorf("no rewind target specified")
	}
}

// runChunk drives the base and arm concurrently through one chunk of
// waypoints, then waits up to chunk_duration+settle for arrival.
func (o *Orchestrator) runChunk(ctx context.Context, chunkIdx []int, snapshot []waypoint.Waypoint, components []Component, cfg config.Rewind) error {
	chunk := make([]waypoint.Waypoint, len(chunkIdx))
	for i, idx := range chunkIdx {
		chunk[i] = snapshot[idx]
	}

	chunkCtx, cancel := context.WithTimeout(ctx, cfg.ChunkDuration+cfg.SettleTimeout)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if hasComponent(components, ComponentBase) && o.backends.Base != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			final := chunk[len(chunk)-1].BasePose
			if err := o.backends.Base.ExecuteAction(chunkCtx, final.X, final.Y, final.Theta); err != nil {
				errCh <- fmt.Errorf("base rewind chunk: %w", err)
			}
		}()
	}

	if hasComponent(components, ComponentArm) && o.backends.Arm != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.streamArmChunk(chunkCtx, chunk, cfg); err != nil {
				errCh <- fmt.Errorf("arm rewind chunk: %w", err)
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// streamArmChunk sends the current arm pose a few times as an
// establishing burst, then interpolates across the chunk's waypoints
// with a cubic ease-in/ease-out profile at the configured command rate
// (§4.F step 5).
func (o *Orchestrator) streamArmChunk(ctx context.Context, chunk []waypoint.Waypoint, cfg config.Rewind) error {
	arm := o.backends.Arm
	if arm == nil || len(chunk) == 0 {
		return nil
	}

	period := time.Duration(float64(time.Second) / cfg.CommandRateHz)
	burstState, err := arm.GetState(ctx)
	if err != nil {
		return err
	}
	startQ, _ := burstState["q"].([7]float64)

	const establishingBurst = 3
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for i := 0; i < establishingBurst; i++ {
		if err := arm.SendJointPosition(ctx, startQ, false); err != nil {
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	prev := startQ
	for _, wp := range chunk {
		target := wp.ArmQ
		stepsInSegment := int(cfg.ChunkDuration.Seconds()*cfg.CommandRateHz) / len(chunk)
		if stepsInSegment < 1 {
			stepsInSegment = 1
		}
		for step := 1; step <= stepsInSegment; step++ {
			frac := easeInOutCubic(float64(step) / float64(stepsInSegment))
			q := lerpJoints(prev, target, frac)
			if err := arm.SendJointPosition(ctx, q, false); err != nil {
				return err
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		prev = target
	}
	return nil
}

func hasComponent(components []Component, c Component) bool {
	for _, x := range components {
		if x == c {
			return true
		}
	}
	return false
}

// easeInOutCubic is the smoothstep-style cubic ease used to avoid a
// step-wise arm motion between adjacent waypoints (§4.F step 5).
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	f := -2*t + 2
	return 1 - (f*f*f)/2
}

func lerpJoints(a, b [7]float64, frac float64) [7]float64 {
	var out [7]float64
	for i := range out {
		out[i] = a[i] + (b[i]-a[i])*frac
	}
	return out
}

func (o *Orchestrator) publish(event map[string]any) {
	if o.bus == nil {
		return
	}
	_ = o.bus.Publish(context.Background(), TopicFeedback, event)
}
