// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package state

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robotlab/robotd/internal/backend"
	"github.com/robotlab/robotd/internal/bus"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/metrics"
	"github.com/robotlab/robotd/internal/trajectory"
	"github.com/robotlab/robotd/internal/waypoint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// StateTopic is the bus topic the /ws/state relay subscribes to.
const StateTopic = "state.snapshot"

// Aggregator runs the §4.C poll loop: it reconnects disconnected
// backends at a bounded rate, polls connected backends concurrently,
// computes derived quantities, and publishes an atomic Snapshot.
type Aggregator struct {
	backends backend.Set
	log      *trajectory.Log
	bus      bus.Bus

	pollInterval      time.Duration
	reconnectLimiters map[string]*rate.Limiter

	snapshot    atomic.Pointer[Snapshot]
	lastMovedAt atomic.Int64 // unix nanos

	clock func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New builds an Aggregator over the given backend set and trajectory
// log, publishing snapshots to the given bus.
func New(backends backend.Set, log *trajectory.Log, b bus.Bus, pollHz float64, reconnectInterval time.Duration) *Aggregator {
	if pollHz <= 0 {
		pollHz = 10
	}
	a := &Aggregator{
		backends:     backends,
		log:          log,
		bus:          b,
		pollInterval: time.Duration(float64(time.Second) / pollHz),
		clock:        time.Now,
		reconnectLimiters: map[string]*rate.Limiter{
			"arm":     rate.NewLimiter(rate.Every(reconnectInterval), 1),
			"base":    rate.NewLimiter(rate.Every(reconnectInterval), 1),
			"gripper": rate.NewLimiter(rate.Every(reconnectInterval), 1),
		},
	}
	a.snapshot.Store(&Snapshot{})
	return a
}

// Current returns the most recently published snapshot.
func (a *Aggregator) Current() Snapshot {
	return *a.snapshot.Load()
}

// LastMovedAt returns the last tick time at which MotorsMoving was
// true, consumed by the lease manager's idle detector.
func (a *Aggregator) LastMovedAt() time.Time {
	return time.Unix(0, a.lastMovedAt.Load())
}

// Run starts the poll loop and blocks until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.mu.Unlock()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			return nil
		case <-ticker.C:
			start := a.clock()
			a.tick(ctx)
			metrics.ObserveStatePoll(a.clock().Sub(start).Seconds())
		}
	}
}

// Stop cancels the poll loop if running.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Aggregator) tick(ctx context.Context) {
	a.reconnectIfNeeded(ctx, "arm", a.backends.Arm)
	a.reconnectIfNeeded(ctx, "base", a.backends.Base)
	a.reconnectIfNeeded(ctx, "gripper", a.backends.Gripper)

	var (
		armFrame, baseFrame, gripperFrame backend.Frame
	)

	g, gctx := errgroup.WithContext(ctx)
	if a.backends.Arm != nil && a.backends.Arm.IsConnected() {
		g.Go(func() error {
			f, err := a.backends.Arm.GetState(gctx)
			if err != nil {
				xglog.WithComponent("state").Warn().Err(err).Str("backend", "arm").Msg("get_state failed")
				return nil
			}
			armFrame = f
			return nil
		})
	}
	if a.backends.Base != nil && a.backends.Base.IsConnected() {
		g.Go(func() error {
			f, err := a.backends.Base.GetState(gctx)
			if err != nil {
				xglog.WithComponent("state").Warn().Err(err).Str("backend", "base").Msg("get_state failed")
				return nil
			}
			baseFrame = f
			return nil
		})
	}
	if a.backends.Gripper != nil && a.backends.Gripper.IsConnected() {
		g.Go(func() error {
			f, err := a.backends.Gripper.GetState(gctx)
			if err != nil {
				xglog.WithComponent("state").Warn().Err(err).Str("backend", "gripper").Msg("get_state failed")
				return nil
			}
			gripperFrame = f
			return nil
		})
	}
	_ = g.Wait() // per-tick backend faults are swallowed, never fatal to the aggregator

	snap := a.buildSnapshot(armFrame, baseFrame, gripperFrame)
	a.snapshot.Store(&snap)

	if snap.MotorsMoving {
		a.lastMovedAt.Store(a.clock().UnixNano())
	}

	if a.log != nil && a.log.ShouldRecord(snap.Timestamp, snap.Base.Pose) {
		a.log.Append(waypoint.Waypoint{
			T:            snap.Timestamp,
			BasePose:     snap.Base.Pose,
			ArmQ:         snap.Arm.Q,
			GripperWidth: snap.Gripper.Width,
		})
	}

	if a.bus != nil {
		_ = a.bus.Publish(ctx, StateTopic, snap)
	}
}

func (a *Aggregator) buildSnapshot(armFrame, baseFrame, gripperFrame backend.Frame) Snapshot {
	arm := ArmState{Connected: a.backends.Arm != nil && a.backends.Arm.IsConnected()}
	if q, ok := armFrame["q"].([7]float64); ok {
		arm.Q = q
	}
	if dq, ok := armFrame["dq"].([7]float64); ok {
		arm.DQ = dq
	}
	if mode, ok := armFrame["mode"].(int); ok {
		arm.Mode = mode
	}
	if eePose, ok := armFrame["ee_pose"].([16]float64); ok {
		arm.EEPoseBase = eePose
	}
	if eeWrench, ok := armFrame["ee_wrench"].([6]float64); ok {
		arm.EEWrench = eeWrench
	}

	base := BaseState{Connected: a.backends.Base != nil && a.backends.Base.IsConnected()}
	if pose, ok := baseFrame["pose"].([3]float64); ok {
		base.Pose = waypoint.Pose2D{X: pose[0], Y: pose[1], Theta: pose[2]}
	}
	if vel, ok := baseFrame["velocity"].([3]float64); ok {
		base.Velocity = vel
	}

	gripper := GripperState{Connected: a.backends.Gripper != nil && a.backends.Gripper.IsConnected()}
	if pos, ok := gripperFrame["position"].(uint8); ok {
		gripper.Position = pos
		gripper.Width = float64(pos) / 255.0
	}
	if moving, ok := gripperFrame["is_moving"].(bool); ok {
		gripper.IsMoving = moving
	}
	if detected, ok := gripperFrame["object_detected"].(bool); ok {
		gripper.ObjectDetected = detected
	}

	arm.EEPoseWorld = worldEEPose(base.Pose, arm.EEPoseBase)

	return Snapshot{
		Timestamp:    nowSeconds(a.clock),
		Base:         base,
		Arm:          arm,
		Gripper:      gripper,
		MotorsMoving: computeMotorsMoving(arm, base, gripper),
	}
}

func (a *Aggregator) reconnectIfNeeded(ctx context.Context, name string, b backend.Backend) {
	if b == nil || b.IsConnected() {
		return
	}
	lim := a.reconnectLimiters[name]
	if lim != nil && !lim.Allow() {
		return
	}
	if err := b.Connect(ctx); err != nil {
		metrics.IncBackendReconnect(name, "error")
		xglog.WithComponent("state").Warn().Err(err).Str("backend", name).Msg("reconnect failed")
		return
	}
	metrics.IncBackendReconnect(name, "ok")
}
