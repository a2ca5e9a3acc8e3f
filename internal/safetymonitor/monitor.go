// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package safetymonitor is the background boundary/collision watchdog
// (§4.G): while auto-rewind is enabled and no rewind is in progress, it
// ticks at a configured interval, checks the base against the
// workspace rectangle and against commanded-vs-actual velocity
// divergence, and triggers an auto-rewind on either condition.
package safetymonitor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/config"
	"github.com/robotlab/robotd/internal/envelope"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/metrics"
	"github.com/robotlab/robotd/internal/rewind"
	"github.com/robotlab/robotd/internal/state"
)

// TopicFeedback is the bus topic carrying safety_triggered events.
const TopicFeedback = "safety.feedback"

// cmdFreshness is the hardcoded "commanded velocity must be recent"
// window from the original implementation; it is not configurable.
const cmdFreshness = 1 * time.Second

// StateProvider is the subset of *state.Aggregator the monitor reads.
type StateProvider interface {
	Current() state.Snapshot
}

// VelocitySource reports the most recent base velocity-mode command,
// satisfied by *command.Gateway.
type VelocitySource interface {
	LastBaseVelocityCommand() (vx, vy, omega float64, at time.Time, active bool)
}

// BaseStopper is the capability the monitor needs to halt the base on
// trigger, before handing off to the rewind orchestrator.
type BaseStopper interface {
	Stop(ctx context.Context) error
}

// Rewinder is the subset of *rewind.Orchestrator the monitor drives.
type Rewinder interface {
	Run(ctx context.Context, req rewind.Request) rewind.Result
	IsRewinding() bool
}

// Monitor runs the §4.G background task.
type Monitor struct {
	cfgFn           func() config.SafetyMonitor
	rewindPercentFn func() float64
	envFn           func() envelope.Envelope
	state           StateProvider
	velocity        VelocitySource
	base            BaseStopper
	rewinder        Rewinder
	bus             bus.Bus
	clock           func() time.Time

	collisionMu       sync.Mutex
	collisionStart    time.Time
	hasCollisionStart bool

	collisionDetected atomic.Bool
	boundaryViolated  atomic.Bool
	autoRewindCount   atomic.Int64
	lastAutoRewindAt  atomic.Int64 // unix nanos, 0 if never
	lastTriggerAt     atomic.Int64 // unix nanos, 0 if never

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Monitor. All *Fn arguments are read once per tick so
// config hot-reloads take effect without restart.
func New(
	cfgFn func() config.SafetyMonitor,
	rewindPercentFn func() float64,
	envFn func() envelope.Envelope,
	stateProvider StateProvider,
	velocity VelocitySource,
	base BaseStopper,
	rewinder Rewinder,
	b bus.Bus,
) *Monitor {
	return &Monitor{
		cfgFn:           cfgFn,
		rewindPercentFn: rewindPercentFn,
		envFn:           envFn,
		state:           stateProvider,
		velocity:        velocity,
		base:            base,
		rewinder:        rewinder,
		bus:             b,
		clock:           time.Now,
	}
}

// Start launches the monitor loop if not already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
	xglog.WithComponent("safetymonitor").Info().Msg("started")
}

// Stop cancels the monitor loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()
	m.wg.Wait()
	xglog.WithComponent("safetymonitor").Info().Msg("stopped")
}

func (m *Monitor) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context) {
	for {
		cfg := m.cfgFn()
		interval := cfg.Interval
		if interval <= 0 {
			interval = 500 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			m.tick(ctx, cfg)
		}
	}
}

func (m *Monitor) tick(ctx context.Context, cfg config.SafetyMonitor) {
	if !cfg.Enabled || m.rewinder.IsRewinding() {
		return
	}

	now := m.clock()
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 3 * time.Second
	}
	if last := m.lastTriggerAt.Load(); last != 0 && now.Sub(time.Unix(0, last)) < cooldown {
		return
	}

	triggered := false
	reason := ""

	if m.checkBoundary() {
		triggered = true
		reason = "boundary"
	}

	if !triggered && m.checkCollision(now, cfg) {
		triggered = true
		reason = "collision"
	}

	if triggered {
		m.triggerRewind(ctx, reason, cfg)
	}
}

// checkBoundary reuses the command gateway's own pose-envelope check
// against the base's currently reported pose (theta is irrelevant to
// the rectangle test, so it is passed as 0).
func (m *Monitor) checkBoundary() bool {
	snap := m.state.Current()
	if !snap.Base.Connected {
		m.boundaryViolated.Store(false)
		return false
	}
	env := m.envFn()
	out := env.CheckBasePose(snap.Base.Pose.X, snap.Base.Pose.Y, 0) != nil
	m.boundaryViolated.Store(out)
	return out
}

func (m *Monitor) checkCollision(now time.Time, cfg config.SafetyMonitor) bool {
	vx, vy, _, at, active := m.velocity.LastBaseVelocityCommand()
	if !active || now.Sub(at) > cmdFreshness {
		m.resetCollisionState()
		return false
	}

	cmdSpeed := math.Hypot(vx, vy)
	if cmdSpeed < cfg.CollisionMinCmdSpeed {
		m.resetCollisionState()
		return false
	}

	snap := m.state.Current()
	actualSpeed := math.Hypot(snap.Base.Velocity[0], snap.Base.Velocity[1])
	ratio := actualSpeed / cmdSpeed

	if ratio < cfg.CollisionVelocityThreshold {
		m.collisionMu.Lock()
		defer m.collisionMu.Unlock()
		if !m.hasCollisionStart {
			m.collisionStart = now
			m.hasCollisionStart = true
			return false
		}
		if now.Sub(m.collisionStart) >= cfg.CollisionGracePeriod {
			m.collisionDetected.Store(true)
			return true
		}
		return false
	}

	m.resetCollisionState()
	return false
}

func (m *Monitor) resetCollisionState() {
	m.collisionMu.Lock()
	m.hasCollisionStart = false
	m.collisionMu.Unlock()
	m.collisionDetected.Store(false)
}

func (m *Monitor) triggerRewind(ctx context.Context, reason string, cfg config.SafetyMonitor) {
	m.lastTriggerAt.Store(m.clock().UnixNano())
	pct := m.rewindPercentFn()
	log := xglog.WithComponent("safetymonitor")
	log.Warn().Str("reason", reason).Float64("percentage", pct).Msg("triggering auto-rewind")
	metrics.IncSafetyTrigger(reason)

	if m.base != nil {
		if err := m.base.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("failed to stop base")
		}
	}

	res := m.rewinder.Run(ctx, rewind.Request{
		Components: rewind.DefaultComponents,
		Target:     rewind.Target{Percentage: &pct},
	})
	if res.Success {
		m.autoRewindCount.Add(1)
		m.lastAutoRewindAt.Store(m.clock().UnixNano())
		log.Info().Int("steps", res.StepsRewound).Msg("auto-rewind complete")
	} else {
		log.Error().Str("error", res.Error).Msg("auto-rewind failed")
	}

	m.publish(map[string]any{
		"type":   "safety_triggered",
		"reason": reason,
		"success": res.Success,
	})

	m.resetCollisionState()
	_ = cfg
}

func (m *Monitor) publish(event map[string]any) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(context.Background(), TopicFeedback, event)
}

// Status is the monitor's observable state, mirroring the original's
// get_status() payload plus the latched boundary flag (§4.G, §4
// Supplemented features).
type Status struct {
	Running                    bool     `json:"is_running"`
	AutoRewindEnabled          bool     `json:"auto_rewind_enabled"`
	AutoRewindPercentage       float64  `json:"auto_rewind_percentage"`
	MonitorIntervalSeconds     float64  `json:"monitor_interval"`
	AutoRewindCount            int64    `json:"auto_rewind_count"`
	LastAutoRewindTime         *float64 `json:"last_auto_rewind_time"`
	IsCurrentlyRewinding       bool     `json:"is_currently_rewinding"`
	CollisionDetected          bool     `json:"collision_detected"`
	CollisionVelocityThreshold float64  `json:"collision_velocity_threshold"`
	CollisionMinCmdSpeed       float64  `json:"collision_min_cmd_speed"`
	CollisionGracePeriodSeconds float64 `json:"collision_grace_period"`
	BoundaryViolated           bool     `json:"boundary_violated"`
}

// Status reports the monitor's current observable state.
func (m *Monitor) Status() Status {
	cfg := m.cfgFn()
	var lastRewind *float64
	if ns := m.lastAutoRewindAt.Load(); ns != 0 {
		secs := float64(ns) / 1e9
		lastRewind = &secs
	}
	return Status{
		Running:                      m.isRunning(),
		AutoRewindEnabled:            cfg.Enabled,
		AutoRewindPercentage:         m.rewindPercentFn(),
		MonitorIntervalSeconds:       cfg.Interval.Seconds(),
		AutoRewindCount:              m.autoRewindCount.Load(),
		LastAutoRewindTime:           lastRewind,
		IsCurrentlyRewinding:         m.rewinder.IsRewinding(),
		CollisionDetected:            m.collisionDetected.Load(),
		CollisionVelocityThreshold:   cfg.CollisionVelocityThreshold,
		CollisionMinCmdSpeed:         cfg.CollisionMinCmdSpeed,
		CollisionGracePeriodSeconds:  cfg.CollisionGracePeriod.Seconds(),
		BoundaryViolated:             m.boundaryViolated.Load(),
	}
}
