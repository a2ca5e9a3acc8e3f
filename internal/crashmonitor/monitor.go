// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package crashmonitor is the arm driver-crash monitor (§4.H): it
// watches the arm driver's free-running state-publish counter and, on
// a sustained stall, runs an eight-step recovery sequence (cancel
// execution, disconnect, restart the driver process through the
// supervisor, reconnect, and trigger a safety rewind).
package crashmonitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robotlab/robotd/internal/apierr"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/config"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/metrics"
	"github.com/robotlab/robotd/internal/rewind"
	"github.com/robotlab/robotd/internal/state"
)

// TopicFeedback is the bus topic carrying recovery lifecycle events.
const TopicFeedback = "crashmonitor.feedback"

// driverServiceName is the supervisor service this monitor manages.
const driverServiceName = "franka_server"

// ArmCounter is the capability this monitor watches for stalls,
// satisfied by *backend.FakeArm and real driver adapters alike.
type ArmCounter interface {
	StateCount() uint64
}

// ArmConnector is the capability used to tear down and rebuild the
// arm backend connection during recovery.
type ArmConnector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Canceller cancels any in-flight sandbox execution, satisfied by the
// sandbox executor. Kept as a narrow capability interface (matching
// lease.ExecutionCanceller) to avoid a direct dependency on the
// sandbox package.
type Canceller interface {
	Stop(reason apierr.StopReason)
}

// Supervisor is the narrow subset of supervisor.Supervisor this
// monitor needs: stop the driver, then restart and block until it is
// confirmed up (or the implementation's own timeout elapses).
type Supervisor interface {
	StopService(ctx context.Context, name string) error
	RestartService(ctx context.Context, name string) error
}

// Rewinder is the subset of *rewind.Orchestrator this monitor drives.
type Rewinder interface {
	Run(ctx context.Context, req rewind.Request) rewind.Result
}

// StateProvider is read to confirm a valid arm reading reappeared
// after reconnect.
type StateProvider interface {
	Current() state.Snapshot
}

// Monitor runs the §4.H background task.
type Monitor struct {
	cfgFn              func() config.CrashMonitor
	rewindEnabledFn     func() bool
	rewindPercentFn     func() float64
	arm                 ArmCounter
	armConn             ArmConnector
	canceller           Canceller
	supervisor          Supervisor
	rewinder            Rewinder
	stateProvider       StateProvider
	bus                 bus.Bus
	clock               func() time.Time

	downSinceNanos   atomic.Int64 // 0 if not down
	wasConnected     atomic.Bool
	hasLastCount     atomic.Bool
	lastCount        atomic.Uint64

	isRecovering       atomic.Bool
	recoverySuppressed atomic.Bool
	recoveryCount      atomic.Int64
	lastRecoveryNanos  atomic.Int64 // 0 if never

	errMu    sync.Mutex
	lastErr  string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Monitor.
func New(
	cfgFn func() config.CrashMonitor,
	rewindEnabledFn func() bool,
	rewindPercentFn func() float64,
	arm ArmCounter,
	armConn ArmConnector,
	canceller Canceller,
	sup Supervisor,
	rewinder Rewinder,
	stateProvider StateProvider,
	b bus.Bus,
) *Monitor {
	return &Monitor{
		cfgFn:           cfgFn,
		rewindEnabledFn: rewindEnabledFn,
		rewindPercentFn: rewindPercentFn,
		arm:             arm,
		armConn:         armConn,
		canceller:       canceller,
		supervisor:      sup,
		rewinder:        rewinder,
		stateProvider:   stateProvider,
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
	xglog.WithComponent("crashmonitor").Info().Msg("started")
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
	xglog.WithComponent("crashmonitor").Info().Msg("stopped")
}

func (m *Monitor) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SuppressRecovery tells the monitor the driver is being stopped on
// purpose; it stops treating a stalled counter as a crash.
func (m *Monitor) SuppressRecovery() {
	m.recoverySuppressed.Store(true)
	m.downSinceNanos.Store(0)
}

// AllowRecovery re-arms detection after an intentional stop/start,
// resetting the counter baseline so the next tick starts fresh.
func (m *Monitor) AllowRecovery() {
	m.recoverySuppressed.Store(false)
	m.wasConnected.Store(false)
	m.hasLastCount.Store(false)
}

func (m *Monitor) loop(ctx context.Context) {
	for {
		cfg := m.cfgFn()
		interval := cfg.TickInterval
		if interval <= 0 {
			interval = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if !m.isRecovering.Load() {
				m.checkArmState(cfg)
				if m.shouldTriggerRecovery(cfg) {
					m.runRecovery(ctx, cfg)
				}
			}
		}
	}
}

func (m *Monitor) checkArmState(cfg config.CrashMonitor) {
	if m.arm == nil {
		return
	}
	count := m.arm.StateCount()
	now := m.clock()

	if !m.hasLastCount.Load() || count != m.lastCount.Load() {
		m.lastCount.Store(count)
		m.hasLastCount.Store(true)
		m.downSinceNanos.Store(0)
		if count > 0 {
			m.wasConnected.Store(true)
		}
		return
	}

	if m.wasConnected.Load() && m.downSinceNanos.Load() == 0 {
		m.downSinceNanos.Store(now.UnixNano())
		xglog.WithComponent("crashmonitor").Warn().Uint64("state_count", count).Msg("arm state stream stalled")
	}
}

func (m *Monitor) shouldTriggerRecovery(cfg config.CrashMonitor) bool {
	if m.recoverySuppressed.Load() {
		return false
	}
	downSince := m.downSinceNanos.Load()
	if downSince == 0 {
		return false
	}
	now := m.clock()
	graceDown := cfg.DownGracePeriod
	if graceDown <= 0 {
		graceDown = 3 * time.Second
	}
	if now.Sub(time.Unix(0, downSince)) < graceDown {
		return false
	}
	if last := m.lastRecoveryNanos.Load(); last != 0 {
		cooldown := cfg.RecoveryCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		if now.Sub(time.Unix(0, last)) < cooldown {
			return false
		}
	}
	return true
}

// runRecovery executes the eight-step sequence (§4.H). Each step logs
// and continues past non-fatal errors except where the next step
// depends on the previous one's success.
func (m *Monitor) runRecovery(ctx context.Context, cfg config.CrashMonitor) {
	m.isRecovering.Store(true)
	defer func() {
		m.isRecovering.Store(false)
		m.downSinceNanos.Store(0)
	}()

	log := xglog.WithComponent("crashmonitor")
	log.Warn().Msg("starting arm recovery sequence")
	m.publish(map[string]any{"type": "recovery_started"})

	// 1. cancel any running code execution
	if m.canceller != nil {
		m.canceller.Stop(apierr.StopArmError)
	}

	// 2. disconnect, bounded by DisconnectTimeout
	if m.armConn != nil {
		disconnectTimeout := cfg.DisconnectTimeout
		if disconnectTimeout <= 0 {
			disconnectTimeout = 5 * time.Second
		}
		dctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
		done := make(chan error, 1)
		go func() { done <- m.armConn.Disconnect(dctx) }()
		select {
		case err := <-done:
			if err != nil {
				log.Warn().Err(err).Msg("disconnect returned an error, continuing")
			}
		case <-dctx.Done():
			log.Warn().Msg("disconnect timed out, continuing")
		}
		cancel()
	}

	// 3. stop the driver process via the supervisor
	if m.supervisor != nil {
		if err := m.supervisor.StopService(ctx, driverServiceName); err != nil {
			log.Warn().Err(err).Msg("supervisor stop failed")
		}
	} else {
		log.Warn().Msg("no supervisor configured, skipping driver process stop")
	}

	// 4. external error recovery is the supervisor's restart path in
	// this design (the arm driver clears its own protective-stop state
	// as part of coming back up); no separate step here.

	// 5. restart, bounded by ServerStartTimeout.
	if m.supervisor != nil {
		startTimeout := cfg.ServerStartTimeout
		if startTimeout <= 0 {
			startTimeout = 15 * time.Second
		}
		rctx, cancel := context.WithTimeout(ctx, startTimeout)
		err := m.supervisor.RestartService(rctx, driverServiceName)
		cancel()
		if err != nil {
			m.setLastError(err.Error())
			log.Error().Err(err).Msg("failed to restart arm driver")
			metrics.IncCrashRecovery("restart_failed")
			return
		}
	}

	// 6. reconnect, reset baseline
	if m.armConn != nil {
		if err := m.armConn.Connect(ctx); err != nil {
			m.setLastError(err.Error())
			log.Error().Err(err).Msg("reconnect failed")
			metrics.IncCrashRecovery("reconnect_failed")
			return
		}
	}
	m.hasLastCount.Store(false)

	// 7. wait for a valid state reading
	stateReadyTimeout := cfg.StateReadyTimeout
	if stateReadyTimeout <= 0 {
		stateReadyTimeout = 10 * time.Second
	}
	if !m.waitForArmState(ctx, stateReadyTimeout) {
		m.setLastError("arm state not available after reconnect")
		log.Error().Msg("arm state not available after reconnect")
		metrics.IncCrashRecovery("state_not_ready")
		return
	}

	// 8. trigger a safety rewind
	if m.rewindEnabledFn() && m.rewinder != nil {
		pct := m.rewindPercentFn()
		if pct <= 0 {
			pct = 10
		}
		res := m.rewinder.Run(ctx, rewind.Request{
			Components: rewind.DefaultComponents,
			Target:     rewind.Target{Percentage: &pct},
		})
		if !res.Success {
			log.Error().Str("error", res.Error).Msg("post-recovery rewind failed")
		}
	}

	m.recoveryCount.Add(1)
	m.lastRecoveryNanos.Store(m.clock().UnixNano())
	m.setLastError("")
	log.Info().Int64("recovery_count", m.recoveryCount.Load()).Msg("recovery complete")
	metrics.IncCrashRecovery("success")
	m.publish(map[string]any{"type": "recovery_complete"})
}

func (m *Monitor) waitForArmState(ctx context.Context, timeout time.Duration) bool {
	deadline := m.clock().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.stateProvider != nil && m.stateProvider.Current().Arm.Connected {
			return true
		}
		if m.clock().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (m *Monitor) setLastError(s string) {
	m.errMu.Lock()
	m.lastErr = s
	m.errMu.Unlock()
}

func (m *Monitor) getLastError() string {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.lastErr
}

func (m *Monitor) publish(event map[string]any) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(context.Background(), TopicFeedback, event)
}

// Status is the monitor's observable state (§4 Supplemented features:
// a recovery attempt counter and last error, not just a boolean).
type Status struct {
	Running            bool    `json:"is_running"`
	IsRecovering       bool    `json:"is_recovering"`
	RecoverySuppressed bool    `json:"recovery_suppressed"`
	ArmDownDetected    bool    `json:"arm_down_detected"`
	ArmDownSince       *float64 `json:"arm_down_since"`
	RecoveryCount      int64   `json:"recovery_count"`
	LastRecoveryTime   *float64 `json:"last_recovery_time"`
	LastError          string  `json:"last_error,omitempty"`
}

// Status reports the monitor's current observable state.
func (m *Monitor) Status() Status {
	var downSince *float64
	if ns := m.downSinceNanos.Load(); ns != 0 {
		v := float64(ns) / 1e9
		downSince = &v
	}
	var lastRecovery *float64
	if ns := m.lastRecoveryNanos.Load(); ns != 0 {
		v := float64(ns) / 1e9
		lastRecovery = &v
	}
	return Status{
		Running:            m.isRunning(),
		IsRecovering:       m.isRecovering.Load(),
		RecoverySuppressed: m.recoverySuppressed.Load(),
		ArmDownDetected:    m.downSinceNanos.Load() != 0,
		ArmDownSince:       downSince,
		RecoveryCount:      m.recoveryCount.Load(),
		LastRecoveryTime:   lastRecovery,
		LastError:          m.getLastError(),
	}
}
