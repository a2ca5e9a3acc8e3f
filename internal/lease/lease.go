// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lease is the single-holder exclusive access token with a FIFO
// waiting queue, idle detection, and a reset-on-release lifecycle hook
// (§3 "Lease", §4.D).
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robotlab/robotd/internal/apierr"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/fsm"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/metrics"
)

// ErrQueueCleared is returned to a queued Acquire call whose wait was
// cut short by ClearQueue.
var ErrQueueCleared = errors.New("lease: queue cleared")

// State is one of the four lease-manager states (§3 "Lease manager state machine").
type State string

const (
	StateFree      State = "FREE"
	StateHeld      State = "HELD"
	StateResetting State = "RESETTING"
	StatePaused    State = "PAUSED"
)

// Event drives the internal FSM used purely for state bookkeeping and
// metrics; the actual acquire/release/idle logic lives in Manager's
// methods under its own mutex, since the transitions here interleave
// with queue admission in ways a generic guard/action pair can't express.
type Event string

const (
	eventAcquire Event = "acquire"
	eventRelease Event = "release"
	eventRevoke  Event = "revoke"
	eventResetDone Event = "reset_done"
	eventPause   Event = "pause"
	eventResume  Event = "resume"
)

// Lease is the current grant: an opaque token plus bookkeeping. The
// public status endpoint never reveals LeaseID.
type Lease struct {
	LeaseID   string
	Holder    string
	GrantedAt time.Time
	LastCmdAt time.Time
	Warned    bool
}

// AcquireResult is returned by Acquire, whether granted immediately,
// after a queue wait, or because the caller already holds the lease.
type AcquireResult struct {
	Status             string  `json:"status"` // granted|already_held
	LeaseID            string  `json:"lease_id"`
	MaxDurationSeconds float64 `json:"max_duration_s,omitempty"`
	RemainingSeconds   float64 `json:"remaining_s,omitempty"`
}

type queueEntry struct {
	holder    string
	result    chan AcquireResult
	cancelled bool
}

// QueuePosition is a caller-visible queue entry (§3 "Queue entry").
type QueuePosition struct {
	Position int    `json:"position"`
	Holder   string `json:"holder"`
}

// PublicStatus is the status() payload; it never includes the lease id.
type PublicStatus struct {
	Holder         string          `json:"holder,omitempty"`
	RemainingS     float64         `json:"remaining_s,omitempty"`
	QueueLength    int             `json:"queue_length"`
	Queue          []QueuePosition `json:"queue"`
	Resetting      bool            `json:"resetting"`
	Paused         bool            `json:"paused"`
}

// MotionProvider supplies the idle checker with when the robot last
// moved; *state.Aggregator satisfies this.
type MotionProvider interface {
	LastMovedAt() time.Time
}

// Config is the subset of configuration the lease manager reads every
// tick. Manager takes a function so config hot-reloads are observed
// without restarting the idle checker.
type Config struct {
	MaxDuration    time.Duration
	IdleTimeout    time.Duration
	WarningGrace   time.Duration
	CheckInterval  time.Duration
	ResetOnRelease bool
}

// ResetHook runs when a lease ends and reset_on_release is configured:
// canonically, rewind to origin and clear the trajectory log.
type ResetHook func(ctx context.Context) error

// ExecutionCanceller stops a running sandbox execution, if any, before a
// reset proceeds. *sandbox.Runner satisfies this.
type ExecutionCanceller interface {
	Stop(reason apierr.StopReason)
}

const (
	// TopicFeedback is the bus topic carrying lease lifecycle events,
	// consumed by the /ws/feedback relay.
	TopicFeedback = "lease.feedback"
)

// Manager owns all lease and queue state behind a single mutex, per §3
// "Ownership".
type Manager struct {
	mu      sync.Mutex
	current *Lease
	queue   []*queueEntry
	paused  bool

	machine *fsm.Machine[State, Event]

	cfgFn     func() Config
	motion    MotionProvider
	resetHook ResetHook
	canceller ExecutionCanceller
	bus       bus.Bus

	checkCancel context.CancelFunc
	wg          sync.WaitGroup
}

// New builds a lease Manager. cfgFn is called on every idle-checker tick
// so config updates (e.g. via PUT knobs) take effect without restart.
func New(cfgFn func() Config, motion MotionProvider, b bus.Bus) *Manager {
	m := &Manager{cfgFn: cfgFn, motion: motion, bus: b}
	machine, err := fsm.New(StateFree, []fsm.Transition[State, Event]{
		{From: StateFree, Event: eventAcquire, To: StateHeld},
		{From: StateHeld, Event: eventRelease, To: StateFree},
		{From: StateHeld, Event: eventRevoke, To: StateResetting},
		{From: StateResetting, Event: eventResetDone, To: StateFree},
		{From: StateFree, Event: eventPause, To: StatePaused},
		{From: StatePaused, Event: eventResume, To: StateFree},
		{From: StatePaused, Event: eventAcquire, To: StateHeld},
		{From: StateHeld, Event: eventPause, To: StateHeld}, // pause flag independent of HELD
		{From: StateResetting, Event: eventPause, To: StateResetting},
	})
	if err != nil {
		panic("lease: invalid fsm definition: " + err.Error())
	}
	m.machine = machine
	return m
}

// SetOnLeaseEnd installs the reset-on-release hook (rewind + clear log).
func (m *Manager) SetOnLeaseEnd(hook ResetHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetHook = hook
}

// SetExecutionCanceller installs the sandbox execution stop hook invoked
// before a reset proceeds, so a running user script does not fight a
// rewind-to-origin.
func (m *Manager) SetExecutionCanceller(c ExecutionCanceller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceller = c
}

// Start launches the idle checker. Call Stop to shut it down cleanly.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.checkCancel = cancel
	m.wg.Add(1)
	go m.checkLoop(ctx)
}

// Stop cancels the idle checker and waits for it to exit.
func (m *Manager) Stop() {
	if m.checkCancel != nil {
		m.checkCancel()
	}
	m.wg.Wait()
}

// checkLoop is the periodic idle/warning/max-duration check, grounded on
// lease.py's _check_loop. A holder counts as active if it has issued a
// command recently or the robot is still physically moving from one.
func (m *Manager) checkLoop(ctx context.Context) {
	defer m.wg.Done()
	cfg := m.cfgFn()
	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkOnce()
		}
	}
}

func (m *Manager) checkOnce() {
	cfg := m.cfgFn()
	now := time.Now()

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	lastActive := m.current.LastCmdAt
	if m.motion != nil {
		if moved := m.motion.LastMovedAt(); moved.After(lastActive) {
			lastActive = moved
		}
	}
	idleFor := now.Sub(lastActive)
	heldFor := now.Sub(m.current.GrantedAt)
	warned := m.current.Warned

	if cfg.MaxDuration > 0 && heldFor >= cfg.MaxDuration {
		m.mu.Unlock()
		m.revoke(string(apierr.RevokeMaxDuration), apierr.StopMaxDuration)
		return
	}
	if cfg.IdleTimeout > 0 && idleFor >= cfg.IdleTimeout+cfg.WarningGrace {
		m.mu.Unlock()
		m.revoke(string(apierr.RevokeIdleTimeout), apierr.StopIdleTimeout)
		return
	}
	if cfg.IdleTimeout > 0 && !warned && idleFor >= cfg.IdleTimeout {
		m.current.Warned = true
		m.mu.Unlock()
		m.publish(map[string]any{"type": "lease_warning", "seconds_remaining": cfg.WarningGrace.Seconds()})
		return
	}
	m.mu.Unlock()
}

// Acquire grants the lease immediately if FREE, returns already_held if
// the caller already holds it, or queues and blocks until granted or the
// context is cancelled.
func (m *Manager) Acquire(ctx context.Context, holder string) (AcquireResult, error) {
	m.mu.Lock()
	if m.current == nil && !m.resettingLocked() && !m.paused {
		res := m.grantLocked(holder)
		m.mu.Unlock()
		return res, nil
	}
	if m.current != nil && m.current.Holder == holder {
		res := AcquireResult{
			Status:           "already_held",
			LeaseID:          m.current.LeaseID,
			RemainingSeconds: m.remainingLocked(),
		}
		m.mu.Unlock()
		return res, nil
	}

	entry := &queueEntry{holder: holder, result: make(chan AcquireResult, 1)}
	m.queue = append(m.queue, entry)
	m.mu.Unlock()

	metrics.IncLeaseAcquire("queued")

	select {
	case res, ok := <-entry.result:
		if !ok {
			return AcquireResult{}, ErrQueueCleared
		}
		return res, nil
	case <-ctx.Done():
		m.mu.Lock()
		entry.cancelled = true
		m.mu.Unlock()
		return AcquireResult{}, ctx.Err()
	}
}

func (m *Manager) resettingLocked() bool {
	return m.machine.State() == StateResetting
}

func (m *Manager) grantLocked(holder string) AcquireResult {
	now := time.Now()
	l := &Lease{
		LeaseID:   uuid.NewString(),
		Holder:    holder,
		GrantedAt: now,
		LastCmdAt: now,
	}
	m.current = l
	if _, err := m.machine.Fire(context.Background(), eventAcquire); err != nil {
		xglog.WithComponent("lease").Warn().Err(err).Msg("fsm transition rejected on grant")
	}
	cfg := m.cfgFn()
	metrics.IncLeaseAcquire("granted")
	m.publish(map[string]any{
		"type":           "lease_granted",
		"lease_id":       l.LeaseID,
		"max_duration_s": cfg.MaxDuration.Seconds(),
	})
	return AcquireResult{Status: "granted", LeaseID: l.LeaseID, MaxDurationSeconds: cfg.MaxDuration.Seconds()}
}

func (m *Manager) remainingLocked() float64 {
	if m.current == nil {
		return 0
	}
	cfg := m.cfgFn()
	elapsed := time.Since(m.current.GrantedAt)
	remaining := cfg.MaxDuration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining.Seconds()
}

// Release clears the current lease if leaseID matches, then either
// enters RESETTING (running the reset hook in the background) or admits
// the queue head immediately.
func (m *Manager) Release(leaseID string) (status string) {
	m.mu.Lock()
	if m.current == nil || m.current.LeaseID != leaseID {
		m.mu.Unlock()
		return "not_found"
	}
	heldFor := time.Since(m.current.GrantedAt).Seconds()
	m.current = nil
	cfg := m.cfgFn()
	if cfg.ResetOnRelease && m.resetHook != nil {
		if _, err := m.machine.Fire(context.Background(), eventRevoke); err != nil {
			xglog.WithComponent("lease").Warn().Err(err).Msg("fsm transition rejected on release-reset")
		}
		m.mu.Unlock()
		metrics.IncLeaseRelease("explicit", heldFor)
		m.runReset(apierr.StopReleased)
		return "released_resetting"
	}
	if _, err := m.machine.Fire(context.Background(), eventRelease); err != nil {
		xglog.WithComponent("lease").Warn().Err(err).Msg("fsm transition rejected on release")
	}
	m.tryGrantNextLocked()
	m.mu.Unlock()
	metrics.IncLeaseRelease("explicit", heldFor)
	return "released"
}

// Extend refreshes last_cmd_at and clears the warned flag.
func (m *Manager) Extend(leaseID string) (remaining float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.LeaseID != leaseID {
		return 0, false
	}
	m.current.LastCmdAt = time.Now()
	m.current.Warned = false
	return m.remainingLocked(), true
}

// RecordCommand refreshes last_cmd_at on every successful gateway dispatch.
func (m *Manager) RecordCommand() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.LastCmdAt = time.Now()
		m.current.Warned = false
	}
}

// ValidateLease reports whether leaseID matches the current lease.
func (m *Manager) ValidateLease(leaseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.LeaseID == leaseID
}

// ClearQueue cancels all queued entries and revokes the current lease
// with reason queue_cleared.
func (m *Manager) ClearQueue() {
	m.mu.Lock()
	queue := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, e := range queue {
		e.cancelled = true
		close(e.result)
	}
	m.revoke(string(apierr.RevokeQueueCleared), apierr.StopQueueCleared)
}

// PauseQueue suppresses queue admission without revoking the current lease.
func (m *Manager) PauseQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

// ResumeQueue re-enables admission and grants the queue head if FREE.
func (m *Manager) ResumeQueue() {
	m.mu.Lock()
	m.paused = false
	if m.current == nil && !m.resettingLocked() {
		m.tryGrantNextLocked()
	}
	m.mu.Unlock()
}

// Status returns the public snapshot, which never includes the lease id.
func (m *Manager) Status() PublicStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := make([]QueuePosition, 0, len(m.queue))
	pos := 1
	for _, e := range m.queue {
		if e.cancelled {
			continue
		}
		queue = append(queue, QueuePosition{Position: pos, Holder: e.holder})
		pos++
	}

	st := PublicStatus{
		QueueLength: len(queue),
		Queue:       queue,
		Resetting:   m.resettingLocked(),
		Paused:      m.paused,
	}
	if m.current != nil {
		st.Holder = m.current.Holder
		st.RemainingS = m.remainingLocked()
	}
	return st
}

// tryGrantNextLocked admits the next non-cancelled queue entry, if the
// queue is non-empty and admission is not paused. Caller holds m.mu.
func (m *Manager) tryGrantNextLocked() {
	if m.paused {
		return
	}
	for len(m.queue) > 0 {
		entry := m.queue[0]
		m.queue = m.queue[1:]
		if entry.cancelled {
			continue
		}
		res := m.grantLocked(entry.holder)
		entry.result <- res
		close(entry.result)
		return
	}
}

// revoke clears the current lease (if any) for an internal reason and
// either starts the reset task or admits the queue head. stopReason is
// forwarded to a running sandbox execution, if any, before the reset
// hook runs.
func (m *Manager) revoke(reason string, stopReason apierr.StopReason) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	holder := m.current.Holder
	heldFor := time.Since(m.current.GrantedAt).Seconds()
	m.current = nil
	cfg := m.cfgFn()
	m.mu.Unlock()

	xglog.WithComponent("lease").Info().Str("holder", holder).Str("reason", reason).Msg("lease revoked")
	m.publish(map[string]any{"type": "lease_revoked", "reason": reason})
	metrics.IncLeaseRelease(reason, heldFor)

	if cfg.ResetOnRelease && m.resetHook != nil {
		if _, err := m.machine.Fire(context.Background(), eventRevoke); err != nil {
			xglog.WithComponent("lease").Warn().Err(err).Msg("fsm transition rejected on revoke")
		}
		m.runReset(stopReason)
		return
	}
	if _, err := m.machine.Fire(context.Background(), eventRelease); err != nil {
		xglog.WithComponent("lease").Warn().Err(err).Msg("fsm transition rejected on revoke-no-reset")
	}
	m.mu.Lock()
	m.tryGrantNextLocked()
	m.mu.Unlock()
}

// runReset cancels any running sandbox execution, then executes the
// reset hook in the background; regardless of outcome it clears
// RESETTING and admits the queue head — a failed hook must not deadlock
// the lease manager.
func (m *Manager) runReset(stopReason apierr.StopReason) {
	go func() {
		m.mu.Lock()
		canceller := m.canceller
		m.mu.Unlock()
		if canceller != nil {
			canceller.Stop(stopReason)
		}

		m.publish(map[string]any{"type": "resetting_to_home"})
		ctx := context.Background()
		err := m.resetHook(ctx)
		if err != nil {
			xglog.WithComponent("lease").Error().Err(err).Msg("reset hook failed")
			m.publish(map[string]any{"type": "reset_failed", "error": err.Error()})
		} else {
			m.publish(map[string]any{"type": "reset_complete"})
		}

		m.mu.Lock()
		if _, ferr := m.machine.Fire(context.Background(), eventResetDone); ferr != nil {
			xglog.WithComponent("lease").Warn().Err(ferr).Msg("fsm transition rejected on reset done")
		}
		m.tryGrantNextLocked()
		m.mu.Unlock()
	}()
}

func (m *Manager) publish(event map[string]any) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(context.Background(), TopicFeedback, event)
}
