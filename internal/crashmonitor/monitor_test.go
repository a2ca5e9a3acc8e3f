// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package crashmonitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robotlab/robotd/internal/apierr"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/config"
	"github.com/robotlab/robotd/internal/rewind"
	"github.com/robotlab/robotd/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.CrashMonitor {
	return config.CrashMonitor{
		TickInterval:       5 * time.Millisecond,
		DownGracePeriod:    10 * time.Millisecond,
		RecoveryCooldown:   50 * time.Millisecond,
		DisconnectTimeout:  100 * time.Millisecond,
		ServerStartTimeout: 100 * time.Millisecond,
		StateReadyTimeout:  100 * time.Millisecond,
	}
}

type stalledCounter struct{ n uint64 }

func (c *stalledCounter) StateCount() uint64 { return c.n }

type fakeConn struct {
	connectCalls, disconnectCalls atomic.Int64
	connectErr, disconnectErr     error
}

func (f *fakeConn) Connect(context.Context) error {
	f.connectCalls.Add(1)
	return f.connectErr
}

func (f *fakeConn) Disconnect(context.Context) error {
	f.disconnectCalls.Add(1)
	return f.disconnectErr
}

type fakeCanceller struct{ calls atomic.Int64 }

func (f *fakeCanceller) Stop(apierr.StopReason) { f.calls.Add(1) }

type fakeSupervisor struct {
	stopCalls, restartCalls atomic.Int64
	restartErr              error
}

func (f *fakeSupervisor) StopService(context.Context, string) error {
	f.stopCalls.Add(1)
	return nil
}

func (f *fakeSupervisor) RestartService(context.Context, string) error {
	f.restartCalls.Add(1)
	return f.restartErr
}

type fakeRewinder struct {
	calls  atomic.Int64
	result rewind.Result
}

func (f *fakeRewinder) Run(context.Context, rewind.Request) rewind.Result {
	f.calls.Add(1)
	return f.result
}

type fakeStateProvider struct{ connected atomic.Bool }

func (f *fakeStateProvider) Current() state.Snapshot {
	return state.Snapshot{Arm: state.ArmState{Connected: f.connected.Load()}}
}

func newMonitor(cfg config.CrashMonitor, arm ArmCounter, conn *fakeConn, sup *fakeSupervisor, rw *fakeRewinder, sp *fakeStateProvider) *Monitor {
	return New(
		func() config.CrashMonitor { return cfg },
		func() bool { return true },
		func() float64 { return 10 },
		arm, conn, &fakeCanceller{}, sup, rw, sp, bus.NewMemoryBus(),
	)
}

func TestMonitor_StallTriggersFullRecovery(t *testing.T) {
	cfg := testConfig()
	arm := &stalledCounter{n: 5}
	conn := &fakeConn{}
	sup := &fakeSupervisor{}
	rw := &fakeRewinder{result: rewind.Result{Success: true, StepsRewound: 1}}
	sp := &fakeStateProvider{}
	sp.connected.Store(true)

	m := newMonitor(cfg, arm, conn, sup, rw, sp)
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return m.Status().RecoveryCount > 0 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, conn.disconnectCalls.Load())
	assert.EqualValues(t, 1, conn.connectCalls.Load())
	assert.EqualValues(t, 1, sup.stopCalls.Load())
	assert.EqualValues(t, 1, sup.restartCalls.Load())
	assert.EqualValues(t, 1, rw.calls.Load())
	assert.False(t, m.Status().IsRecovering)
	assert.Empty(t, m.Status().LastError)
}

func TestMonitor_NoCounterAdvanceWhenNeverConnected(t *testing.T) {
	cfg := testConfig()
	arm := &stalledCounter{n: 0}
	conn := &fakeConn{}
	sup := &fakeSupervisor{}
	rw := &fakeRewinder{result: rewind.Result{Success: true}}
	sp := &fakeStateProvider{}

	m := newMonitor(cfg, arm, conn, sup, rw, sp)
	m.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	assert.Zero(t, m.Status().RecoveryCount)
	assert.False(t, m.Status().ArmDownDetected)
}

func TestMonitor_SuppressedNeverRecovers(t *testing.T) {
	cfg := testConfig()
	arm := &stalledCounter{n: 5}
	conn := &fakeConn{}
	sup := &fakeSupervisor{}
	rw := &fakeRewinder{result: rewind.Result{Success: true}}
	sp := &fakeStateProvider{}
	sp.connected.Store(true)

	m := newMonitor(cfg, arm, conn, sup, rw, sp)
	m.SuppressRecovery()
	m.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	assert.Zero(t, m.Status().RecoveryCount)
	assert.True(t, m.Status().RecoverySuppressed)
}

func TestMonitor_RestartFailureRecordsLastError(t *testing.T) {
	cfg := testConfig()
	arm := &stalledCounter{n: 5}
	conn := &fakeConn{}
	sup := &fakeSupervisor{restartErr: errors.New("driver refused to start")}
	rw := &fakeRewinder{result: rewind.Result{Success: true}}
	sp := &fakeStateProvider{}
	sp.connected.Store(true)

	m := newMonitor(cfg, arm, conn, sup, rw, sp)
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return m.Status().LastError != "" }, time.Second, time.Millisecond)
	assert.Zero(t, m.Status().RecoveryCount)
	assert.Zero(t, rw.calls.Load(), "rewind must not trigger when restart failed")
}

func TestMonitor_CooldownBlocksSecondRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.RecoveryCooldown = 10 * time.Second
	arm := &stalledCounter{n: 5}
	conn := &fakeConn{}
	sup := &fakeSupervisor{}
	rw := &fakeRewinder{result: rewind.Result{Success: true}}
	sp := &fakeStateProvider{}
	sp.connected.Store(true)

	m := newMonitor(cfg, arm, conn, sup, rw, sp)
	m.Start(context.Background())
	require.Eventually(t, func() bool { return m.Status().RecoveryCount > 0 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	assert.EqualValues(t, 1, m.Status().RecoveryCount, "cooldown must block a second recovery attempt")
}
