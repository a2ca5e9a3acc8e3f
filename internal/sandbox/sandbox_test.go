// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sandbox

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/robotlab/robotd/internal/apierr"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available on this host")
	}
}

func testConfig() config.Sandbox {
	return config.Sandbox{
		InterpreterPath:  "python3",
		DefaultTimeout:   2 * time.Second,
		TerminationGrace: 100 * time.Millisecond,
		HistorySize:      2,
	}
}

func newRunner(cfg config.Sandbox, remaining LeaseRemaining) *Runner {
	return New(
		func() config.Sandbox { return cfg },
		func() string { return "lease-123" },
		func() string { return "http://127.0.0.1:9000" },
		remaining,
		bus.NewMemoryBus(),
	)
}

func TestRunner_ExecuteRunsAndCapturesOutput(t *testing.T) {
	requirePython(t)
	r := newRunner(testConfig(), nil)

	res, err := r.Execute(context.Background(), Request{Code: "print('hello-sandbox')"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Contains(t, res.Stdout, "hello-sandbox")
	assert.False(t, r.IsRunning())
}

func TestRunner_ExecuteRejectsDeniedCode(t *testing.T) {
	r := newRunner(testConfig(), nil)

	_, err := r.Execute(context.Background(), Request{Code: "import subprocess\n"})
	require.Error(t, err)
	var rej *apierr.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, apierr.RInvalidInput, rej.Reason)
	assert.False(t, r.IsRunning())
}

func TestRunner_SecondExecuteReturnsConflict(t *testing.T) {
	requirePython(t)
	r := newRunner(testConfig(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Execute(context.Background(), Request{Code: "import time\ntime.sleep(0.3)\n"})
	}()

	require.Eventually(t, r.IsRunning, time.Second, time.Millisecond)

	_, err := r.Execute(context.Background(), Request{Code: "print(1)"})
	require.Error(t, err)
	var rej *apierr.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, apierr.RConflict, rej.Reason)

	<-done
}

func TestRunner_StopTerminatesRunningExecution(t *testing.T) {
	requirePython(t)
	r := newRunner(testConfig(), nil)

	resCh := make(chan Result, 1)
	go func() {
		res, _ := r.Execute(context.Background(), Request{Code: "import time\ntime.sleep(5)\n"})
		resCh <- res
	}()

	require.Eventually(t, r.IsRunning, time.Second, time.Millisecond)
	start := time.Now()
	r.Stop(apierr.StopManual)

	select {
	case res := <-resCh:
		assert.Equal(t, StatusStopped, res.Status)
		assert.Less(t, time.Since(start), 3*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not stop after Stop()")
	}
}

func TestRunner_TimeoutCapsToLeaseRemaining(t *testing.T) {
	requirePython(t)
	cfg := testConfig()
	cfg.DefaultTimeout = 10 * time.Second
	remaining := func() (time.Duration, bool) { return 100 * time.Millisecond, true }
	r := newRunner(cfg, remaining)

	res, err := r.Execute(context.Background(), Request{Code: "import time\ntime.sleep(5)\n"})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, res.Status)
}

func TestRunner_HistoryRetainsLastN(t *testing.T) {
	requirePython(t)
	r := newRunner(testConfig(), nil)

	for i := 0; i < 3; i++ {
		_, err := r.Execute(context.Background(), Request{Code: "print('ok')"})
		require.NoError(t, err)
	}

	hist := r.History()
	assert.Len(t, hist, 2)
}

func TestRunner_TailReflectsLiveOutputWhileRunning(t *testing.T) {
	requirePython(t)
	r := newRunner(testConfig(), nil)

	go func() {
		_, _ = r.Execute(context.Background(), Request{Code: "import time\nprint('first')\ntime.sleep(0.5)\n"})
	}()

	require.Eventually(t, func() bool {
		_, text, ok := r.Tail()
		return ok && len(text) > 0
	}, time.Second, 10*time.Millisecond)

	_, text, ok := r.Tail()
	require.True(t, ok)
	assert.Contains(t, text, "first")

	require.Eventually(t, func() bool { return !r.IsRunning() }, 2*time.Second, 10*time.Millisecond)
}
