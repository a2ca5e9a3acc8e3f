// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sandbox runs user-submitted code as a child interpreter
// process (§4.I "Code sandbox"): it screens the source against a
// deny-list, launches at most one execution at a time in its own
// process group, enforces a timeout capped to the lease's remaining
// duration, and retains a bounded execution history for the dashboard.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robotlab/robotd/internal/apierr"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/config"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/metrics"
	"github.com/robotlab/robotd/internal/procgroup"
)

// TopicFeedback is the bus topic carrying execution lifecycle events.
const TopicFeedback = "sandbox.feedback"

// hardKillTimeout bounds how long KillGroup waits for SIGKILL to take
// effect after the grace period, on top of the configured grace itself.
const hardKillTimeout = 5 * time.Second

// Status is one of the run's lifecycle states, mirroring the original
// implementation's ExecutionStatus enum.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusStopped   Status = "stopped"
)

// Request is a single execute call's parameters.
type Request struct {
	Code        string
	ExecutionID string
	Timeout     time.Duration // zero means use the configured default
}

// Result is one completed (or in-flight) execution's record.
type Result struct {
	ExecutionID string    `json:"execution_id"`
	Status      Status    `json:"status"`
	Stdout      string    `json:"stdout"`
	Stderr      string    `json:"stderr"`
	ExitCode    int       `json:"exit_code"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// LeaseRemaining reports how much time is left on the current lease, so
// an execution's effective timeout can be capped to it (§4.I "Launch").
type LeaseRemaining func() (time.Duration, bool)

// Runner executes at most one user script at a time. Concurrent
// Execute calls beyond the first return a conflict rejection.
type Runner struct {
	cfgFn          func() config.Sandbox
	leaseIDFn      func() string
	serverURLFn    func() string
	leaseRemaining LeaseRemaining
	bus            bus.Bus
	clock          func() time.Time

	mu        sync.Mutex
	running   bool
	current   *inflight
	history   []Result
	lastError string
}

type inflight struct {
	executionID string
	cancel      context.CancelFunc
	pid         int
	stopReason  apierr.StopReason
	out         *safeBuffer
}

// safeBuffer is a mutex-guarded byte buffer so the live-tail reader and
// the process-output copier can run concurrently without racing.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// New builds a Runner. serverURLFn and leaseIDFn supply the callback
// coordinates the wrapped script's SDK client needs to reach back into
// the core over HTTP (§4.I "Launch" step 1b).
func New(cfgFn func() config.Sandbox, leaseIDFn func() string, serverURLFn func() string, leaseRemaining LeaseRemaining, b bus.Bus) *Runner {
	return &Runner{
		cfgFn:          cfgFn,
		leaseIDFn:      leaseIDFn,
		serverURLFn:    serverURLFn,
		leaseRemaining: leaseRemaining,
		bus:            b,
		clock:          time.Now,
	}
}

// Validate runs the deny-list screen without executing anything
// (§4.I "Validation", the /code/validate endpoint).
func (r *Runner) Validate(code string) ValidationResult {
	return Validate(code)
}

// IsRunning reports whether an execution is currently in flight.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Execute validates and launches code as a child interpreter process,
// blocking until it completes, is stopped, or times out. At most one
// execution runs at a time; a second call while one is in flight returns
// a conflict rejection (§4.I "Termination").
func (r *Runner) Execute(ctx context.Context, req Request) (Result, error) {
	validation := Validate(req.Code)
	if !validation.Valid {
		detail := "rejected by deny-list screen"
		if len(validation.Issues) > 0 {
			detail = fmt.Sprintf("line %d: %s", validation.Issues[0].Line, validation.Issues[0].Reason)
		}
		return Result{}, apierr.New("", apierr.RInvalidInput, detail)
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Result{}, apierr.New("", apierr.RConflict, "an execution is already in progress")
	}
	r.running = true
	r.mu.Unlock()

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	cfg := r.cfgFn()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if r.leaseRemaining != nil {
		if remaining, ok := r.leaseRemaining(); ok && remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	out := &safeBuffer{}
	inf := &inflight{executionID: executionID, cancel: cancel, out: out}

	r.mu.Lock()
	r.current = inf
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		r.running = false
		r.current = nil
		r.mu.Unlock()
	}()

	log := xglog.WithComponent("sandbox")
	log.Info().Str("execution_id", executionID).Dur("timeout", timeout).Msg("starting execution")
	r.publish(map[string]any{"type": "execution_started", "execution_id": executionID})

	result := r.run(runCtx, inf, req.Code, cfg)
	result.ExecutionID = executionID

	r.recordHistory(result)
	metrics.ObserveSandboxExecution(string(result.Status), result.EndedAt.Sub(result.StartedAt).Seconds())
	r.publish(map[string]any{"type": "execution_complete", "execution_id": executionID, "status": string(result.Status)})

	return result, nil
}

func (r *Runner) run(ctx context.Context, inf *inflight, code string, cfg config.Sandbox) Result {
	started := r.clock()

	tmpFile, err := r.writeWrappedSource(code)
	if err != nil {
		return Result{Status: StatusFailed, StartedAt: started, EndedAt: r.clock(), Error: err.Error()}
	}
	defer os.Remove(tmpFile)

	interpreter := cfg.InterpreterPath
	if interpreter == "" {
		interpreter = "python3"
	}

	cmd := exec.Command(interpreter, tmpFile)
	procgroup.Set(cmd)
	cmd.Env = append(os.Environ(),
		"LEASE_ID="+r.leaseIDFn(),
		"SERVER_URL="+r.serverURLFn(),
	)
	cmd.Stdout = inf.out
	cmd.Stderr = inf.out

	if err := cmd.Start(); err != nil {
		return Result{Status: StatusFailed, StartedAt: started, EndedAt: r.clock(), Error: err.Error()}
	}
	inf.pid = cmd.Process.Pid

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		ended := r.clock()
		out := inf.out.String()
		if err != nil {
			return Result{Status: StatusFailed, Stdout: out, StartedAt: started, EndedAt: ended, Error: err.Error(), ExitCode: exitCode(err)}
		}
		return Result{Status: StatusCompleted, Stdout: out, StartedAt: started, EndedAt: ended}

	case <-ctx.Done():
		grace := cfg.TerminationGrace
		if grace <= 0 {
			grace = 2 * time.Second
		}
		_ = procgroup.KillGroup(inf.pid, grace, hardKillTimeout)
		<-waitCh
		ended := r.clock()
		status := StatusTimeout
		if inf.stopReason != "" {
			status = StatusStopped
		}
		return Result{Status: status, Stdout: inf.out.String(), StartedAt: started, EndedAt: ended, Error: ctx.Err().Error()}
	}
}

// Stop terminates the in-flight execution, if any (§4.I "Termination").
// It satisfies lease.ExecutionCanceller and crashmonitor.Canceller.
func (r *Runner) Stop(reason apierr.StopReason) {
	r.mu.Lock()
	inf := r.current
	r.mu.Unlock()
	if inf == nil {
		return
	}
	inf.stopReason = reason
	xglog.WithComponent("sandbox").Info().Str("execution_id", inf.executionID).Str("reason", string(reason)).Msg("stopping execution")
	inf.cancel()
}

// Tail returns the live-captured stdout/stderr of the in-flight
// execution, or empty if nothing is running (§4.I "Output & history").
func (r *Runner) Tail() (executionID string, text string, ok bool) {
	r.mu.Lock()
	inf := r.current
	r.mu.Unlock()
	if inf == nil {
		return "", "", false
	}
	return inf.executionID, inf.out.String(), true
}

// History returns the last N completed execution records, most recent
// last, per config.Sandbox.HistorySize.
func (r *Runner) History() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Runner) recordHistory(res Result) {
	cfg := r.cfgFn()
	size := cfg.HistorySize
	if size <= 0 {
		size = 10
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, res)
	if len(r.history) > size {
		r.history = r.history[len(r.history)-size:]
	}
}

func (r *Runner) publish(event map[string]any) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(context.Background(), TopicFeedback, event)
}

// prelude is generated ahead of the user's source. It exposes the
// callback coordinates the SDK's rewind client reads from the
// environment; the SDK itself lives outside this process's scope.
// The injected client library deliberately avoids the very HTTP-client
// libraries the validator's deny-set rejects, since it shares the
// child's import namespace.
const preludeTemplate = `import os as _os

_LEASE_ID = _os.environ.get("LEASE_ID", "")
_SERVER_URL = _os.environ.get("SERVER_URL", "")

try:
    import robot_sdk
    robot_sdk.configure(lease_id=_LEASE_ID, server_url=_SERVER_URL)
except ImportError:
    pass

`

func (r *Runner) writeWrappedSource(code string) (string, error) {
	f, err := os.CreateTemp("", "robotd-sandbox-*.py")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(preludeTemplate + code); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return f.Name(), nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
