// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"sync"
)

// FakeSupervisor is an in-memory Supervisor for local development and
// tests, since the real process supervisor is out of scope (see the
// package doc comment). Every known service starts "running" and stays
// that way until explicitly stopped.
type FakeSupervisor struct {
	mu       sync.Mutex
	running  map[string]bool
	restarts map[string]int
}

// NewFakeSupervisor builds a FakeSupervisor with every name in deps
// reporting as running.
func NewFakeSupervisor(deps map[string][]string) *FakeSupervisor {
	running := make(map[string]bool, len(deps))
	for name := range deps {
		running[name] = true
	}
	return &FakeSupervisor{running: running, restarts: map[string]int{}}
}

func (s *FakeSupervisor) StartService(ctx context.Context, name string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
	return Status{Name: name, Running: true, PID: 1}, nil
}

func (s *FakeSupervisor) StopService(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	return nil
}

func (s *FakeSupervisor) RestartService(ctx context.Context, name string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
	s.restarts[name]++
	return Status{Name: name, Running: true, PID: 1}, nil
}

func (s *FakeSupervisor) GetStatus(ctx context.Context, name string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Name: name, Running: s.running[name], PID: 1}, nil
}

// RestartCount reports how many times RestartService has been called
// for name, for test assertions.
func (s *FakeSupervisor) RestartCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts[name]
}

// CrashMonitorAdapter narrows a Supervisor down to the two-method
// contract crashmonitor.Monitor depends on, discarding the Status
// RestartService otherwise returns (the monitor only cares whether the
// restart succeeded).
type CrashMonitorAdapter struct {
	Supervisor Supervisor
}

func (a CrashMonitorAdapter) StopService(ctx context.Context, name string) error {
	return a.Supervisor.StopService(ctx, name)
}

func (a CrashMonitorAdapter) RestartService(ctx context.Context, name string) error {
	_, err := a.Supervisor.RestartService(ctx, name)
	return err
}
