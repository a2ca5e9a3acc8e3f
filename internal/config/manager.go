// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/fsnotify/fsnotify"
)

// Manager holds the live Config behind an atomic pointer so every tick
// of every monitor reads a self-consistent snapshot, and PUT /rewind/config
// style mutations never race a reader mid-read (Design Note: "mutable
// global config that hot-updates").
type Manager struct {
	current      atomic.Pointer[Config]
	mu           sync.Mutex // serializes Update calls; readers never block on it
	overridePath string
	watcher      *fsnotify.Watcher
}

// NewManager creates a Manager seeded with initial. overridePath, if
// non-empty, is watched for a flat `KEY=value` file that is re-applied
// as an overlay on every write (see WatchOverrideFile).
func NewManager(initial Config, overridePath string) *Manager {
	m := &Manager{overridePath: overridePath}
	m.current.Store(&initial)
	return m
}

// Get returns the current configuration snapshot. Safe for concurrent use.
func (m *Manager) Get() Config {
	return *m.current.Load()
}

// Update atomically applies fn to a copy of the current configuration and
// swaps it in. fn must not retain the pointer it is given.
func (m *Manager) Update(fn func(*Config)) Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.Get()
	fn(&next)
	m.current.Store(&next)
	return next
}

// WatchOverrideFile starts an fsnotify watch on the override file's
// directory and re-applies it whenever the file changes. The override
// format is intentionally flat (`KEY=value` per line, `#` comments) —
// parsing a structured config file is out of scope; this exists only for
// operators who prefer file-based tuning of the same knobs env.go reads.
func (m *Manager) WatchOverrideFile(ctx context.Context) error {
	if m.overridePath == "" {
		return nil
	}

	if err := m.applyOverrideFile(); err != nil {
		xglog.WithComponent("config").Warn().Err(err).Msg("initial override file apply failed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create override watcher: %w", err)
	}
	m.watcher = watcher

	dir := filepath.Dir(m.overridePath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch override dir: %w", err)
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	logger := xglog.WithComponent("config")
	base := filepath.Base(m.overridePath)
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = m.watcher.Close()
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				if err := m.applyOverrideFile(); err != nil {
					logger.Error().Err(err).Msg("override file reload failed")
				} else {
					logger.Info().Msg("override file reloaded")
				}
			})
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("override watcher error")
		}
	}
}

// Stop closes the override watcher, if any.
func (m *Manager) Stop() {
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
}

func (m *Manager) applyOverrideFile() error {
	f, err := os.Open(m.overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	overrides := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		overrides[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	m.Update(func(c *Config) { applyOverrides(c, overrides) })
	return nil
}

// applyOverrides maps a flat key set onto the subset of Config that
// operators are expected to tune live: rewind and safety-monitor knobs,
// per §9's PUT /rewind/config and /rewind/monitor/config, plus the lease
// idle timeout and max duration.
func applyOverrides(c *Config, o map[string]string) {
	if v, ok := o["rewind.chunk_size"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Rewind.ChunkSize = n
		}
	}
	if v, ok := o["rewind.chunk_duration"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.Rewind.ChunkDuration = d
		}
	}
	if v, ok := o["rewind.auto_rewind_percentage"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Rewind.AutoRewindPercentage = f
		}
	}
	if v, ok := o["safety_monitor.enabled"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SafetyMonitor.Enabled = b
		}
	}
	if v, ok := o["safety_monitor.collision_velocity_threshold"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.SafetyMonitor.CollisionVelocityThreshold = f
		}
	}
	if v, ok := o["safety_monitor.collision_min_cmd_speed"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.SafetyMonitor.CollisionMinCmdSpeed = f
		}
	}
	if v, ok := o["safety_monitor.collision_grace_period"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.SafetyMonitor.CollisionGracePeriod = d
		}
	}
	if v, ok := o["lease.idle_timeout"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.Lease.IdleTimeout = d
		}
	}
	if v, ok := o["lease.max_duration"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.Lease.MaxDuration = d
		}
	}
}
