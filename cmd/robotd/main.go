// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// robotd is the mobile-manipulator control-plane daemon: it wires the
// lease manager, command gateway, rewind orchestrator, state
// aggregator, safety and crash monitors, and sandboxed code executor
// behind the HTTP/WebSocket surface in internal/api.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robotlab/robotd/internal/api"
	"github.com/robotlab/robotd/internal/backend"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/command"
	"github.com/robotlab/robotd/internal/config"
	"github.com/robotlab/robotd/internal/crashmonitor"
	"github.com/robotlab/robotd/internal/envelope"
	"github.com/robotlab/robotd/internal/lease"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/rewind"
	"github.com/robotlab/robotd/internal/safetymonitor"
	"github.com/robotlab/robotd/internal/sandbox"
	"github.com/robotlab/robotd/internal/state"
	"github.com/robotlab/robotd/internal/supervisor"
	"github.com/robotlab/robotd/internal/telemetry"
	"github.com/robotlab/robotd/internal/trajectory"
	"github.com/robotlab/robotd/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	overridePath := flag.String("override-file", "", "path to a flat KEY=value config override file")
	metricsAddr := flag.String("metrics-addr", ":9090", "address the Prometheus /metrics endpoint listens on")
	flag.Parse()

	if *showVersion {
		fmt.Printf("robotd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cfg, warnings := config.Load()

	xglog.Configure(xglog.Config{Level: "info", Service: "robotd", Version: version.Version})
	logger := xglog.WithComponent("main")

	for _, w := range warnings {
		logger.Warn().Str("event", "config.invalid_value").Msg(w)
	}
	if err := config.Validate(cfg); err != nil {
		logger.Fatal().Err(err).Msg("config failed validation")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{Enabled: false, ServiceName: "robotd"})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry provider")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	configMgr := config.NewManager(cfg, strings.TrimSpace(*overridePath))
	if err := configMgr.WatchOverrideFile(ctx); err != nil {
		logger.Warn().Err(err).Msg("override file watch failed to start")
	}
	defer configMgr.Stop()

	eventBus := bus.NewMemoryBus()

	backends := backend.Set{
		Arm:     backend.NewFakeArm(),
		Base:    backend.NewFakeBase(),
		Gripper: backend.NewFakeGripper(),
		Camera:  backend.NewFakeCamera(),
	}
	for _, b := range []backend.Backend{backends.Arm, backends.Base, backends.Gripper, backends.Camera} {
		if err := b.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("backend connect failed at startup")
		}
	}

	trajLog := trajectory.New(
		cfg.Trajectory.MaxWaypoints,
		cfg.Trajectory.RecordInterval,
		cfg.Trajectory.PositionThreshold,
		cfg.Trajectory.OrientationThreshold,
	)

	stateAgg := state.New(backends, trajLog, eventBus, cfg.State.PollHz, cfg.State.ReconnectInterval)
	go func() {
		if err := stateAgg.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("state aggregator exited")
		}
	}()
	defer stateAgg.Stop()

	leaseMgr := lease.New(func() lease.Config {
		c := configMgr.Get().Lease
		return lease.Config{
			MaxDuration:    c.MaxDuration,
			IdleTimeout:    c.IdleTimeout,
			WarningGrace:   c.WarningGrace,
			CheckInterval:  c.CheckInterval,
			ResetOnRelease: c.ResetOnRelease,
		}
	}, stateAgg, eventBus)
	leaseMgr.Start(ctx)
	defer leaseMgr.Stop()

	envFn := func() envelope.Envelope { return envelope.New(configMgr.Get().Workspace) }
	gripFn := func() config.Gripper { return configMgr.Get().Gripper }
	cmdGateway := command.New(backends, leaseMgr, eventBus, envFn, gripFn)

	rewindOrch := rewind.New(trajLog, backends,
		func() config.Rewind { return configMgr.Get().Rewind },
		func() config.Workspace { return configMgr.Get().Workspace },
		eventBus,
	)

	leaseMgr.SetOnLeaseEnd(func(ctx context.Context) error {
		hundred := 100.0
		res := rewindOrch.Run(ctx, rewind.Request{Target: rewind.Target{Percentage: &hundred}})
		if !res.Success {
			return fmt.Errorf("reset-on-release rewind failed: %s", res.Error)
		}
		trajLog.Clear()
		return nil
	})

	safetyMon := safetymonitor.New(
		func() config.SafetyMonitor { return configMgr.Get().SafetyMonitor },
		func() float64 { return configMgr.Get().Rewind.AutoRewindPercentage },
		envFn,
		stateAgg,
		cmdGateway,
		backends.Base,
		rewindOrch,
		eventBus,
	)
	safetyMon.Start(ctx)
	defer safetyMon.Stop()

	sandboxRunner := sandbox.New(
		func() config.Sandbox { return configMgr.Get().Sandbox },
		func() string { return "" },
		func() string { return fmt.Sprintf("http://127.0.0.1%s", configMgr.Get().Server.Addr) },
		func() (time.Duration, bool) { return 0, false },
		eventBus,
	)
	leaseMgr.SetExecutionCanceller(sandboxRunner)

	sup := supervisor.NewFakeSupervisor(supervisor.DefaultDependencies)
	crashMon := crashmonitor.New(
		func() config.CrashMonitor { return configMgr.Get().CrashMonitor },
		func() bool { return configMgr.Get().SafetyMonitor.Enabled },
		func() float64 { return configMgr.Get().Rewind.AutoRewindPercentage },
		backends.Arm,
		backends.Arm,
		sandboxRunner,
		supervisor.CrashMonitorAdapter{Supervisor: sup},
		rewindOrch,
		stateAgg,
		eventBus,
	)
	crashMon.Start(ctx)
	defer crashMon.Stop()

	server := api.New(api.Deps{
		Lease:         leaseMgr,
		Commands:      cmdGateway,
		Rewind:        rewindOrch,
		Sandbox:       sandboxRunner,
		StateAgg:      stateAgg,
		Trajectory:    trajLog,
		Backends:      backends,
		Supervisor:    sup,
		SafetyMonitor: safetyMon,
		CrashMonitor:  crashMon,
		ConfigMgr:     configMgr,
		Bus:           eventBus,
	})

	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start http server")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http server shutdown failed")
		}
	}()

	metricsServer := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("addr", configMgr.Get().Server.Addr).
		Str("metrics_addr", *metricsAddr).
		Msg("robotd started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
}
