// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the external HTTP/WebSocket surface (§4.J, §6): every
// endpoint maps 1:1 onto a method of one of the core components, plus
// two broadcast streams (state snapshots, the lifecycle event feed).
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/robotlab/robotd/internal/api/middleware"
	"github.com/robotlab/robotd/internal/backend"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/command"
	"github.com/robotlab/robotd/internal/config"
	"github.com/robotlab/robotd/internal/crashmonitor"
	"github.com/robotlab/robotd/internal/lease"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/rewind"
	"github.com/robotlab/robotd/internal/safetymonitor"
	"github.com/robotlab/robotd/internal/sandbox"
	"github.com/robotlab/robotd/internal/state"
	"github.com/robotlab/robotd/internal/supervisor"
	"github.com/robotlab/robotd/internal/trajectory"
)

// Deps bundles every component a Server handler dispatches to. Nil
// fields are tolerated for partial wiring in tests; the corresponding
// routes return 503.
type Deps struct {
	Lease         *lease.Manager
	Commands      *command.Gateway
	Rewind        *rewind.Orchestrator
	Sandbox       *sandbox.Runner
	StateAgg      *state.Aggregator
	Trajectory    *trajectory.Log
	Backends      backend.Set
	Supervisor    supervisor.Supervisor
	SafetyMonitor *safetymonitor.Monitor
	CrashMonitor  *crashmonitor.Monitor
	ConfigMgr     *config.Manager
	Bus           bus.Bus
}

// Server owns the HTTP listener, the chi router, and the WebSocket hub.
type Server struct {
	deps   Deps
	hub    *Hub
	server *http.Server
}

// New builds a Server. Call Router (or Start) once deps are fully wired.
func New(deps Deps) *Server {
	s := &Server{deps: deps}
	s.hub = newHub(deps.Bus, deps.ConfigMgr)
	return s
}

// Router assembles the chi mux with the canonical middleware stack and
// every §6 route.
func (s *Server) Router() http.Handler {
	cfg := config.Server{}
	if s.deps.ConfigMgr != nil {
		cfg = s.deps.ConfigMgr.Get().Server
	}

	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            cfg.EnableCORS,
		AllowedOrigins:        cfg.AllowedOrigins,
		EnableCSRF:            cfg.EnableCSRF,
		EnableSecurityHeaders: true,
		CSP:                   "default-src 'self'",
		EnableMetrics:         true,
		TracingService:        cfg.TracingService,
		EnableOTelHTTP:        cfg.EnableOTelHTTP,
		EnableLogging:         true,
		EnableRateLimit:       cfg.EnableRateLimit,
		RateLimitEnabled:      cfg.EnableRateLimit,
		RateLimitGlobalRPS:    cfg.RateLimitRPS,
		RateLimitBurst:        cfg.RateLimitBurst,
		RateLimitWhitelist:    cfg.RateLimitWhitelist,
	})

	r.Route("/lease", func(r chi.Router) {
		r.Post("/acquire", s.handleLeaseAcquire)
		r.Post("/release", s.handleLeaseRelease)
		r.Post("/extend", s.handleLeaseExtend)
		r.Post("/clear-queue", s.handleLeaseClearQueue)
		r.Post("/pause-queue", s.handleLeasePauseQueue)
		r.Post("/resume-queue", s.handleLeaseResumeQueue)
		r.Get("/status", s.handleLeaseStatus)
	})

	r.Route("/cmd", func(r chi.Router) {
		r.Post("/base/move", s.handleBaseMove)
		r.Post("/base/stop", s.handleBaseStop)
		r.Post("/arm/move", s.handleArmMove)
		r.Post("/arm/stop", s.handleArmStop)
		r.Post("/gripper", s.handleGripper)
		r.Post("/reset", s.handleCmdReset)
	})

	r.Route("/code", func(r chi.Router) {
		r.Post("/execute", s.handleCodeExecute)
		r.Post("/stop", s.handleCodeStop)
		r.Post("/validate", s.handleCodeValidate)
		r.Get("/status", s.handleCodeStatus)
		r.Get("/result", s.handleCodeResult)
		r.Get("/history", s.handleCodeHistory)
	})

	r.Route("/rewind", func(r chi.Router) {
		r.Get("/status", s.handleRewindStatus)
		r.Get("/trajectory", s.handleTrajectory)
		r.Get("/boundary", s.handleRewindBoundary)
		r.Get("/check", s.handleRewindCheck)
		r.Get("/config", s.handleRewindConfigGet)
		r.Put("/config", s.handleRewindConfigPut)
		r.Get("/logs", s.handleRewindLogs)
		r.Get("/monitor/status", s.handleSafetyMonitorStatus)
		r.Put("/monitor/config", s.handleSafetyMonitorConfigPut)
		r.Post("/steps", s.handleRewindSteps)
		r.Post("/percentage", s.handleRewindPercentage)
		r.Post("/to-safe", s.handleRewindToSafe)
		r.Post("/to-waypoint", s.handleRewindToWaypoint)
		r.Post("/reset-to-home", s.handleRewindResetToHome)
		r.Post("/trajectory/clear", s.handleTrajectoryClear)
		r.Post("/manual", s.handleRewindManual)
		r.Post("/monitor/enable", s.handleSafetyMonitorEnable)
		r.Post("/monitor/disable", s.handleSafetyMonitorDisable)
	})

	r.Get("/state", s.handleState)
	r.Get("/trajectory", s.handleTrajectory)
	r.Get("/health", s.handleHealth)
	r.Get("/logs", s.handleLogs)

	r.Route("/cameras", func(r chi.Router) {
		r.Get("/", s.handleCamerasList)
		r.Get("/{id}/frame", s.handleCameraFrame)
		r.Get("/{id}/intrinsics", s.handleCameraIntrinsics)
	})

	r.Get("/ws/state", s.hub.serveState)
	r.Get("/ws/feedback", s.hub.serveFeedback)
	r.Get("/ws/display", s.hub.serveDisplay)
	r.Get("/ws/cameras", s.hub.serveCameras(s.deps.Backends.Camera))

	return r
}

// Start launches the HTTP listener and the WebSocket hub's broadcast
// pumps. It returns once the listener is ready to accept connections;
// ListenAndServe runs in the background until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	cfg := config.Server{Addr: ":8080"}
	if s.deps.ConfigMgr != nil {
		cfg = s.deps.ConfigMgr.Get().Server
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s.hub.start(ctx, s.hubFeeds())

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Router(),
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			xglog.WithComponent("api").Error().Err(err).Msg("http server exited")
		}
	}()
	xglog.WithComponent("api").Info().Str("addr", cfg.Addr).Msg("http server listening")
	return nil
}

// Shutdown gracefully stops the HTTP listener and the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// hubFeeds periodically samples the state aggregator for /ws/state and
// /ws/display's last-snapshot replay (§4.J "broadcast streams").
func (s *Server) hubFeeds() stateSampler {
	return func() (state.Snapshot, bool) {
		if s.deps.StateAgg == nil {
			return state.Snapshot{}, false
		}
		return s.deps.StateAgg.Current(), true
	}
}
