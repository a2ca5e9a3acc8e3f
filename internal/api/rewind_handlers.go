// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"time"

	"github.com/robotlab/robotd/internal/config"
	"github.com/robotlab/robotd/internal/rewind"
)

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// handleRewindStatus reports whether a replay is currently in progress
// (§4.F "Orchestrator"). The richer boundary/collision view lives under
// /rewind/monitor/status.
func (s *Server) handleRewindStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rewind == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "rewind orchestrator not configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_rewinding": s.deps.Rewind.IsRewinding()})
}

// handleTrajectory serves the raw recorded trajectory, both as the
// top-level /trajectory endpoint and as /rewind/logs — the log rewind
// itself reads from (§3 "Trajectory log", §4.A).
func (s *Server) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trajectory == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "trajectory log not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Trajectory.Snapshot())
}

func (s *Server) handleRewindLogs(w http.ResponseWriter, r *http.Request) {
	s.handleTrajectory(w, r)
}

// handleRewindBoundary reports the configured workspace rectangle the
// safety monitor checks the base against (§4.B, §4.G "Boundary").
func (s *Server) handleRewindBoundary(w http.ResponseWriter, r *http.Request) {
	ws := config.Workspace{}
	if s.deps.ConfigMgr != nil {
		ws = s.deps.ConfigMgr.Get().Workspace
	}
	writeJSON(w, http.StatusOK, map[string]float64{
		"base_x_min": ws.BaseXMin,
		"base_x_max": ws.BaseXMax,
		"base_y_min": ws.BaseYMin,
		"base_y_max": ws.BaseYMax,
	})
}

// handleRewindCheck reports whether the base's current pose is inside
// the workspace rectangle right now, the same test the safety monitor
// runs every tick (§4.G "Boundary").
func (s *Server) handleRewindCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.StateAgg == nil || s.deps.ConfigMgr == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "state aggregator or config manager not configured"})
		return
	}
	ws := s.deps.ConfigMgr.Get().Workspace
	pose := s.deps.StateAgg.Current().Base.Pose
	inBounds := pose.X >= ws.BaseXMin && pose.X <= ws.BaseXMax && pose.Y >= ws.BaseYMin && pose.Y <= ws.BaseYMax
	writeJSON(w, http.StatusOK, map[string]bool{"in_bounds": inBounds})
}

func (s *Server) handleRewindConfigGet(w http.ResponseWriter, r *http.Request) {
	if s.deps.ConfigMgr == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "config manager not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.ConfigMgr.Get().Rewind)
}

type rewindConfigPutRequest struct {
	ChunkSizeSeconds     *float64 `json:"chunk_duration_s,omitempty"`
	ChunkSize            *int     `json:"chunk_size,omitempty"`
	AutoRewindPercentage *float64 `json:"auto_rewind_percentage,omitempty"`
}

func (s *Server) handleRewindConfigPut(w http.ResponseWriter, r *http.Request) {
	if s.deps.ConfigMgr == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "config manager not configured"})
		return
	}
	var req rewindConfigPutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	next := s.deps.ConfigMgr.Update(func(c *config.Config) {
		if req.ChunkSize != nil {
			c.Rewind.ChunkSize = *req.ChunkSize
		}
		if req.ChunkSizeSeconds != nil {
			c.Rewind.ChunkDuration = secondsToDuration(*req.ChunkSizeSeconds)
		}
		if req.AutoRewindPercentage != nil {
			c.Rewind.AutoRewindPercentage = *req.AutoRewindPercentage
		}
	})
	writeJSON(w, http.StatusOK, next.Rewind)
}

func (s *Server) handleSafetyMonitorStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.SafetyMonitor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "safety monitor not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.SafetyMonitor.Status())
}

type safetyMonitorConfigPutRequest struct {
	Enabled                    *bool    `json:"enabled,omitempty"`
	IntervalSeconds            *float64 `json:"interval_s,omitempty"`
	CollisionVelocityThreshold *float64 `json:"collision_velocity_threshold,omitempty"`
	CollisionMinCmdSpeed       *float64 `json:"collision_min_cmd_speed,omitempty"`
	CollisionGracePeriodSeconds *float64 `json:"collision_grace_period_s,omitempty"`
}

func (s *Server) handleSafetyMonitorConfigPut(w http.ResponseWriter, r *http.Request) {
	if s.deps.ConfigMgr == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "config manager not configured"})
		return
	}
	var req safetyMonitorConfigPutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	next := s.deps.ConfigMgr.Update(func(c *config.Config) {
		if req.Enabled != nil {
			c.SafetyMonitor.Enabled = *req.Enabled
		}
		if req.IntervalSeconds != nil {
			c.SafetyMonitor.Interval = secondsToDuration(*req.IntervalSeconds)
		}
		if req.CollisionVelocityThreshold != nil {
			c.SafetyMonitor.CollisionVelocityThreshold = *req.CollisionVelocityThreshold
		}
		if req.CollisionMinCmdSpeed != nil {
			c.SafetyMonitor.CollisionMinCmdSpeed = *req.CollisionMinCmdSpeed
		}
		if req.CollisionGracePeriodSeconds != nil {
			c.SafetyMonitor.CollisionGracePeriod = secondsToDuration(*req.CollisionGracePeriodSeconds)
		}
	})
	writeJSON(w, http.StatusOK, next.SafetyMonitor)
}

func (s *Server) handleSafetyMonitorEnable(w http.ResponseWriter, r *http.Request) {
	s.setSafetyMonitorEnabled(w, r, true)
}

func (s *Server) handleSafetyMonitorDisable(w http.ResponseWriter, r *http.Request) {
	s.setSafetyMonitorEnabled(w, r, false)
}

func (s *Server) setSafetyMonitorEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if s.deps.ConfigMgr == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "config manager not configured"})
		return
	}
	next := s.deps.ConfigMgr.Update(func(c *config.Config) {
		c.SafetyMonitor.Enabled = enabled
	})
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": next.SafetyMonitor.Enabled})
}

type rewindComponentsRequest struct {
	Components []string `json:"components,omitempty"`
	DryRun     bool     `json:"dry_run,omitempty"`
}

func (req rewindComponentsRequest) toComponents() []rewind.Component {
	if len(req.Components) == 0 {
		return nil
	}
	out := make([]rewind.Component, len(req.Components))
	for i, c := range req.Components {
		out[i] = rewind.Component(c)
	}
	return out
}

type rewindStepsRequest struct {
	rewindComponentsRequest
	Steps int `json:"steps"`
}

func (s *Server) handleRewindSteps(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rewind == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "rewind orchestrator not configured"})
		return
	}
	var req rewindStepsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	res := s.deps.Rewind.Run(r.Context(), rewind.Request{
		Components: req.toComponents(),
		Target:     rewind.Target{Steps: &req.Steps},
		DryRun:     req.DryRun,
	})
	writeJSON(w, http.StatusOK, res)
}

type rewindPercentageRequest struct {
	rewindComponentsRequest
	Percentage float64 `json:"percentage"`
}

func (s *Server) handleRewindPercentage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rewind == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "rewind orchestrator not configured"})
		return
	}
	var req rewindPercentageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	res := s.deps.Rewind.Run(r.Context(), rewind.Request{
		Components: req.toComponents(),
		Target:     rewind.Target{Percentage: &req.Percentage},
		DryRun:     req.DryRun,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRewindToSafe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rewind == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "rewind orchestrator not configured"})
		return
	}
	var req rewindComponentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	res := s.deps.Rewind.Run(r.Context(), rewind.Request{
		Components: req.toComponents(),
		Target:     rewind.Target{ToSafe: true},
		DryRun:     req.DryRun,
	})
	writeJSON(w, http.StatusOK, res)
}

type rewindToWaypointRequest struct {
	rewindComponentsRequest
	Index int `json:"index"`
}

func (s *Server) handleRewindToWaypoint(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rewind == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "rewind orchestrator not configured"})
		return
	}
	var req rewindToWaypointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	res := s.deps.Rewind.Run(r.Context(), rewind.Request{
		Components: req.toComponents(),
		Target:     rewind.Target{Index: &req.Index},
		DryRun:     req.DryRun,
	})
	writeJSON(w, http.StatusOK, res)
}

// handleRewindResetToHome rewinds all the way back to the start of the
// recorded trajectory — the same full-percentage replay /cmd/reset
// triggers, exposed under the rewind surface for symmetry with the
// other named targets.
func (s *Server) handleRewindResetToHome(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rewind == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "rewind orchestrator not configured"})
		return
	}
	var req rewindComponentsRequest
	_ = decodeJSON(r, &req)
	hundred := 100.0
	res := s.deps.Rewind.Run(r.Context(), rewind.Request{
		Components: req.toComponents(),
		Target:     rewind.Target{Percentage: &hundred},
		DryRun:     req.DryRun,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrajectoryClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trajectory == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "trajectory log not configured"})
		return
	}
	s.deps.Trajectory.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type rewindManualRequest struct {
	rewindComponentsRequest
	Steps      *int     `json:"steps,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
	Index      *int     `json:"index,omitempty"`
	ToSafe     bool     `json:"to_safe,omitempty"`
}

// handleRewindManual is the general-purpose rewind call accepting any of
// the four target modes in one request body, for clients that want a
// single endpoint rather than the five named ones.
func (s *Server) handleRewindManual(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rewind == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "rewind orchestrator not configured"})
		return
	}
	var req rewindManualRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	target := rewind.Target{
		Steps:      req.Steps,
		Percentage: req.Percentage,
		ToSafe:     req.ToSafe,
		Index:      req.Index,
	}
	res := s.deps.Rewind.Run(r.Context(), rewind.Request{
		Components: req.toComponents(),
		Target:     target,
		DryRun:     req.DryRun,
	})
	writeJSON(w, http.StatusOK, res)
}
