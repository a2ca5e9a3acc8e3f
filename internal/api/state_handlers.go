// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleState returns the unified state snapshot the aggregator last
// polled (§4.C). /ws/state streams the same payload continuously.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.deps.StateAgg == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "state aggregator not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.StateAgg.Current())
}

// handleHealth reports per-backend connectivity plus the supervised
// service statuses, for a dashboard's single "is everything up" check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}

	if s.deps.Backends.Arm != nil {
		health["arm_connected"] = s.deps.Backends.Arm.IsConnected()
	}
	if s.deps.Backends.Base != nil {
		health["base_connected"] = s.deps.Backends.Base.IsConnected()
	}
	if s.deps.Backends.Gripper != nil {
		health["gripper_connected"] = s.deps.Backends.Gripper.IsConnected()
	}
	if s.deps.Backends.Camera != nil {
		health["camera_connected"] = s.deps.Backends.Camera.IsConnected()
	}
	if s.deps.CrashMonitor != nil {
		health["crash_monitor"] = s.deps.CrashMonitor.Status()
	}

	writeJSON(w, http.StatusOK, health)
}

// handleLogs is a minimal operational-log surface: the sandbox's live
// tail is the only free-text log stream the core holds onto, so this
// endpoint just re-exposes it until a structured log sink is wired in.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sandbox == nil {
		writeJSON(w, http.StatusOK, map[string]string{"tail": ""})
		return
	}
	_, tail, _ := s.deps.Sandbox.Tail()
	writeJSON(w, http.StatusOK, map[string]string{"tail": tail})
}

// handleCamerasList reports whether the single configured camera
// backend is connected; this deployment has one camera backend, not a
// named multi-camera registry.
func (s *Server) handleCamerasList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backends.Camera == nil {
		writeJSON(w, http.StatusOK, map[string]any{"cameras": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras": []map[string]any{
			{"id": "default", "connected": s.deps.Backends.Camera.IsConnected()},
		},
	})
}

func (s *Server) handleCameraFrame(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backends.Camera == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "no camera backend configured"})
		return
	}
	id := chi.URLParam(r, "id")
	frame, contentType, err := s.deps.Backends.Camera.Frame(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": err.Error()})
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame)
}

func (s *Server) handleCameraIntrinsics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backends.Camera == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "no camera backend configured"})
		return
	}
	id := chi.URLParam(r, "id")
	frame, err := s.deps.Backends.Camera.Intrinsics(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, frame)
}
