// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robotlab/robotd/internal/apierr"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/sandbox"
)

type codeExecuteRequest struct {
	Code           string  `json:"code"`
	ExecutionID    string  `json:"execution_id"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// handleCodeExecute launches a sandboxed execution in the background and
// returns immediately with the execution id (§4.I "Launch"): a run may
// take up to the configured default timeout, far longer than an HTTP
// client should block on.
func (s *Server) handleCodeExecute(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sandbox == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "sandbox not configured"})
		return
	}
	if s.deps.Lease != nil {
		leaseID := leaseIDFromHeader(r)
		if leaseID == "" || !s.deps.Lease.ValidateLease(leaseID) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid or missing lease"})
			return
		}
	}

	var req codeExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	if s.deps.Sandbox.IsRunning() {
		writeRejection(w, apierr.New("", apierr.RConflict, "an execution is already in progress"))
		return
	}

	var timeout time.Duration
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))
	}

	go func() {
		_, err := s.deps.Sandbox.Execute(context.Background(), sandbox.Request{
			Code:        req.Code,
			ExecutionID: req.ExecutionID,
			Timeout:     timeout,
		})
		if err != nil {
			xglog.WithComponent("api").Warn().Err(err).Str("execution_id", req.ExecutionID).Msg("sandbox execution rejected")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"execution_id": req.ExecutionID,
		"status":       "started",
	})
}

func (s *Server) handleCodeStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sandbox == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "sandbox not configured"})
		return
	}
	s.deps.Sandbox.Stop(apierr.StopManual)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

type codeValidateRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleCodeValidate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sandbox == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "sandbox not configured"})
		return
	}
	var req codeValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sandbox.Validate(req.Code))
}

func (s *Server) handleCodeStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sandbox == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "sandbox not configured"})
		return
	}
	running := s.deps.Sandbox.IsRunning()
	executionID, tail, ok := s.deps.Sandbox.Tail()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":      running,
		"execution_id": executionID,
		"tail":         tail,
		"has_output":   ok,
	})
}

// handleCodeResult returns the most recently completed execution's full
// record (§4.I "Output & history").
func (s *Server) handleCodeResult(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sandbox == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "sandbox not configured"})
		return
	}
	history := s.deps.Sandbox.History()
	if len(history) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "no completed execution"})
		return
	}
	if id := r.URL.Query().Get("execution_id"); id != "" {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].ExecutionID == id {
				writeJSON(w, http.StatusOK, history[i])
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "execution id not found in history"})
		return
	}
	writeJSON(w, http.StatusOK, history[len(history)-1])
}

func (s *Server) handleCodeHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sandbox == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "sandbox not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sandbox.History())
}
