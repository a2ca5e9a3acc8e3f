// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"net/http"
)

type leaseAcquireRequest struct {
	Holder string `json:"holder"`
}

// handleLeaseAcquire grants the lease immediately, queues the caller, or
// reports already_held (§4.D, §6 "POST /lease/acquire").
func (s *Server) handleLeaseAcquire(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lease == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "lease manager not configured"})
		return
	}
	var req leaseAcquireRequest
	if !readValidatedJSON(w, r, "LeaseAcquireRequest", &req) {
		return
	}

	res, err := s.deps.Lease.Acquire(r.Context(), req.Holder)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusRequestTimeout, map[string]string{"detail": "acquire cancelled"})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type leaseLeaseIDRequest struct {
	LeaseID string `json:"lease_id"`
}

func (s *Server) handleLeaseRelease(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lease == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "lease manager not configured"})
		return
	}
	var req leaseLeaseIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	status := s.deps.Lease.Release(req.LeaseID)
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleLeaseExtend(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lease == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "lease manager not configured"})
		return
	}
	var req leaseLeaseIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	remaining, ok := s.deps.Lease.Extend(req.LeaseID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "lease id not held"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"remaining_s": remaining})
}

func (s *Server) handleLeaseClearQueue(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lease == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "lease manager not configured"})
		return
	}
	s.deps.Lease.ClearQueue()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleLeasePauseQueue(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lease == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "lease manager not configured"})
		return
	}
	s.deps.Lease.PauseQueue()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleLeaseResumeQueue(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lease == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "lease manager not configured"})
		return
	}
	s.deps.Lease.ResumeQueue()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// handleLeaseStatus returns the public lease snapshot, which never
// includes the lease id itself (§3 "Lease manager").
func (s *Server) handleLeaseStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lease == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "lease manager not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Lease.Status())
}
