// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/robotlab/robotd/internal/backend"
	"github.com/robotlab/robotd/internal/command"
	"github.com/robotlab/robotd/internal/rewind"
)

type baseMoveRequest struct {
	Velocity bool    `json:"velocity"`
	Frame    string  `json:"frame"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Theta    float64 `json:"theta"`
	Vx       float64 `json:"vx"`
	Vy       float64 `json:"vy"`
	Omega    float64 `json:"omega"`
}

func (s *Server) handleBaseMove(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commands == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "command gateway not configured"})
		return
	}
	var req baseMoveRequest
	if !readValidatedJSON(w, r, "BaseMoveRequest", &req) {
		return
	}
	frame := backend.FrameGlobal
	if req.Frame == string(backend.FrameLocal) {
		frame = backend.FrameLocal
	}
	res, rej := s.deps.Commands.BaseMove(r.Context(), leaseIDFromHeader(r), command.BaseMoveRequest{
		Velocity: req.Velocity,
		Frame:    frame,
		X:        req.X,
		Y:        req.Y,
		Theta:    req.Theta,
		Vx:       req.Vx,
		Vy:       req.Vy,
		Omega:    req.Omega,
	})
	if rej != nil {
		writeRejection(w, rej)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBaseStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commands == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "command gateway not configured"})
		return
	}
	res, rej := s.deps.Commands.BaseStop(r.Context(), leaseIDFromHeader(r))
	if rej != nil {
		writeRejection(w, rej)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type armMoveRequest struct {
	Kind     string     `json:"kind"`
	Q        *[7]float64 `json:"q,omitempty"`
	Pose16   *[16]float64 `json:"pose16,omitempty"`
	DQ       *[7]float64 `json:"dq,omitempty"`
	Vel6     *[6]float64 `json:"vel6,omitempty"`
	Blocking bool       `json:"blocking"`
}

func (s *Server) handleArmMove(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commands == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "command gateway not configured"})
		return
	}
	var req armMoveRequest
	if !readValidatedJSON(w, r, "ArmMoveRequest", &req) {
		return
	}

	cmdReq := command.ArmMoveRequest{
		Kind:     command.ArmMoveKind(req.Kind),
		Blocking: req.Blocking,
	}
	if req.Q != nil {
		cmdReq.Q = *req.Q
	}
	if req.Pose16 != nil {
		cmdReq.Pose16 = *req.Pose16
	}
	if req.DQ != nil {
		cmdReq.DQ = *req.DQ
	}
	if req.Vel6 != nil {
		cmdReq.Vel6 = *req.Vel6
	}

	res, rej := s.deps.Commands.ArmMove(r.Context(), leaseIDFromHeader(r), cmdReq)
	if rej != nil {
		writeRejection(w, rej)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleArmStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commands == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "command gateway not configured"})
		return
	}
	res, rej := s.deps.Commands.ArmStop(r.Context(), leaseIDFromHeader(r))
	if rej != nil {
		writeRejection(w, rej)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGripper(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commands == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "command gateway not configured"})
		return
	}
	body, err := readAllLimited(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := validateBody("GripperRequest", body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "schema validation failed: " + err.Error()})
		return
	}

	var raw struct {
		Action      string   `json:"action"`
		RawPosition uint8    `json:"raw_position"`
		WidthMeters *float64 `json:"width_meters"`
		Speed       float64  `json:"speed"`
		Force       float64  `json:"force"`
	}
	if err := decodeJSONBytes(body, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	req := command.GripperRequest{
		Action:      command.GripperAction(raw.Action),
		RawPosition: raw.RawPosition,
		Speed:       raw.Speed,
		Force:       raw.Force,
	}
	if raw.WidthMeters != nil {
		req.HasWidth = true
		req.WidthMeters = *raw.WidthMeters
	}

	res, rej := s.deps.Commands.Gripper(r.Context(), leaseIDFromHeader(r), req)
	if rej != nil {
		writeRejection(w, rej)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCmdReset is a thin alternative surface onto the rewind
// orchestrator: a fractional reverse replay back to the start of the
// trajectory log, gated by the same lease preflight as every other
// command endpoint (spec's §4 command surface, "reset is a thin
// alternative to the rewind orchestrator").
func (s *Server) handleCmdReset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lease == nil || s.deps.Rewind == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "reset not configured"})
		return
	}
	leaseID := leaseIDFromHeader(r)
	if leaseID == "" || !s.deps.Lease.ValidateLease(leaseID) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid or missing lease"})
		return
	}

	hundred := 100.0
	res := s.deps.Rewind.Run(r.Context(), rewind.Request{
		Target: rewind.Target{Percentage: &hundred},
	})
	writeJSON(w, http.StatusOK, res)
}
