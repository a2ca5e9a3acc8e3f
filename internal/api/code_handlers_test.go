// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/config"
	"github.com/robotlab/robotd/internal/lease"
	"github.com/robotlab/robotd/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSandboxConfig() config.Sandbox {
	return config.Sandbox{
		InterpreterPath:  "/usr/bin/python3",
		DefaultTimeout:   30 * time.Second,
		TerminationGrace: time.Second,
		HistorySize:      10,
	}
}

func newSandboxServer(t *testing.T) *Server {
	t.Helper()
	b := bus.NewMemoryBus()
	runner := sandbox.New(testSandboxConfig, func() string { return "" }, func() string { return "" },
		func() (time.Duration, bool) { return 0, false }, b)
	return New(Deps{Sandbox: runner, Bus: b})
}

func TestHandleCodeValidate_FlagsDeniedImport(t *testing.T) {
	s := newSandboxServer(t)
	router := s.Router()

	body, _ := json.Marshal(map[string]string{"code": "import subprocess\nprint('hi')"})
	req := httptest.NewRequest("POST", "/code/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var res sandbox.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Valid)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, 1, res.Issues[0].Line)
}

func TestHandleCodeValidate_CleanSourcePasses(t *testing.T) {
	s := newSandboxServer(t)
	router := s.Router()

	body, _ := json.Marshal(map[string]string{"code": "x = 1 + 1\nprint(x)"})
	req := httptest.NewRequest("POST", "/code/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var res sandbox.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Valid)
	assert.Empty(t, res.Issues)
}

func TestHandleCodeStatus_ReportsIdleWhenNothingRan(t *testing.T) {
	s := newSandboxServer(t)
	router := s.Router()

	req := httptest.NewRequest("GET", "/code/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, false, res["running"])
}

func TestHandleCodeResult_404WhenNoHistory(t *testing.T) {
	s := newSandboxServer(t)
	router := s.Router()

	req := httptest.NewRequest("GET", "/code/result", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestHandleCodeExecute_RequiresLeaseWhenManagerConfigured(t *testing.T) {
	b := bus.NewMemoryBus()
	runner := sandbox.New(testSandboxConfig, func() string { return "" }, func() string { return "" },
		func() (time.Duration, bool) { return 0, false }, b)
	mgr := lease.New(testLeaseConfig, nil, b)
	s := New(Deps{Sandbox: runner, Lease: mgr, Bus: b})
	router := s.Router()

	body, _ := json.Marshal(map[string]string{"code": "print(1)"})
	req := httptest.NewRequest("POST", "/code/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code, "no X-Lease-Id header was sent")
}
