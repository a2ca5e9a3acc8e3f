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
	"github.com/robotlab/robotd/internal/lease"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLeaseConfig() lease.Config {
	return lease.Config{
		MaxDuration:   30 * time.Minute,
		IdleTimeout:   5 * time.Minute,
		WarningGrace:  30 * time.Second,
		CheckInterval: time.Hour,
	}
}

func newTestServer(t *testing.T) (*Server, *lease.Manager) {
	t.Helper()
	b := bus.NewMemoryBus()
	mgr := lease.New(testLeaseConfig, nil, b)
	s := New(Deps{Lease: mgr, Bus: b})
	return s, mgr
}

func TestHandleLeaseAcquire_Granted(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	body, _ := json.Marshal(map[string]string{"holder": "alice"})
	req := httptest.NewRequest("POST", "/lease/acquire", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var res lease.AcquireResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "granted", res.Status)
	assert.NotEmpty(t, res.LeaseID)
}

func TestHandleLeaseAcquire_RejectsMissingHolder(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	req := httptest.NewRequest("POST", "/lease/acquire", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code, "the OpenAPI schema requires a non-empty holder field")
}

func TestHandleLeaseRelease_UnknownID(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	body, _ := json.Marshal(map[string]string{"lease_id": "nonexistent"})
	req := httptest.NewRequest("POST", "/lease/release", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var res map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEqual(t, "released", res["status"])
}

func TestHandleLeaseStatus_ReportsQueueDepth(t *testing.T) {
	s, mgr := newTestServer(t)
	router := s.Router()

	_, err := mgr.Acquire(t.Context(), "alice")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/lease/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var status lease.PublicStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "alice", status.Holder)
	assert.Equal(t, 0, status.QueueLength)
}

func TestHandleLeaseStatus_WithoutManagerReturns503(t *testing.T) {
	s := New(Deps{})
	router := s.Router()

	req := httptest.NewRequest("GET", "/lease/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 503, rec.Code)
}
