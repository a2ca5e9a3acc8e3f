// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/robotlab/robotd/internal/apierr"
)

// maxRequestBody caps how much of a request body handlers will read,
// since these are local-network robot control endpoints, not a public
// upload surface.
const maxRequestBody = 1 << 20 // 1 MiB

func readAllLimited(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRejection maps a command/lease rejection onto the HTTP status
// §6 describes: a structured `{cmd_id, reason, detail}` body.
func writeRejection(w http.ResponseWriter, rej *apierr.Rejection) {
	status := http.StatusConflict
	switch rej.Reason {
	case apierr.RNoLease, apierr.RInvalidLease:
		status = http.StatusUnauthorized
	case apierr.RInvalidInput, apierr.RInvalidMode, apierr.RInvalidAction:
		status = http.StatusBadRequest
	case apierr.RBackendUnavailable:
		status = http.StatusServiceUnavailable
	case apierr.ROutOfBounds, apierr.RVelocityLimit, apierr.RForceLimit, apierr.RNoSafeWaypoint:
		status = http.StatusUnprocessableEntity
	case apierr.RConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, rej)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func decodeJSONBytes(body []byte, v any) error {
	return json.Unmarshal(body, v)
}

func leaseIDFromHeader(r *http.Request) string {
	return r.Header.Get("X-Lease-Id")
}
