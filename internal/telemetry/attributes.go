// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for robotd.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	LeaseHolderKey = "lease.holder"
	LeaseIDKey     = "lease.id"

	CommandKindKey   = "command.kind"
	CommandTargetKey = "command.target"

	RewindReasonKey    = "rewind.reason"
	RewindComponentKey = "rewind.components"
	RewindStepsKey     = "rewind.steps"

	ExecutionIDKey = "execution.id"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// LeaseAttributes creates lease-manager span attributes.
func LeaseAttributes(holder, leaseID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if holder != "" {
		attrs = append(attrs, attribute.String(LeaseHolderKey, holder))
	}
	if leaseID != "" {
		attrs = append(attrs, attribute.String(LeaseIDKey, leaseID))
	}
	return attrs
}

// CommandAttributes creates command-gateway span attributes.
func CommandAttributes(kind, target string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CommandKindKey, kind),
		attribute.String(CommandTargetKey, target),
	}
}

// RewindAttributes creates rewind-orchestrator span attributes.
func RewindAttributes(reason string, components []string, steps int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RewindReasonKey, reason),
		attribute.StringSlice(RewindComponentKey, components),
		attribute.Int(RewindStepsKey, steps),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
