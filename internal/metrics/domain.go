// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	leaseAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_lease_acquire_total",
		Help: "Total lease acquire attempts by outcome",
	}, []string{"outcome"}) // outcome=granted|queued|already_held|denied

	leaseReleaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_lease_release_total",
		Help: "Total lease release events by reason",
	}, []string{"reason"}) // reason=explicit|idle_timeout|max_duration|revoked

	leaseHoldSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "robotd_lease_hold_duration_seconds",
		Help:    "Duration a holder kept the lease before release",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"reason"})

	commandRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_command_reject_total",
		Help: "Total commands rejected by the gateway, by reason",
	}, []string{"kind", "reason"}) // reason=no_lease,envelope_violation,backend_error

	commandDispatchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "robotd_command_dispatch_seconds",
		Help:    "Time spent dispatching an accepted command to its backend",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	rewindTriggeredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_rewind_triggered_total",
		Help: "Total rewinds triggered, by reason",
	}, []string{"reason"}) // reason=boundary|collision|manual

	rewindStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_rewind_steps_total",
		Help: "Total waypoints replayed across all rewinds",
	}, []string{"reason"})

	rewindAbortedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_rewind_aborted_total",
		Help: "Total rewinds aborted before reaching their target waypoint",
	}, []string{"reason"})

	safetyTriggerTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_safety_trigger_total",
		Help: "Total safety monitor triggers by kind",
	}, []string{"kind"}) // kind=boundary|collision

	crashRecoveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_crash_recovery_total",
		Help: "Total driver-crash recovery sequences started, by outcome",
	}, []string{"outcome"}) // outcome=recovered|failed|suppressed

	sandboxExecutionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_sandbox_execution_total",
		Help: "Total sandboxed code executions by outcome",
	}, []string{"outcome"}) // outcome=completed|timeout|denied|crashed

	sandboxExecutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "robotd_sandbox_execution_seconds",
		Help:    "Wall-clock duration of sandboxed code executions",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	stateAggregatorPollSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "robotd_state_poll_seconds",
		Help:    "Duration of a single state-aggregator poll across all backends",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	})

	backendReconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_backend_reconnect_total",
		Help: "Total backend reconnect attempts by backend and outcome",
	}, []string{"backend", "outcome"})
)

// IncLeaseAcquire records a lease acquire attempt outcome.
func IncLeaseAcquire(outcome string) {
	leaseAcquireTotal.WithLabelValues(outcome).Inc()
}

// IncLeaseRelease records a lease release, and the duration it was held for.
func IncLeaseRelease(reason string, heldSeconds float64) {
	leaseReleaseTotal.WithLabelValues(reason).Inc()
	leaseHoldSeconds.WithLabelValues(reason).Observe(heldSeconds)
}

// IncCommandReject records a command rejected before dispatch.
func IncCommandReject(kind, reason string) {
	commandRejectTotal.WithLabelValues(kind, reason).Inc()
}

// ObserveCommandDispatch records the latency of dispatching an accepted command.
func ObserveCommandDispatch(kind string, seconds float64) {
	commandDispatchSeconds.WithLabelValues(kind).Observe(seconds)
}

// IncRewindTriggered records a rewind starting, and how many waypoints it targets.
func IncRewindTriggered(reason string, steps int) {
	rewindTriggeredTotal.WithLabelValues(reason).Inc()
	rewindStepsTotal.WithLabelValues(reason).Add(float64(steps))
}

// IncRewindAborted records a rewind that did not finish.
func IncRewindAborted(reason string) {
	rewindAbortedTotal.WithLabelValues(reason).Inc()
}

// IncSafetyTrigger records a safety-monitor trigger.
func IncSafetyTrigger(kind string) {
	safetyTriggerTotal.WithLabelValues(kind).Inc()
}

// IncCrashRecovery records a driver-crash recovery sequence outcome.
func IncCrashRecovery(outcome string) {
	crashRecoveryTotal.WithLabelValues(outcome).Inc()
}

// ObserveSandboxExecution records a sandboxed execution's outcome and duration.
func ObserveSandboxExecution(outcome string, seconds float64) {
	sandboxExecutionTotal.WithLabelValues(outcome).Inc()
	sandboxExecutionSeconds.Observe(seconds)
}

// ObserveStatePoll records the duration of one state-aggregator poll cycle.
func ObserveStatePoll(seconds float64) {
	stateAggregatorPollSeconds.Observe(seconds)
}

// IncBackendReconnect records a backend reconnect attempt outcome.
func IncBackendReconnect(backend, outcome string) {
	backendReconnectTotal.WithLabelValues(backend, outcome).Inc()
}
