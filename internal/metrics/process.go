// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_proc_terminate_total",
		Help: "Total process group termination attempts by signal and outcome",
	}, []string{"sig", "outcome"}) // sig=SIGTERM|SIGKILL, outcome=sent|esrch|error

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_proc_wait_total",
		Help: "Total process wait outcomes",
	}, []string{"outcome"}) // outcome=exit0|exit_nonzero|forced_exit0|forced_error
)

// IncProcTerminate records a process group termination attempt.
func IncProcTerminate(sig, outcome string) {
	procTerminateTotal.WithLabelValues(sig, outcome).Inc()
}

// IncProcWait records a process wait outcome.
func IncProcWait(outcome string) {
	procWaitTotal.WithLabelValues(outcome).Inc()
}
