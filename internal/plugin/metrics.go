// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Status values for hook call metrics.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusFault   = "fault"
	StatusSkipped = "skipped"
)

// HookCalls counts hook invocations by hook and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var HookCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gameroom_hook_calls_total",
		Help: "Total number of plugin hook calls",
	},
	[]string{"hook", "status"},
)

// HookDuration observes time spent inside the sandbox per hook.
// Use RegisterMetrics to register this with a Prometheus registry.
var HookDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gameroom_hook_duration_seconds",
		Help:    "Plugin hook execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"hook"},
)

// RegisterMetrics registers plugin package metrics with the given registry.
// Panics if registration fails.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(HookCalls)
	reg.MustRegister(HookDuration)
}
