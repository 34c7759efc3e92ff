// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package task

import "github.com/prometheus/client_golang/prometheus"

// Event labels for TasksTotal.
const (
	EventReserved = "reserved"
	EventFired    = "fired"
	EventCanceled = "canceled"
	EventMissed   = "missed"
	EventFailed   = "failed"
)

// TasksTotal counts task lifecycle events.
// Use RegisterMetrics to register this with a Prometheus registry.
var TasksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gameroom_tasks_total",
		Help: "Total number of deferred task events",
	},
	[]string{"event"},
)

// RegisterMetrics registers task package metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(TasksTotal)
}
