// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package room

import "github.com/prometheus/client_golang/prometheus"

// LockWait observes how long operations wait for a room lock.
// Use RegisterMetrics to register this with a Prometheus registry.
var LockWait = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "gameroom_room_lock_wait_seconds",
		Help:    "Time spent waiting to acquire a room lock",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
	},
)

// Operations counts room operations by kind and outcome.
var Operations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gameroom_room_operations_total",
		Help: "Total number of room operations",
	},
	[]string{"operation", "status"},
)

// RegisterMetrics registers room package metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LockWait)
	reg.MustRegister(Operations)
}
