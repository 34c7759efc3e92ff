// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/holomush/gameroom/internal/observability"
	"github.com/holomush/gameroom/internal/room"
	"github.com/holomush/gameroom/internal/task"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// RoomRepositoryFactory opens the room repository and returns its release func.
	// Default: openRoomRepository
	RoomRepositoryFactory func(ctx context.Context, cfg *Config) (room.Repository, func(), error)

	// TaskStoreFactory opens the deferred task store.
	// Default: openTaskStore
	TaskStoreFactory func(ctx context.Context, cfg *Config) (task.Store, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, opts ...observability.Option) ObservabilityServer

	// OnReady is called with the gateway address once the host accepts clients.
	OnReady func(addr string)
}

// ObservabilityServer is the part of observability.Server serve uses.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

var _ ObservabilityServer = (*observability.Server)(nil)

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.RoomRepositoryFactory == nil {
		out.RoomRepositoryFactory = openRoomRepository
	}
	if out.TaskStoreFactory == nil {
		out.TaskStoreFactory = openTaskStore
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, opts ...observability.Option) ObservabilityServer {
			return observability.NewServer(addr, ready, opts...)
		}
	}
	if out.OnReady == nil {
		out.OnReady = func(string) {}
	}
	return &out
}
