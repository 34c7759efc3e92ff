// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gameroom/internal/gateway"
	"github.com/holomush/gameroom/internal/logging"
	"github.com/holomush/gameroom/internal/observability"
	"github.com/holomush/gameroom/internal/plugin"
	"github.com/holomush/gameroom/internal/plugin/capability"
	"github.com/holomush/gameroom/internal/registry"
	"github.com/holomush/gameroom/internal/room"
	"github.com/holomush/gameroom/internal/task"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game room host",
		Long: `Run the game room host: load plugin packages, accept websocket
clients and drive room state through the plugins' hooks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	flags := cmd.Flags()
	flags.String("listen-addr", "", "websocket gateway listen address")
	flags.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	flags.Duration("request-timeout", 0, "timeout for one room operation")
	flags.String("log-format", "", "log format (json or text)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("plugins-dir", "", "plugin package directory")
	flags.String("rooms-backend", "", "room repository (memory or postgres)")
	flags.String("database-url", "", "PostgreSQL URL for the postgres room backend")
	flags.Bool("auto-migrate", true, "apply room schema migrations at startup")
	flags.String("tasks-backend", "", "task store (memory, redis or sqlite)")
	flags.Duration("tasks-grace", 0, "extra task record lifetime beyond its timeout")
	flags.String("redis-addr", "", "Redis address for the redis task backend")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database number")
	flags.String("redis-prefix", "", "Redis key prefix for task records")
	flags.String("sqlite-path", "", "SQLite file for the sqlite task backend")
	flags.Uint64("connect-retries", 0, "backend connection retries at startup")

	return cmd
}

// runServeWithDeps runs the host until ctx is done or a signal arrives.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logging.SetDefault("gameroom", version, cfg.Log.Format, level)

	slog.Info("starting game room host",
		"listen_addr", cfg.ListenAddr,
		"rooms_backend", cfg.Rooms.Backend,
		"tasks_backend", cfg.Tasks.Backend,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obs ObservabilityServer
	if cfg.MetricsAddr != "" {
		obs = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load, observability.WithCollectors(
			plugin.RegisterMetrics,
			room.RegisterMetrics,
			task.RegisterMetrics,
		))
		obsErrCh, startErr := obs.Start()
		if startErr != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(startErr)
		}
		defer stopWithTimeout("observability", obs.Stop)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer stopWithTimeout("plugin runtime", rt.Close)

	var regOpts []registry.DirOption
	if version != "dev" {
		regOpts = append(regOpts, registry.WithHostVersion(version))
	}
	reg := registry.NewDirRegistry(cfg.Plugins.Dir, rt, regOpts...)
	pluginIDs, err := reg.Discover(ctx)
	if err != nil {
		return err
	}
	slog.Info("plugins discovered", "dir", cfg.Plugins.Dir, "count", len(pluginIDs), "plugins", pluginIDs)

	repo, releaseRepo, err := deps.RoomRepositoryFactory(ctx, cfg)
	if err != nil {
		return err
	}
	defer releaseRepo()

	taskStore, err := deps.TaskStoreFactory(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := taskStore.Close(); closeErr != nil {
			slog.Warn("error closing task store", "error", closeErr)
		}
	}()

	scheduler := task.NewScheduler(taskStore, task.WithGrace(cfg.Tasks.Grace))
	enforcer := capability.NewEnforcer()
	caps := plugin.NewCapabilities(scheduler, plugin.WithEnforcer(enforcer))
	plugins := room.NewPluginCache(reg, rt, caps, enforcer)
	defer stopWithTimeout("plugin cache", plugins.Close)

	store := room.NewStore(repo)
	updates := room.NewBroadcaster(0)
	store.Listen(updates)
	svc := room.NewService(store, plugins)

	recovered, err := scheduler.Start(ctx, svc)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := scheduler.Close(); closeErr != nil {
			slog.Warn("error closing scheduler", "error", closeErr)
		}
	}()
	slog.Info("task scheduler started", "recovered", recovered)

	gwOpts := []gateway.Option{gateway.WithRequestTimeout(cfg.RequestTimeout)}
	if obs != nil {
		gwOpts = append(gwOpts, gateway.WithMetrics(obs.Metrics()))
	}
	gw := gateway.New(svc, updates, gwOpts...)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.ListenAddr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	addr := listener.Addr().String()
	ready.Store(true)
	cmd.Println("Game room host started on", addr)
	slog.Info("game room host ready", "addr", addr)
	deps.OnReady(addr)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down", "reason", context.Cause(ctx))
	case err, ok := <-serveErr:
		if ok && err != nil {
			runErr = oops.Code("GATEWAY_SERVE_FAILED").Wrap(err)
		}
	}
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping gateway listener", "error", err)
	}
	if err := gw.Close(); err != nil {
		slog.Warn("error closing gateway", "error", err)
	}

	slog.Info("shutdown complete")
	return runErr
}

// stopWithTimeout runs a shutdown step with its own deadline.
func stopWithTimeout(name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		slog.Warn("error during shutdown", "component", name, "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
