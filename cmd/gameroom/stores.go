// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/gameroom/internal/room"
	"github.com/holomush/gameroom/internal/task"
	"github.com/holomush/gameroom/internal/xdg"
)

// connectBackoff is the retry policy for backend connections at startup.
func connectBackoff(retries uint64) retry.Backoff {
	return retry.WithMaxRetries(retries, retry.WithCappedDuration(5*time.Second, retry.NewExponential(200*time.Millisecond)))
}

// pingWithRetry retries ping until it succeeds or the retries run out.
func pingWithRetry(ctx context.Context, retries uint64, backend string, ping func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, connectBackoff(retries), func(ctx context.Context) error {
		attempt++
		if err := ping(ctx); err != nil {
			slog.Warn("backend not reachable", "backend", backend, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// openRoomRepository opens the configured room repository. The returned
// func releases it.
func openRoomRepository(ctx context.Context, cfg *Config) (room.Repository, func(), error) {
	switch cfg.Rooms.Backend {
	case backendPostgres:
		if cfg.Rooms.AutoMigrate {
			if err := migrateUp(cfg.Rooms.DatabaseURL); err != nil {
				return nil, nil, err
			}
		}
		pool, err := pgxpool.New(ctx, cfg.Rooms.DatabaseURL)
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").Wrapf(err, "failed to create connection pool")
		}
		if err := pingWithRetry(ctx, cfg.Connect.Retries, backendPostgres, pool.Ping); err != nil {
			pool.Close()
			return nil, nil, oops.Code("DB_CONNECT_FAILED").Wrapf(err, "failed to reach database")
		}
		slog.Info("room repository ready", "backend", backendPostgres)
		return room.NewPostgresRepository(pool), pool.Close, nil
	default:
		slog.Info("room repository ready", "backend", backendMemory)
		return room.NewMemoryRepository(), func() {}, nil
	}
}

func migrateUp(databaseURL string) error {
	m, err := room.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return err
	}
	version, _, err := m.Version()
	if err != nil {
		return err
	}
	slog.Info("room schema migrated", "version", version)
	return nil
}

// openTaskStore opens the configured deferred task store.
func openTaskStore(ctx context.Context, cfg *Config) (task.Store, error) {
	switch cfg.Tasks.Backend {
	case backendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Tasks.Redis.Addr,
			Password: cfg.Tasks.Redis.Password,
			DB:       cfg.Tasks.Redis.DB,
		})
		store := task.NewRedisStore(client, cfg.Tasks.Redis.Prefix)
		if err := pingWithRetry(ctx, cfg.Connect.Retries, backendRedis, store.Ping); err != nil {
			_ = store.Close()
			return nil, oops.Code("TASK_STORE_CONNECT_FAILED").With("addr", cfg.Tasks.Redis.Addr).Wrap(err)
		}
		slog.Info("task store ready", "backend", backendRedis, "addr", cfg.Tasks.Redis.Addr)
		return store, nil
	case backendSQLite:
		if err := xdg.EnsureDir(filepath.Dir(cfg.Tasks.SQLite.Path)); err != nil {
			return nil, err
		}
		store, err := task.OpenSQLite(cfg.Tasks.SQLite.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("task store ready", "backend", backendSQLite, "path", cfg.Tasks.SQLite.Path)
		return store, nil
	default:
		slog.Info("task store ready", "backend", backendMemory)
		return task.NewMemoryStore(), nil
	}
}
