// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/gameroom/internal/logging"
	"github.com/holomush/gameroom/internal/xdg"
)

// Backend names.
const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
	backendSQLite   = "sqlite"
)

// Config is the host configuration after defaults, file and flags are merged.
type Config struct {
	ListenAddr     string        `koanf:"listen_addr"`
	MetricsAddr    string        `koanf:"metrics_addr"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	Log            LogConfig     `koanf:"log"`
	Plugins        PluginsConfig `koanf:"plugins"`
	Rooms          RoomsConfig   `koanf:"rooms"`
	Tasks          TasksConfig   `koanf:"tasks"`
	Connect        ConnectConfig `koanf:"connect"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// PluginsConfig locates plugin packages.
type PluginsConfig struct {
	Dir string `koanf:"dir"`
}

// RoomsConfig selects the room repository.
type RoomsConfig struct {
	Backend     string `koanf:"backend"`
	DatabaseURL string `koanf:"database_url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// TasksConfig selects the deferred task store.
type TasksConfig struct {
	Backend string        `koanf:"backend"`
	Grace   time.Duration `koanf:"grace"`
	Redis   RedisConfig   `koanf:"redis"`
	SQLite  SQLiteConfig  `koanf:"sqlite"`
}

// RedisConfig addresses a Redis task store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// SQLiteConfig locates a SQLite task store.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// ConnectConfig bounds startup connection attempts.
type ConnectConfig struct {
	Retries uint64 `koanf:"retries"`
}

// defaults are applied before the config file.
func defaults() map[string]any {
	return map[string]any{
		"listen_addr":          "127.0.0.1:8080",
		"metrics_addr":         "127.0.0.1:9100",
		"request_timeout":      10 * time.Second,
		"log.format":           "json",
		"log.level":            "info",
		"plugins.dir":          xdg.PluginsDir(),
		"rooms.backend":        backendMemory,
		"rooms.database_url":   "",
		"rooms.auto_migrate":   true,
		"tasks.backend":        backendMemory,
		"tasks.grace":          30 * time.Second,
		"tasks.redis.addr":     "127.0.0.1:6379",
		"tasks.redis.password": "",
		"tasks.redis.prefix":   "gameroom:task:",
		"tasks.redis.db":       0,
		"tasks.sqlite.path":    xdg.TasksDB(),
		"connect.retries":      uint64(5),
	}
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"listen-addr":     "listen_addr",
	"metrics-addr":    "metrics_addr",
	"request-timeout": "request_timeout",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"plugins-dir":     "plugins.dir",
	"rooms-backend":   "rooms.backend",
	"database-url":    "rooms.database_url",
	"auto-migrate":    "rooms.auto_migrate",
	"tasks-backend":   "tasks.backend",
	"tasks-grace":     "tasks.grace",
	"redis-addr":      "tasks.redis.addr",
	"redis-password":  "tasks.redis.password",
	"redis-db":        "tasks.redis.db",
	"redis-prefix":    "tasks.redis.prefix",
	"sqlite-path":     "tasks.sqlite.path",
	"connect-retries": "connect.retries",
}

// loadConfig layers defaults, the YAML file at path (if any) and changed
// flags. A missing file is an error only when path was given explicitly.
func loadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("key", key).Wrap(err)
		}
	}

	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "failed to parse config file")
		}
	} else if explicit {
		return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "failed to read config file")
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "failed to apply flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "failed to decode config")
	}
	if cfg.Rooms.DatabaseURL == "" {
		cfg.Rooms.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errb := oops.Code("CONFIG_INVALID")
	if c.ListenAddr == "" {
		return errb.Errorf("listen_addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return errb.With("log.format", c.Log.Format).Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errb.With("log.level", c.Log.Level).Wrap(err)
	}
	if c.Plugins.Dir == "" {
		return errb.Errorf("plugins.dir is required")
	}
	switch c.Rooms.Backend {
	case backendMemory:
	case backendPostgres:
		if c.Rooms.DatabaseURL == "" {
			return errb.Errorf("rooms.database_url (or DATABASE_URL) is required for the postgres backend")
		}
	default:
		return errb.With("rooms.backend", c.Rooms.Backend).Errorf("unknown rooms.backend %q", c.Rooms.Backend)
	}
	switch c.Tasks.Backend {
	case backendMemory:
	case backendRedis:
		if c.Tasks.Redis.Addr == "" {
			return errb.Errorf("tasks.redis.addr is required for the redis backend")
		}
	case backendSQLite:
		if c.Tasks.SQLite.Path == "" {
			return errb.Errorf("tasks.sqlite.path is required for the sqlite backend")
		}
	default:
		return errb.With("tasks.backend", c.Tasks.Backend).Errorf("unknown tasks.backend %q", c.Tasks.Backend)
	}
	if c.Tasks.Grace < 0 {
		return errb.Errorf("tasks.grace must not be negative")
	}
	return nil
}
