// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gameroom/pkg/errutil"
)

// isolateXDG points the XDG directories at a temp dir.
func isolateXDG(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("DATABASE_URL", "")
	return dir
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := isolateXDG(t)

	cfg, err := loadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, filepath.Join(dir, "data", "gameroom", "plugins"), cfg.Plugins.Dir)
	assert.Equal(t, backendMemory, cfg.Rooms.Backend)
	assert.True(t, cfg.Rooms.AutoMigrate)
	assert.Equal(t, backendMemory, cfg.Tasks.Backend)
	assert.Equal(t, 30*time.Second, cfg.Tasks.Grace)
	assert.Equal(t, filepath.Join(dir, "data", "gameroom", "tasks.db"), cfg.Tasks.SQLite.Path)
	assert.Equal(t, uint64(5), cfg.Connect.Retries)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	isolateXDG(t)
	path := writeConfig(t, `
listen_addr: 0.0.0.0:9999
log:
  format: text
  level: debug
tasks:
  backend: redis
  grace: 1m
  redis:
    addr: redis:6379
    db: 2
`)

	cfg, err := loadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.ListenAddr)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, backendRedis, cfg.Tasks.Backend)
	assert.Equal(t, time.Minute, cfg.Tasks.Grace)
	assert.Equal(t, "redis:6379", cfg.Tasks.Redis.Addr)
	assert.Equal(t, 2, cfg.Tasks.Redis.DB)
	assert.Equal(t, "gameroom:task:", cfg.Tasks.Redis.Prefix)
}

func TestLoadConfig_DefaultFileLocation(t *testing.T) {
	dir := isolateXDG(t)
	cfgDir := filepath.Join(dir, "config", "gameroom")
	require.NoError(t, os.MkdirAll(cfgDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte("metrics_addr: \"\"\n"), 0o600))

	cfg, err := loadConfig("", nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	isolateXDG(t)
	path := writeConfig(t, "listen_addr: 0.0.0.0:9999\nlog:\n  format: text\n")

	cmd := NewServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--listen-addr", "127.0.0.1:7000", "--tasks-grace", "2s"}))

	cfg, err := loadConfig(path, cmd.Flags())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Tasks.Grace)
	// unchanged flags keep file and default values
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, backendMemory, cfg.Rooms.Backend)
	assert.True(t, cfg.Rooms.AutoMigrate)
}

func TestLoadConfig_DatabaseURLFromEnv(t *testing.T) {
	isolateXDG(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/rooms")

	cfg, err := loadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/rooms", cfg.Rooms.DatabaseURL)
}

func TestLoadConfig_Errors(t *testing.T) {
	isolateXDG(t)

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

	_, err = loadConfig(writeConfig(t, "log: [unclosed"), nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestConfig_Validate(t *testing.T) {
	isolateXDG(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }, "listen_addr is required"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format must be"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "loud"},
		{"empty plugins dir", func(c *Config) { c.Plugins.Dir = "" }, "plugins.dir is required"},
		{"unknown rooms backend", func(c *Config) { c.Rooms.Backend = "mysql" }, "unknown rooms.backend"},
		{"postgres without url", func(c *Config) { c.Rooms.Backend = backendPostgres }, "database_url"},
		{"postgres with url", func(c *Config) {
			c.Rooms.Backend = backendPostgres
			c.Rooms.DatabaseURL = "postgres://localhost/rooms"
		}, ""},
		{"unknown tasks backend", func(c *Config) { c.Tasks.Backend = "etcd" }, "unknown tasks.backend"},
		{"redis without addr", func(c *Config) {
			c.Tasks.Backend = backendRedis
			c.Tasks.Redis.Addr = ""
		}, "tasks.redis.addr"},
		{"sqlite without path", func(c *Config) {
			c.Tasks.Backend = backendSQLite
			c.Tasks.SQLite.Path = ""
		}, "tasks.sqlite.path"},
		{"negative grace", func(c *Config) { c.Tasks.Grace = -time.Second }, "tasks.grace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig("", nil)
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
		})
	}
}
