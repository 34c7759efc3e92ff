// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves XDG Base Directory paths for gameroom.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "gameroom"

// ConfigDir returns $XDG_CONFIG_HOME/gameroom, defaulting to ~/.config.
func ConfigDir() string {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns $XDG_DATA_HOME/gameroom, defaulting to ~/.local/share.
func DataDir() string {
	return dir("XDG_DATA_HOME", ".local", "share")
}

// ConfigFile is the default config file location.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// PluginsDir is the default plugin package directory.
func PluginsDir() string {
	return filepath.Join(DataDir(), "plugins")
}

// TasksDB is the default SQLite task store path.
func TasksDB() string {
	return filepath.Join(DataDir(), "tasks.db")
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").With("path", path).Wrapf(err, "failed to create directory")
	}
	return nil
}

func dir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
	}
	return filepath.Join(base, appName)
}
