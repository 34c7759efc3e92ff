// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirs(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		fn   func() string
		want string
	}{
		{"config env", map[string]string{"XDG_CONFIG_HOME": "/custom/config"}, ConfigDir, "/custom/config/gameroom"},
		{"config default", map[string]string{"XDG_CONFIG_HOME": "", "HOME": "/home/u"}, ConfigDir, "/home/u/.config/gameroom"},
		{"config file", map[string]string{"XDG_CONFIG_HOME": "/c"}, ConfigFile, "/c/gameroom/config.yaml"},
		{"data env", map[string]string{"XDG_DATA_HOME": "/custom/data"}, DataDir, "/custom/data/gameroom"},
		{"data default", map[string]string{"XDG_DATA_HOME": "", "HOME": "/home/u"}, DataDir, "/home/u/.local/share/gameroom"},
		{"plugins", map[string]string{"XDG_DATA_HOME": "/d"}, PluginsDir, "/d/gameroom/plugins"},
		{"tasks db", map[string]string{"XDG_DATA_HOME": "/d"}, TasksDB, "/d/gameroom/tasks.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := tt.fn(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(path); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("perm = %o, want 700", perm)
	}
	if err := EnsureDir(path); err != nil {
		t.Errorf("EnsureDir() on existing dir: %v", err)
	}
}
