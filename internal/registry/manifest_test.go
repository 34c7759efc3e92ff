// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package registry_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gameroom/internal/plugin"
	"github.com/holomush/gameroom/internal/registry"
)

func TestParseManifest(t *testing.T) {
	m, err := registry.ParseManifest([]byte(`
name: counter
type: lua
module: main.lua
version: 1.0.0
engine: ">= 0.1.0"
capabilities:
  - task.*
  - host.debug
`))
	require.NoError(t, err)

	assert.Equal(t, "counter", m.Name)
	assert.Equal(t, plugin.KindLua, m.Type)
	assert.Equal(t, "main.lua", m.Module)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, []string{"task.*", "host.debug"}, m.Capabilities)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", ``, "empty"},
		{"bad yaml", "name: [unclosed", "YAML"},
		{"uppercase name", "name: Counter\ntype: lua\nmodule: main.lua", "name"},
		{"trailing hyphen", "name: counter-\ntype: lua\nmodule: main.lua", "name"},
		{"name too long", "name: " + strings.Repeat("a", 65) + "\ntype: lua\nmodule: main.lua", "name"},
		{"unknown type", "name: counter\ntype: binary\nmodule: main", "type"},
		{"missing module", "name: counter\ntype: wasm", "module"},
		{"escaping module", "name: counter\ntype: wasm\nmodule: ../other/x.wasm", "module"},
		{"absolute module", "name: counter\ntype: wasm\nmodule: /etc/passwd", "module"},
		{"leading v version", "name: counter\ntype: lua\nmodule: main.lua\nversion: v1.0.0", "version"},
		{"partial version", "name: counter\ntype: lua\nmodule: main.lua\nversion: \"1.0\"", "version"},
		{"bad engine", "name: counter\ntype: lua\nmodule: main.lua\nengine: not-a-version", "engine"},
		{"empty capability", "name: counter\ntype: lua\nmodule: main.lua\ncapabilities: [\"\"]", "capability"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.ParseManifest([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidID(t *testing.T) {
	for _, id := range []string{"a", "counter", "tic-tac-toe", "poker2"} {
		assert.True(t, registry.ValidID(id), id)
	}
	for _, id := range []string{"", "-x", "x-", "Counter", "snake_case", strings.Repeat("a", 65)} {
		assert.False(t, registry.ValidID(id), id)
	}
}

func TestManifest_SupportsEngine(t *testing.T) {
	tests := []struct {
		engine string
		host   string
		want   bool
	}{
		{"", "0.0.1", true},
		{">= 1.0.0", "1.2.0", true},
		{"^1.2.0", "2.0.0", false},
		{"~0.3.0", "0.3.9", true},
		{"1.x", "1.7.3", true},
	}
	for _, tt := range tests {
		t.Run(tt.engine+"@"+tt.host, func(t *testing.T) {
			m := &registry.Manifest{Engine: tt.engine}
			got, err := m.SupportsEngine(tt.host)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := (&registry.Manifest{Engine: ">= 1.0.0"}).SupportsEngine("dev")
	assert.Error(t, err)
}
