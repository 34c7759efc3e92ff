// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package registry stores plugin packages and serves them to the room
// service by plugin id.
package registry

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/gameroom/internal/plugin"
)

// ManifestFile is the manifest name inside a package directory.
const ManifestFile = "plugin.yaml"

// Manifest is a plugin.yaml file.
type Manifest struct {
	Name         string      `yaml:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Type         plugin.Kind `yaml:"type" jsonschema:"enum=wasm,enum=lua"`
	Module       string      `yaml:"module" jsonschema:"minLength=1"`
	Version      string      `yaml:"version,omitempty"`
	Engine       string      `yaml:"engine,omitempty"`
	Capabilities []string    `yaml:"capabilities,omitempty"`
}

const maxNameLength = 64

// namePattern: lowercase letter first, then lowercase letters, digits or
// hyphens, not ending with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ValidID reports whether id is usable as a plugin id.
func ValidID(id string) bool {
	return len(id) <= maxNameLength && namePattern.MatchString(id)
}

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.In("registry").New("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.In("registry").Wrapf(err, "invalid YAML")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	errb := oops.In("registry").With("plugin", m.Name)

	if !ValidID(m.Name) {
		return errb.Errorf("name %q must be at most %d characters, start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name, maxNameLength)
	}
	if _, err := plugin.ParseKind(string(m.Type)); err != nil {
		return errb.Errorf("type must be 'wasm' or 'lua', got %q", m.Type)
	}
	if m.Module == "" {
		return errb.Errorf("module is required")
	}
	if filepath.IsAbs(m.Module) || strings.Contains(filepath.ToSlash(m.Module), "..") {
		return errb.With("module", m.Module).Errorf("module must be a path inside the package directory")
	}
	if m.Version != "" {
		if _, err := semver.StrictNewVersion(m.Version); err != nil {
			return errb.Wrapf(err, "version %q is not valid semver", m.Version)
		}
	}
	if m.Engine != "" {
		if _, err := semver.NewConstraint(m.Engine); err != nil {
			return errb.Wrapf(err, "engine %q is not a valid version constraint", m.Engine)
		}
	}
	for i, c := range m.Capabilities {
		if strings.TrimSpace(c) == "" {
			return errb.With("index", i).Errorf("capability %d is empty", i)
		}
	}
	return nil
}

// SupportsEngine reports whether hostVersion satisfies the manifest's
// engine constraint. An empty constraint accepts any host.
func (m *Manifest) SupportsEngine(hostVersion string) (bool, error) {
	if m.Engine == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(m.Engine)
	if err != nil {
		return false, oops.In("registry").With("engine", m.Engine).Wrap(err)
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return false, oops.In("registry").With("host_version", hostVersion).Wrap(err)
	}
	return c.Check(v), nil
}
