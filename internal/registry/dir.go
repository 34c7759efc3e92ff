// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package registry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// DirRegistry serves packages laid out as <dir>/<plugin-id>/plugin.yaml
// plus the module file the manifest names.
type DirRegistry struct {
	*MemoryRegistry
	dir         string
	hostVersion string
}

// DirOption configures a DirRegistry.
type DirOption func(*DirRegistry)

// WithHostVersion enables manifest engine constraint checks.
func WithHostVersion(v string) DirOption {
	return func(r *DirRegistry) { r.hostVersion = v }
}

// NewDirRegistry creates a registry over dir. Call Discover to populate it.
func NewDirRegistry(dir string, inspector Inspector, opts ...DirOption) *DirRegistry {
	r := &DirRegistry{MemoryRegistry: NewMemoryRegistry(inspector), dir: dir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the directory the registry scans.
func (r *DirRegistry) Dir() string { return r.dir }

// Discover registers every valid package in the directory and returns their
// ids. Invalid packages are logged and skipped. A missing directory yields
// no packages.
func (r *DirRegistry) Discover(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("registry").With("dir", r.dir).Wrapf(err, "failed to read plugins directory")
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := r.load(ctx, entry.Name()); err != nil {
			slog.Warn("skipping plugin package", "dir", entry.Name(), "error", err)
			continue
		}
		ids = append(ids, entry.Name())
	}
	return ids, nil
}

func (r *DirRegistry) load(ctx context.Context, name string) error {
	pkgDir := filepath.Join(r.dir, name)
	errb := oops.In("registry").With("dir", pkgDir)

	data, err := os.ReadFile(filepath.Join(pkgDir, ManifestFile)) //nolint:gosec // path built from ReadDir entries
	if err != nil {
		return errb.Wrapf(err, "missing manifest")
	}
	m, err := ParseManifest(data)
	if err != nil {
		return err
	}
	if m.Name != name {
		return errb.Errorf("manifest name %q does not match directory %q", m.Name, name)
	}
	if r.hostVersion != "" {
		ok, err := m.SupportsEngine(r.hostVersion)
		if err != nil {
			return err
		}
		if !ok {
			return errb.Errorf("plugin requires engine %s, host is %s", m.Engine, r.hostVersion)
		}
	}

	module, err := os.ReadFile(filepath.Join(pkgDir, filepath.Clean(m.Module))) //nolint:gosec // validated relative path
	if err != nil {
		return errb.With("module", m.Module).Wrapf(err, "failed to read module")
	}

	pkg, err := r.Register(ctx, m.Name, m.Type, module, m.Capabilities)
	if err != nil {
		return err
	}
	if m.Version != "" && m.Version != pkg.Meta.Version {
		r.Remove(m.Name)
		return errb.Errorf("manifest version %s does not match module version %s", m.Version, pkg.Meta.Version)
	}

	slog.Info("registered plugin",
		"plugin", pkg.ID,
		"kind", pkg.Kind,
		"name", pkg.Meta.Name,
		"version", pkg.Meta.Version,
		"digest", pkg.Digest[:12])
	return nil
}
