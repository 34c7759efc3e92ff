// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"github.com/zeebo/blake3"

	"github.com/holomush/gameroom/internal/plugin"
	"github.com/holomush/gameroom/internal/plugin/capability"
)

// CodeNotFound is attached to lookups of unknown plugin ids.
const CodeNotFound = "PLUGIN_NOT_FOUND"

// ErrNotFound is returned for unknown plugin ids.
var ErrNotFound = errors.New("plugin not found")

// Package is everything the room service needs to run a plugin.
// Module must be treated as read-only.
type Package struct {
	ID           string
	Kind         plugin.Kind
	Meta         plugin.Meta
	Module       []byte
	Digest       string
	Capabilities []string
}

// Fetcher resolves a plugin id to its package.
type Fetcher interface {
	FetchPackage(ctx context.Context, pluginID string) (*Package, error)
}

// Inspector derives metadata from raw module bytes. *plugin.Runtime
// implements it.
type Inspector interface {
	Inspect(ctx context.Context, kind plugin.Kind, module []byte) (plugin.Meta, plugin.HookSet, error)
}

// Digest returns the hex blake3 digest of module.
func Digest(module []byte) string {
	sum := blake3.Sum256(module)
	return hex.EncodeToString(sum[:])
}

// MemoryRegistry keeps packages in memory.
type MemoryRegistry struct {
	inspector Inspector

	mu       sync.RWMutex
	packages map[string]*Package
}

var _ Fetcher = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry that derives metadata with
// inspector.
func NewMemoryRegistry(inspector Inspector) *MemoryRegistry {
	return &MemoryRegistry{
		inspector: inspector,
		packages:  make(map[string]*Package),
	}
}

// Register derives the module's metadata, checks it and stores the package
// under id, replacing any previous package with that id. Modules without a
// usable pluginMeta export or a semver version are rejected.
func (r *MemoryRegistry) Register(ctx context.Context, id string, kind plugin.Kind, module []byte, capabilities []string) (*Package, error) {
	errb := oops.In("registry").With("plugin", id).With("kind", kind)

	if !ValidID(id) {
		return nil, errb.Errorf("invalid plugin id %q", id)
	}
	meta, hooks, err := r.inspector.Inspect(ctx, kind, module)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	if !hooks.Has(plugin.HookCreateRoom) {
		return nil, plugin.LoadError("registry", fmt.Errorf("missing %s", plugin.HookCreateRoom.Export()), "plugin %s cannot host rooms", id)
	}
	if _, err := semver.StrictNewVersion(meta.Version); err != nil {
		return nil, errb.Code(plugin.CodeMetaFailed).With("version", meta.Version).
			Wrap(fmt.Errorf("%w: version is not semver: %w", plugin.ErrMeta, err))
	}

	if len(capabilities) == 0 {
		capabilities = capability.DefaultGrants
	}
	pkg := &Package{
		ID:           id,
		Kind:         kind,
		Meta:         meta,
		Module:       slices.Clone(module),
		Digest:       Digest(module),
		Capabilities: slices.Clone(capabilities),
	}

	r.mu.Lock()
	r.packages[id] = pkg
	r.mu.Unlock()
	return pkg, nil
}

// FetchPackage returns the package registered under pluginID.
func (r *MemoryRegistry) FetchPackage(_ context.Context, pluginID string) (*Package, error) {
	r.mu.RLock()
	pkg, ok := r.packages[pluginID]
	r.mu.RUnlock()
	if !ok {
		return nil, oops.In("registry").Code(CodeNotFound).With("plugin", pluginID).Wrap(ErrNotFound)
	}
	return pkg, nil
}

// Remove drops a package. It reports whether one was registered.
func (r *MemoryRegistry) Remove(pluginID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.packages[pluginID]
	delete(r.packages, pluginID)
	return ok
}

// List returns the registered plugin ids in sorted order.
func (r *MemoryRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.packages))
	for id := range r.packages {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
