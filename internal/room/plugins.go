// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/gameroom/internal/plugin"
	"github.com/holomush/gameroom/internal/plugin/capability"
	"github.com/holomush/gameroom/internal/registry"
)

// ModuleLoader instantiates module bytes of a given kind. *plugin.Runtime
// implements it.
type ModuleLoader interface {
	Load(ctx context.Context, kind plugin.Kind, module []byte, caps *plugin.Capabilities) (plugin.Instance, error)
}

// PluginCache loads each plugin once per package digest and shares the
// host across every room running it.
type PluginCache struct {
	fetcher  registry.Fetcher
	loader   ModuleLoader
	caps     *plugin.Capabilities
	enforcer *capability.Enforcer
	logger   *slog.Logger

	mu      sync.Mutex
	hosts   map[string]cachedHost
	retired []*plugin.Host
	closed  bool
}

type cachedHost struct {
	digest string
	host   *plugin.Host
}

// PluginCacheOption configures a PluginCache.
type PluginCacheOption func(*PluginCache)

// WithCacheLogger sets the cache logger.
func WithCacheLogger(l *slog.Logger) PluginCacheOption {
	return func(c *PluginCache) { c.logger = l }
}

// NewPluginCache creates a cache. caps is bound to every loaded instance;
// enforcer, when non-nil, receives each package's capability grants and
// must be the enforcer caps was built with.
func NewPluginCache(fetcher registry.Fetcher, loader ModuleLoader, caps *plugin.Capabilities,
	enforcer *capability.Enforcer, opts ...PluginCacheOption,
) *PluginCache {
	c := &PluginCache{
		fetcher:  fetcher,
		loader:   loader,
		caps:     caps,
		enforcer: enforcer,
		logger:   slog.Default(),
		hosts:    make(map[string]cachedHost),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host returns the loaded host for pluginID, loading it if the package is
// new or its digest changed. Hosts replaced by a newer digest stay open
// until Close so in-flight calls on them can finish.
func (c *PluginCache) Host(ctx context.Context, pluginID string) (*plugin.Host, error) {
	pkg, err := c.fetcher.FetchPackage(ctx, pluginID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, oops.In("room").With("plugin", pluginID).New("plugin cache is closed")
	}
	if cached, ok := c.hosts[pluginID]; ok && cached.digest == pkg.Digest {
		c.mu.Unlock()
		return cached.host, nil
	}
	c.mu.Unlock()

	host, err := c.load(ctx, pkg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = host.Close(ctx)
		return nil, oops.In("room").With("plugin", pluginID).New("plugin cache is closed")
	}
	if cached, ok := c.hosts[pluginID]; ok {
		if cached.digest == pkg.Digest {
			_ = host.Close(ctx)
			return cached.host, nil
		}
		c.retired = append(c.retired, cached.host)
	}
	c.hosts[pluginID] = cachedHost{digest: pkg.Digest, host: host}
	c.logger.InfoContext(ctx, "plugin loaded",
		"plugin", pluginID, "version", pkg.Meta.Version, "kind", pkg.Kind, "hooks", host.Hooks().Names())
	return host, nil
}

func (c *PluginCache) load(ctx context.Context, pkg *registry.Package) (*plugin.Host, error) {
	if c.enforcer != nil {
		if err := c.enforcer.SetGrants(pkg.ID, pkg.Capabilities); err != nil {
			return nil, plugin.LoadError("room", err, "plugin %s has invalid capabilities", pkg.ID)
		}
	}
	inst, err := c.loader.Load(ctx, pkg.Kind, pkg.Module, c.caps)
	if err != nil {
		return nil, err
	}
	host, err := plugin.NewHost(pkg.ID, inst)
	if err != nil {
		_ = inst.Close(ctx)
		return nil, err
	}
	return host, nil
}

// Loaded returns the number of current hosts.
func (c *PluginCache) Loaded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hosts)
}

// Close releases every host.
func (c *PluginCache) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for id, cached := range c.hosts {
		if err := cached.host.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if c.enforcer != nil {
			c.enforcer.RemoveGrants(id)
		}
	}
	for _, h := range c.retired {
		if err := h.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.hosts = nil
	c.retired = nil
	return errors.Join(errs...)
}
