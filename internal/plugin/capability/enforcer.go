// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability gates the host imports a plugin may call.
//
// Grants are gobwas/glob patterns with '.' as the segment separator:
//   - '*' matches a single segment ("task.*" matches "task.reserve")
//   - '**' matches zero or more segments ("**" matches everything)
package capability

import (
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Capability names checked by the host imports.
const (
	TaskReserve = "task.reserve"
	TaskCancel  = "task.cancel"
	HostRand    = "host.rand"
	HostDebug   = "host.debug"
)

// DefaultGrants is applied to packages whose manifest declares no capabilities.
var DefaultGrants = []string{"**"}

type grant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer maps plugin ids to their granted capability patterns.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]grant
}

// NewEnforcer creates an empty enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]grant)}
}

// SetGrants replaces the grants for a plugin. Every pattern is compiled
// before any state changes, so a bad pattern leaves previous grants intact.
func (e *Enforcer) SetGrants(pluginID string, patterns []string) error {
	if pluginID == "" {
		return oops.In("capability").New("plugin id cannot be empty")
	}

	compiled := make([]grant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return oops.In("capability").With("plugin", pluginID).With("index", i).New("empty capability pattern")
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return oops.In("capability").With("plugin", pluginID).With("pattern", pattern).Wrapf(err, "invalid capability pattern")
		}
		compiled[i] = grant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]grant)
	}
	e.grants[pluginID] = compiled
	return nil
}

// RemoveGrants forgets a plugin. Unknown ids are ignored.
func (e *Enforcer) RemoveGrants(pluginID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, pluginID)
}

// Grants returns a copy of the patterns granted to a plugin, or nil if the
// plugin is not registered.
func (e *Enforcer) Grants(pluginID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[pluginID]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Check reports whether the plugin holds the capability. Unknown plugins
// and empty names are denied.
func (e *Enforcer) Check(pluginID, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, g := range e.grants[pluginID] {
		if g.glob.Match(capability) {
			return true
		}
	}
	return false
}
