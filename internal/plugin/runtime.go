// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"
)

// Runtime dispatches loads to the Loader registered for each Kind.
type Runtime struct {
	mu      sync.RWMutex
	loaders map[Kind]Loader
	closed  bool
}

// NewRuntime creates a runtime over the given loaders.
func NewRuntime(loaders map[Kind]Loader) *Runtime {
	m := make(map[Kind]Loader, len(loaders))
	for k, l := range loaders {
		m[k] = l
	}
	return &Runtime{loaders: m}
}

func (r *Runtime) loader(kind Kind) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, oops.In("plugin").With("kind", kind).New("runtime is closed")
	}
	l, ok := r.loaders[kind]
	if !ok {
		return nil, LoadError("plugin", errors.New("no loader registered"), "unsupported plugin kind %q", kind)
	}
	return l, nil
}

// Load instantiates module with the loader for kind.
func (r *Runtime) Load(ctx context.Context, kind Kind, module []byte, caps *Capabilities) (Instance, error) {
	l, err := r.loader(kind)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, module, caps)
}

// Inspect reads metadata and exports from module without a scheduler.
func (r *Runtime) Inspect(ctx context.Context, kind Kind, module []byte) (Meta, HookSet, error) {
	l, err := r.loader(kind)
	if err != nil {
		return Meta{}, HookSet{}, err
	}
	return Inspect(ctx, l, module)
}

// Close closes every loader. Subsequent loads fail.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, l := range r.loaders {
		if err := l.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
