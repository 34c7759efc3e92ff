// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package wasm runs room plugins compiled to WebAssembly using wazero.
//
// A module is compiled once and shared. Every hook call instantiates it
// afresh so no guest memory survives between calls. Host imports live in the
// "gameroom" namespace and see the plugin's capabilities through the call
// context.
package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/holomush/gameroom/internal/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Loader   = (*Loader)(nil)
	_ plugin.Instance = (*instance)(nil)
)

// ErrLoaderClosed is returned by Load after Close.
var ErrLoaderClosed = errors.New("wasm loader is closed")

type capsKey struct{}

// Loader owns the wazero runtime and its host module.
type Loader struct {
	mu      sync.RWMutex
	runtime wazero.Runtime
	closed  bool

	callTimeout time.Duration
	memoryPages uint32
}

// Option configures a Loader.
type Option func(*Loader)

// WithCallTimeout bounds the wall time of a single hook call.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Loader) { l.callTimeout = d }
}

// WithMemoryLimitPages caps guest memory in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(l *Loader) { l.memoryPages = pages }
}

// NewLoader creates a runtime and instantiates the host module into it.
func NewLoader(ctx context.Context, opts ...Option) (*Loader, error) {
	l := &Loader{memoryPages: 256}
	for _, opt := range opts {
		opt(l)
	}

	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(l.memoryPages)
	l.runtime = wazero.NewRuntimeWithConfig(ctx, cfg)

	if err := instantiateHostModule(ctx, l.runtime); err != nil {
		_ = l.runtime.Close(ctx)
		return nil, oops.In("wasm").Wrapf(err, "failed to instantiate host module")
	}
	return l, nil
}

// Close shuts down the runtime. Instances become unusable.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.runtime.Close(ctx)
}

// Load compiles module, checks its exports and performs one trial
// instantiation so import mismatches surface as LoadError now.
func (l *Loader) Load(ctx context.Context, module []byte, caps *plugin.Capabilities) (plugin.Instance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, oops.In("wasm").Wrap(ErrLoaderClosed)
	}

	compiled, err := l.runtime.CompileModule(ctx, module)
	if err != nil {
		return nil, plugin.LoadError("wasm", err, "invalid module")
	}

	hooks, hasMeta, err := resolveExports(compiled)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, plugin.LoadError("wasm", err, "invalid exports")
	}

	trial, err := l.runtime.InstantiateModule(ctx, compiled, moduleConfig())
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, plugin.LoadError("wasm", err, "instantiation failed")
	}
	_ = trial.Close(ctx)

	slog.Debug("loaded wasm module", "size", len(module), "hooks", hooks.Names())
	return &instance{
		loader:   l,
		compiled: compiled,
		caps:     caps,
		hooks:    hooks,
		hasMeta:  hasMeta,
	}, nil
}

func moduleConfig() wazero.ModuleConfig {
	// Anonymous so the same module can be instantiated concurrently.
	return wazero.NewModuleConfig().WithName("").WithStartFunctions()
}

func resolveExports(compiled wazero.CompiledModule) (plugin.HookSet, bool, error) {
	if _, ok := compiled.ExportedMemories()[memoryExport]; !ok {
		return plugin.HookSet{}, false, fmt.Errorf("missing %q export", memoryExport)
	}

	funcs := compiled.ExportedFunctions()
	alloc, ok := funcs[allocExport]
	if !ok {
		return plugin.HookSet{}, false, fmt.Errorf("missing %q export", allocExport)
	}
	if p, r := alloc.ParamTypes(), alloc.ResultTypes(); len(p) != 1 || p[0] != api.ValueTypeI32 || len(r) != 1 || r[0] != api.ValueTypeI32 {
		return plugin.HookSet{}, false, fmt.Errorf("%q must be (i32) -> i32", allocExport)
	}

	var mismatch error
	hooks := plugin.ResolveHooks(func(name string) bool {
		_, ok := funcs[name]
		return ok
	})
	for _, h := range plugin.AllHooks() {
		if !hooks.Has(h) {
			continue
		}
		if !signatureIs(funcs[h.Export()], hookParams[h]) {
			mismatch = errors.Join(mismatch, fmt.Errorf("%s must take %d i32 params and return i64", h, hookParams[h]))
		}
	}
	if mismatch != nil {
		return plugin.HookSet{}, false, mismatch
	}

	meta, hasMeta := funcs[plugin.MetaExport]
	if hasMeta && !signatureIs(meta, 0) {
		return plugin.HookSet{}, false, fmt.Errorf("%s must be () -> i64", plugin.MetaExport)
	}
	return hooks, hasMeta, nil
}

type instance struct {
	loader   *Loader
	compiled wazero.CompiledModule
	caps     *plugin.Capabilities
	hooks    plugin.HookSet
	hasMeta  bool
}

func (i *instance) Hooks() plugin.HookSet { return i.hooks }

func (i *instance) Close(ctx context.Context) error {
	return i.compiled.Close(ctx)
}

// session is one fresh instantiation of the module.
type session struct {
	mod   api.Module
	alloc api.Function
}

func (i *instance) open(ctx context.Context) (*session, error) {
	i.loader.mu.RLock()
	defer i.loader.mu.RUnlock()
	if i.loader.closed {
		return nil, ErrLoaderClosed
	}
	mod, err := i.loader.runtime.InstantiateModule(ctx, i.compiled, moduleConfig())
	if err != nil {
		return nil, err
	}
	return &session{mod: mod, alloc: mod.ExportedFunction(allocExport)}, nil
}

func (s *session) close(ctx context.Context) {
	_ = s.mod.Close(context.WithoutCancel(ctx))
}

// write copies data into freshly allocated guest memory.
func (s *session) write(ctx context.Context, data []byte) (uint32, error) {
	return writeGuest(ctx, s.mod, s.alloc, data)
}

func (s *session) read(ptr, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf, ok := s.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("result (%d, %d) out of memory bounds", ptr, size)
	}
	return buf, nil
}

func writeGuest(ctx context.Context, mod api.Module, alloc api.Function, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	res, err := alloc.Call(ctx, api.EncodeU32(uint32(len(data))))
	if err != nil {
		return 0, fmt.Errorf("alloc: %w", err)
	}
	ptr := api.DecodeU32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("alloc returned out of bounds pointer %d", ptr)
	}
	return ptr, nil
}

func (i *instance) Invoke(ctx context.Context, call plugin.Call) (plugin.Result, error) {
	if i.loader.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.loader.callTimeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, capsKey{}, i.caps)

	s, err := i.open(ctx)
	if err != nil {
		return plugin.Result{}, oops.In("wasm").With("hook", call.Hook.String()).Wrapf(err, "instantiate")
	}
	defer s.close(ctx)

	args := call.Args()
	params := make([]uint64, 0, 2*len(args))
	for _, a := range args {
		ptr, err := s.write(ctx, a)
		if err != nil {
			return plugin.Result{}, oops.In("wasm").With("hook", call.Hook.String()).Wrap(err)
		}
		params = append(params, api.EncodeU32(ptr), api.EncodeU32(uint32(len(a))))
	}

	res, err := s.mod.ExportedFunction(call.Hook.Export()).Call(ctx, params...)
	if err != nil {
		return plugin.Result{}, oops.In("wasm").With("hook", call.Hook.String()).Wrap(err)
	}

	frame, err := s.read(unpack(res[0]))
	if err != nil {
		return plugin.Result{}, oops.In("wasm").With("hook", call.Hook.String()).Wrap(err)
	}
	return decodeFrame(frame)
}

// Meta calls pluginMeta, which returns a JSON object.
func (i *instance) Meta(ctx context.Context) (plugin.Meta, error) {
	if !i.hasMeta {
		return plugin.Meta{}, plugin.MetaError("wasm", errors.New("export not found"), "missing %s", plugin.MetaExport)
	}

	s, err := i.open(ctx)
	if err != nil {
		return plugin.Meta{}, plugin.MetaError("wasm", err, "instantiate")
	}
	defer s.close(ctx)

	res, err := s.mod.ExportedFunction(plugin.MetaExport).Call(ctx)
	if err != nil {
		return plugin.Meta{}, plugin.MetaError("wasm", err, "%s trapped", plugin.MetaExport)
	}
	raw, err := s.read(unpack(res[0]))
	if err != nil {
		return plugin.Meta{}, plugin.MetaError("wasm", err, "read %s", plugin.MetaExport)
	}

	var meta plugin.Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return plugin.Meta{}, plugin.MetaError("wasm", err, "decode %s", plugin.MetaExport)
	}
	return meta, nil
}
