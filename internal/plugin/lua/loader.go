// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/holomush/gameroom/internal/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Loader   = (*Loader)(nil)
	_ plugin.Instance = (*instance)(nil)
)

// hostTable is the global through which scripts reach the host imports.
const hostTable = "host"

// Loader compiles Lua chunks into plugin instances.
type Loader struct {
	factory     *StateFactory
	callTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithCallTimeout bounds the wall time of a single hook call.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Loader) { l.callTimeout = d }
}

// NewLoader creates a Lua loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{factory: NewStateFactory()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load compiles module once and resolves which hooks it defines.
func (l *Loader) Load(ctx context.Context, module []byte, caps *plugin.Capabilities) (plugin.Instance, error) {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return nil, oops.In("lua").New("loader is closed")
	}

	chunk, err := parse.Parse(bytes.NewReader(module), "plugin")
	if err != nil {
		return nil, plugin.LoadError("lua", err, "syntax error")
	}
	proto, err := lua.Compile(chunk, "plugin")
	if err != nil {
		return nil, plugin.LoadError("lua", err, "compile error")
	}

	inst := &instance{loader: l, proto: proto, caps: caps}

	L, err := inst.newState(ctx, inertCaps)
	if err != nil {
		return nil, plugin.LoadError("lua", err, "failed to evaluate chunk")
	}
	defer L.Close()

	inst.hooks = plugin.ResolveHooks(func(name string) bool {
		return L.GetGlobal(name).Type() == lua.LTFunction
	})
	inst.hasMeta = L.GetGlobal(plugin.MetaExport).Type() == lua.LTFunction
	return inst, nil
}

// Close rejects further loads. Instances already handed out keep working.
func (l *Loader) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

type instance struct {
	loader  *Loader
	proto   *lua.FunctionProto
	caps    *plugin.Capabilities
	hooks   plugin.HookSet
	hasMeta bool
}

func (i *instance) Hooks() plugin.HookSet { return i.hooks }

func (i *instance) Close(context.Context) error { return nil }

// inertCaps backs the host table while evaluating a chunk outside a hook
// call: reserve fails and cancel does nothing.
var inertCaps = plugin.NewCapabilities(nil)

// newState returns a sandboxed state with the host table bound to ctx and
// the compiled chunk already evaluated.
func (i *instance) newState(ctx context.Context, caps *plugin.Capabilities) (*lua.LState, error) {
	L, err := i.loader.factory.NewState(ctx)
	if err != nil {
		return nil, err
	}
	if caps == nil {
		caps = inertCaps
	}
	registerHost(ctx, L, caps)

	L.Push(L.NewFunctionFromProto(i.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, err
	}
	L.SetTop(0)
	return L, nil
}

func (i *instance) Invoke(ctx context.Context, call plugin.Call) (plugin.Result, error) {
	if i.loader.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.loader.callTimeout)
		defer cancel()
	}

	L, err := i.newState(ctx, i.caps)
	if err != nil {
		return plugin.Result{}, oops.In("lua").With("hook", call.Hook.String()).Wrapf(err, "failed to prepare state")
	}
	defer L.Close()

	args := call.Args()
	values := make([]lua.LValue, len(args))
	for n, a := range args {
		values[n] = lua.LString(a)
	}

	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal(call.Hook.Export()),
		NRet:    2,
		Protect: true,
	}, values...); err != nil {
		return plugin.Result{}, oops.In("lua").With("hook", call.Hook.String()).Wrap(err)
	}

	ret, msg := L.Get(-2), L.Get(-1)
	L.Pop(2)
	return toResult(call.Hook, ret, msg)
}

// toResult maps `return state` to Ok and `return nil, msg` to Err.
func toResult(h plugin.Hook, ret, msg lua.LValue) (plugin.Result, error) {
	switch v := ret.(type) {
	case lua.LString:
		return plugin.Ok(plugin.State(v)), nil
	case lua.LNumber:
		return plugin.Ok(plugin.State(v.String())), nil
	}
	if ret != lua.LNil {
		return plugin.Result{}, oops.In("lua").With("hook", h.String()).
			Errorf("hook returned %s, want string or nil", ret.Type())
	}
	if msg == lua.LNil {
		return plugin.Err("error"), nil
	}
	return plugin.Err(lua.LVAsString(msg)), nil
}

// Meta calls pluginMeta(), which must return a table with name and version.
func (i *instance) Meta(ctx context.Context) (plugin.Meta, error) {
	if !i.hasMeta {
		return plugin.Meta{}, plugin.MetaError("lua", errors.New("export not found"), "missing %s", plugin.MetaExport)
	}

	L, err := i.newState(ctx, inertCaps)
	if err != nil {
		return plugin.Meta{}, plugin.MetaError("lua", err, "failed to prepare state")
	}
	defer L.Close()

	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal(plugin.MetaExport),
		NRet:    1,
		Protect: true,
	}); err != nil {
		return plugin.Meta{}, plugin.MetaError("lua", err, "%s raised", plugin.MetaExport)
	}
	ret := L.Get(-1)
	L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return plugin.Meta{}, plugin.MetaError("lua", fmt.Errorf("got %s", ret.Type()), "%s must return a table", plugin.MetaExport)
	}
	return plugin.Meta{
		Name:    lua.LVAsString(tbl.RawGetString("name")),
		Version: lua.LVAsString(tbl.RawGetString("version")),
	}, nil
}

// registerHost installs the host table. Every function closes over ctx so
// the capability layer sees the identity of the running call.
func registerHost(ctx context.Context, L *lua.LState, caps *plugin.Capabilities) {
	mod := L.NewTable()
	L.SetField(mod, "rand", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(caps.Rand(ctx)))
		return 1
	}))
	L.SetField(mod, "debug", L.NewFunction(func(L *lua.LState) int {
		caps.Debug(ctx, L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "reserve", L.NewFunction(func(L *lua.LState) int {
		playerID := L.CheckString(1)
		roomID := L.CheckString(2)
		action := L.CheckString(3)
		timeout := L.CheckInt(4)
		if timeout < 0 {
			L.ArgError(4, "timeout must not be negative")
			return 0
		}
		id, err := caps.Reserve(ctx, playerID, roomID, []byte(action), uint32(timeout))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(id))
		return 1
	}))
	L.SetField(mod, "cancel", L.NewFunction(func(L *lua.LState) int {
		caps.Cancel(ctx, L.CheckString(1), L.CheckString(2))
		return 0
	}))
	L.SetGlobal(hostTable, mod)
}
