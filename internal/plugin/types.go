// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin defines the sandboxed module contract shared by the wasm and
// Lua runtimes, and the Host that turns module results into state or errors.
package plugin

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

// State is an opaque blob owned by a plugin. The host never decodes it.
type State []byte

// Clone returns a copy that does not alias s.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	copy(out, s)
	return out
}

// Meta is declared by the module through its pluginMeta export.
type Meta struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Call carries the arguments of one hook invocation.
type Call struct {
	Hook     Hook
	PlayerID string
	RoomID   string
	TaskID   string
	State    State
	Action   []byte
}

// Args returns the call's arguments in the order the ABI passes them.
func (c Call) Args() [][]byte {
	switch c.Hook {
	case HookCreateRoom:
		return [][]byte{[]byte(c.PlayerID), []byte(c.RoomID)}
	case HookJoinPlayer, HookLeavePlayer:
		return [][]byte{[]byte(c.PlayerID), []byte(c.RoomID), c.State}
	case HookRPC:
		return [][]byte{[]byte(c.PlayerID), []byte(c.RoomID), c.State, c.Action}
	case HookTask, HookCancelTask:
		return [][]byte{[]byte(c.TaskID), c.State}
	default:
		return nil
	}
}

// Result is the envelope every hook returns: Ok(State) or Err(Message).
type Result struct {
	OK      bool
	State   State
	Message string
}

// Ok builds a successful result.
func Ok(state State) Result { return Result{OK: true, State: state} }

// Err builds a failed result.
func Err(message string) Result { return Result{Message: message} }

// Instance is a loaded module. Implementations must be safe for concurrent
// Invoke calls; the host shares one instance across rooms.
type Instance interface {
	// Hooks reports which hooks the module exports.
	Hooks() HookSet
	// Invoke runs a hook. A non-nil error means the module faulted.
	Invoke(ctx context.Context, call Call) (Result, error)
	// Meta calls the pluginMeta export.
	Meta(ctx context.Context) (Meta, error)
	Close(ctx context.Context) error
}

// Loader turns raw module bytes into an Instance bound to caps.
type Loader interface {
	Load(ctx context.Context, module []byte, caps *Capabilities) (Instance, error)
	Close(ctx context.Context) error
}

// Kind selects the runtime for a module.
type Kind string

// Supported runtimes.
const (
	KindWasm Kind = "wasm"
	KindLua  Kind = "lua"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindWasm, KindLua:
		return k, nil
	default:
		return "", oops.In("plugin").With("kind", s).Errorf("unsupported plugin kind %q", s)
	}
}

// KindFromPath infers the runtime from a module file extension.
func KindFromPath(path string) (Kind, error) {
	return ParseKind(strings.TrimPrefix(filepath.Ext(path), "."))
}
