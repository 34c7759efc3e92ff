// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

import (
	"github.com/samber/oops"
	"github.com/tetratelabs/wazero/api"

	"github.com/holomush/gameroom/internal/plugin"
)

// Result frame tags.
const (
	frameOk  byte = 0x00
	frameErr byte = 0x01
)

// Names the module must export besides its hooks.
const (
	memoryExport = "memory"
	allocExport  = "alloc"
)

// hostModule is the import namespace of the capability table.
const hostModule = "gameroom"

// hookParams is the number of i32 parameters of each hook: one (ptr, len)
// pair per argument.
var hookParams = map[plugin.Hook]int{
	plugin.HookCreateRoom:  4,
	plugin.HookJoinPlayer:  6,
	plugin.HookLeavePlayer: 6,
	plugin.HookRPC:         8,
	plugin.HookTask:        4,
	plugin.HookCancelTask:  4,
}

func pack(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

func unpack(v uint64) (ptr, size uint32) {
	return uint32(v >> 32), uint32(v)
}

// signatureIs reports whether def takes n i32 params and returns one i64.
func signatureIs(def api.FunctionDefinition, n int) bool {
	params := def.ParamTypes()
	if len(params) != n {
		return false
	}
	for _, p := range params {
		if p != api.ValueTypeI32 {
			return false
		}
	}
	results := def.ResultTypes()
	return len(results) == 1 && results[0] == api.ValueTypeI64
}

// decodeFrame turns a hook result frame into a Result.
func decodeFrame(frame []byte) (plugin.Result, error) {
	if len(frame) == 0 {
		return plugin.Result{}, oops.In("wasm").New("empty result frame")
	}
	body := make([]byte, len(frame)-1)
	copy(body, frame[1:])

	switch frame[0] {
	case frameOk:
		return plugin.Ok(body), nil
	case frameErr:
		return plugin.Err(string(body)), nil
	default:
		return plugin.Result{}, oops.In("wasm").With("tag", frame[0]).Errorf("unknown result frame tag 0x%02x", frame[0])
	}
}
