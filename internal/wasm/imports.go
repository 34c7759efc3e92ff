// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

import (
	"context"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/holomush/gameroom/internal/plugin"
)

// instantiateHostModule exports the capability table:
//
//	rand() -> i32
//	debug(ptr, len)
//	reserve(playerPtr, playerLen, roomPtr, roomLen, actionPtr, actionLen, timeoutMs) -> i64
//	cancel(roomPtr, roomLen, taskPtr, taskLen)
func instantiateHostModule(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().WithFunc(hostRand).Export("rand").
		NewFunctionBuilder().WithFunc(hostDebug).Export("debug").
		NewFunctionBuilder().WithFunc(hostReserve).Export("reserve").
		NewFunctionBuilder().WithFunc(hostCancel).Export("cancel").
		Instantiate(ctx)
	return err
}

func capsFrom(ctx context.Context) *plugin.Capabilities {
	caps, _ := ctx.Value(capsKey{}).(*plugin.Capabilities)
	return caps
}

func readString(m api.Module, ptr, size uint32) (string, bool) {
	if size == 0 {
		return "", true
	}
	buf, ok := m.Memory().Read(ptr, size)
	if !ok {
		return "", false
	}
	return string(buf), true
}

func hostRand(ctx context.Context) uint32 {
	caps := capsFrom(ctx)
	if caps == nil {
		return 0
	}
	return caps.Rand(ctx)
}

func hostDebug(ctx context.Context, m api.Module, ptr, size uint32) {
	caps := capsFrom(ctx)
	if caps == nil {
		return
	}
	msg, ok := readString(m, ptr, size)
	if !ok {
		slog.WarnContext(ctx, "debug message out of bounds", "ptr", ptr, "len", size)
		return
	}
	caps.Debug(ctx, msg)
}

// hostReserve returns the packed (ptr, len) of the task id in guest memory,
// or 0 on failure.
func hostReserve(ctx context.Context, m api.Module, pp, pl, rp, rl, ap, al, timeoutMs uint32) uint64 {
	caps := capsFrom(ctx)
	if caps == nil {
		return 0
	}
	playerID, ok1 := readString(m, pp, pl)
	roomID, ok2 := readString(m, rp, rl)
	action, ok3 := readString(m, ap, al)
	if !ok1 || !ok2 || !ok3 {
		slog.WarnContext(ctx, "reserve arguments out of bounds")
		return 0
	}

	id, err := caps.Reserve(ctx, playerID, roomID, []byte(action), timeoutMs)
	if err != nil {
		return 0
	}

	alloc := m.ExportedFunction(allocExport)
	ptr, err := writeGuest(ctx, m, alloc, []byte(id))
	if err != nil {
		slog.WarnContext(ctx, "failed to return task id to guest", "task", id, "error", err)
		return 0
	}
	return pack(ptr, uint32(len(id)))
}

func hostCancel(ctx context.Context, m api.Module, rp, rl, tp, tl uint32) {
	caps := capsFrom(ctx)
	if caps == nil {
		return
	}
	roomID, ok1 := readString(m, rp, rl)
	taskID, ok2 := readString(m, tp, tl)
	if !ok1 || !ok2 {
		slog.WarnContext(ctx, "cancel arguments out of bounds")
		return
	}
	caps.Cancel(ctx, roomID, taskID)
}
