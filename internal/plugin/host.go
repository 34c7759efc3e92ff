// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Host exposes the typed hooks of one loaded plugin. Hooks the module does
// not export return the input state unchanged.
type Host struct {
	pluginID string
	instance Instance
	hooks    HookSet
	tracer   trace.Tracer
}

// NewHost wraps inst. Modules without onCreateRoom are rejected with a
// PLUGIN_LOAD_FAILED error.
func NewHost(pluginID string, inst Instance) (*Host, error) {
	hooks := inst.Hooks()
	if !hooks.Has(HookCreateRoom) {
		return nil, LoadError("plugin", errors.New("missing mandatory export "+HookCreateRoom.Export()),
			"plugin %s cannot host rooms", pluginID)
	}
	return &Host{
		pluginID: pluginID,
		instance: inst,
		hooks:    hooks,
		tracer:   otel.Tracer("gameroom/plugin"),
	}, nil
}

// ID returns the plugin id the host was loaded for.
func (h *Host) ID() string { return h.pluginID }

// Hooks returns the resolved export table.
func (h *Host) Hooks() HookSet { return h.hooks }

// Has reports whether the plugin exports hook.
func (h *Host) Has(hook Hook) bool { return h.hooks.Has(hook) }

// Meta returns the module's declared metadata.
func (h *Host) Meta(ctx context.Context) (Meta, error) {
	return h.instance.Meta(ctx)
}

// Close releases the underlying instance.
func (h *Host) Close(ctx context.Context) error {
	return h.instance.Close(ctx)
}

// OnCreateRoom builds the initial state of a new room.
func (h *Host) OnCreateRoom(ctx context.Context, playerID, roomID string) (State, error) {
	return h.invoke(ctx, Call{Hook: HookCreateRoom, PlayerID: playerID, RoomID: roomID})
}

// OnJoinPlayer applies a join to an existing room.
func (h *Host) OnJoinPlayer(ctx context.Context, playerID, roomID string, state State) (State, error) {
	return h.invoke(ctx, Call{Hook: HookJoinPlayer, PlayerID: playerID, RoomID: roomID, State: state})
}

// OnLeavePlayer applies a departure.
func (h *Host) OnLeavePlayer(ctx context.Context, playerID, roomID string, state State) (State, error) {
	return h.invoke(ctx, Call{Hook: HookLeavePlayer, PlayerID: playerID, RoomID: roomID, State: state})
}

// RPC applies a player action.
func (h *Host) RPC(ctx context.Context, playerID, roomID string, state State, action []byte) (State, error) {
	return h.invoke(ctx, Call{Hook: HookRPC, PlayerID: playerID, RoomID: roomID, State: state, Action: action})
}

// OnTask notifies the plugin that a reservation fired.
func (h *Host) OnTask(ctx context.Context, roomID, taskID string, state State) (State, error) {
	return h.invoke(ctx, Call{Hook: HookTask, RoomID: roomID, TaskID: taskID, State: state})
}

// OnCancelTask notifies the plugin that a reservation was canceled.
func (h *Host) OnCancelTask(ctx context.Context, roomID, taskID string, state State) (State, error) {
	return h.invoke(ctx, Call{Hook: HookCancelTask, RoomID: roomID, TaskID: taskID, State: state})
}

func (h *Host) invoke(ctx context.Context, call Call) (state State, err error) {
	hook := call.Hook.String()
	if !h.hooks.Has(call.Hook) {
		HookCalls.WithLabelValues(hook, StatusSkipped).Inc()
		return call.State, nil
	}

	ctx, span := h.tracer.Start(ctx, "plugin."+hook,
		trace.WithAttributes(
			attribute.String("plugin.id", h.pluginID),
			attribute.String("room.id", call.RoomID),
		))
	defer span.End()

	ctx, cs := withCall(ctx, h.pluginID, call.RoomID)
	start := time.Now()
	status := StatusOK
	defer func() {
		HookDuration.WithLabelValues(hook).Observe(time.Since(start).Seconds())
		HookCalls.WithLabelValues(hook, status).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			status = StatusFault
			state = nil
			err = wrapHookError(h.pluginID, call.RoomID, &HookError{
				Hook:    call.Hook,
				Message: faultMessage,
				Fault:   true,
				cause:   fmt.Errorf("panic: %v", r),
			})
		}
	}()

	res, callErr := h.instance.Invoke(ctx, call)
	switch {
	case cs.failure() != nil:
		status = StatusError
		return nil, wrapHookError(h.pluginID, call.RoomID, &HookError{
			Hook:    call.Hook,
			Message: importFailureMessage(cs.failure()),
			cause:   cs.failure(),
		})
	case callErr != nil:
		status = StatusFault
		return nil, wrapHookError(h.pluginID, call.RoomID, &HookError{
			Hook:    call.Hook,
			Message: faultMessage,
			Fault:   true,
			cause:   callErr,
		})
	case !res.OK:
		status = StatusError
		return nil, wrapHookError(h.pluginID, call.RoomID, &HookError{Hook: call.Hook, Message: res.Message})
	}
	return res.State, nil
}

func importFailureMessage(err error) string {
	if errors.Is(err, ErrCapabilityDenied) {
		return "capability denied"
	}
	return "task reservation failed"
}

// Inspect loads module with a scheduler-less capability table and reports
// its metadata and exports without committing it to a room.
func Inspect(ctx context.Context, loader Loader, module []byte) (Meta, HookSet, error) {
	inst, err := loader.Load(ctx, module, NewCapabilities(nil))
	if err != nil {
		return Meta{}, HookSet{}, err
	}
	defer func() { _ = inst.Close(ctx) }()

	meta, err := inst.Meta(ctx)
	if err != nil {
		return Meta{}, inst.Hooks(), err
	}
	if meta.Name == "" || meta.Version == "" {
		return Meta{}, inst.Hooks(), oops.In("plugin").Code(CodeMetaFailed).
			With("meta", meta).
			Wrap(fmt.Errorf("%w: name and version are required", ErrMeta))
	}
	return meta, inst.Hooks(), nil
}
