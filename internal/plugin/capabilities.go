// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gameroom/internal/plugin/capability"
)

// Scheduler is the port behind the reserve and cancel imports. Reserve must
// return an id synchronously; Cancel is best-effort and idempotent.
type Scheduler interface {
	Reserve(ctx context.Context, playerID, roomID string, action []byte, timeout time.Duration) (string, error)
	Cancel(ctx context.Context, roomID, taskID string) error
}

// Capabilities implements the host imports every module is bound to.
// Per-call identity (plugin, room) travels in the context set up by Host.
type Capabilities struct {
	scheduler Scheduler
	enforcer  *capability.Enforcer
	rand      func() uint32
	logger    *slog.Logger
}

// CapabilityOption configures Capabilities.
type CapabilityOption func(*Capabilities)

// WithEnforcer gates imports through e. Without one every import is allowed.
func WithEnforcer(e *capability.Enforcer) CapabilityOption {
	return func(c *Capabilities) { c.enforcer = e }
}

// WithRand replaces the random source.
func WithRand(fn func() uint32) CapabilityOption {
	return func(c *Capabilities) { c.rand = fn }
}

// WithLogger sets the sink for the debug import.
func WithLogger(l *slog.Logger) CapabilityOption {
	return func(c *Capabilities) { c.logger = l }
}

// NewCapabilities binds the imports to a scheduler. A nil scheduler makes
// reserve fail and cancel a no-op.
func NewCapabilities(s Scheduler, opts ...CapabilityOption) *Capabilities {
	c := &Capabilities{
		scheduler: s,
		rand:      rand.Uint32,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rand returns a pseudo-random value.
func (c *Capabilities) Rand(ctx context.Context) uint32 {
	if err := c.allow(ctx, capability.HostRand); err != nil {
		return 0
	}
	return c.rand()
}

// Debug forwards a diagnostic message to the log. It never fails the hook.
func (c *Capabilities) Debug(ctx context.Context, message string) {
	cs := callFrom(ctx)
	if c.enforcer != nil && !c.enforcer.Check(cs.plugin(), capability.HostDebug) {
		return
	}
	c.logger.DebugContext(ctx, message, "plugin", cs.plugin(), "room", cs.room())
}

// Reserve schedules a deferred call into the plugin. Any failure is also
// recorded against the current call so the hook fails even if the module
// ignores the empty id.
func (c *Capabilities) Reserve(ctx context.Context, playerID, roomID string, action []byte, timeoutMs uint32) (string, error) {
	if err := c.allow(ctx, capability.TaskReserve); err != nil {
		return "", err
	}
	if err := c.sameRoom(ctx, roomID); err != nil {
		return "", err
	}
	if c.scheduler == nil {
		err := oops.In("plugin").With("room", roomID).New("no scheduler bound")
		callFrom(ctx).fail(err)
		return "", err
	}
	id, err := c.scheduler.Reserve(ctx, playerID, roomID, action, time.Duration(timeoutMs)*time.Millisecond)
	if err != nil {
		callFrom(ctx).fail(err)
		return "", err
	}
	return id, nil
}

// Cancel removes a pending reservation. Failures are logged, not surfaced.
func (c *Capabilities) Cancel(ctx context.Context, roomID, taskID string) {
	if err := c.allow(ctx, capability.TaskCancel); err != nil {
		return
	}
	if err := c.sameRoom(ctx, roomID); err != nil {
		return
	}
	if c.scheduler == nil {
		return
	}
	if err := c.scheduler.Cancel(ctx, roomID, taskID); err != nil {
		c.logger.WarnContext(ctx, "task cancel failed",
			"plugin", callFrom(ctx).plugin(), "room", roomID, "task", taskID, "error", err)
	}
}

func (c *Capabilities) allow(ctx context.Context, name string) error {
	if c.enforcer == nil {
		return nil
	}
	cs := callFrom(ctx)
	if c.enforcer.Check(cs.plugin(), name) {
		return nil
	}
	err := oops.In("plugin").
		Code(CodeCapabilityDenied).
		With("plugin", cs.plugin()).
		With("capability", name).
		Wrap(fmt.Errorf("%w: %s", ErrCapabilityDenied, name))
	cs.fail(err)
	return err
}

// sameRoom keeps a plugin from scheduling work into rooms other than the
// one whose hook is running.
func (c *Capabilities) sameRoom(ctx context.Context, roomID string) error {
	cs := callFrom(ctx)
	if cs == nil || cs.roomID == "" || cs.roomID == roomID {
		return nil
	}
	err := oops.In("plugin").
		Code(CodeCapabilityDenied).
		With("plugin", cs.pluginID).
		With("room", cs.roomID).
		With("target_room", roomID).
		Wrap(fmt.Errorf("%w: cross-room task", ErrCapabilityDenied))
	cs.fail(err)
	return err
}

type callKey struct{}

// callState is the identity and failure slot of one in-flight hook call.
type callState struct {
	pluginID string
	roomID   string

	mu  sync.Mutex
	err error
}

func withCall(ctx context.Context, pluginID, roomID string) (context.Context, *callState) {
	cs := &callState{pluginID: pluginID, roomID: roomID}
	return context.WithValue(ctx, callKey{}, cs), cs
}

func callFrom(ctx context.Context) *callState {
	cs, _ := ctx.Value(callKey{}).(*callState)
	return cs
}

func (cs *callState) plugin() string {
	if cs == nil {
		return ""
	}
	return cs.pluginID
}

func (cs *callState) room() string {
	if cs == nil {
		return ""
	}
	return cs.roomID
}

// fail records the first import failure of the call.
func (cs *callState) fail(err error) {
	if cs == nil {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.err == nil {
		cs.err = err
	}
}

func (cs *callState) failure() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.err
}
