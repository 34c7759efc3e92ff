// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Error codes attached to plugin errors.
const (
	CodeLoadFailed       = "PLUGIN_LOAD_FAILED"
	CodeMetaFailed       = "PLUGIN_META_FAILED"
	CodeHookFailed       = "PLUGIN_HOOK_FAILED"
	CodeCapabilityDenied = "CAPABILITY_DENIED"
)

var (
	// ErrLoad classifies malformed modules and missing mandatory exports.
	ErrLoad = errors.New("plugin load failed")
	// ErrMeta classifies a missing or unreadable pluginMeta export.
	ErrMeta = errors.New("plugin metadata unavailable")
	// ErrHookFailed classifies hooks that returned Err or faulted.
	ErrHookFailed = errors.New("plugin hook failed")
	// ErrCapabilityDenied is returned when a plugin calls an import it was not granted.
	ErrCapabilityDenied = errors.New("capability denied")
)

// faultMessage is what callers see when a hook traps or raises.
const faultMessage = "plugin fault"

// HookError reports a hook that returned Err(message) or faulted natively.
type HookError struct {
	Hook    Hook
	Message string
	// Fault is true when the module trapped rather than returning Err.
	Fault bool
	cause error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s: %s", e.Hook, e.Message)
}

// Unwrap exposes ErrHookFailed and the underlying cause.
func (e *HookError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrHookFailed}
	}
	return []error{ErrHookFailed, e.cause}
}

// HookMessage returns the plugin-facing message carried by a HookError
// anywhere in err's chain.
func HookMessage(err error) (string, bool) {
	var he *HookError
	if errors.As(err, &he) {
		return he.Message, true
	}
	return "", false
}

func wrapHookError(pluginID, roomID string, he *HookError) error {
	return oops.In("plugin").
		Code(CodeHookFailed).
		With("plugin", pluginID).
		With("room", roomID).
		With("hook", he.Hook.String()).
		With("fault", he.Fault).
		Wrap(he)
}

// LoadError wraps cause as a PLUGIN_LOAD_FAILED error.
func LoadError(runtime string, cause error, format string, args ...any) error {
	return oops.In(runtime).Code(CodeLoadFailed).Wrapf(fmt.Errorf("%w: %w", ErrLoad, cause), format, args...)
}

// MetaError wraps cause as a PLUGIN_META_FAILED error.
func MetaError(runtime string, cause error, format string, args ...any) error {
	return oops.In(runtime).Code(CodeMetaFailed).Wrapf(fmt.Errorf("%w: %w", ErrMeta, cause), format, args...)
}
