// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

// Hook identifies one lifecycle or RPC entry point a module may export.
type Hook int

// Hooks in ABI order. HookCreateRoom is the only mandatory one.
const (
	HookCreateRoom Hook = iota
	HookJoinPlayer
	HookLeavePlayer
	HookRPC
	HookTask
	HookCancelTask

	hookCount
)

// MetaExport is the name of the metadata export required for registry entry.
const MetaExport = "pluginMeta"

var hookExports = [hookCount]string{
	HookCreateRoom:  "onCreateRoom",
	HookJoinPlayer:  "onJoinPlayer",
	HookLeavePlayer: "onLeavePlayer",
	HookRPC:         "rpc",
	HookTask:        "onTask",
	HookCancelTask:  "onCancelTask",
}

// AllHooks returns every hook in ABI order.
func AllHooks() []Hook {
	hooks := make([]Hook, 0, hookCount)
	for h := Hook(0); h < hookCount; h++ {
		hooks = append(hooks, h)
	}
	return hooks
}

// Export returns the export name a module uses for the hook.
func (h Hook) Export() string {
	if h < 0 || h >= hookCount {
		return ""
	}
	return hookExports[h]
}

// String implements fmt.Stringer.
func (h Hook) String() string {
	if name := h.Export(); name != "" {
		return name
	}
	return "unknown"
}

// HookSet is the per-instance capability table of exported hooks.
// It is resolved once at load time and never re-probed per call.
type HookSet [hookCount]bool

// ResolveHooks builds a HookSet from an export lookup.
func ResolveHooks(exported func(name string) bool) HookSet {
	var set HookSet
	for h := Hook(0); h < hookCount; h++ {
		set[h] = exported(h.Export())
	}
	return set
}

// Has reports whether the hook is exported.
func (s HookSet) Has(h Hook) bool {
	if h < 0 || h >= hookCount {
		return false
	}
	return s[h]
}

// Names lists the exported hook names in ABI order.
func (s HookSet) Names() []string {
	var names []string
	for h := Hook(0); h < hookCount; h++ {
		if s[h] {
			names = append(names, h.Export())
		}
	}
	return names
}
