// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package room owns room records, per-room serialization and the service
// that drives plugin hooks for joins, actions, departures and tasks.
package room

import (
	"errors"
	"slices"

	"github.com/samber/oops"

	"github.com/holomush/gameroom/internal/plugin"
)

// Error codes attached to room errors.
const (
	CodeNotFound    = "ROOM_NOT_FOUND"
	CodeExists      = "ROOM_EXISTS"
	CodeMismatch    = "ROOM_PLUGIN_MISMATCH"
	CodeStoreFailed = "ROOM_STORE_FAILED"
)

var (
	// ErrNotFound is returned for unknown room ids.
	ErrNotFound = errors.New("room not found")
	// ErrExists is returned by Create when the id is taken.
	ErrExists = errors.New("room already exists")
	// ErrNotMember is returned for actions from players outside the room.
	ErrNotMember = errors.New("player is not in room")
	// ErrPluginMismatch is returned when joining a room with another plugin id.
	ErrPluginMismatch = errors.New("room runs a different plugin")
)

// Room is one running game session. State is opaque to the host.
// Players is kept sorted and free of duplicates.
type Room struct {
	ID       string       `json:"id"`
	PluginID string       `json:"pluginId"`
	State    plugin.State `json:"state"`
	Players  []string     `json:"players"`
}

// Clone returns a deep copy.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	return &Room{
		ID:       r.ID,
		PluginID: r.PluginID,
		State:    r.State.Clone(),
		Players:  slices.Clone(r.Players),
	}
}

// HasPlayer reports membership.
func (r *Room) HasPlayer(playerID string) bool {
	_, ok := slices.BinarySearch(r.Players, playerID)
	return ok
}

// AddPlayer inserts playerID, reporting whether it was absent.
func (r *Room) AddPlayer(playerID string) bool {
	i, ok := slices.BinarySearch(r.Players, playerID)
	if ok {
		return false
	}
	r.Players = slices.Insert(r.Players, i, playerID)
	return true
}

// RemovePlayer deletes playerID, reporting whether it was present.
func (r *Room) RemovePlayer(playerID string) bool {
	i, ok := slices.BinarySearch(r.Players, playerID)
	if !ok {
		return false
	}
	r.Players = slices.Delete(r.Players, i, i+1)
	return true
}

func notFound(roomID string) error {
	return oops.In("room").Code(CodeNotFound).With("room", roomID).Wrap(ErrNotFound)
}

func storeError(backend, op, roomID string, err error) error {
	return oops.In("room").
		Code(CodeStoreFailed).
		With("backend", backend).
		With("operation", op).
		With("room", roomID).
		Wrap(err)
}

// normalizePlayers sorts and dedupes ids read from a backend.
func normalizePlayers(players []string) []string {
	out := slices.Clone(players)
	slices.Sort(out)
	return slices.Compact(out)
}
