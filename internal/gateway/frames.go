// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gateway

import (
	"errors"

	"github.com/holomush/gameroom/internal/plugin"
	"github.com/holomush/gameroom/internal/registry"
	"github.com/holomush/gameroom/internal/room"
)

// Frame types.
const (
	TypeJoin    = "join"
	TypeRPC     = "rpc"
	TypeWelcome = "welcome"
	TypeUpdate  = "update"
	TypeError   = "error"
)

// Inbound is a client frame. Action is base64 in JSON.
type Inbound struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	PluginID string `json:"pluginId,omitempty"`
	Action   []byte `json:"action,omitempty"`
}

// Outbound is a server frame.
type Outbound struct {
	Type     string    `json:"type"`
	PlayerID string    `json:"playerId,omitempty"`
	RoomID   string    `json:"roomId,omitempty"`
	Room     *RoomView `json:"room,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// RoomView is the client-visible part of a room. State is base64 in JSON.
type RoomView struct {
	ID      string   `json:"id"`
	Players []string `json:"players"`
	State   []byte   `json:"state"`
}

func updateFrame(r *room.Room) Outbound {
	players := r.Players
	if players == nil {
		players = []string{}
	}
	return Outbound{
		Type: TypeUpdate,
		Room: &RoomView{ID: r.ID, Players: players, State: r.State},
	}
}

func errorFrame(roomID, message string) Outbound {
	return Outbound{Type: TypeError, RoomID: roomID, Message: message}
}

// clientMessage is what the originator is told about err. Plugin messages
// pass through; internal failures are not described.
func clientMessage(err error) string {
	if msg, ok := plugin.HookMessage(err); ok {
		return msg
	}
	switch {
	case errors.Is(err, room.ErrNotFound):
		return "room not found"
	case errors.Is(err, registry.ErrNotFound):
		return "plugin not found"
	case errors.Is(err, room.ErrNotMember), errors.Is(err, errNotJoined):
		return "not in room"
	case errors.Is(err, room.ErrPluginMismatch):
		return "room runs a different plugin"
	case errors.Is(err, plugin.ErrLoad):
		return "plugin failed to load"
	default:
		return "internal error"
	}
}

// status labels a request outcome for RequestsTotal.
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, plugin.ErrHookFailed):
		return "rejected"
	default:
		return "error"
	}
}
