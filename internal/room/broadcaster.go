// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package room

import (
	"log/slog"
	"slices"
	"sync"
)

// Broadcaster fans room snapshots out to per-room subscribers.
type Broadcaster struct {
	buffer int

	mu   sync.RWMutex
	subs map[string][]chan *Room
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold
// buffer snapshots. A non-positive buffer defaults to 64.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{buffer: buffer, subs: make(map[string][]chan *Room)}
}

// Subscribe returns a channel receiving every update of roomID. The
// channel is closed by Unsubscribe or when the room is deleted.
func (b *Broadcaster) Subscribe(roomID string) <-chan *Room {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Room, b.buffer)
	b.subs[roomID] = append(b.subs[roomID], ch)
	return ch
}

// Unsubscribe detaches and closes ch.
func (b *Broadcaster) Unsubscribe(roomID string, ch <-chan *Room) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[roomID]
	for i, sub := range subs {
		if sub == ch {
			close(sub)
			b.subs[roomID] = slices.Delete(subs, i, i+1)
			if len(b.subs[roomID]) == 0 {
				delete(b.subs, roomID)
			}
			return
		}
	}
}

// Broadcast delivers a snapshot of r to the room's subscribers. A full
// subscriber misses the update rather than blocking the room.
func (b *Broadcaster) Broadcast(r *Room) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[r.ID] {
		select {
		case ch <- r.Clone():
		default:
			slog.Warn("room update dropped: subscriber buffer full", "room", r.ID)
		}
	}
}

// Drop closes every subscription of roomID.
func (b *Broadcaster) Drop(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[roomID] {
		close(ch)
	}
	delete(b.subs, roomID)
}

// Subscribers returns the number of subscriptions on roomID.
func (b *Broadcaster) Subscribers(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[roomID])
}
