// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package room

import (
	"context"
	"sync"
)

// Listener observes successful writes. Listeners run synchronously on the
// writer's goroutine while the room lock is held and must not block.
type Listener interface {
	RoomUpdated(r *Room)
	RoomDeleted(roomID string)
}

// Store wraps a Repository and notifies listeners after every successful
// Create, Save or Delete.
type Store struct {
	repo Repository

	mu        sync.RWMutex
	listeners []Listener
}

// NewStore wraps repo.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Listen registers l.
func (s *Store) Listen(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) Exists(ctx context.Context, roomID string) (bool, error) {
	return s.repo.Exists(ctx, roomID)
}

func (s *Store) Get(ctx context.Context, roomID string) (*Room, error) {
	return s.repo.Get(ctx, roomID)
}

func (s *Store) List(ctx context.Context) ([]*Room, error) {
	return s.repo.List(ctx)
}

func (s *Store) Create(ctx context.Context, r *Room) error {
	if err := s.repo.Create(ctx, r); err != nil {
		return err
	}
	s.updated(r)
	return nil
}

func (s *Store) Save(ctx context.Context, r *Room) error {
	if err := s.repo.Save(ctx, r); err != nil {
		return err
	}
	s.updated(r)
	return nil
}

func (s *Store) Delete(ctx context.Context, roomID string) (bool, error) {
	removed, err := s.repo.Delete(ctx, roomID)
	if err != nil || !removed {
		return removed, err
	}
	for _, l := range s.snapshot() {
		l.RoomDeleted(roomID)
	}
	return true, nil
}

func (s *Store) updated(r *Room) {
	for _, l := range s.snapshot() {
		l.RoomUpdated(r.Clone())
	}
}

func (s *Store) snapshot() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners
}

// RoomUpdated implements Listener by broadcasting r.
func (b *Broadcaster) RoomUpdated(r *Room) { b.Broadcast(r) }

// RoomDeleted implements Listener by dropping the room's subscriptions.
func (b *Broadcaster) RoomDeleted(roomID string) { b.Drop(roomID) }
