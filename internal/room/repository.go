// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package room

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// Repository persists rooms. It is not a concurrency control: callers that
// mutate a room must hold that room's lock.
type Repository interface {
	Exists(ctx context.Context, roomID string) (bool, error)
	Get(ctx context.Context, roomID string) (*Room, error)
	// Create fails with ErrExists if the id is taken.
	Create(ctx context.Context, r *Room) error
	// Save upserts r.
	Save(ctx context.Context, r *Room) error
	// Delete reports whether a room was removed.
	Delete(ctx context.Context, roomID string) (bool, error)
	// List returns every room ordered by id.
	List(ctx context.Context) ([]*Room, error)
}

// MemoryRepository keeps rooms in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rooms: make(map[string]*Room)}
}

func (m *MemoryRepository) Exists(_ context.Context, roomID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID]
	return ok, nil
}

func (m *MemoryRepository) Get(_ context.Context, roomID string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, notFound(roomID)
	}
	return r.Clone(), nil
}

func (m *MemoryRepository) Create(_ context.Context, r *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.ID]; ok {
		return oops.In("room").Code(CodeExists).With("room", r.ID).Wrap(ErrExists)
	}
	m.rooms[r.ID] = r.Clone()
	return nil
}

func (m *MemoryRepository) Save(_ context.Context, r *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = r.Clone()
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, roomID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[roomID]
	delete(m.rooms, roomID)
	return ok, nil
}

func (m *MemoryRepository) List(context.Context) ([]*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b *Room) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}
