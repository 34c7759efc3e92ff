// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package task

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Store is the durable source of truth for pending reservations. Take and
// Delete must be atomic so a record is consumed by at most one caller.
type Store interface {
	// Put writes t, expiring it after ttl.
	Put(ctx context.Context, t Task, ttl time.Duration) error
	// Take reads and removes a record. ok is false if it was absent.
	Take(ctx context.Context, id string) (t Task, ok bool, err error)
	// Delete removes a record and reports whether it was present.
	Delete(ctx context.Context, id string) (bool, error)
	// Pending lists every unexpired record.
	Pending(ctx context.Context) ([]Task, error)
	Close() error
}

// MemoryStore keeps records in process memory. It is not durable across
// restarts.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	task    Task
	expires time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, t Task, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Action = slices.Clone(t.Action)
	s.records[t.ID] = memoryRecord{task: t, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Take(_ context.Context, id string) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(id)
	if !ok {
		return Task{}, false, nil
	}
	delete(s.records, id)
	return rec.task, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(id)
	delete(s.records, id)
	return ok, nil
}

func (s *MemoryStore) Pending(context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for id := range s.records {
		if rec, ok := s.live(id); ok {
			out = append(out, rec.task)
		}
	}
	slices.SortFunc(out, func(a, b Task) int { return cmp.Compare(a.Deadline, b.Deadline) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// live returns the record if present and unexpired, dropping it otherwise.
// Callers hold s.mu.
func (s *MemoryStore) live(id string) (memoryRecord, bool) {
	rec, ok := s.records[id]
	if !ok {
		return memoryRecord{}, false
	}
	if !s.now().Before(rec.expires) {
		delete(s.records, id)
		return memoryRecord{}, false
	}
	return rec, true
}
