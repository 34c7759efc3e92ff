// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Coordinator serializes work per room. Lock domains are created on first
// use and discarded when no caller holds or waits on them.
type Coordinator struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	sem  chan struct{}
	refs int
}

// NewCoordinator creates a coordinator with no lock domains.
func NewCoordinator() *Coordinator {
	return &Coordinator{locks: make(map[string]*roomLock)}
}

// WithRoomLock runs fn while holding roomID's lock. The lock is released on
// every exit path; a panic in fn is returned as an error. Waiting stops
// with ctx's error if ctx ends first.
func (c *Coordinator) WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context) error) (err error) {
	l := c.ref(roomID)
	defer c.unref(roomID, l)

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return oops.In("room").With("room", roomID).Wrapf(ctx.Err(), "waiting for room lock")
	}
	LockWait.Observe(time.Since(start).Seconds())
	defer func() { <-l.sem }()

	defer func() {
		if r := recover(); r != nil {
			err = oops.In("room").With("room", roomID).Wrap(fmt.Errorf("panic under room lock: %v", r))
		}
	}()
	return fn(ctx)
}

// Domains returns the number of live lock domains.
func (c *Coordinator) Domains() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

func (c *Coordinator) ref(roomID string) *roomLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[roomID]
	if !ok {
		l = &roomLock{sem: make(chan struct{}, 1)}
		c.locks[roomID] = l
	}
	l.refs++
	return l
}

func (c *Coordinator) unref(roomID string, l *roomLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, roomID)
	}
}
