// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package task

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/gameroom/internal/ids"
	"github.com/holomush/gameroom/internal/plugin"
	"github.com/holomush/gameroom/pkg/errutil"
)

// Executor applies fired and canceled reservations to their rooms.
type Executor interface {
	// ExecuteTask runs rpc(action) then onTask under the room lock.
	ExecuteTask(ctx context.Context, t Task) error
	// CancelTask runs onCancelTask under the room lock.
	CancelTask(ctx context.Context, roomID, taskID string) error
}

// DefaultGrace is added to a task's timeout to form its store TTL, so a
// record outlives its timer long enough to be read back.
const DefaultGrace = 30 * time.Second

// Scheduler arms one timer per pending reservation. The store decides
// whether a reservation is still pending: firing and canceling both remove
// the record atomically and only the side that removed it acts.
type Scheduler struct {
	store  Store
	grace  time.Duration
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	exec   Executor
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

var _ plugin.Scheduler = (*Scheduler)(nil)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithGrace overrides DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(s *Scheduler) { s.grace = d }
}

// WithClock replaces time.Now for deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithIDGenerator replaces the ULID task id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) { s.newID = fn }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler over store. Call Start before use.
func NewScheduler(store Store, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:  store,
		grace:  DefaultGrace,
		now:    time.Now,
		newID:  ids.New,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the executor and re-arms every reservation found in the
// store. Overdue reservations fire immediately. It returns the number of
// reservations recovered.
func (s *Scheduler) Start(ctx context.Context, exec Executor) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, oops.In("task").New("scheduler is closed")
	}
	s.exec = exec
	s.mu.Unlock()

	pending, err := s.store.Pending(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, t := range pending {
		s.arm(t.ID, max(t.DeadlineTime().Sub(now), 0))
	}
	if len(pending) > 0 {
		s.logger.InfoContext(ctx, "recovered pending tasks", "count", len(pending))
	}
	return len(pending), nil
}

// Reserve persists a reservation and arms its timer. The id is returned
// only once the record is durable.
func (s *Scheduler) Reserve(ctx context.Context, playerID, roomID string, action []byte, timeout time.Duration) (string, error) {
	if timeout < 0 || timeout.Milliseconds() > math.MaxUint32 {
		return "", oops.In("task").With("timeout", timeout).Errorf("timeout out of range")
	}

	s.mu.Lock()
	started, closed := s.exec != nil, s.closed
	s.mu.Unlock()
	if closed || !started {
		return "", oops.In("task").With("room", roomID).New("scheduler is not running")
	}

	t := Task{
		ID:        s.newID(),
		RoomID:    roomID,
		PlayerID:  playerID,
		Action:    slices.Clone(action),
		TimeoutMs: uint32(timeout.Milliseconds()),
		Deadline:  s.now().Add(timeout).UnixMilli(),
	}
	if err := s.store.Put(ctx, t, timeout+s.grace); err != nil {
		TasksTotal.WithLabelValues(EventFailed).Inc()
		return "", err
	}

	s.arm(t.ID, timeout)
	TasksTotal.WithLabelValues(EventReserved).Inc()
	s.logger.DebugContext(ctx, "task reserved", "task", t.ID, "room", roomID, "timeout", timeout)
	return t.ID, nil
}

// Cancel removes a reservation. If this call removed it, onCancelTask is
// applied asynchronously, so cancel may be called from inside a hook that
// holds the same room's lock. Canceling an unknown, fired or already
// canceled task is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, roomID, taskID string) error {
	removed, err := s.store.Delete(ctx, taskID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if timer, ok := s.timers[taskID]; ok {
		timer.Stop()
		delete(s.timers, taskID)
	}
	if !removed || s.closed || s.exec == nil {
		s.mu.Unlock()
		return nil
	}
	exec := s.exec
	s.wg.Add(1)
	s.mu.Unlock()

	TasksTotal.WithLabelValues(EventCanceled).Inc()
	go func() {
		defer s.wg.Done()
		if err := exec.CancelTask(s.ctx, roomID, taskID); err != nil {
			errutil.LogErrorContext(s.ctx, s.logger, "task cancel hook failed", err, "task", taskID, "room", roomID)
		}
	}()
	return nil
}

// Armed returns the number of timers currently armed.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops all timers and waits for in-flight executions. Records stay
// in the store and are recovered by the next Start.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
	return nil
}

func (s *Scheduler) arm(id string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.timers[id]; ok {
		return
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	exec := s.exec
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	t, ok, err := s.take(id)
	if err != nil {
		TasksTotal.WithLabelValues(EventFailed).Inc()
		errutil.LogErrorContext(s.ctx, s.logger, "task read-back failed", err, "task", id)
		return
	}
	if !ok {
		TasksTotal.WithLabelValues(EventMissed).Inc()
		return
	}

	if err := exec.ExecuteTask(s.ctx, t); err != nil {
		TasksTotal.WithLabelValues(EventFailed).Inc()
		errutil.LogErrorContext(s.ctx, s.logger, "task execution failed", err, "task", t.ID, "room", t.RoomID)
		return
	}
	TasksTotal.WithLabelValues(EventFired).Inc()
}

// take retries transient store failures briefly before giving up; the
// record then stays in the store for the next Start.
func (s *Scheduler) take(id string) (Task, bool, error) {
	var (
		t  Task
		ok bool
	)
	backoff := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
	err := retry.Do(s.ctx, backoff, func(ctx context.Context) error {
		var err error
		t, ok, err = s.store.Take(ctx, id)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	return t, ok, err
}
