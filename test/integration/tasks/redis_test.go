// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package tasks_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/redis/go-redis/v9"

	"github.com/holomush/gameroom/internal/task"
)

type recordingExecutor struct {
	mu       sync.Mutex
	fired    []string
	canceled []string
}

func (e *recordingExecutor) ExecuteTask(_ context.Context, t task.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fired = append(e.fired, t.ID)
	return nil
}

func (e *recordingExecutor) CancelTask(_ context.Context, _, taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canceled = append(e.canceled, taskID)
	return nil
}

func (e *recordingExecutor) Fired() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.fired...)
}

func (e *recordingExecutor) Canceled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.canceled...)
}

var _ = Describe("RedisStore", func() {
	var store *task.RedisStore

	BeforeEach(func() {
		store = task.NewRedisStore(env.newClient(), "it:task:")
		Expect(store.Ping(env.ctx)).To(Succeed())
	})

	AfterEach(func() { _ = store.Close() })

	It("hands a record to exactly one taker", func() {
		t := task.Task{ID: "t1", PlayerID: "bob", RoomID: "lobby", Action: []byte("Increment"), TimeoutMs: 1000}
		Expect(store.Put(env.ctx, t, time.Minute)).To(Succeed())

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, ok, err := store.Take(env.ctx, "t1")
				Expect(err).NotTo(HaveOccurred())
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		Expect(wins).To(Equal(1))
	})

	It("expires records with the server TTL", func() {
		Expect(store.Put(env.ctx, task.Task{ID: "short", RoomID: "r"}, 200*time.Millisecond)).To(Succeed())
		Eventually(func() int {
			pending, err := store.Pending(env.ctx)
			Expect(err).NotTo(HaveOccurred())
			return len(pending)
		}, 2*time.Second, 50*time.Millisecond).Should(BeZero())
	})
})

var _ = Describe("Scheduler over Redis", func() {
	It("fires a reservation made before a restart", func() {
		first := task.NewScheduler(task.NewRedisStore(env.newClient(), "it:task:"))
		_, err := first.Start(env.ctx, &recordingExecutor{})
		Expect(err).NotTo(HaveOccurred())

		id, err := first.Reserve(env.ctx, "bob", "lobby", []byte("Increment"), 300*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Close()).To(Succeed())

		exec := &recordingExecutor{}
		second := task.NewScheduler(task.NewRedisStore(redis.NewClient(env.opts), "it:task:"))
		recovered, err := second.Start(env.ctx, exec)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = second.Close() }()
		Expect(recovered).To(Equal(1))

		Eventually(exec.Fired, 2*time.Second, 20*time.Millisecond).Should(Equal([]string{id}))
		Consistently(exec.Fired, 300*time.Millisecond, 50*time.Millisecond).Should(HaveLen(1))
	})

	It("never fires a canceled reservation", func() {
		exec := &recordingExecutor{}
		s := task.NewScheduler(task.NewRedisStore(env.newClient(), "it:task:"))
		_, err := s.Start(env.ctx, exec)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = s.Close() }()

		id, err := s.Reserve(env.ctx, "bob", "lobby", []byte("Increment"), 100*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Cancel(env.ctx, "lobby", id)).To(Succeed())

		Eventually(exec.Canceled, time.Second, 20*time.Millisecond).Should(Equal([]string{id}))
		Consistently(exec.Fired, 300*time.Millisecond, 50*time.Millisecond).Should(BeEmpty())
	})
})
