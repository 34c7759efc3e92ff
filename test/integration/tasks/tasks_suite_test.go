// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package tasks_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestTasks(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Task Store Integration Suite")
}

// testEnv holds the Redis server shared by the suite.
type testEnv struct {
	ctx       context.Context
	opts      *redis.Options
	container *tcredis.RedisContainer
}

var env *testEnv

var _ = BeforeSuite(func() {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	Expect(err).NotTo(HaveOccurred())

	uri, err := container.ConnectionString(ctx)
	Expect(err).NotTo(HaveOccurred())
	opts, err := redis.ParseURL(uri)
	Expect(err).NotTo(HaveOccurred())

	env = &testEnv{ctx: ctx, opts: opts, container: container}
})

var _ = AfterSuite(func() {
	if env != nil && env.container != nil {
		_ = env.container.Terminate(env.ctx)
	}
})

// newClient returns a client on a flushed database.
func (e *testEnv) newClient() *redis.Client {
	client := redis.NewClient(e.opts)
	Expect(client.FlushDB(e.ctx).Err()).To(Succeed())
	return client
}
