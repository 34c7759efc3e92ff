// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package rooms_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/gameroom/internal/room"
)

func TestRooms(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Room Persistence Integration Suite")
}

// testEnv holds the database shared by the suite.
type testEnv struct {
	ctx       context.Context
	connStr   string
	pool      *pgxpool.Pool
	container testcontainers.Container
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupRoomsTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupRoomsTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("gameroom_test"),
		postgres.WithUsername("gameroom"),
		postgres.WithPassword("gameroom"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	m, err := room.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	upErr := m.Up()
	_ = m.Close()
	if upErr != nil {
		_ = container.Terminate(ctx)
		return nil, upErr
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &testEnv{ctx: ctx, connStr: connStr, pool: pool, container: container}, nil
}

func (e *testEnv) cleanup() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(e.ctx)
	}
}

// truncate empties the rooms table between specs.
func (e *testEnv) truncate() {
	_, err := e.pool.Exec(e.ctx, "TRUNCATE rooms")
	Expect(err).NotTo(HaveOccurred())
}
