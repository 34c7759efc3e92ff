// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package rooms_test

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gameroom/internal/plugin"
	"github.com/holomush/gameroom/internal/plugin/capability"
	pluginlua "github.com/holomush/gameroom/internal/plugin/lua"
	"github.com/holomush/gameroom/internal/registry"
	"github.com/holomush/gameroom/internal/room"
)

const counterScript = `
function pluginMeta() return { name = "counter", version = "1.0.0" } end
function onCreateRoom(playerId, roomId) return "0" end
function rpc(playerId, roomId, state, action)
  return tostring(tonumber(state) + 1)
end
`

var _ = Describe("PostgresRepository", func() {
	var repo *room.PostgresRepository

	BeforeEach(func() {
		env.truncate()
		repo = room.NewPostgresRepository(env.pool)
	})

	It("creates, reads, saves and deletes a room", func() {
		r := &room.Room{ID: "lobby", PluginID: "counter", State: plugin.State("0"), Players: []string{"bob", "alice"}}
		Expect(repo.Create(env.ctx, r)).To(Succeed())

		got, err := repo.Get(env.ctx, "lobby")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PluginID).To(Equal("counter"))
		Expect(string(got.State)).To(Equal("0"))
		Expect(got.Players).To(Equal([]string{"alice", "bob"}))

		got.State = plugin.State{0x00, 0xff, 0x01}
		got.Players = nil
		Expect(repo.Save(env.ctx, got)).To(Succeed())

		again, err := repo.Get(env.ctx, "lobby")
		Expect(err).NotTo(HaveOccurred())
		Expect([]byte(again.State)).To(Equal([]byte{0x00, 0xff, 0x01}))
		Expect(again.Players).To(BeEmpty())

		removed, err := repo.Delete(env.ctx, "lobby")
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeTrue())

		_, err = repo.Get(env.ctx, "lobby")
		Expect(err).To(MatchError(room.ErrNotFound))
	})

	It("rejects a duplicate create", func() {
		r := &room.Room{ID: "dup", PluginID: "counter", State: plugin.State("0")}
		Expect(repo.Create(env.ctx, r)).To(Succeed())
		Expect(repo.Create(env.ctx, r)).To(MatchError(room.ErrExists))
	})

	It("lists rooms ordered by id", func() {
		for _, id := range []string{"c", "a", "b"} {
			Expect(repo.Save(env.ctx, &room.Room{ID: id, PluginID: "counter", State: plugin.State("0")})).To(Succeed())
		}
		rooms, err := repo.List(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		ids := make([]string, 0, len(rooms))
		for _, r := range rooms {
			ids = append(ids, r.ID)
		}
		Expect(ids).To(Equal([]string{"a", "b", "c"}))
	})

	It("reports existence", func() {
		ok, err := repo.Exists(env.ctx, "ghost")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Service over Postgres", func() {
	var (
		svc     *room.Service
		cleanup func()
	)

	BeforeEach(func() {
		env.truncate()

		rt := plugin.NewRuntime(map[plugin.Kind]plugin.Loader{plugin.KindLua: pluginlua.NewLoader()})
		reg := registry.NewMemoryRegistry(rt)
		_, err := reg.Register(env.ctx, "counter", plugin.KindLua, []byte(counterScript), nil)
		Expect(err).NotTo(HaveOccurred())

		enforcer := capability.NewEnforcer()
		cache := room.NewPluginCache(reg, rt, plugin.NewCapabilities(nil, plugin.WithEnforcer(enforcer)), enforcer)
		svc = room.NewService(room.NewStore(room.NewPostgresRepository(env.pool)), cache)
		cleanup = func() {
			_ = cache.Close(env.ctx)
			_ = rt.Close(env.ctx)
		}
	})

	AfterEach(func() { cleanup() })

	It("serializes concurrent actions on one room", func() {
		const players, perPlayer = 5, 10
		for i := range players {
			_, err := svc.Join(env.ctx, "race", "counter", fmt.Sprintf("p%d", i))
			Expect(err).NotTo(HaveOccurred())
		}

		var wg sync.WaitGroup
		for i := range players {
			for range perPlayer {
				wg.Add(1)
				go func(player string) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := svc.RPC(env.ctx, "race", player, []byte("Increment"))
					Expect(err).NotTo(HaveOccurred())
				}(fmt.Sprintf("p%d", i))
			}
		}
		wg.Wait()

		r, err := svc.Get(env.ctx, "race")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(r.State)).To(Equal(fmt.Sprint(players * perPlayer)))
		Expect(r.Players).To(HaveLen(players))
	})
})

var _ = Describe("Migrator", func() {
	It("reports the applied version with nothing pending", func() {
		m, err := room.NewMigrator(env.connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = m.Close() }()

		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(dirty).To(BeFalse())
		Expect(version).To(BeNumerically(">=", 1))

		pending, err := m.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})
})
