// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces task keys.
const DefaultRedisPrefix = "gameroom:task:"

// RedisStore keeps each record under <prefix><id> with a native TTL, so
// a reservation outlives the process that made it.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps client. The store owns the client and closes it.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeError("redis", "ping", "", err)
	}
	return nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Put(ctx context.Context, t Task, ttl time.Duration) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(t.ID), data, ttl).Err(); err != nil {
		return storeError("redis", "put", t.ID, err)
	}
	return nil
}

// Take uses GETDEL so concurrent takers cannot both observe the record.
func (s *RedisStore) Take(ctx context.Context, id string) (Task, bool, error) {
	data, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, storeError("redis", "take", id, err)
	}
	t, err := Decode(data)
	if err != nil {
		return Task{}, false, err
	}
	return t, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, storeError("redis", "delete", id, err)
	}
	return n > 0, nil
}

// Pending scans the prefix. Records that fail to decode are logged and
// skipped.
func (s *RedisStore) Pending(ctx context.Context) ([]Task, error) {
	var tasks []Task
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, storeError("redis", "pending", key, err)
		}
		t, err := Decode(data)
		if err != nil {
			slog.WarnContext(ctx, "skipping undecodable task record", "key", key, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	if err := iter.Err(); err != nil {
		return nil, storeError("redis", "pending", "", err)
	}
	return tasks, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
