// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package task

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps records in a single-node SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, oops.In("task").New("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storeError("sqlite", "open", "", err)
	}
	// One writer keeps DELETE ... RETURNING free of lock contention.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storeError("sqlite", "ping", "", err)
	}
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func migrateSQLite(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return oops.In("task").Code("MIGRATION_SOURCE_FAILED").Wrap(err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		_ = src.Close()
		return oops.In("task").Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		_ = src.Close()
		return oops.In("task").Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	// m.Close would close db as well; only the source is released here.
	defer func() { _ = src.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.In("task").Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, t Task, ttl time.Duration) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	expires := s.now().Add(ttl).UnixMilli()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO tasks (id, room_id, record, expires_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET room_id = excluded.room_id, record = excluded.record, expires_at = excluded.expires_at`,
		t.ID, t.RoomID, data, expires)
	if err != nil {
		return storeError("sqlite", "put", t.ID, err)
	}
	return nil
}

// Take deletes and returns the row in one statement.
func (s *SQLiteStore) Take(ctx context.Context, id string) (Task, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND expires_at > ? RETURNING record`,
		id, s.now().UnixMilli()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, storeError("sqlite", "take", id, err)
	}
	t, err := Decode(data)
	if err != nil {
		return Task{}, false, err
	}
	return t, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND expires_at > ?`, id, s.now().UnixMilli())
	if err != nil {
		return false, storeError("sqlite", "delete", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeError("sqlite", "delete", id, err)
	}
	return n > 0, nil
}

// Pending purges expired rows and returns the rest ordered by expiry.
func (s *SQLiteStore) Pending(ctx context.Context) ([]Task, error) {
	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE expires_at <= ?`, now); err != nil {
		return nil, storeError("sqlite", "purge", "", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM tasks ORDER BY expires_at`)
	if err != nil {
		return nil, storeError("sqlite", "pending", "", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []Task
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, storeError("sqlite", "pending", "", err)
		}
		t, err := Decode(data)
		if err != nil {
			slog.WarnContext(ctx, "skipping undecodable task record", "task", id, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("sqlite", "pending", "", err)
	}
	return tasks, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
