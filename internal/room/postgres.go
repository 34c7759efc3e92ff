// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package room

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

const backendPostgres = "postgres"

// poolIface is the subset of pgxpool.Pool the repository uses, so that
// pgxmock pools can stand in for it.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ poolIface = (*pgxpool.Pool)(nil)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool poolIface
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository over pool. Apply the schema
// with Migrator first.
func NewPostgresRepository(pool poolIface) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Exists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`, roomID).Scan(&exists)
	if err != nil {
		return false, storeError(backendPostgres, "exists", roomID, err)
	}
	return exists, nil
}

func (r *PostgresRepository) Get(ctx context.Context, roomID string) (*Room, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, plugin_id, state, players FROM rooms WHERE id = $1`, roomID)
	rm, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(roomID)
	}
	if err != nil {
		return nil, storeError(backendPostgres, "get", roomID, err)
	}
	return rm, nil
}

func (r *PostgresRepository) Create(ctx context.Context, rm *Room) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rooms (id, plugin_id, state, players) VALUES ($1, $2, $3, $4)`,
		rm.ID, rm.PluginID, []byte(rm.State), playersOf(rm))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.In("room").Code(CodeExists).With("room", rm.ID).Wrap(ErrExists)
		}
		return storeError(backendPostgres, "create", rm.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Save(ctx context.Context, rm *Room) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rooms (id, plugin_id, state, players) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET plugin_id = EXCLUDED.plugin_id, state = EXCLUDED.state,
		     players = EXCLUDED.players, updated_at = now()`,
		rm.ID, rm.PluginID, []byte(rm.State), playersOf(rm))
	if err != nil {
		return storeError(backendPostgres, "save", rm.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, roomID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	if err != nil {
		return false, storeError(backendPostgres, "delete", roomID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Room, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, plugin_id, state, players FROM rooms ORDER BY id`)
	if err != nil {
		return nil, storeError(backendPostgres, "list", "", err)
	}
	defer rows.Close()

	var out []*Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, storeError(backendPostgres, "scan", "", err)
		}
		out = append(out, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(backendPostgres, "list", "", err)
	}
	return out, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var (
		rm      Room
		state   []byte
		players []string
	)
	if err := row.Scan(&rm.ID, &rm.PluginID, &state, &players); err != nil {
		return nil, err
	}
	rm.State = state
	rm.Players = normalizePlayers(players)
	return &rm, nil
}

// playersOf never returns nil so the column stays a non-null empty array.
func playersOf(rm *Room) []string {
	if rm.Players == nil {
		return []string{}
	}
	return rm.Players
}
