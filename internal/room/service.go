// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package room

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/gameroom/internal/plugin"
	"github.com/holomush/gameroom/internal/registry"
	"github.com/holomush/gameroom/internal/task"
	"github.com/holomush/gameroom/pkg/errutil"
)

// Operation status labels.
const (
	statusOK       = "ok"
	statusRejected = "rejected"
	statusFailed   = "failed"
)

// HostProvider resolves a plugin id to a loaded host. *PluginCache
// implements it.
type HostProvider interface {
	Host(ctx context.Context, pluginID string) (*plugin.Host, error)
}

// Service applies joins, actions, departures and task events to rooms.
// Every mutation runs under the room's lock: the plugin call and the store
// write happen as one unit.
type Service struct {
	store   *Store
	plugins HostProvider
	coord   *Coordinator
	logger  *slog.Logger
}

var _ task.Executor = (*Service)(nil)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCoordinator shares a coordinator between services.
func WithCoordinator(c *Coordinator) ServiceOption {
	return func(s *Service) { s.coord = c }
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a service over store.
func NewService(store *Store, plugins HostProvider, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		plugins: plugins,
		coord:   NewCoordinator(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join adds playerID to roomID. A room that does not exist yet is created
// with pluginID's onCreateRoom; an existing room runs onJoinPlayer and
// pluginID, if set, must match the room's plugin.
func (s *Service) Join(ctx context.Context, roomID, pluginID, playerID string) (*Room, error) {
	existing, err := s.store.Get(ctx, roomID)
	switch {
	case errors.Is(err, ErrNotFound):
		if pluginID == "" {
			return nil, s.done(ctx, "join", roomID, oops.In("room").Code(registry.CodeNotFound).
				With("room", roomID).Wrapf(registry.ErrNotFound, "plugin id required to create a room"))
		}
	case err != nil:
		return nil, s.done(ctx, "join", roomID, err)
	default:
		if pluginID != "" && pluginID != existing.PluginID {
			return nil, s.done(ctx, "join", roomID, oops.In("room").Code(CodeMismatch).
				With("room", roomID).With("plugin", pluginID).With("room_plugin", existing.PluginID).
				Wrap(ErrPluginMismatch))
		}
		pluginID = existing.PluginID
	}

	if _, err := s.plugins.Host(ctx, pluginID); err != nil {
		return nil, s.done(ctx, "join", roomID, err)
	}

	var out *Room
	err = s.coord.WithRoomLock(ctx, roomID, func(ctx context.Context) error {
		r, err := s.store.Get(ctx, roomID)
		if errors.Is(err, ErrNotFound) {
			out, err = s.create(ctx, roomID, pluginID, playerID)
			return err
		}
		if err != nil {
			return err
		}

		host, err := s.plugins.Host(ctx, r.PluginID)
		if err != nil {
			return err
		}
		state, err := host.OnJoinPlayer(ctx, playerID, roomID, r.State)
		if err != nil {
			return err
		}
		r.State = state
		r.AddPlayer(playerID)
		if err := s.store.Save(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, s.done(ctx, "join", roomID, err)
}

func (s *Service) create(ctx context.Context, roomID, pluginID, playerID string) (*Room, error) {
	host, err := s.plugins.Host(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	state, err := host.OnCreateRoom(ctx, playerID, roomID)
	if err != nil {
		return nil, err
	}
	r := &Room{ID: roomID, PluginID: pluginID, State: state, Players: []string{playerID}}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "room created", "room", roomID, "plugin", pluginID, "player", playerID)
	return r, nil
}

// RPC applies action from a member of roomID.
func (s *Service) RPC(ctx context.Context, roomID, playerID string, action []byte) (*Room, error) {
	out, err := s.mutate(ctx, roomID, func(ctx context.Context, host *plugin.Host, r *Room) error {
		if !r.HasPlayer(playerID) {
			return oops.In("room").With("room", roomID).With("player", playerID).Wrap(ErrNotMember)
		}
		state, err := host.RPC(ctx, playerID, roomID, r.State, action)
		if err != nil {
			return err
		}
		r.State = state
		return nil
	})
	return out, s.done(ctx, "rpc", roomID, err)
}

// Leave removes playerID and runs onLeavePlayer. Membership is removed even
// when the hook fails; the state then stays as it was.
func (s *Service) Leave(ctx context.Context, roomID, playerID string) (*Room, error) {
	var hookErr error
	out, err := s.mutate(ctx, roomID, func(ctx context.Context, host *plugin.Host, r *Room) error {
		if !r.RemovePlayer(playerID) {
			return oops.In("room").With("room", roomID).With("player", playerID).Wrap(ErrNotMember)
		}
		state, err := host.OnLeavePlayer(ctx, playerID, roomID, r.State)
		if err != nil {
			hookErr = err
			return nil
		}
		r.State = state
		return nil
	})
	if err == nil {
		err = hookErr
	}
	return out, s.done(ctx, "leave", roomID, err)
}

// ExecuteTask applies a fired reservation: rpc with the task's action,
// then onTask, saved together. It implements task.Executor.
func (s *Service) ExecuteTask(ctx context.Context, t task.Task) error {
	_, err := s.mutate(ctx, t.RoomID, func(ctx context.Context, host *plugin.Host, r *Room) error {
		state, err := host.RPC(ctx, t.PlayerID, t.RoomID, r.State, t.Action)
		if err != nil {
			return err
		}
		state, err = host.OnTask(ctx, t.RoomID, t.ID, state)
		if err != nil {
			return err
		}
		r.State = state
		return nil
	})
	return s.done(ctx, "task", t.RoomID, err)
}

// CancelTask runs onCancelTask for a canceled reservation. Rooms whose
// plugin does not export the hook are left untouched.
func (s *Service) CancelTask(ctx context.Context, roomID, taskID string) error {
	_, err := s.mutate(ctx, roomID, func(ctx context.Context, host *plugin.Host, r *Room) error {
		if !host.Has(plugin.HookCancelTask) {
			return errSkip
		}
		state, err := host.OnCancelTask(ctx, roomID, taskID, r.State)
		if err != nil {
			return err
		}
		r.State = state
		return nil
	})
	if errors.Is(err, errSkip) {
		err = nil
	}
	return s.done(ctx, "cancel_task", roomID, err)
}

// DeleteRoom removes roomID. Subscribers of the room are dropped.
func (s *Service) DeleteRoom(ctx context.Context, roomID string) error {
	if err := s.mustExist(ctx, roomID); err != nil {
		return s.done(ctx, "delete", roomID, err)
	}
	err := s.coord.WithRoomLock(ctx, roomID, func(ctx context.Context) error {
		removed, err := s.store.Delete(ctx, roomID)
		if err != nil {
			return err
		}
		if !removed {
			return notFound(roomID)
		}
		return nil
	})
	if err == nil {
		s.logger.InfoContext(ctx, "room deleted", "room", roomID)
	}
	return s.done(ctx, "delete", roomID, err)
}

// Get returns a snapshot of roomID.
func (s *Service) Get(ctx context.Context, roomID string) (*Room, error) {
	return s.store.Get(ctx, roomID)
}

// ListRooms returns every room ordered by id.
func (s *Service) ListRooms(ctx context.Context) ([]*Room, error) {
	return s.store.List(ctx)
}

var errSkip = errors.New("skip")

// mutate checks roomID exists before locking, then loads the room, applies
// fn and saves the result under the lock. Nothing is saved if fn fails.
func (s *Service) mutate(ctx context.Context, roomID string,
	fn func(ctx context.Context, host *plugin.Host, r *Room) error,
) (*Room, error) {
	if err := s.mustExist(ctx, roomID); err != nil {
		return nil, err
	}

	var out *Room
	err := s.coord.WithRoomLock(ctx, roomID, func(ctx context.Context) error {
		r, err := s.store.Get(ctx, roomID)
		if err != nil {
			return err
		}
		host, err := s.plugins.Host(ctx, r.PluginID)
		if err != nil {
			return err
		}
		if err := fn(ctx, host, r); err != nil {
			return err
		}
		if err := s.store.Save(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (s *Service) mustExist(ctx context.Context, roomID string) error {
	ok, err := s.store.Exists(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(roomID)
	}
	return nil
}

// done records the outcome of an operation and passes err through.
func (s *Service) done(ctx context.Context, op, roomID string, err error) error {
	switch {
	case err == nil:
		Operations.WithLabelValues(op, statusOK).Inc()
	case isFault(err):
		Operations.WithLabelValues(op, statusRejected).Inc()
		errutil.LogErrorContext(ctx, s.logger, "plugin fault", err, "operation", op, "room", roomID)
	case errors.Is(err, plugin.ErrHookFailed), errors.Is(err, ErrNotMember), errors.Is(err, ErrPluginMismatch):
		Operations.WithLabelValues(op, statusRejected).Inc()
		s.logger.DebugContext(ctx, "room operation rejected", "operation", op, "room", roomID, "error", err)
	case errors.Is(err, ErrNotFound), errors.Is(err, registry.ErrNotFound):
		Operations.WithLabelValues(op, statusRejected).Inc()
		s.logger.InfoContext(ctx, "room operation on unknown id", "operation", op, "room", roomID, "error", err)
	default:
		Operations.WithLabelValues(op, statusFailed).Inc()
		errutil.LogErrorContext(ctx, s.logger, "room operation failed", err, "operation", op, "room", roomID)
	}
	return err
}

func isFault(err error) bool {
	var he *plugin.HookError
	return errors.As(err, &he) && he.Fault
}
