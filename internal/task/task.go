// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package task implements durable deferred self-invocations for plugins:
// a reservation is persisted, fired once after its timeout unless canceled
// first, and survives process restarts within its time-to-live.
package task

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/oops"
)

// CodeStoreFailed is attached to durable store failures.
const CodeStoreFailed = "TASK_STORE_FAILED"

// ErrStore classifies failures of the durable task store.
var ErrStore = errors.New("task store unavailable")

// Task is one pending reservation as persisted in the store.
type Task struct {
	ID        string `cbor:"id"`
	RoomID    string `cbor:"roomId"`
	PlayerID  string `cbor:"playerId"`
	Action    []byte `cbor:"action"`
	TimeoutMs uint32 `cbor:"timeoutMs"`
	// Deadline is the unix time in milliseconds at which the task fires.
	Deadline int64 `cbor:"deadline"`
}

// DeadlineTime returns Deadline as a time.Time.
func (t Task) DeadlineTime() time.Time {
	return time.UnixMilli(t.Deadline)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("task: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("task: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes t with deterministic CBOR.
func Encode(t Task) ([]byte, error) {
	data, err := encMode.Marshal(t)
	if err != nil {
		return nil, oops.In("task").With("task", t.ID).Wrapf(err, "encode task")
	}
	return data, nil
}

// Decode parses a record written by Encode.
func Decode(data []byte) (Task, error) {
	var t Task
	if err := decMode.Unmarshal(data, &t); err != nil {
		return Task{}, oops.In("task").Wrapf(err, "decode task")
	}
	if t.ID == "" || t.RoomID == "" {
		return Task{}, oops.In("task").Errorf("decoded task is missing id or room")
	}
	return t, nil
}

// storeError marks err as a durable store failure.
func storeError(backend, op, id string, err error) error {
	return oops.In("task").
		Code(CodeStoreFailed).
		With("backend", backend).
		With("operation", op).
		With("task", id).
		Wrap(fmt.Errorf("%w: %w", ErrStore, err))
}
