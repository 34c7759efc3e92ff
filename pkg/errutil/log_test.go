// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gameroom/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.In("room").
		Code("ROOM_STORE_FAILED").
		With("room", "lobby").
		Errorf("save failed")

	errutil.LogError(logger, "room operation failed", err, "operation", "rpc")

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "room operation failed", entry["msg"])
	assert.Equal(t, "ROOM_STORE_FAILED", entry["code"])
	assert.Equal(t, "room", entry["domain"])
	assert.Equal(t, "rpc", entry["operation"])
	require.IsType(t, map[string]any{}, entry["context"])
	assert.Equal(t, "lobby", entry["context"].(map[string]any)["room"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "task execution failed", errors.New("standard error"))

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

type ctxKey struct{}

// capturing records the context each record was logged with.
type capturing struct {
	slog.Handler
	got context.Context
}

func (h *capturing) Handle(ctx context.Context, r slog.Record) error {
	h.got = ctx
	return h.Handler.Handle(ctx, r)
}

func TestLogErrorContext_PassesContext(t *testing.T) {
	var buf bytes.Buffer
	h := &capturing{Handler: slog.NewJSONHandler(&buf, nil)}
	ctx := context.WithValue(context.Background(), ctxKey{}, "trace")

	errutil.LogErrorContext(ctx, slog.New(h), "plugin fault", errors.New("trap"))

	require.NotNil(t, h.got)
	assert.Equal(t, "trace", h.got.Value(ctxKey{}))
}

func TestAttrs_OmitsEmptyFields(t *testing.T) {
	attrs := errutil.Attrs(oops.Errorf("bare"))
	assert.Equal(t, []any{"error", "bare"}, attrs)
}
