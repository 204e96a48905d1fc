package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWriter(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Run("json with request id", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, InitWriter(&buf, "json", "info"))

		ctx := WithRequestID(context.Background(), "req-1")
		Info(ctx, "wallet unlocked", "state", "unlocked")
		Debug(ctx, "hidden")

		var line map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
		assert.Equal(t, "wallet unlocked", line["msg"])
		assert.Equal(t, "req-1", line["request_id"])
		assert.Equal(t, "unlocked", line["state"])
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, InitWriter(&buf, "text", "DEBUG"))
		Debug(context.Background(), "visible")
		assert.True(t, strings.Contains(buf.String(), "msg=visible"))
	})

	t.Run("invalid values", func(t *testing.T) {
		assert.Error(t, InitWriter(&bytes.Buffer{}, "xml", "INFO"))
		assert.Error(t, InitWriter(&bytes.Buffer{}, "json", "LOUD"))
	})
}

func TestGetRequestID(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
	assert.Equal(t, "abc", GetRequestID(WithRequestID(context.Background(), "abc")))
}
