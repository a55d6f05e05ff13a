package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo, Format: "json"})

	log.With(Component("ledger")).Info("points awarded", UserID("u1"), Points(25), Err(errors.New("boom")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "points awarded", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "ledger", entry["component"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, float64(25), entry["points"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelWarn, Format: "json"})

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelDebug, Format: "json"})

	ctx := WithContext(context.Background(), log.WithRequestID("req-1"))
	FromContext(ctx).Debug("hello")

	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}
