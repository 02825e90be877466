package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerEmitsServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "dispatch-api", "info")
	log.Info("dispatch round created", "booking_id", "X")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dispatch-api", line["service"])
	assert.Equal(t, "X", line["booking_id"])
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, levelFromString("DEBUG"))
	assert.Equal(t, slog.LevelWarn, levelFromString(" warning "))
	assert.Equal(t, slog.LevelError, levelFromString("error"))
	assert.Equal(t, slog.LevelInfo, levelFromString("nonsense"))

	var buf bytes.Buffer
	newLogger(&buf, "svc", "warn").Info("dropped")
	assert.Zero(t, buf.Len())
}
