package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestStructuredLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)

	log.WithField("component", "provider").Warn("synthetic fallback", "asset", "SOL", "reason", "timeout", "dangling")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "synthetic fallback", lines[0]["msg"])
	assert.Equal(t, "warning", lines[0]["level"])
	assert.Equal(t, "SOL", lines[0]["asset"])
	assert.Equal(t, "timeout", lines[0]["reason"])
	assert.Equal(t, "provider", lines[0]["component"])
	assert.NotContains(t, lines[0], "dangling")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(Config{Level: LevelWarn, Format: FormatJSON}, &buf)

	log.Info("hidden")
	log.Error("shown")
	assert.Len(t, decodeLines(t, &buf), 1)

	log.SetLevel(LevelInfo)
	assert.Equal(t, LevelInfo, log.GetLevel())
	log.Info("now visible")
	assert.Len(t, decodeLines(t, &buf), 2)

	log.SetLevel("bogus")
	assert.Equal(t, LevelInfo, log.GetLevel())
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)

	ctx := ContextWithRunID(ContextWithRequestID(context.Background(), "req-1"), "run-9")
	log.WithContext(ctx).Info("backtest started")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.Equal(t, "run-9", lines[0]["run_id"])
}

func TestPerformanceLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)
	pl := NewPerformanceLogger(log).WithThresholds(10*time.Millisecond, 20*time.Millisecond)

	pl.LogPerformance("backtest", 5*time.Millisecond, map[string]interface{}{"strategy_id": "s1"})
	pl.LogPerformance("backtest", 15*time.Millisecond, nil)
	pl.LogPerformance("backtest", 25*time.Millisecond, nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "s1", lines[0]["strategy_id"])
	assert.Equal(t, "warning", lines[1]["level"])
	assert.Equal(t, "error", lines[2]["level"])
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)
	rl := NewRequestLogger(log)

	rl.LogRequest("POST", "/api/v1/backtests", 400, time.Millisecond, map[string]interface{}{"client_ip": "127.0.0.1"})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warning", lines[0]["level"])
	assert.Equal(t, float64(400), lines[0]["status_code"])
	assert.Equal(t, "127.0.0.1", lines[0]["client_ip"])
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	var buf bytes.Buffer
	SetGlobalLogger(NewLoggerWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf))
	Named("scheduler").Info("job done", "job", "daily")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "scheduler", lines[0]["component"])
	assert.Equal(t, "daily", lines[0]["job"])
}

func TestIsValidLevel(t *testing.T) {
	assert.True(t, IsValidLevel(LevelDebug))
	assert.False(t, IsValidLevel("verbose"))
}
