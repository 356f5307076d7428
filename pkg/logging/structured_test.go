package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestKeyValueFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core)).WithRunID("run-1")

	l.Info("hello", "n", 3, "skipped")
	l.Debug("dbg", "x", 1.5)

	entries := logs.All()
	require.Len(t, entries, 2)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "run-1", ctx["run_id"])
	assert.Equal(t, int64(3), ctx["n"])
	assert.NotContains(t, ctx, "skipped")
}

func TestWithFieldsKeepsRunID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core)).WithRunID("run-2").WithFields(map[string]interface{}{
		"strategy":  "random",
		"evaluator": "builtin:sum",
	})

	l.Info("run started")

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "run-2", ctx["run_id"])
	assert.Equal(t, "random", ctx["strategy"])
	assert.Equal(t, "builtin:sum", ctx["evaluator"])
}

func TestLogEvaluationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core))

	l.LogEvaluation(25, 200, 7, "FAIL", "q95", "random")
	l.LogRunCompleted("r", 200, 40, 2*time.Second)

	require.Equal(t, 2, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, int64(25), ctx["i"])
	assert.Equal(t, "q95", ctx["dominant"])
	assert.Equal(t, 2.0, logs.All()[1].ContextMap()["elapsed_s"])
}

func TestTeeWritesConsoleLines(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var buf bytes.Buffer
	l := New(zap.New(core)).Tee(&buf)

	l.Warn("breaker open", "name", "evaluator")
	require.NoError(t, l.Sync())

	assert.Equal(t, 1, logs.Len())
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "breaker open")
	assert.Contains(t, buf.String(), `"name": "evaluator"`)
}

func TestNewLoggerLevels(t *testing.T) {
	l, err := NewLogger(Config{Level: "warn", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.False(t, l.zap.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.zap.Core().Enabled(zapcore.ErrorLevel))

	def := DefaultConfig()
	assert.Equal(t, "stderr", def.Output)
	l, err = NewLogger(def)
	require.NoError(t, err)
	assert.True(t, l.zap.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.zap.Core().Enabled(zapcore.DebugLevel))

	assert.Equal(t, zapcore.InfoLevel, parseZapLevel("bogus").Level())
}
