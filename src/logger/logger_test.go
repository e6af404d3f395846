package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

type levelConfig struct{ level string }

func (c levelConfig) GetLogLevel() string { return c.level }

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarning, ParseLevel("WARN"))
	assert.Equal(t, LevelWarning, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestLogger_FiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, LevelWarning, "app")

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warning("shown %d", 3)
	l.Error("shown %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[app] WARNING: shown 3")
	assert.Contains(t, out, "[app] ERROR: shown 4")
}

func TestLogger_CriticalExits(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, LevelInfo, "app")
	code := -1
	l.exit = func(c int) { code = c }

	l.Critical("boom")

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "CRITICAL: boom")
}

func TestLevelFromConfig(t *testing.T) {
	assert.Equal(t, LevelError, levelFromConfig(levelConfig{level: "error"}))
	assert.Equal(t, LevelInfo, levelFromConfig(struct{}{}))
	assert.Equal(t, LevelInfo, levelFromConfig(nil))
}

func TestLogger_NilIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Info("nothing") })
}
