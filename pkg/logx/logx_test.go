package logx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferCapturesEntries(t *testing.T) {
	logger := NewLogger("test-capture")
	logger.Info("tick %d started", 7)
	logger.Warn("agent %s slow", "rsi-1")

	entries := RecentEntries("test-capture", time.Time{})
	require.GreaterOrEqual(t, len(entries), 2)

	last := entries[len(entries)-1]
	assert.Equal(t, "WARN", last.Level)
	assert.Contains(t, last.Message, "rsi-1")
}

func TestDebugDisabledByDefault(t *testing.T) {
	SetDebug(false)
	logger := NewLogger("test-debug-off")
	logger.Debug("should not appear")

	entries := RecentEntries("test-debug-off", time.Time{})
	assert.Empty(t, entries)
}

func TestDebugEnabled(t *testing.T) {
	SetDebug(true)
	defer SetDebug(false)

	logger := NewLogger("test-debug-on")
	logger.Debug("visible now")

	entries := RecentEntries("test-debug-on", time.Time{})
	require.Len(t, entries, 1)
	assert.Equal(t, "DEBUG", entries[0].Level)
}

func TestBufferBounded(t *testing.T) {
	logger := NewLogger("test-bounded")
	for i := 0; i < 1200; i++ {
		logger.Info("entry %d", i)
	}

	entries := RecentEntries("", time.Time{})
	assert.LessOrEqual(t, len(entries), 1000)
}
