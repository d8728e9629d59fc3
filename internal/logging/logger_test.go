package logging

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintLoggerLevels(t *testing.T) {
	tests := []struct {
		level    Level
		expected []string
		skipped  []string
	}{
		{LevelDebug, []string{"[DEBUG] d", "[INFO] i", "[WARN] w", "[ERROR] e"}, nil},
		{LevelInfo, []string{"[INFO] i", "[WARN] w", "[ERROR] e"}, []string{"[DEBUG]"}},
		{LevelWarn, []string{"[WARN] w", "[ERROR] e"}, []string{"[DEBUG]", "[INFO]"}},
		{LevelError, []string{"[ERROR] e"}, []string{"[DEBUG]", "[INFO]", "[WARN]"}},
		{LevelNone, nil, []string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewPrintLoggerTo(log.New(&buf, "", 0), tt.level)

			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			out := buf.String()
			for _, want := range tt.expected {
				assert.Contains(t, out, want)
			}
			for _, unwanted := range tt.skipped {
				assert.NotContains(t, out, unwanted)
			}
		})
	}
}

func TestPrintLoggerFormatsArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewPrintLoggerTo(log.New(&buf, "", 0), LevelInfo)

	logger.Info("shard %d: %d events", 3, 120)

	assert.Equal(t, "[INFO] shard 3: 120 events\n", buf.String())
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(" warn ")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNoopLogger(t *testing.T) {
	var logger Logger = NoopLogger{}
	assert.NotPanics(t, func() {
		logger.Debug("x %d", 1)
		logger.Info("x")
		logger.Warn("x")
		logger.Error("x")
	})
}
