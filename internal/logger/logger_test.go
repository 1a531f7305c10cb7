package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should write JSON to the console writer", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "debug", Format: "json", Out: &buf})
		require.NoError(t, err)
		defer l.Close()

		zl := l.Zerolog()
		zl.Debug().Str("session_id", "s-1").Msg("hello")

		assert.Contains(t, buf.String(), `"session_id":"s-1"`)
		assert.Contains(t, buf.String(), `"service":"menubot"`)
	})

	t.Run("should default to info on an unknown level", func(t *testing.T) {
		l, err := New(Config{Level: "chatty", Out: &bytes.Buffer{}})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
	})

	t.Run("should also write to the log file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "menubot.log")
		l, err := New(Config{Level: "info", Format: "json", File: logFile, Out: &bytes.Buffer{}})
		require.NoError(t, err)

		zl := l.Zerolog()
		zl.Info().Msg("to file")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "to file")
	})

	t.Run("should redact phone numbers and keys", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "info", Format: "json", Redaction: true, Out: &buf})
		require.NoError(t, err)
		defer l.Close()

		zl := l.Zerolog()
		zl.Info().Str("phone", "573001112233").Str("key", "sk-abcdefghijklmnopqrstuvwxyz").Msg("turn")

		out := buf.String()
		assert.NotContains(t, out, "573001112233")
		assert.Contains(t, out, "********2233")
		assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwxyz")
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSizeMB)
	assert.Equal(t, 7, cfg.MaxBackups)
}
