package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("should create the directory and file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "subdir", "test.log")

		rw, err := NewRotatingWriter(logFile, 10, 3, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})
}

func newSmallWriter(t *testing.T, backups int, compress bool) (*RotatingWriter, string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "test.log")
	rw, err := NewRotatingWriter(logFile, 1, backups, compress)
	require.NoError(t, err)
	rw.maxSize = 64
	tick := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rw.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	t.Cleanup(func() { rw.Close() })
	return rw, logFile
}

func TestRotatingWriterRotation(t *testing.T) {
	t.Run("should rotate when the file would exceed the limit", func(t *testing.T) {
		rw, logFile := newSmallWriter(t, 5, false)
		line := []byte(strings.Repeat("x", 40) + "\n")

		for i := 0; i < 3; i++ {
			n, err := rw.Write(line)
			require.NoError(t, err)
			assert.Equal(t, len(line), n)
		}

		backups, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		assert.Len(t, backups, 2)
		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, line, data)
	})

	t.Run("should keep only the newest backups", func(t *testing.T) {
		rw, logFile := newSmallWriter(t, 2, false)
		line := []byte(strings.Repeat("y", 40) + "\n")

		for i := 0; i < 6; i++ {
			_, err := rw.Write(line)
			require.NoError(t, err)
		}

		backups, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		assert.Len(t, backups, 2)
		assert.True(t, strings.HasSuffix(backups[1], "20240501-000005.000000"))
	})

	t.Run("should gzip rotated files", func(t *testing.T) {
		rw, logFile := newSmallWriter(t, 5, true)
		line := []byte(strings.Repeat("z", 40) + "\n")

		for i := 0; i < 2; i++ {
			_, err := rw.Write(line)
			require.NoError(t, err)
		}

		backups, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		require.Len(t, backups, 1)
		assert.True(t, strings.HasSuffix(backups[0], ".gz"))
	})
}

func TestRotatingWriterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "test.log"), 1, 1, false)
	require.NoError(t, err)

	assert.NoError(t, rw.Close())
	assert.NoError(t, rw.Close())
}
