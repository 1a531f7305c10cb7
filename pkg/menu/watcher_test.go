package menu

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	path := writeMenu(t, dir, sampleMenu)
	store, err := NewStore(path)
	require.NoError(t, err)

	reloaded := make(chan error, 10)
	w, err := NewWatcher(WatcherConfig{
		Store:    store,
		Debounce: 20 * time.Millisecond,
		Logger:   zerolog.Nop(),
		OnReload: func(err error) { reloaded <- err },
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	updated := strings.Replace(sampleMenu, "La Esquina", "La Esquina 2", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))

	select {
	case err := <-reloaded:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	assert.Eventually(t, func() bool {
		return store.Catalog().Restaurant == "La Esquina 2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewWatcher_RequiresFile(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)
	_, err = NewWatcher(WatcherConfig{Store: store})
	assert.Error(t, err)
}
