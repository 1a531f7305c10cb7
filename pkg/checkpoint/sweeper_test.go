package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nonPruningStore struct{ Store }

func TestSweeper(t *testing.T) {
	ctx := context.Background()

	t.Run("should delete only sessions past retention", func(t *testing.T) {
		store := NewMemoryStore()
		base := time.Now()

		store.now = func() time.Time { return base.Add(-48 * time.Hour) }
		require.NoError(t, store.Save(ctx, sampleState("old")))
		store.now = func() time.Time { return base }
		require.NoError(t, store.Save(ctx, sampleState("new")))

		var removed []string
		sweeper, err := NewSweeper(SweeperConfig{
			Store:     store,
			Retention: 24 * time.Hour,
			Logger:    zerolog.Nop(),
			OnDelete:  func(id string) { removed = append(removed, id) },
		})
		require.NoError(t, err)
		sweeper.now = func() time.Time { return base }

		n, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"old"}, removed)

		_, err = store.Load(ctx, "old")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Load(ctx, "new")
		assert.NoError(t, err)
	})

	t.Run("should require a pruning store", func(t *testing.T) {
		_, err := NewSweeper(SweeperConfig{Store: nonPruningStore{NewMemoryStore()}})
		assert.Error(t, err)
	})

	t.Run("should reject an invalid schedule", func(t *testing.T) {
		_, err := NewSweeper(SweeperConfig{Store: NewMemoryStore(), Schedule: "every tuesday"})
		assert.Error(t, err)
	})

	t.Run("should start and stop", func(t *testing.T) {
		sweeper, err := NewSweeper(SweeperConfig{Store: NewMemoryStore(), Logger: zerolog.Nop()})
		require.NoError(t, err)

		require.NoError(t, sweeper.Start())
		assert.Error(t, sweeper.Start())
		sweeper.Stop()
		require.NoError(t, sweeper.Start())
		sweeper.Stop()
	})
}
