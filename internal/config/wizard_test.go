package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardRun(t *testing.T) {
	t.Run("should apply answers and keep defaults on empty lines", func(t *testing.T) {
		in := strings.NewReader(strings.Join([]string{
			"anthropic",
			"sk-ant-key",
			"claude-sonnet-4",
			"",
			"La Esquina",
			"y",
			"http://bridge:3001",
			"debug",
		}, "\n") + "\n")
		var out bytes.Buffer

		cfg, err := NewWizard(in, &out).Run(DefaultConfig())

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
		assert.Equal(t, "sk-ant-key", cfg.LLM.APIKey)
		assert.Equal(t, "claude-sonnet-4", cfg.LLM.Model)
		assert.Equal(t, "gpt-4o-mini", cfg.LLM.FallbackModel)
		assert.Equal(t, "La Esquina", cfg.Engine.RestaurantName)
		assert.True(t, cfg.Bridge.Enabled)
		assert.Equal(t, "http://bridge:3001", cfg.Bridge.URL)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Contains(t, out.String(), "Configuration complete!")
	})

	t.Run("should re-ask after an invalid provider", func(t *testing.T) {
		in := strings.NewReader("gemini\nopenai\nsk-abc\n\n\n\nn\n\n")
		var out bytes.Buffer

		cfg, err := NewWizard(in, &out).Run(DefaultConfig())

		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.False(t, cfg.Bridge.Enabled)
		assert.Contains(t, out.String(), "Error:")
	})

	t.Run("should fail when input ends early", func(t *testing.T) {
		_, err := NewWizard(strings.NewReader("openai\n"), &bytes.Buffer{}).Run(DefaultConfig())

		assert.Error(t, err)
	})
}
