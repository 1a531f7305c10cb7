package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	noEnv := func(string) string { return "" }

	t.Run("should return defaults when the file does not exist", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))
		loader.getenv = noEnv

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", cfg.LLM.Model)
		assert.Equal(t, 30, cfg.Server.RateLimitPerMinute)
	})

	t.Run("should merge the file over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"llm": {"provider": "anthropic", "model": "claude-sonnet-4"},
			"checkpoint": {"driver": "sqlite", "dsn": "file:chk.db"},
			"server": {"port": 9090, "allowed_origins": ["https://example.com"]}
		}`), 0o600))
		loader := NewLoader(path)
		loader.getenv = noEnv

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
		assert.Equal(t, "claude-sonnet-4", cfg.LLM.Model)
		assert.Equal(t, "gpt-4o-mini", cfg.LLM.FallbackModel)
		assert.Equal(t, "sqlite", cfg.Checkpoint.Driver)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, []string{"https://example.com"}, cfg.Server.AllowedOrigins)
	})

	t.Run("should apply MENUBOT_ environment overrides", func(t *testing.T) {
		t.Setenv("MENUBOT_LLM_MODEL", "gpt-4.1")
		t.Setenv("MENUBOT_SERVER_PORT", "7000")
		loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))
		loader.getenv = noEnv

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
		assert.Equal(t, 7000, cfg.Server.Port)
	})

	t.Run("should fall back to the provider key variable", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))
		loader.getenv = func(k string) string {
			if k == "OPENAI_API_KEY" {
				return "sk-from-env"
			}
			return ""
		}

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	})

	t.Run("should fail on malformed JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"llm": `), 0o600))

		_, err := NewLoader(path).Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	loader := NewLoader(path)
	loader.getenv = func(string) string { return "" }

	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-saved"
	cfg.Engine.RestaurantName = "La Esquina"
	require.NoError(t, loader.Save(cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-saved", loaded.LLM.APIKey)
	assert.Equal(t, "La Esquina", loaded.Engine.RestaurantName)
}
