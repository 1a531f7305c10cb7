package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator(t *testing.T) {
	v := NewValidator()

	t.Run("should check API key prefixes per provider", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-ant-abc", "anthropic"))
		assert.Error(t, v.ValidateAPIKey("sk-abc", "anthropic"))
		assert.NoError(t, v.ValidateAPIKey("sk-abc", "openai"))
		assert.Error(t, v.ValidateAPIKey("", "openai"))
	})

	t.Run("should check enumerations", func(t *testing.T) {
		assert.NoError(t, v.ValidateProvider("anthropic"))
		assert.Error(t, v.ValidateProvider("gemini"))
		assert.NoError(t, v.ValidateEnvironment("production"))
		assert.Error(t, v.ValidateEnvironment("prod"))
		assert.NoError(t, v.ValidateLogLevel("debug"))
		assert.Error(t, v.ValidateLogLevel("verbose"))
	})

	t.Run("should check ranges", func(t *testing.T) {
		assert.NoError(t, v.ValidateTemperature(0.2))
		assert.Error(t, v.ValidateTemperature(-1))
		assert.NoError(t, v.ValidateMaxTokens(1024))
		assert.Error(t, v.ValidateMaxTokens(0))
		assert.Error(t, v.ValidateMaxTokens(300000))
		assert.Error(t, v.ValidatePort(70000))
	})

	t.Run("should check sweep schedules", func(t *testing.T) {
		assert.NoError(t, v.ValidateSchedule("@every 30m"))
		assert.NoError(t, v.ValidateSchedule("0 3 * * *"))
		assert.Error(t, v.ValidateSchedule("sometimes"))
	})

	t.Run("should check moderation patterns", func(t *testing.T) {
		assert.NoError(t, v.ValidatePatterns([]string{`(?i)gratis`, `\bpromo\b`}))
		assert.Error(t, v.ValidatePatterns([]string{`(`}))
	})

	t.Run("should skip the schedule when retention is off", func(t *testing.T) {
		cfg := validConfig()
		cfg.Checkpoint.RetentionHours = 0
		cfg.Checkpoint.SweepSchedule = "sometimes"

		assert.Empty(t, v.ValidateConfig(cfg))
	})

	t.Run("should collect all errors", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "loud"
		cfg.Logging.Format = "xml"
		cfg.Orders.Driver = "sqlite"

		errs := v.ValidateConfig(cfg)

		var msgs []string
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		joined := strings.Join(msgs, "\n")
		assert.Len(t, errs, 3)
		assert.Contains(t, joined, "log level")
		assert.Contains(t, joined, "log format")
		assert.Contains(t, joined, "orders.dsn")
	})
}
