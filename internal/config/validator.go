package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(field, value string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q (must be one of: %s)", field, value, strings.Join(valid, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates an LLM provider name
func (v *Validator) ValidateProvider(provider string) error {
	return oneOf("llm provider", provider, "openai", "anthropic")
}

// ValidateEnvironment validates the deployment environment
func (v *Validator) ValidateEnvironment(env string) error {
	return oneOf("environment", env, "development", "staging", "production", "test")
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("log level", level, "debug", "info", "warn", "error")
}

// ValidateSchedule validates a cron expression or @every descriptor
func (v *Validator) ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}
	return nil
}

// ValidatePatterns checks that every moderation pattern compiles
func (v *Validator) ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid moderation pattern %q: %w", p, err)
		}
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(v.ValidateEnvironment(cfg.Environment))

	// LLM
	add(v.ValidateProvider(cfg.LLM.Provider))
	if cfg.LLM.APIKey == "" {
		add(fmt.Errorf("llm.api_key is required (or set OPENAI_API_KEY / ANTHROPIC_API_KEY)"))
	}
	if cfg.LLM.Model == "" {
		add(fmt.Errorf("llm.model is required"))
	}
	add(v.ValidateTemperature(cfg.LLM.Temperature))
	add(v.ValidateMaxTokens(cfg.LLM.MaxTokens))
	if cfg.LLM.MaxRetries < 0 {
		add(fmt.Errorf("llm.max_retries must not be negative"))
	}

	// Engine
	if cfg.Engine.MaxToolIterations <= 0 {
		add(fmt.Errorf("engine.max_tool_iterations must be positive"))
	}
	if cfg.Engine.TurnTimeoutSeconds <= 0 {
		add(fmt.Errorf("engine.turn_timeout_seconds must be positive"))
	}
	if _, err := cfg.Location(); err != nil {
		add(fmt.Errorf("invalid engine.timezone %q: %w", cfg.Engine.Timezone, err))
	}

	// Storage
	add(oneOf("checkpoint driver", cfg.Checkpoint.Driver, "memory", "file", "sqlite", "postgres"))
	switch cfg.Checkpoint.Driver {
	case "sqlite", "postgres":
		if cfg.Checkpoint.DSN == "" {
			add(fmt.Errorf("checkpoint.dsn is required for driver %s", cfg.Checkpoint.Driver))
		}
	}
	if cfg.Checkpoint.RetentionHours > 0 {
		add(v.ValidateSchedule(cfg.Checkpoint.SweepSchedule))
	}
	add(oneOf("orders driver", cfg.Orders.Driver, "memory", "sqlite"))
	if cfg.Orders.Driver == "sqlite" && cfg.Orders.DSN == "" {
		add(fmt.Errorf("orders.dsn is required for driver sqlite"))
	}

	// Bridge
	if cfg.Bridge.Enabled && cfg.Bridge.URL == "" {
		add(fmt.Errorf("bridge.url is required when the bridge is enabled"))
	}

	// Server
	add(v.ValidatePort(cfg.Server.Port))
	if cfg.Server.RateLimitPerMinute <= 0 {
		add(fmt.Errorf("server.rate_limit_per_minute must be positive"))
	}

	add(v.ValidatePatterns(cfg.Moderation.BlockedPatterns))

	// Logging
	add(v.ValidateLogLevel(cfg.Logging.Level))
	add(oneOf("log format", cfg.Logging.Format, "console", "json"))

	return errs
}
