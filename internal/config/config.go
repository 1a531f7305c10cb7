package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	// Timezone names resolve without system zoneinfo.
	_ "time/tzdata"
)

// Config represents the menubot configuration
type Config struct {
	// Environment is development, staging, production or test
	Environment string `json:"environment" mapstructure:"environment"`

	LLM        LLMConfig        `json:"llm" mapstructure:"llm"`
	Engine     EngineConfig     `json:"engine" mapstructure:"engine"`
	Checkpoint CheckpointConfig `json:"checkpoint" mapstructure:"checkpoint"`
	Orders     OrdersConfig     `json:"orders" mapstructure:"orders"`
	Menu       MenuConfig       `json:"menu" mapstructure:"menu"`
	Bridge     BridgeConfig     `json:"bridge" mapstructure:"bridge"`
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Moderation ModerationConfig `json:"moderation" mapstructure:"moderation"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	Telemetry  TelemetryConfig  `json:"telemetry" mapstructure:"telemetry"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LLMConfig holds the model provider settings
type LLMConfig struct {
	Provider       string  `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey         string  `json:"api_key" mapstructure:"api_key"`
	BaseURL        string  `json:"base_url" mapstructure:"base_url"`
	Model          string  `json:"model" mapstructure:"model"`
	FallbackModel  string  `json:"fallback_model" mapstructure:"fallback_model"`
	MaxRetries     int     `json:"max_retries" mapstructure:"max_retries"`
	RetryBackoffMS int     `json:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	Temperature    float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int     `json:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSeconds int     `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// EngineConfig holds turn execution settings
type EngineConfig struct {
	MaxToolIterations  int    `json:"max_tool_iterations" mapstructure:"max_tool_iterations"`
	TurnTimeoutSeconds int    `json:"turn_timeout_seconds" mapstructure:"turn_timeout_seconds"`
	Timezone           string `json:"timezone" mapstructure:"timezone"`
	RestaurantName     string `json:"restaurant_name" mapstructure:"restaurant_name"`
	ToolOutputLimit    int    `json:"tool_output_limit" mapstructure:"tool_output_limit"` // bytes
}

// CheckpointConfig selects the conversation store
type CheckpointConfig struct {
	Driver         string `json:"driver" mapstructure:"driver"` // memory, file, sqlite, postgres
	DSN            string `json:"dsn" mapstructure:"dsn"`
	Dir            string `json:"dir" mapstructure:"dir"`
	RetentionHours int    `json:"retention_hours" mapstructure:"retention_hours"`
	SweepSchedule  string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// OrdersConfig selects the order backend
type OrdersConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // memory, sqlite
	DSN    string `json:"dsn" mapstructure:"dsn"`
}

// MenuConfig locates the catalog
type MenuConfig struct {
	CatalogPath string `json:"catalog_path" mapstructure:"catalog_path"`
	Watch       bool   `json:"watch" mapstructure:"watch"`
}

// BridgeConfig points at the WhatsApp bridge
type BridgeConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	URL            string `json:"url" mapstructure:"url"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ServerConfig holds HTTP ingress settings
type ServerConfig struct {
	Host                   string   `json:"host" mapstructure:"host"`
	Port                   int      `json:"port" mapstructure:"port"`
	RateLimitPerMinute     int      `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	AllowedOrigins         []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	WebhookSecret          string   `json:"webhook_secret" mapstructure:"webhook_secret"`
	ShutdownTimeoutSeconds int      `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
}

// ModerationConfig screens inbound messages. An enabled filter with no
// patterns uses the built-in prompt-injection patterns.
type ModerationConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	BlockedKeywords []string `json:"blocked_keywords" mapstructure:"blocked_keywords"`
	BlockedPatterns []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"` // console, json
	File       string `json:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
}

// TelemetryConfig toggles tracing
type TelemetryConfig struct {
	TracingEnabled bool    `json:"tracing_enabled" mapstructure:"tracing_enabled"`
	ServiceName    string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio    float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o",
			FallbackModel:  "gpt-4o-mini",
			MaxRetries:     3,
			RetryBackoffMS: 1000,
			Temperature:    0.7,
			MaxTokens:      1024,
			TimeoutSeconds: 60,
		},
		Engine: EngineConfig{
			MaxToolIterations:  8,
			TurnTimeoutSeconds: 120,
			Timezone:           "America/Bogota",
			RestaurantName:     "Don Burger",
			ToolOutputLimit:    16 * 1024,
		},
		Checkpoint: CheckpointConfig{
			Driver:         "memory",
			RetentionHours: 30 * 24,
			SweepSchedule:  "@every 1h",
		},
		Orders: OrdersConfig{
			Driver: "memory",
		},
		Menu: MenuConfig{
			Watch: true,
		},
		Bridge: BridgeConfig{
			Enabled:        false,
			URL:            "http://localhost:3001",
			TimeoutSeconds: 15,
		},
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8000,
			RateLimitPerMinute:     30,
			AllowedOrigins:         []string{},
			ShutdownTimeoutSeconds: 15,
		},
		Moderation: ModerationConfig{
			Enabled:         true,
			BlockedKeywords: []string{},
			BlockedPatterns: []string{},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 7,
		},
		Telemetry: TelemetryConfig{
			TracingEnabled: false,
			ServiceName:    "menubot",
			SampleRatio:    1,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.LLM.APIKey = mask(c.LLM.APIKey)
	masked.Server.WebhookSecret = mask(c.Server.WebhookSecret)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// Addr is the listen address of the HTTP ingress
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Seconds converts a seconds setting to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Location resolves the engine timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Engine.Timezone)
}

// Validate checks if the configuration is valid. All problems are reported
// together.
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
