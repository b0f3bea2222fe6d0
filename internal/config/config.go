package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agentstream configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Backend agent endpoints and auth
	Agent AgentConfig `yaml:"agent"`

	// Streaming connection behavior
	Connection ConnectionConfig `yaml:"connection"`

	// Batch orchestration
	Batch BatchConfig `yaml:"batch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// AgentConfig points at the backend and carries credentials.
type AgentConfig struct {
	BaseURL     string `yaml:"base_url"`
	TriggerPath string `yaml:"trigger_path"`
	StreamPath  string `yaml:"stream_path"`
	Token       string `yaml:"token"`
}

// ConnectionConfig tunes the reconnecting stream transport.
type ConnectionConfig struct {
	MaxRetries             int     `yaml:"max_retries"`
	BaseDelay              string  `yaml:"base_delay"`
	MaxDelay               string  `yaml:"max_delay"`
	BackoffMultiplier      float64 `yaml:"backoff_multiplier"`
	PreserveDataLineBreaks bool    `yaml:"preserve_data_line_breaks"`
}

// BatchConfig tunes the batch orchestrator.
type BatchConfig struct {
	InterUnitDelay string `yaml:"inter_unit_delay"`
	UnitMaxRetries int    `yaml:"unit_max_retries"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentstream",
		Version: "1.0.0",

		Agent: AgentConfig{
			BaseURL:     "http://localhost:8000",
			TriggerPath: "/api/answer",
			StreamPath:  "/sse",
		},

		Connection: ConnectionConfig{
			MaxRetries:        3,
			BaseDelay:         "1s",
			MaxDelay:          "30s",
			BackoffMultiplier: 2,
		},

		Batch: BatchConfig{
			InterUnitDelay: "1s",
			UnitMaxRetries: 2,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "agentstream.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if u := os.Getenv("AGENTSTREAM_BASE_URL"); u != "" {
		c.Agent.BaseURL = u
	}
	if tok := os.Getenv("AGENTSTREAM_TOKEN"); tok != "" {
		c.Agent.Token = tok
	}
	if p := os.Getenv("AGENTSTREAM_TRIGGER_PATH"); p != "" {
		c.Agent.TriggerPath = p
	}
	if p := os.Getenv("AGENTSTREAM_STREAM_PATH"); p != "" {
		c.Agent.StreamPath = p
	}
	if lvl := os.Getenv("AGENTSTREAM_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// GetBaseDelay returns the backoff base delay as a duration.
func (c *Config) GetBaseDelay() time.Duration {
	d, err := time.ParseDuration(c.Connection.BaseDelay)
	if err != nil {
		return 1 * time.Second
	}
	return d
}

// GetMaxDelay returns the backoff delay cap as a duration.
func (c *Config) GetMaxDelay() time.Duration {
	d, err := time.ParseDuration(c.Connection.MaxDelay)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetInterUnitDelay returns the batch throttle delay as a duration.
func (c *Config) GetInterUnitDelay() time.Duration {
	d, err := time.ParseDuration(c.Batch.InterUnitDelay)
	if err != nil {
		return 1 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Agent.BaseURL == "" {
		return fmt.Errorf("agent base URL not configured (set agent.base_url or AGENTSTREAM_BASE_URL)")
	}
	u, err := url.Parse(c.Agent.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid agent base URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid agent base URL scheme: %s (valid: http, https, ws, wss)", u.Scheme)
	}

	if c.Connection.MaxRetries < 0 {
		return fmt.Errorf("connection.max_retries must be >= 0, got %d", c.Connection.MaxRetries)
	}
	if c.Connection.BackoffMultiplier < 1 {
		return fmt.Errorf("connection.backoff_multiplier must be >= 1, got %v", c.Connection.BackoffMultiplier)
	}
	if c.GetMaxDelay() < c.GetBaseDelay() {
		return fmt.Errorf("connection.max_delay must be >= connection.base_delay")
	}
	if c.Batch.UnitMaxRetries < 0 {
		return fmt.Errorf("batch.unit_max_retries must be >= 0, got %d", c.Batch.UnitMaxRetries)
	}

	return nil
}
