package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_Agent(t *testing.T) {
	t.Run("AGENTSTREAM_BASE_URL overrides file value", func(t *testing.T) {
		t.Setenv("AGENTSTREAM_BASE_URL", "https://env.example.com")

		cfg := &Config{Agent: AgentConfig{BaseURL: "https://file.example.com"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "https://env.example.com", cfg.Agent.BaseURL)
	})

	t.Run("AGENTSTREAM_TOKEN sets credentials", func(t *testing.T) {
		t.Setenv("AGENTSTREAM_TOKEN", "env-token")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "env-token", cfg.Agent.Token)
	})

	t.Run("empty env vars leave config untouched", func(t *testing.T) {
		t.Setenv("AGENTSTREAM_BASE_URL", "")
		t.Setenv("AGENTSTREAM_TOKEN", "")

		cfg := &Config{Agent: AgentConfig{BaseURL: "https://file.example.com", Token: "file-token"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "https://file.example.com", cfg.Agent.BaseURL)
		assert.Equal(t, "file-token", cfg.Agent.Token)
	})

	t.Run("paths overridable", func(t *testing.T) {
		t.Setenv("AGENTSTREAM_TRIGGER_PATH", "/api/other")
		t.Setenv("AGENTSTREAM_STREAM_PATH", "/ws")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "/api/other", cfg.Agent.TriggerPath)
		assert.Equal(t, "/ws", cfg.Agent.StreamPath)
	})
}

func TestEnvOverrides_Logging(t *testing.T) {
	t.Setenv("AGENTSTREAM_LOG_LEVEL", "debug")

	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	cfg.applyEnvOverrides()

	assert.Equal(t, "debug", cfg.Logging.Level)
}
