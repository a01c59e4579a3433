package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 10*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 2, cfg.LLMMaxRetries)
	assert.Equal(t, 5, cfg.HistoryTurns)
	assert.Equal(t, 3, cfg.ClassifierHistory)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_TIMEOUT", "3s")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("HISTORY_TURNS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "sk-test", cfg.APIKey())
	assert.Equal(t, 3*time.Second, cfg.LLMTimeout)
	assert.InDelta(t, 0.2, cfg.LLMTemperature, 1e-9)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, 5, cfg.HistoryTurns, "unparsable values keep the default")
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.HistoryTurns = 0
	cfg.LLMTimeout = -time.Second
	cfg.LLMProvider = "gemini"
	cfg.StoreDriver = "postgres"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"HISTORY_TURNS", "LLM_TIMEOUT", "LLM_PROVIDER", "STORE_DRIVER"} {
		assert.ErrorContains(t, err, want)
	}
}
