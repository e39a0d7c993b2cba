package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerLogLevel, cfg.Server.LogLevel)
	assert.Equal(t, DefaultModelProfile, cfg.Models.Default)
	assert.Equal(t, DefaultAgentMaxToolAttempts, cfg.Agent.MaxToolAttempts)
	assert.Equal(t, DefaultAgentToolTimeout, cfg.Agent.ToolTimeout)
	assert.Equal(t, DefaultAgentKeepRecentPairs, cfg.Agent.KeepRecentPairs)
	assert.Equal(t, DefaultAgentMaxIterations, cfg.Agent.MaxIterations)

	name, profile, err := cfg.Profile("")
	require.NoError(t, err)
	assert.Equal(t, "openai", name)
	assert.Equal(t, "openai", profile.Backend)
	assert.Equal(t, 128000, profile.ContextWindowSize)
	assert.Equal(t, DefaultSummarizeThreshold, profile.SummarizeThreshold)
	assert.Equal(t, DefaultMaxRetries, profile.MaxRetries)
	assert.Equal(t, DefaultRetryBackoffBase, profile.RetryBackoffBase)
	assert.Equal(t, 500000, profile.RateLimitTPM)

	ollama := cfg.Models.Profiles["ollama"]
	assert.Equal(t, 32000, ollama.ContextWindowSize)
	assert.Equal(t, 0, ollama.RateLimitTPM)

	home := os.Getenv("HOME")
	assert.Equal(t, filepath.Join(home, ".cosmo", "mcp_config.json"), cfg.MCP.ConfigFile)
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  default: claude
  profiles:
    claude:
      backend: anthropic
      model: claude-3-5-sonnet-latest
      summarize_threshold: 0.8
agent:
  tool_timeout: 5s
  keep_recent_pairs: 3
`), 0o644))

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("server.log_level", "info", "")
	require.NoError(t, cmd.Flags().Set("config", path))
	require.NoError(t, cmd.Flags().Set("server.log_level", "debug"))

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Server.LogLevel)
	name, profile, err := cfg.Profile("")
	require.NoError(t, err)
	assert.Equal(t, "claude", name)
	assert.Equal(t, "anthropic", profile.Backend)
	assert.Equal(t, "sk-ant-test", profile.APIKey)
	assert.Equal(t, 200000, profile.ContextWindowSize)
	assert.Equal(t, 0.8, profile.SummarizeThreshold)
	assert.Equal(t, 3, cfg.Agent.KeepRecentPairs)

	timeout, err := cfg.Agent.ToolTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, timeout)
}

func TestLoadEnvOverride(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("COSMO_AGENT__MAX_ITERATIONS", "7")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
}

func TestProfileMissing(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	_, _, err := cfg.Profile("nope")
	assert.Error(t, err)
}

func TestDefaultContextWindow(t *testing.T) {
	assert.Equal(t, 128000, DefaultContextWindow("openai"))
	assert.Equal(t, 200000, DefaultContextWindow("anthropic"))
	assert.Equal(t, 1000000, DefaultContextWindow("gemini"))
	assert.Equal(t, 32000, DefaultContextWindow("ollama"))
	assert.Equal(t, 128000, DefaultContextWindow("deepseek"))
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("", "20s")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, d)

	_, err = DurationOrDefault("soon", "20s")
	assert.Error(t, err)

	hb, err := AgentConfig{HeartbeatInterval: "off"}.HeartbeatDuration()
	require.NoError(t, err)
	assert.Zero(t, hb)
}
