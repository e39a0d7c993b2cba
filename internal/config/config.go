package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/cosmo/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server ServerConfig `koanf:"server" yaml:"server"`
	Models ModelsConfig `koanf:"models" yaml:"models"`
	Agent  AgentConfig  `koanf:"agent" yaml:"agent"`
	MCP    MCPConfig    `koanf:"mcp" yaml:"mcp"`
}

type ServerConfig struct {
	LogLevel        string `koanf:"log_level" yaml:"log_level"`
	ShutdownTimeout string `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type ModelsConfig struct {
	Default  string                  `koanf:"default" yaml:"default"`
	Profiles map[string]ModelProfile `koanf:"profiles" yaml:"profiles"`
}

// ModelProfile describes one model backend. Zero values are filled with
// backend-specific defaults by ApplyDefaults.
type ModelProfile struct {
	Backend            string  `koanf:"backend" yaml:"backend"`
	APIKey             string  `koanf:"api_key" yaml:"api_key,omitempty"`
	Model              string  `koanf:"model" yaml:"model"`
	Endpoint           string  `koanf:"endpoint" yaml:"endpoint,omitempty"`
	Temperature        float64 `koanf:"temperature" yaml:"temperature"`
	MaxTokens          int     `koanf:"max_tokens" yaml:"max_tokens"`
	ContextWindowSize  int     `koanf:"context_window_size" yaml:"context_window_size"`
	SummarizeThreshold float64 `koanf:"summarize_threshold" yaml:"summarize_threshold"`
	RateLimitTPM       int     `koanf:"rate_limit_tpm" yaml:"rate_limit_tpm"`
	MaxRetries         int     `koanf:"max_retries" yaml:"max_retries"`
	RetryBackoffBase   float64 `koanf:"retry_backoff_base" yaml:"retry_backoff_base"`
	RequestTimeout     string  `koanf:"request_timeout" yaml:"request_timeout"`
}

type AgentConfig struct {
	MaxToolAttempts   int    `koanf:"max_tool_attempts" yaml:"max_tool_attempts"`
	ToolTimeout       string `koanf:"tool_timeout" yaml:"tool_timeout"`
	HeartbeatInterval string `koanf:"heartbeat_interval" yaml:"heartbeat_interval"`
	MaxIterations     int    `koanf:"max_iterations" yaml:"max_iterations"`
	KeepRecentPairs   int    `koanf:"keep_recent_pairs" yaml:"keep_recent_pairs"`
	ToolLogFile       string `koanf:"tool_log_file" yaml:"tool_log_file"`
	SystemPromptFile  string `koanf:"system_prompt_file" yaml:"system_prompt_file"`
	SystemPrompt      string `koanf:"system_prompt" yaml:"system_prompt"`
}

type MCPConfig struct {
	ConfigFile     string                     `koanf:"config_file" yaml:"config_file"`
	ConnectTimeout string                     `koanf:"connect_timeout" yaml:"connect_timeout"`
	ToolStateFile  string                     `koanf:"tool_state_file" yaml:"tool_state_file"`
	Servers        map[string]MCPServerConfig `koanf:"servers" yaml:"servers,omitempty"`
}

// MCPServerConfig is how a tool server process is launched.
type MCPServerConfig struct {
	Command string            `koanf:"command" json:"command" yaml:"command"`
	Args    []string          `koanf:"args" json:"args" yaml:"args,omitempty"`
	Env     map[string]string `koanf:"env" json:"env" yaml:"env,omitempty"`
}

const (
	DefaultServerLogLevel        = "info"
	DefaultServerShutdownTimeout = "5s"
	DefaultModelProfile          = "openai"
	DefaultBackend               = "openai"
	DefaultOpenAIModel           = "gpt-4o-mini"
	DefaultOpenAIEndpoint        = "https://api.openai.com/v1"
	DefaultOllamaModel           = "llama3.1:latest"
	DefaultOllamaEndpoint        = "http://localhost:11434"
	DefaultTemperature           = 0.7
	DefaultMaxTokens             = 1000
	DefaultSummarizeThreshold    = 0.7
	DefaultMaxRetries            = 3
	DefaultRetryBackoffBase      = 2.0
	DefaultRequestTimeout        = "120s"
	DefaultAgentMaxToolAttempts  = 3
	DefaultAgentToolTimeout      = "20s"
	DefaultAgentHeartbeat        = "5s"
	DefaultAgentMaxIterations    = 50
	DefaultAgentKeepRecentPairs  = 5
	DefaultMCPConfigFile         = "~/.cosmo/mcp_config.json"
	DefaultMCPConnectTimeout     = "30s"
	DefaultMCPToolStateFile      = "~/.cosmo/tool_states.json"
	DefaultSystemPromptFile      = "~/.cosmo/system_prompt.md"
	EnvPrefix                    = "COSMO_"
)

// DefaultContextWindow returns the context window assumed for a backend
// when the profile does not set one.
func DefaultContextWindow(backend string) int {
	switch strings.ToLower(backend) {
	case "openai":
		return 128000
	case "anthropic":
		return 200000
	case "gemini":
		return 1000000
	case "ollama":
		return 32000
	default:
		return 128000
	}
}

// DefaultRateLimitTPM returns the tokens-per-minute budget for a backend.
// Zero means unlimited.
func DefaultRateLimitTPM(backend string) int {
	switch strings.ToLower(backend) {
	case "openai":
		return 500000
	case "anthropic", "gemini":
		return 100000
	case "ollama":
		return 0
	default:
		return 100000
	}
}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.log_level":        DefaultServerLogLevel,
		"server.shutdown_timeout": DefaultServerShutdownTimeout,
		"models.default":          DefaultModelProfile,
		"models.profiles": map[string]interface{}{
			"openai": map[string]interface{}{
				"backend":  "openai",
				"model":    DefaultOpenAIModel,
				"endpoint": DefaultOpenAIEndpoint,
			},
			"ollama": map[string]interface{}{
				"backend":  "ollama",
				"model":    DefaultOllamaModel,
				"endpoint": DefaultOllamaEndpoint,
			},
		},
		"agent.max_tool_attempts":  DefaultAgentMaxToolAttempts,
		"agent.tool_timeout":       DefaultAgentToolTimeout,
		"agent.heartbeat_interval": DefaultAgentHeartbeat,
		"agent.max_iterations":     DefaultAgentMaxIterations,
		"agent.keep_recent_pairs":  DefaultAgentKeepRecentPairs,
		"agent.system_prompt_file": DefaultSystemPromptFile,
		"mcp.config_file":          DefaultMCPConfigFile,
		"mcp.connect_timeout":      DefaultMCPConnectTimeout,
		"mcp.tool_state_file":      DefaultMCPToolStateFile,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
	} else {
		globalPath, err := DefaultConfigPath()
		if err == nil {
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	// CLI Flags
	if cmd != nil {
		if err := k.Load(posflag.Provider(cmd.Flags(), ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}

// DefaultConfigPath is ~/.cosmo/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cosmo", "config.yaml"), nil
}

// ApplyDefaults fills unset profile fields and injects standard API key env vars.
func (c *Config) ApplyDefaults() {
	if c.Models.Profiles == nil {
		c.Models.Profiles = make(map[string]ModelProfile)
	}
	for name, p := range c.Models.Profiles {
		c.Models.Profiles[name] = p.withDefaults()
	}
	if c.Agent.MaxToolAttempts <= 0 {
		c.Agent.MaxToolAttempts = DefaultAgentMaxToolAttempts
	}
	if c.Agent.KeepRecentPairs <= 0 {
		c.Agent.KeepRecentPairs = DefaultAgentKeepRecentPairs
	}
}

func (p ModelProfile) withDefaults() ModelProfile {
	p.Backend = strings.ToLower(strings.TrimSpace(p.Backend))
	if p.Backend == "" {
		p.Backend = DefaultBackend
	}
	if p.Temperature == 0 {
		p.Temperature = DefaultTemperature
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.ContextWindowSize <= 0 {
		p.ContextWindowSize = DefaultContextWindow(p.Backend)
	}
	if p.SummarizeThreshold <= 0 {
		p.SummarizeThreshold = DefaultSummarizeThreshold
	}
	if p.RateLimitTPM == 0 {
		p.RateLimitTPM = DefaultRateLimitTPM(p.Backend)
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.RetryBackoffBase <= 0 {
		p.RetryBackoffBase = DefaultRetryBackoffBase
	}
	if p.RequestTimeout == "" {
		p.RequestTimeout = DefaultRequestTimeout
	}
	if p.APIKey == "" {
		p.APIKey = apiKeyFromEnv(p.Backend)
	}
	p.APIKey = pathutil.ExpandEnvRefs(p.APIKey)
	return p
}

func apiKeyFromEnv(backend string) string {
	switch backend {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	case "zai":
		return os.Getenv("ZAI_API_KEY")
	default:
		return ""
	}
}

// Profile returns the named profile, or the default profile when name is empty.
func (c *Config) Profile(name string) (string, ModelProfile, error) {
	if strings.TrimSpace(name) == "" {
		name = c.Models.Default
	}
	p, ok := c.Models.Profiles[name]
	if !ok {
		return "", ModelProfile{}, fmt.Errorf("model profile %q is not configured", name)
	}
	return name, p, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	for _, field := range []*string{
		&cfg.MCP.ConfigFile,
		&cfg.MCP.ToolStateFile,
		&cfg.Agent.ToolLogFile,
		&cfg.Agent.SystemPromptFile,
	} {
		expanded, err := expandConfiguredPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
