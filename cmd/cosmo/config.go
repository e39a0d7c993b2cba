package main

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/cosmo/internal/config"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//go:embed templates/config.yaml
var embeddedDefaultConfig []byte

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the Cosmo configuration file.`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Dump fully resolved configuration",
	Long:  `Display current configuration with all defaults applied and environment variables resolved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loadedCfg, err := loadConfigForCommand(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(redactConfigSecrets(loadedCfg)); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return enc.Close()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration",
	Long:  `Create a default configuration file at $HOME/.cosmo/config.yaml if it doesn't exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := config.DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}

		created, err := writeDefaultConfig(configPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !created {
			fmt.Fprintf(out, "Config already exists at %s\n", configPath)
			fmt.Fprintln(out, "Use 'cosmo config view' to see current configuration.")
			fmt.Fprintln(out, "To reinitialize, remove the existing config file first.")
			return nil
		}

		fmt.Fprintf(out, "Initialized config at %s\n", configPath)
		fmt.Fprintln(out, "\nNext steps:")
		fmt.Fprintln(out, "1. Set OPENAI_API_KEY, ANTHROPIC_API_KEY or GEMINI_API_KEY (recommended)")
		fmt.Fprintln(out, "2. Add tool servers to ~/.cosmo/mcp_config.json")
		fmt.Fprintln(out, "3. Run 'cosmo tools list' to check that they start")
		return nil
	},
}

// writeDefaultConfig reports false when a config already exists at path.
func writeDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	defaultConfig := strings.TrimSpace(string(embeddedDefaultConfig)) + "\n"
	if err := atomic.WriteFile(path, strings.NewReader(defaultConfig)); err != nil {
		return false, fmt.Errorf("failed to write config to %s: %w", path, err)
	}
	return true, nil
}

func redactConfigSecrets(in *config.Config) *config.Config {
	if in == nil {
		return nil
	}

	out := *in

	if len(in.Models.Profiles) > 0 {
		out.Models.Profiles = make(map[string]config.ModelProfile, len(in.Models.Profiles))
		for name, profile := range in.Models.Profiles {
			profile.APIKey = maskSecret(profile.APIKey)
			out.Models.Profiles[name] = profile
		}
	}

	if len(in.MCP.Servers) > 0 {
		out.MCP.Servers = make(map[string]config.MCPServerConfig, len(in.MCP.Servers))
		for name, srv := range in.MCP.Servers {
			out.MCP.Servers[name] = redactServerEnv(srv)
		}
	}

	return &out
}

// redactServerEnv masks env values whose names look like credentials.
func redactServerEnv(srv config.MCPServerConfig) config.MCPServerConfig {
	if len(srv.Env) == 0 {
		return srv
	}
	env := make(map[string]string, len(srv.Env))
	for key, value := range srv.Env {
		if isSecretKey(key) {
			value = maskSecret(value)
		}
		env[key] = value
	}
	srv.Env = env
	return srv
}

func isSecretKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range []string{"KEY", "TOKEN", "SECRET", "PASSWORD"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}

func init() {
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
