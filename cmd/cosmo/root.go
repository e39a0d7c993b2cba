package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/harunnryd/cosmo/internal/config"
	"github.com/harunnryd/cosmo/internal/logger"

	"github.com/spf13/cobra"
)

// exitInterrupted follows the shell convention for SIGINT.
const exitInterrupted = 130

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "cosmo",
	Short:         "Run a model in a tool-calling loop",
	Long:          `cosmo drives a language model through repeated turns, executing the tool calls it asks for on MCP servers until it produces a final answer.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	code := exitCode(err)
	if code != exitInterrupted {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(code)
}

func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return 1
}

func init() {
	rootCmd.SetVersionTemplate("cosmo {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.cosmo/config.yaml)")
	flags.String("server.log_level", config.DefaultServerLogLevel, "log level: debug, info, warn or error")
}
