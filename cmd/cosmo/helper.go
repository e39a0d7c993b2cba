package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/cosmo/cmd/cosmo/runtime"

	"github.com/harunnryd/cosmo/internal/config"

	"github.com/spf13/cobra"
)

func executeWithRuntime(cmd *cobra.Command, configure func(runtime.RuntimeBuilder) runtime.RuntimeBuilder, fn func(*runtime.RuntimeComponents) error) error {
	loadedCfg, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	signals := NewSignalHandler(context.Background())
	signals.Start()
	defer signals.Stop()

	builder := runtime.NewRuntimeBuilder().
		WithContext(signals.Context()).
		WithConfig(loadedCfg)
	if configure != nil {
		builder = configure(builder)
	}

	components, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer components.Stop()

	return fn(components)
}

func loadConfigForCommand(cmd *cobra.Command) (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}

	return config.Load(cmd)
}
