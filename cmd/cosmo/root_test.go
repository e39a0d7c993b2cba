package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, exitInterrupted, exitCode(context.Canceled))
	assert.Equal(t, exitInterrupted, exitCode(fmt.Errorf("agent loop cancelled: %w", context.Canceled)))
}

func TestRootCommandWiring(t *testing.T) {
	assert.Equal(t, version, rootCmd.Version)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("server.log_level"))

	names := make(map[string]bool)
	for _, sub := range rootCmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"ask", "chat", "tools", "config", "version"} {
		assert.True(t, names[want], want)
	}
}
