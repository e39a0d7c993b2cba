package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses a duration string and falls back to defaultValue when empty.
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	return d, nil
}

func (a AgentConfig) ToolTimeoutDuration() (time.Duration, error) {
	return DurationOrDefault(a.ToolTimeout, DefaultAgentToolTimeout)
}

// HeartbeatDuration returns 0 when heartbeats are switched off with "0" or "off".
func (a AgentConfig) HeartbeatDuration() (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(a.HeartbeatInterval)) {
	case "0", "off", "disabled":
		return 0, nil
	}
	return DurationOrDefault(a.HeartbeatInterval, DefaultAgentHeartbeat)
}

func (p ModelProfile) RequestTimeoutDuration() (time.Duration, error) {
	return DurationOrDefault(p.RequestTimeout, DefaultRequestTimeout)
}

func (m MCPConfig) ConnectTimeoutDuration() (time.Duration, error) {
	return DurationOrDefault(m.ConnectTimeout, DefaultMCPConnectTimeout)
}

func (s ServerConfig) ShutdownTimeoutDuration() (time.Duration, error) {
	return DurationOrDefault(s.ShutdownTimeout, DefaultServerShutdownTimeout)
}
