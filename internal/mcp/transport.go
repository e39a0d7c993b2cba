package mcp

import (
	"context"

	"github.com/harunnryd/cosmo/internal/config"
	"github.com/harunnryd/cosmo/internal/model/contract"
)

// Transport owns the connection to one tool server.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	DiscoverTools(ctx context.Context) ([]contract.ToolDefinition, error)
	CallTool(ctx context.Context, call contract.ToolCall) (contract.ToolResult, error)
}

// TransportFactory builds the transport for a configured server.
type TransportFactory func(name string, cfg config.MCPServerConfig) Transport

// StdioFactory spawns every server as a child process speaking NDJSON on stdio.
func StdioFactory(name string, cfg config.MCPServerConfig) Transport {
	return NewStdioClient(name, cfg)
}
