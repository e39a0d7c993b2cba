package model

import (
	"context"

	"github.com/harunnryd/cosmo/internal/model/contract"
)

// Client is a single configured model backend.
type Client interface {
	Name() string
	SendWithTools(ctx context.Context, messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions) (*contract.ChatResponse, error)
	SendStream(ctx context.Context, messages []contract.Message, opts contract.SendOptions, onDelta func(string) error) (*contract.ChatResponse, error)
}
