package model

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/cosmo/internal/config"
	cosmoErrors "github.com/harunnryd/cosmo/internal/errors"
	"github.com/harunnryd/cosmo/internal/logger"
	"github.com/harunnryd/cosmo/internal/model/contract"
	anthropicProvider "github.com/harunnryd/cosmo/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/cosmo/internal/model/providers/gemini"
	ollamaProvider "github.com/harunnryd/cosmo/internal/model/providers/ollama"
	openaiProvider "github.com/harunnryd/cosmo/internal/model/providers/openai"
	"github.com/harunnryd/cosmo/internal/model/ratelimit"
)

const zaiBaseURL = "https://api.z.ai/api/coding/paas/v4/"

// NewClient builds the backend named by profile.Backend and wraps it with
// request logging.
func NewClient(ctx context.Context, name string, profile config.ModelProfile, opts ...ratelimit.Option) (Client, error) {
	backend, err := newBackend(ctx, profile, opts...)
	if err != nil {
		return nil, err
	}

	slog.Info("Model client initialized", "profile", name, "backend", profile.Backend, "model", profile.Model)
	return &loggingClient{next: backend, profile: name}, nil
}

func newBackend(ctx context.Context, profile config.ModelProfile, opts ...ratelimit.Option) (Client, error) {
	switch strings.ToLower(profile.Backend) {
	case "openai":
		if profile.APIKey == "" && profile.Endpoint == "" {
			return nil, cosmoErrors.InvalidInput("API key required for OpenAI backend")
		}
		return openaiProvider.New(profile, opts...)

	case "zai":
		// Z.ai speaks the OpenAI wire format.
		if profile.APIKey == "" {
			return nil, cosmoErrors.InvalidInput("API key required for Zai backend")
		}
		if profile.Endpoint == "" {
			profile.Endpoint = zaiBaseURL
		}
		profile.Backend = "openai"
		return openaiProvider.New(profile, opts...)

	case "anthropic":
		if profile.APIKey == "" {
			return nil, cosmoErrors.InvalidInput("API key required for Anthropic backend")
		}
		return anthropicProvider.New(profile, opts...)

	case "gemini":
		if profile.APIKey == "" {
			return nil, cosmoErrors.InvalidInput("API key required for Gemini backend")
		}
		provider, err := geminiProvider.New(ctx, profile, opts...)
		if err != nil {
			return nil, cosmoErrors.WrapWithCategory(err, "failed to create Gemini backend", cosmoErrors.ErrInternal)
		}
		return provider, nil

	case "ollama":
		return ollamaProvider.New(profile, opts...)

	default:
		return nil, cosmoErrors.InvalidInput(fmt.Sprintf("unknown model backend: %q", profile.Backend))
	}
}

type loggingClient struct {
	next    Client
	profile string
}

func (c *loggingClient) Name() string {
	return c.next.Name()
}

func (c *loggingClient) SendWithTools(ctx context.Context, messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions) (*contract.ChatResponse, error) {
	log := logger.FromContext(ctx).With("profile", c.profile)
	start := time.Now()

	log.Debug("Sending model request", "messages", len(messages), "tools", len(tools))

	resp, err := c.next.SendWithTools(ctx, messages, tools, opts)
	if err != nil {
		log.Error("Model request failed", "error", err)
		return nil, cosmoErrors.NewDefaultErrorMapper().MapError(err)
	}

	log.Info("Model request completed",
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", time.Since(start))

	return resp, nil
}

func (c *loggingClient) SendStream(ctx context.Context, messages []contract.Message, opts contract.SendOptions, onDelta func(string) error) (*contract.ChatResponse, error) {
	log := logger.FromContext(ctx).With("profile", c.profile)
	start := time.Now()

	resp, err := c.next.SendStream(ctx, messages, opts, onDelta)
	if err != nil {
		log.Error("Model stream failed", "error", err)
		return nil, cosmoErrors.NewDefaultErrorMapper().MapError(err)
	}

	log.Info("Model stream completed", "duration", time.Since(start))
	return resp, nil
}
