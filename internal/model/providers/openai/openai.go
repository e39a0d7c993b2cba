package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harunnryd/cosmo/internal/config"
	"github.com/harunnryd/cosmo/internal/model/contract"
	"github.com/harunnryd/cosmo/internal/model/providers"
	"github.com/harunnryd/cosmo/internal/model/ratelimit"

	"github.com/sashabaranov/go-openai"
)

// Provider talks to OpenAI and any OpenAI-compatible endpoint.
type Provider struct {
	client  *openai.Client
	model   string
	runtime *providers.Runtime
}

func New(profile config.ModelProfile, opts ...ratelimit.Option) (*Provider, error) {
	runtime, err := providers.NewRuntime(profile, opts...)
	if err != nil {
		return nil, err
	}

	cfg := openai.DefaultConfig(profile.APIKey)
	if profile.Endpoint != "" {
		cfg.BaseURL = strings.TrimSuffix(profile.Endpoint, "/")
	}

	return &Provider{
		client:  openai.NewClientWithConfig(cfg),
		model:   profile.Model,
		runtime: runtime,
	}, nil
}

func (p *Provider) Name() string {
	return "openai"
}

func (p *Provider) SendWithTools(ctx context.Context, messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions) (*contract.ChatResponse, error) {
	req := p.buildRequest(messages, tools, opts)

	var resp openai.ChatCompletionResponse
	err := p.runtime.Call(ctx, messages, opts, classify, func(ctx context.Context) error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := resp.Choices[0]
	result := &contract.ChatResponse{
		Content: choice.Message.Content,
		Usage: contract.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", len(result.ToolCalls)+1)
		}
		result.ToolCalls = append(result.ToolCalls, contract.ToolCall{
			ID:         id,
			Name:       tc.Function.Name,
			Parameters: rawArguments(tc.Function.Arguments),
		})
	}

	return result, nil
}

func (p *Provider) SendStream(ctx context.Context, messages []contract.Message, opts contract.SendOptions, onDelta func(string) error) (*contract.ChatResponse, error) {
	req := p.buildRequest(messages, nil, opts)
	req.Stream = true

	var full strings.Builder
	err := p.runtime.Call(ctx, messages, opts, classify, func(ctx context.Context) error {
		full.Reset()
		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return err
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			full.WriteString(delta)
			if onDelta != nil {
				if err := onDelta(delta); err != nil {
					return err
				}
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("openai stream failed: %w", err)
	}

	return &contract.ChatResponse{Content: full.String()}, nil
}

func (p *Provider) buildRequest(messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions) openai.ChatCompletionRequest {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Text(),
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.ParamsJSON(),
				},
			})
		}
		chatMessages = append(chatMessages, msg)
	}

	var chatTools []openai.Tool
	for _, t := range tools {
		chatTools = append(chatTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema(),
			},
		})
	}

	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    chatMessages,
		Tools:       chatTools,
		Temperature: float32(p.runtime.Temperature(opts)),
		MaxTokens:   p.runtime.MaxTokens(opts),
	}
}

func rawArguments(args string) []byte {
	if strings.TrimSpace(args) == "" {
		return []byte("{}")
	}
	return []byte(args)
}

func classify(err error) (ratelimit.Info, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && ratelimit.IsRateLimitStatus(apiErr.HTTPStatusCode) {
		return ratelimit.Info{Provider: "openai", Message: apiErr.Message}, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && ratelimit.IsRateLimitStatus(reqErr.HTTPStatusCode) {
		return ratelimit.Info{Provider: "openai"}, true
	}
	return ratelimit.MessageClassifier("openai")(err)
}
