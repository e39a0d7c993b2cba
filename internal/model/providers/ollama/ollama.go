package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/harunnryd/cosmo/internal/config"
	"github.com/harunnryd/cosmo/internal/model/contract"
	"github.com/harunnryd/cosmo/internal/model/providers"
	"github.com/harunnryd/cosmo/internal/model/ratelimit"

	"github.com/ollama/ollama/api"
)

const defaultModel = "llama3.1:latest"

type Provider struct {
	client  *api.Client
	model   string
	runtime *providers.Runtime
}

func New(profile config.ModelProfile, opts ...ratelimit.Option) (*Provider, error) {
	runtime, err := providers.NewRuntime(profile, opts...)
	if err != nil {
		return nil, err
	}

	endpoint := profile.Endpoint
	if endpoint == "" {
		endpoint = config.DefaultOllamaEndpoint
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama endpoint: %w", err)
	}

	model := profile.Model
	if model == "" {
		model = defaultModel
	}

	return &Provider{
		client:  api.NewClient(base, http.DefaultClient),
		model:   model,
		runtime: runtime,
	}, nil
}

func (p *Provider) Name() string {
	return "ollama"
}

func (p *Provider) SendWithTools(ctx context.Context, messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions) (*contract.ChatResponse, error) {
	req, err := p.buildRequest(messages, tools, opts, false)
	if err != nil {
		return nil, err
	}

	var final api.ChatResponse
	var content strings.Builder
	var calls []api.ToolCall
	err = p.runtime.Call(ctx, messages, opts, classify, func(ctx context.Context) error {
		content.Reset()
		calls = nil
		return p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			content.WriteString(resp.Message.Content)
			calls = append(calls, resp.Message.ToolCalls...)
			if resp.Done {
				final = resp
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}

	out := &contract.ChatResponse{
		Content: content.String(),
		Usage: contract.Usage{
			InputTokens:  final.PromptEvalCount,
			OutputTokens: final.EvalCount,
		},
	}
	for i, call := range calls {
		args, err := json.Marshal(call.Function.Arguments)
		if err != nil || call.Function.Arguments == nil {
			args = []byte("{}")
		}
		out.ToolCalls = append(out.ToolCalls, contract.ToolCall{
			ID:         fmt.Sprintf("call_%d", i+1),
			Name:       call.Function.Name,
			Parameters: args,
		})
	}

	return out, nil
}

func (p *Provider) SendStream(ctx context.Context, messages []contract.Message, opts contract.SendOptions, onDelta func(string) error) (*contract.ChatResponse, error) {
	req, err := p.buildRequest(messages, nil, opts, true)
	if err != nil {
		return nil, err
	}

	var full strings.Builder
	err = p.runtime.Call(ctx, messages, opts, classify, func(ctx context.Context) error {
		full.Reset()
		return p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			full.WriteString(resp.Message.Content)
			if onDelta != nil {
				return onDelta(resp.Message.Content)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ollama stream failed: %w", err)
	}

	return &contract.ChatResponse{Content: full.String()}, nil
}

func (p *Provider) buildRequest(messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions, stream bool) (*api.ChatRequest, error) {
	names := providers.ToolNames(messages)

	chat := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msg := api.Message{Role: string(m.Role), Content: m.Text()}
		if m.Role == contract.RoleTool {
			msg.ToolName = names[m.ToolCallID]
		}
		for _, tc := range m.ToolCalls {
			call := api.ToolCall{}
			call.Function.Name = tc.Name
			call.Function.Arguments = api.ToolCallFunctionArguments(tc.Arguments())
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		chat = append(chat, msg)
	}

	var apiTools []api.Tool
	for _, t := range tools {
		tool := api.Tool{Type: "function"}
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		// The schema is decoded through JSON so PropertyType handles both
		// the string and array forms of "type".
		raw, err := json.Marshal(t.Schema())
		if err != nil {
			return nil, fmt.Errorf("encode schema for %s: %w", t.Name, err)
		}
		if err := json.Unmarshal(raw, &tool.Function.Parameters); err != nil {
			return nil, fmt.Errorf("decode schema for %s: %w", t.Name, err)
		}
		apiTools = append(apiTools, tool)
	}

	return &api.ChatRequest{
		Model:    p.model,
		Messages: chat,
		Tools:    apiTools,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": p.runtime.Temperature(opts),
			"num_predict": p.runtime.MaxTokens(opts),
		},
	}, nil
}

func classify(err error) (ratelimit.Info, bool) {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) && ratelimit.IsRateLimitStatus(statusErr.StatusCode) {
		return ratelimit.Info{Provider: "ollama", Message: statusErr.ErrorMessage}, true
	}
	return ratelimit.MessageClassifier("ollama")(err)
}
