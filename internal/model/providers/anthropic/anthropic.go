package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harunnryd/cosmo/internal/config"
	"github.com/harunnryd/cosmo/internal/model/contract"
	"github.com/harunnryd/cosmo/internal/model/providers"
	"github.com/harunnryd/cosmo/internal/model/ratelimit"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultModel = "claude-3-5-sonnet-latest"

type Provider struct {
	client  anthropic.Client
	model   string
	runtime *providers.Runtime
}

func New(profile config.ModelProfile, opts ...ratelimit.Option) (*Provider, error) {
	runtime, err := providers.NewRuntime(profile, opts...)
	if err != nil {
		return nil, err
	}

	// Retries are owned by the rate-limit handler.
	clientOpts := []option.RequestOption{
		option.WithAPIKey(profile.APIKey),
		option.WithMaxRetries(0),
	}
	if profile.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(profile.Endpoint))
	}

	model := profile.Model
	if model == "" {
		model = defaultModel
	}

	return &Provider{
		client:  anthropic.NewClient(clientOpts...),
		model:   model,
		runtime: runtime,
	}, nil
}

func (p *Provider) Name() string {
	return "anthropic"
}

func (p *Provider) SendWithTools(ctx context.Context, messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions) (*contract.ChatResponse, error) {
	params := p.buildParams(messages, tools, opts)

	var msg *anthropic.Message
	err := p.runtime.Call(ctx, messages, opts, classify, func(ctx context.Context) error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	resp := &contract.ChatResponse{
		Usage: contract.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			input := []byte(b.Input)
			if len(input) == 0 {
				input = []byte("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, contract.ToolCall{
				ID:         b.ID,
				Name:       b.Name,
				Parameters: input,
			})
		}
	}

	return resp, nil
}

func (p *Provider) SendStream(ctx context.Context, messages []contract.Message, opts contract.SendOptions, onDelta func(string) error) (*contract.ChatResponse, error) {
	params := p.buildParams(messages, nil, opts)

	var full strings.Builder
	err := p.runtime.Call(ctx, messages, opts, classify, func(ctx context.Context) error {
		full.Reset()
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			full.WriteString(text.Text)
			if onDelta != nil {
				if err := onDelta(text.Text); err != nil {
					return err
				}
			}
		}
		return stream.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic stream failed: %w", err)
	}

	return &contract.ChatResponse{Content: full.String()}, nil
}

func (p *Provider) buildParams(messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions) anthropic.MessageNewParams {
	system, rest := providers.SplitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(p.runtime.MaxTokens(opts)),
		Messages:    convertMessages(rest),
		Temperature: anthropic.Float(p.runtime.Temperature(opts)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	for _, t := range tools {
		schema := t.Schema()
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   requiredFields(schema),
			},
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}

	return params
}

// convertMessages folds consecutive tool results into one user turn, which is
// how the Messages API expects parallel tool results.
func convertMessages(messages []contract.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case contract.RoleTool:
			isError := strings.HasPrefix(m.Content, contract.ErrorPrefix)
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isError))
		case contract.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(tc.ParamsJSON()), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text())))
		}
	}
	flush()

	return out
}

func requiredFields(schema map[string]any) []string {
	raw, ok := schema["required"].([]any)
	if !ok {
		if list, ok := schema["required"].([]string); ok {
			return list
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func classify(err error) (ratelimit.Info, bool) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && ratelimit.IsRateLimitStatus(apiErr.StatusCode) {
		var info ratelimit.Info
		if apiErr.Response != nil {
			info = ratelimit.ExtractInfo(apiErr.Response.Header, "anthropic", 0)
		}
		info.Provider = "anthropic"
		return info, true
	}
	return ratelimit.MessageClassifier("anthropic")(err)
}
