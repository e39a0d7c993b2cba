package gemini

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

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

type Provider struct {
	client  *genai.Client
	model   string
	runtime *providers.Runtime
}

func New(ctx context.Context, profile config.ModelProfile, opts ...ratelimit.Option) (*Provider, error) {
	runtime, err := providers.NewRuntime(profile, opts...)
	if err != nil {
		return nil, err
	}

	clientCfg := &genai.ClientConfig{APIKey: profile.APIKey, Backend: genai.BackendGeminiAPI}
	if profile.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimSuffix(profile.Endpoint, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := profile.Model
	if model == "" {
		model = defaultModel
	}

	return &Provider{client: client, model: model, runtime: runtime}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) SendWithTools(ctx context.Context, messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions) (*contract.ChatResponse, error) {
	contents, cfg := p.buildRequest(messages, tools, opts)

	var resp *genai.GenerateContentResponse
	err := p.runtime.Call(ctx, messages, opts, classify, func(ctx context.Context) error {
		var callErr error
		resp, callErr = p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	out := &contract.ChatResponse{}
	if resp == nil {
		return out, nil
	}
	if resp.UsageMetadata != nil {
		out.Usage = contract.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	for _, fc := range resp.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil || fc.Args == nil {
			args = []byte("{}")
		}
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%s", len(out.ToolCalls)+1, fc.Name)
		}
		out.ToolCalls = append(out.ToolCalls, contract.ToolCall{ID: id, Name: fc.Name, Parameters: args})
	}
	out.Content = candidateText(resp)

	return out, nil
}

func (p *Provider) SendStream(ctx context.Context, messages []contract.Message, opts contract.SendOptions, onDelta func(string) error) (*contract.ChatResponse, error) {
	contents, cfg := p.buildRequest(messages, nil, opts)

	var full strings.Builder
	err := p.runtime.Call(ctx, messages, opts, classify, func(ctx context.Context) error {
		full.Reset()
		for chunk, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
			if err != nil {
				return err
			}
			text := candidateText(chunk)
			if text == "" {
				continue
			}
			full.WriteString(text)
			if onDelta != nil {
				if err := onDelta(text); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini stream failed: %w", err)
	}

	return &contract.ChatResponse{Content: full.String()}, nil
}

func (p *Provider) buildRequest(messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := providers.SplitSystem(messages)
	names := providers.ToolNames(messages)

	var contents []*genai.Content
	for _, m := range rest {
		switch m.Role {
		case contract.RoleTool:
			key := "output"
			if strings.HasPrefix(m.Content, contract.ErrorPrefix) {
				key = "error"
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     names[m.ToolCallID],
					Response: map[string]any{key: m.Content},
				},
			}}})
		case contract.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: tc.Arguments(),
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Text()}}})
		}
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.runtime.Temperature(opts))),
		MaxOutputTokens: int32(p.runtime.MaxTokens(opts)),
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Schema(),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, cfg
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func classify(err error) (ratelimit.Info, bool) {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) && apiErr != nil && (ratelimit.IsRateLimitStatus(apiErr.Code) || apiErr.Status == "RESOURCE_EXHAUSTED") {
		return ratelimit.Info{Provider: "gemini", Message: apiErr.Message}, true
	}
	return ratelimit.MessageClassifier("gemini")(err)
}
