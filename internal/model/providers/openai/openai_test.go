package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/cosmo/internal/config"
	cosmoErrors "github.com/harunnryd/cosmo/internal/errors"
	"github.com/harunnryd/cosmo/internal/model/contract"
	"github.com/harunnryd/cosmo/internal/model/ratelimit"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const toolCallCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "",
      "tool_calls": [{
        "id": "call_a",
        "type": "function",
        "function": {"name": "weather", "arguments": "{\"city\":\"Oslo\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
}`

const rateLimitBody = `{"error": {"message": "Rate limit reached for gpt-4o-mini", "type": "requests", "code": "rate_limit_exceeded"}}`

func testProfile(endpoint string) config.ModelProfile {
	return config.ModelProfile{
		Backend:          "openai",
		APIKey:           "sk-test",
		Model:            "gpt-4o-mini",
		Endpoint:         endpoint,
		Temperature:      0.7,
		MaxTokens:        256,
		MaxRetries:       2,
		RetryBackoffBase: 2,
		RequestTimeout:   "5s",
	}
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestSendWithToolsRetriesRateLimitAndParsesToolCalls(t *testing.T) {
	var calls int32
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, rateLimitBody)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = io.WriteString(w, toolCallCompletion)
	}))
	defer server.Close()

	p, err := New(testProfile(server.URL+"/v1"), ratelimit.WithSleep(noSleep))
	require.NoError(t, err)

	resp, err := p.SendWithTools(context.Background(),
		[]contract.Message{
			contract.NewMessage(contract.RoleSystem, "be brief"),
			contract.NewMessage(contract.RoleUser, "weather in Oslo?"),
		},
		[]contract.ToolDefinition{{
			Name:        "weather",
			Description: "Current weather",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"city": map[string]any{"type": "string"}}},
		}},
		contract.SendOptions{},
	)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_a", resp.ToolCalls[0].ID)
	assert.Equal(t, "weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, string(resp.ToolCalls[0].Parameters))
	assert.Equal(t, 12, resp.Usage.InputTokens)

	require.NotNil(t, captured)
	assert.Equal(t, "gpt-4o-mini", captured["model"])
	tools, ok := captured["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
}

func TestSendWithToolsGivesUpAfterRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, rateLimitBody)
	}))
	defer server.Close()

	p, err := New(testProfile(server.URL+"/v1"), ratelimit.WithSleep(noSleep))
	require.NoError(t, err)

	_, err = p.SendWithTools(context.Background(), []contract.Message{contract.NewMessage(contract.RoleUser, "hi")}, nil, contract.SendOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cosmoErrors.ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendWithToolsSendsToolHistory(t *testing.T) {
	var captured struct {
		Messages []struct {
			Role       string `json:"role"`
			Content    string `json:"content"`
			ToolCallID string `json:"tool_call_id"`
			ToolCalls  []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"It is sunny."}}]}`)
	}))
	defer server.Close()

	p, err := New(testProfile(server.URL), ratelimit.WithSleep(noSleep))
	require.NoError(t, err)

	assistant := contract.NewMessage(contract.RoleAssistant, "")
	assistant.ToolCalls = []contract.ToolCall{{ID: "call_a", Name: "weather"}}

	resp, err := p.SendWithTools(context.Background(), []contract.Message{
		contract.NewMessage(contract.RoleUser, "weather?"),
		assistant,
		contract.NewToolResultMessage("call_a", "sunny", false),
	}, nil, contract.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.", resp.Content)
	assert.Empty(t, resp.ToolCalls)

	require.Len(t, captured.Messages, 3)
	assert.Equal(t, "{}", captured.Messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool", captured.Messages[2].Role)
	assert.Equal(t, "call_a", captured.Messages[2].ToolCallID)
}

func TestClassify(t *testing.T) {
	_, limited := classify(&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"})
	assert.True(t, limited)

	_, limited = classify(&openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad request"})
	assert.False(t, limited)

	_, limited = classify(errors.New("insufficient_quota: quota_exceeded"))
	assert.True(t, limited)
}
