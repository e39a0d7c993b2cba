package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/cosmo/internal/config"
	"github.com/harunnryd/cosmo/internal/model/contract"
	"github.com/harunnryd/cosmo/internal/model/ratelimit"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile(endpoint string) config.ModelProfile {
	return config.ModelProfile{
		Backend:        "ollama",
		Model:          "qwen2.5",
		Endpoint:       endpoint,
		Temperature:    0.5,
		MaxTokens:      128,
		MaxRetries:     2,
		RequestTimeout: "5s",
	}
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestSendWithToolsParsesToolCalls(t *testing.T) {
	var captured map[string]any
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":"too many requests"}`)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"model":"qwen2.5","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"weather","arguments":{"city":"Oslo"}}}]},"done":true,"prompt_eval_count":15,"eval_count":4}`+"\n")
	}))
	defer server.Close()

	p, err := New(testProfile(server.URL), ratelimit.WithSleep(noSleep))
	require.NoError(t, err)

	resp, err := p.SendWithTools(context.Background(),
		[]contract.Message{contract.NewMessage(contract.RoleUser, "weather in Oslo?")},
		[]contract.ToolDefinition{{
			Name:       "weather",
			Parameters: map[string]any{"type": "object", "properties": map[string]any{"city": map[string]any{"type": "string"}}},
		}},
		contract.SendOptions{},
	)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, string(resp.ToolCalls[0].Parameters))
	assert.Equal(t, 15, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)

	require.NotNil(t, captured)
	assert.Equal(t, false, captured["stream"])
	options, ok := captured["options"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 128, options["num_predict"], 0)
}

func TestSendStreamEmitsDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true}`+"\n")
	}))
	defer server.Close()

	p, err := New(testProfile(server.URL), ratelimit.WithSleep(noSleep))
	require.NoError(t, err)

	var deltas []string
	resp, err := p.SendStream(context.Background(),
		[]contract.Message{contract.NewMessage(contract.RoleUser, "hi")},
		contract.SendOptions{},
		func(d string) error {
			deltas = append(deltas, d)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", resp.Content)
}

func TestBuildRequestCarriesToolHistory(t *testing.T) {
	p, err := New(testProfile("http://localhost:11434"))
	require.NoError(t, err)

	assistant := contract.NewMessage(contract.RoleAssistant, "")
	assistant.ToolCalls = []contract.ToolCall{{ID: "call_1", Name: "weather", Parameters: []byte(`{"city":"Oslo"}`)}}

	req, err := p.buildRequest([]contract.Message{
		contract.NewMessage(contract.RoleUser, "weather?"),
		assistant,
		contract.NewToolResultMessage("call_1", "sunny", false),
	}, nil, contract.SendOptions{}, false)
	require.NoError(t, err)

	require.Len(t, req.Messages, 3)
	require.Len(t, req.Messages[1].ToolCalls, 1)
	assert.Equal(t, "Oslo", req.Messages[1].ToolCalls[0].Function.Arguments["city"])
	assert.Equal(t, "tool", req.Messages[2].Role)
	assert.Equal(t, "weather", req.Messages[2].ToolName)
}

func TestClassify(t *testing.T) {
	_, limited := classify(api.StatusError{StatusCode: http.StatusTooManyRequests, ErrorMessage: "busy"})
	assert.True(t, limited)

	_, limited = classify(api.StatusError{StatusCode: http.StatusNotFound, ErrorMessage: "model not found"})
	assert.False(t, limited)
}
