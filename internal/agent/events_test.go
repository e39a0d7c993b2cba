package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/cosmo/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(ToolError("turn-1", "call_1", "search", "boom", 2, true))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "tool_error", decoded["type"])
	assert.Equal(t, "turn-1", decoded["turn_id"])
	assert.Equal(t, "call_1", decoded["tool_call_id"])
	assert.Equal(t, "search", decoded["name"])
	assert.Equal(t, true, decoded["retryable"])
	assert.NotContains(t, decoded, "old_count")

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, TypeToolError, back.Type)
	assert.Equal(t, 2, back.Attempt)
}

func TestEventTerminal(t *testing.T) {
	assert.True(t, EndConversation("done").Terminal())
	assert.True(t, ModelError("t", "bad").Terminal())
	assert.False(t, EndTurn("t").Terminal())
	assert.Equal(t, int64(1500), Heartbeat("t", time.UnixMilli(1500)).TimestampMs)
}

func TestChannelSinkDropsHeartbeatsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(BeginTurn("", "t", 1))
	sink.Emit(Heartbeat("t", time.Now()))

	got := <-sink.Events()
	assert.Equal(t, TypeBeginTurn, got.Type)

	sink.Emit(Heartbeat("t", time.Now()))
	got = <-sink.Events()
	assert.Equal(t, TypeHeartbeat, got.Type)

	sink.Close()
	sink.Emit(EndTurn("t"))
	_, open := <-sink.Events()
	assert.False(t, open)
}

func TestChannelSinkCloseReleasesBlockedEmit(t *testing.T) {
	sink := NewChannelSink(0)

	emitted := make(chan struct{})
	go func() {
		sink.Emit(EndTurn("t"))
		close(emitted)
	}()

	closed := make(chan struct{})
	go func() {
		sink.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a pending emit")
	}
	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("emit still blocked after Close")
	}
	sink.Close()
}

func TestBufferedDeliversEverythingInOrder(t *testing.T) {
	var got []EventType
	sink, stop := Buffered(FuncSink(func(e Event) { got = append(got, e.Type) }), 1)

	sink.Emit(BeginTurn("c", "t", 1))
	sink.Emit(AssistantComplete("t", "hi"))
	sink.Emit(EndTurn("t"))
	sink.Emit(EndConversation("hi"))
	stop()

	assert.Equal(t, []EventType{TypeBeginTurn, TypeAssistantComplete, TypeEndTurn, TypeEndConversation}, got)
}

func TestMultiAndFuncSink(t *testing.T) {
	var a, b []EventType
	sink := MultiSink{
		FuncSink(func(e Event) { a = append(a, e.Type) }),
		nil,
		FuncSink(func(e Event) { b = append(b, e.Type) }),
		NopSink{},
	}
	sink.Emit(EndTurn("t"))

	assert.Equal(t, []EventType{TypeEndTurn}, a)
	assert.Equal(t, []EventType{TypeEndTurn}, b)
}

func TestTurnRecorder(t *testing.T) {
	recorder := NewTurnRecorder()
	for _, e := range []Event{
		BeginTurn("conv", "t1", 1),
		AssistantComplete("t1", "Let me check."),
		ToolPlanned("t1", []PlannedTool{{Name: "search"}, {Name: "fetch"}}),
		ToolStarted("t1", "a", "search", `{}`),
		ToolError("t1", "a", "search", "pipe closed", 1, true),
		ToolResult("t1", "a", "search", "found", false),
		ToolStarted("t1", "b", "fetch", `{}`),
		ToolError("t1", "b", "fetch", "boom", 1, false),
		ToolResult("t1", "b", "fetch", "boom", true),
		EndTurn("t1"),
		BeginTurn("conv", "t2", 2),
		AssistantComplete("t2", "All done."),
		EndTurn("t2"),
		EndConversation("All done."),
	} {
		recorder.Emit(e)
	}

	turns := recorder.Turns()
	require.Len(t, turns, 2)

	first := turns[0]
	assert.True(t, first.Complete)
	assert.Equal(t, "Let me check.", first.Text)
	require.Len(t, first.ToolCalls, 2)
	assert.Equal(t, ToolStatusCompleted, first.ToolCalls[0].Status)
	assert.Equal(t, []string{"pipe closed"}, first.ToolCalls[0].Errors)
	assert.Equal(t, ToolStatusError, first.ToolCalls[1].Status)

	final, done := recorder.FinalText()
	assert.True(t, done)
	assert.Equal(t, "All done.", final)
	assert.Empty(t, recorder.LastError())
}

func TestToolLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	toolLog := NewToolLogger(&buf)

	call := contract.ToolCall{ID: "call_1", Name: "search", Parameters: json.RawMessage(`{"q":"go"}`)}
	toolLog.IterationStart(1)
	toolLog.ToolCall(1, call)
	toolLog.ToolResult(1, call, contract.ToolResult{Content: "nope", IsError: true})
	toolLog.FinalResponse(1, "answer")

	var records []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var record map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		records = append(records, record)
	}
	require.Len(t, records, 4)
	assert.Equal(t, "iteration_start", records[0]["msg"])
	assert.Equal(t, `{"q":"go"}`, records[1]["parameters"])
	assert.Equal(t, "ERROR", records[2]["level"])
	assert.Equal(t, true, records[2]["is_error"])
	assert.Equal(t, "answer", records[3]["response"])
}

func TestOpenToolLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tools.jsonl")

	first, err := OpenToolLogger(path)
	require.NoError(t, err)
	first.BeginTurn(1, "t1")
	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	second, err := OpenToolLogger(path)
	require.NoError(t, err)
	second.EndTurn(1, "t1")
	require.NoError(t, second.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))

	var nilLogger *ToolLogger
	nilLogger.IterationStart(1)
	assert.NoError(t, nilLogger.Close())
}
