package agent

import (
	"time"
)

type EventType string

const (
	TypeBeginTurn         EventType = "begin_turn"
	TypeAssistantDelta    EventType = "assistant_delta"
	TypeAssistantComplete EventType = "assistant_complete"
	TypeToolPlanned       EventType = "tool_planned"
	TypeToolStarted       EventType = "tool_started"
	TypeToolResult        EventType = "tool_result"
	TypeToolError         EventType = "tool_error"
	TypeEndTurn           EventType = "end_turn"
	TypeEndConversation   EventType = "end_conversation"
	TypeModelError        EventType = "model_error"
	TypeContextSummarized EventType = "context_summarized"
	TypeHeartbeat         EventType = "heartbeat"
)

// PlannedTool is one entry of a ToolPlanned event.
type PlannedTool struct {
	Name       string `json:"name"`
	ParamsJSON string `json:"params_json"`
}

// Event is a lifecycle notification emitted by the loop. Only the fields
// relevant to Type are set.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	TurnID         string    `json:"turn_id,omitempty"`
	Iteration      int       `json:"iteration,omitempty"`

	// Text is the delta chunk, the full assistant text or the final answer.
	Text string `json:"text,omitempty"`
	Seq  uint64 `json:"seq,omitempty"`

	PlanItems []PlannedTool `json:"plan_items,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"name,omitempty"`
	ParamsJSON string `json:"params_json,omitempty"`
	Result     string `json:"result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	Error      string `json:"error,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`

	OldCount    int `json:"old_count,omitempty"`
	NewCount    int `json:"new_count,omitempty"`
	TokensSaved int `json:"tokens_saved,omitempty"`

	TimestampMs int64 `json:"ts_ms,omitempty"`
}

func BeginTurn(conversationID, turnID string, iteration int) Event {
	return Event{Type: TypeBeginTurn, ConversationID: conversationID, TurnID: turnID, Iteration: iteration}
}

func AssistantDelta(turnID, chunk string, seq uint64) Event {
	return Event{Type: TypeAssistantDelta, TurnID: turnID, Text: chunk, Seq: seq}
}

func AssistantComplete(turnID, fullText string) Event {
	return Event{Type: TypeAssistantComplete, TurnID: turnID, Text: fullText}
}

func ToolPlanned(turnID string, items []PlannedTool) Event {
	return Event{Type: TypeToolPlanned, TurnID: turnID, PlanItems: items}
}

func ToolStarted(turnID, callID, name, paramsJSON string) Event {
	return Event{Type: TypeToolStarted, TurnID: turnID, ToolCallID: callID, ToolName: name, ParamsJSON: paramsJSON}
}

func ToolResult(turnID, callID, name, result string, isError bool) Event {
	return Event{Type: TypeToolResult, TurnID: turnID, ToolCallID: callID, ToolName: name, Result: result, IsError: isError}
}

func ToolError(turnID, callID, name, errText string, attempt int, retryable bool) Event {
	return Event{Type: TypeToolError, TurnID: turnID, ToolCallID: callID, ToolName: name, Error: errText, Attempt: attempt, Retryable: retryable}
}

func EndTurn(turnID string) Event {
	return Event{Type: TypeEndTurn, TurnID: turnID}
}

func EndConversation(finalText string) Event {
	return Event{Type: TypeEndConversation, Text: finalText}
}

func ModelError(turnID, errText string) Event {
	return Event{Type: TypeModelError, TurnID: turnID, Error: errText}
}

func ContextSummarized(turnID string, oldCount, newCount, tokensSaved int) Event {
	return Event{Type: TypeContextSummarized, TurnID: turnID, OldCount: oldCount, NewCount: newCount, TokensSaved: tokensSaved}
}

func Heartbeat(turnID string, at time.Time) Event {
	return Event{Type: TypeHeartbeat, TurnID: turnID, TimestampMs: at.UnixMilli()}
}

// Terminal reports whether no further events follow for the run.
func (e Event) Terminal() bool {
	return e.Type == TypeEndConversation || e.Type == TypeModelError
}
