package agent

import (
	"strings"
	"sync"
)

type ToolStatus string

const (
	ToolStatusStarted   ToolStatus = "started"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusError     ToolStatus = "error"
)

// ToolCallRecord tracks one tool call across its attempts.
type ToolCallRecord struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	ParamsJSON string     `json:"params_json,omitempty"`
	Status     ToolStatus `json:"status"`
	Result     string     `json:"result,omitempty"`
	Errors     []string   `json:"errors,omitempty"`
}

// Turn is one loop iteration as observed through the event stream.
type Turn struct {
	ID        string           `json:"id"`
	Iteration int              `json:"iteration"`
	Text      string           `json:"text"`
	Complete  bool             `json:"complete"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// TurnRecorder is an EventSink that folds the event stream into Turn
// records, the way a chat view renders tool-call widgets.
type TurnRecorder struct {
	mu        sync.Mutex
	turns     []*Turn
	byID      map[string]*Turn
	final     string
	finished  bool
	lastError string
	deltas    map[string]*strings.Builder
}

func NewTurnRecorder() *TurnRecorder {
	return &TurnRecorder{
		byID:   make(map[string]*Turn),
		deltas: make(map[string]*strings.Builder),
	}
}

func (r *TurnRecorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Type {
	case TypeBeginTurn:
		turn := &Turn{ID: e.TurnID, Iteration: e.Iteration}
		r.turns = append(r.turns, turn)
		r.byID[e.TurnID] = turn

	case TypeAssistantDelta:
		if turn := r.byID[e.TurnID]; turn != nil {
			sb, ok := r.deltas[e.TurnID]
			if !ok {
				sb = &strings.Builder{}
				r.deltas[e.TurnID] = sb
			}
			sb.WriteString(e.Text)
			turn.Text = sb.String()
		}

	case TypeAssistantComplete:
		if turn := r.byID[e.TurnID]; turn != nil {
			turn.Text = e.Text
		}

	case TypeToolStarted:
		if turn := r.byID[e.TurnID]; turn != nil {
			turn.ToolCalls = append(turn.ToolCalls, ToolCallRecord{
				ID:         e.ToolCallID,
				Name:       e.ToolName,
				ParamsJSON: e.ParamsJSON,
				Status:     ToolStatusStarted,
			})
		}

	case TypeToolError:
		if call := r.call(e.TurnID, e.ToolCallID); call != nil {
			call.Errors = append(call.Errors, e.Error)
			if !e.Retryable {
				call.Status = ToolStatusError
			}
		}

	case TypeToolResult:
		if call := r.call(e.TurnID, e.ToolCallID); call != nil {
			call.Result = e.Result
			call.Status = ToolStatusCompleted
			if e.IsError {
				call.Status = ToolStatusError
			}
		}

	case TypeEndTurn:
		if turn := r.byID[e.TurnID]; turn != nil {
			turn.Complete = true
		}
		delete(r.deltas, e.TurnID)

	case TypeEndConversation:
		r.final = e.Text
		r.finished = true

	case TypeModelError:
		r.lastError = e.Error
	}
}

func (r *TurnRecorder) call(turnID, callID string) *ToolCallRecord {
	turn := r.byID[turnID]
	if turn == nil {
		return nil
	}
	for i := range turn.ToolCalls {
		if turn.ToolCalls[i].ID == callID {
			return &turn.ToolCalls[i]
		}
	}
	return nil
}

// Turns returns a snapshot of the recorded turns.
func (r *TurnRecorder) Turns() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Turn, len(r.turns))
	for i, turn := range r.turns {
		out[i] = *turn
		out[i].ToolCalls = append([]ToolCallRecord(nil), turn.ToolCalls...)
	}
	return out
}

// FinalText returns the final answer and whether the conversation ended.
func (r *TurnRecorder) FinalText() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final, r.finished
}

func (r *TurnRecorder) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}
