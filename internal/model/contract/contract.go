package contract

import (
	"encoding/json"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ErrorPrefix marks tool output that represents a failure.
const ErrorPrefix = "Error: "

// Message is one entry of a conversation. A tool message answers exactly one
// call via ToolCallID; an assistant message carrying ToolCalls is followed by
// one tool message per call.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	IsPrompt    bool         `json:"is_prompt,omitempty"`
	ToolCallID  string       `json:"tool_call_id,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// NewToolResultMessage builds the tool message answering callID.
func NewToolResultMessage(callID, content string, isError bool) Message {
	if isError && !strings.HasPrefix(content, ErrorPrefix) {
		content = ErrorPrefix + content
	}
	msg := NewMessage(RoleTool, content)
	msg.ToolCallID = callID
	return msg
}

// Text returns the content followed by any attachment bodies, which is what
// gets sent to backends that have no native file parts.
func (m Message) Text() string {
	if len(m.Attachments) == 0 {
		return m.Content
	}
	var sb strings.Builder
	sb.WriteString(m.Content)
	for _, att := range m.Attachments {
		if att.Content == "" {
			continue
		}
		sb.WriteString("\n\n[Attachment: ")
		sb.WriteString(att.FileName)
		if att.MimeType != "" {
			sb.WriteString(" (" + att.MimeType + ")")
		}
		sb.WriteString("]\n")
		sb.WriteString(att.Content)
	}
	return sb.String()
}

// Attachment is file content carried along a user message.
type Attachment struct {
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	Content  string `json:"content,omitempty"`
}

type ToolCall struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// ParamsJSON returns the raw parameters, "{}" when none were given.
func (c ToolCall) ParamsJSON() string {
	if len(strings.TrimSpace(string(c.Parameters))) == 0 {
		return "{}"
	}
	return string(c.Parameters)
}

// Arguments decodes the parameters into a map. Non-object input yields an empty map.
func (c ToolCall) Arguments() map[string]any {
	args := map[string]any{}
	if err := json.Unmarshal([]byte(c.ParamsJSON()), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// ToolDefinition is a tool advertised by a tool server. Parameters is a JSON schema.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"inputSchema"`
}

// Schema returns the parameter schema, defaulting to an empty object schema.
func (d ToolDefinition) Schema() map[string]any {
	if d.Parameters == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return d.Parameters
}

type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// SendOptions tune a single model request. Zero values mean profile defaults.
type SendOptions struct {
	Temperature *float64
	MaxTokens   int
}

func Float(v float64) *float64 {
	return &v
}
