package contextwindow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	cosmoErrors "github.com/harunnryd/cosmo/internal/errors"
	"github.com/harunnryd/cosmo/internal/model/contract"
)

const (
	DefaultKeepRecentPairs = 5

	summarizerSystemPrompt = "You are a helpful assistant that summarizes conversations concisely."
	summarizeInstruction   = "Please provide a concise summary of the following conversation history. " +
		"Focus on key topics, decisions, and important information. Keep it under 200 words:\n\n"
	summaryPrefix = "[Previous conversation summarized: "

	summaryTemperature = 0.3
	summaryMaxTokens   = 200
)

// Completer is the slice of the model capability the manager needs.
type Completer interface {
	SendWithTools(ctx context.Context, messages []contract.Message, tools []contract.ToolDefinition, opts contract.SendOptions) (*contract.ChatResponse, error)
}

// Manager compacts long histories by replacing older turns with a model-written summary.
type Manager struct {
	keepRecentPairs int
}

func NewManager(keepRecentPairs int) *Manager {
	if keepRecentPairs <= 0 {
		keepRecentPairs = DefaultKeepRecentPairs
	}
	return &Manager{keepRecentPairs: keepRecentPairs}
}

func (m *Manager) KeepRecentPairs() int {
	return m.keepRecentPairs
}

// ShouldSummarize is true once tokens/window reaches threshold. A zero window never triggers.
func ShouldSummarize(tokens, window int, threshold float64) bool {
	if window <= 0 {
		return false
	}
	return float64(tokens)/float64(window) >= threshold
}

// partition returns the candidate range [start, end) eligible for summarization.
// The leading system message and the most recent 2*K messages are retained.
// The boundary moves back over tool results so they stay with the assistant
// message that requested them, which can retain more than 2*K messages.
func (m *Manager) partition(messages []contract.Message) (start, end int) {
	if len(messages) > 0 && messages[0].Role == contract.RoleSystem {
		start = 1
	}

	keep := 2 * m.keepRecentPairs
	if len(messages) <= keep {
		return start, start
	}

	end = len(messages) - keep
	for end > start && messages[end].Role == contract.RoleTool {
		end--
	}
	if end < start {
		end = start
	}
	return start, end
}

// BuildSummarizationMessages returns the messages that a summary would replace.
func (m *Manager) BuildSummarizationMessages(messages []contract.Message) []contract.Message {
	start, end := m.partition(messages)
	if end <= start {
		return nil
	}
	out := make([]contract.Message, end-start)
	copy(out, messages[start:end])
	return out
}

// MessagesToKeep returns the leading system message plus the retained tail.
// When nothing is eligible the full history is returned.
func (m *Manager) MessagesToKeep(messages []contract.Message) []contract.Message {
	start, end := m.partition(messages)
	if end <= start {
		out := make([]contract.Message, len(messages))
		copy(out, messages)
		return out
	}

	out := make([]contract.Message, 0, start+len(messages)-end)
	out = append(out, messages[:start]...)
	out = append(out, messages[end:]...)
	return out
}

// summaryRequest renders the candidates into a system and user request.
func summaryRequest(candidates []contract.Message) []contract.Message {
	var sb strings.Builder
	sb.WriteString(summarizeInstruction)
	for _, msg := range candidates {
		fmt.Fprintf(&sb, "%s: %s\n\n", roleLabel(msg.Role), msg.Content)
	}

	return []contract.Message{
		contract.NewMessage(contract.RoleSystem, summarizerSystemPrompt),
		contract.NewMessage(contract.RoleUser, sb.String()),
	}
}

// Summarize asks the model for a summary of the eligible messages.
func (m *Manager) Summarize(ctx context.Context, client Completer, messages []contract.Message) (string, error) {
	candidates := m.BuildSummarizationMessages(messages)
	if len(candidates) == 0 {
		return "", cosmoErrors.InvalidInput("no messages eligible for summarization")
	}

	resp, err := client.SendWithTools(ctx, summaryRequest(candidates), nil, contract.SendOptions{
		Temperature: contract.Float(summaryTemperature),
		MaxTokens:   summaryMaxTokens,
	})
	if err != nil {
		return "", cosmoErrors.Wrap(err, "summarize conversation")
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", cosmoErrors.InvalidModelOutput("model returned an empty summary")
	}
	return summary, nil
}

// Compact replaces the eligible messages with one assistant summary message
// placed right after the system message. Histories with nothing eligible are
// returned unchanged.
func (m *Manager) Compact(ctx context.Context, client Completer, messages []contract.Message) ([]contract.Message, error) {
	start, end := m.partition(messages)
	if end <= start {
		return messages, nil
	}

	summary, err := m.Summarize(ctx, client, messages)
	if err != nil {
		return nil, err
	}

	out := make([]contract.Message, 0, start+1+len(messages)-end)
	out = append(out, messages[:start]...)
	out = append(out, contract.NewMessage(contract.RoleAssistant, summaryPrefix+summary+"]"))
	out = append(out, messages[end:]...)

	slog.Info("Conversation compacted",
		"old_count", len(messages),
		"new_count", len(out),
		"summarized", end-start)
	return out, nil
}

// Truncate drops the oldest non-system messages from the retained set until
// it fits in maxTokens minus the system prompt allowance.
func (m *Manager) Truncate(messages []contract.Message, maxTokens, systemPromptTokens int) []contract.Message {
	available := maxTokens - systemPromptTokens
	if available < 0 {
		available = 0
	}

	result := m.MessagesToKeep(messages)
	if EstimateMessagesTokens(result) <= available {
		return result
	}
	if len(result) == 0 || result[0].Role != contract.RoleSystem {
		return result
	}

	system := result[0]
	rest := result[1:]
	for len(rest) > 1 && EstimateMessagesTokens(rest) > available {
		rest = rest[1:]
	}
	for len(rest) > 1 && rest[0].Role == contract.RoleTool {
		rest = rest[1:]
	}

	return append([]contract.Message{system}, rest...)
}

func roleLabel(role contract.Role) string {
	switch role {
	case contract.RoleSystem:
		return "System"
	case contract.RoleUser:
		return "User"
	case contract.RoleAssistant:
		return "Assistant"
	case contract.RoleTool:
		return "Tool"
	default:
		return string(role)
	}
}
