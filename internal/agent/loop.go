package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/cosmo/internal/concurrency"
	"github.com/harunnryd/cosmo/internal/config"
	"github.com/harunnryd/cosmo/internal/contextwindow"
	cosmoErrors "github.com/harunnryd/cosmo/internal/errors"
	"github.com/harunnryd/cosmo/internal/logger"
	"github.com/harunnryd/cosmo/internal/model"
	"github.com/harunnryd/cosmo/internal/model/contract"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultMaxToolAttempts   = 3
	DefaultToolTimeout       = 20 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
)

// ToolCatalog is the slice of the tool registry the loop depends on.
type ToolCatalog interface {
	EnabledTools() []contract.ToolDefinition
	CallTool(ctx context.Context, call contract.ToolCall) (contract.ToolResult, error)
}

type Options struct {
	// MaxToolAttempts counts the first attempt, so 3 means two retries.
	MaxToolAttempts int
	ToolTimeout     time.Duration
	// HeartbeatInterval of zero disables heartbeats.
	HeartbeatInterval time.Duration
	// MaxIterations of zero is unbounded.
	MaxIterations int

	ContextWindow      int
	SummarizeThreshold float64
	KeepRecentPairs    int

	SendOptions contract.SendOptions
	ToolLogger  *ToolLogger
}

// DefaultOptions returns the loop defaults with heartbeats on and no
// summarization (zero context window).
func DefaultOptions() Options {
	return Options{
		MaxToolAttempts:   DefaultMaxToolAttempts,
		ToolTimeout:       DefaultToolTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		KeepRecentPairs:   contextwindow.DefaultKeepRecentPairs,
	}
}

// OptionsFromConfig builds loop options from the agent section and the
// active model profile.
func OptionsFromConfig(agentCfg config.AgentConfig, profile config.ModelProfile) (Options, error) {
	toolTimeout, err := agentCfg.ToolTimeoutDuration()
	if err != nil {
		return Options{}, cosmoErrors.WrapWithCategory(err, "agent.tool_timeout", cosmoErrors.ErrInvalidInput)
	}
	heartbeat, err := agentCfg.HeartbeatDuration()
	if err != nil {
		return Options{}, cosmoErrors.WrapWithCategory(err, "agent.heartbeat_interval", cosmoErrors.ErrInvalidInput)
	}

	return Options{
		MaxToolAttempts:    agentCfg.MaxToolAttempts,
		ToolTimeout:        toolTimeout,
		HeartbeatInterval:  heartbeat,
		MaxIterations:      agentCfg.MaxIterations,
		ContextWindow:      profile.ContextWindowSize,
		SummarizeThreshold: profile.SummarizeThreshold,
		KeepRecentPairs:    agentCfg.KeepRecentPairs,
	}, nil
}

// Result is the outcome of a completed run.
type Result struct {
	Text       string
	Messages   []contract.Message
	Iterations int
	Usage      contract.Usage
}

// Loop drives the model and the tool catalog until the model answers
// without requesting tools.
type Loop struct {
	client  model.Client
	tools   ToolCatalog
	context *contextwindow.Manager
	opts    Options
}

func NewLoop(client model.Client, tools ToolCatalog, opts Options) *Loop {
	if opts.MaxToolAttempts <= 0 {
		opts.MaxToolAttempts = DefaultMaxToolAttempts
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = DefaultToolTimeout
	}
	if opts.HeartbeatInterval < 0 {
		opts.HeartbeatInterval = 0
	}
	if opts.SummarizeThreshold <= 0 {
		opts.SummarizeThreshold = config.DefaultSummarizeThreshold
	}

	return &Loop{
		client:  client,
		tools:   tools,
		context: contextwindow.NewManager(opts.KeepRecentPairs),
		opts:    opts,
	}
}

// Process runs the loop and returns only the final text.
func (l *Loop) Process(ctx context.Context, messages []contract.Message, sink EventSink) (string, error) {
	result, err := l.Run(ctx, messages, sink)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// Run executes iterations until a final answer, a model error, cancellation
// or the iteration ceiling. The input slice is not modified.
func (l *Loop) Run(ctx context.Context, messages []contract.Message, sink EventSink) (*Result, error) {
	if sink == nil {
		sink = NopSink{}
	}
	out := &syncSink{next: sink}
	conversationID := logger.GetConversationID(ctx)

	history := make([]contract.Message, len(messages))
	copy(history, messages)

	var usage contract.Usage
	var lastTurnID string

	slog.Info("Agent loop started", "messages", len(history), "conversation_id", conversationID)

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("agent loop cancelled: %w", err)
		}

		if l.opts.MaxIterations > 0 && iteration > l.opts.MaxIterations {
			msg := fmt.Sprintf("stopped after %d iterations without a final answer", l.opts.MaxIterations)
			out.Emit(ModelError(lastTurnID, msg))
			slog.Warn("Agent loop hit iteration limit", "max_iterations", l.opts.MaxIterations)
			return nil, cosmoErrors.WrapWithCategory(errors.New(msg), "agent loop", cosmoErrors.ErrMaxIterations)
		}

		turnID := ulid.Make().String()
		lastTurnID = turnID
		turnCtx := ctx
		if logger.GetTraceID(ctx) == "" {
			turnCtx = logger.WithTraceID(ctx, turnID)
		}

		l.opts.ToolLogger.IterationStart(iteration)
		l.opts.ToolLogger.BeginTurn(iteration, turnID)
		out.Emit(BeginTurn(conversationID, turnID, iteration))
		slog.Debug("Agent loop turn", "iteration", iteration, "turn_id", turnID)

		history = l.maybeSummarize(turnCtx, turnID, history, out)

		tools := l.enabledTools()
		slog.Debug("Enabled tools", "count", len(tools))

		resp, err := l.client.SendWithTools(turnCtx, history, tools, l.opts.SendOptions)
		if err == nil && resp == nil {
			err = cosmoErrors.InvalidModelOutput("model returned no response")
		}
		if err != nil {
			slog.Error("Model call failed", "error", err, "turn_id", turnID)
			out.Emit(ModelError(turnID, "Model communication failed: "+err.Error()))
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		if len(resp.ToolCalls) == 0 {
			out.Emit(AssistantComplete(turnID, resp.Content))
			out.Emit(EndTurn(turnID))
			out.Emit(EndConversation(resp.Content))
			l.opts.ToolLogger.FinalResponse(iteration, resp.Content)
			l.opts.ToolLogger.EndTurn(iteration, turnID)

			history = append(history, contract.NewMessage(contract.RoleAssistant, resp.Content))
			slog.Info("Final answer reached", "iterations", iteration, "turn_id", turnID)
			return &Result{Text: resp.Content, Messages: history, Iterations: iteration, Usage: usage}, nil
		}

		if strings.TrimSpace(resp.Content) != "" {
			out.Emit(AssistantComplete(turnID, resp.Content))
		}
		out.Emit(ToolPlanned(turnID, planItems(resp.ToolCalls)))

		results := make([]contract.Message, 0, len(resp.ToolCalls))
		started := make(map[string]struct{}, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			l.opts.ToolLogger.ToolCall(iteration, call)
			if _, seen := started[call.ID]; !seen {
				started[call.ID] = struct{}{}
				out.Emit(ToolStarted(turnID, call.ID, call.Name, call.ParamsJSON()))
			}

			result := l.executeTool(turnCtx, turnID, call, out)

			l.opts.ToolLogger.ToolResult(iteration, call, result)
			out.Emit(ToolResult(turnID, call.ID, call.Name, result.Content, result.IsError))
			results = append(results, contract.NewToolResultMessage(call.ID, result.Content, result.IsError))
		}

		assistant := contract.NewMessage(contract.RoleAssistant, resp.Content)
		assistant.ToolCalls = resp.ToolCalls
		history = append(history, assistant)
		history = append(history, results...)

		out.Emit(EndTurn(turnID))
		l.opts.ToolLogger.EndTurn(iteration, turnID)
	}
}

func (l *Loop) enabledTools() []contract.ToolDefinition {
	if l.tools == nil {
		return nil
	}
	return l.tools.EnabledTools()
}

// maybeSummarize compacts history once the estimate crosses the threshold.
// Failures leave history untouched.
func (l *Loop) maybeSummarize(ctx context.Context, turnID string, history []contract.Message, out EventSink) []contract.Message {
	tokens := contextwindow.EstimateMessagesTokens(history)
	if !contextwindow.ShouldSummarize(tokens, l.opts.ContextWindow, l.opts.SummarizeThreshold) {
		return history
	}

	slog.Info("Context size exceeds threshold, summarizing",
		"tokens", tokens,
		"window", l.opts.ContextWindow,
		"threshold", l.opts.SummarizeThreshold)

	compacted, err := l.context.Compact(ctx, l.client, history)
	if err != nil {
		slog.Warn("Failed to summarize context", "error", err)
		return history
	}
	if len(compacted) == len(history) {
		return history
	}

	saved := tokens - contextwindow.EstimateMessagesTokens(compacted)
	if saved < 0 {
		saved = 0
	}
	out.Emit(ContextSummarized(turnID, len(history), len(compacted), saved))
	slog.Info("Context summarized", "old_count", len(history), "new_count", len(compacted), "tokens_saved", saved)
	return compacted
}

// executeTool runs one call with immediate retries. Once attempts are
// exhausted the last failure becomes an error result so the loop can go on.
func (l *Loop) executeTool(ctx context.Context, turnID string, call contract.ToolCall, out *syncSink) contract.ToolResult {
	var lastErr string
	for attempt := 1; attempt <= l.opts.MaxToolAttempts; attempt++ {
		result, err := l.attemptTool(ctx, turnID, call, out)
		if err == nil {
			return result
		}

		lastErr = err.Error()
		retryable := attempt < l.opts.MaxToolAttempts && ctx.Err() == nil
		slog.Warn("Tool attempt failed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"attempt", attempt,
			"retryable", retryable,
			"error", lastErr)
		out.Emit(ToolError(turnID, call.ID, call.Name, lastErr, attempt, retryable))

		if !retryable {
			break
		}
	}

	return contract.ToolResult{Content: lastErr, IsError: true}
}

type toolTimeoutError struct {
	after time.Duration
}

func (e *toolTimeoutError) Error() string {
	return fmt.Sprintf("Timeout after %s", e.after)
}

func (e *toolTimeoutError) Unwrap() error {
	return cosmoErrors.ErrTransient
}

type toolOutcome struct {
	result contract.ToolResult
	err    error
}

// attemptTool makes one bounded call. The call runs in its own goroutine so
// the timeout holds even when a transport ignores its context.
func (l *Loop) attemptTool(ctx context.Context, turnID string, call contract.ToolCall, out *syncSink) (contract.ToolResult, error) {
	if l.tools == nil {
		return contract.ToolResult{}, cosmoErrors.NotFound("no tool catalog configured")
	}

	attemptCtx, cancel := context.WithTimeout(ctx, l.opts.ToolTimeout)
	defer cancel()

	stop := concurrency.Every(attemptCtx, l.opts.HeartbeatInterval, func(t time.Time) {
		out.tryEmit(Heartbeat(turnID, t))
	})
	defer stop()

	done := make(chan toolOutcome, 1)
	concurrency.SafeGo(func() {
		result, err := l.tools.CallTool(attemptCtx, call)
		done <- toolOutcome{result: result, err: err}
	}, func(r interface{}) {
		done <- toolOutcome{err: cosmoErrors.Internal(fmt.Sprintf("tool %s panicked: %v", call.Name, r))}
	})

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return contract.ToolResult{}, &toolTimeoutError{after: l.opts.ToolTimeout}
		}
		return res.result, res.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return contract.ToolResult{}, err
		}
		return contract.ToolResult{}, &toolTimeoutError{after: l.opts.ToolTimeout}
	}
}

// Stream answers without tools through the streaming capability, emitting
// AssistantDelta events as text arrives.
func (l *Loop) Stream(ctx context.Context, messages []contract.Message, sink EventSink) (*Result, error) {
	if sink == nil {
		sink = NopSink{}
	}
	out := &syncSink{next: sink}
	turnID := ulid.Make().String()

	out.Emit(BeginTurn(logger.GetConversationID(ctx), turnID, 1))

	var seq uint64
	resp, err := l.client.SendStream(ctx, messages, l.opts.SendOptions, func(chunk string) error {
		seq++
		out.Emit(AssistantDelta(turnID, chunk, seq))
		return nil
	})
	if err == nil && resp == nil {
		err = cosmoErrors.InvalidModelOutput("model returned no response")
	}
	if err != nil {
		out.Emit(ModelError(turnID, "Model communication failed: "+err.Error()))
		return nil, fmt.Errorf("model stream failed: %w", err)
	}

	out.Emit(AssistantComplete(turnID, resp.Content))
	out.Emit(EndTurn(turnID))
	out.Emit(EndConversation(resp.Content))

	history := make([]contract.Message, len(messages), len(messages)+1)
	copy(history, messages)
	history = append(history, contract.NewMessage(contract.RoleAssistant, resp.Content))
	return &Result{Text: resp.Content, Messages: history, Iterations: 1, Usage: resp.Usage}, nil
}

func planItems(calls []contract.ToolCall) []PlannedTool {
	items := make([]PlannedTool, 0, len(calls))
	for _, call := range calls {
		items = append(items, PlannedTool{Name: call.Name, ParamsJSON: call.ParamsJSON()})
	}
	return items
}
