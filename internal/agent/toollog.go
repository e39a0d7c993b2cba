package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/harunnryd/cosmo/internal/model/contract"
)

// ToolLogger is an audit trail of tool activity written as JSON lines. A nil
// *ToolLogger is valid and logs nothing.
type ToolLogger struct {
	logger *slog.Logger
	closer io.Closer
	once   sync.Once
}

func NewToolLogger(w io.Writer) *ToolLogger {
	return &ToolLogger{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

// OpenToolLogger appends to the file at path, creating it and its directory.
func OpenToolLogger(path string) (*ToolLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create tool log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tool log: %w", err)
	}

	l := NewToolLogger(f)
	l.closer = f
	return l, nil
}

func (l *ToolLogger) IterationStart(iteration int) {
	if l == nil {
		return
	}
	l.logger.Info("iteration_start", "iteration", iteration)
}

func (l *ToolLogger) BeginTurn(iteration int, turnID string) {
	if l == nil {
		return
	}
	l.logger.Info("begin_turn", "iteration", iteration, "turn_id", turnID)
}

func (l *ToolLogger) ToolCall(iteration int, call contract.ToolCall) {
	if l == nil {
		return
	}
	l.logger.Info("tool_call",
		"iteration", iteration,
		"tool_call_id", call.ID,
		"tool", call.Name,
		"parameters", call.ParamsJSON())
}

func (l *ToolLogger) ToolResult(iteration int, call contract.ToolCall, result contract.ToolResult) {
	if l == nil {
		return
	}
	level := slog.LevelInfo
	if result.IsError {
		level = slog.LevelError
	}
	l.logger.Log(context.Background(), level, "tool_result",
		"iteration", iteration,
		"tool_call_id", call.ID,
		"tool", call.Name,
		"is_error", result.IsError,
		"result", result.Content)
}

func (l *ToolLogger) FinalResponse(iteration int, text string) {
	if l == nil {
		return
	}
	l.logger.Info("final_response", "iterations", iteration, "response", text)
}

func (l *ToolLogger) EndTurn(iteration int, turnID string) {
	if l == nil {
		return
	}
	l.logger.Info("end_turn", "iteration", iteration, "turn_id", turnID)
}

func (l *ToolLogger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	var err error
	l.once.Do(func() { err = l.closer.Close() })
	return err
}
