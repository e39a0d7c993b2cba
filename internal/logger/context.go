package logger

import (
	"context"
	"log/slog"
)

type (
	traceIDKey        struct{}
	conversationIDKey struct{}
)

// WithTraceID tags ctx with the id of the current turn.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// WithConversationID tags ctx with the id shared by every turn of a chat.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey{}, id)
}

func GetConversationID(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey{}).(string)
	return id
}

// FromContext returns the default logger annotated with whichever of the
// conversation and trace ids ctx carries.
func FromContext(ctx context.Context) *slog.Logger {
	log := slog.Default()
	if id := GetConversationID(ctx); id != "" {
		log = log.With("conversation_id", id)
	}
	if id := GetTraceID(ctx); id != "" {
		log = log.With("trace_id", id)
	}
	return log
}
