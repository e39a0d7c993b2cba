package runtime

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/harunnryd/cosmo/internal/agent"
	"github.com/harunnryd/cosmo/internal/contextwindow"
	"github.com/harunnryd/cosmo/internal/model/contract"
)

// REPL is an interactive chat that keeps the conversation between turns.
type REPL struct {
	components *RuntimeComponents
	reader     *bufio.Reader
	out        io.Writer
	sink       agent.EventSink
	history    []contract.Message
}

func NewREPL(components *RuntimeComponents, in io.Reader, out io.Writer, sink agent.EventSink) *REPL {
	return &REPL{
		components: components,
		reader:     bufio.NewReader(in),
		out:        out,
		sink:       sink,
		history:    components.NewConversation(),
	}
}

func (r *REPL) Start() error {
	fmt.Fprintf(r.out, "Cosmo chat using profile %q (%s)\n", r.components.ProfileName, r.components.Client.Name())
	fmt.Fprintln(r.out, "Commands: /exit, /clear, /tools, /context")

	for {
		select {
		case <-r.components.Ctx.Done():
			return nil
		default:
		}

		if err := r.readLine(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (r *REPL) readLine() error {
	fmt.Fprint(r.out, "> ")
	text, err := r.reader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(text) == "") {
		return err
	}

	text = strings.TrimSpace(text)
	switch text {
	case "":
		return nil
	case "/exit", "/quit":
		return io.EOF
	case "/clear":
		r.history = r.components.NewConversation()
		fmt.Fprintln(r.out, "Conversation cleared.")
		return nil
	case "/tools":
		for _, tool := range r.components.Registry.EnabledTools() {
			fmt.Fprintf(r.out, "  %s  %s\n", tool.Name, tool.Description)
		}
		return nil
	case "/context":
		r.printContext()
		return nil
	}

	r.history = append(r.history, contract.NewMessage(contract.RoleUser, text))
	result, runErr := r.components.Loop.Run(r.components.Ctx, r.history, r.sink)
	if runErr != nil {
		if r.components.Ctx.Err() != nil {
			return io.EOF
		}
		// The model error was already shown by the sink; forget the message.
		slog.Debug("Chat turn failed", "error", runErr)
		r.history = r.history[:len(r.history)-1]
		return err
	}
	r.history = result.Messages
	r.fitWindow()
	return err
}

// fitWindow drops the oldest turns once the history no longer fits the
// model's context window, which happens when summarizing it failed.
func (r *REPL) fitWindow() {
	window := r.components.Profile.ContextWindowSize
	stats := contextwindow.ComputeStats(r.history, window)
	if window <= 0 || stats.UsageRatio < 1 {
		return
	}

	manager := contextwindow.NewManager(r.components.Config.Agent.KeepRecentPairs)
	r.history = manager.Truncate(r.history, window, 0)
	slog.Warn("Conversation exceeds context window, dropped oldest messages",
		"tokens", stats.TotalTokens,
		"window", window,
		"old_count", stats.MessageCount,
		"new_count", len(r.history))
}

func (r *REPL) printContext() {
	stats := contextwindow.ComputeStats(r.history, r.components.Profile.ContextWindowSize)
	line := fmt.Sprintf("context: %d messages, ~%d tokens", stats.MessageCount, stats.TotalTokens)
	if stats.WindowSize > 0 {
		line += fmt.Sprintf(" (%.0f%% of %d, %s)", stats.UsageRatio*100, stats.WindowSize, stats.Level())
	}
	fmt.Fprintln(r.out, line)
}
