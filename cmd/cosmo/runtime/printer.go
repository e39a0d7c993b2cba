package runtime

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/harunnryd/cosmo/internal/agent"

	"charm.land/lipgloss/v2"
)

const previewLimit = 200

// Printer renders loop events for a terminal. Color is dropped automatically
// when w is not a terminal.
type Printer struct {
	w       io.Writer
	verbose bool

	mu        sync.Mutex
	streaming bool

	toolStyle  lipgloss.Style
	okStyle    lipgloss.Style
	warnStyle  lipgloss.Style
	errStyle   lipgloss.Style
	mutedStyle lipgloss.Style
}

func NewPrinter(w io.Writer, verbose bool) *Printer {
	return &Printer{
		w:          w,
		verbose:    verbose,
		toolStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true),
		okStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		warnStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		errStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		mutedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

func (p *Printer) Emit(e agent.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Streamed text was already printed; just terminate the line.
	if p.streaming && e.Type != agent.TypeAssistantDelta {
		p.streaming = false
		lipgloss.Fprintln(p.w)
		if e.Type == agent.TypeAssistantComplete {
			return
		}
	}

	switch e.Type {
	case agent.TypeBeginTurn:
		if p.verbose {
			lipgloss.Fprintln(p.w, p.mutedStyle.Render(fmt.Sprintf("--- turn %d (%s) ---", e.Iteration, e.TurnID)))
		}
	case agent.TypeAssistantDelta:
		p.streaming = true
		lipgloss.Fprint(p.w, e.Text)
	case agent.TypeAssistantComplete:
		if e.Text != "" {
			lipgloss.Fprintln(p.w, e.Text)
		}
	case agent.TypeToolPlanned:
		if p.verbose {
			names := make([]string, 0, len(e.PlanItems))
			for _, item := range e.PlanItems {
				names = append(names, item.Name)
			}
			lipgloss.Fprintln(p.w, p.mutedStyle.Render("planned: "+strings.Join(names, ", ")))
		}
	case agent.TypeToolStarted:
		line := p.toolStyle.Render("> " + e.ToolName)
		if p.verbose {
			line += " " + p.mutedStyle.Render(truncate(e.ParamsJSON, previewLimit))
		}
		lipgloss.Fprintln(p.w, line)
	case agent.TypeToolError:
		suffix := "giving up"
		if e.Retryable {
			suffix = "retrying"
		}
		lipgloss.Fprintln(p.w, p.warnStyle.Render(
			fmt.Sprintf("  ! %s attempt %d failed: %s (%s)", e.ToolName, e.Attempt, e.Error, suffix)))
	case agent.TypeToolResult:
		if e.IsError {
			lipgloss.Fprintln(p.w, p.errStyle.Render(fmt.Sprintf("  x %s: %s", e.ToolName, truncate(e.Result, previewLimit))))
			return
		}
		line := p.okStyle.Render("  ok " + e.ToolName)
		if p.verbose {
			line += " " + p.mutedStyle.Render(truncate(e.Result, previewLimit))
		}
		lipgloss.Fprintln(p.w, line)
	case agent.TypeContextSummarized:
		lipgloss.Fprintln(p.w, p.mutedStyle.Render(fmt.Sprintf(
			"context summarized: %d -> %d messages, ~%d tokens saved", e.OldCount, e.NewCount, e.TokensSaved)))
	case agent.TypeModelError:
		lipgloss.Fprintln(p.w, p.errStyle.Render("error: "+e.Error))
	case agent.TypeHeartbeat:
		if p.verbose {
			lipgloss.Fprintln(p.w, p.mutedStyle.Render("  ... still working"))
		}
	}
}

// JSONPrinter writes every event as one JSON line.
type JSONPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{enc: json.NewEncoder(w)}
}

func (p *JSONPrinter) Emit(e agent.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(e)
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
