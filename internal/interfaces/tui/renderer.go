package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/ngoclaw/chatcore/internal/domain/entity"
)

// Renderer renders transcript content: markdown assistant text and tool-call
// status lines. Grounded on the teacher's internal/interfaces/cli/renderer.go.
type Renderer struct {
	glamour *glamour.TermRenderer
}

// NewRenderer builds a renderer sized to the current terminal width.
func NewRenderer() *Renderer {
	w := termWidth()
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(w-4),
	)
	return &Renderer{glamour: r}
}

// RenderMarkdown renders markdown text, falling back to the raw string if
// glamour failed to initialize or render.
func (r *Renderer) RenderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// RenderToolCall renders a single tool call's current status line.
func (r *Renderer) RenderToolCall(call *entity.ToolCall) string {
	if call == nil {
		return ""
	}
	nameStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	argStyle := lipgloss.NewStyle().Foreground(colorGray)

	switch call.Status {
	case entity.ToolCallRunning, entity.ToolCallPending:
		return fmt.Sprintf("  %s %s %s", lipgloss.NewStyle().Foreground(colorYellow).Render("▶"),
			nameStyle.Render(call.Name), argStyle.Render(summarizeArgs(call.Arguments)))
	case entity.ToolCallComplete:
		return fmt.Sprintf("  %s %s", lipgloss.NewStyle().Foreground(colorGreen).Render("✓"), nameStyle.Render(call.Name))
	case entity.ToolCallFailed:
		return fmt.Sprintf("  %s %s %s", lipgloss.NewStyle().Foreground(colorRed).Render("✗"), nameStyle.Render(call.Name),
			argStyle.Render(call.Err))
	default:
		return ""
	}
}

func summarizeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	priority := []string{"command", "file_path", "path", "query", "url", "content"}
	for _, key := range priority {
		if v, ok := args[key]; ok {
			return truncate(fmt.Sprintf("%v", v), 60)
		}
	}
	for _, v := range args {
		return truncate(fmt.Sprintf("%v", v), 60)
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
