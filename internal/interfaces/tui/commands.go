package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SlashCommand is a parsed "/name arg..." line.
type SlashCommand struct {
	Name string
	Args []string
}

// ParseSlashCommand parses input as a slash command, or returns nil if it
// isn't one.
func ParseSlashCommand(input string) *SlashCommand {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}
	parts := strings.Fields(input)
	name := strings.TrimPrefix(parts[0], "/")
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return &SlashCommand{Name: name, Args: args}
}

// CommandResult is what executing a slash command produced.
type CommandResult struct {
	Output string
	IsQuit bool
}

// Status is the subset of run state a /status command reports on.
type Status struct {
	Model        string
	ToolCount    int
	CostUSD      float64
	RequestCount int64
}

// ExecuteCommand runs a parsed slash command against the current status.
func ExecuteCommand(cmd *SlashCommand, st Status) CommandResult {
	switch cmd.Name {
	case "help", "h":
		return CommandResult{Output: renderHelp()}
	case "exit", "quit", "q":
		return CommandResult{IsQuit: true}
	case "status", "s":
		return CommandResult{Output: renderStatus(st)}
	default:
		return CommandResult{Output: fmt.Sprintf("unknown command: /%s — try /help", cmd.Name)}
	}
}

func renderHelp() string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	cmdStyle := lipgloss.NewStyle().Foreground(colorGreen)
	descStyle := lipgloss.NewStyle().Foreground(colorGray)

	cmds := []struct{ name, desc string }{
		{"/help", "show this help"},
		{"/status", "show model, tools and budget usage"},
		{"/exit", "quit"},
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("available commands"))
	sb.WriteString("\n\n")
	for _, c := range cmds {
		sb.WriteString(fmt.Sprintf("  %s  %s\n", cmdStyle.Render(fmt.Sprintf("%-10s", c.name)), descStyle.Render(c.desc)))
	}
	return sb.String()
}

func renderStatus(st Status) string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("status"))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("model:"), valueStyle.Render(st.Model)))
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("tools:"), valueStyle.Render(fmt.Sprintf("%d loaded", st.ToolCount))))
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("cost:"), valueStyle.Render(fmt.Sprintf("$%.4f", st.CostUSD))))
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("requests:"), valueStyle.Render(fmt.Sprintf("%d", st.RequestCount))))
	return sb.String()
}
