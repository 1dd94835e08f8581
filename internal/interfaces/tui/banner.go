package tui

import (
	"fmt"
	"os"
	"runtime"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const appVersion = "0.1.0"

var (
	colorCyan   = lipgloss.Color("#00D7FF")
	colorGray   = lipgloss.Color("#6C6C6C")
	colorWhite  = lipgloss.Color("#FFFFFF")
	colorDim    = lipgloss.Color("#4E4E4E")
	colorGreen  = lipgloss.Color("#00FF87")
	colorYellow = lipgloss.Color("#FFD75F")
	colorRed    = lipgloss.Color("#FF5F5F")
)

// BannerInfo carries dynamic stats shown in the welcome banner.
type BannerInfo struct {
	Model     string
	ToolCount int
	DemoMode  bool
}

// RenderBanner returns the styled welcome banner.
func RenderBanner(info BannerInfo) string {
	title := lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render(" chatcore ")
	ver := lipgloss.NewStyle().Foreground(colorGray).Render("v" + appVersion)
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)
	greenStyle := lipgloss.NewStyle().Foreground(colorGreen)

	modelLine := fmt.Sprintf("  %s %s", labelStyle.Render("Model"), valueStyle.Render(info.Model))
	toolsLine := fmt.Sprintf("  %s %s", labelStyle.Render("Tools"), greenStyle.Render(fmt.Sprintf("%d loaded", info.ToolCount)))
	envLine := fmt.Sprintf("  %s %s/%s", labelStyle.Render("Env  "), labelStyle.Render(runtime.GOOS), labelStyle.Render(runtime.GOARCH))

	mode := ""
	if info.DemoMode {
		mode = fmt.Sprintf("\n  %s", lipgloss.NewStyle().Foreground(colorYellow).Render("demo mode — no api_key configured"))
	}

	tips := lipgloss.NewStyle().Foreground(colorDim).Render("  Enter to ask · /help for commands · Ctrl+C to cancel")

	return fmt.Sprintf("\n%s%s\n\n%s\n%s\n%s%s\n\n%s\n", title, ver, modelLine, toolsLine, envLine, mode, tips)
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
