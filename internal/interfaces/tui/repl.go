// Package tui is the terminal user interface: a readline-driven REPL loop
// rendering transcript updates with glamour/lipgloss. Grounded on the
// teacher's internal/interfaces/cli/app.go (readline loop, braille spinner,
// signal handling) and renderer.go (markdown/tool-call styling), re-wired
// around internal/runctl.Controller's debounced-reload/tick contract instead
// of a channel of AgentEvents.
package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/ngoclaw/chatcore/internal/domain/entity"
	"github.com/ngoclaw/chatcore/internal/runctl"
	"github.com/ngoclaw/chatcore/internal/usage"
)

const (
	reset   = "\033[0m"
	dimText = "\033[2m"
	clearLn = "\033[2K\r"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Config configures one REPL session.
type Config struct {
	Model      string
	ToolCount  int
	DemoMode   bool
	InitPrompt string
}

// REPL is the terminal front-end driving a runctl.Controller.
type REPL struct {
	ctrl      *runctl.Controller
	tracker   *usage.Tracker
	renderer  *Renderer
	cfg       Config
	rendered  int
	lastTools map[string]entity.ToolCallStatus
}

// New builds a REPL bound to an already-running Controller.
func New(ctrl *runctl.Controller, tracker *usage.Tracker, cfg Config) *REPL {
	return &REPL{
		ctrl:      ctrl,
		tracker:   tracker,
		renderer:  NewRenderer(),
		cfg:       cfg,
		lastTools: make(map[string]entity.ToolCallStatus),
	}
}

// Run starts the interactive loop; it returns when the user quits or the
// input stream ends.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Print(RenderBanner(BannerInfo{Model: r.cfg.Model, ToolCount: r.cfg.ToolCount, DemoMode: r.cfg.DemoMode}))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\001\033[1;36m\002❯\001\033[0m\002 ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	if r.cfg.InitPrompt != "" {
		r.runTurn(ctx, r.cfg.InitPrompt)
	}

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Printf("%sgoodbye%s\n", dimText, reset)
				return nil
			}
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if cmd := ParseSlashCommand(input); cmd != nil {
			result := ExecuteCommand(cmd, r.status())
			if result.IsQuit {
				return nil
			}
			if result.Output != "" {
				fmt.Println(result.Output)
			}
			continue
		}

		r.runTurn(ctx, input)
	}
}

func (r *REPL) status() Status {
	stats := r.tracker.GetStats()
	return Status{Model: r.cfg.Model, ToolCount: r.cfg.ToolCount, CostUSD: stats.CostUSD, RequestCount: stats.RequestCount}
}

// runTurn submits text and renders the transcript as it grows, stopping
// once the worker returns to idle with no further updates pending.
func (r *REPL) runTurn(ctx context.Context, text string) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var once sync.Once
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			once.Do(func() {
				r.ctrl.Cancel(turnCtx)
				fmt.Printf("\n%scancelled%s\n", dimText, reset)
			})
		case <-turnCtx.Done():
		}
	}()

	if err := r.ctrl.SubmitQuery(text); err != nil {
		fmt.Printf("\n%scould not submit: %v%s\n", dimText, err, reset)
		return
	}

	spinner := newSpinner()
	for {
		if r.ctrl.ShouldReload() {
			r.renderNew(ctx)
		}
		if !r.ctrl.IsLoading() {
			break
		}
		spinner.tick()
		time.Sleep(30 * time.Millisecond)
	}
	spinner.stop()
	r.renderNew(ctx)
	fmt.Println()
}

// renderNew prints any transcript messages appended since the last reload.
func (r *REPL) renderNew(ctx context.Context) {
	msgs, err := r.ctrl.Snapshot(ctx)
	if err != nil || len(msgs) <= r.rendered {
		return
	}
	for _, m := range msgs[r.rendered:] {
		switch m.Role() {
		case entity.RoleAssistant:
			fmt.Println(r.renderer.RenderMarkdown(m.Content()))
		case entity.RoleToolResult:
			// tool_result content is not printed by the REPL.
		case entity.RoleSystem:
			fmt.Printf("%s%s%s\n", dimText, m.Content(), reset)
		}
	}
	r.rendered = len(msgs)
}

type spinner struct {
	frame int
	last  time.Time
}

func newSpinner() *spinner { return &spinner{} }

func (s *spinner) tick() {
	if time.Since(s.last) < 80*time.Millisecond {
		return
	}
	s.last = time.Now()
	fmt.Printf("%s%s%s", clearLn, spinnerFrames[s.frame%len(spinnerFrames)], reset)
	s.frame++
}

func (s *spinner) stop() {
	fmt.Print(clearLn)
}
