// Command chatcore is the terminal front-end: it wires config, logging,
// storage, the rate limiter and usage tracker, the provider, the builtin
// tool set, the agent loop, and the run controller, then hands off to the
// REPL. Grounded on the teacher's cmd/cli/main.go (cobra root + version/
// doctor subcommands, config/logger bootstrap) and cmd/gateway/main.go
// (signal handling) — the "serve" multi-transport subcommand is dropped,
// per SPEC_FULL.md's single-user terminal-core scope.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatcore/internal/agentloop"
	"github.com/ngoclaw/chatcore/internal/config"
	"github.com/ngoclaw/chatcore/internal/domain/entity"
	"github.com/ngoclaw/chatcore/internal/interfaces/tui"
	"github.com/ngoclaw/chatcore/internal/logging"
	"github.com/ngoclaw/chatcore/internal/provider"
	"github.com/ngoclaw/chatcore/internal/ratelimit"
	"github.com/ngoclaw/chatcore/internal/runctl"
	"github.com/ngoclaw/chatcore/internal/sandbox"
	"github.com/ngoclaw/chatcore/internal/store"
	"github.com/ngoclaw/chatcore/internal/store/gormstore"
	"github.com/ngoclaw/chatcore/internal/store/memstore"
	"github.com/ngoclaw/chatcore/internal/tools"
	"github.com/ngoclaw/chatcore/internal/tools/builtin"
	"github.com/ngoclaw/chatcore/internal/usage"
)

const (
	appVersion   = "0.1.0"
	appName      = "chatcore"
	defaultModel = "claude-sonnet-4-5-20250929"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName + " [message]",
		Short: "chatcore — a single-agent terminal coding assistant",
		Args:  cobra.ArbitraryArgs,
		RunE:  runInteractive,
	}

	rootCmd.Flags().StringP("model", "m", "", "model name (overrides config)")
	rootCmd.Flags().BoolP("yolo", "y", false, "turn off the approval policy's ask mode (tool calls are never prompted for approval either way)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "check the local environment",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInteractive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logCfg := logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: "stderr"}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer logger.Sync()

	model := defaultModel
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		model = m
	}
	yolo, _ := cmd.Flags().GetBool("yolo")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, usageAdapter, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		RPM:              cfg.RateLimit.RPM,
		ITPM:             cfg.RateLimit.ITPM,
		OTPM:             cfg.RateLimit.OTPM,
		QueueWhenLimited: cfg.RateLimit.QueueWhenLimited,
		MaxQueueSize:     cfg.RateLimit.MaxQueueSize,
		QueueTimeoutMs:   cfg.RateLimit.QueueTimeoutMs,
	}, logger)

	limits := entity.Limits{Window: entity.Window(cfg.UsageLimit.Window)}
	if cfg.UsageLimit.MaxInputTokens > 0 {
		limits.MaxInputTokens = &cfg.UsageLimit.MaxInputTokens
	}
	if cfg.UsageLimit.MaxOutputTokens > 0 {
		limits.MaxOutputTokens = &cfg.UsageLimit.MaxOutputTokens
	}
	if cfg.UsageLimit.MaxTotalTokens > 0 {
		limits.MaxTotalTokens = &cfg.UsageLimit.MaxTotalTokens
	}
	if cfg.UsageLimit.MaxCostUSD > 0 {
		limits.MaxCostUSD = &cfg.UsageLimit.MaxCostUSD
	}

	var storageAdapter usage.StorageAdapter
	if cfg.Persistence.Enabled {
		storageAdapter = usageAdapter
	}
	tracker := usage.New(limits, storageAdapter, cfg.Persistence.KeyPrefix, logger)

	reg := tools.NewInMemoryRegistry()
	sb, err := sandbox.NewProcessSandbox(sandbox.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("sandbox init: %w", err)
	}
	if err := builtin.Register(reg, sb, logger); err != nil {
		return fmt.Errorf("tool registration: %w", err)
	}
	policy := &tools.Policy{AskMode: !yolo}
	executor := tools.NewExecutor(reg, policy)

	demo := cfg.DemoMode()
	var prov provider.Provider
	if demo {
		prov = provider.NewDemo()
	} else {
		prov = provider.NewAnthropic(cfg.APIKey)
	}

	loading := entity.NewLoadingState()
	guard := agentloop.NewContextGuard(100000, 0.8, logger)

	rc := agentloop.RunContext{
		Model:       model,
		MaxTokens:   4096,
		Temperature: 1.0,
		OnRateLimited: func(ev agentloop.RateLimitedEvent) {
			logger.Info("rate limited", zap.String("kind", ev.Kind), zap.Int64("wait_ms", ev.WaitMs))
		},
		OnBudgetWarning: func(ev agentloop.BudgetWarningEvent) {
			logger.Warn("budget warning", zap.String("metric", ev.Metric), zap.Float64("percent_used", ev.PercentUsed))
		},
		OnBudgetPaused: func(ev agentloop.BudgetPausedEvent) {
			logger.Warn("budget paused", zap.String("reason", ev.Reason))
		},
	}

	loop := agentloop.New(st, limiter, tracker, prov, executor, guard, loading, logger, rc)

	ctrl, err := runctl.New(ctx, loop, st, loading, logger)
	if err != nil {
		return fmt.Errorf("controller init: %w", err)
	}
	go ctrl.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		ctrl.Shutdown(shutdownCtx)
		os.Exit(0)
	}()

	replCfg := tui.Config{
		Model:      model,
		ToolCount:  len(executor.ListTools()),
		DemoMode:   demo,
		InitPrompt: strings.Join(args, " "),
	}
	repl := tui.New(ctrl, tracker, replCfg)

	if err := repl.Run(ctx); err != nil {
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return ctrl.Shutdown(shutdownCtx)
}

// openStore opens the gorm-backed transcript store unless CHATCORE_DB_PATH
// resolves to ":memory:", in which case an in-process store is used — handy
// for demo runs with no database file.
func openStore(cfg *config.Config) (store.Store, usage.StorageAdapter, error) {
	if cfg.DBPath == ":memory:" {
		return memstore.New(), nil, nil
	}
	gs, err := gormstore.Open(gormstore.DialectSQLite, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	kv, err := gs.KV()
	if err != nil {
		return nil, nil, err
	}
	return gs, kv, nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("chatcore doctor v%s\n\n", appVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"config", checkConfig},
		{"api key", checkAPIKey},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "✓"
		if !ok {
			icon = "✗"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("all checks passed")
	} else {
		fmt.Println("some checks failed — see above")
	}
	return nil
}

func checkConfig() (string, bool) {
	home, _ := os.UserHomeDir()
	path := home + "/.chatcore/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "no ~/.chatcore/config.yaml (defaults will be used)", true
}

func checkAPIKey() (string, bool) {
	if os.Getenv("ANTHROPIC_API_KEY") != "" || os.Getenv("CHATCORE_API_KEY") != "" {
		return "configured", true
	}
	return "not set — running in demo mode", true
}
