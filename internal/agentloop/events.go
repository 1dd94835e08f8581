package agentloop

import "github.com/ngoclaw/chatcore/internal/domain/entity"

// RateLimitedEvent mirrors spec.md §6's on_rate_limited({type, wait_ms, queue_position}).
type RateLimitedEvent struct {
	Kind          string
	WaitMs        int64
	QueuePosition int
}

// BudgetWarningEvent mirrors on_budget_warning({metric, current, limit, percent_used}),
// fired once per 80% threshold crossing.
type BudgetWarningEvent struct {
	Metric      string
	Current     float64
	Limit       float64
	PercentUsed float64
}

// BudgetPausedEvent mirrors on_budget_paused({reason, resume}).
type BudgetPausedEvent struct {
	Reason string
	Resume func()
}

// RunContext is the explicit configuration value spec.md §9 substitutes for
// the source's hook/context-capture component tree: plain function fields
// instead of an injected provider tree, grounded on the teacher's AgentHook
// interface in internal/domain/service/hooks.go, narrowed to the four fixed
// callbacks spec.md §6 names.
type RunContext struct {
	Model       string
	MaxTokens   int
	Temperature float64

	OnRateLimited   func(RateLimitedEvent)
	OnBudgetWarning func(BudgetWarningEvent)
	OnBudgetPaused  func(BudgetPausedEvent)
	OnUsageUpdate   func(entity.UsageStats)
}
