// Package usage implements U, the pause-and-wait usage tracker: it
// accumulates realized usage against configured budgets, computes cost from
// the pricing table, optionally persists stats through a pluggable storage
// adapter, and parks callers whose budget is exhausted until resume, a
// limit update, or window rollover releases them. Grounded on the
// window/budget/idempotent-accounting shape of the retrieved corpus' token
// budget manager, narrowed to the single-window, single-tenant model this
// spec requires (no per-session/per-user partitioning, no circuit breakers —
// out of scope for a single terminal chat core).
package usage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatcore/internal/domain/entity"
	"github.com/ngoclaw/chatcore/pkg/safego"
)

// StorageAdapter is the optional persistence hook; failures are logged and
// swallowed by the tracker, never surfaced to callers.
type StorageAdapter interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Report is one realized-usage observation fed to ReportUsage.
type Report struct {
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	CostUSD             *float64
	Model               string
}

// PausedInfo is delivered once per transition into the paused state.
type PausedInfo struct {
	Reason string
	Resume func()
}

type persistedStats struct {
	entity.UsageStats
}

// Tracker is U.
type Tracker struct {
	mu       sync.Mutex
	stats    entity.UsageStats
	limits   entity.Limits
	storage  StorageAdapter
	keyPrefix string
	logger   *zap.Logger

	parked     []chan struct{}
	paused     bool
	onPaused   func(PausedInfo)

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New constructs U with the given limits, aligning the first window to now.
// If storage is non-nil, a matching persisted snapshot for the current
// window is loaded.
func New(limits entity.Limits, storage StorageAdapter, keyPrefix string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.Window == "" {
		limits.Window = entity.WindowDay
	}
	t := &Tracker{
		limits:    limits,
		storage:   storage,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
	start, end := windowBoundaries(limits.Window, time.Now())
	t.stats = entity.UsageStats{WindowStart: start, WindowEnd: end}
	t.load()
	return t
}

// StartSweep launches the ~10s periodic re-evaluation that releases parked
// callers when a window rolls over on its own, independent of any caller
// invoking an accessor. Stopped when ctx is cancelled or by Close.
func (t *Tracker) StartSweep(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.sweepCancel = cancel
	t.sweepDone = make(chan struct{})
	safego.Go(t.logger, "usage-sweep", func() {
		defer close(t.sweepDone)
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.mu.Lock()
				t.rollWindowLocked()
				t.mu.Unlock()
			}
		}
	})
}

// Close stops the sweep goroutine, if running.
func (t *Tracker) Close() {
	if t.sweepCancel != nil {
		t.sweepCancel()
		<-t.sweepDone
	}
}

// CheckBudget reports whether the tracker currently allows more usage.
func (t *Tracker) CheckBudget() (allowed bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollWindowLocked()
	return t.checkLocked()
}

func (t *Tracker) checkLocked() (bool, string) {
	if t.limits.MaxInputTokens != nil && t.stats.InputTokens >= *t.limits.MaxInputTokens {
		return false, "Input token limit exceeded"
	}
	if t.limits.MaxOutputTokens != nil && t.stats.OutputTokens >= *t.limits.MaxOutputTokens {
		return false, "Output token limit exceeded"
	}
	if t.limits.MaxTotalTokens != nil && t.stats.TotalTokens >= *t.limits.MaxTotalTokens {
		return false, "Total token limit exceeded"
	}
	if t.limits.MaxCostUSD != nil && t.stats.CostUSD >= *t.limits.MaxCostUSD {
		return false, "Cost limit exceeded"
	}
	return true, ""
}

// WaitForBudget returns immediately if budget currently allows usage;
// otherwise parks until resume, a limit update, or a window reset releases
// it, or ctx is cancelled.
func (t *Tracker) WaitForBudget(ctx context.Context) error {
	t.mu.Lock()
	t.rollWindowLocked()
	if allowed, _ := t.checkLocked(); allowed {
		t.mu.Unlock()
		return nil
	}

	_, reason := t.checkLocked()
	ch := make(chan struct{})
	t.parked = append(t.parked, ch)
	wasPaused := t.paused
	t.paused = true
	cb := t.onPaused
	t.mu.Unlock()

	if !wasPaused && cb != nil {
		cb(PausedInfo{Reason: reason, Resume: t.Resume})
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume releases every parked caller immediately, regardless of budget —
// it is the explicit "I know what I'm doing" override on top of
// UpdateLimits and window rollover.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseParksLocked()
}

func (t *Tracker) releaseParksLocked() {
	for _, ch := range t.parked {
		close(ch)
	}
	t.parked = nil
	t.paused = false
}

// ReportUsage accumulates realized usage and computes cost when absent,
// persisting the updated snapshot through the storage adapter if configured.
func (t *Tracker) ReportUsage(r Report) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollWindowLocked()

	t.stats.InputTokens += r.InputTokens
	t.stats.OutputTokens += r.OutputTokens
	t.stats.TotalTokens += r.InputTokens + r.OutputTokens
	t.stats.CacheReadTokens += r.CacheReadTokens
	t.stats.CacheCreationTokens += r.CacheCreationTokens
	t.stats.RequestCount++

	cost := 0.0
	if r.CostUSD != nil {
		cost = *r.CostUSD
	} else {
		price := PriceFor(r.Model)
		billableInput := r.InputTokens - r.CacheReadTokens
		if billableInput < 0 {
			billableInput = 0
		}
		cost = float64(r.CacheReadTokens)*price.InputPricePerMillion/1_000_000*0.1 +
			float64(billableInput)*price.InputPricePerMillion/1_000_000 +
			float64(r.OutputTokens)*price.OutputPricePerMillion/1_000_000
	}
	t.stats.CostUSD += cost

	if allowed, _ := t.checkLocked(); allowed {
		t.releaseParksLocked()
	}

	t.save()
	return nil
}

// Reset resets stats to the current window boundaries and releases all parks.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, end := windowBoundaries(t.limits.Window, time.Now())
	t.stats = entity.UsageStats{WindowStart: start, WindowEnd: end}
	t.releaseParksLocked()
	t.save()
}

// UpdateLimits overwrites any set field of partial; if the new state allows
// budget, resumes parked callers.
func (t *Tracker) UpdateLimits(partial entity.Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if partial.MaxInputTokens != nil {
		t.limits.MaxInputTokens = partial.MaxInputTokens
	}
	if partial.MaxOutputTokens != nil {
		t.limits.MaxOutputTokens = partial.MaxOutputTokens
	}
	if partial.MaxTotalTokens != nil {
		t.limits.MaxTotalTokens = partial.MaxTotalTokens
	}
	if partial.MaxCostUSD != nil {
		t.limits.MaxCostUSD = partial.MaxCostUSD
	}
	if partial.Window != "" && partial.Window != t.limits.Window {
		t.limits.Window = partial.Window
		start, end := windowBoundaries(t.limits.Window, time.Now())
		t.stats.WindowStart = start
		t.stats.WindowEnd = end
	}
	if allowed, _ := t.checkLocked(); allowed {
		t.releaseParksLocked()
	}
}

// GetStats returns a snapshot of the current window's accounting.
func (t *Tracker) GetStats() entity.UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollWindowLocked()
	return t.stats
}

// GetUsagePercentages reports input/output/total/cost usage as a fraction of
// configured limits (0 when a limit is unset).
func (t *Tracker) GetUsagePercentages() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollWindowLocked()

	pct := map[string]float64{"input": 0, "output": 0, "total": 0, "cost": 0}
	if t.limits.MaxInputTokens != nil && *t.limits.MaxInputTokens > 0 {
		pct["input"] = float64(t.stats.InputTokens) / float64(*t.limits.MaxInputTokens)
	}
	if t.limits.MaxOutputTokens != nil && *t.limits.MaxOutputTokens > 0 {
		pct["output"] = float64(t.stats.OutputTokens) / float64(*t.limits.MaxOutputTokens)
	}
	if t.limits.MaxTotalTokens != nil && *t.limits.MaxTotalTokens > 0 {
		pct["total"] = float64(t.stats.TotalTokens) / float64(*t.limits.MaxTotalTokens)
	}
	if t.limits.MaxCostUSD != nil && *t.limits.MaxCostUSD > 0 {
		pct["cost"] = t.stats.CostUSD / *t.limits.MaxCostUSD
	}
	return pct
}

// SetOnPausedCallback registers the callback invoked once per transition
// into the paused state.
func (t *Tracker) SetOnPausedCallback(cb func(PausedInfo)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPaused = cb
}

// rollWindowLocked must be called with t.mu held. If now >= window_end, the
// state is rolled to a fresh window and parked callers are released.
func (t *Tracker) rollWindowLocked() {
	now := time.Now()
	if now.Before(t.stats.WindowEnd) {
		return
	}
	start, end := windowBoundaries(t.limits.Window, now)
	t.stats = entity.UsageStats{WindowStart: start, WindowEnd: end}
	t.releaseParksLocked()
	t.save()
}

func windowBoundaries(w entity.Window, now time.Time) (time.Time, time.Time) {
	now = now.Local()
	switch w {
	case entity.WindowHour:
		start := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
		return start, start.Add(time.Hour)
	case entity.WindowDay:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 0, 1)
	case entity.WindowWeek:
		dayOfWeek := int(now.Weekday())
		if dayOfWeek == 0 {
			dayOfWeek = 7 // ISO: Monday=1..Sunday=7
		}
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		start := dayStart.AddDate(0, 0, -(dayOfWeek - 1))
		return start, start.AddDate(0, 0, 7)
	case entity.WindowMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0)
	case entity.WindowAllTime:
		return time.Unix(0, 0), time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 0, 1)
	}
}

// save persists the current stats under a window-boundary key; failures are
// logged and swallowed, per §6's storage-adapter contract.
func (t *Tracker) save() {
	if t.storage == nil {
		return
	}
	key := t.storageKey()
	data, err := json.Marshal(persistedStats{t.stats})
	if err != nil {
		t.logger.Warn("usage: marshal stats for persistence failed", zap.Error(err))
		return
	}
	if err := t.storage.Set(key, string(data)); err != nil {
		t.logger.Warn("usage: persist stats failed", zap.Error(err))
	}
}

// load restores persisted stats only if their window_start matches the
// current window boundary; otherwise the freshly initialized stats win.
func (t *Tracker) load() {
	if t.storage == nil {
		return
	}
	key := t.storageKey()
	raw, ok := t.storage.Get(key)
	if !ok {
		return
	}
	var restored persistedStats
	if err := json.Unmarshal([]byte(raw), &restored); err != nil {
		t.logger.Warn("usage: unmarshal persisted stats failed", zap.Error(err))
		return
	}
	if !restored.WindowStart.Equal(t.stats.WindowStart) {
		return
	}
	t.stats = restored.UsageStats
}

func (t *Tracker) storageKey() string {
	prefix := t.keyPrefix
	if prefix == "" {
		prefix = "usage"
	}
	return prefix + ":" + string(t.limits.Window) + ":" + t.stats.WindowStart.Format(time.RFC3339)
}
