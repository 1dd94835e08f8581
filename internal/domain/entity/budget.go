package entity

import "time"

// Bucket is one token-bucket counter. Invariant: 0 <= Tokens <= Capacity at
// all times; enforced by the refill/debit logic in internal/ratelimit, not by
// this type itself.
type Bucket struct {
	Tokens     float64
	Capacity   float64
	LastRefill time.Time
}

// Window names the calendar period UsageStats accumulates over.
type Window string

const (
	WindowHour    Window = "hour"
	WindowDay     Window = "day"
	WindowWeek    Window = "week"
	WindowMonth   Window = "month"
	WindowAllTime Window = "all-time"
)

// UsageStats is the running total for exactly one active window. When
// now >= WindowEnd it is reset atomically to the next window's boundaries.
type UsageStats struct {
	InputTokens         int64
	OutputTokens        int64
	TotalTokens         int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	CostUSD             float64
	RequestCount        int64
	WindowStart         time.Time
	WindowEnd           time.Time
}

// Limits is the budget configuration; unset fields behave as +Inf.
type Limits struct {
	MaxInputTokens  *int64
	MaxOutputTokens *int64
	MaxTotalTokens  *int64
	MaxCostUSD      *float64
	Window          Window
}
