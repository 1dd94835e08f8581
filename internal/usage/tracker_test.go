package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/chatcore/internal/domain/entity"
)

type memStorage struct{ m map[string]string }

func newMemStorage() *memStorage { return &memStorage{m: map[string]string{}} }
func (s *memStorage) Get(key string) (string, bool) { v, ok := s.m[key]; return v, ok }
func (s *memStorage) Set(key, value string) error   { s.m[key] = value; return nil }

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestReportUsage_AccumulatesAndComputesCost(t *testing.T) {
	tr := New(entity.Limits{Window: entity.WindowDay}, nil, "usage", nil)
	require.NoError(t, tr.ReportUsage(Report{InputTokens: 1000, OutputTokens: 500, Model: "claude-3-5-sonnet-20241022"}))

	stats := tr.GetStats()
	assert.Equal(t, int64(1000), stats.InputTokens)
	assert.Equal(t, int64(500), stats.OutputTokens)
	assert.Equal(t, int64(1500), stats.TotalTokens)

	expectedCost := 1000.0*3.0/1_000_000 + 500.0*15.0/1_000_000
	assert.InDelta(t, expectedCost, stats.CostUSD, 1e-9)
}

func TestReportUsage_CacheReadDiscount(t *testing.T) {
	tr := New(entity.Limits{Window: entity.WindowDay}, nil, "usage", nil)
	require.NoError(t, tr.ReportUsage(Report{InputTokens: 1000, CacheReadTokens: 400, Model: "claude-3-5-sonnet-20241022"}))

	stats := tr.GetStats()
	price := PriceFor("claude-3-5-sonnet-20241022")
	expected := 400.0*price.InputPricePerMillion/1_000_000*0.1 + 600.0*price.InputPricePerMillion/1_000_000
	assert.InDelta(t, expected, stats.CostUSD, 1e-9)
}

func TestCheckBudget_TripsOnCostLimit(t *testing.T) {
	tr := New(entity.Limits{Window: entity.WindowHour, MaxCostUSD: f64(0.01)}, nil, "usage", nil)
	require.NoError(t, tr.ReportUsage(Report{InputTokens: 10000, Model: "claude-3-5-sonnet-20241022"}))

	allowed, reason := tr.CheckBudget()
	assert.False(t, allowed)
	assert.Contains(t, reason, "Cost")
}

func TestWaitForBudget_ReleasedByUpdateLimits(t *testing.T) {
	tr := New(entity.Limits{Window: entity.WindowHour, MaxCostUSD: f64(0.01)}, nil, "usage", nil)
	require.NoError(t, tr.ReportUsage(Report{InputTokens: 10000, Model: "claude-3-5-sonnet-20241022"}))

	var pausedFired bool
	tr.SetOnPausedCallback(func(PausedInfo) { pausedFired = true })

	done := make(chan error, 1)
	go func() {
		done <- tr.WaitForBudget(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, pausedFired)

	tr.UpdateLimits(entity.Limits{MaxCostUSD: f64(1.0)})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForBudget was not released by UpdateLimits")
	}
}

func TestWaitForBudget_ReturnsImmediatelyWhenAllowed(t *testing.T) {
	tr := New(entity.Limits{Window: entity.WindowDay}, nil, "usage", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.NoError(t, tr.WaitForBudget(ctx))
}

func TestPersistence_RoundTripsWithinSameWindow(t *testing.T) {
	storage := newMemStorage()
	limits := entity.Limits{Window: entity.WindowDay, MaxTotalTokens: i64(1_000_000)}

	tr1 := New(limits, storage, "usage", nil)
	require.NoError(t, tr1.ReportUsage(Report{InputTokens: 200, OutputTokens: 100, Model: "claude-3-haiku-20240307"}))
	want := tr1.GetStats()

	tr2 := New(limits, storage, "usage", nil)
	got := tr2.GetStats()

	assert.Equal(t, want.InputTokens, got.InputTokens)
	assert.Equal(t, want.OutputTokens, got.OutputTokens)
	assert.InDelta(t, want.CostUSD, got.CostUSD, 1e-9)
}

func TestReset_ZeroesStatsAndReleasesParks(t *testing.T) {
	tr := New(entity.Limits{Window: entity.WindowHour, MaxTotalTokens: i64(1)}, nil, "usage", nil)
	require.NoError(t, tr.ReportUsage(Report{InputTokens: 10, Model: "claude-3-haiku-20240307"}))

	done := make(chan error, 1)
	go func() { done <- tr.WaitForBudget(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	tr.Reset()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Reset did not release parked caller")
	}
	assert.Equal(t, int64(0), tr.GetStats().TotalTokens)
}
