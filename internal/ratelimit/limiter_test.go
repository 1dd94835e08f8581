package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatcore/internal/apperrors"
)

func TestAcquire_FirstRequestSucceedsWithoutWaiting(t *testing.T) {
	l := New(DefaultConfig(), zap.NewNop())
	start := time.Now()
	err := l.Acquire(context.Background(), Estimate{InputTokens: 10, OutputTokens: 10})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestAcquire_DebitsAllThreeBuckets(t *testing.T) {
	l := New(Config{RPM: 60, ITPM: 1000, OTPM: 1000, QueueWhenLimited: true, MaxQueueSize: 10, QueueTimeoutMs: 1000}, zap.NewNop())
	require.NoError(t, l.Acquire(context.Background(), Estimate{InputTokens: 100, OutputTokens: 50}))

	state := l.GetState()
	assert.InDelta(t, 59, state.Requests.Tokens, 0.01)
	assert.InDelta(t, 900, state.Input.Tokens, 1)
	assert.InDelta(t, 950, state.Output.Tokens, 1)
}

func TestAcquire_FailsWithTypedErrorWhenQueueingDisabled(t *testing.T) {
	cfg := Config{RPM: 1, ITPM: 100000, OTPM: 100000, QueueWhenLimited: false}
	l := New(cfg, zap.NewNop())
	require.NoError(t, l.Acquire(context.Background(), Estimate{}))

	err := l.Acquire(context.Background(), Estimate{})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeRateLimited, appErr.Code)
	assert.Equal(t, apperrors.RateLimitRPM, appErr.RateLimit.Kind)
}

func TestAcquire_QueueFullRejectsImmediately(t *testing.T) {
	cfg := Config{RPM: 1, ITPM: 100000, OTPM: 100000, QueueWhenLimited: true, MaxQueueSize: 1, QueueTimeoutMs: 5000}
	l := New(cfg, zap.NewNop())
	require.NoError(t, l.Acquire(context.Background(), Estimate{}))

	// Fill the single queue slot with a goroutine that will block.
	go func() { _ = l.Acquire(context.Background(), Estimate{}) }()
	time.Sleep(20 * time.Millisecond)

	err := l.Acquire(context.Background(), Estimate{})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.RateLimitQueueFull, appErr.RateLimit.Kind)
}

func TestAcquire_QueueTimeoutZeroRejectsImmediately(t *testing.T) {
	cfg := Config{RPM: 1, ITPM: 100000, OTPM: 100000, QueueWhenLimited: true, MaxQueueSize: 10, QueueTimeoutMs: 0}
	l := New(cfg, zap.NewNop())
	require.NoError(t, l.Acquire(context.Background(), Estimate{}))

	err := l.Acquire(context.Background(), Estimate{})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.RateLimitTimeout, appErr.RateLimit.Kind)
}

func TestReset_RestoresFullBuckets(t *testing.T) {
	l := New(Config{RPM: 10, ITPM: 100, OTPM: 100, QueueWhenLimited: true, MaxQueueSize: 10, QueueTimeoutMs: 1000}, zap.NewNop())
	require.NoError(t, l.Acquire(context.Background(), Estimate{InputTokens: 50, OutputTokens: 50}))
	l.Reset()
	state := l.GetState()
	assert.Equal(t, 10.0, state.Requests.Tokens)
	assert.Equal(t, 100.0, state.Input.Tokens)
	assert.Equal(t, 100.0, state.Output.Tokens)
}

func TestUpdateConfig_ClampsTokensToNewCapacity(t *testing.T) {
	l := New(Config{RPM: 100, ITPM: 1000, OTPM: 1000, QueueWhenLimited: true, MaxQueueSize: 10, QueueTimeoutMs: 1000}, zap.NewNop())
	l.UpdateConfig(Config{RPM: 10, ITPM: 1000, OTPM: 1000, QueueWhenLimited: true, MaxQueueSize: 10, QueueTimeoutMs: 1000})
	state := l.GetState()
	assert.Equal(t, 10.0, state.Requests.Capacity)
	assert.LessOrEqual(t, state.Requests.Tokens, 10.0)
}

func TestAcquire_QueuesAndEventuallySucceeds(t *testing.T) {
	cfg := Config{RPM: 600, ITPM: 100000, OTPM: 100000, QueueWhenLimited: true, MaxQueueSize: 10, QueueTimeoutMs: 2000}
	l := New(cfg, zap.NewNop())
	for i := 0; i < 600; i++ {
		require.NoError(t, l.Acquire(context.Background(), Estimate{}))
	}
	// 601st request should be forced to wait ~100ms (600 rpm = 10/sec) then succeed.
	err := l.Acquire(context.Background(), Estimate{})
	assert.NoError(t, err)
}
