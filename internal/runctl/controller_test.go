package runctl

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatcore/internal/agentloop"
	"github.com/ngoclaw/chatcore/internal/domain/entity"
	"github.com/ngoclaw/chatcore/internal/provider"
	"github.com/ngoclaw/chatcore/internal/ratelimit"
	"github.com/ngoclaw/chatcore/internal/store/memstore"
	"github.com/ngoclaw/chatcore/internal/streaming"
	"github.com/ngoclaw/chatcore/internal/tools"
	"github.com/ngoclaw/chatcore/internal/usage"
)

func encodeReply(text string) []byte {
	var buf bytes.Buffer
	enc := streaming.NewEncoder(&buf)
	_ = enc.MessageStart("test-model")
	_ = enc.TextDelta(text)
	_ = enc.Usage(streaming.Usage{InputTokens: 4, OutputTokens: 1})
	_ = enc.MessageStop(streaming.StopEndTurn)
	_ = enc.Done()
	return buf.Bytes()
}

func newTestController(t *testing.T) (*Controller, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	loading := entity.NewLoadingState()
	limiter := ratelimit.New(ratelimit.DefaultConfig(), zap.NewNop())
	tracker := usage.New(entity.Limits{}, nil, "", zap.NewNop())
	mock := provider.NewMock(func(req provider.Request) []byte {
		return encodeReply("hi there")
	})
	executor := tools.NewExecutor(tools.NewInMemoryRegistry(), &tools.Policy{})
	loop := agentloop.New(st, limiter, tracker, mock, executor, nil, loading, zap.NewNop(), agentloop.RunContext{Model: "test-model", MaxTokens: 256})

	c, err := New(context.Background(), loop, st, loading, zap.NewNop())
	require.NoError(t, err)
	return c, st
}

func TestController_SubmitQueryDrainsToIdle(t *testing.T) {
	c, st := newTestController(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go c.Run(ctx)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()
		_ = c.Shutdown(shutdownCtx)
	}()

	require.NoError(t, c.SubmitQuery("hello"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !c.loading.IsLoading() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, c.loading.IsLoading())

	msgs, err := st.ListMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content())
	assert.Equal(t, "hi there", msgs[1].Content())
}

func TestController_ShouldReloadDebouncesWhileLoading(t *testing.T) {
	c, _ := newTestController(t)
	c.loading.SetLoading(true)
	c.loading.MarkChanged()

	assert.True(t, c.ShouldReload(), "first reload after a change should be allowed immediately")

	c.loading.MarkChanged()
	assert.False(t, c.ShouldReload(), "a second change within 100ms should be debounced while loading")
}

func TestController_ShouldReloadAlwaysAllowedWhenIdle(t *testing.T) {
	c, _ := newTestController(t)
	c.loading.SetLoading(false)

	c.loading.MarkChanged()
	assert.True(t, c.ShouldReload())

	c.loading.MarkChanged()
	assert.True(t, c.ShouldReload(), "idle reloads are never debounced")
}

func TestController_ShouldReloadFalseWithoutChange(t *testing.T) {
	c, _ := newTestController(t)
	assert.False(t, c.ShouldReload())
}

func TestController_ShutdownClosesStore(t *testing.T) {
	c, st := newTestController(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go c.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, c.Shutdown(shutdownCtx))

	err := st.AppendMessage(context.Background(), mustMessage(t))
	assert.Error(t, err, "store should reject writes after Close")
}

func mustMessage(t *testing.T) *entity.Message {
	t.Helper()
	msg, err := entity.NewMessage("post-close", "turn", entity.RoleUser, "x")
	require.NoError(t, err)
	return msg
}
