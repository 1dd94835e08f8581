package agentloop

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatcore/internal/domain/entity"
	"github.com/ngoclaw/chatcore/internal/provider"
	"github.com/ngoclaw/chatcore/internal/ratelimit"
	"github.com/ngoclaw/chatcore/internal/store/memstore"
	"github.com/ngoclaw/chatcore/internal/streaming"
	"github.com/ngoclaw/chatcore/internal/tools"
	"github.com/ngoclaw/chatcore/internal/usage"
)

type harness struct {
	loop    *AgentLoop
	st      *memstore.Store
	limiter *ratelimit.Limiter
	tracker *usage.Tracker
}

func newHarness(t *testing.T, script provider.Script, limits entity.Limits, registerWeather bool) *harness {
	t.Helper()
	return newHarnessWithRunContext(t, script, limits, registerWeather, RunContext{Model: "test-model", MaxTokens: 1024})
}

func newHarnessWithRunContext(t *testing.T, script provider.Script, limits entity.Limits, registerWeather bool, rc RunContext) *harness {
	t.Helper()
	st := memstore.New()
	limiter := ratelimit.New(ratelimit.DefaultConfig(), zap.NewNop())
	tracker := usage.New(limits, nil, "", zap.NewNop())

	reg := tools.NewInMemoryRegistry()
	if registerWeather {
		require.NoError(t, reg.Register(&weatherTool{}))
	}
	executor := tools.NewExecutor(reg, &tools.Policy{})

	mock := provider.NewMock(script)
	loading := entity.NewLoadingState()
	rc.Model = "test-model"
	rc.MaxTokens = 1024
	loop := New(st, limiter, tracker, mock, executor, nil, loading, zap.NewNop(), rc)

	return &harness{loop: loop, st: st, limiter: limiter, tracker: tracker}
}

type weatherTool struct{}

func (w *weatherTool) Name() string        { return "get_weather" }
func (w *weatherTool) Description() string { return "gets the weather" }
func (w *weatherTool) Kind() tools.Kind    { return tools.KindFetch }
func (w *weatherTool) Schema() map[string]interface{} { return nil }
func (w *weatherTool) Execute(_ context.Context, args map[string]interface{}) (*tools.Result, error) {
	return &tools.Result{Output: "sunny", Success: true}, nil
}

// runUntilIdle ticks the loop until it returns to Idle or the tick budget is
// exhausted, guarding tests against an infinite loop on a logic regression.
func runUntilIdle(t *testing.T, h *harness, maxTicks int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < maxTicks; i++ {
		changed := h.loop.Tick(ctx)
		if h.loop.State() == StateIdle && !changed {
			return
		}
		if h.loop.State() == StateIdle && i > 0 {
			return
		}
	}
	t.Fatalf("loop did not return to idle within %d ticks (state=%s)", maxTicks, h.loop.State())
}

func encodeSimpleReply(text string, usageIn, usageOut int) []byte {
	var buf bytes.Buffer
	enc := streaming.NewEncoder(&buf)
	_ = enc.MessageStart("test-model")
	_ = enc.TextDelta(text)
	_ = enc.Usage(streaming.Usage{InputTokens: usageIn, OutputTokens: usageOut})
	_ = enc.MessageStop(streaming.StopEndTurn)
	_ = enc.Done()
	return buf.Bytes()
}

func TestAgentLoop_HappyPathNoTools(t *testing.T) {
	script := func(req provider.Request) []byte {
		return encodeSimpleReply("hello", 5, 1)
	}
	h := newHarness(t, script, entity.Limits{}, false)

	require.NoError(t, h.loop.SubmitQuery("hi"))
	runUntilIdle(t, h, 20)

	msgs, err := h.st.ListMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, entity.RoleUser, msgs[0].Role())
	assert.Equal(t, "hi", msgs[0].Content())
	assert.Equal(t, entity.RoleAssistant, msgs[1].Role())
	assert.Equal(t, "hello", msgs[1].Content())

	stats := h.tracker.GetStats()
	assert.EqualValues(t, 1, stats.RequestCount)

	state := h.limiter.GetState()
	assert.Less(t, state.Requests.Tokens, state.Requests.Capacity)
}

func TestAgentLoop_ToolRoundTrip(t *testing.T) {
	call := 0
	script := func(req provider.Request) []byte {
		call++
		if call == 1 {
			var buf bytes.Buffer
			enc := streaming.NewEncoder(&buf)
			_ = enc.MessageStart("test-model")
			_ = enc.ToolCallStart("tc_1", "get_weather")
			_ = enc.ToolCallArgDelta("tc_1", `{"city":`)
			_ = enc.ToolCallArgDelta("tc_1", `"A"}`)
			_ = enc.ToolCallEnd("tc_1")
			_ = enc.Usage(streaming.Usage{InputTokens: 10, OutputTokens: 2})
			_ = enc.MessageStop(streaming.StopToolUse)
			_ = enc.Done()
			return buf.Bytes()
		}
		return encodeSimpleReply("Sunny in A.", 15, 4)
	}
	h := newHarness(t, script, entity.Limits{}, true)

	require.NoError(t, h.loop.SubmitQuery("weather?"))
	runUntilIdle(t, h, 40)

	msgs, err := h.st.ListMessages(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(msgs), 3)

	var sawToolResult bool
	last := msgs[len(msgs)-1]
	for _, m := range msgs {
		if m.Role() == entity.RoleToolResult {
			sawToolResult = true
			assert.Equal(t, "sunny", m.Content())
		}
	}
	assert.True(t, sawToolResult)
	assert.Equal(t, entity.RoleAssistant, last.Role())
	assert.Equal(t, "Sunny in A.", last.Content())
}

func TestAgentLoop_CancelMidStreamTruncates(t *testing.T) {
	script := func(req provider.Request) []byte {
		return encodeSimpleReply("hel", 5, 1)
	}
	h := newHarness(t, script, entity.Limits{}, false)
	ctx := context.Background()

	require.NoError(t, h.loop.SubmitQuery("hi"))
	// Idle -> Composing
	h.loop.Tick(ctx)
	// Composing -> Waiting
	h.loop.Tick(ctx)
	// Waiting -> Streaming
	h.loop.Tick(ctx)
	// Streaming: consume message_start
	h.loop.Tick(ctx)
	// Streaming: consume the text_delta "hel"
	h.loop.Tick(ctx)

	h.loop.Cancel(ctx)
	assert.Equal(t, StateIdle, h.loop.State())

	msgs, err := h.st.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hel", msgs[1].Content())
	assert.Equal(t, entity.RoleSystem, msgs[2].Role())
}

func budgetLimit(usd float64) entity.Limits {
	return entity.Limits{MaxCostUSD: &usd, Window: entity.WindowHour}
}

func TestAgentLoop_BudgetPauseAndRaise(t *testing.T) {
	script := func(req provider.Request) []byte {
		return encodeSimpleReply("fits", 1, 1)
	}
	limits := budgetLimit(0.01)
	var h *harness
	var paused bool
	raised := 1.0
	rc := RunContext{
		OnBudgetPaused: func(ev BudgetPausedEvent) {
			paused = true
			h.tracker.UpdateLimits(entity.Limits{MaxCostUSD: &raised})
		},
	}
	h = newHarnessWithRunContext(t, script, limits, false, rc)
	ctx := context.Background()

	// Spend past the $0.01 ceiling so the tracker is paused going into the
	// second turn.
	spent := 0.03
	require.NoError(t, h.tracker.ReportUsage(usage.Report{InputTokens: 10000, OutputTokens: 1, CostUSD: &spent}))
	allowed, _ := h.tracker.CheckBudget()
	assert.False(t, allowed)

	// Composing -> Waiting for this turn calls WaitForBudget, which fires
	// OnBudgetPaused synchronously before blocking; the callback raises the
	// limit and releases the park immediately.
	require.NoError(t, h.loop.SubmitQuery("another one"))
	runUntilIdle(t, h, 20)

	assert.True(t, paused)

	msgs, err := h.st.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "another one", msgs[0].Content())
	assert.Equal(t, "fits", msgs[1].Content())
}
