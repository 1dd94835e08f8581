// Package agentloop implements A, the tick-driven agent loop state machine:
// compose request -> acquire limiter -> open stream -> drive the parser ->
// persist deltas -> dispatch tools -> enqueue continuation or terminate.
// Grounded on the teacher's internal/domain/service/state_machine.go
// (validated transition table) and agent_loop.go (turn orchestration, tool
// dispatch), re-expressed per spec.md §9 as an explicit tick() machine
// instead of a goroutine-owned channel loop.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatcore/internal/apperrors"
	"github.com/ngoclaw/chatcore/internal/domain/entity"
	"github.com/ngoclaw/chatcore/internal/provider"
	"github.com/ngoclaw/chatcore/internal/ratelimit"
	"github.com/ngoclaw/chatcore/internal/store"
	"github.com/ngoclaw/chatcore/internal/streaming"
	"github.com/ngoclaw/chatcore/internal/tools"
	"github.com/ngoclaw/chatcore/internal/usage"
)

// contextTailSize bounds how many prior transcript messages are sent as
// context on each request; Compact trims beyond this once ContextGuard trips.
const contextTailSize = 40

// AgentLoop is A. Exactly one worker (R's worker thread) calls tick and
// submit_query/cancel concurrently with it; the internal mutex guards the
// turn-scoped fields driven by those calls.
type AgentLoop struct {
	mu    sync.Mutex
	state State

	store    store.Store
	limiter  *ratelimit.Limiter
	tracker  *usage.Tracker
	provider provider.Provider
	executor *tools.Executor
	guard    *ContextGuard
	loading  *entity.LoadingState
	logger   *zap.Logger
	rc       RunContext

	pendingQuery    string
	hasPendingQuery bool

	currentTurnID string
	estimate      ratelimit.Estimate

	stream        provider.Stream
	parser        *streaming.Parser
	streamingTurn *entity.StreamingTurn
	assistantMsgID string

	pendingTools   []*entity.ToolCall
	currentToolIdx int

	warnedThresholds map[string]bool
}

// New wires A to its collaborators. All are owned-once by R and passed by
// reference here, per spec.md §9's "global singletons -> owned-once,
// passed-by-reference" design note.
func New(
	st store.Store,
	limiter *ratelimit.Limiter,
	tracker *usage.Tracker,
	prov provider.Provider,
	executor *tools.Executor,
	guard *ContextGuard,
	loading *entity.LoadingState,
	logger *zap.Logger,
	rc RunContext,
) *AgentLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rc.MaxTokens == 0 {
		rc.MaxTokens = 4096
	}
	l := &AgentLoop{
		state:            StateIdle,
		store:            st,
		limiter:          limiter,
		tracker:          tracker,
		provider:         prov,
		executor:         executor,
		guard:            guard,
		loading:          loading,
		logger:           logger,
		rc:               rc,
		warnedThresholds: make(map[string]bool),
	}
	tracker.SetOnPausedCallback(func(p usage.PausedInfo) {
		if rc.OnBudgetPaused != nil {
			rc.OnBudgetPaused(BudgetPausedEvent{Reason: p.Reason, Resume: p.Resume})
		}
	})
	return l
}

// State returns the current state for UI/test inspection.
func (l *AgentLoop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SubmitQuery stages text into the transcript; the contract requires the
// caller (R) to only invoke this while Idle.
func (l *AgentLoop) SubmitQuery(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle {
		return apperrors.NewInvalidInputError("submit_query called while not idle")
	}
	l.pendingQuery = text
	l.hasPendingQuery = true
	l.loading.SetLoading(true)
	l.loading.MarkChanged()
	return nil
}

// Cancel abandons the in-flight stream from any state, per spec.md §4.4's
// "any | cancel()" row. In-flight tool executions already started run to
// completion; their results are persisted but no continuation follows.
func (l *AgentLoop) Cancel(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stream != nil {
		l.stream.Abort()
	}
	if l.assistantMsgID != "" && l.streamingTurn != nil {
		truncated := l.streamingTurn.AccumulatedText
		_ = l.store.UpdateMessage(ctx, l.assistantMsgID, truncated)
		l.persistSystemNote(ctx, "generation cancelled; assistant message truncated")
	}
	l.resetTurnLocked()
	l.state = StateIdle
	l.loading.SetLoading(false)
	l.loading.ClearTools()
	l.loading.MarkChanged()
}

func (l *AgentLoop) resetTurnLocked() {
	l.stream = nil
	l.parser = nil
	l.streamingTurn = nil
	l.assistantMsgID = ""
	l.pendingTools = nil
	l.currentToolIdx = 0
}

// Tick advances the state machine by at most one step and reports whether
// the state (or transcript-visible content) changed.
func (l *AgentLoop) Tick(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateIdle:
		return l.tickIdleLocked(ctx)
	case StateComposing:
		return l.tickComposingLocked(ctx)
	case StateWaiting:
		return l.tickWaitingLocked(ctx)
	case StateStreaming:
		return l.tickStreamingLocked(ctx)
	case StateDispatchingTools:
		return l.tickDispatchingToolsLocked(ctx)
	case StateContinuing:
		return l.tickContinuingLocked()
	default:
		return false
	}
}

// tickIdleLocked handles the "pending_query present" transition: the user
// message is persisted before Composing ever runs, satisfying the edge case
// that it must land in the store before Waiting begins.
func (l *AgentLoop) tickIdleLocked(ctx context.Context) bool {
	if !l.hasPendingQuery {
		return false
	}
	msg, err := entity.NewMessage(uuid.NewString(), uuid.NewString(), entity.RoleUser, l.pendingQuery)
	if err != nil {
		l.logger.Error("agentloop: invalid user message", zap.Error(err))
		l.hasPendingQuery = false
		return false
	}
	if err := l.store.AppendMessage(ctx, msg); err != nil {
		l.persistFatalNote(ctx, err)
		return true
	}
	l.currentTurnID = msg.TurnID()
	l.pendingQuery = ""
	l.hasPendingQuery = false
	l.estimate = l.estimateTokens(ctx)
	_ = l.transition(StateComposing)
	return true
}

// tickComposingLocked performs L.acquire + U.check_budget + (if needed)
// U.wait_for_budget, re-acquiring L if budget releases via window reset,
// per the edge case that the two buckets are independent.
func (l *AgentLoop) tickComposingLocked(ctx context.Context) bool {
	for {
		if err := l.limiter.Acquire(ctx, l.estimate); err != nil {
			l.handleRateLimitError(err)
			_ = l.transition(StateIdle)
			l.loading.SetLoading(false)
			l.loading.MarkChanged()
			return true
		}

		allowed, reason := l.tracker.CheckBudget()
		if allowed {
			break
		}
		l.logger.Info("agentloop: parking on budget", zap.String("reason", reason))
		if err := l.tracker.WaitForBudget(ctx); err != nil {
			_ = l.transition(StateIdle)
			l.loading.SetLoading(false)
			l.loading.MarkChanged()
			return true
		}
		// Budget released; buckets are independent, so L is re-checked.
	}

	l.emitBudgetWarnings()
	_ = l.transition(StateWaiting)
	return true
}

func (l *AgentLoop) handleRateLimitError(err error) {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.RateLimit == nil {
		return
	}
	if l.rc.OnRateLimited != nil {
		l.rc.OnRateLimited(RateLimitedEvent{
			Kind:   string(appErr.RateLimit.Kind),
			WaitMs: appErr.RateLimit.RemainingMs,
		})
	}
}

func (l *AgentLoop) emitBudgetWarnings() {
	if l.rc.OnBudgetWarning == nil {
		return
	}
	for metric, pct := range l.tracker.GetUsagePercentages() {
		if pct >= 0.8 {
			if l.warnedThresholds[metric] {
				continue
			}
			l.warnedThresholds[metric] = true
			l.rc.OnBudgetWarning(BudgetWarningEvent{Metric: metric, PercentUsed: pct})
		} else {
			delete(l.warnedThresholds, metric)
		}
	}
}

// tickWaitingLocked opens the provider stream and initializes the turn.
func (l *AgentLoop) tickWaitingLocked(ctx context.Context) bool {
	req, err := l.buildRequest(ctx)
	if err != nil {
		l.persistFatalNote(ctx, err)
		_ = l.transition(StateIdle)
		return true
	}

	stream, err := l.provider.OpenStream(ctx, req)
	if err != nil {
		l.persistStreamErrorNote(ctx, apperrors.NewStreamError(apperrors.StreamTransport, "failed to open stream", err))
		_ = l.transition(StateIdle)
		l.loading.SetLoading(false)
		l.loading.MarkChanged()
		return true
	}

	l.stream = stream
	l.parser = streaming.New(stream)
	l.streamingTurn = entity.NewStreamingTurn(l.currentTurnID)
	_ = l.transition(StateStreaming)
	return true
}

// tickStreamingLocked pulls exactly one event from P and folds it into
// transcript state, per spec.md §4.4's per-event Streaming transitions.
func (l *AgentLoop) tickStreamingLocked(ctx context.Context) bool {
	ev, err := l.parser.Next()
	if err != nil {
		l.finalizeAssistantMessageLocked(ctx)
		l.persistStreamErrorNote(ctx, apperrors.NewStreamError(apperrors.StreamTransport, "stream read failed", err))
		l.resetTurnLocked()
		_ = l.transition(StateIdle)
		l.loading.SetLoading(false)
		l.loading.MarkChanged()
		return true
	}

	switch ev.Type {
	case streaming.EventMessageStart:
		// model id noted; no transcript effect required.
	case streaming.EventTextDelta:
		l.streamingTurn.AppendText(ev.Text)
		l.persistAssistantDeltaLocked(ctx)
	case streaming.EventToolCallStart:
		l.streamingTurn.StartToolCall(ev.ToolCallID, ev.ToolCallName)
	case streaming.EventToolCallArgDelta:
		// reassembly is internal to P; nothing to persist per fragment.
	case streaming.EventToolCallEnd:
		l.finalizeToolCallLocked(ev)
	case streaming.EventUsage:
		l.stashUsageLocked(ev.Usage)
	case streaming.EventMessageStop:
		return l.handleMessageStopLocked(ctx, ev.StopReason)
	case streaming.EventError:
		l.finalizeAssistantMessageLocked(ctx)
		l.persistStreamErrorNote(ctx, apperrors.NewStreamError(apperrors.StreamKind(ev.ErrorKind), ev.ErrorMessage, nil))
		l.resetTurnLocked()
		_ = l.transition(StateIdle)
		l.loading.SetLoading(false)
		l.loading.MarkChanged()
	}
	l.loading.MarkChanged()
	return true
}

func (l *AgentLoop) finalizeToolCallLocked(ev streaming.Event) {
	tc, ok := l.streamingTurn.ToolCallByID(ev.ToolCallID)
	if !ok {
		return
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
		// Edge case: malformed arguments never reach the executor.
		tc.MarkFailed(fmt.Sprintf("malformed tool arguments: %v", err))
		return
	}
	tc.Arguments = args
}

func (l *AgentLoop) stashUsageLocked(u *streaming.Usage) {
	if u == nil || l.streamingTurn == nil {
		return
	}
	l.streamingTurn.Usage = &entity.Usage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheReadTokens:     u.CacheReadTokens,
		CacheCreationTokens: u.CacheCreationTokens,
	}
}

func (l *AgentLoop) persistAssistantDeltaLocked(ctx context.Context) {
	if l.assistantMsgID == "" {
		msg, err := entity.NewMessage(uuid.NewString(), l.currentTurnID, entity.RoleAssistant, l.streamingTurn.AccumulatedText)
		if err != nil {
			return
		}
		l.assistantMsgID = msg.ID()
		if err := l.store.AppendMessage(ctx, msg); err != nil {
			l.persistFatalNote(ctx, err)
		}
		return
	}
	if err := l.store.UpdateMessage(ctx, l.assistantMsgID, l.streamingTurn.AccumulatedText); err != nil {
		l.persistFatalNote(ctx, err)
	}
}

// finalizeAssistantMessageLocked persists the turn's final assistant state.
// A tool-use turn that emitted no text delta still needs a message here —
// per spec.md §3's invariant, an assistant message and its emitted
// ToolCalls must share the same turn-id, and a continuation's tool_result
// needs a preceding tool_use block to answer.
func (l *AgentLoop) finalizeAssistantMessageLocked(ctx context.Context) {
	if l.streamingTurn == nil {
		return
	}
	if l.assistantMsgID == "" {
		if l.streamingTurn.AccumulatedText == "" && len(l.streamingTurn.ToolCalls) == 0 {
			return
		}
		msg, err := entity.NewMessage(uuid.NewString(), l.currentTurnID, entity.RoleAssistant, l.streamingTurn.AccumulatedText)
		if err != nil {
			return
		}
		msg.SetToolCalls(l.streamingTurn.ToolCalls)
		l.assistantMsgID = msg.ID()
		if err := l.store.AppendMessage(ctx, msg); err != nil {
			l.persistFatalNote(ctx, err)
		}
		return
	}
	if err := l.store.UpdateMessage(ctx, l.assistantMsgID, l.streamingTurn.AccumulatedText); err != nil {
		l.persistFatalNote(ctx, err)
		return
	}
	if len(l.streamingTurn.ToolCalls) > 0 {
		if err := l.store.UpdateMessageToolCalls(ctx, l.assistantMsgID, l.streamingTurn.ToolCalls); err != nil {
			l.persistFatalNote(ctx, err)
		}
	}
}

func (l *AgentLoop) handleMessageStopLocked(ctx context.Context, reason streaming.StopReason) bool {
	l.finalizeAssistantMessageLocked(ctx)
	l.reportUsageLocked()

	switch reason {
	case streaming.StopToolUse:
		l.pendingTools = l.streamingTurn.ToolCalls
		l.currentToolIdx = 0
		l.resetStreamOnlyLocked()
		_ = l.transition(StateDispatchingTools)
		return true
	default:
		l.resetTurnLocked()
		_ = l.transition(StateIdle)
		l.loading.SetLoading(false)
		l.loading.ClearTools()
		return true
	}
}

// resetStreamOnlyLocked clears the stream handle but preserves pendingTools,
// which DispatchingTools still needs.
func (l *AgentLoop) resetStreamOnlyLocked() {
	l.stream = nil
	l.parser = nil
	l.streamingTurn = nil
	l.assistantMsgID = ""
}

func (l *AgentLoop) reportUsageLocked() {
	if l.streamingTurn == nil || l.streamingTurn.Usage == nil {
		return
	}
	u := l.streamingTurn.Usage
	if err := l.tracker.ReportUsage(usage.Report{
		InputTokens:         int64(u.InputTokens),
		OutputTokens:        int64(u.OutputTokens),
		CacheReadTokens:     int64(u.CacheReadTokens),
		CacheCreationTokens: int64(u.CacheCreationTokens),
		Model:               l.rc.Model,
	}); err != nil {
		l.logger.Warn("agentloop: report_usage failed", zap.Error(err))
	}
	if l.rc.OnUsageUpdate != nil {
		l.rc.OnUsageUpdate(l.tracker.GetStats())
	}
}

// tickDispatchingToolsLocked invokes the executor for exactly one pending
// tool call per tick, per spec.md §4.4's "has more" row.
func (l *AgentLoop) tickDispatchingToolsLocked(ctx context.Context) bool {
	if l.currentToolIdx >= len(l.pendingTools) {
		l.pendingTools = nil
		l.currentToolIdx = 0
		l.loading.ClearTools()
		_ = l.transition(StateContinuing)
		return true
	}

	call := l.pendingTools[l.currentToolIdx]
	if l.currentToolIdx == 0 {
		l.loading.SetPendingTools(l.pendingTools)
	}

	if call.Status != entity.ToolCallFailed {
		_ = l.executor.Run(ctx, call)
	}

	content := call.Result
	if call.Status == entity.ToolCallFailed {
		content = "error: " + call.Err
	}
	resultMsg, err := entity.NewMessage(uuid.NewString(), l.currentTurnID, entity.RoleToolResult, content)
	if err == nil {
		resultMsg.SetToolCallID(call.ID)
		if err := l.store.AppendMessage(ctx, resultMsg); err != nil {
			l.persistFatalNote(ctx, err)
		}
	}

	l.currentToolIdx++
	l.loading.AdvanceTool()
	l.loading.MarkChanged()
	return true
}

// tickContinuingLocked stages the continuation and re-enters Composing so
// the next request body includes the freshly appended tool_result messages.
func (l *AgentLoop) tickContinuingLocked() bool {
	l.estimate = ratelimit.Estimate{InputTokens: 512, OutputTokens: l.rc.MaxTokens}
	_ = l.transition(StateComposing)
	return true
}

func (l *AgentLoop) buildRequest(ctx context.Context) (provider.Request, error) {
	msgs, err := l.store.ListMessages(ctx)
	if err != nil {
		return provider.Request{}, err
	}
	if len(msgs) > contextTailSize {
		tail := msgs[len(msgs)-contextTailSize:]
		if l.guard != nil && l.guard.NeedsCompaction(msgs) {
			msgs = Compact(msgs, contextTailSize)
		} else {
			msgs = tail
		}
	}

	pm := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role() {
		case entity.RoleUser:
			pm = append(pm, provider.Message{Role: "user", Content: m.Content()})
		case entity.RoleAssistant:
			msg := provider.Message{Role: "assistant", Content: m.Content()}
			for _, tc := range m.ToolCalls() {
				msg.ToolCalls = append(msg.ToolCalls, provider.ToolUse{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
			}
			pm = append(pm, msg)
		case entity.RoleToolResult:
			pm = append(pm, provider.Message{Role: "tool_result", Content: m.Content(), ToolCallID: m.ToolCallID()})
		case entity.RoleSystem:
			if m.ID() == "compaction-summary" {
				pm = append(pm, provider.Message{Role: "user", Content: m.Content()})
			}
		}
	}

	tds := make([]provider.ToolDef, 0)
	for _, def := range l.executor.ListTools() {
		tds = append(tds, provider.ToolDef{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}

	return provider.Request{
		Messages:    pm,
		Tools:       tds,
		Model:       l.rc.Model,
		MaxTokens:   l.rc.MaxTokens,
		Temperature: l.rc.Temperature,
	}, nil
}

func (l *AgentLoop) estimateTokens(ctx context.Context) ratelimit.Estimate {
	msgs, err := l.store.ListMessages(ctx)
	if err != nil {
		return ratelimit.Estimate{InputTokens: 256, OutputTokens: l.rc.MaxTokens}
	}
	chars := len(l.pendingQuery)
	for _, m := range msgs {
		chars += len(m.Content())
	}
	return ratelimit.Estimate{InputTokens: chars/4 + 16, OutputTokens: l.rc.MaxTokens}
}

func (l *AgentLoop) persistSystemNote(ctx context.Context, note string) {
	msg, err := entity.NewMessage(uuid.NewString(), l.currentTurnID, entity.RoleSystem, note)
	if err != nil {
		return
	}
	_ = l.store.AppendMessage(ctx, msg)
}

func (l *AgentLoop) persistStreamErrorNote(ctx context.Context, err *apperrors.AppError) {
	l.persistSystemNote(ctx, err.Error())
}

func (l *AgentLoop) persistFatalNote(ctx context.Context, err error) {
	l.logger.Error("agentloop: persistence failure", zap.Error(err))
	l.persistSystemNote(ctx, "internal error: "+err.Error())
}
