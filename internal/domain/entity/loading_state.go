package entity

import (
	"sync"
	"sync/atomic"
	"time"
)

// ContinuationRef points at the turn a DispatchingTools phase will resume once
// all pending tool calls have been answered.
type ContinuationRef struct {
	TurnID string
}

// LoadingState is the single shared instance per run. is_loading,
// state_changed_flag and pending_work_flag are lock-free reads for the UI
// thread; the fields under mu are reached only through the methods below.
// The agent loop keeps its pending query in its own fields and stages only
// the tool-call queue here; the run controller decides wake/sleep from
// is_loading and its own wake signal, not from the pending fields.
type LoadingState struct {
	isLoading         atomic.Bool
	stateChangedFlag  atomic.Bool
	pendingWorkFlag   atomic.Bool
	spinnerPhase      atomic.Int32

	mu                  sync.Mutex
	startTime           time.Time
	pendingQuery        string
	hasPendingQuery     bool
	pendingContinuation *ContinuationRef
	pendingTools        []*ToolCall
	currentToolIdx      int
}

// NewLoadingState returns an idle state.
func NewLoadingState() *LoadingState {
	return &LoadingState{}
}

// IsLoading is a lock-free read for the UI thread.
func (s *LoadingState) IsLoading() bool { return s.isLoading.Load() }

// SetLoading flips is_loading and records the start time when entering it.
func (s *LoadingState) SetLoading(loading bool) {
	if loading {
		s.mu.Lock()
		s.startTime = time.Now()
		s.mu.Unlock()
	}
	s.isLoading.Store(loading)
}

// StartTime reports when the current (or most recent) loading span began.
func (s *LoadingState) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// MarkChanged sets state_changed_flag after any transcript-visible mutation.
func (s *LoadingState) MarkChanged() { s.stateChangedFlag.Store(true) }

// ConsumeChanged is the atomic exchange the UI uses to decide a reload.
func (s *LoadingState) ConsumeChanged() bool {
	return s.stateChangedFlag.Swap(false)
}

// MarkPendingWork sets pending_work_flag.
func (s *LoadingState) MarkPendingWork() { s.pendingWorkFlag.Store(true) }

// ConsumePendingWork atomically reads and clears pending_work_flag.
func (s *LoadingState) ConsumePendingWork() bool {
	return s.pendingWorkFlag.Swap(false)
}

// SpinnerPhase/AdvanceSpinner drive the UI's busy indicator.
func (s *LoadingState) SpinnerPhase() int32 { return s.spinnerPhase.Load() }
func (s *LoadingState) AdvanceSpinner()     { s.spinnerPhase.Add(1) }

// SetPendingQuery stages a user query for Composing to pick up.
func (s *LoadingState) SetPendingQuery(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingQuery = text
	s.hasPendingQuery = true
}

// TakePendingQuery clears and returns the staged query, if any.
func (s *LoadingState) TakePendingQuery() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPendingQuery {
		return "", false
	}
	q := s.pendingQuery
	s.pendingQuery = ""
	s.hasPendingQuery = false
	return q, true
}

// SetPendingContinuation stages a continuation turn reference.
func (s *LoadingState) SetPendingContinuation(ref *ContinuationRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingContinuation = ref
}

// TakePendingContinuation clears and returns the staged continuation, if any.
func (s *LoadingState) TakePendingContinuation() *ContinuationRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := s.pendingContinuation
	s.pendingContinuation = nil
	return ref
}

// SetPendingTools installs the tool-call queue for DispatchingTools.
func (s *LoadingState) SetPendingTools(calls []*ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingTools = calls
	s.currentToolIdx = 0
}

// CurrentTool returns the tool call at current_tool_idx, or nil if exhausted.
func (s *LoadingState) CurrentTool() *ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentToolIdx >= len(s.pendingTools) {
		return nil
	}
	return s.pendingTools[s.currentToolIdx]
}

// AdvanceTool moves past the current tool call.
func (s *LoadingState) AdvanceTool() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentToolIdx++
}

// PendingToolsDone reports whether every staged tool call has been dispatched.
func (s *LoadingState) PendingToolsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentToolIdx >= len(s.pendingTools)
}

// ClearTools drops the tool-call queue once a DispatchingTools phase ends.
func (s *LoadingState) ClearTools() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingTools = nil
	s.currentToolIdx = 0
}

// HasWork reports whether anything is staged for the worker to pick up.
func (s *LoadingState) HasWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPendingQuery || s.pendingContinuation != nil || s.currentToolIdx < len(s.pendingTools)
}
