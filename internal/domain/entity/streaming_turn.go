package entity

// StopReason is the model-reported reason a stream stopped.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// Usage is the realized token accounting for one stream.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
}

// StreamingTurn is transient: created per provider stream, destroyed once its
// content has been persisted to the transcript.
type StreamingTurn struct {
	TurnID          string
	AccumulatedText string
	ToolCalls       []*ToolCall
	IsDone          bool
	StopReason      StopReason
	Usage           *Usage

	toolCallIdx map[string]int
}

// NewStreamingTurn starts an empty turn.
func NewStreamingTurn(turnID string) *StreamingTurn {
	return &StreamingTurn{
		TurnID:      turnID,
		toolCallIdx: make(map[string]int),
	}
}

// AppendText accumulates a text delta onto the working assistant message.
func (t *StreamingTurn) AppendText(delta string) {
	t.AccumulatedText += delta
}

// StartToolCall registers a new tool call by id, preserving stream order.
func (t *StreamingTurn) StartToolCall(id, name string) *ToolCall {
	tc := NewToolCall(id, name, nil)
	t.toolCallIdx[id] = len(t.ToolCalls)
	t.ToolCalls = append(t.ToolCalls, tc)
	return tc
}

// ToolCallByID finds a tool call accumulated earlier in the stream.
func (t *StreamingTurn) ToolCallByID(id string) (*ToolCall, bool) {
	idx, ok := t.toolCallIdx[id]
	if !ok {
		return nil, false
	}
	return t.ToolCalls[idx], true
}
