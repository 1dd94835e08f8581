package streaming

// EventType enumerates the typed events P yields, per §4.3.
type EventType string

const (
	EventMessageStart    EventType = "message_start"
	EventTextDelta       EventType = "text_delta"
	EventToolCallStart   EventType = "tool_call_start"
	EventToolCallArgDelta EventType = "tool_call_arg_delta"
	EventToolCallEnd     EventType = "tool_call_end"
	EventUsage           EventType = "usage"
	EventMessageStop     EventType = "message_stop"
	EventError           EventType = "error"
)

// StopReason is the model-reported reason a stream stopped.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopErrorKind StopReason = "error"
)

// ErrorKind names why a stream-level error event was emitted.
type ErrorKind string

// ErrorTruncated is synthesized by the parser itself when the stream ends
// without a message_stop event, per §4.3.
const ErrorTruncated ErrorKind = "truncated"

// Usage is the realized token accounting reported mid- or end-of-stream.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
}

// Event is the tagged union P yields. Only the fields relevant to Type are
// populated; consumers switch on Type.
type Event struct {
	Type EventType

	// message_start
	Model string

	// text_delta
	Text string

	// tool_call_start / tool_call_arg_delta / tool_call_end
	ToolCallID   string
	ToolCallName string // tool_call_start only
	ArgFragment  string // tool_call_arg_delta only
	Arguments    string // tool_call_end only: the fully reassembled argument string

	// usage
	Usage *Usage

	// message_stop
	StopReason StopReason

	// error
	ErrorKind    ErrorKind
	ErrorMessage string
}
