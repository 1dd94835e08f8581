package streaming

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.MessageStart("claude-3-5-sonnet-20241022"))
	require.NoError(t, enc.TextDelta("hel"))
	require.NoError(t, enc.TextDelta("lo"))
	require.NoError(t, enc.ToolCallStart("tc_1", "get_weather"))
	require.NoError(t, enc.ToolCallArgDelta("tc_1", `{"city":`))
	require.NoError(t, enc.ToolCallArgDelta("tc_1", `"A"}`))
	require.NoError(t, enc.ToolCallEnd("tc_1"))
	require.NoError(t, enc.Usage(Usage{InputTokens: 5, OutputTokens: 1}))
	require.NoError(t, enc.MessageStop(StopToolUse))
	require.NoError(t, enc.Done())
	return buf.Bytes()
}

func drain(t *testing.T, r io.Reader) []Event {
	t.Helper()
	p := New(r)
	var events []Event
	for {
		ev, err := p.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestParser_DecodesFullSequence(t *testing.T) {
	events := drain(t, bytes.NewReader(buildFixture(t)))
	require.Len(t, events, 9)

	assert.Equal(t, EventMessageStart, events[0].Type)
	assert.Equal(t, "claude-3-5-sonnet-20241022", events[0].Model)

	assert.Equal(t, EventTextDelta, events[1].Type)
	assert.Equal(t, "hel", events[1].Text)
	assert.Equal(t, "lo", events[2].Text)

	assert.Equal(t, EventToolCallStart, events[3].Type)
	assert.Equal(t, "tc_1", events[3].ToolCallID)

	assert.Equal(t, EventToolCallArgDelta, events[4].Type)
	assert.Equal(t, EventToolCallArgDelta, events[5].Type)

	end := events[6]
	assert.Equal(t, EventToolCallEnd, end.Type)
	assert.Equal(t, `{"city":"A"}`, end.Arguments)

	assert.Equal(t, EventMessageStop, events[8].Type)
	assert.Equal(t, StopToolUse, events[8].StopReason)
}

// byteAtATimeReader forces the scanner to reassemble events across many
// small Read() calls, exercising the chunk-boundary buffering contract.
type byteAtATimeReader struct{ data []byte }

func (r *byteAtATimeReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data[:1])
	r.data = r.data[1:]
	return n, nil
}

func TestParser_SplittingInvariance(t *testing.T) {
	fixture := buildFixture(t)

	whole := drain(t, bytes.NewReader(fixture))
	chunked := drain(t, &byteAtATimeReader{data: fixture})

	require.Equal(t, len(whole), len(chunked))
	for i := range whole {
		assert.Equal(t, whole[i], chunked[i])
	}
}

func TestParser_SynthesizesTruncatedErrorWithoutMessageStop(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.MessageStart("m"))
	require.NoError(t, enc.TextDelta("hel"))
	// stream ends abruptly — no message_stop, no [DONE].

	events := drain(t, bytes.NewReader(buf.Bytes()))
	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, ErrorTruncated, last.ErrorKind)
}

func TestParser_NoTruncationErrorWhenMessageStopSeen(t *testing.T) {
	events := drain(t, bytes.NewReader(buildFixture(t)))
	for _, ev := range events {
		if ev.Type == EventError {
			t.Fatalf("unexpected error event: %+v", ev)
		}
	}
}
