// Live provider driver. Grounded on the teacher's hand-rolled Anthropic SSE
// reader for wire-format fidelity, wired here against the real
// github.com/anthropics/anthropic-sdk-go client instead of a raw net/http
// call — the SDK's own streaming iterator replaces the teacher's manual
// bufio scan over the HTTP response body. The SDK's typed stream events are
// translated into chatcore's canonical SSE wire format and piped to
// internal/streaming.Parser, so the agent loop never depends on which
// provider produced the bytes.
package provider

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ngoclaw/chatcore/internal/streaming"
)

// Anthropic drives the real anthropic-sdk-go client.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic builds a driver from an API key.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (a *Anthropic) OpenStream(ctx context.Context, req Request) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	s := &anthropicStream{reader: pr, cancel: cancel}

	params := buildMessageParams(req)

	go func() {
		enc := streaming.NewEncoder(pw)
		stream := a.client.Messages.NewStreaming(ctx, params)
		tr := &eventTranslator{toolIDs: make(map[int64]string)}

		var closeErr error
		for stream.Next() {
			event := stream.Current()
			if writeErr := tr.translate(enc, event); writeErr != nil {
				closeErr = writeErr
				break
			}
		}
		if closeErr == nil {
			closeErr = stream.Err()
		}
		if closeErr == nil {
			_ = enc.Done()
		}
		_ = pw.CloseWithError(closeErr)
	}()

	return s, nil
}

func buildMessageParams(req Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		case "tool_result":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: t.Parameters},
			},
		})
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
		Tools:     tools,
	}
}

// eventTranslator maps one SDK stream's events onto the canonical wire
// encoder. Tool-call argument deltas and block boundaries mirror the
// teacher's content_block_start/delta/stop handling in sse.go, generalized
// to emit chatcore's own event names instead of accumulating in-process.
// toolIDs tracks the content-block-index -> tool-call-id mapping the SDK
// exposes only at content_block_start, needed again at content_block_stop;
// it is scoped to a single stream, not shared across concurrent requests.
type eventTranslator struct {
	toolIDs map[int64]string
}

func (tr *eventTranslator) translate(enc *streaming.Encoder, event anthropic.MessageStreamEventUnion) error {
	switch event.Type {
	case "message_start":
		return enc.MessageStart(event.Message.Model)

	case "content_block_start":
		block := event.ContentBlock
		if block.Type == "tool_use" {
			tr.toolIDs[event.Index] = block.ID
			return enc.ToolCallStart(block.ID, block.Name)
		}
		return nil

	case "content_block_delta":
		delta := event.Delta
		switch delta.Type {
		case "text_delta":
			return enc.TextDelta(delta.Text)
		case "input_json_delta":
			return enc.ToolCallArgDelta(tr.toolIDs[event.Index], delta.PartialJSON)
		}
		return nil

	case "content_block_stop":
		if id, ok := tr.toolIDs[event.Index]; ok {
			delete(tr.toolIDs, event.Index)
			return enc.ToolCallEnd(id)
		}
		return nil

	case "message_delta":
		if event.Usage.OutputTokens > 0 {
			if err := enc.Usage(streaming.Usage{
				InputTokens:  int(event.Usage.InputTokens),
				OutputTokens: int(event.Usage.OutputTokens),
			}); err != nil {
				return err
			}
		}
		if event.Delta.StopReason != "" {
			return enc.MessageStop(mapStopReason(string(event.Delta.StopReason)))
		}
		return nil

	case "message_stop":
		return nil // final boundary already signalled by message_delta's stop_reason

	default:
		return nil
	}
}

func mapStopReason(sdk string) streaming.StopReason {
	switch sdk {
	case "tool_use":
		return streaming.StopToolUse
	case "max_tokens":
		return streaming.StopMaxTokens
	case "end_turn", "stop_sequence":
		return streaming.StopEndTurn
	default:
		return streaming.StopErrorKind
	}
}

type anthropicStream struct {
	reader  io.Reader
	cancel  context.CancelFunc
	aborted atomic.Bool
}

func (s *anthropicStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *anthropicStream) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		s.cancel()
	}
}
