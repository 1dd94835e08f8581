// Package streaming implements P, the streaming event parser: it consumes a
// chunked byte stream framed as server-sent events and yields a lazy,
// forward-only sequence of typed events. Grounded on the teacher's
// Anthropic SSE reader (internal/infrastructure/llm/anthropic/sse.go):
// line-by-line event:/data: scanning via bufio, per-tool-call argument
// fragments reassembled by id, and a terminal check for a clean stop.
// Generalized here to decode the provider-agnostic canonical wire events
// this spec names directly, so P itself performs no provider-specific
// branching — that translation is each provider driver's job upstream of P.
package streaming

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ngoclaw/chatcore/internal/apperrors"
)

// wirePayload is the `data:` JSON line's shape; only the fields relevant to
// the paired `event:` line are populated by the sender.
type wirePayload struct {
	Model        string `json:"model,omitempty"`
	Text         string `json:"text,omitempty"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	JSONFragment string `json:"json_fragment,omitempty"`

	InputTokens         int `json:"input_tokens,omitempty"`
	OutputTokens        int `json:"output_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`

	StopReason string `json:"stop_reason,omitempty"`

	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// Parser is P. It is CPU-only: Next reads from the wrapped reader but does
// no interpretation beyond SSE framing and JSON decode; the blocking read
// itself is the "provider stream read" suspension point owned by A, not a
// property of the parser.
type Parser struct {
	scanner *bufio.Scanner

	toolArgs map[string]*strings.Builder
	order    []string

	sawMessageStop bool
	emittedTrunc   bool
	exhausted      bool
}

// New wraps r, a single provider response's byte stream.
func New(r io.Reader) *Parser {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Parser{
		scanner:  scanner,
		toolArgs: make(map[string]*strings.Builder),
	}
}

// Next returns the next event, io.EOF once the stream is fully drained
// (after any synthetic truncation event), or a decode error.
func (p *Parser) Next() (Event, error) {
	if p.exhausted {
		return Event{}, io.EOF
	}

	var eventName string
	var dataLines []string

	for p.scanner.Scan() {
		line := p.scanner.Text()

		switch {
		case line == "":
			if eventName == "" && len(dataLines) == 0 {
				continue
			}
			ev, err := p.dispatch(eventName, strings.Join(dataLines, "\n"))
			if err != nil {
				return Event{}, err
			}
			if ev == nil {
				eventName, dataLines = "", nil
				continue
			}
			return *ev, nil
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return p.finish()
			}
			dataLines = append(dataLines, data)
		}
	}

	if err := p.scanner.Err(); err != nil {
		p.exhausted = true
		return Event{}, apperrors.NewStreamError(apperrors.StreamTransport, "reading provider stream", err)
	}

	return p.finish()
}

// finish is reached at stream EOF (or a [DONE] sentinel). If message_stop was
// never observed, emit the synthetic truncation error once before EOF.
func (p *Parser) finish() (Event, error) {
	if !p.sawMessageStop && !p.emittedTrunc {
		p.emittedTrunc = true
		return Event{Type: EventError, ErrorKind: ErrorTruncated, ErrorMessage: "stream ended without message_stop"}, nil
	}
	p.exhausted = true
	return Event{}, io.EOF
}

// dispatch decodes one event:/data: pair into a canonical Event. It returns
// (nil, nil) for a blank pairing with no event name (nothing to emit).
func (p *Parser) dispatch(eventName, data string) (*Event, error) {
	if eventName == "" {
		return nil, nil
	}

	var payload wirePayload
	if data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, apperrors.NewStreamError(apperrors.StreamProtocol, "malformed event payload", err)
		}
	}

	switch EventType(eventName) {
	case EventMessageStart:
		return &Event{Type: EventMessageStart, Model: payload.Model}, nil

	case EventTextDelta:
		return &Event{Type: EventTextDelta, Text: payload.Text}, nil

	case EventToolCallStart:
		p.toolArgs[payload.ID] = &strings.Builder{}
		p.order = append(p.order, payload.ID)
		return &Event{Type: EventToolCallStart, ToolCallID: payload.ID, ToolCallName: payload.Name}, nil

	case EventToolCallArgDelta:
		if b, ok := p.toolArgs[payload.ID]; ok {
			b.WriteString(payload.JSONFragment)
		}
		return &Event{Type: EventToolCallArgDelta, ToolCallID: payload.ID, ArgFragment: payload.JSONFragment}, nil

	case EventToolCallEnd:
		full := ""
		if b, ok := p.toolArgs[payload.ID]; ok {
			full = b.String()
			delete(p.toolArgs, payload.ID)
		}
		return &Event{Type: EventToolCallEnd, ToolCallID: payload.ID, Arguments: full}, nil

	case EventUsage:
		return &Event{Type: EventUsage, Usage: &Usage{
			InputTokens:         payload.InputTokens,
			OutputTokens:        payload.OutputTokens,
			CacheReadTokens:     payload.CacheReadTokens,
			CacheCreationTokens: payload.CacheCreationTokens,
		}}, nil

	case EventMessageStop:
		p.sawMessageStop = true
		return &Event{Type: EventMessageStop, StopReason: StopReason(payload.StopReason)}, nil

	case EventError:
		return &Event{Type: EventError, ErrorKind: ErrorKind(payload.Kind), ErrorMessage: payload.Message}, nil

	default:
		return nil, apperrors.NewStreamError(apperrors.StreamProtocol, fmt.Sprintf("unknown event type %q", eventName), nil)
	}
}
