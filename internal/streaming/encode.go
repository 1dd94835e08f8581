package streaming

import (
	"encoding/json"
	"fmt"
	"io"
)

// Encoder writes canonical SSE events, the inverse of Parser. Used by the
// mock provider and by tests to construct fixture streams without hand
// writing wire text.
type Encoder struct{ w io.Writer }

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

func (e *Encoder) write(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (e *Encoder) MessageStart(model string) error {
	return e.write(string(EventMessageStart), wirePayload{Model: model})
}

func (e *Encoder) TextDelta(text string) error {
	return e.write(string(EventTextDelta), wirePayload{Text: text})
}

func (e *Encoder) ToolCallStart(id, name string) error {
	return e.write(string(EventToolCallStart), wirePayload{ID: id, Name: name})
}

func (e *Encoder) ToolCallArgDelta(id, fragment string) error {
	return e.write(string(EventToolCallArgDelta), wirePayload{ID: id, JSONFragment: fragment})
}

func (e *Encoder) ToolCallEnd(id string) error {
	return e.write(string(EventToolCallEnd), wirePayload{ID: id})
}

func (e *Encoder) Usage(u Usage) error {
	return e.write(string(EventUsage), wirePayload{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheReadTokens:     u.CacheReadTokens,
		CacheCreationTokens: u.CacheCreationTokens,
	})
}

func (e *Encoder) MessageStop(reason StopReason) error {
	return e.write(string(EventMessageStop), wirePayload{StopReason: string(reason)})
}

func (e *Encoder) Error(kind ErrorKind, message string) error {
	return e.write(string(EventError), wirePayload{Kind: string(kind), Message: message})
}

func (e *Encoder) Done() error {
	_, err := fmt.Fprint(e.w, "data: [DONE]\n\n")
	return err
}
