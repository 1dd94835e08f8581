// Package provider defines the external "Provider stream" collaborator from
// §6: an opaque object yielding byte chunks framed as the canonical SSE
// events internal/streaming decodes, plus an Abort for cancellation. mock.go
// backs demo mode; anthropic.go wires a live provider.
package provider

import (
	"context"
	"io"
)

// ToolUse is one tool_use content block an assistant message emitted,
// carried through a continuation request so a later tool_result's
// ToolCallID has a matching block to answer.
type ToolUse struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Message is one transcript entry as sent to the provider.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolUse
}

// ToolDef describes one callable tool to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Request composes one provider turn.
type Request struct {
	Messages    []Message
	Tools       []ToolDef
	Model       string
	MaxTokens   int
	Temperature float64
}

// Stream is the opaque, abortable byte source A reads via internal/streaming.
type Stream interface {
	io.Reader
	// Abort cancels the in-flight stream; a subsequent Read returns an error.
	// Safe to call more than once and safe to call concurrently with Read.
	Abort()
}

// Provider opens one stream per turn. At most one stream per provider
// session is active at any time, per §3's invariant — enforced by A, not by
// the provider itself.
type Provider interface {
	OpenStream(ctx context.Context, req Request) (Stream, error)
}
