package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ngoclaw/chatcore/internal/streaming"
)

// Script builds the canonical SSE wire bytes a mock stream plays back for a
// given request. Tests and demo mode supply their own.
type Script func(req Request) []byte

// Mock is the Provider used in demo mode (no api_key configured) and in
// tests that need a deterministic, literal event sequence per §8's
// end-to-end scenarios.
type Mock struct {
	script Script
}

// NewMock builds a Mock that plays back script for every OpenStream call.
func NewMock(script Script) *Mock {
	return &Mock{script: script}
}

// NewDemo builds the mock stream exercised when api_key is absent: a short
// canned reply, so the agent loop runs end to end without a live provider.
func NewDemo() *Mock {
	return NewMock(func(req Request) []byte {
		var buf bytes.Buffer
		enc := streaming.NewEncoder(&buf)
		_ = enc.MessageStart("demo-model")
		_ = enc.TextDelta(fmt.Sprintf("(demo mode — no api_key configured) you said: %q", lastUserText(req)))
		_ = enc.Usage(streaming.Usage{InputTokens: estimateTokens(req), OutputTokens: 12})
		_ = enc.MessageStop(streaming.StopEndTurn)
		_ = enc.Done()
		return buf.Bytes()
	})
}

func lastUserText(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func estimateTokens(req Request) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content) / 4
	}
	return total
}

func (m *Mock) OpenStream(_ context.Context, req Request) (Stream, error) {
	return &mockStream{r: bytes.NewReader(m.script(req))}, nil
}

type mockStream struct {
	r       *bytes.Reader
	aborted atomic.Bool
}

func (s *mockStream) Read(p []byte) (int, error) {
	if s.aborted.Load() {
		return 0, io.ErrClosedPipe
	}
	return s.r.Read(p)
}

func (s *mockStream) Abort() { s.aborted.Store(true) }
