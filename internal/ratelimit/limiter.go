// Package ratelimit implements the continuous-replenishment token-bucket
// limiter (L): independent of all I/O, it enforces requests/min,
// input-tokens/min and output-tokens/min, queueing callers FIFO when the
// configured policy allows it. Grounded on the token-bucket/refill-by-
// elapsed-time/FIFO-waiter-channel shape of a hand-rolled per-provider
// limiter seen in the retrieved corpus, generalized to the three
// independent named buckets this spec requires and backed by
// golang.org/x/time/rate as a secondary cross-check on requests/min.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ngoclaw/chatcore/internal/apperrors"
	"github.com/ngoclaw/chatcore/pkg/safego"
)

// Estimate is the caller's pre-flight token guess for one request.
type Estimate struct {
	InputTokens  int
	OutputTokens int
}

// Config is the limiter's tunable policy. UpdateConfig ignores zero-valued
// numeric fields but always applies QueueWhenLimited.
type Config struct {
	RPM              int
	ITPM             int
	OTPM             int
	QueueWhenLimited bool
	MaxQueueSize     int
	QueueTimeoutMs   int
}

// DefaultConfig matches §4.1's stated defaults.
func DefaultConfig() Config {
	return Config{
		RPM:              60,
		ITPM:             100000,
		OTPM:             20000,
		QueueWhenLimited: true,
		MaxQueueSize:     100,
		QueueTimeoutMs:   60000,
	}
}

// bucket is one of the three independent token pools. 0 <= tokens <=
// capacityPerMinute at all times.
type bucket struct {
	tokens            float64
	capacityPerMinute float64
	lastRefill        time.Time
}

func newBucket(capacityPerMinute float64, now time.Time) *bucket {
	return &bucket{tokens: capacityPerMinute, capacityPerMinute: capacityPerMinute, lastRefill: now}
}

// refill must be called with the limiter's mutex held.
func (b *bucket) refill(now time.Time) {
	elapsedMs := float64(now.Sub(b.lastRefill).Milliseconds())
	if elapsedMs <= 0 {
		return
	}
	b.tokens += (b.capacityPerMinute / 60000.0) * elapsedMs
	if b.tokens > b.capacityPerMinute {
		b.tokens = b.capacityPerMinute
	}
	b.lastRefill = now
}

// waitMs returns the milliseconds until `needed` tokens are available; 0 if
// already available. Must be called after refill, with the lock held.
func (b *bucket) waitMs(needed float64) int64 {
	if needed <= b.tokens {
		return 0
	}
	if b.capacityPerMinute <= 0 {
		return 0
	}
	ms := (needed - b.tokens) * 60000.0 / b.capacityPerMinute
	return int64(math.Ceil(ms))
}

// BucketState is a read-only snapshot for monitoring.
type BucketState struct {
	Tokens   float64
	Capacity float64
}

// State is the snapshot returned by GetState.
type State struct {
	Requests BucketState
	Input    BucketState
	Output   BucketState
}

type queuedRequest struct {
	estimate Estimate
	enqueued time.Time
	deadline time.Time
	done     chan error
}

// Limiter is L: thread-safe, internally locked, requiring no external
// synchronization from callers.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	requests *bucket
	input    *bucket
	output   *bucket
	queue    []*queuedRequest

	rpmCheck *rate.Limiter // secondary cross-check, matches §9's monitoring intent

	processorOnce sync.Once
	wake          chan struct{}
	logger        *zap.Logger
}

// New constructs a Limiter with the given config (zero Config uses defaults).
// logger may be nil; it is only used to recover and log a panic in the
// background queue processor.
func New(cfg Config, logger *zap.Logger) *Limiter {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now()
	l := &Limiter{
		cfg:      cfg,
		requests: newBucket(float64(cfg.RPM), now),
		input:    newBucket(float64(cfg.ITPM), now),
		output:   newBucket(float64(cfg.OTPM), now),
		rpmCheck: rate.NewLimiter(rate.Limit(float64(cfg.RPM)/60.0), max(cfg.RPM, 1)),
		wake:     make(chan struct{}, 1),
		logger:   logger,
	}
	return l
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Acquire returns once one request token, estimate.InputTokens input tokens
// and estimate.OutputTokens output tokens have been debited, or fails with a
// typed *apperrors.AppError. No partial debits ever occur.
func (l *Limiter) Acquire(ctx context.Context, estimate Estimate) error {
	l.mu.Lock()
	now := time.Now()
	l.requests.refill(now)
	l.input.refill(now)
	l.output.refill(now)

	waitRPM := l.requests.waitMs(1)
	waitITPM := l.input.waitMs(float64(estimate.InputTokens))
	waitOTPM := l.output.waitMs(float64(estimate.OutputTokens))

	wait, kind := dominant(waitRPM, waitITPM, waitOTPM)

	if wait == 0 {
		l.requests.tokens--
		l.input.tokens -= float64(estimate.InputTokens)
		l.output.tokens -= float64(estimate.OutputTokens)
		l.rpmCheck.Allow()
		l.mu.Unlock()
		return nil
	}

	if !l.cfg.QueueWhenLimited {
		l.mu.Unlock()
		return apperrors.NewRateLimitedError(kind, wait)
	}

	if len(l.queue) >= l.cfg.MaxQueueSize {
		l.mu.Unlock()
		return apperrors.NewRateLimitedError(apperrors.RateLimitQueueFull, wait)
	}

	qr := &queuedRequest{
		estimate: estimate,
		enqueued: now,
		deadline: now.Add(time.Duration(l.cfg.QueueTimeoutMs) * time.Millisecond),
		done:     make(chan error, 1),
	}
	l.queue = append(l.queue, qr)
	l.mu.Unlock()

	l.startProcessor()
	select {
	case <-l.wake:
	default:
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-qr.done:
		return err
	case <-ctx.Done():
		l.removeFromQueue(qr)
		return ctx.Err()
	}
}

func dominant(rpm, itpm, otpm int64) (int64, apperrors.RateLimitKind) {
	wait := rpm
	kind := apperrors.RateLimitRPM
	if itpm > wait {
		wait = itpm
		kind = apperrors.RateLimitITPM
	}
	if otpm > wait {
		wait = otpm
		kind = apperrors.RateLimitOTPM
	}
	return wait, kind
}

func (l *Limiter) removeFromQueue(target *queuedRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, qr := range l.queue {
		if qr == target {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// startProcessor launches the single background task that services the FIFO
// queue head, per §4.1: "A single processor task polls the queue head."
func (l *Limiter) startProcessor() {
	l.processorOnce.Do(func() {
		safego.Go(l.logger, "ratelimit-processor", l.processLoop)
	})
}

func (l *Limiter) processLoop() {
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			head := l.queue[0]
			now := time.Now()

			if now.After(head.deadline) {
				l.queue = l.queue[1:]
				l.mu.Unlock()
				head.done <- apperrors.NewRateLimitedError(apperrors.RateLimitTimeout, 0)
				continue
			}

			l.requests.refill(now)
			l.input.refill(now)
			l.output.refill(now)

			waitRPM := l.requests.waitMs(1)
			waitITPM := l.input.waitMs(float64(head.estimate.InputTokens))
			waitOTPM := l.output.waitMs(float64(head.estimate.OutputTokens))
			wait, _ := dominant(waitRPM, waitITPM, waitOTPM)

			if wait == 0 {
				l.queue = l.queue[1:]
				l.requests.tokens--
				l.input.tokens -= float64(head.estimate.InputTokens)
				l.output.tokens -= float64(head.estimate.OutputTokens)
				l.mu.Unlock()
				head.done <- nil
				continue
			}

			l.mu.Unlock()
			sleep := wait
			if sleep > 100 {
				sleep = 100
			}
			time.Sleep(time.Duration(sleep) * time.Millisecond)
		}
	}
}

// ReportActual optionally reconciles an over-estimate. Never refunds buckets;
// it exists only so callers can tighten future estimates.
func (l *Limiter) ReportActual(actual Estimate) {
	_ = actual
}

// GetState returns current bucket levels for monitoring.
func (l *Limiter) GetState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.requests.refill(now)
	l.input.refill(now)
	l.output.refill(now)
	return State{
		Requests: BucketState{Tokens: l.requests.tokens, Capacity: l.requests.capacityPerMinute},
		Input:    BucketState{Tokens: l.input.tokens, Capacity: l.input.capacityPerMinute},
		Output:   BucketState{Tokens: l.output.tokens, Capacity: l.output.capacityPerMinute},
	}
}

// UpdateConfig adjusts any non-zero numeric field of partial, clamping
// existing bucket tokens to the new capacity. QueueWhenLimited is always
// taken from partial, so a false value there turns queueing off.
func (l *Limiter) UpdateConfig(partial Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if partial.RPM != 0 {
		l.cfg.RPM = partial.RPM
		l.requests.capacityPerMinute = float64(partial.RPM)
		if l.requests.tokens > l.requests.capacityPerMinute {
			l.requests.tokens = l.requests.capacityPerMinute
		}
		l.rpmCheck = rate.NewLimiter(rate.Limit(float64(partial.RPM)/60.0), max(partial.RPM, 1))
	}
	if partial.ITPM != 0 {
		l.cfg.ITPM = partial.ITPM
		l.input.capacityPerMinute = float64(partial.ITPM)
		if l.input.tokens > l.input.capacityPerMinute {
			l.input.tokens = l.input.capacityPerMinute
		}
	}
	if partial.OTPM != 0 {
		l.cfg.OTPM = partial.OTPM
		l.output.capacityPerMinute = float64(partial.OTPM)
		if l.output.tokens > l.output.capacityPerMinute {
			l.output.tokens = l.output.capacityPerMinute
		}
	}
	l.cfg.QueueWhenLimited = partial.QueueWhenLimited
	if partial.MaxQueueSize != 0 {
		l.cfg.MaxQueueSize = partial.MaxQueueSize
	}
	if partial.QueueTimeoutMs != 0 {
		l.cfg.QueueTimeoutMs = partial.QueueTimeoutMs
	}
}

// Reset restores all buckets to full.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.requests = newBucket(float64(l.cfg.RPM), now)
	l.input = newBucket(float64(l.cfg.ITPM), now)
	l.output = newBucket(float64(l.cfg.OTPM), now)
}
