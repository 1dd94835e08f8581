// Package runctl implements R, the run controller: it owns the agent worker
// goroutine, the transcript store handle, the shared LoadingState, a wake
// condition, and the debounced reload policy the UI loop consumes. Grounded
// on the teacher's cmd/gateway/main.go signal-handling shape and
// internal/interfaces/cli/app.go's asyncSpinner goroutine/cooperative-poll
// pattern, re-expressed around internal/agentloop's tick() contract instead
// of a channel-fed event stream.
package runctl

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatcore/internal/agentloop"
	"github.com/ngoclaw/chatcore/internal/domain/entity"
	"github.com/ngoclaw/chatcore/internal/store"
	"github.com/ngoclaw/chatcore/pkg/safego"
)

// Controller is R.
type Controller struct {
	loop    *agentloop.AgentLoop
	store   store.Store
	loading *entity.LoadingState
	logger  *zap.Logger

	wakeMu sync.Mutex
	wakeCh chan struct{}

	lastReload   time.Time
	reloadMu     sync.Mutex
	tickInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New wires R to its already-constructed collaborators. Ephemeral cleanup
// runs immediately, per spec.md §4.5: any message marked ephemeral from a
// prior process is gone before the worker starts.
func New(ctx context.Context, loop *agentloop.AgentLoop, st store.Store, loading *entity.LoadingState, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.DeleteEphemeral(ctx); err != nil {
		return nil, err
	}
	return &Controller{
		loop:         loop,
		store:        st,
		loading:      loading,
		logger:       logger,
		wakeCh:       make(chan struct{}, 1),
		tickInterval: 10 * time.Millisecond,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// SubmitQuery stages a user message and wakes the worker.
func (c *Controller) SubmitQuery(text string) error {
	if err := c.loop.SubmitQuery(text); err != nil {
		return err
	}
	c.WakeForWork()
	return nil
}

// Cancel aborts the in-flight turn from the caller's goroutine — safe to
// call concurrently with the worker's own Tick, since AgentLoop guards its
// turn-scoped state with its own internal mutex.
func (c *Controller) Cancel(ctx context.Context) {
	c.loop.Cancel(ctx)
}

// WakeForWork signals the condvar-equivalent wake channel; non-blocking.
func (c *Controller) WakeForWork() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// ConsumeStateChanged is the atomic exchange the UI uses to decide whether
// to reload the transcript snapshot.
func (c *Controller) ConsumeStateChanged() bool {
	return c.loading.ConsumeChanged()
}

// ShouldReload applies the debounced reload policy: while is_loading is
// true, reload is permitted at most once per 100ms wall-clock; while idle,
// any state-changed flag triggers a reload immediately.
func (c *Controller) ShouldReload() bool {
	if !c.loading.ConsumeChanged() {
		return false
	}
	if !c.loading.IsLoading() {
		return true
	}
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	now := time.Now()
	if now.Sub(c.lastReload) < 100*time.Millisecond {
		return false
	}
	c.lastReload = now
	return true
}

// IsLoading is a lock-free read the UI uses to decide whether a turn is
// still in flight.
func (c *Controller) IsLoading() bool {
	return c.loading.IsLoading()
}

// Snapshot reloads the transcript straight from the store; it takes no lock
// of its own.
func (c *Controller) Snapshot(ctx context.Context) ([]*entity.Message, error) {
	return c.store.ListMessages(ctx)
}

// Run drives the worker goroutine until Shutdown is called or ctx is
// cancelled: it ticks the loop whenever work is pending, and otherwise
// blocks on the wake channel, per spec.md §5's "condvar wait inside R when
// the worker has no work" suspension point. The loop body runs under
// panic recovery so a bug in a tool or provider can't take the process
// down with it; Run itself blocks until the worker exits.
func (c *Controller) Run(ctx context.Context) {
	safego.Go(c.logger, "runctl-worker", func() {
		c.runLoop(ctx)
	})
	<-c.doneCh
}

func (c *Controller) runLoop(ctx context.Context) {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if c.loading.IsLoading() {
			c.loop.Tick(ctx)
			time.Sleep(c.tickInterval)
			continue
		}

		select {
		case <-c.wakeCh:
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown issues a cancel, releases the worker from its condvar wait, and
// joins it, then closes the store — per spec.md §4.5's shutdown contract.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.loop.Cancel(ctx)
		close(c.stopCh)
	})
	select {
	case <-c.doneCh:
	case <-ctx.Done():
	}
	return c.store.Close()
}
