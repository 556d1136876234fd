// Package batch debounces rapid-fire messages per session so users who
// type across several bubbles get one combined answer instead of one
// answer per fragment.
package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cobrance/lucia/pkg/logger"
	"github.com/cobrance/lucia/pkg/negotiation"
)

// ErrSessionTerminated rejects waiters whose batch was cancelled before
// it could be processed.
var ErrSessionTerminated = errors.New("session terminated")

const (
	DefaultWindow  = 5 * time.Second
	DefaultMaxSize = 20
)

// Result is what every sender in a batch receives: the turn outcome and
// the snapshot the caller should persist.
type Result struct {
	Outcome  negotiation.Result
	Snapshot negotiation.Snapshot
}

// Processor handles one flushed batch: the combined message and the
// snapshot captured when the batch was opened.
type Processor func(ctx context.Context, combined string, snap negotiation.Snapshot) (*Result, error)

type outcome struct {
	result *Result
	err    error
}

type pendingBatch struct {
	messages []string
	waiters  []chan outcome
	timer    *time.Timer
	snapshot negotiation.Snapshot
}

// Coordinator accumulates messages per session and flushes them to the
// processor when the debounce window elapses or the batch hits its cap.
// Every message in a flushed batch resolves with the same Result.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*pendingBatch

	window  time.Duration
	maxSize int
	process Processor
}

func NewCoordinator(window time.Duration, maxSize int, process Processor) *Coordinator {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Coordinator{
		pending: make(map[string]*pendingBatch),
		window:  window,
		maxSize: maxSize,
		process: process,
	}
}

// Enqueue adds a message to the session's batch and blocks until the
// batch is processed. Every call replaces the stored snapshot, so the
// flush runs against the most recent session state even when another
// turn completed while the batch was open. Each message restarts the
// debounce timer.
func (c *Coordinator) Enqueue(ctx context.Context, sessionID, message string, snap negotiation.Snapshot) (*Result, error) {
	waiter := make(chan outcome, 1)

	c.mu.Lock()
	b, ok := c.pending[sessionID]
	if !ok {
		b = &pendingBatch{}
		c.pending[sessionID] = b
	} else if b.timer != nil {
		b.timer.Stop()
	}

	b.snapshot = snap
	b.messages = append(b.messages, message)
	b.waiters = append(b.waiters, waiter)

	if len(b.messages) >= c.maxSize {
		logger.DebugCF("batch", "size cap reached, flushing", map[string]any{"session": sessionID, "size": len(b.messages)})
		c.mu.Unlock()
		c.flush(ctx, sessionID)
	} else {
		b.timer = time.AfterFunc(c.window, func() {
			c.flush(context.Background(), sessionID)
		})
		c.mu.Unlock()
	}

	select {
	case out := <-waiter:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel drops the session's pending batch, rejecting every waiter.
func (c *Coordinator) Cancel(sessionID string) {
	c.mu.Lock()
	b, ok := c.pending[sessionID]
	if ok {
		delete(c.pending, sessionID)
		if b.timer != nil {
			b.timer.Stop()
		}
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	for _, w := range b.waiters {
		w <- outcome{err: ErrSessionTerminated}
	}
}

// Pending reports how many messages are queued for a session.
func (c *Coordinator) Pending(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.pending[sessionID]; ok {
		return len(b.messages)
	}
	return 0
}

// flush takes the batch out of the map before processing, so messages
// arriving mid-processing start a fresh batch instead of joining one
// that is already being answered.
func (c *Coordinator) flush(ctx context.Context, sessionID string) {
	c.mu.Lock()
	b, ok := c.pending[sessionID]
	if ok {
		delete(c.pending, sessionID)
		if b.timer != nil {
			b.timer.Stop()
		}
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	combined := strings.Join(b.messages, "\n")
	logger.DebugCF("batch", "processing batch", map[string]any{"session": sessionID, "messages": len(b.messages)})

	result, err := c.process(ctx, combined, b.snapshot)
	for _, w := range b.waiters {
		w <- outcome{result: result, err: err}
	}
}
