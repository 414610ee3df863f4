package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/anchor/internal/ir"
)

// Async decouples a slow sink from the transition path.
//
// Publish enqueues and returns immediately. Run delivers queued
// notifications to the wrapped sink one at a time in FIFO order; delivery
// errors are logged and the notification is dropped.
//
// The queue is unbounded so a stalled broker never blocks a committed
// transition.
//
// Thread-safety: Publish may be called from any goroutine. Run must be
// called from exactly one goroutine.
type Async struct {
	next   Sink
	logger *slog.Logger

	mu      sync.Mutex
	pending []ir.Notification
	closed  bool
	signal  chan struct{} // buffered, size 1
	done    chan struct{}
}

// NewAsync wraps next. A nil logger discards delivery errors.
func NewAsync(next Sink, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Async{
		next:    next,
		logger:  logger,
		pending: make([]ir.Notification, 0, 64),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Publish enqueues n. After Close it returns ErrClosed.
func (a *Async) Publish(_ context.Context, n ir.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	a.pending = append(a.pending, n)

	// Non-blocking: a buffer of 1 coalesces multiple signals.
	select {
	case a.signal <- struct{}{}:
	default:
	}
	return nil
}

// Run delivers notifications until ctx is cancelled or Close is called and
// the queue has drained.
func (a *Async) Run(ctx context.Context) error {
	defer close(a.done)
	for {
		if n, ok := a.tryDequeue(); ok {
			if err := a.next.Publish(ctx, n); err != nil {
				a.logger.Warn("async delivery failed",
					"id", n.ID,
					"kind", n.Kind(),
					"incident", n.IncidentID,
					"error", err,
				)
			}
			continue
		}

		a.mu.Lock()
		finished := a.closed && len(a.pending) == 0
		a.mu.Unlock()
		if finished {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.signal:
		}
	}
}

// Close stops accepting notifications. Run returns once the queue drains.
func (a *Async) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	close(a.signal)
}

// Wait blocks until Run has returned.
func (a *Async) Wait() {
	<-a.done
}

// Len returns the number of undelivered notifications.
func (a *Async) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Async) tryDequeue() (ir.Notification, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) == 0 {
		return ir.Notification{}, false
	}
	n := a.pending[0]
	a.pending[0] = ir.Notification{}
	if len(a.pending) == 1 {
		a.pending = a.pending[:0]
	} else {
		a.pending = a.pending[1:]
	}
	return n, true
}
