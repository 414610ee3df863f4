// Package notify delivers committed-transition notifications to observers.
//
// Delivery is fire-and-forget from the engine's point of view: a sink error
// is logged by the caller and never undoes the committed write.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/anchor/internal/ir"
)

// Sink receives notifications after a transition commits.
type Sink interface {
	Publish(ctx context.Context, n ir.Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n ir.Notification) error

func (f SinkFunc) Publish(ctx context.Context, n ir.Notification) error { return f(ctx, n) }

// Fanout publishes to every sink in order. All sinks are tried even if an
// earlier one fails; the failures are joined.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, n ir.Notification) error {
	var errs []error
	for i, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every notification in memory, in publish order.
//
// Thread-safety: Recorder is safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	seen []ir.Notification
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, n ir.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
	return nil
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []ir.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ir.Notification, len(r.seen))
	copy(out, r.seen)
	return out
}

// Reset discards recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = nil
}

// ErrClosed is returned by Publish on a closed Async sink.
var ErrClosed = errors.New("notify: sink closed")
