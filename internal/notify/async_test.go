package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/ir"
)

func TestAsync_DeliversInOrder(t *testing.T) {
	rec := NewRecorder()
	a := NewAsync(rec, nil)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		n := sample()
		n.ID = fmt.Sprintf("n-%d", i)
		require.NoError(t, a.Publish(ctx, n))
	}

	go a.Run(ctx)
	a.Close()
	a.Wait()

	got := rec.Notifications()
	require.Len(t, got, 100)
	for i, n := range got {
		assert.Equal(t, fmt.Sprintf("n-%d", i), n.ID)
	}
	assert.Equal(t, 0, a.Len())
}

func TestAsync_PublishAfterClose(t *testing.T) {
	a := NewAsync(NewRecorder(), nil)
	a.Close()
	a.Close() // idempotent

	assert.ErrorIs(t, a.Publish(context.Background(), sample()), ErrClosed)
}

func TestAsync_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	failing := SinkFunc(func(context.Context, ir.Notification) error {
		return errors.New("unreachable")
	})
	a := NewAsync(failing, slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, a.Publish(context.Background(), sample()))
	go a.Run(context.Background())
	a.Close()
	a.Wait()

	assert.Contains(t, buf.String(), "async delivery failed")
	assert.Contains(t, buf.String(), "unreachable")
}

func TestAsync_ContextCancel(t *testing.T) {
	a := NewAsync(NewRecorder(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
