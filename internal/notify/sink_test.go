package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/ir"
)

func sample() ir.Notification {
	return ir.Notification{
		ID:         "n-1",
		IncidentID: 42,
		Timestamp:  time.Unix(1700000000, 0).UTC(),
		Payload: ir.EventAppended{
			EventHash:  ir.RepeatByte(0xBB),
			NewHead:    ir.RepeatByte(0xCC),
			EventCount: 2,
		},
	}
}

func TestFanoutPublishesToAll(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	failing := SinkFunc(func(context.Context, ir.Notification) error {
		return errors.New("down")
	})

	err := Fanout{a, failing, nil, b}.Publish(context.Background(), sample())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink 1: down")
	assert.Len(t, a.Notifications(), 1)
	assert.Len(t, b.Notifications(), 1, "later sinks still receive after a failure")
}

func TestFanoutEmpty(t *testing.T) {
	assert.NoError(t, Fanout{}.Publish(context.Background(), sample()))
}

func TestRecorderReset(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.Publish(context.Background(), sample()))
	require.NoError(t, r.Publish(context.Background(), sample()))
	assert.Len(t, r.Notifications(), 2)

	r.Reset()
	assert.Empty(t, r.Notifications())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	require.NoError(t, NewLogSink(logger).Publish(context.Background(), sample()))

	out := buf.String()
	assert.Contains(t, out, "kind=event_appended")
	assert.Contains(t, out, "incident=42")
	assert.Contains(t, out, "count=2")
	assert.Contains(t, out, "head="+ir.RepeatByte(0xCC).String())
}
