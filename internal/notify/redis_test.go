package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisSink_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisSink_Integration(t *testing.T) {
	sink := NewRedisSink("localhost:6379", "", 0, "anchor.test")
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	sub := sink.client.Subscribe(ctx, sink.Channel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := sample()
	require.NoError(t, sink.Publish(ctx, n))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	want, err := n.Canonical()
	require.NoError(t, err)
	assert.Equal(t, string(want), msg.Payload)
}

func TestRedisSinkDefaultChannel(t *testing.T) {
	sink := NewRedisSink("localhost:0", "", 0, "")
	defer sink.Close()

	assert.Equal(t, DefaultChannel, sink.Channel())
}
