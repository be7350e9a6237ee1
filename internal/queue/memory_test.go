package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, cfg MemoryConfig) *Memory {
	t.Helper()
	m := NewMemory(cfg)
	t.Cleanup(m.Close)
	return m
}

func TestMemory_PublishReceiveAck(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{})
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, "q", []byte(`{"leadId":"l1"}`)))

	msgs, err := m.Receive(ctx, "q", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, `{"leadId":"l1"}`, string(msgs[0].Body))
	assert.Equal(t, 1, msgs[0].ReceiveCount)

	require.NoError(t, m.Ack(ctx, "q", msgs[0].ID))

	ready, inflight, dead := m.Depth("q")
	assert.Zero(t, ready)
	assert.Zero(t, inflight)
	assert.Zero(t, dead)
}

func TestMemory_ReceiveWaitsForPublish(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{})
	ctx := context.Background()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = m.Publish(ctx, "q", []byte("late"))
	}()

	msgs, err := m.Receive(ctx, "q", 1, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "late", string(msgs[0].Body))
}

func TestMemory_ReceiveTimesOutEmpty(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{})

	msgs, err := m.Receive(context.Background(), "q", 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemory_NackRedelivers(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{MaxReceiveCount: 3})
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, "q", []byte("retry-me")))

	msgs, err := m.Receive(ctx, "q", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	firstID := msgs[0].ID

	require.NoError(t, m.Nack(ctx, "q", firstID))

	msgs, err = m.Receive(ctx, "q", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, firstID, msgs[0].ID, "redelivery keeps the message ID")
	assert.Equal(t, 2, msgs[0].ReceiveCount)
}

func TestMemory_DeadLettersAfterMaxReceives(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{MaxReceiveCount: 3})
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, "q", []byte("poison")))

	for i := 0; i < 3; i++ {
		msgs, err := m.Receive(ctx, "q", 1, time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "delivery %d", i+1)
		require.NoError(t, m.Nack(ctx, "q", msgs[0].ID))
	}

	// Fourth receive finds nothing: the message is dead-lettered.
	msgs, err := m.Receive(ctx, "q", 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	dead := m.ListDLQ("q")
	require.Len(t, dead, 1)
	assert.Equal(t, "poison", string(dead[0].Body))
	assert.Equal(t, 3, dead[0].ReceiveCount)
}

func TestMemory_VisibilityTimeoutRedelivers(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{
		VisibilityTimeout: 10 * time.Millisecond,
		MaxReceiveCount:   5,
	})
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, "q", []byte("stalled")))

	msgs, err := m.Receive(ctx, "q", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Consumer never acks. The sweeper runs on a 1s tick; drive expiry
	// directly to keep the test fast.
	time.Sleep(20 * time.Millisecond)
	m.redeliverExpired()

	msgs, err = m.Receive(ctx, "q", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].ReceiveCount)
}

func TestMemory_ReplayDLQResetsReceiveCount(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{MaxReceiveCount: 1})
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, "q", []byte("revive")))
	msgs, err := m.Receive(ctx, "q", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, m.Nack(ctx, "q", msgs[0].ID))
	require.Len(t, m.ListDLQ("q"), 1)

	n, err := m.ReplayDLQ(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, m.ListDLQ("q"))

	msgs, err = m.Receive(ctx, "q", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].ReceiveCount)
}

func TestMemory_PurgeDLQ(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{MaxReceiveCount: 1})
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, "q", []byte("junk")))
	msgs, err := m.Receive(ctx, "q", 1, time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Nack(ctx, "q", msgs[0].ID))

	assert.Equal(t, 1, m.PurgeDLQ("q"))
	assert.Empty(t, m.ListDLQ("q"))
}

func TestMemory_PublishBlocksAtDepth(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{Depth: 1})
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, "q", []byte("one")))

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := m.Publish(shortCtx, "q", []byte("two"))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestMemory_AckUnknownIDIsNoOp(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{})
	assert.NoError(t, m.Ack(context.Background(), "q", "never-seen"))
}

func TestMemory_QueuesAreIndependent(t *testing.T) {
	m := newTestBroker(t, MemoryConfig{})
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, "scrape-requests", []byte("a")))
	require.NoError(t, m.Publish(ctx, "score-requests", []byte("b")))

	msgs, err := m.Receive(ctx, "score-requests", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", string(msgs[0].Body))
}
