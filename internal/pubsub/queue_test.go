// ABOUTME: Tests for the bounded delivery queue
// ABOUTME: Covers FIFO order, blocking pop, drop-oldest overflow with gap marker, and close

package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqEvent(seq uint64) *Event {
	return &Event{Type: EventMessageCreated, GuildID: "g1", ChannelID: "c1", Sequence: seq}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(8)
	ctx := t.Context()

	for i := uint64(1); i <= 3; i++ {
		dropped, err := q.Push(seqEvent(i))
		require.NoError(t, err)
		assert.False(t, dropped)
	}

	for i := uint64(1); i <= 3; i++ {
		ev, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, ev.Sequence)
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue(8)

	got := make(chan *Event, 1)
	go func() {
		ev, err := q.Pop(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	// Give the consumer time to block.
	time.Sleep(20 * time.Millisecond)
	_, err := q.Push(seqEvent(7))
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, uint64(7), ev.Sequence)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blocked Pop to return")
	}
}

func TestQueue_PopHonorsContextCancellation(t *testing.T) {
	q := NewQueue(8)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after context cancellation")
	}
}

func TestQueue_OverflowDropsOldestAndSignalsGap(t *testing.T) {
	q := NewQueue(4)
	ctx := t.Context()

	for i := uint64(1); i <= 4; i++ {
		dropped, err := q.Push(seqEvent(i))
		require.NoError(t, err)
		assert.False(t, dropped)
	}
	for i := uint64(5); i <= 6; i++ {
		dropped, err := q.Push(seqEvent(i))
		require.NoError(t, err)
		assert.True(t, dropped, "push %d should evict", i)
	}

	// Gap marker is delivered before anything newer than the eviction.
	ev, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventGap, ev.Type)

	// Events 1 and 2 were evicted; 3..6 survive in order.
	for i := uint64(3); i <= 6; i++ {
		ev, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, ev.Sequence)
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(4)

	_, err := q.Push(seqEvent(1))
	require.NoError(t, err)

	q.Close()
	q.Close() // idempotent

	_, err = q.Push(seqEvent(2))
	assert.ErrorIs(t, err, ErrConnectionClosed)

	// Buffered events are discarded on close.
	_, err = q.Pop(t.Context())
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_CloseWakesBlockedPop(t *testing.T) {
	q := NewQueue(4)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}
