// ABOUTME: Tests for the in-memory change feed
// ABOUTME: Verifies thread scoping, non-blocking publish, and context cleanup

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_PublishReachesThreadSubscribers(t *testing.T) {
	f := NewFeed(nil)
	defer f.Close()

	ctx := context.Background()
	ch, _ := f.Subscribe(ctx, "thread-1")
	other, _ := f.Subscribe(ctx, "thread-2")

	f.Publish("thread-1", &FeedEvent{Type: FeedMessageInserted, Message: &Message{ID: "m1"}})

	select {
	case ev := <-ch:
		assert.Equal(t, "m1", ev.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other:
		t.Fatal("event leaked to another thread's subscriber")
	default:
	}
}

func TestFeed_UnsubscribeClosesChannel(t *testing.T) {
	f := NewFeed(nil)
	defer f.Close()

	ch, subID := f.Subscribe(context.Background(), "thread-1")
	f.Unsubscribe("thread-1", subID)

	_, ok := <-ch
	assert.False(t, ok)

	// Repeated unsubscribe is a no-op.
	f.Unsubscribe("thread-1", subID)
}

func TestFeed_ContextCancelCleansUp(t *testing.T) {
	f := NewFeed(nil)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := f.Subscribe(ctx, "thread-1")
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestFeed_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	f := NewFeed(nil)
	defer f.Close()

	f.Subscribe(context.Background(), "thread-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Well past the buffer size; publish must drop, not block.
		for i := 0; i < subscriberBufferSize*2; i++ {
			f.Publish("thread-1", &FeedEvent{Type: FeedMessageInserted, Message: &Message{ID: "m"}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
}

func TestFeed_CloseClosesAllSubscribers(t *testing.T) {
	f := NewFeed(nil)

	ch1, _ := f.Subscribe(context.Background(), "thread-1")
	ch2, _ := f.Subscribe(context.Background(), "thread-2")
	f.Close()

	_, ok := <-ch1
	require.False(t, ok)
	_, ok = <-ch2
	require.False(t, ok)
}
