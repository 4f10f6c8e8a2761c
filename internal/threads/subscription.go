// ABOUTME: Explicit per-thread subscription handle over the store change feed
// ABOUTME: Open on thread selection, Close on deselection; no shared channel references

package threads

import (
	"context"

	"github.com/praxiahq/chat-gateway/internal/store"
)

// Handlers receives change feed events for a subscribed thread. Nil handlers
// are skipped.
type Handlers struct {
	OnMessage func(*store.Message) // inserts and status updates
	OnThread  func(*store.Thread)  // lifecycle and assignment changes
}

// Subscription is an open realtime subscription for one thread. The handle
// owns its feed registration; Close is idempotent and must be called when the
// thread is deselected.
type Subscription struct {
	threadID string
	subID    string
	cancel   context.CancelFunc
	done     chan struct{}
}

// SubscribeThread opens a subscription scoped to one thread and pumps feed
// events into the handlers from a single goroutine, preserving arrival order.
func (m *Manager) SubscribeThread(threadID string, h Handlers) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := m.store.SubscribeThread(ctx, threadID)

	sub := &Subscription{
		threadID: threadID,
		subID:    subID,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		for ev := range ch {
			switch ev.Type {
			case store.FeedMessageInserted, store.FeedMessageUpdated:
				if h.OnMessage != nil {
					h.OnMessage(ev.Message)
				}
			case store.FeedThreadUpdated:
				if h.OnThread != nil {
					h.OnThread(ev.Thread)
				}
			}
		}
	}()

	m.logger.Debug("thread subscribed", "thread_id", threadID, "sub_id", subID)
	return sub
}

// Close tears down the subscription and waits for the handler goroutine to
// drain. Safe to call multiple times.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}
