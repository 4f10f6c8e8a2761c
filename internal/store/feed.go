// ABOUTME: In-memory fan-out change feed for thread-scoped realtime updates
// ABOUTME: Publishes persisted message/thread changes to all subscribers of a thread

package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// FeedEventType identifies what changed.
type FeedEventType string

const (
	FeedMessageInserted FeedEventType = "message_inserted"
	FeedMessageUpdated  FeedEventType = "message_updated"
	FeedThreadUpdated   FeedEventType = "thread_updated"
)

// FeedEvent is one change notification. Exactly one of Message or Thread is
// set, depending on Type.
type FeedEvent struct {
	Type    FeedEventType
	Message *Message
	Thread  *Thread
}

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Feed provides in-memory pub/sub for persisted changes, scoped by thread id.
// Subscribers receive events as rows are written, enabling realtime views
// without polling. Publishes never block: events are dropped for subscribers
// whose channels are full.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *FeedEvent // threadID -> subID -> ch
	logger      *slog.Logger
}

// NewFeed creates a feed. Pass nil logger for default.
func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		subscribers: make(map[string]map[string]chan *FeedEvent),
		logger:      logger.With("component", "feed"),
	}
}

// Subscribe registers a subscriber for events on the given thread. Returns a
// channel that receives events and a subscription ID for later unsubscription.
// The subscription is automatically cleaned up when ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context, threadID string) (<-chan *FeedEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *FeedEvent, subscriberBufferSize)

	f.mu.Lock()
	if _, ok := f.subscribers[threadID]; !ok {
		f.subscribers[threadID] = make(map[string]chan *FeedEvent)
	}
	f.subscribers[threadID][subID] = ch
	f.mu.Unlock()

	f.logger.Debug("subscriber added", "thread_id", threadID, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		f.Unsubscribe(threadID, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given thread.
func (f *Feed) Publish(threadID string, event *FeedEvent) {
	f.mu.RLock()
	subs, ok := f.subscribers[threadID]
	if !ok || len(subs) == 0 {
		f.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding it during sends
	targets := make([]chan *FeedEvent, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	f.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
			// Sent
		default:
			f.logger.Debug("dropped event for slow subscriber",
				"thread_id", threadID, "type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (f *Feed) Unsubscribe(threadID, subID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.subscribers[threadID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(f.subscribers, threadID)
	}

	f.logger.Debug("subscriber removed", "thread_id", threadID, "sub_id", subID)
}

// Close shuts down the feed and closes all subscriber channels.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for threadID, subs := range f.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(f.subscribers, threadID)
	}

	f.logger.Debug("feed closed")
}
