// ABOUTME: Realtime Reconciler merging optimistic, confirmed and pushed message rows
// ABOUTME: Pure Apply function plus a Timeline wrapper; duplicates are never allowed

package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxiahq/chat-gateway/internal/store"
)

// FingerprintWindow is how far apart an optimistic entry and a server row may
// be created and still be treated as the same message.
const FingerprintWindow = 30 * time.Second

// EntryStatus tracks an entry's reconciliation state.
type EntryStatus string

const (
	// EntryPending is an optimistic entry awaiting server confirmation.
	EntryPending EntryStatus = "pending"
	// EntryConfirmed is backed by a persisted server row.
	EntryConfirmed EntryStatus = "confirmed"
	// EntryFailed is an optimistic entry whose dispatch resolved to error.
	EntryFailed EntryStatus = "failed"
)

// Entry is one visible message in a thread's timeline.
type Entry struct {
	LocalID    string // set for entries that started optimistic
	Status     EntryStatus
	Message    *store.Message // draft shape while pending; server row once confirmed
	AppendedAt time.Time      // when the optimistic entry appeared locally
}

// FailPolicy controls what happens to an optimistic entry when its dispatch
// fails: mark it failed in place, or drop it from the list.
type FailPolicy int

const (
	MarkFailed FailPolicy = iota
	Remove
)

// EventType identifies a reconciliation input.
type EventType string

const (
	// EventOptimistic inserts a provisional entry for responsive display.
	EventOptimistic EventType = "optimistic"
	// EventConfirmed carries a server row confirmed by persistence.
	EventConfirmed EventType = "confirmed"
	// EventPushed carries a server row from the realtime change feed.
	EventPushed EventType = "pushed"
	// EventFailed marks a provisional entry's dispatch as failed.
	EventFailed EventType = "failed"
)

// Event is one reconciliation input. Which fields are read depends on Type.
type Event struct {
	Type    EventType
	LocalID string         // EventOptimistic, EventFailed
	Row     *store.Message // EventOptimistic (draft), EventConfirmed, EventPushed
	At      time.Time      // EventOptimistic append time
	Policy  FailPolicy     // EventFailed
}

// Apply is the pure reconciliation function: (current list, event) -> new
// list. It is invoked identically from the optimistic-insert site and the
// realtime-subscription callback, so the merge logic stays independent of any
// UI layer. The input slice is never mutated.
//
// Guarantees: a server row id appears at most once; confirming an optimistic
// entry replaces it in place; once no pending entries remain, the list is
// sorted monotonically by server creation time.
func Apply(list []Entry, ev Event) []Entry {
	out := make([]Entry, len(list))
	copy(out, list)

	switch ev.Type {
	case EventOptimistic:
		out = append(out, Entry{
			LocalID:    ev.LocalID,
			Status:     EntryPending,
			Message:    ev.Row,
			AppendedAt: ev.At,
		})

	case EventConfirmed:
		if hasServerID(out, ev.Row.ID) {
			return out
		}
		if i := matchFingerprint(out, ev.Row); i >= 0 {
			out[i].Status = EntryConfirmed
			out[i].Message = ev.Row
		} else {
			out = append(out, Entry{Status: EntryConfirmed, Message: ev.Row})
		}

	case EventPushed:
		// Dedup strictly by server id; arrival order is preserved otherwise.
		if hasServerID(out, ev.Row.ID) {
			return out
		}
		out = append(out, Entry{Status: EntryConfirmed, Message: ev.Row})

	case EventFailed:
		for i := range out {
			if out[i].LocalID == ev.LocalID && out[i].Status == EntryPending {
				if ev.Policy == Remove {
					out = append(out[:i], out[i+1:]...)
				} else {
					failed := *out[i].Message
					failed.Status = store.StatusError
					out[i].Status = EntryFailed
					out[i].Message = &failed
				}
				break
			}
		}
	}

	// Transient reordering is allowed only while provisional entries exist.
	if !anyPending(out) {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].Message, out[j].Message
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})
	}

	return out
}

// hasServerID reports whether a confirmed entry with this server id exists.
func hasServerID(list []Entry, id string) bool {
	if id == "" {
		return false
	}
	for i := range list {
		if list[i].Status != EntryPending && list[i].Message.ID == id {
			return true
		}
	}
	return false
}

// matchFingerprint finds an unreconciled optimistic entry semantically equal
// to the server row: same thread, same direction, same text, appended within
// the recency window of the row's creation.
func matchFingerprint(list []Entry, row *store.Message) int {
	for i := range list {
		e := &list[i]
		if e.Status != EntryPending {
			continue
		}
		if e.Message.ThreadID != row.ThreadID ||
			e.Message.Direction != row.Direction ||
			e.Message.Text != row.Text {
			continue
		}
		delta := row.CreatedAt.Sub(e.AppendedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= FingerprintWindow {
			return i
		}
	}
	return -1
}

func anyPending(list []Entry) bool {
	for i := range list {
		if list[i].Status == EntryPending {
			return true
		}
	}
	return false
}

// Timeline maintains one thread's reconciled message view. It wraps Apply
// with locking and an O(1) seen-id set so feed callbacks can push at volume.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
	seen    *seenCache
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		seen: newSeenCache(10*time.Minute, 4096),
	}
}

// AppendOptimistic inserts a provisional entry and returns its local id.
func (t *Timeline) AppendOptimistic(draft *store.Message) string {
	localID := uuid.New().String()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = Apply(t.entries, Event{
		Type:    EventOptimistic,
		LocalID: localID,
		Row:     draft,
		At:      time.Now(),
	})
	return localID
}

// Confirm reconciles a server row confirmed by persistence.
func (t *Timeline) Confirm(row *store.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen.mark(row.ID)
	t.entries = Apply(t.entries, Event{Type: EventConfirmed, Row: row})
}

// Push reconciles a server row delivered by the realtime change feed.
// Rows already present, via reconciliation or a prior push, are ignored.
func (t *Timeline) Push(row *store.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen.checkAndMark(row.ID) {
		return
	}
	t.entries = Apply(t.entries, Event{Type: EventPushed, Row: row})
}

// Fail marks an optimistic entry's dispatch as failed, leaving every other
// entry untouched.
func (t *Timeline) Fail(localID string, policy FailPolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = Apply(t.entries, Event{Type: EventFailed, LocalID: localID, Policy: policy})
}

// Entries returns a snapshot of the visible list.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Close releases the seen-id cache.
func (t *Timeline) Close() {
	t.seen.close()
}
