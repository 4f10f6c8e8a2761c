// ABOUTME: Tests for the reconciliation function and Timeline wrapper
// ABOUTME: Verifies confirm-in-place, strict push dedupe, fail policies, and final ordering

package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxiahq/chat-gateway/internal/store"
)

func draft(threadID, text string) *store.Message {
	return &store.Message{
		ThreadID:  threadID,
		Direction: store.DirectionOut,
		Kind:      store.KindText,
		Text:      text,
		Status:    store.StatusQueued,
	}
}

func serverRow(id, threadID, text string, at time.Time) *store.Message {
	return &store.Message{
		ID:        id,
		ThreadID:  threadID,
		Direction: store.DirectionOut,
		Kind:      store.KindText,
		Text:      text,
		Status:    store.StatusSent,
		CreatedAt: at,
	}
}

func TestApply_OptimisticAppends(t *testing.T) {
	now := time.Now()
	list := Apply(nil, Event{Type: EventOptimistic, LocalID: "l1", Row: draft("t1", "hi"), At: now})

	require.Len(t, list, 1)
	assert.Equal(t, EntryPending, list[0].Status)
	assert.Equal(t, "l1", list[0].LocalID)
}

func TestApply_ConfirmReplacesInPlace(t *testing.T) {
	now := time.Now()
	list := Apply(nil, Event{Type: EventOptimistic, LocalID: "l1", Row: draft("t1", "hi"), At: now})
	list = Apply(list, Event{Type: EventOptimistic, LocalID: "l2", Row: draft("t1", "bye"), At: now})

	row := serverRow("m1", "t1", "hi", now.Add(time.Second))
	list = Apply(list, Event{Type: EventConfirmed, Row: row})

	require.Len(t, list, 2)
	assert.Equal(t, EntryConfirmed, list[0].Status)
	assert.Equal(t, "m1", list[0].Message.ID)
	assert.Equal(t, "l1", list[0].LocalID)
	assert.Equal(t, EntryPending, list[1].Status)
}

func TestApply_ConfirmWithoutMatchAppends(t *testing.T) {
	row := serverRow("m1", "t1", "hi", time.Now())
	list := Apply(nil, Event{Type: EventConfirmed, Row: row})

	require.Len(t, list, 1)
	assert.Equal(t, EntryConfirmed, list[0].Status)
	assert.Empty(t, list[0].LocalID)
}

func TestApply_FingerprintWindowExpires(t *testing.T) {
	appended := time.Now().Add(-2 * FingerprintWindow)
	list := Apply(nil, Event{Type: EventOptimistic, LocalID: "l1", Row: draft("t1", "hi"), At: appended})

	// Same text but outside the recency window: not the same message.
	row := serverRow("m1", "t1", "hi", time.Now())
	list = Apply(list, Event{Type: EventConfirmed, Row: row})

	require.Len(t, list, 2)
	assert.Equal(t, EntryPending, list[0].Status)
	assert.Equal(t, EntryConfirmed, list[1].Status)
}

func TestApply_FingerprintRequiresSameThreadDirectionText(t *testing.T) {
	now := time.Now()
	list := Apply(nil, Event{Type: EventOptimistic, LocalID: "l1", Row: draft("t1", "hi"), At: now})

	otherText := serverRow("m1", "t1", "different", now)
	list = Apply(list, Event{Type: EventConfirmed, Row: otherText})
	require.Len(t, list, 2)
	assert.Equal(t, EntryPending, list[0].Status)
}

func TestApply_PushDedupesByServerID(t *testing.T) {
	now := time.Now()
	row := serverRow("m1", "t1", "hi", now)

	list := Apply(nil, Event{Type: EventPushed, Row: row})
	list = Apply(list, Event{Type: EventPushed, Row: row})

	assert.Len(t, list, 1)
}

func TestApply_PushAfterConfirmIsDropped(t *testing.T) {
	now := time.Now()
	list := Apply(nil, Event{Type: EventOptimistic, LocalID: "l1", Row: draft("t1", "hi"), At: now})

	row := serverRow("m1", "t1", "hi", now)
	list = Apply(list, Event{Type: EventConfirmed, Row: row})

	// The feed echoes the same row back; it must not duplicate.
	list = Apply(list, Event{Type: EventPushed, Row: row})
	assert.Len(t, list, 1)
}

func TestApply_FailedMarkInPlace(t *testing.T) {
	now := time.Now()
	d := draft("t1", "hi")
	list := Apply(nil, Event{Type: EventOptimistic, LocalID: "l1", Row: d, At: now})
	list = Apply(list, Event{Type: EventFailed, LocalID: "l1", Policy: MarkFailed})

	require.Len(t, list, 1)
	assert.Equal(t, EntryFailed, list[0].Status)
	assert.Equal(t, store.StatusError, list[0].Message.Status)

	// The original draft row passed in is untouched.
	assert.Equal(t, store.StatusQueued, d.Status)
}

func TestApply_FailedRemove(t *testing.T) {
	now := time.Now()
	list := Apply(nil, Event{Type: EventOptimistic, LocalID: "l1", Row: draft("t1", "hi"), At: now})
	list = Apply(list, Event{Type: EventFailed, LocalID: "l1", Policy: Remove})
	assert.Empty(t, list)
}

func TestApply_FailedUnknownLocalIDIsNoOp(t *testing.T) {
	now := time.Now()
	list := Apply(nil, Event{Type: EventOptimistic, LocalID: "l1", Row: draft("t1", "hi"), At: now})
	out := Apply(list, Event{Type: EventFailed, LocalID: "other", Policy: Remove})
	assert.Len(t, out, 1)
}

func TestApply_SortsByServerTimeOncePendingResolved(t *testing.T) {
	base := time.Now()

	// Rows arrive out of order while an optimistic entry is still pending.
	list := Apply(nil, Event{Type: EventOptimistic, LocalID: "l1", Row: draft("t1", "mine"), At: base})
	list = Apply(list, Event{Type: EventPushed, Row: serverRow("m3", "t1", "late", base.Add(3*time.Second))})
	list = Apply(list, Event{Type: EventPushed, Row: serverRow("m2", "t1", "early", base.Add(time.Second))})

	// Arrival order is preserved while pending entries exist.
	assert.Equal(t, "m3", list[1].Message.ID)
	assert.Equal(t, "m2", list[2].Message.ID)

	// Confirming the last pending entry settles the order.
	list = Apply(list, Event{Type: EventConfirmed, Row: serverRow("m1", "t1", "mine", base)})

	require.Len(t, list, 3)
	assert.Equal(t, "m1", list[0].Message.ID)
	assert.Equal(t, "m2", list[1].Message.ID)
	assert.Equal(t, "m3", list[2].Message.ID)
}

func TestApply_InputListNotMutated(t *testing.T) {
	now := time.Now()
	original := Apply(nil, Event{Type: EventOptimistic, LocalID: "l1", Row: draft("t1", "hi"), At: now})

	_ = Apply(original, Event{Type: EventFailed, LocalID: "l1", Policy: MarkFailed})

	assert.Equal(t, EntryPending, original[0].Status)
}

func TestTimeline_OptimisticConfirmFlow(t *testing.T) {
	tl := NewTimeline()
	defer tl.Close()

	d := draft("t1", "hi")
	localID := tl.AppendOptimistic(d)
	require.NotEmpty(t, localID)

	tl.Confirm(serverRow("m1", "t1", "hi", time.Now()))

	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, EntryConfirmed, entries[0].Status)

	// A feed echo of the confirmed row is absorbed by the seen cache.
	tl.Push(serverRow("m1", "t1", "hi", time.Now()))
	assert.Len(t, tl.Entries(), 1)
}

func TestTimeline_PushAndFail(t *testing.T) {
	tl := NewTimeline()
	defer tl.Close()

	localID := tl.AppendOptimistic(draft("t1", "hi"))
	tl.Push(serverRow("in1", "t1", "inbound", time.Now()))
	tl.Fail(localID, MarkFailed)

	entries := tl.Entries()
	require.Len(t, entries, 2)

	var failed, confirmed int
	for _, e := range entries {
		switch e.Status {
		case EntryFailed:
			failed++
		case EntryConfirmed:
			confirmed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, confirmed)
}
