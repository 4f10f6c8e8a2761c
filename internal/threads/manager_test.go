// ABOUTME: Tests for the thread lifecycle manager
// ABOUTME: Verifies transition rules, audit records, and persist-before-broadcast behavior

package threads

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxiahq/chat-gateway/internal/store"
)

type fixture struct {
	store   *store.SQLiteStore
	manager *Manager
	thread  *store.Thread
}

func newFixture(t *testing.T, status string) *fixture {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	account := &store.Account{ID: uuid.New().String(), Name: "Clinic", Endpoint: "http://gw", APIKey: "k", Active: true}
	require.NoError(t, s.UpsertAccount(ctx, account))

	contact := &store.Contact{
		ID: uuid.New().String(), AccountID: account.ID,
		E164: "+5511987654321", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateContact(ctx, contact))

	now := time.Now().UTC()
	thread := &store.Thread{
		ID: uuid.New().String(), AccountID: account.ID, ContactID: contact.ID,
		Status: status, LastActivityAt: now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateThread(ctx, thread))

	return &fixture{store: s, manager: New(s, nil), thread: thread}
}

func TestUpdateStatus_PendingToOpen(t *testing.T) {
	f := newFixture(t, store.ThreadPending)
	ctx := context.Background()

	require.NoError(t, f.manager.UpdateStatus(ctx, f.thread.ID, store.ThreadOpen, "user-1"))

	thread, err := f.store.GetThread(ctx, f.thread.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ThreadOpen, thread.Status)
}

func TestUpdateStatus_PendingDirectlyToResolved(t *testing.T) {
	f := newFixture(t, store.ThreadPending)
	require.NoError(t, f.manager.UpdateStatus(context.Background(), f.thread.ID, store.ThreadResolved, "user-1"))
}

func TestUpdateStatus_ResolvedIsTerminal(t *testing.T) {
	f := newFixture(t, store.ThreadOpen)
	ctx := context.Background()

	require.NoError(t, f.manager.UpdateStatus(ctx, f.thread.ID, store.ThreadResolved, "user-1"))

	err := f.manager.UpdateStatus(ctx, f.thread.ID, store.ThreadOpen, "user-1")
	require.ErrorIs(t, err, ErrInvalidTransition)

	thread, err := f.store.GetThread(ctx, f.thread.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ThreadResolved, thread.Status)
}

func TestUpdateStatus_OpenBackToPendingRejected(t *testing.T) {
	f := newFixture(t, store.ThreadOpen)
	err := f.manager.UpdateStatus(context.Background(), f.thread.ID, store.ThreadPending, "user-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatus_SameStatusIsNoOp(t *testing.T) {
	f := newFixture(t, store.ThreadOpen)
	require.NoError(t, f.manager.UpdateStatus(context.Background(), f.thread.ID, store.ThreadOpen, "user-1"))
}

func TestUpdateStatus_MissingThread(t *testing.T) {
	f := newFixture(t, store.ThreadOpen)
	err := f.manager.UpdateStatus(context.Background(), "missing", store.ThreadResolved, "user-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateStatus_RejectedTransitionIsAudited(t *testing.T) {
	f := newFixture(t, store.ThreadOpen)
	ctx := context.Background()

	require.NoError(t, f.manager.UpdateStatus(ctx, f.thread.ID, store.ThreadResolved, "user-1"))
	require.Error(t, f.manager.UpdateStatus(ctx, f.thread.ID, store.ThreadOpen, "user-1"))

	action := store.AuditUpdateThreadStatus
	entries, err := f.store.ListAuditLog(ctx, store.AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var failures int
	for _, e := range entries {
		if !e.Success {
			failures++
			assert.Equal(t, "resolved", e.Detail["from"])
			assert.Equal(t, "open", e.Detail["to"])
		}
	}
	assert.Equal(t, 1, failures)
}

func TestUpdateAssignee_SetAndUnset(t *testing.T) {
	f := newFixture(t, store.ThreadOpen)
	ctx := context.Background()

	assignee := "user-7"
	require.NoError(t, f.manager.UpdateAssignee(ctx, f.thread.ID, &assignee, "user-1"))

	thread, err := f.store.GetThread(ctx, f.thread.ID)
	require.NoError(t, err)
	require.NotNil(t, thread.AssigneeID)
	assert.Equal(t, "user-7", *thread.AssigneeID)

	require.NoError(t, f.manager.UpdateAssignee(ctx, f.thread.ID, nil, "user-1"))
	thread, err = f.store.GetThread(ctx, f.thread.ID)
	require.NoError(t, err)
	assert.Nil(t, thread.AssigneeID)
}

func TestSubscribeThread_ReceivesPersistedChanges(t *testing.T) {
	f := newFixture(t, store.ThreadOpen)
	ctx := context.Background()

	messages := make(chan *store.Message, 8)
	threadEvents := make(chan *store.Thread, 8)
	sub := f.manager.SubscribeThread(f.thread.ID, Handlers{
		OnMessage: func(m *store.Message) { messages <- m },
		OnThread:  func(th *store.Thread) { threadEvents <- th },
	})
	defer sub.Close()

	msg := &store.Message{
		ID: uuid.New().String(), ThreadID: f.thread.ID,
		Direction: store.DirectionOut, Kind: store.KindText, Text: "hi",
		Status: store.StatusQueued, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveMessage(ctx, msg))

	select {
	case got := <-messages:
		assert.Equal(t, msg.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("message handler never fired")
	}

	require.NoError(t, f.manager.UpdateStatus(ctx, f.thread.ID, store.ThreadResolved, "user-1"))

	select {
	case got := <-threadEvents:
		// The broadcast carries the already-persisted state.
		assert.Equal(t, store.ThreadResolved, got.Status)
	case <-time.After(time.Second):
		t.Fatal("thread handler never fired")
	}
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	f := newFixture(t, store.ThreadOpen)
	ctx := context.Background()

	var delivered int
	sub := f.manager.SubscribeThread(f.thread.ID, Handlers{
		OnMessage: func(*store.Message) { delivered++ },
	})
	sub.Close()
	sub.Close() // idempotent

	msg := &store.Message{
		ID: uuid.New().String(), ThreadID: f.thread.ID,
		Direction: store.DirectionOut, Kind: store.KindText, Text: "hi",
		Status: store.StatusQueued, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveMessage(ctx, msg))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, delivered)
}

func TestUpdateStatus_FailedWriteBroadcastsNothing(t *testing.T) {
	f := newFixture(t, store.ThreadOpen)

	var broadcasts int
	sub := f.manager.SubscribeThread(f.thread.ID, Handlers{
		OnThread: func(*store.Thread) { broadcasts++ },
	})
	defer sub.Close()

	// Invalid transition: rejected before any persistence.
	require.Error(t, f.manager.UpdateStatus(context.Background(), f.thread.ID, "bogus", "user-1"))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, broadcasts)
}
