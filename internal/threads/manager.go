// ABOUTME: Thread Lifecycle Manager: ticket-level status and assignment changes
// ABOUTME: Persist first, then broadcast; thread metadata is never speculatively mutated

package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/praxiahq/chat-gateway/internal/store"
)

// ErrInvalidTransition is returned for lifecycle changes the state machine
// does not allow, like reopening a resolved thread.
var ErrInvalidTransition = errors.New("invalid thread status transition")

// validTransitions is the ticket-level lifecycle: pending → open → resolved,
// with pending allowed to resolve directly. Resolved is terminal; a new
// conversation gets a new thread from the identity resolver.
var validTransitions = map[string][]string{
	store.ThreadPending: {store.ThreadOpen, store.ThreadResolved},
	store.ThreadOpen:    {store.ThreadResolved},
}

// Manager owns thread lifecycle status and assignment. Changes are
// write-then-broadcast: the store persists and publishes to the change feed;
// nothing is patched locally before the write succeeds.
type Manager struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a thread lifecycle manager.
func New(st store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		logger: logger.With("component", "threads"),
	}
}

// UpdateStatus moves a thread through its lifecycle. The write is persisted
// before any subscriber hears about it; on failure no local state changes.
func (m *Manager) UpdateStatus(ctx context.Context, threadID, status, actor string) error {
	thread, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	if thread.Status == status {
		return nil
	}
	if !transitionAllowed(thread.Status, status) {
		m.audit(ctx, actor, store.AuditUpdateThreadStatus, threadID, false,
			map[string]any{"from": thread.Status, "to": status})
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, thread.Status, status)
	}

	if err := m.store.UpdateThreadStatus(ctx, threadID, status); err != nil {
		return fmt.Errorf("updating thread status: %w", err)
	}

	m.audit(ctx, actor, store.AuditUpdateThreadStatus, threadID, true,
		map[string]any{"from": thread.Status, "to": status})
	m.logger.Debug("thread status updated", "thread_id", threadID, "from", thread.Status, "to", status)
	return nil
}

// UpdateAssignee overwrites a thread's assignee directly; there is no
// assignment history beyond the audit log. Pass nil to unassign.
func (m *Manager) UpdateAssignee(ctx context.Context, threadID string, assigneeID *string, actor string) error {
	if err := m.store.UpdateThreadAssignee(ctx, threadID, assigneeID); err != nil {
		return fmt.Errorf("updating thread assignee: %w", err)
	}

	detail := map[string]any{}
	if assigneeID != nil {
		detail["assignee"] = *assigneeID
	}
	m.audit(ctx, actor, store.AuditUpdateAssignee, threadID, true, detail)
	m.logger.Debug("thread assignee updated", "thread_id", threadID)
	return nil
}

func transitionAllowed(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (m *Manager) audit(ctx context.Context, actor string, action store.AuditAction, threadID string, success bool, detail map[string]any) {
	entry := &store.AuditEntry{
		Actor:      actor,
		Action:     action,
		TargetType: "thread",
		TargetID:   threadID,
		Success:    success,
		Detail:     detail,
	}
	if err := m.store.AppendAuditLog(ctx, entry); err != nil {
		m.logger.Error("failed to append audit log", "error", err, "thread_id", threadID)
	}
}
