// Package store provides persistent storage for the messaging gateway using SQLite.
//
// # Data Models
//
//   - Account: Configured messaging-integration identity (endpoint, key, instance)
//   - Contact: Canonical external party keyed by normalized phone number
//   - Thread: Conversation container linking one account to one contact
//   - Message: One communication unit with monotonic delivery status
//   - AuditEntry: One record per dispatch attempt or lifecycle change
//
// # Concurrency
//
// Creation races are arbitrated solely by UNIQUE constraints:
//
//   - contacts(account_id, e164)
//   - threads(account_id, contact_id) WHERE status != 'resolved'
//
// Violations surface as ErrDuplicateContact / ErrDuplicateThread; callers
// recover by re-fetching the winning row. The store never takes in-process
// locks for this.
//
// # Change Feed
//
// The Feed type fans persisted message and thread changes out to
// per-thread subscribers, enabling realtime views without polling:
//
//	ch, subID := store.SubscribeThread(ctx, threadID)
//
// # SQLite Configuration
//
// WAL mode with foreign keys on. Use NewSQLiteStore(":memory:") or a
// t.TempDir() path for tests.
package store
