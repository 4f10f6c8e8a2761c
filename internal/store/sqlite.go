// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Uniqueness constraints arbitrate contact/thread creation races

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	feed   *Feed
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		feed:   NewFeed(logger),
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			endpoint   TEXT NOT NULL,
			api_key    TEXT NOT NULL,
			instance   TEXT NOT NULL DEFAULT '',
			active     INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_instance ON accounts(instance);

		CREATE TABLE IF NOT EXISTS contacts (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			e164       TEXT NOT NULL,
			crm_id     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,

			FOREIGN KEY (account_id) REFERENCES accounts(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_account_e164
			ON contacts(account_id, e164);

		CREATE INDEX IF NOT EXISTS idx_contacts_account_crm
			ON contacts(account_id, crm_id);

		CREATE TABLE IF NOT EXISTS threads (
			id               TEXT PRIMARY KEY,
			account_id       TEXT NOT NULL,
			contact_id       TEXT NOT NULL,
			status           TEXT NOT NULL,
			assignee_id      TEXT,
			last_activity_at TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			CHECK (status IN ('pending', 'open', 'resolved')),
			FOREIGN KEY (account_id) REFERENCES accounts(id),
			FOREIGN KEY (contact_id) REFERENCES contacts(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_one_open
			ON threads(account_id, contact_id) WHERE status != 'resolved';

		CREATE INDEX IF NOT EXISTS idx_threads_activity
			ON threads(last_activity_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id                 TEXT PRIMARY KEY,
			thread_id          TEXT NOT NULL,
			direction          TEXT NOT NULL,
			kind               TEXT NOT NULL,
			text               TEXT NOT NULL DEFAULT '',
			media_url          TEXT NOT NULL DEFAULT '',
			mime               TEXT NOT NULL DEFAULT '',
			caption            TEXT NOT NULL DEFAULT '',
			internal           INTEGER NOT NULL DEFAULT 0,
			status             TEXT NOT NULL,
			gateway_message_id TEXT NOT NULL DEFAULT '',
			error_detail       TEXT NOT NULL DEFAULT '',
			created_at         TEXT NOT NULL,

			CHECK (direction IN ('in', 'out')),
			CHECK (kind IN ('text', 'image', 'document', 'audio', 'video')),
			CHECK (status IN ('queued', 'sent', 'error', 'local')),
			FOREIGN KEY (thread_id) REFERENCES threads(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_thread_created
			ON messages(thread_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_gateway_id
			ON messages(thread_id, gateway_message_id);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			success     INTEGER NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT,

			CHECK (action IN (
				'create_contact',
				'create_thread',
				'dispatch_message',
				'ingest_message',
				'update_thread_status',
				'update_assignee',
				'audio_capture'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor);
		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_type, target_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection and the change feed
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	s.feed.Close()
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// ---- Accounts ----

// UpsertAccount inserts or replaces an account row. Accounts are owned by the
// configuration collaborator; the messaging core only reads them.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, account *Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, name, endpoint, api_key, instance, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			endpoint = excluded.endpoint,
			api_key = excluded.api_key,
			instance = excluded.instance,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Name,
		account.Endpoint,
		account.APIKey,
		account.Instance,
		boolToInt(account.Active),
		account.CreatedAt.UTC().Format(time.RFC3339),
		account.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting account: %w", err)
	}

	s.logger.Debug("upserted account", "id", account.ID, "instance", account.Instance)
	return nil
}

const accountColumns = "id, name, endpoint, api_key, instance, active, created_at, updated_at"

// GetAccount retrieves an account by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	return scanAccount(row)
}

// GetAccountByInstance retrieves an account by its bound instance name.
func (s *SQLiteStore) GetAccountByInstance(ctx context.Context, instance string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE instance = ?", instance)
	return scanAccount(row)
}

// ActiveAccount returns the first active account, oldest first. Returns
// ErrNotFound when no active account is configured.
func (s *SQLiteStore) ActiveAccount(ctx context.Context) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE active = 1 ORDER BY created_at ASC LIMIT 1")
	return scanAccount(row)
}

// ListAccounts returns all accounts, oldest first.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	return accounts, nil
}

func scanAccount(scanner interface{ Scan(dest ...any) error }) (*Account, error) {
	var a Account
	var active int
	var createdStr, updatedStr string

	err := scanner.Scan(&a.ID, &a.Name, &a.Endpoint, &a.APIKey, &a.Instance, &active, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	a.Active = active != 0
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdStr); err != nil {
		return nil, fmt.Errorf("parsing account created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedStr); err != nil {
		return nil, fmt.Errorf("parsing account updated_at: %w", err)
	}
	return &a, nil
}

// ---- Contacts ----

// CreateContact creates a new contact. If a contact with the same
// (account_id, e164) already exists, it returns ErrDuplicateContact.
func (s *SQLiteStore) CreateContact(ctx context.Context, contact *Contact) error {
	query := `
		INSERT INTO contacts (id, account_id, name, e164, crm_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		contact.ID,
		contact.AccountID,
		contact.Name,
		contact.E164,
		contact.CRMID,
		contact.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateContact
		}
		return fmt.Errorf("inserting contact: %w", err)
	}

	s.logger.Debug("created contact", "id", contact.ID, "e164", contact.E164)
	return nil
}

const contactColumns = "id, account_id, name, e164, crm_id, created_at"

// GetContact retrieves a contact by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+contactColumns+" FROM contacts WHERE id = ?", id)
	return scanContact(row)
}

// GetContactByPhone retrieves a contact by normalized phone number.
func (s *SQLiteStore) GetContactByPhone(ctx context.Context, accountID, e164 string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE account_id = ? AND e164 = ?", accountID, e164)
	return scanContact(row)
}

// GetContactByCRMID retrieves a contact previously resolved from a CRM person.
func (s *SQLiteStore) GetContactByCRMID(ctx context.Context, accountID, crmID string) (*Contact, error) {
	if crmID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE account_id = ? AND crm_id = ?", accountID, crmID)
	return scanContact(row)
}

func scanContact(scanner interface{ Scan(dest ...any) error }) (*Contact, error) {
	var c Contact
	var createdStr string

	err := scanner.Scan(&c.ID, &c.AccountID, &c.Name, &c.E164, &c.CRMID, &createdStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning contact: %w", err)
	}

	if c.CreatedAt, err = time.Parse(time.RFC3339, createdStr); err != nil {
		return nil, fmt.Errorf("parsing contact created_at: %w", err)
	}
	return &c, nil
}

// ---- Threads ----

// CreateThread creates a new thread. If a non-resolved thread already exists
// for the same (account_id, contact_id), it returns ErrDuplicateThread.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	query := `
		INSERT INTO threads (id, account_id, contact_id, status, assignee_id, last_activity_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		thread.ID,
		thread.AccountID,
		thread.ContactID,
		thread.Status,
		thread.AssigneeID,
		thread.LastActivityAt.UTC().Format(time.RFC3339),
		thread.CreatedAt.UTC().Format(time.RFC3339),
		thread.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting thread: %w", err)
	}

	s.logger.Debug("created thread", "id", thread.ID, "contact_id", thread.ContactID)
	return nil
}

const threadColumns = "id, account_id, contact_id, status, assignee_id, last_activity_at, created_at, updated_at"

// GetThread retrieves a thread by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+threadColumns+" FROM threads WHERE id = ?", id)
	return scanThread(row)
}

// GetOpenThread retrieves the single non-resolved thread for an
// (account, contact) pair. Returns ErrNotFound when every thread is resolved.
func (s *SQLiteStore) GetOpenThread(ctx context.Context, accountID, contactID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+threadColumns+" FROM threads WHERE account_id = ? AND contact_id = ? AND status != 'resolved'",
		accountID, contactID)
	return scanThread(row)
}

// UpdateThreadStatus sets a thread's lifecycle status and publishes the change
// to feed subscribers.
func (s *SQLiteStore) UpdateThreadStatus(ctx context.Context, id, status string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		"UPDATE threads SET status = ?, updated_at = ? WHERE id = ?", status, now, id)
	if err != nil {
		return fmt.Errorf("updating thread status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.publishThread(ctx, id)
	return nil
}

// UpdateThreadAssignee overwrites a thread's assignee. Pass nil to unassign.
func (s *SQLiteStore) UpdateThreadAssignee(ctx context.Context, id string, assigneeID *string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		"UPDATE threads SET assignee_id = ?, updated_at = ? WHERE id = ?", assigneeID, now, id)
	if err != nil {
		return fmt.Errorf("updating thread assignee: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.publishThread(ctx, id)
	return nil
}

// TouchThread bumps a thread's last-activity timestamp. Failed sends still
// count as activity for ordering.
func (s *SQLiteStore) TouchThread(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE threads SET last_activity_at = ? WHERE id = ?", at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanThread(scanner interface{ Scan(dest ...any) error }) (*Thread, error) {
	var t Thread
	var activityStr, createdStr, updatedStr string

	err := scanner.Scan(&t.ID, &t.AccountID, &t.ContactID, &t.Status, &t.AssigneeID,
		&activityStr, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning thread: %w", err)
	}

	if t.LastActivityAt, err = time.Parse(time.RFC3339, activityStr); err != nil {
		return nil, fmt.Errorf("parsing thread last_activity_at: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdStr); err != nil {
		return nil, fmt.Errorf("parsing thread created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedStr); err != nil {
		return nil, fmt.Errorf("parsing thread updated_at: %w", err)
	}
	return &t, nil
}

// ---- Messages ----

// SaveMessage inserts a message row and publishes it to feed subscribers.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, thread_id, direction, kind, text, media_url, mime, caption,
			internal, status, gateway_message_id, error_detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ThreadID,
		msg.Direction,
		msg.Kind,
		msg.Text,
		msg.MediaURL,
		msg.Mime,
		msg.Caption,
		boolToInt(msg.Internal),
		msg.Status,
		msg.GatewayMessageID,
		msg.ErrorDetail,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "thread_id", msg.ThreadID, "status", msg.Status)
	s.feed.Publish(msg.ThreadID, &FeedEvent{Type: FeedMessageInserted, Message: msg})
	return nil
}

const messageColumns = `id, thread_id, direction, kind, text, media_url, mime, caption,
	internal, status, gateway_message_id, error_detail, created_at`

// GetMessage retrieves a message by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	return scanMessage(row)
}

// GetMessageByGatewayID retrieves a message by its provider message id within
// a thread. Used by the inbound webhook to skip already-ingested events.
func (s *SQLiteStore) GetMessageByGatewayID(ctx context.Context, threadID, gatewayMessageID string) (*Message, error) {
	if gatewayMessageID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = ? AND gateway_message_id = ?",
		threadID, gatewayMessageID)
	return scanMessage(row)
}

// ListThreadMessages returns a thread's messages ordered by creation time.
func (s *SQLiteStore) ListThreadMessages(ctx context.Context, threadID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = ? ORDER BY created_at ASC, id ASC LIMIT ?",
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// MarkMessageSent transitions a queued message to sent with its provider
// message id. Returns ErrTerminalStatus if the message already left queued.
func (s *SQLiteStore) MarkMessageSent(ctx context.Context, id, gatewayMessageID string) error {
	return s.markMessage(ctx, id, StatusSent, gatewayMessageID, "")
}

// MarkMessageError transitions a queued message to error with failure detail.
// Returns ErrTerminalStatus if the message already left queued.
func (s *SQLiteStore) MarkMessageError(ctx context.Context, id, detail string) error {
	return s.markMessage(ctx, id, StatusError, "", detail)
}

// markMessage performs the monotonic queued -> terminal transition. The WHERE
// clause on status makes regression impossible regardless of caller ordering.
func (s *SQLiteStore) markMessage(ctx context.Context, id, status, gatewayMessageID, detail string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET status = ?, gateway_message_id = ?, error_detail = ? WHERE id = ? AND status = ?",
		status, gatewayMessageID, detail, id, StatusQueued)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetMessage(ctx, id); err != nil {
			return err
		}
		return ErrTerminalStatus
	}

	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}

	s.logger.Debug("message status updated", "id", id, "status", status)
	s.feed.Publish(msg.ThreadID, &FeedEvent{Type: FeedMessageUpdated, Message: msg})
	return nil
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var m Message
	var internal int
	var createdStr string

	err := scanner.Scan(&m.ID, &m.ThreadID, &m.Direction, &m.Kind, &m.Text, &m.MediaURL,
		&m.Mime, &m.Caption, &internal, &m.Status, &m.GatewayMessageID, &m.ErrorDetail, &createdStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	m.Internal = internal != 0
	if m.CreatedAt, err = time.Parse(time.RFC3339, createdStr); err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	return &m, nil
}

// ---- Change feed ----

// SubscribeThread registers a feed subscriber for a thread. See Feed.Subscribe.
func (s *SQLiteStore) SubscribeThread(ctx context.Context, threadID string) (<-chan *FeedEvent, string) {
	return s.feed.Subscribe(ctx, threadID)
}

// Unsubscribe removes a feed subscription.
func (s *SQLiteStore) Unsubscribe(threadID, subID string) {
	s.feed.Unsubscribe(threadID, subID)
}

// publishThread re-reads a thread and fans it out to subscribers.
func (s *SQLiteStore) publishThread(ctx context.Context, id string) {
	thread, err := s.GetThread(ctx, id)
	if err != nil {
		s.logger.Error("failed to load thread for feed publish", "error", err, "thread_id", id)
		return
	}
	s.feed.Publish(id, &FeedEvent{Type: FeedThreadUpdated, Thread: thread})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
