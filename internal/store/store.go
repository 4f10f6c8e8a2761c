// ABOUTME: Store interface and data types for messaging gateway persistence
// ABOUTME: Defines Account, Contact, Thread, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateContact is returned when a contact with the same (account, e164)
// already exists. Callers recover by re-fetching the winner.
var ErrDuplicateContact = errors.New("contact already exists")

// ErrDuplicateThread is returned when a non-closed thread already exists for
// the same (account, contact) pair. Callers recover by re-fetching the winner.
var ErrDuplicateThread = errors.New("open thread already exists")

// ErrTerminalStatus is returned when a message status update would regress a
// terminal status. Delivery status transitions are monotonic.
var ErrTerminalStatus = errors.New("message status is terminal")

// Account is a configured messaging-integration identity. Accounts are
// written by the configuration collaborator and read-only to the core.
type Account struct {
	ID        string
	Name      string
	Endpoint  string
	APIKey    string
	Instance  string // gateway-bound instance name; required for dispatch
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact is a canonical external party keyed by normalized phone number.
// Phone identity is immutable once created: a different number is always a
// different contact.
type Contact struct {
	ID        string
	AccountID string
	Name      string
	E164      string
	CRMID     string // CRM person id, empty when created from a raw number
	CreatedAt time.Time
}

// Thread status values. A thread is "closed" only when resolved.
const (
	ThreadPending  = "pending"
	ThreadOpen     = "open"
	ThreadResolved = "resolved"
)

// Thread is a conversation container linking one account to one contact.
// At most one non-resolved thread exists per (account, contact).
type Thread struct {
	ID             string
	AccountID      string
	ContactID      string
	Status         string
	AssigneeID     *string
	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message direction constants
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Message kind constants
const (
	KindText     = "text"
	KindImage    = "image"
	KindDocument = "document"
	KindAudio    = "audio"
	KindVideo    = "video"
)

// Message delivery status values. Outbound messages start queued and move to
// exactly one terminal state. Internal notes go straight to local. Inbound
// messages are recorded as sent.
const (
	StatusQueued = "queued"
	StatusSent   = "sent"
	StatusError  = "error"
	StatusLocal  = "local" // internal note, never dispatched
)

// Message is one unit of communication within a thread. Content is
// append-only; only the delivery status fields mutate.
type Message struct {
	ID               string
	ThreadID         string
	Direction        string
	Kind             string
	Text             string
	MediaURL         string
	Mime             string
	Caption          string
	Internal         bool // internal note, visible only in internal views
	Status           string
	GatewayMessageID string
	ErrorDetail      string
	CreatedAt        time.Time
}

// Terminal reports whether the message has reached a terminal delivery state.
func (m *Message) Terminal() bool {
	return m.Status != StatusQueued
}

// Store defines the interface for messaging gateway persistence
type Store interface {
	// Accounts (written by the configuration collaborator, read by the core)
	UpsertAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByInstance(ctx context.Context, instance string) (*Account, error)
	ActiveAccount(ctx context.Context) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)

	// Contacts
	CreateContact(ctx context.Context, contact *Contact) error
	GetContact(ctx context.Context, id string) (*Contact, error)
	GetContactByPhone(ctx context.Context, accountID, e164 string) (*Contact, error)
	GetContactByCRMID(ctx context.Context, accountID, crmID string) (*Contact, error)

	// Threads
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	GetOpenThread(ctx context.Context, accountID, contactID string) (*Thread, error)
	UpdateThreadStatus(ctx context.Context, id, status string) error
	UpdateThreadAssignee(ctx context.Context, id string, assigneeID *string) error
	TouchThread(ctx context.Context, id string, at time.Time) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetMessageByGatewayID(ctx context.Context, threadID, gatewayMessageID string) (*Message, error)
	ListThreadMessages(ctx context.Context, threadID string, limit int) ([]*Message, error)
	MarkMessageSent(ctx context.Context, id, gatewayMessageID string) error
	MarkMessageError(ctx context.Context, id, detail string) error

	// Audit log
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// Realtime change feed, scoped to a thread
	SubscribeThread(ctx context.Context, threadID string) (<-chan *FeedEvent, string)
	Unsubscribe(threadID, subID string)

	// Close releases any resources held by the store
	Close() error
}
