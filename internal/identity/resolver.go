// ABOUTME: Identity Resolver mapping phone numbers and contact references to
// ABOUTME: canonical (account, contact, thread) triples, creating rows lazily

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxiahq/chat-gateway/internal/phone"
	"github.com/praxiahq/chat-gateway/internal/store"
)

// ErrConfigurationMissing is returned when no active account exists for the
// resolution, or the referenced account is inactive.
var ErrConfigurationMissing = errors.New("no active messaging account configured")

// Directory is the CRM collaborator used to look up a person's primary mobile
// channel when resolving an internal CRM contact id for the first time.
type Directory interface {
	PrimaryMobile(ctx context.Context, crmContactID string) (string, error)
}

// Ref identifies an external party in one of three ways.
type Ref interface {
	refKind() string
}

// PhoneRef is a raw phone number, normalized to E.164 during resolution.
type PhoneRef string

// ContactRef is the id of an existing canonical contact row.
type ContactRef string

// CRMContactRef is an internal CRM person id. The contact's primary mobile
// channel is fetched from the Directory on first resolution.
type CRMContactRef string

func (PhoneRef) refKind() string      { return "phone" }
func (ContactRef) refKind() string    { return "contact" }
func (CRMContactRef) refKind() string { return "crm_contact" }

// Identity is the canonical triple a reference resolves to.
type Identity struct {
	Account *store.Account
	Contact *store.Contact
	Thread  *store.Thread
}

// Resolver resolves external references into canonical identities.
// Resolution is idempotent under concurrent callers: creation races are
// arbitrated by the store's uniqueness constraints and recovered by a single
// re-fetch of the winning row.
type Resolver struct {
	store          store.Store
	directory      Directory
	defaultCountry string
	logger         *slog.Logger
}

// New creates a Resolver. directory may be nil when CRM references are never
// used. defaultCountry is the country code prepended to national numbers.
func New(st store.Store, directory Directory, defaultCountry string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:          st,
		directory:      directory,
		defaultCountry: defaultCountry,
		logger:         logger.With("component", "identity"),
	}
}

// Resolve maps a reference to its canonical (account, contact, thread)
// triple, creating contact and thread rows only when absent. accountID may be
// empty, in which case the first active account is used. caller becomes the
// assignee of a newly created thread.
func (r *Resolver) Resolve(ctx context.Context, ref Ref, accountID, caller string) (*Identity, error) {
	account, err := r.resolveAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	contact, err := r.resolveContact(ctx, account, ref, caller)
	if err != nil {
		return nil, err
	}

	thread, err := r.ensureThread(ctx, account, contact, caller)
	if err != nil {
		return nil, err
	}

	return &Identity{Account: account, Contact: contact, Thread: thread}, nil
}

// resolveAccount loads the referenced account, or the first active one when
// no hint is given. Inactive or missing accounts are a configuration error.
func (r *Resolver) resolveAccount(ctx context.Context, accountID string) (*store.Account, error) {
	if accountID == "" {
		account, err := r.store.ActiveAccount(ctx)
		if err == store.ErrNotFound {
			return nil, ErrConfigurationMissing
		}
		if err != nil {
			return nil, fmt.Errorf("loading active account: %w", err)
		}
		return account, nil
	}

	account, err := r.store.GetAccount(ctx, accountID)
	if err == store.ErrNotFound {
		return nil, ErrConfigurationMissing
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", accountID, err)
	}
	if !account.Active {
		return nil, ErrConfigurationMissing
	}
	return account, nil
}

func (r *Resolver) resolveContact(ctx context.Context, account *store.Account, ref Ref, caller string) (*store.Contact, error) {
	switch v := ref.(type) {
	case ContactRef:
		contact, err := r.store.GetContact(ctx, string(v))
		if err != nil {
			return nil, fmt.Errorf("loading contact %s: %w", string(v), err)
		}
		return contact, nil

	case CRMContactRef:
		return r.resolveCRMContact(ctx, account, string(v), caller)

	case PhoneRef:
		e164, err := phone.Normalize(string(v), r.defaultCountry)
		if err != nil {
			return nil, err
		}
		return r.ensureContact(ctx, account, &store.Contact{
			AccountID: account.ID,
			E164:      e164,
		}, caller)

	default:
		return nil, fmt.Errorf("unsupported reference kind %q", ref.refKind())
	}
}

// resolveCRMContact finds a contact previously resolved from this CRM person,
// or fetches the person's primary mobile channel and creates one.
func (r *Resolver) resolveCRMContact(ctx context.Context, account *store.Account, crmID, caller string) (*store.Contact, error) {
	contact, err := r.store.GetContactByCRMID(ctx, account.ID, crmID)
	if err == nil {
		return contact, nil
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("looking up CRM contact %s: %w", crmID, err)
	}

	if r.directory == nil {
		return nil, fmt.Errorf("%w: no CRM directory configured", ErrConfigurationMissing)
	}

	mobile, err := r.directory.PrimaryMobile(ctx, crmID)
	if err != nil {
		return nil, fmt.Errorf("fetching primary mobile for CRM contact %s: %w", crmID, err)
	}

	e164, err := phone.Normalize(mobile, r.defaultCountry)
	if err != nil {
		return nil, err
	}

	return r.ensureContact(ctx, account, &store.Contact{
		AccountID: account.ID,
		E164:      e164,
		CRMID:     crmID,
	}, caller)
}

// ensureContact finds a contact by (account, e164) or creates it. A duplicate
// error means a concurrent caller won the insert; the winner is re-fetched
// and returned rather than failing.
func (r *Resolver) ensureContact(ctx context.Context, account *store.Account, candidate *store.Contact, caller string) (*store.Contact, error) {
	contact, err := r.store.GetContactByPhone(ctx, account.ID, candidate.E164)
	if err == nil {
		return contact, nil
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("looking up contact by phone: %w", err)
	}

	candidate.ID = uuid.New().String()
	candidate.CreatedAt = time.Now().UTC()

	if err := r.store.CreateContact(ctx, candidate); err != nil {
		if err == store.ErrDuplicateContact {
			winner, lookupErr := r.store.GetContactByPhone(ctx, account.ID, candidate.E164)
			if lookupErr == nil {
				r.logger.Debug("found existing contact after race",
					"contact_id", winner.ID, "e164", winner.E164)
				return winner, nil
			}
			return nil, fmt.Errorf("re-fetching contact after duplicate: %w", lookupErr)
		}
		return nil, err
	}

	r.logger.Debug("created contact", "contact_id", candidate.ID, "e164", candidate.E164)
	r.audit(ctx, caller, store.AuditCreateContact, "contact", candidate.ID, nil)
	return candidate, nil
}

// ensureThread returns the single non-closed thread for (account, contact),
// creating one with status=open and the caller as assignee when absent. The
// partial unique index arbitrates concurrent creation; the winner is
// re-fetched on conflict.
func (r *Resolver) ensureThread(ctx context.Context, account *store.Account, contact *store.Contact, caller string) (*store.Thread, error) {
	thread, err := r.store.GetOpenThread(ctx, account.ID, contact.ID)
	if err == nil {
		return thread, nil
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("looking up open thread: %w", err)
	}

	now := time.Now().UTC()
	thread = &store.Thread{
		ID:             uuid.New().String(),
		AccountID:      account.ID,
		ContactID:      contact.ID,
		Status:         store.ThreadOpen,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if caller != "" {
		thread.AssigneeID = &caller
	}

	if err := r.store.CreateThread(ctx, thread); err != nil {
		if err == store.ErrDuplicateThread {
			winner, lookupErr := r.store.GetOpenThread(ctx, account.ID, contact.ID)
			if lookupErr == nil {
				r.logger.Debug("found existing thread after race", "thread_id", winner.ID)
				return winner, nil
			}
			return nil, fmt.Errorf("re-fetching thread after duplicate: %w", lookupErr)
		}
		return nil, err
	}

	r.logger.Debug("created thread", "thread_id", thread.ID, "contact_id", contact.ID)
	r.audit(ctx, caller, store.AuditCreateThread, "thread", thread.ID, nil)
	return thread, nil
}

// audit appends an audit entry without failing the resolution on error.
func (r *Resolver) audit(ctx context.Context, actor string, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	entry := &store.AuditEntry{
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Success:    true,
		Detail:     detail,
	}
	if err := r.store.AppendAuditLog(ctx, entry); err != nil {
		r.logger.Error("failed to append audit log", "error", err, "action", action)
	}
}
