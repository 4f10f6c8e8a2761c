// ABOUTME: Dispatch Pipeline for outbound messages: persist first, then call the gateway
// ABOUTME: Gateway failures are captured into the persisted row, never thrown past Dispatch

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxiahq/chat-gateway/internal/identity"
	"github.com/praxiahq/chat-gateway/internal/phone"
	"github.com/praxiahq/chat-gateway/internal/store"
)

// Sender defines what the pipeline needs from the gateway client.
type Sender interface {
	SendText(ctx context.Context, account *store.Account, number, text string) (string, error)
	SendMedia(ctx context.Context, account *store.Account, number, mediaType, mediaURL, caption, fileName string) (string, error)
}

// Resolver defines what the pipeline needs from the identity layer.
type Resolver interface {
	Resolve(ctx context.Context, ref identity.Ref, accountID, caller string) (*identity.Identity, error)
}

// Target names the destination of a dispatch: an existing thread, or a
// contact/phone reference resolved on the fly.
type Target struct {
	ThreadID  string       // reuse this thread when set
	Ref       identity.Ref // otherwise resolve this reference
	AccountID string       // optional account hint for resolution
	Caller    string       // acting user, recorded in audit log and new threads
}

// Result is the outcome of one dispatch attempt. OK is false both for
// fail-fast validation errors (which also return a non-nil error) and for
// gateway failures (which do not; the persisted row carries the detail).
type Result struct {
	OK               bool
	Status           string
	MessageID        string
	GatewayMessageID string
	ThreadID         string
	ErrorDetail      string
}

// Pipeline normalizes, persists and dispatches outbound messages.
type Pipeline struct {
	store    store.Store
	sender   Sender
	resolver Resolver
	logger   *slog.Logger
}

// New creates a dispatch pipeline.
func New(st store.Store, sender Sender, resolver Resolver, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    st,
		sender:   sender,
		resolver: resolver,
		logger:   logger.With("component", "dispatch"),
	}
}

// Dispatch sends one message. The message row is persisted as queued before
// any network call so every attempt is auditable even if the gateway never
// answers. Caller-side validation errors (bad intent, unresolvable target,
// missing instance) fail fast before persistence and return an error;
// gateway failures are captured as status=error in both the returned Result
// and the persisted row, with a nil error.
func (p *Pipeline) Dispatch(ctx context.Context, target Target, raw any) (Result, error) {
	intent, err := NormalizeIntent(raw)
	if err != nil {
		return Result{}, err
	}

	account, contact, thread, err := p.resolveTarget(ctx, target)
	if err != nil {
		return Result{}, err
	}

	// Hard precondition: a dispatchable message needs the account's bound
	// instance. Checked before persistence so no row is left referencing an
	// unresolvable instance.
	if !intent.InternalNote && account.Instance == "" {
		return Result{}, fmt.Errorf("%w: account %s has no bound instance", identity.ErrConfigurationMissing, account.ID)
	}

	msg := messageFromIntent(thread.ID, intent)
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("persisting message: %w", err)
	}

	if intent.InternalNote {
		p.touchThread(ctx, thread.ID)
		p.audit(ctx, target.Caller, msg, true, map[string]any{"kind": msg.Kind, "internal": true})
		return Result{
			OK:        true,
			Status:    store.StatusLocal,
			MessageID: msg.ID,
			ThreadID:  thread.ID,
		}, nil
	}

	gatewayMessageID, sendErr := p.send(ctx, account, contact, intent)

	// The thread saw activity whether or not the gateway accepted the message.
	p.touchThread(ctx, thread.ID)

	if sendErr != nil {
		detail := sendErr.Error()
		if err := p.store.MarkMessageError(ctx, msg.ID, detail); err != nil {
			p.logger.Error("failed to mark message error", "error", err, "message_id", msg.ID)
		}
		p.audit(ctx, target.Caller, msg, false, map[string]any{"kind": msg.Kind})
		p.logger.Warn("dispatch failed",
			"message_id", msg.ID,
			"thread_id", thread.ID,
			"kind", msg.Kind,
			"error", sendErr)
		return Result{
			Status:      store.StatusError,
			MessageID:   msg.ID,
			ThreadID:    thread.ID,
			ErrorDetail: detail,
		}, nil
	}

	if err := p.store.MarkMessageSent(ctx, msg.ID, gatewayMessageID); err != nil {
		p.logger.Error("failed to mark message sent", "error", err, "message_id", msg.ID)
	}
	p.audit(ctx, target.Caller, msg, true, map[string]any{"kind": msg.Kind})

	p.logger.Debug("message dispatched",
		"message_id", msg.ID,
		"thread_id", thread.ID,
		"gateway_message_id", gatewayMessageID)
	return Result{
		OK:               true,
		Status:           store.StatusSent,
		MessageID:        msg.ID,
		GatewayMessageID: gatewayMessageID,
		ThreadID:         thread.ID,
	}, nil
}

// resolveTarget loads the existing thread's identity, or resolves the
// reference through the identity layer.
func (p *Pipeline) resolveTarget(ctx context.Context, target Target) (*store.Account, *store.Contact, *store.Thread, error) {
	if target.ThreadID != "" {
		thread, err := p.store.GetThread(ctx, target.ThreadID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading thread %s: %w", target.ThreadID, err)
		}
		account, err := p.store.GetAccount(ctx, thread.AccountID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading account %s: %w", thread.AccountID, err)
		}
		if !account.Active {
			return nil, nil, nil, fmt.Errorf("%w: account %s is inactive", identity.ErrConfigurationMissing, account.ID)
		}
		contact, err := p.store.GetContact(ctx, thread.ContactID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading contact %s: %w", thread.ContactID, err)
		}
		return account, contact, thread, nil
	}

	if target.Ref == nil {
		return nil, nil, nil, fmt.Errorf("%w: target needs a thread id or a reference", ErrInvalidIntent)
	}

	id, err := p.resolver.Resolve(ctx, target.Ref, target.AccountID, target.Caller)
	if err != nil {
		return nil, nil, nil, err
	}
	return id.Account, id.Contact, id.Thread, nil
}

// send shapes the gateway payload for the intent kind and performs the call.
func (p *Pipeline) send(ctx context.Context, account *store.Account, contact *store.Contact, intent Intent) (string, error) {
	number := phone.Digits(contact.E164)

	switch intent.Kind {
	case store.KindText:
		return p.sender.SendText(ctx, account, number, intent.Text)
	case store.KindImage, store.KindVideo:
		return p.sender.SendMedia(ctx, account, number, intent.Kind, intent.MediaURL, intent.Caption, "")
	case store.KindDocument:
		return p.sender.SendMedia(ctx, account, number, intent.Kind, intent.MediaURL, "", intent.FileName)
	case store.KindAudio:
		return p.sender.SendMedia(ctx, account, number, intent.Kind, intent.MediaURL, "", "")
	default:
		// NormalizeIntent rejects unknown kinds before we get here.
		return "", fmt.Errorf("%w: kind %q", ErrInvalidIntent, intent.Kind)
	}
}

// messageFromIntent builds the queued message row for an intent. Internal
// notes are terminal immediately: they never reach the gateway.
func messageFromIntent(threadID string, intent Intent) *store.Message {
	status := store.StatusQueued
	if intent.InternalNote {
		status = store.StatusLocal
	}
	return &store.Message{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Direction: store.DirectionOut,
		Kind:      intent.Kind,
		Text:      intent.Text,
		MediaURL:  intent.MediaURL,
		Mime:      intent.Mime,
		Caption:   intent.Caption,
		Internal:  intent.InternalNote,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

// touchThread bumps last activity, logging rather than failing on error.
func (p *Pipeline) touchThread(ctx context.Context, threadID string) {
	if err := p.store.TouchThread(ctx, threadID, time.Now().UTC()); err != nil {
		p.logger.Error("failed to touch thread", "error", err, "thread_id", threadID)
	}
}

// audit appends one record per dispatch attempt, success flag included.
// Detail stays credential-free.
func (p *Pipeline) audit(ctx context.Context, actor string, msg *store.Message, success bool, detail map[string]any) {
	entry := &store.AuditEntry{
		Actor:      actor,
		Action:     store.AuditDispatchMessage,
		TargetType: "message",
		TargetID:   msg.ID,
		Success:    success,
		Detail:     detail,
	}
	if err := p.store.AppendAuditLog(ctx, entry); err != nil {
		p.logger.Error("failed to append audit log", "error", err, "message_id", msg.ID)
	}
}
