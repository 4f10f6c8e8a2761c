// ABOUTME: Inbound webhook handler persisting gateway-pushed messages
// ABOUTME: Resolves identity from the remote JID and publishes through the change feed

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/praxiahq/chat-gateway/internal/identity"
	"github.com/praxiahq/chat-gateway/internal/phone"
	"github.com/praxiahq/chat-gateway/internal/store"
)

// Resolver defines what the handler needs from the identity layer.
type Resolver interface {
	Resolve(ctx context.Context, ref identity.Ref, accountID, caller string) (*identity.Identity, error)
}

// event is the gateway's webhook envelope. Only message upserts are handled;
// everything else is acknowledged and ignored.
type event struct {
	Event    string    `json:"event"`
	Instance string    `json:"instance"`
	Data     eventData `json:"data"`
}

type eventData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  struct {
		Conversation string `json:"conversation"`
	} `json:"message"`
	MessageTimestamp int64 `json:"messageTimestamp"`
}

// Handler ingests inbound messages pushed by the gateway. One handler serves
// every account; the instance in the payload selects the account, and the
// apikey header must match it.
type Handler struct {
	store    store.Store
	resolver Resolver
	logger   *slog.Logger
}

// New creates a webhook handler.
func New(st store.Store, resolver Resolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    st,
		resolver: resolver,
		logger:   logger.With("component", "webhook"),
	}
}

// ServeHTTP accepts POSTed gateway events.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	account, err := h.store.GetAccountByInstance(r.Context(), ev.Instance)
	if err != nil {
		h.logger.Warn("webhook for unknown instance", "instance", ev.Instance)
		http.Error(w, "unknown instance", http.StatusNotFound)
		return
	}
	if r.Header.Get("apikey") != account.APIKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Only message upserts carry content to persist. Other event types are
	// acknowledged so the gateway does not retry them.
	if ev.Event != "messages.upsert" || ev.Data.Key.FromMe {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.ingest(r, account, &ev); err != nil {
		h.logger.Error("webhook ingest failed", "error", err, "instance", ev.Instance)
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ingest resolves the sender's identity and persists the inbound message.
// Duplicate deliveries are detected by provider message id and dropped.
func (h *Handler) ingest(r *http.Request, account *store.Account, ev *event) error {
	ctx := r.Context()

	raw := phone.FromJID(ev.Data.Key.RemoteJID)
	id, err := h.resolver.Resolve(ctx, identity.PhoneRef(raw), account.ID, "webhook")
	if err != nil {
		return fmt.Errorf("resolving sender identity: %w", err)
	}

	if _, err := h.store.GetMessageByGatewayID(ctx, id.Thread.ID, ev.Data.Key.ID); err == nil {
		h.logger.Debug("duplicate webhook delivery ignored", "gateway_message_id", ev.Data.Key.ID)
		return nil
	}

	createdAt := time.Now().UTC()
	if ev.Data.MessageTimestamp > 0 {
		createdAt = time.Unix(ev.Data.MessageTimestamp, 0).UTC()
	}

	msg := &store.Message{
		ID:               uuid.New().String(),
		ThreadID:         id.Thread.ID,
		Direction:        store.DirectionIn,
		Kind:             store.KindText,
		Text:             strings.TrimSpace(ev.Data.Message.Conversation),
		Status:           store.StatusSent,
		GatewayMessageID: ev.Data.Key.ID,
		CreatedAt:        createdAt,
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("persisting inbound message: %w", err)
	}

	if err := h.store.TouchThread(ctx, id.Thread.ID, createdAt); err != nil {
		h.logger.Error("failed to touch thread", "error", err, "thread_id", id.Thread.ID)
	}

	h.audit(ctx, msg)
	h.logger.Debug("inbound message ingested",
		"message_id", msg.ID,
		"thread_id", id.Thread.ID,
		"gateway_message_id", ev.Data.Key.ID)
	return nil
}

func (h *Handler) audit(ctx context.Context, msg *store.Message) {
	entry := &store.AuditEntry{
		Actor:      "webhook",
		Action:     store.AuditIngestMessage,
		TargetType: "message",
		TargetID:   msg.ID,
		Success:    true,
		Detail:     map[string]any{"kind": msg.Kind},
	}
	if err := h.store.AppendAuditLog(ctx, entry); err != nil {
		h.logger.Error("failed to append audit log", "error", err, "message_id", msg.ID)
	}
}
