// ABOUTME: Tests for the inbound webhook handler
// ABOUTME: Verifies instance auth, message ingestion, and duplicate delivery drops

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxiahq/chat-gateway/internal/identity"
	"github.com/praxiahq/chat-gateway/internal/store"
)

type fixture struct {
	store   *store.SQLiteStore
	handler *Handler
	account *store.Account
}

func newFixture(t *testing.T) *fixture {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	account := &store.Account{
		ID:       uuid.New().String(),
		Name:     "Clinic",
		Endpoint: "http://gateway.local",
		APIKey:   "secret",
		Instance: "clinic-main",
		Active:   true,
	}
	require.NoError(t, s.UpsertAccount(context.Background(), account))

	resolver := identity.New(s, nil, "55", nil)
	return &fixture{store: s, handler: New(s, resolver, nil), account: account}
}

func upsertEvent(instance, jid, msgID, text string, fromMe bool) []byte {
	payload := map[string]any{
		"event":    "messages.upsert",
		"instance": instance,
		"data": map[string]any{
			"key": map[string]any{
				"remoteJid": jid,
				"fromMe":    fromMe,
				"id":        msgID,
			},
			"pushName": "Maria",
			"message": map[string]any{
				"conversation": text,
			},
			"messageTimestamp": 1735689600,
		},
	}
	body, _ := json.Marshal(payload)
	return body
}

func (f *fixture) post(t *testing.T, body []byte, apikey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("apikey", apikey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHandler_IngestsInboundMessage(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, upsertEvent("clinic-main", "5511987654321@s.whatsapp.net", "GW-1", "hello doctor", false), "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	ctx := context.Background()
	contact, err := f.store.GetContactByPhone(ctx, f.account.ID, "+5511987654321")
	require.NoError(t, err)

	thread, err := f.store.GetOpenThread(ctx, f.account.ID, contact.ID)
	require.NoError(t, err)

	messages, err := f.store.ListThreadMessages(ctx, thread.ID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.Equal(t, store.DirectionIn, msg.Direction)
	assert.Equal(t, store.KindText, msg.Kind)
	assert.Equal(t, "hello doctor", msg.Text)
	assert.Equal(t, store.StatusSent, msg.Status)
	assert.Equal(t, "GW-1", msg.GatewayMessageID)
}

func TestHandler_DuplicateDeliveryDropped(t *testing.T) {
	f := newFixture(t)
	body := upsertEvent("clinic-main", "5511987654321@s.whatsapp.net", "GW-1", "hello", false)

	require.Equal(t, http.StatusOK, f.post(t, body, "secret").Code)
	require.Equal(t, http.StatusOK, f.post(t, body, "secret").Code)

	ctx := context.Background()
	contact, err := f.store.GetContactByPhone(ctx, f.account.ID, "+5511987654321")
	require.NoError(t, err)
	thread, err := f.store.GetOpenThread(ctx, f.account.ID, contact.ID)
	require.NoError(t, err)

	messages, err := f.store.ListThreadMessages(ctx, thread.ID, 10)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestHandler_UnknownInstance(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, upsertEvent("nope", "5511987654321@s.whatsapp.net", "GW-1", "hi", false), "secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_WrongAPIKey(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, upsertEvent("clinic-main", "5511987654321@s.whatsapp.net", "GW-1", "hi", false), "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_OwnMessagesAcknowledgedNotIngested(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, upsertEvent("clinic-main", "5511987654321@s.whatsapp.net", "GW-1", "hi", true), "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := f.store.GetContactByPhone(context.Background(), f.account.ID, "+5511987654321")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandler_OtherEventTypesAcknowledged(t *testing.T) {
	f := newFixture(t)
	body, _ := json.Marshal(map[string]any{"event": "connection.update", "instance": "clinic-main"})
	rec := f.post(t, body, "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_RejectsNonPost(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_BadJSON(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, []byte("{not json"), "secret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_AuditsIngestion(t *testing.T) {
	f := newFixture(t)
	f.post(t, upsertEvent("clinic-main", "5511987654321@s.whatsapp.net", "GW-1", "hi", false), "secret")

	action := store.AuditIngestMessage
	entries, err := f.store.ListAuditLog(context.Background(), store.AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "webhook", entries[0].Actor)
}
