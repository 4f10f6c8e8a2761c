// ABOUTME: Library facade wiring the messaging gateway core for UI callers
// ABOUTME: Exposes resolve, dispatch, thread lifecycle, capture, realtime subscribe

// Package chatgateway is the messaging gateway core: identity resolution,
// outbound dispatch through the external HTTP gateway, realtime
// reconciliation, audio capture and thread lifecycle. It is consumed as a
// library by UI code and by the inbound-webhook collaborator; there is no
// CLI surface.
package chatgateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/praxiahq/chat-gateway/internal/blob"
	"github.com/praxiahq/chat-gateway/internal/capture"
	"github.com/praxiahq/chat-gateway/internal/config"
	"github.com/praxiahq/chat-gateway/internal/dispatch"
	"github.com/praxiahq/chat-gateway/internal/gateway"
	"github.com/praxiahq/chat-gateway/internal/identity"
	"github.com/praxiahq/chat-gateway/internal/reconcile"
	"github.com/praxiahq/chat-gateway/internal/store"
	"github.com/praxiahq/chat-gateway/internal/threads"
	"github.com/praxiahq/chat-gateway/internal/webhook"
)

// Option customizes Service construction.
type Option func(*options)

type options struct {
	directory  identity.Directory
	httpClient *http.Client
	logger     *slog.Logger
	microphone capture.Microphone
	blobs      blob.Store
}

// WithDirectory sets the CRM collaborator used to resolve internal contact
// ids to phone numbers.
func WithDirectory(d identity.Directory) Option {
	return func(o *options) { o.directory = d }
}

// WithHTTPClient overrides the gateway HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger overrides the config-derived logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMicrophone sets the audio device collaborator for voice capture.
func WithMicrophone(m capture.Microphone) Option {
	return func(o *options) { o.microphone = m }
}

// WithBlobStore overrides the filesystem blob store for voice uploads.
func WithBlobStore(b blob.Store) Option {
	return func(o *options) { o.blobs = b }
}

// Service is the assembled messaging gateway core.
type Service struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	resolver *identity.Resolver
	pipeline *dispatch.Pipeline
	manager  *threads.Manager
	blobs    blob.Store
	mic      capture.Microphone
	webhook  *webhook.Handler
	logger   *slog.Logger
}

// New builds a Service from configuration. The account manifest, when
// configured, is synced into the store before anything else runs.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg.Logging)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if cfg.Accounts.ManifestPath != "" {
		accounts, err := config.LoadAccounts(cfg.Accounts.ManifestPath)
		if err != nil {
			st.Close()
			return nil, err
		}
		if err := config.SyncAccounts(context.Background(), st, accounts); err != nil {
			st.Close()
			return nil, err
		}
		logger.Info("account manifest synced", "accounts", len(accounts))
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Gateway.Timeout}
	}

	blobs := o.blobs
	if blobs == nil {
		blobs = blob.NewFSStore(cfg.Blob.Dir, cfg.Blob.BaseURL, logger)
	}

	resolver := identity.New(st, o.directory, cfg.Phone.DefaultCountryCode, logger)
	pipeline := dispatch.New(st, gateway.New(httpClient, logger), resolver, logger)

	return &Service{
		cfg:      cfg,
		store:    st,
		resolver: resolver,
		pipeline: pipeline,
		manager:  threads.New(st, logger),
		blobs:    blobs,
		mic:      o.microphone,
		webhook:  webhook.New(st, resolver, logger),
		logger:   logger,
	}, nil
}

// ResolveIdentity maps a phone number or contact reference to its canonical
// (account, contact, thread) triple, creating rows only when absent.
func (s *Service) ResolveIdentity(ctx context.Context, ref identity.Ref, accountID, caller string) (*identity.Identity, error) {
	return s.resolver.Resolve(ctx, ref, accountID, caller)
}

// Dispatch sends one outbound message. intent may be a bare string (text) or
// a dispatch.Intent.
func (s *Service) Dispatch(ctx context.Context, target dispatch.Target, intent any) (dispatch.Result, error) {
	return s.pipeline.Dispatch(ctx, target, intent)
}

// UpdateThreadStatus moves a thread through its lifecycle.
func (s *Service) UpdateThreadStatus(ctx context.Context, threadID, status, actor string) error {
	return s.manager.UpdateStatus(ctx, threadID, status, actor)
}

// UpdateAssignee overwrites a thread's assignee. Pass nil to unassign.
func (s *Service) UpdateAssignee(ctx context.Context, threadID string, assigneeID *string, actor string) error {
	return s.manager.UpdateAssignee(ctx, threadID, assigneeID, actor)
}

// SubscribeThread opens a realtime subscription for one thread. Close the
// returned handle when the thread is deselected.
func (s *Service) SubscribeThread(threadID string, h threads.Handlers) *threads.Subscription {
	return s.manager.SubscribeThread(threadID, h)
}

// OpenTimeline returns a reconciled message view for a thread, fed by the
// realtime change feed, along with the subscription keeping it live. Close
// both when the thread is deselected.
func (s *Service) OpenTimeline(threadID string) (*reconcile.Timeline, *threads.Subscription) {
	tl := reconcile.NewTimeline()
	sub := s.manager.SubscribeThread(threadID, threads.Handlers{
		OnMessage: tl.Push,
	})
	return tl, sub
}

// Messages returns a thread's persisted history, oldest first.
func (s *Service) Messages(ctx context.Context, threadID string, limit int) ([]*store.Message, error) {
	return s.store.ListThreadMessages(ctx, threadID, limit)
}

// StartAudioCapture begins a voice capture session targeting the given
// dispatch destination. Stop or Cancel the returned session.
func (s *Service) StartAudioCapture(ctx context.Context, userID string, target dispatch.Target) (*capture.Session, error) {
	if s.mic == nil {
		return nil, fmt.Errorf("%w: no microphone configured", capture.ErrDeviceUnavailable)
	}

	session := capture.NewSession(capture.SessionConfig{
		Microphone: s.mic,
		Blobs:      s.blobs,
		Dispatcher: s.pipeline,
		UserID:     userID,
		Target:     target,
		Logger:     s.logger,
	})
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// WebhookHandler returns the HTTP handler the inbound-webhook collaborator
// mounts to persist gateway-pushed messages.
func (s *Service) WebhookHandler() http.Handler {
	return s.webhook
}

// Close releases the store and its change feed.
func (s *Service) Close() error {
	return s.store.Close()
}

// newLogger builds a slog logger from logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
