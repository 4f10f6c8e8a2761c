// ABOUTME: Capture session driving Idle→Requesting→Recording→Encoding→Uploading→Dispatched
// ABOUTME: Exactly one encoder is active per session; total failure releases the device handle

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/praxiahq/chat-gateway/internal/blob"
	"github.com/praxiahq/chat-gateway/internal/dispatch"
	"github.com/praxiahq/chat-gateway/internal/store"
)

// Dispatcher defines what the session needs from the dispatch pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, target dispatch.Target, raw any) (dispatch.Result, error)
}

// SessionConfig wires a capture session's collaborators.
type SessionConfig struct {
	Microphone Microphone
	Primary    EncoderFactory // defaults to NewADPCMEncoder
	Fallback   EncoderFactory // defaults to NewRawEncoder
	Blobs      blob.Store
	Dispatcher Dispatcher
	UserID     string          // owner of the uploaded artifact path
	Target     dispatch.Target // where the voice message goes
	Logger     *slog.Logger
}

// Session is one audio capture attempt. Sessions are single-use: a session
// that reached a terminal state cannot be restarted.
type Session struct {
	mu           sync.Mutex
	state        State
	cfg          SessionConfig
	stream       Stream
	enc          Encoder
	usedFallback bool
	readerDone   chan struct{}
	logger       *slog.Logger
}

// NewSession creates an idle capture session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Primary == nil {
		cfg.Primary = NewADPCMEncoder
	}
	if cfg.Fallback == nil {
		cfg.Fallback = NewRawEncoder
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		state:  StateIdle,
		cfg:    cfg,
		logger: logger.With("component", "capture"),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UsedFallback reports whether the fallback encoder is active.
func (s *Session) UsedFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedFallback
}

// Start acquires the microphone and begins recording. The primary encoder is
// probed first; on construction failure exactly one fallback attempt is made.
// If both fail the device stream is released and the session is Failed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, s.state)
	}
	s.state = StateRequesting

	stream, err := s.cfg.Microphone.Open(ctx)
	if err != nil {
		s.state = StateFailed
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	enc, usedFallback, err := s.probeEncoder(stream.Format())
	if err != nil {
		// Release the device lock; a failed session must not hold it.
		_ = stream.Close()
		s.state = StateFailed
		return err
	}

	s.stream = stream
	s.enc = enc
	s.usedFallback = usedFallback
	s.readerDone = make(chan struct{})
	s.state = StateRecording

	go s.readLoop(stream, enc, s.readerDone)

	s.logger.Debug("recording started", "fallback", usedFallback, "format", stream.Format())
	return nil
}

// probeEncoder attempts the primary encoder, then exactly one fallback. A
// partially constructed primary is closed before the fallback is built so
// only one encoder instance is ever live.
func (s *Session) probeEncoder(f Format) (Encoder, bool, error) {
	enc, err := s.cfg.Primary(f)
	if err == nil {
		return enc, false, nil
	}
	if enc != nil {
		_ = enc.Close()
	}
	s.logger.Warn("primary encoder unavailable, trying fallback", "error", err)

	enc, fbErr := s.cfg.Fallback(f)
	if fbErr == nil {
		return enc, true, nil
	}
	if enc != nil {
		_ = enc.Close()
	}
	return nil, false, fmt.Errorf("%w: primary: %v; fallback: %v", ErrDeviceUnavailable, err, fbErr)
}

// readLoop feeds device chunks into the active encoder until the stream
// closes.
func (s *Session) readLoop(stream Stream, enc Encoder, done chan struct{}) {
	defer close(done)
	for chunk := range stream.Chunks() {
		if err := enc.Write(chunk); err != nil {
			s.logger.Error("encoder write failed", "error", err)
			return
		}
	}
}

// Stop finalizes the recording: the stream is closed, the encoder output is
// uploaded, and the resulting URL is dispatched as an audio intent. Upload
// failure aborts the capture with no message created.
func (s *Session) Stop(ctx context.Context) (dispatch.Result, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		state := s.state
		s.mu.Unlock()
		return dispatch.Result{}, fmt.Errorf("%w: stop from %s", ErrInvalidState, state)
	}
	s.state = StateEncoding
	stream, enc, done := s.stream, s.enc, s.readerDone
	s.mu.Unlock()

	// Closing the stream ends the chunk channel; wait for the reader to
	// drain before finalizing.
	_ = stream.Close()
	<-done

	data, mime, err := enc.Finalize()
	if err != nil {
		s.fail()
		return dispatch.Result{}, fmt.Errorf("%w: finalize: %v", ErrDeviceUnavailable, err)
	}
	_ = enc.Close()

	s.setState(StateUploading)
	key := fmt.Sprintf("voice/%s/%d%s", s.cfg.UserID, time.Now().UnixNano(), extForMime(mime))
	url, err := s.cfg.Blobs.Put(ctx, key, data, mime)
	if err != nil {
		s.fail()
		return dispatch.Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	result, err := s.cfg.Dispatcher.Dispatch(ctx, s.cfg.Target, dispatch.Intent{
		Kind:     store.KindAudio,
		MediaURL: url,
		Mime:     mime,
	})
	if err != nil {
		s.fail()
		return result, err
	}

	s.setState(StateDispatched)
	s.logger.Debug("voice message dispatched",
		"message_id", result.MessageID,
		"bytes", len(data),
		"fallback", s.UsedFallback())
	return result, nil
}

// Cancel aborts a capture before encoding begins, releasing device resources
// with no message created. The session returns to idle and may be restarted.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRequesting, StateRecording:
	default:
		return fmt.Errorf("%w: cancel from %s", ErrInvalidState, s.state)
	}

	if s.stream != nil {
		_ = s.stream.Close()
		<-s.readerDone
		s.stream = nil
	}
	if s.enc != nil {
		_ = s.enc.Close()
		s.enc = nil
	}
	s.usedFallback = false
	s.state = StateIdle

	s.logger.Debug("capture cancelled")
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) fail() {
	s.setState(StateFailed)
}

func extForMime(mime string) string {
	if mime == "audio/wav" {
		return ".wav"
	}
	return ".pcm"
}
