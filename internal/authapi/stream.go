package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/tab_sentry/internal/session"
)

// Stream is a minimal websocket client for the identity provider's auth
// event feed. It keeps the persisted token and the Client's in-memory flag
// in sync with session-bearing events, then fans every event out to
// registered handlers (the auth event filter chief among them).
type Stream struct {
	wsURL  string
	tokens TokenStore
	client *Client

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	handlerMu sync.RWMutex
	handlers  []streamHandler
}

type streamHandler struct {
	id int64
	fn func(session.Event)
}

// NewStream builds a stream for the given websocket URL. client may be
// nil when no in-memory flag needs maintaining.
func NewStream(wsURL string, tokens TokenStore, client *Client) *Stream {
	return &Stream{wsURL: wsURL, tokens: tokens, client: client}
}

// Subscribe registers a handler for every decoded event. Returns an
// unregister function.
func (s *Stream) Subscribe(fn func(session.Event)) func() {
	id := s.seq.Add(1)
	s.handlerMu.Lock()
	s.handlers = append(s.handlers, streamHandler{id: id, fn: fn})
	s.handlerMu.Unlock()
	return func() {
		s.handlerMu.Lock()
		defer s.handlerMu.Unlock()
		for i, h := range s.handlers {
			if h.id == id {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				break
			}
		}
	}
}

// Connect dials the event feed and starts the read loop.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	slog.Debug("auth stream connecting", "ws_url", s.wsURL)
	conn, _, _, err := ws.Dial(ctx, s.wsURL)
	if err != nil {
		return session.NewError(session.CodeAuthUnavailable, "dial auth event stream", err)
	}
	s.conn = conn
	go s.readLoop()
	return nil
}

// Close tears down the connection; the read loop exits on the next read.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Run keeps the stream connected until ctx is done, redialing with
// exponential backoff after each disconnect.
func (s *Stream) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if err := s.Connect(ctx); err != nil {
			wait := bo.NextBackOff()
			slog.Warn("auth stream connect failed", "retry_in", wait, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		// Wait for the connection to drop or the context to end.
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case <-time.After(time.Second):
			}
			s.mu.Lock()
			alive := s.conn != nil
			s.mu.Unlock()
			if !alive {
				break
			}
		}
	}
}

func (s *Stream) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("auth stream read loop exit", "error", err)
			s.mu.Lock()
			if s.conn == conn {
				s.conn.Close()
				s.conn = nil
			}
			s.mu.Unlock()
			return
		}

		var ev session.Event
		if json.Unmarshal(data, &ev) != nil || ev.Kind == "" {
			continue
		}
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = time.Now()
		}
		s.apply(ev)
		s.dispatch(ev)
	}
}

// apply keeps the persisted token and the in-memory flag in sync with
// session-bearing events before any downstream filtering happens.
func (s *Stream) apply(ev session.Event) {
	switch ev.Kind {
	case session.EventSignedIn, session.EventInitialSession:
		if ev.Session != nil && ev.Session.AccessToken != "" {
			if err := s.tokens.WriteToken(ev.Session.AccessToken); err != nil {
				slog.Warn("persist token from auth event", "kind", ev.Kind, "error", err)
			}
		}
		if s.client != nil {
			s.client.setAuthenticated(true)
		}
	case session.EventSignedOut:
		if err := s.tokens.ClearToken(); err != nil {
			slog.Warn("clear token from auth event", "error", err)
		}
		if s.client != nil {
			s.client.setAuthenticated(false)
		}
	}
}

func (s *Stream) dispatch(ev session.Event) {
	s.handlerMu.RLock()
	handlers := make([]streamHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h.fn(ev)
	}
}
