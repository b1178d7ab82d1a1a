package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrFeedClosed is returned by Run after Close
var ErrFeedClosed = errors.New("feed closed")

// WebSocketSource maintains a long-lived websocket connection to a streaming
// feed. On connection loss it reconnects with capped exponential backoff
// instead of terminating.
type WebSocketSource struct {
	url     string
	backoff Backoff
	logger  *zap.Logger

	readTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketSource creates a websocket source for the given feed URL
func NewWebSocketSource(url string, logger *zap.Logger) *WebSocketSource {
	return &WebSocketSource{
		url:         url,
		backoff:     DefaultBackoff(),
		logger:      logger,
		readTimeout: 60 * time.Second,
	}
}

// Run reads messages and hands them to handler until the context is
// canceled or the source is closed. The backoff attempt counter resets only
// after a message is delivered, so a connection that dials fine but fails
// immediately (or a handler that persistently errors) still backs off
// instead of redialing in a tight loop.
func (s *WebSocketSource) Run(ctx context.Context, handler func(context.Context, []byte) error) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.isClosed() {
			return ErrFeedClosed
		}

		conn, err := s.dial(ctx)
		if err == nil {
			s.logger.Info("feed connected", zap.String("url", s.url))
			var delivered bool
			delivered, err = s.readLoop(ctx, conn, handler)
			if delivered {
				attempt = 0
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.isClosed() {
			return ErrFeedClosed
		}

		attempt++
		wait := s.backoff.Next(attempt)
		s.logger.Warn("feed disconnected, retrying",
			zap.String("url", s.url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *WebSocketSource) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil, ErrFeedClosed
	}
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

// readLoop reads until the connection fails or the handler rejects a
// message. delivered reports whether at least one message made it through
// the handler, which is what qualifies the connection as healthy.
func (s *WebSocketSource) readLoop(ctx context.Context, conn *websocket.Conn, handler func(context.Context, []byte) error) (delivered bool, err error) {
	defer conn.Close()

	conn.SetReadLimit(1024 * 1024)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return delivered, err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		if err := handler(ctx, message); err != nil {
			return delivered, err
		}
		delivered = true
	}
}

func (s *WebSocketSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the source and closes the live connection
func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
