// Package wire implements the duplex session machinery shared by the
// market-data and trade sessions: connect, fragmented-frame reassembly,
// single-writer send, and a run/stop loop, grounded on the reconnecting
// WebSocket worker pattern used for exchange connectivity.
package wire

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"martingale_chaser/internal/netutil"
)

// Handler is the per-session message consumer. OnMessage receives one fully
// reassembled payload per call; fragmentation is invisible to it.
type Handler interface {
	// URL returns the endpoint this session connects to.
	URL() string
	// OnOpen is invoked once the connection is established, before the
	// receive loop starts. Trade sessions use this to authenticate.
	OnOpen(s *Session) error
	// OnMessage receives one reassembled payload.
	OnMessage(s *Session, payload []byte)
	// Name identifies the session for logging.
	Name() string
}

// Session represents one duplex connection's lifecycle. Market and trade
// sessions differ only in their Handler.
type Session struct {
	handler Handler

	mu   sync.RWMutex
	conn *websocket.Conn

	writeMu sync.Mutex

	connected atomic.Bool
	running   atomic.Bool

	recvBuf []byte

	dialTimeout time.Duration
}

// New creates a Session bound to handler. The session is not connected
// until Run is called.
func New(handler Handler) *Session {
	return &Session{
		handler:     handler,
		dialTimeout: 10 * time.Second,
	}
}

// Connected reports whether the underlying transport is currently open.
func (s *Session) Connected() bool { return s.connected.Load() }

// Run connects and services the transport in a loop until Stop is called
// or ctx is cancelled. A connect failure is fatal for this call; callers
// that want reconnection drive Run again themselves, matching the no
// auto-reconnect contract for session failures.
func (s *Session) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	if err := s.connect(ctx); err != nil {
		return fmt.Errorf("wire: %s connect: %w", s.handler.Name(), err)
	}
	defer s.close()

	if err := s.handler.OnOpen(s); err != nil {
		return fmt.Errorf("wire: %s on-open: %w", s.handler.Name(), err)
	}

	for s.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return nil
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("wire session read error", "session", s.handler.Name(), "err", err)
			s.connected.Store(false)
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		s.reassemble(data, conn)
	}
	return nil
}

// reassemble passes one message through the per-session receive buffer,
// dispatches it, and clears the buffer. gorilla/websocket already joins
// continuation frames into a single ReadMessage result, so each call here
// receives one complete application message and dispatches it at once;
// no bytes are carried over from one call to the next.
func (s *Session) reassemble(data []byte, conn *websocket.Conn) {
	s.recvBuf = append(s.recvBuf, data...)
	payload := s.recvBuf
	s.recvBuf = nil
	s.handler.OnMessage(s, payload)
}

// Stop terminates the run loop and closes the connection.
func (s *Session) Stop() {
	s.running.Store(false)
	s.close()
}

// Send writes a single text frame, serialized against concurrent writers.
func (s *Session) Send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("wire: %s not connected", s.handler.Name())
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.dialTimeout}
	header := make(http.Header)

	conn, _, err := dialer.DialContext(ctx, s.handler.URL(), header)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)

	slog.Info("wire session connected", "session", s.handler.Name())
	return nil
}

// RunForever calls Run repeatedly until ctx is cancelled or Run returns nil
// (Stop was called or the read loop ended cleanly). Each Run that returns an
// error is recorded as a breaker failure and followed by an exponential
// backoff; while the breaker refuses attempts, the loop only backs off. The
// retry counter grows with every failed or refused attempt and is never
// reset, and no attempt is recorded as a breaker success, so a tripped
// breaker does not return to the closed state.
func (s *Session) RunForever(ctx context.Context, breaker *netutil.CircuitBreaker) {
	retry := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !breaker.Allow() {
			delay := netutil.Backoff(retry)
			retry++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		err := s.Run(ctx)
		if err == nil {
			return
		}

		breaker.RecordFailure()
		slog.Warn("wire session run exited, reconnecting", "session", s.handler.Name(), "err", err, "retry", retry)

		delay := netutil.Backoff(retry)
		retry++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected.Store(false)
}
