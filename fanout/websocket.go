package fanout

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

const (
	// DefaultPingInterval keeps idle connections alive through proxies.
	DefaultPingInterval = 30 * time.Second
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	maxInboundMessage = 4096
)

// WSSubscriber is a Subscriber over a gorilla websocket connection.
type WSSubscriber struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	connectedAt  time.Time

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	sent      atomic.Int64
}

// NewWSSubscriber wraps conn with a fresh id.
func NewWSSubscriber(conn *websocket.Conn, writeTimeout time.Duration) *WSSubscriber {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &WSSubscriber{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
		connectedAt:  time.Now(),
		done:         make(chan struct{}),
	}
}

// ID returns the subscriber id
func (s *WSSubscriber) ID() string { return s.id }

// Done is closed when the connection is closed.
func (s *WSSubscriber) Done() <-chan struct{} { return s.done }

// Sent returns the number of messages written.
func (s *WSSubscriber) Sent() int64 { return s.sent.Load() }

// Send writes msg as one text frame.
func (s *WSSubscriber) Send(ctx context.Context, msg []byte) error {
	if s.closed.Load() {
		return errors.WrapTransient(errors.ErrChannelClosed, "WSSubscriber", "Send", "check connection")
	}

	// gorilla/websocket allows one concurrent writer
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)

	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return errors.WrapTransient(err, "WSSubscriber", "Send", "write message")
	}
	s.sent.Add(1)
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (s *WSSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		// WriteControl may run concurrently with a blocked WriteMessage
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

// readLoop discards inbound messages and returns when the peer goes away.
// Pongs extend the read deadline.
func (s *WSSubscriber) readLoop(pingInterval time.Duration) {
	s.conn.SetReadLimit(maxInboundMessage)
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WSSubscriber) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
		}
	}
}

// Handler upgrades requests to websocket subscribers of h.
type Handler struct {
	hub          *Hub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithPingInterval overrides the keepalive interval.
func WithPingInterval(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithWriteTimeout overrides the per-write deadline.
func WithWriteTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithAllowedOrigins restricts the Origin header. Empty or "*" allows all.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) {
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			if o == "*" {
				return
			}
			allowed[o] = true
		}
		if len(allowed) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
}

// NewHandler returns the realtime endpoint for hub.
func NewHandler(hub *Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the connection, registers the subscriber and serves it
// until the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.metrics.upgradeFailed()
		h.hub.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := NewWSSubscriber(conn, h.writeTimeout)
	h.hub.Register(sub)
	h.hub.logger.Info("Realtime client connected", "subscriber", sub.ID(), "remote", r.RemoteAddr)

	go sub.pingLoop(h.pingInterval)
	sub.readLoop(h.pingInterval)

	h.hub.Unregister(sub.ID())
	_ = sub.Close()
	h.hub.logger.Info("Realtime client disconnected", "subscriber", sub.ID(),
		"sent", sub.Sent(), "duration", time.Since(sub.connectedAt).Round(time.Millisecond))
}
