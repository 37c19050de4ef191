// Package transport owns the single WebSocket connection to the relay and
// provides request/response correlation over it.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eddiemessiah/pulse-remit-channel/internal/protocol"
)

// EventKind distinguishes transport-level events from relay messages.
type EventKind int

const (
	// EventMessage delivers a decoded relay message.
	EventMessage EventKind = iota
	// EventReconnected fires after an automatic reconnect succeeds. The
	// owner is expected to re-authenticate and resync its sessions.
	EventReconnected
	// EventConnectionLost fires once reconnect attempts are exhausted.
	EventConnectionLost
)

// Event is delivered to every registered handler.
type Event struct {
	Kind    EventKind
	Message *protocol.Inbound
	Err     error
}

// Handler consumes transport events. Handlers are invoked sequentially on
// the connection's read goroutine; a slow handler delays dispatch.
type Handler func(Event)

// Conn is the subset of a websocket connection the transport needs.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection to the relay endpoint.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// Config holds transport tuning parameters.
type Config struct {
	Endpoint             string
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
}

// Transport multiplexes all channel traffic over one relay connection.
type Transport struct {
	cfg    Config
	logger *zap.Logger
	dial   Dialer

	mu        sync.Mutex
	conn      Conn
	connected bool
	closed    bool

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Inbound

	handlersMu    sync.Mutex
	handlers      map[int]Handler
	nextHandlerID int
}

// New creates a transport that dials with the default websocket dialer.
func New(cfg Config, logger *zap.Logger) *Transport {
	return NewWithDialer(cfg, logger, func(ctx context.Context, endpoint string) (Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// NewWithDialer creates a transport with a custom dialer.
func NewWithDialer(cfg Config, logger *zap.Logger, dial Dialer) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		cfg.ReconnectMaxAttempts = 5
	}
	return &Transport{
		cfg:      cfg,
		logger:   logger,
		dial:     dial,
		pending:  make(map[string]chan *protocol.Inbound),
		handlers: make(map[int]Handler),
	}
}

// Connect dials the relay and starts the read loop. Resets the reconnect
// budget on success.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	conn, err := t.dial(dialCtx, t.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDialFailed, t.cfg.Endpoint, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	t.logger.Info("connected to relay", zap.String("endpoint", t.cfg.Endpoint))

	go t.readLoop(conn)
	return nil
}

// IsConnected reports whether a live connection exists.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Send writes one envelope. It either succeeds synchronously or returns an
// error; nothing is queued.
func (t *Transport) Send(ctx context.Context, env *protocol.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

// SendTagged assigns a fresh request id, sends, and returns the id without
// waiting for a response. Callers correlate relay errors against the id
// through the handler stream.
func (t *Transport) SendTagged(ctx context.Context, env *protocol.Envelope) (string, error) {
	env.RequestID = uuid.New().String()
	if err := t.Send(ctx, env); err != nil {
		return "", err
	}
	return env.RequestID, nil
}

// Request sends a message tagged with a fresh request id and blocks until
// the correlated response arrives or timeout elapses. Timeouts are reported,
// not retried.
func (t *Transport) Request(ctx context.Context, env *protocol.Envelope, timeout time.Duration) (*protocol.Inbound, error) {
	env.RequestID = uuid.New().String()

	ch := make(chan *protocol.Inbound, 1)
	t.pendingMu.Lock()
	t.pending[env.RequestID] = ch
	t.pendingMu.Unlock()

	if err := t.Send(ctx, env); err != nil {
		t.removePending(env.RequestID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case in := <-ch:
		return in, nil
	case <-timer.C:
		t.removePending(env.RequestID)
		return nil, fmt.Errorf("%w: %s after %v", ErrRequestTimeout, env.Type, timeout)
	case <-ctx.Done():
		t.removePending(env.RequestID)
		return nil, ctx.Err()
	}
}

// OnMessage registers a handler for every inbound event, including messages
// that also resolve a pending request. Returns an unsubscribe function.
func (t *Transport) OnMessage(h Handler) func() {
	t.handlersMu.Lock()
	id := t.nextHandlerID
	t.nextHandlerID++
	t.handlers[id] = h
	t.handlersMu.Unlock()

	return func() {
		t.handlersMu.Lock()
		delete(t.handlers, id)
		t.handlersMu.Unlock()
	}
}

// PendingCount reports outstanding request correlations.
func (t *Transport) PendingCount() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.pending)
}

// Close shuts the transport down permanently.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.connected = false
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *Transport) removePending(requestID string) {
	t.pendingMu.Lock()
	delete(t.pending, requestID)
	t.pendingMu.Unlock()
}

func (t *Transport) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			stale := t.conn != conn
			if !stale {
				t.connected = false
				t.conn = nil
			}
			t.mu.Unlock()

			if closed || stale {
				return
			}

			t.logger.Warn("relay connection dropped", zap.Error(err))
			t.scheduleReconnect()
			return
		}

		in, err := protocol.Decode(data)
		if err != nil {
			t.logger.Error("rejecting relay frame", zap.Error(err))
			continue
		}

		t.dispatch(in)
	}
}

func (t *Transport) dispatch(in *protocol.Inbound) {
	if in.RequestID != "" {
		t.pendingMu.Lock()
		ch, ok := t.pending[in.RequestID]
		if ok {
			delete(t.pending, in.RequestID)
		}
		t.pendingMu.Unlock()
		if ok {
			ch <- in
		}
	}

	t.emit(Event{Kind: EventMessage, Message: in})
}

func (t *Transport) emit(ev Event) {
	t.handlersMu.Lock()
	handlers := make([]Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.handlersMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// scheduleReconnect retries the dial with exponential backoff. After the
// attempt budget is spent the transport stays down until Connect is called.
func (t *Transport) scheduleReconnect() {
	go func() {
		for attempt := 1; attempt <= t.cfg.ReconnectMaxAttempts; attempt++ {
			delay := backoffDelay(t.cfg.ReconnectBaseDelay, t.cfg.ReconnectMaxDelay, attempt)
			t.logger.Info("scheduling reconnect",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			time.Sleep(delay)

			t.mu.Lock()
			if t.closed || t.connected {
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()

			dialCtx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
			conn, err := t.dial(dialCtx, t.cfg.Endpoint)
			cancel()
			if err != nil {
				t.logger.Warn("reconnect attempt failed",
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}

			t.mu.Lock()
			t.conn = conn
			t.connected = true
			t.mu.Unlock()

			t.logger.Info("reconnected to relay", zap.Int("attempt", attempt))
			go t.readLoop(conn)
			t.emit(Event{Kind: EventReconnected})
			return
		}

		t.logger.Error("reconnect attempts exhausted",
			zap.Int("attempts", t.cfg.ReconnectMaxAttempts),
		)
		t.emit(Event{Kind: EventConnectionLost, Err: ErrConnectionLost})
	}()
}

// backoffDelay doubles the base delay per attempt up to the cap.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
