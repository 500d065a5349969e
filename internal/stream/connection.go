package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/fleetsync/playback/internal/channel"
	"github.com/fleetsync/playback/pkg/streaming"
)

const (
	outboxSize = 10_000
	writeWait  = 10 * time.Second
	ackTimeout = 10 * time.Second
)

// retryPolicy doubles the delay after each failed dial up to max.
type retryPolicy struct {
	initial  time.Duration
	max      time.Duration
	attempts int
}

func defaultRetry() retryPolicy {
	return retryPolicy{initial: time.Second, max: 30 * time.Second, attempts: 10}
}

// delay returns the wait before the given attempt, counted from 1.
func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.initial
	for i := 1; i < attempt && d < p.max; i++ {
		d *= 2
	}
	return min(d, p.max)
}

// connection is a reconnecting websocket client. Each physical socket has
// one reader and one writer goroutine; outbound frames queue in outbox so
// callers never block on the network.
type connection struct {
	rawURL string
	secret string
	retry  retryPolicy
	logger *slog.Logger

	// replay returns the frames that restore session state on a new socket.
	replay func() [][]byte
	// onMessage receives inbound envelopes other than acks.
	onMessage func(streaming.Envelope)

	outbox channel.Channel[[]byte]
	done   chan struct{}

	mu      sync.Mutex
	sock    *ws.Conn
	closed  bool
	waiters map[string][]chan struct{}

	wmu sync.Mutex // one writer per socket
}

func newConnection(logger *slog.Logger) *connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &connection{
		retry:     defaultRetry(),
		logger:    logger,
		replay:    func() [][]byte { return nil },
		onMessage: func(streaming.Envelope) {},
		outbox:    channel.NewBuffered[[]byte](outboxSize),
		done:      make(chan struct{}),
		waiters:   make(map[string][]chan struct{}),
	}
}

// dial opens the first socket. Later drops are handled by reconnect.
func (c *connection) dial(rawURL, secret string) error {
	c.rawURL = rawURL
	c.secret = secret

	sock, err := c.open()
	if err != nil {
		return err
	}
	c.attach(sock)
	return nil
}

func (c *connection) open() (*ws.Conn, error) {
	u, err := url.Parse(c.rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}
	sock, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", u.Host, err)
	}
	return sock, nil
}

// attach makes sock current and starts its goroutines. Only the reader
// reconnects; the writer exits with it.
func (c *connection) attach(sock *ws.Conn) {
	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()

	readerDone := make(chan struct{})
	go c.pump(sock, readerDone)
	go func() {
		defer close(readerDone)
		if c.read(sock) {
			go c.reconnect()
		}
	}()
}

// pump writes queued frames to sock until the reader or the connection stops.
func (c *connection) pump(sock *ws.Conn, readerDone <-chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-readerDone:
			return
		case frame := <-c.outbox.Receive():
			if err := c.write(sock, frame); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				_ = sock.Close()
				return
			}
		}
	}
}

func (c *connection) write(sock *ws.Conn, frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return sock.WriteMessage(ws.TextMessage, frame)
}

// read dispatches inbound frames until the socket fails. It reports whether
// the failure was unexpected.
func (c *connection) read(sock *ws.Conn) bool {
	for {
		_, frame, err := sock.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return false
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			return true
		}

		var ack streaming.AckMessage
		if json.Unmarshal(frame, &ack) == nil && ack.Type == "ack" {
			c.acked(ack.For)
			continue
		}
		var env streaming.Envelope
		if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" {
			c.logger.Debug("Unrecognized message received", "raw", string(frame))
			continue
		}
		c.onMessage(env)
	}
}

// acked releases every waiter for msgType.
func (c *connection) acked(msgType string) {
	c.mu.Lock()
	pending := c.waiters[msgType]
	delete(c.waiters, msgType)
	c.mu.Unlock()
	if len(pending) == 0 {
		c.logger.Debug("Unexpected ack", "for", msgType)
	}
	for _, w := range pending {
		close(w)
	}
}

func (c *connection) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.mu.Unlock()

	for attempt := 1; attempt <= c.retry.attempts; attempt++ {
		wait := c.retry.delay(attempt)
		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", wait)

		sock, err := c.open()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}
		if err := c.restore(sock); err != nil {
			c.logger.Warn("Failed to restore session after reconnect", "attempt", attempt, "error", err)
			_ = sock.Close()
			continue
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			_ = sock.Close()
			return
		}
		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		c.attach(sock)
		return
	}
	c.logger.Error("WebSocket reconnect gave up", "attempts", c.retry.attempts)
}

// restore writes the replay frames directly, ahead of anything queued.
func (c *connection) restore(sock *ws.Conn) error {
	for _, frame := range c.replay() {
		if err := c.write(sock, frame); err != nil {
			return err
		}
	}
	return nil
}

// send queues frame for the writer, dropping it when the outbox is full.
func (c *connection) send(frame []byte) {
	if !c.outbox.TrySend(frame) {
		c.logger.Warn("WebSocket outbox full, dropping message")
	}
}

// sendAndWait queues frame and waits for an ack naming msgType, the timeout,
// ctx or the connection closing, whichever comes first.
func (c *connection) sendAndWait(ctx context.Context, frame []byte, msgType string, timeout time.Duration) error {
	w := make(chan struct{})
	c.mu.Lock()
	c.waiters[msgType] = append(c.waiters[msgType], w)
	c.mu.Unlock()

	c.send(frame)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w:
		return nil
	case <-timer.C:
		c.forget(msgType, w)
		return fmt.Errorf("timeout waiting for ack of %q", msgType)
	case <-ctx.Done():
		c.forget(msgType, w)
		return fmt.Errorf("waiting for ack of %q: %w", msgType, ctx.Err())
	case <-c.done:
		return fmt.Errorf("connection closed while waiting for ack of %q", msgType)
	}
}

func (c *connection) forget(msgType string, w chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.waiters[msgType]
	for i, x := range list {
		if x == w {
			c.waiters[msgType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// close sends a close frame and stops every goroutine. It is idempotent.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock == nil {
		return nil
	}
	c.wmu.Lock()
	_ = sock.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return sock.Close()
}

// marshalEnvelope encodes payload inside an Envelope of msgType.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
