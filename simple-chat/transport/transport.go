// Package transport connects the chat component to a message relay over a
// single long-lived websocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gosuda/relay-chat/simple-chat/message"
	"github.com/gosuda/relay-chat/simple-chat/metrics"
)

// Event names carried in the envelope.
const (
	EventSend    = "send_message"
	EventReceive = "receive_message"
)

// ClientIDHeader carries the per-process client ID on the handshake.
const ClientIDHeader = "X-Client-ID"

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: closed")
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type receiver struct {
	id uint64
	fn func(message.Message)
}

type stateListener struct {
	id uint64
	fn func(bool)
}

// Client is the relay connection. Build one per process and share it.
type Client struct {
	endpoint string
	dialer   *websocket.Dialer
	header   http.Header
	log      zerolog.Logger

	minDelay     time.Duration
	maxDelay     time.Duration
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
	nextID    uint64
	receivers []receiver
	states    []stateListener

	// serializes writes on the current connection
	writeMu sync.Mutex
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialer.HandshakeTimeout = d }
}

// WithReconnectDelay bounds the redial backoff. The delay starts at initial
// and doubles up to ceiling.
func WithReconnectDelay(initial, ceiling time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.minDelay = initial
		}
		if ceiling >= c.minDelay {
			c.maxDelay = ceiling
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

func WithClientID(id string) Option {
	return func(c *Client) { c.header.Set(ClientIDHeader, id) }
}

// New builds a client for endpoint without connecting.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:     endpoint,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		header:       http.Header{},
		log:          zerolog.Nop(),
		minDelay:     time.Second,
		maxDelay:     5 * time.Second,
		pingInterval: 20 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
	}
	c.header.Set(ClientIDHeader, uuid.NewString())
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) ClientID() string { return c.header.Get(ClientIDHeader) }

// Connect starts the connection loop in the background. Dial failures are
// retried until Disconnect, Close or ctx cancellation.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

// Disconnect closes the current connection and stops redialing.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
	}
	cancel()
	<-done
}

// Close disconnects and drops every registered handler.
func (c *Client) Close() error {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.receivers = nil
	c.states = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// OnReceive registers fn for every inbound message, in arrival order.
// The returned func removes the registration.
func (c *Client) OnReceive(fn func(message.Message)) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.receivers = append(c.receivers, receiver{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, r := range c.receivers {
			if r.id == id {
				c.receivers = append(c.receivers[:i:i], c.receivers[i+1:]...)
				return
			}
		}
	}
}

// OnState registers fn for connection up/down transitions.
func (c *Client) OnState(fn func(connected bool)) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.states = append(c.states, stateListener{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.states {
			if s.id == id {
				c.states = append(c.states[:i:i], c.states[i+1:]...)
				return
			}
		}
	}
}

// Emit writes m to the relay once. There is no acknowledgement and no retry.
func (c *Client) Emit(ctx context.Context, m message.Message) error {
	payload, err := message.Marshal(Envelope{Event: EventSend, Data: m})
	if err != nil {
		return fmt.Errorf("encode %s: %w", EventSend, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		metrics.EmitFailures.WithLabelValues("disconnected").Inc()
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		metrics.EmitFailures.WithLabelValues("write").Inc()
		return fmt.Errorf("write %s: %w", EventSend, err)
	}
	return nil
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	delay := c.minDelay
	dials := 0
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.endpoint, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Debug().Err(err).Str("endpoint", c.endpoint).Dur("retry_in", delay).Msg("[transport] dial failed")
			if !sleep(ctx, delay) {
				return
			}
			delay = min(delay*2, c.maxDelay)
			continue
		}
		dials++
		if dials > 1 {
			metrics.Reconnects.Inc()
		}
		delay = c.minDelay
		c.log.Info().Str("endpoint", c.endpoint).Int("dial", dials).Msg("[transport] connected")

		c.setConn(conn)
		c.serve(ctx, conn)
		c.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.log.Warn().Str("endpoint", c.endpoint).Dur("retry_in", delay).Msg("[transport] connection lost")
		if !sleep(ctx, delay) {
			return
		}
	}
}

// serve pumps inbound frames until the connection fails or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				c.writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debug().Err(err).Msg("[transport] read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env inbound
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.FramesDropped.Inc()
		c.log.Debug().Err(err).Msg("[transport] undecodable frame")
		return
	}
	if env.Event != EventReceive {
		metrics.FramesDropped.Inc()
		c.log.Debug().Str("event", env.Event).Msg("[transport] ignoring event")
		return
	}
	var m message.Message
	if err := json.Unmarshal(env.Data, &m); err != nil {
		metrics.FramesDropped.Inc()
		c.log.Debug().Err(err).Msg("[transport] undecodable message")
		return
	}

	c.mu.Lock()
	handlers := make([]func(message.Message), 0, len(c.receivers))
	for _, r := range c.receivers {
		handlers = append(handlers, r.fn)
	}
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(m)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	listeners := make([]func(bool), 0, len(c.states))
	for _, s := range c.states {
		listeners = append(listeners, s.fn)
	}
	c.mu.Unlock()

	up := conn != nil
	if up {
		metrics.Connected.Set(1)
	} else {
		metrics.Connected.Set(0)
	}
	for _, fn := range listeners {
		fn(up)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
