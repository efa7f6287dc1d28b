// Package relaytest runs an in-process relay that rebroadcasts every
// send_message event as receive_message, for tests of the chat client.
package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gosuda/relay-chat/simple-chat/message"
)

// Relay is a broadcast hub behind an httptest server.
type Relay struct {
	srv  *httptest.Server
	echo bool

	mu       sync.Mutex
	conns    map[*websocket.Conn]*sync.Mutex // per-connection write locks
	received []message.Message
	headers  []http.Header
	wg       sync.WaitGroup
}

type Option func(*Relay)

// WithEcho makes the relay send a client's message back to that client too.
func WithEcho() Option {
	return func(r *Relay) { r.echo = true }
}

// New starts a relay and stops it when the test ends.
func New(t testing.TB, opts ...Option) *Relay {
	t.Helper()
	r := &Relay{conns: map[*websocket.Conn]*sync.Mutex{}}
	for _, o := range opts {
		o(r)
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.handleWS))
	t.Cleanup(r.Close)
	return r
}

// URL is the websocket endpoint of the relay.
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *Relay) Close() {
	r.DropClients()
	r.srv.Close()
	r.wg.Wait()
}

// Clients is the number of open client connections.
func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Received returns every message clients sent, in arrival order.
func (r *Relay) Received() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Message(nil), r.received...)
}

// Headers returns the handshake headers of every accepted connection.
func (r *Relay) Headers() []http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]http.Header(nil), r.headers...)
}

// Broadcast pushes m to every client as if another peer had sent it.
func (r *Relay) Broadcast(m message.Message) {
	r.broadcast(nil, m)
}

// SendRaw writes a raw text frame to every client.
func (r *Relay) SendRaw(frame string) {
	for c, mu := range r.snapshot() {
		mu.Lock()
		_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
		_ = c.WriteMessage(websocket.TextMessage, []byte(frame))
		mu.Unlock()
	}
}

// DropClients force-closes every client connection.
func (r *Relay) DropClients() {
	for c, mu := range r.snapshot() {
		mu.Lock()
		_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutdown"))
		_ = c.Close()
		mu.Unlock()
	}
}

func (r *Relay) snapshot() map[*websocket.Conn]*sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[*websocket.Conn]*sync.Mutex, len(r.conns))
	for c, mu := range r.conns {
		out[c] = mu
	}
	return out
}

func (r *Relay) broadcast(from *websocket.Conn, m message.Message) {
	frame, err := message.Marshal(struct {
		Event string          `json:"event"`
		Data  message.Message `json:"data"`
	}{Event: "receive_message", Data: m})
	if err != nil {
		return
	}
	for c, mu := range r.snapshot() {
		if c == from && !r.echo {
			continue
		}
		mu.Lock()
		_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
		_ = c.WriteMessage(websocket.TextMessage, frame)
		mu.Unlock()
	}
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin:      func(r *http.Request) bool { return true },
		HandshakeTimeout: 10 * time.Second,
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	r.mu.Lock()
	r.conns[conn] = &sync.Mutex{}
	r.headers = append(r.headers, req.Header.Clone())
	r.wg.Add(1)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.conns, conn)
		r.mu.Unlock()
		_ = conn.Close()
		r.wg.Done()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env struct {
			Event string          `json:"event"`
			Data  message.Message `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil || env.Event != "send_message" {
			continue
		}
		r.mu.Lock()
		r.received = append(r.received, env.Data)
		r.mu.Unlock()
		r.broadcast(conn, env.Data)
	}
}
