//go:generate go run go.uber.org/mock/mockgen -source=session.go -destination=../mocks/mock_session.go -package=mocks

// Package session is the chat component: it owns the selection state, applies
// user actions and relay events to the history, and produces render frames.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gosuda/relay-chat/simple-chat/message"
	"github.com/gosuda/relay-chat/simple-chat/metrics"
	"github.com/gosuda/relay-chat/simple-chat/render"
)

// Transport is the relay connection the session emits to and receives from.
type Transport interface {
	Emit(ctx context.Context, m message.Message) error
	OnReceive(fn func(message.Message)) (off func())
	OnState(fn func(connected bool)) (off func())
	Connected() bool
}

// Store is the persisted message sequence.
type Store interface {
	Append(m message.Message) error
	Remove(index int) error
	Clear() error
	Messages() []message.Message
	Len() int
}

// EchoMode says whether the relay sends a client's own messages back to it.
type EchoMode string

const (
	EchoNone     EchoMode = "none"
	EchoSuppress EchoMode = "echo"
)

var ErrUnknownEchoMode = errors.New("session: unknown echo mode")

func ParseEchoMode(s string) (EchoMode, error) {
	switch EchoMode(s) {
	case "", EchoNone:
		return EchoNone, nil
	case EchoSuppress:
		return EchoSuppress, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEchoMode, s)
}

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func WithEcho(mode EchoMode) Option {
	return func(s *Session) { s.echo = mode }
}

// WithEmitTimeout bounds a single relay write. Zero leaves the caller's context as is.
func WithEmitTimeout(d time.Duration) Option {
	return func(s *Session) { s.emitTimeout = d }
}

type listener struct {
	id int
	fn func()
}

// Session serializes every mutation under one mutex. Transport callbacks enter
// through Receive like any other caller.
type Session struct {
	identity    string
	store       Store
	transport   Transport
	log         zerolog.Logger
	now         func() time.Time
	echo        EchoMode
	emitTimeout time.Duration

	mu       sync.Mutex
	selected int
	pending  []message.Message
	offs     []func()

	lmu       sync.Mutex
	nextID    int
	listeners []listener
}

func New(identity string, store Store, transport Transport, opts ...Option) *Session {
	s := &Session{
		identity:    identity,
		store:       store,
		transport:   transport,
		log:         zerolog.Nop(),
		now:         time.Now,
		echo:        EchoNone,
		emitTimeout: 10 * time.Second,
		selected:    render.NoSelection,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) Identity() string { return s.identity }

// Start subscribes to the transport. Calling it twice is a no-op.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offs != nil {
		return
	}
	s.offs = []func(){
		s.transport.OnReceive(s.Receive),
		s.transport.OnState(func(connected bool) {
			s.log.Debug().Bool("connected", connected).Msg("[chat] relay state")
			s.notify()
		}),
	}
}

// Close unsubscribes from the transport. The store and transport stay open;
// their owner closes them.
func (s *Session) Close() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	s.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// Send appends input as an own message and emits it to the relay. Blank input
// is ignored and reported with ok false. Emit failures are logged, not returned:
// the local append stands.
func (s *Session) Send(ctx context.Context, input string) (m message.Message, ok bool, err error) {
	if message.Blank(input) {
		return message.Message{}, false, nil
	}
	m = message.New(s.identity, input, s.now())

	s.mu.Lock()
	if err := s.append(m); err != nil {
		s.mu.Unlock()
		return message.Message{}, false, fmt.Errorf("append own message: %w", err)
	}
	if s.echo == EchoSuppress {
		s.pending = append(s.pending, m)
	}
	s.mu.Unlock()

	metrics.MessagesSent.Inc()
	s.notify()

	if s.emitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.emitTimeout)
		defer cancel()
	}
	if err := s.transport.Emit(ctx, m); err != nil {
		s.log.Warn().Err(err).Msg("[chat] emit failed, message kept locally")
		s.mu.Lock()
		s.dropPending(m)
		s.mu.Unlock()
	}
	return m, true, nil
}

// Receive appends a record from the relay. In echo mode a copy of a pending own
// message is swallowed once instead.
func (s *Session) Receive(m message.Message) {
	s.mu.Lock()
	if s.echo == EchoSuppress && s.dropPending(m) {
		s.mu.Unlock()
		metrics.EchoSuppressed.Inc()
		s.log.Debug().Str("sender", m.Sender).Msg("[chat] own echo suppressed")
		return
	}
	err := s.append(m)
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Msg("[chat] failed to store received message")
		return
	}
	metrics.MessagesReceived.Inc()
	s.notify()
}

// DoubleClick toggles the delete control on index i. Selecting another index
// moves it; an out-of-range index changes nothing.
func (s *Session) DoubleClick(i int) {
	s.mu.Lock()
	if i < 0 || i >= s.store.Len() {
		s.mu.Unlock()
		return
	}
	if s.selected == i {
		s.selected = render.NoSelection
	} else {
		s.selected = i
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) Deselect() {
	s.mu.Lock()
	changed := s.selected != render.NoSelection
	s.selected = render.NoSelection
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Selected returns the index showing the delete control, or render.NoSelection.
func (s *Session) Selected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Delete removes index i from the local history only; peers keep their copy.
func (s *Session) Delete(i int) error {
	s.mu.Lock()
	if err := s.store.Remove(i); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("delete message: %w", err)
	}
	s.selected = render.NoSelection
	s.mu.Unlock()

	metrics.MessagesDeleted.Inc()
	s.notify()
	return nil
}

// Clear empties the local history.
func (s *Session) Clear() error {
	s.mu.Lock()
	if err := s.store.Clear(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("clear history: %w", err)
	}
	s.selected = render.NoSelection
	s.pending = nil
	s.mu.Unlock()

	s.notify()
	return nil
}

// Frame renders the current state with input as the text being typed.
func (s *Session) Frame(input string) render.Frame {
	s.mu.Lock()
	st := render.State{
		Messages: s.store.Messages(),
		Identity: s.identity,
		Selected: s.selected,
		Input:    input,
	}
	s.mu.Unlock()
	st.Connected = s.transport.Connected()
	return render.Build(st)
}

// OnChange registers fn to run after every visible change. Callbacks run on
// the goroutine that made the change and must not block.
func (s *Session) OnChange(fn func()) (off func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) notify() {
	s.lmu.Lock()
	ls := append([]listener(nil), s.listeners...)
	s.lmu.Unlock()
	for _, l := range ls {
		l.fn()
	}
}

// append stores m and shifts the selection by however many old messages the
// store's limit pushed out. Caller holds s.mu.
func (s *Session) append(m message.Message) error {
	before := s.store.Len()
	if err := s.store.Append(m); err != nil {
		return err
	}
	if dropped := before + 1 - s.store.Len(); dropped > 0 && s.selected != render.NoSelection {
		s.selected -= dropped
		if s.selected < 0 {
			s.selected = render.NoSelection
		}
	}
	return nil
}

// dropPending removes the first pending message equal to m. Caller holds s.mu.
func (s *Session) dropPending(m message.Message) bool {
	for i, p := range s.pending {
		if p == m {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}
