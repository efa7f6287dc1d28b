// Package history keeps the ordered chat history and mirrors it to a local
// Pebble database under a single key.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/samber/lo"

	"github.com/gosuda/relay-chat/simple-chat/message"
)

// Key is the database key holding the serialized history.
var Key = []byte("messages")

var (
	ErrCorrupt         = errors.New("history: stored value is not a message list")
	ErrIndexOutOfRange = errors.New("history: index out of range")
)

// Store is the in-memory message sequence plus its persisted mirror.
// Every mutation rewrites the whole sequence.
type Store struct {
	db    *pebble.DB
	mu    sync.Mutex
	msgs  []message.Message
	limit int
}

type Option func(*Store)

// WithLimit keeps only the most recent n messages. Zero means unlimited.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

// Open opens (or creates) the Pebble database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return newStore(db, opts), nil
}

// OpenInMemory opens a database that lives only as long as the process.
func OpenInMemory(opts ...Option) (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return newStore(db, opts), nil
}

func newStore(db *pebble.DB, opts []Option) *Store {
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load reads the persisted sequence into memory and returns a copy of it.
// A missing key yields an empty history. Individual entries are not validated.
func (s *Store) Load() ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, closer, err := s.db.Get(Key)
	if errors.Is(err, pebble.ErrNotFound) {
		s.msgs = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer func() { _ = closer.Close() }()

	var msgs []message.Message
	if err := json.Unmarshal(val, &msgs); err != nil {
		s.msgs = nil
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	s.msgs = s.trim(msgs)
	return s.snapshot(), nil
}

// Append adds m to the end of the sequence and persists the whole list.
func (s *Store) Append(m message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.trim(append(s.snapshot(), m))
	if err := s.persist(next); err != nil {
		return err
	}
	s.msgs = next
	return nil
}

// Remove drops the element at index and persists the remainder.
func (s *Store) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.msgs) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(s.msgs))
	}
	next := lo.Filter(s.msgs, func(_ message.Message, i int) bool { return i != index })
	if err := s.persist(next); err != nil {
		return err
	}
	s.msgs = next
	return nil
}

// Clear drops every message.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Delete(Key, pebble.Sync); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	s.msgs = nil
	return nil
}

// Messages returns a copy of the current sequence.
func (s *Store) Messages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Last returns the most recent message, if any.
func (s *Store) Last() (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return message.Message{}, false
	}
	return s.msgs[len(s.msgs)-1], true
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) persist(msgs []message.Message) error {
	if msgs == nil {
		msgs = []message.Message{}
	}
	val, err := message.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.db.Set(Key, val, pebble.Sync); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func (s *Store) trim(msgs []message.Message) []message.Message {
	if s.limit > 0 && len(msgs) > s.limit {
		return append([]message.Message(nil), msgs[len(msgs)-s.limit:]...)
	}
	return msgs
}

func (s *Store) snapshot() []message.Message {
	return append([]message.Message(nil), s.msgs...)
}
