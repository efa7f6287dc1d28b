// Package message defines the chat record exchanged with the relay and kept in
// the local history.
package message

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// TimeLayout formats the display timestamp attached at send time.
const TimeLayout = "3:04:05 PM"

// Message is a single chat record. Order in the history is its only identity.
type Message struct {
	Sender    string `json:"sender"`
	Content   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// New builds a locally authored message stamped with the client clock.
func New(sender, content string, at time.Time) Message {
	return Message{
		Sender:    sender,
		Content:   content,
		Timestamp: at.Format(TimeLayout),
	}
}

// Blank reports whether s carries nothing worth sending.
func Blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// wire accepts both the unified schema and the older {user, content} one.
type wire struct {
	Sender    *string `json:"sender"`
	Message   *string `json:"message"`
	Timestamp string  `json:"timestamp"`
	User      *string `json:"user"`
	Content   *string `json:"content"`
}

// UnmarshalJSON decodes either schema. Unified fields win when both are set.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{Timestamp: w.Timestamp}
	switch {
	case w.Sender != nil:
		m.Sender = *w.Sender
	case w.User != nil:
		m.Sender = *w.User
	}
	switch {
	case w.Message != nil:
		m.Content = *w.Message
	case w.Content != nil:
		m.Content = *w.Content
	}
	return nil
}

// Marshal encodes v without HTML escaping so <, > and & survive the round trip.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
