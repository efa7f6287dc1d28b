// Package render turns chat component state into what the user sees. Build is
// a pure function; the HTML and terminal renderers only format its Frame.
package render

import (
	"github.com/samber/lo"

	"github.com/gosuda/relay-chat/simple-chat/message"
)

// NoSelection marks that no message shows its delete control.
const NoSelection = -1

// State is everything the presentation depends on.
type State struct {
	Messages  []message.Message
	Identity  string
	Selected  int
	Input     string
	Connected bool
}

// Bubble is one rendered message.
type Bubble struct {
	Index      int
	Sender     string
	Content    string
	Timestamp  string
	Own        bool
	ShowDelete bool
}

// Frame is the rendered output for one State.
type Frame struct {
	Identity    string
	Highlight   *Bubble
	History     []Bubble
	Selected    int
	SendEnabled bool
	Connected   bool
}

// Build renders s. The highlight is always the last message; only the selected
// index carries the delete control.
func Build(s State) Frame {
	selected := s.Selected
	if selected < 0 || selected >= len(s.Messages) {
		selected = NoSelection
	}

	history := lo.Map(s.Messages, func(m message.Message, i int) Bubble {
		return Bubble{
			Index:      i,
			Sender:     m.Sender,
			Content:    m.Content,
			Timestamp:  m.Timestamp,
			Own:        m.Sender == s.Identity,
			ShowDelete: i == selected,
		}
	})

	f := Frame{
		Identity:    s.Identity,
		History:     history,
		Selected:    selected,
		SendEnabled: !message.Blank(s.Input),
		Connected:   s.Connected,
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		last.ShowDelete = false
		f.Highlight = lo.ToPtr(last)
	}
	return f
}
