package render

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// DeleteMarker is the text of the delete control in the terminal view.
const DeleteMarker = "[x]"

// Line is one row of terminal output. Index is the message it belongs to.
// MarkerAt is the column where DeleteMarker starts, or -1.
type Line struct {
	Text     string
	Index    int
	MarkerAt int
}

// OnMarker reports whether column x falls on the line's delete control.
func (l Line) OnMarker(x int) bool {
	return l.MarkerAt >= 0 && x >= l.MarkerAt && x < l.MarkerAt+len(DeleteMarker)
}

func color(idx int, s string) string {
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", idx, s)
}

// Highlight formats the highlight slot as a single plain line.
func Highlight(f Frame, width int) string {
	if f.Highlight == nil {
		return ""
	}
	b := f.Highlight
	text := b.Sender + ": " + strings.Join(rows(b.Content), " ")
	if b.Timestamp != "" {
		text += "  " + b.Timestamp
	}
	return runewidth.Truncate(text, width, "…")
}

// Lines formats the history for a terminal of the given width, one Line per
// printed row. Own messages are right-aligned; the first row of the selected
// one carries DeleteMarker.
func Lines(f Frame, width int, t Theme) []Line {
	if width <= 0 {
		width = 80
	}
	out := make([]Line, 0, len(f.History)*2)
	for _, b := range f.History {
		fg := t.OtherTerm
		if b.Own {
			fg = t.OwnTerm
		}
		for i, text := range rows(b.Content) {
			marker := ""
			if i == 0 {
				text = b.Sender + ": " + text
				if b.ShowDelete {
					marker = " " + DeleteMarker
				}
			}
			text = runewidth.Truncate(text, width-runewidth.StringWidth(marker), "…")
			textWidth := runewidth.StringWidth(text)
			pad := padding(textWidth+runewidth.StringWidth(marker), width, b.Own)
			line := Line{Text: strings.Repeat(" ", pad) + color(fg, text), Index: b.Index, MarkerAt: -1}
			if marker != "" {
				line.Text += color(t.DeleteTerm, marker)
				line.MarkerAt = pad + textWidth + 1
			}
			out = append(out, line)
		}
		if b.Timestamp != "" {
			ts := runewidth.Truncate(b.Timestamp, width, "")
			pad := padding(runewidth.StringWidth(ts), width, b.Own)
			out = append(out, Line{Text: strings.Repeat(" ", pad) + color(t.TimestampTerm, ts), Index: b.Index, MarkerAt: -1})
		}
	}
	return out
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// rows splits message content into the rows it prints as.
func rows(content string) []string {
	return strings.Split(newlines.Replace(content), "\n")
}

// padding is the left indent that puts w visible columns at the right edge.
func padding(w, width int, right bool) int {
	if !right || w >= width {
		return 0
	}
	return width - w
}
