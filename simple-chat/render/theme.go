package render

import (
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Theme owns every visual decision of the chat view. The HTML renderer scopes
// it under Root; nothing outside that element is styled.
type Theme struct {
	Root string

	OwnBackground       string
	OwnForeground       string
	OtherBackground     string
	OtherForeground     string
	HighlightBackground string
	TimestampColor      string
	DeleteColor         string
	FadeIn              time.Duration

	// xterm-256 palette indexes for the terminal view
	OwnTerm       int
	OtherTerm     int
	TimestampTerm int
	DeleteTerm    int
}

var DefaultTheme = Theme{
	Root: "simple-chat",

	OwnBackground:       "#4caf50",
	OwnForeground:       "#fff",
	OtherBackground:     "#f0f0f0",
	OtherForeground:     "#000",
	HighlightBackground: "#f1f1f1",
	TimestampColor:      "#888",
	DeleteColor:         "red",
	FadeIn:              500 * time.Millisecond,

	OwnTerm:       71,
	OtherTerm:     252,
	TimestampTerm: 244,
	DeleteTerm:    196,
}

// Animation is the scoped name of the fade-in keyframes.
func (t Theme) Animation() string {
	return t.Root + "-fade-in"
}

// CSS renders the theme as a stylesheet whose selectors all start at .Root.
func (t Theme) CSS() template.CSS {
	r := "." + t.Root
	var b strings.Builder
	fmt.Fprintf(&b, "@keyframes %s { from { opacity: 0; } to { opacity: 1; } }\n", t.Animation())
	fmt.Fprintf(&b, "%s { padding: 20px; display: flex; flex-direction: column; height: 100vh; box-sizing: border-box; font-family: Arial, sans-serif; }\n", r)
	fmt.Fprintf(&b, "%s .header { display: flex; align-items: center; justify-content: center; gap: 10px; color: #333; margin: 0 0 20px; }\n", r)
	fmt.Fprintf(&b, "%s .status { width: 10px; height: 10px; border-radius: 50%%; background: #ef4444; }\n", r)
	fmt.Fprintf(&b, "%s .status.up { background: #22c55e; }\n", r)
	fmt.Fprintf(&b, "%s .upper { padding: 10px; background: %s; border-radius: 10px; border: 1px solid #ddd; box-shadow: 0 2px 6px rgba(0,0,0,0.1); margin: 20px 0; min-height: 24px; }\n", r, t.HighlightBackground)
	fmt.Fprintf(&b, "%s .feed { flex: 1; border: 1px solid #ddd; border-radius: 10px; padding: 10px; overflow-y: auto; background: #fafafa; }\n", r)
	fmt.Fprintf(&b, "%s .row { display: flex; margin-bottom: 20px; }\n", r)
	fmt.Fprintf(&b, "%s .row.own { justify-content: flex-end; }\n", r)
	fmt.Fprintf(&b, "%s .row.other { justify-content: flex-start; }\n", r)
	fmt.Fprintf(&b, "%s .bubble { padding: 12px; border-radius: 15px; font-size: 16px; max-width: 70%%; position: relative; box-shadow: 0 2px 6px rgba(0,0,0,0.1); word-break: break-word; animation: %s %.1fs; }\n", r, t.Animation(), t.FadeIn.Seconds())
	fmt.Fprintf(&b, "%s .own .bubble { background: %s; color: %s; }\n", r, t.OwnBackground, t.OwnForeground)
	fmt.Fprintf(&b, "%s .other .bubble { background: %s; color: %s; }\n", r, t.OtherBackground, t.OtherForeground)
	fmt.Fprintf(&b, "%s .text { white-space: pre-wrap; }\n", r)
	fmt.Fprintf(&b, "%s .ts { font-size: 12px; color: %s; position: absolute; bottom: -15px; right: 10px; }\n", r, t.TimestampColor)
	fmt.Fprintf(&b, "%s .delete { position: absolute; top: 0; right: 5px; background: transparent; border: none; color: %s; font-size: 14px; cursor: pointer; }\n", r, t.DeleteColor)
	fmt.Fprintf(&b, "%s .input { display: flex; align-items: center; margin-top: 10px; border-top: 1px solid #ddd; padding-top: 10px; }\n", r)
	fmt.Fprintf(&b, "%s .input input { flex: 1; padding: 8px; border: 1px solid #ddd; border-radius: 15px; font-size: 16px; outline: none; margin-right: 10px; }\n", r)
	fmt.Fprintf(&b, "%s .input button { padding: 8px 16px; border: none; background: %s; color: %s; border-radius: 15px; cursor: pointer; }\n", r, t.OwnBackground, t.OwnForeground)
	return template.CSS(b.String())
}
