package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jroimartin/gocui"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/relay-chat/simple-chat/render"
	"github.com/gosuda/relay-chat/simple-chat/session"
)

const (
	highlightView = "highlight"
	feedView      = "feed"
	inputView     = "input"

	doubleClickWindow = 400 * time.Millisecond
)

// inputEditor implements the gocui Editor interface for the one-line message
// box. Enter submits the line, Esc cancels the current selection.
type inputEditor struct {
	onSubmit func(line string)
	onCancel func()
}

func (ed *inputEditor) Edit(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	switch {
	case ch != 0 && ch >= 0x20 && mod == 0:
		v.EditWrite(ch)
	case key == gocui.KeyEnter:
		line := strings.Join(v.BufferLines(), "")
		v.Clear()
		_ = v.SetCursor(0, 0)
		_ = v.SetOrigin(0, 0)
		ed.onSubmit(line)
	case key == gocui.KeyEsc:
		ed.onCancel()
	case key == gocui.KeySpace:
		v.EditWrite(' ')
	case key == gocui.KeyBackspace || key == gocui.KeyBackspace2:
		v.EditDelete(true)
	case key == gocui.KeyDelete:
		v.EditDelete(false)
	case key == gocui.KeyArrowLeft:
		v.MoveCursor(-1, 0, false)
	case key == gocui.KeyArrowRight:
		v.MoveCursor(1, 0, false)
	}
}

// clicks turns single mouse clicks into double-clicks on the same message.
type clicks struct {
	window time.Duration
	last   time.Time
	index  int
}

func (c *clicks) click(index int, at time.Time) bool {
	double := index == c.index && !c.last.IsZero() && at.Sub(c.last) <= c.window
	if double {
		c.last = time.Time{}
		return true
	}
	c.last, c.index = at, index
	return false
}

// command applies one submitted input line. It returns gocui.ErrQuit for /quit.
func command(ctx context.Context, s *session.Session, line string) error {
	switch strings.TrimSpace(line) {
	case "/quit":
		return gocui.ErrQuit
	case "/clear":
		return s.Clear()
	}
	_, _, err := s.Send(ctx, line)
	return err
}

type terminalUI struct {
	ctx   context.Context
	s     *session.Session
	theme render.Theme

	mu     sync.Mutex
	lines  []render.Line // last drawn feed, for mouse hit-testing
	clicks clicks
}

// runTerminal runs the gocui view until ctx ends or the user quits.
func runTerminal(ctx context.Context, s *session.Session) error {
	g, err := gocui.NewGui(gocui.Output256)
	if err != nil {
		return fmt.Errorf("start terminal: %w", err)
	}
	defer g.Close()

	ui := &terminalUI{
		ctx:    ctx,
		s:      s,
		theme:  render.DefaultTheme,
		clicks: clicks{window: doubleClickWindow, index: render.NoSelection},
	}
	g.Cursor = true
	g.Mouse = true
	g.InputEsc = true
	g.SetManagerFunc(ui.layout)
	if err := ui.keybindings(g); err != nil {
		return err
	}

	redraw := func() { g.Update(func(*gocui.Gui) error { return nil }) }
	off := s.OnChange(redraw)
	defer off()
	go func() {
		<-ctx.Done()
		g.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
	}()

	for {
		err := g.MainLoop()
		switch {
		case err == nil || errors.Is(err, gocui.ErrQuit):
			return nil
		case strayClick(err) && ctx.Err() == nil:
			continue
		default:
			return err
		}
	}
}

// errInvalidPoint is the text of the unexported error gocui v0.5.0 builds in
// View.SetCursor (view.go:167) for a point outside the view. Gui.onKey
// (gui.go:609) returns it from MainLoop when a click lands on a view frame.
const errInvalidPoint = "invalid point"

// strayClick reports whether MainLoop ended on a click on a view frame. Only
// the bare gocui error matches; wrapped errors come from our own handlers.
func strayClick(err error) bool {
	return err != nil && errors.Unwrap(err) == nil && err.Error() == errInvalidPoint
}

func (ui *terminalUI) keybindings(g *gocui.Gui) error {
	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		return err
	}
	if err := g.SetKeybinding(feedView, gocui.MouseLeft, gocui.ModNone, ui.mouseLeft); err != nil {
		return err
	}
	// Ctrl-D deletes the selected message from the keyboard
	if err := g.SetKeybinding(inputView, gocui.KeyCtrlD, gocui.ModNone, ui.deleteSelected); err != nil {
		return err
	}
	return nil
}

func quit(g *gocui.Gui, v *gocui.View) error {
	return gocui.ErrQuit
}

func (ui *terminalUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	hv, err := g.SetView(highlightView, 0, 0, maxX-1, 2)
	if err != nil && err != gocui.ErrUnknownView {
		return err
	}
	fv, err := g.SetView(feedView, 0, 3, maxX-1, maxY-4)
	if err != nil && err != gocui.ErrUnknownView {
		return err
	}
	fv.Autoscroll = true
	iv, err := g.SetView(inputView, 0, maxY-3, maxX-1, maxY-1)
	if err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		iv.Editable = true
		iv.Editor = &inputEditor{
			onSubmit: func(line string) {
				if err := command(ui.ctx, ui.s, line); err != nil {
					if errors.Is(err, gocui.ErrQuit) {
						g.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
						return
					}
					log.Error().Err(err).Msg("[chat] input")
				}
			},
			onCancel: ui.s.Deselect,
		}
		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}

	f := ui.s.Frame(strings.Join(iv.BufferLines(), ""))

	status := "offline"
	if f.Connected {
		status = "connected"
	}
	hv.Title = "Last message"
	hv.Clear()
	w, _ := hv.Size()
	fmt.Fprint(hv, render.Highlight(f, w))

	fv.Title = fmt.Sprintf(" %s (%s) ", f.Identity, status)
	fv.Clear()
	w, _ = fv.Size()
	lines := render.Lines(f, w, ui.theme)
	for _, l := range lines {
		fmt.Fprintln(fv, l.Text)
	}
	ui.mu.Lock()
	ui.lines = lines
	ui.mu.Unlock()

	iv.Title = "Message (Enter send, Esc deselect, Ctrl-D delete, /clear, /quit)"
	return nil
}

// mouseLeft runs after gocui has moved the feed cursor to the click position.
func (ui *terminalUI) mouseLeft(g *gocui.Gui, v *gocui.View) error {
	cx, cy := v.Cursor()
	_, oy := v.Origin()

	ui.mu.Lock()
	row := oy + cy
	if row < 0 || row >= len(ui.lines) {
		ui.mu.Unlock()
		return nil
	}
	line := ui.lines[row]
	double := ui.clicks.click(line.Index, time.Now())
	ui.mu.Unlock()

	switch {
	case line.OnMarker(cx):
		if err := ui.s.Delete(line.Index); err != nil {
			log.Warn().Err(err).Int("index", line.Index).Msg("[chat] delete")
		}
	case double:
		ui.s.DoubleClick(line.Index)
	}
	_, err := g.SetCurrentView(inputView)
	return err
}

func (ui *terminalUI) deleteSelected(g *gocui.Gui, v *gocui.View) error {
	if i := ui.s.Selected(); i != render.NoSelection {
		if err := ui.s.Delete(i); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("[chat] delete")
		}
	}
	return nil
}
