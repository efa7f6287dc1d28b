package main

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/relay-chat/simple-chat/history"
	"github.com/gosuda/relay-chat/simple-chat/render"
	"github.com/gosuda/relay-chat/simple-chat/session"
)

// hub fans change notifications out to every open browser tab. Tabs re-fetch
// the feed on each notification; no chat data goes over this socket.
type hub struct {
	mu   sync.Mutex
	tabs map[*tab]struct{}
	wg   sync.WaitGroup
}

// tab is one browser connection. Only its write loop writes to conn.
type tab struct {
	conn    *websocket.Conn
	changed chan struct{} // capacity 1, pending notifications coalesce
	done    chan struct{}
	once    sync.Once
}

func newTab(conn *websocket.Conn) *tab {
	return &tab{conn: conn, changed: make(chan struct{}, 1), done: make(chan struct{})}
}

func (t *tab) stop() { t.once.Do(func() { close(t.done) }) }

func newHub() *hub {
	return &hub{tabs: map[*tab]struct{}{}}
}

func (h *hub) snapshot() []*tab {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*tab, 0, len(h.tabs))
	for t := range h.tabs {
		out = append(out, t)
	}
	return out
}

// notify never blocks: a tab that is still writing keeps one pending signal.
func (h *hub) notify() {
	for _, t := range h.snapshot() {
		select {
		case t.changed <- struct{}{}:
		default:
		}
	}
}

// closeAll asks every tab to close (used during shutdown).
func (h *hub) closeAll() {
	for _, t := range h.snapshot() {
		t.stop()
	}
}

// wait blocks until all websocket handler goroutines have finished.
func (h *hub) wait() {
	h.wg.Wait()
}

func (h *hub) writeLoop(t *tab) {
	defer h.wg.Done()
	for {
		select {
		case <-t.done:
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(time.Second))
			_ = t.conn.Close()
			return
		case <-t.changed:
			_ = t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := t.conn.WriteMessage(websocket.TextMessage, []byte("changed")); err != nil {
				log.Debug().Err(err).Msg("[chat] notify tab")
				t.stop()
			}
		}
	}
}

func handleWS(w http.ResponseWriter, r *http.Request, h *hub) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	t := newTab(conn)
	h.mu.Lock()
	h.tabs[t] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	go h.writeLoop(t)
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.tabs, t)
			h.mu.Unlock()
			t.stop()
			h.wg.Done()
		}()
		// tabs never send anything; reading only detects the close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

const connectedHeader = "X-Relay-Connected"

func servePage(w http.ResponseWriter, title string, s *session.Session) {
	var buf bytes.Buffer
	if err := render.HTML(&buf, render.Page{Title: title, Frame: s.Frame(""), Theme: render.DefaultTheme}); err != nil {
		log.Error().Err(err).Msg("[chat] render page")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func serveFeed(w http.ResponseWriter, s *session.Session) {
	f := s.Frame("")
	var buf bytes.Buffer
	if err := render.Feed(&buf, f); err != nil {
		log.Error().Err(err).Msg("[chat] render feed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(connectedHeader, strconv.FormatBool(f.Connected))
	_, _ = w.Write(buf.Bytes())
}

func handleSend(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	_, ok, err := s.Send(r.Context(), r.PostForm.Get("message"))
	switch {
	case err != nil:
		log.Error().Err(err).Msg("[chat] send")
		http.Error(w, "send failed", http.StatusInternalServerError)
	case !ok:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusCreated)
	}
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "bad index", http.StatusBadRequest)
		return 0, false
	}
	return i, true
}

func handleSelect(w http.ResponseWriter, r *http.Request, s *session.Session) {
	i, ok := indexParam(w, r)
	if !ok {
		return
	}
	s.DoubleClick(i)
	w.WriteHeader(http.StatusNoContent)
}

func handleDelete(w http.ResponseWriter, r *http.Request, s *session.Session) {
	i, ok := indexParam(w, r)
	if !ok {
		return
	}
	if err := s.Delete(i); err != nil {
		if errors.Is(err, history.ErrIndexOutOfRange) {
			http.Error(w, "no such message", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int("index", i).Msg("[chat] delete")
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NewHandler builds the chat HTTP router (UI, actions, change socket, metrics).
func NewHandler(title string, s *session.Session, h *hub) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) { servePage(w, title, s) })
	r.Get("/feed", func(w http.ResponseWriter, r *http.Request) { serveFeed(w, s) })
	r.Post("/send", func(w http.ResponseWriter, r *http.Request) { handleSend(w, r, s) })
	r.Post("/messages/{index}/select", func(w http.ResponseWriter, r *http.Request) { handleSelect(w, r, s) })
	r.Post("/messages/{index}/delete", func(w http.ResponseWriter, r *http.Request) { handleDelete(w, r, s) })
	r.Post("/deselect", func(w http.ResponseWriter, r *http.Request) {
		s.Deselect()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) { handleWS(w, r, h) })
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(connectedHeader, strconv.FormatBool(s.Frame("").Connected))
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
