package session_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/gosuda/relay-chat/simple-chat/history"
	"github.com/gosuda/relay-chat/simple-chat/message"
	"github.com/gosuda/relay-chat/simple-chat/mocks"
	"github.com/gosuda/relay-chat/simple-chat/render"
	"github.com/gosuda/relay-chat/simple-chat/session"
	"github.com/gosuda/relay-chat/simple-chat/transport"
)

var fixed = time.Date(2024, 5, 1, 13, 2, 3, 0, time.UTC)

func clock() time.Time { return fixed }

func newStore(t *testing.T, opts ...history.Option) *history.Store {
	t.Helper()
	s, err := history.OpenInMemory(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSession(t *testing.T, store session.Store, opts ...session.Option) (*session.Session, *mocks.MockTransport) {
	t.Helper()
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Connected().Return(true).AnyTimes()
	opts = append([]session.Option{session.WithClock(clock)}, opts...)
	return session.New("User1", store, tr, opts...), tr
}

func seed(t *testing.T, s *session.Session, contents ...string) {
	t.Helper()
	for _, c := range contents {
		s.Receive(message.Message{Sender: "User2", Content: c})
	}
}

func TestSend_BlankIsNoop(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	s, _ := newSession(t, store)

	for _, in := range []string{"", "   ", "\t\n"} {
		_, ok, err := s.Send(context.Background(), in)
		req.NoError(err)
		req.False(ok)
	}

	req.Zero(store.Len())
}

func TestSend_AppendsAndEmits(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	s, tr := newSession(t, store)
	want := message.Message{Sender: "User1", Content: "hi", Timestamp: "1:02:03 PM"}
	tr.EXPECT().Emit(gomock.Any(), want).Return(nil)

	got, ok, err := s.Send(context.Background(), "hi")

	req.NoError(err)
	req.True(ok)
	req.Equal(want, got)
	req.Equal([]message.Message{want}, store.Messages())
	f := s.Frame("")
	req.Equal("hi", f.Highlight.Content)
	req.True(f.History[0].Own)
}

func TestSend_HighlightFollowsLastSend(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for round := range 50 {
		t.Run(fmt.Sprintf("round%d", round), func(t *testing.T) {
			req := require.New(t)
			s, tr := newSession(t, newStore(t))
			tr.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

			last := ""
			for i := range 1 + rng.IntN(30) {
				in := fmt.Sprintf("m%d-%d", i, rng.IntN(1000))
				if rng.IntN(5) == 0 {
					in = " "
				}
				_, _, err := s.Send(context.Background(), in)
				req.NoError(err)
				if !message.Blank(in) {
					last = in
				}

				h := s.Frame("").Highlight
				if last == "" {
					req.Nil(h)
					continue
				}
				req.NotNil(h)
				req.Equal(last, h.Content)
				req.Equal("User1", h.Sender)
			}
		})
	}
}

func TestSend_EmitFailureKeepsMessage(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	s, tr := newSession(t, store)
	tr.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(transport.ErrNotConnected)

	_, ok, err := s.Send(context.Background(), "offline")

	req.NoError(err)
	req.True(ok)
	req.Equal(1, store.Len())
}

func TestSend_StoreFailureSkipsEmit(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Len().Return(0)
	store.EXPECT().Append(gomock.Any()).Return(errors.New("disk full"))
	s, _ := newSession(t, store)

	_, ok, err := s.Send(context.Background(), "hi")

	req.Error(err)
	req.False(ok)
}

func TestReceive_LegacyRecordBecomesHighlight(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	s, _ := newSession(t, store)
	var m message.Message
	req.NoError(m.UnmarshalJSON([]byte(`{"user":"User2","content":"hello"}`)))

	s.Receive(m)

	f := s.Frame("")
	req.Len(f.History, 1)
	req.Equal(render.Bubble{Index: 0, Sender: "User2", Content: "hello"}, *f.Highlight)
	req.False(f.History[0].Own)
}

func TestDoubleClick_Toggles(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, newStore(t))
	seed(t, s, "a", "b", "c")

	s.DoubleClick(1)
	req.Equal(1, s.Selected())
	s.DoubleClick(2)
	req.Equal(2, s.Selected())
	s.DoubleClick(2)
	req.Equal(render.NoSelection, s.Selected())
	s.DoubleClick(5)
	s.DoubleClick(-1)
	req.Equal(render.NoSelection, s.Selected())
}

func TestDoubleClick_OnlySelectedShowsDelete(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, newStore(t))
	seed(t, s, "a", "b", "c")

	s.DoubleClick(1)

	f := s.Frame("")
	req.False(f.History[0].ShowDelete)
	req.True(f.History[1].ShowDelete)
	req.False(f.History[2].ShowDelete)
}

func TestDelete_SelectedIndex(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	s, _ := newSession(t, store)
	seed(t, s, "a", "b", "c", "d")

	s.DoubleClick(2)
	req.NoError(s.Delete(2))

	req.Equal([]string{"a", "b", "d"}, contents(store.Messages()))
	req.Equal(render.NoSelection, s.Selected())
	req.Equal("d", s.Frame("").Highlight.Content)
}

func TestDelete_OutOfRange(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, newStore(t))
	seed(t, s, "a")

	req.ErrorIs(s.Delete(3), history.ErrIndexOutOfRange)
}

func TestDelete_NeverEmits(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, newStore(t))
	seed(t, s, "a", "b")

	// the mock fails the test on any Emit call
	req.NoError(s.Delete(0))
}

func TestDeselect(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, newStore(t))
	seed(t, s, "a")

	s.DoubleClick(0)
	s.Deselect()

	req.Equal(render.NoSelection, s.Selected())
}

func TestEcho_SuppressedOnce(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	s, tr := newSession(t, store, session.WithEcho(session.EchoSuppress))
	tr.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	m, _, err := s.Send(context.Background(), "hi")
	req.NoError(err)
	s.Receive(m)
	req.Equal(1, store.Len())

	s.Receive(m)
	req.Equal(2, store.Len())
}

func TestEcho_NoneAppendsTwice(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	s, tr := newSession(t, store)
	tr.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	m, _, err := s.Send(context.Background(), "hi")
	req.NoError(err)
	s.Receive(m)

	req.Equal(2, store.Len())
}

func TestEcho_FailedEmitIsNotPending(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	s, tr := newSession(t, store, session.WithEcho(session.EchoSuppress))
	tr.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(transport.ErrNotConnected)

	m, _, err := s.Send(context.Background(), "hi")
	req.NoError(err)
	s.Receive(m)

	req.Equal(2, store.Len())
}

func TestParseEchoMode(t *testing.T) {
	req := require.New(t)
	for in, want := range map[string]session.EchoMode{"": session.EchoNone, "none": session.EchoNone, "echo": session.EchoSuppress} {
		got, err := session.ParseEchoMode(in)
		req.NoError(err)
		req.Equal(want, got)
	}
	_, err := session.ParseEchoMode("loud")
	req.ErrorIs(err, session.ErrUnknownEchoMode)
}

func TestLimit_ShiftsSelection(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, newStore(t, history.WithLimit(3)))
	seed(t, s, "a", "b", "c")

	s.DoubleClick(1)
	seed(t, s, "d")
	req.Equal(0, s.Selected())
	req.Equal("b", s.Frame("").History[0].Content)

	seed(t, s, "e")
	req.Equal(render.NoSelection, s.Selected())
}

func TestClear(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	s, _ := newSession(t, store)
	seed(t, s, "a", "b")
	s.DoubleClick(0)

	req.NoError(s.Clear())

	req.Zero(store.Len())
	req.Equal(render.NoSelection, s.Selected())
	req.Nil(s.Frame("").Highlight)
}

func TestFrame_SendEnabled(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, newStore(t))

	req.False(s.Frame("  ").SendEnabled)
	req.True(s.Frame("x").SendEnabled)
	req.True(s.Frame("").Connected)
}

func TestOnChange(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, newStore(t))
	var n atomic.Int32
	off := s.OnChange(func() { n.Add(1) })

	seed(t, s, "a")
	s.DoubleClick(0)
	req.NoError(s.Delete(0))
	req.Equal(int32(3), n.Load())

	off()
	seed(t, s, "b")
	req.Equal(int32(3), n.Load())
}

func TestStartClose_Subscriptions(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	s, tr := newSession(t, store)
	var deliver func(message.Message)
	var offs atomic.Int32
	tr.EXPECT().OnReceive(gomock.Any()).DoAndReturn(func(fn func(message.Message)) func() {
		deliver = fn
		return func() { offs.Add(1) }
	})
	tr.EXPECT().OnState(gomock.Any()).Return(func() { offs.Add(1) })

	s.Start()
	s.Start()
	deliver(message.Message{Sender: "User2", Content: "pushed"})
	s.Close()

	req.Equal(1, store.Len())
	req.Equal(int32(2), offs.Load())
}

func TestRelay_TwoClients(t *testing.T) {
	req := require.New(t)
	relay := newRelay(t)
	alice, aliceStore := liveSession(t, relay, "alice")
	_, bobStore := liveSession(t, relay, "bob")
	req.Eventually(func() bool { return relay.Clients() == 2 }, 3*time.Second, 10*time.Millisecond)

	_, ok, err := alice.Send(context.Background(), "hello bob")
	req.NoError(err)
	req.True(ok)

	req.Eventually(func() bool { return bobStore.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
	req.Equal(message.Message{Sender: "alice", Content: "hello bob", Timestamp: "1:02:03 PM"}, bobStore.Messages()[0])
	req.Equal(1, aliceStore.Len())
}

func contents(msgs []message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
