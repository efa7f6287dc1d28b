package history

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cockroachdb/pebble/v2"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/relay-chat/simple-chat/message"
)

func msgs(n int) []message.Message {
	out := make([]message.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, message.Message{Sender: "User1", Content: fmt.Sprintf("m%d", i), Timestamp: "1:00:00 PM"})
	}
	return out
}

func TestLoad_EmptyWhenAbsent(t *testing.T) {
	req := require.New(t)
	s, err := OpenInMemory()
	req.NoError(err)
	defer s.Close()

	got, err := s.Load()

	req.NoError(err)
	req.Empty(got)
	req.Equal(0, s.Len())
}

func TestAppend_ReloadRoundTrip(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	s, err := Open(dir)
	req.NoError(err)
	for _, m := range msgs(3) {
		req.NoError(s.Append(m))
	}
	before := s.Messages()
	req.NoError(s.Close())

	reopened, err := Open(dir)
	req.NoError(err)
	defer reopened.Close()
	after, err := reopened.Load()

	req.NoError(err)
	req.Equal(before, after)
	req.Equal(before, reopened.Messages())
}

func TestAppend_KeepsMarkupVerbatim(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	s, err := Open(dir)
	req.NoError(err)
	m := message.Message{Sender: "a&b", Content: "<i>x</i> & y"}
	req.NoError(s.Append(m))
	req.NoError(s.Close())

	s, err = Open(dir)
	req.NoError(err)
	defer s.Close()
	got, err := s.Load()

	req.NoError(err)
	req.Equal([]message.Message{m}, got)
}

func TestRemove_ReindexesContiguously(t *testing.T) {
	req := require.New(t)
	s, err := OpenInMemory()
	req.NoError(err)
	defer s.Close()
	all := msgs(5)
	for _, m := range all {
		req.NoError(s.Append(m))
	}

	req.NoError(s.Remove(2))

	got := s.Messages()
	req.Len(got, 4)
	req.Equal([]message.Message{all[0], all[1], all[3], all[4]}, got)

	reloaded, err := s.Load()
	req.NoError(err)
	req.Equal(got, reloaded)
}

func TestRemove_OutOfRange(t *testing.T) {
	req := require.New(t)
	s, err := OpenInMemory()
	req.NoError(err)
	defer s.Close()
	req.NoError(s.Append(msgs(1)[0]))

	for _, idx := range []int{-1, 1, 7} {
		err := s.Remove(idx)
		req.True(errors.Is(err, ErrIndexOutOfRange), "index %d", idx)
	}
	req.Equal(1, s.Len())
}

func TestRemove_LastElementPersistsEmptyList(t *testing.T) {
	req := require.New(t)
	s, err := OpenInMemory()
	req.NoError(err)
	defer s.Close()
	req.NoError(s.Append(msgs(1)[0]))

	req.NoError(s.Remove(0))

	got, err := s.Load()
	req.NoError(err)
	req.Empty(got)
	_, ok := s.Last()
	req.False(ok)
}

func TestLoad_CorruptValue(t *testing.T) {
	req := require.New(t)
	s, err := OpenInMemory()
	req.NoError(err)
	defer s.Close()
	req.NoError(s.db.Set(Key, []byte("{not json"), pebble.Sync))

	got, err := s.Load()

	req.ErrorIs(err, ErrCorrupt)
	req.Nil(got)
	req.Equal(0, s.Len())
}

func TestLoad_MalformedEntriesPropagate(t *testing.T) {
	req := require.New(t)
	s, err := OpenInMemory()
	req.NoError(err)
	defer s.Close()
	req.NoError(s.db.Set(Key, []byte(`[{"foo":1},{"user":"User2","content":"hello"}]`), pebble.Sync))

	got, err := s.Load()

	req.NoError(err)
	req.Equal([]message.Message{{}, {Sender: "User2", Content: "hello"}}, got)
}

func TestWithLimit_DropsOldest(t *testing.T) {
	req := require.New(t)
	s, err := OpenInMemory(WithLimit(2))
	req.NoError(err)
	defer s.Close()
	all := msgs(4)
	for _, m := range all {
		req.NoError(s.Append(m))
	}

	req.Equal(all[2:], s.Messages())
	last, ok := s.Last()
	req.True(ok)
	req.Equal(all[3], last)
}

func TestClear(t *testing.T) {
	req := require.New(t)
	s, err := OpenInMemory()
	req.NoError(err)
	defer s.Close()
	for _, m := range msgs(2) {
		req.NoError(s.Append(m))
	}

	req.NoError(s.Clear())

	req.Equal(0, s.Len())
	got, err := s.Load()
	req.NoError(err)
	req.Empty(got)
}
