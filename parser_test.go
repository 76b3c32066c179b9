package megalodon

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// ============================================================================
// Event-stream parser
// ============================================================================

func feedAll(p Parser, chunks ...string) []Frame {
	var frames []Frame
	for _, c := range chunks {
		frames = append(frames, p.Feed([]byte(c))...)
	}
	return frames
}

func messagesOf(frames []Frame) []StreamMessage {
	var msgs []StreamMessage
	for _, f := range frames {
		if f.Type == FrameMessage {
			msgs = append(msgs, f.Message)
		}
	}
	return msgs
}

func TestEventStreamParser(t *testing.T) {
	t.Run("single update", func(t *testing.T) {
		frames := feedAll(NewEventStreamParser(), "event: update\ndata: {\"id\":\"123\"}\n\n")
		require.Len(t, frames, 1)
		assert.Equal(t, FrameMessage, frames[0].Type)
		assert.Equal(t, "update", frames[0].Message.Event)
		assert.JSONEq(t, `{"id":"123"}`, string(frames[0].Message.Payload))
	})

	t.Run("delete payload is a bare id", func(t *testing.T) {
		frames := feedAll(NewEventStreamParser(), "event: delete\ndata: 123\n\n")
		require.Len(t, frames, 1)
		assert.Equal(t, FrameMessage, frames[0].Type)
		assert.Equal(t, "delete", frames[0].Message.Event)
		assert.Equal(t, "123", string(frames[0].Message.Payload))
	})

	t.Run("message split across feeds", func(t *testing.T) {
		frames := feedAll(NewEventStreamParser(), "eve", "nt: upd", "ate\ndata: {\"id\":", "\"1\"}\n", "\n")
		msgs := messagesOf(frames)
		require.Len(t, msgs, 1)
		assert.Equal(t, "update", msgs[0].Event)
	})

	t.Run("several messages in one feed", func(t *testing.T) {
		frames := feedAll(NewEventStreamParser(),
			"event: update\ndata: {\"id\":\"1\"}\n\nevent: delete\ndata: 2\n\nevent: notification\ndata: {}\n\n")
		msgs := messagesOf(frames)
		require.Len(t, msgs, 3)
		assert.Equal(t, []string{"update", "delete", "notification"},
			[]string{msgs[0].Event, msgs[1].Event, msgs[2].Event})
	})

	t.Run("crlf line endings", func(t *testing.T) {
		frames := feedAll(NewEventStreamParser(), "event: delete\r\ndata: 9\r\n\r\n")
		msgs := messagesOf(frames)
		require.Len(t, msgs, 1)
		assert.Equal(t, "9", string(msgs[0].Payload))
	})

	t.Run("heartbeat between data lines", func(t *testing.T) {
		frames := feedAll(NewEventStreamParser(), ":thump\nevent: delete\ndata: 5\n\n")
		require.Len(t, frames, 2)
		assert.Equal(t, FrameHeartbeat, frames[0].Type)
		assert.Equal(t, FrameMessage, frames[1].Type)
	})

	t.Run("block with three lines is an error", func(t *testing.T) {
		frames := feedAll(NewEventStreamParser(), "event: update\nid: 4\ndata: {}\n\n")
		require.Len(t, frames, 1)
		assert.Equal(t, FrameError, frames[0].Type)
		assert.True(t, errors.Is(frames[0].Err, ErrMalformedFrame))
		assert.Equal(t, ClassParser, ClassOf(frames[0].Err))
	})

	t.Run("block without event is an error", func(t *testing.T) {
		frames := feedAll(NewEventStreamParser(), "data: {}\n\n")
		require.Len(t, frames, 1)
		assert.Equal(t, FrameError, frames[0].Type)
	})

	t.Run("invalid json payload is an error", func(t *testing.T) {
		frames := feedAll(NewEventStreamParser(), "event: update\ndata: {nope\n\n")
		require.Len(t, frames, 1)
		assert.Equal(t, FrameError, frames[0].Type)
	})

	t.Run("consecutive blank lines", func(t *testing.T) {
		frames := feedAll(NewEventStreamParser(), "\n\n\nevent: delete\ndata: 1\n\n\n\n")
		require.Len(t, frames, 1)
		assert.Equal(t, FrameMessage, frames[0].Type)
	})

	t.Run("buffer holds only the unterminated line", func(t *testing.T) {
		p := NewEventStreamParser()
		p.Feed([]byte("event: update\ndata: {\"id\":\"1\"}\n\nevent: upd"))
		assert.Equal(t, len("event: upd"), p.Buffered())
		p.Feed([]byte("ate\n"))
		assert.Equal(t, 0, p.Buffered())
	})

	t.Run("reset drops partial input", func(t *testing.T) {
		p := NewEventStreamParser()
		p.Feed([]byte("event: update\ndata: {\"id"))
		p.Reset()
		frames := p.Feed([]byte("event: delete\ndata: 3\n\n"))
		msgs := messagesOf(frames)
		require.Len(t, msgs, 1)
		assert.Equal(t, "delete", msgs[0].Event)
	})
}

func TestEventStreamParser_HeartbeatOnly(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "count")
		sentinel := rapid.SampledFrom([]string{":thump\n", ":)\n", ":\n"}).Draw(t, "sentinel")
		p := NewEventStreamParser()
		stream := strings.Repeat(sentinel, n)
		frames := feedAll(p, splitRandomly(t, stream)...)
		if len(frames) != n {
			t.Fatalf("got %d frames, want %d", len(frames), n)
		}
		for _, f := range frames {
			if f.Type != FrameHeartbeat {
				t.Fatalf("got frame type %d, want heartbeat", f.Type)
			}
		}
	})
}

// splitRandomly cuts s into arbitrary non-empty pieces.
func splitRandomly(t *rapid.T, s string) []string {
	var pieces []string
	for len(s) > 0 {
		n := rapid.IntRange(1, len(s)).Draw(t, "piece")
		pieces = append(pieces, s[:n])
		s = s[n:]
	}
	return pieces
}

var sampleBlocks = []string{
	"event: update\ndata: {\"id\":\"1\",\"content\":\"hello\"}\n\n",
	"event: delete\ndata: 42\n\n",
	"event: notification\ndata: {\"id\":\"n\",\"type\":\"follow\"}\n\n",
	"event: status.update\ndata: {\"id\":\"7\"}\n\n",
	":thump\n",
}

func TestEventStreamParser_FragmentationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "blocks")
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteString(rapid.SampledFrom(sampleBlocks).Draw(t, "block"))
		}
		stream := b.String()

		whole := NewEventStreamParser().Feed([]byte(stream))
		pieces := feedAll(NewEventStreamParser(), splitRandomly(t, stream)...)

		if len(whole) != len(pieces) {
			t.Fatalf("whole feed gave %d frames, fragmented gave %d", len(whole), len(pieces))
		}
		for i := range whole {
			if whole[i].Type != pieces[i].Type ||
				whole[i].Message.Event != pieces[i].Message.Event ||
				string(whole[i].Message.Payload) != string(pieces[i].Message.Payload) {
				t.Fatalf("frame %d differs: %+v vs %+v", i, whole[i], pieces[i])
			}
		}
	})
}

func TestEventStreamParser_MalformedResilience(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "valid")
		bad := rapid.IntRange(0, n).Draw(t, "position")
		corrupt := rapid.SampledFrom([]string{
			"event: update\ndata: {broken\n\n",
			"data: {}\n\n",
			"event: update\nid: 1\ndata: {}\n\n",
		}).Draw(t, "corrupt")

		var b strings.Builder
		var want []string
		for i := 0; i <= n; i++ {
			if i == bad {
				b.WriteString(corrupt)
				want = append(want, "error")
			}
			if i < n {
				b.WriteString("event: delete\ndata: " + string(rune('a'+i)) + "\n\n")
				want = append(want, string(rune('a'+i)))
			}
		}

		frames := feedAll(NewEventStreamParser(), splitRandomly(t, b.String())...)
		var got []string
		for _, f := range frames {
			switch f.Type {
			case FrameError:
				got = append(got, "error")
			case FrameMessage:
				got = append(got, string(f.Message.Payload))
			}
		}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Fatalf("got %v, want %v", got, want)
		}
	})
}

// ============================================================================
// Socket parser
// ============================================================================

func TestSocketParser(t *testing.T) {
	t.Run("flat envelope", func(t *testing.T) {
		p := &SocketParser{}
		frames := p.Feed([]byte(`{"stream":["user"],"event":"update","payload":"{\"id\":\"1\"}"}`))
		require.Len(t, frames, 1)
		assert.Equal(t, FrameMessage, frames[0].Type)
		assert.Equal(t, "update", frames[0].Message.Event)
		assert.NotEmpty(t, frames[0].Message.Raw)
	})

	t.Run("flat envelope without event", func(t *testing.T) {
		p := &SocketParser{}
		frames := p.Feed([]byte(`{"payload":"x"}`))
		require.Len(t, frames, 1)
		assert.Equal(t, FrameError, frames[0].Type)
	})

	t.Run("not json", func(t *testing.T) {
		p := &SocketParser{Multiplexed: true, ChannelID: "c1"}
		frames := p.Feed([]byte(`hello`))
		require.Len(t, frames, 1)
		assert.Equal(t, FrameError, frames[0].Type)
		assert.Equal(t, ClassParser, ClassOf(frames[0].Err))
	})

	t.Run("matching channel", func(t *testing.T) {
		p := &SocketParser{Multiplexed: true, ChannelID: "c1"}
		frames := p.Feed([]byte(`{"type":"channel","body":{"id":"c1","type":"note","body":{"id":"n1"}}}`))
		require.Len(t, frames, 1)
		assert.Equal(t, "note", frames[0].Message.Event)
		assert.Equal(t, "c1", frames[0].Message.ChannelID)
		assert.JSONEq(t, `{"id":"n1"}`, string(frames[0].Message.Payload))
	})

	t.Run("mismatched channel is dropped", func(t *testing.T) {
		p := &SocketParser{Multiplexed: true, ChannelID: "mine"}
		frames := p.Feed([]byte(`{"type":"channel","body":{"id":"other-session","type":"note","body":{}}}`))
		assert.Empty(t, frames)
	})

	t.Run("connected acknowledgement is liveness", func(t *testing.T) {
		p := &SocketParser{Multiplexed: true, ChannelID: "c1"}
		frames := p.Feed([]byte(`{"type":"connected","body":{"id":"c1"}}`))
		require.Len(t, frames, 1)
		assert.Equal(t, FrameHeartbeat, frames[0].Type)
	})

	t.Run("unknown envelope type", func(t *testing.T) {
		p := &SocketParser{Multiplexed: true, ChannelID: "c1"}
		frames := p.Feed([]byte(`{"type":"emojiAdded","body":{}}`))
		require.Len(t, frames, 1)
		assert.Equal(t, FrameError, frames[0].Type)
		assert.True(t, errors.Is(frames[0].Err, ErrUnknownEvent))
	})
}
