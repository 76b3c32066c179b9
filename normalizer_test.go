package megalodon

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMastodonNormalizer(t *testing.T) {
	n := MastodonNormalizer{}

	t.Run("update from event stream", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "update", Payload: []byte(`{"id":"123","content":"<p>hi</p>","account":{"id":"a1","acct":"alice"}}`)})
		require.NoError(t, err)
		u, ok := ev.(UpdateEvent)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, "123", u.Status.ID)
		assert.Equal(t, "alice", u.Status.Account.Acct)
		assert.NotEmpty(t, u.Status.Raw)
	})

	t.Run("update from socket with string payload", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "update", Payload: []byte(`"{\"id\":\"9\"}"`)})
		require.NoError(t, err)
		assert.Equal(t, "9", ev.(UpdateEvent).Status.ID)
	})

	t.Run("status.update", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "status.update", Payload: []byte(`{"id":"5"}`)})
		require.NoError(t, err)
		assert.Equal(t, KindStatusUpdate, ev.Kind())
	})

	t.Run("delete with bare id", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "delete", Payload: []byte(`123`)})
		require.NoError(t, err)
		assert.Equal(t, DeleteEvent{ID: "123"}, ev)
	})

	t.Run("delete with quoted id from socket", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "delete", Payload: []byte(`"456"`)})
		require.NoError(t, err)
		assert.Equal(t, DeleteEvent{ID: "456"}, ev)
	})

	t.Run("notification", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "notification", Payload: []byte(`{"id":"n1","type":"favourite","account":{"id":"b"},"status":{"id":"s"}}`)})
		require.NoError(t, err)
		nt := ev.(NotificationEvent).Notification
		assert.Equal(t, NotificationFavourite, nt.Type)
		require.NotNil(t, nt.Status)
		assert.Equal(t, "s", nt.Status.ID)
	})

	t.Run("pleroma emoji reaction", func(t *testing.T) {
		ev, err := MastodonNormalizer{Provider: "pleroma"}.Normalize(StreamMessage{Event: "notification", Payload: []byte(`{"id":"n","type":"pleroma:emoji_reaction","emoji":"👍"}`)})
		require.NoError(t, err)
		assert.Equal(t, NotificationEmojiReaction, ev.(NotificationEvent).Notification.Type)
	})

	t.Run("unknown notification type is structured", func(t *testing.T) {
		_, err := n.Normalize(StreamMessage{Event: "notification", Payload: []byte(`{"id":"n","type":"brand_new"}`)})
		var unknown *UnknownNotificationTypeError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "brand_new", unknown.Type)
		assert.Equal(t, "mastodon", unknown.Provider)
	})

	t.Run("conversation", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "conversation", Payload: []byte(`{"id":"c","unread":true,"accounts":[{"id":"x"}]}`)})
		require.NoError(t, err)
		c := ev.(ConversationEvent).Conversation
		assert.True(t, c.Unread)
		assert.Len(t, c.Accounts, 1)
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := n.Normalize(StreamMessage{Event: "filters_changed"})
		assert.True(t, errors.Is(err, ErrUnknownEvent))
	})

	t.Run("undecodable status", func(t *testing.T) {
		_, err := n.Normalize(StreamMessage{Event: "update", Payload: []byte(`[1,2]`)})
		assert.Error(t, err)
	})
}

func TestMisskeyNormalizer(t *testing.T) {
	n := MisskeyNormalizer{}

	t.Run("note", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "note", Payload: []byte(`{"id":"n1","text":"hello","user":{"id":"u","username":"bob","host":"example.com","name":"Bob"}}`)})
		require.NoError(t, err)
		s := ev.(UpdateEvent).Status
		assert.Equal(t, "n1", s.ID)
		assert.Equal(t, "hello", s.Content)
		assert.Equal(t, "bob@example.com", s.Account.Acct)
	})

	t.Run("renote notification", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "notification", Payload: []byte(`{"id":"x","type":"renote","user":{"id":"u","username":"c"},"note":{"id":"n2"}}`)})
		require.NoError(t, err)
		nt := ev.(NotificationEvent).Notification
		assert.Equal(t, NotificationReblog, nt.Type)
		require.NotNil(t, nt.Status)
		assert.Equal(t, "n2", nt.Status.ID)
	})

	t.Run("unknown notification type", func(t *testing.T) {
		_, err := n.Normalize(StreamMessage{Event: "notification", Payload: []byte(`{"id":"x","type":"achievementEarned"}`)})
		var unknown *UnknownNotificationTypeError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "misskey", unknown.Provider)
	})

	t.Run("messaging message", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "messagingMessage", Payload: []byte(`{"id":"m","text":"psst","isRead":false,"user":{"id":"u","username":"d"},"recipient":{"id":"me","username":"e"}}`)})
		require.NoError(t, err)
		c := ev.(ConversationEvent).Conversation
		assert.True(t, c.Unread)
		assert.Len(t, c.Accounts, 2)
		assert.Equal(t, "psst", c.LastStatus.Content)
	})

	t.Run("deleted note", func(t *testing.T) {
		ev, err := n.Normalize(StreamMessage{Event: "noteUpdated", Payload: []byte(`{"id":"n3","type":"deleted"}`)})
		require.NoError(t, err)
		assert.Equal(t, DeleteEvent{ID: "n3"}, ev)
	})

	t.Run("reacted note is unknown", func(t *testing.T) {
		_, err := n.Normalize(StreamMessage{Event: "noteUpdated", Payload: []byte(`{"id":"n3","type":"reacted"}`)})
		assert.True(t, errors.Is(err, ErrUnknownEvent))
	})

	t.Run("unknown channel event", func(t *testing.T) {
		_, err := n.Normalize(StreamMessage{Event: "readAllNotifications"})
		assert.True(t, errors.Is(err, ErrUnknownEvent))
	})
}

func TestNormalizerFunc(t *testing.T) {
	var n Normalizer = NormalizerFunc(func(msg StreamMessage) (Event, error) {
		return DeleteEvent{ID: msg.Event}, nil
	})
	ev, err := n.Normalize(StreamMessage{Event: "x"})
	require.NoError(t, err)
	assert.Equal(t, DeleteEvent{ID: "x"}, ev)
}
