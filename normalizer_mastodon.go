package megalodon

import (
	"fmt"
	"strings"
)

// mastodonNotificationTypes maps wire type tags onto canonical ones. Pleroma
// and Friendica speak the same dialect with a few extra tags.
var mastodonNotificationTypes = map[string]NotificationType{
	"mention":                NotificationMention,
	"status":                 NotificationStatus,
	"reblog":                 NotificationReblog,
	"follow":                 NotificationFollow,
	"follow_request":         NotificationFollowRequest,
	"favourite":              NotificationFavourite,
	"poll":                   NotificationPoll,
	"update":                 NotificationUpdate,
	"admin.sign_up":          NotificationAdminSignUp,
	"admin.report":           NotificationAdminReport,
	"pleroma:emoji_reaction": NotificationEmojiReaction,
	"emoji_reaction":         NotificationEmojiReaction,
	"move":                   NotificationMove,
}

type mastodonNotification struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	CreatedAt string  `json:"created_at"`
	Account   Account `json:"account"`
	Status    *Status `json:"status,omitempty"`
	Emoji     string  `json:"emoji,omitempty"`
}

// MastodonNormalizer handles the Mastodon streaming dialect, shared by
// Pleroma and Friendica. Provider only labels errors.
type MastodonNormalizer struct {
	Provider string
}

func (n MastodonNormalizer) name() string {
	if n.Provider == "" {
		return "mastodon"
	}
	return n.Provider
}

// Normalize maps update, status.update, notification, conversation and
// delete events.
func (n MastodonNormalizer) Normalize(msg StreamMessage) (Event, error) {
	payload := unwrapString(msg.Payload)

	switch msg.Event {
	case "update":
		s, err := n.status(payload)
		if err != nil {
			return nil, err
		}
		return UpdateEvent{Status: s}, nil
	case "status.update":
		s, err := n.status(payload)
		if err != nil {
			return nil, err
		}
		return StatusUpdateEvent{Status: s}, nil
	case "notification":
		var wire mastodonNotification
		if err := decodeInto("notification", payload, &wire); err != nil {
			return nil, err
		}
		t, ok := mastodonNotificationTypes[wire.Type]
		if !ok {
			return nil, &UnknownNotificationTypeError{Provider: n.name(), Type: wire.Type}
		}
		return NotificationEvent{Notification: Notification{
			ID:        wire.ID,
			Type:      t,
			CreatedAt: wire.CreatedAt,
			Account:   wire.Account,
			Status:    wire.Status,
			Emoji:     wire.Emoji,
			Raw:       rawCopy(payload),
		}}, nil
	case "conversation":
		var c Conversation
		if err := decodeInto("conversation", payload, &c); err != nil {
			return nil, err
		}
		c.Raw = rawCopy(payload)
		return ConversationEvent{Conversation: c}, nil
	case deleteEvent:
		id := strings.TrimSpace(string(payload))
		if id == "" {
			return nil, fmt.Errorf("%s: delete event without id", n.name())
		}
		return DeleteEvent{ID: id}, nil
	default:
		return nil, unknownEvent(n.name(), msg.Event)
	}
}

func (n MastodonNormalizer) status(payload []byte) (Status, error) {
	var s Status
	if err := decodeInto("status", payload, &s); err != nil {
		return Status{}, err
	}
	s.Raw = rawCopy(payload)
	return s, nil
}
