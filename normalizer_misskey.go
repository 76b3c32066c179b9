package megalodon

import "fmt"

var misskeyNotificationTypes = map[string]NotificationType{
	"follow":                NotificationFollow,
	"mention":               NotificationMention,
	"reply":                 NotificationMention,
	"renote":                NotificationReblog,
	"quote":                 NotificationReblog,
	"reaction":              NotificationEmojiReaction,
	"pollEnded":             NotificationPoll,
	"pollVote":              NotificationPoll,
	"receiveFollowRequest":  NotificationFollowRequest,
	"followRequestAccepted": NotificationFollow,
	"note":                  NotificationStatus,
}

type misskeyUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Host     string `json:"host"`
	Name     string `json:"name"`
}

func (u misskeyUser) account() Account {
	acct := u.Username
	if u.Host != "" {
		acct = u.Username + "@" + u.Host
	}
	return Account{ID: u.ID, Username: u.Username, Acct: acct, DisplayName: u.Name}
}

type misskeyNote struct {
	ID         string      `json:"id"`
	CreatedAt  string      `json:"createdAt"`
	Text       string      `json:"text"`
	Visibility string      `json:"visibility"`
	URI        string      `json:"uri"`
	URL        string      `json:"url"`
	User       misskeyUser `json:"user"`
}

func (n misskeyNote) status(raw []byte) Status {
	return Status{
		ID:         n.ID,
		URI:        n.URI,
		URL:        n.URL,
		Content:    n.Text,
		Visibility: n.Visibility,
		CreatedAt:  n.CreatedAt,
		Account:    n.User.account(),
		Raw:        rawCopy(raw),
	}
}

type misskeyNotification struct {
	ID        string       `json:"id"`
	CreatedAt string       `json:"createdAt"`
	Type      string       `json:"type"`
	User      misskeyUser  `json:"user"`
	Note      *misskeyNote `json:"note,omitempty"`
	Reaction  string       `json:"reaction,omitempty"`
}

type misskeyMessage struct {
	ID        string       `json:"id"`
	CreatedAt string       `json:"createdAt"`
	Text      string       `json:"text"`
	IsRead    bool         `json:"isRead"`
	User      misskeyUser  `json:"user"`
	Recipient *misskeyUser `json:"recipient,omitempty"`
}

type misskeyNoteUpdated struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// MisskeyNormalizer handles Misskey channel bodies.
type MisskeyNormalizer struct{}

// Normalize maps note, notification, messagingMessage and noteUpdated
// bodies.
func (MisskeyNormalizer) Normalize(msg StreamMessage) (Event, error) {
	switch msg.Event {
	case "note":
		var note misskeyNote
		if err := decodeInto("note", msg.Payload, &note); err != nil {
			return nil, err
		}
		return UpdateEvent{Status: note.status(msg.Payload)}, nil
	case "notification":
		var wire misskeyNotification
		if err := decodeInto("notification", msg.Payload, &wire); err != nil {
			return nil, err
		}
		t, ok := misskeyNotificationTypes[wire.Type]
		if !ok {
			return nil, &UnknownNotificationTypeError{Provider: "misskey", Type: wire.Type}
		}
		notification := Notification{
			ID:        wire.ID,
			Type:      t,
			CreatedAt: wire.CreatedAt,
			Account:   wire.User.account(),
			Emoji:     wire.Reaction,
			Raw:       rawCopy(msg.Payload),
		}
		if wire.Note != nil {
			s := wire.Note.status(nil)
			notification.Status = &s
		}
		return NotificationEvent{Notification: notification}, nil
	case "messagingMessage":
		var m misskeyMessage
		if err := decodeInto("messaging message", msg.Payload, &m); err != nil {
			return nil, err
		}
		accounts := []Account{m.User.account()}
		if m.Recipient != nil {
			accounts = append(accounts, m.Recipient.account())
		}
		last := Status{
			ID:         m.ID,
			Content:    m.Text,
			Visibility: "direct",
			CreatedAt:  m.CreatedAt,
			Account:    m.User.account(),
		}
		return ConversationEvent{Conversation: Conversation{
			ID:         m.ID,
			Unread:     !m.IsRead,
			Accounts:   accounts,
			LastStatus: &last,
			Raw:        rawCopy(msg.Payload),
		}}, nil
	case "noteUpdated":
		var u misskeyNoteUpdated
		if err := decodeInto("note update", msg.Payload, &u); err != nil {
			return nil, err
		}
		if u.Type != "deleted" {
			return nil, unknownEvent("misskey", "noteUpdated:"+u.Type)
		}
		if u.ID == "" {
			return nil, fmt.Errorf("misskey: deleted note without id")
		}
		return DeleteEvent{ID: u.ID}, nil
	default:
		return nil, unknownEvent("misskey", msg.Event)
	}
}
