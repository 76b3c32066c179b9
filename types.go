package megalodon

import "encoding/json"

// ============================================================================
// Canonical Entities
// ============================================================================

// Account is the author of a status or the actor behind a notification.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url,omitempty"`
}

// Status is a post as delivered by a timeline stream. Only the envelope-level
// fields are mapped; Raw carries the provider document untouched.
type Status struct {
	ID         string          `json:"id"`
	URI        string          `json:"uri,omitempty"`
	URL        string          `json:"url,omitempty"`
	Content    string          `json:"content"`
	Visibility string          `json:"visibility,omitempty"`
	CreatedAt  string          `json:"created_at"`
	Account    Account         `json:"account"`
	Raw        json.RawMessage `json:"-"`
}

// NotificationType is the canonical notification type tag.
type NotificationType string

const (
	NotificationMention       NotificationType = "mention"
	NotificationStatus        NotificationType = "status"
	NotificationReblog        NotificationType = "reblog"
	NotificationFollow        NotificationType = "follow"
	NotificationFollowRequest NotificationType = "follow_request"
	NotificationFavourite     NotificationType = "favourite"
	NotificationPoll          NotificationType = "poll"
	NotificationUpdate        NotificationType = "update"
	NotificationEmojiReaction NotificationType = "emoji_reaction"
	NotificationMove          NotificationType = "move"
	NotificationAdminSignUp   NotificationType = "admin.sign_up"
	NotificationAdminReport   NotificationType = "admin.report"
)

// Notification is a notification delivered by the user stream.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	CreatedAt string           `json:"created_at"`
	Account   Account          `json:"account"`
	Status    *Status          `json:"status,omitempty"`
	Emoji     string           `json:"emoji,omitempty"`
	Raw       json.RawMessage  `json:"-"`
}

// Conversation is a direct-message thread.
type Conversation struct {
	ID         string          `json:"id"`
	Unread     bool            `json:"unread"`
	Accounts   []Account       `json:"accounts"`
	LastStatus *Status         `json:"last_status,omitempty"`
	Raw        json.RawMessage `json:"-"`
}
