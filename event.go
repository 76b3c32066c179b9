package megalodon

import "time"

// EventKind is the subscription key on an EventBus.
type EventKind string

const (
	KindUpdate       EventKind = "update"
	KindNotification EventKind = "notification"
	KindConversation EventKind = "conversation"
	KindStatusUpdate EventKind = "status.update"
	KindDelete       EventKind = "delete"
	KindHeartbeat    EventKind = "heartbeat"
	KindError        EventKind = "error"
	KindConnect      EventKind = "connect"
	KindClose        EventKind = "close"
	KindReconnect    EventKind = "reconnect"
)

// Event is one canonical stream event. Exactly one of the concrete types
// below is delivered per emission.
type Event interface {
	Kind() EventKind
}

// UpdateEvent carries a new status on a timeline.
type UpdateEvent struct{ Status Status }

// NotificationEvent carries a new notification.
type NotificationEvent struct{ Notification Notification }

// ConversationEvent carries an updated direct conversation.
type ConversationEvent struct{ Conversation Conversation }

// StatusUpdateEvent carries an edited status.
type StatusUpdateEvent struct{ Status Status }

// DeleteEvent carries the id of a deleted status.
type DeleteEvent struct{ ID string }

// HeartbeatEvent is emitted for every heartbeat sentinel on the wire.
type HeartbeatEvent struct{}

// ParserErrorEvent reports a malformed or unrecognized message. The
// connection stays up.
type ParserErrorEvent struct{ Err error }

// TransportErrorEvent reports an I/O failure, stall or rejected handshake.
// Class tells whether a retry follows.
type TransportErrorEvent struct{ Err error }

// ConnectEvent is emitted each time the stream transitions into Connected.
type ConnectEvent struct{}

// CloseEvent is emitted when a live connection goes away. Final is set when
// no reconnect follows.
type CloseEvent struct {
	Code   int
	Reason string
	Final  bool
}

// ReconnectEvent is emitted when a reconnect is scheduled.
type ReconnectEvent struct {
	Attempt uint
	Delay   time.Duration
	Failure FailureKind
}

func (UpdateEvent) Kind() EventKind         { return KindUpdate }
func (NotificationEvent) Kind() EventKind   { return KindNotification }
func (ConversationEvent) Kind() EventKind   { return KindConversation }
func (StatusUpdateEvent) Kind() EventKind   { return KindStatusUpdate }
func (DeleteEvent) Kind() EventKind         { return KindDelete }
func (HeartbeatEvent) Kind() EventKind      { return KindHeartbeat }
func (ParserErrorEvent) Kind() EventKind    { return KindError }
func (TransportErrorEvent) Kind() EventKind { return KindError }
func (ConnectEvent) Kind() EventKind        { return KindConnect }
func (CloseEvent) Kind() EventKind          { return KindClose }
func (ReconnectEvent) Kind() EventKind      { return KindReconnect }

// errorOf returns the error carried by an error-kind event.
func errorOf(ev Event) error {
	switch e := ev.(type) {
	case ParserErrorEvent:
		return e.Err
	case TransportErrorEvent:
		return e.Err
	}
	return nil
}
