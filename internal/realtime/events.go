// Package realtime implements the presence and live-delivery subsystem: the
// session registry of connected users, the websocket gateway that admits and
// reads client connections, the presence broadcaster, and the delivery router
// that pushes messages and notifications to live sessions.
//
// The wire protocol is one JSON frame per websocket message:
//
//	{"event": "<name>", "data": {...}}
//
// The set of client-to-server events is closed (see the Event* constants);
// unknown events are logged and dropped without affecting the connection.
package realtime

import "encoding/json"

// Client → server events.
const (
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"
)

// Server → client events.
const (
	EventOnlineUsers     = "onlineUsers"
	EventNewMessage      = "newMessage"
	EventNewNotification = "newNotification"
	EventUserTyping      = "userTyping"
	EventUserStopTyping  = "userStopTyping"
	EventMessageError    = "messageError"
)

// InboundFrame is one client-to-server websocket message. Data stays raw
// until the event name selects the payload type to decode into.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundFrame is one server-to-client websocket message.
type OutboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// SendMessagePayload carries a direct-message intent.
type SendMessagePayload struct {
	RecipientID string `json:"recipientId" validate:"required,max=64"`
	Content     string `json:"content"     validate:"required"`
}

// TypingPayload carries a typing/stop-typing signal scoped to a conversation.
type TypingPayload struct {
	ConversationID string `json:"conversationId" validate:"required,uuid4"`
}

// TypingEvent is the server-side fan-out of a typing signal.
type TypingEvent struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

// MessageError reports a failed send attempt back to the sender only; the
// connection stays open.
type MessageError struct {
	Error string `json:"error"`
}
