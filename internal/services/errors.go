// Package services defines the business logic for conversations, messages,
// and notifications. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages, HTTP status codes, or websocket messageError
// events is performed at the handler/gateway layer.
package services

import "errors"

// Conversation-related errors.
var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotParticipant is returned when a user attempts to read from or
	// write to a conversation they are not a member of.
	ErrNotParticipant = errors.New("not a conversation participant")

	// ErrTooFewParticipants is returned when a conversation resolution is
	// attempted with fewer than two distinct participants.
	ErrTooFewParticipants = errors.New("conversation needs at least two participants")
)

// Message-related errors.
var (
	// ErrEmptyContent is returned when a send attempt carries empty or
	// whitespace-only content.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrTooLong is returned when message content exceeds the configured
	// maximum length limit.
	ErrTooLong = errors.New("message content too long")

	// ErrInvalidRecipient is returned when the recipient of a direct message
	// is missing or is the sender themself.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrMessageNotFound indicates that the requested message does not exist
	// or is not accessible to the current user.
	ErrMessageNotFound = errors.New("message not found")

	// ErrForbiddenRead is returned when a user attempts to mark their own
	// message as read.
	ErrForbiddenRead = errors.New("cannot mark own message as read")
)

// Notification-related errors.
var (
	// ErrNotificationNotFound indicates that the requested notification does
	// not exist or belongs to another user.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrInvalidNotificationType is returned when a notification type is
	// outside the allowed set.
	ErrInvalidNotificationType = errors.New("invalid notification type")
)
