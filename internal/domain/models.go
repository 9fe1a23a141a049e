// Package domain defines the persistence models for conversations, messages,
// read receipts, and notifications. These types are mapped with GORM and form
// the core data layer of the messaging backend.
package domain

import (
	"sort"
	"strings"
	"time"
)

// ParticipantKeySeparator joins sorted participant IDs into the canonical
// lookup key for a conversation. The separator must never appear in user IDs.
const ParticipantKeySeparator = "|"

// ParticipantKey returns the canonical key for an unordered participant set.
// IDs are deduplicated and sorted so the same set always produces the same
// key regardless of argument order. The unique index on
// Conversation.ParticipantKey relies on this canonical form to guarantee at
// most one conversation per participant set.
func ParticipantKey(userIDs []string) string {
	seen := make(map[string]struct{}, len(userIDs))
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ParticipantKeySeparator)
}

// Conversation represents a durable exchange between a fixed set of
// participants (two for direct messages, more for groups).
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - ParticipantKey: canonical sorted participant IDs; unique, so two
//     concurrent first-messages between the same pair converge on one row.
//   - Title: optional display title (groups only; auto-generated if blank).
//   - LastMessageID: pointer to the most recent message, nil until the first
//     message lands.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM; UpdatedAt advances
//     on every new message.
type Conversation struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	ParticipantKey string    `json:"-"               gorm:"type:varchar(512);not null;uniqueIndex:ux_conv_participants"`
	Title          string    `json:"title,omitempty" gorm:"type:varchar(255)"`
	LastMessageID  *string   `json:"last_message_id,omitempty" gorm:"type:char(36)"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Participants holds the membership rows. The set is immutable after
	// creation for direct conversations.
	Participants []ConversationParticipant `json:"participants,omitempty" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// ParticipantIDs returns the user IDs of all loaded participants.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// HasParticipant reports whether userID belongs to the loaded participant set.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ConversationParticipant is one membership row of a conversation. The
// composite primary key makes membership unique at the schema level.
type ConversationParticipant struct {
	ConversationID string    `json:"-"        gorm:"type:char(36);primaryKey"`
	UserID         string    `json:"user_id"  gorm:"type:varchar(64);primaryKey;index:idx_participant_user"`
	JoinedAt       time.Time `json:"joined_at"`
}

// TableName returns the database table name for ConversationParticipant.
func (ConversationParticipant) TableName() string { return "conversation_participants" }

// Message represents a single immutable message within a conversation.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConversationID: foreign key to the owning conversation, indexed
//     together with CreatedAt for chronological listing.
//   - SenderID: identity of the author; must be a conversation participant.
//   - Content: non-empty message text.
//   - CreatedAt: insertion timestamp (UTC). Messages are never edited.
type Message struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	SenderID       string    `json:"sender_id"       gorm:"type:varchar(64);not null;index"`
	Content        string    `json:"content"         gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at"      gorm:"index:idx_conv_msgs,priority:2"`

	// Conversation is the parent exchange. Messages are cascade-deleted if
	// their conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	// Reads holds per-user read receipts for this message.
	Reads []MessageRead `json:"read_by,omitempty" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// MessageRead records that a user has seen a specific message. A user can
// mark a message read at most once (enforced by unique index).
type MessageRead struct {
	ID        string    `json:"-"       gorm:"type:char(36);primaryKey"`
	MessageID string    `json:"-"       gorm:"type:char(36);not null;index;uniqueIndex:ux_read_message_user"`
	UserID    string    `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_read_message_user"`
	ReadAt    time.Time `json:"read_at"`
}

// TableName returns the database table name for MessageRead.
func (MessageRead) TableName() string { return "message_reads" }

// Notification represents an event addressed to a single user (new follower,
// like, comment, and so on). The record is durable; the live push over the
// real-time channel is best effort.
type Notification struct {
	ID          string    `json:"id"                gorm:"type:char(36);primaryKey"`
	RecipientID string    `json:"recipient_id"      gorm:"type:varchar(64);not null;index:idx_user_notifications"`
	SenderID    string    `json:"sender_id"         gorm:"type:varchar(64);not null"`
	Type        string    `json:"type"              gorm:"type:varchar(32);not null"`
	PostID      *string   `json:"post_id,omitempty" gorm:"type:char(36)"`
	Read        bool      `json:"read"              gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }
