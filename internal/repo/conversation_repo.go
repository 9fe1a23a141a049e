// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - CreateConversation returns ErrDuplicate when the canonical
//     participant key already exists, so callers can re-find the winner of
//     a concurrent create race instead of producing two conversations.
//   - On other DB errors (connectivity issues, etc.), the raw gorm error is
//     propagated.
//
// This repository is designed to be wrapped by a higher-level service
// (see services.ConversationService) which enforces membership rules and
// race-safe find-or-create semantics.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/culturebook/backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation, e.g. a second
// conversation for the same participant set or a second read receipt for
// the same (message, user) pair.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations,
// so the message is inspected in addition to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// FindConversationByParticipants looks up the conversation whose participant
// set exactly matches participantIDs (order-insensitive). It returns
// ErrNotFound when no such conversation exists; absence is a normal outcome
// on the first message between a pair.
func FindConversationByParticipants(ctx context.Context, db *gorm.DB, participantIDs []string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Preload("Participants").
		Where("participant_key = ?", domain.ParticipantKey(participantIDs)).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts a new conversation together with its membership
// rows in one transaction. The conversation ID is a randomly generated UUID
// and CreatedAt is set to UTC.
//
// When another writer created the same participant set first, the unique
// index on participant_key rejects the insert and ErrDuplicate is returned;
// callers should re-run FindConversationByParticipants and use the winner.
func CreateConversation(ctx context.Context, db *gorm.DB, participantIDs []string, title string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:             uuid.NewString(),
		ParticipantKey: domain.ParticipantKey(participantIDs),
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, id := range participantIDs {
		c.Participants = append(c.Participants, domain.ConversationParticipant{
			ConversationID: c.ID,
			UserID:         id,
			JoinedAt:       now,
		})
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a single conversation by ID with its participants
// preloaded. If the record does not exist, it returns ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetLastMessage updates the conversation's last-message pointer and bumps
// UpdatedAt. It returns ErrNotFound when the conversation does not exist.
func SetLastMessage(ctx context.Context, db *gorm.DB, conversationID, messageID string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"last_message_id": messageID,
			"updated_at":      at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateConversationTitle sets the display title of a conversation.
func UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IsParticipant reports whether userID belongs to the conversation. Callers
// that would otherwise reveal per-conversation state (counts, timestamps)
// should check membership first so non-members observe nothing.
func IsParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&n).Error
	return n > 0, err
}

// CountConversations returns the total number of conversations userID
// participates in.
func CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ConversationParticipant{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of conversations userID participates
// in, ordered by last activity descending (most recently updated first).
// Participants are preloaded so callers can render counterpart names.
//
// The caller is responsible for computing offset and limit
// (e.g., (page-1)*pageSize).
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Order("conversations.updated_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
