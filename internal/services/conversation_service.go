// Package services – ConversationService
//
// This file implements the ConversationService, which manages conversation
// resolution and listing. Resolution is the race-safe find-or-create used by
// both the REST "start a conversation" endpoint and the delivery router's
// first-message path: a lookup by canonical participant key precedes creation,
// and a creation that loses a concurrent race falls back to the winner row.
//
// Service-level errors (e.g., ErrConversationNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/culturebook/backend/internal/domain"
	"github.com/culturebook/backend/internal/repo"
)

// ConversationRepo defines the repository contract required by
// ConversationService. Implementations are responsible for persistence of
// conversation aggregates.
type ConversationRepo interface {
	// FindByParticipants looks up a conversation by exact participant set.
	FindByParticipants(ctx context.Context, db *gorm.DB, participantIDs []string) (*domain.Conversation, error)

	// Create inserts a conversation with its membership rows; returns
	// repo.ErrDuplicate when the participant set already exists.
	Create(ctx context.Context, db *gorm.DB, participantIDs []string, title string) (*domain.Conversation, error)

	// Get fetches a conversation by ID with participants preloaded.
	Get(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error)

	// Count returns the total number of conversations for pagination.
	Count(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListPage returns a page of conversations the user participates in.
	ListPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error)

	// UpdateTitle sets the conversation display title.
	UpdateTitle(ctx context.Context, db *gorm.DB, id, title string) error
}

// ConversationService provides conversation-level operations: race-safe
// resolution, membership-checked fetches, and paginated listing.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the conversation repository used by this service.
	Repo ConversationRepo
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB, r ConversationRepo) *ConversationService {
	return &ConversationService{DB: db, Repo: r}
}

// Resolve returns the conversation for the given participant set, creating it
// when absent. Two concurrent resolutions of the same unordered set converge
// on one conversation: the loser of the create race re-finds the winner via
// the unique participant key.
func (s *ConversationService) Resolve(ctx context.Context, participantIDs ...string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.Int("participants", len(participantIDs))),
	)
	defer span.End()

	ids := lo.Uniq(lo.Filter(participantIDs, func(id string, _ int) bool { return id != "" }))
	if len(ids) < 2 {
		return nil, ErrTooFewParticipants
	}

	conv, err := s.Repo.FindByParticipants(ctx, s.DB, ids)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv, err = s.Repo.Create(ctx, s.DB, ids, "")
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost the race; the winner row is authoritative.
		return s.Repo.FindByParticipants(ctx, s.DB, ids)
	}
	return conv, err
}

// Get fetches a conversation and verifies that userID is a participant.
// Non-members receive ErrConversationNotFound rather than a membership hint.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	conv, err := s.Repo.Get(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// ListPage returns a page of the user's conversations ordered by last
// activity. It applies defaults for invalid page/pageSize and returns the
// total count.
func (s *ConversationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.Count(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	items, err := s.Repo.ListPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Participants returns the user IDs of a conversation's members. Used by the
// delivery router to fan typing signals out to the other members.
func (s *ConversationService) Participants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := s.Repo.Get(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return conv.ParticipantIDs(), nil
}

// UpdateTitle renames a conversation, ensuring it exists and that userID is
// a participant.
func (s *ConversationService) UpdateTitle(ctx context.Context, userID, conversationID, title string) error {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.Repo.UpdateTitle(ctx, s.DB, conversationID, title)
}
