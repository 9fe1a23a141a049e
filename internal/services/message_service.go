// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the durable half of message delivery. It validates content, resolves
// or verifies the target conversation, and persists the message together
// with the conversation's last-message pointer in one transaction, so no
// partial state (message without pointer update, or vice versa) is ever
// observable.
//
// Optional enhancement: group conversations with a blank title get one
// auto-generated from the first message.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// conversation/user identifiers and pagination parameters where applicable.

package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/culturebook/backend/internal/domain"
	"github.com/culturebook/backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MessageService coordinates message persistence for both the websocket
// delivery router and the REST send endpoint.
type MessageService struct {
	DB    *gorm.DB
	Convs *ConversationService

	// MaxContentRunes caps message content by rune length; 0 disables.
	MaxContentRunes int

	// Title generation config (group conversations only)
	TitleLocale language.Tag
	TitleMaxLen int
}

// Send validates and persists a direct message from senderID to recipientID,
// resolving (or lazily creating) the 1:1 conversation between them. The
// message insert and the last-message pointer update happen in one
// transaction. It returns the persisted message; pushing it to a live
// session is the delivery router's concern, not this service's.
func (s *MessageService) Send(ctx context.Context, senderID, recipientID, content string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("sender.id", senderID),
			attribute.String("recipient.id", recipientID),
		),
	)
	defer span.End()

	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" || recipientID == senderID {
		return nil, ErrInvalidRecipient
	}

	conv, err := s.Convs.Resolve(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}

	return s.append(ctx, conv, senderID, content)
}

// SendToConversation validates and persists a message into an existing
// conversation the sender belongs to. Used by group sends and by the REST
// POST /conversations/{id}/messages endpoint.
func (s *MessageService) SendToConversation(ctx context.Context, senderID, conversationID, content string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SendToConversation",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("sender.id", senderID),
		),
	)
	defer span.End()

	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}

	conv, err := s.Convs.Get(ctx, senderID, conversationID)
	if err != nil {
		return nil, err
	}

	return s.append(ctx, conv, senderID, content)
}

// append persists the message and advances the conversation's last-message
// pointer atomically. A failure in either step rolls back both, so a retry
// that re-resolves by participant set is safe.
func (s *MessageService) append(ctx context.Context, conv *domain.Conversation, senderID, content string) (*domain.Message, error) {
	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateMessage(tx, conv.ID, senderID, content)
		if err != nil {
			return err
		}
		msg = m

		if err := repo.SetLastMessage(ctx, tx, conv.ID, m.ID, m.CreatedAt); err != nil {
			return err
		}

		// Auto-title groups on their first message.
		if len(conv.Participants) > 2 && strings.TrimSpace(conv.Title) == "" {
			if gen := s.generateTitle(content); gen != "" {
				if uerr := repo.UpdateConversationTitle(ctx, tx, conv.ID, gen); uerr == nil {
					conv.Title = gen
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListPage returns paginated messages for a conversation in chronological
// order, verifying that userID is a participant first.
func (s *MessageService) ListPage(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
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

	if _, err := s.Convs.Get(ctx, userID, conversationID); err != nil {
		return nil, 0, err
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), conversationID, offset, pageSize)
	return items, total, err
}

// MarkRead records a read receipt for messageID by userID. The reader must
// be a participant of the owning conversation and may not mark their own
// message. Marking twice is idempotent.
func (s *MessageService) MarkRead(ctx context.Context, userID, messageID string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	msg, err := repo.GetMessage(s.DB.WithContext(ctx), messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if msg.SenderID == userID {
		return ErrForbiddenRead
	}
	if _, err := s.Convs.Get(ctx, userID, msg.ConversationID); err != nil {
		return ErrMessageNotFound
	}

	if err := repo.CreateMessageRead(s.DB.WithContext(ctx), messageID, userID); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil // already read; nothing to do
		}
		return err
	}
	return nil
}

// validateContent trims and bounds message content.
func (s *MessageService) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return "", ErrTooLong
	}
	return content, nil
}

// wordRE extracts word-ish tokens for title generation.
var wordRE = regexp.MustCompile(`[\p{L}\p{N}']+`)

// generateTitle derives a short title from the first words of a message,
// title-cased for the configured locale.
func (s *MessageService) generateTitle(content string) string {
	words := wordRE.FindAllString(content, -1)
	if len(words) == 0 {
		return ""
	}
	const maxWords = 6
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	title := strings.Join(words, " ")
	caser := cases.Title(s.titleLocale())
	title = caser.String(strings.ToLower(title))
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		title = string([]rune(title)[:s.TitleMaxLen])
	}
	return strings.TrimSpace(title)
}

func (s *MessageService) titleLocale() language.Tag {
	if s.TitleLocale == (language.Tag{}) {
		return language.Und
	}
	return s.TitleLocale
}
