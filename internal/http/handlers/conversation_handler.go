// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - POST /conversations             (fetch-or-create by participant set)
//   - GET  /conversations             (list, paginated, ETag support)
//   - GET  /conversations/{id}        (fetch one, membership enforced)
//   - PUT  /conversations/{id}/title  (rename)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/culturebook/backend/internal/domain"
	"github.com/culturebook/backend/internal/http/middleware"
	"github.com/culturebook/backend/internal/repo"
	"github.com/culturebook/backend/internal/services"
	"github.com/culturebook/backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ConversationService defines conversation lifecycle operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ConversationService interface {
	// Resolve returns the conversation for the given participant set,
	// creating it if none exists yet.
	Resolve(ctx context.Context, participantIDs ...string) (*domain.Conversation, error)
	// Get returns one conversation, enforcing that userID is a participant.
	Get(ctx context.Context, userID, conversationID string) (*domain.Conversation, error)
	// ListPage returns a page of the user's conversations and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error)
	// UpdateTitle renames a conversation the user belongs to.
	UpdateTitle(ctx context.Context, userID, conversationID, title string) error
}

// MessageService defines message retrieval and read-receipt operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// ListPage returns a page of messages within a conversation the user
	// belongs to, in chronological order, and the total count.
	ListPage(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	// MarkRead records a read receipt for messageID by userID.
	MarkRead(ctx context.Context, userID, messageID string) error
}

// NotificationService defines operations on the notification feed.
type NotificationService interface {
	// Create persists a notification for recipientID.
	Create(ctx context.Context, recipientID, senderID, kind string, postID *string) (*domain.Notification, error)
	// ListPage returns a page of the user's notifications plus total and
	// unread counts.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, int64, error)
	// MarkRead flags a notification as read for its recipient.
	MarkRead(ctx context.Context, userID, notificationID string) error
}

// Delivery is the live-push half of message delivery: persist first through
// the services above, then fan out to connected sessions. REST sends go
// through it so a message posted over HTTP still reaches online recipients.
type Delivery interface {
	// RouteConversationMessage persists a message into the conversation and
	// pushes it to the other online participants.
	RouteConversationMessage(ctx context.Context, senderID, conversationID, content string) (*domain.Message, error)
	// RouteNotification pushes an already-persisted notification to its
	// recipient's live session, if any.
	RouteNotification(recipientID string, n *domain.Notification)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for conversations, messages, and
// notifications. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	convSvc  ConversationService
	msgSvc   MessageService
	notifSvc NotificationService
	delivery Delivery
}

// New constructs and returns a Handlers instance bound to the given services.
func New(convSvc ConversationService, msgSvc MessageService, notifSvc NotificationService, delivery Delivery) *Handlers {
	return &Handlers{convSvc: convSvc, msgSvc: msgSvc, notifSvc: notifSvc, delivery: delivery}
}

// userID extracts the authenticated identity stored by the auth middleware.
// If absent, it falls back to the "X-User-ID" header (tests use it), and
// finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if uid := middleware.UserIDFrom(c); uid != "" {
		return uid
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateConversationRequest is the JSON payload for fetch-or-create.
//
// Exactly one of RecipientID (1:1) or ParticipantIDs (group, sender added
// implicitly) must be provided.
type CreateConversationRequest struct {
	// RecipientID targets a 1:1 conversation with this user.
	RecipientID string `json:"recipientId" example:"user456"`
	// ParticipantIDs targets a group conversation; the caller is included
	// automatically.
	ParticipantIDs []string `json:"participantIds"`
}

// UpdateConversationTitleRequest is the JSON payload for renaming.
type UpdateConversationTitleRequest struct {
	// Title is the new conversation name (1–255 chars).
	Title string `json:"title" binding:"required,min=1,max=255" example:"Weekend plans"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse wraps a page of conversations and pagination
// information.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

//
// Handlers
//

// CreateConversation godoc
// @ID          createConversation
// @Summary     Fetch or create a conversation
// @Description Returns the conversation for the given participant set, creating it if absent.
// @Description Concurrent requests for the same pair converge on one conversation.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateConversationRequest  true  "Participant set"
//
// @Success     200  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	uid := userID(c)
	participants := []string{uid}
	switch {
	case strings.TrimSpace(req.RecipientID) != "":
		participants = append(participants, strings.TrimSpace(req.RecipientID))
	case len(req.ParticipantIDs) > 0:
		participants = append(participants, req.ParticipantIDs...)
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "recipientId or participantIds required")
		return
	}

	conv, err := h.convSvc.Resolve(c.Request.Context(), participants...)
	if err != nil {
		if errors.Is(err, services.ErrTooFewParticipants) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "a conversation needs at least two distinct participants")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, conv)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns a page of the user's conversations, most recently active first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.convSvc.(*services.ConversationService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.ConversationsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"conversations:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	// Fetch page.
	items, total, err := h.convSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListConversationsResponse{
		Conversations: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Fetch a conversation
// @Description Returns one conversation the current user belongs to. Non-members receive 404.
// @Tags        Conversations
// @Produce     json
//
// @Param       id  path  string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Conversation
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	conv, err := h.convSvc.Get(c.Request.Context(), userID(c), convID)
	if err != nil {
		// Membership failures deliberately read as not-found.
		if errors.Is(err, services.ErrConversationNotFound) || errors.Is(err, services.ErrNotParticipant) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, conv)
}

// UpdateConversationTitle godoc
// @ID          updateConversationTitle
// @Summary     Rename a conversation
// @Description Updates the title of a conversation the current user belongs to.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Conversation ID (UUID)"  format(uuid) example(141add05-4415-4938-b5a1-17e0d3171aff)
// @Param       body  body  handlers.UpdateConversationTitleRequest  true  "New title"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/title [put]
func (h *Handlers) UpdateConversationTitle(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req UpdateConversationTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		return
	}

	if err := h.convSvc.UpdateTitle(c.Request.Context(), userID(c), convID, req.Title); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}

	noContent(c)
}

// middlewareGetIdempotencyKey reads the idempotency key validated by the
// IdempotencyValidator middleware, falling back to the raw header when the
// middleware is not installed (tests).
func middlewareGetIdempotencyKey(c *gin.Context) (string, bool) {
	if v := middleware.GetIdempotencyKey(c); v != "" {
		return v, true
	}
	if v := strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey)); v != "" {
		return v, true
	}
	return "", false
}
