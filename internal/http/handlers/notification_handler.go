// Notification HTTP handlers.
//
// This file exposes REST endpoints for the notification feed:
//   - POST /notifications            (create + push to recipient's session)
//   - GET  /notifications            (list, paginated, with unread count)
//   - POST /notifications/{id}/read  (mark one as read)
//
// Notifications are store-and-forward like messages: the durable record is
// always written first; the live toast reaches the recipient only when they
// hold an open session.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/culturebook/backend/internal/domain"
	"github.com/culturebook/backend/internal/services"
)

//
// DTOs
//

// CreateNotificationRequest is the JSON payload for creating a notification.
type CreateNotificationRequest struct {
	// RecipientID is the user who will receive the notification.
	RecipientID string `json:"recipientId" binding:"required" example:"user456"`
	// Type is one of: follow, like, comment, mention, group_invite.
	Type string `json:"type" binding:"required" example:"like"`
	// PostID optionally links the notification to a post.
	PostID *string `json:"postId,omitempty"`
}

// ListNotificationsResponse wraps a page of notifications plus counts.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Unread        int64                 `json:"unread"`
	Pagination    Pagination            `json:"pagination"`
}

//
// Handlers
//

// CreateNotification godoc
// @ID          createNotification
// @Summary     Create a notification
// @Description Persists a notification for the recipient and pushes it to their live session, if any.
// @Tags        Notifications
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateNotificationRequest  true  "Notification payload"
//
// @Success     201  {object}  domain.Notification
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications [post]
func (h *Handlers) CreateNotification(c *gin.Context) {
	var req CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "recipientId and type required")
		return
	}

	n, err := h.notifSvc.Create(c.Request.Context(), strings.TrimSpace(req.RecipientID), userID(c), req.Type, req.PostID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidNotificationType):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown notification type")
		case errors.Is(err, services.ErrInvalidRecipient):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "recipientId required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}

	// Push after the durable write; an offline recipient just misses the toast.
	h.delivery.RouteNotification(n.RecipientID, n)

	ok(c, http.StatusCreated, n)
}

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List notifications (paginated)
// @Description Returns a page of the user's notifications, newest first, with the unread count.
// @Tags        Notifications
// @Produce     json
//
// @Param       page       query  int  false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListNotificationsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, unread, err := h.notifSvc.ListPage(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListNotificationsResponse{
		Notifications: items,
		Unread:        unread,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// MarkNotificationRead godoc
// @ID          markNotificationRead
// @Summary     Mark a notification as read
// @Description Flags one of the current user's notifications as read.
// @Tags        Notifications
// @Produce     json
//
// @Param       id  path  string  true  "Notification ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications/{id}/read [post]
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	notifID := c.Param("id")
	if _, err := uuid.Parse(notifID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id must be a UUID")
		return
	}

	err := h.notifSvc.MarkRead(c.Request.Context(), userID(c), notifID)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrNotificationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
