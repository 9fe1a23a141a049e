package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/culturebook/backend/internal/domain"
	"github.com/culturebook/backend/internal/services"
)

// ---------- userID ----------

func Test_userID_SourcePrecedence(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Auth middleware identity wins over everything.
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("X-User-ID", "header-user")
	c.Set("userID", "ctx-user")
	if got := userID(c); got != "ctx-user" {
		t.Fatalf("context identity should win, got %q", got)
	}

	// Header fallback when no identity was stored.
	c2, _ := gin.CreateTestContext(httptest.NewRecorder())
	c2.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c2.Request.Header.Set("X-User-ID", "  header-user  ")
	if got := userID(c2); got != "header-user" {
		t.Fatalf("header fallback failed, got %q", got)
	}

	// Final fallback.
	c3, _ := gin.CreateTestContext(httptest.NewRecorder())
	c3.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := userID(c3); got != "demo-user" {
		t.Fatalf("default identity wrong, got %q", got)
	}
}

// ---------- CreateConversation ----------

func TestCreateConversation_Validation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := stubConvSvc{
		resolve: func(ctx context.Context, ids ...string) (*domain.Conversation, error) {
			t.Fatalf("Resolve must not be called for rejected input")
			return nil, nil
		},
	}
	h := New(svc, stubMsgSvc{}, stubNotifSvc{}, &stubDelivery{})
	r := gin.New()
	r.POST("/conversations", h.CreateConversation)

	// malformed JSON
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed json -> %d", w.Code)
	}

	// neither recipientId nor participantIds
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty body -> %d", w.Code)
	}
}

func TestCreateConversation_RecipientAndGroup(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotIDs []string
	conv := &domain.Conversation{ID: uuid.NewString()}
	svc := stubConvSvc{
		resolve: func(ctx context.Context, ids ...string) (*domain.Conversation, error) {
			gotIDs = ids
			return conv, nil
		},
	}
	h := New(svc, stubMsgSvc{}, stubNotifSvc{}, &stubDelivery{})
	r := gin.New()
	r.POST("/conversations", h.CreateConversation)

	// 1:1 via recipientId, caller prepended
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"recipientId":" u2 "}`))
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("recipient create -> %d body=%s", w.Code, w.Body.String())
	}
	if len(gotIDs) != 2 || gotIDs[0] != "u1" || gotIDs[1] != "u2" {
		t.Fatalf("participant set wrong: %v", gotIDs)
	}

	// group via participantIds, caller included automatically
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"participantIds":["u2","u3"]}`))
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("group create -> %d", w.Code)
	}
	if len(gotIDs) != 3 || gotIDs[0] != "u1" {
		t.Fatalf("group participant set wrong: %v", gotIDs)
	}

	var out domain.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.ID != conv.ID {
		t.Fatalf("unexpected conversation in body: %#v", out)
	}
}

func TestCreateConversation_ErrorMappings(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"too_few", services.ErrTooFewParticipants, http.StatusBadRequest},
		{"generic_500", gorm.ErrInvalidField, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := stubConvSvc{
				resolve: func(ctx context.Context, ids ...string) (*domain.Conversation, error) {
					return nil, tc.err
				},
			}
			h := New(svc, stubMsgSvc{}, stubNotifSvc{}, &stubDelivery{})
			r := gin.New()
			r.POST("/conversations", h.CreateConversation)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"recipientId":"u2"}`))
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("want %d, got %d", tc.want, w.Code)
			}
		})
	}
}

// ---------- ListConversations ----------

func TestListConversations_Pagination(t *testing.T) {
	gin.SetMode(gin.TestMode)

	items := []domain.Conversation{{ID: "c1"}, {ID: "c2"}}
	svc := stubConvSvc{
		list: func(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
			if userID == "" || page < 1 || pageSize < 1 {
				t.Fatalf("bad args: user=%q page=%d size=%d", userID, page, pageSize)
			}
			return items, 7, nil
		},
	}
	h := New(svc, stubMsgSvc{}, stubNotifSvc{}, &stubDelivery{})
	r := gin.New()
	r.GET("/conversations", h.ListConversations)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations?page=2&page_size=2", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d", w.Code)
	}
	var out ListConversationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Conversations) != 2 || out.Pagination.Total != 7 ||
		out.Pagination.TotalPages != 4 || !out.Pagination.HasNext {
		t.Fatalf("pagination wrong: %#v", out.Pagination)
	}
}

func TestListConversations_ServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := stubConvSvc{
		list: func(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
			return nil, 0, gorm.ErrInvalidField
		},
	}
	h := New(svc, stubMsgSvc{}, stubNotifSvc{}, &stubDelivery{})
	r := gin.New()
	r.GET("/conversations", h.ListConversations)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

// ---------- GetConversation ----------

func TestGetConversation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	conv := &domain.Conversation{ID: uuid.NewString()}
	svc := stubConvSvc{
		get: func(ctx context.Context, userID, convID string) (*domain.Conversation, error) {
			if convID == conv.ID && userID == "member" {
				return conv, nil
			}
			return nil, services.ErrConversationNotFound
		},
	}
	h := New(svc, stubMsgSvc{}, stubNotifSvc{}, &stubDelivery{})
	r := gin.New()
	r.GET("/conversations/:id", h.GetConversation)

	// invalid uuid
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/not-uuid", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("uuid 400 -> %d", w.Code)
	}

	// member sees the conversation
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID, nil)
	req.Header.Set("X-User-ID", "member")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("member get -> %d", w.Code)
	}

	// non-member reads as not found, never a membership hint
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID, nil)
	req.Header.Set("X-User-ID", "intruder")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("non-member get -> %d", w.Code)
	}
}

// ---------- UpdateConversationTitle ----------

func TestUpdateConversationTitle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotTitle string
	svc := stubConvSvc{
		update: func(ctx context.Context, userID, convID, title string) error {
			if userID == "intruder" {
				return services.ErrConversationNotFound
			}
			gotTitle = title
			return nil
		},
	}
	h := New(svc, stubMsgSvc{}, stubNotifSvc{}, &stubDelivery{})
	r := gin.New()
	r.PUT("/conversations/:id/title", h.UpdateConversationTitle)

	convID := uuid.NewString()

	// invalid uuid
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/conversations/not-uuid/title", bytes.NewBufferString(`{"title":"x"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("uuid 400 -> %d", w.Code)
	}

	// blank title
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/conversations/"+convID+"/title", bytes.NewBufferString(`{"title":"   "}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank title -> %d", w.Code)
	}

	// success
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/conversations/"+convID+"/title", bytes.NewBufferString(`{"title":"Road trip"}`))
	req.Header.Set("X-User-ID", "member")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("rename -> %d", w.Code)
	}
	if gotTitle != "Road trip" {
		t.Fatalf("title not forwarded: %q", gotTitle)
	}

	// non-member -> 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/conversations/"+convID+"/title", bytes.NewBufferString(`{"title":"x"}`))
	req.Header.Set("X-User-ID", "intruder")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("non-member rename -> %d", w.Code)
	}
}
