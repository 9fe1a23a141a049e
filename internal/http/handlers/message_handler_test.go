package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/culturebook/backend/internal/domain"
	"github.com/culturebook/backend/internal/repo"
	"github.com/culturebook/backend/internal/services"
)

// ---------- test plumbing ----------

// testConvRepo proxies the repository free functions, mirroring production
// wiring.
type testConvRepo struct{}

func (testConvRepo) FindByParticipants(ctx context.Context, db *gorm.DB, participantIDs []string) (*domain.Conversation, error) {
	return repo.FindConversationByParticipants(ctx, db, participantIDs)
}

func (testConvRepo) Create(ctx context.Context, db *gorm.DB, participantIDs []string, title string) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, participantIDs, title)
}

func (testConvRepo) Get(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id)
}

func (testConvRepo) Count(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountConversations(ctx, db, userID)
}

func (testConvRepo) ListPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, userID, offset, limit)
}

func (testConvRepo) UpdateTitle(ctx context.Context, db *gorm.DB, id, title string) error {
	return repo.UpdateConversationTitle(ctx, db, id, title)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(
		&domain.Conversation{}, &domain.ConversationParticipant{},
		&domain.Message{}, &domain.MessageRead{},
		&domain.Notification{}, &domain.Idempotency{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// Handlers.New expects interfaces in this package; we satisfy them with stubs.

type stubConvSvc struct {
	resolve func(ctx context.Context, ids ...string) (*domain.Conversation, error)
	get     func(ctx context.Context, userID, convID string) (*domain.Conversation, error)
	list    func(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error)
	update  func(ctx context.Context, userID, convID, title string) error
}

func (s stubConvSvc) Resolve(ctx context.Context, ids ...string) (*domain.Conversation, error) {
	return s.resolve(ctx, ids...)
}

func (s stubConvSvc) Get(ctx context.Context, userID, convID string) (*domain.Conversation, error) {
	return s.get(ctx, userID, convID)
}

func (s stubConvSvc) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	return s.list(ctx, userID, page, pageSize)
}

func (s stubConvSvc) UpdateTitle(ctx context.Context, userID, convID, title string) error {
	return s.update(ctx, userID, convID, title)
}

type stubMsgSvc struct {
	list     func(ctx context.Context, userID, convID string, page, pageSize int) ([]domain.Message, int64, error)
	markRead func(ctx context.Context, userID, messageID string) error
}

func (s stubMsgSvc) ListPage(ctx context.Context, userID, convID string, page, pageSize int) ([]domain.Message, int64, error) {
	return s.list(ctx, userID, convID, page, pageSize)
}

func (s stubMsgSvc) MarkRead(ctx context.Context, userID, messageID string) error {
	return s.markRead(ctx, userID, messageID)
}

type stubNotifSvc struct {
	create   func(ctx context.Context, recipientID, senderID, kind string, postID *string) (*domain.Notification, error)
	list     func(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, int64, error)
	markRead func(ctx context.Context, userID, notificationID string) error
}

func (s stubNotifSvc) Create(ctx context.Context, recipientID, senderID, kind string, postID *string) (*domain.Notification, error) {
	return s.create(ctx, recipientID, senderID, kind, postID)
}

func (s stubNotifSvc) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, int64, error) {
	return s.list(ctx, userID, page, pageSize)
}

func (s stubNotifSvc) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.markRead(ctx, userID, notificationID)
}

// stubDelivery records routed notifications and delegates message routing.
type stubDelivery struct {
	route    func(ctx context.Context, senderID, convID, content string) (*domain.Message, error)
	notified []*domain.Notification
}

func (d *stubDelivery) RouteConversationMessage(ctx context.Context, senderID, convID, content string) (*domain.Message, error) {
	return d.route(ctx, senderID, convID, content)
}

func (d *stubDelivery) RouteNotification(recipientID string, n *domain.Notification) {
	d.notified = append(d.notified, n)
}

// ---------- helpers-only unit tests ----------

func Test_sanitizeContent_and_clamp_and_idemKey(t *testing.T) {
	// sanitizeContent:
	raw := "  line1\r\n\r\n\r\n\r\nline2\rline3  "
	got := sanitizeContent(raw)
	want := "line1\n\nline2\nline3"
	if got != want {
		t.Fatalf("sanitizeContent: got %q want %q", got, want)
	}
	if sanitizeContent(" \r\n\t ") != "" {
		t.Fatalf("sanitizeContent should trim to empty")
	}

	// clampMsgPagination:
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=-3&page_size=9999", nil)
	p, ps := clampMsgPagination(c)
	if p != 1 || ps != 100 {
		t.Fatalf("clamp: got page=%d size=%d; want 1,100", p, ps)
	}
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=&page_size=0", nil)
	p, ps = clampMsgPagination(c)
	if p != 1 || ps != 1 {
		t.Fatalf("clamp defaults: got %d,%d", p, ps)
	}

	// middlewareGetIdempotencyKey
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Idempotency-Key", "k-1")
	c.Request = req
	k, okKey := middlewareGetIdempotencyKey(c)
	if !okKey || k != "k-1" {
		t.Fatalf("idem key: %v %q", okKey, k)
	}

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/", nil)
	k, okKey = middlewareGetIdempotencyKey(c)
	if okKey || k != "" {
		t.Fatalf("expected no idempotency key, got ok=%v key=%q", okKey, k)
	}
}

func Test_discoverMaxContentRunes_AllPaths(t *testing.T) {
	if got := discoverMaxContentRunes(stubMsgSvc{}); got != 4000 {
		t.Fatalf("fallback for non-*MessageService, got %d", got)
	}
	if got := discoverMaxContentRunes(&services.MessageService{MaxContentRunes: 0}); got != 4000 {
		t.Fatalf("fallback when MaxContentRunes<=0, got %d", got)
	}
	if got := discoverMaxContentRunes(&services.MessageService{MaxContentRunes: 123}); got != 123 {
		t.Fatalf("expected 123, got %d", got)
	}
}

// ---------- PostMessage ----------

func TestPostMessage_InvalidUUID_Binding_TooLong_Empty(t *testing.T) {
	gin.SetMode(gin.TestMode)

	delivery := &stubDelivery{
		route: func(ctx context.Context, senderID, convID, content string) (*domain.Message, error) {
			t.Fatalf("delivery must not be reached for rejected input")
			return nil, nil
		},
	}
	ms := &services.MessageService{MaxContentRunes: 5}
	h := New(stubConvSvc{}, ms, stubNotifSvc{}, delivery)

	r := gin.New()
	r.POST("/conversations/:id/messages", h.PostMessage)

	// invalid UUID
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/not-a-uuid/messages", bytes.NewBufferString(`{"content":"x"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid uuid -> %d", w.Code)
	}

	// binding error (missing content)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", bytes.NewBufferString(`{}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("binding error -> %d", w.Code)
	}

	// too long content (limit discovered from *services.MessageService)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", bytes.NewBufferString(`{"content":"123456"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("too long -> %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("max 5")) {
		t.Fatalf("expected max count in message, got %s", w.Body.String())
	}

	// whitespace that sanitizes to empty
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", bytes.NewBufferString(`{"content":"  \r\n \n\t "}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty-after-sanitize -> %d", w.Code)
	}
}

func TestPostMessage_Idempotency_Replay_and_Store(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	ctx := context.Background()

	userID := "u1"
	conv, err := repo.CreateConversation(ctx, db, []string{"u1", "u2"}, "")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	prev, err := repo.CreateMessage(db, conv.ID, "u2", "previous")
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if _, err := repo.CreateIdempotency(ctx, db, userID, conv.ID, "key-replay", prev.ID, 200, time.Hour); err != nil {
		t.Fatalf("seed idem: %v", err)
	}

	ms := &services.MessageService{DB: db, MaxContentRunes: 2000}
	delivery := &stubDelivery{
		route: func(ctx context.Context, senderID, convID, content string) (*domain.Message, error) {
			return repo.CreateMessage(db, convID, senderID, content)
		},
	}
	h := New(stubConvSvc{}, ms, stubNotifSvc{}, delivery)

	r := gin.New()
	r.POST("/conversations/:id/messages", h.PostMessage)

	// replay request: the recorded message comes back, delivery is skipped
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+conv.ID+"/messages", bytes.NewBufferString(`{"content":" hello "}`))
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("Idempotency-Key", "key-replay")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("replay -> %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replay header")
	}
	var resp PostMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Message == nil || resp.Message.ID != prev.ID || resp.Message.Content != "previous" {
		t.Fatalf("unexpected replay body: %#v", resp)
	}

	// store path: fresh key, delivery runs, an idempotency row is written
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/conversations/"+conv.ID+"/messages", bytes.NewBufferString(`{"content":"first time"}`))
	req2.Header.Set("X-User-ID", userID)
	req2.Header.Set("Idempotency-Key", "key-store")
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("store -> %d body=%s", w2.Code, w2.Body.String())
	}
	var resp2 PostMessageResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &resp2); err != nil {
		t.Fatalf("json2: %v", err)
	}
	if resp2.Message == nil || resp2.Message.Content != "first time" {
		t.Fatalf("stored message missing: %#v", resp2)
	}
	rec, err := repo.GetIdempotency(ctx, db, userID, conv.ID, "key-store", time.Now().UTC())
	if err != nil || rec == nil || rec.MessageID != resp2.Message.ID {
		t.Fatalf("idempotency not stored: rec=%+v err=%v", rec, err)
	}
}

func TestPostMessage_ErrorMappings(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"conversation_not_found", services.ErrConversationNotFound, http.StatusNotFound},
		{"not_participant", services.ErrNotParticipant, http.StatusNotFound},
		{"too_long", services.ErrTooLong, http.StatusBadRequest},
		{"empty_content", services.ErrEmptyContent, http.StatusBadRequest},
		{"generic_500", gorm.ErrInvalidField, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			delivery := &stubDelivery{
				route: func(ctx context.Context, senderID, convID, content string) (*domain.Message, error) {
					return nil, tc.err
				},
			}
			h := New(stubConvSvc{}, stubMsgSvc{}, stubNotifSvc{}, delivery)

			r := gin.New()
			r.POST("/conversations/:id/messages", h.PostMessage)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", bytes.NewBufferString(`{"content":"hello"}`))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("want %d, got %d body=%s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

// ---------- ListMessages ----------

func TestListMessages_UUID_And_ETag304(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	buf := captureLogs(t) // so 5xx paths would log if they happen
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, db, []string{"u1", "u2"}, "")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	if _, err := repo.CreateMessage(db, conv.ID, "u1", "hello"); err != nil {
		t.Fatalf("seed msg: %v", err)
	}

	ms := &services.MessageService{DB: db}
	h := New(stubConvSvc{}, ms, stubNotifSvc{}, &stubDelivery{})

	r := gin.New()
	r.GET("/conversations/:id/messages", h.ListMessages)

	// invalid uuid
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/not-uuid/messages", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("uuid 400 -> %d", w.Code)
	}

	// compute the expected weak tag the way the handler does
	count, maxTS, err := repo.MessagesStats(ctx, db, conv.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.Unix()
	}
	etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, conv.ID, count, ts)

	// 304 path (as a participant)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("etag 304 -> %d headers=%v logs=%s", w.Code, w.Header(), buf.String())
	}
}

func TestListMessages_NonMember_NoETag_No304(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, db, []string{"u1", "u2"}, "")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	if _, err := repo.CreateMessage(db, conv.ID, "u1", "hello"); err != nil {
		t.Fatalf("seed msg: %v", err)
	}

	ms := &services.MessageService{DB: db, Convs: services.NewConversationService(db, testConvRepo{})}
	h := New(stubConvSvc{}, ms, stubNotifSvc{}, &stubDelivery{})

	r := gin.New()
	r.GET("/conversations/:id/messages", h.ListMessages)

	// A non-member reads plain not-found: no conversation metadata in the
	// response headers.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	req.Header.Set("X-User-ID", "intruder")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("non-member list -> %d, want 404", w.Code)
	}
	if got := w.Header().Get("ETag"); got != "" {
		t.Fatalf("non-member response leaked ETag %q", got)
	}

	// Even with the exact current tag (obtained out of band), a non-member
	// must not be able to confirm it via the conditional path.
	count, maxTS, err := repo.MessagesStats(ctx, db, conv.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.Unix()
	}
	etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, conv.ID, count, ts)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	req.Header.Set("X-User-ID", "intruder")
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("non-member conditional -> %d, want 404", w.Code)
	}
	if got := w.Header().Get("ETag"); got != "" {
		t.Fatalf("non-member conditional leaked ETag %q", got)
	}
}

func TestListMessages_Success_And_Errors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	items := []domain.Message{
		{ID: "m1", ConversationID: "c", SenderID: "u1", Content: "hi"},
		{ID: "m2", ConversationID: "c", SenderID: "u2", Content: "yo"},
	}
	svcOK := stubMsgSvc{
		list: func(ctx context.Context, userID, convID string, page, pageSize int) ([]domain.Message, int64, error) {
			if convID == "" || page < 1 || pageSize < 1 {
				t.Fatalf("bad args to ListPage: conv=%q page=%d size=%d", convID, page, pageSize)
			}
			return items, 5, nil
		},
	}
	hOK := New(stubConvSvc{}, svcOK, stubNotifSvc{}, &stubDelivery{})
	r := gin.New()
	r.GET("/conversations/:id/messages", hOK.ListMessages)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/"+uuid.NewString()+"/messages?page=2&page_size=2", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list ok -> %d", w.Code)
	}
	var out ListMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Messages) != 2 || out.Pagination.Page != 2 || out.Pagination.PageSize != 2 ||
		out.Pagination.Total != 5 || out.Pagination.TotalPages != 3 || out.Pagination.HasNext != true {
		t.Fatalf("pagination wrong: %#v", out.Pagination)
	}

	// membership failure -> 404
	svc404 := stubMsgSvc{
		list: func(ctx context.Context, userID, convID string, page, pageSize int) ([]domain.Message, int64, error) {
			return nil, 0, services.ErrConversationNotFound
		},
	}
	h404 := New(stubConvSvc{}, svc404, stubNotifSvc{}, &stubDelivery{})
	r2 := gin.New()
	r2.GET("/conversations/:id/messages", h404.ListMessages)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/"+uuid.NewString()+"/messages", nil)
	r2.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	// generic error -> 500
	svc500 := stubMsgSvc{
		list: func(ctx context.Context, userID, convID string, page, pageSize int) ([]domain.Message, int64, error) {
			return nil, 0, gorm.ErrInvalidField
		},
	}
	h500 := New(stubConvSvc{}, svc500, stubNotifSvc{}, &stubDelivery{})
	r3 := gin.New()
	r3.GET("/conversations/:id/messages", h500.ListMessages)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/"+uuid.NewString()+"/messages", nil)
	r3.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

// ---------- MarkMessageRead ----------

func TestMarkMessageRead_Mappings(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusNoContent},
		{"not_found", services.ErrMessageNotFound, http.StatusNotFound},
		{"own_message", services.ErrForbiddenRead, http.StatusForbidden},
		{"generic_500", gorm.ErrInvalidField, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := stubMsgSvc{
				markRead: func(ctx context.Context, userID, messageID string) error { return tc.err },
			}
			h := New(stubConvSvc{}, svc, stubNotifSvc{}, &stubDelivery{})
			r := gin.New()
			r.POST("/messages/:id/read", h.MarkMessageRead)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/messages/"+uuid.NewString()+"/read", nil)
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("want %d, got %d", tc.want, w.Code)
			}
		})
	}

	// invalid uuid short-circuits before the service
	h := New(stubConvSvc{}, stubMsgSvc{}, stubNotifSvc{}, &stubDelivery{})
	r := gin.New()
	r.POST("/messages/:id/read", h.MarkMessageRead)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/messages/not-uuid/read", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("uuid 400 -> %d", w.Code)
	}
}
