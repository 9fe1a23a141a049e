package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/culturebook/backend/internal/auth"
)

const authTestSecret = "auth-mw-secret"

func authRouter(t *testing.T, allowHeaderFallback bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(auth.NewJWTVerifier(authTestSecret, "culturebook"), allowHeaderFallback))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": UserIDFrom(c),
			"name":    UserNameFrom(c),
		})
	})
	return r
}

func TestAuth_ValidBearerToken(t *testing.T) {
	r := authRouter(t, false)

	tok, err := auth.GenerateToken(authTestSecret, "culturebook", "u1", "Ada", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if body != `{"name":"Ada","user_id":"u1"}` {
		t.Fatalf("identity not stored: %s", body)
	}
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	r := authRouter(t, false)

	for _, header := range []string{"", "Bearer ", "Bearer not-a-jwt", "not-a-jwt"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q -> %d, want 401", header, w.Code)
		}
	}
}

func TestAuth_RejectsExpiredToken(t *testing.T) {
	r := authRouter(t, false)

	tok, err := auth.GenerateToken(authTestSecret, "culturebook", "u1", "", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expired token -> %d, want 401", w.Code)
	}
}

func TestAuth_HeaderFallback(t *testing.T) {
	// Disabled (default): X-User-ID alone is not an identity
	r := authRouter(t, false)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-ID", "u7")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("fallback disabled: expected 401, got %d", w.Code)
	}

	// Enabled: X-User-ID accepted when Authorization is absent
	r2 := authRouter(t, true)
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/me", nil)
	req2.Header.Set("X-User-ID", "u7")
	r2.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("fallback enabled: expected 200, got %d", w2.Code)
	}

	// A present Authorization header always wins over the fallback
	w3 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodGet, "/me", nil)
	req3.Header.Set("X-User-ID", "u7")
	req3.Header.Set("Authorization", "Bearer garbage")
	r2.ServeHTTP(w3, req3)
	if w3.Code != http.StatusUnauthorized {
		t.Fatalf("bad bearer with fallback enabled: expected 401, got %d", w3.Code)
	}
}

func TestUserIDFrom_And_UserNameFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if UserIDFrom(c) != "" || UserNameFrom(c) != "" {
		t.Fatalf("expected empty identity on bare context")
	}

	c.Set(ctxKeyUserID, "u1")
	c.Set(ctxKeyUserName, "Ada")
	if UserIDFrom(c) != "u1" || UserNameFrom(c) != "Ada" {
		t.Fatalf("identity accessors wrong: %q %q", UserIDFrom(c), UserNameFrom(c))
	}

	// Wrong types read as absent
	c.Set(ctxKeyUserID, 42)
	if UserIDFrom(c) != "" {
		t.Fatalf("expected empty for non-string user id")
	}
}
