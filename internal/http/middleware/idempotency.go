// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key validation and replay detection for
// unsafe endpoints (message sends). The middleware only validates the key and
// consults a lookup to decide whether the request is a replay; the handler
// remains responsible for persisting the idempotency record alongside the
// created resource.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys populated by IdempotencyValidator.
const (
	// ctxKeyIdemKey holds the validated idempotency key (string).
	ctxKeyIdemKey = "idem.key"
	// ctxKeyIdemReplay marks the request as a replay of a completed one (bool).
	ctxKeyIdemReplay = "idem.replay"
	// ctxKeyRateBypass marks the request as exempt from rate limiting (bool).
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated Idempotency-Key for this request,
// or "" when the client did not send one.
func GetIdempotencyKey(c *gin.Context) string {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// IsReplay reports whether IdempotencyValidator identified this request as a
// replay of a previously completed request. Handlers should return the stored
// result instead of performing the side effect again.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions tunes key validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length; keys longer than this are rejected.
	MaxLen int
	// Pattern restricts the accepted key alphabet. Nil applies the default
	// (URL-safe: letters, digits, '-', '_', '.').
	Pattern *regexp.Regexp
}

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// IdempotencyLookup answers whether a completed record exists for the
// (user, conversation, key) triple at time now. It is typically backed by the
// idempotency table; the conversation ID comes from the route parameter.
type IdempotencyLookup func(ctx context.Context, userID, conversationID, key string, now time.Time) (bool, error)

// IdempotencyValidator returns a middleware that validates the
// Idempotency-Key header and, when a lookup is provided, flags replays.
//
// Behavior:
//   - No header: pass through untouched (idempotency is opt-in).
//   - Malformed key (too long or bad alphabet): 422 with a stable error code.
//   - Known completed key: the request is marked as a replay and exempted
//     from rate limiting, so retries of an already-applied send are cheap.
//   - Lookup failure: logged upstream by the access log; the request proceeds
//     as a first attempt (the unique index on the record is the backstop).
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 128
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "invalid_idempotency_key",
				"message":    "Idempotency-Key is malformed",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			uid := userIDFromCtx(c)
			convID := c.Param("id")
			replay, err := lookup(c.Request.Context(), uid, convID, key, time.Now().UTC())
			if err == nil && replay {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// userIDFromCtx resolves the caller identity for idempotency scoping. Falls
// back to a fixed identity when authentication is disabled (local demos).
func userIDFromCtx(c *gin.Context) string {
	if uid := UserIDFrom(c); uid != "" {
		return uid
	}
	return "demo-user"
}
