// Package auth implements credential verification for the messaging backend.
//
// Both the REST surface and the real-time channel authenticate with the same
// signed JWT, issued by the account service. This package owns parsing and
// validation only; it never creates sessions or touches connection state.
// Verification fails closed: any parse, signature, or expiry problem yields
// ErrInvalidToken and the caller must reject the request or connection.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any credential that cannot be positively
// verified: malformed, badly signed, expired, or missing a subject.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the resolved principal attached to an authenticated request or
// real-time connection.
type Identity struct {
	UserID string
	Name   string
}

// Verifier resolves an opaque credential token into an Identity.
//
// Implementations may block (e.g., remote verification) and must honor ctx.
// A nil error guarantees a non-empty UserID.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Claims defines the data stored inside the JWT.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256-signed tokens against a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier constructs a JWTVerifier. issuer is optional; when set,
// tokens from other issuers are rejected.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates the signature and expiration of a JWT string
// and returns the identity it carries.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (*Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: claims.UserID, Name: claims.Name}, nil
}

// GenerateToken creates a signed JWT for a specific user. It is used by the
// account service's login path and by tests; this core only verifies.
func GenerateToken(secret, issuer, userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
