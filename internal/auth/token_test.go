package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret"

func TestVerify_RoundTrip(t *testing.T) {
	v := NewJWTVerifier(testSecret, "culturebook")

	tok, err := GenerateToken(testSecret, "culturebook", "u1", "Ada", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	id, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "u1" || id.Name != "Ada" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerify_EmptyToken(t *testing.T) {
	v := NewJWTVerifier(testSecret, "")
	if _, err := v.Verify(context.Background(), "   "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	v := NewJWTVerifier(testSecret, "")
	tok, err := GenerateToken("other-secret", "", "u1", "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	v := NewJWTVerifier(testSecret, "")
	tok, err := GenerateToken(testSecret, "", "u1", "", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_WrongIssuer(t *testing.T) {
	v := NewJWTVerifier(testSecret, "culturebook")
	tok, err := GenerateToken(testSecret, "someone-else", "u1", "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	// No issuer configured: any issuer is accepted.
	open := NewJWTVerifier(testSecret, "")
	if _, err := open.Verify(context.Background(), tok); err != nil {
		t.Fatalf("issuer-agnostic verify: %v", err)
	}
}

func TestVerify_MissingUserID(t *testing.T) {
	v := NewJWTVerifier(testSecret, "")
	tok, err := GenerateToken(testSecret, "", "", "No Subject", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty user_id, got %v", err)
	}
}
