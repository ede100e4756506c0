package authutil

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndValidateToken(t *testing.T) {
	issuer, err := NewIssuer("kitchen-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	token, err := issuer.Issue("pos-terminal", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	subject, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if subject != "pos-terminal" {
		t.Fatalf("expected subject pos-terminal, got %s", subject)
	}
}

func TestValidateTokenRejectsInvalid(t *testing.T) {
	issuer, _ := NewIssuer("kitchen-secret")
	if _, err := issuer.Validate(""); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
	token, err := issuer.Issue("bob", 0)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if _, err := issuer.Validate(token + "x"); err == nil {
		t.Fatalf("expected error for tampered token")
	}
	other, _ := NewIssuer("another-secret")
	if _, err := other.Validate(token); err == nil {
		t.Fatalf("expected error for token signed with another secret")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	issuer, _ := NewIssuer("kitchen-secret")
	issued := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return issued }
	token, err := issuer.Issue("expo", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	issuer.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := issuer.Validate(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
