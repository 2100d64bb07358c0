package middleware

import (
	"testing"
)

func TestVerifyToken_RoundTrip(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token, err := m.GenerateToken("user-1", "user@example.com")
	if err != nil {
		t.Fatalf("generateToken failed: %v", err)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("verifyToken failed: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", claims.UserID)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("unexpected email %s", claims.Email)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	token, err := NewAuthMiddleware("secret-a").GenerateToken("user-1", "user@example.com")
	if err != nil {
		t.Fatalf("generateToken failed: %v", err)
	}

	if _, err := NewAuthMiddleware("secret-b").VerifyToken(token); err == nil {
		t.Error("expected verification to fail with wrong secret")
	}
}

func TestVerifyToken_Garbage(t *testing.T) {
	if _, err := NewAuthMiddleware("secret").VerifyToken("not-a-jwt"); err == nil {
		t.Error("expected verification to fail for garbage input")
	}
}
