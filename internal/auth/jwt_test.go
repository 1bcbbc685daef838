package auth

import (
	"testing"
	"time"

	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/model"
)

var testUser = &model.User{ID: 1, Username: "admin", Role: model.RoleAdmin}

func TestIssueAndValidate(t *testing.T) {
	iss := NewIssuer("test-secret-key", time.Hour, nil)

	token, _, err := iss.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := iss.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != 1 {
		t.Errorf("expected user id 1, got %d", claims.UserID)
	}
	if claims.Actor() != "admin" {
		t.Errorf("expected actor 'admin', got %q", claims.Actor())
	}
	if claims.Role != model.RoleAdmin {
		t.Errorf("expected role 'admin', got %q", claims.Role)
	}
	if claims.ID == "" {
		t.Error("expected a token id")
	}
}

func TestValidateWrongSecret(t *testing.T) {
	token, _, _ := NewIssuer("secret1", 0, nil).Issue(testUser)

	if _, err := NewIssuer("secret2", 0, nil).Validate(token); err == nil {
		t.Error("expected error for wrong secret")
	}
}

func TestValidateGarbage(t *testing.T) {
	if _, err := NewIssuer("secret", 0, nil).Validate("not-a-token"); err == nil {
		t.Error("expected error for invalid token")
	}
}

func TestTokenExpires(t *testing.T) {
	clk := clock.NewManual(time.Now().UTC())
	iss := NewIssuer("secret", time.Hour, clk)

	token, expires, err := iss.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := clk.Now().Add(time.Hour); !expires.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, expires)
	}

	clk.Advance(59 * time.Minute)
	if _, err := iss.Validate(token); err != nil {
		t.Fatalf("token rejected before expiry: %v", err)
	}

	clk.Advance(2 * time.Minute)
	if _, err := iss.Validate(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Error("expected short password to be rejected")
	}

	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Error("expected password to match")
	}
	if CheckPassword(hash, "wrong horse") {
		t.Error("expected wrong password to be rejected")
	}
}
