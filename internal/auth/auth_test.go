package auth

import (
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T, username, password string) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(Credentials{Username: username, PasswordHash: string(hash)}, filepath.Join(t.TempDir(), "auth-sessions.json"), nil)
}

func TestLoginAndValidate(t *testing.T) {
	s := newTestService(t, "admin", "hunter2")

	cookie, err := s.Login("admin", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if cookie == "" {
		t.Fatal("expected non-empty cookie")
	}

	if _, ok := s.Validate(cookie); !ok {
		t.Fatal("expected cookie to validate")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestService(t, "admin", "hunter2")
	if _, err := s.Login("admin", "wrong"); err == nil {
		t.Fatal("expected error for bad password")
	}
}

func TestValidateRejectsUnknownCookie(t *testing.T) {
	s := newTestService(t, "admin", "hunter2")
	if _, ok := s.Validate("deadbeef"); ok {
		t.Fatal("expected unknown cookie to be rejected")
	}
}

func TestLogoutInvalidatesCookie(t *testing.T) {
	s := newTestService(t, "admin", "hunter2")
	cookie, _ := s.Login("admin", "hunter2")
	s.Logout(cookie)
	if _, ok := s.Validate(cookie); ok {
		t.Fatal("expected logged-out cookie to be rejected")
	}
}
