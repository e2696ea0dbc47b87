package app

import (
	"path/filepath"
	"testing"
	"time"

	"elibrary/internal/auth"
	"elibrary/internal/storage"
	"elibrary/internal/store"
)

func newTestApp(t *testing.T) (*App, *store.GormStore) {
	t.Helper()
	hash, err := auth.HashPassword("admin-pass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	s, err := store.NewGormStore("", filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := s.Seed(store.SeedConfig{
		AdminLogin:        "admin",
		AdminPasswordHash: hash,
		AdminFirstName:    "Ada",
		AdminLastName:     "Admin",
		Genres:            []string{"Fantasy", "Classic"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	covers, err := storage.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("open cover store: %v", err)
	}
	a, err := New(Config{
		Store:    s,
		Sessions: store.NewJWTSessionStore("test-secret", time.Hour),
		Covers:   covers,
	})
	if err != nil {
		t.Fatalf("construct app: %v", err)
	}
	return a, s
}

func testUser(t *testing.T, s *store.GormStore, login, roleName string) store.User {
	t.Helper()
	role, ok, err := s.GetRoleByName(roleName)
	if err != nil || !ok {
		t.Fatalf("role %s: ok=%v err=%v", roleName, ok, err)
	}
	u := store.User{Login: login, PasswordHash: "x", FirstName: "Test", LastName: login, RoleID: role.ID}
	if err := s.CreateUser(&u); err != nil {
		t.Fatalf("create user %s: %v", login, err)
	}
	u.Role = role
	return u
}

func TestLoginIssuesResolvableToken(t *testing.T) {
	a, _ := newTestApp(t)

	user, token, err := a.Login("admin", "admin-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Login != "admin" || token == "" {
		t.Fatalf("unexpected login result: %q %q", user.Login, token)
	}
	got, ok := a.UserFromToken(token)
	if !ok || got.ID != user.ID {
		t.Fatalf("token did not resolve back to the user: ok=%v id=%d", ok, got.ID)
	}
	if got.Role.Name != store.RoleAdmin {
		t.Fatalf("resolved user must carry its role, got %q", got.Role.Name)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	a, _ := newTestApp(t)

	if _, _, err := a.Login("admin", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := a.Login("nobody", "admin-pass"); err != ErrInvalidCredentials {
		t.Fatalf("unknown login must look identical to a bad password, got %v", err)
	}
}
