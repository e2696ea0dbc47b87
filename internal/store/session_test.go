package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisSessionRoundTrip(t *testing.T) {
	redis := miniredis.RunT(t)
	sessions := NewRedisSessionStore(redis.Addr(), "", time.Hour)

	token, err := sessions.New(42)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	id, ok, err := sessions.UserID(token)
	if err != nil || !ok {
		t.Fatalf("resolve session: ok=%v err=%v", ok, err)
	}
	if id != 42 {
		t.Fatalf("expected user 42, got %d", id)
	}

	if err := sessions.Delete(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, _ := sessions.UserID(token); ok {
		t.Fatalf("deleted token must not resolve")
	}
}

func TestRedisSessionExpires(t *testing.T) {
	redis := miniredis.RunT(t)
	sessions := NewRedisSessionStore(redis.Addr(), "", time.Minute)

	token, err := sessions.New(7)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	redis.FastForward(2 * time.Minute)
	if _, ok, _ := sessions.UserID(token); ok {
		t.Fatalf("expired token must not resolve")
	}
}

func TestJWTSessionRoundTrip(t *testing.T) {
	sessions := NewJWTSessionStore("test-secret", time.Hour)

	token, err := sessions.New(42)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	id, ok, err := sessions.UserID(token)
	if err != nil || !ok {
		t.Fatalf("resolve session: ok=%v err=%v", ok, err)
	}
	if id != 42 {
		t.Fatalf("expected user 42, got %d", id)
	}
}

func TestJWTSessionRejectsForeignSignature(t *testing.T) {
	issued := NewJWTSessionStore("secret-a", time.Hour)
	verifier := NewJWTSessionStore("secret-b", time.Hour)

	token, err := issued.New(42)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := verifier.UserID(token); ok {
		t.Fatalf("token signed with another secret must not resolve")
	}
}

func TestJWTSessionRejectsExpired(t *testing.T) {
	sessions := NewJWTSessionStore("test-secret", -time.Minute)
	token, err := sessions.New(42)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := sessions.UserID(token); ok {
		t.Fatalf("expired token must not resolve")
	}
}
