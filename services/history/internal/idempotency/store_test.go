package idempotency

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStore_MarksOnFirstCheck(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()
	id := uuid.NewString()

	dup, err := s.Check(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatal("first check should not be duplicate")
	}

	dup, err = s.Check(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Fatal("replay of the same event id should be duplicate")
	}
}

func TestMemoryStore_SeenDoesNotMark(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()
	id := uuid.NewString()

	for i := 0; i < 2; i++ {
		seen, err := s.Seen(ctx, id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen {
			t.Fatalf("Seen call %d reported processed before any Check", i+1)
		}
	}

	if _, err := s.Check(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen, err := s.Seen(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen {
		t.Fatal("Seen should report processed after Check")
	}
}

func TestMemoryStore_EventIDsAreIndependent(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()

	_, _ = s.Check(ctx, "progress-evt-a")

	dup, err := s.Check(ctx, "progress-evt-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatal("distinct event IDs should not collide")
	}
}

func TestNewStore_FallsBackToMemoryInDev(t *testing.T) {
	s, err := NewStore("", "", 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*memoryStore); !ok {
		t.Fatalf("expected memoryStore when no DSN provided, got %T", s)
	}
}

func TestNewStore_RejectsMemoryInProd(t *testing.T) {
	s, err := NewStore("", "", 0, true)
	if err == nil {
		t.Fatalf("expected error in production with no DSN, got store %T", s)
	}
	if s != nil {
		t.Fatalf("expected nil store, got %T", s)
	}
}

func TestNewStore_PrefersRedis(t *testing.T) {
	s, err := NewStore("redis://127.0.0.1:6379/0", "postgres://x", 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*redisStore); !ok {
		t.Fatalf("expected redisStore when both DSNs provided, got %T", s)
	}
}
