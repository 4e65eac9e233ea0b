package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"helpdeskagent/internal/models"
)

var alice = models.Identity{Name: "Alice", Email: "a@x.com"}

func TestMemoryStoreSeedsIdentityMessage(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	se, created, err := store.GetOrCreate(ctx, "conv-1", alice, models.RoleEngineer)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if !created {
		t.Fatalf("expected new session")
	}
	if len(se.History) != 1 {
		t.Fatalf("expected seeded history, got %d messages", len(se.History))
	}
	seed := se.History[0]
	if seed.Author != models.AuthorHuman || seed.Content != "User name: Alice, User email: a@x.com" {
		t.Fatalf("unexpected seed %+v", seed)
	}
	if se.ID == "" || se.Role != models.RoleEngineer {
		t.Fatalf("unexpected session %+v", se)
	}

	again, created, err := store.GetOrCreate(ctx, "conv-1", models.Identity{Name: "Other"}, models.RoleUser)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if created || again.ID != se.ID || again.Role != models.RoleEngineer {
		t.Fatalf("expected existing session to be reused")
	}
}

func TestMemoryStoreReturnsSnapshots(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()
	se, _, _ := store.GetOrCreate(ctx, "k", alice, models.RoleUser)
	se.History = append(se.History, models.HumanMessage("k", "not stored"))

	if err := store.Append(ctx, "k", se.ID, models.HumanMessage("k", "hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != 2 || got.History[1].Content != "hello" {
		t.Fatalf("unexpected history %+v", got.History)
	}
}

func TestMemoryStoreExpiresAndSweeps(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	old, _, err := store.GetOrCreate(ctx, "old", alice, models.RoleUser)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now = now.Add(30 * time.Second)
	if err := store.Append(ctx, "old", old.ID, models.HumanMessage("old", "still here")); err != nil {
		t.Fatalf("append within ttl: %v", err)
	}
	// append slid the expiry forward
	now = now.Add(45 * time.Second)
	if _, err := store.Get(ctx, "old"); err != nil {
		t.Fatalf("expected session alive after sliding ttl: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
	if err := store.Append(ctx, "old", old.ID, models.HumanMessage("old", "late")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected append on expired session to fail, got %v", err)
	}
	n, err := store.Sweep(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("expected one swept session, got %d %v", n, err)
	}
	if store.Len() != 0 {
		t.Fatalf("store not empty after sweep")
	}

	se, created, err := store.GetOrCreate(ctx, "old", alice, models.RoleUser)
	if err != nil || !created || len(se.History) != 1 {
		t.Fatalf("expected a fresh session after eviction")
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	if ok, _ := store.Delete(ctx, "missing"); ok {
		t.Fatalf("delete of missing session reported true")
	}
	store.GetOrCreate(ctx, "k", alice, models.RoleUser)
	if ok, _ := store.Delete(ctx, "k"); !ok {
		t.Fatalf("delete of existing session reported false")
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted session to be gone")
	}
}

func TestGetOrCreateRequiresKey(t *testing.T) {
	if _, _, err := NewMemoryStore(0).GetOrCreate(context.Background(), "", alice, models.RoleUser); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestMemoryStoreAppendRejectsReplacedSession(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()
	first, _, _ := store.GetOrCreate(ctx, "k", alice, models.RoleUser)
	store.Delete(ctx, "k")
	second, _, _ := store.GetOrCreate(ctx, "k", alice, models.RoleUser)

	if err := store.Append(ctx, "k", first.ID, models.HumanMessage("k", "stale")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for replaced session, got %v", err)
	}
	got, _ := store.Get(ctx, "k")
	if got.ID != second.ID || len(got.History) != 1 {
		t.Fatalf("stale append leaked into new session: %+v", got.History)
	}
}
