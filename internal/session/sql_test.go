package session

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"helpdeskagent/internal/config"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func TestSQLStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	store := NewSQLStore(db, time.Hour)
	ctx := context.Background()

	se, created, err := store.GetOrCreate(ctx, "a@x.com", alice, models.RoleManager)
	if err != nil || !created {
		t.Fatalf("create: %v %v", created, err)
	}
	call := models.ToolCall{ID: "call_1", Name: "show_tickets", Arguments: `{"filter":""}`}
	err = store.Append(ctx, se.Key, se.ID,
		models.HumanMessage(se.Key, "show tickets"),
		models.AgentMessage(se.Key, "", []models.ToolCall{call}),
		models.ToolMessage(se.Key, models.ToolResult{CallID: "call_1", Name: "show_tickets", Output: "INC001"}),
		models.AgentMessage(se.Key, "You have INC001.", nil),
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.Get(ctx, se.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != se.ID || got.Role != models.RoleManager || got.Identity != alice {
		t.Fatalf("session fields mismatch: %+v", got)
	}
	if len(got.History) != 5 {
		t.Fatalf("want 5 messages, got %d", len(got.History))
	}
	if got.History[0].Content != alice.SeedText() {
		t.Fatalf("seed not persisted: %q", got.History[0].Content)
	}
	pending := got.History[2]
	if !pending.Pending() || len(pending.ToolCalls) != 1 || pending.ToolCalls[0] != call {
		t.Fatalf("tool calls not round-tripped: %+v", pending)
	}
	if tm := got.History[3]; tm.Author != models.AuthorTool || tm.ToolCallID != "call_1" || tm.ToolName != "show_tickets" {
		t.Fatalf("tool message mismatch: %+v", tm)
	}
	if got.Last().Content != "You have INC001." {
		t.Fatalf("unexpected last message %q", got.Last().Content)
	}
}

func TestSQLStoreSweepAndDelete(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	store := NewSQLStore(db, time.Minute)
	ctx := context.Background()

	k1, _, err := store.GetOrCreate(ctx, "k1", alice, models.RoleUser)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := store.GetOrCreate(ctx, "k2", alice, models.RoleUser); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := store.Delete(ctx, "k2"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}

	n, err := store.Sweep(ctx, time.Now().UTC().Add(2*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("want 1 swept, got %d %v", n, err)
	}
	if _, err := store.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected swept session gone, got %v", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count); err != nil || count != 0 {
		t.Fatalf("expected messages removed, got %d %v", count, err)
	}
	if err := store.Append(ctx, "k1", k1.ID, models.HumanMessage("k1", "x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append to swept session: %v", err)
	}
}
