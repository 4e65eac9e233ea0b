package app

import (
	"context"
	"testing"

	"helpdeskagent/internal/config"
	"helpdeskagent/internal/helpdesk"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/session"
)

func testConfig() *config.Config {
	return &config.Config{
		BasicConfig: config.BasicConfig{MaxIterations: 4, QueueSize: 4, WorkerIdleTimeout: 1},
		Providers:   map[string]config.ProviderConfig{"openai": {Model: "gpt-4o-mini", APIKey: "test-key"}},
		Agent:       config.AgentConfig{Provider: "openai"},
		Roles:       map[string]string{"eng@velixa.com": "engineer", "mgr@velixa.com": "manager", "user@velixa.com": "user"},
		Session:     config.SessionConfig{Backend: "memory", TTL: 5, SweepInterval: 1, Database: "sqlite3"},
		Search:      config.SearchConfig{Disabled: true},
		Reports:     config.ReportsConfig{OutputDir: "reports"},
	}
}

func TestNewWiresMemoryBackend(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if a.Service == nil || a.Handler == nil || a.Workers == nil {
		t.Fatalf("app not fully wired: %+v", a)
	}
	if _, ok := a.Store.(*session.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", a.Store)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestNewWiresSQLBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Backend = "sql"
	cfg.Databases = map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	sess, created, err := a.Store.GetOrCreate(context.Background(), "eng@velixa.com",
		models.Identity{Name: "Eve", Email: "eng@velixa.com"}, models.RoleEngineer)
	if err != nil || !created || sess.Role != models.RoleEngineer {
		t.Fatalf("unexpected session %+v created=%v err=%v", sess, created, err)
	}
}

func TestNewRejectsBadRoles(t *testing.T) {
	cfg := testConfig()
	cfg.Roles = map[string]string{"x@velixa.com": "admin"}
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected role binding error")
	}
}

func TestBuildLoopsCoversEveryRole(t *testing.T) {
	loops, err := buildLoops(nil, &helpdesk.Deps{}, 3)
	if err != nil {
		t.Fatalf("build loops: %v", err)
	}
	for _, role := range models.AllRoles {
		l := loops[role]
		if l == nil || l.Registry.Len() == 0 || l.MaxIterations != 3 {
			t.Fatalf("bad loop for %s: %+v", role, l)
		}
	}
}
