package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestTraceHandlerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, false))

	ctx := WithLogFields(context.Background(), LogFields{SessionKey: "conv-1", Role: "engineer"})
	ctx = WithLogFields(ctx, LogFields{Component: "agent.loop"})
	log.InfoContext(ctx, "turn finished")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec["session_key"] != "conv-1" || rec["role"] != "engineer" || rec["component"] != "agent.loop" {
		t.Fatalf("missing context fields: %v", rec)
	}
	if _, ok := rec["email"]; ok {
		t.Fatalf("empty fields must be omitted")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 3); got != "abc..." {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("ab", 3); got != "ab" {
		t.Fatalf("got %q", got)
	}
}
