package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"helpdeskagent/internal/agent"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/roles"
)

type scriptedConversation struct {
	replies []string
	err     error
	asked   []string
	ended   []string
	turns   int
}

func (c *scriptedConversation) Ask(ctx context.Context, key string, identity models.Identity, text string) (*agent.Reply, error) {
	c.asked = append(c.asked, key+"|"+identity.Name+"|"+text)
	if c.err != nil {
		return nil, c.err
	}
	reply := &agent.Reply{Text: c.replies[c.turns], Created: c.turns == 0}
	c.turns++
	return reply, nil
}

func (c *scriptedConversation) End(ctx context.Context, key string) (bool, error) {
	c.ended = append(c.ended, key)
	return true, nil
}

func TestRunChatGreetsAndQuits(t *testing.T) {
	conv := &scriptedConversation{replies: []string{"You have 2 open tickets.", "Done."}}
	in := strings.NewReader("show my tickets\n\nclose INC0010001\nquit\nignored\n")
	var out bytes.Buffer

	err := runChat(context.Background(), in, &out, conv, models.Identity{Name: "Uma", Email: " User@Velixa.com "})
	if err != nil {
		t.Fatalf("run chat: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"Agent: Hello Uma, how can I assist you with ServiceNow today?",
		"Agent: You have 2 open tickets.",
		"Agent: Done.",
		"Goodbye!",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "Hello Uma") != 1 {
		t.Fatalf("greeting should appear once:\n%s", got)
	}
	if len(conv.asked) != 2 || conv.asked[0] != "user@velixa.com|Uma|show my tickets" {
		t.Fatalf("unexpected asks %v", conv.asked)
	}
	if len(conv.ended) != 1 || conv.ended[0] != "user@velixa.com" {
		t.Fatalf("session should be ended on exit, got %v", conv.ended)
	}
}

func TestRunChatDenied(t *testing.T) {
	conv := &scriptedConversation{err: roles.ErrNotAuthorized}
	var out bytes.Buffer

	if err := runChat(context.Background(), strings.NewReader("hi\nhello again\n"), &out, conv, models.Identity{Email: "x@x.com"}); err != nil {
		t.Fatalf("run chat: %v", err)
	}
	if !strings.Contains(out.String(), "Access denied: No agent assigned to your email.") || len(conv.asked) != 1 {
		t.Fatalf("unexpected output %q asks %v", out.String(), conv.asked)
	}
}

func TestRunChatKeepsGoingAfterAgentError(t *testing.T) {
	conv := &scriptedConversation{err: errors.New("model down")}
	var out bytes.Buffer

	if err := runChat(context.Background(), strings.NewReader("one\ntwo\n"), &out, conv, models.Identity{Email: "u@x.com"}); err != nil {
		t.Fatalf("run chat: %v", err)
	}
	if strings.Count(out.String(), "Agent Error: model down") != 2 {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRootCommandsRegistered(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"chat", "ingest"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("missing %s command: %v", name, err)
		}
	}
}
