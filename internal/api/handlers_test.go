package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"helpdeskagent/internal/agent"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/roles"
)

type askCall struct {
	Key      string
	Identity models.Identity
	Text     string
}

// fakeAgent mimics agent.Service: bound emails get replies, a session is
// created on first contact and End reports whether one existed.
type fakeAgent struct {
	mu       sync.Mutex
	bound    map[string]bool
	sessions map[string]bool
	calls    []askCall
	reply    string
	err      error
}

func newFakeAgent(emails ...string) *fakeAgent {
	a := &fakeAgent{bound: map[string]bool{}, sessions: map[string]bool{}, reply: "Here you go."}
	for _, e := range emails {
		a.bound[e] = true
	}
	return a
}

func (a *fakeAgent) Ask(ctx context.Context, key string, identity models.Identity, text string) (*agent.Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, askCall{Key: key, Identity: identity, Text: text})
	if !a.sessions[key] && !a.bound[strings.ToLower(identity.Email)] {
		return nil, fmt.Errorf("resolve: %w", roles.ErrNotAuthorized)
	}
	if a.err != nil {
		return nil, a.err
	}
	created := !a.sessions[key]
	a.sessions[key] = true
	return &agent.Reply{Text: a.reply, Created: created}, nil
}

func (a *fakeAgent) End(ctx context.Context, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ok := a.sessions[key]
	delete(a.sessions, key)
	return ok, nil
}

func newTestServer(t *testing.T, a Agent, bot *Bot) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery())
	NewHandler(a, bot).RegisterRoutes(router)
	return router
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func TestAsk(t *testing.T) {
	a := newFakeAgent("engineer@velixa.com")
	router := newTestServer(t, a, nil)

	resp := doJSONRequest(t, router, http.MethodPost, "/ask", map[string]string{"email": "Engineer@Velixa.com", "query": "show my tickets"})
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Email    string `json:"email"`
		Response string `json:"response"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Email != "Engineer@Velixa.com" || body.Response != "Here you go." {
		t.Fatalf("unexpected body %+v", body)
	}
	if a.calls[0].Key != "engineer@velixa.com" || a.calls[0].Identity.Email != "engineer@velixa.com" {
		t.Fatalf("session key should be the lower-cased email, got %+v", a.calls[0])
	}
}

func TestAskUnauthorized(t *testing.T) {
	router := newTestServer(t, newFakeAgent(), nil)

	resp := doJSONRequest(t, router, http.MethodPost, "/ask", map[string]string{"email": "stranger@x.com", "query": "hi"})
	assertStatus(t, resp, http.StatusForbidden)
	var body struct {
		Detail string `json:"detail"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Detail != "Unauthorized email or no persona assigned." {
		t.Fatalf("unexpected detail %q", body.Detail)
	}
}

func TestAskAgentError(t *testing.T) {
	a := newFakeAgent("user@velixa.com")
	a.err = fmt.Errorf("%w: upstream 502", agent.ErrModel)
	router := newTestServer(t, a, nil)

	resp := doJSONRequest(t, router, http.MethodPost, "/ask", map[string]string{"email": "user@velixa.com", "query": "hi"})
	assertStatus(t, resp, http.StatusInternalServerError)
	if !strings.Contains(resp.Body.String(), "Agent Error: ") {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestAskValidation(t *testing.T) {
	router := newTestServer(t, newFakeAgent(), nil)
	resp := doJSONRequest(t, router, http.MethodPost, "/ask", map[string]string{"email": "user@velixa.com"})
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestSendMessageGreetsOnFirstContact(t *testing.T) {
	router := newTestServer(t, newFakeAgent("user@velixa.com"), nil)

	payload := map[string]string{"name": "Uma", "email": "user@velixa.com", "message": "hello"}
	resp := doJSONRequest(t, router, http.MethodPost, "/send_message/", payload)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Messages []string `json:"messages"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Messages) != 2 || body.Messages[0] != "Hello Uma, how can I assist you with ServiceNow today?" {
		t.Fatalf("unexpected first-contact messages %v", body.Messages)
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/send_message/", payload)
	assertStatus(t, resp, http.StatusOK)
	body.Messages = nil
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Messages) != 1 || body.Messages[0] != "Here you go." {
		t.Fatalf("unexpected follow-up messages %v", body.Messages)
	}
}

func TestSendMessageUnauthorized(t *testing.T) {
	router := newTestServer(t, newFakeAgent(), nil)
	resp := doJSONRequest(t, router, http.MethodPost, "/send_message/", map[string]string{"name": "X", "email": "x@x.com", "message": "hi"})
	assertStatus(t, resp, http.StatusForbidden)
	if !strings.Contains(resp.Body.String(), "No agent assigned for this email.") {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestEndSession(t *testing.T) {
	a := newFakeAgent("user@velixa.com")
	router := newTestServer(t, a, nil)
	doJSONRequest(t, router, http.MethodPost, "/ask", map[string]string{"email": "user@velixa.com", "query": "hi"})

	var body struct {
		Status string `json:"status"`
	}
	resp := doJSONRequest(t, router, http.MethodPost, "/end_session/?email=USER@velixa.com", nil)
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Status != "Session ended." {
		t.Fatalf("unexpected status %q", body.Status)
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/end_session/", map[string]string{"email": "user@velixa.com"})
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Status != "No session found for this email." {
		t.Fatalf("unexpected status %q", body.Status)
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/end_session/", nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestChatPageAndHealth(t *testing.T) {
	router := newTestServer(t, newFakeAgent(), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "/send_message/") {
		t.Fatalf("chat page should post to /send_message/")
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusOK)
}

func TestRecoveryReturns500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery())
	router.GET("/boom", func(c *gin.Context) { panic(errors.New("boom")) })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusInternalServerError)
}
