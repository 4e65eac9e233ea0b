package helpdesk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"helpdeskagent/internal/mail"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/servicenow"
	"helpdeskagent/internal/tools"
)

type snowRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// fakeSnow is a minimal Table API keyed by "METHOD path".
type fakeSnow struct {
	mu       sync.Mutex
	routes   map[string]func(r *http.Request) (int, string)
	requests []snowRequest
}

func newFakeSnow(t *testing.T) (*fakeSnow, *servicenow.Client) {
	t.Helper()
	f := &fakeSnow{routes: make(map[string]func(r *http.Request) (int, string))}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := snowRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query().Get("sysparm_query")}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		f.mu.Lock()
		f.requests = append(f.requests, rec)
		handler := f.routes[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		if handler == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"No Record found"}}`))
			return
		}
		status, body := handler(r)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	client, err := servicenow.NewClient(servicenow.Config{Instance: srv.URL, Username: "admin", Password: "secret", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return f, client
}

func (f *fakeSnow) handle(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = func(*http.Request) (int, string) { return status, body }
}

func (f *fakeSnow) find(method string) []snowRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []snowRequest
	for _, r := range f.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

type fakeCompleter struct {
	out     string
	err     error
	prompts []string
}

func (c *fakeCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.out, c.err
}

type fakeSender struct {
	sent []mail.Message
	err  error
}

func (s *fakeSender) Send(ctx context.Context, msg mail.Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

var fixedNow = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

func invoke(t *testing.T, ctx context.Context, reg *tools.Registry, name string, args any) models.ToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return reg.Invoke(ctx, models.ToolCall{ID: "call_1", Name: name, Arguments: string(raw)})
}

func registries(t *testing.T, d *Deps) map[models.Role]*tools.Registry {
	t.Helper()
	regs, err := Registries(d)
	if err != nil {
		t.Fatalf("registries: %v", err)
	}
	return regs
}

func TestRegistriesPerRole(t *testing.T) {
	regs := registries(t, &Deps{})
	want := map[models.Role]string{
		models.RoleEngineer: "update_ticket_state",
		models.RoleManager:  "email_incident_report",
		models.RoleUser:     "submit_ticket",
	}
	for role, name := range want {
		reg, ok := regs[role]
		if !ok {
			t.Fatalf("missing registry for %s", role)
		}
		found := false
		for _, n := range reg.Names() {
			if n == name {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s registry lacks %s: %v", role, name, reg.Names())
		}
	}
	if regs[models.RoleUser].Len() != 10 || regs[models.RoleEngineer].Len() != 10 || regs[models.RoleManager].Len() != 5 {
		t.Fatalf("unexpected tool counts")
	}
}

func TestToolsWithoutServiceNowReportError(t *testing.T) {
	regs := registries(t, &Deps{})
	res := invoke(t, context.Background(), regs[models.RoleEngineer], "show_assigned_tickets", map[string]string{"engineer_email": "eng@velixa.com"})
	if !res.IsError || !strings.Contains(res.Output, "not configured") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestUpdateTicketStateRequiresCloseInfo(t *testing.T) {
	f, snow := newFakeSnow(t)
	regs := registries(t, &Deps{ServiceNow: snow})

	res := invoke(t, context.Background(), regs[models.RoleEngineer], "update_ticket_state", map[string]any{"ticket_number": "inc0010001", "state": 6})
	if res.IsError || !strings.Contains(res.Output, "close code and close notes") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.find(http.MethodPatch)) != 0 {
		t.Fatalf("no update expected without close info")
	}

	res = invoke(t, context.Background(), regs[models.RoleEngineer], "update_ticket_state", map[string]any{"ticket_number": "INC0010001", "state": 5})
	if !res.IsError || !strings.Contains(res.Output, "invalid arguments") {
		t.Fatalf("expected validation failure, got %+v", res)
	}
}

func TestUpdateTicketStatePatches(t *testing.T) {
	f, snow := newFakeSnow(t)
	f.handle(http.MethodGet, "/api/now/table/incident", 200, `{"result":[{"sys_id":"abc","number":"INC0010001","state":"New"}]}`)
	f.handle(http.MethodPatch, "/api/now/table/incident/abc", 200, `{"result":{"number":"INC0010001","state":"In Progress"}}`)
	regs := registries(t, &Deps{ServiceNow: snow})

	res := invoke(t, context.Background(), regs[models.RoleEngineer], "update_ticket_state", map[string]any{"ticket_number": "INC0010001", "state": 2})
	if res.IsError || res.Output != "INC0010001 is now In Progress." {
		t.Fatalf("unexpected result %+v", res)
	}
	patches := f.find(http.MethodPatch)
	if len(patches) != 1 || patches[0].Body["state"] != float64(2) {
		t.Fatalf("unexpected patches %+v", patches)
	}
}

func TestSubmitTicketClassifiesAndRegistersCaller(t *testing.T) {
	f, snow := newFakeSnow(t)
	f.handle(http.MethodGet, "/api/now/table/sys_user", 200, `{"result":[]}`)
	f.handle(http.MethodPost, "/api/now/table/sys_user", 201, `{"result":{"sys_id":"u1","email":"user@velixa.com"}}`)
	f.handle(http.MethodPost, "/api/now/table/incident", 201, `{"result":{"sys_id":"i1","number":"INC0010042"}}`)
	completer := &fakeCompleter{out: "```json\n{\"priority\": \"high\", \"group\": \"Networking\"}\n```"}
	regs := registries(t, &Deps{ServiceNow: snow, Completer: completer})

	ctx := tools.WithCaller(context.Background(), tools.Caller{SessionKey: "user@velixa.com", Role: models.RoleUser,
		Identity: models.Identity{Name: "Uma", Email: "user@velixa.com"}})
	res := invoke(t, ctx, regs[models.RoleUser], "submit_ticket", map[string]string{
		"issue":     "The VPN disconnects every five minutes. It started yesterday.",
		"email":     "someone-else@velixa.com",
		"full_name": "Uma",
	})
	if res.IsError || !strings.Contains(res.Output, "INC0010042") || !strings.Contains(res.Output, "High") {
		t.Fatalf("unexpected result %+v", res)
	}

	posts := f.find(http.MethodPost)
	if len(posts) != 2 {
		t.Fatalf("expected user and incident posts, got %+v", posts)
	}
	if posts[0].Body["email"] != "user@velixa.com" {
		t.Fatalf("caller email should come from the session, got %+v", posts[0].Body)
	}
	body := posts[1].Body
	if body["short_description"] != "The VPN disconnects every five minutes." ||
		body["caller_id"] != "u1" || body["impact"] != float64(1) || body["urgency"] != float64(2) ||
		body["assignment_group"] != "Networking" || body["category"] != "inquiry" {
		t.Fatalf("unexpected incident body %+v", body)
	}
}

func TestClassifyDefaults(t *testing.T) {
	d := &Deps{Completer: &fakeCompleter{out: "not json"}}
	if c := d.classify(context.Background(), "x"); c.Priority != "Medium" || c.Group != "Others" {
		t.Fatalf("unexpected classification %+v", c)
	}
	d = &Deps{Completer: &fakeCompleter{err: errors.New("down")}}
	if c := d.classify(context.Background(), "x"); c.Priority != "Medium" || c.Group != "Others" {
		t.Fatalf("unexpected classification %+v", c)
	}
}

func TestCheckStatus(t *testing.T) {
	f, snow := newFakeSnow(t)
	f.handle(http.MethodGet, "/api/now/table/incident", 200, `{"result":[{"sys_id":"abc","number":"INC0010004","state":"On Hold","priority":"3 - Moderate","short_description":"Laptop fan"}]}`)
	regs := registries(t, &Deps{ServiceNow: snow})

	res := invoke(t, context.Background(), regs[models.RoleUser], "check_status", map[string]string{"text": "what's up with my ticket?"})
	if res.Output != invalidNumberReply {
		t.Fatalf("unexpected result %+v", res)
	}
	res = invoke(t, context.Background(), regs[models.RoleUser], "check_status", map[string]string{"text": "status of inc0010004 please"})
	if res.IsError || !strings.Contains(res.Output, "INC0010004 is On Hold") {
		t.Fatalf("unexpected result %+v", res)
	}
	if q := f.find(http.MethodGet)[0].Query; q != "number=INC0010004" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestCloseTicketMapsPermissionAndMissing(t *testing.T) {
	f, snow := newFakeSnow(t)
	f.handle(http.MethodGet, "/api/now/table/incident", 200, `{"result":[{"sys_id":"abc","number":"INC0010001"}]}`)
	f.handle(http.MethodPatch, "/api/now/table/incident/abc", 403, `{"error":{"message":"Operation Failed","detail":"ACL"}}`)
	regs := registries(t, &Deps{ServiceNow: snow})

	res := invoke(t, context.Background(), regs[models.RoleUser], "close_ticket", map[string]string{"ticket_number": "INC0010001"})
	if res.IsError || res.Output != "You don't have permission to modify INC0010001." {
		t.Fatalf("unexpected result %+v", res)
	}
	patch := f.find(http.MethodPatch)[0]
	if patch.Body["state"] != float64(7) || patch.Body["close_code"] != servicenow.ResolvedCloseCode {
		t.Fatalf("unexpected close body %+v", patch.Body)
	}

	f.handle(http.MethodGet, "/api/now/table/incident", 200, `{"result":[]}`)
	res = invoke(t, context.Background(), regs[models.RoleUser], "close_ticket", map[string]string{"ticket_number": "INC0099999"})
	if res.IsError || res.Output != "Incident INC0099999 was not found." {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestReopenOnlyResolved(t *testing.T) {
	f, snow := newFakeSnow(t)
	f.handle(http.MethodGet, "/api/now/table/incident", 200, `{"result":[{"sys_id":"abc","number":"INC0010001","state":"In Progress"}]}`)
	regs := registries(t, &Deps{ServiceNow: snow})

	res := invoke(t, context.Background(), regs[models.RoleUser], "reopen_ticket", map[string]string{"ticket_number": "INC0010001", "reason": "still broken"})
	if res.IsError || !strings.Contains(res.Output, "only resolved or closed") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.find(http.MethodPatch)) != 0 {
		t.Fatalf("no update expected")
	}
}

func TestShowMyTicketsUsesCallerEmail(t *testing.T) {
	f, snow := newFakeSnow(t)
	f.handle(http.MethodGet, "/api/now/table/sys_user", 200, `{"result":[{"sys_id":"u1","email":"user@velixa.com"}]}`)
	f.handle(http.MethodGet, "/api/now/table/incident", 200, `{"result":[{"number":"INC0010001","state":"New","priority":"4 - Low","short_description":"Mouse"}]}`)
	regs := registries(t, &Deps{ServiceNow: snow})

	ctx := tools.WithCaller(context.Background(), tools.Caller{Identity: models.Identity{Email: "user@velixa.com"}})
	res := invoke(t, ctx, regs[models.RoleUser], "show_my_tickets", map[string]string{"email": "boss@velixa.com"})
	if res.IsError || !strings.Contains(res.Output, "INC0010001") {
		t.Fatalf("unexpected result %+v", res)
	}
	gets := f.find(http.MethodGet)
	if gets[0].Query != "email=user@velixa.com" || !strings.HasPrefix(gets[1].Query, "caller_id=u1") {
		t.Fatalf("unexpected queries %+v", gets)
	}
}

func TestShowTicketsTableAndFilter(t *testing.T) {
	f, snow := newFakeSnow(t)
	f.handle(http.MethodGet, "/api/now/table/incident", 200, `{"result":[
		{"number":"INC1","priority":"1 - Critical","state":"New","short_description":"Email down","assignment_group.name":"Software"},
		{"number":"INC2","priority":"3 - Moderate","state":"New","short_description":"Printer | jam"},
		{"number":"INC3","priority":"1 - Critical","state":"In Progress","short_description":"Core switch"}
	]}`)
	regs := registries(t, &Deps{ServiceNow: snow})

	res := invoke(t, context.Background(), regs[models.RoleManager], "show_tickets", map[string]any{"filter": "critical", "top": 1})
	if res.IsError {
		t.Fatalf("unexpected error %+v", res)
	}
	if !strings.Contains(res.Output, "Showing 1 of 2 active tickets") || !strings.Contains(res.Output, "| INC1 | 1 - Critical | New | Software | Email down |") {
		t.Fatalf("unexpected table:\n%s", res.Output)
	}
	if !strings.Contains(res.Output, "incident_list.do") {
		t.Fatalf("missing list link")
	}
	if q := f.find(http.MethodGet)[0].Query; q != servicenow.OpenIncidentsQuery {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestEmailIncidentReport(t *testing.T) {
	f, snow := newFakeSnow(t)
	f.handle(http.MethodGet, "/api/now/table/incident", 200, `{"result":[{"number":"INC1","priority":"2 - High","state":"New","short_description":"VPN"}]}`)
	sender := &fakeSender{}
	dir := t.TempDir()
	regs := registries(t, &Deps{ServiceNow: snow, Mail: sender, ReportDir: dir, Now: func() time.Time { return fixedNow }})

	res := invoke(t, context.Background(), regs[models.RoleManager], "email_incident_report", map[string]any{"recipient": "boss@velixa.com", "limit": 5})
	if res.IsError {
		t.Fatalf("unexpected error %+v", res)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.Subject != incidentReportSubject || msg.To[0] != "boss@velixa.com" || msg.Attachment == nil ||
		!strings.Contains(string(msg.Attachment.Data), "INC1") {
		t.Fatalf("unexpected message %+v", msg)
	}
	if _, err := os.Stat(filepath.Join(dir, "incident_report_20240502_100000.html")); err != nil {
		t.Fatalf("report not saved: %v", err)
	}
}

func TestEmailIncidentReportDeliveryFailure(t *testing.T) {
	f, snow := newFakeSnow(t)
	f.handle(http.MethodGet, "/api/now/table/incident", 200, `{"result":[]}`)
	sender := &fakeSender{err: errors.New("smtp refused")}
	regs := registries(t, &Deps{ServiceNow: snow, Mail: sender, ReportDir: t.TempDir()})

	res := invoke(t, context.Background(), regs[models.RoleManager], "email_incident_report", map[string]any{"recipient": "boss@velixa.com"})
	if !res.IsError || !strings.Contains(res.Output, "smtp refused") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAITroubleshooterFallsBackToModel(t *testing.T) {
	completer := &fakeCompleter{out: "Root Cause: stale DNS"}
	regs := registries(t, &Deps{Completer: completer})

	res := invoke(t, context.Background(), regs[models.RoleEngineer], "ai_troubleshooter", map[string]string{"issue_description": "intranet unreachable"})
	if res.IsError || res.Output != "Root Cause: stale DNS" {
		t.Fatalf("unexpected result %+v", res)
	}
	if completer.prompts[0] != "Issue: intranet unreachable" {
		t.Fatalf("unexpected prompt %q", completer.prompts[0])
	}
}

func TestRetrieveSolutionGeneratesWithoutCorpus(t *testing.T) {
	completer := &fakeCompleter{out: "Reinstall the VPN client."}
	regs := registries(t, &Deps{Completer: completer})

	res := invoke(t, context.Background(), regs[models.RoleUser], "retrieve_or_generate_solution", map[string]string{"query": "vpn drops"})
	if res.IsError {
		t.Fatalf("expected a generated answer, got %+v", res)
	}
	if !strings.HasPrefix(res.Output, "Generated solution") || !strings.Contains(res.Output, "Reinstall the VPN client.") {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if len(completer.prompts) != 1 || !strings.Contains(completer.prompts[0], "vpn drops") {
		t.Fatalf("unexpected prompts %q", completer.prompts)
	}
}

func TestFirstSentenceKeepsRunesWhole(t *testing.T) {
	in := strings.Repeat("a", 159) + "é and more words without a stop"
	got := firstSentence(in)
	if !utf8.ValidString(got) {
		t.Fatalf("short description is not valid UTF-8: %q", got)
	}
	if got != strings.Repeat("a", 159) {
		t.Fatalf("unexpected cut %q", got)
	}
}

func TestFirstSentence(t *testing.T) {
	cases := map[string]string{
		"Printer broken. Again.": "Printer broken.",
		"no punctuation here":    "no punctuation here",
		"  Why? Because":         "Why?",
		"First line\nsecond":     "First line",
	}
	for in, want := range cases {
		if got := firstSentence(in); got != want {
			t.Fatalf("firstSentence(%q) = %q, want %q", in, got, want)
		}
	}
}
