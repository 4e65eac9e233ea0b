package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"helpdeskagent/internal/config"
)

func TestBuildPlainMessage(t *testing.T) {
	raw, err := Build("bot@x.com", Message{To: []string{"a@x.com"}, Subject: "Hi", Body: "hello"}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Header.Get("To") != "a@x.com" || m.Header.Get("From") != "bot@x.com" {
		t.Fatalf("unexpected headers %v", m.Header)
	}
	body, _ := io.ReadAll(m.Body)
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(body), "\r\n", ""))
	if err != nil || string(decoded) != "hello" {
		t.Fatalf("unexpected body %q %v", decoded, err)
	}
}

func TestBuildWithAttachment(t *testing.T) {
	report := bytes.Repeat([]byte("<p>row</p>"), 40)
	msg := Message{
		To:         []string{"m@x.com"},
		Subject:    "ServiceNow Incident Summary Report",
		Body:       "Report attached.",
		Attachment: &Attachment{Name: "/tmp/reports/incident_report_1.html", Data: report},
	}
	raw, err := Build("bot@x.com", msg, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/mixed" {
		t.Fatalf("unexpected content type %q %v", mediaType, err)
	}
	mr := multipart.NewReader(m.Body, params["boundary"])
	var parts []*multipart.Part
	var payloads [][]byte
	for {
		p, err := mr.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		data, _ := io.ReadAll(p)
		parts = append(parts, p)
		payloads = append(payloads, data)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if parts[1].FileName() != "incident_report_1.html" {
		t.Fatalf("unexpected attachment name %q", parts[1].FileName())
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(payloads[1]), "\r\n", ""))
	if err != nil || !bytes.Equal(decoded, report) {
		t.Fatalf("attachment mismatch: %v", err)
	}
}

func TestSendRequiresRecipients(t *testing.T) {
	s, err := NewSMTPSender(config.SMTPConfig{Host: "localhost", Port: 2525, From: "bot@x.com"})
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if err := s.Send(context.Background(), Message{Subject: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewSMTPSender(config.SMTPConfig{Host: "localhost"}); err == nil {
		t.Fatalf("expected missing from error")
	}
}
