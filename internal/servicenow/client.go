// Package servicenow is a small typed client for the ServiceNow Table API.
package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// Config configures a Client. Instance is the base URL, for example
// https://dev12345.service-now.com.
type Config struct {
	Instance   string
	Username   string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	instance   string
	username   string
	password   string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	instance := strings.TrimRight(strings.TrimSpace(cfg.Instance), "/")
	if instance == "" {
		return nil, errors.New("servicenow: instance is required")
	}
	if !strings.HasPrefix(instance, "http://") && !strings.HasPrefix(instance, "https://") {
		instance = "https://" + instance
	}
	if cfg.Username == "" {
		return nil, errors.New("servicenow: username is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		instance:   instance,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpClient,
	}, nil
}

// Instance returns the base URL used for links shown to users.
func (c *Client) Instance() string { return c.instance }

// Query selects rows from a table.
type Query struct {
	// Encoded is a sysparm_query string such as "number=INC0010001".
	Encoded string
	Fields  []string
	Limit   int
}

var numberPattern = regexp.MustCompile(`^INC\d+$`)

// ValidNumber reports whether number is a normalized incident number.
func ValidNumber(number string) bool {
	return numberPattern.MatchString(number)
}

// QueryValue returns v trimmed for use on the right side of an encoded query
// condition. Values carrying the ^ separator or line breaks would add
// conditions and are rejected.
func QueryValue(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.ContainsAny(v, "^\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidQuery, v)
	}
	return v, nil
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.Encoded != "" {
		v.Set("sysparm_query", q.Encoded)
	}
	if len(q.Fields) > 0 {
		v.Set("sysparm_fields", strings.Join(q.Fields, ","))
	}
	if q.Limit > 0 {
		v.Set("sysparm_limit", strconv.Itoa(q.Limit))
	}
	v.Set("sysparm_display_value", "true")
	return v
}

func tablePath(table string, sysID string) string {
	p := "/api/now/table/" + table
	if sysID != "" {
		p += "/" + url.PathEscape(sysID)
	}
	return p
}

func (c *Client) list(ctx context.Context, table string, q Query, out any) error {
	return c.do(ctx, http.MethodGet, tablePath(table, "")+"?"+q.values().Encode(), nil, out)
}

func (c *Client) create(ctx context.Context, table string, body any, out any) error {
	return c.do(ctx, http.MethodPost, tablePath(table, "")+"?sysparm_display_value=true", body, out)
}

func (c *Client) patch(ctx context.Context, table, sysID string, body any, out any) error {
	return c.do(ctx, http.MethodPatch, tablePath(table, sysID)+"?sysparm_display_value=true", body, out)
}

// do sends one request and decodes the "result" envelope into out.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("servicenow: encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.instance+path, reader)
	if err != nil {
		return fmt.Errorf("servicenow: creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("servicenow: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("servicenow: reading response: %w", err)
	}
	slog.DebugContext(ctx, "servicenow request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	envelope := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("servicenow: decoding response: %w", err)
	}
	if len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("servicenow: decoding result: %w", err)
	}
	return nil
}
