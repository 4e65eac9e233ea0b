package helpdesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
)

const (
	webSearchHTTPTimeout = 10 * time.Second
	maxFetchBytes        = 512 * 1024
)

// WebSearch queries Google when credentials are configured and falls back
// to DuckDuckGo. A query that is a URL is fetched directly.
type WebSearch struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
}

// NewWebSearch builds the search providers. It returns nil when none is available.
func NewWebSearch(ctx context.Context, googleAPIKey, googleEngineID string) *WebSearch {
	ws := &WebSearch{httpClient: &http.Client{Timeout: webSearchHTTPTimeout}}
	if googleAPIKey != "" && googleEngineID != "" {
		g, err := googlesearch.NewTool(ctx, &googlesearch.Config{
			ToolName:       "web_search_google",
			ToolDesc:       "Google Search Tool",
			APIKey:         googleAPIKey,
			SearchEngineID: googleEngineID,
			Lang:           "en",
			Num:            5,
		})
		if err != nil {
			slog.WarnContext(ctx, "google search disabled", "error", err)
		} else {
			ws.google = g
		}
	}
	d, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    webSearchHTTPTimeout,
	})
	if err != nil {
		slog.WarnContext(ctx, "duckduckgo search disabled", "error", err)
	} else {
		ws.duck = d
	}
	if ws.google == nil && ws.duck == nil {
		return nil
	}
	return ws
}

// NewWebSearchFrom wires explicit providers; either may be nil.
func NewWebSearchFrom(google, duck tool.InvokableTool, httpClient *http.Client) *WebSearch {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: webSearchHTTPTimeout}
	}
	return &WebSearch{google: google, duck: duck, httpClient: httpClient}
}

func (w *WebSearch) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		slog.WarnContext(ctx, "web url fetch failed", "url", query, "error", err)
	}

	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	for _, provider := range []struct {
		name string
		tool tool.InvokableTool
	}{{"google", w.google}, {"duckduckgo", w.duck}} {
		if provider.tool == nil {
			continue
		}
		result, err := provider.tool.InvokableRun(ctx, string(payload))
		if err == nil {
			return result, nil
		}
		slog.WarnContext(ctx, "web search provider failed", "provider", provider.name, "error", err)
	}
	return "", errors.New("no search provider succeeded")
}

func (w *WebSearch) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "HelpdeskAgent-WebSearch/1.0")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
