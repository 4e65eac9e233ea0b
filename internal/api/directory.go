package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"helpdeskagent/internal/config"
)

const (
	defaultGraphURL = "https://graph.microsoft.com"
	graphScope      = "https://graph.microsoft.com/.default"
)

// Directory resolves a chat account to an email address.
type Directory interface {
	Resolve(ctx context.Context, account ChannelAccount) (string, error)
}

// StaticDirectory maps display names to emails, case-insensitively.
type StaticDirectory map[string]string

func NewStaticDirectory(users map[string]string) StaticDirectory {
	d := make(StaticDirectory, len(users))
	for name, email := range users {
		d[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(email)
	}
	return d
}

func (d StaticDirectory) Resolve(ctx context.Context, account ChannelAccount) (string, error) {
	if email, ok := d[strings.ToLower(strings.TrimSpace(account.Name))]; ok {
		return email, nil
	}
	return "", fmt.Errorf("no directory entry for %q", account.Name)
}

// GraphDirectory looks users up with GET /v1.0/users/{id}.
type GraphDirectory struct {
	httpClient *http.Client
	baseURL    string
}

func NewGraphDirectory(ctx context.Context, cfg config.DirectoryConfig) *GraphDirectory {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     "https://login.microsoftonline.com/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token",
		Scopes:       []string{graphScope},
	}
	client := cc.Client(ctx)
	client.Timeout = 10 * time.Second
	return NewGraphDirectoryWithClient(client, cfg.GraphURL)
}

func NewGraphDirectoryWithClient(client *http.Client, baseURL string) *GraphDirectory {
	if baseURL == "" {
		baseURL = defaultGraphURL
	}
	return &GraphDirectory{httpClient: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (g *GraphDirectory) Resolve(ctx context.Context, account ChannelAccount) (string, error) {
	id := account.AADObjectID
	if id == "" {
		id = account.ID
	}
	if id == "" {
		return "", errors.New("account has no id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1.0/users/"+url.PathEscape(id), nil)
	if err != nil {
		return "", err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("graph lookup: %s", resp.Status)
	}
	var user struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("decode graph user: %w", err)
	}
	if user.Mail != "" {
		return user.Mail, nil
	}
	return user.UserPrincipalName, nil
}

// ChainDirectory tries the account's own principal name, then each
// directory in order.
type ChainDirectory []Directory

func (c ChainDirectory) Resolve(ctx context.Context, account ChannelAccount) (string, error) {
	if strings.Contains(account.UserPrincipalName, "@") {
		return account.UserPrincipalName, nil
	}
	var errs []error
	for _, d := range c {
		email, err := d.Resolve(ctx, account)
		if err == nil && email != "" {
			return email, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return "", errors.New("email not resolved")
	}
	return "", errors.Join(errs...)
}

// NewDirectory builds the configured lookup chain: the static table first,
// then Graph when tenant credentials are set.
func NewDirectory(ctx context.Context, cfg config.DirectoryConfig) Directory {
	chain := ChainDirectory{NewStaticDirectory(cfg.Users)}
	if cfg.GraphEnabled() {
		chain = append(chain, NewGraphDirectory(ctx, cfg))
	}
	return chain
}
