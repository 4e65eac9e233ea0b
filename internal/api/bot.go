package api

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
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2/clientcredentials"

	"helpdeskagent/internal/agent"
	"helpdeskagent/internal/config"
	"helpdeskagent/internal/logger"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/roles"
)

const (
	ActivityMessage = "message"
	ActivityTyping  = "typing"

	defaultBotTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	defaultBotScope    = "https://api.botframework.com/.default"

	denyReply      = "Access denied: No agent assigned to your email."
	noEmailReply   = "Unable to retrieve your email from the chat activity."
	failureReply   = "Sorry, something went wrong while processing your request. Please try again."
	emptyReplyText = "(empty message)"
)

type ChannelAccount struct {
	ID                string `json:"id"`
	Name              string `json:"name,omitempty"`
	AADObjectID       string `json:"aadObjectId,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
}

type ConversationAccount struct {
	ID string `json:"id"`
}

// Activity is the subset of a Bot Framework activity the webhook reads and sends.
type Activity struct {
	Type         string              `json:"type"`
	ID           string              `json:"id,omitempty"`
	Text         string              `json:"text,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	From         ChannelAccount      `json:"from"`
	Recipient    ChannelAccount      `json:"recipient"`
	Conversation ConversationAccount `json:"conversation"`
	ReplyToID    string              `json:"replyToId,omitempty"`
}

// ActivitySender posts an activity back into a conversation.
type ActivitySender interface {
	SendActivity(ctx context.Context, serviceURL, conversationID string, act Activity) error
}

// Connector sends activities through the Bot Connector REST API using an
// OAuth2 client-credentials token.
type Connector struct {
	httpClient *http.Client
}

func NewConnector(ctx context.Context, cfg config.BotConfig) *Connector {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultBotTokenURL
	}
	scope := cfg.Scope
	if scope == "" {
		scope = defaultBotScope
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.AppID,
		ClientSecret: cfg.AppPassword,
		TokenURL:     tokenURL,
		Scopes:       []string{scope},
	}
	client := cc.Client(ctx)
	client.Timeout = 15 * time.Second
	return &Connector{httpClient: client}
}

func (c *Connector) SendActivity(ctx context.Context, serviceURL, conversationID string, act Activity) error {
	if serviceURL == "" {
		return errors.New("activity has no service url")
	}
	endpoint := strings.TrimRight(serviceURL, "/") + "/v3/conversations/" + url.PathEscape(conversationID) + "/activities"
	body, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send activity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("send activity: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return nil
}

// Bot handles inbound chat activities.
type Bot struct {
	agent     Agent
	sender    ActivitySender
	directory Directory
}

func NewBot(a Agent, sender ActivitySender, dir Directory) *Bot {
	return &Bot{agent: a, sender: sender, directory: dir}
}

func (b *Bot) handleActivity(c *gin.Context) {
	var act Activity
	if err := c.ShouldBindJSON(&act); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid activity"})
		return
	}
	if act.Type == ActivityMessage {
		b.Process(c.Request.Context(), act)
	}
	c.Status(http.StatusOK)
}

// Process runs one inbound message: typing indicator, identity resolution,
// the agent turn and the reply. Failures to deliver are logged, never returned.
func (b *Bot) Process(ctx context.Context, act Activity) {
	key := strings.Trim(act.Conversation.ID, "/")
	ctx = logger.WithLogFields(ctx, logger.LogFields{Channel: "bot", SessionKey: key})

	b.send(ctx, act, Activity{Type: ActivityTyping})

	email, err := b.directory.Resolve(ctx, act.From)
	if err != nil || email == "" {
		slog.WarnContext(ctx, "sender email unresolved", "from", act.From.Name, "error", err)
		b.reply(ctx, act, noEmailReply)
		return
	}
	name := act.From.Name
	if name == "" {
		name = "Unknown User"
	}

	reply, err := b.agent.Ask(ctx, key, models.Identity{Name: name, Email: email}, strings.TrimSpace(act.Text))
	switch {
	case errors.Is(err, roles.ErrNotAuthorized):
		b.reply(ctx, act, denyReply)
		return
	case err != nil:
		slog.ErrorContext(ctx, "bot turn failed", "error", err)
		b.reply(ctx, act, failureReply)
		return
	}
	if reply.Created {
		b.reply(ctx, act, agent.Greeting(name))
	}
	b.reply(ctx, act, reply.Text)
}

func (b *Bot) reply(ctx context.Context, in Activity, text string) {
	if strings.TrimSpace(text) == "" {
		text = emptyReplyText
	}
	b.send(ctx, in, Activity{Type: ActivityMessage, Text: text})
}

func (b *Bot) send(ctx context.Context, in Activity, out Activity) {
	out.From = in.Recipient
	out.Recipient = in.From
	out.Conversation = in.Conversation
	out.ReplyToID = in.ID
	if err := b.sender.SendActivity(ctx, in.ServiceURL, in.Conversation.ID, out); err != nil {
		slog.ErrorContext(ctx, "failed to send activity", "type", out.Type, "error", err)
	}
}
