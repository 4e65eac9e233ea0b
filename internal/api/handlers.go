package api

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"helpdeskagent/internal/agent"
	"helpdeskagent/internal/logger"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/roles"
)

//go:embed static/index.html
var chatPage []byte

// Agent is the conversation service the handlers drive.
type Agent interface {
	Ask(ctx context.Context, key string, identity models.Identity, text string) (*agent.Reply, error)
	End(ctx context.Context, key string) (bool, error)
}

// Handler wires HTTP routes to the agent service.
type Handler struct {
	agent Agent
	bot   *Bot
}

// NewHandler constructs a Handler. bot may be nil when no chat channel is configured.
func NewHandler(a Agent, bot *Bot) *Handler {
	return &Handler{agent: a, bot: bot}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.chatPage)
	router.GET("/healthz", h.healthz)
	router.POST("/ask", h.ask)
	router.POST("/send_message/", h.sendMessage)
	router.POST("/end_session/", h.endSession)
	if h.bot != nil {
		router.POST("/api/messages", h.bot.handleActivity)
	}
}

func (h *Handler) chatPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", chatPage)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionKey is the key HTTP channels use: the lower-cased email.
func sessionKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nameFromEmail(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

type askRequest struct {
	Email string `json:"email" binding:"required"`
	Query string `json:"query" binding:"required"`
}

func (h *Handler) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "email and query are required"})
		return
	}
	key := sessionKey(req.Email)
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{Channel: "ask"})
	reply, err := h.agent.Ask(ctx, key, models.Identity{Name: nameFromEmail(key), Email: key}, req.Query)
	if err != nil {
		if errors.Is(err, roles.ErrNotAuthorized) {
			c.JSON(http.StatusForbidden, gin.H{"detail": "Unauthorized email or no persona assigned."})
			return
		}
		slog.ErrorContext(ctx, "ask failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Agent Error: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": req.Email, "response": reply.Text})
}

type messageRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "email and message are required"})
		return
	}
	key := sessionKey(req.Email)
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = nameFromEmail(key)
	}
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{Channel: "web"})
	reply, err := h.agent.Ask(ctx, key, models.Identity{Name: name, Email: key}, req.Message)
	if err != nil {
		if errors.Is(err, roles.ErrNotAuthorized) {
			c.JSON(http.StatusForbidden, gin.H{"detail": "No agent assigned for this email."})
			return
		}
		slog.ErrorContext(ctx, "send message failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Agent Error: " + err.Error()})
		return
	}
	messages := make([]string, 0, 2)
	if reply.Created {
		messages = append(messages, agent.Greeting(name))
	}
	messages = append(messages, reply.Text)
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) endSession(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		var body struct {
			Email string `json:"email"`
		}
		_ = c.ShouldBindJSON(&body)
		email = body.Email
	}
	key := sessionKey(email)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "email is required"})
		return
	}
	ended, err := h.agent.End(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if !ended {
		c.JSON(http.StatusOK, gin.H{"status": "No session found for this email."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Session ended."})
}
