// Package app assembles the helpdesk agent from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"

	"helpdeskagent/internal/agent"
	"helpdeskagent/internal/api"
	"helpdeskagent/internal/config"
	"helpdeskagent/internal/helpdesk"
	"helpdeskagent/internal/knowledge"
	"helpdeskagent/internal/llm"
	"helpdeskagent/internal/mail"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/redis"
	"helpdeskagent/internal/roles"
	"helpdeskagent/internal/servicenow"
	"helpdeskagent/internal/session"
	"helpdeskagent/internal/storage"
	"helpdeskagent/internal/worker"
)

// App holds the wired components shared by the server and the CLI.
type App struct {
	Config  *config.Config
	Service *agent.Service
	Handler *api.Handler
	Store   session.Store
	Workers *worker.Manager

	redisStore *session.RedisStore
	closers    []func() error
}

// New builds every component named by cfg. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.build(ctx, cfg); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	router, err := roles.NewRouter(cfg.Roles)
	if err != nil {
		return fmt.Errorf("role bindings: %w", err)
	}
	if err := a.openStore(cfg); err != nil {
		return err
	}

	chatModel, err := llm.FromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("chat model: %w", err)
	}
	deps, err := buildDeps(ctx, cfg, llm.NewCompleter(chatModel))
	if err != nil {
		return err
	}
	loops, err := buildLoops(chatModel, deps, cfg.BasicConfig.MaxIterations)
	if err != nil {
		return err
	}

	a.Workers = worker.NewManager(worker.Config{
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	a.closers = append(a.closers, func() error { a.Workers.Shutdown(); return nil })

	a.Service, err = agent.NewService(agent.Options{
		Router:      router,
		Store:       a.Store,
		Workers:     a.Workers,
		Loops:       loops,
		TurnTimeout: time.Duration(cfg.BasicConfig.TurnTimeout) * time.Second,
	})
	if err != nil {
		return err
	}

	var bot *api.Bot
	if cfg.Bot.Enabled() {
		bot = api.NewBot(a.Service, api.NewConnector(ctx, cfg.Bot), api.NewDirectory(ctx, cfg.Directory))
	}
	a.Handler = api.NewHandler(a.Service, bot)
	return nil
}

func (a *App) openStore(cfg *config.Config) error {
	ttl := time.Duration(cfg.Session.TTL) * time.Minute
	switch cfg.Session.Backend {
	case "redis":
		client, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.redisStore = session.NewRedisStore(client, ttl)
		a.Store = a.redisStore
	case "sql":
		db, err := storage.Open(cfg.Session.Database, cfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if err := storage.Migrate(db, cfg.Session.Database); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		a.Store = session.NewSQLStore(db, ttl)
	default:
		a.Store = session.NewMemoryStore(ttl)
	}
	slog.Info("session store ready", "backend", cfg.Session.Backend, "ttl", ttl)
	return nil
}

func buildDeps(ctx context.Context, cfg *config.Config, completer *llm.Completer) (*helpdesk.Deps, error) {
	deps := &helpdesk.Deps{Completer: completer, ReportDir: cfg.Reports.OutputDir}

	if cfg.ServiceNow.Enabled() {
		client, err := servicenow.NewClient(servicenow.Config{
			Instance: cfg.ServiceNow.Instance,
			Username: cfg.ServiceNow.Username,
			Password: cfg.ServiceNow.Password,
			Timeout:  time.Duration(cfg.ServiceNow.Timeout) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		deps.ServiceNow = client
	} else {
		slog.Warn("servicenow not configured, ticket tools will report errors")
	}

	if cfg.Knowledge.Enabled() {
		retriever, err := BuildKnowledge(ctx, cfg.Knowledge, completer)
		if err != nil {
			return nil, err
		}
		deps.Knowledge = retriever
	}

	if cfg.SMTP.Enabled() {
		sender, err := mail.NewSMTPSender(cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("smtp: %w", err)
		}
		deps.Mail = sender
	}

	if !cfg.Search.Disabled {
		deps.Search = helpdesk.NewWebSearch(ctx, cfg.Search.GoogleAPIKey, cfg.Search.GoogleSearchEngineID)
	}
	return deps, nil
}

// BuildKnowledge loads and embeds the corpus into a retriever.
func BuildKnowledge(ctx context.Context, cfg config.KnowledgeConfig, generator knowledge.Generator) (*knowledge.Retriever, error) {
	entries, err := knowledge.LoadCorpus(ctx, cfg.CorpusPath)
	if err != nil {
		return nil, err
	}
	embedder, err := knowledge.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	index, err := knowledge.Build(ctx, embedder, entries)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}
	slog.InfoContext(ctx, "knowledge index built", "entries", index.Len(), "duration_ms", time.Since(start).Milliseconds())
	return knowledge.NewRetriever(index, generator, cfg.TopK, cfg.Threshold), nil
}

func buildLoops(chatModel model.ToolCallingChatModel, deps *helpdesk.Deps, maxIterations int) (map[models.Role]*agent.Loop, error) {
	registries, err := helpdesk.Registries(deps)
	if err != nil {
		return nil, err
	}
	adapted := agent.NewChatModel(chatModel)
	loops := make(map[models.Role]*agent.Loop, len(registries))
	for role, reg := range registries {
		loops[role] = &agent.Loop{
			Model:         adapted,
			Registry:      reg,
			Prompt:        agent.SystemPrompt(role, reg.Names()),
			MaxIterations: maxIterations,
		}
	}
	return loops, nil
}

// Start runs the background jobs: session sweeping and, with redis, purging
// workers for sessions ended by other replicas.
func (a *App) Start(ctx context.Context) error {
	session.StartSweeper(ctx, a.Store, time.Duration(a.Config.Session.SweepInterval)*time.Minute)
	if a.redisStore == nil {
		return nil
	}
	return a.redisStore.Listen(ctx, func(inv session.Invalidation) {
		a.Workers.Purge(inv.Key)
	})
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
