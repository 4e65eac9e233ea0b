package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"helpdeskagent/internal/api"
	"helpdeskagent/internal/app"
	"helpdeskagent/internal/config"
	"helpdeskagent/internal/logger"
	"helpdeskagent/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("HELPDESK_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Setup(cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}

	helpdesk, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("init helpdesk agent", "error", err)
		os.Exit(1)
	}
	defer helpdesk.Close()
	if err := helpdesk.Start(ctx); err != nil {
		slog.Error("start background jobs", "error", err)
		os.Exit(1)
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(api.Recovery(), api.Logger())
	helpdesk.Handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		slog.Info("http server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown error", "error", err)
		}
	}
}
