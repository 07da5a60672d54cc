package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/revq/revq/internal/access"
	"github.com/revq/revq/internal/answer"
	"github.com/revq/revq/internal/api"
	"github.com/revq/revq/internal/config"
	"github.com/revq/revq/internal/gemini"
	"github.com/revq/revq/internal/pipeline"
	"github.com/revq/revq/internal/router"
	"github.com/revq/revq/internal/sentiment"
	"github.com/revq/revq/internal/storage"
	"github.com/revq/revq/internal/tools"
	"github.com/revq/revq/internal/trace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the revq server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "revq version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	gen, err := gemini.New(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		return fmt.Errorf("initializing interpreter client: %w", err)
	}

	// Wire the turn pipeline.
	resolver := access.NewResolver(store)
	registry := tools.NewRegistry(tools.Limits{
		TopNMin:           1,
		TopNMax:           cfg.Tools.TopNMax,
		TopNDefault:       cfg.Tools.TopNDefault,
		MaxReviewsMin:     cfg.Tools.MaxReviewsMin,
		MaxReviewsMax:     cfg.Tools.MaxReviewsMax,
		MaxReviewsDefault: cfg.Tools.MaxReviewsDefault,
	})
	validator := tools.NewValidator(registry, resolver)
	fallbackPolicy := tools.NewFallbackPolicy()
	analyzer := sentiment.NewAnalyzer(store, gen, cfg.Gemini.Model)
	executor := tools.NewExecutor(store, resolver, analyzer)
	intentRouter := router.New(gen, router.Config{
		MaxAttempts:     cfg.Router.MaxAttempts,
		AttemptTimeout:  cfg.Router.AttemptTimeout,
		OverallDeadline: cfg.Router.OverallDeadline,
		InitialBackoff:  cfg.Router.InitialBackoff,
		MaxBackoff:      cfg.Router.MaxBackoff,
		HistoryWindow:   cfg.Router.HistoryWindow,
	})
	writer := answer.NewWriter(gen)
	recorder := trace.NewRecorder(store)
	pipe := pipeline.New(resolver, intentRouter, validator, fallbackPolicy, executor, writer, recorder, store, cfg.Router.HistoryWindow)

	apiSrv := api.NewServer(store, pipe, recorder, slog.Default())

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: apiSrv.Router(),
	}

	// MCP exposes the analytics tools over stdio, running as a configured
	// service identity. Without one the HTTP surface runs alone.
	if email := os.Getenv("REVQ_MCP_USER"); email != "" {
		mcpUser, err := store.UserByEmail(email)
		if err != nil {
			return fmt.Errorf("resolving MCP service user %q: %w", email, err)
		}
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			User:      mcpUser,
			Validator: validator,
			Executor:  executor,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)", "user", email)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "revq listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
