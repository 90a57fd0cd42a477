package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AdaptivMCP/gitward/internal/auth"
	"github.com/AdaptivMCP/gitward/internal/commit"
	"github.com/AdaptivMCP/gitward/internal/config"
	"github.com/AdaptivMCP/gitward/internal/gate"
	"github.com/AdaptivMCP/gitward/internal/metrics"
	"github.com/AdaptivMCP/gitward/internal/refs"
	"github.com/AdaptivMCP/gitward/internal/remote"
	"github.com/AdaptivMCP/gitward/internal/runner"
	"github.com/AdaptivMCP/gitward/internal/server"
	"github.com/AdaptivMCP/gitward/internal/storage"
	"github.com/AdaptivMCP/gitward/internal/tools"
	"github.com/AdaptivMCP/gitward/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gitward HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	resolver := refs.Resolver{
		ControllerRepo:  cfg.Controller.Repo,
		CanonicalBranch: cfg.Controller.CanonicalBranch,
	}
	g := gate.New(resolver.Canonical(), cfg.Writes.EnabledByDefault)
	mreg := metrics.NewRegistry()

	logger.Info("starting gitward server",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("controller_repo", cfg.Controller.Repo),
		zap.String("canonical_branch", resolver.Canonical()),
		zap.Bool("writes_enabled", cfg.Writes.EnabledByDefault),
		zap.String("auth_mode", cfg.Auth.Mode),
	)

	client := remote.NewGitHubClient(remote.GitHubConfig{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
		Logger:  logger,
		Metrics: mreg,
	})

	// Events: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if cfg.Events.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.Events.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no clickhouse DSN set, using log writer")
	}
	defer writer.Close()

	// Workspace index + manager
	var index *workspace.Store
	if cfg.Workspaces.IndexPath != "" {
		index, err = workspace.OpenStore(cfg.Workspaces.IndexPath)
		if err != nil {
			return fmt.Errorf("open workspace index: %w", err)
		}
		defer index.Close() //nolint:errcheck
	}
	manager := workspace.NewManager(workspace.ManagerConfig{
		Root:   cfg.Workspaces.Root,
		Token:  cfg.Remote.Token,
		Index:  index,
		Logger: logger,
	})
	if err := manager.Restore(context.Background()); err != nil {
		logger.Warn("workspace restore failed", zap.Error(err))
	}

	commits := commit.New(commit.Config{
		Client:      client,
		Gate:        g,
		Resolver:    resolver,
		Invalidator: manager,
		Logger:      logger,
	})

	run := runner.New(runner.Config{
		Workspaces:     manager,
		Gate:           g,
		Resolver:       resolver,
		Logger:         logger,
		DefaultTimeout: time.Duration(cfg.Command.DefaultTimeoutSeconds) * time.Second,
		MaxTimeout:     time.Duration(cfg.Command.MaxTimeoutSeconds) * time.Second,
		MaxOutputChars: cfg.Command.MaxOutputChars,
	})

	// Caller authentication: Postgres-backed or static token
	var authenticator auth.Authenticator
	if cfg.Auth.Mode == "postgres" {
		db, err := sql.Open("pgx", cfg.Auth.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(cfg.Auth.CacheTTLSeconds) * time.Second,
			FailOpen: cfg.Auth.FailOpen,
			Logger:   logger,
		})
		logger.Info("postgres auth connected")
	} else {
		authenticator = auth.NewStaticAuthenticator(cfg.Auth.StaticToken)
		if cfg.Auth.StaticToken == "" {
			logger.Warn("no static token configured; accepting any well-formed key (development mode)")
		}
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterAll(registry, tools.Deps{
		Gate:       g,
		Resolver:   resolver,
		Remote:     client,
		Commits:    commits,
		Workspaces: manager,
		Runner:     run,
	}); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	dispatcher := tools.NewDispatcher(tools.DispatcherConfig{
		Registry: registry,
		Metrics:  mreg,
		Events:   writer,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.NewRouter(&server.Dependencies{
			Auth:       authenticator,
			Dispatcher: dispatcher,
			Registry:   registry,
			Gate:       g,
			Resolver:   resolver,
			Workspaces: manager,
			Metrics:    mreg,
			Logger:     logger,
		}),
		ReadTimeout: 10 * time.Second,
		// run_command responses can take the full command budget.
		WriteTimeout: time.Duration(cfg.Command.MaxTimeoutSeconds+30) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("gitward server stopped")
	return nil
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
