// Package main is the entry point for the agentcore orchestration engine.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/api"
	"github.com/kandev/agentcore/internal/common/config"
	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/db/dialect"
	"github.com/kandev/agentcore/internal/domain"
	"github.com/kandev/agentcore/internal/eventbridge"
	"github.com/kandev/agentcore/internal/events"
	"github.com/kandev/agentcore/internal/gateway/wsgateway"
	"github.com/kandev/agentcore/internal/instructions"
	"github.com/kandev/agentcore/internal/lock"
	"github.com/kandev/agentcore/internal/orchestrator"
	"github.com/kandev/agentcore/internal/queue"
	"github.com/kandev/agentcore/internal/runner"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/store/sqlite"
	"github.com/kandev/agentcore/internal/streaming"
	"github.com/kandev/agentcore/internal/subscription"
	"github.com/kandev/agentcore/internal/tracing"
)

func main() {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)
	log.Info("starting agentcore orchestration engine")

	// 3. Root context, cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Optional OTLP tracing (spec §4.4/§4.8 launch spans); a no-op
	// tracer is used when unset.
	var tracingShutdown func(context.Context) error
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		shutdown, err := tracing.Setup(ctx, endpoint, "agentcore")
		if err != nil {
			log.Warn("failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			tracingShutdown = shutdown
			log.Info("exporting traces", zap.String("endpoint", endpoint))
		}
	}

	// 5. Open storage (spec §4.2/§6.7): sqlite by default, postgres when configured.
	repo, err := openStore(cfg)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer repo.Close()
	log.Info("storage ready", zap.String("repository_type", cfg.Agent.RepositoryType))

	// 6. Acquire the single-instance lock before the HTTP server binds its port.
	instanceLock := lock.New(cfg.Lock.PIDFilePath, log.Zap())
	holder := domain.ProcessLock{
		PID:            os.Getpid(),
		StartedAt:      time.Now(),
		Port:           cfg.Server.Port,
		RuntimeVersion: runtime.Version(),
		InstanceID:     fmt.Sprintf("agentcore-%d", os.Getpid()),
	}
	if err := instanceLock.Acquire(holder); err != nil {
		if domain.IsKind(err, domain.KindInstanceAlreadyRunning) {
			log.Error("another instance is already running", zap.Error(err))
			os.Exit(1)
		}
		log.Fatal("failed to acquire instance lock", zap.Error(err))
	}
	defer instanceLock.Release()
	go func() {
		if err := instanceLock.Watch(ctx, func() {
			log.Warn("instance lock file was removed externally")
		}); err != nil {
			log.Warn("instance lock watch stopped", zap.Error(err))
		}
	}()

	// 7. Event bus (in-memory, or NATS when NATS.URL is configured).
	providedBus, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()

	// 8. Realtime gateway hub (spec §4.9/§6.2).
	hub := wsgateway.NewHub(log.Zap())
	hubDone := make(chan struct{})
	go hub.Run(hubDone)
	defer close(hubDone)

	// 9. Runner factory: subprocess/SSE backends per CLAUDE_ADAPTER, always
	// routing synthetic agents to the in-memory scripted runner.
	runners := runner.NewAdapterFactory(cfg.Agent.ClaudeAdapter, cfg.Agent.ClaudeProxyURL, log.Zap())
	if cfg.Docker.Enabled {
		containerRunner, err := runner.NewContainerRunner(ctx, runner.NewStaticProfileResolver(runner.DefaultContainerProfiles), log.Zap())
		if err != nil {
			log.Warn("docker unreachable, CLAUDE_ADAPTER=container will be unavailable", zap.Error(err))
		} else {
			runners.Container = containerRunner
			log.Info("containerized runner variant ready")
		}
	}

	// 10. Launch queue, instruction handler, streaming broadcaster.
	launchQueue := queue.New(log.Zap())
	instructionHandler := instructions.New(log.Zap())
	paths := instructions.NewConfigPaths("", "")
	broadcaster := streaming.New(repo, hub, log.Zap())
	bridge := eventbridge.New(broadcaster, providedBus.Bus, log.Zap())

	// 11. Orchestration coordinator.
	coordinator := orchestrator.New(orchestrator.Config{
		Store:        repo,
		Runners:      runners,
		Queue:        launchQueue,
		Instructions: instructionHandler,
		Paths:        paths,
		Broadcaster:  bridge,
		Logger:       log.Zap(),
	})
	go coordinator.Run(ctx)

	// 12. Subscription registry: which WebSocket clients watch which agents.
	registry := subscription.New(bridge, log.Zap())

	// 13. HTTP server.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.RequestLogger(log))
	router.Use(api.Recovery(log))
	router.Use(api.CORS())

	apiGroup := router.Group("/api")
	api.SetupRoutes(apiGroup, coordinator, launchQueue, repo.Messages(), registry, hub, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 14. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down agentcore orchestration engine")

	// 15. Graceful shutdown: stop accepting new work, terminate active
	// agents, then tear down collaborators in reverse dependency order.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	active, err := coordinator.ListActive(shutdownCtx)
	if err != nil {
		log.Error("failed to list active agents during shutdown", zap.Error(err))
	}
	for _, agent := range active {
		if err := coordinator.TerminateAgent(shutdownCtx, agent.ID); err != nil {
			log.Error("failed to terminate agent during shutdown", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			log.Error("tracing shutdown error", zap.Error(err))
		}
	}

	log.Info("shutdown complete")
}

// openStore opens the configured persistence backend behind store.Store.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Agent.RepositoryType {
	case "postgres":
		dsn := cfg.Agent.DatabaseDSN
		writer, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := writer.Ping(); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		writerDB := sqlx.NewDb(writer, dialect.PGX)
		return sqlite.New(writerDB, writerDB, dialect.PGX)

	case "sqlite", "":
		dsn := "file:" + cfg.Agent.DatabasePath + "?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL"
		writerConn, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		writerConn.SetMaxOpenConns(1) // serialize writes; WAL lets readers proceed concurrently.
		readerConn, err := sql.Open("sqlite3", dsn)
		if err != nil {
			_ = writerConn.Close()
			return nil, fmt.Errorf("open sqlite reader pool: %w", err)
		}
		writerDB := sqlx.NewDb(writerConn, dialect.SQLite3)
		readerDB := sqlx.NewDb(readerConn, dialect.SQLite3)
		return sqlite.New(writerDB, readerDB, dialect.SQLite3)

	default:
		return nil, fmt.Errorf("unrecognized REPOSITORY_TYPE %q", cfg.Agent.RepositoryType)
	}
}
