// Command viralink runs the viralization route engine and its HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/viralink-ai/viralink/internal/agents"
	"github.com/viralink-ai/viralink/internal/auth"
	"github.com/viralink-ai/viralink/internal/config"
	"github.com/viralink-ai/viralink/internal/engine"
	"github.com/viralink-ai/viralink/internal/ratelimit"
	"github.com/viralink-ai/viralink/internal/server"
	"github.com/viralink-ai/viralink/internal/signing"
	"github.com/viralink-ai/viralink/internal/storage"
	"github.com/viralink-ai/viralink/internal/telemetry"
	"github.com/viralink-ai/viralink/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("VIRALINK_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("viralink starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	// Run embedded migrations. The runner tracks applied files in
	// schema_migrations, so errors here indicate real failures.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Seed the bootstrap admin API key.
	if err := server.SeedAdmin(ctx, db, cfg.AdminAPIKey, logger); err != nil {
		slog.Warn("admin seed failed", "error", err)
	}

	// Remote stage executor, one base URL per agent.
	executor := agents.NewExecutor(map[string]string{
		agents.AgentTrendScanner:        cfg.TrendScannerURL,
		agents.AgentVideoScriptor:       cfg.VideoScriptorURL,
		agents.AgentCreativeSynthesizer: cfg.CreativeSynthesizerURL,
		agents.AgentPostScheduler:       cfg.PostSchedulerURL,
		agents.AgentAnalyticsReporter:   cfg.AnalyticsReporterURL,
	}, cfg.ExecutorTimeout, logger)

	// Asset URL signer. Empty secret leaves URLs untouched.
	signer := signing.New(cfg.AssetSigningSecret, cfg.AssetSignatureTTL)
	if signer.Enabled() {
		logger.Info("asset signing: enabled", "ttl", cfg.AssetSignatureTTL)
	} else {
		logger.Info("asset signing: disabled (no secret)")
	}

	// Completion notifier: pg_notify broadcast when the database has a
	// dedicated notify connection, log-only otherwise.
	var notifier engine.CompletionNotifier = engine.NopNotifier{}
	if db.HasNotifyConn() {
		notifier = &engine.BroadcastNotifier{DB: db, Logger: logger}
		logger.Info("completion broadcast: enabled")
	} else {
		logger.Info("completion broadcast: disabled (no notify connection)")
	}

	// Route engine with its stage work queue.
	eng := engine.New(engine.Config{
		Store:      db,
		Executor:   executor,
		Notifier:   notifier,
		Signer:     signer,
		Logger:     logger,
		StageDelay: cfg.StageDelay,
		QueueCap:   cfg.EngineQueueCap,
	})
	eng.Start(ctx)
	defer eng.Close()

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.Config{
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}, eng, db, jwtMgr, limiter, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()

		slog.Info("viralink shutting down")

		// Stop accepting HTTP requests and drain in-flight ones, then
		// let the engine finish the stage it is currently executing.
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		if err := srv.Shutdown(httpCtx); err != nil &&
			err != http.ErrServerClosed {
			slog.Error("http shutdown error", "error", err)
		}
		eng.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("viralink stopped")
	return nil
}
