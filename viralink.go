// Package viralink is the public API for embedding the Viralink route engine.
//
// Hosting applications import this package to construct and extend the
// server without forking it:
//
//	app, err := viralink.New(
//	    viralink.WithVersion(version),
//	    viralink.WithLogger(logger),
//	    viralink.WithCompletionHook(myWebhookHook{}),
//	    viralink.WithAgent(myCustomAgent),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: viralink (root) imports
// internal/*, but internal/* never imports viralink (root). Public types
// (Route, Stage) are standalone structs with no internal imports; conversion
// helpers (toPublicRoute, toPublicStage) live here because this is the only
// file that sees both sides of the boundary.
package viralink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/viralink-ai/viralink/internal/agents"
	"github.com/viralink-ai/viralink/internal/auth"
	"github.com/viralink-ai/viralink/internal/config"
	"github.com/viralink-ai/viralink/internal/engine"
	"github.com/viralink-ai/viralink/internal/model"
	"github.com/viralink-ai/viralink/internal/ratelimit"
	"github.com/viralink-ai/viralink/internal/server"
	"github.com/viralink-ai/viralink/internal/signing"
	"github.com/viralink-ai/viralink/internal/storage"
	"github.com/viralink-ai/viralink/internal/telemetry"
	"github.com/viralink-ai/viralink/migrations"
)

// App is the Viralink server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	eng          *engine.Engine
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string

	shutdownOnce sync.Once
	shutdownErr  error
}

// New initialises the Viralink server. It connects to the database, runs
// migrations, seeds the bootstrap admin key, and wires all subsystems.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.stageDelaySet {
		cfg.StageDelay = o.stageDelay
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("viralink starting", "version", version, "port", cfg.Port)

	ctx := context.Background()

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}

	fail := func(err error) (*App, error) {
		db.Close(ctx)
		_ = otelShutdown(ctx)
		return nil, err
	}

	// Run embedded migrations, then any consumer-supplied extras.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}
	for _, extra := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extra); err != nil {
			return fail(fmt.Errorf("extra migrations: %w", err))
		}
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}

	if err := server.SeedAdmin(ctx, db, cfg.AdminAPIKey, logger); err != nil {
		logger.Warn("admin seed failed", "error", err)
	}

	// Stage registry: built-in agents plus any registered via WithAgent.
	registry := agents.NewRegistry()
	agentURLs := map[string]string{
		agents.AgentTrendScanner:        cfg.TrendScannerURL,
		agents.AgentVideoScriptor:       cfg.VideoScriptorURL,
		agents.AgentCreativeSynthesizer: cfg.CreativeSynthesizerURL,
		agents.AgentPostScheduler:       cfg.PostSchedulerURL,
		agents.AgentAnalyticsReporter:   cfg.AnalyticsReporterURL,
	}
	for _, spec := range o.extraAgents {
		registry.Register(spec.stageType())
		if spec.BaseURL != "" {
			agentURLs[spec.Name] = spec.BaseURL
		}
	}

	// Stage executor: the consumer's, or the built-in HTTP one.
	var executor engine.StageExecutor
	if o.executor != nil {
		executor = &executorAdapter{exec: o.executor}
	} else {
		executor = agents.NewExecutor(agentURLs, cfg.ExecutorTimeout, logger)
	}

	signer := signing.New(cfg.AssetSigningSecret, cfg.AssetSignatureTTL)

	// Completion notifier: pg_notify broadcast when the database has a
	// dedicated notify connection, plus any registered hooks.
	var notifier engine.CompletionNotifier = engine.NopNotifier{}
	if db.HasNotifyConn() {
		notifier = &engine.BroadcastNotifier{DB: db, Logger: logger}
	}
	if len(o.completionHooks) > 0 {
		notifier = &hookNotifier{next: notifier, hooks: o.completionHooks, logger: logger}
	}

	eng := engine.New(engine.Config{
		Store:      db,
		Executor:   executor,
		Registry:   registry,
		Notifier:   notifier,
		Signer:     signer,
		Logger:     logger,
		StageDelay: cfg.StageDelay,
		QueueCap:   cfg.EngineQueueCap,
	})

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	srv := server.New(server.Config{
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}, eng, db, jwtMgr, limiter, logger)

	return &App{
		cfg:          cfg,
		db:           db,
		eng:          eng,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the fully wired HTTP handler, including the middleware
// chain. Useful for mounting the App inside an existing server or for
// httptest in consumer test suites. The engine worker must still be running
// (via Run) for activations to make progress.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the stage worker and the HTTP server, then blocks until ctx is
// cancelled or a fatal server error occurs. On return, Shutdown has been
// called — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.eng.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting HTTP requests, drains in-flight ones, lets the
// engine finish the stage it is currently executing, then closes the
// database pool and OTEL provider. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("viralink shutting down")

		httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(httpCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http shutdown error", "error", err)
			a.shutdownErr = err
		}

		a.eng.Close()
		_ = a.limiter.Close()
		_ = a.otelShutdown(context.Background())
		a.db.Close(context.Background())

		a.logger.Info("viralink stopped")
	})
	return a.shutdownErr
}

// executorAdapter bridges the public StageExecutor to the engine's internal
// one, flattening the registry entry to (agent, path).
type executorAdapter struct {
	exec StageExecutor
}

func (a *executorAdapter) Execute(ctx context.Context, st agents.StageType, payload map[string]any) (map[string]any, error) {
	return a.exec.Execute(ctx, st.Agent, st.Path, payload)
}

// hookNotifier fans a completion out to the wrapped notifier and to every
// registered hook. Hook errors are logged, never propagated — a failing
// consumer hook must not mark a finished route as anything but completed.
type hookNotifier struct {
	next   engine.CompletionNotifier
	hooks  []CompletionHook
	logger *slog.Logger
}

func (n *hookNotifier) OnRouteCompleted(ctx context.Context, route model.Route) error {
	if err := n.next.OnRouteCompleted(ctx, route); err != nil {
		n.logger.Warn("completion broadcast failed", "route_id", route.ID, "error", err)
	}
	pub := toPublicRoute(route)
	for _, h := range n.hooks {
		if err := h.OnRouteCompleted(ctx, pub); err != nil {
			n.logger.Warn("completion hook failed", "route_id", route.ID, "error", err)
		}
	}
	return nil
}

// stageType converts a public AgentSpec to a registry entry, applying the
// same label fallbacks unknown agents get.
func (s AgentSpec) stageType() agents.StageType {
	st := agents.StageType{
		Agent:              s.Name,
		ProcessingLabel:    model.StageStatus(s.ProcessingLabel),
		CompletedLabel:     model.StageStatus(s.CompletedLabel),
		RouteProgressLabel: model.RouteStatus(s.RouteProgressLabel),
		Path:               s.Path,
	}
	if st.ProcessingLabel == "" {
		st.ProcessingLabel = agents.FallbackProcessingLabel
	}
	if st.CompletedLabel == "" {
		st.CompletedLabel = agents.FallbackCompletedLabel
	}
	if st.RouteProgressLabel == "" {
		st.RouteProgressLabel = agents.FallbackProgressLabel
	}
	if s.BuildPayload != nil {
		build := s.BuildPayload
		st.BuildPayload = func(c agents.StageContext) map[string]any {
			return build(toPublicRoute(c.Route))
		}
	} else {
		st.BuildPayload = func(c agents.StageContext) map[string]any {
			return map[string]any{
				"route_id":   c.Route.ID.String(),
				"session_id": c.Route.SessionID,
				"platforms":  c.Route.Platforms,
			}
		}
	}
	return st
}

func toPublicRoute(r model.Route) Route {
	stages := make([]Stage, len(r.Stages))
	for i, st := range r.Stages {
		stages[i] = toPublicStage(st)
	}
	return Route{
		ID:            r.ID,
		RouteType:     r.RouteType,
		SessionID:     r.SessionID,
		UserID:        r.UserID,
		Emotion:       r.Emotion,
		Platforms:     r.Platforms,
		ScheduleStart: r.ScheduleStart,
		ScheduleEnd:   r.ScheduleEnd,
		Stages:        stages,
		CurrentStage:  r.CurrentStage,
		Status:        string(r.Status),
		Metadata:      r.Metadata,
		Metrics:       r.Metrics,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func toPublicStage(s model.Stage) Stage {
	return Stage{
		Order:       s.Order,
		Agent:       s.Agent,
		Status:      string(s.Status),
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		Output:      s.Output,
	}
}
