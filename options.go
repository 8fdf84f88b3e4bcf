package viralink

import (
	"io/fs"
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	notifyURL       string
	logger          *slog.Logger
	version         string
	stageDelay      time.Duration
	stageDelaySet   bool
	executor        StageExecutor
	completionHooks []CompletionHook
	extraAgents     []AgentSpec
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (VIRALINK_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for completion
// broadcasts (NOTIFY_URL env var). Set this when using a connection pooler
// (e.g. PgBouncer) for queries — NOTIFY requires a direct connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithStageDelay overrides the pause between one stage completing and the
// next being dispatched (VIRALINK_STAGE_DELAY env var). Zero gives
// immediate handoff, which is what tests usually want.
func WithStageDelay(d time.Duration) Option {
	return func(o *resolvedOptions) { o.stageDelay = d; o.stageDelaySet = true }
}

// WithStageExecutor replaces the built-in HTTP executor for all stages.
// Only the last call wins. Agent base URLs from config are ignored when a
// custom executor is set.
func WithStageExecutor(exec StageExecutor) Option {
	return func(o *resolvedOptions) { o.executor = exec }
}

// WithCompletionHook registers a hook that fires when a route reaches
// completed. Multiple hooks may be registered; all registered hooks receive
// every completion. Hook failures are logged but never fail the route.
func WithCompletionHook(hook CompletionHook) Option {
	return func(o *resolvedOptions) { o.completionHooks = append(o.completionHooks, hook) }
}

// WithAgent registers an additional stage type, or replaces a built-in one
// when the name collides. Routes may then name the agent in their stage
// sequence. Multiple agents may be registered.
func WithAgent(spec AgentSpec) Option {
	return func(o *resolvedOptions) { o.extraAgents = append(o.extraAgents, spec) }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run
// after the built-in migrations. Multiple filesystems may be registered;
// they are applied in registration order. File names must be unique across
// all registered filesystems.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
