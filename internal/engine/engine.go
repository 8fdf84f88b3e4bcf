// Package engine owns the lifecycle of viralization routes: activation,
// stage-by-stage execution against remote agent services, and completion
// notification.
//
// Stage chaining uses an explicit work queue drained by a single worker
// goroutine. Stage k completion enqueues stage k+1 after a configurable
// inter-stage delay; one route's stages therefore never run concurrently,
// while different routes' stages may interleave. There is no retry and no
// cancellation of an in-flight route: the first stage failure is terminal
// for the whole route.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/viralink-ai/viralink/internal/agents"
	"github.com/viralink-ai/viralink/internal/model"
	"github.com/viralink-ai/viralink/internal/signing"
	"github.com/viralink-ai/viralink/internal/storage"
)

var (
	tracer      = otel.Tracer("viralink/engine")
	engineMeter = otel.GetMeterProvider().Meter("viralink/engine")
)

// ErrInvalidRequest marks activation requests rejected before any route is
// created. Callers map it to a 400 response.
var ErrInvalidRequest = errors.New("invalid activation request")

// Store is the persistence surface the engine needs. *storage.DB satisfies it;
// tests substitute an in-memory fake.
type Store interface {
	CreateRoute(ctx context.Context, route model.Route) (model.Route, error)
	GetRoute(ctx context.Context, id uuid.UUID) (model.Route, error)
	ListRoutesBySession(ctx context.Context, sessionID string) ([]model.Route, error)
	UpdateRouteProgress(ctx context.Context, route model.Route) (model.Route, error)
	MergeRouteMetrics(ctx context.Context, id uuid.UUID, metrics map[string]any) error
}

// StageExecutor dispatches one stage to its remote agent service.
// *agents.Executor satisfies it; tests substitute fakes.
type StageExecutor interface {
	Execute(ctx context.Context, st agents.StageType, payload map[string]any) (map[string]any, error)
}

// CompletionNotifier receives a best-effort callback when a route reaches
// completed. Failures are logged by the engine, never propagated.
type CompletionNotifier interface {
	OnRouteCompleted(ctx context.Context, route model.Route) error
}

// NopNotifier discards completion notifications.
type NopNotifier struct{}

// OnRouteCompleted does nothing.
func (NopNotifier) OnRouteCompleted(context.Context, model.Route) error { return nil }

type stageTask struct {
	routeID uuid.UUID
	order   int
}

// Config holds dependencies and settings for constructing an Engine.
// Optional (nil-safe): Registry, Notifier, Signer.
type Config struct {
	Store    Store
	Executor StageExecutor
	Registry *agents.Registry
	Notifier CompletionNotifier
	Signer   *signing.Signer
	Logger   *slog.Logger

	// StageDelay is the pause between one stage completing and the next
	// being dispatched. Zero means immediate handoff.
	StageDelay time.Duration
	// QueueCap bounds the pending stage queue. Defaults to 256.
	QueueCap int
}

// Engine is the route execution engine.
type Engine struct {
	store      Store
	executor   StageExecutor
	registry   *agents.Registry
	notifier   CompletionNotifier
	signer     *signing.Signer
	logger     *slog.Logger
	stageDelay time.Duration

	tasks chan stageTask
	done  chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates an Engine. Call Start to launch the stage worker and Close
// during shutdown.
func New(cfg Config) *Engine {
	if cfg.Registry == nil {
		cfg.Registry = agents.NewRegistry()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:      cfg.Store,
		executor:   cfg.Executor,
		registry:   cfg.Registry,
		notifier:   cfg.Notifier,
		signer:     cfg.Signer,
		logger:     cfg.Logger,
		stageDelay: cfg.StageDelay,
		tasks:      make(chan stageTask, cfg.QueueCap),
		done:       make(chan struct{}),
	}
}

// Registry returns the engine's stage-type registry.
func (e *Engine) Registry() *agents.Registry { return e.registry }

// Start launches the stage worker. The worker exits when ctx is cancelled
// or Close is called. Failures inside the worker are persisted to the route
// and logged; nothing awaits them.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.done:
				return
			case task := <-e.tasks:
				if err := e.ExecuteStage(ctx, task.routeID, task.order); err != nil {
					e.logger.Error("deferred stage execution failed",
						"route_id", task.routeID,
						"stage_order", task.order,
						"error", err)
				}
			}
		}
	}()
}

// Close stops the worker and drops any pending stage timers. It does not
// cancel a remote call already in flight.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}

// ActivateRoute creates a route from the request, persists it as initiated,
// and executes the first stage synchronously. Later stages advance through
// the work queue, decoupled from the caller. Returns once stage 1 has
// completed or failed; a stage-1 failure marks the route failed and is
// returned to the caller.
func (e *Engine) ActivateRoute(ctx context.Context, req model.ActivateRouteRequest, userID string) (model.ActivationResult, error) {
	if err := req.Validate(); err != nil {
		return model.ActivationResult{}, fmt.Errorf("engine: %w: %s", ErrInvalidRequest, err)
	}
	for i, agent := range req.Agents {
		if !e.registry.Known(agent) {
			return model.ActivationResult{}, fmt.Errorf("engine: agents[%d] %q: %w", i, agent, agents.ErrUnsupportedAgent)
		}
	}

	stages := make([]model.Stage, len(req.Agents))
	for i, agent := range req.Agents {
		stages[i] = model.Stage{
			Order:  i + 1,
			Agent:  agent,
			Status: model.StageStatusPending,
		}
	}

	route := model.Route{
		RouteType:     req.RouteType,
		SessionID:     req.SessionID,
		UserID:        userID,
		Emotion:       req.Emotion,
		Platforms:     req.Platforms,
		ScheduleStart: req.Schedule.Start.UTC(),
		ScheduleEnd:   req.Schedule.End.UTC(),
		Stages:        stages,
		CurrentStage:  1,
		Status:        model.RouteStatusInitiated,
		Metadata:      req.Metadata,
	}

	route, err := e.store.CreateRoute(ctx, route)
	if err != nil {
		return model.ActivationResult{}, fmt.Errorf("engine: create route: %w", err)
	}

	e.logger.Info("route activated",
		"route_id", route.ID,
		"session_id", route.SessionID,
		"route_type", route.RouteType,
		"stages", len(route.Stages))

	if err := e.ExecuteStage(ctx, route.ID, 1); err != nil {
		return model.ActivationResult{}, fmt.Errorf("engine: execute stage 1: %w", err)
	}

	return model.ActivationResult{
		Status:    "route_activated",
		RouteID:   route.ID,
		SessionID: route.SessionID,
		Message:   fmt.Sprintf("viralization route activated with %d stages", len(route.Stages)),
	}, nil
}

// GetRouteStatus returns the full route view. Unknown ids surface
// storage.ErrNotFound.
func (e *Engine) GetRouteStatus(ctx context.Context, routeID uuid.UUID) (model.Route, error) {
	return e.store.GetRoute(ctx, routeID)
}

// ListRoutesBySession returns all routes for a session, newest first.
func (e *Engine) ListRoutesBySession(ctx context.Context, sessionID string) ([]model.Route, error) {
	return e.store.ListRoutesBySession(ctx, sessionID)
}

// UpdateRouteMetrics shallow-merges metrics into the route. Unknown routes
// surface storage.ErrNotFound, consistent with the other operations.
func (e *Engine) UpdateRouteMetrics(ctx context.Context, routeID uuid.UUID, metrics map[string]any) error {
	return e.store.MergeRouteMetrics(ctx, routeID, metrics)
}

// ExecuteStage runs the state machine for a single stage: mark processing,
// dispatch to the remote executor, mark completed with enriched output, and
// either enqueue the next stage or complete the route. Any failure marks the
// stage and route failed and returns the original error.
func (e *Engine) ExecuteStage(ctx context.Context, routeID uuid.UUID, order int) error {
	ctx, span := tracer.Start(ctx, "engine.execute_stage")
	defer span.End()

	start := time.Now()
	route, err := e.store.GetRoute(ctx, routeID)
	if err != nil {
		return fmt.Errorf("engine: load route: %w", err)
	}

	stage := route.StageByOrder(order)
	if stage == nil {
		return fmt.Errorf("engine: stage %d of route %s: %w", order, routeID, storage.ErrNotFound)
	}

	span.SetAttributes(
		attribute.String("viralink.route_id", routeID.String()),
		attribute.String("viralink.agent", stage.Agent),
		attribute.Int("viralink.stage_order", order),
	)

	// Transition to the agent-specific processing label and persist before
	// dispatching, so a status query during the remote call observes it.
	now := time.Now().UTC()
	stage.Status = e.registry.ProcessingLabel(stage.Agent)
	stage.StartedAt = &now
	route.CurrentStage = order
	route.Status = model.RouteStatus(stage.Status)
	route, err = e.store.UpdateRouteProgress(ctx, route)
	if err != nil {
		return e.failStage(ctx, routeID, order, fmt.Errorf("engine: persist processing state: %w", err))
	}

	output, err := e.dispatch(ctx, route, order)
	if err != nil {
		return e.failStage(ctx, routeID, order, err)
	}

	// Remote output is merged with the route's emotion tag, then enriched
	// with narrative and suggestions before storage.
	if route.Emotion != "" {
		output["emotion"] = route.Emotion
	}
	stage = route.StageByOrder(order)
	completed := e.registry.CompletedLabel(stage.Agent)
	doneAt := time.Now().UTC()
	stage.Status = completed
	stage.CompletedAt = &doneAt
	stage.Output = Enrich(output, route.Emotion, stage.Agent, completed, e.signer)

	next := route.StageByOrder(order + 1)
	if next != nil {
		route.CurrentStage = next.Order
		route.Status = e.registry.RouteProgressLabel(next.Agent)
	} else {
		route.Status = model.RouteStatusCompleted
	}

	route, err = e.store.UpdateRouteProgress(ctx, route)
	if err != nil {
		return e.failStage(ctx, routeID, order, fmt.Errorf("engine: persist completed state: %w", err))
	}

	e.recordStageMetrics(ctx, stage.Agent, string(stage.Status), time.Since(start))
	e.logger.Info("stage completed",
		"route_id", routeID,
		"agent", stage.Agent,
		"stage_order", order,
		"status", stage.Status)

	if next != nil {
		e.schedule(routeID, next.Order)
		return nil
	}

	if err := e.notifier.OnRouteCompleted(ctx, route); err != nil {
		e.logger.Warn("completion notifier failed", "route_id", routeID, "error", err)
	}
	e.logger.Info("route completed", "route_id", routeID, "session_id", route.SessionID)
	return nil
}

// dispatch builds the stage payload and calls the remote executor.
func (e *Engine) dispatch(ctx context.Context, route model.Route, order int) (map[string]any, error) {
	stage := route.StageByOrder(order)
	st, ok := e.registry.Lookup(stage.Agent)
	if !ok {
		return nil, fmt.Errorf("engine: dispatch stage %d: agent %q: %w", order, stage.Agent, agents.ErrUnsupportedAgent)
	}
	payload := st.BuildPayload(agents.StageContext{Route: route})
	output, err := e.executor.Execute(ctx, st, payload)
	if err != nil {
		return nil, fmt.Errorf("engine: dispatch stage %d: %w", order, err)
	}
	if output == nil {
		output = map[string]any{}
	}
	return output, nil
}

// failStage reloads the route, marks the targeted stage and the route failed,
// persists, and returns the original error. Best effort: persistence problems
// here are logged, not returned, so the original failure is what surfaces.
func (e *Engine) failStage(ctx context.Context, routeID uuid.UUID, order int, cause error) error {
	route, err := e.store.GetRoute(ctx, routeID)
	if err != nil {
		e.logger.Error("failed to reload route for failure marking",
			"route_id", routeID, "error", err)
		return cause
	}

	now := time.Now().UTC()
	agent := ""
	if stage := route.StageByOrder(order); stage != nil {
		agent = stage.Agent
		stage.Status = model.StageStatusFailed
		stage.CompletedAt = &now
	}
	route.Status = model.RouteStatusFailed

	if _, err := e.store.UpdateRouteProgress(ctx, route); err != nil {
		e.logger.Error("failed to persist stage failure",
			"route_id", routeID, "stage_order", order, "error", err)
	}

	e.recordStageMetrics(ctx, agent, string(model.StageStatusFailed), 0)
	e.logger.Error("stage failed",
		"route_id", routeID,
		"stage_order", order,
		"error", cause)
	return cause
}

// schedule enqueues the next stage after the inter-stage delay. Fire and
// forget: if the engine shuts down before the timer fires, the task is
// dropped and the route stays in its progress label.
func (e *Engine) schedule(routeID uuid.UUID, order int) {
	time.AfterFunc(e.stageDelay, func() {
		select {
		case e.tasks <- stageTask{routeID: routeID, order: order}:
		case <-e.done:
		}
	})
}

func (e *Engine) recordStageMetrics(ctx context.Context, agent, status string, d time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("viralink.agent", agent),
		attribute.String("viralink.status", status),
	}
	if counter, err := engineMeter.Int64Counter("engine.stage.count"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
	}
	if d > 0 {
		if hist, err := engineMeter.Float64Histogram("engine.stage.duration",
			otelmetric.WithUnit("ms")); err == nil {
			hist.Record(ctx, float64(d.Milliseconds()), otelmetric.WithAttributes(attrs...))
		}
	}
}
