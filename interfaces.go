package viralink

import (
	"context"
)

// StageExecutor dispatches one stage to its backing agent service.
// When provided via WithStageExecutor, replaces the built-in HTTP executor
// for every stage. The path argument is the agent's endpoint path from its
// registry entry; custom executors may ignore it. Uses plain maps (not
// internal registry types) so external consumers never import internal
// packages.
type StageExecutor interface {
	Execute(ctx context.Context, agent, path string, payload map[string]any) (map[string]any, error)
}

// CompletionHook receives a notification when a route reaches completed.
// Multiple hooks may be registered via multiple WithCompletionHook calls.
// Hooks run on the engine's stage worker — they must return promptly.
// Failures are logged but do not affect the route.
type CompletionHook interface {
	OnRouteCompleted(ctx context.Context, route Route) error
}

// PayloadBuilder assembles the JSON payload sent to a custom agent.
// The route carries all prior stages' persisted outputs; builders pull
// named fields out of them via Route.OutputOf.
type PayloadBuilder func(route Route) map[string]any

// AgentSpec describes a custom agent registered via WithAgent.
type AgentSpec struct {
	// Name is the agent identifier routes use in their stage sequence.
	Name string
	// ProcessingLabel and CompletedLabel are the per-stage status labels
	// recorded while the agent runs and after it finishes. Empty values
	// fall back to "processing" and "completed".
	ProcessingLabel string
	CompletedLabel  string
	// RouteProgressLabel is the route-level status shown while this
	// agent's stage is next up. Empty falls back to "in_progress".
	RouteProgressLabel string
	// BaseURL is the agent service root. Ignored when a custom
	// StageExecutor is set.
	BaseURL string
	// Path is the endpoint path appended to BaseURL.
	Path string
	// BuildPayload assembles the request body. Nil sends a minimal
	// payload with the route and session identifiers.
	BuildPayload PayloadBuilder
}
