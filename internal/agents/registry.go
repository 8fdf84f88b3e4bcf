// Package agents defines the stage-type registry for the route engine.
//
// Each viralization stage is bound to one remote agent service. The registry
// maps an agent name to its status labels, its endpoint path, and the
// builder that assembles its request payload from the route state. Adding a
// stage type is a table entry, not a switch-statement edit.
package agents

import (
	"errors"

	"github.com/viralink-ai/viralink/internal/model"
)

// ErrUnsupportedAgent is returned when an agent name outside the registered
// set is dispatched.
var ErrUnsupportedAgent = errors.New("agents: unsupported agent")

// Known agent names.
const (
	AgentTrendScanner        = "trend-scanner"
	AgentVideoScriptor       = "video-scriptor"
	AgentCreativeSynthesizer = "creative-synthesizer"
	AgentPostScheduler       = "post-scheduler"
	AgentAnalyticsReporter   = "analytics-reporter"
)

// Fallback labels used when an agent name has no registry entry. Status
// mapping degrades to the literal state names rather than erroring; dispatch
// still rejects unknown agents.
const (
	FallbackProcessingLabel = model.StageStatus("processing")
	FallbackCompletedLabel  = model.StageStatus("completed")
	FallbackProgressLabel   = model.RouteStatus("in_progress")
)

// Labels reserved for the creative-synthesizer publishing flow. Not emitted
// by the current pipeline.
const (
	StagePublishing = model.StageStatus("publishing")
	StagePublished  = model.StageStatus("published")
)

// StageContext gives payload builders read access to the route and to prior
// stages' persisted outputs. It is the pipeline's only data-flow mechanism:
// each builder pulls named fields out of upstream outputs, not from a shared
// accumulator.
type StageContext struct {
	Route model.Route
}

// OutputOf returns the stored output of the named upstream agent, or nil.
func (c StageContext) OutputOf(agent string) map[string]any {
	return c.Route.OutputOf(agent)
}

// PayloadBuilder assembles the JSON payload POSTed to a stage executor.
type PayloadBuilder func(c StageContext) map[string]any

// StageType describes one registered agent.
type StageType struct {
	Agent              string
	ProcessingLabel    model.StageStatus
	CompletedLabel     model.StageStatus
	RouteProgressLabel model.RouteStatus // route-level label while this agent is next up
	Path               string            // path suffix appended to the agent's base URL
	BuildPayload       PayloadBuilder
}

// Registry maps agent names to stage types.
type Registry struct {
	types map[string]StageType
}

// NewRegistry returns a registry populated with the five built-in agents.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]StageType)}
	for _, st := range builtinStageTypes() {
		r.Register(st)
	}
	return r
}

// Register adds or replaces a stage type.
func (r *Registry) Register(st StageType) {
	r.types[st.Agent] = st
}

// Lookup returns the stage type for an agent name.
func (r *Registry) Lookup(agent string) (StageType, bool) {
	st, ok := r.types[agent]
	return st, ok
}

// Known reports whether the agent name has a registry entry.
func (r *Registry) Known(agent string) bool {
	_, ok := r.types[agent]
	return ok
}

// ProcessingLabel maps (agent, processing) to its label, degrading to the
// literal "processing" for unknown agents.
func (r *Registry) ProcessingLabel(agent string) model.StageStatus {
	if st, ok := r.types[agent]; ok {
		return st.ProcessingLabel
	}
	return FallbackProcessingLabel
}

// CompletedLabel maps (agent, completed) to its label, degrading to the
// literal "completed" for unknown agents.
func (r *Registry) CompletedLabel(agent string) model.StageStatus {
	if st, ok := r.types[agent]; ok {
		return st.CompletedLabel
	}
	return FallbackCompletedLabel
}

// RouteProgressLabel maps an agent to the route-level label used while that
// agent's stage is next up. Independent of the stage label tables.
func (r *Registry) RouteProgressLabel(agent string) model.RouteStatus {
	if st, ok := r.types[agent]; ok {
		return st.RouteProgressLabel
	}
	return FallbackProgressLabel
}

func builtinStageTypes() []StageType {
	return []StageType{
		{
			Agent:              AgentTrendScanner,
			ProcessingLabel:    "scanning",
			CompletedLabel:     "scanned",
			RouteProgressLabel: "scanning_trends",
			Path:               "/scan",
			BuildPayload: func(c StageContext) map[string]any {
				return map[string]any{
					"session_id": c.Route.SessionID,
					"platforms":  c.Route.Platforms,
					"emotion":    c.Route.Emotion,
				}
			},
		},
		{
			Agent:              AgentVideoScriptor,
			ProcessingLabel:    "scripting",
			CompletedLabel:     "scripted",
			RouteProgressLabel: "generating_script",
			Path:               "/generate-script",
			BuildPayload: func(c StageContext) map[string]any {
				return map[string]any{
					"session_id": c.Route.SessionID,
					"emotion":    c.Route.Emotion,
					"trends":     c.OutputOf(AgentTrendScanner),
				}
			},
		},
		{
			Agent:              AgentCreativeSynthesizer,
			ProcessingLabel:    "generating",
			CompletedLabel:     "generated",
			RouteProgressLabel: "creating_content",
			Path:               "/api/agents/creative-synthesizer",
			BuildPayload: func(c StageContext) map[string]any {
				return map[string]any{
					"session_id": c.Route.SessionID,
					"emotion":    c.Route.Emotion,
					"platforms":  c.Route.Platforms,
					"script":     scriptFrom(c.OutputOf(AgentVideoScriptor)),
				}
			},
		},
		{
			Agent:              AgentPostScheduler,
			ProcessingLabel:    "scheduling",
			CompletedLabel:     "scheduled",
			RouteProgressLabel: "scheduling_posts",
			Path:               "/schedule",
			BuildPayload: func(c StageContext) map[string]any {
				return map[string]any{
					"session_id": c.Route.SessionID,
					"platforms":  c.Route.Platforms,
					"schedule": map[string]any{
						"start": c.Route.ScheduleStart,
						"end":   c.Route.ScheduleEnd,
					},
					"content": c.OutputOf(AgentCreativeSynthesizer),
				}
			},
		},
		{
			Agent:              AgentAnalyticsReporter,
			ProcessingLabel:    "analyzing",
			CompletedLabel:     "analyzed",
			RouteProgressLabel: "analyzing_performance",
			Path:               "/generate-report",
			BuildPayload: func(c StageContext) map[string]any {
				return map[string]any{
					"session_id": c.Route.SessionID,
					"platforms":  c.Route.Platforms,
					"schedule": map[string]any{
						"start": c.Route.ScheduleStart,
						"end":   c.Route.ScheduleEnd,
					},
					"content": c.OutputOf(AgentCreativeSynthesizer),
				}
			},
		},
	}
}

// scriptFrom extracts the named "script" field from the video-scriptor
// output, falling back to the whole output when the field is absent.
func scriptFrom(out map[string]any) any {
	if out == nil {
		return nil
	}
	if s, ok := out["script"]; ok {
		return s
	}
	return out
}
