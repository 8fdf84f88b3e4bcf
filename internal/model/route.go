// Package model defines the core domain types for Viralink.
//
// All types correspond directly to database columns and API payloads.
// Types use strong typing (UUIDs, time.Time, status enums) and avoid
// interface{} except for passthrough maps the engine never interprets.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RouteStatus is the route-level lifecycle state. Besides the fixed states
// below, a route carries an agent-specific progress label while a stage is
// executing (see the agents package label tables).
type RouteStatus string

const (
	RouteStatusInitiated RouteStatus = "initiated"
	RouteStatusCompleted RouteStatus = "completed"
	RouteStatusFailed    RouteStatus = "failed"
)

// StageStatus is the per-stage lifecycle state. Between Pending and the
// terminal states a stage carries an agent-specific processing or completed
// label (e.g. "scanning"/"scanned" for trend-scanner).
type StageStatus string

const (
	StageStatusPending StageStatus = "pending"
	StageStatusFailed  StageStatus = "failed"
)

// Stage is one step of a route, bound to exactly one remote agent executor.
// Stages are embedded in the route record and persisted as a unit.
type Stage struct {
	Order       int            `json:"order"` // 1-based position in the sequence
	Agent       string         `json:"agent"`
	Status      StageStatus    `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
}

// Route is one activation of a viralization pipeline for a session.
type Route struct {
	ID        uuid.UUID `json:"id"`
	RouteType string    `json:"route_type"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	// Emotion is a tone tag used only to select narrative text; it never
	// affects control flow.
	Emotion       string         `json:"emotion"`
	Platforms     []string       `json:"platforms"`
	ScheduleStart time.Time      `json:"schedule_start"`
	ScheduleEnd   time.Time      `json:"schedule_end"`
	Stages        []Stage        `json:"stages"`
	CurrentStage  int            `json:"current_stage"` // 1-based index into Stages
	Status        RouteStatus    `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
	// Version is the optimistic-concurrency token. Every write is guarded by
	// it so a racing update surfaces as a conflict instead of a silent
	// last-write-wins overwrite.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StageByOrder returns a pointer to the stage with the given 1-based order,
// or nil if no such stage exists.
func (r *Route) StageByOrder(order int) *Stage {
	for i := range r.Stages {
		if r.Stages[i].Order == order {
			return &r.Stages[i]
		}
	}
	return nil
}

// OutputOf returns the stored output of the first stage bound to the named
// agent, or nil if that stage has not produced output yet.
func (r *Route) OutputOf(agent string) map[string]any {
	for i := range r.Stages {
		if r.Stages[i].Agent == agent {
			return r.Stages[i].Output
		}
	}
	return nil
}

// Terminal reports whether the route has reached a final state.
func (r *Route) Terminal() bool {
	return r.Status == RouteStatusCompleted || r.Status == RouteStatusFailed
}
