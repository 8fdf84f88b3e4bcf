package viralink

import (
	"time"

	"github.com/google/uuid"
)

// Route statuses reported by the server. While a stage is executing the
// route instead carries an agent-specific progress label such as
// "scanning_trends" or "generating_script".
const (
	RouteStatusInitiated = "initiated"
	RouteStatusCompleted = "completed"
	RouteStatusFailed    = "failed"
)

// ActivateRequest is the payload for activating a viralization route.
// Agents is the ordered stage sequence; each entry must name an agent the
// server has registered (the five built-ins, plus any host extensions).
type ActivateRequest struct {
	RouteType string         `json:"route_type"`
	SessionID string         `json:"session_id"`
	Emotion   string         `json:"emotion,omitempty"`
	Platforms []string       `json:"platforms,omitempty"`
	Agents    []string       `json:"agents"`
	Schedule  ScheduleWindow `json:"schedule"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ScheduleWindow is the posting window passed through to stages that need
// it (post-scheduler, analytics-reporter).
type ScheduleWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ActivationResult is the server's response to a successful activation.
// The route continues executing asynchronously; poll GetRoute (or use
// WaitForCompletion) to observe progress.
type ActivationResult struct {
	Status    string    `json:"status"`
	RouteID   uuid.UUID `json:"route_id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
}

// Route is a viralization route with its full stage state.
type Route struct {
	ID            uuid.UUID      `json:"id"`
	RouteType     string         `json:"route_type"`
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	Emotion       string         `json:"emotion"`
	Platforms     []string       `json:"platforms"`
	ScheduleStart time.Time      `json:"schedule_start"`
	ScheduleEnd   time.Time      `json:"schedule_end"`
	Stages        []Stage        `json:"stages"`
	CurrentStage  int            `json:"current_stage"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Terminal reports whether the route has finished, successfully or not.
func (r Route) Terminal() bool {
	return r.Status == RouteStatusCompleted || r.Status == RouteStatusFailed
}

// Stage is one step of a route.
type Stage struct {
	Order       int            `json:"order"`
	Agent       string         `json:"agent"`
	Status      string         `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
}

// SessionRoutes is the response for a session listing, newest first.
type SessionRoutes struct {
	SessionID string  `json:"session_id"`
	Routes    []Route `json:"routes"`
	Count     int     `json:"count"`
}

// MetricsResult acknowledges a metrics merge.
type MetricsResult struct {
	RouteID uuid.UUID `json:"route_id"`
	Updated bool      `json:"updated"`
}

// HealthResponse reports server health.
type HealthResponse struct {
	Status string `json:"status"`
}
