package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits for activation request fields. These keep
// caller-controlled strings out of unbounded Postgres TEXT growth and bound
// the payloads forwarded to remote stage executors.
const (
	MaxRouteTypeLen = 200
	MaxSessionIDLen = 200
	MaxEmotionLen   = 64
	MaxPlatforms    = 16
	MaxAgents       = 16
)

// ActivateRouteRequest is the payload for POST /v1/routes.
type ActivateRouteRequest struct {
	RouteType string         `json:"route_type"`
	SessionID string         `json:"session_id"`
	Emotion   string         `json:"emotion"`
	Platforms []string       `json:"platforms"`
	Agents    []string       `json:"agents"` // ordered, length >= 1
	Schedule  ScheduleWindow `json:"schedule"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ScheduleWindow is the {start, end} time window passed through to stages
// that need it (post-scheduler, analytics-reporter).
type ScheduleWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ActivationResult is the response body for a successful activation.
type ActivationResult struct {
	Status    string    `json:"status"` // always "route_activated"
	RouteID   uuid.UUID `json:"route_id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
}

// UpdateMetricsRequest is the payload for PATCH /v1/routes/{route_id}/metrics.
type UpdateMetricsRequest struct {
	Metrics map[string]any `json:"metrics"`
}

// Validate checks structural constraints on an activation request. Agent
// names are validated against the registry by the engine, not here.
func (r ActivateRouteRequest) Validate() error {
	if r.RouteType == "" {
		return fmt.Errorf("route_type is required")
	}
	if len(r.RouteType) > MaxRouteTypeLen {
		return fmt.Errorf("route_type exceeds maximum length of %d characters", MaxRouteTypeLen)
	}
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if len(r.SessionID) > MaxSessionIDLen {
		return fmt.Errorf("session_id exceeds maximum length of %d characters", MaxSessionIDLen)
	}
	if len(r.Emotion) > MaxEmotionLen {
		return fmt.Errorf("emotion exceeds maximum length of %d characters", MaxEmotionLen)
	}
	if len(r.Agents) == 0 {
		return fmt.Errorf("agents must contain at least one entry")
	}
	if len(r.Agents) > MaxAgents {
		return fmt.Errorf("agents exceeds maximum of %d entries", MaxAgents)
	}
	for i, a := range r.Agents {
		if a == "" {
			return fmt.Errorf("agents[%d] is empty", i)
		}
	}
	if len(r.Platforms) > MaxPlatforms {
		return fmt.Errorf("platforms exceeds maximum of %d entries", MaxPlatforms)
	}
	if r.Schedule.Start.IsZero() || r.Schedule.End.IsZero() {
		return fmt.Errorf("schedule.start and schedule.end are required")
	}
	if !r.Schedule.End.After(r.Schedule.Start) {
		return fmt.Errorf("schedule.end must be after schedule.start")
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// AuthTokenRequest is the payload for POST /auth/token.
type AuthTokenRequest struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

// AuthTokenResponse carries the issued bearer token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      UserRole  `json:"role"`
}
