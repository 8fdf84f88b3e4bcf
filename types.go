package viralink

import (
	"time"

	"github.com/google/uuid"
)

// Role is a caller's RBAC role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Route is the public representation of a viralization route.
// It is a curated view of the internal route record for use in extension
// interfaces. No internal package imports — safe to use from outside the
// module.
type Route struct {
	ID            uuid.UUID
	RouteType     string
	SessionID     string
	UserID        string
	Emotion       string
	Platforms     []string
	ScheduleStart time.Time
	ScheduleEnd   time.Time
	Stages        []Stage
	CurrentStage  int
	Status        string
	Metadata      map[string]any
	Metrics       map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Stage is one step of a route, bound to exactly one agent.
type Stage struct {
	Order       int
	Agent       string
	Status      string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Output      map[string]any
}

// OutputOf returns the stored output of the first stage bound to the named
// agent, or nil if that stage has not produced output yet.
func (r Route) OutputOf(agent string) map[string]any {
	for i := range r.Stages {
		if r.Stages[i].Agent == agent {
			return r.Stages[i].Output
		}
	}
	return nil
}
