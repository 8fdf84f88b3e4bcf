package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/viralink-ai/viralink/internal/model"
)

// CreateRoute inserts a new route and returns it with store-assigned fields
// (ID if unset, version, timestamps) populated.
func (db *DB) CreateRoute(ctx context.Context, route model.Route) (model.Route, error) {
	if route.ID == uuid.Nil {
		route.ID = uuid.New()
	}
	now := time.Now().UTC()
	route.Version = 1
	route.CreatedAt = now
	route.UpdatedAt = now
	if route.Metadata == nil {
		route.Metadata = map[string]any{}
	}
	if route.Metrics == nil {
		route.Metrics = map[string]any{}
	}

	stages, err := json.Marshal(route.Stages)
	if err != nil {
		return model.Route{}, fmt.Errorf("storage: marshal stages: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO routes (id, route_type, session_id, user_id, emotion, platforms,
		                     schedule_start, schedule_end, stages, current_stage, status,
		                     metadata, metrics, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		route.ID, route.RouteType, route.SessionID, route.UserID, route.Emotion, route.Platforms,
		route.ScheduleStart, route.ScheduleEnd, stages, route.CurrentStage, string(route.Status),
		route.Metadata, route.Metrics, route.Version, route.CreatedAt, route.UpdatedAt,
	)
	if err != nil {
		return model.Route{}, fmt.Errorf("storage: create route: %w", err)
	}
	return route, nil
}

// GetRoute retrieves a route by ID. Returns ErrNotFound if it does not exist.
func (db *DB) GetRoute(ctx context.Context, id uuid.UUID) (model.Route, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, route_type, session_id, user_id, emotion, platforms,
		        schedule_start, schedule_end, stages, current_stage, status,
		        metadata, metrics, version, created_at, updated_at
		 FROM routes WHERE id = $1`, id,
	)
	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Route{}, fmt.Errorf("storage: route %s: %w", id, ErrNotFound)
		}
		return model.Route{}, fmt.Errorf("storage: get route: %w", err)
	}
	return route, nil
}

// ListRoutesBySession returns all routes for a session, newest first.
// An unknown session yields an empty slice, not an error.
func (db *DB) ListRoutesBySession(ctx context.Context, sessionID string) ([]model.Route, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, route_type, session_id, user_id, emotion, platforms,
		        schedule_start, schedule_end, stages, current_stage, status,
		        metadata, metrics, version, created_at, updated_at
		 FROM routes WHERE session_id = $1
		 ORDER BY created_at DESC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list routes: %w", err)
	}
	defer rows.Close()

	routes := []model.Route{}
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan route: %w", err)
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

// UpdateRouteProgress persists the mutable engine-owned fields (stages,
// current stage, status) guarded by the route's version. Returns the route
// with the bumped version. A concurrent writer surfaces as
// ErrVersionConflict; a missing route as ErrNotFound.
func (db *DB) UpdateRouteProgress(ctx context.Context, route model.Route) (model.Route, error) {
	stages, err := json.Marshal(route.Stages)
	if err != nil {
		return model.Route{}, fmt.Errorf("storage: marshal stages: %w", err)
	}

	now := time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE routes
		 SET stages = $1, current_stage = $2, status = $3,
		     version = version + 1, updated_at = $4
		 WHERE id = $5 AND version = $6`,
		stages, route.CurrentStage, string(route.Status), now, route.ID, route.Version,
	)
	if err != nil {
		return model.Route{}, fmt.Errorf("storage: update route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM routes WHERE id = $1)`, route.ID,
		).Scan(&exists); err != nil {
			return model.Route{}, fmt.Errorf("storage: update route: %w", err)
		}
		if !exists {
			return model.Route{}, fmt.Errorf("storage: route %s: %w", route.ID, ErrNotFound)
		}
		return model.Route{}, fmt.Errorf("storage: route %s: %w", route.ID, ErrVersionConflict)
	}

	route.Version++
	route.UpdatedAt = now
	return route, nil
}

// MergeRouteMetrics shallow-merges metrics into the route's metrics map.
// The merge happens in SQL so it cannot race with stage progression writes.
// Returns ErrNotFound if the route does not exist.
func (db *DB) MergeRouteMetrics(ctx context.Context, id uuid.UUID, metrics map[string]any) error {
	if metrics == nil {
		metrics = map[string]any{}
	}
	// Metrics merges race with stage progression writes on the same row, so
	// retry on deadlock or serialization failure.
	var tag pgconn.CommandTag
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		var execErr error
		tag, execErr = db.pool.Exec(ctx,
			`UPDATE routes
			 SET metrics = coalesce(metrics, '{}'::jsonb) || $1, updated_at = $2
			 WHERE id = $3`,
			metrics, time.Now().UTC(), id,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("storage: merge route metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: route %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanRoute reads one routes row from a pgx row scanner.
func scanRoute(row pgx.Row) (model.Route, error) {
	var (
		route  model.Route
		stages []byte
		status string
	)
	if err := row.Scan(
		&route.ID, &route.RouteType, &route.SessionID, &route.UserID, &route.Emotion,
		&route.Platforms, &route.ScheduleStart, &route.ScheduleEnd, &stages,
		&route.CurrentStage, &status, &route.Metadata, &route.Metrics,
		&route.Version, &route.CreatedAt, &route.UpdatedAt,
	); err != nil {
		return model.Route{}, err
	}
	route.Status = model.RouteStatus(status)
	if err := json.Unmarshal(stages, &route.Stages); err != nil {
		return model.Route{}, fmt.Errorf("unmarshal stages: %w", err)
	}
	return route, nil
}
