package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/viralink-ai/viralink/internal/agents"
	"github.com/viralink-ai/viralink/internal/engine"
	"github.com/viralink-ai/viralink/internal/model"
	"github.com/viralink-ai/viralink/internal/storage"
)

// HandleActivateRoute handles POST /v1/routes. Returns after the first stage
// has completed; remaining stages continue on the engine's work queue.
func (h *Handlers) HandleActivateRoute(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req model.ActivateRouteRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	result, err := h.engine.ActivateRoute(r.Context(), req, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidRequest), errors.Is(err, agents.ErrUnsupportedAgent):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		default:
			h.logger.Error("route activation failed",
				"user_id", claims.UserID,
				"session_id", req.SessionID,
				"error", err)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "route activation failed")
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, result)
}

// HandleGetRoute handles GET /v1/routes/{route_id}. Non-admin callers can
// only read their own routes; foreign routes return 404, not 403, so ids
// cannot be probed.
func (h *Handlers) HandleGetRoute(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	routeID, err := uuid.Parse(r.PathValue("route_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid route_id")
		return
	}

	route, err := h.engine.GetRouteStatus(r.Context(), routeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "route not found")
			return
		}
		h.logger.Error("get route failed", "route_id", routeID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}

	if route.UserID != claims.UserID && !model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "route not found")
		return
	}

	writeJSON(w, r, http.StatusOK, route)
}

// HandleListSessionRoutes handles GET /v1/sessions/{session_id}/routes.
func (h *Handlers) HandleListSessionRoutes(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	sessionID := r.PathValue("session_id")
	if sessionID == "" || len(sessionID) > model.MaxSessionIDLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid session_id")
		return
	}

	routes, err := h.engine.ListRoutesBySession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("list session routes failed", "session_id", sessionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}

	// A session is not a security boundary by itself. Non-admins see only
	// their own routes within it.
	if !model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		own := routes[:0]
		for _, rt := range routes {
			if rt.UserID == claims.UserID {
				own = append(own, rt)
			}
		}
		routes = own
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"routes":     routes,
		"count":      len(routes),
	})
}

// HandleUpdateMetrics handles PATCH /v1/routes/{route_id}/metrics. Metrics
// merge shallowly into the stored map; unknown routes are a 404.
func (h *Handlers) HandleUpdateMetrics(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	routeID, err := uuid.Parse(r.PathValue("route_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid route_id")
		return
	}

	var req model.UpdateMetricsRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Metrics) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "metrics must contain at least one key")
		return
	}

	route, err := h.engine.GetRouteStatus(r.Context(), routeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "route not found")
			return
		}
		h.logger.Error("get route failed", "route_id", routeID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	if route.UserID != claims.UserID && !model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "route not found")
		return
	}

	if err := h.engine.UpdateRouteMetrics(r.Context(), routeID, req.Metrics); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "route not found")
			return
		}
		h.logger.Error("update metrics failed", "route_id", routeID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"route_id": routeID,
		"updated":  true,
	})
}
